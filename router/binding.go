// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/absmach/steed/protocol"
	"github.com/absmach/steed/queue"
)

// Binding construction tags. Tags are stable and language-neutral; they key
// the constructor registry and appear in the persisted router file.
const (
	TagQueue  = "queue"
	TagDirect = "direct"
)

var (
	// ErrBindingExists is returned when a binding name is taken on a router.
	ErrBindingExists = errors.New("binding already exists")

	// ErrUnknownBindingTag is returned for unregistered binding tags.
	ErrUnknownBindingTag = errors.New("unknown binding tag")
)

// Binding forwards a published message to a concrete destination. Send
// reports whether the message was accepted by at least one receiver.
type Binding interface {
	Name() string
	Target() string
	Priority() int
	Interaction() Interaction
	RouteMethod() Method
	Tag() string

	// Definition returns the persistable form of the binding.
	Definition() Definition

	// Send retargets and forwards the message. The caller hands each binding
	// its own copy of the message.
	Send(ctx context.Context, sender protocol.Peer, m *protocol.Message) bool
}

// Definition is the persisted form of a binding.
type Definition struct {
	Name        string  `json:"name"`
	Type        string  `json:"type"`
	Target      string  `json:"target"`
	Priority    int     `json:"priority"`
	Interaction string  `json:"interaction"`
	Method      string  `json:"method"`
	ContentType *uint16 `json:"contentType,omitempty"`
}

// ClientResolver resolves direct-binding targets against the connected
// client registry.
type ClientResolver interface {
	ClientByID(id string) (protocol.Peer, bool)
	ClientsByName(name string) []protocol.Peer
	ClientsByType(t string) []protocol.Peer
}

// Deps are the collaborators binding constructors receive.
type Deps struct {
	Queues  *queue.Manager
	Clients ClientResolver
	Logger  *slog.Logger
}

// Factory builds a binding from its persisted definition.
type Factory func(def Definition, deps Deps) (Binding, error)

var (
	factoryMu sync.RWMutex
	factories = map[string]Factory{
		TagQueue:  newQueueBindingFromDef,
		TagDirect: newDirectBindingFromDef,
	}
)

// RegisterBindingFactory adds a constructor for a custom binding tag.
func RegisterBindingFactory(tag string, f Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[tag] = f
}

// BuildBinding constructs a binding from a definition. Unknown tags fail so
// that loaders can skip and warn.
func BuildBinding(def Definition, deps Deps) (Binding, error) {
	factoryMu.RLock()
	f, ok := factories[def.Type]
	factoryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBindingTag, def.Type)
	}
	return f(def, deps)
}

// bindingBase carries the fields every binding shares.
type bindingBase struct {
	name        string
	target      string
	priority    int
	interaction Interaction
	method      Method
	contentType *uint16
}

func newBindingBase(def Definition) bindingBase {
	interaction, _ := ParseInteraction(def.Interaction)
	method, _ := ParseMethod(def.Method)
	return bindingBase{
		name:        def.Name,
		target:      def.Target,
		priority:    def.Priority,
		interaction: interaction,
		method:      method,
		contentType: def.ContentType,
	}
}

func (b *bindingBase) Name() string             { return b.name }
func (b *bindingBase) Target() string           { return b.target }
func (b *bindingBase) Priority() int            { return b.priority }
func (b *bindingBase) Interaction() Interaction { return b.interaction }
func (b *bindingBase) RouteMethod() Method      { return b.method }

// retarget applies the binding's shared message mutations: content type
// override and the response expectation.
func (b *bindingBase) retarget(m *protocol.Message) {
	if b.contentType != nil {
		m.ContentType = protocol.ContentType(*b.contentType)
	}
	if b.interaction == InteractionResponse {
		m.WaitResponse = true
	}
}

func (b *bindingBase) definition(tag string) Definition {
	return Definition{
		Name:        b.name,
		Type:        tag,
		Target:      b.target,
		Priority:    b.priority,
		Interaction: b.interaction.String(),
		Method:      b.method.String(),
		ContentType: b.contentType,
	}
}
