// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"errors"
	"log/slog"
	"path"
	"sort"
	"sync"

	"github.com/absmach/steed/events"
	"github.com/absmach/steed/protocol"
)

var (
	// ErrRouterExists is returned when a router name is taken.
	ErrRouterExists = errors.New("router already exists")

	// ErrRouterNotFound is returned when a named router does not exist.
	ErrRouterNotFound = errors.New("router not found")
)

// Registry is the name-to-router registry.
type Registry struct {
	mu      sync.RWMutex
	routers map[string]*Router

	deps       Deps
	bus        *events.Bus
	logger     *slog.Logger
	onMutation func()
}

// NewRegistry creates a router registry. onMutation runs after any change;
// the broker hangs topology persistence off it.
func NewRegistry(deps Deps, bus *events.Bus, onMutation func()) *Registry {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		routers:    make(map[string]*Router),
		deps:       deps,
		bus:        bus,
		logger:     logger,
		onMutation: onMutation,
	}
}

// Deps returns the binding construction dependencies.
func (r *Registry) Deps() Deps {
	return r.deps
}

// Create adds a router.
func (r *Registry) Create(name string, method Method) (*Router, error) {
	if err := protocol.ValidateName(name); err != nil {
		return nil, err
	}

	key := protocol.NormalizeName(name)

	r.mu.Lock()
	if _, ok := r.routers[key]; ok {
		r.mu.Unlock()
		return nil, ErrRouterExists
	}
	rt := New(name, method, r.logger)
	r.routers[key] = rt
	r.mu.Unlock()

	r.logger.Info("router created", slog.String("router", name),
		slog.String("method", method.String()))
	r.trigger(events.TypeRouterCreated, name)
	r.mutated()
	return rt, nil
}

// Get returns a router by name.
func (r *Registry) Get(name string) (*Router, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.routers[protocol.NormalizeName(name)]
	return rt, ok
}

// Remove drops a router and its bindings.
func (r *Registry) Remove(name string) bool {
	key := protocol.NormalizeName(name)

	r.mu.Lock()
	rt, ok := r.routers[key]
	if ok {
		delete(r.routers, key)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}

	r.logger.Info("router removed", slog.String("router", rt.Name()))
	r.trigger(events.TypeRouterRemoved, rt.Name())
	r.mutated()
	return true
}

// AddBinding builds a binding from its definition and attaches it.
func (r *Registry) AddBinding(routerName string, def Definition) error {
	rt, ok := r.Get(routerName)
	if !ok {
		return ErrRouterNotFound
	}
	if err := protocol.ValidateName(def.Name); err != nil {
		return err
	}

	b, err := BuildBinding(def, r.deps)
	if err != nil {
		return err
	}
	if err := rt.AddBinding(b); err != nil {
		return err
	}

	r.trigger(events.TypeBindingAdded, rt.Name(),
		protocol.Header{Name: protocol.HeaderBindingName, Value: def.Name})
	r.mutated()
	return nil
}

// RemoveBinding drops a binding from a router.
func (r *Registry) RemoveBinding(routerName, bindingName string) error {
	rt, ok := r.Get(routerName)
	if !ok {
		return ErrRouterNotFound
	}
	if !rt.RemoveBinding(bindingName) {
		return ErrRouterNotFound
	}

	r.trigger(events.TypeBindingRemoved, rt.Name(),
		protocol.Header{Name: protocol.HeaderBindingName, Value: bindingName})
	r.mutated()
	return nil
}

// List returns routers sorted by name, optionally filtered by a glob.
func (r *Registry) List(filter string) []*Router {
	r.mu.RLock()
	out := make([]*Router, 0, len(r.routers))
	for _, rt := range r.routers {
		if filter != "" {
			if ok, err := path.Match(protocol.NormalizeName(filter), protocol.NormalizeName(rt.Name())); err != nil || !ok {
				continue
			}
		}
		out = append(out, rt)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// InvalidateClientCaches drops every direct binding's receiver cache.
func (r *Registry) InvalidateClientCaches() {
	for _, rt := range r.List("") {
		rt.InvalidateClientCaches()
	}
}

func (r *Registry) trigger(eventType, target string, headers ...protocol.Header) {
	if r.bus != nil {
		r.bus.Trigger(eventType, target, headers...)
	}
}

func (r *Registry) mutated() {
	if r.onMutation != nil {
		r.onMutation()
	}
}
