// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/absmach/steed/protocol"
)

// Router forwards published messages to an ordered set of bindings under a
// routing policy. Bindings are kept sorted by priority descending; equal
// priorities keep insertion order.
type Router struct {
	name   string
	logger *slog.Logger

	mu       sync.RWMutex
	enabled  bool
	method   Method
	bindings []Binding
	cursor   int
}

// New creates an enabled router.
func New(name string, method Method, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		name:    name,
		method:  method,
		enabled: true,
		logger:  logger.With(slog.String("router", name)),
	}
}

// Name returns the router name.
func (r *Router) Name() string {
	return r.name
}

// Method returns the routing policy.
func (r *Router) Method() Method {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.method
}

// Enabled reports whether the router accepts publishes.
func (r *Router) Enabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled
}

// SetEnabled toggles the router.
func (r *Router) SetEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = enabled
}

// AddBinding inserts a binding, keeping priority order. Binding names are
// unique per router.
func (r *Router) AddBinding(b Binding) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.bindings {
		if protocol.NormalizeName(existing.Name()) == protocol.NormalizeName(b.Name()) {
			return ErrBindingExists
		}
	}

	r.bindings = append(r.bindings, b)
	sort.SliceStable(r.bindings, func(i, j int) bool {
		return r.bindings[i].Priority() > r.bindings[j].Priority()
	})
	return nil
}

// RemoveBinding drops a binding by name.
func (r *Router) RemoveBinding(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, b := range r.bindings {
		if protocol.NormalizeName(b.Name()) == protocol.NormalizeName(name) {
			r.bindings = append(r.bindings[:i], r.bindings[i+1:]...)
			return true
		}
	}
	return false
}

// Bindings returns the bindings in priority order.
func (r *Router) Bindings() []Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Binding, len(r.bindings))
	copy(out, r.bindings)
	return out
}

// Publish forwards a message through the router's bindings. Every binding
// sees its own copy of the message, so per-binding retargeting and the
// response expectation cannot leak across bindings.
func (r *Router) Publish(ctx context.Context, sender protocol.Peer, m *protocol.Message) PublishResult {
	r.mu.RLock()
	enabled := r.enabled
	method := r.method
	bindings := make([]Binding, len(r.bindings))
	copy(bindings, r.bindings)
	r.mu.RUnlock()

	if !enabled {
		return PublishDisabled
	}
	if len(bindings) == 0 {
		return PublishNoBindings
	}

	switch method {
	case MethodOnlyFirst:
		for _, b := range bindings {
			if b.Send(ctx, sender, m.Clone()) {
				return resultFor(b)
			}
		}
		return PublishNoReceivers

	case MethodRoundRobin:
		r.mu.Lock()
		start := r.cursor
		r.mu.Unlock()
		for i := 0; i < len(bindings); i++ {
			idx := (start + i) % len(bindings)
			b := bindings[idx]
			if b.Send(ctx, sender, m.Clone()) {
				r.mu.Lock()
				r.cursor = idx + 1
				r.mu.Unlock()
				return resultFor(b)
			}
		}
		return PublishNoReceivers

	default: // MethodDistribute
		anySent := false
		anyRespond := false
		for _, b := range bindings {
			if b.Send(ctx, sender, m.Clone()) {
				anySent = true
				if b.Interaction() != InteractionNone {
					anyRespond = true
				}
			}
		}
		switch {
		case anyRespond:
			return PublishOKWillRespond
		case anySent:
			return PublishOKNoResponse
		default:
			return PublishNoReceivers
		}
	}
}

func resultFor(b Binding) PublishResult {
	if b.Interaction() != InteractionNone {
		return PublishOKWillRespond
	}
	return PublishOKNoResponse
}

// InvalidateClientCaches drops cached receiver lists on direct bindings.
func (r *Router) InvalidateClientCaches() {
	for _, b := range r.Bindings() {
		if db, ok := b.(*DirectBinding); ok {
			db.invalidate()
		}
	}
}
