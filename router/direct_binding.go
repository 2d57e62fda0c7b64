// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/absmach/steed/protocol"
)

// receiverCacheTTL bounds how long a resolved receiver list is reused before
// the target selector is evaluated again.
const receiverCacheTTL = time.Second

// Selector prefixes for match-many direct targets.
const (
	selectorName = "@name:"
	selectorType = "@type:"
)

// DirectBinding forwards routed messages straight to connected clients. The
// target is a concrete client id or a selector (@name:x, @type:x); resolved
// receiver lists are cached for a second.
type DirectBinding struct {
	bindingBase
	resolver ClientResolver
	filter   func(protocol.Peer) bool
	logger   *slog.Logger

	mu         sync.Mutex
	cached     []protocol.Peer
	cacheValid bool
	cachedAt   time.Time
	cursor     int
}

// NewDirectBinding creates a direct binding.
func NewDirectBinding(def Definition, deps Deps) *DirectBinding {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &DirectBinding{
		bindingBase: newBindingBase(def),
		resolver:    deps.Clients,
		logger:      logger,
	}
}

func newDirectBindingFromDef(def Definition, deps Deps) (Binding, error) {
	return NewDirectBinding(def, deps), nil
}

func (b *DirectBinding) Tag() string {
	return TagDirect
}

func (b *DirectBinding) Definition() Definition {
	return b.definition(TagDirect)
}

// SetFilter installs a receiver predicate applied after target resolution.
func (b *DirectBinding) SetFilter(f func(protocol.Peer) bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.filter = f
	b.cacheValid = false
}

// Send resolves the receiver set and delivers per the binding's route method.
func (b *DirectBinding) Send(_ context.Context, _ protocol.Peer, m *protocol.Message) bool {
	receivers := b.receivers()
	if len(receivers) == 0 {
		return false
	}

	m.Kind = protocol.KindDirectMessage
	b.retarget(m)

	switch b.method {
	case MethodOnlyFirst:
		for _, p := range receivers {
			if b.deliver(p, m) {
				return true
			}
		}
		return false

	case MethodRoundRobin:
		b.mu.Lock()
		start := b.cursor
		b.mu.Unlock()
		for i := 0; i < len(receivers); i++ {
			idx := (start + i) % len(receivers)
			if b.deliver(receivers[idx], m) {
				b.mu.Lock()
				b.cursor = idx + 1
				b.mu.Unlock()
				return true
			}
		}
		return false

	default: // MethodDistribute
		any := false
		for _, p := range receivers {
			if b.deliver(p, m) {
				any = true
			}
		}
		return any
	}
}

func (b *DirectBinding) deliver(p protocol.Peer, m *protocol.Message) bool {
	if !p.IsConnected() {
		return false
	}
	m.Target = p.ID()
	if err := p.Send(m); err != nil {
		b.logger.Debug("direct binding send failed",
			slog.String("binding", b.name), slog.String("client", p.ID()), slog.Any("error", err))
		return false
	}
	return true
}

// receivers returns the resolved receiver list, re-resolving after the cache
// TTL passes.
func (b *DirectBinding) receivers() []protocol.Peer {
	b.mu.Lock()
	if b.cacheValid && time.Since(b.cachedAt) < receiverCacheTTL {
		out := b.cached
		b.mu.Unlock()
		return out
	}
	filter := b.filter
	b.mu.Unlock()

	var resolved []protocol.Peer
	switch {
	case strings.HasPrefix(b.target, selectorType):
		resolved = b.resolver.ClientsByType(strings.TrimPrefix(b.target, selectorType))
	case strings.HasPrefix(b.target, selectorName):
		resolved = b.resolver.ClientsByName(strings.TrimPrefix(b.target, selectorName))
	default:
		if p, ok := b.resolver.ClientByID(b.target); ok {
			resolved = []protocol.Peer{p}
		}
	}

	if filter != nil {
		kept := resolved[:0]
		for _, p := range resolved {
			if filter(p) {
				kept = append(kept, p)
			}
		}
		resolved = kept
	}

	b.mu.Lock()
	b.cached = resolved
	b.cacheValid = true
	b.cachedAt = time.Now()
	b.mu.Unlock()
	return resolved
}

// invalidate drops the cached receiver list; the registry calls it when a
// client disconnects.
func (b *DirectBinding) invalidate() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cacheValid = false
}
