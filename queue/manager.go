// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"log/slog"
	"path"
	"sort"
	"sync"

	"github.com/absmach/steed/cluster"
	"github.com/absmach/steed/events"
	"github.com/absmach/steed/internal/metrics"
	"github.com/absmach/steed/protocol"
	"github.com/absmach/steed/queue/storage"
	"github.com/absmach/steed/queue/storage/memory"
	"github.com/absmach/steed/queue/types"
)

// ManagerConfig holds the collaborators a queue manager wires into every
// queue it creates.
type ManagerConfig struct {
	// DefaultOptions seed every new queue before header overrides.
	DefaultOptions types.Options

	Bus         *events.Bus
	Coordinator cluster.Coordinator
	Metrics     *metrics.Metrics
	IDGen       protocol.IDGenerator
	Logger      *slog.Logger

	// NewStore builds the message store for a new queue. Defaults to the
	// in-memory store.
	NewStore func() storage.MessageStore

	// OnMutation runs after any registry change; the broker hangs topology
	// persistence off it. Best-effort.
	OnMutation func()
}

// Manager is the name-to-queue registry. Names are unique case-insensitively.
type Manager struct {
	mu     sync.RWMutex
	queues map[string]*Queue

	handlerMu sync.RWMutex
	handlers  map[string]HandlerFactory

	defaults    types.Options
	bus         *events.Bus
	coordinator cluster.Coordinator
	metrics     *metrics.Metrics
	idgen       protocol.IDGenerator
	logger      *slog.Logger
	newStore    func() storage.MessageStore
	onMutation  func()
}

// NewManager creates a queue manager with the default delivery handler
// registered.
func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	coordinator := cfg.Coordinator
	if coordinator == nil {
		coordinator = cluster.NewStandalone()
	}
	idgen := cfg.IDGen
	if idgen == nil {
		idgen = protocol.DefaultIDGenerator
	}
	bus := cfg.Bus
	if bus == nil {
		bus = events.NewBus("", logger)
	}
	newStore := cfg.NewStore
	if newStore == nil {
		newStore = func() storage.MessageStore { return memory.New() }
	}

	m := &Manager{
		queues:      make(map[string]*Queue),
		handlers:    make(map[string]HandlerFactory),
		defaults:    cfg.DefaultOptions,
		bus:         bus,
		coordinator: coordinator,
		metrics:     cfg.Metrics,
		idgen:       idgen,
		logger:      logger,
		newStore:    newStore,
		onMutation:  cfg.OnMutation,
	}
	m.RegisterHandler(DefaultHandlerName, NewDefaultHandler)
	return m
}

// Defaults returns the options new queues are seeded with.
func (m *Manager) Defaults() types.Options {
	return m.defaults
}

// RegisterHandler adds a delivery handler factory under a name. Queues pick a
// factory with the Delivery-Handler header at initialisation.
func (m *Manager) RegisterHandler(name string, f HandlerFactory) {
	m.handlerMu.Lock()
	defer m.handlerMu.Unlock()
	m.handlers[name] = f
}

func (m *Manager) handlerFactories() map[string]HandlerFactory {
	m.handlerMu.RLock()
	defer m.handlerMu.RUnlock()
	out := make(map[string]HandlerFactory, len(m.handlers))
	for k, v := range m.handlers {
		out[k] = v
	}
	return out
}

// Create adds a new queue. opts of nil uses the manager defaults.
func (m *Manager) Create(ctx context.Context, name string, opts *types.Options) (*Queue, error) {
	if err := protocol.ValidateName(name); err != nil {
		return nil, err
	}

	key := protocol.NormalizeName(name)

	m.mu.Lock()
	if _, ok := m.queues[key]; ok {
		m.mu.Unlock()
		return nil, ErrQueueExists
	}
	o := m.defaults
	if opts != nil {
		o = *opts
	}
	q := newQueue(m, name, o, m.newStore())
	m.queues[key] = q
	m.mu.Unlock()

	m.logger.Info("queue created", slog.String("queue", name))
	m.bus.Trigger(events.TypeQueueCreated, name)
	if err := m.coordinator.SendQueueUpdated(ctx, name, o); err != nil {
		m.logger.Warn("queue create replication failed",
			slog.String("queue", name), slog.Any("error", err))
	}
	m.mutated()

	return q, nil
}

// Get returns a queue by name.
func (m *Manager) Get(name string) (*Queue, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.queues[protocol.NormalizeName(name)]
	return q, ok
}

// FindOrCreate returns the named queue, creating it if absent.
func (m *Manager) FindOrCreate(ctx context.Context, name string) (*Queue, error) {
	if q, ok := m.Get(name); ok {
		return q, nil
	}
	q, err := m.Create(ctx, name, nil)
	if err == ErrQueueExists {
		// Lost a create race; the winner's queue serves.
		if q, ok := m.Get(name); ok {
			return q, nil
		}
	}
	return q, err
}

// Remove destroys a queue and drops it from the registry.
func (m *Manager) Remove(ctx context.Context, name string) bool {
	key := protocol.NormalizeName(name)

	m.mu.Lock()
	q, ok := m.queues[key]
	if ok {
		delete(m.queues, key)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}

	q.destroy()
	m.logger.Info("queue removed", slog.String("queue", q.Name()))
	m.bus.Trigger(events.TypeQueueRemoved, q.Name())
	if err := m.coordinator.SendQueueRemoved(ctx, q.Name()); err != nil {
		m.logger.Warn("queue remove replication failed",
			slog.String("queue", q.Name()), slog.Any("error", err))
	}
	m.mutated()
	return true
}

// Update applies new options to a queue and propagates the change.
func (m *Manager) Update(ctx context.Context, q *Queue, opts types.Options) {
	q.UpdateOptions(opts)
	m.bus.Trigger(events.TypeQueueUpdated, q.Name())
	if err := m.coordinator.SendQueueUpdated(ctx, q.Name(), opts); err != nil {
		m.logger.Warn("queue update replication failed",
			slog.String("queue", q.Name()), slog.Any("error", err))
	}
	m.mutated()
}

// List returns queues sorted by name, optionally filtered by a glob pattern.
func (m *Manager) List(filter string) []*Queue {
	m.mu.RLock()
	out := make([]*Queue, 0, len(m.queues))
	for _, q := range m.queues {
		if filter != "" {
			if ok, err := path.Match(protocol.NormalizeName(filter), protocol.NormalizeName(q.Name())); err != nil || !ok {
				continue
			}
		}
		out = append(out, q)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Count returns the number of registered queues.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.queues)
}

// Close destroys every queue. Used on broker shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	queues := make([]*Queue, 0, len(m.queues))
	for _, q := range m.queues {
		queues = append(queues, q)
	}
	m.queues = make(map[string]*Queue)
	m.mu.Unlock()

	for _, q := range queues {
		q.destroy()
	}
}

func (m *Manager) mutated() {
	if m.onMutation != nil {
		m.onMutation()
	}
}
