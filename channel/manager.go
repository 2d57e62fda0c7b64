// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package channel

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
	// ErrChannelExists is returned when a channel name is taken.
	ErrChannelExists = errors.New("channel already exists")

	// ErrChannelNotFound is returned when a named channel does not exist.
	ErrChannelNotFound = errors.New("channel not found")
)

// Manager is the name-to-channel registry.
type Manager struct {
	mu       sync.RWMutex
	channels map[string]*Channel

	defaults Options
	bus      *events.Bus
	logger   *slog.Logger
}

// NewManager creates a channel manager.
func NewManager(defaults Options, bus *events.Bus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if bus == nil {
		bus = events.NewBus("", logger)
	}
	return &Manager{
		channels: make(map[string]*Channel),
		defaults: defaults,
		bus:      bus,
		logger:   logger,
	}
}

// Create adds a channel. opts of nil uses the manager defaults.
func (m *Manager) Create(name string, opts *Options) (*Channel, error) {
	if err := protocol.ValidateName(name); err != nil {
		return nil, err
	}

	key := protocol.NormalizeName(name)

	m.mu.Lock()
	if _, ok := m.channels[key]; ok {
		m.mu.Unlock()
		return nil, ErrChannelExists
	}
	o := m.defaults
	if opts != nil {
		o = *opts
	}
	c := newChannel(m, name, o)
	m.channels[key] = c
	m.mu.Unlock()

	m.logger.Info("channel created", slog.String("channel", name))
	m.bus.Trigger(events.TypeChannelCreated, name)
	return c, nil
}

// Get returns a channel by name.
func (m *Manager) Get(name string) (*Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.channels[protocol.NormalizeName(name)]
	return c, ok
}

// FindOrCreate returns the named channel, creating it if absent.
func (m *Manager) FindOrCreate(name string) (*Channel, error) {
	if c, ok := m.Get(name); ok {
		return c, nil
	}
	c, err := m.Create(name, nil)
	if err == ErrChannelExists {
		if c, ok := m.Get(name); ok {
			return c, nil
		}
	}
	return c, err
}

// Remove destroys a channel and drops it from the registry.
func (m *Manager) Remove(name string) bool {
	key := protocol.NormalizeName(name)

	m.mu.Lock()
	c, ok := m.channels[key]
	if ok {
		delete(m.channels, key)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}

	c.destroy()
	m.logger.Info("channel removed", slog.String("channel", c.Name()))
	m.bus.Trigger(events.TypeChannelRemoved, c.Name())
	return true
}

// List returns channels sorted by name, optionally filtered by a glob.
func (m *Manager) List(filter string) []*Channel {
	m.mu.RLock()
	out := make([]*Channel, 0, len(m.channels))
	for _, c := range m.channels {
		if filter != "" {
			if ok, err := path.Match(protocol.NormalizeName(filter), protocol.NormalizeName(c.Name())); err != nil || !ok {
				continue
			}
		}
		out = append(out, c)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Count returns the number of channels.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.channels)
}
