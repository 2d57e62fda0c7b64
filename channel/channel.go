// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"log/slog"
	"sync"
	"time"

	"github.com/absmach/steed/events"
	"github.com/absmach/steed/protocol"
)

// Status is the channel lifecycle state.
type Status int

const (
	StatusRunning Status = iota
	StatusPaused
	StatusDestroyed
)

// Options holds per-channel configuration.
type Options struct {
	Topic            string
	ClientLimit      int
	MessageSizeLimit int64

	// AutoDestroy removes the channel when its last subscriber leaves.
	AutoDestroy bool
}

// subscriber pairs a peer with its join time.
type subscriber struct {
	peer     protocol.Peer
	joinedAt time.Time
}

// Channel is a named broadcast endpoint: every published message goes to
// every connected subscriber, best-effort, with no tracking.
type Channel struct {
	name    string
	manager *Manager
	bus     *events.Bus
	logger  *slog.Logger

	mu          sync.RWMutex
	status      Status
	opts        Options
	subscribers []subscriber
}

func newChannel(m *Manager, name string, opts Options) *Channel {
	return &Channel{
		name:    name,
		manager: m,
		bus:     m.bus,
		logger:  m.logger.With(slog.String("channel", name)),
		opts:    opts,
	}
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return c.name
}

// Status returns the lifecycle state.
func (c *Channel) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// SetStatus moves the channel between Running and Paused.
func (c *Channel) SetStatus(s Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusDestroyed {
		c.status = s
	}
}

// Options returns a copy of the channel options.
func (c *Channel) Options() Options {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.opts
}

// Push broadcasts a message to every connected subscriber.
func (c *Channel) Push(m *protocol.Message) protocol.Result {
	c.mu.RLock()
	status := c.status
	opts := c.opts
	subs := make([]subscriber, len(c.subscribers))
	copy(subs, c.subscribers)
	c.mu.RUnlock()

	switch status {
	case StatusPaused:
		return protocol.ResultStatusNotSupported
	case StatusDestroyed:
		return protocol.ResultNotFound
	}

	if opts.MessageSizeLimit > 0 && int64(len(m.Payload)) > opts.MessageSizeLimit {
		return protocol.ResultLimitExceeded
	}

	m.Kind = protocol.KindChannelMessage
	m.Target = c.name
	protocol.StripOperational(m)

	for _, s := range subs {
		if !s.peer.IsConnected() {
			continue
		}
		if err := s.peer.Send(m); err != nil {
			c.logger.Debug("channel send failed",
				slog.String("client", s.peer.ID()), slog.Any("error", err))
		}
	}
	return protocol.ResultSuccess
}

// Subscribe adds a peer to the subscriber set.
func (c *Channel) Subscribe(peer protocol.Peer) protocol.Result {
	c.mu.Lock()
	if c.status == StatusDestroyed {
		c.mu.Unlock()
		return protocol.ResultNotFound
	}
	for _, s := range c.subscribers {
		if s.peer.ID() == peer.ID() {
			c.mu.Unlock()
			return protocol.ResultDuplicate
		}
	}
	if c.opts.ClientLimit > 0 && len(c.subscribers) >= c.opts.ClientLimit {
		c.mu.Unlock()
		return protocol.ResultLimitExceeded
	}
	c.subscribers = append(c.subscribers, subscriber{peer: peer, joinedAt: time.Now()})
	c.mu.Unlock()

	c.bus.Trigger(events.TypeChannelSubscribed, c.name,
		protocol.Header{Name: protocol.HeaderClientID, Value: peer.ID()})
	return protocol.ResultSuccess
}

// Unsubscribe removes a peer. Returns whether it was subscribed.
func (c *Channel) Unsubscribe(peerID string) bool {
	c.mu.Lock()
	found := false
	for i, s := range c.subscribers {
		if s.peer.ID() == peerID {
			c.subscribers = append(c.subscribers[:i], c.subscribers[i+1:]...)
			found = true
			break
		}
	}
	empty := len(c.subscribers) == 0
	autoDestroy := c.opts.AutoDestroy
	c.mu.Unlock()

	if !found {
		return false
	}

	c.bus.Trigger(events.TypeChannelUnsubscribed, c.name,
		protocol.Header{Name: protocol.HeaderClientID, Value: peerID})

	if autoDestroy && empty {
		c.manager.Remove(c.name)
	}
	return true
}

// SubscriberCount returns the subscriber count.
func (c *Channel) SubscriberCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subscribers)
}

func (c *Channel) destroy() {
	c.mu.Lock()
	c.status = StatusDestroyed
	c.subscribers = nil
	c.mu.Unlock()
}
