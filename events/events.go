// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/absmach/steed/protocol"
	"github.com/google/uuid"
)

// Event type constants.
const (
	TypeMessageProduced = "message.produced"
	TypeMessagePushed   = "message.pushed"
	TypeMessageAck      = "message.ack"
	TypeMessageNack     = "message.nack"
	TypeMessageTimeout  = "message.timeout"
	TypeMessageDequeued = "message.dequeued"

	TypeQueueCreated      = "queue.created"
	TypeQueueUpdated      = "queue.updated"
	TypeQueueRemoved      = "queue.removed"
	TypeQueueSubscribed   = "queue.subscribed"
	TypeQueueUnsubscribed = "queue.unsubscribed"

	TypeRouterCreated  = "router.created"
	TypeRouterRemoved  = "router.removed"
	TypeBindingAdded   = "router.binding_added"
	TypeBindingRemoved = "router.binding_removed"

	TypeChannelCreated      = "channel.created"
	TypeChannelRemoved      = "channel.removed"
	TypeChannelSubscribed   = "channel.subscribed"
	TypeChannelUnsubscribed = "channel.unsubscribed"

	TypeClientConnected    = "client.connected"
	TypeClientDisconnected = "client.disconnected"
)

// Envelope is the common wrapper handed to every sink.
type Envelope struct {
	EventType string            `json:"event_type"`
	EventID   string            `json:"event_id"`
	Timestamp string            `json:"timestamp"`
	BrokerID  string            `json:"broker_id"`
	Target    string            `json:"target"`
	Headers   []protocol.Header `json:"headers,omitempty"`
}

// Sink receives triggered events. Deliver must not block the caller for long
// and must never panic the pipeline; panics are recovered and logged.
type Sink interface {
	Deliver(e Envelope)
}

// Bus is the broker's event side channel. Triggering is synchronous with
// respect to sink iteration but never affects the calling pipeline's result:
// sink errors and panics are swallowed.
type Bus struct {
	mu       sync.RWMutex
	sinks    []Sink
	brokerID string
	logger   *slog.Logger
}

// NewBus creates an event bus.
func NewBus(brokerID string, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		brokerID: brokerID,
		logger:   logger,
	}
}

// Attach registers a sink.
func (b *Bus) Attach(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// Trigger emits an event to every attached sink.
func (b *Bus) Trigger(eventType, target string, headers ...protocol.Header) {
	b.mu.RLock()
	sinks := make([]Sink, len(b.sinks))
	copy(sinks, b.sinks)
	b.mu.RUnlock()

	if len(sinks) == 0 {
		return
	}

	e := Envelope{
		EventType: eventType,
		EventID:   uuid.New().String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		BrokerID:  b.brokerID,
		Target:    target,
		Headers:   headers,
	}

	for _, s := range sinks {
		b.deliver(s, e)
	}
}

func (b *Bus) deliver(s Sink, e Envelope) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event sink panicked",
				slog.String("event", e.EventType),
				slog.Any("panic", r))
		}
	}()
	s.Deliver(e)
}
