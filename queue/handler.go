// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"fmt"

	"github.com/absmach/steed/protocol"
	"github.com/absmach/steed/queue/delivery"
	"github.com/absmach/steed/queue/types"
)

// DeliveryHandler is the per-queue policy object. The queue pipeline calls a
// hook at every message lifecycle point and applies the returned decision.
// Hooks run outside the queue lock and must be safe for concurrent use.
type DeliveryHandler interface {
	// ReceivedFromProducer runs before a pushed message enters the store.
	ReceivedFromProducer(q *Queue, m *types.Message, from protocol.Peer) types.Decision

	// BeginSend runs before a message is handed to a consumer.
	BeginSend(q *Queue, m *types.Message) types.Decision

	// CanConsumerReceive may veto a specific consumer for a specific message.
	CanConsumerReceive(q *Queue, m *types.Message, c *Client) bool

	// ConsumerReceiveFailed runs when a send to a consumer fails.
	ConsumerReceiveFailed(q *Queue, m *types.Message, c *Client) types.Decision

	// EndSend runs after a message was written to at least one consumer.
	EndSend(q *Queue, m *types.Message) types.Decision

	// AcknowledgeReceived runs when a consumer acks or nacks a delivery.
	AcknowledgeReceived(q *Queue, ack *protocol.Message, d *delivery.Delivery, success bool) types.Decision

	// MessageTimedOut runs when a tracked delivery misses its ack deadline.
	MessageTimedOut(q *Queue, m *types.Message) types.Decision

	// SaveMessage persists the message when a decision carries Save.
	SaveMessage(q *Queue, m *types.Message) types.Decision

	// MessageDequeued runs when a message leaves the queue permanently.
	MessageDequeued(q *Queue, m *types.Message) types.Decision

	// ExceptionThrown runs when the pipeline recovers a failure.
	ExceptionThrown(q *Queue, m *types.Message, err error) types.Decision
}

// BuildContext carries everything a handler factory may need.
type BuildContext struct {
	Queue       *Queue
	HandlerName string
	Headers     protocol.Headers
}

// HandlerFactory builds a delivery handler for a queue at initialisation.
type HandlerFactory func(ctx BuildContext) (DeliveryHandler, error)

// DefaultHandlerName is the factory used when a queue names no handler.
const DefaultHandlerName = "Default"

// DefaultHandler implements ack-driven delivery: fire-and-forget queues
// delete after send, acknowledged queues delete on ack and put the message
// back on nack or timeout.
type DefaultHandler struct{}

// NewDefaultHandler is the factory for DefaultHandler.
func NewDefaultHandler(_ BuildContext) (DeliveryHandler, error) {
	return &DefaultHandler{}, nil
}

func (h *DefaultHandler) ReceivedFromProducer(q *Queue, m *types.Message, _ protocol.Peer) types.Decision {
	if q.Options().Acknowledge == types.AckNone {
		return types.Allow()
	}
	return types.TransmitToProducer(types.TransmissionSuccessful)
}

func (h *DefaultHandler) BeginSend(_ *Queue, _ *types.Message) types.Decision {
	return types.Allow()
}

func (h *DefaultHandler) CanConsumerReceive(_ *Queue, _ *types.Message, _ *Client) bool {
	return true
}

func (h *DefaultHandler) ConsumerReceiveFailed(_ *Queue, _ *types.Message, _ *Client) types.Decision {
	return types.Allow()
}

func (h *DefaultHandler) EndSend(q *Queue, _ *types.Message) types.Decision {
	if q.Options().Acknowledge == types.AckNone {
		return types.DeleteMessage()
	}
	return types.Allow()
}

func (h *DefaultHandler) AcknowledgeReceived(_ *Queue, _ *protocol.Message, _ *delivery.Delivery, success bool) types.Decision {
	if success {
		return types.DeleteMessage()
	}
	return types.PutBackMessage(types.PutBackRegular)
}

func (h *DefaultHandler) MessageTimedOut(_ *Queue, _ *types.Message) types.Decision {
	return types.PutBackMessage(types.PutBackRegular)
}

func (h *DefaultHandler) SaveMessage(_ *Queue, m *types.Message) types.Decision {
	m.MarkSaved()
	return types.Allow()
}

func (h *DefaultHandler) MessageDequeued(_ *Queue, _ *types.Message) types.Decision {
	return types.Allow()
}

func (h *DefaultHandler) ExceptionThrown(_ *Queue, _ *types.Message, _ error) types.Decision {
	return types.Allow()
}

// buildHandler resolves a factory by name.
func buildHandler(factories map[string]HandlerFactory, ctx BuildContext) (DeliveryHandler, error) {
	name := ctx.HandlerName
	if name == "" {
		name = DefaultHandlerName
	}
	f, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHandler, name)
	}
	return f(ctx)
}
