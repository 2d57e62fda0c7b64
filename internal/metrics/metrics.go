// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds OpenTelemetry instruments for the broker core. A nil
// *Metrics is valid and records nothing, so components can run unmetered.
type Metrics struct {
	meter metric.Meter

	messagesPushed    metric.Int64Counter
	messagesDelivered metric.Int64Counter
	messagesAcked     metric.Int64Counter
	messagesNacked    metric.Int64Counter
	messagesTimedOut  metric.Int64Counter
	messagesPutBack   metric.Int64Counter

	queueDepth       metric.Int64UpDownCounter
	clientsConnected metric.Int64UpDownCounter
}

// New creates a Metrics instance with all instruments initialized against the
// global meter provider.
func New() (*Metrics, error) {
	m := &Metrics{
		meter: otel.Meter("steed-broker"),
	}

	var err error

	if m.messagesPushed, err = m.meter.Int64Counter(
		"steed.messages.pushed",
		metric.WithDescription("Messages accepted into queues"),
	); err != nil {
		return nil, fmt.Errorf("create pushed counter: %w", err)
	}

	if m.messagesDelivered, err = m.meter.Int64Counter(
		"steed.messages.delivered",
		metric.WithDescription("Messages handed to consumers"),
	); err != nil {
		return nil, fmt.Errorf("create delivered counter: %w", err)
	}

	if m.messagesAcked, err = m.meter.Int64Counter(
		"steed.messages.acked",
		metric.WithDescription("Positive consumer acknowledgements"),
	); err != nil {
		return nil, fmt.Errorf("create acked counter: %w", err)
	}

	if m.messagesNacked, err = m.meter.Int64Counter(
		"steed.messages.nacked",
		metric.WithDescription("Negative consumer acknowledgements"),
	); err != nil {
		return nil, fmt.Errorf("create nacked counter: %w", err)
	}

	if m.messagesTimedOut, err = m.meter.Int64Counter(
		"steed.messages.timed_out",
		metric.WithDescription("Deliveries that missed their ack deadline"),
	); err != nil {
		return nil, fmt.Errorf("create timed out counter: %w", err)
	}

	if m.messagesPutBack, err = m.meter.Int64Counter(
		"steed.messages.put_back",
		metric.WithDescription("Messages returned to their queue"),
	); err != nil {
		return nil, fmt.Errorf("create put back counter: %w", err)
	}

	if m.queueDepth, err = m.meter.Int64UpDownCounter(
		"steed.queue.depth",
		metric.WithDescription("Messages currently stored"),
	); err != nil {
		return nil, fmt.Errorf("create queue depth counter: %w", err)
	}

	if m.clientsConnected, err = m.meter.Int64UpDownCounter(
		"steed.clients.connected",
		metric.WithDescription("Currently connected clients"),
	); err != nil {
		return nil, fmt.Errorf("create clients counter: %w", err)
	}

	return m, nil
}

func queueAttr(name string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("queue", name))
}

// Pushed records a message accepted into a queue.
func (m *Metrics) Pushed(queue string) {
	if m == nil {
		return
	}
	m.messagesPushed.Add(context.Background(), 1, queueAttr(queue))
	m.queueDepth.Add(context.Background(), 1, queueAttr(queue))
}

// Delivered records a message handed to a consumer.
func (m *Metrics) Delivered(queue string) {
	if m == nil {
		return
	}
	m.messagesDelivered.Add(context.Background(), 1, queueAttr(queue))
}

// Dequeued records a message leaving the store.
func (m *Metrics) Dequeued(queue string) {
	if m == nil {
		return
	}
	m.queueDepth.Add(context.Background(), -1, queueAttr(queue))
}

// Acked records a positive acknowledgement.
func (m *Metrics) Acked(queue string) {
	if m == nil {
		return
	}
	m.messagesAcked.Add(context.Background(), 1, queueAttr(queue))
}

// Nacked records a negative acknowledgement.
func (m *Metrics) Nacked(queue string) {
	if m == nil {
		return
	}
	m.messagesNacked.Add(context.Background(), 1, queueAttr(queue))
}

// TimedOut records a delivery timeout.
func (m *Metrics) TimedOut(queue string) {
	if m == nil {
		return
	}
	m.messagesTimedOut.Add(context.Background(), 1, queueAttr(queue))
}

// PutBack records a message returned to its queue.
func (m *Metrics) PutBack(queue string) {
	if m == nil {
		return
	}
	m.messagesPutBack.Add(context.Background(), 1, queueAttr(queue))
}

// ClientConnected records a client arrival.
func (m *Metrics) ClientConnected() {
	if m == nil {
		return
	}
	m.clientsConnected.Add(context.Background(), 1)
}

// ClientDisconnected records a client departure.
func (m *Metrics) ClientDisconnected() {
	if m == nil {
		return
	}
	m.clientsConnected.Add(context.Background(), -1)
}
