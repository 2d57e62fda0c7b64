// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"testing"

	"github.com/absmach/steed/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	envelopes []Envelope
}

func (s *recordingSink) Deliver(e Envelope) {
	s.envelopes = append(s.envelopes, e)
}

type panickingSink struct{}

func (panickingSink) Deliver(Envelope) {
	panic("sink failure")
}

func TestBus_Trigger(t *testing.T) {
	bus := NewBus("node-1", nil)
	sink := &recordingSink{}
	bus.Attach(sink)

	bus.Trigger(TypeMessagePushed, "orders",
		protocol.Header{Name: protocol.HeaderMessageID, Value: "m-1"})

	require.Len(t, sink.envelopes, 1)
	e := sink.envelopes[0]
	assert.Equal(t, TypeMessagePushed, e.EventType)
	assert.Equal(t, "orders", e.Target)
	assert.Equal(t, "node-1", e.BrokerID)
	assert.NotEmpty(t, e.EventID)
	assert.NotEmpty(t, e.Timestamp)
	require.Len(t, e.Headers, 1)
	assert.Equal(t, "m-1", e.Headers[0].Value)
}

func TestBus_FanOut(t *testing.T) {
	bus := NewBus("node-1", nil)
	first := &recordingSink{}
	second := &recordingSink{}
	bus.Attach(first)
	bus.Attach(second)

	bus.Trigger(TypeQueueCreated, "orders")

	assert.Len(t, first.envelopes, 1)
	assert.Len(t, second.envelopes, 1)
}

func TestBus_SinkPanicDoesNotPropagate(t *testing.T) {
	bus := NewBus("node-1", nil)
	after := &recordingSink{}
	bus.Attach(panickingSink{})
	bus.Attach(after)

	assert.NotPanics(t, func() {
		bus.Trigger(TypeQueueRemoved, "orders")
	})
	assert.Len(t, after.envelopes, 1)
}

func TestBus_NoSinks(t *testing.T) {
	bus := NewBus("node-1", nil)
	assert.NotPanics(t, func() {
		bus.Trigger(TypeClientConnected, "c-1")
	})
}
