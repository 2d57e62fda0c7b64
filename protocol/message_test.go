// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_Clone(t *testing.T) {
	m := NewMessage(KindQueueMessage, "orders", []byte("payload"))
	m.ID = "m-1"
	m.SetHeader("A", "1")

	cp := m.Clone()
	cp.Target = "other"
	cp.Payload[0] = 'X'
	cp.SetHeader("A", "2")

	assert.Equal(t, "orders", m.Target)
	assert.Equal(t, byte('p'), m.Payload[0])
	v, _ := m.GetHeader("A")
	assert.Equal(t, "1", v)
}

func TestNewResponse(t *testing.T) {
	req := NewMessage(KindServerRequest, "orders", nil)
	req.ID = "req-1"

	resp := NewResponse(req, ResultLimitExceeded)
	assert.Equal(t, KindResponse, resp.Kind)
	assert.Equal(t, "req-1", resp.ID)
	assert.Equal(t, ContentType(ResultLimitExceeded), resp.ContentType)
}

func TestAckNack(t *testing.T) {
	m := NewMessage(KindQueueMessage, "orders", nil)
	m.ID = "m-1"

	ack := NewAck(m)
	assert.Equal(t, KindAck, ack.Kind)
	assert.Equal(t, "m-1", ack.ID)
	assert.False(t, ack.IsNack())

	nack := NewNack(m, "consumer busy")
	assert.True(t, nack.IsNack())
	reason, _ := nack.GetHeader(HeaderNackReason)
	assert.Equal(t, "consumer busy", reason)

	unreasoned := NewNack(m, "")
	assert.True(t, unreasoned.IsNack())
	reason, _ = unreasoned.GetHeader(HeaderNackReason)
	assert.Equal(t, NackReasonNone, reason)
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("orders"))
	assert.NoError(t, ValidateName("push-a-cc"))

	for _, bad := range []string{"", "has space", "wild*card", "semi;colon"} {
		assert.ErrorIs(t, ValidateName(bad), ErrInvalidName)
	}
}

func TestUUIDGenerator_SortableAndUnique(t *testing.T) {
	gen := UUIDGenerator{}

	ids := make([]string, 100)
	seen := make(map[string]bool, len(ids))
	for i := range ids {
		ids[i] = gen.NextID()
		require.False(t, seen[ids[i]], "duplicate id %s", ids[i])
		seen[ids[i]] = true
	}

	// UUIDv7 ids generated in sequence sort by creation order.
	assert.True(t, sort.StringsAreSorted(ids))
}
