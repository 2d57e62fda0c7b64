// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"sync"
	"time"

	"github.com/absmach/steed/protocol"
	"github.com/absmach/steed/queue/types"
)

// Client is a queue's view of one subscribed peer. There is at most one
// Client per (queue, peer) pair. The processing slot tracks the delivery the
// consumer is currently working on; a consumer with a live slot is skipped by
// round-robin until it acks or its deadline passes.
type Client struct {
	queue    *Queue
	peer     protocol.Peer
	JoinedAt time.Time

	mu              sync.Mutex
	processing      *types.Message
	processDeadline time.Time
}

func newClient(q *Queue, peer protocol.Peer) *Client {
	return &Client{
		queue:    q,
		peer:     peer,
		JoinedAt: time.Now(),
	}
}

// Peer returns the underlying connection.
func (c *Client) Peer() protocol.Peer {
	return c.peer
}

// Queue returns the owning queue.
func (c *Client) Queue() *Queue {
	return c.queue
}

// SetProcessing marks the consumer busy with a delivery until deadline.
func (c *Client) SetProcessing(m *types.Message, deadline time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processing = m
	c.processDeadline = deadline
}

// ClearProcessing frees the consumer slot if it still holds the message with
// the given id. An empty id clears unconditionally.
func (c *Client) ClearProcessing(messageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if messageID == "" || (c.processing != nil && c.processing.Message.ID == messageID) {
		c.processing = nil
		c.processDeadline = time.Time{}
	}
}

// Processing returns the current delivery, or nil.
func (c *Client) Processing() *types.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processing
}

// Available reports whether the consumer can take a new delivery at now.
func (c *Client) Available(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processing == nil || c.processDeadline.Before(now)
}
