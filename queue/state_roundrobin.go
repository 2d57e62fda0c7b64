// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"sync"
	"time"

	"github.com/absmach/steed/protocol"
	"github.com/absmach/steed/queue/delivery"
	"github.com/absmach/steed/queue/types"
)

const (
	// rrRetrySleep is how long the round-robin state waits before
	// re-sampling the client set when no consumer is eligible.
	rrRetrySleep = 3 * time.Millisecond

	// rrRetryWindow bounds the eligibility wait for a single message.
	rrRetryWindow = 30 * time.Second
)

// roundRobinState delivers each message to exactly one consumer, rotating a
// cursor over the client set in registration order.
type roundRobinState struct {
	queue *Queue

	mu        sync.Mutex
	lastIndex int
}

func (s *roundRobinState) TriggerSupported() bool {
	return true
}

func (s *roundRobinState) Push(ctx context.Context, m *types.Message) PushOutcome {
	q := s.queue

	started := time.Now()
	var c *Client
	for {
		c = s.nextEligible(m)
		if c != nil {
			break
		}
		if q.ClientCount() == 0 || q.Status() == types.StatusDestroyed {
			q.store.Put(m)
			return PushNoConsumers
		}
		if time.Since(started) > rrRetryWindow {
			q.store.Put(m)
			return PushNoConsumers
		}
		time.Sleep(rrRetrySleep)
	}

	opts := q.Options()
	tracked := opts.Acknowledge != types.AckNone
	deadline := time.Now().Add(opts.AckTimeout)
	if tracked {
		c.SetProcessing(m, deadline)
	}

	if !q.ApplyDecision(ctx, q.handler.BeginSend(q, m), m, nil, 0) {
		if tracked {
			c.ClearProcessing(m.Message.ID)
		}
		return PushOK
	}

	if tracked {
		trackDeadline := time.Time{}
		if opts.AckTimeout > 0 {
			trackDeadline = deadline
		}
		q.tracker.Track(delivery.NewDelivery(m, c.peer, trackDeadline))
	}

	if err := c.peer.Send(m.Message); err != nil {
		if tracked {
			c.ClearProcessing(m.Message.ID)
			q.tracker.FindAndRemove(c.peer.ID(), m.Message.ID)
		}
		q.ApplyDecision(ctx, q.handler.ConsumerReceiveFailed(q, m, c), m, nil, 0)
		if !m.IsInQueue && !m.IsRemoved {
			q.store.Put(m)
		}
		return PushOK
	}

	m.MarkSent()
	m.AddReceiver(c.peer)
	q.metrics.Delivered(q.name)

	q.ApplyDecision(ctx, q.handler.EndSend(q, m), m, nil, 0)
	return PushOK
}

// nextEligible advances the cursor over a fresh snapshot of the client set
// and returns the first consumer able to take the message, or nil after one
// full sweep.
func (s *roundRobinState) nextEligible(m *types.Message) *Client {
	q := s.queue
	clients := q.ClientsSnapshot()
	n := len(clients)
	if n == 0 {
		return nil
	}

	ackOff := q.Options().Acknowledge == types.AckNone
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := 1; i <= n; i++ {
		idx := (s.lastIndex + i) % n
		c := clients[idx]
		if !c.peer.IsConnected() {
			continue
		}
		if !ackOff && !c.Available(now) {
			continue
		}
		if !q.handler.CanConsumerReceive(q, m, c) {
			continue
		}
		s.lastIndex = idx
		return c
	}
	return nil
}

func (s *roundRobinState) Pull(_ context.Context, _ *Client, _ *protocol.Message) ([]*types.Message, error) {
	return nil, ErrPullNotSupported
}

func (s *roundRobinState) OnEnter(_ types.Status) Verdict {
	return VerdictAllowAndTrigger
}

func (s *roundRobinState) OnLeave(_ types.Status) Verdict {
	return VerdictAllow
}
