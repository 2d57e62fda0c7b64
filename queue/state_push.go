// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"

	"github.com/absmach/steed/protocol"
	"github.com/absmach/steed/queue/types"
)

// pushState broadcasts every message to all connected subscribers in
// registration order. There is no per-consumer ack tracking; the delivery
// handler's EndSend decision controls whether the message is kept.
type pushState struct {
	queue *Queue
}

func (s *pushState) TriggerSupported() bool {
	return true
}

func (s *pushState) Push(ctx context.Context, m *types.Message) PushOutcome {
	q := s.queue
	clients := q.ClientsSnapshot()
	if len(clients) == 0 {
		q.store.Put(m)
		return PushNoConsumers
	}

	if !q.ApplyDecision(ctx, q.handler.BeginSend(q, m), m, nil, 0) {
		return PushOK
	}

	sent := 0
	for _, c := range clients {
		if !c.peer.IsConnected() {
			continue
		}
		if !q.handler.CanConsumerReceive(q, m, c) {
			continue
		}
		if err := c.peer.Send(m.Message); err != nil {
			q.ApplyDecision(ctx, q.handler.ConsumerReceiveFailed(q, m, c), m, nil, 0)
			continue
		}
		m.AddReceiver(c.peer)
		q.metrics.Delivered(q.name)
		sent++
	}

	if sent == 0 {
		q.store.Put(m)
		return PushNoConsumers
	}

	m.MarkSent()
	q.ApplyDecision(ctx, q.handler.EndSend(q, m), m, nil, 0)
	return PushOK
}

func (s *pushState) Pull(_ context.Context, _ *Client, _ *protocol.Message) ([]*types.Message, error) {
	return nil, ErrPullNotSupported
}

func (s *pushState) OnEnter(_ types.Status) Verdict {
	return VerdictAllowAndTrigger
}

func (s *pushState) OnLeave(_ types.Status) Verdict {
	return VerdictAllow
}
