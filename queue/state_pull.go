// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/absmach/steed/protocol"
	"github.com/absmach/steed/queue/delivery"
	"github.com/absmach/steed/queue/types"
)

// ErrPullNotSupported is returned for pull requests against push-style
// queues.
var ErrPullNotSupported = errors.New("queue type does not support pull")

// pullState keeps messages in the store until a consumer asks for them. A
// pull request names a batch size, an order and an optional clear directive;
// the matching messages are streamed back to the requester.
type pullState struct {
	queue *Queue
}

func (s *pullState) TriggerSupported() bool {
	return false
}

func (s *pullState) Push(_ context.Context, _ *types.Message) PushOutcome {
	// Pull queues are drained by consumer request only; the store already
	// holds the message.
	return PushOK
}

func (s *pullState) Pull(ctx context.Context, c *Client, req *protocol.Message) ([]*types.Message, error) {
	q := s.queue

	count := 1
	if v, ok := req.GetHeader(protocol.HeaderCount); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			count = n
		}
	}
	fromEnd := false
	if v, ok := req.GetHeader(protocol.HeaderOrder); ok {
		fromEnd = strings.EqualFold(v, "LIFO")
	}

	opts := q.Options()
	tracked := opts.Acknowledge != types.AckNone

	var served []*types.Message
	for len(served) < count {
		m := q.store.GetNext(true, fromEnd)
		if m == nil {
			break
		}

		if !q.ApplyDecision(ctx, q.handler.BeginSend(q, m), m, nil, 0) {
			break
		}

		if tracked {
			trackDeadline := time.Time{}
			if opts.AckTimeout > 0 {
				trackDeadline = time.Now().Add(opts.AckTimeout)
			}
			q.tracker.Track(delivery.NewDelivery(m, c.peer, trackDeadline))
		}

		if err := c.peer.Send(m.Message); err != nil {
			if tracked {
				q.tracker.FindAndRemove(c.peer.ID(), m.Message.ID)
			}
			q.ApplyDecision(ctx, q.handler.ConsumerReceiveFailed(q, m, c), m, nil, 0)
			if !m.IsInQueue && !m.IsRemoved {
				q.store.Put(m)
			}
			return served, err
		}

		m.MarkSent()
		m.AddReceiver(c.peer)
		q.metrics.Delivered(q.name)
		q.ApplyDecision(ctx, q.handler.EndSend(q, m), m, nil, 0)
		served = append(served, m)
	}

	if v, ok := req.GetHeader(protocol.HeaderClearAfter); ok {
		switch strings.ToLower(v) {
		case "all":
			q.store.ClearAll()
		case "priority":
			q.store.ClearPriority()
		case "regular":
			q.store.ClearRegular()
		}
	}

	return served, nil
}

func (s *pullState) OnEnter(_ types.Status) Verdict {
	return VerdictAllow
}

func (s *pullState) OnLeave(_ types.Status) Verdict {
	return VerdictAllow
}
