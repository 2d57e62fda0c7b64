// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"

	"github.com/absmach/steed/protocol"
	"github.com/absmach/steed/queue/types"
)

// PushOutcome is the result of dispatching one message through a state.
type PushOutcome int

const (
	PushOK PushOutcome = iota
	PushNoConsumers
	PushError
)

// Verdict is a state's answer to a status transition.
type Verdict int

const (
	VerdictAllow Verdict = iota
	VerdictAllowAndTrigger
	VerdictDenyAndStay
)

// State is a queue dispatch strategy. The queue owns exactly one state at a
// time; swaps and status transitions go through Queue.SetStatus and
// Queue.UpdateOptions so that OnLeave of the outgoing state runs before OnEnter of
// the incoming one.
type State interface {
	// TriggerSupported reports whether the drain loop feeds this state.
	TriggerSupported() bool

	// Push dispatches a message taken from the store to consumers.
	Push(ctx context.Context, m *types.Message) PushOutcome

	// Pull serves an on-demand consume request.
	Pull(ctx context.Context, c *Client, req *protocol.Message) ([]*types.Message, error)

	// OnEnter runs after the queue transitions into a status.
	OnEnter(prev types.Status) Verdict

	// OnLeave runs before the queue transitions out of a status. Returning
	// VerdictDenyAndStay vetoes the transition.
	OnLeave(next types.Status) Verdict
}

func newState(q *Queue, t types.QueueType) State {
	switch t {
	case types.TypeRoundRobin:
		return &roundRobinState{queue: q, lastIndex: -1}
	case types.TypePull:
		return &pullState{queue: q}
	default:
		return &pushState{queue: q}
	}
}
