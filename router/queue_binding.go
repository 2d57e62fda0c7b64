// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"context"
	"log/slog"

	"github.com/absmach/steed/protocol"
	"github.com/absmach/steed/queue"
	"github.com/absmach/steed/queue/types"
)

// QueueBinding pushes routed messages into a target queue, creating it on
// first use.
type QueueBinding struct {
	bindingBase
	queues *queue.Manager
	logger *slog.Logger
}

// NewQueueBinding creates a queue binding.
func NewQueueBinding(def Definition, deps Deps) *QueueBinding {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueBinding{
		bindingBase: newBindingBase(def),
		queues:      deps.Queues,
		logger:      logger,
	}
}

func newQueueBindingFromDef(def Definition, deps Deps) (Binding, error) {
	return NewQueueBinding(def, deps), nil
}

func (b *QueueBinding) Tag() string {
	return TagQueue
}

func (b *QueueBinding) Definition() Definition {
	return b.definition(TagQueue)
}

// Send pushes the message into the target queue.
func (b *QueueBinding) Send(ctx context.Context, sender protocol.Peer, m *protocol.Message) bool {
	q, err := b.queues.FindOrCreate(ctx, b.target)
	if err != nil {
		b.logger.Warn("queue binding target unavailable",
			slog.String("binding", b.name), slog.String("target", b.target), slog.Any("error", err))
		return false
	}

	m.Kind = protocol.KindQueueMessage
	m.Target = q.Name()
	b.retarget(m)

	env := types.NewMessage(m)
	env.Source = sender
	return q.Push(ctx, env) == protocol.ResultSuccess
}
