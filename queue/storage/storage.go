// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package storage

import "github.com/absmach/steed/queue/types"

// MessageStore holds a queue's waiting messages in two FIFO sequences, one
// for high-priority and one for regular messages. All mutating operations are
// linearisable under a single store lock. High-priority messages always
// precede regular ones on retrieval; order within a class is FIFO.
type MessageStore interface {
	// Put appends a message to the tail of its class, chosen by the frame's
	// HighPriority flag.
	Put(m *types.Message)

	// PutHead inserts a message at the head of its class. Used by put-back.
	PutHead(m *types.Message)

	// GetNext returns the next message, preferring the priority sequence.
	// With fromEnd the tail of the chosen sequence is returned instead. When
	// remove is set the message is dequeued.
	GetNext(remove, fromEnd bool) *types.Message

	// GetPriorityNext returns the next priority message only.
	GetPriorityNext(remove bool) *types.Message

	// GetRegularNext returns the next regular message only.
	GetRegularNext(remove bool) *types.Message

	// FindAndRemove removes and returns the first message matching pred,
	// scanning priority then regular.
	FindAndRemove(pred func(*types.Message) bool) *types.Message

	// FindAll returns every message matching pred without mutating.
	FindAll(pred func(*types.Message) bool) []*types.Message

	CountAll() int
	CountPriority() int
	CountRegular() int

	ClearPriority()
	ClearRegular()
	ClearAll()

	// UnsafePriority and UnsafeRegular return the live backing slices without
	// copying. Callers must not mutate them and must tolerate racing with
	// concurrent store operations.
	UnsafePriority() []*types.Message
	UnsafeRegular() []*types.Message

	// MessageIDs returns an ordered id snapshot of one class.
	MessageIDs(priority bool) []string
}
