// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"sync"

	"github.com/absmach/steed/queue/types"
)

// Store is the in-memory message store: two mutex-guarded FIFO slices, one
// per priority class.
type Store struct {
	mu       sync.Mutex
	priority []*types.Message
	regular  []*types.Message
}

// New creates an empty store.
func New() *Store {
	return &Store{}
}

// Put appends a message to the tail of its class.
func (s *Store) Put(m *types.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m.MarkInQueue()
	if m.Message.HighPriority {
		s.priority = append(s.priority, m)
	} else {
		s.regular = append(s.regular, m)
	}
}

// PutHead inserts a message at the head of its class.
func (s *Store) PutHead(m *types.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m.MarkInQueue()
	if m.Message.HighPriority {
		s.priority = append([]*types.Message{m}, s.priority...)
	} else {
		s.regular = append([]*types.Message{m}, s.regular...)
	}
}

// GetNext returns the next message, priority first.
func (s *Store) GetNext(remove, fromEnd bool) *types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m := s.take(&s.priority, remove, fromEnd); m != nil {
		return m
	}
	return s.take(&s.regular, remove, fromEnd)
}

// GetPriorityNext returns the next priority message.
func (s *Store) GetPriorityNext(remove bool) *types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.take(&s.priority, remove, false)
}

// GetRegularNext returns the next regular message.
func (s *Store) GetRegularNext(remove bool) *types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.take(&s.regular, remove, false)
}

// take pops or peeks one end of a sequence. Caller holds the lock.
func (s *Store) take(seq *[]*types.Message, remove, fromEnd bool) *types.Message {
	q := *seq
	if len(q) == 0 {
		return nil
	}

	idx := 0
	if fromEnd {
		idx = len(q) - 1
	}
	m := q[idx]
	if remove {
		if fromEnd {
			*seq = q[:idx]
		} else {
			*seq = q[1:]
		}
		m.IsInQueue = false
	}
	return m
}

// FindAndRemove removes and returns the first match, priority sequence first.
func (s *Store) FindAndRemove(pred func(*types.Message) bool) *types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m := removeFirst(&s.priority, pred); m != nil {
		return m
	}
	return removeFirst(&s.regular, pred)
}

func removeFirst(seq *[]*types.Message, pred func(*types.Message) bool) *types.Message {
	for i, m := range *seq {
		if pred(m) {
			*seq = append((*seq)[:i], (*seq)[i+1:]...)
			m.IsInQueue = false
			return m
		}
	}
	return nil
}

// FindAll returns every match without removing.
func (s *Store) FindAll(pred func(*types.Message) bool) []*types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*types.Message
	for _, m := range s.priority {
		if pred(m) {
			out = append(out, m)
		}
	}
	for _, m := range s.regular {
		if pred(m) {
			out = append(out, m)
		}
	}
	return out
}

// CountAll returns the total number of stored messages.
func (s *Store) CountAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.priority) + len(s.regular)
}

// CountPriority returns the number of priority messages.
func (s *Store) CountPriority() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.priority)
}

// CountRegular returns the number of regular messages.
func (s *Store) CountRegular() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.regular)
}

// ClearPriority drops all priority messages.
func (s *Store) ClearPriority() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.priority = nil
}

// ClearRegular drops all regular messages.
func (s *Store) ClearRegular() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regular = nil
}

// ClearAll drops everything.
func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.priority = nil
	s.regular = nil
}

// UnsafePriority returns the live priority slice without locking or copying.
func (s *Store) UnsafePriority() []*types.Message {
	return s.priority
}

// UnsafeRegular returns the live regular slice without locking or copying.
func (s *Store) UnsafeRegular() []*types.Message {
	return s.regular
}

// MessageIDs returns an ordered id snapshot of one class.
func (s *Store) MessageIDs(priority bool) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.regular
	if priority {
		src = s.priority
	}
	ids := make([]string, 0, len(src))
	for _, m := range src {
		ids = append(ids, m.Message.ID)
	}
	return ids
}
