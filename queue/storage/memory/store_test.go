// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/absmach/steed/protocol"
	"github.com/absmach/steed/queue/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msg(id string, priority bool) *types.Message {
	m := protocol.NewMessage(protocol.KindQueueMessage, "q", nil)
	m.ID = id
	m.HighPriority = priority
	return types.NewMessage(m)
}

func TestStore_FIFOWithinClass(t *testing.T) {
	s := New()
	s.Put(msg("r1", false))
	s.Put(msg("r2", false))
	s.Put(msg("r3", false))

	assert.Equal(t, "r1", s.GetNext(true, false).Message.ID)
	assert.Equal(t, "r2", s.GetNext(true, false).Message.ID)
	assert.Equal(t, "r3", s.GetNext(true, false).Message.ID)
	assert.Nil(t, s.GetNext(true, false))
}

func TestStore_PriorityPrecedesRegular(t *testing.T) {
	s := New()
	s.Put(msg("r1", false))
	s.Put(msg("p1", true))
	s.Put(msg("r2", false))
	s.Put(msg("p2", true))

	var got []string
	for m := s.GetNext(true, false); m != nil; m = s.GetNext(true, false) {
		got = append(got, m.Message.ID)
	}
	assert.Equal(t, []string{"p1", "p2", "r1", "r2"}, got)
}

// The multiset taken out equals the multiset put in, priority first, FIFO
// within class, for any interleaving of puts and takes.
func TestStore_MultisetProperty(t *testing.T) {
	s := New()
	rng := rand.New(rand.NewSource(7))

	put := make(map[string]int)
	taken := make(map[string]int)
	n := 0

	for i := 0; i < 500; i++ {
		if rng.Intn(2) == 0 || s.CountAll() == 0 {
			id := fmt.Sprintf("m-%d", n)
			n++
			s.Put(msg(id, rng.Intn(3) == 0))
			put[id]++
		} else {
			m := s.GetNext(true, false)
			require.NotNil(t, m)
			taken[m.Message.ID]++
		}
	}
	for m := s.GetNext(true, false); m != nil; m = s.GetNext(true, false) {
		taken[m.Message.ID]++
	}

	assert.Equal(t, put, taken)
	assert.Equal(t, 0, s.CountAll())
}

func TestStore_GetNextPeek(t *testing.T) {
	s := New()
	s.Put(msg("r1", false))

	m := s.GetNext(false, false)
	require.NotNil(t, m)
	assert.Equal(t, "r1", m.Message.ID)
	assert.Equal(t, 1, s.CountAll())
	assert.True(t, m.IsInQueue)
}

func TestStore_GetNextFromEnd(t *testing.T) {
	s := New()
	s.Put(msg("r1", false))
	s.Put(msg("r2", false))

	assert.Equal(t, "r2", s.GetNext(true, true).Message.ID)
	assert.Equal(t, "r1", s.GetNext(true, true).Message.ID)
}

func TestStore_PutHead(t *testing.T) {
	s := New()
	s.Put(msg("r1", false))
	s.Put(msg("r2", false))
	s.PutHead(msg("r0", false))

	assert.Equal(t, "r0", s.GetNext(true, false).Message.ID)
	assert.Equal(t, "r1", s.GetNext(true, false).Message.ID)
}

func TestStore_ClassRestrictedNext(t *testing.T) {
	s := New()
	s.Put(msg("p1", true))
	s.Put(msg("r1", false))

	assert.Equal(t, "r1", s.GetRegularNext(false).Message.ID)
	assert.Equal(t, "p1", s.GetPriorityNext(true).Message.ID)
	assert.Nil(t, s.GetPriorityNext(true))
}

func TestStore_FindAndRemove(t *testing.T) {
	s := New()
	s.Put(msg("r1", false))
	s.Put(msg("r2", false))
	s.Put(msg("p1", true))

	m := s.FindAndRemove(func(m *types.Message) bool { return m.Message.ID == "r2" })
	require.NotNil(t, m)
	assert.Equal(t, "r2", m.Message.ID)
	assert.False(t, m.IsInQueue)
	assert.Equal(t, 2, s.CountAll())

	assert.Nil(t, s.FindAndRemove(func(m *types.Message) bool { return m.Message.ID == "gone" }))
}

func TestStore_FindAll(t *testing.T) {
	s := New()
	s.Put(msg("r1", false))
	s.Put(msg("p1", true))
	s.Put(msg("r2", false))

	all := s.FindAll(func(*types.Message) bool { return true })
	assert.Len(t, all, 3)
	assert.Equal(t, 3, s.CountAll())
}

func TestStore_Counts(t *testing.T) {
	s := New()
	s.Put(msg("p1", true))
	s.Put(msg("r1", false))
	s.Put(msg("r2", false))

	assert.Equal(t, 3, s.CountAll())
	assert.Equal(t, 1, s.CountPriority())
	assert.Equal(t, 2, s.CountRegular())
}

func TestStore_Clear(t *testing.T) {
	s := New()
	s.Put(msg("p1", true))
	s.Put(msg("r1", false))

	s.ClearPriority()
	assert.Equal(t, 0, s.CountPriority())
	assert.Equal(t, 1, s.CountRegular())

	s.Put(msg("p2", true))
	s.ClearRegular()
	assert.Equal(t, 1, s.CountAll())

	s.ClearAll()
	assert.Equal(t, 0, s.CountAll())
}

func TestStore_MessageIDs(t *testing.T) {
	s := New()
	s.Put(msg("r1", false))
	s.Put(msg("r2", false))
	s.Put(msg("p1", true))

	assert.Equal(t, []string{"r1", "r2"}, s.MessageIDs(false))
	assert.Equal(t, []string{"p1"}, s.MessageIDs(true))
}

func TestStore_ConcurrentPutTake(t *testing.T) {
	s := New()
	const producers = 8
	const perProducer = 200

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				s.Put(msg(fmt.Sprintf("m-%d-%d", p, i), i%2 == 0))
			}
		}(p)
	}

	var mu sync.Mutex
	taken := 0
	for c := 0; c < 4; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				m := s.GetNext(true, false)
				if m == nil {
					mu.Lock()
					done := taken
					mu.Unlock()
					if done >= producers*perProducer {
						return
					}
					continue
				}
				mu.Lock()
				taken++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, producers*perProducer, taken)
	assert.Equal(t, 0, s.CountAll())
}
