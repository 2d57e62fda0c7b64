// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"sync"
	"time"

	"github.com/absmach/steed/protocol"
	"github.com/absmach/steed/queue/types"
)

// AckState is the acknowledgement status of a tracked delivery.
type AckState int

const (
	AckPending AckState = iota
	AckReceived
	AckFailed
	AckTimeout
)

// Delivery is one tracked attempt to hand a message to a consumer.
type Delivery struct {
	Message  *types.Message
	Receiver protocol.Peer
	Deadline time.Time
	Ack      AckState

	timer *time.Timer
}

// NewDelivery creates a pending delivery. A zero deadline disables the
// timeout timer.
func NewDelivery(m *types.Message, receiver protocol.Peer, deadline time.Time) *Delivery {
	return &Delivery{
		Message:  m,
		Receiver: receiver,
		Deadline: deadline,
	}
}

type trackKey struct {
	client  string
	message string
}

// Tracker holds in-flight deliveries awaiting acknowledgement, keyed by
// (receiver, message id). Deliveries with a deadline arm a cancellable timer;
// when it fires while the delivery is still pending, the delivery is removed,
// marked AckTimeout and handed to the timeout callback.
type Tracker struct {
	mu        sync.Mutex
	entries   map[trackKey][]*Delivery
	onTimeout func(*Delivery)
	destroyed bool
}

// NewTracker creates a tracker. onTimeout runs on the timer goroutine and
// must not call back into the tracker under the caller's queue lock.
func NewTracker(onTimeout func(*Delivery)) *Tracker {
	return &Tracker{
		entries:   make(map[trackKey][]*Delivery),
		onTimeout: onTimeout,
	}
}

// Track inserts a delivery and arms its deadline timer if one is set.
func (t *Tracker) Track(d *Delivery) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.destroyed {
		return
	}

	key := trackKey{client: d.Receiver.ID(), message: d.Message.Message.ID}
	t.entries[key] = append(t.entries[key], d)

	if !d.Deadline.IsZero() {
		d.timer = time.AfterFunc(time.Until(d.Deadline), func() {
			t.expire(d)
		})
	}
}

// expire fires when a delivery deadline passes. The delivery may already have
// been acknowledged and removed; in that case this is a no-op.
func (t *Tracker) expire(d *Delivery) {
	t.mu.Lock()
	if t.destroyed || d.Ack != AckPending {
		t.mu.Unlock()
		return
	}

	key := trackKey{client: d.Receiver.ID(), message: d.Message.Message.ID}
	if !t.removeEntry(key, d) {
		t.mu.Unlock()
		return
	}
	d.Ack = AckTimeout
	t.mu.Unlock()

	if t.onTimeout != nil {
		t.onTimeout(d)
	}
}

// FindAndRemove removes and returns the oldest delivery for the given
// receiver and message id, or nil. The entry's timer is cancelled.
//
// An ack can legitimately arrive a few milliseconds before Track has run for
// its delivery; the acknowledge pipeline retries this lookup with short
// backoffs rather than treating a miss as fatal.
func (t *Tracker) FindAndRemove(clientID, messageID string) *Delivery {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := trackKey{client: clientID, message: messageID}
	list, ok := t.entries[key]
	if !ok || len(list) == 0 {
		return nil
	}

	d := list[0]
	if len(list) == 1 {
		delete(t.entries, key)
	} else {
		t.entries[key] = list[1:]
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	return d
}

// removeEntry drops one specific delivery from a key's list. Caller holds the
// lock.
func (t *Tracker) removeEntry(key trackKey, d *Delivery) bool {
	list, ok := t.entries[key]
	if !ok {
		return false
	}
	for i, e := range list {
		if e == d {
			if len(list) == 1 {
				delete(t.entries, key)
			} else {
				t.entries[key] = append(list[:i], list[i+1:]...)
			}
			return true
		}
	}
	return false
}

// PendingCount returns the number of deliveries still awaiting ack.
func (t *Tracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, list := range t.entries {
		n += len(list)
	}
	return n
}

// Destroy cancels every timer and clears the tracker. Further Track calls are
// ignored.
func (t *Tracker) Destroy() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, list := range t.entries {
		for _, d := range list {
			if d.timer != nil {
				d.timer.Stop()
			}
		}
	}
	t.entries = make(map[trackKey][]*Delivery)
	t.destroyed = true
}
