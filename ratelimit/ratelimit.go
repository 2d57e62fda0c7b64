// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ClientLimiter rate-limits message publishes per client id. Entries for
// idle clients are dropped by a background cleanup loop.
type ClientLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*clientEntry
	rate     rate.Limit
	burst    int
	cleanup  time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

type clientEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewClientLimiter creates a limiter allowing r publishes per second with the
// given burst per client.
func NewClientLimiter(r float64, burst int, cleanupInterval time.Duration) *ClientLimiter {
	l := &ClientLimiter{
		limiters: make(map[string]*clientEntry),
		rate:     rate.Limit(r),
		burst:    burst,
		cleanup:  cleanupInterval,
		stopCh:   make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow checks whether a publish from the given client is within its rate.
func (l *ClientLimiter) Allow(clientID string) bool {
	l.mu.Lock()
	entry, exists := l.limiters[clientID]
	if !exists {
		entry = &clientEntry{
			limiter:  rate.NewLimiter(l.rate, l.burst),
			lastSeen: time.Now(),
		}
		l.limiters[clientID] = entry
	} else {
		entry.lastSeen = time.Now()
	}
	limiter := entry.limiter
	l.mu.Unlock()

	return limiter.Allow()
}

// Forget drops a client's limiter state, typically on disconnect.
func (l *ClientLimiter) Forget(clientID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, clientID)
}

// Stop terminates the cleanup loop.
func (l *ClientLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

func (l *ClientLimiter) cleanupLoop() {
	interval := l.cleanup
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-3 * interval)
			l.mu.Lock()
			for id, entry := range l.limiters {
				if entry.lastSeen.Before(cutoff) {
					delete(l.limiters, id)
				}
			}
			l.mu.Unlock()
		}
	}
}
