// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestClientLimiter_AllowWithinBurst(t *testing.T) {
	l := NewClientLimiter(10, 5, time.Minute)
	defer l.Stop()

	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow("c-1"), "publish %d within burst", i)
	}
	assert.False(t, l.Allow("c-1"))
}

func TestClientLimiter_PerClientIsolation(t *testing.T) {
	l := NewClientLimiter(1, 1, time.Minute)
	defer l.Stop()

	assert.True(t, l.Allow("c-1"))
	assert.False(t, l.Allow("c-1"))
	assert.True(t, l.Allow("c-2"))
}

func TestClientLimiter_Refill(t *testing.T) {
	l := NewClientLimiter(100, 1, time.Minute)
	defer l.Stop()

	assert.True(t, l.Allow("c-1"))
	assert.False(t, l.Allow("c-1"))

	time.Sleep(20 * time.Millisecond)
	assert.True(t, l.Allow("c-1"))
}

func TestClientLimiter_Forget(t *testing.T) {
	l := NewClientLimiter(1, 1, time.Minute)
	defer l.Stop()

	assert.True(t, l.Allow("c-1"))
	assert.False(t, l.Allow("c-1"))

	l.Forget("c-1")
	assert.True(t, l.Allow("c-1"))
}
