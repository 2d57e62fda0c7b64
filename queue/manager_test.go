// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"testing"

	"github.com/absmach/steed/protocol"
	"github.com/absmach/steed/queue/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_CreateAndGet(t *testing.T) {
	mgr := newTestManager(types.DefaultOptions())
	defer mgr.Close()

	q, err := mgr.Create(context.Background(), "Orders", nil)
	require.NoError(t, err)
	assert.Equal(t, "Orders", q.Name())

	// Lookup is case-insensitive.
	got, ok := mgr.Get("orders")
	require.True(t, ok)
	assert.Same(t, q, got)

	_, err = mgr.Create(context.Background(), "ORDERS", nil)
	assert.ErrorIs(t, err, ErrQueueExists)
}

func TestManager_CreateInvalidName(t *testing.T) {
	mgr := newTestManager(types.DefaultOptions())
	defer mgr.Close()

	for _, bad := range []string{"", "a b", "a*b", "a;b"} {
		_, err := mgr.Create(context.Background(), bad, nil)
		assert.ErrorIs(t, err, protocol.ErrInvalidName)
	}
}

func TestManager_FindOrCreate(t *testing.T) {
	mgr := newTestManager(types.DefaultOptions())
	defer mgr.Close()

	q1, err := mgr.FindOrCreate(context.Background(), "orders")
	require.NoError(t, err)
	q2, err := mgr.FindOrCreate(context.Background(), "orders")
	require.NoError(t, err)
	assert.Same(t, q1, q2)
	assert.Equal(t, 1, mgr.Count())
}

func TestManager_Remove(t *testing.T) {
	mgr := newTestManager(types.DefaultOptions())
	defer mgr.Close()

	q, err := mgr.Create(context.Background(), "orders", nil)
	require.NoError(t, err)
	require.NoError(t, q.Initialize(nil))

	assert.True(t, mgr.Remove(context.Background(), "ORDERS"))
	assert.Equal(t, types.StatusDestroyed, q.Status())
	assert.False(t, mgr.Remove(context.Background(), "orders"))
}

func TestManager_ListFilter(t *testing.T) {
	mgr := newTestManager(types.DefaultOptions())
	defer mgr.Close()

	for _, name := range []string{"push-a", "push-a-cc", "pull-b"} {
		_, err := mgr.Create(context.Background(), name, nil)
		require.NoError(t, err)
	}

	all := mgr.List("")
	require.Len(t, all, 3)
	assert.Equal(t, "pull-b", all[0].Name())

	pushes := mgr.List("push-*")
	require.Len(t, pushes, 2)
	assert.Equal(t, "push-a", pushes[0].Name())
	assert.Equal(t, "push-a-cc", pushes[1].Name())
}

func TestManager_MutationHook(t *testing.T) {
	calls := 0
	mgr := NewManager(ManagerConfig{
		DefaultOptions: types.DefaultOptions(),
		OnMutation:     func() { calls++ },
	})
	defer mgr.Close()

	_, err := mgr.Create(context.Background(), "orders", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	mgr.Remove(context.Background(), "orders")
	assert.Equal(t, 2, calls)
}

func TestManager_UnknownHandler(t *testing.T) {
	opts := types.DefaultOptions()
	opts.HandlerName = "NoSuchHandler"

	mgr := newTestManager(opts)
	defer mgr.Close()

	q, err := mgr.Create(context.Background(), "orders", nil)
	require.NoError(t, err)
	assert.ErrorIs(t, q.Initialize(nil), ErrUnknownHandler)
	assert.Equal(t, types.StatusNotInitialized, q.Status())
}
