// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/absmach/steed/protocol"
	"github.com/absmach/steed/queue"
	"github.com/absmach/steed/queue/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testPeer is an in-memory protocol.Peer capturing delivered frames.
type testPeer struct {
	id       string
	name     string
	peerType string

	mu        sync.Mutex
	connected bool
	received  []*protocol.Message
}

func newTestPeer(id string) *testPeer {
	return &testPeer{id: id, name: id, peerType: "test", connected: true}
}

func (p *testPeer) ID() string   { return p.id }
func (p *testPeer) Name() string { return p.name }
func (p *testPeer) Type() string { return p.peerType }

func (p *testPeer) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *testPeer) Send(m *protocol.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return errors.New("disconnected")
	}
	p.received = append(p.received, m)
	return nil
}

func (p *testPeer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.received)
}

// staticResolver resolves direct targets against a fixed peer set.
type staticResolver struct {
	mu    sync.Mutex
	peers []*testPeer
}

func (r *staticResolver) ClientByID(id string) (protocol.Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.peers {
		if p.id == id {
			return p, true
		}
	}
	return nil, false
}

func (r *staticResolver) ClientsByName(name string) []protocol.Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []protocol.Peer
	for _, p := range r.peers {
		if p.name == name {
			out = append(out, p)
		}
	}
	return out
}

func (r *staticResolver) ClientsByType(t string) []protocol.Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []protocol.Peer
	for _, p := range r.peers {
		if p.peerType == t {
			out = append(out, p)
		}
	}
	return out
}

func testDeps(resolver ClientResolver) Deps {
	return Deps{
		Queues:  queue.NewManager(queue.ManagerConfig{DefaultOptions: types.DefaultOptions()}),
		Clients: resolver,
	}
}

func publishText(t *testing.T, rt *Router, payload string) PublishResult {
	t.Helper()
	m := protocol.NewMessage(protocol.KindRouterMessage, rt.Name(), []byte(payload))
	return rt.Publish(context.Background(), nil, m)
}

func queueBinding(deps Deps, name, target string, priority int) Binding {
	return NewQueueBinding(Definition{
		Name:     name,
		Target:   target,
		Priority: priority,
	}, deps)
}

func directBinding(deps Deps, name, target string, priority int) Binding {
	return NewDirectBinding(Definition{
		Name:     name,
		Target:   target,
		Priority: priority,
	}, deps)
}

func TestRouter_BindingPriorityOrder(t *testing.T) {
	deps := testDeps(&staticResolver{})
	rt := New("r", MethodDistribute, nil)

	require.NoError(t, rt.AddBinding(queueBinding(deps, "b5", "q5", 5)))
	require.NoError(t, rt.AddBinding(queueBinding(deps, "b20", "q20", 20)))
	require.NoError(t, rt.AddBinding(queueBinding(deps, "b10a", "q10a", 10)))
	require.NoError(t, rt.AddBinding(queueBinding(deps, "b10b", "q10b", 10)))

	var names []string
	for _, b := range rt.Bindings() {
		names = append(names, b.Name())
	}
	assert.Equal(t, []string{"b20", "b10a", "b10b", "b5"}, names)
}

func TestRouter_DuplicateBindingName(t *testing.T) {
	deps := testDeps(&staticResolver{})
	rt := New("r", MethodDistribute, nil)

	require.NoError(t, rt.AddBinding(queueBinding(deps, "b", "q1", 0)))
	assert.ErrorIs(t, rt.AddBinding(queueBinding(deps, "B", "q2", 0)), ErrBindingExists)
}

func TestRouter_DisabledAndNoBindings(t *testing.T) {
	deps := testDeps(&staticResolver{})
	rt := New("r", MethodDistribute, nil)

	assert.Equal(t, PublishNoBindings, publishText(t, rt, "x"))

	require.NoError(t, rt.AddBinding(queueBinding(deps, "b", "q", 0)))
	rt.SetEnabled(false)
	assert.Equal(t, PublishDisabled, publishText(t, rt, "x"))
}

// Distribute: every binding receives every publish exactly once.
func TestRouter_Distribute(t *testing.T) {
	client1 := newTestPeer("client-1")
	client2 := newTestPeer("client-2")
	resolver := &staticResolver{peers: []*testPeer{client1, client2}}
	deps := testDeps(resolver)
	defer deps.Queues.Close()

	rt := New("R", MethodDistribute, nil)
	require.NoError(t, rt.AddBinding(queueBinding(deps, "q1", "push-a", 5)))
	require.NoError(t, rt.AddBinding(queueBinding(deps, "q2", "push-a-cc", 10)))
	require.NoError(t, rt.AddBinding(directBinding(deps, "d1", "client-1", 20)))
	require.NoError(t, rt.AddBinding(directBinding(deps, "d2", "client-2", 0)))

	for i := 0; i < 4; i++ {
		res := publishText(t, rt, "Hello, World!")
		assert.Equal(t, PublishOKNoResponse, res)
	}

	qa, ok := deps.Queues.Get("push-a")
	require.True(t, ok)
	qcc, ok := deps.Queues.Get("push-a-cc")
	require.True(t, ok)

	assert.Equal(t, 4, qa.Store().CountAll())
	assert.Equal(t, 4, qcc.Store().CountAll())
	assert.Equal(t, 4, client1.count())
	assert.Equal(t, 4, client2.count())
}

// RoundRobin rotates over bindings in priority order, one per publish.
func TestRouter_RoundRobin(t *testing.T) {
	client1 := newTestPeer("client-1")
	client2 := newTestPeer("client-2")
	resolver := &staticResolver{peers: []*testPeer{client1, client2}}
	deps := testDeps(resolver)
	defer deps.Queues.Close()

	rt := New("R", MethodRoundRobin, nil)
	require.NoError(t, rt.AddBinding(queueBinding(deps, "q1", "push-a", 5)))
	require.NoError(t, rt.AddBinding(queueBinding(deps, "q2", "push-a-cc", 10)))
	require.NoError(t, rt.AddBinding(directBinding(deps, "d1", "client-1", 20)))
	require.NoError(t, rt.AddBinding(directBinding(deps, "d2", "client-2", 0)))

	for i := 0; i < 5; i++ {
		res := publishText(t, rt, "spin")
		assert.Equal(t, PublishOKNoResponse, res)
	}

	qa, ok := deps.Queues.Get("push-a")
	require.True(t, ok)
	qcc, ok := deps.Queues.Get("push-a-cc")
	require.True(t, ok)

	assert.Equal(t, 1, qa.Store().CountAll())
	assert.Equal(t, 1, qcc.Store().CountAll())
	assert.Equal(t, 2, client1.count())
	assert.Equal(t, 1, client2.count())
}

// OnlyFirst walks bindings by priority and stops at the first success.
func TestRouter_OnlyFirst(t *testing.T) {
	offline := newTestPeer("client-1")
	offline.mu.Lock()
	offline.connected = false
	offline.mu.Unlock()

	resolver := &staticResolver{peers: []*testPeer{offline}}
	deps := testDeps(resolver)
	defer deps.Queues.Close()

	rt := New("R", MethodOnlyFirst, nil)
	require.NoError(t, rt.AddBinding(directBinding(deps, "d1", "client-1", 2)))
	require.NoError(t, rt.AddBinding(queueBinding(deps, "q2", "push-a-cc", 10)))

	for i := 0; i < 4; i++ {
		res := publishText(t, rt, "fallback")
		assert.Equal(t, PublishOKNoResponse, res)
	}

	qcc, ok := deps.Queues.Get("push-a-cc")
	require.True(t, ok)
	assert.Equal(t, 4, qcc.Store().CountAll())
	assert.Equal(t, 0, offline.count())
}

func TestRouter_NoReceivers(t *testing.T) {
	resolver := &staticResolver{}
	deps := testDeps(resolver)
	defer deps.Queues.Close()

	rt := New("R", MethodDistribute, nil)
	require.NoError(t, rt.AddBinding(directBinding(deps, "d1", "nobody", 0)))

	assert.Equal(t, PublishNoReceivers, publishText(t, rt, "void"))
}

func TestRouter_ResponseInteractionSetsWaitResponse(t *testing.T) {
	client := newTestPeer("client-1")
	resolver := &staticResolver{peers: []*testPeer{client}}
	deps := testDeps(resolver)
	defer deps.Queues.Close()

	rt := New("R", MethodDistribute, nil)
	b := NewDirectBinding(Definition{
		Name:        "d1",
		Target:      "client-1",
		Interaction: "Response",
	}, deps)
	require.NoError(t, rt.AddBinding(b))

	res := publishText(t, rt, "ask")
	assert.Equal(t, PublishOKWillRespond, res)

	require.Equal(t, 1, client.count())
	client.mu.Lock()
	got := client.received[0]
	client.mu.Unlock()
	assert.True(t, got.WaitResponse)
	assert.Equal(t, protocol.KindDirectMessage, got.Kind)
}

func TestDirectBinding_Selectors(t *testing.T) {
	workers := []*testPeer{newTestPeer("w-1"), newTestPeer("w-2")}
	workers[0].name = "worker"
	workers[1].name = "worker"
	workers[0].peerType = "batch"
	workers[1].peerType = "batch"
	resolver := &staticResolver{peers: workers}
	deps := testDeps(resolver)
	defer deps.Queues.Close()

	byName := NewDirectBinding(Definition{Name: "bn", Target: "@name:worker", Method: "Distribute"}, deps)
	m := protocol.NewMessage(protocol.KindRouterMessage, "r", []byte("x"))
	assert.True(t, byName.Send(context.Background(), nil, m))
	assert.Equal(t, 1, workers[0].count())
	assert.Equal(t, 1, workers[1].count())

	byType := NewDirectBinding(Definition{Name: "bt", Target: "@type:batch", Method: "OnlyFirst"}, deps)
	m = protocol.NewMessage(protocol.KindRouterMessage, "r", []byte("x"))
	assert.True(t, byType.Send(context.Background(), nil, m))
	assert.Equal(t, 2, workers[0].count())
	assert.Equal(t, 1, workers[1].count())
}

func TestDirectBinding_RoundRobinReceivers(t *testing.T) {
	peers := []*testPeer{newTestPeer("w-1"), newTestPeer("w-2")}
	peers[0].peerType = "batch"
	peers[1].peerType = "batch"
	resolver := &staticResolver{peers: peers}
	deps := testDeps(resolver)
	defer deps.Queues.Close()

	b := NewDirectBinding(Definition{Name: "rr", Target: "@type:batch", Method: "RoundRobin"}, deps)
	for i := 0; i < 4; i++ {
		m := protocol.NewMessage(protocol.KindRouterMessage, "r", []byte("x"))
		require.True(t, b.Send(context.Background(), nil, m))
	}

	assert.Equal(t, 2, peers[0].count())
	assert.Equal(t, 2, peers[1].count())
}

func TestDirectBinding_CacheExpires(t *testing.T) {
	resolver := &staticResolver{}
	deps := testDeps(resolver)
	defer deps.Queues.Close()

	b := NewDirectBinding(Definition{Name: "d", Target: "@type:test"}, deps)

	m := protocol.NewMessage(protocol.KindRouterMessage, "r", []byte("x"))
	assert.False(t, b.Send(context.Background(), nil, m))

	// A peer arriving within the TTL is invisible until the cache expires or
	// is invalidated.
	late := newTestPeer("late")
	resolver.mu.Lock()
	resolver.peers = append(resolver.peers, late)
	resolver.mu.Unlock()

	assert.False(t, b.Send(context.Background(), nil, m.Clone()))

	b.invalidate()
	assert.True(t, b.Send(context.Background(), nil, m.Clone()))
	assert.Equal(t, 1, late.count())
}

func TestRegistry_CRUD(t *testing.T) {
	deps := testDeps(&staticResolver{})
	defer deps.Queues.Close()

	mutations := 0
	reg := NewRegistry(deps, nil, func() { mutations++ })

	rt, err := reg.Create("orders-router", MethodOnlyFirst)
	require.NoError(t, err)
	assert.Equal(t, 1, mutations)

	_, err = reg.Create("ORDERS-ROUTER", MethodDistribute)
	assert.ErrorIs(t, err, ErrRouterExists)

	got, ok := reg.Get("Orders-Router")
	require.True(t, ok)
	assert.Same(t, rt, got)

	require.NoError(t, reg.AddBinding("orders-router", Definition{
		Name: "b1", Type: TagQueue, Target: "push-a", Priority: 1,
	}))
	assert.Equal(t, 2, mutations)

	err = reg.AddBinding("orders-router", Definition{
		Name: "b2", Type: "mystery", Target: "x",
	})
	assert.ErrorIs(t, err, ErrUnknownBindingTag)

	require.NoError(t, reg.RemoveBinding("orders-router", "b1"))
	assert.ErrorIs(t, reg.RemoveBinding("orders-router", "b1"), ErrRouterNotFound)

	assert.True(t, reg.Remove("orders-router"))
	assert.False(t, reg.Remove("orders-router"))
}

func TestRegistry_ListFilter(t *testing.T) {
	deps := testDeps(&staticResolver{})
	defer deps.Queues.Close()
	reg := NewRegistry(deps, nil, nil)

	for _, name := range []string{"edge-a", "edge-b", "core"} {
		_, err := reg.Create(name, MethodDistribute)
		require.NoError(t, err)
	}

	assert.Len(t, reg.List(""), 3)
	edges := reg.List("edge-*")
	require.Len(t, edges, 2)
	assert.Equal(t, "edge-a", edges[0].Name())
}

func TestRouter_DistributeDeliversOncePerBinding(t *testing.T) {
	deps := testDeps(&staticResolver{})
	defer deps.Queues.Close()

	rt := New("R", MethodDistribute, nil)
	for i := 0; i < 3; i++ {
		require.NoError(t, rt.AddBinding(queueBinding(deps, fmt.Sprintf("b%d", i), fmt.Sprintf("q%d", i), i)))
	}

	const publishes = 10
	for i := 0; i < publishes; i++ {
		publishText(t, rt, "x")
	}

	time.Sleep(20 * time.Millisecond)
	for i := 0; i < 3; i++ {
		q, ok := deps.Queues.Get(fmt.Sprintf("q%d", i))
		require.True(t, ok)
		assert.Equal(t, publishes, q.Store().CountAll(), "binding b%d", i)
	}
}
