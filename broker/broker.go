// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"log/slog"
	"sync"

	"github.com/absmach/steed/channel"
	"github.com/absmach/steed/cluster"
	"github.com/absmach/steed/events"
	"github.com/absmach/steed/internal/metrics"
	"github.com/absmach/steed/protocol"
	"github.com/absmach/steed/queue"
	"github.com/absmach/steed/queue/types"
	"github.com/absmach/steed/ratelimit"
	"github.com/absmach/steed/router"
)

// Options configures a broker instance.
type Options struct {
	// Name identifies the broker in events and logs.
	Name string

	// QueueDefaults seed every new queue.
	QueueDefaults types.Options

	// ChannelDefaults seed every new channel.
	ChannelDefaults channel.Options

	// DataDir is where the queues and routers files are persisted. Empty
	// disables topology persistence.
	DataDir string

	Coordinator cluster.Coordinator
	Metrics     *metrics.Metrics
	IDGen       protocol.IDGenerator
	Logger      *slog.Logger

	// RateLimiter bounds per-client publish rates when set.
	RateLimiter *ratelimit.ClientLimiter
}

// Broker is the root object binding queues, routers, channels and clients to
// the protocol front-end.
type Broker struct {
	name    string
	logger  *slog.Logger
	bus     *events.Bus
	metrics *metrics.Metrics
	idgen   protocol.IDGenerator
	limiter *ratelimit.ClientLimiter

	queues   *queue.Manager
	routers  *router.Registry
	channels *channel.Manager

	mu      sync.RWMutex
	clients map[string]*Client

	authMu     sync.RWMutex
	adminAuth  []AdminAuthorization
	clientAuth []ClientAuthorization

	persister *persister
}

// New creates a broker.
func New(opts Options) *Broker {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	name := opts.Name
	if name == "" {
		name = "steed"
	}
	idgen := opts.IDGen
	if idgen == nil {
		idgen = protocol.DefaultIDGenerator
	}
	coordinator := opts.Coordinator
	if coordinator == nil {
		coordinator = cluster.NewStandalone()
	}

	b := &Broker{
		name:    name,
		logger:  logger,
		bus:     events.NewBus(name, logger),
		metrics: opts.Metrics,
		idgen:   idgen,
		limiter: opts.RateLimiter,
		clients: make(map[string]*Client),
	}

	if opts.DataDir != "" {
		b.persister = newPersister(opts.DataDir, logger)
	}

	b.queues = queue.NewManager(queue.ManagerConfig{
		DefaultOptions: opts.QueueDefaults,
		Bus:            b.bus,
		Coordinator:    coordinator,
		Metrics:        opts.Metrics,
		IDGen:          idgen,
		Logger:         logger,
		OnMutation:     b.saveQueues,
	})

	b.routers = router.NewRegistry(router.Deps{
		Queues:  b.queues,
		Clients: b,
		Logger:  logger,
	}, b.bus, b.saveRouters)

	b.channels = channel.NewManager(opts.ChannelDefaults, b.bus, logger)

	return b
}

// Events returns the broker's event bus.
func (b *Broker) Events() *events.Bus {
	return b.bus
}

// Queues returns the queue registry.
func (b *Broker) Queues() *queue.Manager {
	return b.queues
}

// Routers returns the router registry.
func (b *Broker) Routers() *router.Registry {
	return b.routers
}

// Channels returns the channel registry.
func (b *Broker) Channels() *channel.Manager {
	return b.channels
}

// Connect registers a new client connection. An empty id gets a generated
// one. Returns the registered client.
func (b *Broker) Connect(conn Connection, id, name, clientType string) *Client {
	if id == "" {
		id = b.idgen.NextID()
	}

	c := newBrokerClient(id, name, clientType, conn)

	b.mu.Lock()
	b.clients[id] = c
	b.mu.Unlock()

	b.metrics.ClientConnected()
	b.bus.Trigger(events.TypeClientConnected, id,
		protocol.Header{Name: protocol.HeaderClientName, Value: name},
		protocol.Header{Name: protocol.HeaderClientType, Value: clientType})
	b.logger.Info("client connected",
		slog.String("client", id), slog.String("name", name), slog.String("type", clientType))
	return c
}

// Disconnect removes a client and synchronously detaches it from every
// queue, channel and direct-binding cache.
func (b *Broker) Disconnect(clientID string) {
	b.mu.Lock()
	c, ok := b.clients[clientID]
	if ok {
		delete(b.clients, clientID)
	}
	b.mu.Unlock()

	if !ok {
		return
	}

	c.close()

	for _, q := range b.queues.List("") {
		q.RemoveClient(clientID)
	}
	for _, ch := range b.channels.List("") {
		ch.Unsubscribe(clientID)
	}
	b.routers.InvalidateClientCaches()
	if b.limiter != nil {
		b.limiter.Forget(clientID)
	}

	b.metrics.ClientDisconnected()
	b.bus.Trigger(events.TypeClientDisconnected, clientID)
	b.logger.Info("client disconnected", slog.String("client", clientID))
}

// Client returns a connected client by id.
func (b *Broker) Client(id string) (*Client, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.clients[id]
	return c, ok
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// ClientByID implements router.ClientResolver.
func (b *Broker) ClientByID(id string) (protocol.Peer, bool) {
	c, ok := b.Client(id)
	if !ok {
		return nil, false
	}
	return c, true
}

// ClientsByName implements router.ClientResolver.
func (b *Broker) ClientsByName(name string) []protocol.Peer {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []protocol.Peer
	for _, c := range b.clients {
		if c.Name() == name {
			out = append(out, c)
		}
	}
	return out
}

// ClientsByType implements router.ClientResolver.
func (b *Broker) ClientsByType(t string) []protocol.Peer {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []protocol.Peer
	for _, c := range b.clients {
		if c.Type() == t {
			out = append(out, c)
		}
	}
	return out
}

// Close shuts the broker down: every queue is destroyed and the rate limiter
// stops.
func (b *Broker) Close() {
	b.queues.Close()
	if b.limiter != nil {
		b.limiter.Stop()
	}
}

// resolvePeers resolves a direct-message target: a concrete client id or a
// @name: / @type: selector.
func (b *Broker) resolvePeers(target string) []protocol.Peer {
	switch {
	case len(target) > 6 && target[:6] == "@type:":
		return b.ClientsByType(target[6:])
	case len(target) > 6 && target[:6] == "@name:":
		return b.ClientsByName(target[6:])
	default:
		if p, ok := b.ClientByID(target); ok {
			return []protocol.Peer{p}
		}
		return nil
	}
}
