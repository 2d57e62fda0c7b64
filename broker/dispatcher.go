// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"

	"github.com/absmach/steed/channel"
	"github.com/absmach/steed/protocol"
	"github.com/absmach/steed/queue"
	"github.com/absmach/steed/queue/types"
	"github.com/absmach/steed/router"
)

// HandleFrame routes one parsed inbound frame. The protocol front-end calls
// it for every frame a connection produces.
func (b *Broker) HandleFrame(ctx context.Context, c *Client, m *protocol.Message) error {
	switch m.Kind {
	case protocol.KindPing:
		return c.Send(&protocol.Message{Kind: protocol.KindPong})

	case protocol.KindQueueMessage:
		b.handleQueuePush(ctx, c, m)

	case protocol.KindRouterMessage:
		b.handleRouterPublish(ctx, c, m)

	case protocol.KindChannelMessage:
		b.handleChannelPush(ctx, c, m)

	case protocol.KindDirectMessage:
		b.handleDirectMessage(ctx, c, m)

	case protocol.KindAck:
		b.handleAck(ctx, c, m)

	case protocol.KindResponse:
		b.forwardToPeer(m)

	case protocol.KindServerRequest:
		b.handleServerRequest(ctx, c, m)
	}
	return nil
}

// respondOnFailure sends a response frame only when the operation failed and
// the producer asked for one. Success acknowledgements for queue pushes are
// decision-driven and come from the queue pipeline.
func (b *Broker) respondOnFailure(c *Client, m *protocol.Message, res protocol.Result) {
	if res == protocol.ResultSuccess || !m.WaitResponse {
		return
	}
	if err := c.Send(protocol.NewResponse(m, res)); err != nil {
		b.logger.Debug("response send failed", slog.String("client", c.ID()), slog.Any("error", err))
	}
}

// respond always answers a server request.
func (b *Broker) respond(c *Client, m *protocol.Message, res protocol.Result) {
	if err := c.Send(protocol.NewResponse(m, res)); err != nil {
		b.logger.Debug("response send failed", slog.String("client", c.ID()), slog.Any("error", err))
	}
}

func (b *Broker) respondPayload(c *Client, m *protocol.Message, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.respond(c, m, protocol.ResultError)
		return
	}
	resp := protocol.NewResponse(m, protocol.ResultSuccess)
	resp.Payload = data
	if err := c.Send(resp); err != nil {
		b.logger.Debug("response send failed", slog.String("client", c.ID()), slog.Any("error", err))
	}
}

// allowPublish applies the per-client publish rate limit.
func (b *Broker) allowPublish(c *Client) bool {
	return b.limiter == nil || b.limiter.Allow(c.ID())
}

func (b *Broker) handleQueuePush(ctx context.Context, c *Client, m *protocol.Message) {
	if !b.allowPublish(c) {
		b.respondOnFailure(c, m, protocol.ResultLimitExceeded)
		return
	}
	if !b.authorizeClient(ctx, c, m) {
		b.respondOnFailure(c, m, protocol.ResultUnauthorized)
		return
	}

	q, err := b.queues.FindOrCreate(ctx, m.Target)
	if err != nil {
		b.respondOnFailure(c, m, protocol.ResultNotFound)
		return
	}

	env := types.NewMessage(m)
	env.Source = c
	b.respondOnFailure(c, m, q.Push(ctx, env))
}

func (b *Broker) handleRouterPublish(ctx context.Context, c *Client, m *protocol.Message) {
	if !b.allowPublish(c) {
		b.respondOnFailure(c, m, protocol.ResultLimitExceeded)
		return
	}
	if !b.authorizeClient(ctx, c, m) {
		b.respondOnFailure(c, m, protocol.ResultUnauthorized)
		return
	}

	rt, ok := b.routers.Get(m.Target)
	if !ok {
		b.respondOnFailure(c, m, protocol.ResultNotFound)
		return
	}

	switch rt.Publish(ctx, c, m) {
	case router.PublishOKWillRespond:
		// The receiver's response closes the exchange.
	case router.PublishOKNoResponse:
		if m.WaitResponse {
			b.respond(c, m, protocol.ResultSuccess)
		}
	case router.PublishDisabled:
		b.respondOnFailure(c, m, protocol.ResultDisabled)
	case router.PublishNoBindings:
		b.respondOnFailure(c, m, protocol.ResultNoBindings)
	case router.PublishNoReceivers:
		b.respondOnFailure(c, m, protocol.ResultNoReceivers)
	}
}

func (b *Broker) handleChannelPush(ctx context.Context, c *Client, m *protocol.Message) {
	if !b.allowPublish(c) {
		b.respondOnFailure(c, m, protocol.ResultLimitExceeded)
		return
	}
	if !b.authorizeClient(ctx, c, m) {
		b.respondOnFailure(c, m, protocol.ResultUnauthorized)
		return
	}

	ch, err := b.channels.FindOrCreate(m.Target)
	if err != nil {
		b.respondOnFailure(c, m, protocol.ResultNotFound)
		return
	}

	res := ch.Push(m)
	if res == protocol.ResultSuccess && m.WaitResponse {
		b.respond(c, m, res)
		return
	}
	b.respondOnFailure(c, m, res)
}

func (b *Broker) handleDirectMessage(ctx context.Context, c *Client, m *protocol.Message) {
	if !b.allowPublish(c) {
		b.respondOnFailure(c, m, protocol.ResultLimitExceeded)
		return
	}
	if !b.authorizeClient(ctx, c, m) {
		b.respondOnFailure(c, m, protocol.ResultUnauthorized)
		return
	}

	peers := b.resolvePeers(m.Target)
	delivered := false
	for _, p := range peers {
		if !p.IsConnected() {
			continue
		}
		if err := p.Send(m); err == nil {
			delivered = true
		}
	}

	if !delivered {
		b.respondOnFailure(c, m, protocol.ResultNotFound)
	}
}

// handleAck routes an acknowledgement: queue-targeted acks feed the queue's
// ack pipeline, anything else is forwarded to the target peer.
func (b *Broker) handleAck(ctx context.Context, c *Client, m *protocol.Message) {
	if q, ok := b.queues.Get(m.Target); ok {
		q.Acknowledge(ctx, c, m)
		return
	}
	b.forwardToPeer(m)
}

// forwardToPeer delivers a frame to the client named by its target.
func (b *Broker) forwardToPeer(m *protocol.Message) {
	if p, ok := b.ClientByID(m.Target); ok && p.IsConnected() {
		if err := p.Send(m); err != nil {
			b.logger.Debug("peer forward failed",
				slog.String("target", m.Target), slog.Any("error", err))
		}
	}
}

func (b *Broker) handleServerRequest(ctx context.Context, c *Client, m *protocol.Message) {
	switch m.ContentType {
	case protocol.ContentQueueSubscribe:
		b.opQueueSubscribe(ctx, c, m)
	case protocol.ContentQueueUnsubscribe:
		b.opQueueUnsubscribe(ctx, c, m)
	case protocol.ContentQueueCreate:
		b.opQueueCreate(ctx, c, m)
	case protocol.ContentQueueRemove:
		b.opQueueRemove(ctx, c, m)
	case protocol.ContentQueueUpdate:
		b.opQueueUpdate(ctx, c, m)
	case protocol.ContentQueueClear:
		b.opQueueClear(ctx, c, m)
	case protocol.ContentQueueList:
		b.opQueueList(ctx, c, m)
	case protocol.ContentQueuePull:
		b.opQueuePull(ctx, c, m)
	case protocol.ContentRouterCreate:
		b.opRouterCreate(ctx, c, m)
	case protocol.ContentRouterRemove:
		b.opRouterRemove(ctx, c, m)
	case protocol.ContentRouterList:
		b.opRouterList(ctx, c, m)
	case protocol.ContentBindingAdd:
		b.opBindingAdd(ctx, c, m)
	case protocol.ContentBindingRemove:
		b.opBindingRemove(ctx, c, m)
	case protocol.ContentBindingList:
		b.opBindingList(ctx, c, m)
	case protocol.ContentChannelSubscribe:
		b.opChannelSubscribe(ctx, c, m)
	case protocol.ContentChannelUnsubscribe:
		b.opChannelUnsubscribe(ctx, c, m)
	case protocol.ContentChannelCreate:
		b.opChannelCreate(ctx, c, m)
	case protocol.ContentChannelRemove:
		b.opChannelRemove(ctx, c, m)
	case protocol.ContentChannelList:
		b.opChannelList(ctx, c, m)
	default:
		b.respond(c, m, protocol.ResultNotFound)
	}
}

// --- Queue operations ---

func (b *Broker) opQueueSubscribe(ctx context.Context, c *Client, m *protocol.Message) {
	if !b.authorizeClient(ctx, c, m) {
		b.respond(c, m, protocol.ResultUnauthorized)
		return
	}

	q, err := b.queues.FindOrCreate(ctx, m.Target)
	if err != nil {
		b.respond(c, m, protocol.ResultNotFound)
		return
	}

	res, _ := q.AddClient(c)
	if res == protocol.ResultDuplicate {
		// Re-subscribing is harmless.
		res = protocol.ResultSuccess
	}
	b.respond(c, m, res)
}

func (b *Broker) opQueueUnsubscribe(ctx context.Context, c *Client, m *protocol.Message) {
	if m.Target == "*" {
		for _, q := range b.queues.List("") {
			q.RemoveClient(c.ID())
		}
		b.respond(c, m, protocol.ResultSuccess)
		return
	}

	q, ok := b.queues.Get(m.Target)
	if !ok {
		b.respond(c, m, protocol.ResultNotFound)
		return
	}
	q.RemoveClient(c.ID())
	b.respond(c, m, protocol.ResultSuccess)
}

func (b *Broker) opQueueCreate(ctx context.Context, c *Client, m *protocol.Message) {
	if !b.authorizeAdmin(ctx, c, m) {
		b.respond(c, m, protocol.ResultUnauthorized)
		return
	}

	q, err := b.queues.Create(ctx, m.Target, nil)
	switch err {
	case nil:
	case queue.ErrQueueExists:
		b.respond(c, m, protocol.ResultDuplicate)
		return
	default:
		b.respond(c, m, protocol.ResultError)
		return
	}

	if err := q.Initialize(m.Headers); err != nil {
		b.queues.Remove(ctx, q.Name())
		b.respond(c, m, protocol.ResultError)
		return
	}
	b.respond(c, m, protocol.ResultSuccess)
}

func (b *Broker) opQueueRemove(ctx context.Context, c *Client, m *protocol.Message) {
	if !b.authorizeAdmin(ctx, c, m) {
		b.respond(c, m, protocol.ResultUnauthorized)
		return
	}
	if !b.queues.Remove(ctx, m.Target) {
		b.respond(c, m, protocol.ResultNotFound)
		return
	}
	b.respond(c, m, protocol.ResultSuccess)
}

func (b *Broker) opQueueUpdate(ctx context.Context, c *Client, m *protocol.Message) {
	if !b.authorizeAdmin(ctx, c, m) {
		b.respond(c, m, protocol.ResultUnauthorized)
		return
	}

	q, ok := b.queues.Get(m.Target)
	if !ok {
		b.respond(c, m, protocol.ResultNotFound)
		return
	}

	opts := q.Options()
	opts.ApplyHeaders(m.Headers)
	b.queues.Update(ctx, q, opts)
	b.respond(c, m, protocol.ResultSuccess)
}

func (b *Broker) opQueueClear(ctx context.Context, c *Client, m *protocol.Message) {
	if !b.authorizeAdmin(ctx, c, m) {
		b.respond(c, m, protocol.ResultUnauthorized)
		return
	}

	q, ok := b.queues.Get(m.Target)
	if !ok {
		b.respond(c, m, protocol.ResultNotFound)
		return
	}

	if v, ok := m.GetHeader(protocol.HeaderClearPriority); ok && strings.EqualFold(v, "yes") {
		q.Store().ClearPriority()
	}
	if v, ok := m.GetHeader(protocol.HeaderClearMessages); ok && strings.EqualFold(v, "yes") {
		q.Store().ClearRegular()
	}
	b.respond(c, m, protocol.ResultSuccess)
}

// queueInfo is the list-operation wire form.
type queueInfo struct {
	Name          string `json:"name"`
	Topic         string `json:"topic,omitempty"`
	Type          string `json:"type"`
	Status        string `json:"status"`
	Messages      int    `json:"messages"`
	PriorityCount int    `json:"priorityMessages"`
	Consumers     int    `json:"consumers"`
}

func (b *Broker) opQueueList(ctx context.Context, c *Client, m *protocol.Message) {
	if !b.authorizeAdmin(ctx, c, m) {
		b.respond(c, m, protocol.ResultUnauthorized)
		return
	}

	filter, _ := m.GetHeader(protocol.HeaderFilter)
	var infos []queueInfo
	for _, q := range b.queues.List(filter) {
		opts := q.Options()
		infos = append(infos, queueInfo{
			Name:          q.Name(),
			Topic:         opts.Topic,
			Type:          opts.Type.String(),
			Status:        q.Status().String(),
			Messages:      q.Store().CountRegular(),
			PriorityCount: q.Store().CountPriority(),
			Consumers:     q.ClientCount(),
		})
	}
	b.respondPayload(c, m, infos)
}

func (b *Broker) opQueuePull(ctx context.Context, c *Client, m *protocol.Message) {
	if !b.authorizeClient(ctx, c, m) {
		b.respond(c, m, protocol.ResultUnauthorized)
		return
	}

	q, ok := b.queues.Get(m.Target)
	if !ok {
		b.respond(c, m, protocol.ResultNotFound)
		return
	}

	served, err := q.Pull(ctx, c, m)
	if err == queue.ErrPullNotSupported {
		b.respond(c, m, protocol.ResultStatusNotSupported)
		return
	}
	if err != nil && len(served) == 0 {
		b.respond(c, m, protocol.ResultError)
		return
	}

	// End-of-stream marker carrying the served count.
	resp := protocol.NewResponse(m, protocol.ResultSuccess)
	resp.SetHeader(protocol.HeaderCount, strconv.Itoa(len(served)))
	if err := c.Send(resp); err != nil {
		b.logger.Debug("pull response send failed", slog.String("client", c.ID()), slog.Any("error", err))
	}
}

// --- Router operations ---

func (b *Broker) opRouterCreate(ctx context.Context, c *Client, m *protocol.Message) {
	if !b.authorizeAdmin(ctx, c, m) {
		b.respond(c, m, protocol.ResultUnauthorized)
		return
	}

	method := router.MethodDistribute
	if v, ok := m.GetHeader(protocol.HeaderRouteMethod); ok {
		method, _ = router.ParseMethod(v)
	}

	switch _, err := b.routers.Create(m.Target, method); err {
	case nil:
		b.respond(c, m, protocol.ResultSuccess)
	case router.ErrRouterExists:
		b.respond(c, m, protocol.ResultDuplicate)
	default:
		b.respond(c, m, protocol.ResultError)
	}
}

func (b *Broker) opRouterRemove(ctx context.Context, c *Client, m *protocol.Message) {
	if !b.authorizeAdmin(ctx, c, m) {
		b.respond(c, m, protocol.ResultUnauthorized)
		return
	}
	if !b.routers.Remove(m.Target) {
		b.respond(c, m, protocol.ResultNotFound)
		return
	}
	b.respond(c, m, protocol.ResultSuccess)
}

// routerInfo is the list-operation wire form.
type routerInfo struct {
	Name      string `json:"name"`
	Method    string `json:"method"`
	IsEnabled bool   `json:"isEnabled"`
	Bindings  int    `json:"bindings"`
}

func (b *Broker) opRouterList(ctx context.Context, c *Client, m *protocol.Message) {
	if !b.authorizeAdmin(ctx, c, m) {
		b.respond(c, m, protocol.ResultUnauthorized)
		return
	}

	filter, _ := m.GetHeader(protocol.HeaderFilter)
	var infos []routerInfo
	for _, rt := range b.routers.List(filter) {
		infos = append(infos, routerInfo{
			Name:      rt.Name(),
			Method:    rt.Method().String(),
			IsEnabled: rt.Enabled(),
			Bindings:  len(rt.Bindings()),
		})
	}
	b.respondPayload(c, m, infos)
}

func (b *Broker) opBindingAdd(ctx context.Context, c *Client, m *protocol.Message) {
	if !b.authorizeAdmin(ctx, c, m) {
		b.respond(c, m, protocol.ResultUnauthorized)
		return
	}

	def := router.Definition{Type: router.TagQueue}
	if v, ok := m.GetHeader(protocol.HeaderBindingName); ok {
		def.Name = v
	}
	if v, ok := m.GetHeader(protocol.HeaderBindingType); ok {
		def.Type = v
	}
	if v, ok := m.GetHeader(protocol.HeaderTarget); ok {
		def.Target = v
	}
	if v, ok := m.GetHeader(protocol.HeaderPriority); ok {
		if n, err := strconv.Atoi(v); err == nil {
			def.Priority = n
		}
	}
	if v, ok := m.GetHeader(protocol.HeaderInteraction); ok {
		def.Interaction = v
	}
	if v, ok := m.GetHeader(protocol.HeaderRouteMethod); ok {
		def.Method = v
	}
	if v, ok := m.GetHeader(protocol.HeaderContentType); ok {
		if n, err := strconv.ParseUint(v, 10, 16); err == nil {
			ct := uint16(n)
			def.ContentType = &ct
		}
	}

	switch err := b.routers.AddBinding(m.Target, def); err {
	case nil:
		b.respond(c, m, protocol.ResultSuccess)
	case router.ErrRouterNotFound:
		b.respond(c, m, protocol.ResultNotFound)
	case router.ErrBindingExists:
		b.respond(c, m, protocol.ResultDuplicate)
	default:
		b.respond(c, m, protocol.ResultError)
	}
}

func (b *Broker) opBindingRemove(ctx context.Context, c *Client, m *protocol.Message) {
	if !b.authorizeAdmin(ctx, c, m) {
		b.respond(c, m, protocol.ResultUnauthorized)
		return
	}

	name, _ := m.GetHeader(protocol.HeaderBindingName)
	if err := b.routers.RemoveBinding(m.Target, name); err != nil {
		b.respond(c, m, protocol.ResultNotFound)
		return
	}
	b.respond(c, m, protocol.ResultSuccess)
}

func (b *Broker) opBindingList(ctx context.Context, c *Client, m *protocol.Message) {
	if !b.authorizeAdmin(ctx, c, m) {
		b.respond(c, m, protocol.ResultUnauthorized)
		return
	}

	rt, ok := b.routers.Get(m.Target)
	if !ok {
		b.respond(c, m, protocol.ResultNotFound)
		return
	}

	var defs []router.Definition
	for _, bd := range rt.Bindings() {
		defs = append(defs, bd.Definition())
	}
	b.respondPayload(c, m, defs)
}

// --- Channel operations ---

func (b *Broker) opChannelSubscribe(ctx context.Context, c *Client, m *protocol.Message) {
	if !b.authorizeClient(ctx, c, m) {
		b.respond(c, m, protocol.ResultUnauthorized)
		return
	}

	ch, err := b.channels.FindOrCreate(m.Target)
	if err != nil {
		b.respond(c, m, protocol.ResultNotFound)
		return
	}

	res := ch.Subscribe(c)
	if res == protocol.ResultDuplicate {
		res = protocol.ResultSuccess
	}
	b.respond(c, m, res)
}

func (b *Broker) opChannelUnsubscribe(ctx context.Context, c *Client, m *protocol.Message) {
	ch, ok := b.channels.Get(m.Target)
	if !ok {
		b.respond(c, m, protocol.ResultNotFound)
		return
	}
	ch.Unsubscribe(c.ID())
	b.respond(c, m, protocol.ResultSuccess)
}

func (b *Broker) opChannelCreate(ctx context.Context, c *Client, m *protocol.Message) {
	if !b.authorizeAdmin(ctx, c, m) {
		b.respond(c, m, protocol.ResultUnauthorized)
		return
	}

	opts := channelOptionsFromHeaders(m.Headers)
	switch _, err := b.channels.Create(m.Target, opts); err {
	case nil:
		b.respond(c, m, protocol.ResultSuccess)
	case channel.ErrChannelExists:
		b.respond(c, m, protocol.ResultDuplicate)
	default:
		b.respond(c, m, protocol.ResultError)
	}
}

func (b *Broker) opChannelRemove(ctx context.Context, c *Client, m *protocol.Message) {
	if !b.authorizeAdmin(ctx, c, m) {
		b.respond(c, m, protocol.ResultUnauthorized)
		return
	}
	if !b.channels.Remove(m.Target) {
		b.respond(c, m, protocol.ResultNotFound)
		return
	}
	b.respond(c, m, protocol.ResultSuccess)
}

// channelInfo is the list-operation wire form.
type channelInfo struct {
	Name        string `json:"name"`
	Topic       string `json:"topic,omitempty"`
	Subscribers int    `json:"subscribers"`
}

func (b *Broker) opChannelList(ctx context.Context, c *Client, m *protocol.Message) {
	if !b.authorizeAdmin(ctx, c, m) {
		b.respond(c, m, protocol.ResultUnauthorized)
		return
	}

	filter, _ := m.GetHeader(protocol.HeaderFilter)
	var infos []channelInfo
	for _, ch := range b.channels.List(filter) {
		infos = append(infos, channelInfo{
			Name:        ch.Name(),
			Topic:       ch.Options().Topic,
			Subscribers: ch.SubscriberCount(),
		})
	}
	b.respondPayload(c, m, infos)
}

// channelOptionsFromHeaders derives channel options from create-request
// headers. A nil return means no option header was present and the manager
// defaults apply.
func channelOptionsFromHeaders(h protocol.Headers) *channel.Options {
	has := false
	var opts channel.Options

	if v, ok := h.Get(protocol.HeaderChannelTopic); ok {
		opts.Topic = v
		has = true
	}
	if v, ok := h.Get(protocol.HeaderClientLimit); ok {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			opts.ClientLimit = n
			has = true
		}
	}
	if v, ok := h.Get(protocol.HeaderMessageSizeLimit); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			opts.MessageSizeLimit = n
			has = true
		}
	}
	if v, ok := h.Get(protocol.HeaderAutoDestroy); ok {
		opts.AutoDestroy = strings.EqualFold(v, "yes") || strings.EqualFold(v, "true")
		has = true
	}

	if !has {
		return nil
	}
	return &opts
}
