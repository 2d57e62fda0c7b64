// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/absmach/steed/cluster"
	"github.com/absmach/steed/events"
	"github.com/absmach/steed/internal/metrics"
	"github.com/absmach/steed/protocol"
	"github.com/absmach/steed/queue/delivery"
	"github.com/absmach/steed/queue/storage"
	"github.com/absmach/steed/queue/types"
)

// watchdogInterval is the failsafe period: every tick re-invokes the trigger
// loop, expires overdue messages and runs the auto-destroy check.
const watchdogInterval = 5 * time.Second

// ackLookupBackoffs are the retry delays for the ack-before-track race: an
// acknowledgement can reach the broker before the tracker insert for its
// delivery has completed.
var ackLookupBackoffs = [...]time.Duration{time.Millisecond, 3 * time.Millisecond}

// Queue is a named message buffer with a pluggable dispatch strategy. It owns
// its store, delivery tracker and subscriber set; the queue lock serialises
// status transitions, initialisation and client membership, while store and
// tracker carry their own locks so that socket sends never run under the
// queue lock.
type Queue struct {
	name        string
	manager     *Manager
	store       storage.MessageStore
	tracker     *delivery.Tracker
	handler     DeliveryHandler
	logger      *slog.Logger
	metrics     *metrics.Metrics
	bus         *events.Bus
	coordinator cluster.Coordinator
	idgen       protocol.IDGenerator

	mu         sync.Mutex
	cond       *sync.Cond
	options    types.Options
	status     types.Status
	state      State
	clients    []*Client
	triggering bool

	ackSlot  chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
}

func newQueue(m *Manager, name string, opts types.Options, store storage.MessageStore) *Queue {
	q := &Queue{
		name:        name,
		manager:     m,
		store:       store,
		options:     opts,
		status:      types.StatusNotInitialized,
		logger:      m.logger.With(slog.String("queue", name)),
		metrics:     m.metrics,
		bus:         m.bus,
		coordinator: m.coordinator,
		idgen:       m.idgen,
		ackSlot:     make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	q.tracker = delivery.NewTracker(q.onDeliveryTimeout)
	q.ackSlot <- struct{}{}
	return q
}

// Name returns the queue name.
func (q *Queue) Name() string {
	return q.name
}

// Status returns the current lifecycle status.
func (q *Queue) Status() types.Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.status
}

// Options returns a copy of the queue options.
func (q *Queue) Options() types.Options {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.options
}

// Store returns the message store.
func (q *Queue) Store() storage.MessageStore {
	return q.store
}

// Tracker returns the delivery tracker.
func (q *Queue) Tracker() *delivery.Tracker {
	return q.tracker
}

// Initialize resolves the delivery handler and dispatch strategy from the
// given headers and moves the queue to Running. It is a no-op on an already
// initialised queue; the first push initialises implicitly.
func (q *Queue) Initialize(h protocol.Headers) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.initializeLocked(h)
}

func (q *Queue) initializeLocked(h protocol.Headers) error {
	if q.status != types.StatusNotInitialized {
		return nil
	}

	q.options.ApplyHeaders(h)

	handler, err := buildHandler(q.manager.handlerFactories(), BuildContext{
		Queue:       q,
		HandlerName: q.options.HandlerName,
		Headers:     h,
	})
	if err != nil {
		return err
	}

	q.handler = handler
	q.state = newState(q, q.options.Type)
	q.status = types.StatusRunning
	q.cond.Broadcast()

	go q.watchdog()

	q.logger.Info("queue initialized",
		slog.String("type", q.options.Type.String()),
		slog.String("acknowledge", q.options.Acknowledge.String()))
	return nil
}

// Push runs the produce pipeline for one message.
func (q *Queue) Push(ctx context.Context, m *types.Message) (res protocol.Result) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("push failed: %v", r)
			q.logger.Error("push pipeline recovered", slog.Any("error", err))
			dec := types.Allow()
			if q.handler != nil {
				dec = q.handler.ExceptionThrown(q, m, err)
			}
			if !m.IsInQueue && !m.IsSent && !dec.Delete {
				q.putBack(context.Background(), m, types.PutBackRegular, time.Second)
			}
			res = protocol.ResultError
		}
	}()

	q.mu.Lock()
	if q.status == types.StatusNotInitialized {
		if err := q.initializeLocked(m.Message.Headers); err != nil {
			q.mu.Unlock()
			q.logger.Warn("queue initialization failed", slog.Any("error", err))
			return protocol.ResultError
		}
	}
	if q.status == types.StatusPaused || q.status == types.StatusOnlyConsume {
		q.mu.Unlock()
		return protocol.ResultStatusNotSupported
	}
	if q.status == types.StatusDestroyed {
		q.mu.Unlock()
		return protocol.ResultNotFound
	}
	opts := q.options
	q.mu.Unlock()

	if opts.MessageLimit > 0 && q.store.CountAll() >= opts.MessageLimit {
		return protocol.ResultLimitExceeded
	}
	if opts.MessageSizeLimit > 0 && int64(len(m.Message.Payload)) > opts.MessageSizeLimit {
		return protocol.ResultLimitExceeded
	}

	protocol.StripOperational(m.Message)

	if !m.Message.WaitResponse && opts.Acknowledge != types.AckNone {
		m.Message.WaitResponse = true
	}
	if m.Message.ID == "" {
		m.Message.ID = q.idgen.NextID()
	}
	if opts.MessageTimeout > 0 {
		m.Deadline = m.CreatedAt.Add(opts.MessageTimeout)
	}

	// Producers block while a cluster sync owns the queue.
	q.mu.Lock()
	for q.status == types.StatusSyncing {
		q.cond.Wait()
	}
	if q.status == types.StatusDestroyed {
		q.mu.Unlock()
		return protocol.ResultNotFound
	}
	q.mu.Unlock()

	if q.coordinator.Mode() == cluster.ModeReliable && q.coordinator.State() == cluster.StateMain {
		if err := q.coordinator.SendQueueMessage(ctx, q.name, m.Message); err != nil {
			q.logger.Warn("replication failed, message rejected",
				slog.String("message", m.Message.ID), slog.Any("error", err))
			return protocol.ResultError
		}
	}

	allowed := q.ApplyDecision(ctx, q.handler.ReceivedFromProducer(q, m, m.Source), m, nil, 0)

	go q.bus.Trigger(events.TypeMessageProduced, q.name,
		protocol.Header{Name: protocol.HeaderMessageID, Value: m.Message.ID})

	if !allowed || m.IsRemoved {
		return protocol.ResultSuccess
	}

	q.store.Put(m)
	q.metrics.Pushed(q.name)
	q.bus.Trigger(events.TypeMessagePushed, q.name,
		protocol.Header{Name: protocol.HeaderMessageID, Value: m.Message.ID})
	q.Trigger()

	return protocol.ResultSuccess
}

// Acknowledge runs the consumer ack pipeline.
func (q *Queue) Acknowledge(ctx context.Context, from protocol.Peer, ack *protocol.Message) {
	d := q.tracker.FindAndRemove(from.ID(), ack.ID)
	for i := 0; d == nil && i < len(ackLookupBackoffs); i++ {
		time.Sleep(ackLookupBackoffs[i])
		d = q.tracker.FindAndRemove(from.ID(), ack.ID)
	}
	if d == nil {
		// Unknown or already timed out.
		return
	}

	success := !ack.IsNack()
	if success {
		d.Ack = delivery.AckReceived
	} else {
		d.Ack = delivery.AckFailed
	}

	if c := q.FindClient(from.ID()); c != nil {
		c.ClearProcessing(ack.ID)
	}

	q.ApplyDecision(ctx, q.handler.AcknowledgeReceived(q, ack, d, success), d.Message, nil, 0)
	q.releaseAck()

	msgHeader := protocol.Header{Name: protocol.HeaderMessageID, Value: ack.ID}
	if success {
		q.metrics.Acked(q.name)
		q.bus.Trigger(events.TypeMessageAck, q.name, msgHeader)
	} else {
		reason, _ := ack.GetHeader(protocol.HeaderNackReason)
		q.metrics.Nacked(q.name)
		q.bus.Trigger(events.TypeMessageNack, q.name, msgHeader,
			protocol.Header{Name: protocol.HeaderReason, Value: reason})
	}

	q.Trigger()
}

// ApplyDecision executes a delivery handler decision against a message.
// Returns false when the decision interrupts the calling pipeline.
func (q *Queue) ApplyDecision(ctx context.Context, d types.Decision, m *types.Message, customAck *protocol.Message, forceDelay time.Duration) bool {
	m.Decision = d

	if d.Save && !m.IsSaved {
		q.handler.SaveMessage(q, m)
	}

	if d.Transmission != types.TransmissionNone && !m.ProducerAckSent && m.Source != nil && m.Source.IsConnected() {
		ack := customAck
		if ack == nil {
			if d.Transmission == types.TransmissionSuccessful {
				ack = protocol.NewAck(m.Message)
			} else {
				ack = protocol.NewNack(m.Message, "")
			}
		}
		if err := m.Source.Send(ack); err != nil {
			q.logger.Debug("producer ack send failed",
				slog.String("message", m.Message.ID), slog.Any("error", err))
		} else {
			m.ProducerAckSent = true
		}
	}

	switch {
	case d.PutBack != types.PutBackNo:
		q.putBack(ctx, m, d.PutBack, forceDelay)
	case d.Delete && !m.IsRemoved:
		q.removeMessage(ctx, m)
	}

	return !d.Interrupt
}

// removeMessage takes a message out of the queue permanently.
func (q *Queue) removeMessage(ctx context.Context, m *types.Message) {
	m.MarkRemoved()
	q.handler.MessageDequeued(q, m)
	q.metrics.Dequeued(q.name)
	if err := q.coordinator.SendMessageRemoval(ctx, q.name, m.Message.ID); err != nil {
		q.logger.Warn("removal replication failed",
			slog.String("message", m.Message.ID), slog.Any("error", err))
	}
	q.bus.Trigger(events.TypeMessageDequeued, q.name,
		protocol.Header{Name: protocol.HeaderMessageID, Value: m.Message.ID})
}

// putBack returns a message to the queue at the head of the chosen class,
// immediately or after the configured delay.
func (q *Queue) putBack(ctx context.Context, m *types.Message, kind types.PutBack, forceDelay time.Duration) {
	opts := q.Options()
	priority := kind == types.PutBackPriority
	m.Message.HighPriority = priority
	m.Decision = types.Allow()
	if opts.MessageTimeout > 0 {
		// Re-entering the queue restarts the message deadline.
		m.Deadline = time.Now().Add(opts.MessageTimeout)
	}
	q.metrics.PutBack(q.name)

	var delay time.Duration
	if priority {
		if opts.PutBackDelay == 0 {
			q.store.PutHead(m)
			q.Trigger()
			return
		}
		delay = opts.PutBackDelay
	} else {
		if opts.PutBackDelay == 0 && forceDelay == 0 {
			q.store.PutHead(m)
			q.Trigger()
			return
		}
		delay = opts.PutBackDelay
		if forceDelay > delay {
			delay = forceDelay
		}
	}

	go func() {
		time.Sleep(delay)
		if q.Status() == types.StatusDestroyed {
			return
		}
		q.store.PutHead(m)
		if err := q.coordinator.SendPutBack(context.Background(), q.name, m.Message, priority); err != nil {
			q.logger.Warn("put-back replication failed",
				slog.String("message", m.Message.ID), slog.Any("error", err))
		}
		q.Trigger()
	}()
}

// onDeliveryTimeout runs on the tracker's timer goroutine when an ack
// deadline passes.
func (q *Queue) onDeliveryTimeout(d *delivery.Delivery) {
	if c := q.FindClient(d.Receiver.ID()); c != nil {
		c.ClearProcessing(d.Message.Message.ID)
	}

	q.metrics.TimedOut(q.name)
	q.bus.Trigger(events.TypeMessageTimeout, q.name,
		protocol.Header{Name: protocol.HeaderMessageID, Value: d.Message.Message.ID})

	q.ApplyDecision(context.Background(), q.handler.MessageTimedOut(q, d.Message), d.Message, nil, 0)
	q.releaseAck()
}

// Trigger starts the drain loop if the strategy supports it and no drain is
// already running. At most one drain per queue executes at a time.
func (q *Queue) Trigger() {
	q.mu.Lock()
	if q.state == nil || !q.state.TriggerSupported() || q.triggering {
		q.mu.Unlock()
		return
	}
	if q.status != types.StatusRunning && q.status != types.StatusOnlyConsume {
		q.mu.Unlock()
		return
	}
	if len(q.clients) == 0 {
		q.mu.Unlock()
		return
	}
	q.triggering = true
	q.mu.Unlock()

	go q.drain()
}

func (q *Queue) drain() {
	defer func() {
		q.mu.Lock()
		q.triggering = false
		q.mu.Unlock()
	}()

	ctx := context.Background()
	for {
		st := q.Status()
		if st != types.StatusRunning && st != types.StatusOnlyConsume {
			return
		}
		if q.ClientCount() == 0 {
			return
		}

		q.waitForAcknowledge()

		m := q.store.GetNext(true, false)
		if m == nil {
			q.releaseAck()
			return
		}

		outcome := q.state.Push(ctx, m)
		if q.Options().Acknowledge == types.AckWait && !m.IsSent {
			q.releaseAck()
		}
		if outcome == PushNoConsumers {
			return
		}

		if d := q.Options().DelayBetweenMessages; d > 0 {
			time.Sleep(d)
		}
	}
}

// waitForAcknowledge blocks until the previous tracked delivery completed,
// when the queue serialises acknowledgements.
func (q *Queue) waitForAcknowledge() {
	opts := q.Options()
	if opts.Acknowledge != types.AckWait {
		return
	}

	if opts.AckTimeout <= 0 {
		select {
		case <-q.ackSlot:
		case <-q.stopCh:
		}
		return
	}

	timer := time.NewTimer(opts.AckTimeout)
	defer timer.Stop()
	select {
	case <-q.ackSlot:
	case <-timer.C:
	case <-q.stopCh:
	}
}

// releaseAck completes the single-slot ack future.
func (q *Queue) releaseAck() {
	select {
	case q.ackSlot <- struct{}{}:
	default:
	}
}

// watchdog is the per-queue failsafe loop.
func (q *Queue) watchdog() {
	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stopCh:
			return
		case <-ticker.C:
			q.expireMessages()
			q.Trigger()
			q.checkAutoDestroy()
		}
	}
}

// expireMessages removes stored messages whose deadline has passed.
func (q *Queue) expireMessages() {
	now := time.Now()
	for {
		m := q.store.FindAndRemove(func(m *types.Message) bool {
			return !m.Deadline.IsZero() && m.Deadline.Before(now)
		})
		if m == nil {
			return
		}

		q.bus.Trigger(events.TypeMessageTimeout, q.name,
			protocol.Header{Name: protocol.HeaderMessageID, Value: m.Message.ID})

		// An expired message leaves the queue; the handler decision may still
		// add a save or a producer nack, but not a re-insertion.
		dec := q.handler.MessageTimedOut(q, m)
		dec.PutBack = types.PutBackNo
		dec.Delete = true
		q.ApplyDecision(context.Background(), dec, m, nil, 0)
	}
}

// checkAutoDestroy removes the queue when its auto-destroy condition holds.
func (q *Queue) checkAutoDestroy() {
	opts := q.Options()

	noClients := q.ClientCount() == 0
	noMessages := q.store.CountAll() == 0 && q.tracker.PendingCount() == 0

	destroy := false
	switch opts.AutoDestroy {
	case types.AutoDestroyNoConsumers:
		destroy = noClients
	case types.AutoDestroyNoMessages:
		destroy = noMessages
	case types.AutoDestroyEmpty:
		destroy = noClients && noMessages
	}

	if destroy {
		q.manager.Remove(context.Background(), q.name)
	}
}

// validTransition encodes the status graph: Running reaches Paused,
// OnlyConsume and Syncing; those reach back to Running; Destroyed is
// reachable from anywhere and terminal.
func validTransition(from, to types.Status) bool {
	if to == types.StatusDestroyed {
		return true
	}
	switch from {
	case types.StatusNotInitialized:
		return to == types.StatusRunning
	case types.StatusRunning:
		return to == types.StatusPaused || to == types.StatusOnlyConsume || to == types.StatusSyncing
	case types.StatusPaused, types.StatusOnlyConsume, types.StatusSyncing:
		return to == types.StatusRunning
	default:
		return false
	}
}

// SetStatus transitions the queue lifecycle state. The outgoing state may
// veto the transition. Returns whether the queue now has the given status.
func (q *Queue) SetStatus(s types.Status) bool {
	q.mu.Lock()
	if q.status == s {
		q.mu.Unlock()
		return true
	}
	if !validTransition(q.status, s) {
		q.mu.Unlock()
		return false
	}
	prev := q.status
	st := q.state
	q.mu.Unlock()

	if st != nil && st.OnLeave(s) == VerdictDenyAndStay {
		return false
	}

	q.mu.Lock()
	q.status = s
	q.cond.Broadcast()
	q.mu.Unlock()

	q.logger.Info("queue status changed",
		slog.String("from", prev.String()), slog.String("to", s.String()))

	if st != nil && st.OnEnter(prev) == VerdictAllowAndTrigger {
		q.Trigger()
	}
	return true
}

// UpdateOptions replaces the queue options, swapping the dispatch strategy
// when the queue type changed. Deadlines of already-enqueued messages are not
// recomputed; only new pushes see the new message timeout.
func (q *Queue) UpdateOptions(opts types.Options) {
	q.mu.Lock()
	typeChanged := opts.Type != q.options.Type && q.state != nil
	q.options = opts
	old := q.state
	status := q.status
	if typeChanged {
		q.state = newState(q, opts.Type)
	}
	st := q.state
	q.mu.Unlock()

	if typeChanged {
		old.OnLeave(status)
		if st.OnEnter(status) == VerdictAllowAndTrigger {
			q.Trigger()
		}
	}
}

// Pull serves an on-demand consume request for pull queues.
func (q *Queue) Pull(ctx context.Context, from protocol.Peer, req *protocol.Message) ([]*types.Message, error) {
	q.mu.Lock()
	st := q.state
	status := q.status
	q.mu.Unlock()

	if status != types.StatusRunning && status != types.StatusOnlyConsume {
		return nil, ErrQueueDestroyed
	}
	c := q.FindClient(from.ID())
	if c == nil {
		return nil, ErrNotSubscribed
	}
	if st == nil {
		return nil, ErrPullNotSupported
	}
	return st.Pull(ctx, c, req)
}

// AddClient subscribes a peer to the queue.
func (q *Queue) AddClient(peer protocol.Peer) (protocol.Result, *Client) {
	q.mu.Lock()
	if q.status == types.StatusDestroyed {
		q.mu.Unlock()
		return protocol.ResultNotFound, nil
	}
	if q.options.ClientLimit > 0 && len(q.clients) >= q.options.ClientLimit {
		q.mu.Unlock()
		return protocol.ResultLimitExceeded, nil
	}
	for _, c := range q.clients {
		if c.peer.ID() == peer.ID() {
			q.mu.Unlock()
			return protocol.ResultDuplicate, c
		}
	}
	c := newClient(q, peer)
	q.clients = append(q.clients, c)
	q.mu.Unlock()

	q.bus.Trigger(events.TypeQueueSubscribed, q.name,
		protocol.Header{Name: protocol.HeaderClientID, Value: peer.ID()})
	q.Trigger()
	return protocol.ResultSuccess, c
}

// RemoveClient unsubscribes a peer. Returns whether it was subscribed.
func (q *Queue) RemoveClient(peerID string) bool {
	q.mu.Lock()
	found := false
	for i, c := range q.clients {
		if c.peer.ID() == peerID {
			q.clients = append(q.clients[:i], q.clients[i+1:]...)
			c.ClearProcessing("")
			found = true
			break
		}
	}
	q.mu.Unlock()

	if found {
		q.bus.Trigger(events.TypeQueueUnsubscribed, q.name,
			protocol.Header{Name: protocol.HeaderClientID, Value: peerID})
		q.checkAutoDestroy()
	}
	return found
}

// FindClient returns the queue client for a peer id, or nil.
func (q *Queue) FindClient(peerID string) *Client {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, c := range q.clients {
		if c.peer.ID() == peerID {
			return c
		}
	}
	return nil
}

// ClientsSnapshot returns the subscriber set in registration order. The copy
// lets callers iterate and send without holding the queue lock.
func (q *Queue) ClientsSnapshot() []*Client {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Client, len(q.clients))
	copy(out, q.clients)
	return out
}

// ClientCount returns the subscriber count.
func (q *Queue) ClientCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.clients)
}

// destroy tears the queue down. Called by the manager with the queue already
// out of the registry.
func (q *Queue) destroy() {
	q.mu.Lock()
	if q.status == types.StatusDestroyed {
		q.mu.Unlock()
		return
	}
	q.status = types.StatusDestroyed
	q.cond.Broadcast()
	q.clients = nil
	q.mu.Unlock()

	q.stopOnce.Do(func() { close(q.stopCh) })
	q.tracker.Destroy()
	q.store.ClearAll()
	q.releaseAck()
}
