// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package webhook

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/absmach/steed/events"
	"github.com/sony/gobreaker"
)

// Config holds webhook notifier settings.
type Config struct {
	URL     string
	Headers map[string]string
	Timeout time.Duration

	// QueueSize bounds the in-flight event buffer; overflow is dropped.
	QueueSize int

	// FailureThreshold consecutive failures open the circuit breaker.
	FailureThreshold int

	// ResetTimeout is how long the breaker stays open before probing.
	ResetTimeout time.Duration

	// EventFilter limits delivery to the listed event types. Empty means
	// everything.
	EventFilter []string
}

// Notifier is an events.Sink that POSTs JSON envelopes to an HTTP endpoint.
// Delivery is asynchronous and best-effort: a full buffer drops events, and a
// circuit breaker shields the broker from a failing endpoint.
type Notifier struct {
	cfg      Config
	sender   Sender
	breaker  *gobreaker.CircuitBreaker
	filter   map[string]bool
	queue    chan events.Envelope
	logger   *slog.Logger
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// NewNotifier creates a notifier and starts its delivery worker.
func NewNotifier(cfg Config, sender Sender, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	if sender == nil {
		sender = NewHTTPSender()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}

	var filter map[string]bool
	if len(cfg.EventFilter) > 0 {
		filter = make(map[string]bool, len(cfg.EventFilter))
		for _, t := range cfg.EventFilter {
			filter[t] = true
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Notifier{
		cfg:    cfg,
		sender: sender,
		filter: filter,
		queue:  make(chan events.Envelope, cfg.QueueSize),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}

	n.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "webhook",
		MaxRequests: 1,
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.FailureThreshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("webhook circuit breaker state changed",
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})

	n.wg.Add(1)
	go n.worker()
	return n
}

// Deliver implements events.Sink. It never blocks the event bus: when the
// buffer is full the event is dropped and counted in the log.
func (n *Notifier) Deliver(e events.Envelope) {
	if n.filter != nil && !n.filter[e.EventType] {
		return
	}
	select {
	case n.queue <- e:
	default:
		n.logger.Warn("webhook queue full, event dropped",
			slog.String("event", e.EventType))
	}
}

// Close stops the worker after draining queued events.
func (n *Notifier) Close() {
	n.stopOnce.Do(func() {
		close(n.queue)
		n.wg.Wait()
		n.cancel()
	})
}

func (n *Notifier) worker() {
	defer n.wg.Done()

	for e := range n.queue {
		payload, err := json.Marshal(e)
		if err != nil {
			n.logger.Error("webhook marshal failed",
				slog.String("event", e.EventType), slog.Any("error", err))
			continue
		}

		_, err = n.breaker.Execute(func() (any, error) {
			// The sender bounds the delivery by the configured timeout.
			return nil, n.sender.Send(n.ctx, n.cfg.URL, n.cfg.Headers, payload, n.cfg.Timeout)
		})
		if err != nil {
			n.logger.Warn("webhook delivery failed",
				slog.String("event", e.EventType), slog.Any("error", err))
		}
	}
}
