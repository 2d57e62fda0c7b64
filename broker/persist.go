// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/absmach/steed/queue/types"
	"github.com/absmach/steed/router"
)

const (
	queuesFile  = "queues.json"
	routersFile = "routers.json"
)

// persister writes the topology files. Writes are best-effort: failures are
// logged and never propagated into the mutating pipeline.
type persister struct {
	dir     string
	logger  *slog.Logger
	mu      sync.Mutex
	enabled atomic.Bool
}

func newPersister(dir string, logger *slog.Logger) *persister {
	return &persister{dir: dir, logger: logger}
}

func (p *persister) write(file string, v any) {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		p.logger.Warn("topology marshal failed", slog.String("file", file), slog.Any("error", err))
		return
	}
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		p.logger.Warn("topology dir create failed", slog.String("dir", p.dir), slog.Any("error", err))
		return
	}
	if err := os.WriteFile(filepath.Join(p.dir, file), data, 0o644); err != nil {
		p.logger.Warn("topology write failed", slog.String("file", file), slog.Any("error", err))
	}
}

func (p *persister) read(file string, v any) (bool, error) {
	data, err := os.ReadFile(filepath.Join(p.dir, file))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("parse %s: %w", file, err)
	}
	return true, nil
}

// queueDef is the persisted form of a queue.
type queueDef struct {
	Name                 string `json:"name"`
	Type                 string `json:"type"`
	Topic                string `json:"topic,omitempty"`
	Acknowledge          string `json:"acknowledge"`
	Handler              string `json:"deliveryHandler,omitempty"`
	AckTimeoutMs         int64  `json:"ackTimeout"`
	MessageTimeoutMs     int64  `json:"messageTimeout"`
	DelayBetweenMsgsMs   int64  `json:"delayBetweenMessages"`
	PutBackDelayMs       int64  `json:"putBackDelay"`
	MessageLimit         int    `json:"messageLimit"`
	MessageSizeLimit     int64  `json:"messageSizeLimit"`
	ClientLimit          int    `json:"clientLimit"`
	AutoDestroy          string `json:"autoDestroy"`
}

// routerDef is the persisted form of a router.
type routerDef struct {
	Name      string              `json:"name"`
	Method    string              `json:"method"`
	IsEnabled bool                `json:"isEnabled"`
	Bindings  []router.Definition `json:"bindings"`
}

func queueToDef(name string, o types.Options) queueDef {
	return queueDef{
		Name:               name,
		Type:               o.Type.String(),
		Topic:              o.Topic,
		Acknowledge:        o.Acknowledge.String(),
		Handler:            o.HandlerName,
		AckTimeoutMs:       o.AckTimeout.Milliseconds(),
		MessageTimeoutMs:   o.MessageTimeout.Milliseconds(),
		DelayBetweenMsgsMs: o.DelayBetweenMessages.Milliseconds(),
		PutBackDelayMs:     o.PutBackDelay.Milliseconds(),
		MessageLimit:       o.MessageLimit,
		MessageSizeLimit:   o.MessageSizeLimit,
		ClientLimit:        o.ClientLimit,
		AutoDestroy:        o.AutoDestroy.String(),
	}
}

func defToOptions(d queueDef, base types.Options) types.Options {
	o := base
	if t, ok := types.ParseQueueType(d.Type); ok {
		o.Type = t
	}
	o.Topic = d.Topic
	if a, ok := types.ParseAckMode(d.Acknowledge); ok {
		o.Acknowledge = a
	}
	if d.Handler != "" {
		o.HandlerName = d.Handler
	}
	o.AckTimeout = time.Duration(d.AckTimeoutMs) * time.Millisecond
	o.MessageTimeout = time.Duration(d.MessageTimeoutMs) * time.Millisecond
	o.DelayBetweenMessages = time.Duration(d.DelayBetweenMsgsMs) * time.Millisecond
	o.PutBackDelay = time.Duration(d.PutBackDelayMs) * time.Millisecond
	o.MessageLimit = d.MessageLimit
	o.MessageSizeLimit = d.MessageSizeLimit
	o.ClientLimit = d.ClientLimit
	if ad, ok := types.ParseAutoDestroy(d.AutoDestroy); ok {
		o.AutoDestroy = ad
	}
	return o
}

// saveQueues writes the queues file. Wired as the queue manager's mutation
// hook.
func (b *Broker) saveQueues() {
	if b.persister == nil || !b.persister.enabled.Load() {
		return
	}

	queues := b.queues.List("")
	defs := make([]queueDef, 0, len(queues))
	for _, q := range queues {
		defs = append(defs, queueToDef(q.Name(), q.Options()))
	}
	b.persister.write(queuesFile, defs)
}

// saveRouters writes the routers file. Wired as the router registry's
// mutation hook.
func (b *Broker) saveRouters() {
	if b.persister == nil || !b.persister.enabled.Load() {
		return
	}

	routers := b.routers.List("")
	defs := make([]routerDef, 0, len(routers))
	for _, rt := range routers {
		d := routerDef{
			Name:      rt.Name(),
			Method:    rt.Method().String(),
			IsEnabled: rt.Enabled(),
		}
		for _, bd := range rt.Bindings() {
			d.Bindings = append(d.Bindings, bd.Definition())
		}
		defs = append(defs, d)
	}
	b.persister.write(routersFile, defs)
}

// LoadTopology restores queues and routers from the persisted files and then
// enables persistence. Unknown binding tags are skipped with a warning.
func (b *Broker) LoadTopology(ctx context.Context) error {
	if b.persister == nil {
		return nil
	}
	defer b.persister.enabled.Store(true)

	var qdefs []queueDef
	if ok, err := b.persister.read(queuesFile, &qdefs); err != nil {
		return err
	} else if ok {
		for _, d := range qdefs {
			opts := defToOptions(d, b.queues.Defaults())
			q, err := b.queues.Create(ctx, d.Name, &opts)
			if err != nil {
				b.logger.Warn("persisted queue skipped",
					slog.String("queue", d.Name), slog.Any("error", err))
				continue
			}
			if err := q.Initialize(nil); err != nil {
				b.logger.Warn("persisted queue initialization failed",
					slog.String("queue", d.Name), slog.Any("error", err))
				b.queues.Remove(ctx, d.Name)
			}
		}
	}

	var rdefs []routerDef
	if ok, err := b.persister.read(routersFile, &rdefs); err != nil {
		return err
	} else if ok {
		for _, d := range rdefs {
			method, _ := router.ParseMethod(d.Method)
			rt, err := b.routers.Create(d.Name, method)
			if err != nil {
				b.logger.Warn("persisted router skipped",
					slog.String("router", d.Name), slog.Any("error", err))
				continue
			}
			rt.SetEnabled(d.IsEnabled)
			for _, bd := range d.Bindings {
				built, err := router.BuildBinding(bd, b.routers.Deps())
				if err != nil {
					b.logger.Warn("persisted binding skipped",
						slog.String("router", d.Name),
						slog.String("binding", bd.Name), slog.Any("error", err))
					continue
				}
				if err := rt.AddBinding(built); err != nil {
					b.logger.Warn("persisted binding rejected",
						slog.String("router", d.Name),
						slog.String("binding", bd.Name), slog.Any("error", err))
				}
			}
		}
	}

	return nil
}
