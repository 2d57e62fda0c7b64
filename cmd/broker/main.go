// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/absmach/steed/broker"
	"github.com/absmach/steed/channel"
	"github.com/absmach/steed/config"
	"github.com/absmach/steed/internal/metrics"
	"github.com/absmach/steed/queue/types"
	"github.com/absmach/steed/ratelimit"
	"github.com/absmach/steed/webhook"
)

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg := config.Default()
	if *configFile != "" {
		loaded, err := config.Load(*configFile)
		if err != nil {
			slog.Error("Failed to load configuration", "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	logLevel := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	slog.Info("Starting broker",
		"name", cfg.Broker.Name,
		"data_dir", cfg.Data.Dir,
		"cluster_mode", cfg.Cluster.Mode,
		"log_level", cfg.Log.Level)

	m, err := metrics.New()
	if err != nil {
		slog.Error("Failed to initialize metrics", "error", err)
		os.Exit(1)
	}

	var limiter *ratelimit.ClientLimiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.NewClientLimiter(cfg.RateLimit.Rate, cfg.RateLimit.Burst, time.Minute)
		slog.Info("Publish rate limiting enabled",
			"rate", cfg.RateLimit.Rate, "burst", cfg.RateLimit.Burst)
	}

	b := broker.New(broker.Options{
		Name:            cfg.Broker.Name,
		QueueDefaults:   queueDefaults(cfg.Queue),
		ChannelDefaults: channelDefaults(cfg.Channel),
		DataDir:         cfg.Data.Dir,
		Metrics:         m,
		Logger:          logger,
		RateLimiter:     limiter,
	})

	if cfg.Webhook.Enabled {
		notifier := webhook.NewNotifier(webhook.Config{
			URL:         cfg.Webhook.URL,
			Headers:     cfg.Webhook.Headers,
			Timeout:     cfg.Webhook.Timeout,
			EventFilter: cfg.Webhook.Events,
		}, nil, logger)
		defer notifier.Close()
		b.Events().Attach(notifier)
		slog.Info("Webhook notifier enabled", "url", cfg.Webhook.URL)
	}

	if err := b.LoadTopology(context.Background()); err != nil {
		slog.Error("Failed to load persisted topology", "error", err)
		os.Exit(1)
	}
	slog.Info("Topology loaded",
		"queues", b.Queues().Count(),
		"routers", len(b.Routers().List("")))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("Shutting down", "signal", sig.String())

	b.Close()
}

func queueDefaults(c config.QueueConfig) types.Options {
	opts := types.DefaultOptions()
	if t, ok := types.ParseQueueType(c.Type); ok {
		opts.Type = t
	}
	if a, ok := types.ParseAckMode(c.Acknowledge); ok {
		opts.Acknowledge = a
	}
	if c.AckTimeout > 0 {
		opts.AckTimeout = c.AckTimeout
	}
	opts.MessageTimeout = c.MessageTimeout
	opts.DelayBetweenMessages = c.DelayBetweenMessages
	opts.PutBackDelay = c.PutBackDelay
	opts.MessageLimit = c.MessageLimit
	opts.MessageSizeLimit = c.MessageSizeLimit
	opts.ClientLimit = c.ClientLimit
	if d, ok := types.ParseAutoDestroy(c.AutoDestroy); ok {
		opts.AutoDestroy = d
	}
	return opts
}

func channelDefaults(c config.ChannelConfig) channel.Options {
	return channel.Options{
		ClientLimit:      c.ClientLimit,
		MessageSizeLimit: c.MessageSizeLimit,
		AutoDestroy:      c.AutoDestroy,
	}
}
