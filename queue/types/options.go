// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"strconv"
	"strings"
	"time"

	"github.com/absmach/steed/protocol"
)

// QueueType selects the dispatch strategy of a queue.
type QueueType int

const (
	TypePush QueueType = iota
	TypeRoundRobin
	TypePull
)

// ParseQueueType parses the Queue-Type header value.
func ParseQueueType(s string) (QueueType, bool) {
	switch strings.ToLower(s) {
	case "push":
		return TypePush, true
	case "roundrobin", "round-robin":
		return TypeRoundRobin, true
	case "pull":
		return TypePull, true
	default:
		return TypePush, false
	}
}

// String returns the header form of the queue type.
func (t QueueType) String() string {
	switch t {
	case TypeRoundRobin:
		return "RoundRobin"
	case TypePull:
		return "Pull"
	default:
		return "Push"
	}
}

// Status is the queue lifecycle state.
type Status int

const (
	StatusNotInitialized Status = iota
	StatusRunning
	StatusPaused
	StatusOnlyConsume
	StatusSyncing
	StatusDestroyed
)

// String returns a log-friendly status name.
func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusPaused:
		return "paused"
	case StatusOnlyConsume:
		return "only-consume"
	case StatusSyncing:
		return "syncing"
	case StatusDestroyed:
		return "destroyed"
	default:
		return "not-initialized"
	}
}

// AckMode controls consumer acknowledgement handling.
type AckMode int

const (
	// AckNone disables acknowledgement tracking entirely.
	AckNone AckMode = iota
	// AckJust tracks acknowledgements but sends the next message without
	// waiting for the previous one.
	AckJust
	// AckWait serialises deliveries: the next message is not sent until the
	// previous delivery is acked, nacked or timed out.
	AckWait
)

// ParseAckMode parses the Acknowledge header value.
func ParseAckMode(s string) (AckMode, bool) {
	switch strings.ToLower(s) {
	case "none":
		return AckNone, true
	case "just":
		return AckJust, true
	case "wait":
		return AckWait, true
	default:
		return AckNone, false
	}
}

// String returns the header form of the ack mode.
func (m AckMode) String() string {
	switch m {
	case AckJust:
		return "just"
	case AckWait:
		return "wait"
	default:
		return "none"
	}
}

// AutoDestroy selects when an idle queue removes itself.
type AutoDestroy int

const (
	AutoDestroyDisabled AutoDestroy = iota
	AutoDestroyNoConsumers
	AutoDestroyNoMessages
	AutoDestroyEmpty
)

// ParseAutoDestroy parses the Auto-Destroy header value.
func ParseAutoDestroy(s string) (AutoDestroy, bool) {
	switch strings.ToLower(s) {
	case "disabled":
		return AutoDestroyDisabled, true
	case "no-consumers":
		return AutoDestroyNoConsumers, true
	case "no-messages":
		return AutoDestroyNoMessages, true
	case "empty":
		return AutoDestroyEmpty, true
	default:
		return AutoDestroyDisabled, false
	}
}

// String returns the header form of the auto-destroy policy.
func (d AutoDestroy) String() string {
	switch d {
	case AutoDestroyNoConsumers:
		return "no-consumers"
	case AutoDestroyNoMessages:
		return "no-messages"
	case AutoDestroyEmpty:
		return "empty"
	default:
		return "disabled"
	}
}

// Options holds per-queue configuration. Values come from broker defaults,
// queue-create requests and the first pushed message's headers.
type Options struct {
	Type                 QueueType
	Topic                string
	Acknowledge          AckMode
	HandlerName          string
	MessageTimeout       time.Duration
	AckTimeout           time.Duration
	DelayBetweenMessages time.Duration
	PutBackDelay         time.Duration
	MessageLimit         int
	MessageSizeLimit     int64
	ClientLimit          int
	AutoDestroy          AutoDestroy
}

// DefaultOptions returns the options a queue starts with before any header
// overrides.
func DefaultOptions() Options {
	return Options{
		Type:        TypePush,
		Acknowledge: AckNone,
		HandlerName: "Default",
		AckTimeout:  15 * time.Second,
	}
}

// ApplyHeaders overrides option fields from message headers. Unknown or
// malformed values leave the current setting untouched.
func (o *Options) ApplyHeaders(h protocol.Headers) {
	if v, ok := h.Get(protocol.HeaderQueueType); ok {
		if t, valid := ParseQueueType(v); valid {
			o.Type = t
		}
	}
	if v, ok := h.Get(protocol.HeaderQueueTopic); ok {
		o.Topic = v
	}
	if v, ok := h.Get(protocol.HeaderAcknowledge); ok {
		if m, valid := ParseAckMode(v); valid {
			o.Acknowledge = m
		}
	}
	if v, ok := h.Get(protocol.HeaderDeliveryHandler); ok && v != "" {
		o.HandlerName = v
	}
	if v, ok := h.Get(protocol.HeaderMessageTimeout); ok {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			o.MessageTimeout = time.Duration(secs) * time.Second
		}
	}
	if v, ok := h.Get(protocol.HeaderAckTimeout); ok {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			o.AckTimeout = time.Duration(secs) * time.Second
		}
	}
	if v, ok := h.Get(protocol.HeaderDelayBetweenMessages); ok {
		if ms, err := strconv.Atoi(v); err == nil && ms >= 0 {
			o.DelayBetweenMessages = time.Duration(ms) * time.Millisecond
		}
	}
	if v, ok := h.Get(protocol.HeaderPutBackDelay); ok {
		if ms, err := strconv.Atoi(v); err == nil && ms >= 0 {
			o.PutBackDelay = time.Duration(ms) * time.Millisecond
		}
	}
	if v, ok := h.Get(protocol.HeaderMessageLimit); ok {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			o.MessageLimit = n
		}
	}
	if v, ok := h.Get(protocol.HeaderMessageSizeLimit); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			o.MessageSizeLimit = n
		}
	}
	if v, ok := h.Get(protocol.HeaderClientLimit); ok {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			o.ClientLimit = n
		}
	}
	if v, ok := h.Get(protocol.HeaderAutoDestroy); ok {
		if d, valid := ParseAutoDestroy(v); valid {
			o.AutoDestroy = d
		}
	}
}
