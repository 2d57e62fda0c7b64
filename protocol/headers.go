// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package protocol

import "strings"

// Well-known header names interpreted by the broker core. Header names are
// matched case-insensitively.
const (
	HeaderAcknowledge          = "Acknowledge"
	HeaderQueueName            = "Queue-Name"
	HeaderQueueType            = "Queue-Type"
	HeaderQueueTopic           = "Queue-Topic"
	HeaderChannelTopic         = "Channel-Topic"
	HeaderPutBackDelay         = "Put-Back-Delay"
	HeaderPutBack              = "Put-Back"
	HeaderMessageTimeout       = "Message-Timeout"
	HeaderAckTimeout           = "Ack-Timeout"
	HeaderDelayBetweenMessages = "Delay-Between-Messages"
	HeaderDeliveryHandler      = "Delivery-Handler"
	HeaderNackReason           = "Nack-Reason"
	HeaderRouteMethod          = "Route-Method"
	HeaderBindingName          = "Binding-Name"
	HeaderBindingType          = "Binding-Type"
	HeaderTarget               = "Target"
	HeaderPriority             = "Priority"
	HeaderInteraction          = "Interaction"
	HeaderContentType          = "Content-Type"
	HeaderFilter               = "Filter"
	HeaderClearPriority        = "Clear-Priority"
	HeaderClearMessages        = "Clear-Messages"
	HeaderMessageLimit         = "Message-Limit"
	HeaderMessageSizeLimit     = "Message-Size-Limit"
	HeaderClientLimit          = "Client-Limit"
	HeaderAutoDestroy          = "Auto-Destroy"
	HeaderStatus               = "Status"
	HeaderCount                = "Count"
	HeaderOrder                = "Order"
	HeaderClearAfter           = "Clear-After"
	HeaderClientID             = "Client-Id"
	HeaderClientName           = "Client-Name"
	HeaderClientType           = "Client-Type"
	HeaderReason               = "Reason"
	HeaderMessageID            = "Message-Id"
)

// Header is a single name/value pair. Order is significant on the wire, so
// headers are kept as a slice rather than a map.
type Header struct {
	Name  string
	Value string
}

// Headers is an ordered header sequence.
type Headers []Header

// Get returns the first value with the given name.
func (h Headers) Get(name string) (string, bool) {
	for _, hdr := range h {
		if strings.EqualFold(hdr.Name, name) {
			return hdr.Value, true
		}
	}
	return "", false
}

// Has reports whether a header with the given name exists.
func (h Headers) Has(name string) bool {
	_, ok := h.Get(name)
	return ok
}

// Set replaces the first header with the given name, appending if absent.
// The receiver slice is returned because the backing array may grow.
func (h Headers) Set(name, value string) Headers {
	for i := range h {
		if strings.EqualFold(h[i].Name, name) {
			h[i].Value = value
			return h
		}
	}
	return append(h, Header{Name: name, Value: value})
}

// Add appends a header, keeping any existing values with the same name.
func (h Headers) Add(name, value string) Headers {
	return append(h, Header{Name: name, Value: value})
}

// Remove drops every header with the given name.
func (h Headers) Remove(name string) Headers {
	out := h[:0]
	for _, hdr := range h {
		if !strings.EqualFold(hdr.Name, name) {
			out = append(out, hdr)
		}
	}
	return out
}

// Clone returns an independent copy.
func (h Headers) Clone() Headers {
	if h == nil {
		return nil
	}
	cp := make(Headers, len(h))
	copy(cp, h)
	return cp
}

// operationalHeaders are broker-internal routing and configuration headers.
// They are stripped from messages before the payload reaches consumers or
// durable storage.
var operationalHeaders = []string{
	HeaderQueueName,
	HeaderQueueType,
	HeaderQueueTopic,
	HeaderChannelTopic,
	HeaderPutBackDelay,
	HeaderMessageTimeout,
	HeaderAckTimeout,
	HeaderDelayBetweenMessages,
	HeaderDeliveryHandler,
	HeaderMessageLimit,
	HeaderMessageSizeLimit,
	HeaderClientLimit,
	HeaderAutoDestroy,
	HeaderAcknowledge,
}

// StripOperational removes broker-internal headers from a message.
func StripOperational(m *Message) {
	for _, name := range operationalHeaders {
		if m.Headers.Has(name) {
			m.Headers = m.Headers.Remove(name)
		}
	}
}
