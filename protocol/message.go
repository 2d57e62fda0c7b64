// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package protocol

// Kind identifies the top-level frame type. The wire codec writes it as a
// single octet; the dispatcher uses it together with ContentType to pick an
// operation.
type Kind uint8

const (
	KindNone Kind = iota
	KindPing
	KindPong
	KindServerRequest
	KindQueueMessage
	KindDirectMessage
	KindRouterMessage
	KindChannelMessage
	KindResponse
	KindAck
	KindEvent
)

// String returns a human-readable kind name for logging.
func (k Kind) String() string {
	switch k {
	case KindPing:
		return "ping"
	case KindPong:
		return "pong"
	case KindServerRequest:
		return "server"
	case KindQueueMessage:
		return "queue"
	case KindDirectMessage:
		return "direct"
	case KindRouterMessage:
		return "router"
	case KindChannelMessage:
		return "channel"
	case KindResponse:
		return "response"
	case KindAck:
		return "ack"
	case KindEvent:
		return "event"
	default:
		return "none"
	}
}

// Message is a single protocol frame. The wire codec produces and consumes
// this struct verbatim; the broker core never touches raw bytes.
type Message struct {
	ID           string
	Kind         Kind
	Target       string
	ContentType  ContentType
	HighPriority bool
	WaitResponse bool
	Headers      Headers
	Payload      []byte
}

// NewMessage creates a message of the given kind addressed to target.
func NewMessage(kind Kind, target string, payload []byte) *Message {
	return &Message{
		Kind:    kind,
		Target:  target,
		Payload: payload,
	}
}

// Clone returns a deep copy. Routers hand each binding its own copy so that
// per-binding mutation (kind, target, content type) cannot leak across
// bindings.
func (m *Message) Clone() *Message {
	cp := *m
	cp.Headers = m.Headers.Clone()
	if m.Payload != nil {
		cp.Payload = make([]byte, len(m.Payload))
		copy(cp.Payload, m.Payload)
	}
	return &cp
}

// GetHeader returns the first header value with the given name.
func (m *Message) GetHeader(name string) (string, bool) {
	return m.Headers.Get(name)
}

// SetHeader replaces the first header with the given name, appending if
// absent.
func (m *Message) SetHeader(name, value string) {
	m.Headers = m.Headers.Set(name, value)
}

// RemoveHeader removes every header with the given name.
func (m *Message) RemoveHeader(name string) {
	m.Headers = m.Headers.Remove(name)
}

// NewResponse builds a response frame for a request. The response carries the
// request id so the requester can correlate, and the result code as its
// content type.
func NewResponse(req *Message, result Result) *Message {
	return &Message{
		ID:          req.ID,
		Kind:        KindResponse,
		Target:      req.Target,
		ContentType: ContentType(result),
	}
}

// NewAck builds a positive acknowledgement for a delivered message.
func NewAck(m *Message) *Message {
	return &Message{
		ID:     m.ID,
		Kind:   KindAck,
		Target: m.Target,
	}
}

// NewNack builds a negative acknowledgement. The reason header presence is
// what distinguishes a nack from an ack on the wire.
func NewNack(m *Message, reason string) *Message {
	if reason == "" {
		reason = NackReasonNone
	}
	ack := NewAck(m)
	ack.SetHeader(HeaderNackReason, reason)
	return ack
}

// IsNack reports whether an acknowledgement frame is negative.
func (m *Message) IsNack() bool {
	_, ok := m.GetHeader(HeaderNackReason)
	return ok
}

// NackReasonNone is used when a consumer nacks without giving a reason.
const NackReasonNone = "none"
