// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"time"

	"github.com/absmach/steed/protocol"
)

// Message is the queue envelope around a protocol frame. It carries the
// delivery bookkeeping the queue pipeline needs: lifecycle flags, the
// producer reference for acknowledgements, and the running decision.
//
// Flag invariants: IsInQueue and IsRemoved are mutually exclusive; IsSent and
// IsSaved only ever transition to true. All flags are mutated while the
// owning queue holds its lock.
type Message struct {
	Message         *protocol.Message
	CreatedAt       time.Time
	Deadline        time.Time
	IsInQueue       bool
	IsSent          bool
	IsRemoved       bool
	IsSaved         bool
	ProducerAckSent bool
	Source          protocol.Peer
	Decision        Decision
	Receivers       []protocol.Peer
}

// NewMessage wraps a frame in a fresh envelope.
func NewMessage(m *protocol.Message) *Message {
	return &Message{
		Message:   m,
		CreatedAt: time.Now(),
	}
}

// MarkInQueue flags the message as stored. A removed message cannot re-enter
// the queue under the same envelope.
func (m *Message) MarkInQueue() {
	if !m.IsRemoved {
		m.IsInQueue = true
	}
}

// MarkSent records the first successful transmission to a consumer.
func (m *Message) MarkSent() {
	m.IsSent = true
}

// MarkSaved records that the delivery handler persisted the message.
func (m *Message) MarkSaved() {
	m.IsSaved = true
}

// MarkRemoved takes the message out of the queue permanently.
func (m *Message) MarkRemoved() {
	m.IsInQueue = false
	m.IsRemoved = true
}

// AddReceiver records a consumer that was handed this message.
func (m *Message) AddReceiver(p protocol.Peer) {
	m.Receivers = append(m.Receivers, p)
}

// PutBack selects the re-insertion class of a returned message.
type PutBack int

const (
	PutBackNo PutBack = iota
	PutBackPriority
	PutBackRegular
)

// Transmission is the producer acknowledgement instruction.
type Transmission int

const (
	TransmissionNone Transmission = iota
	TransmissionSuccessful
	TransmissionFailed
)

// Decision is the delivery handler's instruction set after a lifecycle
// callback. The zero value allows the pipeline to proceed and does nothing
// else.
type Decision struct {
	Interrupt    bool
	Save         bool
	Delete       bool
	PutBack      PutBack
	Transmission Transmission
}

// Merge combines two decisions: booleans are OR-ed, and for PutBack and
// Transmission a non-default value overrides the default.
func (d Decision) Merge(o Decision) Decision {
	out := Decision{
		Interrupt:    d.Interrupt || o.Interrupt,
		Save:         d.Save || o.Save,
		Delete:       d.Delete || o.Delete,
		PutBack:      d.PutBack,
		Transmission: d.Transmission,
	}
	if o.PutBack != PutBackNo {
		out.PutBack = o.PutBack
	}
	if o.Transmission != TransmissionNone {
		out.Transmission = o.Transmission
	}
	return out
}

// Allow is the pass-through decision.
func Allow() Decision {
	return Decision{}
}

// DeleteMessage removes the message after the current step.
func DeleteMessage() Decision {
	return Decision{Delete: true}
}

// PutBackMessage returns the message to the queue at the given class.
func PutBackMessage(k PutBack) Decision {
	return Decision{PutBack: k}
}

// TransmitToProducer sends an ack or nack back to the producer.
func TransmitToProducer(t Transmission) Decision {
	return Decision{Transmission: t}
}

// Interrupt stops the pipeline after applying the rest of the decision.
func Interrupt() Decision {
	return Decision{Interrupt: true}
}
