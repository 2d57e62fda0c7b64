// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"errors"
	"strings"
)

// ContentType discriminates operations within a frame kind. For
// KindServerRequest frames it selects the operation; for KindResponse frames
// it carries the result code.
type ContentType uint16

// Server request operations.
const (
	ContentQueueSubscribe   ContentType = 101
	ContentQueueUnsubscribe ContentType = 102
	ContentQueueCreate      ContentType = 110
	ContentQueueRemove      ContentType = 111
	ContentQueueUpdate      ContentType = 112
	ContentQueueClear       ContentType = 113
	ContentQueueList        ContentType = 114
	ContentQueuePull        ContentType = 115

	ContentRouterCreate  ContentType = 120
	ContentRouterRemove  ContentType = 121
	ContentRouterList    ContentType = 122
	ContentBindingAdd    ContentType = 123
	ContentBindingRemove ContentType = 124
	ContentBindingList   ContentType = 125

	ContentChannelSubscribe   ContentType = 130
	ContentChannelUnsubscribe ContentType = 131
	ContentChannelCreate      ContentType = 132
	ContentChannelRemove      ContentType = 133
	ContentChannelList        ContentType = 134
)

// Result is the outcome code of a user-visible operation, carried in the
// content type field of response frames.
type Result uint16

const (
	ResultSuccess            Result = 200
	ResultUnauthorized       Result = 401
	ResultNotFound           Result = 404
	ResultDuplicate          Result = 409
	ResultLimitExceeded      Result = 429
	ResultStatusNotSupported Result = 450
	ResultNoConsumers        Result = 451
	ResultNoReceivers        Result = 452
	ResultNoBindings         Result = 453
	ResultDisabled           Result = 454
	ResultError              Result = 500
)

// String returns the taxonomy name of a result code.
func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultUnauthorized:
		return "unauthorized"
	case ResultNotFound:
		return "not-found"
	case ResultDuplicate:
		return "duplicate"
	case ResultLimitExceeded:
		return "limit-exceeded"
	case ResultStatusNotSupported:
		return "status-not-supported"
	case ResultNoConsumers:
		return "no-consumers"
	case ResultNoReceivers:
		return "no-receivers"
	case ResultNoBindings:
		return "no-bindings"
	case ResultDisabled:
		return "disabled"
	default:
		return "error"
	}
}

// ErrInvalidName is returned for entity names the broker cannot accept.
var ErrInvalidName = errors.New("invalid entity name")

// ValidateName checks a queue, router, channel or binding name. Names are
// case-insensitive on lookup and must not contain separators the protocol
// reserves.
func ValidateName(name string) error {
	if name == "" {
		return ErrInvalidName
	}
	if strings.ContainsAny(name, " *;") {
		return ErrInvalidName
	}
	return nil
}

// NormalizeName folds a name for case-insensitive registry lookup.
func NormalizeName(name string) string {
	return strings.ToLower(name)
}
