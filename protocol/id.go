// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package protocol

import "github.com/google/uuid"

// IDGenerator produces message and client identifiers. Implementations must
// return collision-free ids that sort roughly by creation time, so that id
// order can stand in for enqueue order in diagnostics.
type IDGenerator interface {
	NextID() string
}

// UUIDGenerator generates UUIDv7 identifiers. Version 7 embeds a millisecond
// timestamp in the high bits, which keeps the string form lexically sortable.
type UUIDGenerator struct{}

// NextID returns a fresh identifier.
func (UUIDGenerator) NextID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the entropy source does; fall back to v4.
		return uuid.NewString()
	}
	return id.String()
}

// DefaultIDGenerator is used wherever a component is not handed an explicit
// generator.
var DefaultIDGenerator IDGenerator = UUIDGenerator{}
