// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package cluster

import (
	"context"

	"github.com/absmach/steed/protocol"
	"github.com/absmach/steed/queue/types"
)

// Standalone is the no-op coordinator for single-node operation. The node is
// always main, nothing is replicated and every send succeeds.
type Standalone struct{}

// NewStandalone creates a standalone coordinator.
func NewStandalone() *Standalone {
	return &Standalone{}
}

func (s *Standalone) State() NodeState {
	return StateMain
}

func (s *Standalone) Mode() Mode {
	return ModeStandalone
}

func (s *Standalone) SendQueueMessage(_ context.Context, _ string, _ *protocol.Message) error {
	return nil
}

func (s *Standalone) SendPutBack(_ context.Context, _ string, _ *protocol.Message, _ bool) error {
	return nil
}

func (s *Standalone) SendMessageRemoval(_ context.Context, _, _ string) error {
	return nil
}

func (s *Standalone) SendQueueUpdated(_ context.Context, _ string, _ types.Options) error {
	return nil
}

func (s *Standalone) SendQueueRemoved(_ context.Context, _ string) error {
	return nil
}
