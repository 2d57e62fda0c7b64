// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package cluster

import (
	"context"

	"github.com/absmach/steed/protocol"
	"github.com/absmach/steed/queue/types"
)

// NodeState is this node's role in a cluster.
type NodeState int

const (
	// StateMain accepts producer writes and drives replication.
	StateMain NodeState = iota
	// StateSuccessor is the designated next main.
	StateSuccessor
	// StateReplica only mirrors queue content.
	StateReplica
)

// Mode selects the replication contract.
type Mode int

const (
	// ModeStandalone runs without replication.
	ModeStandalone Mode = iota
	// ModeReliable requires replication to succeed before a producer push is
	// accepted.
	ModeReliable
)

// Coordinator is the replication hook the queue pipeline calls at well-defined
// points. Implementations handle node discovery, transport and sync; the
// queue only reports what happened.
type Coordinator interface {
	State() NodeState
	Mode() Mode

	// SendQueueMessage replicates a freshly produced message. In reliable
	// mode a returned error aborts the push.
	SendQueueMessage(ctx context.Context, queueName string, m *protocol.Message) error

	// SendPutBack replicates a put-back re-insertion.
	SendPutBack(ctx context.Context, queueName string, m *protocol.Message, priority bool) error

	// SendMessageRemoval replicates a message deletion.
	SendMessageRemoval(ctx context.Context, queueName, messageID string) error

	// SendQueueUpdated replicates queue creation and option changes.
	SendQueueUpdated(ctx context.Context, queueName string, opts types.Options) error

	// SendQueueRemoved replicates queue removal.
	SendQueueRemoved(ctx context.Context, queueName string) error
}
