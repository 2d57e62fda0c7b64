// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package cluster

import (
	"context"
	"testing"

	"github.com/absmach/steed/protocol"
	"github.com/absmach/steed/queue/types"
	"github.com/stretchr/testify/assert"
)

func TestStandalone(t *testing.T) {
	c := NewStandalone()

	assert.Equal(t, StateMain, c.State())
	assert.Equal(t, ModeStandalone, c.Mode())

	ctx := context.Background()
	m := protocol.NewMessage(protocol.KindQueueMessage, "q", nil)
	assert.NoError(t, c.SendQueueMessage(ctx, "q", m))
	assert.NoError(t, c.SendPutBack(ctx, "q", m, true))
	assert.NoError(t, c.SendMessageRemoval(ctx, "q", "m-1"))
	assert.NoError(t, c.SendQueueUpdated(ctx, "q", types.DefaultOptions()))
	assert.NoError(t, c.SendQueueRemoved(ctx, "q"))
}
