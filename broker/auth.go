// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"

	"github.com/absmach/steed/protocol"
)

// AdminAuthorization guards admin-scoped operations (entity CRUD, clears,
// lists). Every registered hook must return true for the operation to
// proceed.
type AdminAuthorization func(ctx context.Context, c *Client, m *protocol.Message) bool

// ClientAuthorization guards per-entity operations (subscribe, publish,
// direct messages). Every registered hook must return true.
type ClientAuthorization func(ctx context.Context, c *Client, m *protocol.Message) bool

// AddAdminAuthorization registers an admin authorization hook.
func (b *Broker) AddAdminAuthorization(h AdminAuthorization) {
	b.authMu.Lock()
	defer b.authMu.Unlock()
	b.adminAuth = append(b.adminAuth, h)
}

// AddClientAuthorization registers a client authorization hook.
func (b *Broker) AddClientAuthorization(h ClientAuthorization) {
	b.authMu.Lock()
	defer b.authMu.Unlock()
	b.clientAuth = append(b.clientAuth, h)
}

// authorizeAdmin runs every admin hook; denial by any hook denies the op.
func (b *Broker) authorizeAdmin(ctx context.Context, c *Client, m *protocol.Message) bool {
	b.authMu.RLock()
	hooks := make([]AdminAuthorization, len(b.adminAuth))
	copy(hooks, b.adminAuth)
	b.authMu.RUnlock()

	for _, h := range hooks {
		if !h(ctx, c, m) {
			return false
		}
	}
	return true
}

// authorizeClient runs every client hook; denial by any hook denies the op.
func (b *Broker) authorizeClient(ctx context.Context, c *Client, m *protocol.Message) bool {
	b.authMu.RLock()
	hooks := make([]ClientAuthorization, len(b.clientAuth))
	copy(hooks, b.clientAuth)
	b.authMu.RUnlock()

	for _, h := range hooks {
		if !h(ctx, c, m) {
			return false
		}
	}
	return true
}
