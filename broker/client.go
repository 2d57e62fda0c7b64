// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"errors"
	"sync"
	"time"

	"github.com/absmach/steed/protocol"
)

// ErrNotConnected is returned when sending to a closed connection.
var ErrNotConnected = errors.New("client is not connected")

// Connection is the transport seam between the broker core and the protocol
// front-end. Implementations own framing and socket lifecycle.
type Connection interface {
	// Send writes one frame. Must be safe for concurrent use.
	Send(m *protocol.Message) error

	// IsConnected reports whether the transport can still write.
	IsConnected() bool

	// Close tears the transport down.
	Close() error
}

// Client is one connected peer: its identity, its transport and its
// authentication state. Client implements protocol.Peer.
type Client struct {
	id          string
	connectedAt time.Time

	mu            sync.RWMutex
	name          string
	clientType    string
	authenticated bool
	conn          Connection
}

func newBrokerClient(id, name, clientType string, conn Connection) *Client {
	return &Client{
		id:          id,
		name:        name,
		clientType:  clientType,
		conn:        conn,
		connectedAt: time.Now(),
	}
}

// ID returns the unique connection id.
func (c *Client) ID() string {
	return c.id
}

// Name returns the client-chosen name.
func (c *Client) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

// Type returns the client-declared type tag.
func (c *Client) Type() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clientType
}

// ConnectedAt returns the accept time.
func (c *Client) ConnectedAt() time.Time {
	return c.connectedAt
}

// IsAuthenticated reports whether authentication completed.
func (c *Client) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated
}

// SetAuthenticated records the authentication outcome.
func (c *Client) SetAuthenticated(ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authenticated = ok
}

// IsConnected reports whether frames can still be written.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	return conn != nil && conn.IsConnected()
}

// Send writes a frame to the client.
func (c *Client) Send(m *protocol.Message) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return ErrNotConnected
	}
	return conn.Send(m)
}

// close tears down the transport. The broker calls it during disconnect.
func (c *Client) close() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}
