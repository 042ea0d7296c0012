package realtime

import (
	"sync"

	v1 "trivector/shared/contracts/realtime/v1"
)

// Client is the hub-side handle of one websocket connection. The gateway's
// write pump drains Send; the hub and sessions only ever enqueue.
//
// Send is never closed: broadcasters race each other, and a send on a closed
// channel panics. Shutdown is signalled through done instead, and the pump
// simply stops draining.
type Client struct {
	ConnID string
	Send   chan v1.Envelope

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(connID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		ConnID: connID,
		Send:   make(chan v1.Envelope, sendQueueSize),
		done:   make(chan struct{}),
	}
}

// Done is closed once the client is shutting down. Safe on a nil receiver so
// teardown paths need no guards.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return c.done
}

// Close signals every goroutine attached to this client to stop. Idempotent.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() { close(c.done) })
}
