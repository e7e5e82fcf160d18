// Package client is a Go client for Overseer's wire protocol: lazy
// connect-on-first-use, a monotonic request id per outstanding call, and
// a LiveValue mirror for subscriptions. It is grounded on the original
// connector client (original_source/overseer-client/src/connector/client.rs),
// translated from Rust's async/DashMap/oneshot idioms into goroutines,
// a mutex-guarded map, and per-call response channels.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/odin-platform/overseer/internal/model"
	"github.com/odin-platform/overseer/internal/wire"
)

// ErrUnexpectedResponse is returned when the server answers a request
// with a payload shape other than the one the protocol promises for it.
var ErrUnexpectedResponse = errors.New("client: unexpected response payload from server")

// Client is a connection to one Overseer server. It dials lazily on first
// use and is safe for concurrent use by multiple goroutines.
type Client struct {
	addr string

	mu   sync.Mutex
	conn net.Conn

	nextID uint32

	pendingMu sync.Mutex
	pending   map[uint32]chan wire.Packet

	watchedMu sync.Mutex
	watched   map[model.Key]*LiveValue
}

// New creates a Client targeting addr. No connection is made until the
// first request.
func New(addr string) *Client {
	return &Client{
		addr:    addr,
		pending: make(map[uint32]chan wire.Packet),
		watched: make(map[model.Key]*LiveValue),
	}
}

// ResetConnection tears down the current connection, if any, so the next
// request dials fresh. Outstanding requests are failed with an error.
func (c *Client) ResetConnection() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (c *Client) ensureConnected() (net.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn, nil
	}
	conn, err := net.Dial("tcp", c.addr)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", c.addr, err)
	}
	c.conn = conn
	go c.readLoop(conn)
	return conn, nil
}

// readLoop is the client's single reader goroutine: it demultiplexes
// every inbound frame to either a pending request's response channel or,
// for id == 0 pushes, the watched key's LiveValue.
func (c *Client) readLoop(conn net.Conn) {
	for {
		pkt, err := wire.ReadFrame(conn)
		if err != nil {
			c.failAllPending(err)
			return
		}
		if pkt.ID.IsPush() {
			notify, ok := pkt.Payload.(wire.NotifyPayload)
			if !ok {
				continue
			}
			c.watchedMu.Lock()
			lv, ok := c.watched[notify.Key]
			c.watchedMu.Unlock()
			if ok {
				lv.update(notify.Value)
			}
			continue
		}

		c.pendingMu.Lock()
		ch, ok := c.pending[pkt.ID.ID]
		if ok {
			delete(c.pending, pkt.ID.ID)
		}
		c.pendingMu.Unlock()
		if ok {
			ch <- pkt
		}
	}
}

func (c *Client) failAllPending(err error) {
	c.pendingMu.Lock()
	pending := c.pending
	c.pending = make(map[uint32]chan wire.Packet)
	c.pendingMu.Unlock()
	for _, ch := range pending {
		close(ch)
	}
	_ = err
}

func (c *Client) nextPacketID() wire.PacketID {
	id := atomic.AddUint32(&c.nextID, 1)
	return wire.PacketID{ID: id, Order: 0}
}

// send writes pkt and blocks until its response arrives, ctx is done, or
// the connection fails.
func (c *Client) send(ctx context.Context, pkt wire.Packet) (wire.Packet, error) {
	conn, err := c.ensureConnected()
	if err != nil {
		return wire.Packet{}, err
	}

	respCh := make(chan wire.Packet, 1)
	c.pendingMu.Lock()
	c.pending[pkt.ID.ID] = respCh
	c.pendingMu.Unlock()

	if err := wire.WriteFrame(conn, pkt); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, pkt.ID.ID)
		c.pendingMu.Unlock()
		return wire.Packet{}, err
	}

	select {
	case resp, ok := <-respCh:
		if !ok {
			return wire.Packet{}, fmt.Errorf("client: connection closed while awaiting response")
		}
		return resp, nil
	case <-ctx.Done():
		return wire.Packet{}, ctx.Err()
	}
}

// Get returns the current value bound to key, or nil if unbound.
func (c *Client) Get(ctx context.Context, key model.Key) (*model.Value, error) {
	resp, err := c.send(ctx, wire.Packet{ID: c.nextPacketID(), Payload: wire.GetPayload{Key: key}})
	if err != nil {
		return nil, err
	}
	ret, ok := resp.Payload.(wire.ReturnPayload)
	if !ok {
		return nil, ErrUnexpectedResponse
	}
	return ret.Value, nil
}

// Insert binds key to value and returns the value as confirmed by the
// server, per the ack-via-Return convention.
func (c *Client) Insert(ctx context.Context, key model.Key, value model.Value) (*model.Value, error) {
	resp, err := c.send(ctx, wire.Packet{ID: c.nextPacketID(), Payload: wire.InsertPayload{Key: key, Value: value}})
	if err != nil {
		return nil, err
	}
	ret, ok := resp.Payload.(wire.ReturnPayload)
	if !ok {
		return nil, ErrUnexpectedResponse
	}
	return ret.Value, nil
}

// Delete removes key's binding, if any.
func (c *Client) Delete(ctx context.Context, key model.Key) error {
	resp, err := c.send(ctx, wire.Packet{ID: c.nextPacketID(), Payload: wire.DeletePayload{Key: key}})
	if err != nil {
		return err
	}
	if _, ok := resp.Payload.(wire.GetPayload); !ok {
		return ErrUnexpectedResponse
	}
	return nil
}

// Subscribe registers a watch for key and returns a LiveValue that tracks
// its server-pushed updates.
func (c *Client) Subscribe(ctx context.Context, key model.Key, activity wire.Activity, behaviour wire.Behaviour) (*LiveValue, error) {
	lv := newLiveValue()
	c.watchedMu.Lock()
	c.watched[key] = lv
	c.watchedMu.Unlock()

	resp, err := c.send(ctx, wire.Packet{ID: c.nextPacketID(), Payload: wire.WatchPayload{Key: key, Activity: activity, Behaviour: behaviour}})
	if err != nil {
		c.watchedMu.Lock()
		delete(c.watched, key)
		c.watchedMu.Unlock()
		return nil, err
	}
	if _, ok := resp.Payload.(wire.GetPayload); !ok {
		c.watchedMu.Lock()
		delete(c.watched, key)
		c.watchedMu.Unlock()
		return nil, ErrUnexpectedResponse
	}
	return lv, nil
}

// Release cancels a previous Subscribe for key.
func (c *Client) Release(ctx context.Context, key model.Key) error {
	c.watchedMu.Lock()
	delete(c.watched, key)
	c.watchedMu.Unlock()

	resp, err := c.send(ctx, wire.Packet{ID: c.nextPacketID(), Payload: wire.ReleasePayload{Key: key}})
	if err != nil {
		return err
	}
	if _, ok := resp.Payload.(wire.GetPayload); !ok {
		return ErrUnexpectedResponse
	}
	return nil
}

// Close tears down the client's connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}
