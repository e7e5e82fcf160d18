package netio

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/odin-platform/overseer/internal/model"
	"github.com/odin-platform/overseer/internal/ratelimit"
	"github.com/odin-platform/overseer/internal/wire"
)

// pushID is the PacketID carried by every server-initiated notification,
// per §3: "id == 0 is reserved for server-initiated pushes."
var pushID = wire.PacketID{ID: 0, Order: 0}

// connection is one accepted TCP client: a read loop, a write pump
// draining a bounded outbound mailbox, and zero or more subscriber tasks
// turning watcher wakeups into Notify pushes.
type connection struct {
	id      model.ClientID
	conn    net.Conn
	srv     *Server
	outbox  chan wire.Packet
	limiter *ratelimit.Limiter
	log     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	subMu    sync.Mutex
	subTasks map[model.Key]context.CancelFunc

	closeOnce sync.Once
}

func newConnection(srv *Server, id model.ClientID, nc net.Conn, parent context.Context) *connection {
	ctx, cancel := context.WithCancel(parent)
	return &connection{
		id:       id,
		conn:     nc,
		srv:      srv,
		outbox:   make(chan wire.Packet, srv.outboxCapacity),
		limiter:  ratelimit.New(srv.maxRequestsPerSec),
		log:      srv.log.With().Uint64("client_id", uint64(id)).Logger(),
		ctx:      ctx,
		cancel:   cancel,
		subTasks: make(map[model.Key]context.CancelFunc),
	}
}

// serve runs the connection to completion: write pump in the background,
// read loop in the caller's goroutine. It returns once the connection has
// fully torn down.
func (c *connection) serve() {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writePump()
	}()

	// Force the connection closed when its context is cancelled from the
	// outside (server shutdown), since the read loop below is otherwise
	// blocked in wire.ReadFrame with no other way to wake up.
	go func() {
		<-c.ctx.Done()
		c.teardown()
	}()

	c.readLoop()
	c.teardown()
	wg.Wait()
}

func (c *connection) readLoop() {
	for {
		pkt, err := wire.ReadFrame(c.conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.log.Debug().Err(err).Msg("connection read error, tearing down")
			}
			return
		}
		if !c.limiter.Allow() {
			c.log.Warn().Msg("client exceeded request rate limit, disconnecting")
			return
		}
		if err := c.dispatch(pkt); err != nil {
			c.log.Debug().Err(err).Msg("dispatch error, tearing down")
			return
		}
	}
}

func (c *connection) writePump() {
	for {
		select {
		case pkt, ok := <-c.outbox:
			if !ok {
				return
			}
			if err := c.srv.pool.writeFrame(c.conn, pkt); err != nil {
				c.log.Debug().Err(err).Msg("write error, tearing down")
				c.cancel()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// enqueue suspends the caller on the bounded outbound mailbox, per the
// suspension points §5 names for "enqueueing on a bounded mailbox (write
// pump inbound)" — a full mailbox applies backpressure to whatever is
// depositing into it (the read loop or a subscriber task), it does not
// drop. The only escape is the connection already tearing down, which is
// the real failure mode the outbox-dropped metric counts.
func (c *connection) enqueue(pkt wire.Packet) {
	select {
	case c.outbox <- pkt:
	case <-c.ctx.Done():
		c.srv.metrics.IncOutboxDropped()
		c.log.Debug().Msg("dropping packet enqueued after connection teardown")
	}
}

func (c *connection) teardown() {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.conn.Close()
		if err := c.srv.store.ReleaseAllForClient(c.id); err != nil {
			c.log.Debug().Err(err).Msg("failed to release subscriptions on teardown")
		}
	})
}

// encodeLen returns n as the 4-byte big-endian length prefix that
// WriteFrame/ReadFrame handle. Nothing in this package calls it.
func encodeLen(n uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], n)
	return b[:]
}
