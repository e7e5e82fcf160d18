package netio

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/odin-platform/overseer/internal/model"
	"github.com/odin-platform/overseer/internal/storage"
	"github.com/odin-platform/overseer/internal/store"
	"github.com/odin-platform/overseer/internal/wire"
)

type noopMetrics struct{}

func (noopMetrics) IncConnectionsTotal()                              {}
func (noopMetrics) SetConnectionsActive(n int)                        {}
func (noopMetrics) IncConnectionsFailed()                             {}
func (noopMetrics) IncRequestsTotal(op string)                        {}
func (noopMetrics) ObserveRequestDuration(op string, seconds float64) {}
func (noopMetrics) IncOutboxDropped()                                 {}

func startTestServer(t *testing.T) (addr string, shutdown func()) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "overseer.db")
	facade, err := storage.Open(path, true)
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}

	st, err := store.New(facade, zerolog.Nop())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go st.Run(ctx)

	srv := NewServer(st, Config{
		MaxConnections:    16,
		OutboxCapacity:    16,
		MaxRequestsPerSec: 1000,
	}, noopMetrics{}, zerolog.Nop())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}

	done := make(chan struct{})
	go func() {
		srv.Serve(ctx, ln)
		close(done)
	}()

	return ln.Addr().String(), func() {
		cancel()
		<-done
		facade.Close()
	}
}

func roundTrip(t *testing.T, conn net.Conn, req wire.Packet) wire.Packet {
	t.Helper()
	if err := wire.WriteFrame(conn, req); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := wire.ReadFrame(conn)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	return resp
}

func TestInsertGetDeleteOverTheWire(t *testing.T) {
	addr, shutdown := startTestServer(t)
	defer shutdown()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	key := model.Key("orders/1")
	val := model.NewStringValue("filled")

	resp := roundTrip(t, conn, wire.Packet{ID: wire.PacketID{ID: 1}, Payload: wire.InsertPayload{Key: key, Value: val}})
	ret, ok := resp.Payload.(wire.ReturnPayload)
	if !ok {
		t.Fatalf("got payload %T, want ReturnPayload", resp.Payload)
	}
	if ret.Key != key || ret.Value == nil {
		t.Fatalf("unexpected insert ack: %+v", ret)
	}

	resp = roundTrip(t, conn, wire.Packet{ID: wire.PacketID{ID: 2}, Payload: wire.GetPayload{Key: key}})
	ret, ok = resp.Payload.(wire.ReturnPayload)
	if !ok {
		t.Fatalf("got payload %T, want ReturnPayload", resp.Payload)
	}
	s, ok := ret.Value.AsString()
	if !ok || s != "filled" {
		t.Fatalf("got %v, want \"filled\"", ret.Value)
	}

	resp = roundTrip(t, conn, wire.Packet{ID: wire.PacketID{ID: 3}, Payload: wire.DeletePayload{Key: key}})
	ack, ok := resp.Payload.(wire.GetPayload)
	if !ok {
		t.Fatalf("got payload %T, want GetPayload ack", resp.Payload)
	}
	if ack.Key != key {
		t.Fatalf("got ack key %q, want %q", ack.Key, key)
	}

	resp = roundTrip(t, conn, wire.Packet{ID: wire.PacketID{ID: 4}, Payload: wire.GetPayload{Key: key}})
	ret, ok = resp.Payload.(wire.ReturnPayload)
	if !ok {
		t.Fatalf("got payload %T, want ReturnPayload", resp.Payload)
	}
	if ret.Value != nil {
		t.Fatalf("expected the key to be gone after delete, got %v", ret.Value)
	}
}

func TestWatchReleaseAckAndPushOverTheWire(t *testing.T) {
	addr, shutdown := startTestServer(t)
	defer shutdown()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	key := model.Key("feed/btc-usd")

	resp := roundTrip(t, conn, wire.Packet{
		ID: wire.PacketID{ID: 1},
		Payload: wire.WatchPayload{
			Key:       key,
			Activity:  wire.ActivityLazy,
			Behaviour: wire.BehaviourOrdered,
		},
	})
	ack, ok := resp.Payload.(wire.GetPayload)
	if !ok || ack.Key != key {
		t.Fatalf("got %+v, want a GetPayload ack for %q", resp.Payload, key)
	}

	if err := wire.WriteFrame(conn, wire.Packet{
		ID:      wire.PacketID{ID: 2},
		Payload: wire.InsertPayload{Key: key, Value: model.NewIntegerValue(64000)},
	}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	// The insert ack and the Notify push are queued by different
	// goroutines, so they may arrive in either order.
	var insertResp, push wire.Packet
	for i := 0; i < 2; i++ {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		pkt, err := wire.ReadFrame(conn)
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		if pkt.ID.IsPush() {
			push = pkt
		} else {
			insertResp = pkt
		}
	}
	if _, ok := insertResp.Payload.(wire.ReturnPayload); !ok {
		t.Fatalf("got %T, want ReturnPayload for the insert ack", insertResp.Payload)
	}
	if !push.ID.IsPush() {
		t.Fatalf("expected a push packet (id 0), got %+v", push.ID)
	}
	notify, ok := push.Payload.(wire.NotifyPayload)
	if !ok {
		t.Fatalf("got %T, want NotifyPayload", push.Payload)
	}
	if notify.Key != key || notify.Value == nil {
		t.Fatalf("unexpected notify payload: %+v", notify)
	}
	i, ok := notify.Value.AsInteger()
	if !ok || i != 64000 {
		t.Fatalf("got %v, want 64000", notify.Value)
	}

	resp = roundTrip(t, conn, wire.Packet{ID: wire.PacketID{ID: 3}, Payload: wire.ReleasePayload{Key: key}})
	ack, ok = resp.Payload.(wire.GetPayload)
	if !ok || ack.Key != key {
		t.Fatalf("got %+v, want a GetPayload ack for release", resp.Payload)
	}
}
