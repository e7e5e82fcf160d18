// Package wsgateway implements the optional read-only WebSocket bridge
// (D2): browsers can watch a key over a plain WebSocket and receive JSON
// text frames for every update, without speaking the binary wire protocol.
// It is grounded on the teacher's gobwas/ws handshake and read/write pump
// structure, repurposed from a broadcast hub into a per-key watch bridge.
package wsgateway

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"

	"github.com/odin-platform/overseer/internal/model"
	"github.com/odin-platform/overseer/internal/store"
	"github.com/odin-platform/overseer/internal/watcher"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Gateway serves the read-only WebSocket bridge on its own listen
// address, subscribing watchers directly against the shared store rather
// than opening a loopback wire connection to itself.
type Gateway struct {
	store *store.Store
	addr  string
	log   zerolog.Logger
}

// New builds a Gateway that bridges st to browsers connecting on
// listenAddr.
func New(store *store.Store, listenAddr string, log zerolog.Logger) *Gateway {
	return &Gateway{store: store, addr: listenAddr, log: log.With().Str("component", "wsgateway").Logger()}
}

// Run serves the gateway until ctx is done.
func (g *Gateway) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", g.serveWS)

	srv := &http.Server{Addr: g.addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

type pushEvent struct {
	Key     string      `json:"key"`
	Value   interface{} `json:"value,omitempty"`
	Deleted bool        `json:"deleted"`
}

func (g *Gateway) serveWS(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		http.Error(w, "missing key query parameter", http.StatusBadRequest)
		return
	}
	k, err := model.NewKey(key)
	if err != nil {
		http.Error(w, "invalid key: "+err.Error(), http.StatusBadRequest)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		g.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	clientID := model.ClientID(time.Now().UnixNano())
	consumer, err := g.store.Subscribe(k, clientID, watcher.Ordered, store.ActivityKickback)
	if err != nil {
		g.log.Warn().Err(err).Str("key", key).Msg("gateway subscribe failed")
		_ = conn.Close()
		return
	}

	go g.readPump(conn, k, clientID)
	g.writePump(conn, k, clientID, consumer)
}

// readPump exists only to detect client disconnect; the bridge is
// read-only so any inbound data frame is discarded.
func (g *Gateway) readPump(conn net.Conn, key model.Key, clientID model.ClientID) {
	for {
		_, op, err := wsutil.ReadClientData(conn)
		if err != nil || op == ws.OpClose {
			_, _ = g.store.Release(key, clientID)
			return
		}
	}
}

func (g *Gateway) writePump(conn net.Conn, key model.Key, clientID model.ClientID, consumer *watcher.Consumer) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer conn.Close()
	defer g.store.Release(key, clientID)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	notifyCh := make(chan *model.Value, 16)
	go func() {
		for {
			v, err := consumer.Wait(ctx)
			if err != nil || consumer.IsKilled() {
				close(notifyCh)
				return
			}
			select {
			case notifyCh <- v:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case v, ok := <-notifyCh:
			if !ok {
				return
			}
			if err := g.sendEvent(conn, key, v); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(conn, ws.OpPing, nil); err != nil {
				return
			}
		}
	}
}

func (g *Gateway) sendEvent(conn net.Conn, key model.Key, v *model.Value) error {
	event := pushEvent{Key: string(key), Deleted: v == nil}
	if v != nil {
		switch v.Tag() {
		case model.TagString:
			s, _ := v.AsString()
			event.Value = s
		case model.TagInteger:
			i, _ := v.AsInteger()
			event.Value = i
		}
	}
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return wsutil.WriteServerMessage(conn, ws.OpText, body)
}
