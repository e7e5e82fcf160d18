// Package netio is the connection multiplexer (C7): it accepts TCP
// connections, decodes wire frames, dispatches them against the store, and
// pumps responses and watcher pushes back out, per §4.7 of the expanded
// specification.
package netio

import (
	"context"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/odin-platform/overseer/internal/model"
	"github.com/odin-platform/overseer/internal/store"
)

// Server accepts and serves client connections against a shared Store.
type Server struct {
	store             *store.Store
	log               zerolog.Logger
	metrics           Metrics
	clientIDs         *model.ClientIDGenerator
	outboxCapacity    int
	maxRequestsPerSec float64
	maxConnections    int

	pool *bufferPool

	mu      sync.Mutex
	active  map[model.ClientID]*connection
	sem     chan struct{}
	closing bool

	wg sync.WaitGroup
}

// Config carries the subset of process configuration the connection
// multiplexer needs.
type Config struct {
	MaxConnections    int
	OutboxCapacity    int
	MaxRequestsPerSec float64
}

// NewServer builds a Server ready to Serve a listener.
func NewServer(st *store.Store, cfg Config, metrics Metrics, log zerolog.Logger) *Server {
	return &Server{
		store:             st,
		log:               log.With().Str("component", "netio").Logger(),
		metrics:           metrics,
		clientIDs:         &model.ClientIDGenerator{},
		outboxCapacity:    cfg.OutboxCapacity,
		maxRequestsPerSec: cfg.MaxRequestsPerSec,
		maxConnections:    cfg.MaxConnections,
		pool:              newBufferPool(),
		active:            make(map[model.ClientID]*connection),
		sem:               make(chan struct{}, cfg.MaxConnections),
	}
}

// Serve accepts connections from ln until ctx is done or Accept fails. It
// always blocks until every in-flight connection has torn down before
// returning, whatever the exit path, so a caller that waits on Serve can
// rely on every connection having released its hold on shared state (the
// store, the storage facade) by the time it returns.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	var acceptErr error
loop:
	for {
		nc, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
			default:
				s.log.Warn().Err(err).Msg("accept failed")
				acceptErr = err
			}
			break loop
		}

		select {
		case s.sem <- struct{}{}:
		default:
			s.log.Warn().Str("remote", nc.RemoteAddr().String()).Msg("connection limit reached, rejecting")
			s.metrics.IncConnectionsFailed()
			_ = nc.Close()
			continue
		}

		id := s.clientIDs.Next()
		conn := newConnection(s, id, nc, ctx)

		s.mu.Lock()
		s.active[id] = conn
		s.mu.Unlock()
		s.metrics.IncConnectionsTotal()
		s.metrics.SetConnectionsActive(s.connectionCount())

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() { <-s.sem }()
			defer s.removeConnection(id)
			conn.serve()
		}()
	}

	s.wg.Wait()
	return acceptErr
}

func (s *Server) removeConnection(id model.ClientID) {
	s.mu.Lock()
	delete(s.active, id)
	n := len(s.active)
	s.mu.Unlock()
	s.metrics.SetConnectionsActive(n)
}

func (s *Server) connectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}
