// Package store implements the in-memory key/value map with its
// per-key subscription index (C5): a single goroutine — the store loop —
// owns both the map and the storage facade, so no mutex is needed on
// either, matching the single-threaded-executor invariant in §5 of the
// expanded specification.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/odin-platform/overseer/internal/logging"
	"github.com/odin-platform/overseer/internal/model"
	"github.com/odin-platform/overseer/internal/storage"
	"github.com/odin-platform/overseer/internal/watcher"
)

// ErrAlreadySubscribed is returned by Subscribe when the (key, client)
// pair already has a live subscription.
var ErrAlreadySubscribed = errors.New("store: subscription already exists for this key and client")

// ErrClosed is returned by any operation issued after the store loop has
// stopped (Run has returned).
var ErrClosed = errors.New("store: closed")

// EventPublisher is the optional mutation-export sink (D1). Publish is
// called after a mutation has been applied and its subscribers notified;
// failures are the publisher's own concern to log, never the store's.
type EventPublisher interface {
	Publish(key model.Key, value *model.Value, deleted bool)
}

// Metrics is the subset of the process's metrics registry the store
// updates directly, kept as a small interface so this package does not
// depend on the prometheus client library.
type Metrics interface {
	SetStoreKeys(n int)
	SetWatchersActive(n int)
	IncNotifications(mode string)
}

type noopPublisher struct{}

func (noopPublisher) Publish(model.Key, *model.Value, bool) {}

type noopMetrics struct{}

func (noopMetrics) SetStoreKeys(int)        {}
func (noopMetrics) SetWatchersActive(int)   {}
func (noopMetrics) IncNotifications(string) {}

type subEntry struct {
	producer *watcher.Producer
	mode     watcher.Mode
}

// Store is the in-memory key/value map plus subscription index, run by a
// single store-loop goroutine that drains command closures off a channel.
type Store struct {
	facade    *storage.Facade
	publisher EventPublisher
	metrics   Metrics
	log       zerolog.Logger

	records map[model.Key]model.Value
	subs    map[model.Key]map[model.ClientID]subEntry

	cmds chan func()
	done chan struct{}
}

// Option configures optional collaborators of a Store.
type Option func(*Store)

// WithPublisher wires an event-export sink (D1).
func WithPublisher(p EventPublisher) Option {
	return func(s *Store) { s.publisher = p }
}

// WithMetrics wires the metrics registry (A3).
func WithMetrics(m Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// New creates a Store backed by facade and warm-starts it from whatever
// records the facade already holds on disk.
func New(facade *storage.Facade, log zerolog.Logger, opts ...Option) (*Store, error) {
	s := &Store{
		facade:    facade,
		publisher: noopPublisher{},
		metrics:   noopMetrics{},
		log:       log.With().Str("component", "store").Logger(),
		records:   make(map[model.Key]model.Value),
		subs:      make(map[model.Key]map[model.ClientID]subEntry),
		cmds:      make(chan func(), 1024),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	records, err := facade.Records()
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		s.records[r.Key] = r.Value
	}
	s.log.Info().Int("records", len(records)).Msg("store warm-started from disk")
	return s, nil
}

// Run drains the command queue until ctx is done. It must be called from
// exactly one goroutine — the store loop.
func (s *Store) Run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case cmd := <-s.cmds:
			s.runCommand(cmd)
		case <-ctx.Done():
			return
		}
	}
}

// runCommand recovers a panicking command so one bad operation cannot
// kill the single store-loop goroutine every other operation depends on.
func (s *Store) runCommand(cmd func()) {
	defer func() {
		if r := recover(); r != nil {
			logging.WithStack(s.log, fmt.Errorf("store: recovered panic: %v", r), "store loop command panicked", nil)
		}
	}()
	cmd()
}

// Wait blocks until Run has returned. Callers that cancel Run's context
// use this to know the store loop has stopped touching the storage
// facade before closing it themselves.
func (s *Store) Wait() {
	<-s.done
}

// submit hands a closure to the store loop and blocks until it runs or
// the store is shut down.
func (s *Store) submit(cmd func()) error {
	select {
	case s.cmds <- cmd:
		return nil
	case <-s.done:
		return ErrClosed
	}
}
