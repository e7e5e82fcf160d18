package client

import (
	"context"
	"sync"

	"github.com/odin-platform/overseer/internal/model"
)

// LiveValue is a client-side mirror of one watched key, updated by the
// client's background read loop whenever a Notify push arrives for it.
// It is the Go counterpart of the original connector's LiveValue: a value
// cell plus a wakeup signal, translated from tokio::sync::Notify into the
// same swap-and-close channel idiom the store's watcher package uses.
type LiveValue struct {
	mu     sync.Mutex
	value  *model.Value
	signal chan struct{}
}

func newLiveValue() *LiveValue {
	return &LiveValue{signal: make(chan struct{})}
}

// Get returns the most recently observed value, or nil if the key is
// currently unbound.
func (lv *LiveValue) Get() *model.Value {
	lv.mu.Lock()
	defer lv.mu.Unlock()
	return lv.value
}

// WaitOnUpdate blocks until the next update lands for this key, or ctx is
// done, then returns the value current at that point.
func (lv *LiveValue) WaitOnUpdate(ctx context.Context) (*model.Value, error) {
	lv.mu.Lock()
	sig := lv.signal
	lv.mu.Unlock()
	select {
	case <-sig:
		return lv.Get(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// update is called by the client's read loop under no external lock; it
// sets the new value and wakes every pending WaitOnUpdate call.
func (lv *LiveValue) update(v *model.Value) {
	lv.mu.Lock()
	lv.value = v
	old := lv.signal
	lv.signal = make(chan struct{})
	lv.mu.Unlock()
	close(old)
}
