// Package watcher implements the split producer/consumer notifier that
// backs Overseer's subscriptions: an Ordered FIFO or an Eager coalescing
// slot, kill semantics, and a coordinated group-notify that deposits a
// value into every sibling watcher before signaling any of them.
package watcher

import (
	"context"
	"sync"

	"github.com/odin-platform/overseer/internal/model"
)

// Mode selects a watcher's delivery discipline.
type Mode uint8

const (
	// Ordered delivers every value in a FIFO; no value is ever skipped.
	Ordered Mode = iota
	// Eager keeps only the most recently deposited value, overwriting
	// whatever was pending.
	Eager
)

// inner is the state shared by a Producer/Consumer pair. A nil
// *model.Value anywhere in here represents a delete event (Option<Value>
// == None), not "absence of a delivery" — presence is tracked separately
// via queue length / hasSlot.
type inner struct {
	mu      sync.Mutex
	mode    Mode
	queue   []*model.Value
	slot    *model.Value
	hasSlot bool
	killed  bool
	signal  chan struct{}
}

// NewPair creates a fresh watcher of the given mode and returns its
// producer (store-side) and consumer (subscriber-side) handles.
func NewPair(mode Mode) (*Producer, *Consumer) {
	in := &inner{mode: mode, signal: make(chan struct{})}
	return &Producer{inner: in}, &Consumer{inner: in}
}

func (in *inner) deposit(v *model.Value) {
	switch in.mode {
	case Eager:
		in.slot = v
		in.hasSlot = true
	default:
		in.queue = append(in.queue, v)
	}
}

func (in *inner) pop() (*model.Value, bool) {
	switch in.mode {
	case Eager:
		if !in.hasSlot {
			return nil, false
		}
		v := in.slot
		in.slot = nil
		in.hasSlot = false
		return v, true
	default:
		if len(in.queue) == 0 {
			return nil, false
		}
		v := in.queue[0]
		in.queue = in.queue[1:]
		return v, true
	}
}

// wakeLocked deposits v and swaps in a fresh signal channel, returning the
// old one. The caller must close the returned channel after releasing
// in.mu — splitting deposit from signal this way is what lets
// NotifyCoordinated deposit into every sibling before waking any of them.
func (in *inner) wakeLocked(v *model.Value) chan struct{} {
	in.deposit(v)
	old := in.signal
	in.signal = make(chan struct{})
	return old
}

// Producer is the store-side handle of a watcher pair.
type Producer struct {
	inner *inner
}

// Wake deposits value and wakes a consumer waiting on this watcher.
func (p *Producer) Wake(value *model.Value) {
	p.inner.mu.Lock()
	old := p.inner.wakeLocked(value)
	p.inner.mu.Unlock()
	close(old)
}

// Kill marks the watcher killed and wakes any outstanding Wait with a nil
// (None) delivery so it returns immediately instead of blocking forever.
func (p *Producer) Kill() {
	p.inner.mu.Lock()
	p.inner.killed = true
	old := p.inner.wakeLocked(nil)
	p.inner.mu.Unlock()
	close(old)
}

// NotifyCoordinated deposits value into every producer's watcher without
// signaling, then signals all of them once every deposit has landed. This
// is the two-phase split that guarantees no subscriber of a key can
// observe its own notification and act on it before a sibling subscriber
// has had the same value deposited.
func NotifyCoordinated(producers []*Producer, value *model.Value) {
	olds := make([]chan struct{}, 0, len(producers))
	for _, p := range producers {
		p.inner.mu.Lock()
		old := p.inner.wakeLocked(value)
		p.inner.mu.Unlock()
		olds = append(olds, old)
	}
	for _, old := range olds {
		close(old)
	}
}

// Consumer is the subscriber-side handle of a watcher pair.
type Consumer struct {
	inner *inner
}

// Wait returns the next pending delivery, blocking until one is deposited
// or ctx is done. A nil result can mean either a delete event or a kill;
// callers should check IsKilled() after Wait returns to distinguish a
// real delivery from a shutdown signal, per the subscriber task contract
// in the connection multiplexer.
func (c *Consumer) Wait(ctx context.Context) (*model.Value, error) {
	for {
		c.inner.mu.Lock()
		if v, ok := c.inner.pop(); ok {
			c.inner.mu.Unlock()
			return v, nil
		}
		sig := c.inner.signal
		c.inner.mu.Unlock()
		select {
		case <-sig:
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// ForceRecv is a non-blocking peek-and-take; it returns ok == false if
// nothing is pending.
func (c *Consumer) ForceRecv() (value *model.Value, ok bool) {
	c.inner.mu.Lock()
	defer c.inner.mu.Unlock()
	return c.inner.pop()
}

// IsKilled reports whether the producer side has called Kill.
func (c *Consumer) IsKilled() bool {
	c.inner.mu.Lock()
	defer c.inner.mu.Unlock()
	return c.inner.killed
}
