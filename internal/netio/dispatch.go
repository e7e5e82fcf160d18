package netio

import (
	"context"
	"fmt"
	"time"

	"github.com/odin-platform/overseer/internal/model"
	"github.com/odin-platform/overseer/internal/store"
	"github.com/odin-platform/overseer/internal/watcher"
	"github.com/odin-platform/overseer/internal/wire"
)

// dispatch applies one incoming packet's payload to the store and queues
// the response packet, if any, for the write pump. The ack carried for
// Delete/Watch/Release is a literal GetPayload{key} echo — preserved as
// written rather than "fixed" into a dedicated ack shape, per the Open
// Question decision recorded for the wire protocol.
func (c *connection) dispatch(pkt wire.Packet) error {
	start := time.Now()
	op, err := c.apply(pkt)
	c.srv.metrics.IncRequestsTotal(op)
	c.srv.metrics.ObserveRequestDuration(op, time.Since(start).Seconds())
	return err
}

func (c *connection) apply(pkt wire.Packet) (string, error) {
	switch p := pkt.Payload.(type) {
	case wire.InsertPayload:
		if err := c.srv.store.Insert(p.Key, p.Value); err != nil {
			return "insert", err
		}
		v := p.Value
		c.enqueue(wire.Packet{ID: pkt.ID, Payload: wire.ReturnPayload{Key: p.Key, Value: &v}})
		return "insert", nil

	case wire.GetPayload:
		v, err := c.srv.store.Get(p.Key)
		if err != nil {
			return "get", err
		}
		c.enqueue(wire.Packet{ID: pkt.ID, Payload: wire.ReturnPayload{Key: p.Key, Value: v}})
		return "get", nil

	case wire.DeletePayload:
		if _, err := c.srv.store.Delete(p.Key); err != nil {
			return "delete", err
		}
		c.enqueue(wire.Packet{ID: pkt.ID, Payload: wire.GetPayload{Key: p.Key}})
		return "delete", nil

	case wire.WatchPayload:
		mode := watcher.Ordered
		if p.Behaviour == wire.BehaviourEager {
			mode = watcher.Eager
		}
		activity := store.ActivityLazy
		if p.Activity == wire.ActivityKickback {
			activity = store.ActivityKickback
		}
		consumer, err := c.srv.store.Subscribe(p.Key, c.id, mode, activity)
		if err != nil {
			return "watch", err
		}
		c.startSubscriberTask(p.Key, consumer)
		c.enqueue(wire.Packet{ID: pkt.ID, Payload: wire.GetPayload{Key: p.Key}})
		return "watch", nil

	case wire.ReleasePayload:
		c.stopSubscriberTask(p.Key)
		if _, err := c.srv.store.Release(p.Key, c.id); err != nil {
			return "release", err
		}
		c.enqueue(wire.Packet{ID: pkt.ID, Payload: wire.GetPayload{Key: p.Key}})
		return "release", nil

	default:
		return "unknown", fmt.Errorf("netio: unhandled payload type %T", p)
	}
}

// startSubscriberTask spawns the goroutine that turns watcher deliveries
// into Notify pushes on this connection's outbox. If a task is already
// registered for key, it is cancelled before the new one is started.
func (c *connection) startSubscriberTask(key model.Key, consumer *watcher.Consumer) {
	c.subMu.Lock()
	if cancel, ok := c.subTasks[key]; ok {
		cancel()
	}
	ctx, cancel := context.WithCancel(c.ctx)
	c.subTasks[key] = cancel
	c.subMu.Unlock()

	go func() {
		for {
			v, err := consumer.Wait(ctx)
			if err != nil {
				return
			}
			if consumer.IsKilled() {
				return
			}
			c.enqueue(wire.Packet{ID: pushID, Payload: wire.NotifyPayload{Key: key, Value: v, More: false}})
		}
	}()
}

func (c *connection) stopSubscriberTask(key model.Key) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if cancel, ok := c.subTasks[key]; ok {
		cancel()
		delete(c.subTasks, key)
	}
}
