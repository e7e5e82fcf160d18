package store

import (
	"github.com/odin-platform/overseer/internal/model"
	"github.com/odin-platform/overseer/internal/watcher"
)

// Get returns the current value bound to key, or nil if unbound.
func (s *Store) Get(key model.Key) (*model.Value, error) {
	type result struct{ v *model.Value }
	respCh := make(chan result, 1)
	err := s.submit(func() {
		if v, ok := s.records[key]; ok {
			cp := v
			respCh <- result{&cp}
			return
		}
		respCh <- result{nil}
	})
	if err != nil {
		return nil, err
	}
	select {
	case r := <-respCh:
		return r.v, nil
	case <-s.done:
		return nil, ErrClosed
	}
}

// Insert replaces the binding for key, persists the mutation, and
// coordinated-notifies every subscriber of key — in that order, so a
// subscriber that reacts to a notification and reads the store back sees
// state at least as new as the notification, per §4.5.
func (s *Store) Insert(key model.Key, value model.Value) error {
	errCh := make(chan error, 1)
	err := s.submit(func() {
		s.records[key] = value
		if err := s.facade.Write(key, value); err != nil {
			errCh <- err
			return
		}
		s.notify(key, &value)
		s.publisher.Publish(key, &value, false)
		s.metrics.SetStoreKeys(len(s.records))
		errCh <- nil
	})
	if err != nil {
		return err
	}
	select {
	case err := <-errCh:
		return err
	case <-s.done:
		return ErrClosed
	}
}

// Delete removes key's binding, if any, persists the removal, and
// coordinated-notifies subscribers with a None delivery. It reports
// whether a binding was actually removed.
func (s *Store) Delete(key model.Key) (bool, error) {
	type result struct {
		removed bool
		err     error
	}
	respCh := make(chan result, 1)
	err := s.submit(func() {
		if _, ok := s.records[key]; !ok {
			respCh <- result{false, nil}
			return
		}
		delete(s.records, key)
		if _, err := s.facade.Delete(key); err != nil {
			respCh <- result{false, err}
			return
		}
		s.notify(key, nil)
		s.publisher.Publish(key, nil, true)
		s.metrics.SetStoreKeys(len(s.records))
		respCh <- result{true, nil}
	})
	if err != nil {
		return false, err
	}
	select {
	case r := <-respCh:
		return r.removed, r.err
	case <-s.done:
		return false, ErrClosed
	}
}

// notify must run on the store loop. It deposits value into every
// subscriber of key via the coordinated two-phase notify, so that no
// subscriber can observe the notification and race ahead of a sibling
// whose deposit hasn't landed yet.
func (s *Store) notify(key model.Key, value *model.Value) {
	entries := s.subs[key]
	if len(entries) == 0 {
		return
	}
	producers := make([]*watcher.Producer, 0, len(entries))
	for _, e := range entries {
		producers = append(producers, e.producer)
	}
	watcher.NotifyCoordinated(producers, value)
	for _, e := range entries {
		if e.mode == watcher.Eager {
			s.metrics.IncNotifications("eager")
		} else {
			s.metrics.IncNotifications("ordered")
		}
	}
}

// Activity mirrors wire.Activity without tying this package to the wire
// codec.
type Activity uint8

const (
	ActivityKickback Activity = 0
	ActivityLazy     Activity = 1
)

// Subscribe creates a fresh watcher for (key, client), inserts it into
// the subscription index, and — for Kickback activity — immediately wakes
// it with the current value. It is rejected if (key, client) is already
// subscribed.
func (s *Store) Subscribe(key model.Key, client model.ClientID, mode watcher.Mode, activity Activity) (*watcher.Consumer, error) {
	type result struct {
		c   *watcher.Consumer
		err error
	}
	respCh := make(chan result, 1)
	err := s.submit(func() {
		if byClient, ok := s.subs[key]; ok {
			if _, exists := byClient[client]; exists {
				respCh <- result{nil, ErrAlreadySubscribed}
				return
			}
		}
		producer, consumer := watcher.NewPair(mode)
		if activity == ActivityKickback {
			if v, ok := s.records[key]; ok {
				cp := v
				producer.Wake(&cp)
			} else {
				producer.Wake(nil)
			}
		}
		if s.subs[key] == nil {
			s.subs[key] = make(map[model.ClientID]subEntry)
		}
		s.subs[key][client] = subEntry{producer: producer, mode: mode}
		s.metrics.SetWatchersActive(s.countWatchers())
		respCh <- result{consumer, nil}
	})
	if err != nil {
		return nil, err
	}
	select {
	case r := <-respCh:
		return r.c, r.err
	case <-s.done:
		return nil, ErrClosed
	}
}

// Release removes the (key, client) subscription, if any, and kills its
// watcher so the subscriber task's Wait returns. It reports whether a
// subscription was present.
func (s *Store) Release(key model.Key, client model.ClientID) (bool, error) {
	respCh := make(chan bool, 1)
	err := s.submit(func() {
		byClient, ok := s.subs[key]
		if !ok {
			respCh <- false
			return
		}
		entry, ok := byClient[client]
		if !ok {
			respCh <- false
			return
		}
		delete(byClient, client)
		if len(byClient) == 0 {
			delete(s.subs, key)
		}
		entry.producer.Kill()
		s.metrics.SetWatchersActive(s.countWatchers())
		respCh <- true
	})
	if err != nil {
		return false, err
	}
	select {
	case r := <-respCh:
		return r, nil
	case <-s.done:
		return false, ErrClosed
	}
}

// ReleaseAllForClient tears down every subscription held by client, used
// when its connection disconnects.
func (s *Store) ReleaseAllForClient(client model.ClientID) error {
	done := make(chan struct{})
	err := s.submit(func() {
		for key, byClient := range s.subs {
			if entry, ok := byClient[client]; ok {
				entry.producer.Kill()
				delete(byClient, client)
				if len(byClient) == 0 {
					delete(s.subs, key)
				}
			}
		}
		s.metrics.SetWatchersActive(s.countWatchers())
		close(done)
	})
	if err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-s.done:
		return ErrClosed
	}
}

// StorageStats reports the storage facade's page/free-list/fragmentation
// counts. It is routed through the store loop like every other operation
// here, since the facade is owned by it and has no locking of its own.
func (s *Store) StorageStats() (total, free uint32, fragmented uint64, err error) {
	type result struct {
		total, free uint32
		fragmented  uint64
		err         error
	}
	respCh := make(chan result, 1)
	subErr := s.submit(func() {
		t, f, frag, statErr := s.facade.Stats()
		respCh <- result{t, f, frag, statErr}
	})
	if subErr != nil {
		return 0, 0, 0, subErr
	}
	select {
	case r := <-respCh:
		return r.total, r.free, r.fragmented, r.err
	case <-s.done:
		return 0, 0, 0, ErrClosed
	}
}

func (s *Store) countWatchers() int {
	n := 0
	for _, byClient := range s.subs {
		n += len(byClient)
	}
	return n
}
