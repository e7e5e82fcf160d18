package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/odin-platform/overseer/internal/model"
	"github.com/odin-platform/overseer/internal/storage"
	"github.com/odin-platform/overseer/internal/watcher"
)

func newTestStore(t *testing.T) (*Store, context.CancelFunc) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "overseer.db")
	facade, err := storage.Open(path, true)
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { facade.Close() })

	st, err := New(facade, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go st.Run(ctx)
	t.Cleanup(cancel)
	return st, cancel
}

func TestGetOnMissingKeyReturnsNil(t *testing.T) {
	st, _ := newTestStore(t)
	v, err := st.Get(model.Key("missing"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != nil {
		t.Fatalf("got %v, want nil", v)
	}
}

func TestInsertThenGetRoundTrip(t *testing.T) {
	st, _ := newTestStore(t)
	key := model.Key("a")
	val := model.NewStringValue("one")

	if err := st.Insert(key, val); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	got, err := st.Get(key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("expected a value, got nil")
	}
	s, ok := got.AsString()
	if !ok || s != "one" {
		t.Fatalf("got %v, want \"one\"", got)
	}
}

func TestDeleteReportsWhetherSomethingWasRemoved(t *testing.T) {
	st, _ := newTestStore(t)
	key := model.Key("a")

	removed, err := st.Delete(key)
	if err != nil || removed {
		t.Fatalf("delete of missing key: removed=%v err=%v", removed, err)
	}

	if err := st.Insert(key, model.NewIntegerValue(5)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	removed, err = st.Delete(key)
	if err != nil || !removed {
		t.Fatalf("delete of present key: removed=%v err=%v", removed, err)
	}

	v, err := st.Get(key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != nil {
		t.Fatalf("expected key to be gone after delete, got %v", v)
	}
}

func TestSubscribeRejectsDuplicate(t *testing.T) {
	st, _ := newTestStore(t)
	key := model.Key("a")
	client := model.ClientID(1)

	if _, err := st.Subscribe(key, client, watcher.Ordered, ActivityLazy); err != nil {
		t.Fatalf("first Subscribe: %v", err)
	}
	if _, err := st.Subscribe(key, client, watcher.Ordered, ActivityLazy); err != ErrAlreadySubscribed {
		t.Fatalf("got %v, want ErrAlreadySubscribed", err)
	}
}

func TestSubscribeKickbackDeliversCurrentValueImmediately(t *testing.T) {
	st, _ := newTestStore(t)
	key := model.Key("a")
	client := model.ClientID(1)

	if err := st.Insert(key, model.NewStringValue("present")); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	consumer, err := st.Subscribe(key, client, watcher.Ordered, ActivityKickback)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err := consumer.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if v == nil {
		t.Fatal("expected the current value via kickback, got nil")
	}
	s, ok := v.AsString()
	if !ok || s != "present" {
		t.Fatalf("got %v, want \"present\"", v)
	}
}

func TestSubscribeLazyDoesNotDeliverUntilNextMutation(t *testing.T) {
	st, _ := newTestStore(t)
	key := model.Key("a")
	client := model.ClientID(1)

	if err := st.Insert(key, model.NewStringValue("initial")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	consumer, err := st.Subscribe(key, client, watcher.Ordered, ActivityLazy)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	results := make(chan *model.Value, 1)
	go func() {
		v, err := consumer.Wait(context.Background())
		if err != nil {
			t.Errorf("Wait: %v", err)
			return
		}
		results <- v
	}()

	select {
	case <-results:
		t.Fatal("lazy subscription delivered before any mutation occurred")
	case <-time.After(50 * time.Millisecond):
	}

	if err := st.Insert(key, model.NewStringValue("updated")); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	select {
	case v := <-results:
		s, ok := v.AsString()
		if !ok || s != "updated" {
			t.Fatalf("got %v, want \"updated\"", v)
		}
	case <-time.After(time.Second):
		t.Fatal("lazy subscription never delivered the mutation")
	}
}

func TestInsertNotifiesSubscriberAfterUpdatingStore(t *testing.T) {
	st, _ := newTestStore(t)
	key := model.Key("a")
	client := model.ClientID(1)

	consumer, err := st.Subscribe(key, client, watcher.Ordered, ActivityLazy)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := st.Insert(key, model.NewStringValue("committed")); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err := consumer.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if v == nil {
		t.Fatal("expected a delivery")
	}

	got, err := st.Get(key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || !got.Equal(*v) {
		t.Fatalf("store state %v should already reflect the notified value %v", got, v)
	}
}

func TestDeleteNotifiesSubscriberWithNilValue(t *testing.T) {
	st, _ := newTestStore(t)
	key := model.Key("a")
	client := model.ClientID(1)

	if err := st.Insert(key, model.NewStringValue("present")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	consumer, err := st.Subscribe(key, client, watcher.Ordered, ActivityLazy)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if _, err := st.Delete(key); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err := consumer.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if v != nil {
		t.Fatalf("expected a nil delivery for the delete, got %v", v)
	}
}

func TestReleaseKillsTheWatcherAndAllowsResubscribe(t *testing.T) {
	st, _ := newTestStore(t)
	key := model.Key("a")
	client := model.ClientID(1)

	consumer, err := st.Subscribe(key, client, watcher.Ordered, ActivityLazy)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	removed, err := st.Release(key, client)
	if err != nil || !removed {
		t.Fatalf("Release: removed=%v err=%v", removed, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := consumer.Wait(ctx); err != nil {
		t.Fatalf("Wait after Release: %v", err)
	}
	if !consumer.IsKilled() {
		t.Fatal("expected the watcher to be killed after Release")
	}

	if _, err := st.Subscribe(key, client, watcher.Ordered, ActivityLazy); err != nil {
		t.Fatalf("resubscribe after Release should succeed, got %v", err)
	}
}

func TestReleaseAllForClientTearsDownEverySubscription(t *testing.T) {
	st, _ := newTestStore(t)
	client := model.ClientID(1)

	keys := []model.Key{"a", "b", "c"}
	consumers := make([]*watcher.Consumer, len(keys))
	for i, k := range keys {
		c, err := st.Subscribe(k, client, watcher.Ordered, ActivityLazy)
		if err != nil {
			t.Fatalf("Subscribe(%s): %v", k, err)
		}
		consumers[i] = c
	}

	if err := st.ReleaseAllForClient(client); err != nil {
		t.Fatalf("ReleaseAllForClient: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i, c := range consumers {
		if _, err := c.Wait(ctx); err != nil {
			t.Fatalf("Wait(%s): %v", keys[i], err)
		}
		if !c.IsKilled() {
			t.Fatalf("expected %s's watcher to be killed", keys[i])
		}
	}

	for _, k := range keys {
		if _, err := st.Subscribe(k, client, watcher.Ordered, ActivityLazy); err != nil {
			t.Fatalf("resubscribe(%s) after ReleaseAllForClient: %v", k, err)
		}
	}
}

func TestWarmStartsFromExistingDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overseer.db")
	facade, err := storage.Open(path, true)
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	if err := facade.Write(model.Key("a"), model.NewStringValue("preexisting")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := facade.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	facade2, err := storage.Open(path, true)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer facade2.Close()

	st, err := New(facade2, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go st.Run(ctx)

	v, err := st.Get(model.Key("a"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v == nil {
		t.Fatal("expected the warm-started store to already hold the on-disk record")
	}
	s, ok := v.AsString()
	if !ok || s != "preexisting" {
		t.Fatalf("got %v, want \"preexisting\"", v)
	}
}
