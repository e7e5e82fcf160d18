package storage

import (
	"path/filepath"
	"testing"

	"github.com/odin-platform/overseer/internal/model"
)

func openTemp(t *testing.T) *PagedFile {
	t.Helper()
	path := filepath.Join(t.TempDir(), "overseer.db")
	pf, err := OpenPagedFile(path)
	if err != nil {
		t.Fatalf("OpenPagedFile: %v", err)
	}
	t.Cleanup(func() { pf.Close() })
	return pf
}

func TestPagedFileFormatsFreshHeader(t *testing.T) {
	pf := openTemp(t)
	if pf.PageCount() != 0 {
		t.Fatalf("fresh file should have 0 data pages, got %d", pf.PageCount())
	}
}

func TestNewPageReusesFreedSlot(t *testing.T) {
	pf := openTemp(t)

	p1, err := pf.NewPage()
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	p2, err := pf.NewPage()
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	if p1.No == p2.No {
		t.Fatal("two fresh pages should have distinct numbers")
	}

	if err := pf.Free(p1); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if pf.FreePageCount() != 1 {
		t.Fatalf("expected 1 free page, got %d", pf.FreePageCount())
	}

	p3, err := pf.NewPage()
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	if p3.No != p1.No {
		t.Fatalf("expected NewPage to recycle freed page %d, got %d", p1.No, p3.No)
	}
	if pf.FreePageCount() != 0 {
		t.Fatalf("free list should be drained after recycling, got %d entries", pf.FreePageCount())
	}
}

func TestAcquireRejectsOutOfBoundsAndFreedPages(t *testing.T) {
	pf := openTemp(t)

	if _, err := pf.Acquire(0); err != ErrPageOutOfBounds {
		t.Fatalf("got %v, want ErrPageOutOfBounds", err)
	}

	p, err := pf.NewPage()
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	if err := pf.Free(p); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if _, err := pf.Acquire(p.No); err != ErrPageFreed {
		t.Fatalf("got %v, want ErrPageFreed", err)
	}
}

func TestLeafWriteReadDeleteRoundTrip(t *testing.T) {
	pf := openTemp(t)
	page, err := pf.NewPage()
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	leaf := NewLeafView(page)

	idx, err := leaf.WriteRecord([]byte("hello world"))
	if err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}
	got, err := leaf.ReadRecord(idx)
	if err != nil {
		t.Fatalf("ReadRecord: %v", err)
	}
	if string(got) != "hello world" {
		t.Fatalf("got %q, want %q", got, "hello world")
	}

	if err := leaf.DeleteRecord(idx); err != nil {
		t.Fatalf("DeleteRecord: %v", err)
	}
	if _, err := leaf.ReadRecord(idx); err != ErrEmptyCell {
		t.Fatalf("got %v, want ErrEmptyCell after delete", err)
	}
}

func TestLeafFreeChainFillsHolesBeforeExtendingLead(t *testing.T) {
	pf := openTemp(t)
	page, err := pf.NewPage()
	if err != nil {
		t.Fatalf("NewPage: %v", err)
	}
	leaf := NewLeafView(page)

	a, err := leaf.WriteRecord([]byte("aaaaaaaaaa"))
	if err != nil {
		t.Fatalf("WriteRecord a: %v", err)
	}
	if _, err := leaf.WriteRecord([]byte("bbbbbbbbbb")); err != nil {
		t.Fatalf("WriteRecord b: %v", err)
	}

	if err := leaf.DeleteRecord(a); err != nil {
		t.Fatalf("DeleteRecord a: %v", err)
	}
	if leaf.FreeHead() == 0 {
		t.Fatal("expected a free-block chain entry after deleting a record")
	}
	// The chain's first node is itself allocated from the lead pointer, so
	// the baseline is taken after the delete.
	leadBefore := leaf.LeadOffset()

	if _, err := leaf.WriteRecord([]byte("cccccccccc")); err != nil {
		t.Fatalf("WriteRecord c: %v", err)
	}
	if leaf.LeadOffset() != leadBefore {
		t.Fatalf("expected the freed hole to be reused instead of extending the lead pointer (lead %d -> %d)", leadBefore, leaf.LeadOffset())
	}
}

func TestFacadeWriteDeleteAndReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overseer.db")
	fa, err := Open(path, true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	k1 := model.Key("a")
	k2 := model.Key("b")
	if err := fa.Write(k1, model.NewStringValue("one")); err != nil {
		t.Fatalf("Write k1: %v", err)
	}
	if err := fa.Write(k2, model.NewIntegerValue(2)); err != nil {
		t.Fatalf("Write k2: %v", err)
	}
	if err := fa.Write(k1, model.NewStringValue("one-updated")); err != nil {
		t.Fatalf("Write k1 update: %v", err)
	}

	removed, err := fa.Delete(k2)
	if err != nil || !removed {
		t.Fatalf("Delete k2: removed=%v err=%v", removed, err)
	}

	if err := fa.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	fa2, err := Open(path, true)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer fa2.Close()

	records, err := fa2.Records()
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected exactly 1 surviving record after replay, got %d", len(records))
	}
	if records[0].Key != k1 {
		t.Fatalf("got key %q, want %q", records[0].Key, k1)
	}
	s, ok := records[0].Value.AsString()
	if !ok || s != "one-updated" {
		t.Fatalf("got value %v, want the updated string", records[0].Value)
	}
}
