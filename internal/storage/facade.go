package storage

import (
	"github.com/odin-platform/overseer/internal/model"
	"github.com/odin-platform/overseer/internal/wire"
)

type location struct {
	pageNo uint32
	cell   uint16
}

// Facade wraps a PagedFile and exposes key/value persistence on top of
// the slotted leaf-page layout. It owns a single chain of leaf pages
// (page 0 is always the head, once any page exists) and an in-memory
// index from key to the page/cell that currently holds it, rebuilt by
// scanning every page at Open.
type Facade struct {
	pf        *PagedFile
	index     map[model.Key]location
	headNo    uint32
	tailNo    uint32
	hasPages  bool
	syncEvery bool
}

// Open opens or creates the storage file at path and replays its leaf
// chain to rebuild the key index. When syncEveryWrite is true, every
// Write and Delete fsyncs the file before returning.
func Open(path string, syncEveryWrite bool) (*Facade, error) {
	pf, err := OpenPagedFile(path)
	if err != nil {
		return nil, err
	}
	fa := &Facade{pf: pf, index: make(map[model.Key]location), syncEvery: syncEveryWrite}
	if err := fa.replay(); err != nil {
		pf.Close()
		return nil, err
	}
	return fa, nil
}

func (fa *Facade) replay() error {
	if fa.pf.PageCount() == 0 {
		return nil
	}
	fa.hasPages = true
	fa.headNo = 0
	no := fa.headNo
	for {
		page, err := fa.pf.Acquire(no)
		if err != nil {
			return err
		}
		leaf := NewLeafView(page)
		for i := uint16(0); i < leaf.CellCount(); i++ {
			blob, err := leaf.ReadRecord(i)
			if err != nil {
				if err == ErrEmptyCell {
					continue
				}
				return err
			}
			k, _, err := wire.DecodeKeyValue(blob)
			if err != nil {
				return err
			}
			fa.index[k] = location{pageNo: no, cell: i}
		}
		fa.tailNo = no
		if page.Next == 0 {
			break
		}
		no = page.Next
	}
	return nil
}

// Records returns every live (key, value) pair, for the in-memory store's
// warm start.
func (fa *Facade) Records() ([]model.Record, error) {
	records := make([]model.Record, 0, len(fa.index))
	for k, loc := range fa.index {
		page, err := fa.pf.Acquire(loc.pageNo)
		if err != nil {
			return nil, err
		}
		leaf := NewLeafView(page)
		blob, err := leaf.ReadRecord(loc.cell)
		if err != nil {
			return nil, err
		}
		_, v, err := wire.DecodeKeyValue(blob)
		if err != nil {
			return nil, err
		}
		records = append(records, model.Record{Key: k, Value: v})
	}
	return records, nil
}

// Write persists key=value, deleting any prior on-disk record for key
// first — records are never updated in place.
func (fa *Facade) Write(key model.Key, value model.Value) error {
	if loc, ok := fa.index[key]; ok {
		if err := fa.deleteAt(loc); err != nil {
			return err
		}
		delete(fa.index, key)
	}

	blob := wire.EncodeKeyValue(key, value)
	leaf, err := fa.tailForWrite(len(blob))
	if err != nil {
		return err
	}
	cell, err := leaf.WriteRecord(blob)
	if err != nil {
		return err
	}
	if err := fa.pf.WritePage(leaf.Page()); err != nil {
		return err
	}
	fa.index[key] = location{pageNo: leaf.Page().No, cell: cell}
	if fa.syncEvery {
		return fa.pf.Sync()
	}
	return nil
}

// Delete removes key's on-disk record, if any, and reports whether it was
// present.
func (fa *Facade) Delete(key model.Key) (bool, error) {
	loc, ok := fa.index[key]
	if !ok {
		return false, nil
	}
	if err := fa.deleteAt(loc); err != nil {
		return false, err
	}
	delete(fa.index, key)
	if fa.syncEvery {
		return true, fa.pf.Sync()
	}
	return true, nil
}

func (fa *Facade) deleteAt(loc location) error {
	page, err := fa.pf.Acquire(loc.pageNo)
	if err != nil {
		return err
	}
	leaf := NewLeafView(page)
	if err := leaf.DeleteRecord(loc.cell); err != nil {
		return err
	}
	if err := fa.pf.WritePage(page); err != nil {
		return err
	}
	// DeleteRecord collapses the cell directory, so every later cell on
	// this page has moved down by one index.
	for k, other := range fa.index {
		if other.pageNo == loc.pageNo && other.cell > loc.cell {
			fa.index[k] = location{pageNo: other.pageNo, cell: other.cell - 1}
		}
	}
	return nil
}

// tailForWrite returns a leaf view of a page with enough free space for a
// record of the given blob length, allocating and linking a new page
// into the chain if the current tail is full.
func (fa *Facade) tailForWrite(blobLen int) (*LeafPage, error) {
	recordNeed := uint16(blobLen) + 2 // rough upper bound incl. varint+directory
	if fa.hasPages {
		page, err := fa.pf.Acquire(fa.tailNo)
		if err != nil {
			return nil, err
		}
		leaf := NewLeafView(page)
		if leaf.FreeSpace() >= recordNeed+8 {
			return leaf, nil
		}
		newPage, err := fa.pf.NewPage()
		if err != nil {
			return nil, err
		}
		newPage.Previous = fa.tailNo
		page.Next = newPage.No
		if err := fa.pf.WritePage(page); err != nil {
			return nil, err
		}
		if err := fa.pf.WritePage(newPage); err != nil {
			return nil, err
		}
		fa.tailNo = newPage.No
		return NewLeafView(newPage), nil
	}

	newPage, err := fa.pf.NewPage()
	if err != nil {
		return nil, err
	}
	fa.headNo = newPage.No
	fa.tailNo = newPage.No
	fa.hasPages = true
	return NewLeafView(newPage), nil
}

// Sync flushes the underlying file.
func (fa *Facade) Sync() error { return fa.pf.Sync() }

// Close closes the underlying file.
func (fa *Facade) Close() error { return fa.pf.Close() }

// PagedFile exposes the underlying page allocator, chiefly so tests and
// metrics sampling can inspect page/free-list counts directly.
func (fa *Facade) PagedFile() *PagedFile { return fa.pf }

// Stats reports the total page count, the free-list count, and the sum of
// fragmented bytes across every leaf page in the chain, for the periodic
// metrics sample in §4.11. It walks the same chain replay() does, so
// callers must serialize it with Write/Delete the way everything else
// touching a Facade already must.
func (fa *Facade) Stats() (total, free uint32, fragmented uint64, err error) {
	total = fa.pf.PageCount()
	free = uint32(fa.pf.FreePageCount())
	if !fa.hasPages {
		return total, free, 0, nil
	}
	no := fa.headNo
	for {
		page, err := fa.pf.Acquire(no)
		if err != nil {
			return 0, 0, 0, err
		}
		leaf := NewLeafView(page)
		fragmented += uint64(leaf.Fragmented())
		if page.Next == 0 {
			break
		}
		no = page.Next
	}
	return total, free, fragmented, nil
}
