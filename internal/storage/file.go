package storage

import (
	"os"
)

// PagedFile owns a single file and presents a page-granular API over it:
// fixed-size pages, a free list for page reuse, and page chaining via
// Previous/Next. It assumes a single owner goroutine, per §5 — no
// internal locking is done, matching the store loop's single-threaded
// ownership of the storage engine.
type PagedFile struct {
	f         *os.File
	pageCount uint32
	freeList  []uint32
}

// OpenPagedFile opens path for read/write, creating it if missing. An
// empty file is formatted with a fresh header page; an existing file is
// validated against MagicByte and its free list is rebuilt by scanning
// every data page's free byte once.
func OpenPagedFile(path string) (*PagedFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	pf := &PagedFile{f: f}
	if info.Size() == 0 {
		if err := pf.formatHeader(); err != nil {
			f.Close()
			return nil, err
		}
		return pf, nil
	}
	var magic [1]byte
	if _, err := f.ReadAt(magic[:], 0); err != nil {
		f.Close()
		return nil, err
	}
	if magic[0] != MagicByte {
		f.Close()
		return nil, ErrBadMagic
	}
	dataBytes := info.Size() - ReservedHeaderSize
	if dataBytes < 0 || dataBytes%PageSize != 0 {
		f.Close()
		return nil, ErrBadMagic
	}
	pf.pageCount = uint32(dataBytes / PageSize)
	if err := pf.rebuildFreeList(); err != nil {
		f.Close()
		return nil, err
	}
	return pf, nil
}

func (pf *PagedFile) formatHeader() error {
	header := make([]byte, ReservedHeaderSize)
	header[0] = MagicByte
	if _, err := pf.f.WriteAt(header, 0); err != nil {
		return err
	}
	return pf.f.Sync()
}

func (pf *PagedFile) rebuildFreeList() error {
	var flag [1]byte
	for no := uint32(0); no < pf.pageCount; no++ {
		if _, err := pf.f.ReadAt(flag[:], dataOffset(no)); err != nil {
			return err
		}
		if flag[0] != 0 {
			pf.freeList = append(pf.freeList, no)
		}
	}
	return nil
}

// NewPage returns a fresh page: reused from the free list if one is
// available, otherwise appended to the end of the file. The returned
// page's body and metadata (besides No) are zeroed.
func (pf *PagedFile) NewPage() (*Page, error) {
	if n := len(pf.freeList); n > 0 {
		no := pf.freeList[n-1]
		pf.freeList = pf.freeList[:n-1]
		p := &Page{No: no}
		if err := pf.WritePage(p); err != nil {
			return nil, err
		}
		return p, nil
	}
	no := pf.pageCount
	p := &Page{No: no}
	if err := pf.WritePage(p); err != nil {
		return nil, err
	}
	pf.pageCount++
	return p, nil
}

// Acquire reads page no from disk.
func (pf *PagedFile) Acquire(no uint32) (*Page, error) {
	if no >= pf.pageCount {
		return nil, ErrPageOutOfBounds
	}
	raw := make([]byte, PageSize)
	if _, err := pf.f.ReadAt(raw, dataOffset(no)); err != nil {
		return nil, err
	}
	p := unmarshalPage(no, raw)
	if p.Free {
		return nil, ErrPageFreed
	}
	return p, nil
}

// WritePage persists p's current in-memory contents back to its slot.
func (pf *PagedFile) WritePage(p *Page) error {
	_, err := pf.f.WriteAt(p.marshal(), dataOffset(p.No))
	return err
}

// Free marks page as free and returns its address to the free list for
// reuse by a later NewPage.
func (pf *PagedFile) Free(page *Page) error {
	page.Free = true
	page.Previous = 0
	page.Next = 0
	page.Body = [BodySize]byte{}
	if err := pf.WritePage(page); err != nil {
		return err
	}
	pf.freeList = append(pf.freeList, page.No)
	return nil
}

// Sync requests the underlying file be flushed to stable storage.
func (pf *PagedFile) Sync() error {
	return pf.f.Sync()
}

// PageCount reports how many data pages the file currently has allocated,
// including freed ones awaiting reuse.
func (pf *PagedFile) PageCount() uint32 {
	return pf.pageCount
}

// FreePageCount reports how many pages are currently on the free list.
func (pf *PagedFile) FreePageCount() int {
	return len(pf.freeList)
}

// Close closes the underlying file.
func (pf *PagedFile) Close() error {
	return pf.f.Close()
}
