// Package storage implements the paged file allocator (C1), the slotted
// leaf-page layout (C2) and the key/value storage facade (C3) that backs
// the in-memory store's persistence.
package storage

// PageSize is the fixed size, in bytes, of every page including its
// header.
const PageSize = 4096

// ReservedHeaderSize is the size of the file's leading header page, which
// holds only the magic byte and is never addressed as a data page.
const ReservedHeaderSize = 4096

// MagicByte identifies a valid Overseer storage file at offset 0.
const MagicByte byte = 0x83

// pageHeaderSize is the size of the generic per-page header:
// free:u8 | previous:u32 LE | next:u32 LE | page_type:u8.
const pageHeaderSize = 1 + 4 + 4 + 1

// BodySize is the number of bytes available to a page's typed body.
const BodySize = PageSize - pageHeaderSize

// PageType distinguishes a page's body interpretation. Only Normal is
// defined on disk; a "leaf" page is a Normal page whose body a caller
// chooses to interpret with the slotted layout in leaf.go.
type PageType uint8

const PageTypeNormal PageType = 0

// Page is a page's header metadata plus its raw body bytes. Mutating
// operations act on a Page value in memory; callers persist it back via
// PagedFile.WritePage.
type Page struct {
	No       uint32
	Free     bool
	Previous uint32
	Next     uint32
	Type     PageType
	Body     [BodySize]byte
}

func (p *Page) marshal() []byte {
	buf := make([]byte, PageSize)
	if p.Free {
		buf[0] = 1
	}
	putU32LE(buf[1:5], p.Previous)
	putU32LE(buf[5:9], p.Next)
	buf[9] = byte(p.Type)
	copy(buf[pageHeaderSize:], p.Body[:])
	return buf
}

func unmarshalPage(no uint32, raw []byte) *Page {
	p := &Page{No: no}
	p.Free = raw[0] != 0
	p.Previous = getU32LE(raw[1:5])
	p.Next = getU32LE(raw[5:9])
	p.Type = PageType(raw[9])
	copy(p.Body[:], raw[pageHeaderSize:])
	return p
}

func putU32LE(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getU32LE(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// dataOffset returns the byte offset of data page no within the file.
func dataOffset(no uint32) int64 {
	return ReservedHeaderSize + int64(no)*PageSize
}
