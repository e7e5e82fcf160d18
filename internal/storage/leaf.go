package storage

import (
	"encoding/binary"

	"github.com/odin-platform/overseer/internal/wire"
)

// leafHeaderSize is the size of the leaf sub-layout's own header, embedded
// at the start of a page's Body: cell count, used space, free-block list
// head, lead offset, fragmented bytes — five u16 fields.
const leafHeaderSize = 10

// freeBlockSize is the size of one free-block chain node: next, offset,
// size, each a u16.
const freeBlockSize = 6

// leafCapacity is the usable capacity a leaf page's accounting formulas
// operate over: the page body, excluding the generic page header which
// PagedFile already accounts for separately.
const leafCapacity = BodySize

// LeafPage is a typed, slotted-layout view over a page's body: a
// cell-offset directory growing up from the header and a record heap
// growing down from the page's capacity, with a free-block chain for
// recycling deleted space.
type LeafPage struct {
	page *Page
}

// NewLeafView wraps page as a leaf page. It does not reformat the page;
// an already-zeroed page (as returned by PagedFile.NewPage) is a valid
// empty leaf.
func NewLeafView(page *Page) *LeafPage {
	return &LeafPage{page: page}
}

func (l *LeafPage) body() []byte { return l.page.Body[:] }

func (l *LeafPage) CellCount() uint16 {
	return binary.LittleEndian.Uint16(l.body()[0:2])
}
func (l *LeafPage) setCellCount(v uint16) {
	binary.LittleEndian.PutUint16(l.body()[0:2], v)
}

func (l *LeafPage) UsedSpace() uint16 {
	return binary.LittleEndian.Uint16(l.body()[2:4])
}
func (l *LeafPage) setUsedSpace(v uint16) {
	binary.LittleEndian.PutUint16(l.body()[2:4], v)
}

func (l *LeafPage) FreeHead() uint16 {
	return binary.LittleEndian.Uint16(l.body()[4:6])
}
func (l *LeafPage) setFreeHead(v uint16) {
	binary.LittleEndian.PutUint16(l.body()[4:6], v)
}

func (l *LeafPage) LeadOffset() uint16 {
	return binary.LittleEndian.Uint16(l.body()[6:8])
}
func (l *LeafPage) setLeadOffset(v uint16) {
	binary.LittleEndian.PutUint16(l.body()[6:8], v)
}

func (l *LeafPage) Fragmented() uint16 {
	return binary.LittleEndian.Uint16(l.body()[8:10])
}
func (l *LeafPage) setFragmented(v uint16) {
	binary.LittleEndian.PutUint16(l.body()[8:10], v)
}

// FreeSpace is derived, not stored: capacity minus the leaf header minus
// whatever used_space and fragmented already account for.
func (l *LeafPage) FreeSpace() uint16 {
	used := int(l.UsedSpace()) + int(l.Fragmented()) + leafHeaderSize
	if used >= leafCapacity {
		return 0
	}
	return uint16(leafCapacity - used)
}

func (l *LeafPage) cellOffsetAt(i uint16) uint16 {
	pos := leafHeaderSize + 2*int(i)
	return binary.LittleEndian.Uint16(l.body()[pos : pos+2])
}

func (l *LeafPage) setCellOffsetAt(i uint16, v uint16) {
	pos := leafHeaderSize + 2*int(i)
	binary.LittleEndian.PutUint16(l.body()[pos:pos+2], v)
}

func (l *LeafPage) readU16At(off uint16) uint16 {
	return binary.LittleEndian.Uint16(l.body()[off : off+2])
}
func (l *LeafPage) writeU16At(off uint16, v uint16) {
	binary.LittleEndian.PutUint16(l.body()[off:off+2], v)
}

// freeBlock is a decoded chain node living at some heap offset.
type freeBlock struct {
	next   uint16
	offset uint16
	size   uint16
	at     uint16 // the heap offset this node itself is stored at
}

func (l *LeafPage) readFreeBlock(at uint16) freeBlock {
	return freeBlock{
		next:   l.readU16At(at),
		offset: l.readU16At(at + 2),
		size:   l.readU16At(at + 4),
		at:     at,
	}
}

func (l *LeafPage) writeFreeBlock(b freeBlock) {
	l.writeU16At(b.at, b.next)
	l.writeU16At(b.at+2, b.offset)
	l.writeU16At(b.at+4, b.size)
}

// ReadRecord returns the encoded record bytes stored at cell index i, not
// including the varint length prefix.
func (l *LeafPage) ReadRecord(i uint16) ([]byte, error) {
	if i >= l.CellCount() {
		return nil, ErrEmptyCell
	}
	cellOff := l.cellOffsetAt(i)
	if cellOff == 0 {
		return nil, ErrEmptyCell
	}
	n, consumed, err := wire.ReadUvarint(l.body()[cellOff:])
	if err != nil {
		return nil, ErrBadAllocation
	}
	start := int(cellOff) + consumed
	return l.body()[start : start+int(n)], nil
}

// recordSizeAt returns the total on-heap footprint (varint length prefix
// plus payload) of the record whose blob starts at cellOff.
func (l *LeafPage) recordSizeAt(cellOff uint16) (uint16, error) {
	n, consumed, err := wire.ReadUvarint(l.body()[cellOff:])
	if err != nil {
		return 0, ErrBadAllocation
	}
	return uint16(consumed) + uint16(n), nil
}

// WriteRecord stores blob (already framed by the caller as the record's
// payload, excluding the length prefix this method adds) and returns the
// new cell index.
func (l *LeafPage) WriteRecord(blob []byte) (uint16, error) {
	framed := wire.AppendUvarint(nil, uint64(len(blob)))
	framed = append(framed, blob...)
	recordNeed := uint16(len(framed))
	directoryNeed := uint16(2)
	if recordNeed > leafCapacity-leafHeaderSize-freeBlockSize {
		return 0, ErrRecordWontFit
	}
	if l.FreeSpace() < recordNeed+directoryNeed {
		return 0, ErrLeafPageFull
	}

	offset, err := l.allocate(recordNeed)
	if err != nil {
		return 0, err
	}
	copy(l.body()[offset:int(offset)+len(framed)], framed)

	idx := l.CellCount()
	l.setCellOffsetAt(idx, offset)
	l.setCellCount(idx + 1)
	l.setUsedSpace(l.UsedSpace() + recordNeed + directoryNeed)
	return idx, nil
}

// allocate finds room for a block of need bytes, preferring the free-block
// chain over extending the lead pointer, per the record-write algorithm.
func (l *LeafPage) allocate(need uint16) (uint16, error) {
	if off, ok := l.allocateFromChain(need); ok {
		return off, nil
	}
	return l.allocateFromLead(need)
}

func (l *LeafPage) allocateFromChain(need uint16) (uint16, bool) {
	prevAt := uint16(0)
	at := l.FreeHead()
	for at != 0 {
		b := l.readFreeBlock(at)
		if b.offset != 0 && b.size >= need {
			offset := b.offset
			remainder := b.size - need
			if remainder <= 4 {
				b.offset = 0
				l.setFragmented(l.Fragmented() + remainder)
			} else {
				b.offset = offset + need
				b.size = remainder
			}
			l.writeFreeBlock(b)
			_ = prevAt
			return offset, true
		}
		prevAt = at
		at = b.next
	}
	return 0, false
}

func (l *LeafPage) allocateFromLead(need uint16) (uint16, error) {
	leadOffset := l.LeadOffset()
	leadPtr := leafCapacity - int(leadOffset) - int(need)
	if leadPtr <= leafHeaderSize+2*(int(l.CellCount())+1) {
		return 0, ErrLeafPageFull
	}
	l.setLeadOffset(leadOffset + need)
	return uint16(leadPtr), nil
}

// DeleteRecord removes the record at cell index i (simple_delete): zeroes
// its bytes, collapses the directory, and returns its space to the
// free-block chain.
func (l *LeafPage) DeleteRecord(i uint16) error {
	cellCount := l.CellCount()
	if i >= cellCount {
		return ErrEmptyCell
	}
	cellOff := l.cellOffsetAt(i)
	if cellOff == 0 {
		return ErrEmptyCell
	}
	size, err := l.recordSizeAt(cellOff)
	if err != nil {
		return err
	}

	for b := cellOff; b < cellOff+size; b++ {
		l.body()[b] = 0
	}
	l.setCellOffsetAt(i, 0)

	for j := i; j+1 < cellCount; j++ {
		l.setCellOffsetAt(j, l.cellOffsetAt(j+1))
	}
	l.setCellOffsetAt(cellCount-1, 0)
	l.setCellCount(cellCount - 1)
	l.setUsedSpace(l.UsedSpace() - (size + 2))

	l.insertFreeBlock(cellOff, size)
	return nil
}

// insertFreeBlock returns a (offset, size) hole to the free-block chain,
// coalescing with an adjacent block when possible and reusing an inactive
// slot (offset == 0) before appending a new node.
func (l *LeafPage) insertFreeBlock(offset, size uint16) {
	head := l.FreeHead()
	if head == 0 {
		at, err := l.allocate(freeBlockSize)
		if err != nil {
			// No room even for the chain's first node: count the hole
			// as fragmented rather than lose accounting consistency.
			l.setFragmented(l.Fragmented() + size)
			return
		}
		l.writeFreeBlock(freeBlock{next: 0, offset: offset, size: size, at: at})
		l.setFreeHead(at)
		return
	}

	var inactiveAt, tailAt uint16
	at := head
	for at != 0 {
		tailAt = at
		b := l.readFreeBlock(at)
		if b.offset != 0 && b.offset+b.size == offset {
			b.size += size
			l.writeFreeBlock(b)
			return
		}
		if b.offset != 0 && offset+size == b.offset {
			b.offset = offset
			b.size += size
			l.writeFreeBlock(b)
			return
		}
		if b.offset == 0 && inactiveAt == 0 {
			inactiveAt = at
		}
		at = b.next
	}

	if inactiveAt != 0 {
		b := l.readFreeBlock(inactiveAt)
		b.offset = offset
		b.size = size
		l.writeFreeBlock(b)
		return
	}

	newAt, err := l.allocate(freeBlockSize)
	if err != nil {
		l.setFragmented(l.Fragmented() + size)
		return
	}
	l.writeFreeBlock(freeBlock{next: 0, offset: offset, size: size, at: newAt})
	tail := l.readFreeBlock(tailAt)
	tail.next = newAt
	l.writeFreeBlock(tail)
}

// Page returns the underlying page this view is projected over.
func (l *LeafPage) Page() *Page { return l.page }
