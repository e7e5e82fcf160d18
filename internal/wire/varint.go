package wire

import "encoding/binary"

// putUvarint appends an unsigned LEB128 varint to buf, per §6: "unsigned
// LEB128 ... a varint ends at the first byte with the MSB clear."
func putUvarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

// putVarint appends a zig-zag-then-LEB128-encoded signed varint to buf.
// encoding/binary.PutVarint already folds the sign bit into the low bit of
// the unsigned magnitude before LEB128-encoding it, which is exactly the
// zig-zag scheme §6 specifies.
func putVarint(buf []byte, v int64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutVarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

// AppendUvarint appends an unsigned LEB128 varint to buf. Exported for
// reuse by the storage package, which frames on-disk records with the
// same varint length prefix §4.6 defines for the wire protocol.
func AppendUvarint(buf []byte, v uint64) []byte {
	return putUvarint(buf, v)
}

// ReadUvarint decodes an unsigned LEB128 varint from the start of buf,
// returning the value and the number of bytes it consumed.
func ReadUvarint(buf []byte) (value uint64, n int, err error) {
	v, n := binary.Uvarint(buf)
	if n == 0 {
		return 0, 0, ErrTruncated
	}
	if n < 0 {
		return 0, 0, ErrVarintOverflow
	}
	return v, n, nil
}

// reader decodes a packet body from a byte slice, tracking a cursor and
// surfacing truncation as an error instead of a panic.
type reader struct {
	buf []byte
	pos int
}

func newReader(buf []byte) *reader {
	return &reader{buf: buf}
}

func (r *reader) remaining() []byte {
	return r.buf[r.pos:]
}

func (r *reader) readByte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, ErrTruncated
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) readBytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, ErrTruncated
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *reader) readUvarint() (uint64, error) {
	v, n := binary.Uvarint(r.remaining())
	if n == 0 {
		return 0, ErrTruncated
	}
	if n < 0 {
		return 0, ErrVarintOverflow
	}
	r.pos += n
	return v, nil
}

func (r *reader) readVarint() (int64, error) {
	v, n := binary.Varint(r.remaining())
	if n == 0 {
		return 0, ErrTruncated
	}
	if n < 0 {
		return 0, ErrVarintOverflow
	}
	r.pos += n
	return v, nil
}

func (r *reader) readBool() (bool, error) {
	b, err := r.readByte()
	if err != nil {
		return false, err
	}
	switch b {
	case 0x00:
		return false, nil
	case 0x01:
		return true, nil
	default:
		return false, ErrMalformedBool
	}
}
