package netio

import (
	"encoding/binary"
	"io"
	"sync"

	"github.com/odin-platform/overseer/internal/wire"
)

// bufferPool recycles byte slices used to build outbound frames, sized in
// three tiers the way the teacher's connection buffers were pooled.
type bufferPool struct {
	small  sync.Pool
	medium sync.Pool
	large  sync.Pool
}

func newBufferPool() *bufferPool {
	return &bufferPool{
		small:  sync.Pool{New: func() interface{} { b := make([]byte, 0, 256); return &b }},
		medium: sync.Pool{New: func() interface{} { b := make([]byte, 0, 4096); return &b }},
		large:  sync.Pool{New: func() interface{} { b := make([]byte, 0, 65536); return &b }},
	}
}

func (bp *bufferPool) get(hint int) *[]byte {
	switch {
	case hint <= 256:
		return bp.small.Get().(*[]byte)
	case hint <= 4096:
		return bp.medium.Get().(*[]byte)
	default:
		return bp.large.Get().(*[]byte)
	}
}

func (bp *bufferPool) put(buf *[]byte) {
	*buf = (*buf)[:0]
	switch cap(*buf) {
	case 256:
		bp.small.Put(buf)
	case 4096:
		bp.medium.Put(buf)
	case 65536:
		bp.large.Put(buf)
	}
}

// writeFrame builds the length prefix and encoded packet into a single
// pooled buffer and writes it in one call, instead of WriteFrame's two
// separate Write calls for the prefix and body.
func (bp *bufferPool) writeFrame(w io.Writer, pkt wire.Packet) error {
	body := wire.Encode(pkt)
	buf := bp.get(4 + len(body))
	defer bp.put(buf)

	*buf = append((*buf)[:0], 0, 0, 0, 0)
	binary.BigEndian.PutUint32(*buf, uint32(len(body)))
	*buf = append(*buf, body...)

	_, err := w.Write(*buf)
	return err
}
