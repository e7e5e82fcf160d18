package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// maxFrameLen bounds a single frame's payload to guard against a corrupt or
// hostile length prefix causing an unbounded allocation.
const maxFrameLen = 64 << 20

// Encode serializes p as [version][pid][porder][tag][payload], without an
// outer length prefix. Use WriteFrame/ReadFrame for the length-prefixed
// stream framing the connection multiplexer actually puts on the wire.
func Encode(p Packet) []byte {
	buf := make([]byte, 0, 32)
	buf = append(buf, ProtocolVersion)
	var idbuf [4]byte
	binary.BigEndian.PutUint32(idbuf[:], p.ID.ID)
	buf = append(buf, idbuf[:]...)
	binary.BigEndian.PutUint32(idbuf[:], p.ID.Order)
	buf = append(buf, idbuf[:]...)
	buf = append(buf, byte(p.Payload.Tag()))
	return p.Payload.appendTo(buf)
}

// Decode parses a single packet from buf, which must contain exactly one
// encoded packet (no trailing bytes are tolerated beyond the payload).
func Decode(buf []byte) (Packet, error) {
	r := newReader(buf)
	version, err := r.readByte()
	if err != nil {
		return Packet{}, err
	}
	if version != ProtocolVersion {
		return Packet{}, ErrUnknownVersion
	}
	idBytes, err := r.readBytes(4)
	if err != nil {
		return Packet{}, err
	}
	orderBytes, err := r.readBytes(4)
	if err != nil {
		return Packet{}, err
	}
	id := PacketID{
		ID:    binary.BigEndian.Uint32(idBytes),
		Order: binary.BigEndian.Uint32(orderBytes),
	}
	tagByte, err := r.readByte()
	if err != nil {
		return Packet{}, err
	}
	payload, err := decodePayload(PayloadTag(tagByte), r)
	if err != nil {
		return Packet{}, err
	}
	if extra := len(r.remaining()); extra != 0 {
		return Packet{}, fmt.Errorf("wire: %d trailing bytes after payload", extra)
	}
	return Packet{ID: id, Payload: payload}, nil
}

func decodePayload(tag PayloadTag, r *reader) (Payload, error) {
	switch tag {
	case TagInsert:
		k, err := r.readKey()
		if err != nil {
			return nil, err
		}
		v, err := r.readValue()
		if err != nil {
			return nil, err
		}
		return InsertPayload{Key: k, Value: v}, nil
	case TagGet:
		k, err := r.readKey()
		if err != nil {
			return nil, err
		}
		return GetPayload{Key: k}, nil
	case TagWatch:
		k, err := r.readKey()
		if err != nil {
			return nil, err
		}
		activityByte, err := r.readByte()
		if err != nil {
			return nil, err
		}
		if activityByte > byte(ActivityLazy) {
			return nil, ErrInvalidActivity
		}
		behaviourByte, err := r.readByte()
		if err != nil {
			return nil, err
		}
		if behaviourByte > byte(BehaviourEager) {
			return nil, ErrInvalidBehaviour
		}
		return WatchPayload{Key: k, Activity: Activity(activityByte), Behaviour: Behaviour(behaviourByte)}, nil
	case TagRelease:
		k, err := r.readKey()
		if err != nil {
			return nil, err
		}
		return ReleasePayload{Key: k}, nil
	case TagDelete:
		k, err := r.readKey()
		if err != nil {
			return nil, err
		}
		return DeletePayload{Key: k}, nil
	case TagNotify:
		k, err := r.readKey()
		if err != nil {
			return nil, err
		}
		opt, err := r.readOption()
		if err != nil {
			return nil, err
		}
		more, err := r.readBool()
		if err != nil {
			return nil, err
		}
		return NotifyPayload{Key: k, Value: opt, More: more}, nil
	case TagReturn:
		k, err := r.readKey()
		if err != nil {
			return nil, err
		}
		opt, err := r.readOption()
		if err != nil {
			return nil, err
		}
		return ReturnPayload{Key: k, Value: opt}, nil
	default:
		return nil, ErrUnknownTag
	}
}

// WriteFrame writes p to w as a u32-BE length prefix followed by its
// encoded bytes, the length-prefixed framing the connection multiplexer
// (§4.7) relies on to delimit packets on a TCP stream.
func WriteFrame(w io.Writer, p Packet) error {
	body := Encode(p)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// ReadFrame reads one length-prefixed frame from r and decodes it.
func ReadFrame(r io.Reader) (Packet, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Packet{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameLen {
		return Packet{}, fmt.Errorf("wire: frame of %d bytes exceeds limit", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Packet{}, err
	}
	return Decode(body)
}
