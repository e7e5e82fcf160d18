package wire

import "github.com/odin-platform/overseer/internal/model"

func encodeKey(buf []byte, k model.Key) []byte {
	s := string(k)
	buf = putUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

func (r *reader) readKey() (model.Key, error) {
	n, err := r.readUvarint()
	if err != nil {
		return "", err
	}
	b, err := r.readBytes(int(n))
	if err != nil {
		return "", err
	}
	return model.NewKey(string(b))
}

func encodeValue(buf []byte, v model.Value) []byte {
	switch v.Tag() {
	case model.TagString:
		s, _ := v.AsString()
		buf = append(buf, byte(model.TagString))
		buf = putUvarint(buf, uint64(len(s)))
		return append(buf, s...)
	case model.TagInteger:
		i, _ := v.AsInteger()
		buf = append(buf, byte(model.TagInteger))
		return putVarint(buf, i)
	default:
		panic("wire: value with unknown tag")
	}
}

func (r *reader) readValue() (model.Value, error) {
	tagByte, err := r.readByte()
	if err != nil {
		return model.Value{}, err
	}
	switch model.ValueTag(tagByte) {
	case model.TagString:
		n, err := r.readUvarint()
		if err != nil {
			return model.Value{}, err
		}
		b, err := r.readBytes(int(n))
		if err != nil {
			return model.Value{}, err
		}
		return model.NewStringValue(string(b)), nil
	case model.TagInteger:
		i, err := r.readVarint()
		if err != nil {
			return model.Value{}, err
		}
		return model.NewIntegerValue(i), nil
	default:
		return model.Value{}, ErrUnknownValueTag
	}
}

// encodeOption appends an Option<Value>: 0x00 for none, 0x01+Value for some.
func encodeOption(buf []byte, v *model.Value) []byte {
	if v == nil {
		return append(buf, 0x00)
	}
	buf = append(buf, 0x01)
	return encodeValue(buf, *v)
}

// EncodeKeyValue serializes a key and value back to back using the same
// field encodings §4.6 defines for the wire protocol. The storage
// facade's on-disk record blobs reuse this encoding rather than invent a
// second one.
func EncodeKeyValue(k model.Key, v model.Value) []byte {
	buf := make([]byte, 0, len(k)+16)
	buf = encodeKey(buf, k)
	buf = encodeValue(buf, v)
	return buf
}

// DecodeKeyValue parses a buffer produced by EncodeKeyValue.
func DecodeKeyValue(buf []byte) (model.Key, model.Value, error) {
	r := newReader(buf)
	k, err := r.readKey()
	if err != nil {
		return "", model.Value{}, err
	}
	v, err := r.readValue()
	if err != nil {
		return "", model.Value{}, err
	}
	return k, v, nil
}

func (r *reader) readOption() (*model.Value, error) {
	b, err := r.readByte()
	if err != nil {
		return nil, err
	}
	switch b {
	case 0x00:
		return nil, nil
	case 0x01:
		v, err := r.readValue()
		if err != nil {
			return nil, err
		}
		return &v, nil
	default:
		return nil, ErrMalformedOption
	}
}
