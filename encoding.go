package docdb

import (
	"bytes"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

var (
	_ msgpack.CustomEncoder = (*Doc)(nil)
	_ msgpack.CustomDecoder = (*Doc)(nil)
)

// EncodeMsgpack encodes the document as a msgpack map, preserving field order.
func (d *Doc) EncodeMsgpack(enc *msgpack.Encoder) error {
	if d == nil {
		return enc.EncodeNil()
	}
	if err := enc.EncodeMapLen(len(d.fields)); err != nil {
		return err
	}
	for _, f := range d.fields {
		if err := enc.EncodeString(f.Key); err != nil {
			return err
		}
		if err := encodeMsgpackValue(enc, f.Value); err != nil {
			return fmt.Errorf("%s: %w", f.Key, err)
		}
	}
	return nil
}

func encodeMsgpackValue(enc *msgpack.Encoder, v any) error {
	switch v := v.(type) {
	case nil:
		return enc.EncodeNil()
	case bool:
		return enc.EncodeBool(v)
	case int64:
		return enc.EncodeInt(v)
	case float64:
		return enc.EncodeFloat64(v)
	case string:
		return enc.EncodeString(v)
	case time.Time:
		return enc.EncodeTime(v)
	case *Doc:
		return v.EncodeMsgpack(enc)
	case []any:
		if err := enc.EncodeArrayLen(len(v)); err != nil {
			return err
		}
		for _, el := range v {
			if err := encodeMsgpackValue(enc, el); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
}

// DecodeMsgpack decodes a msgpack map into the document, preserving field
// order and normalizing values.
func (d *Doc) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeMapLen()
	if err != nil {
		return err
	}
	if n < 0 {
		n = 0
	}
	d.fields = make([]E, 0, n)
	for i := 0; i < n; i++ {
		key, err := dec.DecodeString()
		if err != nil {
			return err
		}
		v, err := decodeMsgpackValue(dec)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		d.fields = append(d.fields, E{key, v})
	}
	return nil
}

func decodeMsgpackValue(dec *msgpack.Decoder) (any, error) {
	c, err := dec.PeekCode()
	if err != nil {
		return nil, err
	}
	switch {
	case msgpcode.IsFixedMap(c) || c == msgpcode.Map16 || c == msgpcode.Map32:
		sub := &Doc{}
		if err := sub.DecodeMsgpack(dec); err != nil {
			return nil, err
		}
		return sub, nil
	case msgpcode.IsFixedArray(c) || c == msgpcode.Array16 || c == msgpcode.Array32:
		n, err := dec.DecodeArrayLen()
		if err != nil {
			return nil, err
		}
		if n < 0 {
			return nil, nil
		}
		arr := make([]any, n)
		for i := range arr {
			if arr[i], err = decodeMsgpackValue(dec); err != nil {
				return nil, err
			}
		}
		return arr, nil
	}
	v, err := dec.DecodeInterfaceLoose()
	if err != nil {
		return nil, err
	}
	if u, ok := v.(uint64); ok && u <= 1<<63-1 {
		return int64(u), nil
	}
	return Normalize(v)
}

func encodeDoc(buf []byte, d *Doc) ([]byte, error) {
	bb := appendBuffer{buf}
	enc := msgpack.GetEncoder()
	enc.Reset(&bb)
	err := d.EncodeMsgpack(enc)
	msgpack.PutEncoder(enc)
	if err != nil {
		return nil, err
	}
	return bb.Buf, nil
}

func decodeDoc(data []byte) (*Doc, error) {
	var r bytes.Reader
	r.Reset(data)
	dec := msgpack.GetDecoder()
	dec.Reset(&r)
	defer msgpack.PutDecoder(dec)

	c, err := dec.PeekCode()
	if err != nil {
		return nil, dataErrf(data, 0, err, "failed to decode document")
	}
	if !(msgpcode.IsFixedMap(c) || c == msgpcode.Map16 || c == msgpcode.Map32) {
		return nil, dataErrf(data, 0, nil, "msgpack value is not a map (code %#x)", c)
	}
	d := &Doc{}
	if err := d.DecodeMsgpack(dec); err != nil {
		return nil, dataErrf(data, 0, err, "failed to decode document")
	}
	return d, nil
}
