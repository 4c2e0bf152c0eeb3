package docdb

import (
	"encoding/binary"
)

type valueFlags uint64

const (
	vfVerBit0 = valueFlags(1 << iota)
	vfVerBit1
	vfVerBit2
	vfVerBit3

	vfVerMask       = (vfVerBit0 | vfVerBit1 | vfVerBit2 | vfVerBit3)
	vfVer1          = vfVerBit0
	vfSupportedMask = vfVer1
	vfDefault       = vfVer1

	minValueSize = 4
)

// value is the stored form of a document in the data bucket:
//
//	uvarint flags
//	uvarint modification count
//	varbytes msgpack document
//	index key list (see appendIndexKeys)
type value struct {
	Flags    valueFlags
	ModCount uint64
	Data     []byte
	Index    []byte
}

// ValueMeta is the storage metadata of a document.
type ValueMeta struct {
	// ModCount starts at 1 on insert and increases on every modification.
	ModCount uint64
}

func (vle value) ValueMeta() ValueMeta {
	return ValueMeta{ModCount: vle.ModCount}
}

func encodeValue(modCount uint64, data []byte, rows indexRows) []byte {
	size := 2*binary.MaxVarintLen64 + binary.MaxVarintLen32 + len(data) + indexKeysSize(rows)
	buf := make([]byte, 0, size)
	buf = appendUvarint(buf, uint64(vfDefault))
	buf = appendUvarint(buf, modCount)
	buf = appendVarbytes(buf, data)
	return appendIndexKeys(buf, rows)
}

func (vle *value) decode(data []byte) error {
	if len(data) < minValueSize {
		return dataErrf(data, 0, nil, "invalid value: at least %d bytes required", minValueSize)
	}
	d := makeByteDecoder(data)
	flags, err := d.Uvarint()
	if err != nil {
		return dataErrf(data, d.Off(), err, "invalid value: bad flags")
	}
	if (flags & ^uint64(vfSupportedMask)) != 0 {
		return dataErrf(data, d.Off(), nil, "invalid value: unsupported flags %x", flags)
	}
	vle.Flags = valueFlags(flags)

	vle.ModCount, err = d.Uvarint()
	if err != nil {
		return dataErrf(data, d.Off(), err, "invalid value: bad mod count")
	}
	vle.Data, err = d.VarBytes()
	if err != nil {
		return dataErrf(data, d.Off(), err, "invalid value: bad data")
	}
	vle.Index = d.Buf
	return nil
}

func decodeValue(data []byte) (value, *Doc, error) {
	var vle value
	if err := vle.decode(data); err != nil {
		return vle, nil, err
	}
	doc, err := decodeDoc(vle.Data)
	if err != nil {
		return vle, nil, err
	}
	return vle, doc, nil
}
