package docdb

import (
	"encoding/binary"
	"io"
	"math"
)

// appendBuffer lets msgpack encode straight into a pooled byte slice.
type appendBuffer struct {
	Buf []byte
}

var _ io.Writer = (*appendBuffer)(nil)

func (ab *appendBuffer) Write(b []byte) (int, error) {
	ab.Buf = append(ab.Buf, b...)
	return len(b), nil
}

func (ab *appendBuffer) WriteByte(v byte) error {
	ab.Buf = append(ab.Buf, v)
	return nil
}

func appendUvarint(buf []byte, v uint64) []byte {
	return binary.AppendUvarint(buf, v)
}

// appendVarbytes writes a length-prefixed chunk.
func appendVarbytes(buf []byte, v []byte) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(v)))
	return append(buf, v...)
}

// byteReader walks a buffer produced by appendUvarint and appendVarbytes,
// reporting errors relative to the start of the whole buffer.
type byteReader struct {
	Orig []byte
	Buf  []byte
}

func makeByteDecoder(buf []byte) byteReader {
	return byteReader{Orig: buf, Buf: buf}
}

func (r *byteReader) Off() int {
	return len(r.Orig) - len(r.Buf)
}

func (r *byteReader) Uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.Buf)
	if n <= 0 {
		return 0, dataErrf(r.Orig, r.Off(), nil, "invalid uvarint")
	}
	r.Buf = r.Buf[n:]
	return v, nil
}

func (r *byteReader) Uvarinti() (int, error) {
	v, err := r.Uvarint()
	if err != nil {
		return 0, err
	}
	if v > math.MaxInt {
		return 0, dataErrf(r.Orig, r.Off(), nil, "length does not fit into int: %d", v)
	}
	return int(v), nil
}

func (r *byteReader) VarBytes() ([]byte, error) {
	n, err := r.Uvarinti()
	if err != nil {
		return nil, err
	}
	if len(r.Buf) < n {
		return nil, dataErrf(r.Orig, r.Off(), nil, "truncated chunk: %d bytes left, %d wanted", len(r.Buf), n)
	}
	v := r.Buf[:n]
	r.Buf = r.Buf[n:]
	return v, nil
}
