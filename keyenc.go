package docdb

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Index keys are built from order-preserving, self-delimiting value
// encodings: bytes.Compare over two encodings agrees with compareValues over
// the values. A key is a concatenation of such components, so a component
// never is a prefix of a different component.
//
//	null    rank
//	number  rank + 8 bytes (float64 bits, sign-adjusted) + 4 bytes int64
//	        remainder (sign-flipped), so integers beyond 2^53 stay distinct
//	        while 1 and 1.0 encode alike
//	string  rank + escaped bytes + 0x00 0x01 (0x00 is escaped as 0x00 0xFF)
//	doc     rank + (0x02 + string key + value)* + 0x01
//	array   rank + (0x02 + value)* + 0x01
//	bool    rank + 0x00 | 0x01
//	date    rank + 8 bytes seconds (sign-flipped) + 4 bytes nanoseconds
//
// Descending components are bit-complemented as a whole.
const (
	keyEnd  byte = 0x01
	keyMore byte = 0x02

	numberKeySize = 13
)

func appendKeyComponent(buf []byte, v any, desc bool) []byte {
	start := len(buf)
	buf = appendKeyValue(buf, v)
	if desc {
		complementBytes(buf[start:])
	}
	return buf
}

func appendKeyValue(buf []byte, v any) []byte {
	buf = append(buf, typeRank(v))
	switch v := v.(type) {
	case nil:
	case int64:
		f := float64(v)
		buf = appendKeyFloat(buf, f)
		buf = binary.BigEndian.AppendUint32(buf, uint32(int32(intRemainder(v, f)))^(1<<31))
	case float64:
		buf = appendKeyFloat(buf, v)
		buf = binary.BigEndian.AppendUint32(buf, 1<<31)
	case string:
		buf = appendKeyString(buf, v)
	case bool:
		if v {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case time.Time:
		buf = binary.BigEndian.AppendUint64(buf, uint64(v.Unix())^(1<<63))
		buf = binary.BigEndian.AppendUint32(buf, uint32(v.Nanosecond()))
	case *Doc:
		for _, f := range v.fieldsOrNil() {
			buf = append(buf, keyMore)
			buf = appendKeyString(buf, f.Key)
			buf = appendKeyValue(buf, f.Value)
		}
		buf = append(buf, keyEnd)
	case []any:
		for _, el := range v {
			buf = append(buf, keyMore)
			buf = appendKeyValue(buf, el)
		}
		buf = append(buf, keyEnd)
	}
	return buf
}

func appendKeyFloat(buf []byte, f float64) []byte {
	var bits uint64
	switch {
	case math.IsNaN(f):
		bits = 0
	case f == 0:
		bits = 1 << 63
	default:
		bits = math.Float64bits(f)
		if bits&(1<<63) == 0 {
			bits |= 1 << 63
		} else {
			bits = ^bits
		}
	}
	return binary.BigEndian.AppendUint64(buf, bits)
}

// intRemainder returns v minus the integer value of its float64 rounding f.
// The result is within half a unit in the last place of f.
func intRemainder(v int64, f float64) int64 {
	if f >= 1<<63 {
		return v - math.MaxInt64 - 1
	}
	return v - int64(f)
}

func appendKeyString(buf []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			buf = append(buf, 0, 0xFF)
		} else {
			buf = append(buf, s[i])
		}
	}
	return append(buf, 0, keyEnd)
}

func complementBytes(b []byte) {
	for i := range b {
		b[i] = ^b[i]
	}
}

// skipKeyComponent returns the length of the component at the start of b.
func skipKeyComponent(b []byte, desc bool) (int, error) {
	var m byte
	if desc {
		m = 0xFF
	}
	n := skipKeyValue(b, m)
	if n < 0 {
		return 0, dataErrf(b, 0, nil, "truncated key component")
	}
	return n, nil
}

func skipKeyValue(b []byte, m byte) int {
	if len(b) == 0 {
		return -1
	}
	need := func(n int) int {
		if len(b) < n {
			return -1
		}
		return n
	}
	switch b[0] ^ m {
	case rankNull:
		return 1
	case rankNumber:
		return need(numberKeySize)
	case rankBool:
		return need(2)
	case rankDate:
		return need(13)
	case rankString:
		n := skipKeyString(b[1:], m)
		if n < 0 {
			return -1
		}
		return 1 + n
	case rankDoc, rankArray:
		isDoc := b[0]^m == rankDoc
		i := 1
		for {
			if i >= len(b) {
				return -1
			}
			switch b[i] ^ m {
			case keyEnd:
				return i + 1
			case keyMore:
				i++
				if isDoc {
					n := skipKeyString(b[i:], m)
					if n < 0 {
						return -1
					}
					i += n
				}
				n := skipKeyValue(b[i:], m)
				if n < 0 {
					return -1
				}
				i += n
			default:
				return -1
			}
		}
	}
	return -1
}

func skipKeyString(b []byte, m byte) int {
	for i := 0; i < len(b); i++ {
		if b[i]^m != 0 {
			continue
		}
		if i+1 >= len(b) {
			return -1
		}
		switch b[i+1] ^ m {
		case keyEnd:
			return i + 2
		case 0xFF:
			i++
		default:
			return -1
		}
	}
	return -1
}

// decodeKeyValue decodes a single ascending component. Used for reporting
// keys back to the caller (primary keys, duplicate key errors).
func decodeKeyValue(b []byte) (any, int, error) {
	if len(b) == 0 {
		return nil, 0, dataErrf(b, 0, nil, "empty key")
	}
	switch b[0] {
	case rankNull:
		return nil, 1, nil
	case rankNumber:
		if len(b) < numberKeySize {
			break
		}
		bits := binary.BigEndian.Uint64(b[1:9])
		if bits&(1<<63) != 0 {
			bits &^= 1 << 63
		} else {
			bits = ^bits
		}
		f := math.Float64frombits(bits)
		rem := int64(int32(binary.BigEndian.Uint32(b[9:numberKeySize]) ^ (1 << 31)))
		switch {
		case f >= 1<<63 && rem != 0:
			return math.MaxInt64 + (rem + 1), numberKeySize, nil
		case f == math.Trunc(f) && f >= -(1<<63) && f < 1<<63:
			return int64(f) + rem, numberKeySize, nil
		}
		return f, numberKeySize, nil
	case rankString:
		n := skipKeyString(b[1:], 0)
		if n < 0 {
			break
		}
		raw := b[1 : 1+n-2]
		s := make([]byte, 0, len(raw))
		for i := 0; i < len(raw); i++ {
			s = append(s, raw[i])
			if raw[i] == 0 {
				i++
			}
		}
		return string(s), 1 + n, nil
	case rankBool:
		if len(b) < 2 {
			break
		}
		return b[1] != 0, 2, nil
	case rankDate:
		if len(b) < 13 {
			break
		}
		sec := int64(binary.BigEndian.Uint64(b[1:9]) ^ (1 << 63))
		nsec := int64(binary.BigEndian.Uint32(b[9:13]))
		return time.Unix(sec, nsec).UTC(), 13, nil
	default:
		return nil, 0, dataErrf(b, 0, nil, "unsupported key component type %#x", b[0])
	}
	return nil, 0, dataErrf(b, 0, nil, "truncated key component")
}

// encodePrimaryKey validates and encodes a primary key value.
func encodePrimaryKey(v any) ([]byte, error) {
	if !isScalarKey(v) {
		return nil, fmt.Errorf("%w: %s value cannot be a primary key", ErrInvalidKey, TypeOf(v))
	}
	return appendKeyValue(nil, v), nil
}
