package docdb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// E is a single document field.
type E struct {
	Key   string
	Value any
}

// Doc is an ordered document. Field order is preserved through storage,
// projection and JSON output.
//
// A Doc returned by the store is owned by the caller. Docs handed to the
// aggregation engine must not be modified while a pipeline runs.
type Doc struct {
	fields []E
}

// D builds a document from alternating keys and values:
//
//	D("_id", "EQ001", "status", "working")
//
// D panics on an odd number of arguments, non-string keys and values that
// cannot be normalized.
func D(kv ...any) *Doc {
	if len(kv)%2 != 0 {
		panic("docdb.D: odd number of arguments")
	}
	d := &Doc{fields: make([]E, 0, len(kv)/2)}
	for i := 0; i < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			panic(fmt.Errorf("docdb.D: key %d is %T, not string", i/2, kv[i]))
		}
		d.Set(k, kv[i+1])
	}
	return d
}

// NewDoc returns an empty document with room for n fields.
func NewDoc(n int) *Doc {
	return &Doc{fields: make([]E, 0, n)}
}

// DocFromMap converts a map into a document with keys in sorted order.
func DocFromMap(m map[string]any) (*Doc, error) {
	return docFromMap(m)
}

// FromStruct converts a Go value into a document via its msgpack encoding,
// so msgpack struct tags control the field names.
func FromStruct(v any) (*Doc, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, err
	}
	d, err := decodeDoc(data)
	if err != nil {
		return nil, fmt.Errorf("%T does not encode as a document: %w", v, err)
	}
	return d, nil
}

// Decode stores the document into dst, which is typically a pointer to a
// struct with msgpack tags.
func (d *Doc) Decode(dst any) error {
	data, err := msgpack.Marshal(d)
	if err != nil {
		return err
	}
	return msgpack.Unmarshal(data, dst)
}

func (d *Doc) Len() int {
	if d == nil {
		return 0
	}
	return len(d.fields)
}

// Fields returns a copy of the field list.
func (d *Doc) Fields() []E {
	if d == nil {
		return nil
	}
	return append([]E(nil), d.fields...)
}

func (d *Doc) Keys() []string {
	if d == nil {
		return nil
	}
	keys := make([]string, len(d.fields))
	for i, f := range d.fields {
		keys[i] = f.Key
	}
	return keys
}

func (d *Doc) index(key string) int {
	if d == nil {
		return -1
	}
	for i := range d.fields {
		if d.fields[i].Key == key {
			return i
		}
	}
	return -1
}

func (d *Doc) Get(key string) (any, bool) {
	if i := d.index(key); i >= 0 {
		return d.fields[i].Value, true
	}
	return nil, false
}

func (d *Doc) Has(key string) bool {
	return d.index(key) >= 0
}

// Set replaces the value of an existing field in place, or appends a new one.
// Set panics if v cannot be normalized.
func (d *Doc) Set(key string, v any) *Doc {
	d.set(key, mustNormalize(v))
	return d
}

func (d *Doc) set(key string, v any) {
	if i := d.index(key); i >= 0 {
		d.fields[i].Value = v
	} else {
		d.fields = append(d.fields, E{key, v})
	}
}

func (d *Doc) Delete(key string) bool {
	i := d.index(key)
	if i < 0 {
		return false
	}
	d.fields = append(d.fields[:i], d.fields[i+1:]...)
	return true
}

// Lookup resolves a dotted path. Numeric segments index into arrays.
func (d *Doc) Lookup(path string) (any, bool) {
	return lookupParts(d, splitPath(path))
}

// SetPath sets the value at a dotted path, creating intermediate documents.
// Setting an array element past the end pads the array with nulls.
func (d *Doc) SetPath(path string, v any) error {
	v, err := Normalize(v)
	if err != nil {
		return err
	}
	return d.setPath(splitPath(path), v)
}

func (d *Doc) setPath(parts []string, v any) error {
	if len(parts) == 0 || parts[0] == "" {
		return fmt.Errorf("%w: empty field name", ErrInvalidUpdate)
	}
	if len(parts) == 1 {
		d.set(parts[0], v)
		return nil
	}
	child, ok := d.Get(parts[0])
	if !ok || child == nil {
		child = &Doc{}
		d.set(parts[0], child)
	}
	return setPathIn(child, parts[0], parts[1:], v, func(nv any) { d.set(parts[0], nv) })
}

func setPathIn(cur any, name string, parts []string, v any, replace func(any)) error {
	switch c := cur.(type) {
	case *Doc:
		return c.setPath(parts, v)
	case []any:
		i, ok := arrayIndex(parts[0])
		if !ok {
			return fmt.Errorf("%w: cannot create field %q in array %q", ErrInvalidUpdate, parts[0], name)
		}
		for len(c) <= i {
			c = append(c, nil)
		}
		replace(c)
		if len(parts) == 1 {
			c[i] = v
			return nil
		}
		if c[i] == nil {
			c[i] = &Doc{}
		}
		return setPathIn(c[i], parts[0], parts[1:], v, func(nv any) { c[i] = nv })
	default:
		return fmt.Errorf("%w: cannot create field %q in %s value %q", ErrInvalidUpdate, parts[0], TypeOf(cur), name)
	}
}

// UnsetPath removes the field at a dotted path. Array elements are replaced
// with null rather than removed. Returns false if nothing was removed.
func (d *Doc) UnsetPath(path string) bool {
	parts := splitPath(path)
	var cur any = d
	for i, part := range parts {
		last := i == len(parts)-1
		switch c := cur.(type) {
		case *Doc:
			if last {
				return c.Delete(part)
			}
			v, ok := c.Get(part)
			if !ok {
				return false
			}
			cur = v
		case []any:
			j, ok := arrayIndex(part)
			if !ok || j >= len(c) {
				return false
			}
			if last {
				c[j] = nil
				return true
			}
			cur = c[j]
		default:
			return false
		}
	}
	return false
}

// Clone returns a deep copy.
func (d *Doc) Clone() *Doc {
	if d == nil {
		return nil
	}
	c := &Doc{fields: make([]E, len(d.fields))}
	for i, f := range d.fields {
		c.fields[i] = E{f.Key, cloneValue(f.Value)}
	}
	return c
}

// Equal reports whether both documents have the same fields in the same
// order with equal values. Numbers compare numerically.
func (d *Doc) Equal(o *Doc) bool {
	return compareValues(d, o) == 0
}

func (d *Doc) String() string {
	data, err := d.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<invalid document: %v>", err)
	}
	return string(data)
}

func (d *Doc) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := appendJSON(&buf, d); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func appendJSON(buf *bytes.Buffer, v any) error {
	switch v := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		buf.WriteString(strconv.FormatBool(v))
	case int64:
		buf.WriteString(strconv.FormatInt(v, 10))
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			buf.WriteString("null")
		} else {
			buf.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		}
	case string:
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		buf.Write(data)
	case time.Time:
		buf.WriteByte('"')
		buf.WriteString(v.UTC().Format(time.RFC3339Nano))
		buf.WriteByte('"')
	case *Doc:
		if v == nil {
			buf.WriteString("null")
			return nil
		}
		buf.WriteByte('{')
		for i, f := range v.fields {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := appendJSON(buf, f.Key); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := appendJSON(buf, f.Value); err != nil {
				return fmt.Errorf("%s: %w", f.Key, err)
			}
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, el := range v {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := appendJSON(buf, el); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
	return nil
}

func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

func arrayIndex(s string) (int, bool) {
	if s == "" || len(s) > 9 {
		return 0, false
	}
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}
