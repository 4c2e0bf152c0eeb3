// Package mql parses the Mongo query language, written as relaxed extended
// JSON, into docdb filters, updates, pipelines and schemas.
package mql

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/oreline/docdb"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// SyntaxError points at the operator or value that could not be parsed.
// Path is a dotted location within the input, such as "$group.total.$sum".
type SyntaxError struct {
	Path string
	Msg  string
	Err  error
}

func (e *SyntaxError) Error() string {
	var buf strings.Builder
	buf.WriteString("mql: ")
	if e.Path != "" {
		buf.WriteString(e.Path)
		buf.WriteString(": ")
	}
	buf.WriteString(e.Msg)
	if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

func (e *SyntaxError) Unwrap() error {
	return e.Err
}

func errf(path string, format string, args ...any) error {
	return &SyntaxError{Path: path, Msg: fmt.Sprintf(format, args...)}
}

func wrapErr(path string, err error, format string, args ...any) error {
	return &SyntaxError{Path: path, Msg: fmt.Sprintf(format, args...), Err: err}
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

// ParseJSON parses one extended JSON document.
func ParseJSON(s string) (*docdb.Doc, error) {
	d, err := parseRawDoc(s)
	if err != nil {
		return nil, err
	}
	return toDoc(d, "")
}

// ParseJSONArray parses an extended JSON array. A single document is
// accepted as an array of one.
func ParseJSONArray(s string) ([]any, error) {
	raw, err := parseRawArray(s)
	if err != nil {
		return nil, err
	}
	return toArray(raw, "")
}

// ParseDocs parses an array of documents, or a single document.
func ParseDocs(s string) ([]*docdb.Doc, error) {
	raw, err := parseRawArray(s)
	if err != nil {
		return nil, err
	}
	docs := make([]*docdb.Doc, 0, len(raw))
	for i, v := range raw {
		d, ok := v.(bson.D)
		if !ok {
			return nil, errf(itoa(i), "expected a document, got %s", describe(v))
		}
		doc, err := toDoc(d, itoa(i))
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func parseRawDoc(s string) (bson.D, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return bson.D{}, nil
	}
	var d bson.D
	if err := bson.UnmarshalExtJSON([]byte(s), false, &d); err != nil {
		return nil, wrapErr("", err, "invalid JSON")
	}
	return normalizeRaw(d).(bson.D), nil
}

// parseRawArray wraps the input into a document, since extended JSON only
// has document roots.
func parseRawArray(s string) (bson.A, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return bson.A{}, nil
	}
	if !strings.HasPrefix(s, "[") {
		d, err := parseRawDoc(s)
		if err != nil {
			return nil, err
		}
		return bson.A{d}, nil
	}
	d, err := parseRawDoc(`{"v":` + s + `}`)
	if err != nil {
		return nil, err
	}
	return d[0].Value.(bson.A), nil
}

// normalizeRaw rewrites the container types the decoder may produce into
// bson.D and bson.A.
func normalizeRaw(v any) any {
	switch v := v.(type) {
	case bson.D:
		for i := range v {
			v[i].Value = normalizeRaw(v[i].Value)
		}
		return v
	case bson.M:
		return normalizeRaw(map[string]any(v))
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		d := make(bson.D, 0, len(v))
		for _, k := range keys {
			d = append(d, bson.E{Key: k, Value: normalizeRaw(v[k])})
		}
		return d
	case bson.A:
		for i := range v {
			v[i] = normalizeRaw(v[i])
		}
		return v
	case []any:
		return normalizeRaw(bson.A(v))
	default:
		return v
	}
}

func toDoc(d bson.D, path string) (*docdb.Doc, error) {
	doc := docdb.NewDoc(len(d))
	for _, e := range d {
		if doc.Has(e.Key) {
			return nil, errf(join(path, e.Key), "duplicate field")
		}
		v, err := toValue(e.Value, join(path, e.Key))
		if err != nil {
			return nil, err
		}
		doc.Set(e.Key, v)
	}
	return doc, nil
}

func toArray(a bson.A, path string) ([]any, error) {
	out := make([]any, len(a))
	for i, v := range a {
		var err error
		out[i], err = toValue(v, join(path, strconv.Itoa(i)))
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// toValue converts a decoded extended JSON value into a docdb value.
// ObjectIDs become their hex strings and decimals become doubles.
func toValue(v any, path string) (any, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case bool:
		return v, nil
	case string:
		return v, nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		return v, nil
	case primitive.DateTime:
		return v.Time().UTC(), nil
	case primitive.Timestamp:
		return time.Unix(int64(v.T), 0).UTC(), nil
	case primitive.ObjectID:
		return v.Hex(), nil
	case primitive.Decimal128:
		f, err := strconv.ParseFloat(v.String(), 64)
		if err != nil && !math.IsInf(f, 0) {
			return nil, wrapErr(path, err, "invalid decimal")
		}
		return f, nil
	case primitive.Symbol:
		return string(v), nil
	case primitive.Undefined:
		return nil, nil
	case bson.D:
		return toDoc(v, path)
	case bson.A:
		return toArray(v, path)
	default:
		return nil, errf(path, "unsupported value %s", describe(v))
	}
}

func describe(v any) string {
	switch v := v.(type) {
	case nil:
		return "null"
	case bson.D:
		return "a document"
	case bson.A:
		return "an array"
	case string:
		return strconv.Quote(v)
	case primitive.Regex:
		return "a regular expression"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// asInt accepts integral numbers of any width.
func asInt(v any, path string) (int, error) {
	switch v := v.(type) {
	case int32:
		return int(v), nil
	case int64:
		if v < math.MinInt32 || v > math.MaxInt32 {
			return 0, errf(path, "%d is out of range", v)
		}
		return int(v), nil
	case float64:
		if v != math.Trunc(v) || math.Abs(v) > math.MaxInt32 {
			return 0, errf(path, "expected an integer, got %v", v)
		}
		return int(v), nil
	}
	return 0, errf(path, "expected an integer, got %s", describe(v))
}

// truthy follows the projection convention: false and zero mean off.
func truthy(v any, path string) (bool, error) {
	switch v := v.(type) {
	case bool:
		return v, nil
	case int32:
		return v != 0, nil
	case int64:
		return v != 0, nil
	case float64:
		return v != 0, nil
	}
	return false, errf(path, "expected a boolean or a number, got %s", describe(v))
}

func asString(v any, path string) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	return "", errf(path, "expected a string, got %s", describe(v))
}

func asDoc(v any, path string) (bson.D, error) {
	if d, ok := v.(bson.D); ok {
		return d, nil
	}
	return nil, errf(path, "expected a document, got %s", describe(v))
}

func asArray(v any, path string) (bson.A, error) {
	if a, ok := v.(bson.A); ok {
		return a, nil
	}
	return nil, errf(path, "expected an array, got %s", describe(v))
}

func isOperator(key string) bool {
	return strings.HasPrefix(key, "$")
}

// isOperatorDoc reports whether every key of d is an operator.
func isOperatorDoc(d bson.D) bool {
	if len(d) == 0 {
		return false
	}
	for _, e := range d {
		if !isOperator(e.Key) {
			return false
		}
	}
	return true
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
