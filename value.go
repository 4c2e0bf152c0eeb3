package docdb

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
	"time"
)

// BSONType names the type of a document value, using the vocabulary of
// $jsonSchema bsonType.
type BSONType uint8

const (
	TypeNull BSONType = iota + 1
	TypeBool
	TypeInt
	TypeDouble
	TypeString
	TypeDate
	TypeObject
	TypeArray

	// TypeNumber matches both TypeInt and TypeDouble.
	TypeNumber
)

var bsonTypeNames = [...]string{
	TypeNull:   "null",
	TypeBool:   "bool",
	TypeInt:    "int",
	TypeDouble: "double",
	TypeString: "string",
	TypeDate:   "date",
	TypeObject: "object",
	TypeArray:  "array",
	TypeNumber: "number",
}

func (t BSONType) String() string {
	if int(t) < len(bsonTypeNames) && bsonTypeNames[t] != "" {
		return bsonTypeNames[t]
	}
	return fmt.Sprintf("BSONType(%d)", uint8(t))
}

// ParseBSONType accepts bsonType names along with their common aliases
// ("long", "decimal", "boolean", "timestamp", "integer").
func ParseBSONType(s string) (BSONType, error) {
	switch strings.ToLower(s) {
	case "null":
		return TypeNull, nil
	case "bool", "boolean":
		return TypeBool, nil
	case "int", "long", "integer":
		return TypeInt, nil
	case "double", "decimal":
		return TypeDouble, nil
	case "number":
		return TypeNumber, nil
	case "string":
		return TypeString, nil
	case "date", "timestamp":
		return TypeDate, nil
	case "object":
		return TypeObject, nil
	case "array":
		return TypeArray, nil
	default:
		return 0, fmt.Errorf("unknown bsonType %q", s)
	}
}

// TypeOf returns the BSONType of a normalized value.
func TypeOf(v any) BSONType {
	switch v.(type) {
	case nil:
		return TypeNull
	case bool:
		return TypeBool
	case int64:
		return TypeInt
	case float64:
		return TypeDouble
	case string:
		return TypeString
	case time.Time:
		return TypeDate
	case *Doc:
		return TypeObject
	case []any:
		return TypeArray
	default:
		return 0
	}
}

// Normalize converts a Go value into the canonical value set used by
// documents: nil, bool, int64, float64, string, time.Time, *Doc and []any.
// Maps are converted into documents with sorted keys.
func Normalize(v any) (any, error) {
	switch v := v.(type) {
	case nil, bool, int64, float64, string, *Doc:
		if d, ok := v.(*Doc); ok && d == nil {
			return nil, nil
		}
		return v, nil
	case time.Time:
		return v, nil
	case Doc:
		return v.Clone(), nil
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint:
		if uint64(v) > math.MaxInt64 {
			return float64(v), nil
		}
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return float64(v), nil
		}
		return int64(v), nil
	case float32:
		return float64(v), nil
	case time.Duration:
		return int64(v), nil
	case []any:
		out := make([]any, len(v))
		for i, el := range v {
			n, err := Normalize(el)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case map[string]any:
		return docFromMap(v)
	}
	return normalizeReflect(reflect.ValueOf(v))
}

func normalizeReflect(rv reflect.Value) (any, error) {
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return nil, nil
		}
		return Normalize(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil, nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return nil, fmt.Errorf("%w: binary data (%v)", ErrUnsupportedValue, rv.Type())
		}
		out := make([]any, rv.Len())
		for i := range out {
			n, err := Normalize(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("%w: map with %v keys", ErrUnsupportedValue, rv.Type().Key())
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return docFromMap(m)
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if rv.Uint() > math.MaxInt64 {
			return float64(rv.Uint()), nil
		}
		return int64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.Struct:
		return FromStruct(rv.Interface())
	}
	return nil, fmt.Errorf("%w: %v", ErrUnsupportedValue, rv.Type())
}

func docFromMap(m map[string]any) (*Doc, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	d := &Doc{fields: make([]E, 0, len(keys))}
	for _, k := range keys {
		v, err := Normalize(m[k])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		d.fields = append(d.fields, E{k, v})
	}
	return d, nil
}

func mustNormalize(v any) any {
	n, err := Normalize(v)
	if err != nil {
		panic(err)
	}
	return n
}

// cloneValue deep-copies documents and arrays. Scalars are immutable.
func cloneValue(v any) any {
	switch v := v.(type) {
	case *Doc:
		return v.Clone()
	case []any:
		out := make([]any, len(v))
		for i, el := range v {
			out[i] = cloneValue(el)
		}
		return out
	default:
		return v
	}
}

func isScalarKey(v any) bool {
	switch v := v.(type) {
	case string, int64, bool, time.Time:
		return true
	case float64:
		return !math.IsNaN(v)
	default:
		return false
	}
}
