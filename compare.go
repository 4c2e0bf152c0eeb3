package docdb

import (
	"cmp"
	"math"
	"strings"
	"time"
)

// Type ranks define the total order across types. They double as the first
// byte of every encoded index key component.
const (
	rankNull   byte = 0x10
	rankNumber byte = 0x20
	rankString byte = 0x30
	rankDoc    byte = 0x40
	rankArray  byte = 0x50
	rankBool   byte = 0x60
	rankDate   byte = 0x70
)

func typeRank(v any) byte {
	switch v.(type) {
	case nil:
		return rankNull
	case int64, float64:
		return rankNumber
	case string:
		return rankString
	case *Doc:
		return rankDoc
	case []any:
		return rankArray
	case bool:
		return rankBool
	case time.Time:
		return rankDate
	default:
		panic(ErrUnsupportedValue)
	}
}

// Compare orders two normalized values:
// null < numbers < strings < documents < arrays < booleans < dates.
func Compare(a, b any) int {
	return compareValues(a, b)
}

func compareValues(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return cmp.Compare(ra, rb)
	}
	switch a := a.(type) {
	case nil:
		return 0
	case int64, float64:
		return compareNumbers(a, b)
	case string:
		return strings.Compare(a, b.(string))
	case bool:
		bb := b.(bool)
		switch {
		case a == bb:
			return 0
		case !a:
			return -1
		default:
			return 1
		}
	case time.Time:
		return a.Compare(b.(time.Time))
	case *Doc:
		return compareDocs(a, b.(*Doc))
	case []any:
		bb := b.([]any)
		for i := 0; i < len(a) && i < len(bb); i++ {
			if c := compareValues(a[i], bb[i]); c != 0 {
				return c
			}
		}
		return cmp.Compare(len(a), len(bb))
	}
	return 0
}

func compareDocs(a, b *Doc) int {
	af, bf := a.fieldsOrNil(), b.fieldsOrNil()
	for i := 0; i < len(af) && i < len(bf); i++ {
		if c := strings.Compare(af[i].Key, bf[i].Key); c != 0 {
			return c
		}
		if c := compareValues(af[i].Value, bf[i].Value); c != 0 {
			return c
		}
	}
	return cmp.Compare(len(af), len(bf))
}

func (d *Doc) fieldsOrNil() []E {
	if d == nil {
		return nil
	}
	return d.fields
}

func compareNumbers(a, b any) int {
	ai, aInt := a.(int64)
	bi, bInt := b.(int64)
	switch {
	case aInt && bInt:
		return cmp.Compare(ai, bi)
	case aInt:
		return compareIntFloat(ai, b.(float64))
	case bInt:
		return -compareIntFloat(bi, a.(float64))
	}
	// cmp.Compare orders NaN before every other number.
	return cmp.Compare(a.(float64), b.(float64))
}

// compareIntFloat compares exactly, without rounding i to a float64.
func compareIntFloat(i int64, f float64) int {
	if c := cmp.Compare(float64(i), f); c != 0 {
		return c
	}
	return cmp.Compare(intRemainder(i, f), 0)
}

func valuesEqual(a, b any) bool {
	return compareValues(a, b) == 0
}

func isNumber(v any) bool {
	switch v.(type) {
	case int64, float64:
		return true
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch v := v.(type) {
	case int64:
		return float64(v), true
	case float64:
		return v, true
	}
	return math.NaN(), false
}
