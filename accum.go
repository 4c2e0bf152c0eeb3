package docdb

import (
	"bytes"

	"github.com/cespare/xxhash/v2"
)

// Accumulator folds the documents of a group into one value. Sum and count
// treat null as a zero contribution; avg, min and max skip nulls and yield
// null for a group without non-null values.
type Accumulator interface {
	newState() accState
	appendTo(buf *bytes.Buffer)
}

type accState interface {
	add(env *evalEnv) error
	result() any
}

// GroupField names an accumulator output of Group and Bucket.
type GroupField struct {
	Name string
	Acc  Accumulator
}

type accKind uint8

const (
	accSum accKind = iota
	accAvg
	accMin
	accMax
	accCount
	accPush
	accFirst
	accLast
	accAddToSet
)

var accNames = [...]string{accSum: "$sum", accAvg: "$avg", accMin: "$min", accMax: "$max", accCount: "$count", accPush: "$push", accFirst: "$first", accLast: "$last", accAddToSet: "$addToSet"}

type accumulator struct {
	kind accKind
	expr Expr
}

func SumOf(e Expr) Accumulator      { return &accumulator{accSum, e} }
func AvgOf(e Expr) Accumulator      { return &accumulator{accAvg, e} }
func MinOf(e Expr) Accumulator      { return &accumulator{accMin, e} }
func MaxOf(e Expr) Accumulator      { return &accumulator{accMax, e} }
func PushOf(e Expr) Accumulator     { return &accumulator{accPush, e} }
func FirstOf(e Expr) Accumulator    { return &accumulator{accFirst, e} }
func LastOf(e Expr) Accumulator     { return &accumulator{accLast, e} }
func AddToSetOf(e Expr) Accumulator { return &accumulator{accAddToSet, e} }

// CountOf counts the documents of a group.
func CountOf() Accumulator { return &accumulator{kind: accCount} }

func (a *accumulator) appendTo(buf *bytes.Buffer) {
	if a.kind == accCount {
		buf.WriteString(`{"$count":{}}`)
		return
	}
	buf.WriteString(`{"` + accNames[a.kind] + `":`)
	if a.expr == nil {
		buf.WriteString("null")
	} else {
		a.expr.appendTo(buf)
	}
	buf.WriteByte('}')
}

func (a *accumulator) newState() accState {
	switch a.kind {
	case accSum:
		return &sumState{expr: a.expr, sum: int64(0)}
	case accAvg:
		return &avgState{expr: a.expr}
	case accMin, accMax:
		return &foldState{expr: a.expr, max: a.kind == accMax}
	case accCount:
		return &countState{}
	case accPush:
		return &pushState{expr: a.expr, values: []any{}}
	case accFirst, accLast:
		return &pickState{expr: a.expr, last: a.kind == accLast}
	case accAddToSet:
		return &setState{expr: a.expr, values: []any{}}
	}
	panic("unknown accumulator")
}

type sumState struct {
	expr Expr
	sum  any
}

func (s *sumState) add(env *evalEnv) error {
	v, err := evalIn(s.expr, env)
	if err != nil {
		return err
	}
	// non-numeric values, null included, contribute nothing
	if isNumber(v) {
		s.sum = addNumbers(s.sum, v)
	}
	return nil
}

func (s *sumState) result() any { return s.sum }

type avgState struct {
	expr  Expr
	sum   float64
	count int
}

func (s *avgState) add(env *evalEnv) error {
	v, err := evalIn(s.expr, env)
	if err != nil {
		return err
	}
	if f, ok := toFloat(v); ok {
		s.sum += f
		s.count++
	}
	return nil
}

func (s *avgState) result() any {
	if s.count == 0 {
		return nil
	}
	return s.sum / float64(s.count)
}

type foldState struct {
	expr Expr
	max  bool
	val  any
	seen bool
}

func (s *foldState) add(env *evalEnv) error {
	v, err := evalIn(s.expr, env)
	if err != nil || v == nil {
		return err
	}
	if !s.seen {
		s.val, s.seen = v, true
		return nil
	}
	c := compareValues(v, s.val)
	if (s.max && c > 0) || (!s.max && c < 0) {
		s.val = v
	}
	return nil
}

func (s *foldState) result() any { return cloneValue(s.val) }

type countState struct{ n int64 }

func (s *countState) add(env *evalEnv) error {
	s.n++
	return nil
}

func (s *countState) result() any { return s.n }

type pushState struct {
	expr   Expr
	values []any
}

func (s *pushState) add(env *evalEnv) error {
	v, err := evalIn(s.expr, env)
	if err != nil {
		return err
	}
	s.values = append(s.values, cloneValue(v))
	return nil
}

func (s *pushState) result() any { return s.values }

type pickState struct {
	expr Expr
	last bool
	val  any
	seen bool
}

func (s *pickState) add(env *evalEnv) error {
	if s.seen && !s.last {
		return nil
	}
	v, err := evalIn(s.expr, env)
	if err != nil {
		return err
	}
	s.val, s.seen = v, true
	return nil
}

func (s *pickState) result() any { return cloneValue(s.val) }

type setState struct {
	expr   Expr
	values []any
	index  valueSet
}

func (s *setState) add(env *evalEnv) error {
	v, err := evalIn(s.expr, env)
	if err != nil {
		return err
	}
	if _, added := s.index.add(v, len(s.values)); added {
		s.values = append(s.values, cloneValue(v))
	}
	return nil
}

func (s *setState) result() any { return s.values }

func evalIn(e Expr, env *evalEnv) (any, error) {
	if e == nil {
		return nil, nil
	}
	return e.eval(env)
}

// valueSet assigns dense ordinals to distinct values. Values are hashed
// through their index key encoding, under which equal numbers of different
// types collide, and confirmed with compareValues.
type valueSet struct {
	buckets map[uint64][]valueSlot
}

type valueSlot struct {
	value any
	ord   int
}

// add returns the ordinal of v, registering it under ord if it is new.
func (vs *valueSet) add(v any, ord int) (int, bool) {
	if vs.buckets == nil {
		vs.buckets = make(map[uint64][]valueSlot)
	}
	buf := appendKeyValue(acquireKeyBytes(), v)
	h := xxhash.Sum64(buf)
	releaseKeyBytes(buf)
	for _, slot := range vs.buckets[h] {
		if valuesEqual(slot.value, v) {
			return slot.ord, false
		}
	}
	vs.buckets[h] = append(vs.buckets[h], valueSlot{v, ord})
	return ord, true
}
