package docdb

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"strings"
)

// UpdateOp is one field operator of an update. Each operator is a merge
// function over the current value of its field: updates are applied to the
// stored document inside the write transaction, so concurrent increments and
// min/max folds never lose each other's effect.
type UpdateOp interface {
	fieldPath() string
	apply(doc *Doc, inserting bool) error
	appendTo(buf *bytes.Buffer)
}

type setOp struct {
	path     string
	value    any
	onInsert bool
}

type unsetOp struct{ path string }

type incOp struct {
	path string
	by   any
}

type foldOp struct {
	path  string
	value any
	max   bool
}

type pushOp struct {
	path   string
	values []any
	opt    PushOptions
}

// PushOptions mirror the $each modifiers of $push. A SortKey with an empty
// Path sorts by the elements themselves. With HasSlice, a non-negative Slice
// keeps the first Slice elements and a negative one keeps the last -Slice.
type PushOptions struct {
	Sort     []SortKey
	Slice    int
	HasSlice bool
}

func Set(path string, v any) UpdateOp { return &setOp{path: path, value: mustNormalize(v)} }

// SetOnInsert only applies when an upsert inserts a new document.
func SetOnInsert(path string, v any) UpdateOp {
	return &setOp{path: path, value: mustNormalize(v), onInsert: true}
}

func Unset(path string) UpdateOp { return &unsetOp{path} }

// Inc adds n to a numeric field, creating it if missing.
func Inc(path string, n any) UpdateOp { return &incOp{path, mustNormalize(n)} }

// Max sets the field to v if v is greater than its current value or the
// field is missing.
func Max(path string, v any) UpdateOp { return &foldOp{path, mustNormalize(v), true} }

// Min sets the field to v if v is less than its current value or the field
// is missing.
func Min(path string, v any) UpdateOp { return &foldOp{path, mustNormalize(v), false} }

// Push appends v to an array field, creating the array if missing.
func Push(path string, v any) UpdateOp {
	return &pushOp{path: path, values: []any{mustNormalize(v)}}
}

// PushEach appends values, then sorts and slices the array as configured.
func PushEach(path string, values []any, opt PushOptions) UpdateOp {
	return &pushOp{path, normalizeAll(values), opt}
}

func (op *setOp) fieldPath() string   { return op.path }
func (op *unsetOp) fieldPath() string { return op.path }
func (op *incOp) fieldPath() string   { return op.path }
func (op *foldOp) fieldPath() string  { return op.path }
func (op *pushOp) fieldPath() string  { return op.path }

func (op *setOp) apply(doc *Doc, inserting bool) error {
	if op.onInsert && !inserting {
		return nil
	}
	return doc.setPath(splitPath(op.path), cloneValue(op.value))
}

func (op *unsetOp) apply(doc *Doc, inserting bool) error {
	doc.UnsetPath(op.path)
	return nil
}

func (op *incOp) apply(doc *Doc, inserting bool) error {
	if !isNumber(op.by) {
		return fmt.Errorf("%w: $inc of %s by non-numeric %s", ErrInvalidUpdate, op.path, formatValue(op.by))
	}
	cur, ok := doc.Lookup(op.path)
	if !ok || cur == nil {
		return doc.setPath(splitPath(op.path), op.by)
	}
	if !isNumber(cur) {
		return fmt.Errorf("%w: $inc of non-numeric field %s (%s)", ErrInvalidUpdate, op.path, TypeOf(cur))
	}
	return doc.setPath(splitPath(op.path), addNumbers(cur, op.by))
}

func (op *foldOp) apply(doc *Doc, inserting bool) error {
	cur, ok := doc.Lookup(op.path)
	if ok {
		c := compareValues(op.value, cur)
		if (op.max && c <= 0) || (!op.max && c >= 0) {
			return nil
		}
	}
	return doc.setPath(splitPath(op.path), cloneValue(op.value))
}

func (op *pushOp) apply(doc *Doc, inserting bool) error {
	var arr []any
	cur, ok := doc.Lookup(op.path)
	if ok && cur != nil {
		a, isArr := cur.([]any)
		if !isArr {
			return fmt.Errorf("%w: $push to non-array field %s (%s)", ErrInvalidUpdate, op.path, TypeOf(cur))
		}
		arr = slices.Clone(a)
	}
	for _, v := range op.values {
		arr = append(arr, cloneValue(v))
	}
	if len(op.opt.Sort) > 0 {
		sortValues(arr, op.opt.Sort)
	}
	if op.opt.HasSlice {
		n := op.opt.Slice
		switch {
		case n >= 0 && n < len(arr):
			arr = arr[:n]
		case n < 0 && -n < len(arr):
			arr = arr[len(arr)+n:]
		}
	}
	if arr == nil {
		arr = []any{}
	}
	return doc.setPath(splitPath(op.path), arr)
}

// sortValues sorts array elements. Keys with an empty path compare the
// elements themselves; other keys look into document elements.
func sortValues(arr []any, keys []SortKey) {
	slices.SortStableFunc(arr, func(a, b any) int {
		for _, k := range keys {
			av, bv := a, b
			if k.Path != "" {
				av, bv = elementField(a, k.Path), elementField(b, k.Path)
			}
			c := compareValues(av, bv)
			if k.Desc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return 0
	})
}

func elementField(v any, path string) any {
	if d, ok := v.(*Doc); ok {
		fv, _ := d.Lookup(path)
		return fv
	}
	return nil
}

// addNumbers adds two numbers. Integer sums stay integers unless they
// overflow.
func addNumbers(a, b any) any {
	ai, aok := a.(int64)
	bi, bok := b.(int64)
	if aok && bok {
		s := ai + bi
		if (s > ai) == (bi > 0) {
			return s
		}
	}
	af, _ := toFloat(a)
	bf, _ := toFloat(b)
	return af + bf
}

func (op *setOp) appendTo(buf *bytes.Buffer) {
	if op.onInsert {
		appendOpDoc(buf, op.path, "$setOnInsert", op.value)
	} else {
		appendOpDoc(buf, op.path, "$set", op.value)
	}
}
func (op *unsetOp) appendTo(buf *bytes.Buffer) { appendOpDoc(buf, op.path, "$unset", "") }
func (op *incOp) appendTo(buf *bytes.Buffer)   { appendOpDoc(buf, op.path, "$inc", op.by) }
func (op *foldOp) appendTo(buf *bytes.Buffer) {
	if op.max {
		appendOpDoc(buf, op.path, "$max", op.value)
	} else {
		appendOpDoc(buf, op.path, "$min", op.value)
	}
}
func (op *pushOp) appendTo(buf *bytes.Buffer) { appendOpDoc(buf, op.path, "$push", op.values) }

// UpdateString renders update operators in MongoDB syntax, one per field.
func UpdateString(ops []UpdateOp) string {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, op := range ops {
		if i > 0 {
			buf.WriteByte(',')
		}
		op.appendTo(&buf)
	}
	buf.WriteByte(']')
	return buf.String()
}

// checkUpdatePaths rejects empty updates and operators whose paths overlap.
func checkUpdatePaths(ops []UpdateOp) error {
	if len(ops) == 0 {
		return fmt.Errorf("%w: no operators", ErrInvalidUpdate)
	}
	for i, a := range ops {
		pa := a.fieldPath()
		if pa == "" || strings.HasPrefix(pa, ".") || strings.HasSuffix(pa, ".") || strings.Contains(pa, "..") {
			return fmt.Errorf("%w: invalid path %q", ErrInvalidUpdate, pa)
		}
		for _, b := range ops[:i] {
			pb := b.fieldPath()
			if pa == pb || strings.HasPrefix(pa, pb+".") || strings.HasPrefix(pb, pa+".") {
				return fmt.Errorf("%w: conflicting paths %s and %s", ErrInvalidUpdate, pb, pa)
			}
		}
	}
	return nil
}

func applyUpdate(doc *Doc, ops []UpdateOp, inserting bool) error {
	for _, op := range ops {
		if err := op.apply(doc, inserting); err != nil {
			return err
		}
	}
	return nil
}

type UpdateOptions struct {
	// Upsert inserts a document built from the filter's equality conditions
	// and the operators when nothing matches.
	Upsert bool
	// Multi updates every matching document instead of the first one.
	Multi bool
	// ExpectedModCount fails the update with ErrConcurrentModification if
	// a matched document's modification count differs.
	ExpectedModCount *uint64
}

type UpdateResult struct {
	MatchedCount  int
	ModifiedCount int
	UpsertedKey   any
	Warnings      []Violation
}

// Update applies ops to the documents matching f.
func (s *Store) Update(ctx context.Context, coll string, f Filter, ops []UpdateOp, opt UpdateOptions) (UpdateResult, error) {
	if err := checkUpdatePaths(ops); err != nil {
		return UpdateResult{}, collErrf(coll, "", nil, err, "")
	}
	var result UpdateResult
	err := s.update(ctx, func(tx *Tx) error {
		result = UpdateResult{}
		cs, err := tx.collection(coll)
		if err != nil {
			return err
		}
		limit := 1
		if opt.Multi {
			limit = 0
		}
		matches, err := tx.collectMatches(cs, f, limit)
		if err != nil {
			return err
		}
		for _, m := range matches {
			if err := tx.checkContext(); err != nil {
				return err
			}
			result.MatchedCount++
			var modified bool
			var warnings []Violation
			cs, modified, warnings, err = tx.updateDoc(cs, m, ops, opt.ExpectedModCount)
			if err != nil {
				return err
			}
			if modified {
				result.ModifiedCount++
			}
			result.Warnings = append(result.Warnings, warnings...)
		}
		if len(matches) > 0 || !opt.Upsert {
			return nil
		}

		doc := &Doc{}
		for _, e := range equalityFields(f) {
			if err := doc.setPath(splitPath(e.Key), cloneValue(e.Value)); err != nil {
				return collErrf(coll, "", nil, err, "cannot seed upserted document")
			}
		}
		if err := applyUpdate(doc, ops, true); err != nil {
			return collErrf(coll, "", nil, err, "")
		}
		r := InsertResult{}
		cs, r, err = tx.insert(cs, doc)
		if err != nil {
			return err
		}
		result.UpsertedKey = r.InsertedKey
		result.Warnings = append(result.Warnings, r.Warnings...)
		return nil
	})
	if err != nil {
		return UpdateResult{}, err
	}
	return result, nil
}

func (tx *Tx) updateDoc(cs *collState, m match, ops []UpdateOp, expected *uint64) (*collState, bool, []Violation, error) {
	raw := tx.dataBucket(cs).Get(m.pkRaw)
	if raw == nil {
		return cs, false, nil, collErrf(cs.name(), "", m.key, ErrConcurrentModification, "document disappeared")
	}
	var old value
	if err := old.decode(raw); err != nil {
		return cs, false, nil, collErrf(cs.name(), "", m.key, err, "")
	}
	if expected != nil && old.ModCount != *expected {
		return cs, false, nil, collErrf(cs.name(), "", m.key, ErrConcurrentModification, "expected modification %d, found %d", *expected, old.ModCount)
	}

	doc := m.doc.Clone()
	if err := applyUpdate(doc, ops, false); err != nil {
		return cs, false, nil, collErrf(cs.name(), "", m.key, err, "")
	}
	if newKey, ok := doc.Get(cs.keyField()); !ok || !valuesEqual(newKey, m.key) || TypeOf(newKey) != TypeOf(m.key) {
		return cs, false, nil, collErrf(cs.name(), "", m.key, ErrImmutableKey, "")
	}
	warnings, err := tx.validate(cs, m.key, doc)
	if err != nil {
		return cs, false, nil, err
	}
	cs, modified, err := tx.putDoc(cs, m.pkRaw, m.key, doc, &old)
	if err != nil {
		return cs, false, nil, err
	}
	if modified {
		tx.recordChange(cs, OpUpdate, m.key, doc, m.doc)
	}
	return cs, modified, warnings, nil
}
