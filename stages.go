package docdb

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"
)

// MatchStage keeps the documents matching Filter.
type MatchStage struct {
	Filter Filter
}

func (MatchStage) Name() string { return "$match" }

func (st MatchStage) check(inFacet bool) error { return nil }

func (st MatchStage) open(run *pipelineRun, in docIter) (docIter, error) {
	return funcIter(func(ctx context.Context) (*Doc, error) {
		for {
			doc, err := in.next(ctx)
			if doc == nil || err != nil {
				return nil, err
			}
			if Match(st.Filter, doc) {
				return doc, nil
			}
		}
	}), nil
}

// GroupStage emits one document per distinct value of Key, with the key in
// _id followed by the accumulator outputs. A nil Key groups all documents
// together under a null key. Groups are emitted in order of first
// appearance.
type GroupStage struct {
	Key    Expr
	Fields []GroupField
}

func (GroupStage) Name() string { return "$group" }

func (st GroupStage) check(inFacet bool) error {
	return checkGroupFields(st.Fields, true)
}

func checkGroupFields(fields []GroupField, reserveID bool) error {
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		switch {
		case f.Name == "" || strings.ContainsAny(f.Name, ".$"):
			return fmt.Errorf("%w: invalid output field %q", ErrInvalidPipeline, f.Name)
		case reserveID && f.Name == defaultKeyField:
			return fmt.Errorf("%w: output field %q is reserved for the group key", ErrInvalidPipeline, f.Name)
		case seen[f.Name]:
			return fmt.Errorf("%w: duplicate output field %q", ErrInvalidPipeline, f.Name)
		case f.Acc == nil:
			return fmt.Errorf("%w: no accumulator for %q", ErrInvalidPipeline, f.Name)
		}
		seen[f.Name] = true
	}
	return nil
}

type groupAcc struct {
	key    any
	states []accState
}

func newGroupAcc(key any, fields []GroupField) *groupAcc {
	g := &groupAcc{key: key, states: make([]accState, len(fields))}
	for i, f := range fields {
		g.states[i] = f.Acc.newState()
	}
	return g
}

func (g *groupAcc) add(env *evalEnv) error {
	for _, s := range g.states {
		if err := s.add(env); err != nil {
			return err
		}
	}
	return nil
}

func (g *groupAcc) output(fields []GroupField) *Doc {
	out := &Doc{fields: make([]E, 0, len(fields)+1)}
	out.fields = append(out.fields, E{defaultKeyField, cloneValue(g.key)})
	for i, f := range fields {
		out.fields = append(out.fields, E{f.Name, g.states[i].result()})
	}
	return out
}

func (st GroupStage) open(run *pipelineRun, in docIter) (docIter, error) {
	return &blockingIter{in: in, consume: func(ctx context.Context, in docIter) ([]*Doc, error) {
		var keys valueSet
		var groups []*groupAcc
		for {
			doc, err := in.next(ctx)
			if err != nil {
				return nil, err
			}
			if doc == nil {
				break
			}
			env := &evalEnv{root: doc}
			key, err := evalIn(st.Key, env)
			if err != nil {
				return nil, err
			}
			ord, added := keys.add(key, len(groups))
			if added {
				groups = append(groups, newGroupAcc(key, st.Fields))
			}
			if err := groups[ord].add(env); err != nil {
				return nil, err
			}
		}
		out := make([]*Doc, len(groups))
		for i, g := range groups {
			out[i] = g.output(st.Fields)
		}
		return out, nil
	}}, nil
}

// UnwindStage emits one document per element of the array at Path, with
// the array replaced by the element. Documents whose field is missing, null
// or an empty array are dropped, or with PreserveNullAndEmpty passed through
// once with the field set to null. A non-array value is treated as a
// single-element array.
type UnwindStage struct {
	Path                 string
	PreserveNullAndEmpty bool
	// IncludeArrayIndex names a field receiving the element's index.
	IncludeArrayIndex string
}

func (UnwindStage) Name() string { return "$unwind" }

func (st UnwindStage) path() string { return strings.TrimPrefix(st.Path, "$") }

func (st UnwindStage) check(inFacet bool) error {
	if st.path() == "" {
		return fmt.Errorf("%w: no path", ErrInvalidPipeline)
	}
	return nil
}

func (st UnwindStage) open(run *pipelineRun, in docIter) (docIter, error) {
	parts := splitPath(st.path())
	var cur *Doc
	var elems []any
	var pos int
	emit := func(v any, idx any) (*Doc, error) {
		out := cur.Clone()
		if err := out.setPath(parts, cloneValue(v)); err != nil {
			return nil, err
		}
		if st.IncludeArrayIndex != "" {
			if err := out.SetPath(st.IncludeArrayIndex, idx); err != nil {
				return nil, err
			}
		}
		return out, nil
	}
	return funcIter(func(ctx context.Context) (*Doc, error) {
		for {
			if pos < len(elems) {
				pos++
				return emit(elems[pos-1], int64(pos-1))
			}
			doc, err := in.next(ctx)
			if doc == nil || err != nil {
				return nil, err
			}
			cur, elems, pos = doc, nil, 0
			v, _ := lookupParts(doc, parts)
			switch v := v.(type) {
			case nil:
			case []any:
				elems = v
			default:
				return emit(v, nil)
			}
			if len(elems) == 0 && st.PreserveNullAndEmpty {
				return emit(nil, nil)
			}
		}
	}), nil
}

// LookupStage attaches to each document, as the array As, the documents of
// collection From whose ForeignField equals the document's LocalField. A
// local array matches foreign documents equal to any of its elements. The
// foreign side is queried through its indexes.
type LookupStage struct {
	From         string
	LocalField   string
	ForeignField string
	As           string
}

func (LookupStage) Name() string { return "$lookup" }

func (st LookupStage) check(inFacet bool) error {
	if st.From == "" || st.LocalField == "" || st.ForeignField == "" || st.As == "" {
		return fmt.Errorf("%w: from, localField, foreignField and as are required", ErrInvalidPipeline)
	}
	return nil
}

func (st LookupStage) open(run *pipelineRun, in docIter) (docIter, error) {
	var fcs *collState
	err := run.locked(func() (err error) {
		fcs, err = run.tx.collection(st.From)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrUnknownCollection) {
			return nil, fmt.Errorf("%w: %w", ErrPipelineStage, err)
		}
		return nil, err
	}
	localParts := splitPath(st.LocalField)
	asParts := splitPath(st.As)
	return funcIter(func(ctx context.Context) (*Doc, error) {
		doc, err := in.next(ctx)
		if doc == nil || err != nil {
			return nil, err
		}
		local, _ := exprPath(doc, localParts)
		var f Filter
		if arr, ok := local.([]any); ok {
			f = In(st.ForeignField, arr...)
		} else {
			f = Eq(st.ForeignField, local)
		}
		var matches []*Doc
		err = run.locked(func() (err error) {
			it, _ := run.tx.scan(fcs, f, nil)
			matches, err = drain(ctx, it)
			return err
		})
		if err != nil {
			return nil, err
		}
		joined := make([]any, len(matches))
		for i, m := range matches {
			joined[i] = m
		}
		out := doc.Clone()
		if err := out.setPath(asParts, joined); err != nil {
			return nil, err
		}
		return out, nil
	}), nil
}

// BucketStage partitions documents by GroupBy into the half-open ranges
// [Boundaries[i], Boundaries[i+1]). Values outside every range go to the
// Default bucket when HasDefault is set and fail the pipeline with
// ErrBucketOverflow otherwise. Each output document carries the lower
// boundary (or Default) in _id and the Output accumulators, a count by
// default. Empty buckets are not emitted.
type BucketStage struct {
	GroupBy    Expr
	Boundaries []any
	Default    any
	HasDefault bool
	Output     []GroupField
}

func (BucketStage) Name() string { return "$bucket" }

func (st BucketStage) check(inFacet bool) error {
	if st.GroupBy == nil {
		return fmt.Errorf("%w: no groupBy expression", ErrInvalidPipeline)
	}
	bounds, err := normalizeValues(st.Boundaries)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPipeline, err)
	}
	if len(bounds) < 2 {
		return fmt.Errorf("%w: at least two boundaries are required", ErrInvalidPipeline)
	}
	for i := 1; i < len(bounds); i++ {
		if typeRank(bounds[i]) != typeRank(bounds[0]) {
			return fmt.Errorf("%w: boundaries must have the same type", ErrInvalidPipeline)
		}
		if compareValues(bounds[i-1], bounds[i]) >= 0 {
			return fmt.Errorf("%w: boundaries must be strictly ascending", ErrInvalidPipeline)
		}
	}
	return checkGroupFields(st.Output, true)
}

func (st BucketStage) open(run *pipelineRun, in docIter) (docIter, error) {
	bounds, err := normalizeValues(st.Boundaries)
	if err != nil {
		return nil, err
	}
	def, err := Normalize(st.Default)
	if err != nil {
		return nil, err
	}
	output := st.Output
	if len(output) == 0 {
		output = []GroupField{{"count", CountOf()}}
	}
	rank := typeRank(bounds[0])
	return &blockingIter{in: in, consume: func(ctx context.Context, in docIter) ([]*Doc, error) {
		// one slot per range, plus the default bucket last
		groups := make([]*groupAcc, len(bounds))
		for {
			doc, err := in.next(ctx)
			if err != nil {
				return nil, err
			}
			if doc == nil {
				break
			}
			env := &evalEnv{root: doc}
			v, err := st.GroupBy.eval(env)
			if err != nil {
				return nil, err
			}
			slot := len(bounds) - 1
			if v != nil && typeRank(v) == rank {
				if i, found := slices.BinarySearchFunc(bounds, v, compareValues); found {
					slot = i
				} else if i > 0 && i < len(bounds) {
					slot = i - 1
				}
			}
			if slot == len(bounds)-1 && !st.HasDefault {
				return nil, fmt.Errorf("%w: %s (key %v)", ErrBucketOverflow, formatValue(v), docKey(doc))
			}
			if groups[slot] == nil {
				key := def
				if slot < len(bounds)-1 {
					key = bounds[slot]
				}
				groups[slot] = newGroupAcc(key, output)
			}
			if err := groups[slot].add(env); err != nil {
				return nil, err
			}
		}
		var out []*Doc
		for _, g := range groups {
			if g != nil {
				out = append(out, g.output(output))
			}
		}
		return out, nil
	}}, nil
}

func normalizeValues(values []any) ([]any, error) {
	out := make([]any, len(values))
	for i, v := range values {
		n, err := Normalize(v)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

func docKey(doc *Doc) any {
	v, _ := doc.Get(defaultKeyField)
	return v
}

// Facet names one sub-pipeline of a FacetStage.
type Facet struct {
	Name     string
	Pipeline Pipeline
}

// FacetStage runs every sub-pipeline over the same input and emits a single
// document holding each sub-pipeline's output array under its name. The
// sub-pipelines run concurrently; none of them observes another's
// documents.
type FacetStage struct {
	Facets []Facet
}

func (FacetStage) Name() string { return "$facet" }

func (st FacetStage) check(inFacet bool) error {
	if inFacet {
		return fmt.Errorf("%w: $facet cannot be nested", ErrInvalidPipeline)
	}
	if len(st.Facets) == 0 {
		return fmt.Errorf("%w: no facets", ErrInvalidPipeline)
	}
	seen := make(map[string]bool, len(st.Facets))
	for _, f := range st.Facets {
		if f.Name == "" || strings.ContainsAny(f.Name, ".$") || seen[f.Name] {
			return fmt.Errorf("%w: invalid or duplicate facet name %q", ErrInvalidPipeline, f.Name)
		}
		seen[f.Name] = true
		if err := f.Pipeline.check(true); err != nil {
			return fmt.Errorf("facet %q: %w", f.Name, err)
		}
	}
	return nil
}

func (st FacetStage) open(run *pipelineRun, in docIter) (docIter, error) {
	return &blockingIter{in: in, consume: func(ctx context.Context, in docIter) ([]*Doc, error) {
		input, err := drain(ctx, in)
		if err != nil {
			return nil, err
		}
		results := make([][]*Doc, len(st.Facets))
		g, gctx := errgroup.WithContext(ctx)
		for i, f := range st.Facets {
			g.Go(func() error {
				it, err := f.Pipeline.openAt(run, &sliceIter{slices.Clone(input)}, 0)
				if err != nil {
					return fmt.Errorf("facet %q: %w", f.Name, err)
				}
				docs, err := drain(gctx, it)
				if err != nil {
					return fmt.Errorf("facet %q: %w", f.Name, err)
				}
				results[i] = docs
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		out := &Doc{fields: make([]E, len(st.Facets))}
		for i, f := range st.Facets {
			arr := make([]any, len(results[i]))
			for j, d := range results[i] {
				arr[j] = d
			}
			out.fields[i] = E{f.Name, arr}
		}
		return []*Doc{out}, nil
	}}, nil
}

// ProjectField is one entry of a ProjectStage: a kept, dropped or computed
// field.
type ProjectField struct {
	Path    string
	Exclude bool
	Expr    Expr
}

func Keep(path string) ProjectField               { return ProjectField{Path: path} }
func Drop(path string) ProjectField               { return ProjectField{Path: path, Exclude: true} }
func Computed(path string, e Expr) ProjectField { return ProjectField{Path: path, Expr: e} }

// ProjectStage reshapes documents. Kept and computed fields select an
// inclusion projection (with _id kept unless dropped); dropped fields alone
// select an exclusion projection. Mixing the two fails with
// ErrProjectionConflict.
type ProjectStage struct {
	Fields []ProjectField
}

func (ProjectStage) Name() string { return "$project" }

func (st ProjectStage) split() (keep []string, computed []ExprField, drop []string, dropKey bool) {
	for _, f := range st.Fields {
		switch {
		case f.Expr != nil:
			computed = append(computed, ExprField{f.Path, f.Expr})
		case f.Exclude && f.Path == defaultKeyField:
			dropKey = true
		case f.Exclude:
			drop = append(drop, f.Path)
		default:
			keep = append(keep, f.Path)
		}
	}
	return
}

func (st ProjectStage) check(inFacet bool) error {
	if len(st.Fields) == 0 {
		return fmt.Errorf("%w: empty projection", ErrInvalidPipeline)
	}
	keep, computed, drop, _ := st.split()
	if len(drop) > 0 && len(keep)+len(computed) > 0 {
		return fmt.Errorf("%w: %v", ErrProjectionConflict, st.paths())
	}
	for _, f := range st.Fields {
		if f.Path == "" {
			return fmt.Errorf("%w: empty path", ErrInvalidPipeline)
		}
	}
	return nil
}

func (st ProjectStage) paths() []string {
	out := make([]string, len(st.Fields))
	for i, f := range st.Fields {
		out[i] = f.Path
	}
	return out
}

func (st ProjectStage) open(run *pipelineRun, in docIter) (docIter, error) {
	keep, computed, drop, dropKey := st.split()
	inclusion := len(keep)+len(computed) > 0
	var proj Projection
	switch {
	case inclusion && len(keep) > 0:
		proj = Include(keep...)
		if dropKey {
			proj = proj.ExcludeKey()
		}
	case !inclusion:
		proj = Exclude(drop...)
		if dropKey {
			proj = proj.ExcludeKey()
		}
	}
	pr, err := proj.compile(defaultKeyField)
	if err != nil {
		return nil, err
	}
	return funcIter(func(ctx context.Context) (*Doc, error) {
		doc, err := in.next(ctx)
		if doc == nil || err != nil {
			return nil, err
		}
		var out *Doc
		switch {
		case pr != nil:
			out = pr.apply(doc)
		case inclusion && !dropKey:
			out = &Doc{}
			if v, ok := doc.Get(defaultKeyField); ok {
				out.set(defaultKeyField, cloneValue(v))
			}
		default:
			out = &Doc{}
		}
		return out, setComputed(out, doc, computed)
	}), nil
}

// setComputed evaluates fields against src and stores them into dst.
func setComputed(dst, src *Doc, fields []ExprField) error {
	env := &evalEnv{root: src}
	for _, f := range fields {
		v, err := f.Expr.eval(env)
		if err != nil {
			return err
		}
		if err := dst.setPath(splitPath(f.Path), cloneValue(v)); err != nil {
			return err
		}
	}
	return nil
}

// AddFieldsStage adds or replaces fields with computed values. Every
// expression sees the input document, not the fields added before it.
type AddFieldsStage struct {
	Fields []ExprField
}

func (AddFieldsStage) Name() string { return "$addFields" }

func (st AddFieldsStage) check(inFacet bool) error {
	if len(st.Fields) == 0 {
		return fmt.Errorf("%w: no fields", ErrInvalidPipeline)
	}
	for _, f := range st.Fields {
		if f.Path == "" || f.Expr == nil {
			return fmt.Errorf("%w: invalid field %q", ErrInvalidPipeline, f.Path)
		}
	}
	return nil
}

func (st AddFieldsStage) open(run *pipelineRun, in docIter) (docIter, error) {
	return funcIter(func(ctx context.Context) (*Doc, error) {
		doc, err := in.next(ctx)
		if doc == nil || err != nil {
			return nil, err
		}
		out := doc.Clone()
		if err := setComputed(out, doc, st.Fields); err != nil {
			return nil, err
		}
		return out, nil
	}), nil
}

// SortStage orders documents by Keys. Ties keep their input order.
type SortStage struct {
	Keys []SortKey
}

func (SortStage) Name() string { return "$sort" }

func (st SortStage) check(inFacet bool) error {
	if len(st.Keys) == 0 {
		return fmt.Errorf("%w: no sort keys", ErrInvalidPipeline)
	}
	return nil
}

func (st SortStage) open(run *pipelineRun, in docIter) (docIter, error) {
	return &blockingIter{in: in, consume: func(ctx context.Context, in docIter) ([]*Doc, error) {
		docs, err := drain(ctx, in)
		if err != nil {
			return nil, err
		}
		sortDocs(docs, st.Keys)
		return docs, nil
	}}, nil
}

type LimitStage struct {
	N int
}

func (LimitStage) Name() string { return "$limit" }

func (st LimitStage) check(inFacet bool) error {
	if st.N <= 0 {
		return fmt.Errorf("%w: limit must be positive", ErrInvalidPipeline)
	}
	return nil
}

func (st LimitStage) open(run *pipelineRun, in docIter) (docIter, error) {
	n := 0
	return funcIter(func(ctx context.Context) (*Doc, error) {
		if n >= st.N {
			return nil, nil
		}
		n++
		return in.next(ctx)
	}), nil
}

type SkipStage struct {
	N int
}

func (SkipStage) Name() string { return "$skip" }

func (st SkipStage) check(inFacet bool) error {
	if st.N < 0 {
		return fmt.Errorf("%w: skip must not be negative", ErrInvalidPipeline)
	}
	return nil
}

func (st SkipStage) open(run *pipelineRun, in docIter) (docIter, error) {
	skipped := 0
	return funcIter(func(ctx context.Context) (*Doc, error) {
		for skipped < st.N {
			doc, err := in.next(ctx)
			if doc == nil || err != nil {
				return nil, err
			}
			skipped++
		}
		return in.next(ctx)
	}), nil
}

// CountStage emits a single document holding the number of input documents
// in Field. Empty input produces no document.
type CountStage struct {
	Field string
}

func (CountStage) Name() string { return "$count" }

func (st CountStage) check(inFacet bool) error {
	if st.Field == "" || strings.ContainsAny(st.Field, ".$") {
		return fmt.Errorf("%w: invalid count field %q", ErrInvalidPipeline, st.Field)
	}
	return nil
}

func (st CountStage) open(run *pipelineRun, in docIter) (docIter, error) {
	return &blockingIter{in: in, consume: func(ctx context.Context, in docIter) ([]*Doc, error) {
		var n int64
		for {
			doc, err := in.next(ctx)
			if err != nil {
				return nil, err
			}
			if doc == nil {
				break
			}
			n++
		}
		if n == 0 {
			return nil, nil
		}
		return []*Doc{{fields: []E{{st.Field, n}}}}, nil
	}}, nil
}
