package docdb

import (
	"bytes"
	"regexp"
	"strconv"
)

// Filter is a predicate over documents, built with Eq, Gt, And, etc.
//
// Paths are dotted. When a path passes through arrays, the filter matches if
// any of the reachable values matches, as in MongoDB. Comparisons only match
// values of the same type bracket (numbers with numbers, strings with
// strings, and so on).
type Filter interface {
	matchValue(v any) bool
	appendTo(buf *bytes.Buffer)
}

// Match reports whether the document satisfies the filter. A nil filter
// matches every document.
func Match(f Filter, doc *Doc) bool {
	if f == nil {
		return true
	}
	return f.matchValue(doc)
}

// FilterString renders a filter in MongoDB query syntax.
func FilterString(f Filter) string {
	if f == nil {
		return "{}"
	}
	var buf bytes.Buffer
	f.appendTo(&buf)
	return buf.String()
}

type cmpOp uint8

const (
	opEq cmpOp = iota
	opNe
	opGt
	opGte
	opLt
	opLte
)

var cmpOpNames = [...]string{opEq: "$eq", opNe: "$ne", opGt: "$gt", opGte: "$gte", opLt: "$lt", opLte: "$lte"}

type allFilter struct{}

type cmpFilter struct {
	path  string
	parts []string
	op    cmpOp
	value any
}

type inFilter struct {
	path   string
	parts  []string
	values []any
	negate bool
}

type existsFilter struct {
	path  string
	parts []string
	want  bool
}

type regexFilter struct {
	path  string
	parts []string
	re    *regexp.Regexp
}

type elemMatchFilter struct {
	path  string
	parts []string
	sub   Filter
}

type sizeFilter struct {
	path  string
	parts []string
	n     int
}

type allOfFilter struct {
	path   string
	parts  []string
	values []any
}

type andFilter struct{ fs []Filter }
type orFilter struct{ fs []Filter }
type norFilter struct{ fs []Filter }
type notFilter struct{ f Filter }

// All matches every document.
func All() Filter { return allFilter{} }

func newCmp(path string, op cmpOp, v any) Filter {
	return &cmpFilter{path, splitPath(path), op, mustNormalize(v)}
}

// Eq matches documents where path equals v. Eq(path, nil) also matches
// documents where path is missing.
func Eq(path string, v any) Filter  { return newCmp(path, opEq, v) }
func Ne(path string, v any) Filter  { return newCmp(path, opNe, v) }
func Gt(path string, v any) Filter  { return newCmp(path, opGt, v) }
func Gte(path string, v any) Filter { return newCmp(path, opGte, v) }
func Lt(path string, v any) Filter  { return newCmp(path, opLt, v) }
func Lte(path string, v any) Filter { return newCmp(path, opLte, v) }

func In(path string, values ...any) Filter {
	return &inFilter{path, splitPath(path), normalizeAll(values), false}
}

func Nin(path string, values ...any) Filter {
	return &inFilter{path, splitPath(path), normalizeAll(values), true}
}

// AllOf matches arrays containing every one of the values ($all).
func AllOf(path string, values ...any) Filter {
	return &allOfFilter{path, splitPath(path), normalizeAll(values)}
}

func Exists(path string, want bool) Filter {
	return &existsFilter{path, splitPath(path), want}
}

func Regex(path string, re *regexp.Regexp) Filter {
	return &regexFilter{path, splitPath(path), re}
}

// ElemMatch matches arrays with at least one element satisfying sub. Paths
// inside sub are relative to the element; an empty path refers to the
// element itself.
func ElemMatch(path string, sub Filter) Filter {
	if sub == nil {
		sub = allFilter{}
	}
	return &elemMatchFilter{path, splitPath(path), sub}
}

func Size(path string, n int) Filter {
	return &sizeFilter{path, splitPath(path), n}
}

func And(fs ...Filter) Filter { return &andFilter{compactFilters(fs)} }
func Or(fs ...Filter) Filter  { return &orFilter{compactFilters(fs)} }
func Nor(fs ...Filter) Filter { return &norFilter{compactFilters(fs)} }
func Not(f Filter) Filter {
	if f == nil {
		f = allFilter{}
	}
	return &notFilter{f}
}

func compactFilters(fs []Filter) []Filter {
	out := make([]Filter, 0, len(fs))
	for _, f := range fs {
		if f != nil {
			out = append(out, f)
		}
	}
	return out
}

func normalizeAll(values []any) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = mustNormalize(v)
	}
	return out
}

// resolveCandidates collects the values a path reaches. A leaf array
// contributes both itself and its elements. found is false if no leaf was
// reached at all.
func resolveCandidates(v any, parts []string, out []any) ([]any, bool) {
	if len(parts) == 0 {
		out = append(out, v)
		if arr, ok := v.([]any); ok {
			out = append(out, arr...)
		}
		return out, true
	}
	switch c := v.(type) {
	case *Doc:
		fv, ok := c.Get(parts[0])
		if !ok {
			return out, false
		}
		return resolveCandidates(fv, parts[1:], out)
	case []any:
		found := false
		if i, ok := arrayIndex(parts[0]); ok {
			if i < len(c) {
				var f bool
				out, f = resolveCandidates(c[i], parts[1:], out)
				found = found || f
			}
		}
		for _, el := range c {
			if d, ok := el.(*Doc); ok {
				var f bool
				out, f = resolveCandidates(d, parts, out)
				found = found || f
			}
		}
		return out, found
	}
	return out, false
}

func (allFilter) matchValue(v any) bool { return true }

func (f *cmpFilter) matchValue(v any) bool {
	cands, found := resolveCandidates(v, f.parts, nil)
	switch f.op {
	case opEq:
		return matchEq(cands, found, f.value)
	case opNe:
		return !matchEq(cands, found, f.value)
	}
	if f.value == nil {
		if f.op == opGte || f.op == opLte {
			return matchEq(cands, found, nil)
		}
		return false
	}
	rank := typeRank(f.value)
	for _, c := range cands {
		if typeRank(c) != rank {
			continue
		}
		r := compareValues(c, f.value)
		switch f.op {
		case opGt:
			if r > 0 {
				return true
			}
		case opGte:
			if r >= 0 {
				return true
			}
		case opLt:
			if r < 0 {
				return true
			}
		case opLte:
			if r <= 0 {
				return true
			}
		}
	}
	return false
}

func matchEq(cands []any, found bool, want any) bool {
	if want == nil && !found {
		return true
	}
	for _, c := range cands {
		if valuesEqual(c, want) {
			return true
		}
	}
	return false
}

func (f *inFilter) matchValue(v any) bool {
	cands, found := resolveCandidates(v, f.parts, nil)
	matched := false
	for _, want := range f.values {
		if matchEq(cands, found, want) {
			matched = true
			break
		}
	}
	return matched != f.negate
}

func (f *allOfFilter) matchValue(v any) bool {
	if len(f.values) == 0 {
		return false
	}
	cands, found := resolveCandidates(v, f.parts, nil)
	for _, want := range f.values {
		if !matchEq(cands, found, want) {
			return false
		}
	}
	return true
}

func (f *existsFilter) matchValue(v any) bool {
	_, found := resolveCandidates(v, f.parts, nil)
	return found == f.want
}

func (f *regexFilter) matchValue(v any) bool {
	cands, _ := resolveCandidates(v, f.parts, nil)
	for _, c := range cands {
		if s, ok := c.(string); ok && f.re.MatchString(s) {
			return true
		}
	}
	return false
}

func (f *elemMatchFilter) matchValue(v any) bool {
	cands, _ := resolveCandidates(v, f.parts, nil)
	for _, c := range cands {
		arr, ok := c.([]any)
		if !ok {
			continue
		}
		for _, el := range arr {
			if f.sub.matchValue(el) {
				return true
			}
		}
	}
	return false
}

func (f *sizeFilter) matchValue(v any) bool {
	cands, _ := resolveCandidates(v, f.parts, nil)
	for _, c := range cands {
		if arr, ok := c.([]any); ok && len(arr) == f.n {
			return true
		}
	}
	return false
}

func (f *andFilter) matchValue(v any) bool {
	for _, sub := range f.fs {
		if !sub.matchValue(v) {
			return false
		}
	}
	return true
}

func (f *orFilter) matchValue(v any) bool {
	for _, sub := range f.fs {
		if sub.matchValue(v) {
			return true
		}
	}
	return false
}

func (f *norFilter) matchValue(v any) bool {
	for _, sub := range f.fs {
		if sub.matchValue(v) {
			return false
		}
	}
	return true
}

func (f *notFilter) matchValue(v any) bool {
	return !f.f.matchValue(v)
}

func appendOpDoc(buf *bytes.Buffer, path, op string, v any) {
	buf.WriteByte('{')
	if path != "" {
		appendJSON(buf, path)
		buf.WriteString(":{")
	}
	appendJSON(buf, op)
	buf.WriteByte(':')
	if err := appendJSON(buf, v); err != nil {
		buf.WriteString(strconv.Quote(err.Error()))
	}
	if path != "" {
		buf.WriteByte('}')
	}
	buf.WriteByte('}')
}

func appendFilterList(buf *bytes.Buffer, op string, fs []Filter) {
	buf.WriteString(`{"` + op + `":[`)
	for i, f := range fs {
		if i > 0 {
			buf.WriteByte(',')
		}
		f.appendTo(buf)
	}
	buf.WriteString("]}")
}

func (allFilter) appendTo(buf *bytes.Buffer) { buf.WriteString("{}") }

func (f *cmpFilter) appendTo(buf *bytes.Buffer) {
	appendOpDoc(buf, f.path, cmpOpNames[f.op], f.value)
}

func (f *inFilter) appendTo(buf *bytes.Buffer) {
	op := "$in"
	if f.negate {
		op = "$nin"
	}
	appendOpDoc(buf, f.path, op, f.values)
}

func (f *allOfFilter) appendTo(buf *bytes.Buffer) {
	appendOpDoc(buf, f.path, "$all", f.values)
}

func (f *existsFilter) appendTo(buf *bytes.Buffer) {
	appendOpDoc(buf, f.path, "$exists", f.want)
}

func (f *regexFilter) appendTo(buf *bytes.Buffer) {
	appendOpDoc(buf, f.path, "$regex", f.re.String())
}

func (f *sizeFilter) appendTo(buf *bytes.Buffer) {
	appendOpDoc(buf, f.path, "$size", int64(f.n))
}

func (f *elemMatchFilter) appendTo(buf *bytes.Buffer) {
	buf.WriteByte('{')
	appendJSON(buf, f.path)
	buf.WriteString(`:{"$elemMatch":`)
	if !appendBareOperators(buf, f.sub) {
		f.sub.appendTo(buf)
	}
	buf.WriteString("}}")
}

// appendBareOperators renders a conjunction of conditions on the element
// itself as one operator document, {"$gte":5,"$lt":9}. It reports false,
// writing nothing, when the conditions do not fit that form.
func appendBareOperators(buf *bytes.Buffer, f Filter) bool {
	conds := conjuncts(f)
	seen := make(map[string]bool, len(conds))
	for _, c := range conds {
		op, ok := bareOperator(c)
		if !ok || seen[op] {
			return false
		}
		seen[op] = true
	}
	buf.WriteByte('{')
	for i, c := range conds {
		if i > 0 {
			buf.WriteByte(',')
		}
		var one bytes.Buffer
		c.appendTo(&one)
		b := one.Bytes()
		buf.Write(b[1 : len(b)-1])
	}
	buf.WriteByte('}')
	return true
}

func bareOperator(f Filter) (string, bool) {
	switch f := f.(type) {
	case *cmpFilter:
		return cmpOpNames[f.op], f.path == ""
	case *inFilter:
		if f.negate {
			return "$nin", f.path == ""
		}
		return "$in", f.path == ""
	case *allOfFilter:
		return "$all", f.path == ""
	case *existsFilter:
		return "$exists", f.path == ""
	case *regexFilter:
		return "$regex", f.path == ""
	case *sizeFilter:
		return "$size", f.path == ""
	}
	return "", false
}

func (f *andFilter) appendTo(buf *bytes.Buffer) { appendFilterList(buf, "$and", f.fs) }
func (f *orFilter) appendTo(buf *bytes.Buffer)  { appendFilterList(buf, "$or", f.fs) }
func (f *norFilter) appendTo(buf *bytes.Buffer) { appendFilterList(buf, "$nor", f.fs) }

func (f *notFilter) appendTo(buf *bytes.Buffer) {
	buf.WriteString(`{"$not":`)
	f.f.appendTo(buf)
	buf.WriteByte('}')
}

// equalityFields returns the top-level conjunction's equality conditions,
// used to seed upserted documents.
func equalityFields(f Filter) []E {
	var out []E
	for _, c := range conjuncts(f) {
		if cf, ok := c.(*cmpFilter); ok && cf.op == opEq && cf.path != "" {
			out = append(out, E{cf.path, cf.value})
		}
	}
	return out
}

// conjuncts flattens nested And filters.
func conjuncts(f Filter) []Filter {
	switch f := f.(type) {
	case nil:
		return nil
	case *andFilter:
		var out []Filter
		for _, sub := range f.fs {
			out = append(out, conjuncts(sub)...)
		}
		return out
	default:
		return []Filter{f}
	}
}

// filterPaths lists the top-level field paths a filter refers to.
func filterPaths(f Filter, prefix string, out []string) []string {
	add := func(p string) []string {
		if p == "" {
			p = prefix
		} else {
			p = joinPath(prefix, p)
		}
		for _, x := range out {
			if x == p {
				return out
			}
		}
		return append(out, p)
	}
	switch f := f.(type) {
	case *cmpFilter:
		return add(f.path)
	case *inFilter:
		return add(f.path)
	case *allOfFilter:
		return add(f.path)
	case *existsFilter:
		return add(f.path)
	case *regexFilter:
		return add(f.path)
	case *sizeFilter:
		return add(f.path)
	case *elemMatchFilter:
		out = add(f.path)
		return filterPaths(f.sub, joinPath(prefix, f.path), out)
	case *andFilter:
		for _, sub := range f.fs {
			out = filterPaths(sub, prefix, out)
		}
	case *orFilter:
		for _, sub := range f.fs {
			out = filterPaths(sub, prefix, out)
		}
	case *norFilter:
		for _, sub := range f.fs {
			out = filterPaths(sub, prefix, out)
		}
	case *notFilter:
		return filterPaths(f.f, prefix, out)
	}
	return out
}
