package docdb

import (
	"bytes"
	"fmt"
	"slices"
	"strings"
)

// maxPointCombos bounds the number of equality prefixes an index scan
// visits. Equality fields past the bound are left to the residual filter.
const maxPointCombos = 256

type PlanKind uint8

const (
	PlanFullScan PlanKind = iota
	PlanIndexScan
)

func (k PlanKind) String() string {
	if k == PlanIndexScan {
		return "IXSCAN"
	}
	return "COLLSCAN"
}

// FieldBounds describes the values of one index component an index scan
// visits: either a set of points or a (possibly open) range.
//
// On a multikey index, range conditions on one field are not intersected:
// each may be met by a different array element, so the bounds come from the
// first condition alone and the others are checked per document.
type FieldBounds struct {
	Path           string `json:"path"`
	Points         []any  `json:"points,omitempty"`
	Lower          any    `json:"lower,omitempty"`
	Upper          any    `json:"upper,omitempty"`
	HasLower       bool   `json:"-"`
	HasUpper       bool   `json:"-"`
	LowerInclusive bool   `json:"lowerInclusive,omitempty"`
	UpperInclusive bool   `json:"upperInclusive,omitempty"`
	Desc           bool   `json:"desc,omitempty"`
	rank           byte
}

func (b FieldBounds) String() string {
	var buf bytes.Buffer
	buf.WriteString(b.Path)
	buf.WriteString(": ")
	if b.Points != nil {
		buf.WriteByte('[')
		for i, p := range b.Points {
			if i > 0 {
				buf.WriteString(", ")
			}
			buf.WriteString(formatValue(p))
		}
		buf.WriteByte(']')
		return buf.String()
	}
	if b.HasLower && b.LowerInclusive {
		buf.WriteByte('[')
	} else {
		buf.WriteByte('(')
	}
	if b.HasLower {
		buf.WriteString(formatValue(b.Lower))
	} else {
		buf.WriteString("-inf")
	}
	buf.WriteString(", ")
	if b.HasUpper {
		buf.WriteString(formatValue(b.Upper))
	} else {
		buf.WriteString("+inf")
	}
	if b.HasUpper && b.UpperInclusive {
		buf.WriteByte(']')
	} else {
		buf.WriteByte(')')
	}
	return buf.String()
}

// PlanChoice is the access path chosen for a filter.
type PlanChoice struct {
	Kind   PlanKind
	Index  string
	Bounds []FieldBounds
}

type plan struct {
	PlanChoice
	primary    bool
	index      *indexState
	prefixes   [][]byte
	rng        *byteRange
	rangeDesc  bool
	filter     Filter
	residual   []string
	candidates []string
}

// byteRange bounds an encoded key component, inclusive on both ends.
type byteRange struct {
	lower, upper []byte
}

func (r *byteRange) contains(comp []byte) int {
	if bytes.Compare(comp, r.lower) < 0 {
		return -1
	}
	if bytes.Compare(comp, r.upper) > 0 {
		return 1
	}
	return 0
}

type rangePred struct {
	op    cmpOp
	value any
}

type fieldPred struct {
	points    []any
	hasPoints bool
	ranges    []rangePred
}

// collectPredicates extracts index-usable conditions from the top-level
// conjunction of f, including conditions inside $elemMatch.
func collectPredicates(f Filter, prefix string, preds map[string]*fieldPred) {
	get := func(path string) *fieldPred {
		p := preds[path]
		if p == nil {
			p = &fieldPred{}
			preds[path] = p
		}
		return p
	}
	for _, c := range conjuncts(f) {
		switch c := c.(type) {
		case *cmpFilter:
			path := subPath(prefix, c.path)
			if !indexablePath(path) || !indexableValue(c.value) {
				continue
			}
			switch c.op {
			case opEq:
				p := get(path)
				if !p.hasPoints {
					p.points, p.hasPoints = []any{c.value}, true
				}
			case opGt, opGte, opLt, opLte:
				if c.value != nil {
					p := get(path)
					p.ranges = append(p.ranges, rangePred{c.op, c.value})
				}
			}
		case *inFilter:
			path := subPath(prefix, c.path)
			if c.negate || !indexablePath(path) || slices.ContainsFunc(c.values, func(v any) bool { return !indexableValue(v) }) {
				continue
			}
			p := get(path)
			if !p.hasPoints {
				p.points, p.hasPoints = uniqueSorted(c.values), true
			}
		case *elemMatchFilter:
			path := subPath(prefix, c.path)
			if indexablePath(path) {
				collectPredicates(c.sub, path, preds)
			}
		}
	}
}

func subPath(prefix, path string) string {
	if path == "" {
		return prefix
	}
	return joinPath(prefix, path)
}

// indexablePath rejects paths with numeric segments, which address array
// positions that index entries do not record.
func indexablePath(path string) bool {
	if path == "" {
		return false
	}
	for _, part := range splitPath(path) {
		if _, ok := arrayIndex(part); ok {
			return false
		}
	}
	return true
}

// indexableValue rejects arrays: equality with a whole array matches
// the array itself, which is not an index entry.
func indexableValue(v any) bool {
	_, isArr := v.([]any)
	return !isArr
}

func uniqueSorted(values []any) []any {
	out := slices.Clone(values)
	slices.SortFunc(out, compareValues)
	return slices.CompactFunc(out, valuesEqual)
}

type planCandidate struct {
	name     string
	keys     []IndexKey
	index    *indexState
	primary  bool
	multikey bool
}

// choosePlan picks the index serving the longest prefix of its keys: any
// number of equality fields followed by at most one range field. Ties go to
// the primary key, then to the earliest declared index.
func choosePlan(cs *collState, f Filter) *plan {
	preds := make(map[string]*fieldPred)
	collectPredicates(f, "", preds)

	cands := make([]planCandidate, 0, len(cs.indexes)+1)
	cands = append(cands, planCandidate{name: PrimaryIndexName, keys: []IndexKey{{Path: cs.keyField()}}, primary: true})
	for _, is := range cs.indexes {
		cands = append(cands, planCandidate{name: is.Desc.Name, keys: is.Desc.Keys, index: is, multikey: is.Multikey})
	}

	p := &plan{filter: f}
	best, bestServed := -1, 0
	for i, c := range cands {
		served := 0
		for _, k := range c.keys {
			fp := preds[k.Path]
			if fp == nil {
				break
			}
			if fp.hasPoints {
				served++
				continue
			}
			if len(fp.ranges) > 0 {
				served++
			}
			break
		}
		if served > 0 {
			p.candidates = append(p.candidates, c.name)
		}
		if served > bestServed {
			best, bestServed = i, served
		}
	}
	if best < 0 {
		p.Kind = PlanFullScan
		p.residual = filterPaths(f, "", nil)
		return p
	}

	c := cands[best]
	p.Kind = PlanIndexScan
	p.Index = c.name
	p.primary = c.primary
	p.index = c.index

	prefixes := [][]byte{nil}
	var served []string
	for _, k := range c.keys[:bestServed] {
		fp := preds[k.Path]
		if fp.hasPoints {
			if len(prefixes)*max(len(fp.points), 1) > maxPointCombos {
				break
			}
			next := make([][]byte, 0, len(prefixes)*len(fp.points))
			for _, prefix := range prefixes {
				for _, pt := range fp.points {
					next = append(next, appendKeyComponent(slices.Clone(prefix), pt, k.Desc))
				}
			}
			prefixes = next
			p.Bounds = append(p.Bounds, FieldBounds{Path: k.Path, Points: fp.points, Desc: k.Desc})
			served = append(served, k.Path)
			continue
		}
		b := rangeBounds(k, fp.ranges, c.multikey)
		p.rng = encodeRange(b, k.Desc)
		p.rangeDesc = k.Desc
		p.Bounds = append(p.Bounds, b)
		served = append(served, k.Path)
		break
	}
	slices.SortFunc(prefixes, bytes.Compare)
	p.prefixes = slices.CompactFunc(prefixes, bytes.Equal)

	for _, path := range filterPaths(f, "", nil) {
		if !slices.Contains(served, path) {
			p.residual = append(p.residual, path)
		}
	}
	return p
}

// rangeBounds intersects the range conditions on one field. On a multikey
// index different conditions may be satisfied by different array elements,
// so only the first condition is used there.
func rangeBounds(k IndexKey, preds []rangePred, multikey bool) FieldBounds {
	if multikey {
		preds = preds[:1]
	}
	b := FieldBounds{Path: k.Path, Desc: k.Desc, rank: typeRank(preds[0].value)}
	for _, rp := range preds {
		if typeRank(rp.value) != b.rank {
			continue
		}
		switch rp.op {
		case opGt, opGte:
			inc := rp.op == opGte
			if !b.HasLower {
				b.Lower, b.HasLower, b.LowerInclusive = rp.value, true, inc
			} else if c := compareValues(rp.value, b.Lower); c > 0 || (c == 0 && !inc) {
				b.Lower, b.LowerInclusive = rp.value, inc
			}
		case opLt, opLte:
			inc := rp.op == opLte
			if !b.HasUpper {
				b.Upper, b.HasUpper, b.UpperInclusive = rp.value, true, inc
			} else if c := compareValues(rp.value, b.Upper); c < 0 || (c == 0 && !inc) {
				b.Upper, b.UpperInclusive = rp.value, inc
			}
		}
	}
	return b
}

// encodeRange converts value bounds into inclusive byte bounds of one key
// component. Open ends stop at the edges of the bound's type bracket.
func encodeRange(b FieldBounds, desc bool) *byteRange {
	r := &byteRange{}
	if !desc {
		if b.HasLower {
			r.lower = appendKeyValue(nil, b.Lower)
		} else {
			r.lower = []byte{b.rank}
		}
		if b.HasUpper {
			r.upper = appendKeyValue(nil, b.Upper)
		} else {
			r.upper = []byte{b.rank + 1}
		}
		return r
	}
	if b.HasUpper {
		r.lower = appendKeyComponent(nil, b.Upper, true)
	} else {
		r.lower = []byte{^b.rank}
	}
	if b.HasLower {
		r.upper = appendKeyComponent(nil, b.Lower, true)
	} else {
		r.upper = []byte{^b.rank + 1}
	}
	return r
}

func (p *plan) String() string {
	if p.Kind == PlanFullScan {
		return p.Kind.String()
	}
	parts := make([]string, len(p.Bounds))
	for i, b := range p.Bounds {
		parts[i] = b.String()
	}
	return fmt.Sprintf("%v %s {%s}", p.Kind, p.Index, strings.Join(parts, ", "))
}
