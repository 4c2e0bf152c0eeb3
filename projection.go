package docdb

import (
	"fmt"
)

// Projection selects the fields returned by Find. A projection either
// includes listed fields (plus the key field unless excluded) or excludes
// listed fields; mixing both fails with ErrProjectionConflict.
type Projection struct {
	fields []projField
}

type projField struct {
	path    string
	include bool
}

func Include(paths ...string) Projection {
	return Projection{}.Include(paths...)
}

func Exclude(paths ...string) Projection {
	return Projection{}.Exclude(paths...)
}

func (p Projection) Include(paths ...string) Projection {
	fields := append([]projField(nil), p.fields...)
	for _, path := range paths {
		fields = append(fields, projField{path, true})
	}
	return Projection{fields}
}

func (p Projection) Exclude(paths ...string) Projection {
	fields := append([]projField(nil), p.fields...)
	for _, path := range paths {
		fields = append(fields, projField{path, false})
	}
	return Projection{fields}
}

// ExcludeKey drops the key field, which inclusion projections keep by default.
func (p Projection) ExcludeKey() Projection {
	return p.Exclude(defaultKeyField)
}

func (p Projection) IsZero() bool {
	return len(p.fields) == 0
}

// projTree is a trie over dotted paths. A node with no children is a leaf
// that selects the whole value.
type projTree struct {
	children []projChild
}

type projChild struct {
	name string
	node *projTree
}

func (t *projTree) child(name string) *projTree {
	for _, c := range t.children {
		if c.name == name {
			return c.node
		}
	}
	return nil
}

func (t *projTree) add(parts []string) {
	cur := t
	for i, part := range parts {
		next := cur.child(part)
		if next == nil {
			next = &projTree{}
			cur.children = append(cur.children, projChild{part, next})
		} else if len(next.children) == 0 && i < len(parts)-1 {
			// already selected as a whole
			return
		}
		cur = next
	}
	cur.children = nil
}

type projector struct {
	include  bool
	tree     *projTree
	keyField string
	keepKey  bool
}

func (p Projection) compile(keyField string) (*projector, error) {
	if p.IsZero() {
		return nil, nil
	}
	// The key field may be excluded from an inclusion projection. The
	// default key name stands for the collection's key field.
	var incl, excl []string
	keyExcluded := false
	for _, f := range p.fields {
		path := f.path
		if path == "" {
			return nil, fmt.Errorf("%w: empty path", ErrProjectionConflict)
		}
		if path == defaultKeyField {
			path = keyField
		}
		if path == keyField {
			keyExcluded = !f.include
			if f.include {
				incl = append(incl, path)
			}
			continue
		}
		if f.include {
			incl = append(incl, path)
		} else {
			excl = append(excl, path)
		}
	}
	if len(incl) > 0 && len(excl) > 0 {
		return nil, fmt.Errorf("%w: %v and %v", ErrProjectionConflict, incl, excl)
	}

	pr := &projector{tree: &projTree{}, keyField: keyField}
	if len(incl) > 0 {
		pr.include = true
		pr.keepKey = !keyExcluded
		for _, path := range incl {
			pr.tree.add(splitPath(path))
		}
	} else {
		for _, path := range excl {
			pr.tree.add(splitPath(path))
		}
		if keyExcluded {
			pr.tree.add([]string{keyField})
		}
	}
	return pr, nil
}

// apply returns a new document; the input is left untouched.
func (pr *projector) apply(doc *Doc) *Doc {
	if pr == nil {
		return doc
	}
	if pr.include {
		out := includeFields(doc, pr.tree)
		if pr.keepKey && !out.Has(pr.keyField) {
			if v, ok := doc.Get(pr.keyField); ok {
				out.fields = append([]E{{pr.keyField, v}}, out.fields...)
			}
		}
		return out
	}
	return excludeFields(doc, pr.tree)
}

func includeFields(doc *Doc, t *projTree) *Doc {
	out := &Doc{}
	for _, f := range doc.fieldsOrNil() {
		sub := t.child(f.Key)
		if sub == nil {
			continue
		}
		if len(sub.children) == 0 {
			out.fields = append(out.fields, E{f.Key, cloneValue(f.Value)})
			continue
		}
		if v, ok := includeValue(f.Value, sub); ok {
			out.fields = append(out.fields, E{f.Key, v})
		}
	}
	return out
}

func includeValue(v any, t *projTree) (any, bool) {
	switch v := v.(type) {
	case *Doc:
		return includeFields(v, t), true
	case []any:
		out := make([]any, 0, len(v))
		for _, el := range v {
			switch el.(type) {
			case *Doc, []any:
				if pv, ok := includeValue(el, t); ok {
					out = append(out, pv)
				}
			}
		}
		return out, true
	}
	return nil, false
}

func excludeFields(doc *Doc, t *projTree) *Doc {
	out := &Doc{fields: make([]E, 0, doc.Len())}
	for _, f := range doc.fieldsOrNil() {
		sub := t.child(f.Key)
		if sub == nil {
			out.fields = append(out.fields, E{f.Key, cloneValue(f.Value)})
			continue
		}
		if len(sub.children) == 0 {
			continue
		}
		out.fields = append(out.fields, E{f.Key, excludeValue(f.Value, sub)})
	}
	return out
}

func excludeValue(v any, t *projTree) any {
	switch v := v.(type) {
	case *Doc:
		return excludeFields(v, t)
	case []any:
		out := make([]any, len(v))
		for i, el := range v {
			out[i] = excludeValue(el, t)
		}
		return out
	}
	return cloneValue(v)
}
