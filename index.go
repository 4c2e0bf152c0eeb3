package docdb

import (
	"bytes"
	"fmt"
	"slices"
	"strings"
	"time"
)

// PrimaryIndexName is the name of the built-in unique index over the key field.
const PrimaryIndexName = "_id_"

// maxIndexEntriesPerDoc bounds the cross product of multikey components.
const maxIndexEntriesPerDoc = 10000

type IndexKey struct {
	Path string `msgpack:"p"`
	Desc bool   `msgpack:"d,omitempty"`
}

func Asc(path string) IndexKey  { return IndexKey{Path: path} }
func Desc(path string) IndexKey { return IndexKey{Path: path, Desc: true} }

func (k IndexKey) String() string {
	if k.Desc {
		return k.Path + "_-1"
	}
	return k.Path + "_1"
}

type IndexDescriptor struct {
	// Name defaults to the keys joined as in "mine._id_1_status_1".
	Name   string     `msgpack:"n"`
	Keys   []IndexKey `msgpack:"k"`
	Unique bool       `msgpack:"u,omitempty"`

	// ExpireAfter turns a single-field index over a date field into a TTL
	// index: documents expire ExpireAfter after that date.
	ExpireAfter time.Duration `msgpack:"ttl,omitempty"`
}

func (d IndexDescriptor) defaultName() string {
	parts := make([]string, len(d.Keys))
	for i, k := range d.Keys {
		parts[i] = k.String()
	}
	return strings.Join(parts, "_")
}

func (d IndexDescriptor) normalized() (IndexDescriptor, error) {
	if len(d.Keys) == 0 {
		return d, fmt.Errorf("%w: no keys", ErrInvalidIndex)
	}
	seen := make(map[string]bool, len(d.Keys))
	for _, k := range d.Keys {
		if k.Path == "" || strings.HasPrefix(k.Path, ".") || strings.HasSuffix(k.Path, ".") || strings.Contains(k.Path, "..") {
			return d, fmt.Errorf("%w: invalid key path %q", ErrInvalidIndex, k.Path)
		}
		if seen[k.Path] {
			return d, fmt.Errorf("%w: duplicate key path %q", ErrInvalidIndex, k.Path)
		}
		seen[k.Path] = true
	}
	if d.ExpireAfter < 0 || (d.ExpireAfter > 0 && len(d.Keys) != 1) {
		return d, fmt.Errorf("%w: TTL indexes need a single key and a positive duration", ErrInvalidIndex)
	}
	d.Keys = slices.Clone(d.Keys)
	if d.Name == "" {
		d.Name = d.defaultName()
	}
	if d.Name == PrimaryIndexName {
		return d, fmt.Errorf("%w: name %q is reserved", ErrInvalidIndex, d.Name)
	}
	return d, nil
}

func (d IndexDescriptor) sameKeys(o IndexDescriptor) bool {
	return slices.Equal(d.Keys, o.Keys)
}

// IndexInfo describes an index as reported by ListIndexes.
type IndexInfo struct {
	Name        string
	Keys        []IndexKey
	Unique      bool
	Multikey    bool
	Primary     bool
	ExpireAfter time.Duration
	Entries     int
}

// indexRow is one entry a document contributes to a secondary index.
type indexRow struct {
	Ord   uint64
	Index *indexState
	Key   []byte
	Value []byte
}

type indexRows []indexRow

// buildIndexRows computes the entries of every secondary index for a
// document. It also reports the indexes that turn multikey because of it.
func buildIndexRows(cs *collState, doc *Doc, pkRaw []byte) (indexRows, []uint64, error) {
	var rows indexRows
	var becameMultikey []uint64
	for _, is := range cs.indexes {
		tuples, multikey, err := indexTuples(is.Desc, doc)
		if err != nil {
			return nil, nil, collErrf(cs.name(), is.Desc.Name, keyOf(cs, doc), err, "")
		}
		if multikey && !is.Multikey {
			becameMultikey = append(becameMultikey, is.Ordinal)
		}
		for _, t := range tuples {
			row := indexRow{Ord: is.Ordinal, Index: is, Value: pkRaw}
			if is.Desc.Unique {
				row.Key = t
			} else {
				row.Key = append(t, pkRaw...)
			}
			rows = append(rows, row)
		}
	}
	slices.SortFunc(rows, func(a, b indexRow) int {
		if a.Ord != b.Ord {
			if a.Ord < b.Ord {
				return -1
			}
			return 1
		}
		return bytes.Compare(a.Key, b.Key)
	})
	return rows, becameMultikey, nil
}

// indexTuples returns the distinct encoded key tuples of a document for the
// given index. Array values contribute one tuple per element; components of
// a compound index may only expand the same array.
func indexTuples(desc IndexDescriptor, doc *Doc) ([][]byte, bool, error) {
	comps := make([][]any, len(desc.Keys))
	var arrayPath string
	multikey := false
	for i, k := range desc.Keys {
		var ap string
		collectIndexValues(doc, splitPath(k.Path), "", &comps[i], &ap)
		if ap != "" {
			multikey = true
			if arrayPath == "" {
				arrayPath = ap
			} else if ap != arrayPath {
				return nil, false, fmt.Errorf("%w: %s and %s", ErrCompoundMultikey, arrayPath, ap)
			}
		}
	}

	total := 1
	for _, c := range comps {
		total *= len(c)
		if total > maxIndexEntriesPerDoc {
			return nil, false, fmt.Errorf("%w: document produces more than %d index entries", ErrInvalidIndex, maxIndexEntriesPerDoc)
		}
	}

	tuples := make([][]byte, 0, total)
	var rec func(i int, prefix []byte)
	rec = func(i int, prefix []byte) {
		if i == len(comps) {
			tuples = append(tuples, prefix)
			return
		}
		for j, v := range comps[i] {
			var buf []byte
			if j == len(comps[i])-1 {
				buf = prefix
			} else {
				buf = slices.Clone(prefix)
			}
			rec(i+1, appendKeyComponent(buf, v, desc.Keys[i].Desc))
		}
	}
	rec(0, make([]byte, 0, 32))

	slices.SortFunc(tuples, bytes.Compare)
	tuples = slices.CompactFunc(tuples, bytes.Equal)
	return tuples, multikey, nil
}

// collectIndexValues gathers the values a path resolves to for indexing.
// A missing field indexes as null. An array leaf contributes its elements
// (an empty array contributes itself). arrayPath receives the path of the
// first array traversed.
func collectIndexValues(v any, parts []string, prefix string, out *[]any, arrayPath *string) {
	if len(parts) == 0 {
		if arr, ok := v.([]any); ok {
			if *arrayPath == "" {
				*arrayPath = prefix
			}
			if len(arr) == 0 {
				*out = append(*out, arr)
			} else {
				*out = append(*out, arr...)
			}
			return
		}
		*out = append(*out, v)
		return
	}
	switch c := v.(type) {
	case *Doc:
		fv, ok := c.Get(parts[0])
		if !ok {
			*out = append(*out, nil)
			return
		}
		collectIndexValues(fv, parts[1:], joinPath(prefix, parts[0]), out, arrayPath)
	case []any:
		if i, ok := arrayIndex(parts[0]); ok {
			if i < len(c) {
				collectIndexValues(c[i], parts[1:], joinPath(prefix, parts[0]), out, arrayPath)
			} else {
				*out = append(*out, nil)
			}
		}
		if *arrayPath == "" {
			*arrayPath = prefix
		}
		if len(c) == 0 {
			*out = append(*out, nil)
			return
		}
		// Matching only descends into embedded documents; any other
		// element, nested arrays included, reaches nothing.
		for _, el := range c {
			if d, ok := el.(*Doc); ok {
				collectIndexValues(d, parts, prefix, out, arrayPath)
			} else {
				*out = append(*out, nil)
			}
		}
	default:
		*out = append(*out, nil)
	}
}

// crossesArrays reports whether a compound index spans two different
// array fields declared by the schema.
func crossesArrays(desc IndexDescriptor, arrayPaths []string) (string, string, bool) {
	var first string
	for _, k := range desc.Keys {
		var hit string
		for _, ap := range arrayPaths {
			if k.Path == ap || strings.HasPrefix(k.Path, ap+".") {
				if len(ap) > len(hit) {
					hit = ap
				}
			}
		}
		if hit == "" {
			continue
		}
		// Nested arrays below the same outer array expand together.
		outer := outermostArray(hit, arrayPaths)
		if first == "" {
			first = outer
		} else if outer != first {
			return first, outer, true
		}
	}
	return "", "", false
}

func outermostArray(path string, arrayPaths []string) string {
	best := path
	for _, ap := range arrayPaths {
		if strings.HasPrefix(path, ap+".") && len(ap) < len(best) {
			best = ap
		}
	}
	return best
}
