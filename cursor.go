package docdb

import (
	"context"
	"slices"
)

// SortKey orders documents by the value at Path. Missing fields sort as null.
type SortKey struct {
	Path string
	Desc bool
}

func Ascending(path string) SortKey  { return SortKey{Path: path} }
func Descending(path string) SortKey { return SortKey{Path: path, Desc: true} }

// FindOptions control the shape of a Find result. Sorting materializes the
// matching documents, so it needs memory proportional to their number.
type FindOptions struct {
	Projection Projection
	Sort       []SortKey
	Skip       int
	Limit      int
}

// Cursor is a lazy, single-use sequence of documents. Until it is exhausted
// or closed, a cursor holds a read transaction open.
//
//	c, err := store.Find(ctx, "equipment", docdb.Eq("status", "idle"), docdb.FindOptions{})
//	defer c.Close()
//	for c.Next() {
//		doc := c.Doc()
//	}
//	err = c.Err()
type Cursor struct {
	ctx   context.Context
	tx    *Tx
	it    docIter
	proj  *projector
	skip  int
	limit int

	doc      *Doc
	err      error
	returned int
	done     bool
}

func newCursor(ctx context.Context, tx *Tx, it docIter, proj *projector, skip, limit int) *Cursor {
	return &Cursor{ctx: ctx, tx: tx, it: it, proj: proj, skip: skip, limit: limit}
}

// Next advances the cursor and reports whether a document is available.
func (c *Cursor) Next() bool {
	if c.done {
		return false
	}
	for {
		if c.limit > 0 && c.returned >= c.limit {
			c.finish(nil)
			return false
		}
		doc, err := c.it.next(c.ctx)
		if err != nil {
			c.finish(err)
			return false
		}
		if doc == nil {
			c.finish(nil)
			return false
		}
		if c.skip > 0 {
			c.skip--
			continue
		}
		c.returned++
		c.doc = c.proj.apply(doc)
		return true
	}
}

// Doc returns the current document. The caller owns it.
func (c *Cursor) Doc() *Doc {
	return c.doc
}

func (c *Cursor) Err() error {
	return c.err
}

// Close releases the cursor's transaction. It is safe to call more than once.
func (c *Cursor) Close() error {
	c.finish(nil)
	return c.err
}

// All drains the cursor and closes it.
func (c *Cursor) All() ([]*Doc, error) {
	defer c.Close()
	var out []*Doc
	for c.Next() {
		out = append(out, c.Doc())
	}
	return out, c.Err()
}

func (c *Cursor) finish(err error) {
	if c.done {
		return
	}
	c.done = true
	c.doc = nil
	if err != nil && c.err == nil {
		c.err = err
	}
	if c.tx != nil {
		c.tx.Close()
		c.tx = nil
	}
}

// sliceIter iterates over materialized documents.
type sliceIter struct {
	docs []*Doc
}

func (it *sliceIter) next(ctx context.Context) (*Doc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(it.docs) == 0 {
		return nil, nil
	}
	doc := it.docs[0]
	it.docs[0] = nil
	it.docs = it.docs[1:]
	return doc, nil
}

// sortDocs sorts in place. Equal documents keep their input order.
func sortDocs(docs []*Doc, keys []SortKey) {
	if len(keys) == 0 {
		return
	}
	parts := make([][]string, len(keys))
	for i, k := range keys {
		parts[i] = splitPath(k.Path)
	}
	slices.SortStableFunc(docs, func(a, b *Doc) int {
		for i, k := range keys {
			c := compareValues(sortValue(a, parts[i]), sortValue(b, parts[i]))
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

func sortValue(doc *Doc, parts []string) any {
	v, _ := lookupParts(doc, parts)
	return v
}

// lookupParts is Lookup over a pre-split path.
func lookupParts(doc *Doc, parts []string) (any, bool) {
	var cur any = doc
	for _, part := range parts {
		switch c := cur.(type) {
		case *Doc:
			v, ok := c.Get(part)
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, ok := arrayIndex(part)
			if !ok || i >= len(c) {
				return nil, false
			}
			cur = c[i]
		default:
			return nil, false
		}
	}
	return cur, true
}
