package docdb

import (
	"context"
)

// Get returns the document with the given primary key, or nil if there is
// none.
func (s *Store) Get(ctx context.Context, coll string, key any) (*Doc, ValueMeta, error) {
	var doc *Doc
	var meta ValueMeta
	err := s.view(ctx, func(tx *Tx) error {
		cs, err := tx.collection(coll)
		if err != nil {
			return err
		}
		doc, meta, err = tx.get(cs, key)
		return err
	})
	return doc, meta, err
}

func (tx *Tx) get(cs *collState, key any) (*Doc, ValueMeta, error) {
	key, err := Normalize(key)
	if err != nil {
		return nil, ValueMeta{}, collErrf(cs.name(), "", key, err, "")
	}
	pkRaw, err := encodePrimaryKey(key)
	if err != nil {
		return nil, ValueMeta{}, collErrf(cs.name(), "", key, err, "")
	}
	raw := tx.dataBucket(cs).Get(pkRaw)
	if raw == nil {
		return nil, ValueMeta{}, nil
	}
	vle, doc, err := decodeValue(raw)
	if err != nil {
		return nil, ValueMeta{}, collErrf(cs.name(), "", key, err, "")
	}
	return doc, vle.ValueMeta(), nil
}

// FindOne returns the first document Find would return, or nil.
func (s *Store) FindOne(ctx context.Context, coll string, f Filter, opt FindOptions) (*Doc, error) {
	opt.Limit = 1
	c, err := s.Find(ctx, coll, f, opt)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	if c.Next() {
		return c.Doc(), nil
	}
	return nil, c.Err()
}

// Count returns the number of documents matching f.
func (s *Store) Count(ctx context.Context, coll string, f Filter) (int, error) {
	var n int
	err := s.view(ctx, func(tx *Tx) error {
		cs, err := tx.collection(coll)
		if err != nil {
			return err
		}
		if isMatchAll(f) {
			n = tx.dataBucket(cs).Stats().KeyN
			return nil
		}
		it, _ := tx.scan(cs, f, nil)
		for {
			doc, err := it.next(ctx)
			if err != nil {
				return err
			}
			if doc == nil {
				return nil
			}
			n++
		}
	})
	return n, err
}

func isMatchAll(f Filter) bool {
	if f == nil {
		return true
	}
	_, ok := f.(allFilter)
	return ok
}
