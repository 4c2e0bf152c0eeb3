package docdb

import (
	"context"

	"go.uber.org/zap"
)

type DeleteOptions struct {
	// Multi deletes every matching document instead of the first one.
	Multi bool
}

type DeleteResult struct {
	DeletedCount int
}

// Delete removes the first document matching f, or all of them with Multi.
func (s *Store) Delete(ctx context.Context, coll string, f Filter, opt DeleteOptions) (DeleteResult, error) {
	var result DeleteResult
	err := s.update(ctx, func(tx *Tx) error {
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
			ok, err := tx.deleteByKeyRaw(cs, m.pkRaw, m.key)
			if err != nil {
				return err
			}
			if ok {
				result.DeletedCount++
			}
		}
		return nil
	})
	if err != nil {
		return DeleteResult{}, err
	}
	return result, nil
}

// DeleteByKey removes the document with the given key and reports whether
// it existed.
func (s *Store) DeleteByKey(ctx context.Context, coll string, key any) (bool, error) {
	var deleted bool
	err := s.update(ctx, func(tx *Tx) error {
		cs, err := tx.collection(coll)
		if err != nil {
			return err
		}
		key, err = Normalize(key)
		if err != nil {
			return collErrf(coll, "", key, err, "")
		}
		pkRaw, err := encodePrimaryKey(key)
		if err != nil {
			return collErrf(coll, "", key, err, "")
		}
		deleted, err = tx.deleteByKeyRaw(cs, pkRaw, key)
		return err
	})
	return deleted, err
}

func (tx *Tx) deleteByKeyRaw(cs *collState, pkRaw []byte, key any) (bool, error) {
	data := tx.dataBucket(cs)
	raw := data.Get(pkRaw)
	if raw == nil {
		if tx.store.verbose {
			tx.store.logger.Debug("delete.noop", zap.String("collection", cs.name()), zap.Any("key", key))
		}
		return false, nil
	}
	old, oldDoc, err := decodeValue(raw)
	if err != nil {
		return false, collErrf(cs.name(), "", key, err, "")
	}
	err = decodeIndexKeys(old.Index, func(ord uint64, k []byte) error {
		is := cs.indexByOrdinal(ord)
		if is == nil {
			return nil
		}
		return tx.indexBucket(cs, is).Delete(k)
	})
	if err != nil {
		return false, collErrf(cs.name(), "", key, err, "failed to remove index entries")
	}
	if err := data.Delete(pkRaw); err != nil {
		return false, err
	}
	tx.written = true
	if tx.store.verbose {
		tx.store.logger.Debug("delete", zap.String("collection", cs.name()), zap.Any("key", key))
	}
	tx.recordChange(cs, OpDelete, key, nil, oldDoc)
	return true, nil
}

type match struct {
	pkRaw []byte
	key   any
	doc   *Doc
}

// collectMatches materializes the documents matching f before they are
// modified, since storage cursors must not outlive writes to their bucket.
// A positive limit stops after that many matches.
func (tx *Tx) collectMatches(cs *collState, f Filter, limit int) ([]match, error) {
	it, _ := tx.scan(cs, f, nil)
	ctx := tx.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	var out []match
	for limit <= 0 || len(out) < limit {
		doc, err := it.next(ctx)
		if err != nil {
			return nil, err
		}
		if doc == nil {
			break
		}
		key := keyOf(cs, doc)
		pkRaw, err := encodePrimaryKey(key)
		if err != nil {
			return nil, collErrf(cs.name(), "", key, err, "")
		}
		out = append(out, match{pkRaw, key, doc})
	}
	return out, nil
}
