package docdb

import (
	"bytes"
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// InsertResult reports the key of an inserted document. Warnings lists the
// violations of a collection whose policy only warns.
type InsertResult struct {
	InsertedKey any
	Warnings    []Violation
}

// Insert adds a document. A document without a key gets a generated UUID
// string key. The caller's document is not modified.
func (s *Store) Insert(ctx context.Context, coll string, doc *Doc) (InsertResult, error) {
	var result InsertResult
	err := s.update(ctx, func(tx *Tx) error {
		cs, err := tx.collection(coll)
		if err != nil {
			return err
		}
		_, result, err = tx.insert(cs, doc)
		return err
	})
	if err != nil {
		return InsertResult{}, err
	}
	return result, nil
}

// InsertMany inserts all documents in one transaction. If any of them fails,
// none is inserted.
func (s *Store) InsertMany(ctx context.Context, coll string, docs []*Doc) ([]InsertResult, error) {
	results := make([]InsertResult, 0, len(docs))
	err := s.update(ctx, func(tx *Tx) error {
		cs, err := tx.collection(coll)
		if err != nil {
			return err
		}
		for _, doc := range docs {
			if err := tx.checkContext(); err != nil {
				return err
			}
			var r InsertResult
			cs, r, err = tx.insert(cs, doc)
			if err != nil {
				return err
			}
			results = append(results, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (tx *Tx) insert(cs *collState, doc *Doc) (*collState, InsertResult, error) {
	if doc == nil {
		return cs, InsertResult{}, collErrf(cs.name(), "", nil, ErrUnsupportedValue, "nil document")
	}
	doc = doc.Clone()
	key, ok := doc.Get(cs.keyField())
	if !ok {
		key = uuid.NewString()
		doc.fields = append([]E{{cs.keyField(), key}}, doc.fields...)
	}
	pkRaw, err := encodePrimaryKey(key)
	if err != nil {
		return cs, InsertResult{}, collErrf(cs.name(), "", key, err, "")
	}
	if tx.dataBucket(cs).Get(pkRaw) != nil {
		return cs, InsertResult{}, collErrf(cs.name(), PrimaryIndexName, key, ErrDuplicateKey, "")
	}
	warnings, err := tx.validate(cs, key, doc)
	if err != nil {
		return cs, InsertResult{}, err
	}
	cs, _, err = tx.putDoc(cs, pkRaw, key, doc, nil)
	if err != nil {
		return cs, InsertResult{}, err
	}
	tx.recordChange(cs, OpInsert, key, doc, nil)
	return cs, InsertResult{InsertedKey: key, Warnings: warnings}, nil
}

// validate applies the collection's validator. Under ActionWarn violations
// are returned instead of failing the write.
func (tx *Tx) validate(cs *collState, key any, doc *Doc) ([]Violation, error) {
	if cs.schema == nil {
		return nil, nil
	}
	policy := cs.entry.Policy
	violations := cs.schema.Validate(doc, policy.Level)
	if len(violations) == 0 {
		return nil, nil
	}
	if policy.Action == ActionError {
		return nil, &SchemaError{Collection: cs.name(), Key: key, Violations: violations}
	}
	tx.store.logger.Debug("validation.warn", zap.String("collection", cs.name()), zap.Any("key", key), zap.Int("violations", len(violations)), zap.Stringer("first", violations[0]))
	return violations, nil
}

// putDoc writes a document and brings every secondary index in line with
// it. old is the stored value being replaced, nil for a new document. It
// returns the collection state (which changes when an index turns multikey)
// and whether anything was written.
func (tx *Tx) putDoc(cs *collState, pkRaw []byte, key any, doc *Doc, old *value) (*collState, bool, error) {
	data, err := encodeDoc(nil, doc)
	if err != nil {
		return cs, false, collErrf(cs.name(), "", key, err, "failed to encode document")
	}
	isDataUnchanged := old != nil && bytes.Equal(data, old.Data)
	if isDataUnchanged && !tx.reindexing {
		if tx.store.verbose {
			tx.store.logger.Debug("put.noop", zap.String("collection", cs.name()), zap.Any("key", key))
		}
		return cs, false, nil
	}

	rows, becameMultikey, err := buildIndexRows(cs, doc, pkRaw)
	if err != nil {
		return cs, false, err
	}
	if len(becameMultikey) > 0 {
		cs, err = tx.markMultikey(cs, becameMultikey)
		if err != nil {
			return cs, false, err
		}
	}

	modCount := uint64(1)
	if old != nil {
		modCount = old.ModCount
		if !isDataUnchanged {
			modCount++
		}
		err := findRemovedIndexKeys(old.Index, rows, func(ord uint64, k []byte) error {
			is := cs.indexByOrdinal(ord)
			if is == nil {
				// index was dropped
				return nil
			}
			return tx.indexBucket(cs, is).Delete(k)
		})
		if err != nil {
			return cs, false, collErrf(cs.name(), "", key, err, "failed to remove stale index entries")
		}
	}

	var is *indexState
	var ib storageBucket
	for _, row := range rows {
		if row.Index != is {
			is = row.Index
			ib = tx.indexBucket(cs, is)
		}
		if is.Desc.Unique {
			if existing := ib.Get(row.Key); existing != nil && !bytes.Equal(existing, pkRaw) {
				return cs, false, collErrf(cs.name(), is.Desc.Name, key, ErrDuplicateKey, "")
			}
		}
		if err := ib.Put(row.Key, row.Value); err != nil {
			return cs, false, err
		}
	}

	if err := tx.dataBucket(cs).Put(pkRaw, encodeValue(modCount, data, rows)); err != nil {
		return cs, false, err
	}
	tx.written = true
	if tx.store.verbose {
		tx.store.logger.Debug("put", zap.String("collection", cs.name()), zap.Any("key", key), zap.Uint64("mod", modCount), zap.Int("indexEntries", len(rows)))
	}
	return cs, true, nil
}
