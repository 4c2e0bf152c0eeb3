package docdb

import (
	"context"

	"go.uber.org/zap"
)

// CreateIndex declares a secondary index and backfills it from the existing
// documents in the same transaction. It returns the index name.
func (s *Store) CreateIndex(ctx context.Context, coll string, desc IndexDescriptor) (string, error) {
	desc, err := desc.normalized()
	if err != nil {
		return "", collErrf(coll, desc.Name, nil, err, "")
	}
	var entries int
	err = s.update(ctx, func(tx *Tx) error {
		cs, err := tx.collection(coll)
		if err != nil {
			return err
		}
		entries, err = tx.createIndex(cs, desc)
		return err
	})
	if err != nil {
		return "", err
	}
	s.logger.Debug("index.create", zap.String("collection", coll), zap.String("index", desc.Name), zap.Int("entries", entries))
	return desc.Name, nil
}

func (tx *Tx) createIndex(cs *collState, desc IndexDescriptor) (int, error) {
	for _, is := range cs.indexes {
		if is.Desc.Name == desc.Name {
			return 0, collErrf(cs.name(), desc.Name, nil, ErrIndexExists, "")
		}
		if is.Desc.sameKeys(desc) {
			return 0, collErrf(cs.name(), desc.Name, nil, ErrIndexExists, "same keys as %s", is.Desc.Name)
		}
	}
	if a, b, ok := crossesArrays(desc, cs.arrayPaths); ok {
		return 0, collErrf(cs.name(), desc.Name, nil, ErrCompoundMultikey, "%s and %s", a, b)
	}

	entry := cs.modified()
	entry.LastIndexOrdinal++
	is := &indexState{Ordinal: entry.LastIndexOrdinal, Desc: desc}
	entry.Indexes = append(entry.Indexes, is)
	if _, err := tx.stx.CreateBucket(cs.name(), is.bucketName()); err != nil {
		return 0, err
	}
	cs, err := tx.saveCollection(entry)
	if err != nil {
		return 0, err
	}
	return tx.reindex(cs)
}

// reindex rewrites every document of the collection, so that all indexes,
// including newly declared ones, hold its entries.
func (tx *Tx) reindex(cs *collState) (int, error) {
	matches, err := tx.collectMatches(cs, All(), 0)
	if err != nil {
		return 0, err
	}
	tx.reindexing = true
	defer func() { tx.reindexing = false }()
	data := tx.dataBucket(cs)
	for _, m := range matches {
		if err := tx.checkContext(); err != nil {
			return 0, err
		}
		var old value
		if err := old.decode(data.Get(m.pkRaw)); err != nil {
			return 0, collErrf(cs.name(), "", m.key, err, "")
		}
		cs, _, err = tx.putDoc(cs, m.pkRaw, m.key, m.doc, &old)
		if err != nil {
			return 0, err
		}
	}
	return len(matches), nil
}

// DropIndex removes a secondary index. Stale entries in stored index key
// lists are skipped by ordinal, so documents are not rewritten.
func (s *Store) DropIndex(ctx context.Context, coll, name string) error {
	err := s.update(ctx, func(tx *Tx) error {
		cs, err := tx.collection(coll)
		if err != nil {
			return err
		}
		is := cs.indexByName(name)
		if is == nil {
			return collErrf(coll, name, nil, ErrUnknownIndex, "")
		}
		entry := cs.modified()
		entry.Indexes = withoutIndex(entry.Indexes, is.Ordinal)
		if err := tx.stx.DeleteBucket(cs.name(), is.bucketName()); err != nil && err != ErrBucketNotFound {
			return err
		}
		_, err = tx.saveCollection(entry)
		return err
	})
	if err == nil {
		s.logger.Debug("index.drop", zap.String("collection", coll), zap.String("index", name))
	}
	return err
}

func withoutIndex(indexes []*indexState, ord uint64) []*indexState {
	out := indexes[:0]
	for _, is := range indexes {
		if is.Ordinal != ord {
			out = append(out, is)
		}
	}
	return out
}

// ListIndexes returns the primary index followed by the secondary indexes in
// declaration order.
func (s *Store) ListIndexes(ctx context.Context, coll string) ([]IndexInfo, error) {
	var out []IndexInfo
	err := s.view(ctx, func(tx *Tx) error {
		cs, err := tx.collection(coll)
		if err != nil {
			return err
		}
		out = append(out, IndexInfo{
			Name:    PrimaryIndexName,
			Keys:    []IndexKey{Asc(cs.keyField())},
			Unique:  true,
			Primary: true,
			Entries: tx.dataBucket(cs).Stats().KeyN,
		})
		for _, is := range cs.indexes {
			out = append(out, IndexInfo{
				Name:        is.Desc.Name,
				Keys:        is.Desc.Keys,
				Unique:      is.Desc.Unique,
				Multikey:    is.Multikey,
				ExpireAfter: is.Desc.ExpireAfter,
				Entries:     tx.indexBucket(cs, is).Stats().KeyN,
			})
		}
		return nil
	})
	return out, err
}
