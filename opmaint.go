package docdb

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ExpireDocuments deletes the documents of every collection whose TTL index
// field holds a date at or before now minus the index's ExpireAfter. A
// multikey TTL field expires the document once any of its dates has passed.
func (s *Store) ExpireDocuments(ctx context.Context, now time.Time) (int, error) {
	var total int
	err := s.update(ctx, func(tx *Tx) error {
		colls, err := tx.listCollections()
		if err != nil {
			return err
		}
		for _, info := range colls {
			cs, err := tx.collection(info.Name)
			if err != nil {
				return err
			}
			for _, is := range cs.indexes {
				if is.Desc.ExpireAfter <= 0 {
					continue
				}
				n, err := tx.expire(cs, is, now.Add(-is.Desc.ExpireAfter))
				if err != nil {
					return err
				}
				total += n
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (tx *Tx) expire(cs *collState, is *indexState, cutoff time.Time) (int, error) {
	path := is.Desc.Keys[0].Path
	matches, err := tx.collectMatches(cs, Lte(path, cutoff), 0)
	if err != nil {
		return 0, err
	}
	var n int
	for _, m := range matches {
		if err := tx.checkContext(); err != nil {
			return 0, err
		}
		ok, err := tx.deleteByKeyRaw(cs, m.pkRaw, m.key)
		if err != nil {
			return 0, err
		}
		if ok {
			n++
		}
	}
	if n > 0 && tx.store.verbose {
		tx.store.logger.Debug("ttl.expire", zap.String("collection", cs.name()), zap.String("index", is.Desc.Name), zap.Time("cutoff", cutoff), zap.Int("deleted", n))
	}
	return n, nil
}
