package docdb

import (
	"context"
)

type CollectionStats struct {
	Documents    int
	IndexEntries int

	DataSize   int64
	DataAlloc  int64
	IndexSize  int64
	IndexAlloc int64

	// Indexes maps secondary index names to their entry counts.
	Indexes map[string]int
}

func (cs *CollectionStats) TotalSize() int64 {
	return cs.DataSize + cs.IndexSize
}

func (cs *CollectionStats) TotalAlloc() int64 {
	return cs.DataAlloc + cs.IndexAlloc
}

// Stats reports document and index entry counts and storage sizes.
func (s *Store) Stats(ctx context.Context, coll string) (CollectionStats, error) {
	var result CollectionStats
	err := s.view(ctx, func(tx *Tx) error {
		cs, err := tx.collection(coll)
		if err != nil {
			return err
		}
		result = tx.collectionStats(cs)
		return nil
	})
	return result, err
}

func (tx *Tx) collectionStats(cs *collState) CollectionStats {
	bs := tx.dataBucket(cs).Stats()
	result := CollectionStats{
		Documents: bs.KeyN,
		DataSize:  bs.LeafInuse,
		DataAlloc: bs.TotalAlloc(),
		Indexes:   make(map[string]int, len(cs.indexes)),
	}
	for _, is := range cs.indexes {
		bs = tx.indexBucket(cs, is).Stats()
		result.Indexes[is.Desc.Name] = bs.KeyN
		result.IndexEntries += bs.KeyN
		result.IndexSize += bs.LeafInuse
		result.IndexAlloc += bs.TotalAlloc()
	}
	return result
}
