package docdb

import "errors"

// ErrBucketNotFound is returned when dropping a bucket that was never created.
var ErrBucketNotFound = errors.New("bucket not found")

// storage is an ordered key-value engine. The store keeps one root bucket per
// collection, with a nested bucket for its documents and one per index, plus
// a catalog root bucket holding collection metadata.
type storage interface {
	// BeginTx starts a transaction. Writable transactions are exclusive.
	BeginTx(writable bool) (storageTx, error)
	Close() error
}

type storageTx interface {
	// Bucket returns the root bucket (sub == "") or a nested one, or nil.
	Bucket(name, sub string) storageBucket

	// CreateBucket returns an existing bucket or creates it, creating the
	// root bucket first when needed.
	CreateBucket(name, sub string) (storageBucket, error)

	// DeleteBucket drops a nested bucket, or a root bucket and everything
	// under it.
	DeleteBucket(name, sub string) error

	Commit() error
	// Rollback is a no-op on a finished transaction.
	Rollback() error
}

// storageBucket is an ordered map. Returned slices belong to the transaction
// and must not be retained or modified.
type storageBucket interface {
	Get(key []byte) []byte
	Put(key, value []byte) error
	Delete(key []byte) error
	Cursor() storageCursor
	Stats() bucketStats
}

// bucketStats reports sizes; KeyN is the only field every backend fills in.
type bucketStats struct {
	KeyN        int
	LeafInuse   int64
	LeafAlloc   int64
	BranchAlloc int64
}

func (s bucketStats) TotalAlloc() int64 { return s.BranchAlloc + s.LeafAlloc }

// storageCursor walks a bucket in key order. Each method returns nil keys
// once it runs off the end.
type storageCursor interface {
	First() (key, value []byte)
	Seek(seek []byte) (key, value []byte)
	Next() (key, value []byte)
}
