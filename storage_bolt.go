package docdb

import (
	"errors"
	"time"
	"unsafe"

	"go.etcd.io/bbolt"
)

const defaultMmapSize = 64 << 20

type boltStorage struct {
	bdb *bbolt.DB
}

func openBoltStorage(path string, opt Options) (storage, error) {
	bopt := *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	switch {
	case opt.MmapSize > 0:
		bopt.InitialMmapSize = opt.MmapSize
	case !opt.IsTesting:
		bopt.InitialMmapSize = defaultMmapSize
	}
	if opt.IsTesting {
		bopt.NoSync, bopt.NoFreelistSync = true, true
	}
	bdb, err := bbolt.Open(path, 0o666, &bopt)
	if err != nil {
		return nil, err
	}
	return &boltStorage{bdb}, nil
}

func (s *boltStorage) BeginTx(writable bool) (storageTx, error) {
	btx, err := s.bdb.Begin(writable)
	if errors.Is(err, bbolt.ErrDatabaseNotOpen) {
		return nil, ErrClosed
	} else if err != nil {
		return nil, err
	}
	return boltTx{btx}, nil
}

func (s *boltStorage) Close() error {
	return s.bdb.Close()
}

type boltTx struct {
	btx *bbolt.Tx
}

func (tx boltTx) Bucket(name, sub string) storageBucket {
	b := tx.btx.Bucket(unsafeBytes(name))
	if b != nil && sub != "" {
		b = b.Bucket(unsafeBytes(sub))
	}
	if b == nil {
		return nil
	}
	return boltBucket{b}
}

func (tx boltTx) CreateBucket(name, sub string) (storageBucket, error) {
	b, err := tx.btx.CreateBucketIfNotExists([]byte(name))
	if err == nil && sub != "" {
		b, err = b.CreateBucketIfNotExists([]byte(sub))
	}
	if err != nil {
		return nil, err
	}
	return boltBucket{b}, nil
}

func (tx boltTx) DeleteBucket(name, sub string) error {
	var err error
	if sub == "" {
		err = tx.btx.DeleteBucket(unsafeBytes(name))
	} else if root := tx.btx.Bucket(unsafeBytes(name)); root != nil {
		err = root.DeleteBucket(unsafeBytes(sub))
	} else {
		err = bbolt.ErrBucketNotFound
	}
	if errors.Is(err, bbolt.ErrBucketNotFound) {
		return ErrBucketNotFound
	}
	return err
}

func (tx boltTx) Commit() error { return tx.btx.Commit() }

func (tx boltTx) Rollback() error {
	if err := tx.btx.Rollback(); !errors.Is(err, bbolt.ErrTxClosed) {
		return err
	}
	return nil
}

type boltBucket struct {
	*bbolt.Bucket
}

func (b boltBucket) Cursor() storageCursor { return b.Bucket.Cursor() }

func (b boltBucket) Stats() bucketStats {
	bs := b.Bucket.Stats()
	return bucketStats{
		KeyN:        bs.KeyN,
		LeafInuse:   int64(bs.LeafInuse),
		LeafAlloc:   int64(bs.LeafAlloc),
		BranchAlloc: int64(bs.BranchAlloc),
	}
}

// unsafeBytes is only used for read-only lookups; bbolt copies bucket names
// it stores.
func unsafeBytes(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}
