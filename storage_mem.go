package docdb

import (
	"bytes"
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/google/btree"
)

const memBucketSep = "\x00"

const memTreeDegree = 32

type memKV struct {
	key   []byte
	value []byte
}

func memKVLess(a, b memKV) bool {
	return bytes.Compare(a.key, b.key) < 0
}

type memTree = btree.BTreeG[memKV]

// memStorage keeps every bucket in a copy-on-write B-tree. A transaction
// works on lazy clones of all trees, so starting one costs O(buckets) and
// readers never observe uncommitted writes.
type memStorage struct {
	mu      sync.Mutex
	cond    *sync.Cond
	buckets map[string]*memTree
	closed  bool
	writer  bool
}

// newMemStorage returns a transient in-memory storage.
func newMemStorage() storage {
	s := &memStorage{buckets: make(map[string]*memTree)}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *memStorage) BeginTx(writable bool) (storageTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if writable {
		for s.writer && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			return nil, ErrClosed
		}
		s.writer = true
	}

	snap := make(map[string]*memTree, len(s.buckets))
	for k, t := range s.buckets {
		snap[k] = t.Clone()
	}

	return &memTx{
		writable: writable,
		base:     s,
		buckets:  snap,
	}, nil
}

func (s *memStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.buckets = nil
	if s.cond != nil {
		s.cond.Broadcast()
	}
	return nil
}

type memTx struct {
	base     *memStorage
	writable bool
	buckets  map[string]*memTree
	closed   bool
}

func (tx *memTx) closeLocked() {
	if tx.closed {
		return
	}
	tx.closed = true
	tx.buckets = nil
	if tx.writable {
		tx.base.writer = false
		tx.base.cond.Broadcast()
	}
}

var errMemTxReadOnly = errors.New("in-memory tx is read-only")

func (tx *memTx) tree(name, sub string) *memTree {
	if tx.closed {
		panic("docdb: in-memory tx used after commit or rollback")
	}
	return tx.buckets[memBucketKey(name, sub)]
}

func (tx *memTx) Bucket(name, sub string) storageBucket {
	if t := tx.tree(name, sub); t != nil {
		return memBucket{tx, t}
	}
	return nil
}

func (tx *memTx) CreateBucket(name, sub string) (storageBucket, error) {
	if !tx.writable {
		return nil, errMemTxReadOnly
	}
	if tx.tree(name, "") == nil {
		tx.buckets[memBucketKey(name, "")] = btree.NewG(memTreeDegree, memKVLess)
	}
	t := tx.tree(name, sub)
	if t == nil {
		t = btree.NewG(memTreeDegree, memKVLess)
		tx.buckets[memBucketKey(name, sub)] = t
	}
	return memBucket{tx, t}, nil
}

func (tx *memTx) DeleteBucket(name, sub string) error {
	if !tx.writable {
		return errMemTxReadOnly
	}
	if tx.tree(name, sub) == nil {
		return ErrBucketNotFound
	}
	prefix := memBucketKey(name, sub)
	for k := range tx.buckets {
		if k == prefix || (sub == "" && strings.HasPrefix(k, prefix)) {
			delete(tx.buckets, k)
		}
	}
	return nil
}

func (tx *memTx) Commit() error {
	if tx.closed {
		return nil
	}
	if !tx.writable {
		return errMemTxReadOnly
	}
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	if tx.base.closed {
		tx.closeLocked()
		return ErrClosed
	}
	tx.base.buckets = tx.buckets
	tx.closeLocked()
	return nil
}

func (tx *memTx) Rollback() error {
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	tx.closeLocked()
	return nil
}

func memBucketKey(name, sub string) string {
	return name + memBucketSep + sub
}

type memBucket struct {
	tx *memTx
	t  *memTree
}

func (b memBucket) Get(key []byte) []byte {
	kv, ok := b.t.Get(memKV{key: key})
	if !ok {
		return nil
	}
	return kv.value
}

func (b memBucket) Put(key, value []byte) error {
	if !b.tx.writable {
		return errMemTxReadOnly
	}
	b.t.ReplaceOrInsert(memKV{key: slices.Clone(key), value: slices.Clone(value)})
	return nil
}

func (b memBucket) Delete(key []byte) error {
	if !b.tx.writable {
		return errMemTxReadOnly
	}
	b.t.Delete(memKV{key: key})
	return nil
}

func (b memBucket) Cursor() storageCursor {
	return &memCursor{t: b.t}
}

func (b memBucket) Stats() bucketStats {
	var inuse int64
	b.t.Ascend(func(kv memKV) bool {
		inuse += int64(len(kv.key) + len(kv.value))
		return true
	})
	return bucketStats{
		KeyN:      b.t.Len(),
		LeafInuse: inuse,
		LeafAlloc: inuse,
	}
}

// memCursor remembers the current key and re-seeks on every move, so the
// bucket may change under it between calls.
type memCursor struct {
	t   *memTree
	cur []byte
}

func (c *memCursor) First() ([]byte, []byte) {
	kv, ok := c.t.Min()
	return c.land(kv, ok)
}

func (c *memCursor) Seek(seek []byte) ([]byte, []byte) {
	return c.land(c.from(seek, false))
}

func (c *memCursor) Next() ([]byte, []byte) {
	if c.cur == nil {
		return nil, nil
	}
	return c.land(c.from(c.cur, true))
}

func (c *memCursor) from(key []byte, after bool) (memKV, bool) {
	var found memKV
	var ok bool
	c.t.AscendGreaterOrEqual(memKV{key: key}, func(kv memKV) bool {
		if after && bytes.Equal(kv.key, key) {
			return true
		}
		found, ok = kv, true
		return false
	})
	return found, ok
}

func (c *memCursor) land(kv memKV, ok bool) ([]byte, []byte) {
	if !ok {
		c.cur = nil
		return nil, nil
	}
	c.cur = kv.key
	return kv.key, kv.value
}
