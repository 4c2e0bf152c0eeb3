package docdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Store is an embedded document store. All methods are safe for concurrent
// use. Writes are serialized; reads run on consistent snapshots.
type Store struct {
	st       storage
	logger   *zap.Logger
	verbose  bool
	onChange func(Change)
	now      func() time.Time

	compiledMu sync.Mutex
	compiled   map[string]*collState

	closed   atomic.Bool
	stopTTL  chan struct{}
	ttlDone  chan struct{}
	closeErr error

	ReadCount  atomic.Uint64
	WriteCount atomic.Uint64
}

type Options struct {
	// Logger receives structured logs; defaults to a no-op logger.
	Logger *zap.Logger
	// Verbose logs every write and index scan at debug level.
	Verbose   bool
	IsTesting bool
	// MmapSize is the initial mmap size of the bbolt file.
	MmapSize int

	// TTLInterval enables background expiry of documents covered by TTL
	// indexes. Zero disables it; ExpireDocuments can still be called.
	TTLInterval time.Duration

	// OnChange is called after every commit, once per changed document,
	// in the order the changes were made.
	OnChange func(Change)

	// Now overrides the clock used for TTL expiry and catalog timestamps.
	Now func() time.Time
}

// Open opens or creates a bbolt-backed store at path.
func Open(path string, opt Options) (*Store, error) {
	st, err := openBoltStorage(path, opt)
	if err != nil {
		return nil, fmt.Errorf("docdb: %w", err)
	}
	s, err := newStore(st, opt)
	if err != nil {
		st.Close()
		return nil, err
	}
	s.logger.Debug("store.open", zap.String("path", path))
	return s, nil
}

// OpenMemory returns a transient in-memory store.
func OpenMemory(opt Options) (*Store, error) {
	return newStore(newMemStorage(), opt)
}

func newStore(st storage, opt Options) (*Store, error) {
	s := &Store{
		st:       st,
		logger:   opt.Logger,
		verbose:  opt.Verbose,
		onChange: opt.OnChange,
		now:      opt.Now,
		compiled: make(map[string]*collState),
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}

	err := s.update(context.Background(), func(tx *Tx) error {
		if tx.stx.Bucket(catalogBucketName, "") != nil {
			return nil
		}
		tx.written = true
		_, err := tx.stx.CreateBucket(catalogBucketName, "")
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("docdb: initializing catalog: %w", err)
	}

	if opt.TTLInterval > 0 {
		s.stopTTL = make(chan struct{})
		s.ttlDone = make(chan struct{})
		go s.runTTL(opt.TTLInterval)
	}
	return s, nil
}

// Close stops background expiry and closes the storage. Open cursors must
// be closed first.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return s.closeErr
	}
	if s.stopTTL != nil {
		close(s.stopTTL)
		<-s.ttlDone
	}
	s.closeErr = s.st.Close()
	return s.closeErr
}

func (s *Store) Logger() *zap.Logger {
	return s.logger
}

// compiledState returns the cached compiled state for a catalog entry,
// compiling it on first use of a given collection version.
func (s *Store) compiledState(entry catalogEntry) (*collState, error) {
	s.compiledMu.Lock()
	cs := s.compiled[entry.Name]
	s.compiledMu.Unlock()
	if cs != nil && cs.entry.ID == entry.ID && cs.entry.Version == entry.Version {
		return cs, nil
	}

	cs, err := compileCollState(entry)
	if err != nil {
		return nil, err
	}
	s.compiledMu.Lock()
	if prev := s.compiled[entry.Name]; prev == nil || prev.entry.ID != entry.ID || prev.entry.Version < entry.Version {
		s.compiled[entry.Name] = cs
	}
	s.compiledMu.Unlock()
	return cs, nil
}

func (s *Store) committed(tx *Tx) {
	if len(tx.catalogChanged) > 0 || len(tx.dropped) > 0 {
		s.compiledMu.Lock()
		for _, name := range tx.dropped {
			delete(s.compiled, name)
		}
		for _, cs := range tx.catalogChanged {
			if tx.catalog[cs.name()] == cs {
				s.compiled[cs.name()] = cs
			}
		}
		s.compiledMu.Unlock()
	}
	if s.onChange != nil {
		for _, chg := range tx.changes {
			s.onChange(chg)
		}
	}
}

func (s *Store) runTTL(interval time.Duration) {
	defer close(s.ttlDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopTTL:
			return
		case <-ticker.C:
			n, err := s.ExpireDocuments(context.Background(), s.now())
			if err != nil {
				s.logger.Error("ttl.expire failed", zap.Error(err))
			} else if n > 0 {
				s.logger.Info("ttl.expire", zap.Int("deleted", n))
			}
		}
	}
}

func (tx *Tx) dataBucket(cs *collState) storageBucket {
	b := tx.stx.Bucket(cs.name(), dataBucketName)
	if b == nil {
		panic(collErrf(cs.name(), "", nil, nil, "missing data bucket"))
	}
	return b
}

func (tx *Tx) indexBucket(cs *collState, is *indexState) storageBucket {
	b := tx.stx.Bucket(cs.name(), is.bucketName())
	if b == nil {
		panic(collErrf(cs.name(), is.Desc.Name, nil, nil, "missing index bucket"))
	}
	return b
}
