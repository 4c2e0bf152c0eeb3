package docdb

import (
	"context"
	"fmt"
	"runtime/debug"
)

// Tx wraps a storage transaction together with the catalog state it has
// observed or changed.
type Tx struct {
	store    *Store
	stx      storageTx
	ctx      context.Context
	writable bool
	written  bool
	closed   bool

	// reindexing rewrites index entries even for unchanged documents.
	reindexing bool

	catalog        map[string]*collState
	catalogChanged []*collState
	dropped        []string
	changes        []Change
}

func (s *Store) beginTx(ctx context.Context, writable bool) (*Tx, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	stx, err := s.st.BeginTx(writable)
	if err != nil {
		return nil, err
	}
	if writable {
		s.WriteCount.Add(1)
	} else {
		s.ReadCount.Add(1)
	}
	return &Tx{
		store:    s,
		stx:      stx,
		ctx:      ctx,
		writable: writable,
		catalog:  make(map[string]*collState),
	}, nil
}

// Close rolls back the transaction unless it has been committed.
func (tx *Tx) Close() {
	if tx.closed {
		return
	}
	tx.closed = true
	_ = tx.stx.Rollback()
}

func (tx *Tx) commit() error {
	if tx.closed {
		return fmt.Errorf("transaction already closed")
	}
	tx.closed = true
	if !tx.written {
		return tx.stx.Rollback()
	}
	return tx.stx.Commit()
}

// view runs f in a read-only transaction.
func (s *Store) view(ctx context.Context, f func(tx *Tx) error) error {
	tx, err := s.beginTx(ctx, false)
	if err != nil {
		return err
	}
	defer tx.Close()
	return safelyCall(f, tx)
}

// update runs f in a write transaction. The transaction commits if f
// succeeds and rolls back if it fails or panics. Change hooks run after
// the commit.
func (s *Store) update(ctx context.Context, f func(tx *Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx, err := s.beginTx(ctx, true)
	if err != nil {
		return err
	}
	defer tx.Close()
	if err := safelyCall(f, tx); err != nil {
		return err
	}
	if err := tx.commit(); err != nil {
		return err
	}
	s.committed(tx)
	return nil
}

func (tx *Tx) checkContext() error {
	if tx.ctx == nil {
		return nil
	}
	return tx.ctx.Err()
}

type panicked struct {
	reason interface{}
	stack  string
}

func (p panicked) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", p.reason, p.stack)
}

func safelyCall(fn func(*Tx) error, tx *Tx) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicked{p, string(debug.Stack())}
		}
	}()
	return fn(tx)
}
