package docdb

import (
	"bytes"
	"context"

	"go.uber.org/zap"
)

// docIter is a pull iterator over documents. next returns (nil, nil) when
// the iterator is exhausted.
type docIter interface {
	next(ctx context.Context) (*Doc, error)
}

type scanStats struct {
	keysExamined int
	docsExamined int
	returned     int
}

// scan returns an iterator over the documents of a collection matching f,
// using the plan chosen for f.
func (tx *Tx) scan(cs *collState, f Filter, stats *scanStats) (docIter, *plan) {
	p := choosePlan(cs, f)
	if stats == nil {
		stats = &scanStats{}
	}
	if tx.store.verbose {
		tx.store.logger.Debug("index.scan", zap.String("collection", cs.name()), zap.Stringer("plan", p), zap.String("filter", FilterString(f)))
	}
	if p.Kind == PlanFullScan {
		return &collScan{tx: tx, cs: cs, cur: tx.dataBucket(cs).Cursor(), filter: f, stats: stats}, p
	}
	s := &indexScan{tx: tx, cs: cs, plan: p, data: tx.dataBucket(cs), stats: stats}
	if p.primary {
		s.cur = s.data.Cursor()
	} else {
		s.cur = tx.indexBucket(cs, p.index).Cursor()
		s.seen = make(map[string]struct{})
	}
	return s, p
}

type collScan struct {
	tx      *Tx
	cs      *collState
	cur     storageCursor
	started bool
	done    bool
	filter  Filter
	stats   *scanStats
}

func (s *collScan) next(ctx context.Context) (*Doc, error) {
	for !s.done {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var k, v []byte
		if !s.started {
			k, v = s.cur.First()
			s.started = true
		} else {
			k, v = s.cur.Next()
		}
		if k == nil {
			s.done = true
			break
		}
		_, doc, err := decodeValue(v)
		if err != nil {
			return nil, collErrf(s.cs.name(), "", hexstr(k), err, "")
		}
		s.stats.docsExamined++
		if Match(s.filter, doc) {
			s.stats.returned++
			return doc, nil
		}
	}
	return nil, nil
}

// indexScan visits each equality prefix of the plan in key order and, when
// the plan has a range, the slice of the following component inside it.
type indexScan struct {
	tx         *Tx
	cs         *collState
	plan       *plan
	cur        storageCursor
	data       storageBucket
	pi         int
	positioned bool
	seen       map[string]struct{}
	stats      *scanStats
}

func (s *indexScan) next(ctx context.Context) (*Doc, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		k, v, err := s.advance()
		if err != nil {
			return nil, err
		}
		if k == nil {
			return nil, nil
		}
		s.stats.keysExamined++

		raw := v
		if !s.plan.primary {
			if _, dup := s.seen[string(v)]; dup {
				continue
			}
			s.seen[string(v)] = struct{}{}
			raw = s.data.Get(v)
			if raw == nil {
				return nil, collErrf(s.cs.name(), s.plan.Index, hexstr(v), nil, "index entry points to a missing document")
			}
		}
		_, doc, err := decodeValue(raw)
		if err != nil {
			return nil, collErrf(s.cs.name(), "", hexstr(k), err, "")
		}
		s.stats.docsExamined++
		if Match(s.plan.filter, doc) {
			s.stats.returned++
			return doc, nil
		}
	}
}

func (s *indexScan) advance() ([]byte, []byte, error) {
	rng := s.plan.rng
	for s.pi < len(s.plan.prefixes) {
		prefix := s.plan.prefixes[s.pi]
		var k, v []byte
		if !s.positioned {
			seek := append(acquireKeyBytes(), prefix...)
			if rng != nil {
				seek = append(seek, rng.lower...)
			}
			k, v = s.cur.Seek(seek)
			releaseKeyBytes(seek)
			s.positioned = true
		} else {
			k, v = s.cur.Next()
		}
		for k != nil && bytes.HasPrefix(k, prefix) {
			if rng == nil {
				return k, v, nil
			}
			rest := k[len(prefix):]
			n, err := skipKeyComponent(rest, s.plan.rangeDesc)
			if err != nil {
				return nil, nil, collErrf(s.cs.name(), s.plan.Index, nil, err, "")
			}
			c := rng.contains(rest[:n])
			if c == 0 {
				return k, v, nil
			}
			if c > 0 {
				break
			}
			k, v = s.cur.Next()
		}
		s.pi++
		s.positioned = false
	}
	return nil, nil, nil
}

// drain collects the remaining documents of an iterator.
func drain(ctx context.Context, it docIter) ([]*Doc, error) {
	var out []*Doc
	for {
		doc, err := it.next(ctx)
		if err != nil {
			return nil, err
		}
		if doc == nil {
			return out, nil
		}
		out = append(out, doc)
	}
}
