package docdb

import (
	"context"
	"fmt"
	"sync"
)

// Pipeline is an ordered list of aggregation stages. Each stage consumes the
// documents produced by the previous one.
//
// Match, Unwind, Lookup, Project, AddFields, Skip and Limit stream their
// input. Group and Bucket hold one accumulator set per distinct key, and
// Sort, Facet and Count hold all of their input in memory.
type Pipeline []Stage

// Stage is one step of a Pipeline. Stages never modify the documents they
// receive.
type Stage interface {
	// Name returns the MongoDB name of the stage, as in "$group".
	Name() string
	check(inFacet bool) error
	open(run *pipelineRun, in docIter) (docIter, error)
}

// pipelineRun is shared by all stages of one Aggregate call. Facet branches
// run concurrently and take mu around every use of tx.
type pipelineRun struct {
	tx *Tx
	mu sync.Mutex
}

func (run *pipelineRun) locked(f func() error) error {
	run.mu.Lock()
	defer run.mu.Unlock()
	return f()
}

// Aggregate runs a pipeline over a collection. Leading Match stages are
// answered through the collection's indexes. The returned cursor holds a
// read transaction until it is exhausted or closed.
func (s *Store) Aggregate(ctx context.Context, coll string, p Pipeline) (*Cursor, error) {
	if err := p.check(false); err != nil {
		return nil, err
	}
	tx, err := s.beginTx(ctx, false)
	if err != nil {
		return nil, err
	}
	it, _, err := tx.aggregate(coll, p, nil)
	if err != nil {
		tx.Close()
		return nil, err
	}
	return newCursor(ctx, tx, it, nil, 0, 0), nil
}

// ExplainPipeline runs a pipeline to completion and describes the scan that
// fed it and the stages that followed.
func (s *Store) ExplainPipeline(ctx context.Context, coll string, p Pipeline) (PlanDescription, error) {
	if err := p.check(false); err != nil {
		return PlanDescription{}, err
	}
	var pd PlanDescription
	err := s.view(ctx, func(tx *Tx) error {
		stats := &scanStats{}
		it, pl, err := tx.aggregate(coll, p, stats)
		if err != nil {
			return err
		}
		if _, err := drain(ctx, it); err != nil {
			return err
		}
		pd = describePlan(pl, stats)
		for _, st := range p[leadingMatches(p):] {
			pd.Stages = append(pd.Stages, st.Name())
		}
		return nil
	})
	return pd, err
}

func (tx *Tx) aggregate(coll string, p Pipeline, stats *scanStats) (docIter, *plan, error) {
	cs, err := tx.collection(coll)
	if err != nil {
		return nil, nil, err
	}
	n := leadingMatches(p)
	filters := make([]Filter, n)
	for i, st := range p[:n] {
		filters[i] = st.(MatchStage).Filter
	}
	var f Filter
	switch n {
	case 0:
		f = All()
	case 1:
		f = filters[0]
	default:
		f = And(filters...)
	}
	it, pl := tx.scan(cs, f, stats)
	it, err = p[n:].openAt(&pipelineRun{tx: tx}, it, n)
	if err != nil {
		return nil, nil, err
	}
	return it, pl, nil
}

func leadingMatches(p Pipeline) int {
	for i, st := range p {
		if _, ok := st.(MatchStage); !ok {
			return i
		}
	}
	return len(p)
}

func (p Pipeline) check(inFacet bool) error {
	for i, st := range p {
		if st == nil {
			return &StageError{i, "", fmt.Errorf("%w: nil stage", ErrInvalidPipeline)}
		}
		if err := st.check(inFacet); err != nil {
			return wrapStageErr(i, st.Name(), err)
		}
	}
	return nil
}

// openAt chains the stages onto in. base is the position of the first stage
// within the whole pipeline, used to attribute errors.
func (p Pipeline) openAt(run *pipelineRun, in docIter, base int) (docIter, error) {
	it := in
	for i, st := range p {
		next, err := st.open(run, it)
		if err != nil {
			return nil, wrapStageErr(base+i, st.Name(), err)
		}
		it = &stageIter{it: next, pos: base + i, op: st.Name()}
	}
	return it, nil
}

// stageIter attributes errors to the stage that raised them. Errors already
// attributed upstream pass through unchanged.
type stageIter struct {
	it  docIter
	pos int
	op  string
}

func (s *stageIter) next(ctx context.Context) (*Doc, error) {
	doc, err := s.it.next(ctx)
	if err != nil {
		return nil, wrapStageErr(s.pos, s.op, err)
	}
	return doc, nil
}

// funcIter adapts a closure to docIter.
type funcIter func(ctx context.Context) (*Doc, error)

func (f funcIter) next(ctx context.Context) (*Doc, error) { return f(ctx) }

// blockingIter consumes its whole input on the first call and then emits
// the documents the stage produced from it.
type blockingIter struct {
	in      docIter
	consume func(ctx context.Context, in docIter) ([]*Doc, error)
	out     *sliceIter
}

func (b *blockingIter) next(ctx context.Context) (*Doc, error) {
	if b.out == nil {
		docs, err := b.consume(ctx, b.in)
		if err != nil {
			return nil, err
		}
		b.in = nil
		b.out = &sliceIter{docs}
	}
	return b.out.next(ctx)
}
