package docdb

import (
	"context"
	"fmt"
)

// Find returns a cursor over the documents matching f. Without Sort the
// documents are streamed from the chosen index or the data bucket, in key
// order; with Sort they are materialized and sorted first.
func (s *Store) Find(ctx context.Context, coll string, f Filter, opt FindOptions) (*Cursor, error) {
	if opt.Skip < 0 || opt.Limit < 0 {
		return nil, fmt.Errorf("docdb: negative skip or limit")
	}
	tx, err := s.beginTx(ctx, false)
	if err != nil {
		return nil, err
	}
	cs, err := tx.collection(coll)
	if err != nil {
		tx.Close()
		return nil, err
	}
	proj, err := opt.Projection.compile(cs.keyField())
	if err != nil {
		tx.Close()
		return nil, collErrf(coll, "", nil, err, "")
	}
	it, _ := tx.scan(cs, f, nil)
	if len(opt.Sort) == 0 {
		return newCursor(ctx, tx, it, proj, opt.Skip, opt.Limit), nil
	}

	docs, err := drain(ctx, it)
	tx.Close()
	if err != nil {
		return nil, err
	}
	sortDocs(docs, opt.Sort)
	return newCursor(ctx, nil, &sliceIter{docs}, proj, opt.Skip, opt.Limit), nil
}

// PlanDescription reports how a query or pipeline was executed. The counters
// come from actually running it.
type PlanDescription struct {
	// Plan is COLLSCAN, IXSCAN, or IDSCAN for scans of the primary key.
	Plan           string        `json:"plan"`
	Index          string        `json:"index,omitempty"`
	Bounds         []FieldBounds `json:"bounds,omitempty"`
	ResidualFields []string      `json:"residualFields,omitempty"`
	Candidates     []string      `json:"candidates,omitempty"`
	KeysExamined   int           `json:"keysExamined"`
	DocsExamined   int           `json:"docsExamined"`
	Returned       int           `json:"returned"`
	// Stages lists the pipeline stages run after the initial scan.
	Stages []string `json:"stages,omitempty"`
}

// Explain runs the query and describes the plan it used.
func (s *Store) Explain(ctx context.Context, coll string, f Filter) (PlanDescription, error) {
	var pd PlanDescription
	err := s.view(ctx, func(tx *Tx) error {
		cs, err := tx.collection(coll)
		if err != nil {
			return err
		}
		stats := &scanStats{}
		it, p := tx.scan(cs, f, stats)
		if _, err := drain(ctx, it); err != nil {
			return err
		}
		pd = describePlan(p, stats)
		return nil
	})
	return pd, err
}

func describePlan(p *plan, stats *scanStats) PlanDescription {
	pd := PlanDescription{
		Plan:           p.Kind.String(),
		Index:          p.Index,
		Bounds:         p.Bounds,
		ResidualFields: p.residual,
		Candidates:     p.candidates,
		KeysExamined:   stats.keysExamined,
		DocsExamined:   stats.docsExamined,
		Returned:       stats.returned,
	}
	if p.primary {
		pd.Plan = "IDSCAN"
	}
	return pd
}
