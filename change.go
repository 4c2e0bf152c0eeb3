package docdb

import "fmt"

type (
	// Change describes a committed modification of one document.
	Change struct {
		collection string
		op         Op
		key        any
		doc        *Doc
		oldDoc     *Doc
	}

	Op int
)

const (
	OpNone   Op = 0
	OpInsert Op = 1
	OpUpdate Op = 2
	OpDelete Op = 3
)

func (chg *Change) Collection() string {
	return chg.collection
}
func (chg *Change) Op() Op {
	return chg.op
}
func (chg *Change) Key() any {
	return chg.key
}

// Doc returns the post-image, or nil for deletions.
func (chg *Change) Doc() *Doc {
	return chg.doc
}

// OldDoc returns the pre-image, or nil for insertions.
func (chg *Change) OldDoc() *Doc {
	return chg.oldDoc
}

func (v Op) String() string {
	switch v {
	case OpNone:
		return "none"
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("invalid op %d", int(v))
	}
}

func (tx *Tx) recordChange(cs *collState, op Op, key any, doc, oldDoc *Doc) {
	if tx.store.onChange == nil {
		return
	}
	tx.changes = append(tx.changes, Change{cs.name(), op, key, doc, oldDoc})
}
