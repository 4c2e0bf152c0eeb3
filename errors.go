package docdb

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrSchemaViolation        = errors.New("schema violation")
	ErrProjectionConflict     = errors.New("projection cannot mix inclusion and exclusion")
	ErrUnknownCollection      = errors.New("unknown collection")
	ErrUnknownIndex           = errors.New("unknown index")
	ErrDuplicateKey           = errors.New("duplicate key")
	ErrBucketOverflow         = errors.New("value does not fall into any bucket")
	ErrPipelineStage          = errors.New("pipeline stage failed")
	ErrConcurrentModification = errors.New("document was modified concurrently")
	ErrCollectionExists       = errors.New("collection already exists")
	ErrIndexExists            = errors.New("index already exists")
	ErrInvalidKey             = errors.New("invalid primary key")
	ErrImmutableKey           = errors.New("primary key is immutable")
	ErrCompoundMultikey       = errors.New("cannot index parallel arrays")
	ErrUnsupportedValue       = errors.New("unsupported value")
	ErrInvalidUpdate          = errors.New("invalid update")
	ErrInvalidIndex           = errors.New("invalid index")
	ErrInvalidPipeline        = errors.New("invalid pipeline")
	ErrClosed                 = errors.New("store is closed")
)

// DataError reports undecodable bytes read from storage.
type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Error() string {
	const head, tail = 64, 32
	var buf strings.Builder
	buf.WriteString(e.Msg)
	if e.Err != nil {
		fmt.Fprintf(&buf, ": %v", e.Err)
	}
	if n := len(e.Data); n > head+tail {
		fmt.Fprintf(&buf, ": (%d) %x...%x", n, e.Data[:head], e.Data[n-tail:])
	} else {
		fmt.Fprintf(&buf, ": (%d) %x", n, e.Data)
	}
	return buf.String()
}

// CollectionError attributes a failure to a collection, and optionally to
// one of its indexes and a document key.
type CollectionError struct {
	Collection string
	Index      string
	Key        any
	Msg        string
	Err        error
}

func collErrf(coll, idx string, key any, err error, format string, args ...any) error {
	return &CollectionError{coll, idx, key, fmt.Sprintf(format, args...), err}
}

func (e *CollectionError) Unwrap() error {
	return e.Err
}

func (e *CollectionError) Error() string {
	var buf strings.Builder
	writeDocRef(&buf, e.Collection, e.Index, e.Key)
	for _, part := range []string{e.Msg, errString(e.Err)} {
		if part != "" {
			buf.WriteString(": ")
			buf.WriteString(part)
		}
	}
	return buf.String()
}

// writeDocRef writes coll[.index][/key].
func writeDocRef(buf *strings.Builder, coll, idx string, key any) {
	buf.WriteString(coll)
	if idx != "" {
		buf.WriteByte('.')
		buf.WriteString(idx)
	}
	if key != nil {
		fmt.Fprintf(buf, "/%v", key)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// SchemaError is returned when a strict write is rejected by the collection
// validator. It matches ErrSchemaViolation.
type SchemaError struct {
	Collection string
	Key        any
	Violations []Violation
}

func (e *SchemaError) Is(target error) bool {
	return target == ErrSchemaViolation
}

func (e *SchemaError) Error() string {
	var buf strings.Builder
	writeDocRef(&buf, e.Collection, "", e.Key)
	buf.WriteString(": ")
	buf.WriteString(ErrSchemaViolation.Error())
	for i, v := range e.Violations {
		if i == 0 {
			buf.WriteString(": ")
		} else {
			buf.WriteString("; ")
		}
		buf.WriteString(v.String())
	}
	return buf.String()
}

// StageError attributes an aggregation failure to a pipeline stage.
// Stage is the zero-based position of the stage in its pipeline.
type StageError struct {
	Stage int
	Op    string
	Err   error
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %d (%s): %v", e.Stage, e.Op, e.Err)
}

func wrapStageErr(stage int, op string, err error) error {
	if err == nil {
		return nil
	}
	// errors raised by an upstream stage keep their attribution
	if _, ok := err.(*StageError); ok {
		return err
	}
	return &StageError{stage, op, err}
}
