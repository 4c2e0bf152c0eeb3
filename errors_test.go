package docdb

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{collErrf("c", "", nil, ErrUnknownCollection, ""), "c: unknown collection"},
		{collErrf("c", "email_1", "x", ErrDuplicateKey, ""), "c.email_1/x: duplicate key"},
		{collErrf("c", "", int64(5), ErrImmutableKey, "cannot change %s", "_id"), "c/5: cannot change _id: primary key is immutable"},
		{collErrf("c", "", nil, nil, "broken"), "c: broken"},
		{&SchemaError{"machines", "EQ1", []Violation{{"", MissingRequired, "name"}, {"sensors.0.type", TypeMismatch, ""}}},
			"machines/EQ1: schema violation: (root): MissingRequired (name); sensors.0.type: TypeMismatch"},
		{&StageError{2, "$bucket", ErrBucketOverflow}, "stage 2 ($bucket): value does not fall into any bucket"},
		{dataErrf([]byte{1, 2}, 0, nil, "bad doc"), "bad doc: (2) 0102"},
		{dataErrf([]byte{0xff}, 0, ErrUnsupportedValue, "bad doc"), "bad doc: unsupported value: (1) ff"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, tt.err.Error())
	}

	long := dataErrf(make([]byte, 200), 0, nil, "x").Error()
	require.True(t, strings.HasPrefix(long, "x: (200) "))
	require.Contains(t, long, "...")
}

func TestErrorMatching(t *testing.T) {
	err := fmt.Errorf("insert: %w", &SchemaError{Collection: "c"})
	require.ErrorIs(t, err, ErrSchemaViolation)
	var se *SchemaError
	require.ErrorAs(t, err, &se)
	require.Equal(t, "c", se.Collection)

	err = wrapStageErr(1, "$group", collErrf("c", "", nil, ErrUnknownCollection, ""))
	require.ErrorIs(t, err, ErrUnknownCollection)
	var ce *CollectionError
	require.ErrorAs(t, err, &ce)

	// the innermost stage keeps its attribution
	inner := wrapStageErr(3, "$lookup", ErrUnknownCollection)
	require.Same(t, inner, wrapStageErr(0, "$facet", inner))
	require.Nil(t, wrapStageErr(0, "$match", nil))
	require.False(t, errors.Is(inner, ErrSchemaViolation))
}
