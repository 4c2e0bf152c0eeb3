package mql

import (
	"testing"
	"time"

	"github.com/oreline/docdb"
	"github.com/stretchr/testify/require"
)

func TestParseJSON(t *testing.T) {
	d, err := ParseJSON(`{
		"_id": {"$oid": "5f1d7f3e9b1e8a3d4c2b1a09"},
		"name": "pump",
		"hours": 1500,
		"big": {"$numberLong": "4294967296"},
		"rate": 2.5,
		"whole": 3.0,
		"price": {"$numberDecimal": "12.25"},
		"ok": true,
		"none": null,
		"at": {"$date": "2024-06-01T12:00:00Z"},
		"site": {"name": "north", "zone": 3},
		"tags": ["a", 1, {"k": []}]
	}`)
	require.NoError(t, err)
	require.Equal(t, []string{"_id", "name", "hours", "big", "rate", "whole", "price", "ok", "none", "at", "site", "tags"}, d.Keys())

	get := func(path string) any {
		v, ok := d.Lookup(path)
		require.True(t, ok, path)
		return v
	}
	require.Equal(t, "5f1d7f3e9b1e8a3d4c2b1a09", get("_id"))
	require.Equal(t, int64(1500), get("hours"))
	require.Equal(t, int64(4294967296), get("big"))
	require.Equal(t, 2.5, get("rate"))
	require.Equal(t, 3.0, get("whole"))
	require.Equal(t, 12.25, get("price"))
	require.Equal(t, true, get("ok"))
	require.Nil(t, get("none"))
	require.Equal(t, time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC), get("at"))
	require.Equal(t, int64(3), get("site.zone"))
	require.Equal(t, 0, docdb.Compare([]any{"a", int64(1), docdb.D("k", []any{})}, get("tags")))

	empty, err := ParseJSON("  ")
	require.NoError(t, err)
	require.Equal(t, 0, empty.Len())
}

func TestParseJSONErrors(t *testing.T) {
	for _, in := range []string{`[1]`, `{"a": 1`, `{"a": 1, "a": 2}`, `{"b": {"$binary": {"base64": "AA==", "subType": "00"}}}`} {
		_, err := ParseJSON(in)
		var se *SyntaxError
		require.ErrorAs(t, err, &se, in)
	}
}

func TestParseJSONArray(t *testing.T) {
	vals, err := ParseJSONArray(`[1, "x", null, {"a": [2]}]`)
	require.NoError(t, err)
	require.Len(t, vals, 4)
	require.Equal(t, int64(1), vals[0])
	require.Equal(t, "x", vals[1])
	require.Nil(t, vals[2])
	require.Equal(t, `{"a":[2]}`, vals[3].(*docdb.Doc).String())

	vals, err = ParseJSONArray(`{"a": 1}`)
	require.NoError(t, err)
	require.Len(t, vals, 1)

	docs, err := ParseDocs(`[{"_id": 1}, {"_id": 2}]`)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	require.Equal(t, `{"_id":2}`, docs[1].String())

	_, err = ParseDocs(`[{"_id": 1}, 2]`)
	var se *SyntaxError
	require.ErrorAs(t, err, &se)
	require.Equal(t, "1", se.Path)
}

func TestSyntaxErrorMessage(t *testing.T) {
	require.Equal(t, "mql: $group.total: unknown accumulator", errf("$group.total", "unknown accumulator").Error())
	require.Equal(t, "mql: empty update", errf("", "empty update").Error())

	_, err := ParseValidationPolicy("loose", "")
	require.EqualError(t, err, `mql: validationLevel: invalid level: unknown validation level "loose"`)
}
