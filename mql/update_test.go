package mql

import (
	"context"
	"testing"

	"github.com/oreline/docdb"
	"github.com/stretchr/testify/require"
)

func TestParseUpdate(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"$set": {"status": "idle", "site.zone": 3}}`, `[{"status":{"$set":"idle"}},{"site.zone":{"$set":3}}]`},
		{`{"$inc": {"count": 1}, "$unset": {"old": ""}}`, `[{"count":{"$inc":1}},{"old":{"$unset":""}}]`},
		{`{"$max": {"last": 5}, "$min": {"first": 2}}`, `[{"last":{"$max":5}},{"first":{"$min":2}}]`},
		{`{"$setOnInsert": {"created": true}}`, `[{"created":{"$setOnInsert":true}}]`},
		{`{"$push": {"log": {"at": 1}}}`, `[{"log":{"$push":[{"at":1}]}}]`},
		{`{"$push": {"log": {"$each": [1, 2], "$slice": -5}}}`, `[{"log":{"$push":[1,2]}}]`},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			ops, err := ParseUpdate(tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.want, docdb.UpdateString(ops))
		})
	}
}

func TestParseUpdateErrors(t *testing.T) {
	tests := []struct {
		in   string
		path string
	}{
		{`{}`, ""},
		{`{"status": "idle"}`, "status"},
		{`{"$rename": {"a": "b"}}`, "$rename"},
		{`{"$set": 5}`, "$set"},
		{`{"$inc": {"n": "x"}}`, "$inc.n"},
		{`{"$push": {"log": {"$each": 1}}}`, "$push.log.$each"},
		{`{"$push": {"log": {"$each": [], "$sort": 0}}}`, "$push.log.$sort"},
		{`{"$push": {"log": {"$each": [], "$position": 0}}}`, "$push.log.$position"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			_, err := ParseUpdate(tt.in)
			var se *SyntaxError
			require.ErrorAs(t, err, &se)
			require.Equal(t, tt.path, se.Path)
		})
	}
}

// TestUpsertBucket runs the combined bucketed-readings upsert: readings are
// pushed into the open bucket of a device until it holds 3 of them.
func TestUpsertBucket(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	require.NoError(t, s.CreateCollection(ctx, "readings", docdb.CollectionOptions{}))

	f, err := ParseFilter(`{"device": "EQ1", "count": {"$lt": 3}}`)
	require.NoError(t, err)
	for _, v := range []int{40, 10, 30, 20} {
		ops, err := ParseUpdate(`{
			"$push": {"values": {"$each": [` + itoa(v) + `], "$sort": -1, "$slice": 2}},
			"$inc": {"count": 1},
			"$max": {"hi": ` + itoa(v) + `},
			"$min": {"lo": ` + itoa(v) + `}
		}`)
		require.NoError(t, err)
		_, err = s.Update(ctx, "readings", f, ops, docdb.UpdateOptions{Upsert: true})
		require.NoError(t, err)
	}

	sort, err := ParseSort(`{"count": -1}`)
	require.NoError(t, err)
	proj, err := ParseProjection(`{"_id": 0}`)
	require.NoError(t, err)
	c, err := s.Find(ctx, "readings", nil, docdb.FindOptions{Sort: sort, Projection: proj})
	require.NoError(t, err)
	docs, err := c.All()
	require.NoError(t, err)
	require.Len(t, docs, 2)
	require.Equal(t, `{"device":"EQ1","values":[40,30],"count":3,"hi":40,"lo":10}`, docs[0].String())
	require.Equal(t, `{"device":"EQ1","values":[20],"count":1,"hi":20,"lo":20}`, docs[1].String())
}

func TestParseProjection(t *testing.T) {
	doc := docdb.D("_id", 1, "name", "pump", "site", docdb.D("name", "north", "zone", 3))
	tests := []struct {
		in   string
		want string
	}{
		{`{"name": 1}`, `{"_id":1,"name":"pump"}`},
		{`{"name": true, "_id": 0}`, `{"name":"pump"}`},
		{`{"site.zone": 1}`, `{"_id":1,"site":{"zone":3}}`},
		{`{"site": 0}`, `{"_id":1,"name":"pump"}`},
		{`{"_id": 0}`, `{"name":"pump","site":{"name":"north","zone":3}}`},
	}
	s := setup(t)
	ctx := context.Background()
	require.NoError(t, s.CreateCollection(ctx, "c", docdb.CollectionOptions{}))
	_, err := s.Insert(ctx, "c", doc)
	require.NoError(t, err)
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			p, err := ParseProjection(tt.in)
			require.NoError(t, err)
			got, err := s.FindOne(ctx, "c", nil, docdb.FindOptions{Projection: p})
			require.NoError(t, err)
			require.Equal(t, tt.want, got.String())
		})
	}

	p, err := ParseProjection(`{"name": 1, "site": 0}`)
	require.NoError(t, err)
	_, err = s.Find(ctx, "c", nil, docdb.FindOptions{Projection: p})
	require.ErrorIs(t, err, docdb.ErrProjectionConflict)

	_, err = ParseProjection(`{"name": "yes"}`)
	var se *SyntaxError
	require.ErrorAs(t, err, &se)
	require.Equal(t, "name", se.Path)
}

func TestParseSortAndIndexKeys(t *testing.T) {
	sort, err := ParseSort(`{"site": 1, "hours": -1}`)
	require.NoError(t, err)
	require.Equal(t, []docdb.SortKey{docdb.Ascending("site"), docdb.Descending("hours")}, sort)

	keys, err := ParseIndexKeys(`{"mine._id": 1, "status": -1.0}`)
	require.NoError(t, err)
	require.Equal(t, []docdb.IndexKey{docdb.Asc("mine._id"), docdb.Desc("status")}, keys)

	for _, in := range []string{`{}`, `{"a": "text"}`, `{"a": 0}`} {
		_, err := ParseIndexKeys(in)
		var se *SyntaxError
		require.ErrorAs(t, err, &se, in)
	}
	_, err = ParseSort(`{}`)
	require.Error(t, err)
}
