package docdb

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMatch(t *testing.T) {
	when := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	doc := D(
		"_id", "EQ001",
		"status", "working",
		"hours", 120,
		"ratio", 0.5,
		"active", true,
		"installed", when,
		"site", D("name", "north", "zone", 3),
		"tags", []any{"heavy", "outdoor"},
		"sensors", []any{D("type", "temp", "value", 71.5), D("type", "vibration", "value", 3)},
		"matrix", []any{[]any{1, 2}, []any{3}},
		"none", nil,
	)

	tests := []struct {
		f    Filter
		want bool
	}{
		{nil, true},
		{All(), true},
		{Eq("status", "working"), true},
		{Eq("status", "idle"), false},
		{Eq("hours", 120.0), true},
		{Eq("site.zone", 3), true},
		{Eq("site", D("name", "north", "zone", 3)), true},
		{Eq("site", D("zone", 3, "name", "north")), false},
		{Eq("tags", "heavy"), true},
		{Eq("tags", []any{"heavy", "outdoor"}), true},
		{Eq("tags.1", "outdoor"), true},
		{Eq("sensors.type", "vibration"), true},
		{Eq("sensors.0.value", 71.5), true},
		{Eq("missing", nil), true},
		{Eq("none", nil), true},
		{Eq("status", nil), false},
		{Ne("status", "idle"), true},
		{Ne("tags", "heavy"), false},
		{Gt("hours", 100), true},
		{Gt("hours", "100"), false},
		{Lt("status", "x"), true},
		{Gte("installed", when), true},
		{Lt("installed", when), false},
		{Gt("active", false), true},
		{Gt("sensors.value", 70), true},
		{Lt("sensors.value", 3), false},
		{Lte("sensors.value", 3), true},
		{Gt("missing", 0), false},
		{In("status", "idle", "working"), true},
		{In("tags", "light", "outdoor"), true},
		{In("missing", nil), true},
		{Nin("status", "idle", "working"), false},
		{Nin("status", "idle"), true},
		{AllOf("tags", "outdoor", "heavy"), true},
		{AllOf("tags", "outdoor", "light"), false},
		{Exists("site.zone", true), true},
		{Exists("none", true), true},
		{Exists("missing", false), true},
		{Exists("sensors.type", true), true},
		{Regex("status", regexp.MustCompile("^work")), true},
		{Regex("tags", regexp.MustCompile("door$")), true},
		{Regex("hours", regexp.MustCompile("1")), false},
		{Size("tags", 2), true},
		{Size("tags", 1), false},
		{Size("status", 0), false},
		{ElemMatch("sensors", And(Eq("type", "temp"), Gt("value", 70))), true},
		{ElemMatch("sensors", And(Eq("type", "vibration"), Gt("value", 70))), false},
		{And(Eq("sensors.type", "vibration"), Gt("sensors.value", 70)), true},
		{ElemMatch("tags", Eq("", "heavy")), true},
		{ElemMatch("matrix", Size("", 1)), true},
		{And(Eq("status", "working"), Gt("hours", 200)), false},
		{Or(Eq("status", "idle"), Gt("hours", 100)), true},
		{Nor(Eq("status", "idle"), Gt("hours", 200)), true},
		{Not(Eq("status", "working")), false},
		{And(), true},
	}
	for _, tt := range tests {
		t.Run(FilterString(tt.f), func(t *testing.T) {
			require.Equal(t, tt.want, Match(tt.f, doc))
		})
	}
}

func TestFilterString(t *testing.T) {
	f := And(Eq("status", "idle"), Or(Gt("hours", 10), In("site", "a", "b")), Not(Exists("x", true)))
	require.Equal(t, `{"$and":[{"status":{"$eq":"idle"}},{"$or":[{"hours":{"$gt":10}},{"site":{"$in":["a","b"]}}]},{"$not":{"x":{"$exists":true}}}]}`, FilterString(f))
	require.Equal(t, `{"sensors":{"$elemMatch":{"type":{"$eq":"temp"}}}}`, FilterString(ElemMatch("sensors", Eq("type", "temp"))))
	require.Equal(t, `{"readings":{"$elemMatch":{"$gte":5,"$lt":9}}}`, FilterString(ElemMatch("readings", And(Gte("", 5), Lt("", 9)))))
	require.Equal(t, `{"readings":{"$elemMatch":{"$and":[{"$gt":1},{"$gt":2}]}}}`, FilterString(ElemMatch("readings", And(Gt("", 1), Gt("", 2)))))
	require.Equal(t, "{}", FilterString(nil))
}

func TestFindOptions(t *testing.T) {
	eachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		createColl(t, s, "c", CollectionOptions{})
		insertAll(t, s, "c",
			D("_id", 1, "site", "b", "hours", 30, "meta", D("a", 1, "b", 2)),
			D("_id", 2, "site", "a", "hours", 10, "meta", D("a", 3, "b", 4)),
			D("_id", 3, "site", "b", "hours", 20),
			D("_id", 4, "site", "a", "hours", 40),
		)

		docs := findAll(t, s, "c", nil, FindOptions{Sort: []SortKey{Ascending("site"), Descending("hours")}})
		require.Equal(t, []any{int64(4), int64(2), int64(1), int64(3)}, keysOf(docs))

		docs = findAll(t, s, "c", nil, FindOptions{Sort: []SortKey{Ascending("hours")}, Skip: 1, Limit: 2})
		require.Equal(t, []any{int64(3), int64(1)}, keysOf(docs))

		docs = findAll(t, s, "c", nil, FindOptions{Skip: 3})
		require.Equal(t, []any{int64(4)}, keysOf(docs))

		// missing fields sort as null, before numbers
		docs = findAll(t, s, "c", nil, FindOptions{Sort: []SortKey{Ascending("meta.a")}})
		require.Equal(t, []any{int64(3), int64(4), int64(1), int64(2)}, keysOf(docs))

		docs = findAll(t, s, "c", Eq("_id", 1), FindOptions{Projection: Include("site", "meta.b")})
		requireDoc(t, `{"_id":1,"site":"b","meta":{"b":2}}`, docs[0])

		docs = findAll(t, s, "c", Eq("_id", 1), FindOptions{Projection: Include("hours").ExcludeKey()})
		requireDoc(t, `{"hours":30}`, docs[0])

		docs = findAll(t, s, "c", Eq("_id", 1), FindOptions{Projection: Exclude("site", "meta.a")})
		requireDoc(t, `{"_id":1,"hours":30,"meta":{"b":2}}`, docs[0])

		_, err := s.Find(ctx, "c", nil, FindOptions{Projection: Include("site").Exclude("hours")})
		require.ErrorIs(t, err, ErrProjectionConflict)
		_, err = s.Find(ctx, "c", nil, FindOptions{Limit: -1})
		require.Error(t, err)

		doc, err := s.FindOne(ctx, "c", Eq("site", "a"), FindOptions{Sort: []SortKey{Descending("hours")}})
		require.NoError(t, err)
		requireDoc(t, `{"_id":4,"site":"a","hours":40}`, doc)

		doc, err = s.FindOne(ctx, "c", Eq("site", "z"), FindOptions{})
		require.NoError(t, err)
		require.Nil(t, doc)

		n, err := s.Count(ctx, "c", Eq("site", "b"))
		require.NoError(t, err)
		require.Equal(t, 2, n)
	})
}

func TestProjectionArrays(t *testing.T) {
	doc := D("_id", 1, "sensors", []any{D("type", "temp", "value", 1), D("type", "rpm", "value", 2), "loose"})

	pr, err := Include("sensors.type").compile("_id")
	require.NoError(t, err)
	requireDoc(t, `{"_id":1,"sensors":[{"type":"temp"},{"type":"rpm"}]}`, pr.apply(doc))

	pr, err = Exclude("sensors.value").compile("_id")
	require.NoError(t, err)
	requireDoc(t, `{"_id":1,"sensors":[{"type":"temp"},{"type":"rpm"},"loose"]}`, pr.apply(doc))

	// the input is left untouched
	requireDoc(t, `{"_id":1,"sensors":[{"type":"temp","value":1},{"type":"rpm","value":2},"loose"]}`, doc)
}

func TestCursor(t *testing.T) {
	s := setupBolt(t, "")
	ctx := context.Background()
	createColl(t, s, "c", CollectionOptions{})
	for i := 0; i < 10; i++ {
		insertAll(t, s, "c", D("_id", i))
	}

	c, err := s.Find(ctx, "c", Gte("_id", 5), FindOptions{})
	require.NoError(t, err)
	var got []any
	for c.Next() {
		v, _ := c.Doc().Get("_id")
		got = append(got, v)
	}
	require.NoError(t, c.Err())
	require.Equal(t, []any{int64(5), int64(6), int64(7), int64(8), int64(9)}, got)
	require.False(t, c.Next())
	require.NoError(t, c.Close())

	// closing early releases the read transaction, so writes proceed
	c, err = s.Find(ctx, "c", nil, FindOptions{})
	require.NoError(t, err)
	require.True(t, c.Next())
	require.NoError(t, c.Close())
	require.False(t, c.Next())
	insertAll(t, s, "c", D("_id", 10))

	cctx, cancel := context.WithCancel(ctx)
	c, err = s.Find(cctx, "c", nil, FindOptions{})
	require.NoError(t, err)
	require.True(t, c.Next())
	cancel()
	require.False(t, c.Next())
	require.ErrorIs(t, c.Err(), context.Canceled)
}
