package mql

import (
	"context"
	"testing"

	"github.com/oreline/docdb"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func setup(t testing.TB) *docdb.Store {
	s, err := docdb.OpenMemory(docdb.Options{Logger: zaptest.NewLogger(t), IsTesting: true})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func load(t testing.TB, s *docdb.Store, coll, data string) {
	ctx := context.Background()
	require.NoError(t, s.CreateCollection(ctx, coll, docdb.CollectionOptions{}))
	docs, err := ParseDocs(data)
	require.NoError(t, err)
	_, err = s.InsertMany(ctx, coll, docs)
	require.NoError(t, err)
}

const equipment = `[
	{"_id": 1, "site": "north", "status": "working", "hours": 1200, "sensors": [{"type": "temp", "value": 70}, {"type": "rpm", "value": 900}]},
	{"_id": 2, "site": "south", "status": "idle", "hours": 300, "sensors": []},
	{"_id": 3, "site": "north", "status": "idle", "hours": 5000, "sensors": [{"type": "temp", "value": 90}]},
	{"_id": 4, "site": "east", "status": "working", "hours": 8000}
]`

func TestParseExpr(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`"$hours"`, `"$hours"`},
		{`"$$ROOT.site"`, `"$$ROOT.site"`},
		{`5`, `5`},
		{`"plain"`, `"plain"`},
		{`null`, `null`},
		{`["$a", 1]`, `["$a",1]`},
		{`{"a": "$b", "c": {"$literal": "$x"}}`, `{"a":"$b","c":{"$literal":"$x"}}`},
		{`{"$divide": ["$hours", 1000]}`, `{"$divide":["$hours",1000]}`},
		{`{"$add": ["$a", "$b", 1]}`, `{"$add":["$a","$b",1]}`},
		{`{"$size": "$tags"}`, `{"$size":["$tags"]}`},
		{`{"$not": ["$a"]}`, `{"$not":["$a"]}`},
		{`{"$ifNull": ["$zone", "none"]}`, `{"$ifNull":["$zone","none"]}`},
		{`{"$cond": {"if": {"$gt": ["$a", 1]}, "then": "x"}}`, `{"$cond":[{"$gt":["$a",1]},"x",null]}`},
		{`{"$cond": [true, 1, 2]}`, `{"$cond":[true,1,2]}`},
		{`{"$filter": {"input": "$r", "as": "x", "cond": {"$gte": ["$$x", 3]}}}`, `{"$filter":{"input":"$r","as":"x","cond":{"$gte":["$$x",3]}}}`},
		{`{"$filter": {"input": "$r", "cond": "$$this.ok"}}`, `{"$filter":{"input":"$r","as":"this","cond":"$$this.ok"}}`},
		{`{"$concat": ["$a", "-", "$b"]}`, `{"$concat":["$a","-","$b"]}`},
		{`{"$substr": ["$s", 0, 2]}`, `{"$substrCP":["$s",0,2]}`},
		{`{"$and": [{"$eq": ["$a", 1]}, {"$or": []}]}`, `{"$and":[{"$eq":["$a",1]},{"$or":[]}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			e, err := ParseExpr(tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.want, docdb.ExprString(e))
		})
	}
}

func TestParseExprErrors(t *testing.T) {
	tests := []struct {
		in   string
		path string
	}{
		{`"$"`, ""},
		{`"$$"`, ""},
		{`{"$median": "$a"}`, "$median"},
		{`{"$subtract": ["$a"]}`, "$subtract"},
		{`{"$cond": {"if": true}}`, "$cond"},
		{`{"$cond": {"if": true, "then": 1, "other": 2}}`, "$cond.other"},
		{`{"$filter": {"input": "$r"}}`, "$filter"},
		{`{"$filter": {"input": "$r", "cond": true, "as": 1}}`, "$filter.as"},
		{`{"a": 1, "$add": [1]}`, "$add"},
		{`{"$add": [{"$foo": 1}]}`, "$add.0.$foo"},
		{`1, 2`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			_, err := ParseExpr(tt.in)
			var se *SyntaxError
			require.ErrorAs(t, err, &se)
			require.Equal(t, tt.path, se.Path)
		})
	}
}

func TestParsePipeline(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	load(t, s, "equipment", equipment)
	load(t, s, "sites", `[{"_id": "north", "region": "N"}, {"_id": "east", "region": "E"}]`)

	tests := []struct {
		name     string
		pipeline string
		want     []string
	}{
		{
			"group by site",
			`[
				{"$match": {"status": {"$in": ["working", "idle"]}}},
				{"$group": {"_id": "$site", "total": {"$sum": "$hours"}, "n": {"$sum": 1}, "machines": {"$push": "$_id"}}},
				{"$sort": {"total": -1}}
			]`,
			[]string{
				`{"_id":"east","total":8000,"n":1,"machines":[4]}`,
				`{"_id":"north","total":6200,"n":2,"machines":[1,3]}`,
				`{"_id":"south","total":300,"n":1,"machines":[2]}`,
			},
		},
		{
			"unwind sensors",
			`[
				{"$unwind": {"path": "$sensors", "preserveNullAndEmptyArrays": true}},
				{"$project": {"_id": 0, "id": "$_id", "type": {"$ifNull": ["$sensors.type", "none"]}}},
				{"$limit": 4}
			]`,
			[]string{
				`{"id":1,"type":"temp"}`,
				`{"id":1,"type":"rpm"}`,
				`{"id":2,"type":"none"}`,
				`{"id":3,"type":"temp"}`,
			},
		},
		{
			"facet",
			`[{"$facet": {
				"byHours": [{"$bucket": {"groupBy": "$hours", "boundaries": [0, 1000, 5000], "default": "high", "output": {"count": {"$sum": 1}}}}],
				"total": [{"$count": "n"}]
			}}]`,
			[]string{
				`{"byHours":[{"_id":0,"count":1},{"_id":1000,"count":1},{"_id":"high","count":2}],"total":[{"n":4}]}`,
			},
		},
		{
			"lookup",
			`[
				{"$match": {"_id": 4}},
				{"$lookup": {"from": "sites", "localField": "site", "foreignField": "_id", "as": "siteInfo"}},
				{"$project": {"site": 1, "siteInfo": 1}}
			]`,
			[]string{`{"_id":4,"site":"east","siteInfo":[{"_id":"east","region":"E"}]}`},
		},
		{
			"computed fields",
			`[
				{"$match": {"hours": {"$gte": 1000}}},
				{"$addFields": {"kh": {"$divide": ["$hours", 1000]}, "old": {"$cond": {"if": {"$gt": ["$hours", 4000]}, "then": true, "else": false}}}},
				{"$project": {"kh": 1, "old": 1, "_id": 0}},
				{"$skip": 1}
			]`,
			[]string{`{"kh":5,"old":true}`, `{"kh":8,"old":true}`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePipeline(tt.pipeline)
			require.NoError(t, err)
			c, err := s.Aggregate(ctx, "equipment", p)
			require.NoError(t, err)
			docs, err := c.All()
			require.NoError(t, err)
			var got []string
			for _, d := range docs {
				got = append(got, d.String())
			}
			require.Equal(t, tt.want, got)
		})
	}
}

func TestParsePipelineErrors(t *testing.T) {
	tests := []struct {
		in   string
		path string
	}{
		{`[5]`, "0"},
		{`[{"$match": {}, "$limit": 1}]`, "0"},
		{`[{"$bogus": 1}]`, "0.$bogus"},
		{`[{"$match": {"a": 1}}, {"$group": {"total": {"$sum": 1}}}]`, "1.$group"},
		{`[{"$group": {"_id": null, "x": {"$median": "$a"}}}]`, "0.$group.x.$median"},
		{`[{"$group": {"_id": null, "x": {"$count": 1}}}]`, "0.$group.x.$count"},
		{`[{"$facet": {"a": [{"$limit": "x"}]}}]`, "0.$facet.a.0.$limit"},
		{`[{"$unwind": {"path": "$a", "bad": 1}}]`, "0.$unwind.bad"},
		{`[{"$lookup": {"from": "x"}}]`, "0.$lookup"},
		{`[{"$bucket": {"boundaries": [0, 1]}}]`, "0.$bucket"},
		{`[{"$project": {"x": {"$nope": 1}}}]`, "0.$project.x.$nope"},
		{`[{"$sort": {"a": 2}}]`, "0.$sort.a"},
		{`[{"$count": 1}]`, "0.$count"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			_, err := ParsePipeline(tt.in)
			var se *SyntaxError
			require.ErrorAs(t, err, &se)
			require.Equal(t, tt.path, se.Path)
		})
	}
}
