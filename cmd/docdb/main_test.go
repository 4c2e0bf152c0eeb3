package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) []string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.ExecuteContext(context.Background()), strings.Join(args, " "))
	s := strings.TrimSpace(out.String())
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func TestCommands(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "test.db")
	docsFile := filepath.Join(dir, "docs.json")
	require.NoError(t, os.WriteFile(docsFile, []byte(`[
		{"_id": "EQ1", "status": "working", "hours": 1200, "tags": ["heavy"]},
		{"_id": "EQ2", "status": "idle", "hours": 300},
		{"_id": "EQ3", "status": "working", "hours": 5000}
	]`), 0o644))

	run(t, "--db", db, "create-collection", "equipment")
	require.Equal(t, []string{
		`{"insertedKey":"EQ1"}`,
		`{"insertedKey":"EQ2"}`,
		`{"insertedKey":"EQ3"}`,
	}, run(t, "--db", db, "insert", "equipment", "@"+docsFile))

	require.Equal(t, []string{`{"created":"status_1"}`}, run(t, "--db", db, "create-index", "equipment", `{"status": 1}`))
	require.Equal(t, []string{
		`{"name":"_id_","key":{"_id":1},"entries":3}`,
		`{"name":"status_1","key":{"status":1},"entries":3}`,
	}, run(t, "--db", db, "indexes", "equipment"))

	require.Equal(t, []string{`{"hours":5000}`, `{"hours":1200}`},
		run(t, "--db", db, "find", "equipment", `{"status": "working"}`, "--sort", `{"hours": -1}`, "--projection", `{"hours": 1, "_id": 0}`))

	require.Equal(t, []string{`{"matched":1,"modified":1}`},
		run(t, "--db", db, "update", "equipment", `{"_id": "EQ2"}`, `{"$set": {"status": "working"}, "$inc": {"hours": 10}}`))

	require.Equal(t, []string{`{"_id":"working","total":6510}`},
		run(t, "--db", db, "aggregate", "equipment", `[{"$group": {"_id": "$status", "total": {"$sum": "$hours"}}}]`))

	explain := run(t, "--db", db, "explain", "equipment", `{"status": "working"}`)
	require.Len(t, explain, 1)
	require.Contains(t, explain[0], `"plan":"IXSCAN"`)
	require.Contains(t, explain[0], `"index":"status_1"`)

	require.Equal(t, []string{`{"count":3}`}, run(t, "--db", db, "count", "equipment"))
	require.Equal(t, []string{`{"deleted":1}`}, run(t, "--db", db, "delete", "equipment", `{"hours": {"$lt": 1000}}`))
	require.Equal(t, []string{`{"deleted":0}`}, run(t, "--db", db, "expire"))

	colls := run(t, "--db", db, "collections")
	require.Len(t, colls, 1)
	require.Contains(t, colls[0], `"name":"equipment"`)
	require.Contains(t, colls[0], `"indexes":["_id_","status_1"]`)

	run(t, "--db", db, "drop-collection", "equipment")
	require.Nil(t, run(t, "--db", db, "collections"))
}
