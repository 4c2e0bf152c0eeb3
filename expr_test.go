package docdb

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExprEval(t *testing.T) {
	doc := D(
		"_id", 1,
		"name", "pump-01",
		"hours", 1500,
		"rate", 2.5,
		"none", nil,
		"site", D("name", "north"),
		"readings", []any{3, 9, 12},
		"sensors", []any{D("type", "temp", "value", 70), D("type", "rpm", "value", 900)},
	)

	tests := []struct {
		name string
		e    Expr
		want any
	}{
		{"field", Field("site.name"), "north"},
		{"missing field", Field("site.zone"), nil},
		{"array field", Field("sensors.type"), []any{"temp", "rpm"}},
		{"root", Var("ROOT.hours"), int64(1500)},
		{"literal", Lit("$notafield"), "$notafield"},
		{"object", Obj(ExprField{"n", Field("name")}, ExprField{"x.y", Lit(1)}), D("n", "pump-01", "x", D("y", 1))},
		{"array", Arr(Field("hours"), Lit(nil)), []any{int64(1500), nil}},
		{"ifNull", IfNull(Field("none"), Field("missing"), Lit("fallback")), "fallback"},
		{"ifNull all null", IfNull(Field("none")), nil},
		{"cond", Cond(CmpGt(Field("hours"), Lit(1000)), Lit("old"), Lit("new")), "old"},
		{"cond without else", Cond(Field("none"), Lit("x"), nil), nil},
		{"add ints", Add(Field("hours"), Lit(1), Lit(2)), int64(1503)},
		{"add mixed", Add(Field("hours"), Field("rate")), 1502.5},
		{"add null", Add(Field("hours"), Field("none")), nil},
		{"add nothing", Add(), int64(0)},
		{"subtract", Subtract(Field("hours"), Lit(500)), int64(1000)},
		{"multiply", Multiply(Field("rate"), Lit(4)), 10.0},
		{"multiply ints", Multiply(Lit(6), Lit(7)), int64(42)},
		{"divide", Divide(Field("hours"), Lit(1000)), 1.5},
		{"mod", Mod(Field("hours"), Lit(7)), int64(2)},
		{"mod float", Mod(Field("rate"), Lit(2)), 0.5},
		{"eq", CmpEq(Field("hours"), Lit(1500.0)), true},
		{"ne types", CmpNe(Field("hours"), Lit("1500")), true},
		{"lt across types", CmpLt(Field("hours"), Field("name")), true},
		{"gte", CmpGte(Field("rate"), Lit(2.5)), true},
		{"lte missing", CmpLte(Field("missing"), Lit(0)), true},
		{"and", AndExpr(Field("hours"), Lit(true)), true},
		{"and short", AndExpr(Field("none"), Lit(1)), false},
		{"or", OrExpr(Lit(0), Field("name")), true},
		{"not", NotExpr(Field("none")), true},
		{"size", SizeOf(Field("readings")), int64(3)},
		{"size null", SizeOf(Field("missing")), nil},
		{"filter", FilterArray(Field("readings"), "r", CmpGte(Var("r"), Lit(9))), []any{int64(9), int64(12)}},
		{"filter this", FilterArray(Field("sensors"), "", CmpEq(Var("this.type"), Lit("rpm"))), []any{D("type", "rpm", "value", 900)}},
		{"filter null", FilterArray(Field("missing"), "x", Lit(true)), nil},
		{"concat", Concat(Field("name"), Lit("@"), Field("site.name")), "pump-01@north"},
		{"concat null", Concat(Field("name"), Field("none")), nil},
		{"substr", Substr(Field("name"), Lit(0), Lit(4)), "pump"},
		{"substr rest", Substr(Field("name"), Lit(5), Lit(-1)), "01"},
		{"substr past end", Substr(Field("name"), Lit(50), Lit(2)), ""},
		{"substr null", Substr(Field("none"), Lit(0), Lit(2)), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := evalExpr(tt.e, doc)
			require.NoError(t, err)
			if d, ok := tt.want.(*Doc); ok {
				require.True(t, d.Equal(got.(*Doc)), "got %v", got)
				return
			}
			if arr, ok := tt.want.([]any); ok {
				require.Equal(t, 0, Compare(arr, got), "got %v", got)
				return
			}
			require.Equal(t, tt.want, got)
		})
	}
}

func TestExprErrors(t *testing.T) {
	doc := D("name", "pump", "n", 4, "zero", 0)
	for _, e := range []Expr{
		Add(Field("n"), Field("name")),
		Divide(Field("n"), Field("zero")),
		Mod(Field("n"), Lit(0)),
		Mod(Lit(1.5), Lit(0.0)),
		SizeOf(Field("name")),
		FilterArray(Field("name"), "x", Lit(true)),
		Concat(Field("name"), Field("n")),
		Substr(Field("n"), Lit(0), Lit(1)),
		Substr(Field("name"), Lit(-1), Lit(1)),
		Substr(Field("name"), Lit(0.5), Lit(1)),
		Var("undefined"),
	} {
		t.Run(ExprString(e), func(t *testing.T) {
			_, err := evalExpr(e, doc)
			require.ErrorIs(t, err, ErrPipelineStage)
		})
	}
}

func TestExprString(t *testing.T) {
	tests := []struct {
		e    Expr
		want string
	}{
		{Field("site.name"), `"$site.name"`},
		{Var("this.x"), `"$$this.x"`},
		{Lit(5), `5`},
		{Lit("$x"), `{"$literal":"$x"}`},
		{Lit([]any{1}), `{"$literal":[1]}`},
		{Obj(ExprField{"a", Lit(true)}), `{"a":true}`},
		{Arr(Lit(1), Field("b")), `[1,"$b"]`},
		{Add(Field("a"), Lit(1)), `{"$add":["$a",1]}`},
		{Cond(CmpGt(Field("a"), Lit(1)), Lit("x"), nil), `{"$cond":[{"$gt":["$a",1]},"x",null]}`},
		{AndExpr(NotExpr(Field("a")), OrExpr()), `{"$and":[{"$not":["$a"]},{"$or":[]}]}`},
		{FilterArray(Field("r"), "", CmpLt(Var("this"), Lit(3))), `{"$filter":{"input":"$r","as":"this","cond":{"$lt":["$$this",3]}}}`},
		{Substr(Field("s"), Lit(0), Lit(2)), `{"$substrCP":["$s",0,2]}`},
		{nil, "null"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, ExprString(tt.e))
	}
}

func TestAccumulatorString(t *testing.T) {
	var buf []string
	for _, a := range []Accumulator{SumOf(Field("v")), CountOf(), AddToSetOf(Lit(1)), FirstOf(nil)} {
		var b bytes.Buffer
		a.appendTo(&b)
		buf = append(buf, b.String())
	}
	require.Equal(t, []string{`{"$sum":"$v"}`, `{"$count":{}}`, `{"$addToSet":1}`, `{"$first":null}`}, buf)
}

func TestValueSet(t *testing.T) {
	var vs valueSet
	values := []any{int64(1), 1.0, "1", nil, D("a", int64(1)), D("a", 1.0), []any{int64(1)}, true, int64(1)}
	var ords []int
	var added []bool
	next := 0
	for _, v := range values {
		ord, ok := vs.add(v, next)
		if ok {
			next++
		}
		ords = append(ords, ord)
		added = append(added, ok)
	}
	require.Equal(t, []int{0, 0, 1, 2, 3, 3, 4, 5, 0}, ords)
	require.Equal(t, []bool{true, false, true, true, true, false, true, true, false}, added)
}
