package mql

import (
	"strings"

	"github.com/oreline/docdb"
	"go.mongodb.org/mongo-driver/bson"
)

// ParseExpr parses an aggregation expression such as
// {"$divide": ["$hours", 1000]}.
func ParseExpr(s string) (docdb.Expr, error) {
	raw, err := parseRawArray("[" + s + "]")
	if err != nil {
		return nil, err
	}
	if len(raw) != 1 {
		return nil, errf("", "expected a single expression")
	}
	return parseExpr(raw[0], "")
}

func parseExpr(v any, path string) (docdb.Expr, error) {
	switch v := v.(type) {
	case string:
		if strings.HasPrefix(v, "$$") {
			if len(v) == 2 {
				return nil, errf(path, "empty variable name")
			}
			return docdb.Var(v[2:]), nil
		}
		if strings.HasPrefix(v, "$") {
			if len(v) == 1 {
				return nil, errf(path, "empty field path")
			}
			return docdb.Field(v[1:]), nil
		}
		return docdb.Lit(v), nil
	case bson.A:
		items, err := parseExprList(v, path)
		if err != nil {
			return nil, err
		}
		return docdb.Arr(items...), nil
	case bson.D:
		if len(v) == 1 && isOperator(v[0].Key) {
			return parseOperatorExpr(v[0].Key, v[0].Value, join(path, v[0].Key))
		}
		fields := make([]docdb.ExprField, 0, len(v))
		for _, e := range v {
			if isOperator(e.Key) {
				return nil, errf(join(path, e.Key), "operator must be the only field of its document")
			}
			sub, err := parseExpr(e.Value, join(path, e.Key))
			if err != nil {
				return nil, err
			}
			fields = append(fields, docdb.ExprField{Path: e.Key, Expr: sub})
		}
		return docdb.Obj(fields...), nil
	}
	val, err := toValue(v, path)
	if err != nil {
		return nil, err
	}
	return docdb.Lit(val), nil
}

func parseExprList(a bson.A, path string) ([]docdb.Expr, error) {
	out := make([]docdb.Expr, len(a))
	for i, v := range a {
		var err error
		if out[i], err = parseExpr(v, join(path, itoa(i))); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// exprArgs accepts the operands of an operator: an array, or a single
// operand written without brackets.
func exprArgs(v any, path string, lo, hi int) ([]docdb.Expr, error) {
	a, ok := v.(bson.A)
	if !ok {
		a = bson.A{v}
	}
	if len(a) < lo || (hi >= 0 && len(a) > hi) {
		switch {
		case lo == hi:
			return nil, errf(path, "expected %d arguments, got %d", lo, len(a))
		case hi < 0:
			return nil, errf(path, "expected at least %d arguments, got %d", lo, len(a))
		default:
			return nil, errf(path, "expected %d to %d arguments, got %d", lo, hi, len(a))
		}
	}
	return parseExprList(a, path)
}

func parseOperatorExpr(op string, v any, path string) (docdb.Expr, error) {
	switch op {
	case "$literal":
		val, err := toValue(v, path)
		if err != nil {
			return nil, err
		}
		return docdb.Lit(val), nil
	case "$add", "$multiply", "$concat", "$and", "$or":
		args, err := exprArgs(v, path, 0, -1)
		if err != nil {
			return nil, err
		}
		switch op {
		case "$add":
			return docdb.Add(args...), nil
		case "$multiply":
			return docdb.Multiply(args...), nil
		case "$concat":
			return docdb.Concat(args...), nil
		case "$and":
			return docdb.AndExpr(args...), nil
		default:
			return docdb.OrExpr(args...), nil
		}
	case "$ifNull":
		args, err := exprArgs(v, path, 1, -1)
		if err != nil {
			return nil, err
		}
		return docdb.IfNull(args...), nil
	case "$subtract", "$divide", "$mod", "$eq", "$ne", "$gt", "$gte", "$lt", "$lte":
		args, err := exprArgs(v, path, 2, 2)
		if err != nil {
			return nil, err
		}
		return binaryExpr(op, args[0], args[1]), nil
	case "$not", "$size":
		args, err := exprArgs(v, path, 1, 1)
		if err != nil {
			return nil, err
		}
		if op == "$not" {
			return docdb.NotExpr(args[0]), nil
		}
		return docdb.SizeOf(args[0]), nil
	case "$cond":
		return parseCond(v, path)
	case "$filter":
		return parseFilterExpr(v, path)
	case "$substr", "$substrCP":
		args, err := exprArgs(v, path, 3, 3)
		if err != nil {
			return nil, err
		}
		return docdb.Substr(args[0], args[1], args[2]), nil
	}
	return nil, errf(path, "unknown expression operator")
}

func binaryExpr(op string, a, b docdb.Expr) docdb.Expr {
	switch op {
	case "$subtract":
		return docdb.Subtract(a, b)
	case "$divide":
		return docdb.Divide(a, b)
	case "$mod":
		return docdb.Mod(a, b)
	case "$eq":
		return docdb.CmpEq(a, b)
	case "$ne":
		return docdb.CmpNe(a, b)
	case "$gt":
		return docdb.CmpGt(a, b)
	case "$gte":
		return docdb.CmpGte(a, b)
	case "$lt":
		return docdb.CmpLt(a, b)
	default:
		return docdb.CmpLte(a, b)
	}
}

// parseCond accepts both [if, then, else] and {if, then, else}.
func parseCond(v any, path string) (docdb.Expr, error) {
	if d, ok := v.(bson.D); ok {
		var ifv, thenv, elsev any
		var hasIf, hasThen bool
		for _, e := range d {
			switch e.Key {
			case "if":
				ifv, hasIf = e.Value, true
			case "then":
				thenv, hasThen = e.Value, true
			case "else":
				elsev = e.Value
			default:
				return nil, errf(join(path, e.Key), "unknown $cond field")
			}
		}
		if !hasIf || !hasThen {
			return nil, errf(path, "needs if and then")
		}
		v = bson.A{ifv, thenv, elsev}
	}
	args, err := exprArgs(v, path, 3, 3)
	if err != nil {
		return nil, err
	}
	return docdb.Cond(args[0], args[1], args[2]), nil
}

func parseFilterExpr(v any, path string) (docdb.Expr, error) {
	d, err := asDoc(v, path)
	if err != nil {
		return nil, err
	}
	var input, cond docdb.Expr
	var as string
	for _, e := range d {
		epath := join(path, e.Key)
		switch e.Key {
		case "input":
			input, err = parseExpr(e.Value, epath)
		case "cond":
			cond, err = parseExpr(e.Value, epath)
		case "as":
			as, err = asString(e.Value, epath)
		default:
			err = errf(epath, "unknown $filter field")
		}
		if err != nil {
			return nil, err
		}
	}
	if input == nil || cond == nil {
		return nil, errf(path, "needs input and cond")
	}
	return docdb.FilterArray(input, as, cond), nil
}

// parseAccumulator parses a group output such as {"$sum": "$hours"}.
func parseAccumulator(v any, path string) (docdb.Accumulator, error) {
	d, err := asDoc(v, path)
	if err != nil {
		return nil, err
	}
	if len(d) != 1 || !isOperator(d[0].Key) {
		return nil, errf(path, "expected a single accumulator operator")
	}
	op, arg := d[0].Key, d[0].Value
	apath := join(path, op)
	if op == "$count" {
		if ad, ok := arg.(bson.D); !ok || len(ad) != 0 {
			return nil, errf(apath, "takes an empty document")
		}
		return docdb.CountOf(), nil
	}
	e, err := parseExpr(arg, apath)
	if err != nil {
		return nil, err
	}
	switch op {
	case "$sum":
		return docdb.SumOf(e), nil
	case "$avg":
		return docdb.AvgOf(e), nil
	case "$min":
		return docdb.MinOf(e), nil
	case "$max":
		return docdb.MaxOf(e), nil
	case "$push":
		return docdb.PushOf(e), nil
	case "$first":
		return docdb.FirstOf(e), nil
	case "$last":
		return docdb.LastOf(e), nil
	case "$addToSet":
		return docdb.AddToSetOf(e), nil
	}
	return nil, errf(apath, "unknown accumulator")
}
