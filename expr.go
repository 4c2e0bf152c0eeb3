package docdb

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// Expr computes a value from the current document of a pipeline stage.
// Expressions referencing missing fields evaluate to null.
type Expr interface {
	eval(env *evalEnv) (any, error)
	appendTo(buf *bytes.Buffer)
}

type evalEnv struct {
	root *Doc
	vars []exprVar
}

type exprVar struct {
	name  string
	value any
}

func (env *evalEnv) lookupVar(name string) (any, bool) {
	switch name {
	case "ROOT", "CURRENT":
		return env.root, true
	}
	for i := len(env.vars) - 1; i >= 0; i-- {
		if env.vars[i].name == name {
			return env.vars[i].value, true
		}
	}
	return nil, false
}

func evalExpr(e Expr, doc *Doc) (any, error) {
	if e == nil {
		return nil, nil
	}
	return e.eval(&evalEnv{root: doc})
}

func exprErrf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPipelineStage, fmt.Sprintf(format, args...))
}

// ExprString renders an expression in MongoDB aggregation syntax.
func ExprString(e Expr) string {
	if e == nil {
		return "null"
	}
	var buf bytes.Buffer
	e.appendTo(&buf)
	return buf.String()
}

type fieldExpr struct {
	path  string
	parts []string
}

type varExpr struct {
	name  string
	parts []string
}

type litExpr struct{ value any }

type objExpr struct{ fields []ExprField }

type arrExpr struct{ items []Expr }

type ifNullExpr struct{ args []Expr }

type condExpr struct{ cond, then, els Expr }

type arithOp uint8

const (
	arithAdd arithOp = iota
	arithSubtract
	arithMultiply
	arithDivide
	arithMod
)

var arithNames = [...]string{arithAdd: "$add", arithSubtract: "$subtract", arithMultiply: "$multiply", arithDivide: "$divide", arithMod: "$mod"}

type arithExpr struct {
	op   arithOp
	args []Expr
}

type cmpExpr struct {
	op   cmpOp
	a, b Expr
}

type logicExpr struct {
	and  bool
	args []Expr
}

type notExpr struct{ arg Expr }

type sizeExpr struct{ arg Expr }

type filterArrayExpr struct {
	input Expr
	as    string
	cond  Expr
}

type concatExpr struct{ args []Expr }

type substrExpr struct{ s, start, length Expr }

// ExprField names the result of an expression, as in AddFields and Obj.
type ExprField struct {
	Path string
	Expr Expr
}

// Field references a field of the current document by dotted path. Paths
// through arrays of documents yield arrays of values.
func Field(path string) Expr { return &fieldExpr{path, splitPath(path)} }

// Var references a variable: ROOT, CURRENT, or one bound by FilterArray.
// The name may be followed by a dotted path, as in "item.qty".
func Var(name string) Expr {
	parts := splitPath(name)
	return &varExpr{parts[0], parts[1:]}
}

func Lit(v any) Expr { return &litExpr{mustNormalize(v)} }

// Obj builds a document from name/expression pairs.
func Obj(fields ...ExprField) Expr { return &objExpr{fields} }

func Arr(items ...Expr) Expr { return &arrExpr{items} }

// IfNull returns the first argument that is not null.
func IfNull(args ...Expr) Expr { return &ifNullExpr{args} }

func Cond(cond, then, els Expr) Expr { return &condExpr{cond, then, els} }

func Add(args ...Expr) Expr      { return &arithExpr{arithAdd, args} }
func Subtract(a, b Expr) Expr    { return &arithExpr{arithSubtract, []Expr{a, b}} }
func Multiply(args ...Expr) Expr { return &arithExpr{arithMultiply, args} }
func Divide(a, b Expr) Expr      { return &arithExpr{arithDivide, []Expr{a, b}} }
func Mod(a, b Expr) Expr         { return &arithExpr{arithMod, []Expr{a, b}} }

func CmpEq(a, b Expr) Expr  { return &cmpExpr{opEq, a, b} }
func CmpNe(a, b Expr) Expr  { return &cmpExpr{opNe, a, b} }
func CmpGt(a, b Expr) Expr  { return &cmpExpr{opGt, a, b} }
func CmpGte(a, b Expr) Expr { return &cmpExpr{opGte, a, b} }
func CmpLt(a, b Expr) Expr  { return &cmpExpr{opLt, a, b} }
func CmpLte(a, b Expr) Expr { return &cmpExpr{opLte, a, b} }

func AndExpr(args ...Expr) Expr { return &logicExpr{true, args} }
func OrExpr(args ...Expr) Expr  { return &logicExpr{false, args} }
func NotExpr(arg Expr) Expr     { return &notExpr{arg} }

// SizeOf returns the length of an array.
func SizeOf(arg Expr) Expr { return &sizeExpr{arg} }

// FilterArray keeps the elements of input for which cond is truthy. Each
// element is bound to the variable named as.
func FilterArray(input Expr, as string, cond Expr) Expr {
	if as == "" {
		as = "this"
	}
	return &filterArrayExpr{input, as, cond}
}

func Concat(args ...Expr) Expr { return &concatExpr{args} }

// Substr returns length code points of s starting at code point start. A
// negative length extends to the end of the string.
func Substr(s, start, length Expr) Expr { return &substrExpr{s, start, length} }

func (e *fieldExpr) eval(env *evalEnv) (any, error) {
	v, _ := exprPath(env.root, e.parts)
	return v, nil
}

// exprPath resolves a path the way aggregation expressions do: arrays of
// documents are mapped over, missing values are skipped.
func exprPath(v any, parts []string) (any, bool) {
	if len(parts) == 0 {
		return v, true
	}
	switch c := v.(type) {
	case *Doc:
		fv, ok := c.Get(parts[0])
		if !ok {
			return nil, false
		}
		return exprPath(fv, parts[1:])
	case []any:
		out := make([]any, 0, len(c))
		for _, el := range c {
			if _, ok := el.(*Doc); !ok {
				continue
			}
			if fv, ok := exprPath(el, parts); ok {
				out = append(out, fv)
			}
		}
		return out, true
	}
	return nil, false
}

func (e *varExpr) eval(env *evalEnv) (any, error) {
	v, ok := env.lookupVar(e.name)
	if !ok {
		return nil, exprErrf("undefined variable $$%s", e.name)
	}
	v, _ = exprPath(v, e.parts)
	return v, nil
}

func (e *litExpr) eval(env *evalEnv) (any, error) { return cloneValue(e.value), nil }

func (e *objExpr) eval(env *evalEnv) (any, error) {
	out := &Doc{}
	for _, f := range e.fields {
		v, err := f.Expr.eval(env)
		if err != nil {
			return nil, err
		}
		if err := out.setPath(splitPath(f.Path), v); err != nil {
			return nil, exprErrf("%v", err)
		}
	}
	return out, nil
}

func (e *arrExpr) eval(env *evalEnv) (any, error) {
	out := make([]any, len(e.items))
	for i, item := range e.items {
		v, err := item.eval(env)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *ifNullExpr) eval(env *evalEnv) (any, error) {
	for _, a := range e.args {
		v, err := a.eval(env)
		if err != nil {
			return nil, err
		}
		if v != nil {
			return v, nil
		}
	}
	return nil, nil
}

func (e *condExpr) eval(env *evalEnv) (any, error) {
	c, err := e.cond.eval(env)
	if err != nil {
		return nil, err
	}
	if truthy(c) {
		return e.then.eval(env)
	}
	if e.els == nil {
		return nil, nil
	}
	return e.els.eval(env)
}

// truthy follows aggregation rules: false, null and zero are false.
func truthy(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case int64:
		return v != 0
	case float64:
		return v != 0
	}
	return true
}

func (e *arithExpr) eval(env *evalEnv) (any, error) {
	vals := make([]any, len(e.args))
	for i, a := range e.args {
		v, err := a.eval(env)
		if err != nil {
			return nil, err
		}
		if v == nil {
			return nil, nil
		}
		if !isNumber(v) {
			return nil, exprErrf("%s only supports numbers, got %s", arithNames[e.op], TypeOf(v))
		}
		vals[i] = v
	}
	if len(vals) == 0 {
		if e.op == arithMultiply {
			return int64(1), nil
		}
		return int64(0), nil
	}
	switch e.op {
	case arithAdd:
		acc := vals[0]
		for _, v := range vals[1:] {
			acc = addNumbers(acc, v)
		}
		return acc, nil
	case arithSubtract:
		if len(vals) != 2 {
			return nil, exprErrf("$subtract takes 2 arguments")
		}
		return subtractNumbers(vals[0], vals[1]), nil
	case arithMultiply:
		acc := vals[0]
		for _, v := range vals[1:] {
			acc = multiplyNumbers(acc, v)
		}
		return acc, nil
	case arithDivide:
		if len(vals) != 2 {
			return nil, exprErrf("$divide takes 2 arguments")
		}
		a, _ := toFloat(vals[0])
		b, _ := toFloat(vals[1])
		if b == 0 {
			return nil, exprErrf("$divide by zero")
		}
		return a / b, nil
	case arithMod:
		if len(vals) != 2 {
			return nil, exprErrf("$mod takes 2 arguments")
		}
		ai, aok := vals[0].(int64)
		bi, bok := vals[1].(int64)
		if aok && bok {
			if bi == 0 {
				return nil, exprErrf("$mod by zero")
			}
			return ai % bi, nil
		}
		a, _ := toFloat(vals[0])
		b, _ := toFloat(vals[1])
		if b == 0 {
			return nil, exprErrf("$mod by zero")
		}
		return math.Mod(a, b), nil
	}
	panic("unreachable")
}

func subtractNumbers(a, b any) any {
	ai, aok := a.(int64)
	bi, bok := b.(int64)
	if aok && bok {
		d := ai - bi
		if (d < ai) == (bi > 0) {
			return d
		}
	}
	af, _ := toFloat(a)
	bf, _ := toFloat(b)
	return af - bf
}

func multiplyNumbers(a, b any) any {
	ai, aok := a.(int64)
	bi, bok := b.(int64)
	if aok && bok {
		if ai == 0 || bi == 0 {
			return int64(0)
		}
		p := ai * bi
		if p/bi == ai && !(ai == -1 && bi == math.MinInt64) && !(bi == -1 && ai == math.MinInt64) {
			return p
		}
	}
	af, _ := toFloat(a)
	bf, _ := toFloat(b)
	return af * bf
}

func (e *cmpExpr) eval(env *evalEnv) (any, error) {
	a, err := e.a.eval(env)
	if err != nil {
		return nil, err
	}
	b, err := e.b.eval(env)
	if err != nil {
		return nil, err
	}
	c := compareValues(a, b)
	switch e.op {
	case opEq:
		return c == 0, nil
	case opNe:
		return c != 0, nil
	case opGt:
		return c > 0, nil
	case opGte:
		return c >= 0, nil
	case opLt:
		return c < 0, nil
	default:
		return c <= 0, nil
	}
}

func (e *logicExpr) eval(env *evalEnv) (any, error) {
	for _, a := range e.args {
		v, err := a.eval(env)
		if err != nil {
			return nil, err
		}
		if truthy(v) != e.and {
			return !e.and, nil
		}
	}
	return e.and, nil
}

func (e *notExpr) eval(env *evalEnv) (any, error) {
	v, err := e.arg.eval(env)
	if err != nil {
		return nil, err
	}
	return !truthy(v), nil
}

func (e *sizeExpr) eval(env *evalEnv) (any, error) {
	v, err := e.arg.eval(env)
	if err != nil || v == nil {
		return nil, err
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, exprErrf("$size needs an array, got %s", TypeOf(v))
	}
	return int64(len(arr)), nil
}

func (e *filterArrayExpr) eval(env *evalEnv) (any, error) {
	v, err := e.input.eval(env)
	if err != nil || v == nil {
		return nil, err
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, exprErrf("$filter needs an array, got %s", TypeOf(v))
	}
	out := make([]any, 0, len(arr))
	n := len(env.vars)
	defer func() { env.vars = env.vars[:n] }()
	for _, el := range arr {
		env.vars = append(env.vars[:n], exprVar{e.as, el})
		c, err := e.cond.eval(env)
		if err != nil {
			return nil, err
		}
		if truthy(c) {
			out = append(out, el)
		}
	}
	return out, nil
}

func (e *concatExpr) eval(env *evalEnv) (any, error) {
	var sb strings.Builder
	for _, a := range e.args {
		v, err := a.eval(env)
		if err != nil {
			return nil, err
		}
		if v == nil {
			return nil, nil
		}
		s, ok := v.(string)
		if !ok {
			return nil, exprErrf("$concat only supports strings, got %s", TypeOf(v))
		}
		sb.WriteString(s)
	}
	return sb.String(), nil
}

func (e *substrExpr) eval(env *evalEnv) (any, error) {
	v, err := e.s.eval(env)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, exprErrf("$substr needs a string, got %s", TypeOf(v))
	}
	start, err := evalInt(env, e.start, "$substr start")
	if err != nil {
		return nil, err
	}
	length, err := evalInt(env, e.length, "$substr length")
	if err != nil {
		return nil, err
	}
	if start < 0 {
		return nil, exprErrf("$substr start must not be negative")
	}
	n := utf8.RuneCountInString(s)
	if start >= n {
		return "", nil
	}
	runes := []rune(s)[start:]
	if length >= 0 && length < len(runes) {
		runes = runes[:length]
	}
	return string(runes), nil
}

func evalInt(env *evalEnv, e Expr, what string) (int, error) {
	v, err := e.eval(env)
	if err != nil {
		return 0, err
	}
	switch v := v.(type) {
	case int64:
		return int(v), nil
	case float64:
		if v == math.Trunc(v) {
			return int(v), nil
		}
	}
	return 0, exprErrf("%s must be an integer, got %s", what, formatValue(v))
}

func (e *fieldExpr) appendTo(buf *bytes.Buffer) { appendJSON(buf, "$"+e.path) }

func (e *varExpr) appendTo(buf *bytes.Buffer) {
	appendJSON(buf, "$$"+strings.Join(append([]string{e.name}, e.parts...), "."))
}

func (e *litExpr) appendTo(buf *bytes.Buffer) {
	switch v := e.value.(type) {
	case string:
		if strings.HasPrefix(v, "$") {
			appendOpDoc(buf, "", "$literal", v)
			return
		}
	case *Doc, []any:
		appendOpDoc(buf, "", "$literal", v)
		return
	}
	appendJSON(buf, e.value)
}

func (e *objExpr) appendTo(buf *bytes.Buffer) {
	buf.WriteByte('{')
	for i, f := range e.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		appendJSON(buf, f.Path)
		buf.WriteByte(':')
		f.Expr.appendTo(buf)
	}
	buf.WriteByte('}')
}

func appendExprList(buf *bytes.Buffer, op string, args []Expr) {
	buf.WriteString(`{"` + op + `":[`)
	for i, a := range args {
		if i > 0 {
			buf.WriteByte(',')
		}
		if a == nil {
			buf.WriteString("null")
		} else {
			a.appendTo(buf)
		}
	}
	buf.WriteString("]}")
}

func (e *arrExpr) appendTo(buf *bytes.Buffer) {
	buf.WriteByte('[')
	for i, a := range e.items {
		if i > 0 {
			buf.WriteByte(',')
		}
		a.appendTo(buf)
	}
	buf.WriteByte(']')
}

func (e *ifNullExpr) appendTo(buf *bytes.Buffer) { appendExprList(buf, "$ifNull", e.args) }
func (e *condExpr) appendTo(buf *bytes.Buffer) {
	appendExprList(buf, "$cond", []Expr{e.cond, e.then, e.els})
}
func (e *arithExpr) appendTo(buf *bytes.Buffer) { appendExprList(buf, arithNames[e.op], e.args) }
func (e *cmpExpr) appendTo(buf *bytes.Buffer) {
	appendExprList(buf, cmpOpNames[e.op], []Expr{e.a, e.b})
}
func (e *logicExpr) appendTo(buf *bytes.Buffer) {
	if e.and {
		appendExprList(buf, "$and", e.args)
	} else {
		appendExprList(buf, "$or", e.args)
	}
}
func (e *notExpr) appendTo(buf *bytes.Buffer)  { appendExprList(buf, "$not", []Expr{e.arg}) }
func (e *sizeExpr) appendTo(buf *bytes.Buffer) { appendExprList(buf, "$size", []Expr{e.arg}) }
func (e *filterArrayExpr) appendTo(buf *bytes.Buffer) {
	buf.WriteString(`{"$filter":{"input":`)
	e.input.appendTo(buf)
	buf.WriteString(`,"as":`)
	appendJSON(buf, e.as)
	buf.WriteString(`,"cond":`)
	e.cond.appendTo(buf)
	buf.WriteString("}}")
}
func (e *concatExpr) appendTo(buf *bytes.Buffer) { appendExprList(buf, "$concat", e.args) }
func (e *substrExpr) appendTo(buf *bytes.Buffer) {
	appendExprList(buf, "$substrCP", []Expr{e.s, e.start, e.length})
}
