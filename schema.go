package docdb

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// FieldSpec is a declarative, serializable constraint tree in the spirit of
// $jsonSchema. The zero FieldSpec accepts any value.
type FieldSpec struct {
	Types            []BSONType `msgpack:"t,omitempty"`
	Enum             []any      `msgpack:"e,omitempty"`
	Minimum          *float64   `msgpack:"min,omitempty"`
	Maximum          *float64   `msgpack:"max,omitempty"`
	ExclusiveMinimum bool       `msgpack:"xmin,omitempty"`
	ExclusiveMaximum bool       `msgpack:"xmax,omitempty"`
	Pattern          string     `msgpack:"pat,omitempty"`
	Required         []string   `msgpack:"req,omitempty"`
	Properties       []Property `msgpack:"props,omitempty"`
	Items            *FieldSpec `msgpack:"items,omitempty"`

	// AdditionalProperties set to false rejects fields not listed in
	// Properties, but only under ValidationStrict.
	AdditionalProperties *bool  `msgpack:"addl,omitempty"`
	Description          string `msgpack:"desc,omitempty"`
}

type Property struct {
	Name string    `msgpack:"n"`
	Spec FieldSpec `msgpack:"s"`
}

// Prop is shorthand for building Properties lists.
func Prop(name string, spec FieldSpec) Property {
	return Property{name, spec}
}

// Bound returns a pointer for Minimum and Maximum.
func Bound(v float64) *float64 {
	return &v
}

type ValidationLevel uint8

const (
	// ValidationStrict checks every constraint, including required fields.
	ValidationStrict ValidationLevel = iota
	// ValidationModerate only checks constraints of fields that are present.
	ValidationModerate
	// ValidationOff disables validation.
	ValidationOff
)

func (l ValidationLevel) String() string {
	switch l {
	case ValidationStrict:
		return "strict"
	case ValidationModerate:
		return "moderate"
	case ValidationOff:
		return "off"
	default:
		return fmt.Sprintf("ValidationLevel(%d)", uint8(l))
	}
}

func ParseValidationLevel(s string) (ValidationLevel, error) {
	switch s {
	case "", "strict":
		return ValidationStrict, nil
	case "moderate":
		return ValidationModerate, nil
	case "off":
		return ValidationOff, nil
	}
	return 0, fmt.Errorf("unknown validation level %q", s)
}

type ValidationAction uint8

const (
	// ActionError rejects invalid writes.
	ActionError ValidationAction = iota
	// ActionWarn accepts invalid writes and reports the violations.
	ActionWarn
)

func (a ValidationAction) String() string {
	switch a {
	case ActionError:
		return "error"
	case ActionWarn:
		return "warn"
	default:
		return fmt.Sprintf("ValidationAction(%d)", uint8(a))
	}
}

func ParseValidationAction(s string) (ValidationAction, error) {
	switch s {
	case "", "error":
		return ActionError, nil
	case "warn":
		return ActionWarn, nil
	}
	return 0, fmt.Errorf("unknown validation action %q", s)
}

type ValidationPolicy struct {
	Level  ValidationLevel  `msgpack:"l"`
	Action ValidationAction `msgpack:"a"`
}

func (p ValidationPolicy) String() string {
	return p.Level.String() + "/" + p.Action.String()
}

type ViolationKind uint8

const (
	MissingRequired ViolationKind = iota + 1
	TypeMismatch
	EnumViolation
	RangeViolation
	PatternViolation
	UnknownField
)

var violationKindNames = [...]string{
	MissingRequired:  "MissingRequired",
	TypeMismatch:     "TypeMismatch",
	EnumViolation:    "EnumViolation",
	RangeViolation:   "RangeViolation",
	PatternViolation: "PatternViolation",
	UnknownField:     "UnknownField",
}

func (k ViolationKind) String() string {
	if int(k) < len(violationKindNames) && violationKindNames[k] != "" {
		return violationKindNames[k]
	}
	return fmt.Sprintf("ViolationKind(%d)", uint8(k))
}

// Violation describes one failed constraint. Path is dotted, with array
// element indices as path segments ("sensors.2.type").
type Violation struct {
	Path   string
	Kind   ViolationKind
	Detail string
}

func (v Violation) String() string {
	path := v.Path
	if path == "" {
		path = "(root)"
	}
	if v.Detail == "" {
		return path + ": " + v.Kind.String()
	}
	return path + ": " + v.Kind.String() + " (" + v.Detail + ")"
}

type typeSet uint16

func (ts typeSet) matches(v any) bool {
	t := TypeOf(v)
	if ts&(1<<t) != 0 {
		return true
	}
	return (t == TypeInt || t == TypeDouble) && ts&(1<<TypeNumber) != 0
}

func (ts typeSet) String() string {
	var names []string
	for t := TypeNull; t <= TypeNumber; t++ {
		if ts&(1<<t) != 0 {
			names = append(names, t.String())
		}
	}
	return strings.Join(names, "|")
}

const noNode = -1

type schemaNode struct {
	types    typeSet
	enum     []any
	min, max float64
	hasMin   bool
	hasMax   bool
	exclMin  bool
	exclMax  bool
	pattern  *regexp.Regexp
	required []string
	props    []schemaProp
	items    int32
	closed   bool
}

type schemaProp struct {
	name string
	node int32
}

// Schema is a compiled FieldSpec: an arena of constraint nodes referring to
// their children by index. A Schema is immutable and safe for concurrent use.
type Schema struct {
	spec  FieldSpec
	nodes []schemaNode
}

func CompileSchema(spec FieldSpec) (*Schema, error) {
	s := &Schema{spec: spec}
	if _, err := s.compile(&spec, ""); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Schema) compile(spec *FieldSpec, path string) (int32, error) {
	idx := int32(len(s.nodes))
	s.nodes = append(s.nodes, schemaNode{items: noNode})
	var n schemaNode
	n.items = noNode

	for _, t := range spec.Types {
		if t < TypeNull || t > TypeNumber {
			return 0, schemaCompileErr(path, "invalid type %v", t)
		}
		n.types |= 1 << t
	}
	for _, e := range spec.Enum {
		v, err := Normalize(e)
		if err != nil {
			return 0, schemaCompileErr(path, "enum: %v", err)
		}
		n.enum = append(n.enum, v)
	}
	if spec.Minimum != nil {
		n.min, n.hasMin, n.exclMin = *spec.Minimum, true, spec.ExclusiveMinimum
	}
	if spec.Maximum != nil {
		n.max, n.hasMax, n.exclMax = *spec.Maximum, true, spec.ExclusiveMaximum
	}
	if spec.Pattern != "" {
		re, err := regexp.Compile(spec.Pattern)
		if err != nil {
			return 0, schemaCompileErr(path, "pattern: %v", err)
		}
		n.pattern = re
	}
	n.required = spec.Required
	if spec.AdditionalProperties != nil && !*spec.AdditionalProperties {
		n.closed = true
	}

	seen := make(map[string]bool, len(spec.Properties))
	for i := range spec.Properties {
		p := &spec.Properties[i]
		if p.Name == "" || seen[p.Name] {
			return 0, schemaCompileErr(path, "invalid or duplicate property name %q", p.Name)
		}
		seen[p.Name] = true
		child, err := s.compile(&p.Spec, joinPath(path, p.Name))
		if err != nil {
			return 0, err
		}
		n.props = append(n.props, schemaProp{p.Name, child})
	}
	if spec.Items != nil {
		child, err := s.compile(spec.Items, joinPath(path, "[]"))
		if err != nil {
			return 0, err
		}
		n.items = child
	}

	s.nodes[idx] = n
	return idx, nil
}

func schemaCompileErr(path, format string, args ...any) error {
	if path == "" {
		path = "(root)"
	}
	return fmt.Errorf("invalid schema at %s: %s", path, fmt.Sprintf(format, args...))
}

// Spec returns the FieldSpec the schema was compiled from.
func (s *Schema) Spec() FieldSpec {
	return s.spec
}

// Validate checks a document against the schema. It has no side effects.
func (s *Schema) Validate(doc *Doc, level ValidationLevel) []Violation {
	if s == nil || level == ValidationOff {
		return nil
	}
	var out []Violation
	s.walk(0, doc, "", level, &out)
	return out
}

func (s *Schema) walk(ni int32, v any, path string, level ValidationLevel, out *[]Violation) {
	n := &s.nodes[ni]
	if n.types != 0 && !n.types.matches(v) {
		*out = append(*out, Violation{path, TypeMismatch, fmt.Sprintf("expected %v, got %v", n.types, TypeOf(v))})
		return
	}
	if len(n.enum) > 0 && !containsValue(n.enum, v) {
		*out = append(*out, Violation{path, EnumViolation, fmt.Sprintf("%s is not one of the allowed values", formatValue(v))})
	}
	if f, ok := toFloat(v); ok && (n.hasMin || n.hasMax) {
		if n.hasMin && (f < n.min || (n.exclMin && f == n.min)) {
			*out = append(*out, Violation{path, RangeViolation, fmt.Sprintf("%v is below minimum %v", formatValue(v), n.min)})
		} else if n.hasMax && (f > n.max || (n.exclMax && f == n.max)) {
			*out = append(*out, Violation{path, RangeViolation, fmt.Sprintf("%v is above maximum %v", formatValue(v), n.max)})
		}
	}
	if str, ok := v.(string); ok && n.pattern != nil && !n.pattern.MatchString(str) {
		*out = append(*out, Violation{path, PatternViolation, fmt.Sprintf("%q does not match %s", str, n.pattern)})
	}

	switch v := v.(type) {
	case *Doc:
		if level == ValidationStrict {
			for _, name := range n.required {
				if !v.Has(name) {
					*out = append(*out, Violation{joinPath(path, name), MissingRequired, ""})
				}
			}
		}
		for _, p := range n.props {
			if fv, ok := v.Get(p.name); ok {
				s.walk(p.node, fv, joinPath(path, p.name), level, out)
			}
		}
		if n.closed && level == ValidationStrict {
			for _, f := range v.fields {
				if !n.hasProp(f.Key) {
					*out = append(*out, Violation{joinPath(path, f.Key), UnknownField, ""})
				}
			}
		}
	case []any:
		if n.items != noNode {
			for i, el := range v {
				s.walk(n.items, el, joinPath(path, strconv.Itoa(i)), level, out)
			}
		}
	}
}

func (n *schemaNode) hasProp(name string) bool {
	for _, p := range n.props {
		if p.name == name {
			return true
		}
	}
	return false
}

// arrayPaths returns the dotted paths of fields that the schema declares as
// arrays. Paths below an array continue without an index segment.
func (s *Schema) arrayPaths() []string {
	if s == nil {
		return nil
	}
	var out []string
	var visit func(ni int32, path string)
	visit = func(ni int32, path string) {
		n := &s.nodes[ni]
		if path != "" && n.types&(1<<TypeArray) != 0 {
			out = append(out, path)
		}
		for _, p := range n.props {
			visit(p.node, joinPath(path, p.name))
		}
		if n.items != noNode {
			visit(n.items, path)
		}
	}
	visit(0, "")
	return out
}

func containsValue(list []any, v any) bool {
	for _, el := range list {
		if valuesEqual(el, v) {
			return true
		}
	}
	return false
}

func formatValue(v any) string {
	var buf bytes.Buffer
	if err := appendJSON(&buf, v); err != nil {
		return fmt.Sprint(v)
	}
	return buf.String()
}
