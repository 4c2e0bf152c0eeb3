package docdb

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

var equipmentSchema = FieldSpec{
	Types:    []BSONType{TypeObject},
	Required: []string{"_id", "status", "sensors"},
	Properties: []Property{
		Prop("_id", FieldSpec{Types: []BSONType{TypeString}, Pattern: `^EQ\d{3}$`}),
		Prop("status", FieldSpec{Enum: []any{"working", "idle", "maintenance"}}),
		Prop("hours", FieldSpec{Types: []BSONType{TypeNumber}, Minimum: Bound(0)}),
		Prop("sensors", FieldSpec{
			Types: []BSONType{TypeArray},
			Items: &FieldSpec{
				Types:    []BSONType{TypeObject},
				Required: []string{"type"},
				Properties: []Property{
					Prop("type", FieldSpec{Enum: []any{"temp", "vibration", "pressure"}}),
					Prop("value", FieldSpec{Types: []BSONType{TypeNumber}}),
				},
			},
		}),
	},
}

func sensors(types ...string) []any {
	out := make([]any, len(types))
	for i, t := range types {
		out[i] = D("type", t, "value", i)
	}
	return out
}

func violationPaths(vs []Violation) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.Path + ":" + v.Kind.String()
	}
	return out
}

func TestSchemaValidate(t *testing.T) {
	schema, err := CompileSchema(equipmentSchema)
	require.NoError(t, err)

	tests := []struct {
		name  string
		doc   *Doc
		level ValidationLevel
		want  []string
	}{
		{"valid", D("_id", "EQ001", "status", "working", "sensors", sensors("temp")), ValidationStrict, []string{}},
		{"missing required", D("_id", "EQ001"), ValidationStrict, []string{"status:MissingRequired", "sensors:MissingRequired"}},
		{"missing required moderate", D("_id", "EQ001"), ValidationModerate, []string{}},
		{"enum", D("_id", "EQ001", "status", "broken", "sensors", sensors()), ValidationStrict, []string{"status:EnumViolation"}},
		{"pattern", D("_id", "X1", "status", "idle", "sensors", sensors()), ValidationStrict, []string{"_id:PatternViolation"}},
		{"range", D("_id", "EQ001", "status", "idle", "sensors", sensors(), "hours", -1), ValidationStrict, []string{"hours:RangeViolation"}},
		{"type", D("_id", "EQ001", "status", "idle", "sensors", "none"), ValidationModerate, []string{"sensors:TypeMismatch"}},
		{"nested element", D("_id", "EQ001", "status", "idle", "sensors", sensors("temp", "vibration", "humidity")), ValidationStrict, []string{"sensors.2.type:EnumViolation"}},
		{"unknown fields allowed", D("_id", "EQ001", "status", "idle", "sensors", []any{D("type", "temp", "unit", "C")}, "color", "red"), ValidationStrict, []string{}},
		{"off", D("_id", 1), ValidationOff, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, violationPaths(schema.Validate(tt.doc, tt.level)))
		})
	}
}

func TestSchemaValidateIsRepeatable(t *testing.T) {
	schema, err := CompileSchema(equipmentSchema)
	require.NoError(t, err)
	doc := D("_id", "X1", "status", "broken", "hours", -2, "sensors", []any{D("value", 1), "bad"}, "color", "red")
	orig := doc.Clone()

	first := schema.Validate(doc, ValidationStrict)
	require.Len(t, first, 5)
	for i := 0; i < 3; i++ {
		require.Equal(t, first, schema.Validate(doc, ValidationStrict))
	}
	recompiled, err := CompileSchema(equipmentSchema)
	require.NoError(t, err)
	require.Equal(t, first, recompiled.Validate(doc, ValidationStrict))
	require.Equal(t, orig.String(), doc.String())
}

func TestSchemaNumberTypes(t *testing.T) {
	schema, err := CompileSchema(FieldSpec{Properties: []Property{
		Prop("i", FieldSpec{Types: []BSONType{TypeInt}}),
		Prop("n", FieldSpec{Types: []BSONType{TypeNumber}}),
		Prop("x", FieldSpec{Types: []BSONType{TypeDouble, TypeNull}}),
	}})
	require.NoError(t, err)

	require.Empty(t, schema.Validate(D("i", 1, "n", 1.5, "x", nil), ValidationStrict))
	require.Empty(t, schema.Validate(D("n", 2, "x", 2.5), ValidationStrict))
	require.Equal(t, []string{"i:TypeMismatch", "x:TypeMismatch"},
		violationPaths(schema.Validate(D("i", 1.5, "x", "s"), ValidationStrict)))
}

func TestSchemaAdditionalProperties(t *testing.T) {
	closed := false
	schema, err := CompileSchema(FieldSpec{
		Properties:           []Property{Prop("a", FieldSpec{})},
		AdditionalProperties: &closed,
	})
	require.NoError(t, err)

	require.Equal(t, []string{"b:UnknownField"}, violationPaths(schema.Validate(D("a", 1, "b", 2), ValidationStrict)))
	require.Empty(t, schema.Validate(D("a", 1, "b", 2), ValidationModerate))
}

func TestSchemaCompileErrors(t *testing.T) {
	_, err := CompileSchema(FieldSpec{Pattern: "("})
	require.Error(t, err)
	_, err = CompileSchema(FieldSpec{Properties: []Property{Prop("a", FieldSpec{}), Prop("a", FieldSpec{})}})
	require.Error(t, err)
	_, err = CompileSchema(FieldSpec{Types: []BSONType{BSONType(42)}})
	require.Error(t, err)

	s := setup(t)
	err = s.CreateCollection(context.Background(), "c", CollectionOptions{Schema: &FieldSpec{Pattern: "("}})
	require.Error(t, err)
	_, err = s.ListCollections(context.Background())
	require.NoError(t, err)
}

func TestValidationRejectsWrites(t *testing.T) {
	eachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		schema := equipmentSchema
		createColl(t, s, "equipment", CollectionOptions{Schema: &schema})
		insertAll(t, s, "equipment", D("_id", "EQ001", "status", "working", "sensors", sensors("temp")))

		_, err := s.Insert(ctx, "equipment", D("_id", "EQ002", "status", "broken", "sensors", sensors()))
		require.ErrorIs(t, err, ErrSchemaViolation)
		var se *SchemaError
		require.True(t, errors.As(err, &se))
		require.Equal(t, "EQ002", se.Key)
		require.Equal(t, []string{"status:EnumViolation"}, violationPaths(se.Violations))

		n, err := s.Count(ctx, "equipment", nil)
		require.NoError(t, err)
		require.Equal(t, 1, n)

		// an update producing an invalid document leaves the stored one untouched
		_, err = s.Update(ctx, "equipment", Eq("_id", "EQ001"), []UpdateOp{Set("status", "broken")}, UpdateOptions{})
		require.ErrorIs(t, err, ErrSchemaViolation)
		doc, meta, err := s.Get(ctx, "equipment", "EQ001")
		require.NoError(t, err)
		v, _ := doc.Get("status")
		require.Equal(t, "working", v)
		require.Equal(t, uint64(1), meta.ModCount)
	})
}

func TestValidationWarn(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	schema := equipmentSchema
	createColl(t, s, "equipment", CollectionOptions{Schema: &schema, Policy: ValidationPolicy{Action: ActionWarn}})

	res, err := s.Insert(ctx, "equipment", D("_id", "EQ009", "status", "broken", "sensors", sensors()))
	require.NoError(t, err)
	require.Equal(t, []string{"status:EnumViolation"}, violationPaths(res.Warnings))

	ur, err := s.Update(ctx, "equipment", Eq("_id", "EQ009"), []UpdateOp{Set("hours", -5)}, UpdateOptions{})
	require.NoError(t, err)
	require.Equal(t, []string{"status:EnumViolation", "hours:RangeViolation"}, violationPaths(ur.Warnings))

	n, err := s.Count(ctx, "equipment", nil)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestSetValidation(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	createColl(t, s, "c", CollectionOptions{})
	insertAll(t, s, "c", D("_id", 1), D("_id", 2, "name", "x"))

	spec := &FieldSpec{Required: []string{"name"}, Properties: []Property{Prop("name", FieldSpec{Types: []BSONType{TypeString}})}}
	require.NoError(t, s.SetValidation(ctx, "c", spec, ValidationPolicy{Level: ValidationModerate}))

	// existing documents are not revalidated
	n, err := s.Count(ctx, "c", nil)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	_, err = s.Insert(ctx, "c", D("_id", 3))
	require.NoError(t, err)
	_, err = s.Insert(ctx, "c", D("_id", 4, "name", 4))
	require.ErrorIs(t, err, ErrSchemaViolation)

	require.NoError(t, s.SetValidation(ctx, "c", spec, ValidationPolicy{Level: ValidationStrict}))
	_, err = s.Insert(ctx, "c", D("_id", 5))
	require.ErrorIs(t, err, ErrSchemaViolation)

	require.NoError(t, s.SetValidation(ctx, "c", nil, ValidationPolicy{}))
	_, err = s.Insert(ctx, "c", D("_id", 5))
	require.NoError(t, err)

	colls, err := s.ListCollections(ctx)
	require.NoError(t, err)
	require.Nil(t, colls[0].Schema)
}
