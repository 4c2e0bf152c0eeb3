package mql

import (
	"context"
	"testing"

	"github.com/oreline/docdb"
	"github.com/stretchr/testify/require"
)

const equipmentSchema = `{"$jsonSchema": {
	"bsonType": "object",
	"required": ["name", "status"],
	"properties": {
		"name": {"bsonType": "string", "description": "equipment name"},
		"status": {"enum": ["working", "idle", "broken"]},
		"hours": {"bsonType": ["number", "null"], "minimum": 0, "maximum": 100000},
		"serial": {"bsonType": "string", "pattern": "^[A-Z]{2}[0-9]+$"},
		"sensors": {
			"bsonType": "array",
			"items": {
				"bsonType": "object",
				"required": ["type"],
				"properties": {"type": {"bsonType": "string"}, "value": {"bsonType": "double", "exclusiveMinimum": true, "minimum": 0}}
			}
		},
		"_id": {"bsonType": ["int", "string"]}
	},
	"additionalProperties": false
}}`

func TestParseJSONSchema(t *testing.T) {
	spec, err := ParseJSONSchema(equipmentSchema)
	require.NoError(t, err)
	require.Equal(t, []docdb.BSONType{docdb.TypeObject}, spec.Types)
	require.Equal(t, []string{"name", "status"}, spec.Required)
	require.Len(t, spec.Properties, 6)
	require.Equal(t, "hours", spec.Properties[2].Name)
	require.Equal(t, []docdb.BSONType{docdb.TypeNumber, docdb.TypeNull}, spec.Properties[2].Spec.Types)
	require.Equal(t, 100000.0, *spec.Properties[2].Spec.Maximum)
	require.Equal(t, []any{"working", "idle", "broken"}, spec.Properties[1].Spec.Enum)
	require.NotNil(t, spec.Properties[4].Spec.Items)
	require.True(t, spec.Properties[4].Spec.Items.Properties[1].Spec.ExclusiveMinimum)
	require.False(t, *spec.AdditionalProperties)

	schema, err := docdb.CompileSchema(*spec)
	require.NoError(t, err)

	tests := []struct {
		doc  string
		want []string
	}{
		{`{"_id": 1, "name": "pump", "status": "idle", "hours": null, "serial": "AB12"}`, nil},
		{`{"_id": 1, "name": "pump"}`, []string{"status: MissingRequired"}},
		{`{"_id": 1, "name": 5, "status": "gone"}`, []string{"name: TypeMismatch", "status: EnumViolation"}},
		{`{"_id": 1, "name": "pump", "status": "idle", "hours": -1, "serial": "ab"}`, []string{"hours: RangeViolation", "serial: PatternViolation"}},
		{`{"_id": 1, "name": "pump", "status": "idle", "sensors": [{"type": "temp", "value": 0.0}, {"value": 1.5}]}`, []string{"sensors.0.value: RangeViolation", "sensors.1.type: MissingRequired"}},
		{`{"_id": 1, "name": "pump", "status": "idle", "color": "red"}`, []string{"color: UnknownField"}},
	}
	for _, tt := range tests {
		t.Run(tt.doc, func(t *testing.T) {
			doc, err := ParseJSON(tt.doc)
			require.NoError(t, err)
			var got []string
			for _, v := range schema.Validate(doc, docdb.ValidationStrict) {
				got = append(got, v.Path+": "+v.Kind.String())
			}
			require.Equal(t, tt.want, got)
		})
	}
}

func TestParseJSONSchemaErrors(t *testing.T) {
	tests := []struct {
		in   string
		path string
	}{
		{`{"bsonType": "blob"}`, "bsonType"},
		{`{"bsonType": ["string", 1]}`, "bsonType.1"},
		{`{"bsonType": []}`, "bsonType"},
		{`{"$jsonSchema": {"required": "name"}}`, "$jsonSchema.required"},
		{`{"properties": {"a": {"minimum": "x"}}}`, "properties.a.minimum"},
		{`{"properties": {"a": {"pattern": "("}}}`, ""},
		{`{"items": [{"bsonType": "int"}]}`, "items"},
		{`{"oneOf": []}`, "oneOf"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			_, err := ParseJSONSchema(tt.in)
			var se *SyntaxError
			require.ErrorAs(t, err, &se)
			require.Equal(t, tt.path, se.Path)
		})
	}
}

func TestSchemaPolicy(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	spec, err := ParseJSONSchema(equipmentSchema)
	require.NoError(t, err)
	policy, err := ParseValidationPolicy("moderate", "warn")
	require.NoError(t, err)
	require.Equal(t, "moderate/warn", policy.String())

	require.NoError(t, s.CreateCollection(ctx, "equipment", docdb.CollectionOptions{Schema: spec, Policy: policy}))
	doc, err := ParseJSON(`{"_id": "EQ1", "name": "pump", "status": "melted"}`)
	require.NoError(t, err)
	res, err := s.Insert(ctx, "equipment", doc)
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	require.Equal(t, docdb.EnumViolation, res.Warnings[0].Kind)

	policy, err = ParseValidationPolicy("", "")
	require.NoError(t, err)
	require.NoError(t, s.SetValidation(ctx, "equipment", spec, policy))
	doc, err = ParseJSON(`{"_id": "EQ2", "name": "pump"}`)
	require.NoError(t, err)
	_, err = s.Insert(ctx, "equipment", doc)
	require.ErrorIs(t, err, docdb.ErrSchemaViolation)

	_, err = ParseValidationPolicy("strict", "ignore")
	var se *SyntaxError
	require.ErrorAs(t, err, &se)
	require.Equal(t, "validationAction", se.Path)
}
