package mql

import (
	"github.com/oreline/docdb"
	"go.mongodb.org/mongo-driver/bson"
)

// ParseJSONSchema parses a $jsonSchema validator. The input may be the
// schema itself or a document wrapping it as {"$jsonSchema": {...}}.
func ParseJSONSchema(s string) (*docdb.FieldSpec, error) {
	d, err := parseRawDoc(s)
	if err != nil {
		return nil, err
	}
	path := ""
	if len(d) == 1 && d[0].Key == "$jsonSchema" {
		path = "$jsonSchema"
		if d, err = asDoc(d[0].Value, path); err != nil {
			return nil, err
		}
	}
	spec, err := parseFieldSpec(d, path)
	if err != nil {
		return nil, err
	}
	if _, err := docdb.CompileSchema(*spec); err != nil {
		return nil, wrapErr(path, err, "invalid schema")
	}
	return spec, nil
}

func parseFieldSpec(d bson.D, path string) (*docdb.FieldSpec, error) {
	spec := &docdb.FieldSpec{}
	for _, e := range d {
		epath := join(path, e.Key)
		var err error
		switch e.Key {
		case "bsonType", "type":
			spec.Types, err = parseTypes(e.Value, epath)
		case "enum":
			var arr bson.A
			if arr, err = asArray(e.Value, epath); err == nil {
				spec.Enum, err = toArray(arr, epath)
			}
		case "minimum", "maximum":
			var f float64
			if f, err = asFloat(e.Value, epath); err == nil {
				if e.Key == "minimum" {
					spec.Minimum = docdb.Bound(f)
				} else {
					spec.Maximum = docdb.Bound(f)
				}
			}
		case "exclusiveMinimum":
			spec.ExclusiveMinimum, err = truthy(e.Value, epath)
		case "exclusiveMaximum":
			spec.ExclusiveMaximum, err = truthy(e.Value, epath)
		case "pattern":
			spec.Pattern, err = asString(e.Value, epath)
		case "required":
			var arr bson.A
			if arr, err = asArray(e.Value, epath); err == nil {
				for i, v := range arr {
					var name string
					if name, err = asString(v, join(epath, itoa(i))); err != nil {
						break
					}
					spec.Required = append(spec.Required, name)
				}
			}
		case "properties":
			var props bson.D
			if props, err = asDoc(e.Value, epath); err == nil {
				for _, p := range props {
					var pd bson.D
					if pd, err = asDoc(p.Value, join(epath, p.Key)); err != nil {
						break
					}
					var ps *docdb.FieldSpec
					if ps, err = parseFieldSpec(pd, join(epath, p.Key)); err != nil {
						break
					}
					spec.Properties = append(spec.Properties, docdb.Prop(p.Key, *ps))
				}
			}
		case "items":
			var id bson.D
			if id, err = asDoc(e.Value, epath); err == nil {
				spec.Items, err = parseFieldSpec(id, epath)
			}
		case "additionalProperties":
			var b bool
			if b, err = truthy(e.Value, epath); err == nil {
				spec.AdditionalProperties = &b
			}
		case "description":
			spec.Description, err = asString(e.Value, epath)
		case "title":
		default:
			err = errf(epath, "unsupported schema keyword")
		}
		if err != nil {
			return nil, err
		}
	}
	return spec, nil
}

// parseTypes accepts a type name or an array of names.
func parseTypes(v any, path string) ([]docdb.BSONType, error) {
	arr, ok := v.(bson.A)
	if !ok {
		arr = bson.A{v}
	}
	if len(arr) == 0 {
		return nil, errf(path, "no types")
	}
	types := make([]docdb.BSONType, 0, len(arr))
	for i, tv := range arr {
		tpath := path
		if ok {
			tpath = join(path, itoa(i))
		}
		name, err := asString(tv, tpath)
		if err != nil {
			return nil, err
		}
		t, err := docdb.ParseBSONType(name)
		if err != nil {
			return nil, wrapErr(tpath, err, "invalid type")
		}
		types = append(types, t)
	}
	return types, nil
}

func asFloat(v any, path string) (float64, error) {
	switch v := v.(type) {
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case float64:
		return v, nil
	}
	return 0, errf(path, "expected a number, got %s", describe(v))
}

// ParseValidationPolicy parses validationLevel and validationAction names.
// Empty names select strict and error.
func ParseValidationPolicy(level, action string) (docdb.ValidationPolicy, error) {
	var p docdb.ValidationPolicy
	var err error
	if p.Level, err = docdb.ParseValidationLevel(level); err != nil {
		return p, wrapErr("validationLevel", err, "invalid level")
	}
	if p.Action, err = docdb.ParseValidationAction(action); err != nil {
		return p, wrapErr("validationAction", err, "invalid action")
	}
	return p, nil
}
