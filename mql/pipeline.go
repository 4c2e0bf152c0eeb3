package mql

import (
	"github.com/oreline/docdb"
	"go.mongodb.org/mongo-driver/bson"
)

// ParsePipeline parses an aggregation pipeline: an array of single-operator
// stage documents.
func ParsePipeline(s string) (docdb.Pipeline, error) {
	raw, err := parseRawArray(s)
	if err != nil {
		return nil, err
	}
	return parsePipeline(raw, "")
}

func parsePipeline(a bson.A, path string) (docdb.Pipeline, error) {
	p := make(docdb.Pipeline, 0, len(a))
	for i, v := range a {
		ipath := join(path, itoa(i))
		d, err := asDoc(v, ipath)
		if err != nil {
			return nil, err
		}
		if len(d) != 1 {
			return nil, errf(ipath, "a stage must have exactly one operator, got %d fields", len(d))
		}
		st, err := parseStage(d[0].Key, d[0].Value, join(ipath, d[0].Key))
		if err != nil {
			return nil, err
		}
		p = append(p, st)
	}
	return p, nil
}

func parseStage(op string, v any, path string) (docdb.Stage, error) {
	switch op {
	case "$match":
		d, err := asDoc(v, path)
		if err != nil {
			return nil, err
		}
		f, err := parseFilterDoc(d, path)
		if err != nil {
			return nil, err
		}
		return docdb.MatchStage{Filter: f}, nil
	case "$group":
		return parseGroup(v, path)
	case "$unwind":
		return parseUnwind(v, path)
	case "$lookup":
		return parseLookup(v, path)
	case "$bucket":
		return parseBucket(v, path)
	case "$facet":
		return parseFacet(v, path)
	case "$project":
		d, err := asDoc(v, path)
		if err != nil {
			return nil, err
		}
		return parseProjectStage(d, path)
	case "$addFields", "$set":
		d, err := asDoc(v, path)
		if err != nil {
			return nil, err
		}
		var st docdb.AddFieldsStage
		for _, e := range d {
			x, err := parseExpr(e.Value, join(path, e.Key))
			if err != nil {
				return nil, err
			}
			st.Fields = append(st.Fields, docdb.ExprField{Path: e.Key, Expr: x})
		}
		return st, nil
	case "$sort":
		d, err := asDoc(v, path)
		if err != nil {
			return nil, err
		}
		keys, err := parseSortDoc(d, path)
		if err != nil {
			return nil, err
		}
		return docdb.SortStage{Keys: keys}, nil
	case "$limit", "$skip":
		n, err := asInt(v, path)
		if err != nil {
			return nil, err
		}
		if op == "$limit" {
			return docdb.LimitStage{N: n}, nil
		}
		return docdb.SkipStage{N: n}, nil
	case "$count":
		name, err := asString(v, path)
		if err != nil {
			return nil, err
		}
		return docdb.CountStage{Field: name}, nil
	}
	return nil, errf(path, "unknown stage")
}

func parseGroup(v any, path string) (docdb.Stage, error) {
	d, err := asDoc(v, path)
	if err != nil {
		return nil, err
	}
	var st docdb.GroupStage
	var hasKey bool
	for _, e := range d {
		epath := join(path, e.Key)
		if e.Key == "_id" {
			if st.Key, err = parseExpr(e.Value, epath); err != nil {
				return nil, err
			}
			hasKey = true
			continue
		}
		acc, err := parseAccumulator(e.Value, epath)
		if err != nil {
			return nil, err
		}
		st.Fields = append(st.Fields, docdb.GroupField{Name: e.Key, Acc: acc})
	}
	if !hasKey {
		return nil, errf(path, "missing _id")
	}
	return st, nil
}

func parseGroupOutput(v any, path string) ([]docdb.GroupField, error) {
	d, err := asDoc(v, path)
	if err != nil {
		return nil, err
	}
	out := make([]docdb.GroupField, 0, len(d))
	for _, e := range d {
		acc, err := parseAccumulator(e.Value, join(path, e.Key))
		if err != nil {
			return nil, err
		}
		out = append(out, docdb.GroupField{Name: e.Key, Acc: acc})
	}
	return out, nil
}

// parseUnwind accepts "$path" or the document form.
func parseUnwind(v any, path string) (docdb.Stage, error) {
	if s, ok := v.(string); ok {
		return docdb.UnwindStage{Path: s}, nil
	}
	d, err := asDoc(v, path)
	if err != nil {
		return nil, err
	}
	var st docdb.UnwindStage
	for _, e := range d {
		epath := join(path, e.Key)
		switch e.Key {
		case "path":
			st.Path, err = asString(e.Value, epath)
		case "preserveNullAndEmptyArrays":
			st.PreserveNullAndEmpty, err = truthy(e.Value, epath)
		case "includeArrayIndex":
			st.IncludeArrayIndex, err = asString(e.Value, epath)
		default:
			err = errf(epath, "unknown $unwind field")
		}
		if err != nil {
			return nil, err
		}
	}
	return st, nil
}

func parseLookup(v any, path string) (docdb.Stage, error) {
	d, err := asDoc(v, path)
	if err != nil {
		return nil, err
	}
	var st docdb.LookupStage
	for _, e := range d {
		epath := join(path, e.Key)
		var s string
		if s, err = asString(e.Value, epath); err != nil {
			return nil, err
		}
		switch e.Key {
		case "from":
			st.From = s
		case "localField":
			st.LocalField = s
		case "foreignField":
			st.ForeignField = s
		case "as":
			st.As = s
		default:
			return nil, errf(epath, "unknown $lookup field")
		}
	}
	if st.From == "" || st.LocalField == "" || st.ForeignField == "" || st.As == "" {
		return nil, errf(path, "needs from, localField, foreignField and as")
	}
	return st, nil
}

func parseBucket(v any, path string) (docdb.Stage, error) {
	d, err := asDoc(v, path)
	if err != nil {
		return nil, err
	}
	var st docdb.BucketStage
	for _, e := range d {
		epath := join(path, e.Key)
		switch e.Key {
		case "groupBy":
			st.GroupBy, err = parseExpr(e.Value, epath)
		case "boundaries":
			var arr bson.A
			if arr, err = asArray(e.Value, epath); err == nil {
				st.Boundaries, err = toArray(arr, epath)
			}
		case "default":
			st.Default, err = toValue(e.Value, epath)
			st.HasDefault = true
		case "output":
			st.Output, err = parseGroupOutput(e.Value, epath)
		default:
			err = errf(epath, "unknown $bucket field")
		}
		if err != nil {
			return nil, err
		}
	}
	if st.GroupBy == nil {
		return nil, errf(path, "missing groupBy")
	}
	return st, nil
}

func parseFacet(v any, path string) (docdb.Stage, error) {
	d, err := asDoc(v, path)
	if err != nil {
		return nil, err
	}
	var st docdb.FacetStage
	for _, e := range d {
		epath := join(path, e.Key)
		arr, err := asArray(e.Value, epath)
		if err != nil {
			return nil, err
		}
		sub, err := parsePipeline(arr, epath)
		if err != nil {
			return nil, err
		}
		st.Facets = append(st.Facets, docdb.Facet{Name: e.Key, Pipeline: sub})
	}
	return st, nil
}
