package mql

import (
	"github.com/oreline/docdb"
	"go.mongodb.org/mongo-driver/bson"
)

// ParseUpdate parses an update document of operators, such as
// {"$inc": {"count": 1}, "$set": {"status": "idle"}}. Replacement documents
// are not supported.
func ParseUpdate(s string) ([]docdb.UpdateOp, error) {
	d, err := parseRawDoc(s)
	if err != nil {
		return nil, err
	}
	if len(d) == 0 {
		return nil, errf("", "empty update")
	}
	var ops []docdb.UpdateOp
	for _, e := range d {
		if !isOperator(e.Key) {
			return nil, errf(e.Key, "replacement documents are not supported")
		}
		fields, err := asDoc(e.Value, e.Key)
		if err != nil {
			return nil, err
		}
		for _, f := range fields {
			op, err := parseUpdateField(e.Key, f, join(e.Key, f.Key))
			if err != nil {
				return nil, err
			}
			ops = append(ops, op)
		}
	}
	return ops, nil
}

func parseUpdateField(op string, f bson.E, path string) (docdb.UpdateOp, error) {
	if op == "$unset" {
		return docdb.Unset(f.Key), nil
	}
	if op == "$push" {
		if d, ok := f.Value.(bson.D); ok && len(d) > 0 && d[0].Key == "$each" {
			return parsePushEach(f.Key, d, path)
		}
	}
	val, err := toValue(f.Value, path)
	if err != nil {
		return nil, err
	}
	switch op {
	case "$set":
		return docdb.Set(f.Key, val), nil
	case "$setOnInsert":
		return docdb.SetOnInsert(f.Key, val), nil
	case "$inc":
		switch val.(type) {
		case int64, float64:
		default:
			return nil, errf(path, "$inc needs a number")
		}
		return docdb.Inc(f.Key, val), nil
	case "$max":
		return docdb.Max(f.Key, val), nil
	case "$min":
		return docdb.Min(f.Key, val), nil
	case "$push":
		return docdb.Push(f.Key, val), nil
	}
	return nil, errf(op, "unknown update operator")
}

// parsePushEach parses {"$each": [...], "$sort": ..., "$slice": n}. $sort
// is either 1 or -1 to sort the elements, or a sort document for arrays of
// documents.
func parsePushEach(field string, d bson.D, path string) (docdb.UpdateOp, error) {
	var values []any
	var opt docdb.PushOptions
	for _, e := range d {
		epath := join(path, e.Key)
		switch e.Key {
		case "$each":
			arr, err := asArray(e.Value, epath)
			if err != nil {
				return nil, err
			}
			if values, err = toArray(arr, epath); err != nil {
				return nil, err
			}
		case "$slice":
			n, err := asInt(e.Value, epath)
			if err != nil {
				return nil, err
			}
			opt.Slice, opt.HasSlice = n, true
		case "$sort":
			if sd, ok := e.Value.(bson.D); ok {
				keys, err := parseSortDoc(sd, epath)
				if err != nil {
					return nil, err
				}
				opt.Sort = keys
			} else {
				desc, err := direction(e.Value, epath)
				if err != nil {
					return nil, err
				}
				opt.Sort = []docdb.SortKey{{Desc: desc}}
			}
		default:
			return nil, errf(epath, "unknown $push modifier")
		}
	}
	return docdb.PushEach(field, values, opt), nil
}
