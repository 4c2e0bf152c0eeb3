package mql

import (
	"github.com/oreline/docdb"
	"go.mongodb.org/mongo-driver/bson"
)

// ParseProjection parses a find projection such as {"name": 1, "_id": 0}.
// Mixing inclusions and exclusions other than of _id is left for the query
// engine to reject.
func ParseProjection(s string) (docdb.Projection, error) {
	var p docdb.Projection
	d, err := parseRawDoc(s)
	if err != nil {
		return p, err
	}
	var include, exclude []string
	var dropKey bool
	for _, e := range d {
		on, err := truthy(e.Value, e.Key)
		if err != nil {
			return p, err
		}
		switch {
		case e.Key == "_id" && !on:
			dropKey = true
		case e.Key == "_id":
		case on:
			include = append(include, e.Key)
		default:
			exclude = append(exclude, e.Key)
		}
	}
	if len(include) > 0 {
		p = p.Include(include...)
	}
	if len(exclude) > 0 {
		p = p.Exclude(exclude...)
	}
	if dropKey {
		p = p.ExcludeKey()
	}
	return p, nil
}

// parseProjectStage parses the fields of a $project stage, where values
// other than booleans and numbers are computed expressions.
func parseProjectStage(d bson.D, path string) (docdb.ProjectStage, error) {
	var st docdb.ProjectStage
	if len(d) == 0 {
		return st, errf(path, "empty projection")
	}
	for _, e := range d {
		epath := join(path, e.Key)
		switch e.Value.(type) {
		case bool, int32, int64, float64:
			on, _ := truthy(e.Value, epath)
			if on {
				st.Fields = append(st.Fields, docdb.Keep(e.Key))
			} else {
				st.Fields = append(st.Fields, docdb.Drop(e.Key))
			}
		default:
			x, err := parseExpr(e.Value, epath)
			if err != nil {
				return st, err
			}
			st.Fields = append(st.Fields, docdb.Computed(e.Key, x))
		}
	}
	return st, nil
}
