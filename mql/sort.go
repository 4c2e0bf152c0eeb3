package mql

import (
	"github.com/oreline/docdb"
	"go.mongodb.org/mongo-driver/bson"
)

// ParseSort parses a sort document such as {"site": 1, "hours": -1}.
func ParseSort(s string) ([]docdb.SortKey, error) {
	d, err := parseRawDoc(s)
	if err != nil {
		return nil, err
	}
	return parseSortDoc(d, "")
}

func parseSortDoc(d bson.D, path string) ([]docdb.SortKey, error) {
	if len(d) == 0 {
		return nil, errf(path, "empty sort")
	}
	keys := make([]docdb.SortKey, 0, len(d))
	for _, e := range d {
		desc, err := direction(e.Value, join(path, e.Key))
		if err != nil {
			return nil, err
		}
		keys = append(keys, docdb.SortKey{Path: e.Key, Desc: desc})
	}
	return keys, nil
}

// ParseIndexKeys parses an index key document such as
// {"mine._id": 1, "status": 1}.
func ParseIndexKeys(s string) ([]docdb.IndexKey, error) {
	d, err := parseRawDoc(s)
	if err != nil {
		return nil, err
	}
	if len(d) == 0 {
		return nil, errf("", "no index keys")
	}
	keys := make([]docdb.IndexKey, 0, len(d))
	for _, e := range d {
		desc, err := direction(e.Value, e.Key)
		if err != nil {
			return nil, err
		}
		keys = append(keys, docdb.IndexKey{Path: e.Key, Desc: desc})
	}
	return keys, nil
}

// direction reports whether v, which must be 1 or -1, means descending.
func direction(v any, path string) (bool, error) {
	n, err := asInt(v, path)
	if err != nil {
		return false, err
	}
	switch n {
	case 1:
		return false, nil
	case -1:
		return true, nil
	}
	return false, errf(path, "direction must be 1 or -1")
}
