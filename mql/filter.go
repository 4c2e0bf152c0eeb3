package mql

import (
	"regexp"
	"strings"

	"github.com/oreline/docdb"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ParseFilter parses a query document such as
// {"status": "working", "hours": {"$gte": 1000}}. An empty input matches
// every document.
func ParseFilter(s string) (docdb.Filter, error) {
	d, err := parseRawDoc(s)
	if err != nil {
		return nil, err
	}
	return parseFilterDoc(d, "")
}

func parseFilterDoc(d bson.D, path string) (docdb.Filter, error) {
	var fs []docdb.Filter
	for _, e := range d {
		f, err := parseFilterEntry(e, path)
		if err != nil {
			return nil, err
		}
		fs = append(fs, f)
	}
	switch len(fs) {
	case 0:
		return docdb.All(), nil
	case 1:
		return fs[0], nil
	}
	return docdb.And(fs...), nil
}

func parseFilterEntry(e bson.E, path string) (docdb.Filter, error) {
	epath := join(path, e.Key)
	switch e.Key {
	case "$and", "$or", "$nor":
		arr, err := asArray(e.Value, epath)
		if err != nil {
			return nil, err
		}
		if len(arr) == 0 {
			return nil, errf(epath, "needs at least one clause")
		}
		subs := make([]docdb.Filter, len(arr))
		for i, v := range arr {
			ipath := join(epath, itoa(i))
			sub, err := asDoc(v, ipath)
			if err != nil {
				return nil, err
			}
			if subs[i], err = parseFilterDoc(sub, ipath); err != nil {
				return nil, err
			}
		}
		switch e.Key {
		case "$and":
			return docdb.And(subs...), nil
		case "$or":
			return docdb.Or(subs...), nil
		default:
			return docdb.Nor(subs...), nil
		}
	case "$not":
		// accepted at the top level too, as printed by docdb.FilterString
		sub, err := asDoc(e.Value, epath)
		if err != nil {
			return nil, err
		}
		f, err := parseFilterDoc(sub, epath)
		if err != nil {
			return nil, err
		}
		return docdb.Not(f), nil
	}
	if isOperator(e.Key) {
		return nil, errf(epath, "unknown top-level operator")
	}
	return parseFieldCondition(e.Key, e.Value, epath)
}

// parseFieldCondition parses the condition on one field: either a plain
// value for equality or a document of operators.
func parseFieldCondition(field string, v any, path string) (docdb.Filter, error) {
	switch v := v.(type) {
	case primitive.Regex:
		re, err := compileRegex(v.Pattern, v.Options, join(path, "$regex"))
		if err != nil {
			return nil, err
		}
		return docdb.Regex(field, re), nil
	case bson.D:
		if isOperatorDoc(v) {
			return parseOperators(field, v, path)
		}
	}
	val, err := toValue(v, path)
	if err != nil {
		return nil, err
	}
	return docdb.Eq(field, val), nil
}

func parseOperators(field string, ops bson.D, path string) (docdb.Filter, error) {
	var fs []docdb.Filter
	var regexOptions string
	for _, e := range ops {
		if e.Key == "$options" {
			s, err := asString(e.Value, join(path, e.Key))
			if err != nil {
				return nil, err
			}
			regexOptions = s
		}
	}
	for _, e := range ops {
		opath := join(path, e.Key)
		var f docdb.Filter
		switch e.Key {
		case "$eq", "$ne", "$gt", "$gte", "$lt", "$lte":
			val, err := toValue(e.Value, opath)
			if err != nil {
				return nil, err
			}
			f = comparison(e.Key, field, val)
		case "$in", "$nin", "$all":
			arr, err := asArray(e.Value, opath)
			if err != nil {
				return nil, err
			}
			vals, err := toArray(arr, opath)
			if err != nil {
				return nil, err
			}
			switch e.Key {
			case "$in":
				f = docdb.In(field, vals...)
			case "$nin":
				f = docdb.Nin(field, vals...)
			default:
				f = docdb.AllOf(field, vals...)
			}
		case "$exists":
			want, err := truthy(e.Value, opath)
			if err != nil {
				return nil, err
			}
			f = docdb.Exists(field, want)
		case "$regex":
			var pattern, options string
			switch rv := e.Value.(type) {
			case primitive.Regex:
				pattern, options = rv.Pattern, rv.Options
			case string:
				pattern = rv
			default:
				return nil, errf(opath, "expected a pattern, got %s", describe(e.Value))
			}
			if regexOptions != "" {
				options = regexOptions
			}
			re, err := compileRegex(pattern, options, opath)
			if err != nil {
				return nil, err
			}
			f = docdb.Regex(field, re)
		case "$options":
			continue
		case "$size":
			n, err := asInt(e.Value, opath)
			if err != nil {
				return nil, err
			}
			if n < 0 {
				return nil, errf(opath, "size cannot be negative")
			}
			f = docdb.Size(field, n)
		case "$elemMatch":
			sub, err := asDoc(e.Value, opath)
			if err != nil {
				return nil, err
			}
			elem, err := parseElemMatch(sub, opath)
			if err != nil {
				return nil, err
			}
			f = docdb.ElemMatch(field, elem)
		case "$not":
			var sub docdb.Filter
			var err error
			switch nv := e.Value.(type) {
			case primitive.Regex:
				var re *regexp.Regexp
				if re, err = compileRegex(nv.Pattern, nv.Options, opath); err == nil {
					sub = docdb.Regex(field, re)
				}
			case bson.D:
				if !isOperatorDoc(nv) {
					return nil, errf(opath, "expected operators")
				}
				sub, err = parseOperators(field, nv, opath)
			default:
				err = errf(opath, "expected operators, got %s", describe(e.Value))
			}
			if err != nil {
				return nil, err
			}
			f = docdb.Not(sub)
		default:
			return nil, errf(opath, "unknown operator")
		}
		fs = append(fs, f)
	}
	if len(fs) == 1 {
		return fs[0], nil
	}
	return docdb.And(fs...), nil
}

// parseElemMatch treats a document of bare operators as a condition on the
// array elements themselves, and anything else as a query over element
// documents.
func parseElemMatch(d bson.D, path string) (docdb.Filter, error) {
	if isOperatorDoc(d) && !hasLogical(d) {
		return parseOperators("", d, path)
	}
	return parseFilterDoc(d, path)
}

func hasLogical(d bson.D) bool {
	for _, e := range d {
		switch e.Key {
		case "$and", "$or", "$nor":
			return true
		}
	}
	return false
}

func comparison(op, field string, v any) docdb.Filter {
	switch op {
	case "$eq":
		return docdb.Eq(field, v)
	case "$ne":
		return docdb.Ne(field, v)
	case "$gt":
		return docdb.Gt(field, v)
	case "$gte":
		return docdb.Gte(field, v)
	case "$lt":
		return docdb.Lt(field, v)
	default:
		return docdb.Lte(field, v)
	}
}

// compileRegex maps Mongo regex options onto RE2 flags.
func compileRegex(pattern, options, path string) (*regexp.Regexp, error) {
	var flags strings.Builder
	for _, c := range options {
		switch c {
		case 'i', 'm', 's':
			flags.WriteRune(c)
		default:
			return nil, errf(path, "unsupported regex option %q", c)
		}
	}
	if flags.Len() > 0 {
		pattern = "(?" + flags.String() + ")" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, wrapErr(path, err, "invalid regex")
	}
	return re, nil
}
