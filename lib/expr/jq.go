// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package expr

import (
	"math/big"
	"sort"
	"sync"

	"github.com/itchyny/gojq"
)

// jqPrelude defines helpers available to every query. mkarr(path)
// wraps a non-array value at path in an array; mknum(path) converts
// numeric strings below path into numbers.
const jqPrelude = `def mkarr(f): if (f|type) == "array" then . else f |= [.] end;
def mknum(f): f |= walk(if type == "string" then (tonumber? // .) else . end);
`

var jqCache sync.Map // query string -> *gojq.Code

func compileJQ(query string) (*gojq.Code, error) {
	if code, ok := jqCache.Load(query); ok {
		return code.(*gojq.Code), nil
	}
	parsed, err := gojq.Parse(jqPrelude + query)
	if err != nil {
		return nil, errorf("JQError", "parse %q: %v", query, err)
	}
	code, err := gojq.Compile(parsed)
	if err != nil {
		return nil, errorf("JQError", "compile %q: %v", query, err)
	}
	jqCache.Store(query, code)
	return code, nil
}

// runJQ runs query against data, stopping after limit results when
// limit is positive.
func runJQ(th *Thread, query string, data Value, limit int) ([]Value, error) {
	code, err := compileJQ(query)
	if err != nil {
		return nil, err
	}
	iter := code.RunWithContext(th.Context(), ToGo(data))
	var results []Value
	for {
		v, ok := iter.Next()
		if !ok {
			return results, nil
		}
		if err, isErr := v.(error); isErr {
			if haltErr, isHalt := err.(*gojq.HaltError); isHalt && haltErr.Value() == nil {
				return results, nil
			}
			if isContextError(err) {
				return nil, err
			}
			return nil, errorf("JQError", "%s: %v", query, err)
		}
		if err := th.tick(); err != nil {
			return nil, err
		}
		results = append(results, fromJQ(v))
		if len(results) >= MaxCollectionLength {
			return nil, tooLong()
		}
		if limit > 0 && len(results) >= limit {
			return results, nil
		}
	}
}

func fromJQ(v any) Value {
	switch v := v.(type) {
	case *big.Int:
		if v.IsInt64() {
			return v.Int64()
		}
		f, _ := new(big.Float).SetInt(v).Float64()
		return f
	case []any:
		items := make([]Value, len(v))
		for i, item := range v {
			items[i] = fromJQ(item)
		}
		return NewList(items...)
	case map[string]any:
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		dict := NewDict()
		for _, key := range keys {
			dict.SetString(key, fromJQ(v[key]))
		}
		return dict
	}
	return FromGo(v, false)
}

func jqArgs(name string, args []Value, kwargs []Kwarg) (string, Value, error) {
	if err := arity(name, args, kwargs, 2, 2); err != nil {
		return "", nil, err
	}
	query, ok := args[0].(string)
	if !ok {
		return "", nil, errorf("TypeError", "%s() query must be str, not %s", name, TypeName(args[0]))
	}
	return query, args[1], nil
}

// JQ returns the jq function: jq(query, data) evaluates a jq query and
// returns a list of every result, and jq.first(query, data) returns the
// first result or None.
func JQ() *Builtin {
	first := NewBuiltin("first", func(th *Thread, args []Value, kwargs []Kwarg) (Value, error) {
		query, data, err := jqArgs("jq.first", args, kwargs)
		if err != nil {
			return nil, err
		}
		results, err := runJQ(th, query, data, 1)
		if err != nil || len(results) == 0 {
			return nil, err
		}
		return results[0], nil
	})
	return NewBuiltin("jq", func(th *Thread, args []Value, kwargs []Kwarg) (Value, error) {
		query, data, err := jqArgs("jq", args, kwargs)
		if err != nil {
			return nil, err
		}
		results, err := runJQ(th, query, data, 0)
		if err != nil {
			return nil, err
		}
		return NewList(results...), nil
	}).WithAttr("first", first)
}
