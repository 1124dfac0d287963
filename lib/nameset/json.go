// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package nameset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/bureau-foundation/fleetcheck/lib/expr"
)

func newJSONModule() *module {
	return &module{name: "json", attrs: map[string]expr.Value{
		"loads": expr.NewBuiltin("loads", jsonLoads),
		"dumps": expr.NewBuiltin("dumps", jsonDumps),
	}}
}

func jsonLoads(_ *expr.Thread, args []expr.Value, kwargs []expr.Kwarg) (expr.Value, error) {
	a, err := bindArgs("loads", args, kwargs, "s")
	if err != nil {
		return nil, err
	}
	s, err := stringArg("loads", a["s"])
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var data any
	if err := dec.Decode(&data); err != nil {
		return nil, raise("JSONDecodeError", "%v", err)
	}
	if dec.More() {
		return nil, raise("JSONDecodeError", "extra data after value")
	}
	return expr.FromGo(data, false), nil
}

// jsonDumps encodes like Python's json.dumps: ", " and ": " separators,
// ASCII-only output, and optional indentation and key sorting.
func jsonDumps(th *expr.Thread, args []expr.Value, kwargs []expr.Kwarg) (expr.Value, error) {
	a, err := bindArgs("dumps", args, kwargs, "obj", "indent=", "sort_keys=")
	if err != nil {
		return nil, err
	}
	indent := -1
	if v, ok := a["indent"]; ok && v != nil {
		n, err := optionalInt("dumps", v)
		if err != nil {
			return nil, err
		}
		indent = int(n)
	}
	e := &jsonEncoder{th: th, indent: indent, sortKeys: expr.Truthy(a["sort_keys"])}
	if err := e.encode(a["obj"], 0); err != nil {
		return nil, err
	}
	return e.b.String(), nil
}

type jsonEncoder struct {
	th       *expr.Thread
	b        strings.Builder
	indent   int
	sortKeys bool
}

func (e *jsonEncoder) newline(depth int) {
	if e.indent < 0 {
		return
	}
	e.b.WriteByte('\n')
	e.b.WriteString(strings.Repeat(" ", e.indent*depth))
}

func (e *jsonEncoder) separator() string {
	if e.indent >= 0 {
		return ","
	}
	return ", "
}

func (e *jsonEncoder) encode(v expr.Value, depth int) error {
	if err := e.th.Tick(); err != nil {
		return err
	}
	if depth > 256 {
		return raise("RecursionError", "maximum recursion depth exceeded while encoding a JSON object")
	}
	switch v := v.(type) {
	case nil:
		e.b.WriteString("null")
	case bool:
		if v {
			e.b.WriteString("true")
		} else {
			e.b.WriteString("false")
		}
	case int64:
		fmt.Fprintf(&e.b, "%d", v)
	case float64:
		switch {
		case math.IsNaN(v):
			e.b.WriteString("NaN")
		case math.IsInf(v, 1):
			e.b.WriteString("Infinity")
		case math.IsInf(v, -1):
			e.b.WriteString("-Infinity")
		default:
			e.b.WriteString(expr.Repr(v))
		}
	case string:
		e.b.WriteString(quoteJSON(v))
	case *expr.List:
		return e.array(v.Items, depth)
	case expr.Tuple:
		return e.array(v, depth)
	case *expr.Dict:
		return e.object(v, depth)
	default:
		return raise("TypeError", "Object of type %s is not JSON serializable", expr.TypeName(v))
	}
	return nil
}

func (e *jsonEncoder) array(items []expr.Value, depth int) error {
	if len(items) == 0 {
		e.b.WriteString("[]")
		return nil
	}
	e.b.WriteByte('[')
	for i, item := range items {
		if i > 0 {
			e.b.WriteString(e.separator())
		}
		e.newline(depth + 1)
		if err := e.encode(item, depth+1); err != nil {
			return err
		}
	}
	e.newline(depth)
	e.b.WriteByte(']')
	return nil
}

func (e *jsonEncoder) object(d *expr.Dict, depth int) error {
	if d.Len() == 0 {
		e.b.WriteString("{}")
		return nil
	}
	type entry struct {
		key   string
		value expr.Value
	}
	var entries []entry
	err := d.Items(func(key, value expr.Value) error {
		switch k := key.(type) {
		case string:
			entries = append(entries, entry{k, value})
		case nil, bool, int64, float64:
			entries = append(entries, entry{jsonKey(k), value})
		default:
			return raise("TypeError", "keys must be str, int, float, bool or None, not %s", expr.TypeName(key))
		}
		return nil
	})
	if err != nil {
		return err
	}
	if e.sortKeys {
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].key < entries[j].key })
	}
	e.b.WriteByte('{')
	for i, ent := range entries {
		if i > 0 {
			e.b.WriteString(e.separator())
		}
		e.newline(depth + 1)
		e.b.WriteString(quoteJSON(ent.key))
		e.b.WriteString(": ")
		if err := e.encode(ent.value, depth+1); err != nil {
			return err
		}
	}
	e.newline(depth)
	e.b.WriteByte('}')
	return nil
}

func jsonKey(k expr.Value) string {
	switch k := k.(type) {
	case nil:
		return "null"
	case bool:
		if k {
			return "true"
		}
		return "false"
	}
	return expr.Str(k)
}

// quoteJSON quotes s with every non-ASCII rune escaped, as Python does
// with ensure_ascii.
func quoteJSON(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	quoted := strings.TrimSuffix(buf.String(), "\n")
	var b strings.Builder
	for _, r := range quoted {
		switch {
		case r < 128:
			b.WriteRune(r)
		case r > 0xFFFF:
			r -= 0x10000
			fmt.Fprintf(&b, `\u%04x\u%04x`, 0xD800+(r>>10), 0xDC00+(r&0x3FF))
		default:
			fmt.Fprintf(&b, `\u%04x`, r)
		}
	}
	return b.String()
}
