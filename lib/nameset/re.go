// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package nameset

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dlclark/regexp2"

	"github.com/bureau-foundation/fleetcheck/lib/expr"
)

// regexTimeout bounds a single match so that a pathological pattern
// cannot stall a worker.
const regexTimeout = time.Second

// Python flag values, so that re.I | re.M works as in Python.
const (
	flagIgnoreCase = 2
	flagMultiline  = 8
	flagDotAll     = 16
	flagVerbose    = 64
)

type patternKey struct {
	source string
	flags  int64
}

var patternCache sync.Map // patternKey -> *pattern

// pattern is a compiled regular expression. anchored and full are the
// same expression wrapped for match() and fullmatch().
type pattern struct {
	source   string
	flags    int64
	search   *regexp2.Regexp
	anchored *regexp2.Regexp
	full     *regexp2.Regexp
}

func compileRegex(source string, flags int64) (*pattern, error) {
	key := patternKey{source, flags}
	if p, ok := patternCache.Load(key); ok {
		return p.(*pattern), nil
	}
	options := regexp2.RegexOptions(regexp2.RE2)
	if flags&flagIgnoreCase != 0 {
		options |= regexp2.IgnoreCase
	}
	if flags&flagMultiline != 0 {
		options |= regexp2.Multiline
	}
	if flags&flagDotAll != 0 {
		options |= regexp2.Singleline
	}
	if flags&flagVerbose != 0 {
		options |= regexp2.IgnorePatternWhitespace
	}
	p := &pattern{source: source, flags: flags}
	for _, c := range []struct {
		dst  **regexp2.Regexp
		expr string
	}{
		{&p.search, source},
		{&p.anchored, `\G(?:` + source + `)`},
		{&p.full, `\G(?:` + source + `)\z`},
	} {
		re, err := regexp2.Compile(c.expr, options)
		if err != nil {
			return nil, raise("re.error", "%v", err)
		}
		re.MatchTimeout = regexTimeout
		*c.dst = re
	}
	patternCache.Store(key, p)
	return p, nil
}

func (p *pattern) TypeName() string { return "re.Pattern" }

func (p *pattern) String() string { return "re.compile(" + expr.Repr(p.source) + ")" }

func (p *pattern) Attr(name string) (expr.Value, error) {
	switch name {
	case "pattern":
		return p.source, nil
	case "flags":
		return p.flags, nil
	case "groups":
		return int64(len(p.search.GetGroupNumbers()) - 1), nil
	case "search", "match", "fullmatch", "findall", "finditer", "sub", "subn", "split":
		return patternMethod(name, p), nil
	}
	return nil, expr.ErrNoAttribute
}

// patternMethod returns the bound form of a module-level re function:
// p.search(string) is re.search(p, string).
func patternMethod(name string, p *pattern) *expr.Builtin {
	fn := reFunctions[name]
	return expr.NewBuiltin(name, func(th *expr.Thread, args []expr.Value, kwargs []expr.Kwarg) (expr.Value, error) {
		return fn(th, append([]expr.Value{p}, args...), kwargs)
	})
}

var reFunctions map[string]func(*expr.Thread, []expr.Value, []expr.Kwarg) (expr.Value, error)

func init() {
	reFunctions = map[string]func(*expr.Thread, []expr.Value, []expr.Kwarg) (expr.Value, error){
		"search":    matcher("search", func(p *pattern) *regexp2.Regexp { return p.search }),
		"match":     matcher("match", func(p *pattern) *regexp2.Regexp { return p.anchored }),
		"fullmatch": matcher("fullmatch", func(p *pattern) *regexp2.Regexp { return p.full }),
		"findall":   reFindall,
		"finditer":  reFinditer,
		"sub":       reSub("sub", false),
		"subn":      reSub("subn", true),
		"split":     reSplit,
	}
}

func newReModule() *module {
	attrs := map[string]expr.Value{
		"compile":    expr.NewBuiltin("compile", reCompile),
		"escape":     expr.NewBuiltin("escape", reEscape),
		"I":          int64(flagIgnoreCase),
		"IGNORECASE": int64(flagIgnoreCase),
		"M":          int64(flagMultiline),
		"MULTILINE":  int64(flagMultiline),
		"S":          int64(flagDotAll),
		"DOTALL":     int64(flagDotAll),
		"X":          int64(flagVerbose),
		"VERBOSE":    int64(flagVerbose),
	}
	for name, fn := range reFunctions {
		attrs[name] = expr.NewBuiltin(name, fn)
	}
	return &module{name: "re", attrs: attrs}
}

// patternArg resolves the pattern argument, which may be a string or a
// compiled pattern, applying the flags keyword or positional argument.
func patternArg(fn string, v expr.Value, flags expr.Value) (*pattern, error) {
	var n int64
	if flags != nil {
		var ok bool
		if n, ok = flags.(int64); !ok {
			return nil, raise("TypeError", "%s() flags must be int, not %s", fn, expr.TypeName(flags))
		}
	}
	switch v := v.(type) {
	case *pattern:
		if n != 0 {
			return nil, raise("ValueError", "cannot process flags argument with a compiled pattern")
		}
		return v, nil
	case string:
		return compileRegex(v, n)
	}
	return nil, raise("TypeError", "first argument must be string or compiled pattern, not %s", expr.TypeName(v))
}

func reCompile(_ *expr.Thread, args []expr.Value, kwargs []expr.Kwarg) (expr.Value, error) {
	a, err := bindArgs("compile", args, kwargs, "pattern", "flags=")
	if err != nil {
		return nil, err
	}
	return patternArg("compile", a["pattern"], a["flags"])
}

func reEscape(_ *expr.Thread, args []expr.Value, kwargs []expr.Kwarg) (expr.Value, error) {
	a, err := bindArgs("escape", args, kwargs, "pattern")
	if err != nil {
		return nil, err
	}
	s, err := stringArg("escape", a["pattern"])
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	for _, r := range s {
		if r < 128 && !isWordRune(r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String(), nil
}

func isWordRune(r rune) bool {
	return r == '_' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func matcher(fn string, pick func(*pattern) *regexp2.Regexp) func(*expr.Thread, []expr.Value, []expr.Kwarg) (expr.Value, error) {
	return func(_ *expr.Thread, args []expr.Value, kwargs []expr.Kwarg) (expr.Value, error) {
		a, err := bindArgs(fn, args, kwargs, "pattern", "string", "flags=")
		if err != nil {
			return nil, err
		}
		p, err := patternArg(fn, a["pattern"], a["flags"])
		if err != nil {
			return nil, err
		}
		s, err := stringArg(fn, a["string"])
		if err != nil {
			return nil, err
		}
		m, err := pick(p).FindStringMatch(s)
		if err != nil {
			return nil, raise("re.error", "%v", err)
		}
		if m == nil {
			return nil, nil
		}
		return &match{pattern: p, m: m, input: s}, nil
	}
}

// eachMatch calls fn for successive non-overlapping matches.
func eachMatch(th *expr.Thread, p *pattern, s string, limit int, fn func(*regexp2.Match) error) error {
	m, err := p.search.FindStringMatch(s)
	for n := 0; m != nil && err == nil; n++ {
		if limit > 0 && n >= limit {
			return nil
		}
		if err := th.Tick(); err != nil {
			return err
		}
		if err := fn(m); err != nil {
			return err
		}
		m, err = p.search.FindNextMatch(m)
	}
	if err != nil {
		return raise("re.error", "%v", err)
	}
	return nil
}

func reFindall(th *expr.Thread, args []expr.Value, kwargs []expr.Kwarg) (expr.Value, error) {
	a, err := bindArgs("findall", args, kwargs, "pattern", "string", "flags=")
	if err != nil {
		return nil, err
	}
	p, err := patternArg("findall", a["pattern"], a["flags"])
	if err != nil {
		return nil, err
	}
	s, err := stringArg("findall", a["string"])
	if err != nil {
		return nil, err
	}
	var out []expr.Value
	err = eachMatch(th, p, s, 0, func(m *regexp2.Match) error {
		groups := m.Groups()[1:]
		switch len(groups) {
		case 0:
			out = append(out, m.String())
		case 1:
			out = append(out, groups[0].String())
		default:
			items := make(expr.Tuple, len(groups))
			for i := range groups {
				items[i] = groups[i].String()
			}
			out = append(out, items)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return expr.NewList(out...), nil
}

func reFinditer(th *expr.Thread, args []expr.Value, kwargs []expr.Kwarg) (expr.Value, error) {
	a, err := bindArgs("finditer", args, kwargs, "pattern", "string", "flags=")
	if err != nil {
		return nil, err
	}
	p, err := patternArg("finditer", a["pattern"], a["flags"])
	if err != nil {
		return nil, err
	}
	s, err := stringArg("finditer", a["string"])
	if err != nil {
		return nil, err
	}
	var out []expr.Value
	err = eachMatch(th, p, s, 0, func(m *regexp2.Match) error {
		out = append(out, &match{pattern: p, m: m, input: s})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return expr.NewList(out...), nil
}

func reSub(fn string, withCount bool) func(*expr.Thread, []expr.Value, []expr.Kwarg) (expr.Value, error) {
	return func(th *expr.Thread, args []expr.Value, kwargs []expr.Kwarg) (expr.Value, error) {
		a, err := bindArgs(fn, args, kwargs, "pattern", "repl", "string", "count=", "flags=")
		if err != nil {
			return nil, err
		}
		p, err := patternArg(fn, a["pattern"], a["flags"])
		if err != nil {
			return nil, err
		}
		s, err := stringArg(fn, a["string"])
		if err != nil {
			return nil, err
		}
		limit, err := optionalInt(fn, a["count"])
		if err != nil {
			return nil, err
		}
		repl := a["repl"]
		if _, ok := repl.(string); !ok {
			if _, ok := repl.(expr.Callable); !ok {
				return nil, raise("TypeError", "%s() repl must be str or callable, not %s", fn, expr.TypeName(repl))
			}
		}
		runes := []rune(s)
		var b strings.Builder
		last, n := 0, 0
		err = eachMatch(th, p, s, int(limit), func(m *regexp2.Match) error {
			b.WriteString(string(runes[last:m.Index]))
			var replacement string
			switch r := repl.(type) {
			case string:
				expanded, err := expandTemplate(r, m)
				if err != nil {
					return err
				}
				replacement = expanded
			case expr.Callable:
				v, err := th.Call(r, &match{pattern: p, m: m, input: s})
				if err != nil {
					return err
				}
				str, ok := v.(string)
				if !ok {
					return raise("TypeError", "expected str instance, %s found", expr.TypeName(v))
				}
				replacement = str
			}
			b.WriteString(replacement)
			last = m.Index + m.Length
			n++
			return nil
		})
		if err != nil {
			return nil, err
		}
		b.WriteString(string(runes[last:]))
		if withCount {
			return expr.Tuple{b.String(), int64(n)}, nil
		}
		return b.String(), nil
	}
}

// expandTemplate substitutes \1, \g<1> and \g<name> references in a
// Python replacement template.
func expandTemplate(template string, m *regexp2.Match) (string, error) {
	group := func(ref string) (string, error) {
		var g *regexp2.Group
		if n, err := strconv.Atoi(ref); err == nil {
			g = m.GroupByNumber(n)
		} else {
			g = m.GroupByName(ref)
		}
		if g == nil {
			return "", raise("re.error", "invalid group reference %s", ref)
		}
		return g.String(), nil
	}
	var b strings.Builder
	for i := 0; i < len(template); i++ {
		c := template[i]
		if c != '\\' || i+1 == len(template) {
			b.WriteByte(c)
			continue
		}
		i++
		switch next := template[i]; {
		case next >= '0' && next <= '9':
			j := i + 1
			if j < len(template) && template[j] >= '0' && template[j] <= '9' {
				j++
			}
			text, err := group(template[i:j])
			if err != nil {
				return "", err
			}
			b.WriteString(text)
			i = j - 1
		case next == 'g' && i+1 < len(template) && template[i+1] == '<':
			end := strings.IndexByte(template[i:], '>')
			if end < 0 {
				return "", raise("re.error", "missing >, unterminated name")
			}
			text, err := group(template[i+2 : i+end])
			if err != nil {
				return "", err
			}
			b.WriteString(text)
			i += end
		case next == 'n':
			b.WriteByte('\n')
		case next == 't':
			b.WriteByte('\t')
		case next == '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte('\\')
			b.WriteByte(next)
		}
	}
	return b.String(), nil
}

func reSplit(th *expr.Thread, args []expr.Value, kwargs []expr.Kwarg) (expr.Value, error) {
	a, err := bindArgs("split", args, kwargs, "pattern", "string", "maxsplit=", "flags=")
	if err != nil {
		return nil, err
	}
	p, err := patternArg("split", a["pattern"], a["flags"])
	if err != nil {
		return nil, err
	}
	s, err := stringArg("split", a["string"])
	if err != nil {
		return nil, err
	}
	limit, err := optionalInt("split", a["maxsplit"])
	if err != nil {
		return nil, err
	}
	runes := []rune(s)
	var out []expr.Value
	last := 0
	err = eachMatch(th, p, s, int(limit), func(m *regexp2.Match) error {
		out = append(out, string(runes[last:m.Index]))
		for _, g := range m.Groups()[1:] {
			if len(g.Captures) == 0 {
				out = append(out, nil)
			} else {
				out = append(out, g.String())
			}
		}
		last = m.Index + m.Length
		return nil
	})
	if err != nil {
		return nil, err
	}
	out = append(out, string(runes[last:]))
	return expr.NewList(out...), nil
}

// match is the result of a successful search, match or fullmatch.
type match struct {
	pattern *pattern
	m       *regexp2.Match
	input   string
}

func (m *match) TypeName() string { return "re.Match" }

func (m *match) String() string {
	return "<re.Match object; span=(" + strconv.Itoa(m.m.Index) + ", " +
		strconv.Itoa(m.m.Index+m.m.Length) + "), match=" + expr.Repr(m.m.String()) + ">"
}

// group resolves a group by number or name. Groups that did not
// participate in the match yield None.
func (m *match) group(ref expr.Value) (*regexp2.Group, error) {
	var g *regexp2.Group
	switch ref := ref.(type) {
	case int64:
		g = m.m.GroupByNumber(int(ref))
	case string:
		g = m.m.GroupByName(ref)
	default:
		return nil, raise("IndexError", "no such group")
	}
	if g == nil {
		return nil, raise("IndexError", "no such group")
	}
	return g, nil
}

func groupValue(g *regexp2.Group, fallback expr.Value) expr.Value {
	if len(g.Captures) == 0 {
		return fallback
	}
	return g.String()
}

func (m *match) Index(key expr.Value) (expr.Value, error) {
	g, err := m.group(key)
	if err != nil {
		return nil, err
	}
	return groupValue(g, nil), nil
}

func (m *match) Attr(name string) (expr.Value, error) {
	switch name {
	case "string":
		return m.input, nil
	case "re":
		return m.pattern, nil
	case "pos":
		return int64(0), nil
	case "lastindex":
		var last expr.Value
		for i, g := range m.m.Groups() {
			if i > 0 && len(g.Captures) > 0 {
				last = int64(i)
			}
		}
		return last, nil
	}
	method := func(fn func(args []expr.Value, kwargs []expr.Kwarg) (expr.Value, error)) *expr.Builtin {
		return expr.NewBuiltin(name, func(_ *expr.Thread, args []expr.Value, kwargs []expr.Kwarg) (expr.Value, error) {
			return fn(args, kwargs)
		})
	}
	switch name {
	case "group":
		return method(func(args []expr.Value, kwargs []expr.Kwarg) (expr.Value, error) {
			if len(kwargs) > 0 {
				return nil, raise("TypeError", "group() takes no keyword arguments")
			}
			if len(args) == 0 {
				args = []expr.Value{int64(0)}
			}
			values := make(expr.Tuple, len(args))
			for i, ref := range args {
				g, err := m.group(ref)
				if err != nil {
					return nil, err
				}
				values[i] = groupValue(g, nil)
			}
			if len(values) == 1 {
				return values[0], nil
			}
			return values, nil
		}), nil
	case "groups":
		return method(func(args []expr.Value, kwargs []expr.Kwarg) (expr.Value, error) {
			a, err := bindArgs("groups", args, kwargs, "default=")
			if err != nil {
				return nil, err
			}
			groups := m.m.Groups()[1:]
			values := make(expr.Tuple, len(groups))
			for i := range groups {
				values[i] = groupValue(&groups[i], a["default"])
			}
			return values, nil
		}), nil
	case "groupdict":
		return method(func(args []expr.Value, kwargs []expr.Kwarg) (expr.Value, error) {
			a, err := bindArgs("groupdict", args, kwargs, "default=")
			if err != nil {
				return nil, err
			}
			out := expr.NewDict()
			for _, g := range m.m.Groups()[1:] {
				if _, err := strconv.Atoi(g.Name); err == nil {
					continue
				}
				out.SetString(g.Name, groupValue(&g, a["default"]))
			}
			return out, nil
		}), nil
	case "start", "end", "span":
		return method(func(args []expr.Value, kwargs []expr.Kwarg) (expr.Value, error) {
			a, err := bindArgs(name, args, kwargs, "group=")
			if err != nil {
				return nil, err
			}
			ref := a["group"]
			if ref == nil {
				ref = int64(0)
			}
			g, err := m.group(ref)
			if err != nil {
				return nil, err
			}
			start, end := int64(-1), int64(-1)
			if len(g.Captures) > 0 {
				start, end = int64(g.Index), int64(g.Index+g.Length)
			}
			switch name {
			case "start":
				return start, nil
			case "end":
				return end, nil
			}
			return expr.Tuple{start, end}, nil
		}), nil
	}
	return nil, expr.ErrNoAttribute
}
