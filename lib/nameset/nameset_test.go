// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package nameset

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/bureau-foundation/fleetcheck/lib/expr"
)

func lines(l ...string) string { return strings.Join(l, "\n") }

func TestValidate(t *testing.T) {
	valid := lines(
		"import re",
		"from json import loads",
		"",
		"__all__ = ['f']",
		"",
		"def f(x):",
		"    return x",
		"",
		"class C:",
		"    pass",
	)
	if err := Validate(valid); err != nil {
		t.Fatalf("Validate(valid): %v", err)
	}

	tests := []struct {
		name   string
		source string
		want   string
	}{
		{"missing __all__", "def f(): pass", "__all__ must be defined"},
		{"other assignment", "__all__ = []\nx = 1", "assignments besides '__all__'"},
		{"double __all__", "__all__ = []\n__all__ = ['f']", "assigned 2 times"},
		{"expression", "__all__ = []\nprint(1)", "only 'import'"},
		{"if", "__all__ = []\nif True:\n    pass", "only 'import'"},
		{"syntax", "def f(:\n    pass", "SyntaxError"},
	}
	for _, test := range tests {
		err := Validate(test.source)
		if err == nil || !strings.Contains(err.Error(), test.want) {
			t.Errorf("%s: Validate error = %v, want containing %q", test.name, err, test.want)
		}
	}
}

func extract(t *testing.T, source string, globals map[string]expr.Value) map[string]expr.Callable {
	t.Helper()
	functions, err := Extract(context.Background(), source, globals)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	return functions
}

// eval evaluates expression and returns its value, captured through a
// host function wrapped around it.
func eval(t *testing.T, expression string, names map[string]expr.Value, functions map[string]expr.Callable) expr.Value {
	t.Helper()
	var got expr.Value
	all := map[string]expr.Callable{
		"capture": expr.NewBuiltin("capture", func(_ *expr.Thread, args []expr.Value, _ []expr.Kwarg) (expr.Value, error) {
			got = args[0]
			return true, nil
		}),
	}
	for name, fn := range functions {
		all[name] = fn
	}
	passed, _, err := expr.Evaluate(context.Background(), "capture("+expression+")", names, all, 0)
	if err != nil {
		t.Fatalf("Evaluate(%q): %v", expression, err)
	}
	if !passed {
		t.Fatalf("Evaluate(%q) did not pass", expression)
	}
	return got
}

func TestExtract(t *testing.T) {
	source := lines(
		"import re",
		"",
		"__all__ = ['interface_names', 'Counter', 'helper_constant', 'missing']",
		"",
		"helper_constant = 1",
		"",
		"def _is_physical(name):",
		"    return re.match(r'eth\\d+$', name) is not None",
		"",
		"def interface_names(config, physical=True):",
		"    '''Names of interfaces, optionally only physical ones.'''",
		"    names = []",
		"    for iface in config['interfaces']:",
		"        if physical and not _is_physical(iface['name']):",
		"            continue",
		"        names.append(iface['name'])",
		"    return names",
		"",
		"class Counter:",
		"    start = 10",
		"    def __init__(self, step):",
		"        self.value = self.start",
		"        self.step = step",
		"    def next(self):",
		"        self.value += self.step",
		"        return self.value",
	)
	// helper_constant is assigned at top level, which Validate rejects.
	if _, err := Extract(context.Background(), source, nil); err == nil {
		t.Fatal("Extract accepted a top-level assignment")
	}
	source = strings.Replace(source, "helper_constant = 1\n", "", 1)
	functions := extract(t, source, nil)

	if len(functions) != 2 || functions["interface_names"] == nil || functions["Counter"] == nil {
		t.Fatalf("exported functions = %v, want interface_names and Counter", functions)
	}

	config := expr.FromGo(map[string]any{
		"interfaces": []any{
			map[string]any{"name": "eth0"},
			map[string]any{"name": "lo"},
			map[string]any{"name": "eth1"},
		},
	}, true)
	names := map[string]expr.Value{"config": config}
	got := eval(t, "interface_names(config)", names, functions)
	if diff := cmp.Diff([]any{"eth0", "eth1"}, expr.ToGo(got)); diff != "" {
		t.Errorf("interface_names(config) mismatch (-want +got):\n%s", diff)
	}
	got = eval(t, "interface_names(config, physical=False)", names, functions)
	if diff := cmp.Diff([]any{"eth0", "lo", "eth1"}, expr.ToGo(got)); diff != "" {
		t.Errorf("interface_names(config, physical=False) mismatch (-want +got):\n%s", diff)
	}

	got = eval(t, "[c.next() for c in [Counter(5)] for _ in range(3)]", nil, functions)
	if diff := cmp.Diff([]any{15, 20, 25}, expr.ToGo(got)); diff != "" {
		t.Errorf("Counter mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractGlobals(t *testing.T) {
	default1 := expr.NewBuiltin("double", func(_ *expr.Thread, args []expr.Value, _ []expr.Kwarg) (expr.Value, error) {
		return args[0].(int64) * 2, nil
	})
	source := lines(
		"__all__ = ('quadruple',)",
		"def quadruple(x):",
		"    return double(double(x))",
	)
	functions := extract(t, source, map[string]expr.Value{"double": default1})
	if got := eval(t, "quadruple(3)", nil, functions); got != int64(12) {
		t.Fatalf("quadruple(3) = %v, want 12", got)
	}
}

func TestExtractErrors(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   string
	}{
		{"forbidden module", "import os\n__all__ = []", "ImportError"},
		{"unknown name from module", "from re import nothing\n__all__ = []", "cannot import name"},
		{"bad __all__", "__all__ = 'f'", "__all__ must be a list or tuple"},
		{"non-string export", "__all__ = [1]", "entries must be strings"},
		{"default raises", "__all__ = []\ndef f(x=1 // 0):\n    pass", "ZeroDivisionError"},
	}
	for _, test := range tests {
		_, err := Extract(context.Background(), test.source, nil)
		if err == nil || !strings.Contains(err.Error(), test.want) {
			t.Errorf("%s: Extract error = %v, want containing %q", test.name, err, test.want)
		}
	}
}

func TestModuleRe(t *testing.T) {
	source := lines(
		"import re",
		"__all__ = ['search', 'findall', 'sub', 'split', 'groups', 'named', 'full', 'compiled', 'upper']",
		"def search(p, s):",
		"    m = re.search(p, s)",
		"    return m.group(0) if m else None",
		"def findall(p, s):",
		"    return re.findall(p, s)",
		"def sub(p, r, s):",
		"    return re.sub(p, r, s)",
		"def split(p, s):",
		"    return re.split(p, s)",
		"def groups(p, s):",
		"    return re.match(p, s).groups()",
		"def named(p, s):",
		"    return re.search(p, s).groupdict()",
		"def full(p, s):",
		"    return re.fullmatch(p, s) is not None",
		"def compiled(s):",
		"    pattern = re.compile(r'vlan(\\d+)', re.I)",
		"    return [int(v) for v in pattern.findall(s)]",
		"def upper(s):",
		"    def repl(m):",
		"        return m.group(0).upper()",
		"    return re.sub(r'[a-z]+', repl, s)",
	)
	functions := extract(t, source, nil)
	tests := []struct {
		expression string
		want       any
	}{
		{`search(r"\d+", "ge-0/0/12")`, "0"},
		{`search(r"x", "abc")`, nil},
		{`findall(r"\d+", "ge-0/0/12")`, []any{"0", "0", "12"}},
		{`findall(r"(\w+)=(\d+)", "a=1 b=2")`, []any{[]any{"a", "1"}, []any{"b", "2"}}},
		{`sub(r"(\w+)@(\w+)", r"\2 at \1", "user@host")`, "host at user"},
		{`sub(r"(?P<n>\d)", r"<\g<n>>", "a1b2")`, "a<1>b<2>"},
		{`split(r",\s*", "a, b,c")`, []any{"a", "b", "c"}},
		{`split(r"(,)", "a,b")`, []any{"a", ",", "b"}},
		{`groups(r"(a)(x)?", "a")`, []any{"a", nil}},
		{`named(r"(?P<iface>eth\d+)", "up eth3")`, map[string]any{"iface": "eth3"}},
		{`full(r"eth\d", "eth1")`, true},
		{`full(r"eth\d", "eth12")`, false},
		{`compiled("VLAN10 vlan20")`, []any{10, 20}},
		{`upper("ab 12 cd")`, "AB 12 CD"},
	}
	for _, test := range tests {
		got := eval(t, test.expression, nil, functions)
		if diff := cmp.Diff(test.want, expr.ToGo(got)); diff != "" {
			t.Errorf("%s mismatch (-want +got):\n%s", test.expression, diff)
		}
	}

	_, _, err := expr.Evaluate(context.Background(), `search("(", "x")`, nil, functions, 0)
	var evalErr *expr.EvalError
	if !errors.As(err, &evalErr) || evalErr.Type != "re.error" {
		t.Fatalf("invalid pattern error = %v, want re.error", err)
	}
}

func TestModuleReExportsFunctions(t *testing.T) {
	value, err := importModule("re")
	if err != nil {
		t.Fatalf("importing re: %v", err)
	}
	re := value.(*module)
	for _, name := range []string{"search", "match", "fullmatch", "findall", "finditer", "sub", "subn", "split", "compile", "escape"} {
		if _, err := re.Attr(name); err != nil {
			t.Errorf("re.%s: %v", name, err)
		}
	}

	source := lines(
		"import re",
		"__all__ = ['numbered']",
		"def numbered(s):",
		"    return re.search(r'\\d+', s) is not None",
	)
	functions := extract(t, source, nil)
	if got := eval(t, `numbered("ge-0/0/12")`, nil, functions); got != true {
		t.Errorf(`numbered("ge-0/0/12") = %v, want True`, got)
	}
}

func TestModuleJSON(t *testing.T) {
	source := lines(
		"import json",
		"__all__ = ['roundtrip', 'dumps', 'pretty']",
		"def roundtrip(s):",
		"    return json.loads(s)",
		"def dumps(v):",
		"    return json.dumps(v)",
		"def pretty(v):",
		"    return json.dumps(v, indent=2, sort_keys=True)",
	)
	functions := extract(t, source, nil)

	got := eval(t, `roundtrip('{"mtu": 1500, "ratio": 0.5, "tags": ["a"], "up": true, "x": null}')`, nil, functions)
	want := map[string]any{"mtu": 1500, "ratio": 0.5, "tags": []any{"a"}, "up": true, "x": nil}
	if diff := cmp.Diff(want, expr.ToGo(got)); diff != "" {
		t.Errorf("loads mismatch (-want +got):\n%s", diff)
	}
	if got := eval(t, `dumps({"b": [1, 2.0, None], "a": "é"})`, nil, functions); got != `{"b": [1, 2.0, null], "a": "\u00e9"}` {
		t.Errorf("dumps = %v", got)
	}
	if got := eval(t, `pretty({"b": 1, "a": [True]})`, nil, functions); got != "{\n  \"a\": [\n    true\n  ],\n  \"b\": 1\n}" {
		t.Errorf("dumps with indent = %q", got)
	}
	if _, _, err := expr.Evaluate(context.Background(), `roundtrip("{")`, nil, functions, 0); err == nil ||
		!strings.Contains(err.Error(), "JSONDecodeError") {
		t.Errorf("loads of invalid JSON error = %v", err)
	}
}

func TestCache(t *testing.T) {
	cache := NewCache(nil, nil)
	ctx := context.Background()
	good := "__all__ = ['f']\ndef f():\n    return 1"

	first, err := cache.Functions(ctx, "good", good)
	if err != nil || first["f"] == nil {
		t.Fatalf("Functions(good) = %v, %v; want f exported", first, err)
	}
	// The name is the cache key: different source under the same name
	// is not re-extracted.
	second, _ := cache.Functions(ctx, "good", "__all__ = []")
	if second["f"] != first["f"] {
		t.Fatal("Functions did not memoize by name")
	}
	broken, err := cache.Functions(ctx, "broken", "import os\n__all__ = []")
	if err == nil || len(broken) != 0 {
		t.Fatalf("Functions(broken) = %v, %v; want an error and no functions", broken, err)
	}
	if _, again := cache.Functions(ctx, "broken", "__all__ = []"); again == nil || again.Error() != err.Error() {
		t.Errorf("second lookup of broken nameset returned %v, want the cached error", again)
	}
}
