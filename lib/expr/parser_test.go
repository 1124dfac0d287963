// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package expr

import (
	"errors"
	"strings"
	"testing"
)

func TestUnparse(t *testing.T) {
	tests := []struct {
		source string
		want   string
	}{
		{"5+5", "5 + 5"},
		{"sum(x for x in y)", "sum((x for x in y))"},
		{"1, 2", "(1, 2)"},
		{"(1,)", "(1,)"},
		{"()", "()"},
		{"a[1:2]", "a[1:2]"},
		{"a[::2]", "a[::2]"},
		{"a[1, 2]", "a[1, 2]"},
		{"not (a and b)", "not (a and b)"},
		{"-x ** 2", "-x ** 2"},
		{"(-x) ** 2", "(-x) ** 2"},
		{"(a + b) * c", "(a + b) * c"},
		{"a - (b - c)", "a - (b - c)"},
		{"a ** b ** c", "a ** b ** c"},
		{"(a ** b) ** c", "(a ** b) ** c"},
		{"a if b else c", "a if b else c"},
		{"(a if b else c) + 1", "(a if b else c) + 1"},
		{"x.y(1, k=2)", "x.y(1, k=2)"},
		{`"a" + 'b'`, "'a' + 'b'"},
		{`"it's"`, `"it's"`},
		{"{'a': 1}", "{'a': 1}"},
		{"{1, 2}", "{1, 2}"},
		{"[x for x in y if x]", "[x for x in y if x]"},
		{"{k: v for k, v in d.items()}", "{k: v for k, v in d.items()}"},
		{"a not in b", "a not in b"},
		{"a is not None", "a is not None"},
		{"(a == b) == c", "(a == b) == c"},
		{"1.5e20", "1.5e+20"},
		{"None", "None"},
	}
	for _, test := range tests {
		e, err := ParseExpression(test.source)
		if err != nil {
			t.Errorf("ParseExpression(%q): %v", test.source, err)
			continue
		}
		if got := Unparse(e); got != test.want {
			t.Errorf("Unparse(%q) = %q, want %q", test.source, got, test.want)
		}
	}
}

func TestParseModule(t *testing.T) {
	source := strings.Join([]string{
		"import re",
		"from json import loads as parse",
		"",
		"def f(a, b=2):",
		"    '''Docstring.'''",
		"    if a:",
		"        return a + b",
		"    elif b:",
		"        pass",
		"    else:",
		"        for i in range(3):",
		"            if i == 1:",
		"                continue",
		"            break",
		"    return None",
		"",
		"class C(object):",
		"    x = 1",
		"    def m(self):",
		"        return self.x",
		"",
		"__all__ = ['f', 'C']",
	}, "\n")
	stmts, err := ParseModule(source)
	if err != nil {
		t.Fatalf("ParseModule: %v", err)
	}
	if len(stmts) != 5 {
		t.Fatalf("got %d top-level statements, want 5", len(stmts))
	}
	fn, ok := stmts[2].(*FunctionDef)
	if !ok {
		t.Fatalf("statement 2 is %T, want *FunctionDef", stmts[2])
	}
	if fn.Name != "f" || len(fn.Params) != 2 || fn.Params[1].Default == nil {
		t.Fatalf("function = %+v", fn)
	}
	if len(fn.Body) != 3 {
		t.Fatalf("function body has %d statements, want 3", len(fn.Body))
	}
	importFrom := stmts[1].(*ImportFrom)
	if importFrom.Module != "json" || importFrom.Names[0].BoundName() != "parse" {
		t.Fatalf("import = %+v", importFrom)
	}
	if class, ok := stmts[3].(*ClassDef); !ok || len(class.Body) != 2 {
		t.Fatalf("statement 3 = %#v, want class with 2 body statements", stmts[3])
	}
}

func TestParseErrors(t *testing.T) {
	syntaxErrors := []string{
		"1 +",
		"(1, 2",
		"a b",
		"def f(:\n    pass",
		"if x:\npass",
		"'unterminated",
		"f(a=1, 2)",
		"def f(a=1, b): pass",
		"1 = 2",
	}
	for _, source := range syntaxErrors {
		_, err := ParseModule(source)
		var evalErr *EvalError
		if !errors.As(err, &evalErr) || evalErr.Type != "SyntaxError" {
			t.Errorf("ParseModule(%q) error = %v, want SyntaxError", source, err)
		}
	}

	rejected := []string{
		"try:\n    pass\nexcept:\n    pass",
		"with x: pass",
		"global x",
		"raise x",
		"from re import *",
		"@decorator\ndef f(): pass",
		"def f(*args): pass",
		"{**a}",
		"x = yield 1",
	}
	for _, source := range rejected {
		_, err := ParseModule(source)
		var invalid *InvalidExpressionError
		if !errors.As(err, &invalid) {
			t.Errorf("ParseModule(%q) error = %v, want *InvalidExpressionError", source, err)
		}
	}
}

func TestSyntaxErrorPosition(t *testing.T) {
	_, err := ParseExpression("1 + )")
	if err == nil || !strings.Contains(err.Error(), "line 1, column 5") {
		t.Fatalf("error = %v, want position line 1, column 5", err)
	}
}
