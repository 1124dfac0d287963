// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package expr

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// explanationJSON normalizes an explanation through its JSON encoding.
func explanationJSON(t *testing.T, steps []Step) any {
	t.Helper()
	data, err := json.Marshal(steps)
	if err != nil {
		t.Fatalf("marshal explanation: %v", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal explanation: %v", err)
	}
	return out
}

func decodeJSON(t *testing.T, text string) any {
	t.Helper()
	var out any
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		t.Fatalf("decode %s: %v", text, err)
	}
	return out
}

func TestExplanation(t *testing.T) {
	tests := []struct {
		name       string
		expression string
		passed     bool
		want       string
	}{
		{
			name:       "arithmetic",
			expression: "5 + 5 == 10",
			passed:     true,
			want:       `[["5 + 5", 10], ["5 + 5 == 10", true]]`,
		},
		{
			name:       "dict comparison",
			expression: `{"param_1": "val_1", "param_2": "val_2"} == {"param_1": "val_1"}`,
			want: `[
				["{'param_1': 'val_1', 'param_2': 'val_2'} == {'param_1': 'val_1'}", false],
				["Deepdiff for previous comparison", {"dictionary_item_removed": ["root['param_2']"]}]
			]`,
		},
		{
			name:       "chained list comparison",
			expression: "[10, 11] == [10, 11] == [10, 12]",
			want: `[
				["[10, 11] == [10, 11] == [10, 12]", false],
				["Deepdiff for previous comparison [#2]", {"values_changed": {"root[1]": {"new_value": 12, "old_value": 11}}}]
			]`,
		},
		{
			name:       "generator argument",
			expression: "sum(x for x in [1, 2]) == 3",
			passed:     true,
			want: `[
				["(x for x in [1, 2])", [1, 2]],
				["sum((x for x in [1, 2]))", 3],
				["sum((x for x in [1, 2])) == 3", true]
			]`,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			passed, steps, err := Evaluate(context.Background(), test.expression, nil, nil, 2)
			if err != nil {
				t.Fatalf("Evaluate(%q): %v", test.expression, err)
			}
			if passed != test.passed {
				t.Fatalf("Evaluate(%q) passed = %v, want %v", test.expression, passed, test.passed)
			}
			if diff := cmp.Diff(decodeJSON(t, test.want), explanationJSON(t, steps)); diff != "" {
				t.Fatalf("explanation mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExplanationVerbosity(t *testing.T) {
	expression := "[10, 11] == [10, 11] == [10, 12]"

	_, steps, err := Evaluate(context.Background(), expression, nil, nil, 0)
	if err != nil {
		t.Fatalf("verbosity 0: %v", err)
	}
	if len(steps) != 0 {
		t.Fatalf("verbosity 0 recorded %d steps, want none", len(steps))
	}

	_, steps, err = Evaluate(context.Background(), expression, nil, nil, 1)
	if err != nil {
		t.Fatalf("verbosity 1: %v", err)
	}
	want := decodeJSON(t, `[["[10, 11] == [10, 11] == [10, 12]", false]]`)
	if diff := cmp.Diff(want, explanationJSON(t, steps)); diff != "" {
		t.Fatalf("verbosity 1 explanation mismatch (-want +got):\n%s", diff)
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	names := map[string]Value{
		"config": FromGo(map[string]any{
			"interfaces": []any{
				map[string]any{"name": "eth0", "mtu": 1500},
				map[string]any{"name": "eth1", "mtu": 9000},
			},
		}, true),
	}
	expression := "[i['mtu'] for i in config.interfaces] == [1500, 1500]"
	_, first, err := Evaluate(context.Background(), expression, names, nil, 2)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	for range 5 {
		_, again, err := Evaluate(context.Background(), expression, names, nil, 2)
		if err != nil {
			t.Fatalf("repeat run: %v", err)
		}
		if diff := cmp.Diff(explanationJSON(t, first), explanationJSON(t, again)); diff != "" {
			t.Fatalf("explanation differs between runs:\n%s", diff)
		}
	}
}

func TestEvaluateSemantics(t *testing.T) {
	expressions := []string{
		"-7 // 2 == -4",
		"-7 % 3 == 2",
		"7.5 // 2 == 3.0",
		"round(2.5) == 2 and round(3.5) == 4",
		"round(1.2345, 2) == 1.23",
		"2 ** 10 == 1024",
		"2 ** -1 == 0.5",
		"1 == 1.0 == True",
		"1 < 2 < 3",
		"not (1 > 2 > 1 / 0)",
		"'a,b'.split(',') == ['a', 'b']",
		"'  a  b '.split() == ['a', 'b']",
		"'a b c'.split(None, 1) == ['a', 'b c']",
		"'-'.join(['x', 'y']) == 'x-y'",
		"'Hello'.lower().startswith(('he', 'xx'))",
		"'abc'[::-1] == 'cba'",
		"'abcdef'[1:4] == 'bcd'",
		"[1, 2, 3][-1] == 3",
		"[1, 2, 3, 4][::2] == [1, 3]",
		"(1, 2) + (3,) == (1, 2, 3)",
		"[0] * 3 == [0, 0, 0]",
		"sorted([3, 1, 2], reverse=True) == [3, 2, 1]",
		"sorted(['bb', 'a'], key=len) == ['a', 'bb']",
		"max([1, 5, 3]) == 5 and min(4, 2, 8) == 2",
		"max([], default=7) == 7",
		"sum([1, 2, 3], 10) == 16",
		"len({'a': 1, 'b': 2}) == 2",
		"'x' in {'x': 1} and 'y' not in {'x': 1}",
		"'ell' in 'hello'",
		"{1, 2} <= {1, 2, 3} and {1, 2} | {3} == {1, 2, 3}",
		"{1, 2} & {2, 3} == {2}",
		"{'a': 1} | {'b': 2} == {'a': 1, 'b': 2}",
		"dict(a=1) == {'a': 1}",
		"dict([('a', 1)]) == {'a': 1}",
		"list(zip([1, 2], 'ab')) == [(1, 'a'), (2, 'b')]",
		"list(enumerate('ab', 1)) == [(1, 'a'), (2, 'b')]",
		"list(map(str, [1, 2])) == ['1', '2']",
		"list(filter(None, [0, 1, '', 'a'])) == [1, 'a']",
		"list(reversed(range(3))) == [2, 1, 0]",
		"list(range(10, 0, -3)) == [10, 7, 4, 1]",
		"5 in range(0, 10, 5) and 6 not in range(0, 10, 5)",
		"int('0x1f', 16) == 31 and int(' 42 ') == 42 and int(3.9) == 3",
		"float('1.5') == 1.5",
		"str(1.0) == '1.0' and str(1e16) == '1e+16' and str(0.0001) == '0.0001'",
		"hex(255) == '0xff' and bin(5) == '0b101' and oct(8) == '0o10'",
		"chr(65) == 'A' and ord('A') == 65",
		"divmod(7, 2) == (3, 1)",
		"pow(3, 4, 5) == 1",
		"abs(-3) == 3",
		"all([]) and not any([])",
		"'%s-%d' % ('a', 3) == 'a-3'",
		"'%(x)s!' % {'x': 'hi'} == 'hi!'",
		"{k: v for k, v in [('a', 1)]} == {'a': 1}",
		"{x % 2 for x in range(5)} == {0, 1}",
		"[x * y for x in range(3) if x for y in (1, 2)] == [1, 2, 2, 4]",
		"frozenset([1, 2]) == {1, 2}",
		"True if 1 else False",
		"(None or 0 or 'z') == 'z'",
		"(1 and 2) == 2",
		"{'a': {'b': 1}}.get('a').get('b') == 1",
		"{'a': 1}.get('missing', 5) == 5",
		"list({'a': 1, 'b': 2}.items()) == [('a', 1), ('b', 2)]",
		"'A'.isupper() and 'a1'.isalnum() and ' '.isspace()",
		"'a'.zfill(3) == '00a' and 'a'.center(3) == ' a '",
		"'k=v'.partition('=') == ('k', '=', 'v')",
		"callable(len) and not callable(1)",
		"hasattr('x', 'upper') and not hasattr('x', 'nope')",
		"1 is not None and None is None",
	}
	for _, expression := range expressions {
		passed, _, err := Evaluate(context.Background(), expression, nil, nil, 0)
		if err != nil {
			t.Errorf("Evaluate(%q): %v", expression, err)
			continue
		}
		if !passed {
			t.Errorf("Evaluate(%q) = false, want true", expression)
		}
	}
}

func TestEvaluateRuntimeErrors(t *testing.T) {
	tests := []struct {
		expression string
		errType    string
	}{
		{"1 / 0", "ZeroDivisionError"},
		{"1 // 0", "ZeroDivisionError"},
		{"{}['x']", "KeyError"},
		{"[1][5]", "IndexError"},
		{"'a' + 1", "TypeError"},
		{"1 < 'a'", "TypeError"},
		{"int('x')", "ValueError"},
		{"[].nope", "AttributeError"},
		{"'a' * 200000", "IterableTooLong"},
		{"2 ** 5000000", "NumberTooHigh"},
		{"[x for x in range(20000)]", "IterableTooLong"},
		{"9223372036854775807 + 1", "OverflowError"},
		{"2 ** 63", "OverflowError"},
		{"1 << 63", "OverflowError"},
		{"{[1]: 2}", "TypeError"},
		{"max([])", "ValueError"},
	}
	for _, test := range tests {
		_, steps, err := Evaluate(context.Background(), test.expression, nil, nil, 2)
		var evalErr *EvalError
		if !errors.As(err, &evalErr) {
			t.Errorf("Evaluate(%q) error = %v, want *EvalError", test.expression, err)
			continue
		}
		if evalErr.Type != test.errType {
			t.Errorf("Evaluate(%q) error type = %q, want %q (%v)", test.expression, evalErr.Type, test.errType, err)
		}
		if steps != nil {
			t.Errorf("Evaluate(%q) returned %d steps with an error", test.expression, len(steps))
		}
	}
}

func TestEvaluateSyntaxError(t *testing.T) {
	_, _, err := Evaluate(context.Background(), "some invalid syntax", nil, nil, 2)
	var evalErr *EvalError
	if !errors.As(err, &evalErr) || evalErr.Type != "SyntaxError" {
		t.Fatalf("error = %v, want SyntaxError", err)
	}
}

func TestEvaluateRejections(t *testing.T) {
	expressions := []string{
		"def f(): pass",
		"x = 1",
		"x += 1",
		"import os",
		"from os import path",
		"lambda x: x",
		"(x := 1)",
		"len(*[1])",
		"f'{1}'",
		"b'x'",
		"1j",
		"''.__class__",
		"[]._private",
		"'{}'.format(1)",
		"undefined_function(1)",
		"undefined_name == 1",
		"del x",
		"class A: pass",
		"1; 2",
	}
	for _, expression := range expressions {
		_, _, err := Evaluate(context.Background(), expression, nil, nil, 2)
		var invalid *InvalidExpressionError
		if !errors.As(err, &invalid) {
			t.Errorf("Evaluate(%q) error = %v, want *InvalidExpressionError", expression, err)
		}
	}
}

func TestEvaluateNamesAndFunctions(t *testing.T) {
	square := NewBuiltin("square", func(_ *Thread, args []Value, _ []Kwarg) (Value, error) {
		n := args[0].(int64)
		return n * n, nil
	})
	names := map[string]Value{"obj": int64(10)}
	functions := map[string]Callable{"square": square}

	passed, _, err := Evaluate(context.Background(), "square(obj) == 100", names, functions, 0)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !passed {
		t.Fatalf("square(obj) == 100 evaluated to false")
	}

	// Functions are visible as plain names too.
	passed, _, err = Evaluate(context.Background(), "list(map(square, [1, 2])) == [1, 4]", names, functions, 0)
	if err != nil || !passed {
		t.Fatalf("map(square, ...) = %v, %v; want true, nil", passed, err)
	}
}

func TestEvaluateFrozenState(t *testing.T) {
	names := map[string]Value{
		"config": FromGo(map[string]any{"hostname": "r1", "vlans": []any{10, 20}}, true),
	}
	passed, _, err := Evaluate(context.Background(), "config.hostname == 'r1' and 20 in config['vlans']", names, nil, 0)
	if err != nil || !passed {
		t.Fatalf("attribute fallback = %v, %v; want true, nil", passed, err)
	}

	_, _, err = Evaluate(context.Background(), "config['vlans'].append(30)", names, nil, 0)
	var evalErr *EvalError
	if !errors.As(err, &evalErr) || evalErr.Type != "TypeError" {
		t.Fatalf("mutating frozen state: error = %v, want TypeError", err)
	}

	// A copy is mutable.
	passed, _, err = Evaluate(context.Background(), "config['vlans'].copy().pop() == 20", names, nil, 0)
	if err != nil || !passed {
		t.Fatalf("copy().pop() = %v, %v; want true, nil", passed, err)
	}
}

func TestEvaluatePanicBecomesError(t *testing.T) {
	boom := NewBuiltin("boom", func(*Thread, []Value, []Kwarg) (Value, error) {
		panic("kaboom")
	})
	_, _, err := Evaluate(context.Background(), "boom()", nil, map[string]Callable{"boom": boom}, 2)
	var evalErr *EvalError
	if !errors.As(err, &evalErr) || evalErr.Type != "Exception" {
		t.Fatalf("error = %v, want Exception EvalError", err)
	}
}

func TestEvaluateCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := Evaluate(ctx, "sum(range(100000)) > 0", nil, nil, 0)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestJQ(t *testing.T) {
	functions := map[string]Callable{"jq": JQ()}
	expressions := []string{
		"jq('.[]', [1, 2]) == [1, 2]",
		"jq('.a', {'a': 3}) == [3]",
		"jq.first('.a | mkarr(.b)', {'a': {'b': 1}}) == {'b': [1]}",
		"jq.first('.a | mkarr(.b)', {'a': {'b': [1]}}) == {'b': [1]}",
		"jq.first('mknum(.)', {'a': '5', 'b': 'x'}) == {'a': 5, 'b': 'x'}",
		"jq.first('.[] | select(. > 5)', [1, 2]) is None",
	}
	for _, expression := range expressions {
		passed, _, err := Evaluate(context.Background(), expression, nil, functions, 0)
		if err != nil {
			t.Errorf("Evaluate(%q): %v", expression, err)
			continue
		}
		if !passed {
			t.Errorf("Evaluate(%q) = false, want true", expression)
		}
	}

	_, _, err := Evaluate(context.Background(), "jq('.[', [])", nil, functions, 0)
	var evalErr *EvalError
	if !errors.As(err, &evalErr) || evalErr.Type != "JQError" {
		t.Fatalf("bad query: error = %v, want JQError", err)
	}
}

func TestDeepDiff(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want string
	}{
		{
			name: "type change",
			a:    NewList(int64(1)),
			b:    NewList("1"),
			want: `{"type_changes": {"root[0]": {"old_type": "int", "new_type": "str", "old_value": 1, "new_value": "1"}}}`,
		},
		{
			name: "iterable added",
			a:    NewList(int64(1)),
			b:    NewList(int64(1), int64(2)),
			want: `{"iterable_item_added": {"root[1]": 2}}`,
		},
		{
			name: "iterable removed",
			a:    Tuple{int64(1), int64(2)},
			b:    Tuple{int64(1)},
			want: `{"iterable_item_removed": {"root[1]": 2}}`,
		},
		{
			name: "nested dict",
			a:    FromGo(map[string]any{"a": map[string]any{"b": 1}}, false),
			b:    FromGo(map[string]any{"a": map[string]any{"b": 2, "c": 3}}, false),
			want: `{"values_changed": {"root['a']['b']": {"new_value": 2, "old_value": 1}},
				"dictionary_item_added": ["root['a']['c']"]}`,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := decodeJSON(t, mustJSON(t, ToGo(DeepDiff(test.a, test.b))))
			if diff := cmp.Diff(decodeJSON(t, test.want), got); diff != "" {
				t.Fatalf("DeepDiff mismatch (-want +got):\n%s", diff)
			}
		})
	}

	sets := DeepDiff(setOf(int64(1), int64(2)), setOf(int64(2), int64(3)))
	added, _, _ := sets.Get("set_item_added")
	removed, _, _ := sets.Get("set_item_removed")
	if Repr(added) != `['root[3]']` || Repr(removed) != `['root[1]']` {
		t.Fatalf("set diff = %s", Repr(sets))
	}
}

func setOf(items ...Value) *Set {
	set := NewSet()
	for _, item := range items {
		_ = set.Add(item)
	}
	return set
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(data)
}

func TestStepJSON(t *testing.T) {
	data, err := json.Marshal(Step{Label: "x", Value: NewList(int64(1), "a")})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `["x",[1,"a"]]` {
		t.Fatalf("Step JSON = %s", data)
	}
	var step Step
	if err := json.Unmarshal([]byte(`["label", null]`), &step); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if step.Label != "label" || step.Value != nil {
		t.Fatalf("decoded step = %+v", step)
	}
}
