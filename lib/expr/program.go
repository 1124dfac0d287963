// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package expr

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/dlclark/regexp2"
)

// Step is one line of an explanation: the source text of a
// sub-expression and the value it produced. It encodes as a two
// element JSON array.
type Step struct {
	Label string
	Value Value
}

func (s Step) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{s.Label, ToGo(s.Value)})
}

func (s *Step) UnmarshalJSON(data []byte) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var pair []any
	if err := decoder.Decode(&pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return errorf("ValueError", "explanation step must have 2 elements, got %d", len(pair))
	}
	label, _ := pair[0].(string)
	s.Label = label
	s.Value = FromGo(pair[1], false)
	return nil
}

// Program is a compiled test expression. It is safe for concurrent use;
// each Run has its own evaluation state.
type Program struct {
	source string
	root   Expr
	labels map[Expr]string
}

// Compile parses and statically checks a test expression.
func Compile(expression string) (*Program, error) {
	root, err := ParseExpression(expression)
	if err != nil {
		return nil, err
	}
	if err := checkExpr(root, nil, nil); err != nil {
		return nil, err
	}
	p := &Program{source: expression, root: root, labels: make(map[Expr]string)}
	walkExpr(root, func(e Expr) {
		switch e.(type) {
		case *Constant, *Name, *Attribute, *Slice:
			return
		}
		p.labels[e] = formatLabel(Unparse(e))
	})
	return p, nil
}

// Source returns the expression text.
func (p *Program) Source() string { return p.source }

// Run evaluates the program. names are bound first, then functions,
// then the builtins. Verbosity 0 records no explanation, 1 records
// sub-expression values, 2 adds structural diffs of failed comparisons.
//
// Errors are *InvalidExpressionError for references to names that are
// neither bound nor builtin, *EvalError for anything raised during
// evaluation, or the context's error when ctx ends.
func (p *Program) Run(ctx context.Context, names map[string]Value, functions map[string]Callable, verbosity int) (passed bool, steps []Step, err error) {
	known := func(name string) bool {
		if _, ok := names[name]; ok {
			return true
		}
		if _, ok := functions[name]; ok {
			return true
		}
		_, ok := builtinEnv.vars[name]
		return ok
	}
	if err := checkExpr(p.root, known, nil); err != nil {
		return false, nil, err
	}

	ev := &evaluator{th: NewThread(ctx)}
	if verbosity > 0 {
		ev.explain = &explainer{verbosity: verbosity, labels: p.labels}
	}
	defer recoverPanic(&err)

	fnScope := make(map[string]Value, len(functions))
	for name, fn := range functions {
		fnScope[name] = fn
	}
	nameScope := make(map[string]Value, len(names))
	for name, v := range names {
		nameScope[name] = v
	}
	env := envOf(nameScope, envOf(fnScope, builtinEnv))

	result, err := ev.eval(p.root, env)
	if err != nil {
		return false, nil, asEvalError(err)
	}
	if ev.explain != nil {
		steps = ev.explain.steps
	}
	return Truthy(result), steps, nil
}

// Evaluate compiles and runs expression in one call.
func Evaluate(ctx context.Context, expression string, names map[string]Value, functions map[string]Callable, verbosity int) (bool, []Step, error) {
	p, err := Compile(expression)
	if err != nil {
		return false, nil, err
	}
	return p.Run(ctx, names, functions, verbosity)
}

// ExecModule runs statements in a fresh module scope whose enclosing
// scope holds globals and the builtins, and returns the module scope.
// importer resolves import statements; nil disables them.
func ExecModule(ctx context.Context, stmts []Stmt, globals map[string]Value, importer Importer) (module *Env, err error) {
	scope := make(map[string]Value, len(globals))
	for name, v := range globals {
		scope[name] = v
	}
	module = NewEnv(envOf(scope, builtinEnv))
	ev := &evaluator{th: NewThread(ctx), importer: importer}
	defer recoverPanic(&err)
	flow, _, err := ev.exec(stmts, module)
	if err != nil {
		return nil, asEvalError(err)
	}
	if flow != flowNormal {
		return nil, errorf("SyntaxError", "'return', 'break' or 'continue' outside function")
	}
	return module, nil
}

// CallFunction invokes a callable produced by ExecModule.
func CallFunction(ctx context.Context, fn Callable, args ...Value) (result Value, err error) {
	defer recoverPanic(&err)
	result, err = NewThread(ctx).call(fn, args, nil)
	return result, asEvalError(err)
}

type explainer struct {
	verbosity int
	labels    map[Expr]string
	steps     []Step
	pending   []Step
}

func (x *explainer) record(e Expr, v Value) {
	if label, ok := x.labels[e]; ok && label != "" && Str(v) != label {
		x.steps = append(x.steps, Step{Label: label, Value: v})
	}
	x.steps = append(x.steps, x.pending...)
	x.pending = x.pending[:0]
}

var escapedNewline = regexp2.MustCompile(` *\\n *`, regexp2.None)

// formatLabel drops escaped line breaks that multi-line string
// literals leave in unparsed text.
func formatLabel(unparsed string) string {
	out, err := escapedNewline.Replace(unparsed, "", -1, -1)
	if err != nil {
		return unparsed
	}
	return out
}

// disallowedAttrs are attribute names expressions may never read.
var disallowedAttrs = map[string]bool{
	"format":      true,
	"format_map":  true,
	"mro":         true,
	"delete":      true,
	"save":        true,
	"update":      true,
	"bulk_update": true,
	"bulk_create": true,
}

// checkExpr rejects private and disallowed attribute access and, when
// known is non-nil, references to names that are neither bound by an
// enclosing comprehension nor known.
func checkExpr(e Expr, known func(string) bool, local map[string]bool) error {
	var err error
	visit := func(child Expr) {
		if err == nil && child != nil {
			err = checkExpr(child, known, local)
		}
	}
	switch e := e.(type) {
	case *Name:
		if known != nil && !local[e.ID] && !known(e.ID) {
			return rejectf("name '%s' is not defined", e.ID)
		}
	case *Attribute:
		if len(e.Attr) > 0 && e.Attr[0] == '_' {
			return rejectf("access to private attribute '%s' is not allowed", e.Attr)
		}
		if disallowedAttrs[e.Attr] {
			return rejectf("method '%s' is not allowed", e.Attr)
		}
		visit(e.Value)
	case *Call:
		if name, ok := e.Func.(*Name); ok && known != nil && !local[name.ID] && !known(name.ID) {
			return rejectf("function '%s' is not defined", name.ID)
		}
		visit(e.Func)
		for _, arg := range e.Args {
			visit(arg)
		}
		for _, kw := range e.Keywords {
			visit(kw.Value)
		}
	case *Comprehension:
		scope := make(map[string]bool, len(local))
		for name := range local {
			scope[name] = true
		}
		for _, clause := range e.Generators {
			if err := checkExpr(clause.Iter, known, scope); err != nil {
				return err
			}
			walkExpr(clause.Target, func(t Expr) {
				if name, ok := t.(*Name); ok {
					scope[name.ID] = true
				}
			})
			for _, cond := range clause.Ifs {
				if err := checkExpr(cond, known, scope); err != nil {
					return err
				}
			}
		}
		if e.Key != nil {
			if err := checkExpr(e.Key, known, scope); err != nil {
				return err
			}
		}
		return checkExpr(e.Elt, known, scope)
	default:
		forEachChild(e, visit)
	}
	return err
}

// walkExpr calls fn for e and every expression nested in it.
func walkExpr(e Expr, fn func(Expr)) {
	if e == nil {
		return
	}
	fn(e)
	forEachChild(e, func(child Expr) { walkExpr(child, fn) })
}

func forEachChild(e Expr, fn func(Expr)) {
	visit := func(children ...Expr) {
		for _, child := range children {
			if child != nil {
				fn(child)
			}
		}
	}
	switch e := e.(type) {
	case *Attribute:
		visit(e.Value)
	case *Subscript:
		visit(e.Value, e.Index)
	case *Slice:
		visit(e.Lower, e.Upper, e.Step)
	case *Call:
		visit(e.Func)
		visit(e.Args...)
		for _, kw := range e.Keywords {
			visit(kw.Value)
		}
	case *UnaryOp:
		visit(e.Operand)
	case *BinOp:
		visit(e.Left, e.Right)
	case *BoolOp:
		visit(e.Values...)
	case *Compare:
		visit(e.Left)
		visit(e.Comparators...)
	case *IfExp:
		visit(e.Test, e.Body, e.OrElse)
	case *ListExpr:
		visit(e.Elts...)
	case *TupleExpr:
		visit(e.Elts...)
	case *SetExpr:
		visit(e.Elts...)
	case *DictExpr:
		visit(e.Keys...)
		visit(e.Values...)
	case *Comprehension:
		for _, clause := range e.Generators {
			visit(clause.Iter, clause.Target)
			visit(clause.Ifs...)
		}
		visit(e.Key, e.Elt)
	}
}
