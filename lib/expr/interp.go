// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package expr

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
)

// Evaluation limits. They bound the work a single expression can
// cause regardless of the data it runs against.
const (
	MaxStringLength        = 100000
	MaxComprehensionLength = 10000
	MaxPower               = 4000000
	MaxCollectionLength    = 1000000
	MaxSteps               = 10_000_000
	MaxCallDepth           = 100
)

// Kwarg is one keyword argument of a call.
type Kwarg struct {
	Name  string
	Value Value
}

// Callable is anything an expression can call.
type Callable interface {
	Name() string
	Call(th *Thread, args []Value, kwargs []Kwarg) (Value, error)
}

// Thread carries the per-evaluation state shared by every call made
// while evaluating one expression: cancellation, the step budget and
// the call depth.
type Thread struct {
	ctx   context.Context
	steps int64
	depth int
}

// NewThread returns a thread bound to ctx.
func NewThread(ctx context.Context) *Thread {
	return &Thread{ctx: ctx}
}

// Context returns the thread's context.
func (th *Thread) Context() context.Context { return th.ctx }

// Tick charges one step against the budget and periodically observes
// cancellation. Host callables that loop call it once per iteration.
func (th *Thread) Tick() error { return th.tick() }

func (th *Thread) tick() error {
	th.steps++
	if th.steps > MaxSteps {
		return errorf("TimeoutError", "evaluation exceeded %d steps", MaxSteps)
	}
	if th.steps&1023 == 0 {
		if err := th.ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

// Iterate calls fn for each element of v, charging one step per element.
func (th *Thread) Iterate(v Value, fn func(Value) error) error {
	return iterate(v, func(item Value) error {
		if err := th.tick(); err != nil {
			return err
		}
		return fn(item)
	})
}

// Call invokes fn with positional arguments.
func (th *Thread) Call(fn Value, args ...Value) (Value, error) {
	return th.call(fn, args, nil)
}

func (th *Thread) call(fn Value, args []Value, kwargs []Kwarg) (Value, error) {
	callable, ok := fn.(Callable)
	if !ok {
		return nil, errorf("TypeError", "'%s' object is not callable", TypeName(fn))
	}
	if th.depth >= MaxCallDepth {
		return nil, errorf("RecursionError", "maximum recursion depth exceeded")
	}
	th.depth++
	defer func() { th.depth-- }()
	return callable.Call(th, args, kwargs)
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// recoverPanic turns a panic inside a callable into an EvalError.
func recoverPanic(err *error) {
	if r := recover(); r != nil {
		*err = errorf("Exception", "panic during evaluation: %v\n%s", r, debug.Stack())
	}
}

// Env is one lexical scope.
type Env struct {
	vars   map[string]Value
	parent *Env
}

// NewEnv returns an empty scope nested in parent.
func NewEnv(parent *Env) *Env {
	return &Env{vars: make(map[string]Value), parent: parent}
}

func envOf(vars map[string]Value, parent *Env) *Env {
	if vars == nil {
		vars = make(map[string]Value)
	}
	return &Env{vars: vars, parent: parent}
}

// Lookup resolves name through the scope chain.
func (e *Env) Lookup(name string) (Value, bool) {
	for scope := e; scope != nil; scope = scope.parent {
		if v, ok := scope.vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// Set binds name in this scope.
func (e *Env) Set(name string, v Value) { e.vars[name] = v }

// Bindings returns the names bound directly in this scope.
func (e *Env) Bindings() map[string]Value { return e.vars }

// Importer resolves a module name for import statements.
type Importer func(module string) (Value, error)

type control int

const (
	flowNormal control = iota
	flowReturn
	flowBreak
	flowContinue
)

// evaluator walks one tree. explain is nil unless steps are recorded.
type evaluator struct {
	th       *Thread
	explain  *explainer
	importer Importer
}

func (ev *evaluator) eval(e Expr, env *Env) (Value, error) {
	if err := ev.th.tick(); err != nil {
		return nil, err
	}
	v, err := ev.evalNode(e, env)
	if err != nil {
		return nil, err
	}
	if ev.explain != nil {
		ev.explain.record(e, v)
	}
	return v, nil
}

func (ev *evaluator) evalNode(e Expr, env *Env) (Value, error) {
	switch e := e.(type) {
	case *Constant:
		return e.Value, nil
	case *Name:
		v, ok := env.Lookup(e.ID)
		if !ok {
			return nil, errorf("NameError", "name '%s' is not defined", e.ID)
		}
		return v, nil
	case *Attribute:
		v, err := ev.eval(e.Value, env)
		if err != nil {
			return nil, err
		}
		return getAttr(v, e.Attr)
	case *Subscript:
		v, err := ev.eval(e.Value, env)
		if err != nil {
			return nil, err
		}
		key, err := ev.eval(e.Index, env)
		if err != nil {
			return nil, err
		}
		return index(v, key)
	case *Slice:
		s := &sliceValue{}
		for _, part := range []struct {
			expr Expr
			dst  *Value
		}{{e.Lower, &s.Lower}, {e.Upper, &s.Upper}, {e.Step, &s.Step}} {
			if part.expr == nil {
				continue
			}
			v, err := ev.eval(part.expr, env)
			if err != nil {
				return nil, err
			}
			*part.dst = v
		}
		return s, nil
	case *Call:
		fn, err := ev.eval(e.Func, env)
		if err != nil {
			return nil, err
		}
		args := make([]Value, len(e.Args))
		for i, arg := range e.Args {
			if args[i], err = ev.eval(arg, env); err != nil {
				return nil, err
			}
		}
		var kwargs []Kwarg
		for _, kw := range e.Keywords {
			v, err := ev.eval(kw.Value, env)
			if err != nil {
				return nil, err
			}
			kwargs = append(kwargs, Kwarg{kw.Name, v})
		}
		return ev.th.call(fn, args, kwargs)
	case *UnaryOp:
		v, err := ev.eval(e.Operand, env)
		if err != nil {
			return nil, err
		}
		return unaryOp(e.Op, v)
	case *BinOp:
		left, err := ev.eval(e.Left, env)
		if err != nil {
			return nil, err
		}
		right, err := ev.eval(e.Right, env)
		if err != nil {
			return nil, err
		}
		return binaryOp(e.Op, left, right)
	case *BoolOp:
		var v Value
		for _, operand := range e.Values {
			var err error
			if v, err = ev.eval(operand, env); err != nil {
				return nil, err
			}
			if Truthy(v) == (e.Op == "or") {
				return v, nil
			}
		}
		return v, nil
	case *Compare:
		return ev.compare(e, env)
	case *IfExp:
		test, err := ev.eval(e.Test, env)
		if err != nil {
			return nil, err
		}
		if Truthy(test) {
			return ev.eval(e.Body, env)
		}
		return ev.eval(e.OrElse, env)
	case *ListExpr:
		items, err := ev.evalAll(e.Elts, env)
		if err != nil {
			return nil, err
		}
		return NewList(items...), nil
	case *TupleExpr:
		items, err := ev.evalAll(e.Elts, env)
		if err != nil {
			return nil, err
		}
		return Tuple(items), nil
	case *SetExpr:
		items, err := ev.evalAll(e.Elts, env)
		if err != nil {
			return nil, err
		}
		set := NewSet()
		for _, item := range items {
			if err := set.Add(item); err != nil {
				return nil, err
			}
		}
		return set, nil
	case *DictExpr:
		dict := NewDict()
		for i := range e.Keys {
			key, err := ev.eval(e.Keys[i], env)
			if err != nil {
				return nil, err
			}
			value, err := ev.eval(e.Values[i], env)
			if err != nil {
				return nil, err
			}
			if err := dict.Set(key, value); err != nil {
				return nil, err
			}
		}
		return dict, nil
	case *Comprehension:
		return ev.comprehension(e, env)
	}
	return nil, errorf("SyntaxError", "unsupported expression %T", e)
}

func (ev *evaluator) evalAll(exprs []Expr, env *Env) ([]Value, error) {
	out := make([]Value, len(exprs))
	for i, e := range exprs {
		v, err := ev.eval(e, env)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (ev *evaluator) compare(e *Compare, env *Env) (Value, error) {
	right, err := ev.eval(e.Left, env)
	if err != nil {
		return nil, err
	}
	for i, op := range e.Ops {
		left := right
		if right, err = ev.eval(e.Comparators[i], env); err != nil {
			return nil, err
		}
		ok, err := compare(op, left, right)
		if err != nil {
			return nil, err
		}
		if !ok {
			if ev.explain != nil && ev.explain.verbosity >= 2 && diffable(left) && diffable(right) {
				label := "Deepdiff for previous comparison"
				if len(e.Ops) > 1 {
					label += fmt.Sprintf(" [#%d]", i+1)
				}
				ev.explain.pending = append(ev.explain.pending, Step{Label: label, Value: DeepDiff(left, right)})
			}
			return false, nil
		}
	}
	return true, nil
}

func (ev *evaluator) comprehension(c *Comprehension, env *Env) (Value, error) {
	scope := NewEnv(env)
	var items []Value
	var dict *Dict
	if c.Kind == DictComp {
		dict = NewDict()
	}
	count := 0
	var loop func(level int) error
	loop = func(level int) error {
		if level == len(c.Generators) {
			count++
			if count > MaxComprehensionLength {
				return errorf("IterableTooLong", "Comprehension generates too many elements")
			}
			if dict != nil {
				key, err := ev.eval(c.Key, scope)
				if err != nil {
					return err
				}
				value, err := ev.eval(c.Elt, scope)
				if err != nil {
					return err
				}
				return dict.Set(key, value)
			}
			v, err := ev.eval(c.Elt, scope)
			if err != nil {
				return err
			}
			items = append(items, v)
			return nil
		}
		clause := c.Generators[level]
		iter, err := ev.eval(clause.Iter, scope)
		if err != nil {
			return err
		}
		return ev.th.Iterate(iter, func(item Value) error {
			if err := ev.assign(clause.Target, item, scope); err != nil {
				return err
			}
			for _, cond := range clause.Ifs {
				v, err := ev.eval(cond, scope)
				if err != nil {
					return err
				}
				if !Truthy(v) {
					return nil
				}
			}
			return loop(level + 1)
		})
	}
	if err := loop(0); err != nil {
		return nil, err
	}
	switch c.Kind {
	case DictComp:
		return dict, nil
	case SetComp:
		set := NewSet()
		for _, item := range items {
			if err := set.Add(item); err != nil {
				return nil, err
			}
		}
		return set, nil
	}
	// Generator expressions are materialized as lists.
	return NewList(items...), nil
}

// assign binds value to an assignment target.
func (ev *evaluator) assign(target Expr, value Value, env *Env) error {
	switch t := target.(type) {
	case *Name:
		env.Set(t.ID, value)
		return nil
	case *TupleExpr:
		return ev.unpack(t.Elts, value, env)
	case *ListExpr:
		return ev.unpack(t.Elts, value, env)
	case *Attribute:
		obj, err := ev.eval(t.Value, env)
		if err != nil {
			return err
		}
		return setAttr(obj, t.Attr, value)
	case *Subscript:
		obj, err := ev.eval(t.Value, env)
		if err != nil {
			return err
		}
		key, err := ev.eval(t.Index, env)
		if err != nil {
			return err
		}
		return setItem(obj, key, value)
	}
	return errorf("SyntaxError", "cannot assign to %s", Unparse(target))
}

func (ev *evaluator) unpack(targets []Expr, value Value, env *Env) error {
	items, err := toSlice(value)
	if err != nil {
		return errorf("TypeError", "cannot unpack non-iterable %s object", TypeName(value))
	}
	if len(items) > len(targets) {
		return errorf("ValueError", "too many values to unpack (expected %d)", len(targets))
	}
	if len(items) < len(targets) {
		return errorf("ValueError", "not enough values to unpack (expected %d, got %d)", len(targets), len(items))
	}
	for i, target := range targets {
		if err := ev.assign(target, items[i], env); err != nil {
			return err
		}
	}
	return nil
}

func frozenError(v Value) error {
	return errorf("TypeError", "'%s' object is read-only", TypeName(v))
}

func setItem(obj, key, value Value) error {
	switch c := obj.(type) {
	case *List:
		if c.frozen {
			return frozenError(c)
		}
		if _, isSlice := key.(*sliceValue); isSlice {
			return errorf("TypeError", "slice assignment is not supported")
		}
		i, err := sequenceIndex(key, len(c.Items), "list assignment")
		if err != nil {
			return err
		}
		c.Items[i] = value
		return nil
	case *Dict:
		if c.frozen {
			return frozenError(c)
		}
		return c.Set(key, value)
	}
	return errorf("TypeError", "'%s' object does not support item assignment", TypeName(obj))
}

// exec runs a statement list.
func (ev *evaluator) exec(stmts []Stmt, env *Env) (control, Value, error) {
	for _, stmt := range stmts {
		if err := ev.th.tick(); err != nil {
			return flowNormal, nil, err
		}
		flow, v, err := ev.execOne(stmt, env)
		if err != nil || flow != flowNormal {
			return flow, v, err
		}
	}
	return flowNormal, nil, nil
}

func (ev *evaluator) execOne(stmt Stmt, env *Env) (control, Value, error) {
	switch s := stmt.(type) {
	case *ExprStmt:
		_, err := ev.eval(s.Value, env)
		return flowNormal, nil, err
	case *Assign:
		v, err := ev.eval(s.Value, env)
		if err != nil {
			return flowNormal, nil, err
		}
		for _, target := range s.Targets {
			if err := ev.assign(target, v, env); err != nil {
				return flowNormal, nil, err
			}
		}
		return flowNormal, nil, nil
	case *AugAssign:
		return flowNormal, nil, ev.augAssign(s, env)
	case *Return:
		if s.Value == nil {
			return flowReturn, nil, nil
		}
		v, err := ev.eval(s.Value, env)
		return flowReturn, v, err
	case *Pass:
		return flowNormal, nil, nil
	case *Break:
		return flowBreak, nil, nil
	case *Continue:
		return flowContinue, nil, nil
	case *If:
		test, err := ev.eval(s.Test, env)
		if err != nil {
			return flowNormal, nil, err
		}
		if Truthy(test) {
			return ev.exec(s.Body, env)
		}
		return ev.exec(s.OrElse, env)
	case *For:
		iter, err := ev.eval(s.Iter, env)
		if err != nil {
			return flowNormal, nil, err
		}
		items, err := toSlice(iter)
		if err != nil {
			return flowNormal, nil, err
		}
		for _, item := range items {
			if err := ev.assign(s.Target, item, env); err != nil {
				return flowNormal, nil, err
			}
			flow, v, err := ev.exec(s.Body, env)
			if err != nil || flow == flowReturn {
				return flow, v, err
			}
			if flow == flowBreak {
				return flowNormal, nil, nil
			}
		}
		return ev.exec(s.OrElse, env)
	case *While:
		for {
			test, err := ev.eval(s.Test, env)
			if err != nil {
				return flowNormal, nil, err
			}
			if !Truthy(test) {
				return ev.exec(s.OrElse, env)
			}
			flow, v, err := ev.exec(s.Body, env)
			if err != nil || flow == flowReturn {
				return flow, v, err
			}
			if flow == flowBreak {
				return flowNormal, nil, nil
			}
		}
	case *Assert:
		test, err := ev.eval(s.Test, env)
		if err != nil || Truthy(test) {
			return flowNormal, nil, err
		}
		if s.Msg == nil {
			return flowNormal, nil, errorf("AssertionError", "")
		}
		msg, err := ev.eval(s.Msg, env)
		if err != nil {
			return flowNormal, nil, err
		}
		return flowNormal, nil, errorf("AssertionError", "%s", Str(msg))
	case *FunctionDef:
		fn, err := ev.makeFunction(s, env)
		if err != nil {
			return flowNormal, nil, err
		}
		env.Set(s.Name, fn)
		return flowNormal, nil, nil
	case *ClassDef:
		class, err := ev.makeClass(s, env)
		if err != nil {
			return flowNormal, nil, err
		}
		env.Set(s.Name, class)
		return flowNormal, nil, nil
	case *Import, *ImportFrom:
		return flowNormal, nil, ev.importModule(stmt, env)
	}
	return flowNormal, nil, errorf("SyntaxError", "unsupported statement %T", stmt)
}

func (ev *evaluator) augAssign(s *AugAssign, env *Env) error {
	current, err := ev.eval(s.Target, env)
	if err != nil {
		return err
	}
	operand, err := ev.eval(s.Value, env)
	if err != nil {
		return err
	}
	if list, ok := current.(*List); ok && s.Op == "+" && !list.frozen {
		items, err := toSlice(operand)
		if err != nil {
			return err
		}
		list.Items = append(list.Items, items...)
		return nil
	}
	result, err := binaryOp(s.Op, current, operand)
	if err != nil {
		return err
	}
	return ev.assign(s.Target, result, env)
}

func (ev *evaluator) importModule(stmt Stmt, env *Env) error {
	if ev.importer == nil {
		return errorf("ImportError", "imports are only allowed at module level")
	}
	switch s := stmt.(type) {
	case *Import:
		for _, alias := range s.Names {
			module, err := ev.importer(alias.Name)
			if err != nil {
				return err
			}
			env.Set(alias.BoundName(), module)
		}
	case *ImportFrom:
		module, err := ev.importer(s.Module)
		if err != nil {
			return err
		}
		for _, alias := range s.Names {
			v, err := getAttr(module, alias.Name)
			if err != nil {
				return errorf("ImportError", "cannot import name '%s' from '%s'", alias.Name, s.Module)
			}
			env.Set(alias.BoundName(), v)
		}
	}
	return nil
}

func (ev *evaluator) makeFunction(def *FunctionDef, env *Env) (*Function, error) {
	fn := &Function{def: def, closure: env}
	for _, param := range def.Params {
		if param.Default == nil {
			fn.defaults = append(fn.defaults, nil)
			continue
		}
		v, err := ev.eval(param.Default, env)
		if err != nil {
			return nil, err
		}
		fn.defaults = append(fn.defaults, defaultValue{v})
	}
	return fn, nil
}

func (ev *evaluator) makeClass(def *ClassDef, env *Env) (*Class, error) {
	class := &Class{name: def.Name}
	for _, base := range def.Bases {
		if name, ok := base.(*Name); ok && name.ID == "object" {
			continue
		}
		v, err := ev.eval(base, env)
		if err != nil {
			return nil, err
		}
		parent, ok := v.(*Class)
		if !ok {
			return nil, errorf("TypeError", "class %s can only inherit from classes, not %s", def.Name, TypeName(v))
		}
		class.bases = append(class.bases, parent)
	}
	body := NewEnv(env)
	if _, _, err := ev.exec(def.Body, body); err != nil {
		return nil, err
	}
	// Methods resolve free names in the enclosing scope, not the class body.
	for _, v := range body.vars {
		if fn, ok := v.(*Function); ok && fn.closure == body {
			fn.closure = env
		}
	}
	class.attrs = body.vars
	return class, nil
}

// defaultValue marks a parameter that has a default, so that a None
// default is distinguishable from a required parameter.
type defaultValue struct{ v Value }

// Function is a function defined in nameset source.
type Function struct {
	def      *FunctionDef
	defaults []any // nil or defaultValue per parameter
	closure  *Env
}

func (f *Function) Name() string { return f.def.Name }

func (f *Function) Call(th *Thread, args []Value, kwargs []Kwarg) (Value, error) {
	params := f.def.Params
	if len(args) > len(params) {
		return nil, errorf("TypeError", "%s() takes %d positional arguments but %d were given", f.def.Name, len(params), len(args))
	}
	env := NewEnv(f.closure)
	bound := make([]bool, len(params))
	for i, arg := range args {
		env.Set(params[i].Name, arg)
		bound[i] = true
	}
	for _, kw := range kwargs {
		found := false
		for i, param := range params {
			if param.Name != kw.Name {
				continue
			}
			if bound[i] {
				return nil, errorf("TypeError", "%s() got multiple values for argument '%s'", f.def.Name, kw.Name)
			}
			env.Set(param.Name, kw.Value)
			bound[i], found = true, true
			break
		}
		if !found {
			return nil, errorf("TypeError", "%s() got an unexpected keyword argument '%s'", f.def.Name, kw.Name)
		}
	}
	for i, param := range params {
		if bound[i] {
			continue
		}
		d, ok := f.defaults[i].(defaultValue)
		if !ok {
			return nil, errorf("TypeError", "%s() missing required argument: '%s'", f.def.Name, param.Name)
		}
		env.Set(param.Name, d.v)
	}
	ev := &evaluator{th: th}
	flow, v, err := ev.exec(f.def.Body, env)
	if err != nil {
		return nil, err
	}
	switch flow {
	case flowReturn:
		return v, nil
	case flowBreak, flowContinue:
		return nil, errorf("SyntaxError", "'break' or 'continue' outside loop in %s()", f.def.Name)
	}
	return nil, nil
}

// Builtin is a callable implemented in Go.
type Builtin struct {
	name  string
	fn    func(th *Thread, args []Value, kwargs []Kwarg) (Value, error)
	attrs map[string]Value
}

// NewBuiltin wraps fn as a callable named name.
func NewBuiltin(name string, fn func(th *Thread, args []Value, kwargs []Kwarg) (Value, error)) *Builtin {
	return &Builtin{name: name, fn: fn}
}

// WithAttr attaches an attribute such as jq.first and returns b.
func (b *Builtin) WithAttr(name string, v Value) *Builtin {
	if b.attrs == nil {
		b.attrs = make(map[string]Value)
	}
	b.attrs[name] = v
	return b
}

func (b *Builtin) Name() string { return b.name }

func (b *Builtin) Call(th *Thread, args []Value, kwargs []Kwarg) (Value, error) {
	return b.fn(th, args, kwargs)
}

// BoundMethod is a nameset function bound to an instance.
type BoundMethod struct {
	self Value
	fn   *Function
}

func (m *BoundMethod) Name() string { return m.fn.def.Name }

func (m *BoundMethod) Call(th *Thread, args []Value, kwargs []Kwarg) (Value, error) {
	return m.fn.Call(th, append([]Value{m.self}, args...), kwargs)
}

// Class is a class defined in nameset source.
type Class struct {
	name  string
	bases []*Class
	attrs map[string]Value
}

func (c *Class) Name() string { return c.name }

func (c *Class) lookup(name string) (Value, bool) {
	if v, ok := c.attrs[name]; ok {
		return v, true
	}
	for _, base := range c.bases {
		if v, ok := base.lookup(name); ok {
			return v, true
		}
	}
	return nil, false
}

func (c *Class) Call(th *Thread, args []Value, kwargs []Kwarg) (Value, error) {
	inst := &Instance{class: c, attrs: make(map[string]Value)}
	if init, ok := c.lookup("__init__"); ok {
		fn, ok := init.(*Function)
		if !ok {
			return nil, errorf("TypeError", "%s.__init__ is not a function", c.name)
		}
		result, err := fn.Call(th, append([]Value{inst}, args...), kwargs)
		if err != nil {
			return nil, err
		}
		if result != nil {
			return nil, errorf("TypeError", "__init__() should return None, not '%s'", TypeName(result))
		}
	} else if len(args) > 0 || len(kwargs) > 0 {
		return nil, errorf("TypeError", "%s() takes no arguments", c.name)
	}
	return inst, nil
}

// Instance is an object created by calling a Class.
type Instance struct {
	class *Class
	attrs map[string]Value
}

func getAttr(v Value, name string) (Value, error) {
	switch obj := v.(type) {
	case *Instance:
		if attr, ok := obj.attrs[name]; ok {
			return attr, nil
		}
		if attr, ok := obj.class.lookup(name); ok {
			if fn, ok := attr.(*Function); ok {
				return &BoundMethod{self: obj, fn: fn}, nil
			}
			return attr, nil
		}
	case *Class:
		if attr, ok := obj.lookup(name); ok {
			return attr, nil
		}
	case *Builtin:
		if attr, ok := obj.attrs[name]; ok {
			return attr, nil
		}
	case Object:
		attr, err := obj.Attr(name)
		if errors.Is(err, ErrNoAttribute) {
			break
		}
		return attr, err
	default:
		if method, ok := lookupMethod(v, name); ok {
			return method, nil
		}
		// Attribute reads fall back to item lookup on dicts, so that
		// config.interfaces reads the "interfaces" key.
		if dict, ok := v.(*Dict); ok {
			if attr, found, _ := dict.Get(name); found {
				return attr, nil
			}
		}
	}
	return nil, errorf("AttributeError", "'%s' object has no attribute '%s'", TypeName(v), name)
}

func setAttr(obj Value, name string, value Value) error {
	switch o := obj.(type) {
	case *Instance:
		o.attrs[name] = value
		return nil
	case *Class:
		o.attrs[name] = value
		return nil
	}
	return errorf("AttributeError", "'%s' object attribute '%s' is read-only", TypeName(obj), name)
}
