// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package expr

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// number is the common representation of bool, int64 and float64
// operands. Integer arithmetic stays exact until a result would leave
// int64, which raises OverflowError.
type number struct {
	i       int64
	f       float64
	isFloat bool
}

func toNumber(v Value) (number, bool) {
	switch v := v.(type) {
	case bool:
		if v {
			return number{i: 1}, true
		}
		return number{}, true
	case int64:
		return number{i: v}, true
	case float64:
		return number{f: v, isFloat: true}, true
	}
	return number{}, false
}

func (n number) float() float64 {
	if n.isFloat {
		return n.f
	}
	return float64(n.i)
}

func (n number) value() Value {
	if n.isFloat {
		return n.f
	}
	return n.i
}

func (n number) equal(m number) bool {
	if !n.isFloat && !m.isFloat {
		return n.i == m.i
	}
	return n.float() == m.float()
}

// less reports n < m.
func (n number) less(m number) bool {
	if !n.isFloat && !m.isFloat {
		return n.i < m.i
	}
	return n.float() < m.float()
}

func overflow() error { return errorf("OverflowError", "integer result too large") }

func addInt(a, b int64) (int64, error) {
	c := a + b
	if (c > a) != (b > 0) {
		return 0, overflow()
	}
	return c, nil
}

func subInt(a, b int64) (int64, error) {
	c := a - b
	if (c < a) != (b > 0) {
		return 0, overflow()
	}
	return c, nil
}

func mulInt(a, b int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	c := a * b
	if c/b != a || (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		return 0, overflow()
	}
	return c, nil
}

func floorDivInt(a, b int64) (int64, error) {
	if b == 0 {
		return 0, errorf("ZeroDivisionError", "integer division or modulo by zero")
	}
	if a == math.MinInt64 && b == -1 {
		return 0, overflow()
	}
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q, nil
}

func modInt(a, b int64) (int64, error) {
	if b == 0 {
		return 0, errorf("ZeroDivisionError", "integer division or modulo by zero")
	}
	if b == -1 {
		return 0, nil
	}
	r := a % b
	if r != 0 && (r < 0) != (b < 0) {
		r += b
	}
	return r, nil
}

func modFloat(a, b float64) (float64, error) {
	if b == 0 {
		return 0, errorf("ZeroDivisionError", "float modulo")
	}
	r := math.Mod(a, b)
	if r != 0 && (r < 0) != (b < 0) {
		r += b
	}
	return r, nil
}

func powInt(base, exp int64) (int64, error) {
	result := int64(1)
	for exp > 0 {
		var err error
		if exp&1 == 1 {
			if result, err = mulInt(result, base); err != nil {
				return 0, err
			}
		}
		exp >>= 1
		if exp > 0 {
			if base, err = mulInt(base, base); err != nil {
				return 0, err
			}
		}
	}
	return result, nil
}

func power(a, b number) (Value, error) {
	if math.Abs(b.float()) > MaxPower {
		return nil, errorf("NumberTooHigh", "Sorry! I don't want to evaluate %s ** %s", Repr(a.value()), Repr(b.value()))
	}
	if !a.isFloat && !b.isFloat {
		if b.i >= 0 {
			switch a.i {
			case 0, 1:
				if b.i == 0 {
					return int64(1), nil
				}
				return a.i, nil
			case -1:
				if b.i%2 == 0 {
					return int64(1), nil
				}
				return int64(-1), nil
			}
			return powInt(a.i, b.i)
		}
		if a.i == 0 {
			return nil, errorf("ZeroDivisionError", "0.0 cannot be raised to a negative power")
		}
		return math.Pow(float64(a.i), float64(b.i)), nil
	}
	x, y := a.float(), b.float()
	if x == 0 && y < 0 {
		return nil, errorf("ZeroDivisionError", "0.0 cannot be raised to a negative power")
	}
	if x < 0 && y != math.Trunc(y) {
		return nil, errorf("ValueError", "negative number cannot be raised to a fractional power")
	}
	result := math.Pow(x, y)
	if math.IsInf(result, 0) && !math.IsInf(x, 0) {
		return nil, errorf("OverflowError", "(34, 'Numerical result out of range')")
	}
	return result, nil
}

func unsupported(op string, a, b Value) error {
	return errorf("TypeError", "unsupported operand type(s) for %s: '%s' and '%s'", op, TypeName(a), TypeName(b))
}

// binaryOp applies a Python binary operator.
func binaryOp(op string, a, b Value) (Value, error) {
	x, xok := toNumber(a)
	y, yok := toNumber(b)
	if xok && yok {
		_, aBool := a.(bool)
		_, bBool := b.(bool)
		if aBool && bBool {
			switch op {
			case "&":
				return a.(bool) && b.(bool), nil
			case "|":
				return a.(bool) || b.(bool), nil
			case "^":
				return a.(bool) != b.(bool), nil
			}
		}
		return arithmetic(op, x, y)
	}

	switch op {
	case "+":
		return concat(a, b)
	case "*":
		if xok {
			return repeat(b, a, x)
		}
		if yok {
			return repeat(a, b, y)
		}
	case "%":
		if format, ok := a.(string); ok {
			return formatPercent(format, b)
		}
	case "-", "&", "|", "^":
		if sa, ok := a.(*Set); ok {
			if sb, ok := b.(*Set); ok {
				return setOp(op, sa, sb)
			}
		}
		if op == "|" {
			if da, ok := a.(*Dict); ok {
				if db, ok := b.(*Dict); ok {
					merged := da.copy()
					for i, key := range db.keys {
						_ = merged.Set(key, db.values[i])
					}
					return merged, nil
				}
			}
		}
	}
	return nil, unsupported(op, a, b)
}

func arithmetic(op string, x, y number) (Value, error) {
	ints := !x.isFloat && !y.isFloat
	switch op {
	case "+":
		if ints {
			return addInt(x.i, y.i)
		}
		return x.float() + y.float(), nil
	case "-":
		if ints {
			return subInt(x.i, y.i)
		}
		return x.float() - y.float(), nil
	case "*":
		if ints {
			return mulInt(x.i, y.i)
		}
		return x.float() * y.float(), nil
	case "/":
		if y.float() == 0 {
			return nil, errorf("ZeroDivisionError", "division by zero")
		}
		return x.float() / y.float(), nil
	case "//":
		if ints {
			return floorDivInt(x.i, y.i)
		}
		if y.float() == 0 {
			return nil, errorf("ZeroDivisionError", "float floor division by zero")
		}
		return math.Floor(x.float() / y.float()), nil
	case "%":
		if ints {
			return modInt(x.i, y.i)
		}
		return modFloat(x.float(), y.float())
	case "**":
		return power(x, y)
	case "&", "|", "^", "<<", ">>":
		if !ints {
			return nil, unsupported(op, x.value(), y.value())
		}
		return bitwise(op, x.i, y.i)
	}
	return nil, unsupported(op, x.value(), y.value())
}

func bitwise(op string, a, b int64) (Value, error) {
	switch op {
	case "&":
		return a & b, nil
	case "|":
		return a | b, nil
	case "^":
		return a ^ b, nil
	}
	if b < 0 {
		return nil, errorf("ValueError", "negative shift count")
	}
	if op == ">>" {
		if b > 63 {
			if a < 0 {
				return int64(-1), nil
			}
			return int64(0), nil
		}
		return a >> uint(b), nil
	}
	if a == 0 {
		return int64(0), nil
	}
	if b > 62 {
		return nil, overflow()
	}
	shifted := a << uint(b)
	if shifted>>uint(b) != a {
		return nil, overflow()
	}
	return shifted, nil
}

func concat(a, b Value) (Value, error) {
	switch a := a.(type) {
	case string:
		if s, ok := b.(string); ok {
			if len(a)+len(s) > MaxStringLength {
				return nil, tooLong()
			}
			return a + s, nil
		}
		return nil, errorf("TypeError", "can only concatenate str (not \"%s\") to str", TypeName(b))
	case *List:
		if other, ok := b.(*List); ok {
			if len(a.Items)+len(other.Items) > MaxCollectionLength {
				return nil, tooLong()
			}
			items := make([]Value, 0, len(a.Items)+len(other.Items))
			items = append(items, a.Items...)
			return NewList(append(items, other.Items...)...), nil
		}
		return nil, errorf("TypeError", "can only concatenate list (not \"%s\") to list", TypeName(b))
	case Tuple:
		if other, ok := b.(Tuple); ok {
			if len(a)+len(other) > MaxCollectionLength {
				return nil, tooLong()
			}
			items := make(Tuple, 0, len(a)+len(other))
			items = append(items, a...)
			return append(items, other...), nil
		}
		return nil, errorf("TypeError", "can only concatenate tuple (not \"%s\") to tuple", TypeName(b))
	}
	return nil, unsupported("+", a, b)
}

func tooLong() error {
	return errorf("IterableTooLong", "Sorry, I will not evaluate something that long.")
}

func repeat(seq, count Value, n number) (Value, error) {
	if n.isFloat {
		return nil, errorf("TypeError", "can't multiply sequence by non-int of type 'float'")
	}
	times := n.i
	if times < 0 {
		times = 0
	}
	switch s := seq.(type) {
	case string:
		if times > 0 && int64(len(s)) > MaxStringLength/times {
			return nil, tooLong()
		}
		return strings.Repeat(s, int(times)), nil
	case *List:
		items, err := repeatItems(s.Items, times)
		if err != nil {
			return nil, err
		}
		return NewList(items...), nil
	case Tuple:
		return repeatItems(s, times)
	}
	return nil, unsupported("*", seq, count)
}

func repeatItems(items []Value, times int64) (Tuple, error) {
	if times > 0 && int64(len(items)) > MaxCollectionLength/times {
		return nil, tooLong()
	}
	out := make(Tuple, 0, int64(len(items))*times)
	for i := int64(0); i < times; i++ {
		out = append(out, items...)
	}
	return out, nil
}

func setOp(op string, a, b *Set) (Value, error) {
	out := NewSet()
	out.frozen = a.frozen
	switch op {
	case "-":
		for _, item := range a.items {
			if found, _ := b.Has(item); !found {
				_ = out.Add(item)
			}
		}
	case "&":
		for _, item := range a.items {
			if found, _ := b.Has(item); found {
				_ = out.Add(item)
			}
		}
	case "|":
		for _, item := range a.items {
			_ = out.Add(item)
		}
		for _, item := range b.items {
			_ = out.Add(item)
		}
	case "^":
		for _, item := range a.items {
			if found, _ := b.Has(item); !found {
				_ = out.Add(item)
			}
		}
		for _, item := range b.items {
			if found, _ := a.Has(item); !found {
				_ = out.Add(item)
			}
		}
	}
	return out, nil
}

// unaryOp applies -, +, ~ or not.
func unaryOp(op string, v Value) (Value, error) {
	if op == "not" {
		return !Truthy(v), nil
	}
	n, ok := toNumber(v)
	if !ok {
		return nil, errorf("TypeError", "bad operand type for unary %s: '%s'", op, TypeName(v))
	}
	switch op {
	case "-":
		if n.isFloat {
			return -n.f, nil
		}
		if n.i == math.MinInt64 {
			return nil, overflow()
		}
		return -n.i, nil
	case "+":
		return n.value(), nil
	case "~":
		if n.isFloat {
			return nil, errorf("TypeError", "bad operand type for unary ~: 'float'")
		}
		return ^n.i, nil
	}
	return nil, errorf("TypeError", "unknown unary operator %s", op)
}

// compare applies one comparison operator.
func compare(op string, a, b Value) (bool, error) {
	switch op {
	case "==":
		return Equal(a, b), nil
	case "!=":
		return !Equal(a, b), nil
	case "is":
		return identical(a, b), nil
	case "is not":
		return !identical(a, b), nil
	case "in":
		return contains(b, a)
	case "not in":
		found, err := contains(b, a)
		return !found, err
	case "<":
		return lessThan(a, b, op)
	case ">":
		return lessThan(b, a, op)
	case "<=":
		if sa, ok := a.(*Set); ok {
			if sb, ok := b.(*Set); ok {
				return subset(sa, sb), nil
			}
		}
		less, err := lessThan(b, a, op)
		return !less && err == nil, err
	case ">=":
		if sa, ok := a.(*Set); ok {
			if sb, ok := b.(*Set); ok {
				return subset(sb, sa), nil
			}
		}
		less, err := lessThan(a, b, op)
		return !less && err == nil, err
	}
	return false, errorf("TypeError", "unknown comparison %s", op)
}

func subset(a, b *Set) bool {
	for _, item := range a.items {
		if found, _ := b.Has(item); !found {
			return false
		}
	}
	return true
}

// lessThan implements a < b; op names the operator the caller is
// evaluating for error messages.
func lessThan(a, b Value, op string) (bool, error) {
	if x, ok := toNumber(a); ok {
		if y, ok := toNumber(b); ok {
			return x.less(y), nil
		}
	}
	switch a := a.(type) {
	case string:
		if s, ok := b.(string); ok {
			return a < s, nil
		}
	case *List:
		if other, ok := b.(*List); ok {
			return sequenceLess(a.Items, other.Items, op)
		}
	case Tuple:
		if other, ok := b.(Tuple); ok {
			return sequenceLess(a, other, op)
		}
	case *Set:
		if other, ok := b.(*Set); ok {
			return a.Len() < other.Len() && subset(a, other), nil
		}
	}
	left, right := TypeName(a), TypeName(b)
	if op == ">" || op == "<=" {
		left, right = right, left
	}
	return false, errorf("TypeError", "'%s' not supported between instances of '%s' and '%s'", op, left, right)
}

func sequenceLess(a, b []Value, op string) (bool, error) {
	for i := 0; i < len(a) && i < len(b); i++ {
		if Equal(a[i], b[i]) {
			continue
		}
		return lessThan(a[i], b[i], op)
	}
	return len(a) < len(b), nil
}

// Container is implemented by host objects that support "in".
type Container interface {
	Contains(item Value) (bool, error)
}

func contains(container, item Value) (bool, error) {
	switch c := container.(type) {
	case string:
		s, ok := item.(string)
		if !ok {
			return false, errorf("TypeError", "'in <string>' requires string as left operand, not %s", TypeName(item))
		}
		return strings.Contains(c, s), nil
	case *List:
		return containsItem(c.Items, item), nil
	case Tuple:
		return containsItem(c, item), nil
	case *Dict:
		_, found, err := c.Get(item)
		return found, err
	case *Set:
		return c.Has(item)
	case *Range:
		n, ok := toNumber(item)
		if !ok || n.isFloat && n.f != math.Trunc(n.f) {
			return false, nil
		}
		v := int64(n.float())
		if !n.isFloat {
			v = n.i
		}
		if c.Len() == 0 {
			return false, nil
		}
		if c.Step > 0 && (v < c.Start || v >= c.Stop) || c.Step < 0 && (v > c.Start || v <= c.Stop) {
			return false, nil
		}
		return (v-c.Start)%c.Step == 0, nil
	case Container:
		return c.Contains(item)
	}
	return false, errorf("TypeError", "argument of type '%s' is not iterable", TypeName(container))
}

func containsItem(items []Value, item Value) bool {
	for _, candidate := range items {
		if identical(candidate, item) || Equal(candidate, item) {
			return true
		}
	}
	return false
}

// sliceValue is the evaluated form of a slice expression.
type sliceValue struct {
	Lower, Upper, Step Value
}

func sliceBound(v Value) (int64, bool, error) {
	if v == nil {
		return 0, false, nil
	}
	n, ok := toNumber(v)
	if !ok || n.isFloat {
		return 0, false, errorf("TypeError", "slice indices must be integers or None or have an __index__ method")
	}
	return n.i, true, nil
}

// indices resolves the slice against a sequence of length n.
func (s *sliceValue) indices(n int64) (start, stop, step int64, err error) {
	step = 1
	if v, ok, err := sliceBound(s.Step); err != nil {
		return 0, 0, 0, err
	} else if ok {
		if v == 0 {
			return 0, 0, 0, errorf("ValueError", "slice step cannot be zero")
		}
		step = v
	}
	clamp := func(v, low, high int64) int64 {
		if v < 0 {
			v += n
		}
		return min(max(v, low), high)
	}
	if step > 0 {
		start, stop = 0, n
		if v, ok, err := sliceBound(s.Lower); err != nil {
			return 0, 0, 0, err
		} else if ok {
			start = clamp(v, 0, n)
		}
		if v, ok, err := sliceBound(s.Upper); err != nil {
			return 0, 0, 0, err
		} else if ok {
			stop = clamp(v, 0, n)
		}
		return start, stop, step, nil
	}
	start, stop = n-1, -1
	if v, ok, err := sliceBound(s.Lower); err != nil {
		return 0, 0, 0, err
	} else if ok {
		start = clamp(v, -1, n-1)
	}
	if v, ok, err := sliceBound(s.Upper); err != nil {
		return 0, 0, 0, err
	} else if ok {
		stop = clamp(v, -1, n-1)
	}
	return start, stop, step, nil
}

func (s *sliceValue) positions(n int64) ([]int64, error) {
	start, stop, step, err := s.indices(n)
	if err != nil {
		return nil, err
	}
	var out []int64
	for i := start; (step > 0 && i < stop) || (step < 0 && i > stop); i += step {
		out = append(out, i)
	}
	return out, nil
}

func sliceItems(items []Value, s *sliceValue) ([]Value, error) {
	positions, err := s.positions(int64(len(items)))
	if err != nil {
		return nil, err
	}
	out := make([]Value, len(positions))
	for i, p := range positions {
		out[i] = items[p]
	}
	return out, nil
}

func sequenceIndex(key Value, n int, kind string) (int, error) {
	k, ok := toNumber(key)
	if !ok || k.isFloat {
		return 0, errorf("TypeError", "%s indices must be integers or slices, not %s", kind, TypeName(key))
	}
	i := k.i
	if i < 0 {
		i += int64(n)
	}
	if i < 0 || i >= int64(n) {
		return 0, errorf("IndexError", "%s index out of range", kind)
	}
	return int(i), nil
}

// index evaluates container[key].
func index(container, key Value) (Value, error) {
	s, isSlice := key.(*sliceValue)
	switch c := container.(type) {
	case *List:
		if isSlice {
			items, err := sliceItems(c.Items, s)
			if err != nil {
				return nil, err
			}
			return NewList(items...), nil
		}
		i, err := sequenceIndex(key, len(c.Items), "list")
		if err != nil {
			return nil, err
		}
		return c.Items[i], nil
	case Tuple:
		if isSlice {
			items, err := sliceItems(c, s)
			return Tuple(items), err
		}
		i, err := sequenceIndex(key, len(c), "tuple")
		if err != nil {
			return nil, err
		}
		return c[i], nil
	case string:
		runes := []rune(c)
		if isSlice {
			positions, err := s.positions(int64(len(runes)))
			if err != nil {
				return nil, err
			}
			out := make([]rune, len(positions))
			for i, p := range positions {
				out[i] = runes[p]
			}
			return string(out), nil
		}
		i, err := sequenceIndex(key, len(runes), "string")
		if err != nil {
			return nil, err
		}
		return string(runes[i]), nil
	case *Range:
		if isSlice {
			positions, err := s.positions(c.Len())
			if err != nil {
				return nil, err
			}
			items := make([]Value, len(positions))
			for i, p := range positions {
				items[i] = c.At(p)
			}
			return NewList(items...), nil
		}
		n := c.Len()
		if n > math.MaxInt32 {
			n = math.MaxInt32
		}
		i, err := sequenceIndex(key, int(n), "range object")
		if err != nil {
			return nil, err
		}
		return c.At(int64(i)), nil
	case *Dict:
		value, found, err := c.Get(key)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, errorf("KeyError", "%s", Repr(key))
		}
		return value, nil
	case Indexable:
		return c.Index(key)
	}
	return nil, errorf("TypeError", "'%s' object is not subscriptable", TypeName(container))
}

// Iterable is implemented by host objects that support iteration.
type Iterable interface {
	Iterate(fn func(Value) error) error
}

// iterate calls fn for each element of v.
func iterate(v Value, fn func(Value) error) error {
	switch c := v.(type) {
	case *List:
		items := c.Items
		for _, item := range items {
			if err := fn(item); err != nil {
				return err
			}
		}
		return nil
	case Tuple:
		for _, item := range c {
			if err := fn(item); err != nil {
				return err
			}
		}
		return nil
	case string:
		for _, r := range c {
			if err := fn(string(r)); err != nil {
				return err
			}
		}
		return nil
	case *Dict:
		keys := append([]Value(nil), c.keys...)
		for _, key := range keys {
			if err := fn(key); err != nil {
				return err
			}
		}
		return nil
	case *Set:
		items := append([]Value(nil), c.items...)
		for _, item := range items {
			if err := fn(item); err != nil {
				return err
			}
		}
		return nil
	case *Range:
		n := c.Len()
		for i := int64(0); i < n; i++ {
			if err := fn(c.At(i)); err != nil {
				return err
			}
		}
		return nil
	case Iterable:
		return c.Iterate(fn)
	}
	return errorf("TypeError", "'%s' object is not iterable", TypeName(v))
}

// toSlice materializes an iterable, refusing anything longer than
// MaxCollectionLength.
func toSlice(v Value) ([]Value, error) {
	switch c := v.(type) {
	case *List:
		return append([]Value(nil), c.Items...), nil
	case Tuple:
		return append([]Value(nil), c...), nil
	case *Range:
		if c.Len() > MaxCollectionLength {
			return nil, tooLong()
		}
	}
	var out []Value
	err := iterate(v, func(item Value) error {
		if len(out) >= MaxCollectionLength {
			return tooLong()
		}
		out = append(out, item)
		return nil
	})
	return out, err
}

func length(v Value) (int64, error) {
	switch c := v.(type) {
	case string:
		return int64(utf8.RuneCountInString(c)), nil
	case *List:
		return int64(len(c.Items)), nil
	case Tuple:
		return int64(len(c)), nil
	case *Dict:
		return int64(c.Len()), nil
	case *Set:
		return int64(c.Len()), nil
	case *Range:
		return c.Len(), nil
	case interface{ Len() int }:
		return int64(c.Len()), nil
	}
	return 0, errorf("TypeError", "object of type '%s' has no len()", TypeName(v))
}

// formatPercent implements printf-style "format % args".
func formatPercent(format string, args Value) (Value, error) {
	var positional []Value
	mapping, _ := args.(*Dict)
	if tuple, ok := args.(Tuple); ok {
		positional = tuple
	} else if mapping == nil {
		positional = []Value{args}
	}
	var b strings.Builder
	next := 0
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		i++
		if i >= len(format) {
			return nil, errorf("ValueError", "incomplete format")
		}
		var arg Value
		haveArg := false
		if format[i] == '(' {
			end := strings.IndexByte(format[i:], ')')
			if end < 0 || mapping == nil {
				return nil, errorf("TypeError", "format requires a mapping")
			}
			key := format[i+1 : i+end]
			value, found, _ := mapping.Get(key)
			if !found {
				return nil, errorf("KeyError", "%s", Repr(key))
			}
			arg, haveArg = value, true
			i += end + 1
		}
		specStart := i
		for i < len(format) && strings.IndexByte("-+ #0123456789.", format[i]) >= 0 {
			i++
		}
		if i >= len(format) {
			return nil, errorf("ValueError", "incomplete format")
		}
		spec := format[specStart:i]
		verb := format[i]
		if verb == '%' {
			b.WriteByte('%')
			continue
		}
		if !haveArg {
			if next >= len(positional) {
				return nil, errorf("TypeError", "not enough arguments for format string")
			}
			arg = positional[next]
			next++
		}
		text, err := formatOne(spec, verb, arg)
		if err != nil {
			return nil, err
		}
		b.WriteString(text)
		if b.Len() > MaxStringLength {
			return nil, tooLong()
		}
	}
	if mapping == nil && next < len(positional) {
		return nil, errorf("TypeError", "not all arguments converted during string formatting")
	}
	return b.String(), nil
}

func formatOne(spec string, verb byte, arg Value) (string, error) {
	switch verb {
	case 's':
		return fmt.Sprintf("%"+spec+"s", Str(arg)), nil
	case 'r', 'a':
		return fmt.Sprintf("%"+spec+"s", Repr(arg)), nil
	case 'd', 'i', 'u':
		n, ok := toNumber(arg)
		if !ok {
			return "", errorf("TypeError", "%%%c format: a real number is required, not %s", verb, TypeName(arg))
		}
		if n.isFloat {
			return fmt.Sprintf("%"+spec+"d", int64(n.f)), nil
		}
		return fmt.Sprintf("%"+spec+"d", n.i), nil
	case 'f', 'F', 'e', 'E', 'g', 'G':
		n, ok := toNumber(arg)
		if !ok {
			return "", errorf("TypeError", "must be real number, not %s", TypeName(arg))
		}
		if !strings.Contains(spec, ".") && verb != 'g' && verb != 'G' {
			spec += ".6"
		}
		return fmt.Sprintf("%"+spec+string(verb), n.float()), nil
	case 'x', 'X', 'o':
		n, ok := toNumber(arg)
		if !ok || n.isFloat {
			return "", errorf("TypeError", "%%%c format: an integer is required, not %s", verb, TypeName(arg))
		}
		return fmt.Sprintf("%"+spec+string(verb), n.i), nil
	case 'c':
		switch v := arg.(type) {
		case string:
			if utf8.RuneCountInString(v) != 1 {
				return "", errorf("TypeError", "%%c requires int or char")
			}
			return v, nil
		case int64:
			return string(rune(v)), nil
		}
		return "", errorf("TypeError", "%%c requires int or char")
	}
	return "", errorf("ValueError", "unsupported format character %s", strconv.QuoteRune(rune(verb)))
}
