// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package expr

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// builtinEnv is the outermost scope of every evaluation. It is never
// written after init.
var builtinEnv *Env

func init() {
	table := map[string]func(*Thread, []Value, []Kwarg) (Value, error){
		"abs":       builtinAbs,
		"all":       builtinAll,
		"any":       builtinAny,
		"ascii":     builtinASCII,
		"bin":       radix("bin", 2, "0b"),
		"bool":      builtinBool,
		"callable":  builtinCallable,
		"chr":       builtinChr,
		"dict":      builtinDict,
		"divmod":    builtinDivmod,
		"enumerate": builtinEnumerate,
		"filter":    builtinFilter,
		"float":     builtinFloat,
		"frozenset": builtinFrozenset,
		"hasattr":   builtinHasattr,
		"hex":       radix("hex", 16, "0x"),
		"int":       builtinInt,
		"len":       builtinLen,
		"list":      builtinList,
		"map":       builtinMap,
		"max":       minMax("max", false),
		"min":       minMax("min", true),
		"oct":       radix("oct", 8, "0o"),
		"ord":       builtinOrd,
		"pow":       builtinPow,
		"range":     builtinRange,
		"reversed":  builtinReversed,
		"round":     builtinRound,
		"set":       builtinSet,
		"sorted":    builtinSorted,
		"str":       builtinStr,
		"sum":       builtinSum,
		"tuple":     builtinTuple,
		"zip":       builtinZip,
	}
	vars := make(map[string]Value, len(table))
	for name, fn := range table {
		vars[name] = NewBuiltin(name, fn)
	}
	builtinEnv = envOf(vars, nil)
}

// Builtins returns the names of the builtin functions.
func Builtins() []string {
	names := make([]string, 0, len(builtinEnv.vars))
	for name := range builtinEnv.vars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// errStop ends an iteration early without an error.
var errStop = errors.New("stop iteration")

func arity(name string, args []Value, kwargs []Kwarg, minArgs, maxArgs int, allowed ...string) error {
	for _, kw := range kwargs {
		ok := false
		for _, a := range allowed {
			ok = ok || a == kw.Name
		}
		if !ok {
			return errorf("TypeError", "%s() got an unexpected keyword argument '%s'", name, kw.Name)
		}
	}
	switch {
	case len(args) < minArgs && minArgs == maxArgs:
		return errorf("TypeError", "%s() takes exactly %d argument(s) (%d given)", name, minArgs, len(args))
	case len(args) < minArgs:
		return errorf("TypeError", "%s() expected at least %d argument(s), got %d", name, minArgs, len(args))
	case maxArgs >= 0 && len(args) > maxArgs:
		return errorf("TypeError", "%s() expected at most %d argument(s), got %d", name, maxArgs, len(args))
	}
	return nil
}

func kwarg(kwargs []Kwarg, name string) (Value, bool) {
	for _, kw := range kwargs {
		if kw.Name == name {
			return kw.Value, true
		}
	}
	return nil, false
}

func intArg(fn string, v Value) (int64, error) {
	n, ok := toNumber(v)
	if !ok || n.isFloat {
		return 0, errorf("TypeError", "%s(): '%s' object cannot be interpreted as an integer", fn, TypeName(v))
	}
	return n.i, nil
}

func builtinAbs(_ *Thread, args []Value, kwargs []Kwarg) (Value, error) {
	if err := arity("abs", args, kwargs, 1, 1); err != nil {
		return nil, err
	}
	n, ok := toNumber(args[0])
	if !ok {
		return nil, errorf("TypeError", "bad operand type for abs(): '%s'", TypeName(args[0]))
	}
	if n.isFloat {
		return math.Abs(n.f), nil
	}
	if n.i < 0 {
		return unaryOp("-", n.i)
	}
	return n.i, nil
}

func builtinAll(th *Thread, args []Value, kwargs []Kwarg) (Value, error) {
	if err := arity("all", args, kwargs, 1, 1); err != nil {
		return nil, err
	}
	result := true
	err := th.Iterate(args[0], func(item Value) error {
		if !Truthy(item) {
			result = false
			return errStop
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return nil, err
	}
	return result, nil
}

func builtinAny(th *Thread, args []Value, kwargs []Kwarg) (Value, error) {
	if err := arity("any", args, kwargs, 1, 1); err != nil {
		return nil, err
	}
	result := false
	err := th.Iterate(args[0], func(item Value) error {
		if Truthy(item) {
			result = true
			return errStop
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return nil, err
	}
	return result, nil
}

func builtinASCII(_ *Thread, args []Value, kwargs []Kwarg) (Value, error) {
	if err := arity("ascii", args, kwargs, 1, 1); err != nil {
		return nil, err
	}
	var b strings.Builder
	for _, r := range Repr(args[0]) {
		switch {
		case r < 0x80:
			b.WriteRune(r)
		case r <= 0xff:
			fmt.Fprintf(&b, `\x%02x`, r)
		case r <= 0xffff:
			fmt.Fprintf(&b, `\u%04x`, r)
		default:
			fmt.Fprintf(&b, `\U%08x`, r)
		}
	}
	return b.String(), nil
}

func radix(name string, base int, prefix string) func(*Thread, []Value, []Kwarg) (Value, error) {
	return func(_ *Thread, args []Value, kwargs []Kwarg) (Value, error) {
		if err := arity(name, args, kwargs, 1, 1); err != nil {
			return nil, err
		}
		n, err := intArg(name, args[0])
		if err != nil {
			return nil, err
		}
		if n < 0 {
			return "-" + prefix + strconv.FormatUint(uint64(-n), base), nil
		}
		return prefix + strconv.FormatInt(n, base), nil
	}
}

func builtinBool(_ *Thread, args []Value, kwargs []Kwarg) (Value, error) {
	if err := arity("bool", args, kwargs, 0, 1); err != nil {
		return nil, err
	}
	return len(args) == 1 && Truthy(args[0]), nil
}

func builtinCallable(_ *Thread, args []Value, kwargs []Kwarg) (Value, error) {
	if err := arity("callable", args, kwargs, 1, 1); err != nil {
		return nil, err
	}
	_, ok := args[0].(Callable)
	return ok, nil
}

func builtinChr(_ *Thread, args []Value, kwargs []Kwarg) (Value, error) {
	if err := arity("chr", args, kwargs, 1, 1); err != nil {
		return nil, err
	}
	n, err := intArg("chr", args[0])
	if err != nil {
		return nil, err
	}
	if n < 0 || n > unicode.MaxRune {
		return nil, errorf("ValueError", "chr() arg not in range(0x110000)")
	}
	return string(rune(n)), nil
}

func builtinDict(th *Thread, args []Value, kwargs []Kwarg) (Value, error) {
	if len(args) > 1 {
		return nil, errorf("TypeError", "dict expected at most 1 argument, got %d", len(args))
	}
	dict := NewDict()
	if len(args) == 1 {
		if src, ok := args[0].(*Dict); ok {
			dict = src.copy()
		} else {
			err := th.Iterate(args[0], func(item Value) error {
				pair, err := toSlice(item)
				if err != nil || len(pair) != 2 {
					return errorf("ValueError", "dictionary update sequence element has wrong length")
				}
				return dict.Set(pair[0], pair[1])
			})
			if err != nil {
				return nil, err
			}
		}
	}
	for _, kw := range kwargs {
		dict.SetString(kw.Name, kw.Value)
	}
	return dict, nil
}

func builtinDivmod(_ *Thread, args []Value, kwargs []Kwarg) (Value, error) {
	if err := arity("divmod", args, kwargs, 2, 2); err != nil {
		return nil, err
	}
	q, err := binaryOp("//", args[0], args[1])
	if err != nil {
		return nil, err
	}
	r, err := binaryOp("%", args[0], args[1])
	if err != nil {
		return nil, err
	}
	return Tuple{q, r}, nil
}

func builtinEnumerate(th *Thread, args []Value, kwargs []Kwarg) (Value, error) {
	if err := arity("enumerate", args, kwargs, 1, 2, "start"); err != nil {
		return nil, err
	}
	start := int64(0)
	startArg, ok := kwarg(kwargs, "start")
	if len(args) == 2 {
		startArg, ok = args[1], true
	}
	if ok {
		var err error
		if start, err = intArg("enumerate", startArg); err != nil {
			return nil, err
		}
	}
	var out []Value
	err := th.Iterate(args[0], func(item Value) error {
		if len(out) >= MaxCollectionLength {
			return tooLong()
		}
		out = append(out, Tuple{start, item})
		start++
		return nil
	})
	if err != nil {
		return nil, err
	}
	return NewList(out...), nil
}

func builtinFilter(th *Thread, args []Value, kwargs []Kwarg) (Value, error) {
	if err := arity("filter", args, kwargs, 2, 2); err != nil {
		return nil, err
	}
	var out []Value
	err := th.Iterate(args[1], func(item Value) error {
		keep := Truthy(item)
		if args[0] != nil {
			v, err := th.Call(args[0], item)
			if err != nil {
				return err
			}
			keep = Truthy(v)
		}
		if keep {
			out = append(out, item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return NewList(out...), nil
}

func builtinFloat(_ *Thread, args []Value, kwargs []Kwarg) (Value, error) {
	if err := arity("float", args, kwargs, 0, 1); err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return 0.0, nil
	}
	if n, ok := toNumber(args[0]); ok {
		return n.float(), nil
	}
	s, ok := args[0].(string)
	if !ok {
		return nil, errorf("TypeError", "float() argument must be a string or a real number, not '%s'", TypeName(args[0]))
	}
	text := strings.ReplaceAll(strings.TrimSpace(s), "_", "")
	switch strings.ToLower(strings.TrimLeft(text, "+-")) {
	case "inf", "infinity", "nan":
	default:
		if strings.ContainsAny(strings.ToLower(text), "xpn") {
			return nil, errorf("ValueError", "could not convert string to float: %s", Repr(s))
		}
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil && !isRangeError(err) {
		return nil, errorf("ValueError", "could not convert string to float: %s", Repr(s))
	}
	return f, nil
}

func makeSet(th *Thread, name string, args []Value, kwargs []Kwarg) (*Set, error) {
	if err := arity(name, args, kwargs, 0, 1); err != nil {
		return nil, err
	}
	set := NewSet()
	if len(args) == 1 {
		if err := th.Iterate(args[0], set.Add); err != nil {
			return nil, err
		}
	}
	return set, nil
}

func builtinSet(th *Thread, args []Value, kwargs []Kwarg) (Value, error) {
	return makeSet(th, "set", args, kwargs)
}

func builtinFrozenset(th *Thread, args []Value, kwargs []Kwarg) (Value, error) {
	set, err := makeSet(th, "frozenset", args, kwargs)
	if err != nil {
		return nil, err
	}
	set.frozen = true
	return set, nil
}

func builtinHasattr(_ *Thread, args []Value, kwargs []Kwarg) (Value, error) {
	if err := arity("hasattr", args, kwargs, 2, 2); err != nil {
		return nil, err
	}
	name, ok := args[1].(string)
	if !ok {
		return nil, errorf("TypeError", "hasattr(): attribute name must be string")
	}
	if strings.HasPrefix(name, "_") || disallowedAttrs[name] {
		return false, nil
	}
	_, err := getAttr(args[0], name)
	return err == nil, nil
}

func builtinInt(_ *Thread, args []Value, kwargs []Kwarg) (Value, error) {
	if err := arity("int", args, kwargs, 0, 2, "base"); err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return int64(0), nil
	}
	baseArg, hasBase := kwarg(kwargs, "base")
	if len(args) == 2 {
		baseArg, hasBase = args[1], true
	}
	if s, ok := args[0].(string); ok {
		base := int64(10)
		if hasBase {
			var err error
			if base, err = intArg("int", baseArg); err != nil {
				return nil, err
			}
		}
		return parseInt(s, int(base))
	}
	if hasBase {
		return nil, errorf("TypeError", "int() can't convert non-string with explicit base")
	}
	n, ok := toNumber(args[0])
	if !ok {
		return nil, errorf("TypeError", "int() argument must be a string or a real number, not '%s'", TypeName(args[0]))
	}
	if !n.isFloat {
		return n.i, nil
	}
	if math.IsInf(n.f, 0) {
		return nil, errorf("OverflowError", "cannot convert float infinity to integer")
	}
	if math.IsNaN(n.f) {
		return nil, errorf("ValueError", "cannot convert float NaN to integer")
	}
	t := math.Trunc(n.f)
	if t >= math.MaxInt64 || t < math.MinInt64 {
		return nil, overflow()
	}
	return int64(t), nil
}

func parseInt(s string, base int) (Value, error) {
	invalid := errorf("ValueError", "invalid literal for int() with base %d: %s", base, Repr(s))
	if base != 0 && (base < 2 || base > 36) {
		return nil, errorf("ValueError", "int() base must be >= 2 and <= 36, or 0")
	}
	text := strings.TrimSpace(s)
	sign := ""
	if strings.HasPrefix(text, "-") || strings.HasPrefix(text, "+") {
		sign, text = text[:1], text[1:]
	}
	lower := strings.ToLower(text)
	for prefix, b := range map[string]int{"0x": 16, "0o": 8, "0b": 2} {
		if strings.HasPrefix(lower, prefix) && (base == b || base == 0) {
			text, base = text[2:], b
			break
		}
	}
	if base == 0 {
		if len(text) > 1 && text[0] == '0' && strings.Trim(text, "0_") != "" {
			return nil, invalid
		}
		base = 10
	}
	if text == "" || strings.HasPrefix(text, "_") || strings.HasSuffix(text, "_") || strings.Contains(text, "__") {
		return nil, invalid
	}
	n, err := strconv.ParseInt(sign+strings.ReplaceAll(text, "_", ""), base, 64)
	if err != nil {
		if isRangeError(err) {
			return nil, overflow()
		}
		return nil, invalid
	}
	return n, nil
}

func builtinLen(_ *Thread, args []Value, kwargs []Kwarg) (Value, error) {
	if err := arity("len", args, kwargs, 1, 1); err != nil {
		return nil, err
	}
	return length(args[0])
}

func builtinList(th *Thread, args []Value, kwargs []Kwarg) (Value, error) {
	if err := arity("list", args, kwargs, 0, 1); err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return NewList(), nil
	}
	items, err := collect(th, args[0])
	if err != nil {
		return nil, err
	}
	return NewList(items...), nil
}

func builtinTuple(th *Thread, args []Value, kwargs []Kwarg) (Value, error) {
	if err := arity("tuple", args, kwargs, 0, 1); err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return Tuple{}, nil
	}
	items, err := collect(th, args[0])
	if err != nil {
		return nil, err
	}
	return Tuple(items), nil
}

// collect materializes an iterable, charging steps per element.
func collect(th *Thread, v Value) ([]Value, error) {
	var out []Value
	err := th.Iterate(v, func(item Value) error {
		if len(out) >= MaxCollectionLength {
			return tooLong()
		}
		out = append(out, item)
		return nil
	})
	if out == nil && err == nil {
		out = []Value{}
	}
	return out, err
}

func builtinMap(th *Thread, args []Value, kwargs []Kwarg) (Value, error) {
	if err := arity("map", args, kwargs, 2, -1); err != nil {
		return nil, err
	}
	columns, err := zipColumns(th, args[1:])
	if err != nil {
		return nil, err
	}
	out := make([]Value, len(columns))
	for i, row := range columns {
		if out[i], err = th.Call(args[0], row...); err != nil {
			return nil, err
		}
	}
	return NewList(out...), nil
}

func builtinZip(th *Thread, args []Value, kwargs []Kwarg) (Value, error) {
	if err := arity("zip", args, kwargs, 0, -1); err != nil {
		return nil, err
	}
	rows, err := zipColumns(th, args)
	if err != nil {
		return nil, err
	}
	out := make([]Value, len(rows))
	for i, row := range rows {
		out[i] = Tuple(row)
	}
	return NewList(out...), nil
}

// zipColumns returns rows of the i-th element of every iterable,
// stopping at the shortest.
func zipColumns(th *Thread, iterables []Value) ([][]Value, error) {
	if len(iterables) == 0 {
		return nil, nil
	}
	columns := make([][]Value, len(iterables))
	shortest := -1
	for i, it := range iterables {
		items, err := collect(th, it)
		if err != nil {
			return nil, err
		}
		columns[i] = items
		if shortest < 0 || len(items) < shortest {
			shortest = len(items)
		}
	}
	rows := make([][]Value, shortest)
	for r := range rows {
		row := make([]Value, len(columns))
		for c := range columns {
			row[c] = columns[c][r]
		}
		rows[r] = row
	}
	return rows, nil
}

func minMax(name string, wantMin bool) func(*Thread, []Value, []Kwarg) (Value, error) {
	return func(th *Thread, args []Value, kwargs []Kwarg) (Value, error) {
		if err := arity(name, args, kwargs, 1, -1, "key", "default"); err != nil {
			return nil, err
		}
		items := args
		if len(args) == 1 {
			var err error
			if items, err = collect(th, args[0]); err != nil {
				return nil, err
			}
		}
		if len(items) == 0 {
			if def, ok := kwarg(kwargs, "default"); ok {
				return def, nil
			}
			return nil, errorf("ValueError", "%s() arg is an empty sequence", name)
		}
		key, _ := kwarg(kwargs, "key")
		best := items[0]
		bestKey, err := applyKey(th, key, best)
		if err != nil {
			return nil, err
		}
		for _, item := range items[1:] {
			itemKey, err := applyKey(th, key, item)
			if err != nil {
				return nil, err
			}
			var better bool
			if wantMin {
				better, err = lessThan(itemKey, bestKey, "<")
			} else {
				better, err = lessThan(bestKey, itemKey, "<")
			}
			if err != nil {
				return nil, err
			}
			if better {
				best, bestKey = item, itemKey
			}
		}
		return best, nil
	}
}

func applyKey(th *Thread, key, item Value) (Value, error) {
	if key == nil {
		return item, nil
	}
	return th.Call(key, item)
}

func builtinOrd(_ *Thread, args []Value, kwargs []Kwarg) (Value, error) {
	if err := arity("ord", args, kwargs, 1, 1); err != nil {
		return nil, err
	}
	s, ok := args[0].(string)
	if !ok {
		return nil, errorf("TypeError", "ord() expected string of length 1, but %s found", TypeName(args[0]))
	}
	runes := []rune(s)
	if len(runes) != 1 {
		return nil, errorf("TypeError", "ord() expected a character, but string of length %d found", len(runes))
	}
	return int64(runes[0]), nil
}

func builtinPow(_ *Thread, args []Value, kwargs []Kwarg) (Value, error) {
	if err := arity("pow", args, kwargs, 2, 3); err != nil {
		return nil, err
	}
	if len(args) == 2 {
		return binaryOp("**", args[0], args[1])
	}
	base, err := intArg("pow", args[0])
	if err != nil {
		return nil, err
	}
	exp, err := intArg("pow", args[1])
	if err != nil {
		return nil, err
	}
	mod, err := intArg("pow", args[2])
	if err != nil {
		return nil, err
	}
	if mod == 0 {
		return nil, errorf("ValueError", "pow() 3rd argument cannot be 0")
	}
	if exp < 0 {
		return nil, errorf("ValueError", "pow() 2nd argument cannot be negative when 3rd argument specified")
	}
	result := int64(1)
	b, _ := modInt(base, mod)
	for exp > 0 {
		if exp&1 == 1 {
			product, err := mulInt(result, b)
			if err != nil {
				return nil, err
			}
			result, _ = modInt(product, mod)
		}
		square, err := mulInt(b, b)
		if err != nil {
			return nil, err
		}
		b, _ = modInt(square, mod)
		exp >>= 1
	}
	return modInt(result, mod)
}

func builtinRange(_ *Thread, args []Value, kwargs []Kwarg) (Value, error) {
	if err := arity("range", args, kwargs, 1, 3); err != nil {
		return nil, err
	}
	bounds := make([]int64, len(args))
	for i, arg := range args {
		n, err := intArg("range", arg)
		if err != nil {
			return nil, err
		}
		bounds[i] = n
	}
	r := &Range{Step: 1}
	switch len(bounds) {
	case 1:
		r.Stop = bounds[0]
	case 2:
		r.Start, r.Stop = bounds[0], bounds[1]
	case 3:
		r.Start, r.Stop, r.Step = bounds[0], bounds[1], bounds[2]
		if r.Step == 0 {
			return nil, errorf("ValueError", "range() arg 3 must not be zero")
		}
	}
	return r, nil
}

func builtinReversed(th *Thread, args []Value, kwargs []Kwarg) (Value, error) {
	if err := arity("reversed", args, kwargs, 1, 1); err != nil {
		return nil, err
	}
	switch args[0].(type) {
	case *Dict, *Set:
		return nil, errorf("TypeError", "'%s' object is not reversible", TypeName(args[0]))
	}
	items, err := collect(th, args[0])
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return NewList(items...), nil
}

func builtinRound(_ *Thread, args []Value, kwargs []Kwarg) (Value, error) {
	if err := arity("round", args, kwargs, 1, 2, "ndigits"); err != nil {
		return nil, err
	}
	n, ok := toNumber(args[0])
	if !ok {
		return nil, errorf("TypeError", "type %s doesn't define __round__ method", TypeName(args[0]))
	}
	digitsArg, hasDigits := kwarg(kwargs, "ndigits")
	if len(args) == 2 {
		digitsArg, hasDigits = args[1], true
	}
	if !hasDigits || digitsArg == nil {
		if !n.isFloat {
			return n.i, nil
		}
		return builtinInt(nil, []Value{math.RoundToEven(n.f)}, nil)
	}
	digits, err := intArg("round", digitsArg)
	if err != nil {
		return nil, err
	}
	if !n.isFloat {
		if digits >= 0 {
			return n.i, nil
		}
		scale, err := powInt(10, -digits)
		if err != nil {
			return int64(0), nil
		}
		rounded := math.RoundToEven(float64(n.i)/float64(scale)) * float64(scale)
		return int64(rounded), nil
	}
	if digits > 300 {
		return n.f, nil
	}
	scale := math.Pow(10, float64(digits))
	rounded := math.RoundToEven(n.f*scale) / scale
	// Re-parse through the shortest representation to drop binary noise.
	if parsed, err := strconv.ParseFloat(strconv.FormatFloat(rounded, 'f', int(max(digits, 0)), 64), 64); err == nil {
		return parsed, nil
	}
	return rounded, nil
}

func builtinSorted(th *Thread, args []Value, kwargs []Kwarg) (Value, error) {
	if err := arity("sorted", args, kwargs, 1, 1, "key", "reverse"); err != nil {
		return nil, err
	}
	items, err := collect(th, args[0])
	if err != nil {
		return nil, err
	}
	key, _ := kwarg(kwargs, "key")
	reverse, _ := kwarg(kwargs, "reverse")
	if err := sortValues(th, items, key, Truthy(reverse)); err != nil {
		return nil, err
	}
	return NewList(items...), nil
}

// sortValues sorts items in place, stably, comparing with "<".
func sortValues(th *Thread, items []Value, key Value, reverse bool) error {
	keys := make([]Value, len(items))
	for i, item := range items {
		k, err := applyKey(th, key, item)
		if err != nil {
			return err
		}
		keys[i] = k
	}
	order := make([]int, len(items))
	for i := range order {
		order[i] = i
	}
	var sortErr error
	sort.SliceStable(order, func(i, j int) bool {
		a, b := keys[order[i]], keys[order[j]]
		if reverse {
			a, b = b, a
		}
		less, err := lessThan(a, b, "<")
		if err != nil && sortErr == nil {
			sortErr = err
		}
		return less
	})
	if sortErr != nil {
		return sortErr
	}
	sorted := make([]Value, len(items))
	for i, idx := range order {
		sorted[i] = items[idx]
	}
	copy(items, sorted)
	return nil
}

func builtinStr(_ *Thread, args []Value, kwargs []Kwarg) (Value, error) {
	if err := arity("str", args, kwargs, 0, 1); err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return "", nil
	}
	return Str(args[0]), nil
}

func builtinSum(th *Thread, args []Value, kwargs []Kwarg) (Value, error) {
	if err := arity("sum", args, kwargs, 1, 2, "start"); err != nil {
		return nil, err
	}
	var total Value = int64(0)
	if start, ok := kwarg(kwargs, "start"); ok {
		total = start
	}
	if len(args) == 2 {
		total = args[1]
	}
	if _, isString := total.(string); isString {
		return nil, errorf("TypeError", "sum() can't sum strings [use ''.join(seq) instead]")
	}
	err := th.Iterate(args[0], func(item Value) error {
		var err error
		total, err = binaryOp("+", total, item)
		return err
	})
	if err != nil {
		return nil, err
	}
	return total, nil
}
