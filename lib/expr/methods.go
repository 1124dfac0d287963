// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package expr

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

type methodFunc func(th *Thread, self Value, args []Value, kwargs []Kwarg) (Value, error)

// lookupMethod binds a built-in method of a str, list, tuple, dict or
// set value.
func lookupMethod(v Value, name string) (*Builtin, bool) {
	var table map[string]methodFunc
	switch v.(type) {
	case string:
		table = stringMethods
	case *List:
		table = listMethods
	case Tuple:
		table = tupleMethods
	case *Dict:
		table = dictMethods
	case *Set:
		table = setMethods
	default:
		return nil, false
	}
	fn, ok := table[name]
	if !ok {
		return nil, false
	}
	return NewBuiltin(name, func(th *Thread, args []Value, kwargs []Kwarg) (Value, error) {
		return fn(th, v, args, kwargs)
	}), true
}

var (
	stringMethods map[string]methodFunc
	listMethods   map[string]methodFunc
	tupleMethods  map[string]methodFunc
	dictMethods   map[string]methodFunc
	setMethods    map[string]methodFunc
)

func init() {
	stringMethods = map[string]methodFunc{
		"capitalize": strTransform(func(s string) string {
			runes := []rune(strings.ToLower(s))
			if len(runes) > 0 {
				runes[0] = unicode.ToUpper(runes[0])
			}
			return string(runes)
		}),
		"casefold":     strTransform(strings.ToLower),
		"lower":        strTransform(strings.ToLower),
		"upper":        strTransform(strings.ToUpper),
		"swapcase":     strTransform(swapCase),
		"title":        strTransform(titleCase),
		"isalnum":      strPredicate(func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }),
		"isalpha":      strPredicate(unicode.IsLetter),
		"isdigit":      strPredicate(unicode.IsDigit),
		"isdecimal":    strPredicate(unicode.IsDigit),
		"isnumeric":    strPredicate(unicode.IsNumber),
		"isspace":      strPredicate(unicode.IsSpace),
		"islower":      strCase(unicode.IsLower, unicode.IsUpper),
		"isupper":      strCase(unicode.IsUpper, unicode.IsLower),
		"startswith":   strAffix("startswith", strings.HasPrefix),
		"endswith":     strAffix("endswith", strings.HasSuffix),
		"strip":        strStrip("strip", true, true),
		"lstrip":       strStrip("lstrip", true, false),
		"rstrip":       strStrip("rstrip", false, true),
		"split":        strSplit("split", false),
		"rsplit":       strSplit("rsplit", true),
		"splitlines":   strSplitlines,
		"join":         strJoin,
		"replace":      strReplace,
		"find":         strFind("find", false, false),
		"rfind":        strFind("rfind", true, false),
		"index":        strFind("index", false, true),
		"rindex":       strFind("rindex", true, true),
		"count":        strCount,
		"removeprefix": strRemove("removeprefix", strings.TrimPrefix),
		"removesuffix": strRemove("removesuffix", strings.TrimSuffix),
		"partition":    strPartition("partition", false),
		"rpartition":   strPartition("rpartition", true),
		"center":       strPad("center"),
		"ljust":        strPad("ljust"),
		"rjust":        strPad("rjust"),
		"zfill":        strZfill,
	}

	listMethods = map[string]methodFunc{
		"count":   seqCount,
		"index":   seqIndex,
		"copy":    listCopy,
		"append":  listAppend,
		"extend":  listExtend,
		"insert":  listInsert,
		"pop":     listPop,
		"remove":  listRemove,
		"clear":   listClear,
		"sort":    listSort,
		"reverse": listReverse,
	}

	tupleMethods = map[string]methodFunc{
		"count": seqCount,
		"index": seqIndex,
	}

	dictMethods = map[string]methodFunc{
		"get":        dictGet,
		"keys":       dictKeys,
		"values":     dictValues,
		"items":      dictItems,
		"copy":       dictCopy,
		"pop":        dictPop,
		"setdefault": dictSetdefault,
		"clear":      dictClear,
		"update":     dictUpdate,
	}

	setMethods = map[string]methodFunc{
		"union":                setCombine("union", "|"),
		"intersection":         setCombine("intersection", "&"),
		"difference":           setCombine("difference", "-"),
		"symmetric_difference": setCombine("symmetric_difference", "^"),
		"issubset":             setRelation("issubset", "<="),
		"issuperset":           setRelation("issuperset", ">="),
		"isdisjoint":           setDisjoint,
		"copy":                 setCopy,
		"add":                  setAdd,
		"discard":              setDiscard,
		"remove":               setRemove,
		"pop":                  setPop,
		"clear":                setClear,
		"update":               setUpdate,
	}
}

func stringArg(method string, v Value) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", errorf("TypeError", "%s() argument must be str, not %s", method, TypeName(v))
	}
	return s, nil
}

func strTransform(fn func(string) string) methodFunc {
	return func(_ *Thread, self Value, args []Value, kwargs []Kwarg) (Value, error) {
		if err := arity("str method", args, kwargs, 0, 0); err != nil {
			return nil, err
		}
		return fn(self.(string)), nil
	}
}

func strPredicate(fn func(rune) bool) methodFunc {
	return func(_ *Thread, self Value, args []Value, kwargs []Kwarg) (Value, error) {
		s := self.(string)
		if s == "" {
			return false, nil
		}
		for _, r := range s {
			if !fn(r) {
				return false, nil
			}
		}
		return true, nil
	}
}

// strCase implements islower/isupper: at least one cased rune, and no
// rune of the opposite case.
func strCase(want, opposite func(rune) bool) methodFunc {
	return func(_ *Thread, self Value, args []Value, kwargs []Kwarg) (Value, error) {
		found := false
		for _, r := range self.(string) {
			if opposite(r) {
				return false, nil
			}
			found = found || want(r)
		}
		return found, nil
	}
}

func swapCase(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsUpper(r) {
			return unicode.ToLower(r)
		}
		return unicode.ToUpper(r)
	}, s)
}

func titleCase(s string) string {
	var b strings.Builder
	previousCased := false
	for _, r := range s {
		if previousCased {
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(unicode.ToUpper(r))
		}
		previousCased = unicode.IsLetter(r)
	}
	return b.String()
}

func strAffix(name string, test func(s, affix string) bool) methodFunc {
	return func(_ *Thread, self Value, args []Value, kwargs []Kwarg) (Value, error) {
		if err := arity(name, args, kwargs, 1, 1); err != nil {
			return nil, err
		}
		s := self.(string)
		switch affix := args[0].(type) {
		case string:
			return test(s, affix), nil
		case Tuple:
			for _, item := range affix {
				a, err := stringArg(name, item)
				if err != nil {
					return nil, err
				}
				if test(s, a) {
					return true, nil
				}
			}
			return false, nil
		}
		return nil, errorf("TypeError", "%s first arg must be str or a tuple of str, not %s", name, TypeName(args[0]))
	}
}

func strStrip(name string, left, right bool) methodFunc {
	return func(_ *Thread, self Value, args []Value, kwargs []Kwarg) (Value, error) {
		if err := arity(name, args, kwargs, 0, 1); err != nil {
			return nil, err
		}
		s := self.(string)
		cut := unicode.IsSpace
		if len(args) == 1 && args[0] != nil {
			chars, err := stringArg(name, args[0])
			if err != nil {
				return nil, err
			}
			cut = func(r rune) bool { return strings.ContainsRune(chars, r) }
		}
		if left {
			s = strings.TrimLeftFunc(s, cut)
		}
		if right {
			s = strings.TrimRightFunc(s, cut)
		}
		return s, nil
	}
}

func strSplit(name string, fromRight bool) methodFunc {
	return func(_ *Thread, self Value, args []Value, kwargs []Kwarg) (Value, error) {
		if err := arity(name, args, kwargs, 0, 2, "sep", "maxsplit"); err != nil {
			return nil, err
		}
		s := self.(string)
		sepArg, _ := kwarg(kwargs, "sep")
		maxArg, hasMax := kwarg(kwargs, "maxsplit")
		if len(args) >= 1 {
			sepArg = args[0]
		}
		if len(args) == 2 {
			maxArg, hasMax = args[1], true
		}
		maxsplit := int64(-1)
		if hasMax {
			var err error
			if maxsplit, err = intArg(name, maxArg); err != nil {
				return nil, err
			}
		}
		var parts []string
		if sepArg == nil {
			parts = splitWhitespace(s, int(maxsplit), fromRight)
		} else {
			sep, err := stringArg(name, sepArg)
			if err != nil {
				return nil, err
			}
			if sep == "" {
				return nil, errorf("ValueError", "empty separator")
			}
			switch {
			case maxsplit < 0:
				parts = strings.Split(s, sep)
			case !fromRight:
				parts = strings.SplitN(s, sep, int(maxsplit)+1)
			default:
				parts = rsplitN(s, sep, int(maxsplit))
			}
		}
		items := make([]Value, len(parts))
		for i, part := range parts {
			items[i] = part
		}
		return NewList(items...), nil
	}
}

func rsplitN(s, sep string, maxsplit int) []string {
	var parts []string
	for maxsplit > 0 {
		i := strings.LastIndex(s, sep)
		if i < 0 {
			break
		}
		parts = append(parts, s[i+len(sep):])
		s = s[:i]
		maxsplit--
	}
	parts = append(parts, s)
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return parts
}

// splitWhitespace splits on runs of whitespace, leaving the remainder
// intact once maxsplit splits were made.
func splitWhitespace(s string, maxsplit int, fromRight bool) []string {
	if maxsplit < 0 {
		return strings.Fields(s)
	}
	if fromRight {
		s = strings.TrimRightFunc(s, unicode.IsSpace)
		var parts []string
		for maxsplit > 0 {
			i := strings.LastIndexFunc(s, unicode.IsSpace)
			if i < 0 {
				break
			}
			_, size := utf8.DecodeRuneInString(s[i:])
			parts = append(parts, s[i+size:])
			s = strings.TrimRightFunc(s[:i], unicode.IsSpace)
			maxsplit--
		}
		if s != "" {
			parts = append(parts, s)
		}
		for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
			parts[i], parts[j] = parts[j], parts[i]
		}
		return parts
	}
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	var parts []string
	for maxsplit > 0 && s != "" {
		i := strings.IndexFunc(s, unicode.IsSpace)
		if i < 0 {
			break
		}
		parts = append(parts, s[:i])
		s = strings.TrimLeftFunc(s[i:], unicode.IsSpace)
		maxsplit--
	}
	if s != "" {
		parts = append(parts, s)
	}
	return parts
}

func strSplitlines(_ *Thread, self Value, args []Value, kwargs []Kwarg) (Value, error) {
	if err := arity("splitlines", args, kwargs, 0, 1, "keepends"); err != nil {
		return nil, err
	}
	keepArg, _ := kwarg(kwargs, "keepends")
	if len(args) == 1 {
		keepArg = args[0]
	}
	keep := Truthy(keepArg)
	s := self.(string)
	var items []Value
	for len(s) > 0 {
		i := strings.IndexAny(s, "\r\n")
		if i < 0 {
			items = append(items, s)
			break
		}
		end := i + 1
		if s[i] == '\r' && end < len(s) && s[end] == '\n' {
			end++
		}
		if keep {
			items = append(items, s[:end])
		} else {
			items = append(items, s[:i])
		}
		s = s[end:]
	}
	return NewList(items...), nil
}

func strJoin(th *Thread, self Value, args []Value, kwargs []Kwarg) (Value, error) {
	if err := arity("join", args, kwargs, 1, 1); err != nil {
		return nil, err
	}
	var parts []string
	total := 0
	err := th.Iterate(args[0], func(item Value) error {
		s, ok := item.(string)
		if !ok {
			return errorf("TypeError", "sequence item %d: expected str instance, %s found", len(parts), TypeName(item))
		}
		total += len(s) + len(self.(string))
		if total > MaxStringLength {
			return tooLong()
		}
		parts = append(parts, s)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return strings.Join(parts, self.(string)), nil
}

func strReplace(_ *Thread, self Value, args []Value, kwargs []Kwarg) (Value, error) {
	if err := arity("replace", args, kwargs, 2, 3); err != nil {
		return nil, err
	}
	old, err := stringArg("replace", args[0])
	if err != nil {
		return nil, err
	}
	replacement, err := stringArg("replace", args[1])
	if err != nil {
		return nil, err
	}
	count := int64(-1)
	if len(args) == 3 {
		if count, err = intArg("replace", args[2]); err != nil {
			return nil, err
		}
	}
	s := self.(string)
	result := strings.Replace(s, old, replacement, int(count))
	if len(result) > MaxStringLength {
		return nil, tooLong()
	}
	return result, nil
}

// strWindow applies optional start/end rune positions to s, returning
// the window and its rune offset.
func strWindow(s string, bounds []Value) (string, int, error) {
	runes := []rune(s)
	window := &sliceValue{}
	if len(bounds) > 0 {
		window.Lower = bounds[0]
	}
	if len(bounds) > 1 {
		window.Upper = bounds[1]
	}
	start, stop, _, err := window.indices(int64(len(runes)))
	if err != nil {
		return "", 0, err
	}
	if stop < start {
		stop = start
	}
	return string(runes[start:stop]), int(start), nil
}

func strFind(name string, fromRight, raise bool) methodFunc {
	return func(_ *Thread, self Value, args []Value, kwargs []Kwarg) (Value, error) {
		if err := arity(name, args, kwargs, 1, 3); err != nil {
			return nil, err
		}
		sub, err := stringArg(name, args[0])
		if err != nil {
			return nil, err
		}
		window, offset, err := strWindow(self.(string), args[1:])
		if err != nil {
			return nil, err
		}
		i := strings.Index(window, sub)
		if fromRight {
			i = strings.LastIndex(window, sub)
		}
		if i < 0 {
			if raise {
				return nil, errorf("ValueError", "substring not found")
			}
			return int64(-1), nil
		}
		return int64(offset + utf8.RuneCountInString(window[:i])), nil
	}
}

func strCount(_ *Thread, self Value, args []Value, kwargs []Kwarg) (Value, error) {
	if err := arity("count", args, kwargs, 1, 3); err != nil {
		return nil, err
	}
	sub, err := stringArg("count", args[0])
	if err != nil {
		return nil, err
	}
	window, _, err := strWindow(self.(string), args[1:])
	if err != nil {
		return nil, err
	}
	return int64(strings.Count(window, sub)), nil
}

func strRemove(name string, trim func(s, affix string) string) methodFunc {
	return func(_ *Thread, self Value, args []Value, kwargs []Kwarg) (Value, error) {
		if err := arity(name, args, kwargs, 1, 1); err != nil {
			return nil, err
		}
		affix, err := stringArg(name, args[0])
		if err != nil {
			return nil, err
		}
		return trim(self.(string), affix), nil
	}
}

func strPartition(name string, fromRight bool) methodFunc {
	return func(_ *Thread, self Value, args []Value, kwargs []Kwarg) (Value, error) {
		if err := arity(name, args, kwargs, 1, 1); err != nil {
			return nil, err
		}
		sep, err := stringArg(name, args[0])
		if err != nil {
			return nil, err
		}
		if sep == "" {
			return nil, errorf("ValueError", "empty separator")
		}
		s := self.(string)
		i := strings.Index(s, sep)
		if fromRight {
			i = strings.LastIndex(s, sep)
		}
		if i < 0 {
			if fromRight {
				return Tuple{"", "", s}, nil
			}
			return Tuple{s, "", ""}, nil
		}
		return Tuple{s[:i], sep, s[i+len(sep):]}, nil
	}
}

func strPad(name string) methodFunc {
	return func(_ *Thread, self Value, args []Value, kwargs []Kwarg) (Value, error) {
		if err := arity(name, args, kwargs, 1, 2); err != nil {
			return nil, err
		}
		width, err := intArg(name, args[0])
		if err != nil {
			return nil, err
		}
		if width > MaxStringLength {
			return nil, tooLong()
		}
		fill := " "
		if len(args) == 2 {
			if fill, err = stringArg(name, args[1]); err != nil {
				return nil, err
			}
			if utf8.RuneCountInString(fill) != 1 {
				return nil, errorf("TypeError", "The fill character must be exactly one character long")
			}
		}
		s := self.(string)
		missing := int(width) - utf8.RuneCountInString(s)
		if missing <= 0 {
			return s, nil
		}
		switch name {
		case "ljust":
			return s + strings.Repeat(fill, missing), nil
		case "rjust":
			return strings.Repeat(fill, missing) + s, nil
		}
		left := missing / 2
		if missing%2 == 1 && int(width)%2 == 1 {
			left++
		}
		return strings.Repeat(fill, left) + s + strings.Repeat(fill, missing-left), nil
	}
}

func strZfill(_ *Thread, self Value, args []Value, kwargs []Kwarg) (Value, error) {
	if err := arity("zfill", args, kwargs, 1, 1); err != nil {
		return nil, err
	}
	width, err := intArg("zfill", args[0])
	if err != nil {
		return nil, err
	}
	if width > MaxStringLength {
		return nil, tooLong()
	}
	s := self.(string)
	missing := int(width) - utf8.RuneCountInString(s)
	if missing <= 0 {
		return s, nil
	}
	sign := ""
	if strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		sign, s = s[:1], s[1:]
	}
	return sign + strings.Repeat("0", missing) + s, nil
}

func sequenceItems(self Value) []Value {
	if list, ok := self.(*List); ok {
		return list.Items
	}
	return self.(Tuple)
}

func seqCount(_ *Thread, self Value, args []Value, kwargs []Kwarg) (Value, error) {
	if err := arity("count", args, kwargs, 1, 1); err != nil {
		return nil, err
	}
	n := int64(0)
	for _, item := range sequenceItems(self) {
		if Equal(item, args[0]) {
			n++
		}
	}
	return n, nil
}

func seqIndex(_ *Thread, self Value, args []Value, kwargs []Kwarg) (Value, error) {
	if err := arity("index", args, kwargs, 1, 1); err != nil {
		return nil, err
	}
	for i, item := range sequenceItems(self) {
		if Equal(item, args[0]) {
			return int64(i), nil
		}
	}
	return nil, errorf("ValueError", "%s is not in %s", Repr(args[0]), TypeName(self))
}

func mutableList(self Value) (*List, error) {
	list := self.(*List)
	if list.frozen {
		return nil, frozenError(list)
	}
	return list, nil
}

func listCopy(_ *Thread, self Value, args []Value, kwargs []Kwarg) (Value, error) {
	if err := arity("copy", args, kwargs, 0, 0); err != nil {
		return nil, err
	}
	return NewList(append([]Value(nil), self.(*List).Items...)...), nil
}

func listAppend(_ *Thread, self Value, args []Value, kwargs []Kwarg) (Value, error) {
	if err := arity("append", args, kwargs, 1, 1); err != nil {
		return nil, err
	}
	list, err := mutableList(self)
	if err != nil {
		return nil, err
	}
	if len(list.Items) >= MaxCollectionLength {
		return nil, tooLong()
	}
	list.Items = append(list.Items, args[0])
	return nil, nil
}

func listExtend(th *Thread, self Value, args []Value, kwargs []Kwarg) (Value, error) {
	if err := arity("extend", args, kwargs, 1, 1); err != nil {
		return nil, err
	}
	list, err := mutableList(self)
	if err != nil {
		return nil, err
	}
	items, err := collect(th, args[0])
	if err != nil {
		return nil, err
	}
	if len(list.Items)+len(items) > MaxCollectionLength {
		return nil, tooLong()
	}
	list.Items = append(list.Items, items...)
	return nil, nil
}

func listInsert(_ *Thread, self Value, args []Value, kwargs []Kwarg) (Value, error) {
	if err := arity("insert", args, kwargs, 2, 2); err != nil {
		return nil, err
	}
	list, err := mutableList(self)
	if err != nil {
		return nil, err
	}
	i, err := intArg("insert", args[0])
	if err != nil {
		return nil, err
	}
	n := int64(len(list.Items))
	if i < 0 {
		i = max(i+n, 0)
	}
	i = min(i, n)
	list.Items = append(list.Items, nil)
	copy(list.Items[i+1:], list.Items[i:])
	list.Items[i] = args[1]
	return nil, nil
}

func listPop(_ *Thread, self Value, args []Value, kwargs []Kwarg) (Value, error) {
	if err := arity("pop", args, kwargs, 0, 1); err != nil {
		return nil, err
	}
	list, err := mutableList(self)
	if err != nil {
		return nil, err
	}
	if len(list.Items) == 0 {
		return nil, errorf("IndexError", "pop from empty list")
	}
	var key Value = int64(-1)
	if len(args) == 1 {
		key = args[0]
	}
	i, err := sequenceIndex(key, len(list.Items), "pop")
	if err != nil {
		return nil, err
	}
	item := list.Items[i]
	list.Items = append(list.Items[:i], list.Items[i+1:]...)
	return item, nil
}

func listRemove(_ *Thread, self Value, args []Value, kwargs []Kwarg) (Value, error) {
	if err := arity("remove", args, kwargs, 1, 1); err != nil {
		return nil, err
	}
	list, err := mutableList(self)
	if err != nil {
		return nil, err
	}
	for i, item := range list.Items {
		if Equal(item, args[0]) {
			list.Items = append(list.Items[:i], list.Items[i+1:]...)
			return nil, nil
		}
	}
	return nil, errorf("ValueError", "list.remove(x): x not in list")
}

func listClear(_ *Thread, self Value, args []Value, kwargs []Kwarg) (Value, error) {
	list, err := mutableList(self)
	if err != nil {
		return nil, err
	}
	list.Items = nil
	return nil, nil
}

func listSort(th *Thread, self Value, args []Value, kwargs []Kwarg) (Value, error) {
	if err := arity("sort", args, kwargs, 0, 0, "key", "reverse"); err != nil {
		return nil, err
	}
	list, err := mutableList(self)
	if err != nil {
		return nil, err
	}
	key, _ := kwarg(kwargs, "key")
	reverse, _ := kwarg(kwargs, "reverse")
	return nil, sortValues(th, list.Items, key, Truthy(reverse))
}

func listReverse(_ *Thread, self Value, args []Value, kwargs []Kwarg) (Value, error) {
	list, err := mutableList(self)
	if err != nil {
		return nil, err
	}
	items := list.Items
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return nil, nil
}

func mutableDict(self Value) (*Dict, error) {
	dict := self.(*Dict)
	if dict.frozen {
		return nil, frozenError(dict)
	}
	return dict, nil
}

func dictGet(_ *Thread, self Value, args []Value, kwargs []Kwarg) (Value, error) {
	if err := arity("get", args, kwargs, 1, 2); err != nil {
		return nil, err
	}
	v, found, err := self.(*Dict).Get(args[0])
	if err != nil {
		return nil, err
	}
	if !found {
		if len(args) == 2 {
			return args[1], nil
		}
		return nil, nil
	}
	return v, nil
}

func dictKeys(_ *Thread, self Value, args []Value, kwargs []Kwarg) (Value, error) {
	if err := arity("keys", args, kwargs, 0, 0); err != nil {
		return nil, err
	}
	return NewList(append([]Value(nil), self.(*Dict).keys...)...), nil
}

func dictValues(_ *Thread, self Value, args []Value, kwargs []Kwarg) (Value, error) {
	if err := arity("values", args, kwargs, 0, 0); err != nil {
		return nil, err
	}
	return NewList(append([]Value(nil), self.(*Dict).values...)...), nil
}

func dictItems(_ *Thread, self Value, args []Value, kwargs []Kwarg) (Value, error) {
	if err := arity("items", args, kwargs, 0, 0); err != nil {
		return nil, err
	}
	dict := self.(*Dict)
	items := make([]Value, len(dict.keys))
	for i, key := range dict.keys {
		items[i] = Tuple{key, dict.values[i]}
	}
	return NewList(items...), nil
}

func dictCopy(_ *Thread, self Value, args []Value, kwargs []Kwarg) (Value, error) {
	return self.(*Dict).copy(), nil
}

func dictPop(_ *Thread, self Value, args []Value, kwargs []Kwarg) (Value, error) {
	if err := arity("pop", args, kwargs, 1, 2); err != nil {
		return nil, err
	}
	dict, err := mutableDict(self)
	if err != nil {
		return nil, err
	}
	v, found, err := dict.Get(args[0])
	if err != nil {
		return nil, err
	}
	if !found {
		if len(args) == 2 {
			return args[1], nil
		}
		return nil, errorf("KeyError", "%s", Repr(args[0]))
	}
	_, err = dict.delete(args[0])
	return v, err
}

func dictSetdefault(_ *Thread, self Value, args []Value, kwargs []Kwarg) (Value, error) {
	if err := arity("setdefault", args, kwargs, 1, 2); err != nil {
		return nil, err
	}
	dict, err := mutableDict(self)
	if err != nil {
		return nil, err
	}
	v, found, err := dict.Get(args[0])
	if err != nil || found {
		return v, err
	}
	var def Value
	if len(args) == 2 {
		def = args[1]
	}
	return def, dict.Set(args[0], def)
}

func dictClear(_ *Thread, self Value, args []Value, kwargs []Kwarg) (Value, error) {
	dict, err := mutableDict(self)
	if err != nil {
		return nil, err
	}
	*dict = *NewDict()
	return nil, nil
}

func dictUpdate(th *Thread, self Value, args []Value, kwargs []Kwarg) (Value, error) {
	dict, err := mutableDict(self)
	if err != nil {
		return nil, err
	}
	other, err := builtinDict(th, args, kwargs)
	if err != nil {
		return nil, err
	}
	src := other.(*Dict)
	for i, key := range src.keys {
		if err := dict.Set(key, src.values[i]); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func setArg(th *Thread, v Value) (*Set, error) {
	if set, ok := v.(*Set); ok {
		return set, nil
	}
	return makeSet(th, "set", []Value{v}, nil)
}

func setCombine(name, op string) methodFunc {
	return func(th *Thread, self Value, args []Value, kwargs []Kwarg) (Value, error) {
		if err := arity(name, args, kwargs, 0, -1); err != nil {
			return nil, err
		}
		result := Value(self.(*Set))
		if len(args) == 0 {
			return setOp("|", self.(*Set), NewSet())
		}
		for _, arg := range args {
			other, err := setArg(th, arg)
			if err != nil {
				return nil, err
			}
			if result, err = setOp(op, result.(*Set), other); err != nil {
				return nil, err
			}
		}
		return result, nil
	}
}

func setRelation(name, op string) methodFunc {
	return func(th *Thread, self Value, args []Value, kwargs []Kwarg) (Value, error) {
		if err := arity(name, args, kwargs, 1, 1); err != nil {
			return nil, err
		}
		other, err := setArg(th, args[0])
		if err != nil {
			return nil, err
		}
		return compare(op, self, other)
	}
}

func setDisjoint(th *Thread, self Value, args []Value, kwargs []Kwarg) (Value, error) {
	if err := arity("isdisjoint", args, kwargs, 1, 1); err != nil {
		return nil, err
	}
	other, err := setArg(th, args[0])
	if err != nil {
		return nil, err
	}
	common, _ := setOp("&", self.(*Set), other)
	return common.(*Set).Len() == 0, nil
}

func setCopy(_ *Thread, self Value, args []Value, kwargs []Kwarg) (Value, error) {
	return setOp("|", self.(*Set), NewSet())
}

func mutableSet(self Value) (*Set, error) {
	set := self.(*Set)
	if set.frozen {
		return nil, frozenError(set)
	}
	return set, nil
}

func setAdd(_ *Thread, self Value, args []Value, kwargs []Kwarg) (Value, error) {
	if err := arity("add", args, kwargs, 1, 1); err != nil {
		return nil, err
	}
	set, err := mutableSet(self)
	if err != nil {
		return nil, err
	}
	return nil, set.Add(args[0])
}

func setDiscard(_ *Thread, self Value, args []Value, kwargs []Kwarg) (Value, error) {
	if err := arity("discard", args, kwargs, 1, 1); err != nil {
		return nil, err
	}
	set, err := mutableSet(self)
	if err != nil {
		return nil, err
	}
	_, err = set.remove(args[0])
	return nil, err
}

func setRemove(_ *Thread, self Value, args []Value, kwargs []Kwarg) (Value, error) {
	if err := arity("remove", args, kwargs, 1, 1); err != nil {
		return nil, err
	}
	set, err := mutableSet(self)
	if err != nil {
		return nil, err
	}
	removed, err := set.remove(args[0])
	if err != nil {
		return nil, err
	}
	if !removed {
		return nil, errorf("KeyError", "%s", Repr(args[0]))
	}
	return nil, nil
}

func setPop(_ *Thread, self Value, args []Value, kwargs []Kwarg) (Value, error) {
	set, err := mutableSet(self)
	if err != nil {
		return nil, err
	}
	if set.Len() == 0 {
		return nil, errorf("KeyError", "'pop from an empty set'")
	}
	item := set.items[0]
	_, err = set.remove(item)
	return item, err
}

func setClear(_ *Thread, self Value, args []Value, kwargs []Kwarg) (Value, error) {
	set, err := mutableSet(self)
	if err != nil {
		return nil, err
	}
	*set = *NewSet()
	return nil, nil
}

func setUpdate(th *Thread, self Value, args []Value, kwargs []Kwarg) (Value, error) {
	set, err := mutableSet(self)
	if err != nil {
		return nil, err
	}
	for _, arg := range args {
		if err := th.Iterate(arg, set.Add); err != nil {
			return nil, err
		}
	}
	return nil, nil
}
