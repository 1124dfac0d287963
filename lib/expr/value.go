// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package expr

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Value is any value an expression can produce or consume.
//
// The concrete types are nil (None), bool, int64, float64, string,
// *List, Tuple, *Dict, *Set, *Range, and anything implementing
// [Callable] or [Object]. Host data enters through [FromGo].
type Value = any

// List is a mutable sequence. A frozen list rejects mutation; values
// loaded from device state are frozen so one test cannot alter what
// the next one sees.
type List struct {
	Items  []Value
	frozen bool
}

// NewList returns a mutable list holding items.
func NewList(items ...Value) *List { return &List{Items: items} }

// Tuple is an immutable sequence.
type Tuple []Value

// Range is the lazy integer sequence produced by range().
type Range struct {
	Start, Stop, Step int64
}

// Len returns the number of values the range yields.
func (r *Range) Len() int64 {
	if r.Step > 0 && r.Start < r.Stop {
		return (r.Stop - r.Start + r.Step - 1) / r.Step
	}
	if r.Step < 0 && r.Start > r.Stop {
		return (r.Start - r.Stop - r.Step - 1) / -r.Step
	}
	return 0
}

// At returns the i-th value of the range. i must be in bounds.
func (r *Range) At(i int64) int64 { return r.Start + i*r.Step }

// Dict is an insertion-ordered mapping with hashable keys.
type Dict struct {
	keys   []Value
	values []Value
	index  map[string]int
	frozen bool
}

// NewDict returns an empty mutable dict.
func NewDict() *Dict { return &Dict{index: make(map[string]int)} }

// Len returns the number of entries.
func (d *Dict) Len() int { return len(d.keys) }

// Keys returns the keys in insertion order. The slice must not be modified.
func (d *Dict) Keys() []Value { return d.keys }

// Get looks up key. Unhashable keys report an error.
func (d *Dict) Get(key Value) (Value, bool, error) {
	hash, err := hashKey(key)
	if err != nil {
		return nil, false, err
	}
	i, ok := d.index[hash]
	if !ok {
		return nil, false, nil
	}
	return d.values[i], true, nil
}

// Set inserts or replaces key. It ignores the frozen flag; callers that
// act on behalf of expressions check it first.
func (d *Dict) Set(key, value Value) error {
	hash, err := hashKey(key)
	if err != nil {
		return err
	}
	if i, ok := d.index[hash]; ok {
		d.values[i] = value
		return nil
	}
	d.index[hash] = len(d.keys)
	d.keys = append(d.keys, key)
	d.values = append(d.values, value)
	return nil
}

// SetString is Set for string keys, which are always hashable.
func (d *Dict) SetString(key string, value Value) {
	_ = d.Set(key, value)
}

func (d *Dict) delete(key Value) (bool, error) {
	hash, err := hashKey(key)
	if err != nil {
		return false, err
	}
	i, ok := d.index[hash]
	if !ok {
		return false, nil
	}
	d.keys = append(d.keys[:i], d.keys[i+1:]...)
	d.values = append(d.values[:i], d.values[i+1:]...)
	delete(d.index, hash)
	for h, j := range d.index {
		if j > i {
			d.index[h] = j - 1
		}
	}
	return true, nil
}

// Items calls fn for each entry in insertion order.
func (d *Dict) Items(fn func(key, value Value) error) error {
	for i, key := range d.keys {
		if err := fn(key, d.values[i]); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dict) copy() *Dict {
	clone := NewDict()
	for i, key := range d.keys {
		_ = clone.Set(key, d.values[i])
	}
	return clone
}

// Set is an insertion-ordered set of hashable values.
type Set struct {
	items  []Value
	index  map[string]int
	frozen bool
}

// NewSet returns an empty mutable set.
func NewSet() *Set { return &Set{index: make(map[string]int)} }

// Len returns the number of members.
func (s *Set) Len() int { return len(s.items) }

// Items returns the members in insertion order. The slice must not be modified.
func (s *Set) Items() []Value { return s.items }

// Add inserts value if absent.
func (s *Set) Add(value Value) error {
	hash, err := hashKey(value)
	if err != nil {
		return err
	}
	if _, ok := s.index[hash]; ok {
		return nil
	}
	s.index[hash] = len(s.items)
	s.items = append(s.items, value)
	return nil
}

// Has reports membership.
func (s *Set) Has(value Value) (bool, error) {
	hash, err := hashKey(value)
	if err != nil {
		return false, err
	}
	_, ok := s.index[hash]
	return ok, nil
}

func (s *Set) remove(value Value) (bool, error) {
	hash, err := hashKey(value)
	if err != nil {
		return false, err
	}
	i, ok := s.index[hash]
	if !ok {
		return false, nil
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
	delete(s.index, hash)
	for h, j := range s.index {
		if j > i {
			s.index[h] = j - 1
		}
	}
	return true, nil
}

// Object is implemented by host values that expose attributes to
// expressions, such as devices and lazily loaded state.
type Object interface {
	// TypeName is the name used in error messages.
	TypeName() string

	// Attr returns the named attribute. It returns ErrNoAttribute when
	// the attribute does not exist.
	Attr(name string) (Value, error)
}

// Indexable is implemented by objects that support obj[key].
type Indexable interface {
	Index(key Value) (Value, error)
}

// hashKey maps a hashable value to a string such that values equal
// under == share a key: 1, 1.0 and True collide as they do in Python.
func hashKey(v Value) (string, error) {
	switch v := v.(type) {
	case nil:
		return "N", nil
	case bool:
		if v {
			return "n1", nil
		}
		return "n0", nil
	case int64:
		return "n" + strconv.FormatInt(v, 10), nil
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1<<63 {
			return "n" + strconv.FormatInt(int64(v), 10), nil
		}
		return "f" + strconv.FormatFloat(v, 'g', -1, 64), nil
	case string:
		return "s" + v, nil
	case Tuple:
		var b strings.Builder
		b.WriteString("t(")
		for _, item := range v {
			key, err := hashKey(item)
			if err != nil {
				return "", err
			}
			b.WriteString(strconv.Itoa(len(key)))
			b.WriteByte(':')
			b.WriteString(key)
		}
		b.WriteByte(')')
		return b.String(), nil
	case *Set:
		if !v.frozen {
			break
		}
		keys := make([]string, 0, len(v.items))
		for _, item := range v.items {
			key, _ := hashKey(item)
			keys = append(keys, key)
		}
		sort.Strings(keys)
		return "fs(" + strings.Join(keys, "\x00") + ")", nil
	case *List, *Dict:
	default:
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Pointer {
			return fmt.Sprintf("p%T%x", v, rv.Pointer()), nil
		}
		if rv.Type().Comparable() {
			return fmt.Sprintf("v%T%v", v, v), nil
		}
	}
	return "", errorf("TypeError", "unhashable type: '%s'", TypeName(v))
}

// TypeName returns the Python-style type name of v.
func TypeName(v Value) string {
	switch v := v.(type) {
	case nil:
		return "NoneType"
	case bool:
		return "bool"
	case int64:
		return "int"
	case float64:
		return "float"
	case string:
		return "str"
	case *List:
		return "list"
	case Tuple:
		return "tuple"
	case *Dict:
		return "dict"
	case *Set:
		if v.frozen {
			return "frozenset"
		}
		return "set"
	case *Range:
		return "range"
	case *Function:
		return "function"
	case *Builtin:
		return "builtin_function_or_method"
	case *BoundMethod:
		return "method"
	case *Class:
		return "type"
	case *Instance:
		return v.class.name
	case Object:
		return v.TypeName()
	}
	return fmt.Sprintf("%T", v)
}

// Truthy reports Python truthiness.
func Truthy(v Value) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case int64:
		return v != 0
	case float64:
		return v != 0
	case string:
		return v != ""
	case *List:
		return len(v.Items) > 0
	case Tuple:
		return len(v) > 0
	case *Dict:
		return v.Len() > 0
	case *Set:
		return v.Len() > 0
	case *Range:
		return v.Len() > 0
	}
	return true
}

// Equal reports Python == between a and b.
func Equal(a, b Value) bool {
	if x, ok := toNumber(a); ok {
		if y, ok := toNumber(b); ok {
			return x.equal(y)
		}
		return false
	}
	switch a := a.(type) {
	case nil:
		return b == nil
	case string:
		s, ok := b.(string)
		return ok && a == s
	case *List:
		other, ok := b.(*List)
		return ok && sequenceEqual(a.Items, other.Items)
	case Tuple:
		other, ok := b.(Tuple)
		return ok && sequenceEqual(a, other)
	case *Range:
		other, ok := b.(*Range)
		if !ok {
			return false
		}
		n := a.Len()
		if n != other.Len() {
			return false
		}
		return n == 0 || (a.Start == other.Start && (n == 1 || a.Step == other.Step))
	case *Dict:
		other, ok := b.(*Dict)
		if !ok || a.Len() != other.Len() {
			return false
		}
		for i, key := range a.keys {
			value, found, err := other.Get(key)
			if err != nil || !found || !Equal(a.values[i], value) {
				return false
			}
		}
		return true
	case *Set:
		other, ok := b.(*Set)
		if !ok || a.Len() != other.Len() {
			return false
		}
		for _, item := range a.items {
			if found, _ := other.Has(item); !found {
				return false
			}
		}
		return true
	}
	return identical(a, b)
}

func sequenceEqual(a, b []Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

// identical implements the "is" operator.
func identical(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if x, ok := a.(bool); ok {
		y, ok := b.(bool)
		return ok && x == y
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}

// FromGo converts decoded JSON or YAML data into expression values.
// Maps become dicts with sorted keys, slices become lists, and integral
// numbers become int64. With frozen set, every container is frozen.
func FromGo(v any, frozen bool) Value {
	switch v := v.(type) {
	case nil, bool, int64, float64, string:
		return v
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case uint64:
		if v > math.MaxInt64 {
			return float64(v)
		}
		return int64(v)
	case uint32:
		return int64(v)
	case uint:
		return int64(v)
	case float32:
		return float64(v)
	case interface{ Int64() (int64, error) }:
		if n, err := v.Int64(); err == nil {
			return n
		}
		if f, ok := v.(interface{ Float64() (float64, error) }); ok {
			if n, err := f.Float64(); err == nil {
				return n
			}
		}
		return fmt.Sprint(v)
	case time.Time:
		return v.Format(time.RFC3339Nano)
	case []any:
		items := make([]Value, len(v))
		for i, item := range v {
			items[i] = FromGo(item, frozen)
		}
		return &List{Items: items, frozen: frozen}
	case []string:
		items := make([]Value, len(v))
		for i, item := range v {
			items[i] = item
		}
		return &List{Items: items, frozen: frozen}
	case map[string]any:
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		dict := NewDict()
		for _, key := range keys {
			dict.SetString(key, FromGo(v[key], frozen))
		}
		dict.frozen = frozen
		return dict
	case map[any]any:
		type entry struct {
			original any
			key      Value
			order    string
		}
		entries := make([]entry, 0, len(v))
		for key := range v {
			converted := FromGo(key, frozen)
			entries = append(entries, entry{key, converted, Repr(converted)})
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].order < entries[j].order })
		dict := NewDict()
		for _, e := range entries {
			value := FromGo(v[e.original], frozen)
			if err := dict.Set(e.key, value); err != nil {
				dict.SetString(e.order, value)
			}
		}
		dict.frozen = frozen
		return dict
	}
	return v
}

// ToGo converts an expression value into plain Go data suitable for
// encoding/json and gojq: dicts become map[string]any (non-string keys
// are rendered with str()), sequences and sets become []any.
func ToGo(v Value) any {
	switch v := v.(type) {
	case nil, bool, float64, string:
		return v
	case int64:
		if v >= math.MinInt && v <= math.MaxInt {
			return int(v)
		}
		return float64(v)
	case *List:
		return sliceToGo(v.Items)
	case Tuple:
		return sliceToGo(v)
	case *Set:
		return sliceToGo(v.items)
	case *Range:
		n := v.Len()
		out := make([]any, 0, n)
		for i := int64(0); i < n; i++ {
			out = append(out, int(v.At(i)))
		}
		return out
	case *Dict:
		out := make(map[string]any, v.Len())
		for i, key := range v.keys {
			name, ok := key.(string)
			if !ok {
				name = Str(key)
			}
			out[name] = ToGo(v.values[i])
		}
		return out
	}
	return Str(v)
}

func sliceToGo(items []Value) []any {
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = ToGo(item)
	}
	return out
}
