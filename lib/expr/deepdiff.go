// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package expr

// diffable reports whether failed comparisons of v get a structural diff.
func diffable(v Value) bool {
	switch v.(type) {
	case *List, Tuple, *Dict, *Set:
		return true
	}
	return false
}

const maxDiffDepth = 64

// DeepDiff describes how b differs from a as a dict keyed by change
// kind: values_changed, type_changes, dictionary_item_added,
// dictionary_item_removed, iterable_item_added, iterable_item_removed,
// set_item_added and set_item_removed. Paths start at "root" and use
// Python subscript syntax, for example root['interfaces'][0]. Sequences
// are compared position by position.
func DeepDiff(a, b Value) *Dict {
	d := &differ{}
	d.diff(a, b, "root", 0)
	out := NewDict()
	add := func(kind string, v Value, n int) {
		if n > 0 {
			out.SetString(kind, v)
		}
	}
	add("type_changes", d.typeChanges, dictLen(d.typeChanges))
	add("values_changed", d.valuesChanged, dictLen(d.valuesChanged))
	add("dictionary_item_added", NewList(d.dictAdded...), len(d.dictAdded))
	add("dictionary_item_removed", NewList(d.dictRemoved...), len(d.dictRemoved))
	add("iterable_item_added", d.iterAdded, dictLen(d.iterAdded))
	add("iterable_item_removed", d.iterRemoved, dictLen(d.iterRemoved))
	add("set_item_added", NewList(d.setAdded...), len(d.setAdded))
	add("set_item_removed", NewList(d.setRemoved...), len(d.setRemoved))
	return out
}

func dictLen(d *Dict) int {
	if d == nil {
		return 0
	}
	return d.Len()
}

type differ struct {
	typeChanges   *Dict
	valuesChanged *Dict
	iterAdded     *Dict
	iterRemoved   *Dict
	dictAdded     []Value
	dictRemoved   []Value
	setAdded      []Value
	setRemoved    []Value
}

func setPath(dst **Dict, path string, v Value) {
	if *dst == nil {
		*dst = NewDict()
	}
	(*dst).SetString(path, v)
}

func (d *differ) changed(path string, a, b Value) {
	change := NewDict()
	change.SetString("new_value", b)
	change.SetString("old_value", a)
	setPath(&d.valuesChanged, path, change)
}

func (d *differ) diff(a, b Value, path string, depth int) {
	if depth > maxDiffDepth {
		if !Equal(a, b) {
			d.changed(path, a, b)
		}
		return
	}
	if TypeName(a) != TypeName(b) {
		change := NewDict()
		change.SetString("old_type", TypeName(a))
		change.SetString("new_type", TypeName(b))
		change.SetString("old_value", a)
		change.SetString("new_value", b)
		setPath(&d.typeChanges, path, change)
		return
	}
	switch a := a.(type) {
	case *Dict:
		other := b.(*Dict)
		for i, key := range a.keys {
			value, found, _ := other.Get(key)
			child := path + "[" + Repr(key) + "]"
			if !found {
				d.dictRemoved = append(d.dictRemoved, child)
				continue
			}
			d.diff(a.values[i], value, child, depth+1)
		}
		for _, key := range other.keys {
			if _, found, _ := a.Get(key); !found {
				d.dictAdded = append(d.dictAdded, path+"["+Repr(key)+"]")
			}
		}
	case *List:
		d.sequence(a.Items, b.(*List).Items, path, depth)
	case Tuple:
		d.sequence(a, b.(Tuple), path, depth)
	case *Set:
		other := b.(*Set)
		for _, item := range a.items {
			if found, _ := other.Has(item); !found {
				d.setRemoved = append(d.setRemoved, path+"["+Repr(item)+"]")
			}
		}
		for _, item := range other.items {
			if found, _ := a.Has(item); !found {
				d.setAdded = append(d.setAdded, path+"["+Repr(item)+"]")
			}
		}
	default:
		if !Equal(a, b) {
			d.changed(path, a, b)
		}
	}
}

func (d *differ) sequence(a, b []Value, path string, depth int) {
	for i := 0; i < len(a) || i < len(b); i++ {
		child := path + "[" + Repr(int64(i)) + "]"
		switch {
		case i >= len(b):
			setPath(&d.iterRemoved, child, a[i])
		case i >= len(a):
			setPath(&d.iterAdded, child, b[i])
		default:
			d.diff(a[i], b[i], child, depth+1)
		}
	}
}
