// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package expr

import (
	"math"
	"strings"
)

// precedence levels, loosest first. The numbering mirrors Python's
// grammar so that Unparse parenthesizes exactly where Python's
// ast.unparse does; explanation labels are compared against text
// users already know from Python tooling.
type precedence int

const (
	precTuple precedence = iota + 2
	precYield
	precTest
	precOr
	precAnd
	precNot
	precCmp
	precBor // also the precedence of a bare expression
	precBxor
	precBand
	precShift
	precArith
	precTerm
	precFactor
	precPower
	precAwait
	precAtom
)

var binaryPrecedence = map[string]precedence{
	"|": precBor, "^": precBxor, "&": precBand,
	"<<": precShift, ">>": precShift,
	"+": precArith, "-": precArith,
	"*": precTerm, "/": precTerm, "//": precTerm, "%": precTerm, "@": precTerm,
	"**": precPower,
}

// Unparse renders an expression back to source text.
func Unparse(e Expr) string {
	var u unparser
	u.expr(e, precTest)
	return u.b.String()
}

type unparser struct {
	b strings.Builder
}

func (u *unparser) write(s string) { u.b.WriteString(s) }

func (u *unparser) open(context, own precedence) bool {
	if context > own {
		u.write("(")
		return true
	}
	return false
}

func (u *unparser) close(opened bool) {
	if opened {
		u.write(")")
	}
}

func (u *unparser) list(items []Expr) {
	for i, item := range items {
		if i > 0 {
			u.write(", ")
		}
		u.expr(item, precTest)
	}
}

func (u *unparser) expr(e Expr, context precedence) {
	switch e := e.(type) {
	case *Constant:
		u.constant(e.Value)
	case *Name:
		u.write(e.ID)
	case *Attribute:
		u.expr(e.Value, precAtom)
		if c, ok := e.Value.(*Constant); ok {
			if _, isInt := c.Value.(int64); isInt {
				u.write(" ")
			}
		}
		u.write(".")
		u.write(e.Attr)
	case *Subscript:
		u.expr(e.Value, precAtom)
		u.write("[")
		if tuple, ok := e.Index.(*TupleExpr); ok && len(tuple.Elts) > 0 {
			u.list(tuple.Elts)
			if len(tuple.Elts) == 1 {
				u.write(",")
			}
		} else {
			u.expr(e.Index, precTest)
		}
		u.write("]")
	case *Slice:
		if e.Lower != nil {
			u.expr(e.Lower, precTest)
		}
		u.write(":")
		if e.Upper != nil {
			u.expr(e.Upper, precTest)
		}
		if e.Step != nil {
			u.write(":")
			u.expr(e.Step, precTest)
		}
	case *Call:
		u.expr(e.Func, precAtom)
		u.write("(")
		u.list(e.Args)
		for i, kw := range e.Keywords {
			if i > 0 || len(e.Args) > 0 {
				u.write(", ")
			}
			u.write(kw.Name)
			u.write("=")
			u.expr(kw.Value, precTest)
		}
		u.write(")")
	case *UnaryOp:
		own := precFactor
		if e.Op == "not" {
			own = precNot
		}
		opened := u.open(context, own)
		u.write(e.Op)
		if own != precFactor {
			u.write(" ")
		}
		u.expr(e.Operand, own)
		u.close(opened)
	case *BinOp:
		own := binaryPrecedence[e.Op]
		left, right := own+1, own
		if e.Op != "**" {
			left, right = own, own+1
		}
		opened := u.open(context, own)
		u.expr(e.Left, left)
		u.write(" " + e.Op + " ")
		u.expr(e.Right, right)
		u.close(opened)
	case *BoolOp:
		own := precOr
		if e.Op == "and" {
			own = precAnd
		}
		opened := u.open(context, own)
		// Each successive operand binds one level tighter, matching
		// ast.unparse output for mixed chains.
		level := own
		for i, value := range e.Values {
			if i > 0 {
				u.write(" " + e.Op + " ")
			}
			level++
			u.expr(value, level)
		}
		u.close(opened)
	case *Compare:
		opened := u.open(context, precCmp)
		u.expr(e.Left, precCmp+1)
		for i, op := range e.Ops {
			u.write(" " + op + " ")
			u.expr(e.Comparators[i], precCmp+1)
		}
		u.close(opened)
	case *IfExp:
		opened := u.open(context, precTest)
		u.expr(e.Body, precTest+1)
		u.write(" if ")
		u.expr(e.Test, precTest+1)
		u.write(" else ")
		u.expr(e.OrElse, precTest)
		u.close(opened)
	case *ListExpr:
		u.write("[")
		u.list(e.Elts)
		u.write("]")
	case *TupleExpr:
		opened := len(e.Elts) == 0 || context > precTuple
		if opened {
			u.write("(")
		}
		u.list(e.Elts)
		if len(e.Elts) == 1 {
			u.write(",")
		}
		u.close(opened)
	case *SetExpr:
		if len(e.Elts) == 0 {
			u.write("{*()}")
			return
		}
		u.write("{")
		u.list(e.Elts)
		u.write("}")
	case *DictExpr:
		u.write("{")
		for i, key := range e.Keys {
			if i > 0 {
				u.write(", ")
			}
			u.expr(key, precTest)
			u.write(": ")
			u.expr(e.Values[i], precTest)
		}
		u.write("}")
	case *Comprehension:
		u.comprehension(e)
	}
}

func (u *unparser) comprehension(c *Comprehension) {
	closer := ")"
	switch c.Kind {
	case ListComp:
		u.write("[")
		closer = "]"
	case SetComp, DictComp:
		u.write("{")
		closer = "}"
	default:
		u.write("(")
	}
	if c.Kind == DictComp {
		u.expr(c.Key, precTest)
		u.write(": ")
	}
	u.expr(c.Elt, precTest)
	for _, clause := range c.Generators {
		u.write(" for ")
		u.expr(clause.Target, precTuple)
		u.write(" in ")
		u.expr(clause.Iter, precTest+1)
		for _, cond := range clause.Ifs {
			u.write(" if ")
			u.expr(cond, precTest+1)
		}
	}
	u.write(closer)
}

func (u *unparser) constant(v Value) {
	if f, ok := v.(float64); ok && math.IsInf(f, 0) {
		if f < 0 {
			u.write("-")
		}
		u.write("1e309")
		return
	}
	u.write(Repr(v))
}
