// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package expr

// Node is any syntax tree node.
type Node interface {
	Position() Pos
}

// Expr is an expression node.
type Expr interface {
	Node
	exprNode()
}

// Stmt is a statement node. Statements only appear in nameset source.
type Stmt interface {
	Node
	stmtNode()
}

type node struct{ pos Pos }

func (n node) Position() Pos { return n.pos }

type (
	// Constant is a literal: None, bool, int64, float64 or string.
	Constant struct {
		node
		Value Value
	}

	Name struct {
		node
		ID string
	}

	Attribute struct {
		node
		Value Expr
		Attr  string
	}

	// Subscript is Value[Index]. Index is a *Slice for slicing.
	Subscript struct {
		node
		Value Expr
		Index Expr
	}

	// Slice is lower:upper:step; each part may be nil.
	Slice struct {
		node
		Lower, Upper, Step Expr
	}

	Keyword struct {
		Name  string
		Value Expr
	}

	Call struct {
		node
		Func     Expr
		Args     []Expr
		Keywords []Keyword
	}

	UnaryOp struct {
		node
		Op      string // "-", "+", "~", "not"
		Operand Expr
	}

	BinOp struct {
		node
		Op          string
		Left, Right Expr
	}

	// BoolOp is a chain of "and" or "or" over two or more values.
	BoolOp struct {
		node
		Op     string
		Values []Expr
	}

	// Compare is a comparison chain: Left Ops[0] Comparators[0] ...
	Compare struct {
		node
		Left        Expr
		Ops         []string
		Comparators []Expr
	}

	IfExp struct {
		node
		Test, Body, OrElse Expr
	}

	ListExpr struct {
		node
		Elts []Expr
	}

	TupleExpr struct {
		node
		Elts []Expr
	}

	SetExpr struct {
		node
		Elts []Expr
	}

	DictExpr struct {
		node
		Keys, Values []Expr
	}

	// Comprehension covers list, set and dict comprehensions and
	// generator expressions. Dict comprehensions use Key and Elt as
	// the value.
	Comprehension struct {
		node
		Kind       ComprehensionKind
		Key        Expr
		Elt        Expr
		Generators []*ForClause
	}

	ForClause struct {
		Target Expr
		Iter   Expr
		Ifs    []Expr
	}
)

// ComprehensionKind distinguishes the four comprehension forms.
type ComprehensionKind int

const (
	ListComp ComprehensionKind = iota
	SetComp
	DictComp
	GeneratorExp
)

func (*Constant) exprNode()      {}
func (*Name) exprNode()          {}
func (*Attribute) exprNode()     {}
func (*Subscript) exprNode()     {}
func (*Slice) exprNode()         {}
func (*Call) exprNode()          {}
func (*UnaryOp) exprNode()       {}
func (*BinOp) exprNode()         {}
func (*BoolOp) exprNode()        {}
func (*Compare) exprNode()       {}
func (*IfExp) exprNode()         {}
func (*ListExpr) exprNode()      {}
func (*TupleExpr) exprNode()     {}
func (*SetExpr) exprNode()       {}
func (*DictExpr) exprNode()      {}
func (*Comprehension) exprNode() {}

type (
	ExprStmt struct {
		node
		Value Expr
	}

	// Assign binds Value to every target: a = b = value.
	Assign struct {
		node
		Targets []Expr
		Value   Expr
	}

	AugAssign struct {
		node
		Target Expr
		Op     string // binary operator without "="
		Value  Expr
	}

	Return struct {
		node
		Value Expr // nil for a bare return
	}

	Pass     struct{ node }
	Break    struct{ node }
	Continue struct{ node }

	If struct {
		node
		Test   Expr
		Body   []Stmt
		OrElse []Stmt
	}

	For struct {
		node
		Target Expr
		Iter   Expr
		Body   []Stmt
		OrElse []Stmt
	}

	While struct {
		node
		Test   Expr
		Body   []Stmt
		OrElse []Stmt
	}

	Assert struct {
		node
		Test Expr
		Msg  Expr
	}

	Param struct {
		Name    string
		Default Expr
	}

	FunctionDef struct {
		node
		Name   string
		Params []Param
		Body   []Stmt
	}

	ClassDef struct {
		node
		Name  string
		Bases []Expr
		Body  []Stmt
	}

	Alias struct {
		Name   string // dotted module path or imported name
		AsName string // empty when not renamed
	}

	Import struct {
		node
		Names []Alias
	}

	ImportFrom struct {
		node
		Module string
		Names  []Alias
	}
)

func (*ExprStmt) stmtNode()    {}
func (*Assign) stmtNode()      {}
func (*AugAssign) stmtNode()   {}
func (*Return) stmtNode()      {}
func (*Pass) stmtNode()        {}
func (*Break) stmtNode()       {}
func (*Continue) stmtNode()    {}
func (*If) stmtNode()          {}
func (*For) stmtNode()         {}
func (*While) stmtNode()       {}
func (*Assert) stmtNode()      {}
func (*FunctionDef) stmtNode() {}
func (*ClassDef) stmtNode()    {}
func (*Import) stmtNode()      {}
func (*ImportFrom) stmtNode()  {}

// BoundName returns the name an alias binds in the importing scope.
func (a Alias) BoundName() string {
	if a.AsName != "" {
		return a.AsName
	}
	return a.Name
}
