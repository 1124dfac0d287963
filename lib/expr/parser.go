// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package expr

import (
	"fmt"
	"slices"
	"strings"
)

// ParseExpression parses a test expression. The source must consist of
// exactly one expression; any statement is rejected with an
// *InvalidExpressionError. Malformed source yields an *EvalError of
// type SyntaxError.
func ParseExpression(src string) (Expr, error) {
	stmts, err := ParseModule(strings.TrimSpace(src))
	if err != nil {
		return nil, err
	}
	if len(stmts) == 0 {
		return nil, errorf("SyntaxError", "empty expression")
	}
	if len(stmts) > 1 {
		return nil, rejectf("expected a single expression, found %d statements", len(stmts))
	}
	exprStmt, ok := stmts[0].(*ExprStmt)
	if !ok {
		return nil, rejectf("%s is not allowed in an expression", describeStmt(stmts[0]))
	}
	return exprStmt.Value, nil
}

// ParseModule parses a sequence of statements.
func ParseModule(src string) (stmts []Stmt, err error) {
	tokens, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	defer func() {
		if r := recover(); r != nil {
			failure, ok := r.(parseFailure)
			if !ok {
				panic(r)
			}
			stmts, err = nil, failure.err
		}
	}()
	for !p.at(tokenEOF) {
		if p.at(tokenNewline) {
			p.advance()
			continue
		}
		stmts = append(stmts, p.statement()...)
	}
	return stmts, nil
}

func describeStmt(stmt Stmt) string {
	switch stmt.(type) {
	case *Assign, *AugAssign:
		return "assignment"
	case *Import, *ImportFrom:
		return "import"
	case *FunctionDef:
		return "function definition"
	case *ClassDef:
		return "class definition"
	case *Return:
		return "return"
	case *If:
		return "if statement"
	case *For:
		return "for statement"
	case *While:
		return "while statement"
	case *Assert:
		return "assert"
	}
	return "statement"
}

type parseFailure struct{ err error }

type parser struct {
	tokens []token
	pos    int
}

var keywords = map[string]bool{
	"False": true, "None": true, "True": true, "and": true, "as": true,
	"assert": true, "async": true, "await": true, "break": true, "class": true,
	"continue": true, "def": true, "del": true, "elif": true, "else": true,
	"except": true, "finally": true, "for": true, "from": true, "global": true,
	"if": true, "import": true, "in": true, "is": true, "lambda": true,
	"nonlocal": true, "not": true, "or": true, "pass": true, "raise": true,
	"return": true, "try": true, "while": true, "with": true, "yield": true,
}

func (p *parser) peek() token           { return p.tokens[p.pos] }
func (p *parser) at(kind tokenKind) bool { return p.tokens[p.pos].kind == kind }

func (p *parser) advance() token {
	t := p.tokens[p.pos]
	if t.kind != tokenEOF {
		p.pos++
	}
	return t
}

func (p *parser) isOp(op string) bool {
	t := p.peek()
	return t.kind == tokenOp && t.text == op
}

func (p *parser) isKeyword(word string) bool {
	t := p.peek()
	return t.kind == tokenName && t.text == word
}

func (p *parser) acceptOp(op string) bool {
	if p.isOp(op) {
		p.advance()
		return true
	}
	return false
}

func (p *parser) acceptKeyword(word string) bool {
	if p.isKeyword(word) {
		p.advance()
		return true
	}
	return false
}

func (p *parser) expectOp(op string) token {
	if !p.isOp(op) {
		p.syntaxError("expected %q, found %s", op, p.describe(p.peek()))
	}
	return p.advance()
}

func (p *parser) expectKeyword(word string) {
	if !p.acceptKeyword(word) {
		p.syntaxError("expected %q, found %s", word, p.describe(p.peek()))
	}
}

func (p *parser) expectName() token {
	t := p.peek()
	if t.kind != tokenName || keywords[t.text] {
		p.syntaxError("expected a name, found %s", p.describe(t))
	}
	return p.advance()
}

func (p *parser) describe(t token) string {
	switch t.kind {
	case tokenEOF:
		return "end of input"
	case tokenNewline:
		return "end of line"
	case tokenIndent:
		return "indent"
	case tokenDedent:
		return "dedent"
	case tokenString:
		return "string literal"
	case tokenInt, tokenFloat:
		return "number " + t.text
	}
	return fmt.Sprintf("%q", t.text)
}

func (p *parser) syntaxError(format string, args ...any) {
	pos := p.peek().pos
	panic(parseFailure{errorf("SyntaxError", "%s (%s)", fmt.Sprintf(format, args...), pos)})
}

func (p *parser) reject(format string, args ...any) {
	panic(parseFailure{rejectf(format, args...)})
}

// --- statements ---

func (p *parser) statement() []Stmt {
	t := p.peek()
	if t.kind == tokenIndent {
		p.syntaxError("unexpected indent")
	}
	if t.kind == tokenOp && t.text == "@" {
		p.reject("decorators are not supported")
	}
	if t.kind == tokenName {
		switch t.text {
		case "if":
			return []Stmt{p.ifStatement()}
		case "for":
			return []Stmt{p.forStatement()}
		case "while":
			return []Stmt{p.whileStatement()}
		case "def":
			return []Stmt{p.functionDef()}
		case "class":
			return []Stmt{p.classDef()}
		case "try", "with", "async":
			p.reject("%q statements are not supported", t.text)
		}
	}
	return p.simpleStatements()
}

func (p *parser) simpleStatements() []Stmt {
	stmts := []Stmt{p.smallStatement()}
	for p.acceptOp(";") {
		if p.at(tokenNewline) {
			break
		}
		stmts = append(stmts, p.smallStatement())
	}
	if !p.at(tokenNewline) && !p.at(tokenEOF) {
		p.syntaxError("unexpected %s", p.describe(p.peek()))
	}
	p.advance()
	return stmts
}

func (p *parser) smallStatement() Stmt {
	t := p.peek()
	base := node{pos: t.pos}
	if t.kind == tokenName {
		switch t.text {
		case "pass":
			p.advance()
			return &Pass{base}
		case "break":
			p.advance()
			return &Break{base}
		case "continue":
			p.advance()
			return &Continue{base}
		case "return":
			p.advance()
			var value Expr
			if !p.at(tokenNewline) && !p.isOp(";") && !p.at(tokenEOF) {
				value = p.testList()
			}
			return &Return{base, value}
		case "import":
			p.advance()
			return &Import{base, p.importNames(true)}
		case "from":
			p.advance()
			module := p.dottedName()
			p.expectKeyword("import")
			if p.isOp("*") {
				p.reject("wildcard imports are not supported")
			}
			var names []Alias
			if p.acceptOp("(") {
				names = p.importNames(false)
				p.expectOp(")")
			} else {
				names = p.importNames(false)
			}
			return &ImportFrom{base, module, names}
		case "assert":
			p.advance()
			test := p.test()
			var msg Expr
			if p.acceptOp(",") {
				msg = p.test()
			}
			return &Assert{base, test, msg}
		case "del", "global", "nonlocal", "raise", "yield":
			p.reject("%q statements are not supported", t.text)
		}
	}

	first := p.testList()
	if p.isOp(":") {
		p.reject("annotations are not supported")
	}
	if p.isOp(":=") {
		p.reject("assignment expressions are not supported")
	}
	if op := p.peek(); op.kind == tokenOp && len(op.text) >= 2 && strings.HasSuffix(op.text, "=") &&
		op.text != "==" && op.text != "!=" && op.text != "<=" && op.text != ">=" {
		p.advance()
		checkTarget(p, first, false)
		value := p.testList()
		return &AugAssign{base, first, strings.TrimSuffix(op.text, "="), value}
	}
	if !p.isOp("=") {
		return &ExprStmt{base, first}
	}
	targets := []Expr{first}
	var value Expr
	for p.acceptOp("=") {
		value = p.testList()
		targets = append(targets, value)
	}
	targets = targets[:len(targets)-1]
	for _, target := range targets {
		checkTarget(p, target, true)
	}
	return &Assign{base, targets, value}
}

func checkTarget(p *parser, target Expr, allowTuple bool) {
	switch target := target.(type) {
	case *Name, *Attribute, *Subscript:
		return
	case *TupleExpr:
		if allowTuple {
			for _, elt := range target.Elts {
				checkTarget(p, elt, true)
			}
			return
		}
	case *ListExpr:
		if allowTuple {
			for _, elt := range target.Elts {
				checkTarget(p, elt, true)
			}
			return
		}
	}
	p.syntaxError("cannot assign to expression")
}

func (p *parser) dottedName() string {
	parts := []string{p.expectName().text}
	for p.acceptOp(".") {
		parts = append(parts, p.expectName().text)
	}
	return strings.Join(parts, ".")
}

func (p *parser) importNames(dotted bool) []Alias {
	var names []Alias
	for {
		var alias Alias
		if dotted {
			alias.Name = p.dottedName()
		} else {
			alias.Name = p.expectName().text
		}
		if p.acceptKeyword("as") {
			alias.AsName = p.expectName().text
		}
		names = append(names, alias)
		if !p.acceptOp(",") || p.isOp(")") {
			return names
		}
	}
}

func (p *parser) suite() []Stmt {
	p.expectOp(":")
	if !p.at(tokenNewline) {
		return p.simpleStatements()
	}
	p.advance()
	if !p.at(tokenIndent) {
		p.syntaxError("expected an indented block")
	}
	p.advance()
	var body []Stmt
	for !p.at(tokenDedent) && !p.at(tokenEOF) {
		if p.at(tokenNewline) {
			p.advance()
			continue
		}
		body = append(body, p.statement()...)
	}
	p.advance()
	return body
}

func (p *parser) ifStatement() Stmt {
	pos := p.advance().pos
	test := p.test()
	body := p.suite()
	stmt := &If{node{pos}, test, body, nil}
	switch {
	case p.isKeyword("elif"):
		stmt.OrElse = []Stmt{p.ifStatement()}
	case p.acceptKeyword("else"):
		stmt.OrElse = p.suite()
	}
	return stmt
}

func (p *parser) forStatement() Stmt {
	pos := p.advance().pos
	target := p.targetList()
	p.expectKeyword("in")
	iter := p.testList()
	body := p.suite()
	stmt := &For{node{pos}, target, iter, body, nil}
	if p.acceptKeyword("else") {
		stmt.OrElse = p.suite()
	}
	return stmt
}

func (p *parser) whileStatement() Stmt {
	pos := p.advance().pos
	test := p.test()
	body := p.suite()
	stmt := &While{node{pos}, test, body, nil}
	if p.acceptKeyword("else") {
		stmt.OrElse = p.suite()
	}
	return stmt
}

func (p *parser) functionDef() Stmt {
	pos := p.advance().pos
	name := p.expectName().text
	p.expectOp("(")
	var params []Param
	seenDefault := false
	for !p.isOp(")") {
		if p.isOp("*") || p.isOp("**") || p.isOp("/") {
			p.reject("variadic and positional-only parameters are not supported")
		}
		param := Param{Name: p.expectName().text}
		if p.isOp(":") {
			p.reject("annotations are not supported")
		}
		if p.acceptOp("=") {
			param.Default = p.test()
			seenDefault = true
		} else if seenDefault {
			p.syntaxError("non-default argument follows default argument")
		}
		params = append(params, param)
		if !p.acceptOp(",") {
			break
		}
	}
	p.expectOp(")")
	if p.isOp("->") {
		p.reject("annotations are not supported")
	}
	return &FunctionDef{node{pos}, name, params, p.suite()}
}

func (p *parser) classDef() Stmt {
	pos := p.advance().pos
	name := p.expectName().text
	var bases []Expr
	if p.acceptOp("(") {
		for !p.isOp(")") {
			bases = append(bases, p.test())
			if !p.acceptOp(",") {
				break
			}
		}
		p.expectOp(")")
	}
	return &ClassDef{node{pos}, name, bases, p.suite()}
}

// --- expressions ---

// testList parses one or more comma-separated tests, producing a tuple
// when a comma is present.
func (p *parser) testList() Expr {
	pos := p.peek().pos
	first := p.test()
	if !p.isOp(",") {
		return first
	}
	elts := []Expr{first}
	for p.acceptOp(",") {
		if p.endOfList() {
			break
		}
		elts = append(elts, p.test())
	}
	return &TupleExpr{node{pos}, elts}
}

func (p *parser) endOfList() bool {
	t := p.peek()
	if t.kind == tokenNewline || t.kind == tokenEOF {
		return true
	}
	if t.kind == tokenOp {
		switch t.text {
		case ")", "]", "}", "=", ";", ":":
			return true
		}
		if strings.HasSuffix(t.text, "=") && len(t.text) >= 2 && t.text != "==" && t.text != "!=" &&
			t.text != "<=" && t.text != ">=" {
			return true
		}
	}
	return t.kind == tokenName && t.text == "in"
}

// targetList parses for-loop and comprehension targets.
func (p *parser) targetList() Expr {
	pos := p.peek().pos
	first := p.orExpr()
	if !p.isOp(",") {
		checkTarget(p, first, true)
		return first
	}
	elts := []Expr{first}
	for p.acceptOp(",") {
		if p.isKeyword("in") {
			break
		}
		elts = append(elts, p.orExpr())
	}
	target := &TupleExpr{node{pos}, elts}
	checkTarget(p, target, true)
	return target
}

func (p *parser) test() Expr {
	t := p.peek()
	if t.kind == tokenName {
		switch t.text {
		case "lambda":
			p.reject("lambda expressions are not supported")
		case "yield", "await":
			p.reject("%q is not supported", t.text)
		}
	}
	body := p.orTest()
	if p.isOp(":=") {
		p.reject("assignment expressions are not supported")
	}
	if !p.isKeyword("if") {
		return body
	}
	p.advance()
	condition := p.orTest()
	p.expectKeyword("else")
	orElse := p.test()
	return &IfExp{node{t.pos}, condition, body, orElse}
}

func (p *parser) orTest() Expr {
	pos := p.peek().pos
	first := p.andTest()
	if !p.isKeyword("or") {
		return first
	}
	values := []Expr{first}
	for p.acceptKeyword("or") {
		values = append(values, p.andTest())
	}
	return &BoolOp{node{pos}, "or", values}
}

func (p *parser) andTest() Expr {
	pos := p.peek().pos
	first := p.notTest()
	if !p.isKeyword("and") {
		return first
	}
	values := []Expr{first}
	for p.acceptKeyword("and") {
		values = append(values, p.notTest())
	}
	return &BoolOp{node{pos}, "and", values}
}

func (p *parser) notTest() Expr {
	if p.isKeyword("not") {
		pos := p.advance().pos
		return &UnaryOp{node{pos}, "not", p.notTest()}
	}
	return p.comparison()
}

func (p *parser) comparisonOperator() (string, bool) {
	t := p.peek()
	if t.kind == tokenOp {
		switch t.text {
		case "<", ">", "==", ">=", "<=", "!=":
			p.advance()
			return t.text, true
		}
		return "", false
	}
	if t.kind != tokenName {
		return "", false
	}
	switch t.text {
	case "in":
		p.advance()
		return "in", true
	case "not":
		next := p.tokens[p.pos+1]
		if next.kind == tokenName && next.text == "in" {
			p.advance()
			p.advance()
			return "not in", true
		}
	case "is":
		p.advance()
		if p.acceptKeyword("not") {
			return "is not", true
		}
		return "is", true
	}
	return "", false
}

func (p *parser) comparison() Expr {
	pos := p.peek().pos
	left := p.orExpr()
	var ops []string
	var comparators []Expr
	for {
		op, ok := p.comparisonOperator()
		if !ok {
			break
		}
		ops = append(ops, op)
		comparators = append(comparators, p.orExpr())
	}
	if len(ops) == 0 {
		return left
	}
	return &Compare{node{pos}, left, ops, comparators}
}

// binaryLevels lists binary operators from loosest to tightest binding.
var binaryLevels = [][]string{
	{"|"},
	{"^"},
	{"&"},
	{"<<", ">>"},
	{"+", "-"},
	{"*", "/", "//", "%", "@"},
}

func (p *parser) orExpr() Expr { return p.binary(0) }

func (p *parser) binary(level int) Expr {
	if level == len(binaryLevels) {
		return p.factor()
	}
	left := p.binary(level + 1)
	for {
		t := p.peek()
		if t.kind != tokenOp || !slices.Contains(binaryLevels[level], t.text) {
			return left
		}
		p.advance()
		right := p.binary(level + 1)
		left = &BinOp{node{t.pos}, t.text, left, right}
	}
}

func (p *parser) factor() Expr {
	t := p.peek()
	if t.kind == tokenOp && (t.text == "-" || t.text == "+" || t.text == "~") {
		p.advance()
		return &UnaryOp{node{t.pos}, t.text, p.factor()}
	}
	return p.power()
}

func (p *parser) power() Expr {
	base := p.atomExpr()
	if t := p.peek(); t.kind == tokenOp && t.text == "**" {
		p.advance()
		return &BinOp{node{t.pos}, "**", base, p.factor()}
	}
	return base
}

func (p *parser) atomExpr() Expr {
	if p.isKeyword("await") {
		p.reject("%q is not supported", "await")
	}
	expr := p.atom()
	for {
		t := p.peek()
		if t.kind != tokenOp {
			return expr
		}
		switch t.text {
		case "(":
			p.advance()
			expr = p.callArguments(expr, t.pos)
		case "[":
			p.advance()
			index := p.subscriptList()
			p.expectOp("]")
			expr = &Subscript{node{t.pos}, expr, index}
		case ".":
			p.advance()
			name := p.peek()
			if name.kind != tokenName {
				p.syntaxError("expected an attribute name, found %s", p.describe(name))
			}
			p.advance()
			expr = &Attribute{node{t.pos}, expr, name.text}
		default:
			return expr
		}
	}
}

func (p *parser) callArguments(fn Expr, pos Pos) Expr {
	call := &Call{node: node{pos}, Func: fn}
	for !p.isOp(")") {
		if p.isOp("*") || p.isOp("**") {
			p.reject("argument unpacking is not supported")
		}
		t := p.peek()
		next := p.tokens[p.pos+1]
		if t.kind == tokenName && !keywords[t.text] && next.kind == tokenOp && next.text == "=" {
			p.advance()
			p.advance()
			call.Keywords = append(call.Keywords, Keyword{Name: t.text, Value: p.test()})
		} else {
			if len(call.Keywords) > 0 {
				p.syntaxError("positional argument follows keyword argument")
			}
			arg := p.test()
			if p.isKeyword("for") {
				arg = p.comprehension(GeneratorExp, nil, arg, t.pos)
				if len(call.Args) > 0 || !p.isOp(")") {
					p.syntaxError("generator expression must be parenthesized")
				}
			}
			call.Args = append(call.Args, arg)
		}
		if !p.acceptOp(",") {
			break
		}
	}
	p.expectOp(")")
	return call
}

func (p *parser) subscriptList() Expr {
	pos := p.peek().pos
	first := p.subscript()
	if !p.isOp(",") {
		return first
	}
	elts := []Expr{first}
	for p.acceptOp(",") {
		if p.isOp("]") {
			break
		}
		elts = append(elts, p.subscript())
	}
	return &TupleExpr{node{pos}, elts}
}

func (p *parser) subscript() Expr {
	pos := p.peek().pos
	var lower Expr
	if !p.isOp(":") {
		lower = p.test()
		if !p.isOp(":") {
			return lower
		}
	}
	slice := &Slice{node: node{pos}, Lower: lower}
	p.expectOp(":")
	if !p.isOp(":") && !p.isOp("]") && !p.isOp(",") {
		slice.Upper = p.test()
	}
	if p.acceptOp(":") {
		if !p.isOp("]") && !p.isOp(",") {
			slice.Step = p.test()
		}
	}
	return slice
}

func (p *parser) atom() Expr {
	t := p.peek()
	base := node{t.pos}
	switch t.kind {
	case tokenInt, tokenFloat:
		p.advance()
		return &Constant{base, t.num}
	case tokenString:
		var b strings.Builder
		for p.at(tokenString) {
			b.WriteString(p.advance().text)
		}
		return &Constant{base, b.String()}
	case tokenName:
		switch t.text {
		case "None":
			p.advance()
			return &Constant{base, nil}
		case "True":
			p.advance()
			return &Constant{base, true}
		case "False":
			p.advance()
			return &Constant{base, false}
		case "lambda":
			p.reject("lambda expressions are not supported")
		case "yield", "await":
			p.reject("%q is not supported", t.text)
		case "import", "def", "class", "del", "global", "nonlocal", "raise":
			p.reject("%q is not allowed in an expression", t.text)
		}
		if keywords[t.text] {
			p.syntaxError("unexpected keyword %q", t.text)
		}
		p.advance()
		return &Name{base, t.text}
	case tokenOp:
		switch t.text {
		case "(":
			p.advance()
			return p.parenthesized(t.pos)
		case "[":
			p.advance()
			return p.listDisplay(t.pos)
		case "{":
			p.advance()
			return p.braceDisplay(t.pos)
		case "*":
			p.reject("starred expressions are not supported")
		case ".":
			if p.tokens[p.pos+1].text == "." {
				p.reject("ellipsis is not supported")
			}
		}
	}
	p.syntaxError("unexpected %s", p.describe(t))
	return nil
}

func (p *parser) parenthesized(pos Pos) Expr {
	if p.acceptOp(")") {
		return &TupleExpr{node{pos}, nil}
	}
	if p.isKeyword("yield") {
		p.reject("%q is not supported", "yield")
	}
	first := p.test()
	if p.isKeyword("for") {
		comp := p.comprehension(GeneratorExp, nil, first, pos)
		p.expectOp(")")
		return comp
	}
	if p.acceptOp(")") {
		return first
	}
	elts := []Expr{first}
	for p.acceptOp(",") {
		if p.isOp(")") {
			break
		}
		elts = append(elts, p.test())
	}
	p.expectOp(")")
	return &TupleExpr{node{pos}, elts}
}

func (p *parser) listDisplay(pos Pos) Expr {
	if p.acceptOp("]") {
		return &ListExpr{node{pos}, nil}
	}
	first := p.test()
	if p.isKeyword("for") {
		comp := p.comprehension(ListComp, nil, first, pos)
		p.expectOp("]")
		return comp
	}
	elts := []Expr{first}
	for p.acceptOp(",") {
		if p.isOp("]") {
			break
		}
		elts = append(elts, p.test())
	}
	p.expectOp("]")
	return &ListExpr{node{pos}, elts}
}

func (p *parser) braceDisplay(pos Pos) Expr {
	if p.acceptOp("}") {
		return &DictExpr{node: node{pos}}
	}
	if p.isOp("**") {
		p.reject("dict unpacking is not supported")
	}
	first := p.test()
	if p.acceptOp(":") {
		value := p.test()
		if p.isKeyword("for") {
			comp := p.comprehension(DictComp, first, value, pos)
			p.expectOp("}")
			return comp
		}
		dict := &DictExpr{node{pos}, []Expr{first}, []Expr{value}}
		for p.acceptOp(",") {
			if p.isOp("}") {
				break
			}
			if p.isOp("**") {
				p.reject("dict unpacking is not supported")
			}
			key := p.test()
			p.expectOp(":")
			dict.Keys = append(dict.Keys, key)
			dict.Values = append(dict.Values, p.test())
		}
		p.expectOp("}")
		return dict
	}
	if p.isKeyword("for") {
		comp := p.comprehension(SetComp, nil, first, pos)
		p.expectOp("}")
		return comp
	}
	elts := []Expr{first}
	for p.acceptOp(",") {
		if p.isOp("}") {
			break
		}
		elts = append(elts, p.test())
	}
	p.expectOp("}")
	return &SetExpr{node{pos}, elts}
}

func (p *parser) comprehension(kind ComprehensionKind, key, elt Expr, pos Pos) Expr {
	comp := &Comprehension{node: node{pos}, Kind: kind, Key: key, Elt: elt}
	for p.acceptKeyword("for") {
		clause := &ForClause{Target: p.targetList()}
		p.expectKeyword("in")
		clause.Iter = p.orTest()
		for p.acceptKeyword("if") {
			clause.Ifs = append(clause.Ifs, p.orTest())
		}
		comp.Generators = append(comp.Generators, clause)
	}
	if p.isKeyword("async") {
		p.reject("asynchronous comprehensions are not supported")
	}
	return comp
}
