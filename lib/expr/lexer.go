// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package expr

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenNewline
	tokenIndent
	tokenDedent
	tokenName
	tokenInt
	tokenFloat
	tokenString
	tokenOp
)

// Pos is a 1-based source position.
type Pos struct {
	Line, Column int
}

func (p Pos) String() string { return fmt.Sprintf("line %d, column %d", p.Line, p.Column) }

type token struct {
	kind tokenKind
	text string // name, operator, or decoded string literal
	num  Value  // int64 or float64 for number tokens
	pos  Pos
}

// operators is ordered longest first so the scanner takes maximal munch.
var operators = []string{
	"**=", "//=", ">>=", "<<=",
	"**", "//", "==", "!=", "<=", ">=", "<<", ">>", "->", ":=",
	"+=", "-=", "*=", "/=", "%=", "&=", "|=", "^=", "@=",
	"+", "-", "*", "/", "%", "@", "&", "|", "^", "~", "<", ">",
	"(", ")", "[", "]", "{", "}", ",", ":", ".", ";", "=",
}

// lexer turns source text into tokens, synthesizing NEWLINE, INDENT and
// DEDENT tokens the way Python's tokenizer does.
type lexer struct {
	src     string
	offset  int
	line    int
	lineAt  int // offset of the current line start
	depth   int // bracket nesting; newlines inside brackets are ignored
	indents []int
	tokens  []token
	atStart bool
}

func tokenize(src string) ([]token, error) {
	lx := &lexer{src: src, line: 1, indents: []int{0}, atStart: true}
	if err := lx.run(); err != nil {
		return nil, err
	}
	return lx.tokens, nil
}

func (lx *lexer) pos() Pos { return Pos{Line: lx.line, Column: lx.offset - lx.lineAt + 1} }

func (lx *lexer) syntaxError(pos Pos, format string, args ...any) error {
	return errorf("SyntaxError", "%s (%s)", fmt.Sprintf(format, args...), pos)
}

func (lx *lexer) emit(kind tokenKind, text string, num Value, pos Pos) {
	lx.tokens = append(lx.tokens, token{kind: kind, text: text, num: num, pos: pos})
}

func (lx *lexer) newline() {
	lx.line++
	lx.lineAt = lx.offset
}

func (lx *lexer) run() error {
	for {
		if lx.atStart && lx.depth == 0 {
			done, err := lx.indentation()
			if err != nil {
				return err
			}
			if done {
				break
			}
		}
		if lx.offset >= len(lx.src) {
			break
		}
		c := lx.src[lx.offset]
		switch {
		case c == '\n':
			pos := lx.pos()
			lx.offset++
			if lx.depth == 0 {
				lx.emit(tokenNewline, "", nil, pos)
				lx.atStart = true
			}
			lx.newline()
		case c == ' ' || c == '\t' || c == '\r' || c == '\f':
			lx.offset++
		case c == '#':
			for lx.offset < len(lx.src) && lx.src[lx.offset] != '\n' {
				lx.offset++
			}
		case c == '\\':
			if lx.offset+1 < len(lx.src) && lx.src[lx.offset+1] == '\n' {
				lx.offset += 2
				lx.newline()
				continue
			}
			if lx.offset+2 < len(lx.src) && lx.src[lx.offset+1] == '\r' && lx.src[lx.offset+2] == '\n' {
				lx.offset += 3
				lx.newline()
				continue
			}
			return lx.syntaxError(lx.pos(), "unexpected character after line continuation character")
		case isDigit(c) || (c == '.' && lx.offset+1 < len(lx.src) && isDigit(lx.src[lx.offset+1])):
			if err := lx.number(); err != nil {
				return err
			}
		case c == '\'' || c == '"':
			if err := lx.str("", lx.pos()); err != nil {
				return err
			}
		default:
			r, _ := utf8.DecodeRuneInString(lx.src[lx.offset:])
			if r == '_' || unicode.IsLetter(r) {
				if err := lx.nameOrPrefixedString(); err != nil {
					return err
				}
				continue
			}
			if !lx.operator() {
				return lx.syntaxError(lx.pos(), "invalid character %q", string(r))
			}
		}
	}

	pos := lx.pos()
	if n := len(lx.tokens); n > 0 && lx.tokens[n-1].kind != tokenNewline && lx.tokens[n-1].kind != tokenDedent {
		lx.emit(tokenNewline, "", nil, pos)
	}
	for len(lx.indents) > 1 {
		lx.indents = lx.indents[:len(lx.indents)-1]
		lx.emit(tokenDedent, "", nil, pos)
	}
	lx.emit(tokenEOF, "", nil, pos)
	if lx.depth > 0 {
		return lx.syntaxError(pos, "unexpected EOF: unclosed bracket")
	}
	return nil
}

// indentation measures the indentation of the next non-blank line and
// emits INDENT or DEDENT tokens. It reports done at end of input.
func (lx *lexer) indentation() (bool, error) {
	for {
		width := 0
		start := lx.offset
		for lx.offset < len(lx.src) {
			c := lx.src[lx.offset]
			if c == ' ' {
				width++
			} else if c == '\t' {
				width = (width/8 + 1) * 8
			} else if c == '\f' || c == '\r' {
				// ignored
			} else {
				break
			}
			lx.offset++
		}
		if lx.offset >= len(lx.src) {
			return true, nil
		}
		c := lx.src[lx.offset]
		if c == '\n' || c == '#' {
			for lx.offset < len(lx.src) && lx.src[lx.offset] != '\n' {
				lx.offset++
			}
			if lx.offset < len(lx.src) {
				lx.offset++
				lx.newline()
			}
			continue
		}
		lx.atStart = false
		pos := Pos{Line: lx.line, Column: lx.offset - start + 1}
		current := lx.indents[len(lx.indents)-1]
		switch {
		case width > current:
			lx.indents = append(lx.indents, width)
			lx.emit(tokenIndent, "", nil, pos)
		case width < current:
			for width < lx.indents[len(lx.indents)-1] {
				lx.indents = lx.indents[:len(lx.indents)-1]
				lx.emit(tokenDedent, "", nil, pos)
			}
			if width != lx.indents[len(lx.indents)-1] {
				return false, lx.syntaxError(pos, "unindent does not match any outer indentation level")
			}
		}
		return false, nil
	}
}

func (lx *lexer) operator() bool {
	rest := lx.src[lx.offset:]
	for _, op := range operators {
		if strings.HasPrefix(rest, op) {
			pos := lx.pos()
			lx.offset += len(op)
			switch op {
			case "(", "[", "{":
				lx.depth++
			case ")", "]", "}":
				if lx.depth > 0 {
					lx.depth--
				}
			}
			lx.emit(tokenOp, op, nil, pos)
			return true
		}
	}
	return false
}

func (lx *lexer) nameOrPrefixedString() error {
	pos := lx.pos()
	start := lx.offset
	for lx.offset < len(lx.src) {
		r, size := utf8.DecodeRuneInString(lx.src[lx.offset:])
		if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			break
		}
		lx.offset += size
	}
	name := lx.src[start:lx.offset]
	if lx.offset < len(lx.src) && (lx.src[lx.offset] == '\'' || lx.src[lx.offset] == '"') {
		prefix := strings.ToLower(name)
		switch prefix {
		case "r", "u", "b", "f", "rb", "br", "fr", "rf":
			return lx.str(prefix, pos)
		}
	}
	lx.emit(tokenName, name, nil, pos)
	return nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func (lx *lexer) number() error {
	pos := lx.pos()
	start := lx.offset
	src := lx.src
	base := 10
	if src[lx.offset] == '0' && lx.offset+1 < len(src) {
		switch src[lx.offset+1] {
		case 'x', 'X':
			base = 16
		case 'o', 'O':
			base = 8
		case 'b', 'B':
			base = 2
		}
	}
	if base != 10 {
		lx.offset += 2
		for lx.offset < len(src) && (isHexDigit(src[lx.offset]) || src[lx.offset] == '_') {
			lx.offset++
		}
		digits := strings.ReplaceAll(src[start+2:lx.offset], "_", "")
		value, err := strconv.ParseInt(digits, base, 64)
		if err != nil {
			return lx.syntaxError(pos, "invalid number literal %q", src[start:lx.offset])
		}
		lx.emit(tokenInt, src[start:lx.offset], value, pos)
		return nil
	}

	isFloat := false
	for lx.offset < len(src) && (isDigit(src[lx.offset]) || src[lx.offset] == '_') {
		lx.offset++
	}
	if lx.offset < len(src) && src[lx.offset] == '.' {
		isFloat = true
		lx.offset++
		for lx.offset < len(src) && (isDigit(src[lx.offset]) || src[lx.offset] == '_') {
			lx.offset++
		}
	}
	if lx.offset < len(src) && (src[lx.offset] == 'e' || src[lx.offset] == 'E') {
		mark := lx.offset
		lx.offset++
		if lx.offset < len(src) && (src[lx.offset] == '+' || src[lx.offset] == '-') {
			lx.offset++
		}
		if lx.offset < len(src) && isDigit(src[lx.offset]) {
			isFloat = true
			for lx.offset < len(src) && isDigit(src[lx.offset]) {
				lx.offset++
			}
		} else {
			lx.offset = mark
		}
	}
	if lx.offset < len(src) && (src[lx.offset] == 'j' || src[lx.offset] == 'J') {
		return rejectf("complex literals are not supported")
	}
	text := src[start:lx.offset]
	digits := strings.ReplaceAll(text, "_", "")
	if isFloat {
		value, err := strconv.ParseFloat(digits, 64)
		if err != nil && !isRangeError(err) {
			return lx.syntaxError(pos, "invalid number literal %q", text)
		}
		lx.emit(tokenFloat, text, value, pos)
		return nil
	}
	value, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		if isRangeError(err) {
			return errorf("OverflowError", "integer literal %s exceeds %d", text, int64(math.MaxInt64))
		}
		return lx.syntaxError(pos, "invalid number literal %q", text)
	}
	lx.emit(tokenInt, text, value, pos)
	return nil
}

func isRangeError(err error) bool {
	numErr, ok := err.(*strconv.NumError)
	return ok && numErr.Err == strconv.ErrRange
}

func isHexDigit(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// str scans a string literal starting at the opening quote.
func (lx *lexer) str(prefix string, pos Pos) error {
	if strings.Contains(prefix, "f") {
		return rejectf("f-strings are not supported")
	}
	if strings.Contains(prefix, "b") {
		return rejectf("bytes literals are not supported")
	}
	raw := strings.Contains(prefix, "r")
	src := lx.src
	quote := src[lx.offset]
	triple := strings.HasPrefix(src[lx.offset:], strings.Repeat(string(quote), 3))
	if triple {
		lx.offset += 3
	} else {
		lx.offset++
	}

	var b strings.Builder
	for {
		if lx.offset >= len(src) {
			return lx.syntaxError(pos, "unterminated string literal")
		}
		c := src[lx.offset]
		if c == quote {
			if !triple {
				lx.offset++
				break
			}
			if strings.HasPrefix(src[lx.offset:], strings.Repeat(string(quote), 3)) {
				lx.offset += 3
				break
			}
		}
		if c == '\n' {
			if !triple {
				return lx.syntaxError(pos, "unterminated string literal")
			}
			b.WriteByte(c)
			lx.offset++
			lx.newline()
			continue
		}
		if c == '\\' && lx.offset+1 < len(src) {
			if raw {
				b.WriteByte(c)
				b.WriteByte(src[lx.offset+1])
				if src[lx.offset+1] == '\n' {
					lx.offset += 2
					lx.newline()
					continue
				}
				lx.offset += 2
				continue
			}
			if err := lx.escape(&b, pos); err != nil {
				return err
			}
			continue
		}
		b.WriteByte(c)
		lx.offset++
	}
	lx.emit(tokenString, b.String(), nil, pos)
	return nil
}

func (lx *lexer) escape(b *strings.Builder, pos Pos) error {
	src := lx.src
	c := src[lx.offset+1]
	lx.offset += 2
	simple := map[byte]string{
		'\\': "\\", '\'': "'", '"': "\"", 'n': "\n", 't': "\t", 'r': "\r",
		'a': "\a", 'b': "\b", 'f': "\f", 'v': "\v",
	}
	if text, ok := simple[c]; ok {
		b.WriteString(text)
		return nil
	}
	switch c {
	case '\n':
		lx.newline()
		return nil
	case 'x', 'u', 'U':
		width := map[byte]int{'x': 2, 'u': 4, 'U': 8}[c]
		if lx.offset+width > len(src) {
			return lx.syntaxError(pos, "truncated \\%c escape", c)
		}
		code, err := strconv.ParseUint(src[lx.offset:lx.offset+width], 16, 32)
		if err != nil {
			return lx.syntaxError(pos, "truncated \\%c escape", c)
		}
		lx.offset += width
		b.WriteRune(rune(code))
		return nil
	}
	if c >= '0' && c <= '7' {
		end := lx.offset - 1
		for end < len(src) && end < lx.offset+2 && src[end] >= '0' && src[end] <= '7' {
			end++
		}
		code, _ := strconv.ParseUint(src[lx.offset-1:end], 8, 32)
		lx.offset = end
		b.WriteRune(rune(code))
		return nil
	}
	b.WriteByte('\\')
	b.WriteByte(c)
	return nil
}
