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

// Str renders v the way Python's str() does.
func Str(v Value) string {
	if s, ok := v.(string); ok {
		return s
	}
	return Repr(v)
}

// Repr renders v the way Python's repr() does.
func Repr(v Value) string {
	var b strings.Builder
	writeRepr(&b, v, 0)
	return b.String()
}

const maxReprDepth = 64

func writeRepr(b *strings.Builder, v Value, depth int) {
	if depth > maxReprDepth {
		b.WriteString("...")
		return
	}
	switch v := v.(type) {
	case nil:
		b.WriteString("None")
	case bool:
		if v {
			b.WriteString("True")
		} else {
			b.WriteString("False")
		}
	case int64:
		b.WriteString(strconv.FormatInt(v, 10))
	case float64:
		b.WriteString(formatFloat(v))
	case string:
		b.WriteString(quoteString(v))
	case *List:
		b.WriteByte('[')
		writeItems(b, v.Items, depth)
		b.WriteByte(']')
	case Tuple:
		b.WriteByte('(')
		writeItems(b, v, depth)
		if len(v) == 1 {
			b.WriteByte(',')
		}
		b.WriteByte(')')
	case *Dict:
		b.WriteByte('{')
		for i, key := range v.keys {
			if i > 0 {
				b.WriteString(", ")
			}
			writeRepr(b, key, depth+1)
			b.WriteString(": ")
			writeRepr(b, v.values[i], depth+1)
		}
		b.WriteByte('}')
	case *Set:
		name := "set"
		if v.frozen {
			name = "frozenset"
		}
		switch {
		case v.Len() == 0:
			b.WriteString(name + "()")
		case v.frozen:
			b.WriteString("frozenset({")
			writeItems(b, v.items, depth)
			b.WriteString("})")
		default:
			b.WriteByte('{')
			writeItems(b, v.items, depth)
			b.WriteByte('}')
		}
	case *Range:
		if v.Step == 1 {
			fmt.Fprintf(b, "range(%d, %d)", v.Start, v.Stop)
		} else {
			fmt.Fprintf(b, "range(%d, %d, %d)", v.Start, v.Stop, v.Step)
		}
	case *Function:
		fmt.Fprintf(b, "<function %s>", v.def.Name)
	case *Builtin:
		fmt.Fprintf(b, "<built-in function %s>", v.name)
	case *BoundMethod:
		fmt.Fprintf(b, "<bound method %s of %s>", v.fn.def.Name, Repr(v.self))
	case *Class:
		fmt.Fprintf(b, "<class '%s'>", v.name)
	case *Instance:
		fmt.Fprintf(b, "<%s object>", v.class.name)
	case fmt.Stringer:
		b.WriteString(v.String())
	case Object:
		fmt.Fprintf(b, "<%s>", v.TypeName())
	default:
		fmt.Fprintf(b, "%v", v)
	}
}

func writeItems(b *strings.Builder, items []Value, depth int) {
	for i, item := range items {
		if i > 0 {
			b.WriteString(", ")
		}
		writeRepr(b, item, depth+1)
	}
}

// formatFloat matches Python's float repr: shortest round-trip digits,
// exponent notation below 1e-4 and from 1e16, and a trailing ".0" on
// integral values.
func formatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	}
	scientific := strconv.FormatFloat(f, 'e', -1, 64)
	mantissa, exponentText, _ := strings.Cut(scientific, "e")
	exponent, _ := strconv.Atoi(exponentText)
	if exponent < -4 || exponent >= 16 {
		return fmt.Sprintf("%se%+03d", mantissa, exponent)
	}
	plain := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(plain, ".") {
		plain += ".0"
	}
	return plain
}

// quoteString renders s as a Python string literal, preferring single
// quotes unless s contains a single quote and no double quote.
func quoteString(s string) string {
	quote := byte('\'')
	if strings.ContainsRune(s, '\'') && !strings.ContainsRune(s, '"') {
		quote = '"'
	}
	var b strings.Builder
	b.WriteByte(quote)
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		switch {
		case r == utf8.RuneError && size == 1:
			fmt.Fprintf(&b, `\x%02x`, s[i-1])
		case r == rune(quote) || r == '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case r < 0x20 || r == 0x7f:
			fmt.Fprintf(&b, `\x%02x`, r)
		case !unicode.IsPrint(r) && r > 0x7f:
			if r > 0xffff {
				fmt.Fprintf(&b, `\U%08x`, r)
			} else if r > 0xff {
				fmt.Fprintf(&b, `\u%04x`, r)
			} else {
				fmt.Fprintf(&b, `\x%02x`, r)
			}
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte(quote)
	return b.String()
}
