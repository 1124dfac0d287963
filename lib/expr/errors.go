// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package expr

import (
	"errors"
	"fmt"
)

// EvalError is the single error type for anything that goes wrong
// while parsing or evaluating an expression that was not rejected
// outright. Type carries the Python-style exception name
// (ZeroDivisionError, KeyError, SyntaxError, ...).
type EvalError struct {
	Type    string
	Message string
}

func (e *EvalError) Error() string {
	if e.Message == "" {
		return e.Type
	}
	return e.Type + ": " + e.Message
}

// InvalidExpressionError reports an expression that uses a construct
// the evaluator refuses to run: statements, imports, definitions,
// private attributes, or calls to functions that were not provided.
// It is raised before any part of the expression is evaluated.
type InvalidExpressionError struct {
	Message string
}

func (e *InvalidExpressionError) Error() string {
	return "invalid expression: " + e.Message
}

// ErrNoAttribute is returned by [Object.Attr] for unknown attributes.
var ErrNoAttribute = errors.New("no such attribute")

func errorf(kind, format string, args ...any) *EvalError {
	return &EvalError{Type: kind, Message: fmt.Sprintf(format, args...)}
}

func rejectf(format string, args ...any) *InvalidExpressionError {
	return &InvalidExpressionError{Message: fmt.Sprintf(format, args...)}
}

// asEvalError converts err into an *EvalError unless it already is one,
// is a rejection, or is a context error that must reach the caller
// unchanged.
func asEvalError(err error) error {
	if err == nil {
		return nil
	}
	var evalErr *EvalError
	if errors.As(err, &evalErr) {
		return evalErr
	}
	var invalid *InvalidExpressionError
	if errors.As(err, &invalid) {
		return invalid
	}
	if isContextError(err) {
		return err
	}
	return &EvalError{Type: "Exception", Message: err.Error()}
}
