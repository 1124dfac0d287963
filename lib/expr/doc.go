// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package expr evaluates compliance test expressions: a restricted,
// side-effect free subset of Python expression syntax, interpreted by
// a tree walker written here.
//
//	program, err := expr.Compile("device.config['mtu'] == 9000")
//	passed, steps, err := program.Run(ctx,
//	    map[string]expr.Value{"device": device}, functions, 2)
//
// [Compile] rejects statements, imports, lambdas and private
// attributes with an [*InvalidExpressionError] before anything runs.
// [Program.Run] additionally rejects calls to names that are neither
// bound nor builtin. Everything raised during evaluation, including a
// panic inside a callable, comes back as one [*EvalError] whose Type
// is the Python exception name.
//
// With verbosity 1 or 2 Run returns an explanation: one [Step] per
// evaluated sub-expression whose value differs from its source text.
// Verbosity 2 also adds a structural diff after every false
// comparison of two containers, in the shape [DeepDiff] returns.
//
// Values are Go scalars (int64, float64, string, bool, nil) and the
// container types [List], [Tuple], [Dict] and [Set]. Devices and other
// host objects implement [Object]. Evaluation is bounded by the Max*
// limits and by the context passed to Run.
//
// [ParseModule] and [ExecModule] extend the grammar to the statements
// that package nameset allows in helper definitions.
package expr
