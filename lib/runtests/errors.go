// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package runtests

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// PipelineAbortError reports a run whose apply stage did not finish on
// every worker. The combine stage rolls back every worker's results
// and deletes the report before returning it.
type PipelineAbortError struct {
	RunID string

	// FailedWorkers lists the worker ids that errored, failed, or left
	// no result, in ascending order.
	FailedWorkers []int

	// Causes holds one error per failed worker, in the same order.
	Causes []error
}

func (e *PipelineAbortError) Error() string {
	ids := make([]string, len(e.FailedWorkers))
	for i, id := range e.FailedWorkers {
		ids[i] = strconv.Itoa(id)
	}
	message := fmt.Sprintf("run %s aborted: worker(s) %s did not finish", e.RunID, strings.Join(ids, ", "))
	if cause := errors.Join(e.Causes...); cause != nil {
		message += ": " + strings.ReplaceAll(cause.Error(), "\n", "; ")
	}
	return message
}

func (e *PipelineAbortError) Unwrap() []error { return e.Causes }
