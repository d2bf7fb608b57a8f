// Piste Bridge - Upstream Map Synchronization and GPX Derivation
// Copyright 2026 Alpine Track Ops
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/alpinetrack/pistebridge

package upstream

import (
	"errors"
	"fmt"
	"strings"
)

// Error is a typed failure from the upstream mapping API. StatusCode is 0
// for transport-level failures that never produced a response.
type Error struct {
	Operation  string
	StatusCode int
	Body       string
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("upstream %s failed: HTTP %d: %s", e.Operation, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("upstream %s failed: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying transport error, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure is worth retrying: transport errors,
// rate limiting, and 5xx responses. Client errors (4xx other than 429) are
// permanent.
func (e *Error) Retryable() bool {
	if e.StatusCode == 0 {
		return true
	}
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// IsRetryable reports whether err is an upstream failure worth retrying.
// Non-upstream errors are treated as transient transport problems.
func IsRetryable(err error) bool {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Retryable()
	}
	return true
}

// AttemptError records one failed update strategy attempt.
type AttemptError struct {
	Strategy string
	Err      error
}

// StrategyError aggregates the failure of every update strategy in the
// chain. It is returned only when no strategy succeeded, so no intermediate
// error is silently swallowed.
type StrategyError struct {
	Attempts []AttemptError
}

// Error implements the error interface, listing every attempt's failure.
func (e *StrategyError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("all %d update strategies failed:", len(e.Attempts)))
	for _, a := range e.Attempts {
		sb.WriteString(fmt.Sprintf(" [%s: %v]", a.Strategy, a.Err))
	}
	return sb.String()
}

// Unwrap exposes the underlying attempt errors to errors.Is/As.
func (e *StrategyError) Unwrap() []error {
	errs := make([]error, len(e.Attempts))
	for i, a := range e.Attempts {
		errs[i] = a.Err
	}
	return errs
}
