// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/locksign/lib/lockerr"
)

// ErrorCategory tells a script what to do about a failed command
// without parsing the message.
type ErrorCategory string

const (
	// CategoryValidation: bad flags or arguments. Fix the input.
	CategoryValidation ErrorCategory = "validation"

	// CategoryNotFound: a named notebook or commit does not exist.
	CategoryNotFound ErrorCategory = "not_found"

	// CategoryForbidden: the caller's identity or signing key does not
	// own the lock.
	CategoryForbidden ErrorCategory = "forbidden"

	// CategoryConflict: the notebook's lock state disagrees with the
	// request.
	CategoryConflict ErrorCategory = "conflict"

	// CategoryTransient: git, gpg, or the service was unreachable or
	// slow. Retrying may succeed.
	CategoryTransient ErrorCategory = "transient"

	// CategoryInternal: anything else.
	CategoryInternal ErrorCategory = "internal"
)

// ToolError is a categorized command failure. Error returns the inner
// message unchanged.
type ToolError struct {
	Category ErrorCategory
	Err      error
}

func (e *ToolError) Error() string { return e.Err.Error() }

func (e *ToolError) Unwrap() error { return e.Err }

// Validation reports bad input.
func Validation(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryValidation, Err: fmt.Errorf(format, args...)}
}

// NotFound reports a missing notebook or commit.
func NotFound(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryNotFound, Err: fmt.Errorf(format, args...)}
}

// Transient reports a failure worth retrying.
func Transient(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryTransient, Err: fmt.Errorf(format, args...)}
}

// Internal reports an unexpected failure.
func Internal(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryInternal, Err: fmt.Errorf(format, args...)}
}

// Categorize wraps err in a ToolError whose category follows its
// lockerr kind. A nil error or an existing ToolError is returned
// unchanged.
func Categorize(err error) error {
	if err == nil {
		return nil
	}
	var toolError *ToolError
	if errors.As(err, &toolError) {
		return err
	}
	return &ToolError{Category: CategoryOf(lockerr.KindOf(err)), Err: err}
}

// CategoryOf maps a failure kind to its category.
func CategoryOf(kind lockerr.Kind) ErrorCategory {
	switch kind {
	case lockerr.InvalidRequest, lockerr.NotARepository, lockerr.EmptyContent:
		return CategoryValidation
	case lockerr.CommitNotFound:
		return CategoryNotFound
	case lockerr.GitUnavailable, lockerr.BackendTimeout, lockerr.OperationInProgress:
		return CategoryTransient
	}
	switch kind.Class() {
	case lockerr.ClassAuthorization, lockerr.ClassCrypto:
		return CategoryForbidden
	case lockerr.ClassConflict:
		return CategoryConflict
	case lockerr.ClassIntegrity:
		return CategoryValidation
	}
	return CategoryInternal
}
