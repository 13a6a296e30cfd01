// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package lockerr defines the typed failures returned by lock, unlock,
// and the other notebook operations. Every failure carries a Kind; the
// Kind determines the failure's class and the HTTP status a transport
// reports for it. Raw tool exit codes never reach a caller: backend
// errors from git and gpg are classified with FromBackend.
package lockerr

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bureau-foundation/locksign/lib/git"
	"github.com/bureau-foundation/locksign/lib/signing"
)

// Kind names a failure.
type Kind string

const (
	EmptyContent    Kind = "EmptyContent"
	ContentTampered Kind = "ContentTampered"

	IdentityNotConfigured Kind = "IdentityNotConfigured"
	IdentityMismatch      Kind = "IdentityMismatch"

	SigningBackendUnavailable Kind = "SigningBackendUnavailable"
	NoSigningKeyConfigured    Kind = "NoSigningKeyConfigured"
	SigningKeyMismatch        Kind = "SigningKeyMismatch"
	PrivateKeyUnavailable     Kind = "PrivateKeyUnavailable"
	SignatureInvalid          Kind = "SignatureInvalid"
	OriginalKeyUnknown        Kind = "OriginalKeyUnknown"

	NotARepository     Kind = "NotARepository"
	GitUnavailable     Kind = "GitUnavailable"
	BackendTimeout     Kind = "BackendTimeout"
	SigningFailed      Kind = "SigningFailed"
	VerificationFailed Kind = "VerificationFailed"

	InvalidRequest      Kind = "InvalidRequest"
	CommitNotFound      Kind = "CommitNotFound"
	NotLocked           Kind = "NotLocked"
	AlreadyLocked       Kind = "AlreadyLocked"
	NotebookLocked      Kind = "NotebookLocked"
	OperationInProgress Kind = "OperationInProgress"
	Internal            Kind = "Internal"
)

// Class groups kinds by who has to act on them.
type Class string

const (
	// ClassIntegrity failures mean the data itself is suspect,
	// independent of who is asking.
	ClassIntegrity Class = "integrity"

	// ClassAuthorization failures mean the caller's git identity is
	// missing or wrong.
	ClassAuthorization Class = "authorization"

	// ClassCrypto failures mean the caller's signing setup cannot
	// prove ownership of the lock.
	ClassCrypto Class = "crypto"

	// ClassEnvironment failures mean git or gpg is missing,
	// misconfigured, or too slow.
	ClassEnvironment Class = "environment"

	// ClassConflict failures mean the request collides with the
	// notebook's current state or another in-flight request.
	ClassConflict Class = "conflict"

	// ClassRequest failures mean the request was malformed or names
	// something that does not exist.
	ClassRequest Class = "request"

	// ClassBackend failures are unexpected errors from git, gpg, or
	// the filesystem.
	ClassBackend Class = "backend"
)

// Class returns the kind's class.
func (k Kind) Class() Class {
	switch k {
	case EmptyContent, ContentTampered:
		return ClassIntegrity
	case IdentityNotConfigured, IdentityMismatch:
		return ClassAuthorization
	case SigningBackendUnavailable, NoSigningKeyConfigured, SigningKeyMismatch,
		PrivateKeyUnavailable, SignatureInvalid, OriginalKeyUnknown:
		return ClassCrypto
	case NotARepository, GitUnavailable, BackendTimeout:
		return ClassEnvironment
	case NotLocked, AlreadyLocked, NotebookLocked, OperationInProgress:
		return ClassConflict
	case InvalidRequest, CommitNotFound:
		return ClassRequest
	default:
		return ClassBackend
	}
}

// HTTPStatus maps the kind to a response status code.
func (k Kind) HTTPStatus() int {
	switch k {
	case NotARepository, InvalidRequest:
		return http.StatusBadRequest
	case GitUnavailable:
		return http.StatusServiceUnavailable
	case BackendTimeout:
		return http.StatusGatewayTimeout
	case CommitNotFound:
		return http.StatusNotFound
	}
	switch k.Class() {
	case ClassIntegrity:
		return http.StatusBadRequest
	case ClassAuthorization, ClassCrypto:
		return http.StatusForbidden
	case ClassConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified failure. Message is safe to show the end user;
// Err (if any) carries backend detail for logs.
type Error struct {
	Kind    Kind
	Message string

	// Step names the protocol step that failed ("content_integrity",
	// "identity", "signing_key", ...). Empty outside the protocols.
	Step string

	Err error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an *Error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an *Error carrying err as its cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// AtStep returns err with Step set when err is an *Error without one.
// Other errors are returned unchanged.
func AtStep(err error, step string) error {
	var classified *Error
	if errors.As(err, &classified) && classified.Step == "" {
		copied := *classified
		copied.Step = step
		return &copied
	}
	return err
}

// KindOf returns the Kind of the first *Error in err's chain, or
// Internal when there is none.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return Internal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// FromBackend classifies an error from git, gpg, or a context. Errors
// that are already classified pass through unchanged. Unrecognized
// errors become fallback. The message names the operation so the user
// sees what was being attempted.
func FromBackend(err error, fallback Kind, operation string) error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return err
	}

	switch {
	case errors.Is(err, git.ErrTimeout), errors.Is(err, signing.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return Wrap(BackendTimeout, err, "%s timed out; check that git and gpg are responsive (a gpg passphrase prompt may be waiting)", operation)
	case errors.Is(err, git.ErrUnavailable):
		return Wrap(GitUnavailable, err, "%s failed: git is not installed or not on PATH", operation)
	case errors.Is(err, git.ErrNotARepository):
		return Wrap(NotARepository, err, "%s failed: the notebook is not inside a git repository; run git init in its directory", operation)
	case errors.Is(err, signing.ErrUnavailable):
		return Wrap(SigningBackendUnavailable, err, "%s failed: gpg is not installed or not on PATH", operation)
	}
	return Wrap(fallback, err, "%s failed: %v", operation, err)
}
