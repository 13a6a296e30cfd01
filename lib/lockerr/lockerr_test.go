// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package lockerr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/bureau-foundation/locksign/lib/git"
	"github.com/bureau-foundation/locksign/lib/signing"
)

func TestKind_HTTPStatus(t *testing.T) {
	t.Parallel()

	tests := map[Kind]int{
		EmptyContent:              http.StatusBadRequest,
		ContentTampered:           http.StatusBadRequest,
		IdentityNotConfigured:     http.StatusForbidden,
		IdentityMismatch:          http.StatusForbidden,
		SigningBackendUnavailable: http.StatusForbidden,
		NoSigningKeyConfigured:    http.StatusForbidden,
		SigningKeyMismatch:        http.StatusForbidden,
		PrivateKeyUnavailable:     http.StatusForbidden,
		SignatureInvalid:          http.StatusForbidden,
		OriginalKeyUnknown:        http.StatusForbidden,
		NotARepository:            http.StatusBadRequest,
		GitUnavailable:            http.StatusServiceUnavailable,
		BackendTimeout:            http.StatusGatewayTimeout,
		SigningFailed:             http.StatusInternalServerError,
		VerificationFailed:        http.StatusInternalServerError,
		InvalidRequest:            http.StatusBadRequest,
		CommitNotFound:            http.StatusNotFound,
		NotLocked:                 http.StatusConflict,
		AlreadyLocked:             http.StatusConflict,
		NotebookLocked:            http.StatusConflict,
		OperationInProgress:       http.StatusConflict,
		Internal:                  http.StatusInternalServerError,
	}

	for kind, want := range tests {
		if got := kind.HTTPStatus(); got != want {
			t.Errorf("%s.HTTPStatus() = %d, want %d", kind, got, want)
		}
	}
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	base := New(IdentityMismatch, "locked by %s", "Alice")
	wrapped := fmt.Errorf("unlock: %w", base)

	if got := KindOf(wrapped); got != IdentityMismatch {
		t.Errorf("KindOf(wrapped) = %s, want IdentityMismatch", got)
	}
	if !Is(wrapped, IdentityMismatch) {
		t.Error("Is(wrapped, IdentityMismatch) = false")
	}
	if got := KindOf(errors.New("plain")); got != Internal {
		t.Errorf("KindOf(plain) = %s, want Internal", got)
	}
	if Is(nil, Internal) {
		t.Error("Is(nil, Internal) = true")
	}
	if wrapped.Error() != "unlock: locked by Alice" {
		t.Errorf("Error() = %q", wrapped.Error())
	}
}

func TestAtStep(t *testing.T) {
	t.Parallel()

	original := New(ContentTampered, "changed")
	stepped := AtStep(original, "content_integrity")

	var classified *Error
	if !errors.As(stepped, &classified) || classified.Step != "content_integrity" {
		t.Fatalf("AtStep did not set step: %#v", stepped)
	}
	if original.Step != "" {
		t.Error("AtStep mutated the original error")
	}

	again := AtStep(stepped, "other")
	errors.As(again, &classified)
	if classified.Step != "content_integrity" {
		t.Errorf("AtStep overwrote an existing step: %q", classified.Step)
	}

	plain := errors.New("plain")
	if AtStep(plain, "x") != plain {
		t.Error("AtStep changed an unclassified error")
	}
}

func TestFromBackend(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"git timeout", fmt.Errorf("running: %w", git.ErrTimeout), BackendTimeout},
		{"gpg timeout", signing.ErrTimeout, BackendTimeout},
		{"context deadline", context.DeadlineExceeded, BackendTimeout},
		{"git missing", &git.CommandError{Err: errors.New("exec"), Args: []string{"status"}}, SigningFailed},
		{"git unavailable", fmt.Errorf("x: %w", git.ErrUnavailable), GitUnavailable},
		{"not a repository", fmt.Errorf("x: %w", git.ErrNotARepository), NotARepository},
		{"gpg unavailable", fmt.Errorf("x: %w", signing.ErrUnavailable), SigningBackendUnavailable},
		{"already classified", New(CommitNotFound, "gone"), CommitNotFound},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			got := FromBackend(test.err, SigningFailed, "committing")
			if KindOf(got) != test.want {
				t.Errorf("FromBackend kind = %s, want %s (err %v)", KindOf(got), test.want, got)
			}
			if !errors.Is(got, test.err) && test.want != CommitNotFound {
				t.Errorf("FromBackend lost the cause chain")
			}
		})
	}

	if FromBackend(nil, Internal, "x") != nil {
		t.Error("FromBackend(nil) != nil")
	}
}
