// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package locksign defines the request and response types of the
// locksign API. The same structs travel as JSON over HTTP and as CBOR
// over the service socket; the CBOR codec reads the json tags, so each
// field carries exactly one tag.
package locksign

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bureau-foundation/locksign/lib/audit"
	"github.com/bureau-foundation/locksign/lib/commit"
	"github.com/bureau-foundation/locksign/lib/identity"
	"github.com/bureau-foundation/locksign/lib/notebook"
)

// Socket action names.
const (
	ActionLock             = "lock"
	ActionUnlock           = "unlock"
	ActionCommit           = "commit"
	ActionUserInfo         = "user-info"
	ActionNotebookStatus   = "notebook-status"
	ActionRepositoryStatus = "repository-status"
	ActionAudit            = "audit"
	ActionStatus           = "status"
)

// HTTP routes, relative to the configured base URL.
const (
	RouteLock             = "/lock-notebook"
	RouteUnlock           = "/unlock-notebook"
	RouteCommit           = "/commit-notebook"
	RouteUserInfo         = "/user-info"
	RouteNotebookStatus   = "/notebook-status"
	RouteRepositoryStatus = "/repository-status"
	RouteAudit            = "/audit"
)

// Content is a notebook document carried inside a request. Over JSON
// it is normally the notebook object itself; a JSON string holding
// the serialized notebook is accepted too. Over CBOR it is a byte
// string holding the notebook JSON.
type Content json.RawMessage

// MarshalJSON embeds the notebook verbatim.
func (c Content) MarshalJSON() ([]byte, error) {
	if len(c) == 0 {
		return []byte("null"), nil
	}
	return json.RawMessage(c).MarshalJSON()
}

// UnmarshalJSON keeps the raw notebook bytes.
func (c *Content) UnmarshalJSON(data []byte) error {
	*c = append((*c)[:0], data...)
	return nil
}

// Bytes returns the notebook JSON, unwrapping the string form.
func (c Content) Bytes() ([]byte, error) {
	trimmed := bytes.TrimSpace(c)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, ErrNoContent
	}
	if trimmed[0] != '"' {
		return trimmed, nil
	}
	var text string
	if err := json.Unmarshal(trimmed, &text); err != nil {
		return nil, fmt.Errorf("decoding notebook_content string: %w", err)
	}
	if text == "" {
		return nil, ErrNoContent
	}
	return []byte(text), nil
}

// ErrNoContent is returned by Content.Bytes when the request carries
// no notebook.
var ErrNoContent = errors.New("notebook_content is required")

// LockRequest locks a notebook.
type LockRequest struct {
	NotebookPath    string  `json:"notebook_path"`
	NotebookContent Content `json:"notebook_content"`

	// CommitMessage defaults to the configured lock message.
	CommitMessage string `json:"commit_message,omitempty"`
}

// LockResponse reports a completed lock. CommitHash is the branch tip
// holding the final notebook; Metadata.CommitHash is the signed commit
// unlock verifies.
type LockResponse struct {
	Success         bool                        `json:"success"`
	Message         string                      `json:"message"`
	Metadata        *notebook.SignatureMetadata `json:"metadata"`
	CommitHash      string                      `json:"commit_hash"`
	Signed          bool                        `json:"signed"`
	NotebookContent Content                     `json:"notebook_content,omitempty"`
}

// UnlockRequest unlocks a notebook.
type UnlockRequest struct {
	NotebookPath    string  `json:"notebook_path"`
	NotebookContent Content `json:"notebook_content"`
}

// UnlockResponse reports a completed unlock.
type UnlockResponse struct {
	Success                     bool                        `json:"success"`
	Message                     string                      `json:"message"`
	Metadata                    *notebook.SignatureMetadata `json:"metadata"`
	CommitHash                  string                      `json:"commit_hash,omitempty"`
	SignatureVerificationPassed bool                        `json:"signature_verification_passed"`
	WasGPGSigned                bool                        `json:"was_gpg_signed"`
	NotebookContent             Content                     `json:"notebook_content,omitempty"`
}

// CommitRequest saves a notebook and commits it.
type CommitRequest struct {
	NotebookPath    string  `json:"notebook_path"`
	NotebookContent Content `json:"notebook_content"`
	CommitMessage   string  `json:"commit_message"`
}

// CommitResponse reports a created commit.
type CommitResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	CommitHash string `json:"commit_hash"`
	Signed     bool   `json:"signed"`
}

// UserInfoRequest asks for the effective git identity. RepoPath
// selects the repository whose local configuration applies.
type UserInfoRequest struct {
	RepoPath string `json:"repo_path,omitempty"`
}

// UserInfoResponse carries the resolved identity.
type UserInfoResponse struct {
	Success  bool              `json:"success"`
	UserInfo identity.Identity `json:"user_info"`
}

// StatusRequest asks for a notebook's lock state. With NotebookPath
// set, the lock commit binding is checked too.
type StatusRequest struct {
	NotebookContent Content `json:"notebook_content"`
	NotebookPath    string  `json:"notebook_path,omitempty"`
}

// StatusResponse reports a notebook's lock state. SignatureValid
// means the content hash matches and, when checked, the lock commit
// binding holds; it does not involve gpg.
type StatusResponse struct {
	Success        bool                        `json:"success"`
	Locked         bool                        `json:"locked"`
	SignatureValid bool                        `json:"signature_valid"`
	Metadata       *notebook.SignatureMetadata `json:"metadata"`

	// Detail explains an invalid signature.
	Detail string `json:"detail,omitempty"`
}

// RepositoryStatusRequest names a notebook (or directory) whose
// repository is described.
type RepositoryStatusRequest struct {
	NotebookPath string `json:"notebook_path"`
}

// RepositoryStatusResponse describes the repository.
type RepositoryStatusResponse struct {
	Success          bool                    `json:"success"`
	RepositoryStatus commit.RepositoryStatus `json:"repository_status"`
}

// AuditRequest lists recent audit events, newest first.
type AuditRequest struct {
	Limit int `json:"limit,omitempty"`
}

// AuditResponse carries audit events.
type AuditResponse struct {
	Success bool          `json:"success"`
	Events  []audit.Event `json:"events"`
}

// ErrorResponse is the body of every failed HTTP request.
type ErrorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	ErrorKind string `json:"error_kind"`
}

// ServiceStatus answers the socket "status" action.
type ServiceStatus struct {
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	NotebookRoot  string `json:"notebook_root,omitempty"`
}
