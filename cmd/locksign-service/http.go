// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/bureau-foundation/locksign/lib/authority"
	"github.com/bureau-foundation/locksign/lib/lockerr"
	schema "github.com/bureau-foundation/locksign/lib/schema/locksign"
)

// maxBodySize bounds a request body. Notebooks with embedded outputs
// can be large, but not unbounded.
const maxBodySize = 64 << 20

// newHTTPHandler routes the JSON API under baseURL.
func newHTTPHandler(auth *authority.Authority, baseURL string, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	base := strings.TrimSuffix(baseURL, "/")
	mux := http.NewServeMux()

	mux.HandleFunc("POST "+base+schema.RouteLock, post(logger, auth.Lock))
	mux.HandleFunc("POST "+base+schema.RouteUnlock, post(logger, auth.Unlock))
	mux.HandleFunc("POST "+base+schema.RouteCommit, post(logger, auth.Commit))
	mux.HandleFunc("POST "+base+schema.RouteNotebookStatus, post(logger, auth.Status))
	mux.HandleFunc("POST "+base+schema.RouteRepositoryStatus, post(logger, auth.RepositoryStatus))

	mux.HandleFunc("GET "+base+schema.RouteUserInfo, func(w http.ResponseWriter, r *http.Request) {
		request := schema.UserInfoRequest{RepoPath: r.URL.Query().Get("repo_path")}
		respond[schema.UserInfoResponse](w, logger, r.URL.Path)(auth.UserInfo(r.Context(), request))
	})
	mux.HandleFunc("GET "+base+schema.RouteAudit, func(w http.ResponseWriter, r *http.Request) {
		var request schema.AuditRequest
		if raw := r.URL.Query().Get("limit"); raw != "" {
			limit, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, logger, r.URL.Path, lockerr.New(lockerr.InvalidRequest, "limit must be an integer, got %q", raw))
				return
			}
			request.Limit = limit
		}
		respond[schema.AuditResponse](w, logger, r.URL.Path)(auth.Audit(r.Context(), request))
	})

	return mux
}

// post adapts an operation taking a JSON body.
func post[Request, Response any](logger *slog.Logger, operation func(context.Context, Request) (*Response, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		var request Request
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, logger, r.URL.Path, lockerr.Wrap(lockerr.InvalidRequest, err, "request body exceeds %d bytes", tooLarge.Limit))
				return
			}
			writeError(w, logger, r.URL.Path, lockerr.Wrap(lockerr.InvalidRequest, err, "invalid JSON request body: %v", err))
			return
		}
		respond[Response](w, logger, r.URL.Path)(operation(r.Context(), request))
	}
}

// respond returns a function that writes an operation's outcome.
func respond[Response any](w http.ResponseWriter, logger *slog.Logger, route string) func(*Response, error) {
	return func(response *Response, err error) {
		if err != nil {
			writeError(w, logger, route, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, response)
	}
}

func writeError(w http.ResponseWriter, logger *slog.Logger, route string, err error) {
	kind := lockerr.KindOf(err)
	message := err.Error()
	if kind == lockerr.Internal {
		// Backend detail stays in the log.
		logger.Error("request failed", "route", route, "error", err)
		message = "internal error; see the service log"
	}
	writeJSON(w, logger, kind.HTTPStatus(), schema.ErrorResponse{
		Success:   false,
		Error:     message,
		ErrorKind: string(kind),
	})
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warn("writing response", "error", err)
	}
}
