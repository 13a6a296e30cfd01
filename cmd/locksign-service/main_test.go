// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/locksign/lib/authority"
	"github.com/bureau-foundation/locksign/lib/clock"
	"github.com/bureau-foundation/locksign/lib/commit"
	"github.com/bureau-foundation/locksign/lib/config"
	"github.com/bureau-foundation/locksign/lib/git"
	"github.com/bureau-foundation/locksign/lib/gitconfig"
	"github.com/bureau-foundation/locksign/lib/identity"
	"github.com/bureau-foundation/locksign/lib/lockerr"
	schema "github.com/bureau-foundation/locksign/lib/schema/locksign"
	"github.com/bureau-foundation/locksign/lib/service"
	"github.com/bureau-foundation/locksign/lib/signing"
	"github.com/bureau-foundation/locksign/lib/testutil"
	"github.com/bureau-foundation/locksign/lib/version"
)

const testNotebook = `{"cells":[{"cell_type":"code","execution_count":null,"metadata":{},"outputs":[],"source":["print(42)"]}],"metadata":{},"nbformat":4,"nbformat_minor":5}`

var testEpoch = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

// newTestAuthority returns an Authority over a fresh repository whose
// local git identity is Dana.
func newTestAuthority(t *testing.T, clk clock.Clock) (*authority.Authority, *testutil.GitSandbox) {
	t.Helper()
	sandbox := testutil.NewGitSandbox(t)
	sandbox.SetConfig(t, "local", "user.name", "Dana")
	sandbox.SetConfig(t, "local", "user.email", "dana@example.com")
	sandbox.WriteFile(t, "README.md", []byte("notebooks\n"))
	sandbox.CommitAll(t, "initial")

	source := gitconfig.NewGitSource(git.WithEnv(sandbox.Env...))
	commits, err := commit.New(commit.Config{ConfigSource: source, Env: sandbox.Env})
	if err != nil {
		t.Fatal(err)
	}
	keys, err := signing.NewGPG(signing.Config{ConfigSource: source, Env: sandbox.Env})
	if err != nil {
		t.Fatal(err)
	}
	auth, err := authority.New(authority.Config{
		NotebookRoot: sandbox.Dir,
		Identity:     identity.NewProvider(source),
		Keys:         keys,
		Commits:      commits,
		Clock:        clk,
	})
	if err != nil {
		t.Fatal(err)
	}
	return auth, sandbox
}

type httpResult struct {
	status int
	body   []byte
}

func doJSON(t *testing.T, server *httptest.Server, method, route, body string) httpResult {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	request, err := http.NewRequest(method, server.URL+"/git-lock-sign"+route, reader)
	if err != nil {
		t.Fatal(err)
	}
	response, err := server.Client().Do(request)
	if err != nil {
		t.Fatalf("%s %s: %v", method, route, err)
	}
	defer response.Body.Close()
	data, err := io.ReadAll(response.Body)
	if err != nil {
		t.Fatal(err)
	}
	return httpResult{status: response.StatusCode, body: data}
}

func decode[T any](t *testing.T, result httpResult) T {
	t.Helper()
	var value T
	if err := json.Unmarshal(result.body, &value); err != nil {
		t.Fatalf("decoding %s: %v", result.body, err)
	}
	return value
}

func requestBody(t *testing.T, fields map[string]any) string {
	t.Helper()
	data, err := json.Marshal(fields)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestHTTP_LockStatusUnlock(t *testing.T) {
	t.Parallel()
	auth, sandbox := newTestAuthority(t, clock.Fake(testEpoch))
	server := httptest.NewServer(newHTTPHandler(auth, "/git-lock-sign", nil))
	t.Cleanup(server.Close)

	// The notebook travels as a JSON object, not a string.
	locked := doJSON(t, server, http.MethodPost, schema.RouteLock, requestBody(t, map[string]any{
		"notebook_path":    "analysis.ipynb",
		"notebook_content": json.RawMessage(testNotebook),
		"commit_message":   "Results for review",
	}))
	if locked.status != http.StatusOK {
		t.Fatalf("lock status = %d: %s", locked.status, locked.body)
	}
	lockResponse := decode[schema.LockResponse](t, locked)
	if !lockResponse.Success || lockResponse.Metadata == nil || lockResponse.Metadata.UserName != "Dana" {
		t.Fatalf("lock response = %s", locked.body)
	}
	if head := sandbox.Git(t, "rev-parse", "HEAD"); head != lockResponse.CommitHash {
		t.Errorf("HEAD = %s, want %s", head, lockResponse.CommitHash)
	}
	var embedded map[string]any
	if err := json.Unmarshal(lockResponse.NotebookContent, &embedded); err != nil {
		t.Fatalf("notebook_content is not an embedded object: %v", err)
	}

	status := doJSON(t, server, http.MethodPost, schema.RouteNotebookStatus, requestBody(t, map[string]any{
		"notebook_content": json.RawMessage(lockResponse.NotebookContent),
		"notebook_path":    "analysis.ipynb",
	}))
	statusResponse := decode[schema.StatusResponse](t, status)
	if status.status != http.StatusOK || !statusResponse.Locked || !statusResponse.SignatureValid {
		t.Errorf("status = %d %s", status.status, status.body)
	}

	unlocked := doJSON(t, server, http.MethodPost, schema.RouteUnlock, requestBody(t, map[string]any{
		"notebook_path":    "analysis.ipynb",
		"notebook_content": json.RawMessage(lockResponse.NotebookContent),
	}))
	if unlocked.status != http.StatusOK {
		t.Fatalf("unlock status = %d: %s", unlocked.status, unlocked.body)
	}
	unlockResponse := decode[schema.UnlockResponse](t, unlocked)
	if unlockResponse.Metadata.Locked || unlockResponse.WasGPGSigned {
		t.Errorf("unlock response = %s", unlocked.body)
	}
}

func TestHTTP_ErrorKindMapping(t *testing.T) {
	t.Parallel()
	auth, _ := newTestAuthority(t, clock.Fake(testEpoch))
	server := httptest.NewServer(newHTTPHandler(auth, "/git-lock-sign/", nil))
	t.Cleanup(server.Close)

	tests := []struct {
		name       string
		method     string
		route      string
		body       string
		wantStatus int
		wantKind   lockerr.Kind
	}{
		{
			name: "invalid json", method: http.MethodPost, route: schema.RouteLock,
			body: `{"notebook_path": `, wantStatus: 400, wantKind: lockerr.InvalidRequest,
		},
		{
			name: "missing content", method: http.MethodPost, route: schema.RouteLock,
			body: `{"notebook_path": "a.ipynb"}`, wantStatus: 400, wantKind: lockerr.EmptyContent,
		},
		{
			name: "unlock of unlocked notebook", method: http.MethodPost, route: schema.RouteUnlock,
			body: requestBody(t, map[string]any{"notebook_path": "a.ipynb", "notebook_content": json.RawMessage(testNotebook)}),
			wantStatus: 409, wantKind: lockerr.NotLocked,
		},
		{
			name: "commit without message", method: http.MethodPost, route: schema.RouteCommit,
			body: requestBody(t, map[string]any{"notebook_path": "a.ipynb", "notebook_content": json.RawMessage(testNotebook)}),
			wantStatus: 400, wantKind: lockerr.InvalidRequest,
		},
		{
			name: "path outside root", method: http.MethodPost, route: schema.RouteLock,
			body: requestBody(t, map[string]any{"notebook_path": "../../etc/x.ipynb", "notebook_content": json.RawMessage(testNotebook)}),
			wantStatus: 400, wantKind: lockerr.InvalidRequest,
		},
		{
			name: "bad audit limit", method: http.MethodGet, route: schema.RouteAudit + "?limit=abc",
			wantStatus: 400, wantKind: lockerr.InvalidRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := doJSON(t, server, tt.method, tt.route, tt.body)
			if result.status != tt.wantStatus {
				t.Errorf("status = %d, want %d (%s)", result.status, tt.wantStatus, result.body)
			}
			failure := decode[schema.ErrorResponse](t, result)
			if failure.Success || failure.ErrorKind != string(tt.wantKind) || failure.Error == "" {
				t.Errorf("error body = %s, want kind %s", result.body, tt.wantKind)
			}
		})
	}

	if result := doJSON(t, server, http.MethodGet, schema.RouteLock, ""); result.status != http.StatusMethodNotAllowed {
		t.Errorf("GET lock = %d, want 405", result.status)
	}
}

func TestHTTP_UserInfoAndAudit(t *testing.T) {
	t.Parallel()
	auth, _ := newTestAuthority(t, clock.Fake(testEpoch))
	server := httptest.NewServer(newHTTPHandler(auth, "/git-lock-sign", nil))
	t.Cleanup(server.Close)

	info := doJSON(t, server, http.MethodGet, schema.RouteUserInfo, "")
	userInfo := decode[schema.UserInfoResponse](t, info)
	if info.status != http.StatusOK || userInfo.UserInfo.Name != "Dana" || userInfo.UserInfo.Email != "dana@example.com" {
		t.Errorf("user-info = %d %s", info.status, info.body)
	}

	// Without an audit log the list is empty, never null.
	events := doJSON(t, server, http.MethodGet, schema.RouteAudit+"?limit=5", "")
	if events.status != http.StatusOK || !bytes.Contains(events.body, []byte(`"events":[]`)) {
		t.Errorf("audit = %d %s", events.status, events.body)
	}
}

func TestSocket_Actions(t *testing.T) {
	t.Parallel()
	fakeClock := clock.Fake(testEpoch)
	auth, _ := newTestAuthority(t, fakeClock)

	socketPath := filepath.Join(testutil.SocketDir(t), "locksign.sock")
	server := service.NewSocketServer(socketPath, nil)
	registerActions(server, auth, fakeClock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := testutil.RequireReceive(t, done, 5*time.Second, "socket server shutdown"); err != nil {
			t.Errorf("Serve: %v", err)
		}
	})
	testutil.RequireClosed(t, server.Ready(), 5*time.Second, "socket server ready")

	client := service.NewClient(socketPath)
	fakeClock.Advance(90 * time.Second)

	var status schema.ServiceStatus
	if err := client.Call(ctx, schema.ActionStatus, nil, &status); err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Version != version.Info() || status.UptimeSeconds != 90 || status.NotebookRoot != auth.NotebookRoot() {
		t.Errorf("status = %+v", status)
	}

	var locked schema.LockResponse
	err := client.Call(ctx, schema.ActionLock, map[string]any{
		"notebook_path":    "analysis.ipynb",
		"notebook_content": []byte(testNotebook),
	}, &locked)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if !locked.Success || locked.Metadata == nil || !locked.Metadata.Locked {
		t.Fatalf("lock response = %+v", locked)
	}

	err = client.Call(ctx, schema.ActionLock, map[string]any{
		"notebook_path":    "analysis.ipynb",
		"notebook_content": []byte(locked.NotebookContent),
	}, nil)
	var serviceErr *service.ServiceError
	if !errors.As(err, &serviceErr) || serviceErr.Kind != lockerr.AlreadyLocked {
		t.Fatalf("relock error = %v, want AlreadyLocked", err)
	}
	if !lockerr.Is(err, lockerr.AlreadyLocked) {
		t.Error("lockerr.Is does not see the kind through the client error")
	}

	var unlocked schema.UnlockResponse
	if err := client.Call(ctx, schema.ActionUnlock, map[string]any{
		"notebook_path":    "analysis.ipynb",
		"notebook_content": []byte(locked.NotebookContent),
	}, &unlocked); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if unlocked.Metadata == nil || unlocked.Metadata.Locked {
		t.Errorf("unlock response = %+v", unlocked)
	}

	var repository schema.RepositoryStatusResponse
	if err := client.Call(ctx, schema.ActionRepositoryStatus, map[string]any{"notebook_path": "analysis.ipynb"}, &repository); err != nil {
		t.Fatalf("repository-status: %v", err)
	}
	if !repository.RepositoryStatus.IsGitRepo || repository.RepositoryStatus.CurrentBranch != "main" {
		t.Errorf("repository status = %+v", repository.RepositoryStatus)
	}
}

func TestServe_SocketOnlyLifecycle(t *testing.T) {
	t.Parallel()
	sandbox := testutil.NewGitSandbox(t)

	cfg := config.Default()
	cfg.Paths.NotebookRoot = sandbox.Dir
	cfg.Paths.AuditDB = filepath.Join(t.TempDir(), "audit.db")
	cfg.Server.HTTPAddress = ""
	cfg.Server.SocketPath = filepath.Join(testutil.SocketDir(t), "locksign.sock")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, clock.Real(), nil) }()

	client := service.NewClient(cfg.Server.SocketPath)
	var status schema.ServiceStatus
	deadline := time.Now().Add(5 * time.Second)
	for {
		err := client.Call(context.Background(), schema.ActionStatus, nil, &status)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("service never answered: %v", err)
		}
		time.Sleep(10 * time.Millisecond) //nolint:realclock waiting for a real listener
	}
	if status.NotebookRoot != sandbox.Dir {
		t.Errorf("notebook root = %q", status.NotebookRoot)
	}

	var events schema.AuditResponse
	if err := client.Call(context.Background(), schema.ActionAudit, nil, &events); err != nil {
		t.Fatalf("audit: %v", err)
	}
	if !events.Success || len(events.Events) != 0 {
		t.Errorf("audit = %+v", events)
	}

	cancel()
	if err := testutil.RequireReceive(t, done, 10*time.Second, "serve shutdown"); err != nil {
		t.Errorf("serve: %v", err)
	}
}

func TestRun_Version(t *testing.T) {
	if err := run([]string{"--version"}); err != nil {
		t.Errorf("run --version: %v", err)
	}
	if err := run([]string{"--no-such-flag"}); err == nil {
		t.Error("unknown flag accepted")
	}
}
