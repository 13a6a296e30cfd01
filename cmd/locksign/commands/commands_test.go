// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/locksign/cmd/locksign/cli"
	"github.com/bureau-foundation/locksign/lib/audit"
	"github.com/bureau-foundation/locksign/lib/authority"
	"github.com/bureau-foundation/locksign/lib/clock"
	"github.com/bureau-foundation/locksign/lib/codec"
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

// localSandbox returns a repository whose local identity is Erin and
// points the in-process backend at it: the sandbox's isolated git
// environment becomes the process environment, and HOME (and with it
// the default audit database) moves into the sandbox.
func localSandbox(t *testing.T) (*testutil.GitSandbox, string) {
	t.Helper()
	sandbox := testutil.NewGitSandbox(t)
	sandbox.SetConfig(t, "local", "user.name", "Erin")
	sandbox.SetConfig(t, "local", "user.email", "erin@example.com")
	path := sandbox.WriteFile(t, "analysis.ipynb", []byte(testNotebook))
	sandbox.CommitAll(t, "initial")

	for _, entry := range sandbox.Env {
		name, value, _ := strings.Cut(entry, "=")
		t.Setenv(name, value)
	}
	t.Setenv(config.EnvironmentVariable, "")
	return sandbox, path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := Root(context.Background(), &out).Execute(args)
	return out.String(), err
}

func TestLocalLockStatusUnlock(t *testing.T) {
	sandbox, path := localSandbox(t)

	output, err := execute(t, "lock", path, "-m", "Freeze results")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if !strings.Contains(output, "Locked "+path) || !strings.Contains(output, "Erin <erin@example.com>") {
		t.Errorf("lock output:\n%s", output)
	}
	if !strings.Contains(output, "(unsigned)") {
		t.Errorf("lock output does not report an unsigned commit:\n%s", output)
	}
	if subject := sandbox.Git(t, "log", "-1", "--format=%s"); subject != "Freeze results" {
		t.Errorf("HEAD subject = %q", subject)
	}

	output, err = execute(t, "status", path)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"locked", "lock holds", "Erin <erin@example.com>"} {
		if !strings.Contains(output, want) {
			t.Errorf("status output missing %q:\n%s", want, output)
		}
	}

	output, err = execute(t, "unlock", path)
	if err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if !strings.Contains(output, "Unlocked "+path) {
		t.Errorf("unlock output:\n%s", output)
	}

	output, err = execute(t, "status", path)
	if err != nil {
		t.Fatalf("status after unlock: %v", err)
	}
	if !strings.Contains(output, "unlocked") || !strings.Contains(output, "last unlocked by Erin") {
		t.Errorf("status output after unlock:\n%s", output)
	}

	output, err = execute(t, "audit", "--json")
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	var events []audit.Event
	if err := json.Unmarshal([]byte(output), &events); err != nil {
		t.Fatalf("decoding audit output: %v\n%s", err, output)
	}
	if len(events) != 2 || events[0].Action != audit.ActionUnlock || events[1].Action != audit.ActionLock {
		t.Errorf("audit events = %+v", events)
	}
}

func TestLocalStatusReportsBrokenLock(t *testing.T) {
	_, path := localSandbox(t)

	if _, err := execute(t, "lock", path); err != nil {
		t.Fatalf("lock: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	tampered := bytes.Replace(data, []byte("print(42)"), []byte("print(43)"), 1)
	if bytes.Equal(tampered, data) {
		t.Fatal("locked notebook no longer contains the cell source")
	}
	if err := os.WriteFile(path, tampered, 0o644); err != nil {
		t.Fatal(err)
	}

	output, err := execute(t, "status", path)
	var exitError *cli.ExitError
	if !errors.As(err, &exitError) || exitError.Code != 1 {
		t.Fatalf("status error = %v, want exit code 1", err)
	}
	if !strings.Contains(output, "lock broken") {
		t.Errorf("status output:\n%s", output)
	}

	_, err = execute(t, "unlock", path)
	var toolError *cli.ToolError
	if !errors.As(err, &toolError) || toolError.Category != cli.CategoryValidation {
		t.Fatalf("unlock error = %v, want a validation ToolError", err)
	}
	if !lockerr.Is(err, lockerr.ContentTampered) {
		t.Errorf("unlock kind = %s, want ContentTampered", lockerr.KindOf(err))
	}
}

func TestLocalRefusals(t *testing.T) {
	sandbox, path := localSandbox(t)

	if _, err := execute(t, "lock", path, "--json"); err != nil {
		t.Fatalf("lock: %v", err)
	}

	_, err := execute(t, "lock", path)
	if !lockerr.Is(err, lockerr.AlreadyLocked) {
		t.Errorf("second lock = %v, want AlreadyLocked", err)
	}

	_, err = execute(t, "commit", path, "-m", "sneak an edit in")
	var toolError *cli.ToolError
	if !errors.As(err, &toolError) || toolError.Category != cli.CategoryConflict {
		t.Errorf("commit of a locked notebook = %v, want a conflict ToolError", err)
	}

	_, err = execute(t, "commit", path)
	if !errors.As(err, &toolError) || toolError.Category != cli.CategoryValidation {
		t.Errorf("commit without a message = %v, want a validation ToolError", err)
	}

	_, err = execute(t, "lock", filepath.Join(sandbox.Dir, "missing.ipynb"))
	if !errors.As(err, &toolError) || toolError.Category != cli.CategoryNotFound {
		t.Errorf("lock of a missing file = %v, want a not_found ToolError", err)
	}

	_, err = execute(t, "lock")
	if !errors.As(err, &toolError) || toolError.Category != cli.CategoryValidation {
		t.Errorf("lock without arguments = %v, want a validation ToolError", err)
	}
}

func TestLocalWhoamiAndRepoStatus(t *testing.T) {
	sandbox, _ := localSandbox(t)

	output, err := execute(t, "whoami", sandbox.Dir)
	if err != nil {
		t.Fatalf("whoami: %v", err)
	}
	if strings.TrimSpace(output) != "Erin <erin@example.com>" {
		t.Errorf("whoami = %q", output)
	}

	sandbox.WriteFile(t, "scratch.ipynb", []byte(testNotebook))
	output, err = execute(t, "repo-status", sandbox.Dir, "--json")
	if err != nil {
		t.Fatalf("repo-status: %v", err)
	}
	var response schema.RepositoryStatusResponse
	if err := json.Unmarshal([]byte(output), &response); err != nil {
		t.Fatalf("decoding repo-status output: %v\n%s", err, output)
	}
	status := response.RepositoryStatus
	if !status.IsGitRepo || status.CurrentBranch != "main" || status.GPGConfigured {
		t.Errorf("repository status = %+v", status)
	}
	if len(status.UntrackedFiles) != 1 || status.UntrackedFiles[0] != "scratch.ipynb" {
		t.Errorf("untracked files = %v", status.UntrackedFiles)
	}

	output, err = execute(t, "repo-status", t.TempDir())
	if err != nil {
		t.Fatalf("repo-status outside a repository: %v", err)
	}
	if !strings.Contains(output, "is not inside a git repository") {
		t.Errorf("repo-status output:\n%s", output)
	}
}

func TestVersionAndHelp(t *testing.T) {
	output, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if output != "locksign "+version.Info()+"\n" {
		t.Errorf("version = %q", output)
	}

	_, err = execute(t, "unlcok")
	if err == nil || !strings.Contains(err.Error(), `did you mean "unlock"`) {
		t.Errorf("typo error = %v", err)
	}
}

// startService serves auth on a socket with the same action names as
// locksign-service.
func startService(t *testing.T, auth *authority.Authority) string {
	t.Helper()
	socketPath := filepath.Join(testutil.SocketDir(t), "locksign.sock")
	server := service.NewSocketServer(socketPath, nil)
	server.Handle(schema.ActionLock, serveAction(auth.Lock))
	server.Handle(schema.ActionUnlock, serveAction(auth.Unlock))
	server.Handle(schema.ActionNotebookStatus, serveAction(auth.Status))
	server.Handle(schema.ActionUserInfo, serveAction(auth.UserInfo))

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
	return socketPath
}

func serveAction[Request, Response any](operation func(context.Context, Request) (*Response, error)) service.ActionFunc {
	return func(ctx context.Context, raw []byte) (any, error) {
		var request Request
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, err
		}
		return operation(ctx, request)
	}
}

func TestSocketBackend(t *testing.T) {
	sandbox := testutil.NewGitSandbox(t)
	sandbox.SetConfig(t, "local", "user.name", "Farid")
	sandbox.SetConfig(t, "local", "user.email", "farid@example.com")
	path := sandbox.WriteFile(t, "model.ipynb", []byte(testNotebook))
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
		Clock:        clock.Fake(time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC)),
	})
	if err != nil {
		t.Fatal(err)
	}
	socketPath := startService(t, auth)

	output, err := execute(t, "lock", path, "--socket", socketPath)
	if err != nil {
		t.Fatalf("lock over socket: %v", err)
	}
	if !strings.Contains(output, "Farid <farid@example.com>") {
		t.Errorf("lock output:\n%s", output)
	}

	_, err = execute(t, "lock", path, "--socket", socketPath)
	var serviceError *service.ServiceError
	if !errors.As(err, &serviceError) || !lockerr.Is(err, lockerr.AlreadyLocked) {
		t.Errorf("second lock over socket = %v, want AlreadyLocked ServiceError", err)
	}

	output, err = execute(t, "status", path, "--socket", socketPath, "--json")
	if err != nil {
		t.Fatalf("status over socket: %v", err)
	}
	var status schema.StatusResponse
	if err := json.Unmarshal([]byte(output), &status); err != nil {
		t.Fatalf("decoding status: %v\n%s", err, output)
	}
	if !status.Locked || !status.SignatureValid || status.Metadata.UserName != "Farid" {
		t.Errorf("status = %+v", status)
	}

	if _, err := execute(t, "unlock", path, "--socket", socketPath); err != nil {
		t.Fatalf("unlock over socket: %v", err)
	}

	output, err = execute(t, "whoami", sandbox.Dir, "--socket", socketPath)
	if err != nil {
		t.Fatalf("whoami over socket: %v", err)
	}
	if strings.TrimSpace(output) != "Farid <farid@example.com>" {
		t.Errorf("whoami = %q", output)
	}
}
