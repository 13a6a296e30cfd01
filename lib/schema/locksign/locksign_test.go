// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package locksign

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/bureau-foundation/locksign/lib/codec"
	"github.com/bureau-foundation/locksign/lib/notebook"
)

const testNotebook = `{"cells":[{"cell_type":"code","source":"print(1)"}],"metadata":{},"nbformat":4,"nbformat_minor":5}`

func TestContent_ObjectForm(t *testing.T) {
	body := `{"notebook_path":"analysis.ipynb","notebook_content":` + testNotebook + `}`

	var request LockRequest
	if err := json.Unmarshal([]byte(body), &request); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if request.NotebookPath != "analysis.ipynb" {
		t.Errorf("NotebookPath = %q", request.NotebookPath)
	}
	content, err := request.NotebookContent.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if string(content) != testNotebook {
		t.Errorf("content = %s, want %s", content, testNotebook)
	}
}

func TestContent_StringForm(t *testing.T) {
	encoded, err := json.Marshal(testNotebook)
	if err != nil {
		t.Fatal(err)
	}
	body := `{"notebook_content":` + string(encoded) + `}`

	var request StatusRequest
	if err := json.Unmarshal([]byte(body), &request); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	content, err := request.NotebookContent.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if string(content) != testNotebook {
		t.Errorf("content = %s, want %s", content, testNotebook)
	}
}

func TestContent_Missing(t *testing.T) {
	for _, body := range []string{`{}`, `{"notebook_content":null}`, `{"notebook_content":""}`} {
		var request UnlockRequest
		if err := json.Unmarshal([]byte(body), &request); err != nil {
			t.Fatalf("Unmarshal(%s): %v", body, err)
		}
		if _, err := request.NotebookContent.Bytes(); !errors.Is(err, ErrNoContent) {
			t.Errorf("Bytes() for %s = %v, want ErrNoContent", body, err)
		}
	}
}

func TestContent_MarshalEmbedsNotebook(t *testing.T) {
	response := LockResponse{
		Success:         true,
		Metadata:        &notebook.SignatureMetadata{Locked: true},
		NotebookContent: Content(testNotebook),
	}
	data, err := json.Marshal(response)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(data), `"notebook_content":`+testNotebook) {
		t.Errorf("notebook not embedded verbatim: %s", data)
	}

	// An empty Content is omitted.
	response.NotebookContent = nil
	data, err = json.Marshal(response)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if strings.Contains(string(data), "notebook_content") {
		t.Errorf("empty notebook_content was not omitted: %s", data)
	}
}

func TestRequest_CBORUsesJSONNames(t *testing.T) {
	// The socket client sends plain maps keyed by the JSON names.
	raw, err := codec.Marshal(map[string]any{
		"action":           ActionLock,
		"notebook_path":    "analysis.ipynb",
		"notebook_content": []byte(testNotebook),
		"commit_message":   "lock it",
	})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var request LockRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if request.NotebookPath != "analysis.ipynb" || request.CommitMessage != "lock it" {
		t.Errorf("request = %+v", request)
	}
	content, err := request.NotebookContent.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if string(content) != testNotebook {
		t.Errorf("content = %s", content)
	}
}

func TestErrorResponse_Fields(t *testing.T) {
	data, err := json.Marshal(ErrorResponse{Error: "not locked", ErrorKind: "NotLocked"})
	if err != nil {
		t.Fatal(err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatal(err)
	}
	if fields["success"] != false || fields["error"] != "not locked" || fields["error_kind"] != "NotLocked" {
		t.Errorf("fields = %v", fields)
	}
}
