// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"bytes"
	"errors"
	"testing"
)

func TestReport(t *testing.T) {
	var buffer bytes.Buffer
	code := report(&buffer, errors.New("loading config: LOCKSIGN_CONFIG not set"))
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if got := buffer.String(); got != "error: loading config: LOCKSIGN_CONFIG not set\n" {
		t.Errorf("output = %q", got)
	}
}
