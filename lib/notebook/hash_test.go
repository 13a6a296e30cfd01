// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package notebook

import (
	"strings"
	"testing"
)

const sampleNotebook = `{
 "cells": [
  {
   "cell_type": "code",
   "execution_count": 1,
   "metadata": {},
   "outputs": [],
   "source": ["import math\n", "print(math.pi)"]
  },
  {
   "cell_type": "markdown",
   "metadata": {},
   "source": "# Results"
  }
 ],
 "metadata": {
  "kernelspec": {"display_name": "Python 3", "language": "python", "name": "python3"}
 },
 "nbformat": 4,
 "nbformat_minor": 5
}`

func mustParse(t *testing.T, content string) *Document {
	t.Helper()
	doc, err := Parse([]byte(content))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return doc
}

func mustHash(t *testing.T, hasher *Hasher, doc *Document) string {
	t.Helper()
	hash, err := hasher.Hash(doc)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	return hash
}

func TestHash_KeyOrderAndWhitespaceIndependent(t *testing.T) {
	t.Parallel()

	reordered := `{"nbformat_minor":5,"nbformat":4,"metadata":{"kernelspec":{"name":"python3","language":"python","display_name":"Python 3"}},
	"cells":[{"source":["import math\n","print(math.pi)"],"outputs":[],"metadata":{},"execution_count":1,"cell_type":"code"},
	{"source":"# Results","metadata":{},"cell_type":"markdown"}]}`

	var hasher Hasher
	first := mustHash(t, &hasher, mustParse(t, sampleNotebook))
	second := mustHash(t, &hasher, mustParse(t, reordered))
	if first != second {
		t.Errorf("hash differs across key order: %s vs %s", first, second)
	}
	if len(first) != 64 {
		t.Errorf("sha256 hash length = %d, want 64", len(first))
	}
}

// Digests produced by the Python extension's json.dumps(sort_keys=True,
// separators=(",", ":")) and hashlib.sha256 for sampleNotebook.
const (
	sampleCanonical = `{"cells":[{"cell_type":"code","execution_count":1,"metadata":{},"outputs":[],"source":["import math\n","print(math.pi)"]},{"cell_type":"markdown","metadata":{},"source":"# Results"}],"metadata":{"kernelspec":{"display_name":"Python 3","language":"python","name":"python3"}},"nbformat":4,"nbformat_minor":5}`
	sampleSHA256    = "0c482df6a379f48f75a0306a6a64f57c79a737db008f901f0741154bea9aebab"
)

func TestHash_MatchesPythonJSONDumps(t *testing.T) {
	t.Parallel()

	doc := mustParse(t, sampleNotebook)
	canonical, err := Canonical(doc)
	if err != nil {
		t.Fatalf("Canonical: %v", err)
	}
	if string(canonical) != sampleCanonical {
		t.Errorf("Canonical =\n  %s\nwant\n  %s", canonical, sampleCanonical)
	}
	var hasher Hasher
	if got := mustHash(t, &hasher, doc); got != sampleSHA256 {
		t.Errorf("Hash = %s, want %s", got, sampleSHA256)
	}
}

func TestHash_SourceKeptAsStored(t *testing.T) {
	t.Parallel()

	joined := strings.Replace(sampleNotebook, `["import math\n", "print(math.pi)"]`, `"import math\nprint(math.pi)"`, 1)

	var hasher Hasher
	if mustHash(t, &hasher, mustParse(t, sampleNotebook)) == mustHash(t, &hasher, mustParse(t, joined)) {
		t.Error("list-form and string-form sources hash the same; json.dumps keeps them distinct")
	}
}

func TestHash_SensitiveToContent(t *testing.T) {
	t.Parallel()

	var hasher Hasher
	base := mustHash(t, &hasher, mustParse(t, sampleNotebook))

	edits := map[string]string{
		"source":   strings.Replace(sampleNotebook, "math.pi", "math.e", 1),
		"output":   strings.Replace(sampleNotebook, `"outputs": []`, `"outputs": [{"output_type": "stream", "name": "stdout", "text": "3.14"}]`, 1),
		"metadata": strings.Replace(sampleNotebook, `"Python 3"`, `"Python 3.12"`, 1),
		"nbformat": strings.Replace(sampleNotebook, `"nbformat_minor": 5`, `"nbformat_minor": 4`, 1),
	}
	for name, edited := range edits {
		if mustHash(t, &hasher, mustParse(t, edited)) == base {
			t.Errorf("%s edit did not change the hash", name)
		}
	}
}

func TestHash_ExcludesLockMetadata(t *testing.T) {
	t.Parallel()

	var hasher Hasher
	doc := mustParse(t, sampleNotebook)
	before := mustHash(t, &hasher, doc)

	if err := doc.SetSignature(SignatureMetadata{
		Locked:      true,
		Signature:   "gpg:ABCDEF0123456789",
		UserName:    "Alice",
		UserEmail:   "alice@example.com",
		ContentHash: before,
		CommitHash:  "0123456789abcdef0123456789abcdef01234567",
	}); err != nil {
		t.Fatalf("SetSignature: %v", err)
	}
	if after := mustHash(t, &hasher, doc); after != before {
		t.Errorf("lock metadata changed the hash: %s -> %s", before, after)
	}
}

func TestCanonical_EscapesLikeEnsureASCII(t *testing.T) {
	t.Parallel()

	doc := mustParse(t, `{"b":"café 😀","a":"tab\there\u007f<>&","c":[1.50,true,null]}`)
	canonical, err := Canonical(doc)
	if err != nil {
		t.Fatalf("Canonical: %v", err)
	}
	want := `{"a":"tab\there\u007f<>&","b":"caf\u00e9 \ud83d\ude00","c":[1.5,true,null]}`
	if string(canonical) != want {
		t.Errorf("Canonical =\n  %s\nwant\n  %s", canonical, want)
	}
}

func TestPythonNumber(t *testing.T) {
	t.Parallel()

	// Expected values are Python's json.dumps(json.loads(literal)).
	tests := map[string]string{
		"0":                    "0",
		"-0":                   "0",
		"42":                   "42",
		"12345678901234567890": "12345678901234567890",
		"1.50":                 "1.5",
		"1.0":                  "1.0",
		"1E5":                  "100000.0",
		"-0.0":                 "-0.0",
		"1e16":                 "1e+16",
		"1e15":                 "1000000000000000.0",
		"0.0001":               "0.0001",
		"0.00001":              "1e-05",
		"2.5e-7":               "2.5e-07",
		"3.141592653589793":    "3.141592653589793",
		"0.1":                  "0.1",
		"1e400":                "Infinity",
		"-1e400":               "-Infinity",
	}
	for literal, want := range tests {
		if got := pythonNumber(literal); got != want {
			t.Errorf("pythonNumber(%s) = %s, want %s", literal, got, want)
		}
	}
}

func TestHasher_BLAKE3(t *testing.T) {
	t.Parallel()

	hasher, err := NewHasher(BLAKE3)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	doc := mustParse(t, sampleNotebook)
	hash := mustHash(t, hasher, doc)
	if !strings.HasPrefix(hash, "blake3:") || len(hash) != len("blake3:")+64 {
		t.Fatalf("blake3 hash = %q", hash)
	}

	// A SHA256 hasher still verifies a blake3 hash, and vice versa.
	var sha Hasher
	if ok, err := sha.Verify(doc, hash); err != nil || !ok {
		t.Errorf("sha256 hasher Verify(blake3 hash) = %t, %v", ok, err)
	}
	shaHash := mustHash(t, &sha, doc)
	if ok, err := hasher.Verify(doc, shaHash); err != nil || !ok {
		t.Errorf("blake3 hasher Verify(sha256 hash) = %t, %v", ok, err)
	}
	if ok, _ := hasher.Verify(doc, ""); ok {
		t.Error("Verify accepted an empty hash")
	}
	if ok, _ := hasher.Verify(doc, strings.Repeat("0", 64)); ok {
		t.Error("Verify accepted a wrong hash")
	}
}

func TestParseAlgorithm(t *testing.T) {
	t.Parallel()

	for input, want := range map[string]Algorithm{"": SHA256, "SHA256": SHA256, " blake3 ": BLAKE3} {
		got, err := ParseAlgorithm(input)
		if err != nil || got != want {
			t.Errorf("ParseAlgorithm(%q) = %q, %v; want %q", input, got, err, want)
		}
	}
	if _, err := ParseAlgorithm("md5"); err == nil {
		t.Error("ParseAlgorithm(md5) succeeded")
	}
	if _, err := NewHasher("crc32"); err == nil {
		t.Error("NewHasher(crc32) succeeded")
	}
}
