// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package notebook

import (
	"bytes"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/zeebo/blake3"
)

// Algorithm selects the content digest.
type Algorithm string

const (
	// SHA256 digests are 64 lowercase hex digits with no prefix, the
	// format notebooks locked by earlier releases carry.
	SHA256 Algorithm = "sha256"

	// BLAKE3 digests are "blake3:" followed by 64 lowercase hex digits.
	BLAKE3 Algorithm = "blake3"
)

// ParseAlgorithm validates a configured algorithm name.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(name))) {
	case SHA256, "":
		return SHA256, nil
	case BLAKE3:
		return BLAKE3, nil
	}
	return "", fmt.Errorf("unknown hashing algorithm %q (want sha256 or blake3)", name)
}

// Hasher computes content hashes. The zero value hashes with SHA256.
type Hasher struct {
	algorithm Algorithm
}

// NewHasher returns a Hasher producing digests with algorithm.
func NewHasher(algorithm Algorithm) (*Hasher, error) {
	if _, err := ParseAlgorithm(string(algorithm)); err != nil {
		return nil, err
	}
	if algorithm == "" {
		algorithm = SHA256
	}
	return &Hasher{algorithm: algorithm}, nil
}

// Algorithm returns the algorithm new hashes use.
func (h *Hasher) Algorithm() Algorithm {
	if h == nil || h.algorithm == "" {
		return SHA256
	}
	return h.algorithm
}

// Hash returns the content hash of doc: a digest of its canonical
// form, which excludes the lock metadata.
func (h *Hasher) Hash(doc *Document) (string, error) {
	canonical, err := Canonical(doc)
	if err != nil {
		return "", err
	}
	return digest(h.Algorithm(), canonical), nil
}

// Verify recomputes the hash of doc with the algorithm that produced
// expected, whatever the Hasher's own algorithm, and compares in
// constant time.
func (h *Hasher) Verify(doc *Document, expected string) (bool, error) {
	if expected == "" {
		return false, nil
	}
	algorithm := SHA256
	if strings.HasPrefix(expected, string(BLAKE3)+":") {
		algorithm = BLAKE3
	}
	canonical, err := Canonical(doc)
	if err != nil {
		return false, err
	}
	actual := digest(algorithm, canonical)
	return subtle.ConstantTimeCompare([]byte(actual), []byte(expected)) == 1, nil
}

func digest(algorithm Algorithm, data []byte) string {
	if algorithm == BLAKE3 {
		sum := blake3.Sum256(data)
		return string(BLAKE3) + ":" + hex.EncodeToString(sum[:])
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Canonical returns the byte form the content hash covers: the whole
// notebook minus metadata.git_lock_sign, serialized the way Python's
// json.dumps(sort_keys=True, separators=(",", ":")) does. Keys are
// sorted, there is no insignificant whitespace, every character outside
// printable ASCII is escaped as \uXXXX, and floats are printed in
// Python's repr form. Sha256 digests therefore match notebooks locked by
// the Python extension byte for byte. Cell sources are hashed as stored:
// a list-of-lines source and the equivalent single string differ.
func Canonical(doc *Document) ([]byte, error) {
	var buffer bytes.Buffer
	if err := writeCanonical(&buffer, doc.withoutSignature()); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

func writeCanonical(buffer *bytes.Buffer, value any) error {
	switch typed := value.(type) {
	case nil:
		buffer.WriteString("null")
	case bool:
		if typed {
			buffer.WriteString("true")
		} else {
			buffer.WriteString("false")
		}
	case json.Number:
		buffer.WriteString(pythonNumber(typed.String()))
	case string:
		writeASCIIString(buffer, typed)
	case []any:
		buffer.WriteByte('[')
		for i, element := range typed {
			if i > 0 {
				buffer.WriteByte(',')
			}
			if err := writeCanonical(buffer, element); err != nil {
				return err
			}
		}
		buffer.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(typed))
		for key := range typed {
			keys = append(keys, key)
		}
		slices.Sort(keys)
		buffer.WriteByte('{')
		for i, key := range keys {
			if i > 0 {
				buffer.WriteByte(',')
			}
			writeASCIIString(buffer, key)
			buffer.WriteByte(':')
			if err := writeCanonical(buffer, typed[key]); err != nil {
				return err
			}
		}
		buffer.WriteByte('}')
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return fmt.Errorf("canonicalizing %T: %w", typed, err)
		}
		buffer.Write(encoded)
	}
	return nil
}

// pythonNumber rewrites a JSON number literal the way Python prints
// the value json.loads gives it: integers exactly, floats through
// repr (shortest round-trip digits, fixed notation for decimal
// exponents -4 through 15, a trailing ".0" on integral values).
func pythonNumber(literal string) string {
	if !strings.ContainsAny(literal, ".eE") {
		if literal == "-0" {
			return "0"
		}
		return literal
	}
	value, err := strconv.ParseFloat(literal, 64)
	switch {
	case math.IsInf(value, 1):
		return "Infinity"
	case math.IsInf(value, -1):
		return "-Infinity"
	case err != nil:
		return literal
	case value == 0:
		if math.Signbit(value) {
			return "-0.0"
		}
		return "0.0"
	}
	scientific := strconv.FormatFloat(value, 'e', -1, 64)
	exponent, err := strconv.Atoi(scientific[strings.IndexByte(scientific, 'e')+1:])
	if err != nil || exponent < -4 || exponent >= 16 {
		return scientific
	}
	fixed := strconv.FormatFloat(value, 'f', -1, 64)
	if !strings.Contains(fixed, ".") {
		fixed += ".0"
	}
	return fixed
}

// writeASCIIString writes s as a JSON string using only printable
// ASCII. Keys are sorted by Go string order, which for the UTF-8
// encoding equals code point order.
func writeASCIIString(buffer *bytes.Buffer, s string) {
	buffer.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buffer.WriteString(`\"`)
		case '\\':
			buffer.WriteString(`\\`)
		case '\n':
			buffer.WriteString(`\n`)
		case '\r':
			buffer.WriteString(`\r`)
		case '\t':
			buffer.WriteString(`\t`)
		case '\b':
			buffer.WriteString(`\b`)
		case '\f':
			buffer.WriteString(`\f`)
		default:
			switch {
			case r >= 0x20 && r <= 0x7e:
				buffer.WriteRune(r)
			case r > 0xffff:
				high, low := utf16.EncodeRune(r)
				fmt.Fprintf(buffer, `\u%04x\u%04x`, high, low)
			default:
				fmt.Fprintf(buffer, `\u%04x`, r)
			}
		}
	}
	buffer.WriteByte('"')
}
