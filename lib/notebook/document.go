// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package notebook handles Jupyter notebook documents: parsing,
// the lock metadata stored at metadata.git_lock_sign, the content hash
// that binds a lock to the notebook's content, and atomic persistence
// to disk.
//
// Documents are held as generic JSON trees decoded with UseNumber, so
// fields this package does not know about (outputs, widget state,
// kernel metadata) round-trip unchanged and numbers keep their exact
// textual form.
package notebook

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MetadataKey is the key under the notebook's top-level "metadata"
// object that holds SignatureMetadata.
const MetadataKey = "git_lock_sign"

// Document is a parsed notebook.
type Document struct {
	root map[string]any
}

// Parse decodes notebook JSON. The top level must be an object.
func Parse(data []byte) (*Document, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, ErrEmpty
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()
	var root map[string]any
	if err := decoder.Decode(&root); err != nil {
		return nil, fmt.Errorf("parsing notebook JSON: %w", err)
	}
	if decoder.More() {
		return nil, fmt.Errorf("parsing notebook JSON: trailing data after top-level object")
	}
	if root == nil {
		return nil, ErrEmpty
	}
	return &Document{root: root}, nil
}

// Cells returns the notebook's cells array.
func (d *Document) Cells() ([]any, bool) {
	cells, ok := d.root["cells"].([]any)
	return cells, ok
}

// HasContent reports whether the notebook has at least one cell.
func (d *Document) HasContent() bool {
	cells, ok := d.Cells()
	return ok && len(cells) > 0
}

// Signature returns the lock metadata. found is false when the
// notebook has never been locked.
func (d *Document) Signature() (metadata *SignatureMetadata, found bool, err error) {
	notebookMetadata, ok := d.root["metadata"].(map[string]any)
	if !ok {
		return nil, false, nil
	}
	raw, ok := notebookMetadata[MetadataKey]
	if !ok || raw == nil {
		return nil, false, nil
	}

	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, false, fmt.Errorf("re-encoding %s: %w", MetadataKey, err)
	}
	var signature SignatureMetadata
	if err := json.Unmarshal(encoded, &signature); err != nil {
		return nil, false, fmt.Errorf("decoding %s: %w", MetadataKey, err)
	}
	return &signature, true, nil
}

// SetSignature stores metadata at metadata.git_lock_sign, creating the
// notebook metadata object if needed.
func (d *Document) SetSignature(metadata SignatureMetadata) error {
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", MetadataKey, err)
	}
	decoder := json.NewDecoder(bytes.NewReader(encoded))
	decoder.UseNumber()
	var value map[string]any
	if err := decoder.Decode(&value); err != nil {
		return fmt.Errorf("encoding %s: %w", MetadataKey, err)
	}

	notebookMetadata, ok := d.root["metadata"].(map[string]any)
	if !ok {
		notebookMetadata = make(map[string]any)
		d.root["metadata"] = notebookMetadata
	}
	notebookMetadata[MetadataKey] = value
	return nil
}

// Marshal encodes the notebook the way Jupyter writes it: sorted keys,
// one-space indentation, no HTML escaping, trailing newline.
func (d *Document) Marshal() ([]byte, error) {
	var buffer bytes.Buffer
	encoder := json.NewEncoder(&buffer)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", " ")
	if err := encoder.Encode(d.root); err != nil {
		return nil, fmt.Errorf("encoding notebook: %w", err)
	}
	return buffer.Bytes(), nil
}

// withoutSignature returns the root with metadata.git_lock_sign
// removed, sharing every other value with d.
func (d *Document) withoutSignature() map[string]any {
	notebookMetadata, ok := d.root["metadata"].(map[string]any)
	if !ok {
		return d.root
	}
	if _, present := notebookMetadata[MetadataKey]; !present {
		return d.root
	}

	trimmedMetadata := make(map[string]any, len(notebookMetadata))
	for key, value := range notebookMetadata {
		if key != MetadataKey {
			trimmedMetadata[key] = value
		}
	}
	shallow := make(map[string]any, len(d.root))
	for key, value := range d.root {
		shallow[key] = value
	}
	shallow["metadata"] = trimmedMetadata
	return shallow
}
