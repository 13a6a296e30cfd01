// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package signing

import (
	"bytes"
	"errors"
	"fmt"

	"golang.org/x/crypto/openpgp/armor"
	openpgperrors "golang.org/x/crypto/openpgp/errors"
	"golang.org/x/crypto/openpgp/packet"
)

// ErrUnsupportedSignature means the signature uses a public key
// algorithm the packet parser does not understand (EdDSA, for
// example). Callers fall back to asking git/gpg for the key id.
var ErrUnsupportedSignature = errors.New("unsupported signature packet")

// ParseIssuer returns the issuer key id of an ASCII-armored detached
// OpenPGP signature, as 16 uppercase hex digits.
func ParseIssuer(armored []byte) (KeyRef, error) {
	block, err := armor.Decode(bytes.NewReader(armored))
	if err != nil {
		return "", fmt.Errorf("decoding armored signature: %w", err)
	}
	if block.Type != "PGP SIGNATURE" {
		return "", fmt.Errorf("armored block is %q, not a PGP SIGNATURE", block.Type)
	}

	reader := packet.NewReader(block.Body)
	for {
		parsed, err := reader.Next()
		if err != nil {
			var unsupported openpgperrors.UnsupportedError
			if errors.As(err, &unsupported) {
				return "", fmt.Errorf("%w: %v", ErrUnsupportedSignature, err)
			}
			return "", fmt.Errorf("reading signature packet: %w", err)
		}

		switch signature := parsed.(type) {
		case *packet.Signature:
			if signature.IssuerKeyId == nil {
				return "", fmt.Errorf("signature carries no issuer key id")
			}
			return KeyRef(fmt.Sprintf("%016X", *signature.IssuerKeyId)), nil
		case *packet.SignatureV3:
			return KeyRef(fmt.Sprintf("%016X", signature.IssuerKeyId)), nil
		}
	}
}
