// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package hashing provides the content-hash primitives shared by the
// spec builder, the execution bridge, and the settings-hash cache.
//
// Every hash in the system is SHA-256 over a canonical byte encoding, so
// the same logical input always yields the same key.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// SHA256Hex returns the lowercase hex SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// CanonicalJSON marshals v deterministically. encoding/json already
// serializes struct fields in declaration order and map keys sorted, so
// a plain Marshal is stable for the document and settings types used
// here. Kept as a named chokepoint so every hashed encoding goes through
// one place.
func CanonicalJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical encode: %w", err)
	}
	return data, nil
}

// SHA256JSON hashes the canonical JSON encoding of v.
func SHA256JSON(v any) (string, error) {
	data, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	return SHA256Hex(data), nil
}
