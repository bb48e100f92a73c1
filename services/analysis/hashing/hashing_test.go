// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package hashing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSHA256Hex(t *testing.T) {
	// Known digest of the empty input.
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		SHA256Hex(nil))

	digest := SHA256Hex([]byte("netweave"))
	assert.Len(t, digest, 64)
	assert.Equal(t, digest, SHA256Hex([]byte("netweave")))
	assert.NotEqual(t, digest, SHA256Hex([]byte("netweave ")))
}

func TestSHA256JSON_Deterministic(t *testing.T) {
	type settings struct {
		Module string         `json:"module"`
		Knobs  map[string]int `json:"knobs"`
	}

	v := settings{Module: "bootstrap", Knobs: map[string]int{"b": 2, "a": 1, "c": 3}}

	first, err := SHA256JSON(v)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := SHA256JSON(v)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestCanonicalJSON_MapKeysSorted(t *testing.T) {
	data, err := CanonicalJSON(map[string]int{"zeta": 1, "alpha": 2})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"zeta":1}`, string(data))
}
