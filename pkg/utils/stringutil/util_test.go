/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package stringutil

import (
	"testing"

	"gotest.tools/assert"
)

func TestBase64RoundTrip(t *testing.T) {
	assert.Equal(t, Base64Encode(""), "")
	assert.Equal(t, Base64Decode(""), "")
	assert.Equal(t, Base64Decode("not base64 !!!"), "")
	assert.Equal(t, Base64Decode(Base64Encode("hello")), "hello")
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, NormalizeName(""), "")
	assert.Equal(t, NormalizeName("  Llama_3_8B "), "llama-3-8b")
}

func TestSplit(t *testing.T) {
	assert.Assert(t, Split("", ",") == nil)
	assert.DeepEqual(t, Split(" a , b ,, ", ","), []string{"a", "b"})
	assert.DeepEqual(t, Split("one", ","), []string{"one"})
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, Truncate("abc", 10), "abc")
	assert.Equal(t, Truncate("abcdef", 2), "ab")
	assert.Equal(t, Truncate("abc", 0), "abc")
}

func TestStrCaseEqual(t *testing.T) {
	assert.Assert(t, StrCaseEqual("Admin", "admin"))
	assert.Assert(t, !StrCaseEqual("admin", "user"))
}
