/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package fileutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "nested", "status.json")

	require.NoError(t, WriteFileAtomic(target, []byte(`{"step":1}`), 0o644))

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, `{"step":1}`, string(data))

	// overwrite leaves no temp files behind
	require.NoError(t, WriteFileAtomic(target, []byte(`{"step":2}`), 0o644))
	entries, err := os.ReadDir(filepath.Dir(target))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "status.json", entries[0].Name())
}

func TestFileAndDirExist(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	assert.True(t, IsFileExist(file))
	assert.False(t, IsFileExist(dir))
	assert.True(t, IsDirExist(dir))
	assert.False(t, IsDirExist(file))
	assert.False(t, IsFileExist(filepath.Join(dir, "missing")))
}

func TestCopyDir(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "models", "llama"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "models", "llama", "weights.bin"), []byte("w"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "VERSION"), []byte("1.2.0"), 0o644))

	dst := filepath.Join(t.TempDir(), "copy")
	require.NoError(t, CopyDir(src, dst))

	data, err := os.ReadFile(filepath.Join(dst, "models", "llama", "weights.bin"))
	require.NoError(t, err)
	assert.Equal(t, "w", string(data))
	assert.True(t, IsFileExist(filepath.Join(dst, "VERSION")))
}

func TestSHA256File(t *testing.T) {
	file := filepath.Join(t.TempDir(), "payload")
	require.NoError(t, os.WriteFile(file, []byte("abc"), 0o644))

	sum, err := SHA256File(file)
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", sum)

	_, err = SHA256File(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestDirSize(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a"), make([]byte, 100), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b"), make([]byte, 50), 0o644))

	size, err := DirSize(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(150), size)
}
