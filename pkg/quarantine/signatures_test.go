/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package quarantine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touchAt(t *testing.T, path string, when time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	require.NoError(t, os.Chtimes(path, when, when))
}

func freshnessFor(all []SourceFreshness, source string) SourceFreshness {
	for _, f := range all {
		if f.Source == source {
			return f
		}
	}
	return SourceFreshness{}
}

func TestFreshnessClassification(t *testing.T) {
	root := t.TempDir()
	store := NewSignatureStore(root)
	now := time.Now()

	touchAt(t, filepath.Join(store.AvDir(), "daily.cvd"), now.Add(-2*time.Hour))
	touchAt(t, filepath.Join(store.RulesDir(), "base.yar"), now.Add(-48*time.Hour))
	// Blacklist deliberately absent.

	all := store.Freshness(now)
	require.Len(t, all, 3)

	av := freshnessFor(all, "antivirus")
	assert.Equal(t, FreshnessFresh, av.Freshness)
	assert.Equal(t, 1, av.Artifacts)
	assert.InDelta(t, 2.0, av.AgeHours, 0.1)

	assert.Equal(t, FreshnessStale, freshnessFor(all, "rules").Freshness)
	assert.Equal(t, FreshnessMissing, freshnessFor(all, "blacklist").Freshness)
}

func TestFreshnessOutdated(t *testing.T) {
	root := t.TempDir()
	store := NewSignatureStore(root)
	now := time.Now()
	touchAt(t, filepath.Join(store.AvDir(), "main.cvd"), now.Add(-200*time.Hour))
	assert.Equal(t, FreshnessOutdated, freshnessFor(store.Freshness(now), "antivirus").Freshness)
}

func TestFreshnessNewestArtifactWins(t *testing.T) {
	root := t.TempDir()
	store := NewSignatureStore(root)
	now := time.Now()
	touchAt(t, filepath.Join(store.AvDir(), "old.cvd"), now.Add(-500*time.Hour))
	touchAt(t, filepath.Join(store.AvDir(), "new.cld"), now.Add(-1*time.Hour))
	av := freshnessFor(store.Freshness(now), "antivirus")
	assert.Equal(t, FreshnessFresh, av.Freshness)
	assert.Equal(t, 2, av.Artifacts)
}

func TestInstallFromDir(t *testing.T) {
	source := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(source, "daily.cvd"), []byte("av"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(source, "custom.yara"), []byte("rule x {condition: true}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(source, "blacklist.json"), []byte(`{"hashes":["aa","bb"]}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(source, "readme.txt"), []byte("ignore me"), 0o644))

	store := NewSignatureStore(t.TempDir())
	res, err := store.InstallFromDir(source)
	require.NoError(t, err)
	assert.Equal(t, 1, res.AvFiles)
	assert.Equal(t, 1, res.RuleFiles)
	assert.Equal(t, 2, res.BlacklistEntries)
	assert.Equal(t, []string{"readme.txt"}, res.Skipped)

	assert.FileExists(t, filepath.Join(store.AvDir(), "daily.cvd"))
	assert.FileExists(t, filepath.Join(store.RulesDir(), "custom.yara"))
	assert.FileExists(t, store.BlacklistPath())
}

func TestInstallFromDirRejectsMalformedBlacklist(t *testing.T) {
	source := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(source, "blacklist.json"), []byte("not json"), 0o644))

	store := NewSignatureStore(t.TempDir())
	res, err := store.InstallFromDir(source)
	require.NoError(t, err)
	assert.Equal(t, []string{"blacklist.json"}, res.Skipped)
	assert.NoFileExists(t, store.BlacklistPath())
}

func TestInstallFromMissingDir(t *testing.T) {
	store := NewSignatureStore(t.TempDir())
	_, err := store.InstallFromDir(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}
