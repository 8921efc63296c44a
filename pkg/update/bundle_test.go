/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package update

import (
	"archive/tar"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memberSpec struct {
	name     string
	content  string
	typeflag byte
}

func buildArchive(t *testing.T, dir string, members []memberSpec) string {
	t.Helper()
	path := filepath.Join(dir, "bundle.tar")
	f, err := os.Create(path)
	require.NoError(t, err)
	tw := tar.NewWriter(f)
	for _, m := range members {
		typeflag := m.typeflag
		if typeflag == 0 {
			typeflag = tar.TypeReg
		}
		hdr := &tar.Header{
			Name:     m.name,
			Mode:     0o644,
			Size:     int64(len(m.content)),
			Typeflag: typeflag,
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if typeflag == tar.TypeReg {
			_, err = tw.Write([]byte(m.content))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	require.NoError(t, f.Close())
	return path
}

func sha256Hex(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// buildBundle writes a well-formed bundle for version with one payload file
// per component.
func buildBundle(t *testing.T, dir, version string, components map[string]bool) string {
	t.Helper()
	top := "vault-update-" + version
	var files []ManifestFile
	members := []memberSpec{{name: top + "/", typeflag: tar.TypeDir}}
	for name, enabled := range components {
		if !enabled {
			continue
		}
		content := name + " payload"
		rel := name + "/payload.txt"
		members = append(members, memberSpec{name: top + "/" + rel, content: content})
		files = append(files, ManifestFile{Path: rel, Sha256: sha256Hex(content), Size: int64(len(content))})
	}
	manifest := Manifest{
		Version:              version,
		MinCompatibleVersion: "0.1.0",
		CreatedAt:            "2025-06-01T00:00:00Z",
		Changelog:            "test bundle",
		Components:           components,
		Files:                files,
	}
	data, err := json.Marshal(manifest)
	require.NoError(t, err)
	members = append(members, memberSpec{name: top + "/manifest.json", content: string(data)})
	return buildArchive(t, dir, members)
}

// testSigner owns a throwaway release key: the armored public half on disk
// for verification, the entity in memory for signing.
type testSigner struct {
	entity  *openpgp.Entity
	keyPath string
}

func newTestSigner(t *testing.T, keyDir string) *testSigner {
	t.Helper()
	entity, err := openpgp.NewEntity("Vault Release", "", "release@vault.local", nil)
	require.NoError(t, err)

	keyPath := filepath.Join(keyDir, "update-key.asc")
	keyOut, err := os.Create(keyPath)
	require.NoError(t, err)
	aw, err := armor.Encode(keyOut, openpgp.PublicKeyType, nil)
	require.NoError(t, err)
	require.NoError(t, entity.Serialize(aw))
	require.NoError(t, aw.Close())
	require.NoError(t, keyOut.Close())
	return &testSigner{entity: entity, keyPath: keyPath}
}

func (s *testSigner) sign(t *testing.T, archivePath string) {
	t.Helper()
	archive, err := os.Open(archivePath)
	require.NoError(t, err)
	defer archive.Close()
	var sig bytes.Buffer
	require.NoError(t, openpgp.ArmoredDetachSign(&sig, s.entity, archive, nil))
	require.NoError(t, os.WriteFile(archivePath+".asc", sig.Bytes(), 0o644))
}

func TestParseBundleReadsManifest(t *testing.T) {
	path := buildBundle(t, t.TempDir(), "1.2.3", map[string]bool{"code": true})
	bundle, err := ParseBundle(path)
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", bundle.Manifest.Version)
	assert.Equal(t, "vault-update-1.2.3", bundle.TopDir)
	assert.True(t, bundle.Manifest.Components["code"])
}

func TestParseBundleMissingManifest(t *testing.T) {
	path := buildArchive(t, t.TempDir(), []memberSpec{
		{name: "vault-update-1.0.0/", typeflag: tar.TypeDir},
		{name: "vault-update-1.0.0/code/app", content: "x"},
	})
	_, err := ParseBundle(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "manifest")
}

func TestParseBundleMalformedManifest(t *testing.T) {
	path := buildArchive(t, t.TempDir(), []memberSpec{
		{name: "vault-update-1.0.0/manifest.json", content: "{not json"},
	})
	_, err := ParseBundle(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed")
}

func TestParseBundleNoVersion(t *testing.T) {
	path := buildArchive(t, t.TempDir(), []memberSpec{
		{name: "vault-update-1.0.0/manifest.json", content: `{"changelog":"x"}`},
	})
	_, err := ParseBundle(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version")
}

func TestExtractDropsHostileMembers(t *testing.T) {
	dir := t.TempDir()
	path := buildArchive(t, dir, []memberSpec{
		{name: "vault-update-1.0.0/manifest.json", content: `{"version":"1.0.0"}`},
		{name: "../../outside.txt", content: "escape"},
		{name: "/etc/hostile", content: "absolute"},
		{name: "vault-update-1.0.0/dev-node", typeflag: tar.TypeChar},
		{name: "vault-update-1.0.0/good.txt", content: "fine"},
	})
	bundle, err := ParseBundle(path)
	require.NoError(t, err)

	staging := filepath.Join(dir, "staging")
	require.NoError(t, bundle.Extract(staging))

	assert.FileExists(t, filepath.Join(staging, "vault-update-1.0.0", "good.txt"))
	assert.NoFileExists(t, filepath.Join(dir, "outside.txt"))
	assert.NoFileExists(t, filepath.Join(staging, "..", "..", "outside.txt"))
	assert.NoFileExists(t, filepath.Join(staging, "vault-update-1.0.0", "dev-node"))

	// Nothing outside the staging root.
	found := false
	filepath.Walk(staging, func(p string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() && !strings.HasPrefix(p, staging) {
			found = true
		}
		return nil
	})
	assert.False(t, found)
}

func TestVerifyChecksums(t *testing.T) {
	dir := t.TempDir()
	path := buildBundle(t, dir, "1.0.0", map[string]bool{"code": true})
	bundle, err := ParseBundle(path)
	require.NoError(t, err)
	staging := filepath.Join(dir, "staging")
	require.NoError(t, bundle.Extract(staging))
	require.NoError(t, bundle.VerifyChecksums(staging))

	// Tamper with the extracted payload.
	tampered := filepath.Join(staging, bundle.TopDir, "code", "payload.txt")
	require.NoError(t, os.WriteFile(tampered, []byte("evil"), 0o644))
	err = bundle.VerifyChecksums(staging)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum mismatch")
}

func TestVerifyChecksumsMissingFile(t *testing.T) {
	dir := t.TempDir()
	path := buildBundle(t, dir, "1.0.0", map[string]bool{"code": true})
	bundle, err := ParseBundle(path)
	require.NoError(t, err)
	staging := filepath.Join(dir, "staging")
	require.NoError(t, bundle.Extract(staging))
	require.NoError(t, os.Remove(filepath.Join(staging, bundle.TopDir, "code", "payload.txt")))
	err = bundle.VerifyChecksums(staging)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestVerifySignature(t *testing.T) {
	dir := t.TempDir()
	path := buildBundle(t, dir, "1.0.0", map[string]bool{"code": true})
	signer := newTestSigner(t, dir)
	signer.sign(t, path)

	bundle, err := ParseBundle(path)
	require.NoError(t, err)
	require.NoError(t, bundle.VerifySignature(signer.keyPath))
}

func TestVerifySignatureWrongKey(t *testing.T) {
	dir := t.TempDir()
	path := buildBundle(t, dir, "1.0.0", map[string]bool{"code": true})
	newTestSigner(t, dir).sign(t, path)
	// A different key than the one that signed.
	other := newTestSigner(t, t.TempDir())

	bundle, err := ParseBundle(path)
	require.NoError(t, err)
	err = bundle.VerifySignature(other.keyPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signature")
}

func TestVerifySignatureMissingArtifacts(t *testing.T) {
	dir := t.TempDir()
	path := buildBundle(t, dir, "1.0.0", map[string]bool{"code": true})
	bundle, err := ParseBundle(path)
	require.NoError(t, err)

	err = bundle.VerifySignature(filepath.Join(dir, "no-key.asc"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "public key")

	signer := newTestSigner(t, dir)
	signer.sign(t, path)
	require.NoError(t, os.Remove(path+".asc"))
	err = bundle.VerifySignature(signer.keyPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signature missing")
}

func TestSafeJoin(t *testing.T) {
	cases := []struct {
		name string
		ok   bool
	}{
		{"plain.txt", true},
		{"dir/nested.txt", true},
		{"dir/../sibling.txt", true},
		{"../escape.txt", false},
		{"..", false},
		{"/etc/passwd", false},
		{"dir/../../escape", false},
	}
	for _, tc := range cases {
		_, ok := safeJoin("/staging/root", tc.name)
		assert.Equal(t, tc.ok, ok, tc.name)
	}
}
