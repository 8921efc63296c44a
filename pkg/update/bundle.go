/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package update installs signed bundles delivered on removable media. The
// appliance is air-gapped, so the whole trust chain runs locally: a pinned
// PGP key verifies the detached signature, the manifest pins every file by
// digest, and extraction filters hostile archive members.
package update

import (
	"archive/tar"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"k8s.io/klog/v2"

	commonerrors "github.com/vault-appliance/vault/pkg/errors"
	"github.com/vault-appliance/vault/pkg/utils/fileutil"
)

// Manifest is the self-description at vault-update-{version}/manifest.json.
type Manifest struct {
	Version              string          `json:"version"`
	MinCompatibleVersion string          `json:"min_compatible_version"`
	CreatedAt            string          `json:"created_at"`
	Changelog            string          `json:"changelog"`
	Components           map[string]bool `json:"components"`
	Files                []ManifestFile  `json:"files"`
}

type ManifestFile struct {
	Path   string `json:"path"`
	Sha256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// Bundle is a parsed, not yet verified update archive.
type Bundle struct {
	ArchivePath   string
	SignaturePath string
	TopDir        string
	Manifest      *Manifest
}

var bundleDirPattern = regexp.MustCompile(`^vault-update-([0-9]+\.[0-9]+\.[0-9]+[0-9A-Za-z.+-]*)/?$`)

// ParseBundle reads the manifest out of the archive without extracting it.
func ParseBundle(archivePath string) (*Bundle, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, commonerrors.New(commonerrors.InvalidBundle, 400,
			fmt.Sprintf("cannot open bundle: %v", err))
	}
	defer f.Close()

	tr := tar.NewReader(f)
	topDir := ""
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, commonerrors.New(commonerrors.InvalidBundle, 400,
				fmt.Sprintf("unreadable archive: %v", err))
		}
		name := filepath.ToSlash(hdr.Name)
		parts := strings.SplitN(strings.TrimPrefix(name, "./"), "/", 2)
		if topDir == "" && bundleDirPattern.MatchString(parts[0]+"/") {
			topDir = parts[0]
		}
		if len(parts) == 2 && parts[1] == "manifest.json" && bundleDirPattern.MatchString(parts[0]+"/") {
			data, err := io.ReadAll(io.LimitReader(tr, 4<<20))
			if err != nil {
				return nil, commonerrors.New(commonerrors.InvalidBundle, 400,
					fmt.Sprintf("cannot read manifest: %v", err))
			}
			var manifest Manifest
			if err = json.Unmarshal(data, &manifest); err != nil {
				return nil, commonerrors.New(commonerrors.InvalidBundle, 400,
					fmt.Sprintf("malformed manifest: %v", err))
			}
			if manifest.Version == "" {
				return nil, commonerrors.New(commonerrors.InvalidBundle, 400,
					"manifest does not declare a version")
			}
			return &Bundle{
				ArchivePath:   archivePath,
				SignaturePath: archivePath + ".asc",
				TopDir:        parts[0],
				Manifest:      &manifest,
			}, nil
		}
	}
	return nil, commonerrors.New(commonerrors.InvalidBundle, 400,
		"archive does not contain vault-update-{version}/manifest.json")
}

// VerifySignature checks the detached ASCII-armored signature against the
// pinned public key. Both the signature file and the key must exist.
func (b *Bundle) VerifySignature(publicKeyPath string) error {
	keyFile, err := os.Open(publicKeyPath)
	if err != nil {
		return commonerrors.New(commonerrors.SignatureInvalid, 400,
			fmt.Sprintf("update public key is not installed: %v", err))
	}
	defer keyFile.Close()
	keyring, err := openpgp.ReadArmoredKeyRing(keyFile)
	if err != nil {
		return commonerrors.New(commonerrors.SignatureInvalid, 400,
			fmt.Sprintf("update public key is unreadable: %v", err))
	}

	sigFile, err := os.Open(b.SignaturePath)
	if err != nil {
		return commonerrors.New(commonerrors.SignatureInvalid, 400,
			fmt.Sprintf("detached signature missing: %v", err))
	}
	defer sigFile.Close()
	archive, err := os.Open(b.ArchivePath)
	if err != nil {
		return commonerrors.New(commonerrors.SignatureInvalid, 400, err.Error())
	}
	defer archive.Close()

	if _, err = openpgp.CheckArmoredDetachedSignature(keyring, archive, sigFile, nil); err != nil {
		return commonerrors.New(commonerrors.SignatureInvalid, 400,
			fmt.Sprintf("signature verification failed: %v", err))
	}
	return nil
}

// Extract unpacks the archive under stagingRoot, silently dropping members
// with absolute paths, parent traversal, or non-file/dir/symlink types.
// Symlinks pointing outside the staging root are dropped too.
func (b *Bundle) Extract(stagingRoot string) error {
	f, err := os.Open(b.ArchivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	if err = os.MkdirAll(stagingRoot, 0o755); err != nil {
		return err
	}
	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return commonerrors.New(commonerrors.InvalidBundle, 400,
				fmt.Sprintf("unreadable archive: %v", err))
		}
		target, ok := safeJoin(stagingRoot, hdr.Name)
		if !ok {
			klog.Infof("dropping unsafe bundle member %q", hdr.Name)
			continue
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err = os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err = writeMember(target, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return err
			}
		default:
			klog.Infof("dropping bundle member %q with type %d", hdr.Name, hdr.Typeflag)
		}
	}
}

// VerifyChecksums compares every manifest-listed file against its extracted
// counterpart. Paths in the manifest are relative to the bundle top dir.
func (b *Bundle) VerifyChecksums(stagingRoot string) error {
	base := filepath.Join(stagingRoot, b.TopDir)
	for _, mf := range b.Manifest.Files {
		target, ok := safeJoin(base, mf.Path)
		if !ok {
			return commonerrors.New(commonerrors.InvalidBundle, 400,
				fmt.Sprintf("manifest entry %q has an unsafe path", mf.Path))
		}
		digest, err := fileutil.SHA256File(target)
		if err != nil {
			return commonerrors.New(commonerrors.InvalidBundle, 400,
				fmt.Sprintf("manifest file %q is missing from the bundle", mf.Path))
		}
		if !strings.EqualFold(digest, mf.Sha256) {
			return commonerrors.New(commonerrors.InvalidBundle, 400,
				fmt.Sprintf("checksum mismatch for %q", mf.Path))
		}
	}
	return nil
}

// safeJoin resolves a member name under root and reports whether the result
// stays inside root.
func safeJoin(root, name string) (string, bool) {
	name = filepath.ToSlash(name)
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return "", false
	}
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(os.PathSeparator)) {
		return "", false
	}
	return filepath.Join(root, cleaned), true
}

func writeMember(target string, r io.Reader, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	if perm == 0 {
		perm = 0o644
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	if _, err = io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
