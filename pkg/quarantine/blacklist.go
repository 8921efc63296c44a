/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package quarantine

import (
	"encoding/json"
	"os"
	"strings"
)

// Blacklist is a set of known-bad SHA-256 digests loaded from
// signatures/blacklist.json.
type Blacklist struct {
	hashes map[string]struct{}
}

type blacklistFile struct {
	Hashes []string `json:"hashes"`
}

// LoadBlacklist reads the blacklist file. A missing file yields an empty,
// usable set; a malformed file is an error.
func LoadBlacklist(path string) (*Blacklist, error) {
	b := &Blacklist{hashes: map[string]struct{}{}}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return b, nil
		}
		return nil, err
	}
	var parsed blacklistFile
	if err = json.Unmarshal(data, &parsed); err != nil {
		return nil, err
	}
	for _, h := range parsed.Hashes {
		b.hashes[strings.ToLower(strings.TrimSpace(h))] = struct{}{}
	}
	return b, nil
}

func (b *Blacklist) Contains(sha256Hex string) bool {
	_, ok := b.hashes[strings.ToLower(sha256Hex)]
	return ok
}

func (b *Blacklist) Len() int {
	return len(b.hashes)
}

// ValidateBlacklistFile checks that a candidate file parses as the expected
// shape before it is installed into the signature store.
func ValidateBlacklistFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var parsed blacklistFile
	return json.Unmarshal(data, &parsed)
}
