/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package authority

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"

	"github.com/vault-appliance/vault/pkg/config"
)

// API keys are shown to the caller exactly once; only the salted hash and a
// display prefix are stored.
const (
	keyPrefix    = "vlt_"
	keyRandBytes = 32
	PrefixLen    = 12
)

// GeneratedKey carries the raw key out of creation. Raw is never persisted.
type GeneratedKey struct {
	Raw    string
	Prefix string
	Hash   string
}

func GenerateApiKey() (*GeneratedKey, error) {
	buf := make([]byte, keyRandBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	raw := keyPrefix + base64.RawURLEncoding.EncodeToString(buf)
	return &GeneratedKey{
		Raw:    raw,
		Prefix: raw[:PrefixLen],
		Hash:   HashApiKey(raw),
	}, nil
}

// HashApiKey salts with the deployment key material so a stolen database
// alone cannot be matched against candidate keys.
func HashApiKey(raw string) string {
	sum := sha256.Sum256([]byte(config.GetCryptoKey() + raw))
	return hex.EncodeToString(sum[:])
}

// IsApiKey distinguishes an API key credential from a session token.
func IsApiKey(credential string) bool {
	return len(credential) > len(keyPrefix) && credential[:len(keyPrefix)] == keyPrefix
}
