/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package authority

import (
	"crypto/sha256"
	"fmt"
	"strconv"
	"strings"
	"time"

	"k8s.io/klog/v2"

	"github.com/vault-appliance/vault/pkg/config"
	commonerrors "github.com/vault-appliance/vault/pkg/errors"
	"github.com/vault-appliance/vault/pkg/utils/crypto"
)

const (
	TokenExpired = "the session has expired, please log in again"
	TokenInvalid = "the session token is invalid, please log in"

	tokenDelim = ":"
)

// Token is the stateless session payload: user id, unix expiry, scope.
type Token struct {
	UserId string
	Expire int64
	Scope  string
}

func (t *Token) IsExpired() bool {
	return time.Now().Unix() > t.Expire
}

// tokenKey stretches the deployment key material to an AES-256 key.
func tokenKey() ([]byte, error) {
	material := config.GetCryptoKey()
	if material == "" {
		return nil, commonerrors.NewInternalError("session crypto key is not installed")
	}
	sum := sha256.Sum256([]byte(material))
	return sum[:], nil
}

func GenerateToken(item Token) (string, error) {
	plain := item.UserId + tokenDelim + strconv.FormatInt(item.Expire, 10) + tokenDelim + item.Scope
	if !config.IsCryptoEnable() {
		return plain, nil
	}
	key, err := tokenKey()
	if err != nil {
		return "", err
	}
	return crypto.Encrypt([]byte(plain), key)
}

func ValidateToken(token string) (*Token, error) {
	plain := token
	if config.IsCryptoEnable() {
		key, err := tokenKey()
		if err != nil {
			return nil, err
		}
		decrypted, err := crypto.Decrypt(token, key)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt session token")
		}
		plain = string(decrypted)
	}

	parts := strings.Split(plain, tokenDelim)
	if len(parts) != 3 {
		klog.Errorf("malformed session token, %d parts", len(parts))
		return nil, fmt.Errorf("invalid token")
	}
	for _, part := range parts {
		if part == "" {
			return nil, fmt.Errorf("invalid token")
		}
	}
	expire, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		klog.ErrorS(err, "failed to parse token expiry", "user", parts[0])
		return nil, fmt.Errorf("invalid token")
	}
	return &Token{UserId: parts[0], Expire: expire, Scope: parts[2]}, nil
}
