/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package authority

import (
	"golang.org/x/crypto/bcrypt"

	commonerrors "github.com/vault-appliance/vault/pkg/errors"
)

func HashPassword(password string) (string, error) {
	if len(password) < 8 {
		return "", commonerrors.NewBadRequest("password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
