/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package authority

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"k8s.io/klog/v2"

	"github.com/vault-appliance/vault/pkg/apiutils"
	"github.com/vault-appliance/vault/pkg/database/client"
	commonerrors "github.com/vault-appliance/vault/pkg/errors"
)

// Gin context keys set by Authorize.
const (
	KeyUserId = "vault-user-id"
	KeyScope  = "vault-scope"
)

type Store interface {
	GetApiKeyByHash(ctx context.Context, keyHash string) (*client.ApiKey, error)
	SetApiKeyLastUsed(ctx context.Context, id int64, at time.Time) error
}

// credential pulls the caller's credential from the Authorization header, the
// X-API-Key header, or the token query parameter (the WebSocket path, which
// cannot set headers from a browser).
func credential(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if key := c.GetHeader("X-API-Key"); key != "" {
		return key
	}
	return c.Query("token")
}

// Authorize authenticates every request with either a session token or an
// API key, in that order.
func Authorize(store Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		cred := credential(c)
		if cred == "" {
			apiutils.AbortWithApiError(c, commonerrors.NewUnauthorized("authentication required"))
			return
		}
		if IsApiKey(cred) {
			authorizeApiKey(c, store, cred)
			return
		}
		authorizeToken(c, cred)
	}
}

func authorizeToken(c *gin.Context, cred string) {
	token, err := ValidateToken(cred)
	if err != nil {
		apiutils.AbortWithApiError(c, commonerrors.NewUnauthorized(TokenInvalid))
		return
	}
	if token.IsExpired() {
		apiutils.AbortWithApiError(c, commonerrors.NewUnauthorized(TokenExpired))
		return
	}
	c.Set(KeyUserId, token.UserId)
	c.Set(KeyScope, token.Scope)
}

func authorizeApiKey(c *gin.Context, store Store, cred string) {
	key, err := store.GetApiKeyByHash(c.Request.Context(), HashApiKey(cred))
	if err != nil || key == nil || !key.IsActive {
		apiutils.AbortWithApiError(c, commonerrors.NewUnauthorized("invalid API key"))
		return
	}
	if err = store.SetApiKeyLastUsed(c.Request.Context(), key.Id, time.Now().UTC()); err != nil {
		klog.ErrorS(err, "failed to update API key last_used_at", "key", key.KeyPrefix)
	}
	c.Set(KeyUserId, key.UserId.String)
	c.Set(KeyScope, key.Scope)
}

// AdminOnly follows Authorize and enforces the admin scope.
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(KeyScope) != client.ScopeAdmin {
			apiutils.AbortWithApiError(c, commonerrors.NewForbidden("administrator access required"))
		}
	}
}

// UserId returns the authenticated caller's user id, empty for keys not
// bound to a user.
func UserId(c *gin.Context) string {
	return c.GetString(KeyUserId)
}

func IsAdmin(c *gin.Context) bool {
	return c.GetString(KeyScope) == client.ScopeAdmin
}
