/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package handlers

import (
	"github.com/gin-gonic/gin"
	"k8s.io/klog/v2"

	"github.com/vault-appliance/vault/pkg/audit"
	"github.com/vault-appliance/vault/pkg/authority"
	"github.com/vault-appliance/vault/pkg/config"
	"github.com/vault-appliance/vault/pkg/database/client"
	dbutils "github.com/vault-appliance/vault/pkg/database/utils"
	commonerrors "github.com/vault-appliance/vault/pkg/errors"
	"github.com/vault-appliance/vault/pkg/utils/timeutil"
)

func (h *Handler) Login(c *gin.Context)       { handle(c, h.login) }
func (h *Handler) Me(c *gin.Context)          { handle(c, h.me) }
func (h *Handler) LdapEnabled(c *gin.Context) { handle(c, h.ldapEnabled) }

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string        `json:"token"`
	ExpiresAt string        `json:"expires_at"`
	User      *userResponse `json:"user"`
}

type userResponse struct {
	Id         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Role       string `json:"role"`
	Status     string `json:"status"`
	AuthSource string `json:"auth_source"`
	CreatedAt  string `json:"created_at"`
	LastActive string `json:"last_active,omitempty"`
}

func cvtUserResponse(user *client.User) *userResponse {
	return &userResponse{
		Id:         user.Id,
		Name:       user.Name,
		Email:      user.Email,
		Role:       user.Role,
		Status:     user.Status,
		AuthSource: user.AuthSource,
		CreatedAt:  timeutil.FormatRFC3339(&user.CreatedAt),
		LastActive: dbutils.ParseNullTimeToString(user.LastActive),
	}
}

// login authenticates against the local user table first, then against the
// directory when the account is not local. Which path failed is never
// revealed to the caller.
func (h *Handler) login(c *gin.Context) (interface{}, error) {
	req := &loginRequest{}
	if _, err := getBodyFromRequest(c.Request, req); err != nil {
		return nil, err
	}
	if req.Email == "" || req.Password == "" {
		return nil, commonerrors.NewBadRequest("email and password are required")
	}
	ctx := c.Request.Context()

	user, err := h.dbClient.GetUserByEmail(ctx, req.Email)
	if err != nil && !commonerrors.IsNotFound(err) {
		return nil, err
	}
	switch {
	case err == nil && user.AuthSource == client.AuthSourceLocal:
		if !user.IsActive() {
			return nil, commonerrors.NewForbidden("account is disabled")
		}
		if !authority.CheckPassword(user.CredentialHash.String, req.Password) {
			h.audit.Record(ctx, "auth.login_failed", audit.WithDetails(req.Email))
			return nil, commonerrors.NewUnauthorized("invalid credentials")
		}
	default:
		// Unknown locally, or a directory-backed account: defer to LDAP.
		if !h.ldap.Enabled(ctx) {
			return nil, commonerrors.NewUnauthorized("invalid credentials")
		}
		if user, err = h.ldap.Login(ctx, req.Email, req.Password); err != nil {
			h.audit.Record(ctx, "auth.login_failed", audit.WithDetails(req.Email))
			return nil, err
		}
	}

	scope := client.ScopeUser
	if user.IsAdmin() {
		scope = client.ScopeAdmin
	}
	expire := timeutil.Now().Add(config.GetTokenExpire())
	token, err := authority.GenerateToken(authority.Token{
		UserId: user.Id,
		Expire: expire.Unix(),
		Scope:  scope,
	})
	if err != nil {
		return nil, err
	}
	if err = h.dbClient.SetUserLastActive(ctx, user.Id, timeutil.Now()); err != nil {
		klog.ErrorS(err, "failed to record login", "user", user.Id)
	}
	h.audit.Record(ctx, "auth.login", audit.WithDetails(user.Email))
	return &loginResponse{
		Token:     token,
		ExpiresAt: timeutil.FormatRFC3339(&expire),
		User:      cvtUserResponse(user),
	}, nil
}

func (h *Handler) me(c *gin.Context) (interface{}, error) {
	userId := authority.UserId(c)
	if userId == "" {
		// API-key callers have a scope but no user row.
		return gin.H{"scope": c.GetString(authority.KeyScope)}, nil
	}
	user, err := h.dbClient.GetUser(c.Request.Context(), userId)
	if err != nil {
		return nil, err
	}
	return cvtUserResponse(user), nil
}

func (h *Handler) ldapEnabled(c *gin.Context) (interface{}, error) {
	return gin.H{"enabled": h.ldap.Enabled(c.Request.Context())}, nil
}
