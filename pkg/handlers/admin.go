/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vault-appliance/vault/pkg/audit"
	"github.com/vault-appliance/vault/pkg/authority"
	"github.com/vault-appliance/vault/pkg/config"
	"github.com/vault-appliance/vault/pkg/database/client"
	dbutils "github.com/vault-appliance/vault/pkg/database/utils"
	commonerrors "github.com/vault-appliance/vault/pkg/errors"
	"github.com/vault-appliance/vault/pkg/utils/timeutil"
)

func (h *Handler) ListUsers(c *gin.Context)          { handle(c, h.listUsers) }
func (h *Handler) CreateUser(c *gin.Context)         { handle(c, h.createUser) }
func (h *Handler) GetUser(c *gin.Context)            { handle(c, h.getUser) }
func (h *Handler) UpdateUser(c *gin.Context)         { handle(c, h.updateUser) }
func (h *Handler) DeleteUser(c *gin.Context)         { handle(c, h.deleteUser) }
func (h *Handler) ListApiKeys(c *gin.Context)        { handle(c, h.listApiKeys) }
func (h *Handler) CreateApiKey(c *gin.Context)       { handle(c, h.createApiKey) }
func (h *Handler) RevokeApiKey(c *gin.Context)       { handle(c, h.revokeApiKey) }
func (h *Handler) GetConfigGroup(c *gin.Context)     { handle(c, h.getConfigGroup) }
func (h *Handler) PutConfigGroup(c *gin.Context)     { handle(c, h.putConfigGroup) }
func (h *Handler) ListLdapMappings(c *gin.Context)   { handle(c, h.listLdapMappings) }
func (h *Handler) CreateLdapMapping(c *gin.Context)  { handle(c, h.createLdapMapping) }
func (h *Handler) DeleteLdapMapping(c *gin.Context)  { handle(c, h.deleteLdapMapping) }
func (h *Handler) TestLdapConnection(c *gin.Context) { handle(c, h.testLdapConnection) }
func (h *Handler) SearchAudit(c *gin.Context)        { handle(c, h.searchAudit) }

func (h *Handler) listUsers(c *gin.Context) (interface{}, error) {
	limit, offset := parsePaging(c)
	users, err := h.dbClient.SelectUsers(c.Request.Context(), nil,
		[]string{"created_at " + client.ASC}, limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]*userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, cvtUserResponse(u))
	}
	return gin.H{"users": out}, nil
}

type createUserRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (h *Handler) createUser(c *gin.Context) (interface{}, error) {
	ctx := c.Request.Context()
	req := &createUserRequest{}
	if _, err := getBodyFromRequest(c.Request, req); err != nil {
		return nil, err
	}
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		return nil, commonerrors.NewBadRequest("a valid email is required")
	}
	if req.Role == "" {
		req.Role = client.RoleUser
	}
	if req.Role != client.RoleUser && req.Role != client.RoleAdmin {
		return nil, commonerrors.NewBadRequest("role must be user or admin")
	}
	if existing, err := h.dbClient.GetUserByEmail(ctx, req.Email); err == nil && existing != nil {
		return nil, commonerrors.NewAlreadyExist("user " + req.Email)
	} else if err != nil && !commonerrors.IsNotFound(err) {
		return nil, err
	}
	hash, err := authority.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	user := &client.User{
		Id:             uuid.NewString(),
		Name:           req.Name,
		Email:          req.Email,
		Role:           req.Role,
		Status:         client.UserStatusActive,
		AuthSource:     client.AuthSourceLocal,
		CredentialHash: dbutils.NullString(hash),
		CreatedAt:      timeutil.Now(),
	}
	if err = h.dbClient.InsertUser(ctx, user); err != nil {
		return nil, err
	}
	h.audit.Record(ctx, "user.create",
		audit.WithCaller(authority.UserId(c)), audit.WithDetails(user.Email))
	c.Status(http.StatusCreated)
	return cvtUserResponse(user), nil
}

func (h *Handler) getUser(c *gin.Context) (interface{}, error) {
	user, err := h.dbClient.GetUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		return nil, err
	}
	return cvtUserResponse(user), nil
}

type updateUserRequest struct {
	Name     string `json:"name"`
	Role     string `json:"role"`
	Status   string `json:"status"`
	Password string `json:"password"`
}

func (h *Handler) updateUser(c *gin.Context) (interface{}, error) {
	ctx := c.Request.Context()
	req := &updateUserRequest{}
	if _, err := getBodyFromRequest(c.Request, req); err != nil {
		return nil, err
	}
	user, err := h.dbClient.GetUser(ctx, c.Param("id"))
	if err != nil {
		return nil, err
	}
	if req.Name != "" {
		user.Name = req.Name
	}
	if req.Role != "" {
		if req.Role != client.RoleUser && req.Role != client.RoleAdmin {
			return nil, commonerrors.NewBadRequest("role must be user or admin")
		}
		if user.Id == authority.UserId(c) && req.Role != client.RoleAdmin {
			return nil, commonerrors.NewForbidden("cannot demote your own account")
		}
		user.Role = req.Role
	}
	if req.Status != "" {
		if req.Status != client.UserStatusActive && req.Status != client.UserStatusDisabled {
			return nil, commonerrors.NewBadRequest("status must be active or disabled")
		}
		if user.Id == authority.UserId(c) && req.Status == client.UserStatusDisabled {
			return nil, commonerrors.NewForbidden("cannot disable your own account")
		}
		user.Status = req.Status
	}
	if req.Password != "" {
		if user.AuthSource != client.AuthSourceLocal {
			return nil, commonerrors.NewBadRequest("directory users have no local password")
		}
		hash, err := authority.HashPassword(req.Password)
		if err != nil {
			return nil, err
		}
		user.CredentialHash = dbutils.NullString(hash)
	}
	if err = h.dbClient.UpdateUser(ctx, user); err != nil {
		return nil, err
	}
	h.audit.Record(ctx, "user.update",
		audit.WithCaller(authority.UserId(c)), audit.WithDetails(user.Email))
	return cvtUserResponse(user), nil
}

func (h *Handler) deleteUser(c *gin.Context) (interface{}, error) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if id == authority.UserId(c) {
		return nil, commonerrors.NewForbidden("cannot delete your own account")
	}
	user, err := h.dbClient.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if err = h.dbClient.DeleteUser(ctx, id); err != nil {
		return nil, err
	}
	h.audit.Record(ctx, "user.delete",
		audit.WithCaller(authority.UserId(c)), audit.WithDetails(user.Email))
	return gin.H{"deleted": id}, nil
}

type apiKeyResponse struct {
	Id         int64  `json:"id"`
	Prefix     string `json:"prefix"`
	Label      string `json:"label"`
	Scope      string `json:"scope"`
	IsActive   bool   `json:"is_active"`
	CreatedAt  string `json:"created_at"`
	LastUsedAt string `json:"last_used_at,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

func cvtApiKeyResponse(key *client.ApiKey) *apiKeyResponse {
	return &apiKeyResponse{
		Id:         key.Id,
		Prefix:     key.KeyPrefix,
		Label:      key.Label,
		Scope:      key.Scope,
		IsActive:   key.IsActive,
		CreatedAt:  timeutil.FormatRFC3339(&key.CreatedAt),
		LastUsedAt: dbutils.ParseNullTimeToString(key.LastUsedAt),
		Notes:      dbutils.ParseNullString(key.Notes),
	}
}

func (h *Handler) listApiKeys(c *gin.Context) (interface{}, error) {
	limit, offset := parsePaging(c)
	keys, err := h.dbClient.SelectApiKeys(c.Request.Context(), nil,
		[]string{"created_at " + client.DESC}, limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]*apiKeyResponse, 0, len(keys))
	for _, k := range keys {
		out = append(out, cvtApiKeyResponse(k))
	}
	return gin.H{"keys": out}, nil
}

type createApiKeyRequest struct {
	Label string `json:"label"`
	Scope string `json:"scope"`
	Notes string `json:"notes"`
}

// createApiKey returns the raw key exactly once; only the hash is stored.
func (h *Handler) createApiKey(c *gin.Context) (interface{}, error) {
	ctx := c.Request.Context()
	req := &createApiKeyRequest{}
	if _, err := getBodyFromRequest(c.Request, req); err != nil {
		return nil, err
	}
	if req.Label == "" {
		return nil, commonerrors.NewBadRequest("label is required")
	}
	if req.Scope == "" {
		req.Scope = client.ScopeUser
	}
	if req.Scope != client.ScopeUser && req.Scope != client.ScopeAdmin {
		return nil, commonerrors.NewBadRequest("scope must be user or admin")
	}
	generated, err := authority.GenerateApiKey()
	if err != nil {
		return nil, commonerrors.NewInternalError(err.Error())
	}
	key := &client.ApiKey{
		KeyHash:   generated.Hash,
		KeyPrefix: generated.Prefix,
		Label:     req.Label,
		Scope:     req.Scope,
		IsActive:  true,
		UserId:    dbutils.NullString(authority.UserId(c)),
		CreatedAt: timeutil.Now(),
		Notes:     dbutils.NullString(req.Notes),
	}
	id, err := h.dbClient.InsertApiKey(ctx, key)
	if err != nil {
		return nil, err
	}
	key.Id = id
	h.audit.Record(ctx, "apikey.create",
		audit.WithCaller(authority.UserId(c)), audit.WithDetails(generated.Prefix))
	c.Status(http.StatusCreated)
	return gin.H{"key": generated.Raw, "info": cvtApiKeyResponse(key)}, nil
}

func (h *Handler) revokeApiKey(c *gin.Context) (interface{}, error) {
	ctx := c.Request.Context()
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return nil, commonerrors.NewBadRequest("key id must be an integer")
	}
	if err = h.dbClient.SetApiKeyActive(ctx, id, false); err != nil {
		return nil, err
	}
	h.audit.Record(ctx, "apikey.revoke",
		audit.WithCaller(authority.UserId(c)), audit.WithDetails(c.Param("id")))
	return gin.H{"revoked": id}, nil
}

func (h *Handler) getConfigGroup(c *gin.Context) (interface{}, error) {
	group := c.Param("group")
	prefix := group + "."
	values := config.DefaultsWithPrefix(prefix)
	if len(values) == 0 {
		return nil, commonerrors.NewNotFound("config group " + group)
	}
	stored, err := h.dbClient.SelectConfigWithPrefix(c.Request.Context(), prefix)
	if err != nil {
		return nil, err
	}
	for k, v := range stored {
		values[k] = v
	}
	return gin.H{"group": group, "values": values}, nil
}

// putConfigGroup accepts keys either bare ("enabled") or fully qualified
// ("ldap.enabled"); unknown keys reject the whole request.
func (h *Handler) putConfigGroup(c *gin.Context) (interface{}, error) {
	ctx := c.Request.Context()
	group := c.Param("group")
	prefix := group + "."
	if len(config.DefaultsWithPrefix(prefix)) == 0 {
		return nil, commonerrors.NewNotFound("config group " + group)
	}
	values := map[string]string{}
	if _, err := getBodyFromRequest(c.Request, &values); err != nil {
		return nil, err
	}
	full := make(map[string]string, len(values))
	for k, v := range values {
		key := k
		if !strings.HasPrefix(key, prefix) {
			key = prefix + key
		}
		if !config.KnownKey(key) {
			return nil, commonerrors.NewBadRequest("unknown config key " + k)
		}
		full[key] = v
	}
	for k, v := range full {
		if err := h.sysCfg.Set(ctx, k, v); err != nil {
			return nil, err
		}
	}
	h.audit.Record(ctx, "config.update",
		audit.WithCaller(authority.UserId(c)), audit.WithDetails(group))
	return h.getConfigGroup(c)
}

func (h *Handler) listLdapMappings(c *gin.Context) (interface{}, error) {
	mappings, err := h.dbClient.SelectLdapMappings(c.Request.Context())
	if err != nil {
		return nil, err
	}
	return gin.H{"mappings": mappings}, nil
}

type createLdapMappingRequest struct {
	GroupDN  string `json:"group_dn"`
	Role     string `json:"role"`
	Priority int    `json:"priority"`
}

func (h *Handler) createLdapMapping(c *gin.Context) (interface{}, error) {
	ctx := c.Request.Context()
	req := &createLdapMappingRequest{}
	if _, err := getBodyFromRequest(c.Request, req); err != nil {
		return nil, err
	}
	if req.GroupDN == "" {
		return nil, commonerrors.NewBadRequest("group_dn is required")
	}
	if req.Role != client.RoleUser && req.Role != client.RoleAdmin {
		return nil, commonerrors.NewBadRequest("role must be user or admin")
	}
	mapping := &client.LdapGroupMapping{GroupDN: req.GroupDN, Role: req.Role, Priority: req.Priority}
	id, err := h.dbClient.InsertLdapMapping(ctx, mapping)
	if err != nil {
		return nil, err
	}
	mapping.Id = id
	h.audit.Record(ctx, "ldap.mapping_create",
		audit.WithCaller(authority.UserId(c)), audit.WithDetails(req.GroupDN))
	c.Status(http.StatusCreated)
	return mapping, nil
}

func (h *Handler) deleteLdapMapping(c *gin.Context) (interface{}, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return nil, commonerrors.NewBadRequest("mapping id must be an integer")
	}
	if err = h.dbClient.DeleteLdapMapping(c.Request.Context(), id); err != nil {
		return nil, err
	}
	return gin.H{"deleted": id}, nil
}

func (h *Handler) testLdapConnection(c *gin.Context) (interface{}, error) {
	if err := h.ldap.TestConnection(c.Request.Context()); err != nil {
		return nil, err
	}
	return gin.H{"status": "ok"}, nil
}

func (h *Handler) searchAudit(c *gin.Context) (interface{}, error) {
	limit, offset := parsePaging(c)
	q := audit.Query{Action: c.Query("action"), Limit: limit, Offset: offset}
	if raw := c.Query("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, commonerrors.NewBadRequest("since must be RFC3339")
		}
		q.Since = since
	}
	if raw := c.Query("until"); raw != "" {
		until, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, commonerrors.NewBadRequest("until must be RFC3339")
		}
		q.Until = until
	}
	entries, err := h.audit.Search(c.Request.Context(), q)
	if err != nil {
		return nil, err
	}
	return gin.H{"entries": entries}, nil
}
