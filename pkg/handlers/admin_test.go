/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vault-appliance/vault/pkg/database/client"
)

func TestCreateUser(t *testing.T) {
	fx := newFixture(t)
	w := fx.do(http.MethodPost, "/vault/admin/users", adminToken,
		`{"name":"Pat","email":"pat@example.com","password":"long enough","role":"user"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var rsp struct {
		Id   string `json:"id"`
		Role string `json:"role"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rsp))
	require.NotEmpty(t, rsp.Id)
	assert.Equal(t, client.RoleUser, rsp.Role)

	stored := fx.db.users[rsp.Id]
	require.NotNil(t, stored)
	assert.Equal(t, client.AuthSourceLocal, stored.AuthSource)
	assert.NotContains(t, stored.CredentialHash.String, "long enough")
	// hashes never surface in API responses
	assert.NotContains(t, w.Body.String(), stored.CredentialHash.String)
}

func TestCreateUserValidation(t *testing.T) {
	fx := newFixture(t)
	for name, body := range map[string]string{
		"bad email":      `{"name":"x","email":"not-an-email","password":"long enough"}`,
		"short password": `{"name":"x","email":"x@example.com","password":"short"}`,
		"bad role":       `{"name":"x","email":"x@example.com","password":"long enough","role":"root"}`,
	} {
		w := fx.do(http.MethodPost, "/vault/admin/users", adminToken, body)
		assert.Equal(t, http.StatusBadRequest, w.Code, name)
	}
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	fx := newFixture(t)
	seedUser(t, fx, "u1", "pat@example.com", "long enough", client.RoleUser, client.UserStatusActive)
	w := fx.do(http.MethodPost, "/vault/admin/users", adminToken,
		`{"name":"Pat","email":"pat@example.com","password":"long enough"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestUpdateUserSelfGuards(t *testing.T) {
	fx := newFixture(t)
	seedUser(t, fx, "admin-1", "ops@example.com", "long enough", client.RoleAdmin, client.UserStatusActive)

	w := fx.do(http.MethodPut, "/vault/admin/users/admin-1", adminToken, `{"role":"user"}`)
	assert.Equal(t, http.StatusForbidden, w.Code, "self demote")

	w = fx.do(http.MethodPut, "/vault/admin/users/admin-1", adminToken, `{"status":"disabled"}`)
	assert.Equal(t, http.StatusForbidden, w.Code, "self disable")
}

func TestDeleteUserSelf(t *testing.T) {
	fx := newFixture(t)
	seedUser(t, fx, "admin-1", "ops@example.com", "long enough", client.RoleAdmin, client.UserStatusActive)
	w := fx.do(http.MethodDelete, "/vault/admin/users/admin-1", adminToken, "")
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.NotNil(t, fx.db.users["admin-1"])
}

func TestDeleteUser(t *testing.T) {
	fx := newFixture(t)
	seedUser(t, fx, "u1", "pat@example.com", "long enough", client.RoleUser, client.UserStatusActive)
	w := fx.do(http.MethodDelete, "/vault/admin/users/u1", adminToken, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, fx.db.users["u1"])
}

func TestApiKeyLifecycle(t *testing.T) {
	fx := newFixture(t)
	w := fx.do(http.MethodPost, "/vault/admin/keys", adminToken, `{"label":"ci"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var rsp struct {
		Key  string `json:"key"`
		Info struct {
			Id     int64  `json:"id"`
			Prefix string `json:"prefix"`
			Scope  string `json:"scope"`
		} `json:"info"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rsp))
	assert.Equal(t, client.ScopeUser, rsp.Info.Scope)
	assert.Equal(t, rsp.Key[:len(rsp.Info.Prefix)], rsp.Info.Prefix)

	// the stored row carries the hash, never the raw key
	stored := fx.db.keys[rsp.Info.Id]
	require.NotNil(t, stored)
	assert.NotEqual(t, rsp.Key, stored.KeyHash)

	list := fx.do(http.MethodGet, "/vault/admin/keys", adminToken, "")
	require.Equal(t, http.StatusOK, list.Code)
	assert.Contains(t, list.Body.String(), rsp.Info.Prefix)
	assert.NotContains(t, list.Body.String(), rsp.Key)

	del := fx.do(http.MethodDelete, fmt.Sprintf("/vault/admin/keys/%d", rsp.Info.Id), adminToken, "")
	require.Equal(t, http.StatusOK, del.Code)
	assert.False(t, fx.db.keys[rsp.Info.Id].IsActive)

	// a revoked key no longer authenticates
	blocked := fx.doWithApiKey(http.MethodGet, "/vault/training/jobs", rsp.Key)
	assert.Equal(t, http.StatusUnauthorized, blocked.Code)
}

func TestConfigGroupDefaultsAndOverrides(t *testing.T) {
	fx := newFixture(t)
	w := fx.do(http.MethodGet, "/vault/admin/config/training", adminToken, "")
	require.Equal(t, http.StatusOK, w.Code)

	var rsp struct {
		Group  string            `json:"group"`
		Values map[string]string `json:"values"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rsp))
	assert.Equal(t, "training", rsp.Group)
	assert.Equal(t, "true", rsp.Values["training.enabled"])
	assert.Equal(t, "90", rsp.Values["training.max_memory_pct"])

	put := fx.do(http.MethodPut, "/vault/admin/config/training", adminToken,
		`{"max_memory_pct":"75"}`)
	require.Equal(t, http.StatusOK, put.Code)

	require.NoError(t, json.Unmarshal(put.Body.Bytes(), &rsp))
	assert.Equal(t, "75", rsp.Values["training.max_memory_pct"])
	assert.Equal(t, "75", fx.db.cfg["training.max_memory_pct"])
}

func TestConfigGroupRejectsUnknown(t *testing.T) {
	fx := newFixture(t)
	w := fx.do(http.MethodGet, "/vault/admin/config/bogus", adminToken, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = fx.do(http.MethodPut, "/vault/admin/config/training", adminToken,
		`{"does_not_exist":"1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLdapMappings(t *testing.T) {
	fx := newFixture(t)
	w := fx.do(http.MethodPost, "/vault/admin/ldap/mappings", adminToken,
		`{"group_dn":"cn=ml-admins,ou=groups,dc=example,dc=com","role":"admin","priority":10}`)
	require.Equal(t, http.StatusCreated, w.Code)

	list := fx.do(http.MethodGet, "/vault/admin/ldap/mappings", adminToken, "")
	require.Equal(t, http.StatusOK, list.Code)
	assert.Contains(t, list.Body.String(), "cn=ml-admins")

	bad := fx.do(http.MethodPost, "/vault/admin/ldap/mappings", adminToken,
		`{"group_dn":"cn=x","role":"superuser"}`)
	assert.Equal(t, http.StatusBadRequest, bad.Code)

	del := fx.do(http.MethodDelete, "/vault/admin/ldap/mappings/1", adminToken, "")
	require.Equal(t, http.StatusOK, del.Code)
	assert.Empty(t, fx.db.mappings)
}

func TestSearchAudit(t *testing.T) {
	fx := newFixture(t)
	// any authed request leaves entries behind; seed one directly instead
	fx.db.audits = append(fx.db.audits, &client.AuditEntry{Action: "auth.login"})

	w := fx.do(http.MethodGet, "/vault/admin/audit?action=auth.login", adminToken, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "auth.login")

	bad := fx.do(http.MethodGet, "/vault/admin/audit?since=lastweek", adminToken, "")
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}
