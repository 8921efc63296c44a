/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package ldap

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	ldapv3 "github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/vault-appliance/vault/pkg/config"
	"github.com/vault-appliance/vault/pkg/database/client"
	dbutils "github.com/vault-appliance/vault/pkg/database/utils"
	commonerrors "github.com/vault-appliance/vault/pkg/errors"
)

type Store interface {
	GetUserByEmail(ctx context.Context, email string) (*client.User, error)
	InsertUser(ctx context.Context, user *client.User) error
	UpdateUser(ctx context.Context, user *client.User) error
	SelectLdapMappings(ctx context.Context) ([]*client.LdapGroupMapping, error)
}

// Conn is the slice of *ldap.Conn the authenticator uses, injectable for
// tests.
type Conn interface {
	Bind(username, password string) error
	Search(req *ldapv3.SearchRequest) (*ldapv3.SearchResult, error)
	StartTLS(cfg *tls.Config) error
	Close() error
}

// settings is the directory configuration snapshot taken per login, so admin
// edits apply to the next attempt without a restart.
type settings struct {
	enabled      bool
	url          string
	baseDN       string
	bindDN       string
	bindPassword string
	userFilter   string
	startTLS     bool
	defaultRole  string
}

type Authenticator struct {
	sysCfg *config.System
	store  Store
	dial   func(addr string) (Conn, error)
}

func NewAuthenticator(sysCfg *config.System, store Store) *Authenticator {
	return &Authenticator{
		sysCfg: sysCfg,
		store:  store,
		dial: func(addr string) (Conn, error) {
			return ldapv3.DialURL(addr)
		},
	}
}

func (a *Authenticator) Enabled(ctx context.Context) bool {
	return a.sysCfg.GetBool(ctx, config.LdapEnabled)
}

func (a *Authenticator) snapshot(ctx context.Context) *settings {
	s := &settings{
		enabled:     a.sysCfg.GetBool(ctx, config.LdapEnabled),
		url:         a.sysCfg.Get(ctx, config.LdapURL),
		baseDN:      a.sysCfg.Get(ctx, config.LdapBaseDN),
		bindDN:      a.sysCfg.Get(ctx, config.LdapBindDN),
		userFilter:  a.sysCfg.Get(ctx, config.LdapUserFilter),
		startTLS:    a.sysCfg.GetBool(ctx, config.LdapStartTLS),
		defaultRole: a.sysCfg.Get(ctx, config.LdapDefaultRole),
	}
	if data, err := os.ReadFile(config.GetLdapBindPasswordPath()); err == nil {
		s.bindPassword = strings.TrimSpace(string(data))
	}
	return s
}

func (a *Authenticator) connect(s *settings) (Conn, error) {
	conn, err := a.dial(s.url)
	if err != nil {
		return nil, commonerrors.NewUnavailable(fmt.Sprintf("directory server unreachable: %v", err))
	}
	if s.startTLS && !strings.HasPrefix(s.url, "ldaps://") {
		if err = conn.StartTLS(&tls.Config{ServerName: hostOf(s.url)}); err != nil {
			conn.Close()
			return nil, commonerrors.NewUnavailable(fmt.Sprintf("directory StartTLS failed: %v", err))
		}
	}
	return conn, nil
}

func hostOf(addr string) string {
	u, err := url.Parse(addr)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// Login binds as the user found by the configured filter and provisions or
// refreshes the local user row.
func (a *Authenticator) Login(ctx context.Context, username, password string) (*client.User, error) {
	if username == "" || password == "" {
		return nil, commonerrors.NewUnauthorized("invalid credentials")
	}
	s := a.snapshot(ctx)
	if !s.enabled {
		return nil, commonerrors.NewUnauthorized("directory authentication is disabled")
	}
	if s.url == "" || s.baseDN == "" {
		return nil, commonerrors.NewUnavailable("directory authentication is not configured")
	}

	conn, err := a.connect(s)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if s.bindDN != "" {
		if err = conn.Bind(s.bindDN, s.bindPassword); err != nil {
			klog.ErrorS(err, "directory service bind failed", "bind_dn", s.bindDN)
			return nil, commonerrors.NewUnavailable("directory service account bind failed")
		}
	}

	entry, err := a.findUser(conn, s, username)
	if err != nil {
		return nil, err
	}
	if err = conn.Bind(entry.DN, password); err != nil {
		klog.Infof("directory bind rejected for %s", entry.DN)
		return nil, commonerrors.NewUnauthorized("invalid credentials")
	}

	role, err := a.resolveRole(ctx, s, entry.GetAttributeValues("memberOf"))
	if err != nil {
		return nil, err
	}
	return a.provision(ctx, entry, username, role)
}

func (a *Authenticator) findUser(conn Conn, s *settings, username string) (*ldapv3.Entry, error) {
	filter := strings.ReplaceAll(s.userFilter, "%s", ldapv3.EscapeFilter(username))
	req := ldapv3.NewSearchRequest(
		s.baseDN,
		ldapv3.ScopeWholeSubtree, ldapv3.NeverDerefAliases, 2, 10, false,
		filter,
		[]string{"dn", "cn", "mail", "memberOf"},
		nil,
	)
	result, err := conn.Search(req)
	if err != nil {
		return nil, commonerrors.NewUnavailable(fmt.Sprintf("directory search failed: %v", err))
	}
	if len(result.Entries) == 0 {
		return nil, commonerrors.NewUnauthorized("invalid credentials")
	}
	if len(result.Entries) > 1 {
		return nil, commonerrors.NewUnauthorized("directory filter matched multiple users")
	}
	return result.Entries[0], nil
}

// resolveRole walks the stored mappings, already ordered by descending
// priority; the first group match wins. No match falls back to the default
// role.
func (a *Authenticator) resolveRole(ctx context.Context, s *settings, groups []string) (string, error) {
	mappings, err := a.store.SelectLdapMappings(ctx)
	if err != nil {
		return "", err
	}
	for _, mapping := range mappings {
		for _, group := range groups {
			if strings.EqualFold(mapping.GroupDN, group) {
				return mapping.Role, nil
			}
		}
	}
	if s.defaultRole == "" {
		return client.RoleUser, nil
	}
	return s.defaultRole, nil
}

func (a *Authenticator) provision(ctx context.Context, entry *ldapv3.Entry, username, role string) (*client.User, error) {
	email := entry.GetAttributeValue("mail")
	if email == "" {
		email = username
	}
	name := entry.GetAttributeValue("cn")
	if name == "" {
		name = username
	}

	existing, err := a.store.GetUserByEmail(ctx, email)
	if err != nil && !commonerrors.IsNotFound(err) {
		return nil, err
	}
	now := time.Now().UTC()
	if existing == nil {
		user := &client.User{
			Id:          uuid.NewString(),
			Name:        name,
			Email:       email,
			Role:        role,
			Status:      client.UserStatusActive,
			AuthSource:  client.AuthSourceDirectory,
			DirectoryDN: dbutils.NullString(entry.DN),
			CreatedAt:   now,
		}
		if err = a.store.InsertUser(ctx, user); err != nil {
			return nil, err
		}
		klog.Infof("provisioned directory user %s (%s) with role %s", name, email, role)
		return user, nil
	}

	if !existing.IsActive() {
		return nil, commonerrors.NewForbidden("this account is disabled")
	}
	existing.Name = name
	existing.Role = role
	existing.AuthSource = client.AuthSourceDirectory
	existing.DirectoryDN = dbutils.NullString(entry.DN)
	if err = a.store.UpdateUser(ctx, existing); err != nil {
		return nil, err
	}
	return existing, nil
}

// TestConnection dials and binds the service account with the current
// settings, without touching any user.
func (a *Authenticator) TestConnection(ctx context.Context) error {
	s := a.snapshot(ctx)
	if s.url == "" {
		return commonerrors.NewBadRequest("directory URL is not configured")
	}
	conn, err := a.connect(s)
	if err != nil {
		return err
	}
	defer conn.Close()
	if s.bindDN != "" {
		if err = conn.Bind(s.bindDN, s.bindPassword); err != nil {
			return commonerrors.NewUnauthorized(fmt.Sprintf("service account bind failed: %v", err))
		}
	}
	return nil
}
