/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package client

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqrl "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"k8s.io/klog/v2"

	commonerrors "github.com/vault-appliance/vault/pkg/errors"
)

const (
	TUsers = "users"

	RoleAdmin = "admin"
	RoleUser  = "user"

	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"

	AuthSourceLocal     = "local"
	AuthSourceDirectory = "directory"
)

type User struct {
	Id             string         `db:"id"`
	Name           string         `db:"name"`
	Email          string         `db:"email"`
	Role           string         `db:"role"`
	Status         string         `db:"status"`
	AuthSource     string         `db:"auth_source"`
	CredentialHash sql.NullString `db:"credential_hash"`
	DirectoryDN    sql.NullString `db:"directory_dn"`
	CreatedAt      time.Time      `db:"created_at"`
	LastActive     pq.NullTime    `db:"last_active"`
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

func (u *User) IsActive() bool {
	return u.Status == UserStatusActive
}

var (
	insertUserCmd = fmt.Sprintf(`INSERT INTO %s
		(id, name, email, role, status, auth_source, credential_hash, directory_dn, created_at, last_active)
		VALUES (:id, :name, :email, :role, :status, :auth_source, :credential_hash, :directory_dn, :created_at, :last_active)`, TUsers)
	updateUserCmd = fmt.Sprintf(`UPDATE %s
		SET name = :name,
		    email = :email,
		    role = :role,
		    status = :status,
		    auth_source = :auth_source,
		    credential_hash = :credential_hash,
		    directory_dn = :directory_dn,
		    last_active = :last_active
		WHERE id = :id`, TUsers)
)

func (c *Client) InsertUser(ctx context.Context, user *User) error {
	if user == nil {
		return nil
	}
	ctx, cancel := c.requestContext(ctx)
	defer cancel()
	if _, err := c.db.NamedExecContext(ctx, insertUserCmd, user); err != nil {
		klog.ErrorS(err, "failed to insert user", "id", user.Id)
		return err
	}
	return nil
}

func (c *Client) GetUser(ctx context.Context, id string) (*User, error) {
	return c.getUserWhere(ctx, sqrl.Eq{"id": id})
}

func (c *Client) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return c.getUserWhere(ctx, sqrl.Eq{"email": email})
}

func (c *Client) getUserWhere(ctx context.Context, query sqrl.Sqlizer) (*User, error) {
	var users []*User
	if err := c.selectList(ctx, &users, TUsers, query, nil, 1, 0); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, commonerrors.NewNotFound("user not found")
		}
		return nil, err
	}
	if len(users) == 0 {
		return nil, commonerrors.NewNotFound("user not found")
	}
	return users[0], nil
}

func (c *Client) SelectUsers(ctx context.Context, query sqrl.Sqlizer, orderBy []string, limit, offset int) ([]*User, error) {
	var users []*User
	err := c.selectList(ctx, &users, TUsers, query, orderBy, limit, offset)
	return users, err
}

func (c *Client) CountUsers(ctx context.Context, query sqrl.Sqlizer) (int, error) {
	return c.countRows(ctx, TUsers, query)
}

func (c *Client) UpdateUser(ctx context.Context, user *User) error {
	if user == nil {
		return nil
	}
	ctx, cancel := c.requestContext(ctx)
	defer cancel()
	if _, err := c.db.NamedExecContext(ctx, updateUserCmd, user); err != nil {
		klog.ErrorS(err, "failed to update user", "id", user.Id)
		return err
	}
	return nil
}

func (c *Client) SetUserLastActive(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := c.requestContext(ctx)
	defer cancel()
	_, err := c.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET last_active = $1 WHERE id = $2`, TUsers), at, id)
	return err
}

func (c *Client) DeleteUser(ctx context.Context, id string) error {
	ctx, cancel := c.requestContext(ctx)
	defer cancel()
	_, err := c.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, TUsers), id)
	return err
}
