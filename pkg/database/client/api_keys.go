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
	TApiKeys = "api_keys"

	ScopeUser  = "user"
	ScopeAdmin = "admin"
)

type ApiKey struct {
	Id         int64          `db:"id"`
	KeyHash    string         `db:"key_hash"`
	KeyPrefix  string         `db:"key_prefix"`
	Label      string         `db:"label"`
	Scope      string         `db:"scope"`
	IsActive   bool           `db:"is_active"`
	UserId     sql.NullString `db:"user_id"`
	CreatedAt  time.Time      `db:"created_at"`
	LastUsedAt pq.NullTime    `db:"last_used_at"`
	Notes      sql.NullString `db:"notes"`
}

func (k *ApiKey) IsAdminScope() bool {
	return k.Scope == ScopeAdmin
}

var insertApiKeyCmd = fmt.Sprintf(`INSERT INTO %s
	(key_hash, key_prefix, label, scope, is_active, user_id, created_at, last_used_at, notes)
	VALUES (:key_hash, :key_prefix, :label, :scope, :is_active, :user_id, :created_at, :last_used_at, :notes)
	RETURNING id`, TApiKeys)

func (c *Client) InsertApiKey(ctx context.Context, key *ApiKey) (int64, error) {
	if key == nil {
		return 0, nil
	}
	ctx, cancel := c.requestContext(ctx)
	defer cancel()
	rows, err := c.db.NamedQueryContext(ctx, insertApiKeyCmd, key)
	if err != nil {
		klog.ErrorS(err, "failed to insert api key", "prefix", key.KeyPrefix)
		return 0, err
	}
	defer rows.Close()
	var id int64
	if rows.Next() {
		if err = rows.Scan(&id); err != nil {
			return 0, err
		}
	}
	return id, nil
}

func (c *Client) GetApiKeyByHash(ctx context.Context, keyHash string) (*ApiKey, error) {
	var keys []*ApiKey
	err := c.selectList(ctx, &keys, TApiKeys, sqrl.Eq{"key_hash": keyHash}, nil, 1, 0)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, commonerrors.NewNotFound("api key not found")
		}
		return nil, err
	}
	if len(keys) == 0 {
		return nil, commonerrors.NewNotFound("api key not found")
	}
	return keys[0], nil
}

func (c *Client) SelectApiKeys(ctx context.Context, query sqrl.Sqlizer, orderBy []string, limit, offset int) ([]*ApiKey, error) {
	var keys []*ApiKey
	err := c.selectList(ctx, &keys, TApiKeys, query, orderBy, limit, offset)
	return keys, err
}

func (c *Client) SetApiKeyActive(ctx context.Context, id int64, active bool) error {
	ctx, cancel := c.requestContext(ctx)
	defer cancel()
	_, err := c.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET is_active = $1 WHERE id = $2`, TApiKeys), active, id)
	return err
}

func (c *Client) SetApiKeyLastUsed(ctx context.Context, id int64, at time.Time) error {
	ctx, cancel := c.requestContext(ctx)
	defer cancel()
	_, err := c.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET last_used_at = $1 WHERE id = $2`, TApiKeys), at, id)
	return err
}

func (c *Client) DeleteApiKey(ctx context.Context, id int64) error {
	ctx, cancel := c.requestContext(ctx)
	defer cancel()
	_, err := c.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, TApiKeys), id)
	return err
}
