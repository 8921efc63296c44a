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
)

const TSystemConfig = "system_config"

func (c *Client) GetConfigValue(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := c.requestContext(ctx)
	defer cancel()
	var value string
	err := c.db.GetContext(ctx, &value,
		fmt.Sprintf(`SELECT value FROM %s WHERE key = $1`, TSystemConfig), key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

func (c *Client) SetConfigValue(ctx context.Context, key, value string) error {
	ctx, cancel := c.requestContext(ctx)
	defer cancel()
	_, err := c.db.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (key, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		TSystemConfig), key, value, time.Now().UTC())
	return err
}

func (c *Client) SelectConfigWithPrefix(ctx context.Context, prefix string) (map[string]string, error) {
	ctx, cancel := c.requestContext(ctx)
	defer cancel()
	rows, err := c.db.QueryxContext(ctx,
		fmt.Sprintf(`SELECT key, value FROM %s WHERE key LIKE $1`, TSystemConfig), prefix+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err = rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		result[key] = value
	}
	return result, rows.Err()
}
