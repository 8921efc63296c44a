/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package client

import (
	"context"
	"time"

	sqrl "github.com/Masterminds/squirrel"
	"k8s.io/klog/v2"

	commonerrors "github.com/vault-appliance/vault/pkg/errors"
)

// selectList runs a squirrel-composed SELECT * against table into dest.
// limit < 0 means unbounded; offset < 0 is treated as 0.
func (c *Client) selectList(ctx context.Context, dest interface{}, table string, query sqrl.Sqlizer, orderBy []string, limit, offset int) error {
	if c.db == nil {
		return commonerrors.NewInternalError("the db client has not been initialized")
	}
	startTime := time.Now().UTC()
	defer func() {
		if query != nil {
			if strQuery, args, err := query.ToSql(); err == nil {
				klog.V(4).Infof("select %s, where: %s, args: %v, cost (%v)", table, strQuery, args, time.Since(startTime))
			}
		}
	}()

	if offset < 0 {
		offset = 0
	}
	builder := sqrl.Select("*").PlaceholderFormat(sqrl.Dollar).From(table)
	if query != nil {
		builder = builder.Where(query)
	}
	builder = builder.OrderBy(orderBy...)
	if limit >= 0 {
		builder = builder.Limit(uint64(limit)).Offset(uint64(offset))
	} else if offset > 0 {
		builder = builder.Offset(uint64(offset))
	}
	sql, args, err := builder.ToSql()
	if err != nil {
		return err
	}

	db := c.db.Unsafe()
	ctx, cancel := c.requestContext(ctx)
	defer cancel()
	return db.SelectContext(ctx, dest, sql, args...)
}

func (c *Client) countRows(ctx context.Context, table string, query sqrl.Sqlizer) (int, error) {
	if c.db == nil {
		return 0, commonerrors.NewInternalError("the db client has not been initialized")
	}
	builder := sqrl.Select("COUNT(*)").PlaceholderFormat(sqrl.Dollar).From(table)
	if query != nil {
		builder = builder.Where(query)
	}
	sql, args, err := builder.ToSql()
	if err != nil {
		return 0, err
	}
	ctx, cancel := c.requestContext(ctx)
	defer cancel()
	var count int
	if err = c.db.GetContext(ctx, &count, sql, args...); err != nil {
		return 0, err
	}
	return count, nil
}

func (c *Client) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.RequestTimeout > 0 {
		return context.WithTimeout(ctx, c.RequestTimeout)
	}
	return context.WithCancel(ctx)
}
