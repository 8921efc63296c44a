/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package client

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sqrl "github.com/Masterminds/squirrel"
	"k8s.io/klog/v2"
)

const TAuditLog = "audit_log"

type AuditEntry struct {
	Id            int64           `db:"id"`
	Timestamp     time.Time       `db:"timestamp"`
	Action        string          `db:"action"`
	Method        sql.NullString  `db:"method"`
	Path          sql.NullString  `db:"path"`
	UserKeyPrefix sql.NullString  `db:"user_key_prefix"`
	Model         sql.NullString  `db:"model"`
	StatusCode    sql.NullInt64   `db:"status_code"`
	LatencyMs     sql.NullFloat64 `db:"latency_ms"`
	TokensInput   sql.NullInt64   `db:"tokens_input"`
	TokensOutput  sql.NullInt64   `db:"tokens_output"`
	Details       sql.NullString  `db:"details"`
}

var insertAuditEntryCmd = fmt.Sprintf(`INSERT INTO %s
	(timestamp, action, method, path, user_key_prefix, model, status_code, latency_ms,
	 tokens_input, tokens_output, details)
	VALUES (:timestamp, :action, :method, :path, :user_key_prefix, :model, :status_code, :latency_ms,
	 :tokens_input, :tokens_output, :details)`, TAuditLog)

func (c *Client) InsertAuditEntry(ctx context.Context, entry *AuditEntry) error {
	if entry == nil {
		return nil
	}
	ctx, cancel := c.requestContext(ctx)
	defer cancel()
	if _, err := c.db.NamedExecContext(ctx, insertAuditEntryCmd, entry); err != nil {
		klog.ErrorS(err, "failed to insert audit entry", "action", entry.Action)
		return err
	}
	return nil
}

func (c *Client) SelectAuditEntries(ctx context.Context, query sqrl.Sqlizer, orderBy []string, limit, offset int) ([]*AuditEntry, error) {
	var entries []*AuditEntry
	err := c.selectList(ctx, &entries, TAuditLog, query, orderBy, limit, offset)
	return entries, err
}
