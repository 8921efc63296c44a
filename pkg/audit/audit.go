/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package audit records user-visible actions into the audit_log table and
// answers the admin query endpoint.
package audit

import (
	"context"
	"time"

	sqrl "github.com/Masterminds/squirrel"
	"k8s.io/klog/v2"

	"github.com/vault-appliance/vault/pkg/database/client"
	dbutils "github.com/vault-appliance/vault/pkg/database/utils"
)

type Store interface {
	InsertAuditEntry(ctx context.Context, entry *client.AuditEntry) error
	SelectAuditEntries(ctx context.Context, query sqrl.Sqlizer, orderBy []string, limit, offset int) ([]*client.AuditEntry, error)
}

type Writer struct {
	store Store
}

func NewWriter(store Store) *Writer {
	return &Writer{store: store}
}

// Record writes one entry. Auditing must never fail the action it describes,
// so errors are logged and swallowed.
func (w *Writer) Record(ctx context.Context, action string, opts ...Option) {
	entry := &client.AuditEntry{
		Timestamp: time.Now().UTC(),
		Action:    action,
	}
	for _, opt := range opts {
		opt(entry)
	}
	if err := w.store.InsertAuditEntry(ctx, entry); err != nil {
		klog.ErrorS(err, "failed to write audit entry", "action", action)
	}
}

type Option func(*client.AuditEntry)

func WithRequest(method, path string) Option {
	return func(e *client.AuditEntry) {
		e.Method = dbutils.NullString(method)
		e.Path = dbutils.NullString(path)
	}
}

func WithCaller(keyPrefix string) Option {
	return func(e *client.AuditEntry) {
		e.UserKeyPrefix = dbutils.NullString(keyPrefix)
	}
}

func WithStatus(code int, latency time.Duration) Option {
	return func(e *client.AuditEntry) {
		e.StatusCode.Int64 = int64(code)
		e.StatusCode.Valid = true
		e.LatencyMs.Float64 = float64(latency.Microseconds()) / 1000
		e.LatencyMs.Valid = true
	}
}

func WithModel(model string) Option {
	return func(e *client.AuditEntry) {
		e.Model = dbutils.NullString(model)
	}
}

func WithTokens(input, output int64) Option {
	return func(e *client.AuditEntry) {
		e.TokensInput.Int64 = input
		e.TokensInput.Valid = true
		e.TokensOutput.Int64 = output
		e.TokensOutput.Valid = true
	}
}

func WithDetails(details string) Option {
	return func(e *client.AuditEntry) {
		e.Details = dbutils.NullString(details)
	}
}

// Query filters for the admin audit endpoint. Zero values mean no filter.
type Query struct {
	Action string
	Since  time.Time
	Until  time.Time
	Limit  int
	Offset int
}

func (w *Writer) Search(ctx context.Context, q Query) ([]*client.AuditEntry, error) {
	var conds sqrl.And
	if q.Action != "" {
		conds = append(conds, sqrl.Eq{"action": q.Action})
	}
	if !q.Since.IsZero() {
		conds = append(conds, sqrl.GtOrEq{"timestamp": q.Since})
	}
	if !q.Until.IsZero() {
		conds = append(conds, sqrl.LtOrEq{"timestamp": q.Until})
	}
	var query sqrl.Sqlizer
	if len(conds) > 0 {
		query = conds
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	return w.store.SelectAuditEntries(ctx, query, []string{"timestamp DESC"}, limit, q.Offset)
}
