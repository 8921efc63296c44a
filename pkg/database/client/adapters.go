/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package client

import (
	"context"
	"database/sql"
	"fmt"

	sqrl "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"k8s.io/klog/v2"

	commonerrors "github.com/vault-appliance/vault/pkg/errors"
)

const (
	TAdapters = "adapters"

	AdapterStatusReady  = "ready"
	AdapterStatusActive = "active"
)

type Adapter struct {
	Id            string         `db:"id"`
	Name          string         `db:"name"`
	BaseModel     string         `db:"base_model"`
	AdapterType   string         `db:"adapter_type"`
	Status        string         `db:"status"`
	Path          string         `db:"path"`
	TrainingJobId sql.NullString `db:"training_job_id"`
	Config        string         `db:"config"`
	Metrics       string         `db:"metrics"`
	SizeBytes     int64          `db:"size_bytes"`
	Version       int            `db:"version"`
	CreatedAt     pq.NullTime    `db:"created_at"`
	ActivatedAt   pq.NullTime    `db:"activated_at"`
}

func (a *Adapter) IsActive() bool {
	return a.Status == AdapterStatusActive
}

var (
	getAdapterCmd    = fmt.Sprintf(`SELECT * FROM %s WHERE id = $1 LIMIT 1`, TAdapters)
	insertAdapterCmd = fmt.Sprintf(`INSERT INTO %s
		(id, name, base_model, adapter_type, status, path, training_job_id, config, metrics,
		 size_bytes, version, created_at, activated_at)
		VALUES (:id, :name, :base_model, :adapter_type, :status, :path, :training_job_id, :config, :metrics,
		 :size_bytes, :version, :created_at, :activated_at)`, TAdapters)
	updateAdapterCmd = fmt.Sprintf(`UPDATE %s
		SET name = :name,
		    base_model = :base_model,
		    adapter_type = :adapter_type,
		    status = :status,
		    path = :path,
		    config = :config,
		    metrics = :metrics,
		    size_bytes = :size_bytes,
		    version = :version,
		    activated_at = :activated_at
		WHERE id = :id`, TAdapters)
)

func (c *Client) UpsertAdapter(ctx context.Context, adapter *Adapter) error {
	if adapter == nil {
		return nil
	}
	db := c.db.Unsafe()
	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	var adapters []*Adapter
	if err := db.SelectContext(ctx, &adapters, getAdapterCmd, adapter.Id); err != nil {
		klog.ErrorS(err, "failed to select adapter", "id", adapter.Id)
		return err
	}
	var err error
	if len(adapters) > 0 && adapters[0] != nil {
		_, err = db.NamedExecContext(ctx, updateAdapterCmd, adapter)
	} else {
		_, err = db.NamedExecContext(ctx, insertAdapterCmd, adapter)
	}
	if err != nil {
		klog.ErrorS(err, "failed to upsert adapter", "id", adapter.Id)
	}
	return err
}

func (c *Client) GetAdapter(ctx context.Context, id string) (*Adapter, error) {
	var adapters []*Adapter
	if err := c.selectList(ctx, &adapters, TAdapters, sqrl.Eq{"id": id}, nil, 1, 0); err != nil {
		return nil, err
	}
	if len(adapters) == 0 {
		return nil, commonerrors.NewNotFoundWithCode(commonerrors.AdapterNotFound,
			fmt.Sprintf("adapter %s not found", id))
	}
	return adapters[0], nil
}

func (c *Client) SelectAdapters(ctx context.Context, query sqrl.Sqlizer, orderBy []string, limit, offset int) ([]*Adapter, error) {
	var adapters []*Adapter
	err := c.selectList(ctx, &adapters, TAdapters, query, orderBy, limit, offset)
	return adapters, err
}

func (c *Client) DeleteAdapter(ctx context.Context, id string) error {
	ctx, cancel := c.requestContext(ctx)
	defer cancel()
	_, err := c.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, TAdapters), id)
	return err
}
