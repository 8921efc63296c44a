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
	TUpdateJobs = "update_jobs"

	UpdateStatusPending    = "pending"
	UpdateStatusRunning    = "running"
	UpdateStatusCompleted  = "completed"
	UpdateStatusFailed     = "failed"
	UpdateStatusRolledBack = "rolled_back"
)

type UpdateJob struct {
	Id            string         `db:"id"`
	Status        string         `db:"status"`
	BundleVersion string         `db:"bundle_version"`
	FromVersion   string         `db:"from_version"`
	BundlePath    sql.NullString `db:"bundle_path"`
	ProgressPct   float64        `db:"progress_pct"`
	CurrentStep   sql.NullString `db:"current_step"`
	Steps         string         `db:"steps"`
	Log           string         `db:"log"`
	Changelog     string         `db:"changelog"`
	Components    string         `db:"components"`
	BackupPath    sql.NullString `db:"backup_path"`
	Error         sql.NullString `db:"error"`
	CreatedAt     pq.NullTime    `db:"created_at"`
	StartedAt     pq.NullTime    `db:"started_at"`
	CompletedAt   pq.NullTime    `db:"completed_at"`
}

var (
	getUpdateJobCmd    = fmt.Sprintf(`SELECT * FROM %s WHERE id = $1 LIMIT 1`, TUpdateJobs)
	insertUpdateJobCmd = fmt.Sprintf(`INSERT INTO %s
		(id, status, bundle_version, from_version, bundle_path, progress_pct, current_step,
		 steps, log, changelog, components, backup_path, error, created_at, started_at, completed_at)
		VALUES (:id, :status, :bundle_version, :from_version, :bundle_path, :progress_pct, :current_step,
		 :steps, :log, :changelog, :components, :backup_path, :error, :created_at, :started_at, :completed_at)`, TUpdateJobs)
	updateUpdateJobCmd = fmt.Sprintf(`UPDATE %s
		SET status = :status,
		    progress_pct = :progress_pct,
		    current_step = :current_step,
		    steps = :steps,
		    log = :log,
		    backup_path = :backup_path,
		    error = :error,
		    started_at = :started_at,
		    completed_at = :completed_at
		WHERE id = :id`, TUpdateJobs)
)

func (c *Client) UpsertUpdateJob(ctx context.Context, job *UpdateJob) error {
	if job == nil {
		return nil
	}
	db := c.db.Unsafe()
	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	var jobs []*UpdateJob
	if err := db.SelectContext(ctx, &jobs, getUpdateJobCmd, job.Id); err != nil {
		klog.ErrorS(err, "failed to select update job", "id", job.Id)
		return err
	}
	var err error
	if len(jobs) > 0 && jobs[0] != nil {
		_, err = db.NamedExecContext(ctx, updateUpdateJobCmd, job)
	} else {
		_, err = db.NamedExecContext(ctx, insertUpdateJobCmd, job)
	}
	if err != nil {
		klog.ErrorS(err, "failed to upsert update job", "id", job.Id)
	}
	return err
}

func (c *Client) GetUpdateJob(ctx context.Context, id string) (*UpdateJob, error) {
	var jobs []*UpdateJob
	if err := c.selectList(ctx, &jobs, TUpdateJobs, sqrl.Eq{"id": id}, nil, 1, 0); err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, commonerrors.NewNotFound(fmt.Sprintf("update job %s not found", id))
	}
	return jobs[0], nil
}

func (c *Client) SelectUpdateJobs(ctx context.Context, query sqrl.Sqlizer, orderBy []string, limit, offset int) ([]*UpdateJob, error) {
	var jobs []*UpdateJob
	err := c.selectList(ctx, &jobs, TUpdateJobs, query, orderBy, limit, offset)
	return jobs, err
}
