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
	TTrainingJobs = "training_jobs"

	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusPaused    = "paused"
	JobStatusCompleted = "completed"
	JobStatusCancelled = "cancelled"
	JobStatusFailed    = "failed"

	AdapterTypeFull  = "full"
	AdapterTypeLora  = "lora"
	AdapterTypeQlora = "qlora"
)

// IsTerminalJobStatus reports whether a status is absorbing. Terminal rows
// never transition again.
func IsTerminalJobStatus(status string) bool {
	switch status {
	case JobStatusCompleted, JobStatusCancelled, JobStatusFailed:
		return true
	}
	return false
}

type TrainingJob struct {
	Id            string         `db:"id"`
	Name          string         `db:"name"`
	Status        string         `db:"status"`
	Progress      float64        `db:"progress"`
	Model         string         `db:"model"`
	Dataset       string         `db:"dataset"`
	Config        string         `db:"config"`
	Metrics       string         `db:"metrics"`
	Resource      string         `db:"resource"`
	Error         sql.NullString `db:"error"`
	AdapterType   string         `db:"adapter_type"`
	AdapterConfig sql.NullString `db:"adapter_config"`
	AdapterId     sql.NullString `db:"adapter_id"`
	CreatedAt     pq.NullTime    `db:"created_at"`
	StartedAt     pq.NullTime    `db:"started_at"`
	CompletedAt   pq.NullTime    `db:"completed_at"`
}

func (j *TrainingJob) IsTerminal() bool {
	return IsTerminalJobStatus(j.Status)
}

var (
	getTrainingJobCmd    = fmt.Sprintf(`SELECT * FROM %s WHERE id = $1 LIMIT 1`, TTrainingJobs)
	insertTrainingJobCmd = fmt.Sprintf(`INSERT INTO %s
		(id, name, status, progress, model, dataset, config, metrics, resource, error,
		 adapter_type, adapter_config, adapter_id, created_at, started_at, completed_at)
		VALUES (:id, :name, :status, :progress, :model, :dataset, :config, :metrics, :resource, :error,
		 :adapter_type, :adapter_config, :adapter_id, :created_at, :started_at, :completed_at)`, TTrainingJobs)
	updateTrainingJobCmd = fmt.Sprintf(`UPDATE %s
		SET name = :name,
		    status = :status,
		    progress = :progress,
		    config = :config,
		    metrics = :metrics,
		    resource = :resource,
		    error = :error,
		    adapter_type = :adapter_type,
		    adapter_config = :adapter_config,
		    adapter_id = :adapter_id,
		    started_at = :started_at,
		    completed_at = :completed_at
		WHERE id = :id`, TTrainingJobs)
)

func (c *Client) UpsertTrainingJob(ctx context.Context, job *TrainingJob) error {
	if job == nil {
		return nil
	}
	db := c.db.Unsafe()
	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	var jobs []*TrainingJob
	if err := db.SelectContext(ctx, &jobs, getTrainingJobCmd, job.Id); err != nil {
		klog.ErrorS(err, "failed to select training job", "id", job.Id)
		return err
	}
	var err error
	if len(jobs) > 0 && jobs[0] != nil {
		// Terminal states are absorbing; never rewrite them.
		if jobs[0].IsTerminal() {
			return commonerrors.NewConflictWithCode(commonerrors.JobConflict,
				fmt.Sprintf("training job %s is already %s", job.Id, jobs[0].Status))
		}
		_, err = db.NamedExecContext(ctx, updateTrainingJobCmd, job)
	} else {
		_, err = db.NamedExecContext(ctx, insertTrainingJobCmd, job)
	}
	if err != nil {
		klog.ErrorS(err, "failed to upsert training job", "id", job.Id)
	}
	return err
}

func (c *Client) GetTrainingJob(ctx context.Context, id string) (*TrainingJob, error) {
	var jobs []*TrainingJob
	if err := c.selectList(ctx, &jobs, TTrainingJobs, sqrl.Eq{"id": id}, nil, 1, 0); err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, commonerrors.NewNotFoundWithCode(commonerrors.JobNotFound,
			fmt.Sprintf("training job %s not found", id))
	}
	return jobs[0], nil
}

func (c *Client) SelectTrainingJobs(ctx context.Context, query sqrl.Sqlizer, orderBy []string, limit, offset int) ([]*TrainingJob, error) {
	var jobs []*TrainingJob
	err := c.selectList(ctx, &jobs, TTrainingJobs, query, orderBy, limit, offset)
	return jobs, err
}

func (c *Client) CountTrainingJobs(ctx context.Context, query sqrl.Sqlizer) (int, error) {
	return c.countRows(ctx, TTrainingJobs, query)
}

func (c *Client) DeleteTrainingJob(ctx context.Context, id string) error {
	ctx, cancel := c.requestContext(ctx)
	defer cancel()
	_, err := c.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, TTrainingJobs), id)
	return err
}
