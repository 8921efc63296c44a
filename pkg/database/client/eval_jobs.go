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
	TEvalJobs = "eval_jobs"

	DatasetTypeBuiltin = "builtin"
	DatasetTypeCustom  = "custom"
)

type EvalJob struct {
	Id                string         `db:"id"`
	Name              string         `db:"name"`
	Status            string         `db:"status"`
	Progress          float64        `db:"progress"`
	ModelId           string         `db:"model_id"`
	AdapterId         sql.NullString `db:"adapter_id"`
	DatasetId         string         `db:"dataset_id"`
	DatasetType       string         `db:"dataset_type"`
	Config            string         `db:"config"`
	Results           sql.NullString `db:"results"`
	TotalExamples     int            `db:"total_examples"`
	ExamplesCompleted int            `db:"examples_completed"`
	CreatedAt         pq.NullTime    `db:"created_at"`
	StartedAt         pq.NullTime    `db:"started_at"`
	CompletedAt       pq.NullTime    `db:"completed_at"`
}

func (j *EvalJob) IsTerminal() bool {
	return IsTerminalJobStatus(j.Status)
}

var (
	getEvalJobCmd    = fmt.Sprintf(`SELECT * FROM %s WHERE id = $1 LIMIT 1`, TEvalJobs)
	insertEvalJobCmd = fmt.Sprintf(`INSERT INTO %s
		(id, name, status, progress, model_id, adapter_id, dataset_id, dataset_type, config,
		 results, total_examples, examples_completed, created_at, started_at, completed_at)
		VALUES (:id, :name, :status, :progress, :model_id, :adapter_id, :dataset_id, :dataset_type, :config,
		 :results, :total_examples, :examples_completed, :created_at, :started_at, :completed_at)`, TEvalJobs)
	updateEvalJobCmd = fmt.Sprintf(`UPDATE %s
		SET name = :name,
		    status = :status,
		    progress = :progress,
		    config = :config,
		    results = :results,
		    total_examples = :total_examples,
		    examples_completed = :examples_completed,
		    started_at = :started_at,
		    completed_at = :completed_at
		WHERE id = :id`, TEvalJobs)
)

func (c *Client) UpsertEvalJob(ctx context.Context, job *EvalJob) error {
	if job == nil {
		return nil
	}
	db := c.db.Unsafe()
	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	var jobs []*EvalJob
	if err := db.SelectContext(ctx, &jobs, getEvalJobCmd, job.Id); err != nil {
		klog.ErrorS(err, "failed to select eval job", "id", job.Id)
		return err
	}
	var err error
	if len(jobs) > 0 && jobs[0] != nil {
		if jobs[0].IsTerminal() {
			return commonerrors.NewConflictWithCode(commonerrors.JobConflict,
				fmt.Sprintf("eval job %s is already %s", job.Id, jobs[0].Status))
		}
		_, err = db.NamedExecContext(ctx, updateEvalJobCmd, job)
	} else {
		_, err = db.NamedExecContext(ctx, insertEvalJobCmd, job)
	}
	if err != nil {
		klog.ErrorS(err, "failed to upsert eval job", "id", job.Id)
	}
	return err
}

func (c *Client) GetEvalJob(ctx context.Context, id string) (*EvalJob, error) {
	var jobs []*EvalJob
	if err := c.selectList(ctx, &jobs, TEvalJobs, sqrl.Eq{"id": id}, nil, 1, 0); err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, commonerrors.NewNotFoundWithCode(commonerrors.JobNotFound,
			fmt.Sprintf("eval job %s not found", id))
	}
	return jobs[0], nil
}

func (c *Client) SelectEvalJobs(ctx context.Context, query sqrl.Sqlizer, orderBy []string, limit, offset int) ([]*EvalJob, error) {
	var jobs []*EvalJob
	err := c.selectList(ctx, &jobs, TEvalJobs, query, orderBy, limit, offset)
	return jobs, err
}

func (c *Client) DeleteEvalJob(ctx context.Context, id string) error {
	ctx, cancel := c.requestContext(ctx)
	defer cancel()
	_, err := c.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, TEvalJobs), id)
	return err
}
