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
	TQuarantineJobs  = "quarantine_jobs"
	TQuarantineFiles = "quarantine_files"

	ScanStatusPending   = "pending"
	ScanStatusScanning  = "scanning"
	ScanStatusCompleted = "completed"

	FileStatusPending  = "pending"
	FileStatusScanning = "scanning"
	FileStatusClean    = "clean"
	FileStatusHeld     = "held"
	FileStatusApproved = "approved"
	FileStatusRejected = "rejected"

	SourceTypeUpload      = "upload"
	SourceTypeUsbPath     = "usb_path"
	SourceTypeModelImport = "model_import"

	SeverityNone     = "none"
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// SeverityRank orders severities for max tracking; unknown ranks as none.
func SeverityRank(severity string) int {
	switch severity {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

type QuarantineJob struct {
	Id             string         `db:"id"`
	Status         string         `db:"status"`
	TotalFiles     int            `db:"total_files"`
	FilesCompleted int            `db:"files_completed"`
	FilesFlagged   int            `db:"files_flagged"`
	FilesClean     int            `db:"files_clean"`
	SourceType     string         `db:"source_type"`
	SubmittedBy    sql.NullString `db:"submitted_by"`
	CreatedAt      pq.NullTime    `db:"created_at"`
	StartedAt      pq.NullTime    `db:"started_at"`
	CompletedAt    pq.NullTime    `db:"completed_at"`
}

type QuarantineFile struct {
	Id               string         `db:"id"`
	JobId            string         `db:"job_id"`
	OriginalFilename string         `db:"original_filename"`
	FileSize         int64          `db:"file_size"`
	MimeType         sql.NullString `db:"mime_type"`
	Sha256Hash       sql.NullString `db:"sha256_hash"`
	Status           string         `db:"status"`
	CurrentStage     sql.NullString `db:"current_stage"`
	RiskSeverity     string         `db:"risk_severity"`
	Findings         string         `db:"findings"`
	QuarantinePath   sql.NullString `db:"quarantine_path"`
	SanitizedPath    sql.NullString `db:"sanitized_path"`
	DestinationPath  sql.NullString `db:"destination_path"`
	ReviewReason     sql.NullString `db:"review_reason"`
	ReviewedBy       sql.NullString `db:"reviewed_by"`
	ReviewedAt       pq.NullTime    `db:"reviewed_at"`
	CreatedAt        pq.NullTime    `db:"created_at"`
	UpdatedAt        pq.NullTime    `db:"updated_at"`
}

var (
	getQuarantineJobCmd    = fmt.Sprintf(`SELECT * FROM %s WHERE id = $1 LIMIT 1`, TQuarantineJobs)
	insertQuarantineJobCmd = fmt.Sprintf(`INSERT INTO %s
		(id, status, total_files, files_completed, files_flagged, files_clean, source_type,
		 submitted_by, created_at, started_at, completed_at)
		VALUES (:id, :status, :total_files, :files_completed, :files_flagged, :files_clean, :source_type,
		 :submitted_by, :created_at, :started_at, :completed_at)`, TQuarantineJobs)
	updateQuarantineJobCmd = fmt.Sprintf(`UPDATE %s
		SET status = :status,
		    total_files = :total_files,
		    files_completed = :files_completed,
		    files_flagged = :files_flagged,
		    files_clean = :files_clean,
		    started_at = :started_at,
		    completed_at = :completed_at
		WHERE id = :id`, TQuarantineJobs)

	getQuarantineFileCmd    = fmt.Sprintf(`SELECT * FROM %s WHERE id = $1 LIMIT 1`, TQuarantineFiles)
	insertQuarantineFileCmd = fmt.Sprintf(`INSERT INTO %s
		(id, job_id, original_filename, file_size, mime_type, sha256_hash, status, current_stage,
		 risk_severity, findings, quarantine_path, sanitized_path, destination_path,
		 review_reason, reviewed_by, reviewed_at, created_at, updated_at)
		VALUES (:id, :job_id, :original_filename, :file_size, :mime_type, :sha256_hash, :status, :current_stage,
		 :risk_severity, :findings, :quarantine_path, :sanitized_path, :destination_path,
		 :review_reason, :reviewed_by, :reviewed_at, :created_at, :updated_at)`, TQuarantineFiles)
	updateQuarantineFileCmd = fmt.Sprintf(`UPDATE %s
		SET status = :status,
		    mime_type = :mime_type,
		    sha256_hash = :sha256_hash,
		    current_stage = :current_stage,
		    risk_severity = :risk_severity,
		    findings = :findings,
		    quarantine_path = :quarantine_path,
		    sanitized_path = :sanitized_path,
		    destination_path = :destination_path,
		    review_reason = :review_reason,
		    reviewed_by = :reviewed_by,
		    reviewed_at = :reviewed_at,
		    updated_at = :updated_at
		WHERE id = :id`, TQuarantineFiles)
)

func (c *Client) UpsertQuarantineJob(ctx context.Context, job *QuarantineJob) error {
	if job == nil {
		return nil
	}
	db := c.db.Unsafe()
	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	var jobs []*QuarantineJob
	if err := db.SelectContext(ctx, &jobs, getQuarantineJobCmd, job.Id); err != nil {
		klog.ErrorS(err, "failed to select quarantine job", "id", job.Id)
		return err
	}
	var err error
	if len(jobs) > 0 && jobs[0] != nil {
		_, err = db.NamedExecContext(ctx, updateQuarantineJobCmd, job)
	} else {
		_, err = db.NamedExecContext(ctx, insertQuarantineJobCmd, job)
	}
	if err != nil {
		klog.ErrorS(err, "failed to upsert quarantine job", "id", job.Id)
	}
	return err
}

func (c *Client) GetQuarantineJob(ctx context.Context, id string) (*QuarantineJob, error) {
	var jobs []*QuarantineJob
	if err := c.selectList(ctx, &jobs, TQuarantineJobs, sqrl.Eq{"id": id}, nil, 1, 0); err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, commonerrors.NewNotFound(fmt.Sprintf("quarantine job %s not found", id))
	}
	return jobs[0], nil
}

func (c *Client) SelectQuarantineJobs(ctx context.Context, query sqrl.Sqlizer, orderBy []string, limit, offset int) ([]*QuarantineJob, error) {
	var jobs []*QuarantineJob
	err := c.selectList(ctx, &jobs, TQuarantineJobs, query, orderBy, limit, offset)
	return jobs, err
}

func (c *Client) UpsertQuarantineFile(ctx context.Context, file *QuarantineFile) error {
	if file == nil {
		return nil
	}
	db := c.db.Unsafe()
	ctx, cancel := c.requestContext(ctx)
	defer cancel()

	var files []*QuarantineFile
	if err := db.SelectContext(ctx, &files, getQuarantineFileCmd, file.Id); err != nil {
		klog.ErrorS(err, "failed to select quarantine file", "id", file.Id)
		return err
	}
	var err error
	if len(files) > 0 && files[0] != nil {
		_, err = db.NamedExecContext(ctx, updateQuarantineFileCmd, file)
	} else {
		_, err = db.NamedExecContext(ctx, insertQuarantineFileCmd, file)
	}
	if err != nil {
		klog.ErrorS(err, "failed to upsert quarantine file", "id", file.Id)
	}
	return err
}

func (c *Client) GetQuarantineFile(ctx context.Context, id string) (*QuarantineFile, error) {
	var files []*QuarantineFile
	if err := c.selectList(ctx, &files, TQuarantineFiles, sqrl.Eq{"id": id}, nil, 1, 0); err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, commonerrors.NewNotFound(fmt.Sprintf("quarantine file %s not found", id))
	}
	return files[0], nil
}

func (c *Client) SelectQuarantineFiles(ctx context.Context, query sqrl.Sqlizer, orderBy []string, limit, offset int) ([]*QuarantineFile, error) {
	var files []*QuarantineFile
	err := c.selectList(ctx, &files, TQuarantineFiles, query, orderBy, limit, offset)
	return files, err
}

func (c *Client) CountQuarantineFiles(ctx context.Context, query sqrl.Sqlizer) (int, error) {
	return c.countRows(ctx, TQuarantineFiles, query)
}
