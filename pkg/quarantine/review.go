/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package quarantine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	sqrl "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"k8s.io/klog/v2"

	"github.com/vault-appliance/vault/pkg/database/client"
	dbutils "github.com/vault-appliance/vault/pkg/database/utils"
	commonerrors "github.com/vault-appliance/vault/pkg/errors"
	"github.com/vault-appliance/vault/pkg/utils/fileutil"
	"github.com/vault-appliance/vault/pkg/utils/timeutil"
)

// Approve releases a held file to its destination. Only held files can be
// approved; the second approve of the same file conflicts and writes nothing.
func (s *Service) Approve(ctx context.Context, fileId, reason, reviewedBy string) (*client.QuarantineFile, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, commonerrors.NewUnprocessable("a review reason is required")
	}
	file, err := s.store.GetQuarantineFile(ctx, fileId)
	if err != nil {
		return nil, err
	}
	if file.Status != client.FileStatusHeld {
		return nil, commonerrors.NewConflictWithCode(commonerrors.FileNotHeld,
			fmt.Sprintf("file %s is %s, only held files can be approved", fileId, file.Status))
	}

	source := file.QuarantinePath.String
	if file.SanitizedPath.Valid && file.SanitizedPath.String != "" {
		source = file.SanitizedPath.String
	}
	destination := file.DestinationPath.String
	if destination == "" {
		destination = filepath.Join(s.root, "approved", file.Id, file.OriginalFilename)
	} else if looksLikeDir(destination) {
		destination = filepath.Join(destination, file.OriginalFilename)
	}
	if err = fileutil.CopyFile(source, destination); err != nil {
		return nil, commonerrors.NewInternalError(fmt.Sprintf("failed to release file: %v", err))
	}

	now := timeutil.Now()
	file.Status = client.FileStatusApproved
	file.DestinationPath = dbutils.NullString(destination)
	file.ReviewReason = dbutils.NullString(reason)
	file.ReviewedBy = dbutils.NullString(reviewedBy)
	file.ReviewedAt = pq.NullTime{Time: now, Valid: true}
	file.UpdatedAt = pq.NullTime{Time: now, Valid: true}
	if err = s.store.UpsertQuarantineFile(ctx, file); err != nil {
		return nil, err
	}
	s.writeReviewAudit(ctx, "quarantine.approve", file, reviewedBy)
	return file, nil
}

// Reject deletes every on-disk copy of a held file.
func (s *Service) Reject(ctx context.Context, fileId, reason, reviewedBy string) (*client.QuarantineFile, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, commonerrors.NewUnprocessable("a review reason is required")
	}
	file, err := s.store.GetQuarantineFile(ctx, fileId)
	if err != nil {
		return nil, err
	}
	if file.Status != client.FileStatusHeld {
		return nil, commonerrors.NewConflictWithCode(commonerrors.FileNotHeld,
			fmt.Sprintf("file %s is %s, only held files can be rejected", fileId, file.Status))
	}

	for _, path := range []string{file.QuarantinePath.String, file.SanitizedPath.String} {
		if path == "" {
			continue
		}
		if err = os.Remove(path); err != nil && !os.IsNotExist(err) {
			klog.ErrorS(err, "failed to remove rejected file copy", "path", path)
		}
	}
	if err = os.RemoveAll(s.heldDir(file.Id)); err != nil {
		klog.ErrorS(err, "failed to remove held directory", "file", file.Id)
	}
	s.cleanupFileStaging(file)

	now := timeutil.Now()
	file.Status = client.FileStatusRejected
	file.QuarantinePath = dbutils.NullString("")
	file.SanitizedPath = dbutils.NullString("")
	file.ReviewReason = dbutils.NullString(reason)
	file.ReviewedBy = dbutils.NullString(reviewedBy)
	file.ReviewedAt = pq.NullTime{Time: now, Valid: true}
	file.UpdatedAt = pq.NullTime{Time: now, Valid: true}
	if err = s.store.UpsertQuarantineFile(ctx, file); err != nil {
		return nil, err
	}
	s.writeReviewAudit(ctx, "quarantine.reject", file, reviewedBy)
	return file, nil
}

func (s *Service) cleanupFileStaging(file *client.QuarantineFile) {
	dir := s.stagingDir(file.JobId, file.Id)
	if err := os.RemoveAll(dir); err != nil {
		klog.ErrorS(err, "failed to remove staging directory", "file", file.Id)
	}
}

func (s *Service) writeReviewAudit(ctx context.Context, action string, file *client.QuarantineFile, reviewedBy string) {
	entry := &client.AuditEntry{
		Timestamp:     timeutil.Now(),
		Action:        action,
		UserKeyPrefix: dbutils.NullString(reviewedBy),
		Details: dbutils.NullString(fmt.Sprintf("file=%s name=%s severity=%s",
			file.Id, file.OriginalFilename, file.RiskSeverity)),
	}
	if err := s.store.InsertAuditEntry(ctx, entry); err != nil {
		klog.ErrorS(err, "failed to write review audit entry", "file", file.Id)
	}
}

// GetJob returns the job row with its files.
func (s *Service) GetJob(ctx context.Context, jobId string) (*client.QuarantineJob, []*client.QuarantineFile, error) {
	job, err := s.store.GetQuarantineJob(ctx, jobId)
	if err != nil {
		return nil, nil, err
	}
	files, err := s.store.SelectQuarantineFiles(ctx,
		sqrl.Eq{"job_id": jobId}, []string{"created_at " + client.ASC}, -1, 0)
	if err != nil {
		return nil, nil, err
	}
	return job, files, nil
}

// HeldFiles lists files awaiting review, newest first.
func (s *Service) HeldFiles(ctx context.Context, limit, offset int) ([]*client.QuarantineFile, error) {
	return s.store.SelectQuarantineFiles(ctx,
		sqrl.Eq{"status": client.FileStatusHeld},
		[]string{"created_at " + client.DESC}, limit, offset)
}

// Stats summarizes file counts by status for the dashboard.
type Stats struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Clean    int `json:"clean"`
	Held     int `json:"held"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	counts := []struct {
		status string
		target *int
	}{
		{client.FileStatusPending, &stats.Pending},
		{client.FileStatusClean, &stats.Clean},
		{client.FileStatusHeld, &stats.Held},
		{client.FileStatusApproved, &stats.Approved},
		{client.FileStatusRejected, &stats.Rejected},
	}
	for _, c := range counts {
		n, err := s.store.CountQuarantineFiles(ctx, sqrl.Eq{"status": c.status})
		if err != nil {
			return nil, err
		}
		*c.target = n
		stats.Total += n
	}
	return stats, nil
}

func looksLikeDir(path string) bool {
	if strings.HasSuffix(path, string(os.PathSeparator)) {
		return true
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
