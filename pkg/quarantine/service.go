/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package quarantine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	sqrl "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"k8s.io/klog/v2"

	"github.com/vault-appliance/vault/pkg/config"
	"github.com/vault-appliance/vault/pkg/database/client"
	dbutils "github.com/vault-appliance/vault/pkg/database/utils"
	commonerrors "github.com/vault-appliance/vault/pkg/errors"
	"github.com/vault-appliance/vault/pkg/quarantine/clamav"
	"github.com/vault-appliance/vault/pkg/quarantine/rules"
	"github.com/vault-appliance/vault/pkg/utils/fileutil"
	"github.com/vault-appliance/vault/pkg/utils/json"
	"github.com/vault-appliance/vault/pkg/utils/timeutil"
)

// Submission is one incoming batch: an ordered set of uploads or a
// filesystem path from removable media.
type Submission struct {
	SourceType  string
	SubmittedBy string
	// Uploads is the ordered (filename, content) set for upload submissions.
	Uploads []Upload
	// SourcePath is a file or directory for usb_path and model_import
	// submissions.
	SourcePath string
	// Destination is where approved files land; defaults per source type.
	Destination string
}

type Upload struct {
	Filename string
	Content  io.Reader
}

// Store is the slice of the database client the pipeline needs.
type Store interface {
	UpsertQuarantineJob(ctx context.Context, job *client.QuarantineJob) error
	GetQuarantineJob(ctx context.Context, id string) (*client.QuarantineJob, error)
	SelectQuarantineJobs(ctx context.Context, query sqrl.Sqlizer, orderBy []string, limit, offset int) ([]*client.QuarantineJob, error)
	UpsertQuarantineFile(ctx context.Context, file *client.QuarantineFile) error
	GetQuarantineFile(ctx context.Context, id string) (*client.QuarantineFile, error)
	SelectQuarantineFiles(ctx context.Context, query sqrl.Sqlizer, orderBy []string, limit, offset int) ([]*client.QuarantineFile, error)
	CountQuarantineFiles(ctx context.Context, query sqrl.Sqlizer) (int, error)
	InsertAuditEntry(ctx context.Context, entry *client.AuditEntry) error
}

// Service owns the quarantine store layout and the pipeline driver.
type Service struct {
	store  Store
	sysCfg *config.System
	sigs   *SignatureStore
	root   string

	stages []Stage
}

func NewService(store Store, sysCfg *config.System, quarantineRoot, clamSocket string) *Service {
	sigs := NewSignatureStore(quarantineRoot)
	return &Service{
		store:  store,
		sysCfg: sysCfg,
		sigs:   sigs,
		root:   quarantineRoot,
		stages: []Stage{
			&intakeStage{},
			&avStage{scanner: clamav.NewScanner(clamSocket)},
			&rulesStage{engine: rules.NewEngine(sigs.RulesDir())},
			&contentStage{},
			&sanitizeStage{},
			&blacklistStage{blacklistPath: sigs.BlacklistPath()},
		},
	}
}

// newServiceWithStages is the test seam.
func newServiceWithStages(store Store, sysCfg *config.System, quarantineRoot string, stages []Stage) *Service {
	return &Service{
		store:  store,
		sysCfg: sysCfg,
		sigs:   NewSignatureStore(quarantineRoot),
		root:   quarantineRoot,
		stages: stages,
	}
}

func (s *Service) Signatures() *SignatureStore { return s.sigs }

func (s *Service) stagingDir(jobId, fileId string) string {
	return filepath.Join(s.root, "staging", jobId, fileId)
}

func (s *Service) heldDir(fileId string) string {
	return filepath.Join(s.root, "held", fileId)
}

func (s *Service) loadConfig(ctx context.Context) Config {
	return Config{
		AutoApproveClean: s.sysCfg.GetBool(ctx, config.QuarantineAutoApproveClean),
		MaxFileSizeMB:    s.sysCfg.GetInt(ctx, config.QuarantineMaxFileSizeMB),
		MaxBatchFiles:    s.sysCfg.GetInt(ctx, config.QuarantineMaxBatchFiles),
		StrictnessLevel:  s.sysCfg.Get(ctx, config.QuarantineStrictnessLevel),
		ContentGate:      s.sysCfg.GetBool(ctx, config.QuarantineContentGate),
	}
}

// Submit validates the batch, stages every file and kicks off the pipeline
// driver. Validation failures happen before any row or file is written.
func (s *Service) Submit(ctx context.Context, sub Submission) (*client.QuarantineJob, error) {
	cfg := s.loadConfig(ctx)

	// Path submissions copy from source; uploads read from content.
	type staged struct {
		filename string
		source   string
		content  io.Reader
	}
	var incoming []staged

	switch sub.SourceType {
	case client.SourceTypeUpload:
		if len(sub.Uploads) == 0 {
			return nil, commonerrors.NewBadRequest("no files in submission")
		}
		for _, u := range sub.Uploads {
			if u.Filename == "" {
				return nil, commonerrors.NewBadRequest("every uploaded file needs a filename")
			}
			incoming = append(incoming, staged{filename: u.Filename, content: u.Content})
		}
	case client.SourceTypeUsbPath, client.SourceTypeModelImport:
		paths, err := collectFiles(sub.SourcePath)
		if err != nil {
			return nil, commonerrors.NewBadRequest(fmt.Sprintf("cannot read source path: %v", err))
		}
		if len(paths) == 0 {
			return nil, commonerrors.NewBadRequest("source path contains no files")
		}
		for _, p := range paths {
			incoming = append(incoming, staged{filename: filepath.Base(p), source: p})
		}
	default:
		return nil, commonerrors.NewBadRequest(fmt.Sprintf("unknown source type %q", sub.SourceType))
	}

	if cfg.MaxBatchFiles > 0 && len(incoming) > cfg.MaxBatchFiles {
		return nil, commonerrors.New(commonerrors.ScanLimitExceeded, http.StatusBadRequest,
			fmt.Sprintf("batch has %d files, limit is %d", len(incoming), cfg.MaxBatchFiles))
	}

	now := timeutil.Now()
	job := &client.QuarantineJob{
		Id:          uuid.NewString(),
		Status:      client.ScanStatusPending,
		TotalFiles:  len(incoming),
		SourceType:  sub.SourceType,
		SubmittedBy: dbutils.NullString(sub.SubmittedBy),
		CreatedAt:   pq.NullTime{Time: now, Valid: true},
	}

	var files []*client.QuarantineFile
	for _, in := range incoming {
		fileId := uuid.NewString()
		dir := s.stagingDir(job.Id, fileId)
		target := filepath.Join(dir, in.filename)
		var err error
		if in.source != "" {
			err = fileutil.CopyFile(in.source, target)
		} else {
			err = writeStream(target, in.content)
		}
		if err != nil {
			s.cleanupStaging(job.Id)
			return nil, commonerrors.NewInternalError(fmt.Sprintf("failed to stage %s: %v", in.filename, err))
		}
		info, err := os.Stat(target)
		if err != nil {
			s.cleanupStaging(job.Id)
			return nil, commonerrors.NewInternalError(err.Error())
		}
		if cfg.MaxFileSizeMB > 0 && info.Size() > int64(cfg.MaxFileSizeMB)*1024*1024 {
			s.cleanupStaging(job.Id)
			return nil, commonerrors.New(commonerrors.ScanLimitExceeded, http.StatusBadRequest,
				fmt.Sprintf("%s is %d bytes, per-file limit is %d MB", in.filename, info.Size(), cfg.MaxFileSizeMB))
		}
		files = append(files, &client.QuarantineFile{
			Id:               fileId,
			JobId:            job.Id,
			OriginalFilename: in.filename,
			FileSize:         info.Size(),
			Status:           client.FileStatusPending,
			RiskSeverity:     client.SeverityNone,
			Findings:         "[]",
			QuarantinePath:   dbutils.NullString(target),
			DestinationPath:  dbutils.NullString(sub.Destination),
			CreatedAt:        pq.NullTime{Time: now, Valid: true},
			UpdatedAt:        pq.NullTime{Time: now, Valid: true},
		})
	}

	if err := s.store.UpsertQuarantineJob(ctx, job); err != nil {
		s.cleanupStaging(job.Id)
		return nil, err
	}
	for _, f := range files {
		if err := s.store.UpsertQuarantineFile(ctx, f); err != nil {
			s.cleanupStaging(job.Id)
			return nil, err
		}
	}

	go s.runJob(context.Background(), job.Id, cfg)
	return job, nil
}

// runJob is the pipeline driver: one background task per submitted job.
func (s *Service) runJob(ctx context.Context, jobId string, cfg Config) {
	job, err := s.store.GetQuarantineJob(ctx, jobId)
	if err != nil {
		klog.ErrorS(err, "pipeline driver cannot load job", "id", jobId)
		return
	}
	job.Status = client.ScanStatusScanning
	job.StartedAt = pq.NullTime{Time: timeutil.Now(), Valid: true}
	if err = s.store.UpsertQuarantineJob(ctx, job); err != nil {
		klog.ErrorS(err, "failed to mark job scanning", "id", jobId)
		return
	}

	files, err := s.store.SelectQuarantineFiles(ctx,
		sqrl.Eq{"job_id": jobId}, []string{"created_at " + client.ASC}, -1, 0)
	if err != nil {
		klog.ErrorS(err, "pipeline driver cannot list files", "id", jobId)
		return
	}

	completed, flagged, clean := 0, 0, 0
	for _, file := range files {
		s.scanFile(ctx, file, cfg)
		completed++
		switch file.Status {
		case client.FileStatusClean:
			clean++
		default:
			flagged++
		}
		job.FilesCompleted = completed
		job.FilesFlagged = flagged
		job.FilesClean = clean
		if err = s.store.UpsertQuarantineJob(ctx, job); err != nil {
			klog.ErrorS(err, "failed to update job counters", "id", jobId)
		}
	}

	job.Status = client.ScanStatusCompleted
	job.CompletedAt = pq.NullTime{Time: timeutil.Now(), Valid: true}
	if err = s.store.UpsertQuarantineJob(ctx, job); err != nil {
		klog.ErrorS(err, "failed to mark job completed", "id", jobId)
	}
	klog.Infof("quarantine job %s completed: %d clean, %d flagged", jobId, clean, flagged)
}

// scanFile runs the stage sequence for one file and persists its verdict.
// Stage panics and errors never escape; they hold the file at high severity.
func (s *Service) scanFile(ctx context.Context, file *client.QuarantineFile, cfg Config) {
	path := file.QuarantinePath.String
	var findings []Finding
	held := false
	sanitizedPath := ""

	if digest, err := fileutil.SHA256File(path); err == nil {
		file.Sha256Hash = dbutils.NullString(digest)
	}
	file.MimeType = dbutils.NullString(detectMime(path))
	file.Status = client.FileStatusScanning
	if err := s.store.UpsertQuarantineFile(ctx, file); err != nil {
		klog.ErrorS(err, "failed to mark file scanning", "id", file.Id)
	}

	for _, stage := range s.stages {
		file.CurrentStage = dbutils.NullString(stage.Name())
		if err := s.store.UpsertQuarantineFile(ctx, file); err != nil {
			klog.ErrorS(err, "failed to record current stage", "id", file.Id)
		}
		result, err := s.runStage(ctx, stage, path, file.OriginalFilename, cfg)
		if err != nil {
			klog.ErrorS(err, "stage failed", "stage", stage.Name(), "file", file.Id)
			findings = append(findings, Finding{
				Stage:    stage.Name(),
				Severity: client.SeverityHigh,
				Code:     "stage-error",
				Message:  fmt.Sprintf("%s stage failed, file held for review", stage.Name()),
				Details:  err.Error(),
			})
			held = true
			break
		}
		findings = append(findings, result.Findings...)
		if result.SanitizedPath != "" {
			sanitizedPath = result.SanitizedPath
		}
		if !result.Passed {
			held = true
			break
		}
	}

	now := timeutil.Now()
	file.RiskSeverity = findingsMax(findings)
	file.Findings = json.MarshalString(findings)
	file.SanitizedPath = dbutils.NullString(sanitizedPath)
	file.CurrentStage = dbutils.NullString("")
	file.UpdatedAt = pq.NullTime{Time: now, Valid: true}

	switch {
	case held:
		file.Status = client.FileStatusHeld
		if heldPath, err := s.moveToHeld(file); err == nil {
			file.QuarantinePath = dbutils.NullString(heldPath)
		} else {
			klog.ErrorS(err, "failed to move file to held directory", "id", file.Id)
		}
	case cfg.AutoApproveClean:
		file.Status = client.FileStatusClean
	default:
		file.Status = client.FileStatusHeld
		file.ReviewReason = dbutils.NullString("manual-review-required")
		if heldPath, err := s.moveToHeld(file); err == nil {
			file.QuarantinePath = dbutils.NullString(heldPath)
		} else {
			klog.ErrorS(err, "failed to move file to held directory", "id", file.Id)
		}
	}
	if err := s.store.UpsertQuarantineFile(ctx, file); err != nil {
		klog.ErrorS(err, "failed to persist file verdict", "id", file.Id)
	}
}

func (s *Service) runStage(ctx context.Context, stage Stage, path, name string, cfg Config) (result StageResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("stage panic: %v", rec)
		}
	}()
	return stage.Scan(ctx, path, name, cfg)
}

func (s *Service) moveToHeld(file *client.QuarantineFile) (string, error) {
	target := filepath.Join(s.heldDir(file.Id), file.OriginalFilename)
	if err := fileutil.CopyFile(file.QuarantinePath.String, target); err != nil {
		return "", err
	}
	return target, nil
}

func (s *Service) cleanupStaging(jobId string) {
	if err := os.RemoveAll(filepath.Join(s.root, "staging", jobId)); err != nil {
		klog.ErrorS(err, "failed to clean staging directory", "job", jobId)
	}
}

func collectFiles(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{root}, nil
	}
	var paths []string
	err = filepath.Walk(root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.Mode().IsRegular() {
			paths = append(paths, path)
		}
		return nil
	})
	return paths, err
}

func writeStream(target string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	f, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err = io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func detectMime(path string) string {
	data, err := readHead(path, sniffBytes)
	if err != nil {
		return ""
	}
	return http.DetectContentType(data)
}
