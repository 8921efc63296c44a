/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package update

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	sqrl "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"k8s.io/klog/v2"

	"github.com/vault-appliance/vault/pkg/database/client"
	dbutils "github.com/vault-appliance/vault/pkg/database/utils"
	commonerrors "github.com/vault-appliance/vault/pkg/errors"
	"github.com/vault-appliance/vault/pkg/utils/fileutil"
	jsonutils "github.com/vault-appliance/vault/pkg/utils/json"
	"github.com/vault-appliance/vault/pkg/utils/timeutil"
)

const (
	ConfirmApply    = "APPLY UPDATE"
	ConfirmRollback = "ROLLBACK UPDATE"
	ConfirmRestore  = "RESTORE BACKUP"

	StepStatusPending   = "pending"
	StepStatusRunning   = "running"
	StepStatusCompleted = "completed"
	StepStatusFailed    = "failed"
	StepStatusSkipped   = "skipped"
)

// stepOrder is the fixed apply sequence. Components absent from the manifest
// are recorded as skipped, never reordered.
var stepOrder = []string{"database", "code", "configuration", "containers", "signatures"}

// Step is one entry of the ordered progress list.
type Step struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Store is the slice of the database client the engine needs.
type Store interface {
	UpsertUpdateJob(ctx context.Context, job *client.UpdateJob) error
	GetUpdateJob(ctx context.Context, id string) (*client.UpdateJob, error)
	SelectUpdateJobs(ctx context.Context, query sqrl.Sqlizer, orderBy []string, limit, offset int) ([]*client.UpdateJob, error)
}

// Service runs bundle verification, apply and rollback. Apply and rollback
// are mutually exclusive with each other and with themselves.
type Service struct {
	store         Store
	root          string // updates root: {root}/{staging,backups,bundles}
	installRoot   string
	publicKeyPath string
	versionFile   string
	// restart is invoked after a successful apply; the server wires an
	// orderly restart in, tests a no-op.
	restart func()

	mu          sync.Mutex
	activeJobId string
}

func NewService(store Store, updateRoot, installRoot, publicKeyPath, versionFile string, restart func()) *Service {
	if restart == nil {
		restart = func() {}
	}
	return &Service{
		store:         store,
		root:          updateRoot,
		installRoot:   installRoot,
		publicKeyPath: publicKeyPath,
		versionFile:   versionFile,
		restart:       restart,
	}
}

func (s *Service) stagingDir(jobId string) string { return filepath.Join(s.root, "staging", jobId) }
func (s *Service) backupsDir() string             { return filepath.Join(s.root, "backups") }
func (s *Service) BundlesDir() string             { return filepath.Join(s.root, "bundles") }

// CurrentVersion reads the installed version marker, "unknown" when absent.
func (s *Service) CurrentVersion() string {
	data, err := os.ReadFile(s.versionFile)
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(data))
}

// PendingBundle describes a verified-parseable bundle found on media.
type PendingBundle struct {
	Path           string          `json:"path"`
	Version        string          `json:"version"`
	Changelog      string          `json:"changelog"`
	Components     map[string]bool `json:"components"`
	SignatureFound bool            `json:"signature_found"`
}

// Scan walks the bundles directory (or an explicit media path) for update
// archives and parses their manifests without touching the install tree.
func (s *Service) Scan(searchPath string) ([]PendingBundle, error) {
	if searchPath == "" {
		searchPath = s.BundlesDir()
	}
	entries, err := os.ReadDir(searchPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, commonerrors.NewBadRequest(fmt.Sprintf("cannot read bundle directory: %v", err))
	}
	var pending []PendingBundle
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".tar") {
			continue
		}
		path := filepath.Join(searchPath, e.Name())
		bundle, err := ParseBundle(path)
		if err != nil {
			klog.V(2).Infof("skipping unparseable bundle %s: %v", path, err)
			continue
		}
		pending = append(pending, PendingBundle{
			Path:           path,
			Version:        bundle.Manifest.Version,
			Changelog:      bundle.Manifest.Changelog,
			Components:     bundle.Manifest.Components,
			SignatureFound: fileutil.IsFileExist(bundle.SignaturePath),
		})
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].Version > pending[j].Version })
	return pending, nil
}

// Apply verifies the bundle end to end and launches the background apply.
func (s *Service) Apply(ctx context.Context, bundlePath, confirmation string, createBackup bool) (*client.UpdateJob, error) {
	if confirmation != ConfirmApply {
		return nil, commonerrors.New(commonerrors.ConfirmationNeeded, 400,
			fmt.Sprintf("confirmation must be exactly %q", ConfirmApply))
	}
	s.mu.Lock()
	if s.activeJobId != "" {
		active := s.activeJobId
		s.mu.Unlock()
		return nil, commonerrors.New(commonerrors.UpdateInProgress, 409,
			fmt.Sprintf("update job %s is already running", active))
	}
	jobId := uuid.NewString()
	s.activeJobId = jobId
	s.mu.Unlock()

	job, err := s.prepare(ctx, jobId, bundlePath)
	if err != nil {
		s.clearActive(jobId)
		return nil, err
	}
	go s.apply(context.Background(), job, createBackup)
	return job, nil
}

// prepare runs the synchronous verification pipeline and persists the
// pending job row.
func (s *Service) prepare(ctx context.Context, jobId, bundlePath string) (*client.UpdateJob, error) {
	bundle, err := ParseBundle(bundlePath)
	if err != nil {
		return nil, err
	}
	if err = bundle.VerifySignature(s.publicKeyPath); err != nil {
		return nil, err
	}
	staging := s.stagingDir(jobId)
	if err = bundle.Extract(staging); err != nil {
		return nil, err
	}
	if err = bundle.VerifyChecksums(staging); err != nil {
		return nil, err
	}

	steps := make([]Step, 0, len(stepOrder))
	for _, name := range stepOrder {
		steps = append(steps, Step{Name: name, Status: StepStatusPending})
	}
	now := timeutil.Now()
	job := &client.UpdateJob{
		Id:            jobId,
		Status:        client.UpdateStatusPending,
		BundleVersion: bundle.Manifest.Version,
		FromVersion:   s.CurrentVersion(),
		BundlePath:    dbutils.NullString(bundlePath),
		Steps:         jsonutils.MarshalString(steps),
		Log:           "[]",
		Changelog:     bundle.Manifest.Changelog,
		Components:    jsonutils.MarshalString(bundle.Manifest.Components),
		CreatedAt:     pq.NullTime{Time: now, Valid: true},
	}
	if err = s.store.UpsertUpdateJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

type jobProgress struct {
	job   *client.UpdateJob
	steps []Step
	log   []string
}

func (p *jobProgress) appendLog(line string) {
	p.log = append(p.log, fmt.Sprintf("%s %s", timeutil.Now().Format(timeutil.TimeRFC3339Short), line))
}

func (p *jobProgress) setStep(name, status string) {
	for i := range p.steps {
		if p.steps[i].Name == name {
			p.steps[i].Status = status
		}
	}
	if status == StepStatusRunning {
		p.job.CurrentStep = dbutils.NullString(name)
	}
	done := 0
	for _, st := range p.steps {
		if st.Status == StepStatusCompleted || st.Status == StepStatusSkipped {
			done++
		}
	}
	p.job.ProgressPct = float64(done) / float64(len(p.steps)) * 100
}

func (s *Service) flush(ctx context.Context, p *jobProgress) {
	p.job.Steps = jsonutils.MarshalString(p.steps)
	p.job.Log = jsonutils.MarshalString(p.log)
	if err := s.store.UpsertUpdateJob(ctx, p.job); err != nil {
		klog.ErrorS(err, "failed to persist update progress", "id", p.job.Id)
	}
}

// apply walks the fixed step order, replacing one component tree at a time.
func (s *Service) apply(ctx context.Context, job *client.UpdateJob, createBackup bool) {
	defer s.clearActive(job.Id)

	var steps []Step
	if err := json.Unmarshal([]byte(job.Steps), &steps); err != nil || len(steps) == 0 {
		steps = nil
		for _, name := range stepOrder {
			steps = append(steps, Step{Name: name, Status: StepStatusPending})
		}
	}
	p := &jobProgress{job: job, steps: steps}

	job.Status = client.UpdateStatusRunning
	job.StartedAt = pq.NullTime{Time: timeutil.Now(), Valid: true}
	p.appendLog(fmt.Sprintf("applying update %s over %s", job.BundleVersion, job.FromVersion))
	s.flush(ctx, p)

	var components map[string]bool
	if err := json.Unmarshal([]byte(job.Components), &components); err != nil {
		components = map[string]bool{}
	}

	backupPath := ""
	if createBackup {
		path, err := s.createBackup(components)
		if err != nil {
			s.fail(ctx, p, "", fmt.Sprintf("backup failed: %v", err), "")
			return
		}
		backupPath = path
		job.BackupPath = dbutils.NullString(backupPath)
		p.appendLog(fmt.Sprintf("backup written to %s", backupPath))
		s.flush(ctx, p)
	}

	stagedBase := filepath.Join(s.stagingDir(job.Id), "vault-update-"+job.BundleVersion)
	for _, name := range stepOrder {
		if !components[name] {
			p.setStep(name, StepStatusSkipped)
			p.appendLog(fmt.Sprintf("step %s skipped, not in bundle", name))
			s.flush(ctx, p)
			continue
		}
		p.setStep(name, StepStatusRunning)
		p.appendLog(fmt.Sprintf("step %s started", name))
		s.flush(ctx, p)

		if err := s.applyComponent(stagedBase, name); err != nil {
			p.setStep(name, StepStatusFailed)
			s.fail(ctx, p, name, err.Error(), backupPath)
			return
		}
		p.setStep(name, StepStatusCompleted)
		p.appendLog(fmt.Sprintf("step %s completed", name))
		s.flush(ctx, p)
	}

	if err := fileutil.WriteFileAtomic(s.versionFile, []byte(job.BundleVersion+"\n"), 0o644); err != nil {
		s.fail(ctx, p, "", fmt.Sprintf("failed to write version marker: %v", err), backupPath)
		return
	}
	job.Status = client.UpdateStatusCompleted
	job.CurrentStep = dbutils.NullString("")
	job.ProgressPct = 100
	job.CompletedAt = pq.NullTime{Time: timeutil.Now(), Valid: true}
	p.appendLog(fmt.Sprintf("update %s applied, restart scheduled", job.BundleVersion))
	s.flush(ctx, p)
	klog.Infof("update %s applied successfully", job.BundleVersion)
	s.restart()
}

// applyComponent replaces {installRoot}/{name} with the staged tree.
func (s *Service) applyComponent(stagedBase, name string) error {
	source := filepath.Join(stagedBase, name)
	if !fileutil.IsDirExist(source) {
		return fmt.Errorf("bundle declares component %s but ships no %s/ directory", name, name)
	}
	target := filepath.Join(s.installRoot, name)
	if err := os.RemoveAll(target); err != nil {
		return err
	}
	return fileutil.CopyDir(source, target)
}

func (s *Service) fail(ctx context.Context, p *jobProgress, step, message, backupPath string) {
	p.appendLog("error: " + message)
	if backupPath != "" {
		p.appendLog("restoring backup " + backupPath)
		if err := s.restoreBackup(backupPath); err != nil {
			p.appendLog(fmt.Sprintf("backup restore failed: %v", err))
			klog.ErrorS(err, "backup restore failed", "path", backupPath)
		} else {
			p.appendLog("backup restored")
		}
	}
	p.job.Status = client.UpdateStatusFailed
	p.job.Error = dbutils.NullString(message)
	p.job.CompletedAt = pq.NullTime{Time: timeutil.Now(), Valid: true}
	s.flush(ctx, p)
	klog.Errorf("update %s failed at step %s: %s", p.job.Id, step, message)
}

// createBackup snapshots every component tree the bundle is about to touch,
// plus the version marker.
func (s *Service) createBackup(components map[string]bool) (string, error) {
	backupPath := filepath.Join(s.backupsDir(), timeutil.Now().Format("20060102-150405"))
	for name := range components {
		if !components[name] {
			continue
		}
		source := filepath.Join(s.installRoot, name)
		if !fileutil.IsDirExist(source) {
			continue
		}
		if err := fileutil.CopyDir(source, filepath.Join(backupPath, name)); err != nil {
			return "", err
		}
	}
	version := s.CurrentVersion()
	if err := fileutil.WriteFileAtomic(filepath.Join(backupPath, "VERSION"), []byte(version+"\n"), 0o644); err != nil {
		return "", err
	}
	return backupPath, nil
}

func (s *Service) restoreBackup(backupPath string) error {
	entries, err := os.ReadDir(backupPath)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		target := filepath.Join(s.installRoot, e.Name())
		if err = os.RemoveAll(target); err != nil {
			return err
		}
		if err = fileutil.CopyDir(filepath.Join(backupPath, e.Name()), target); err != nil {
			return err
		}
	}
	if data, err := os.ReadFile(filepath.Join(backupPath, "VERSION")); err == nil {
		if err = fileutil.WriteFileAtomic(s.versionFile, data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// Backup snapshots every component tree currently under the install root,
// independent of any update. The admin surface exposes it for manual
// pre-maintenance snapshots.
func (s *Service) Backup() (string, error) {
	entries, err := os.ReadDir(s.installRoot)
	if err != nil {
		return "", commonerrors.NewInternalError(fmt.Sprintf("read install root: %v", err))
	}
	components := map[string]bool{}
	for _, e := range entries {
		if e.IsDir() {
			components[e.Name()] = true
		}
	}
	if len(components) == 0 {
		return "", commonerrors.NewInternalError("install root has no component directories")
	}
	path, err := s.createBackup(components)
	if err != nil {
		return "", commonerrors.NewInternalError(fmt.Sprintf("backup failed: %v", err))
	}
	klog.Infof("created backup %s", path)
	return path, nil
}

// Restore puts the install tree back on a named backup, or the most recent
// one when path is empty. Unlike Rollback it records no update job; it is the
// manual recovery path.
func (s *Service) Restore(backupPath, confirmation string) (string, error) {
	if confirmation != ConfirmRestore {
		return "", commonerrors.New(commonerrors.ConfirmationNeeded, 400,
			fmt.Sprintf("confirmation must be exactly %q", ConfirmRestore))
	}
	s.mu.Lock()
	if s.activeJobId != "" {
		active := s.activeJobId
		s.mu.Unlock()
		return "", commonerrors.New(commonerrors.UpdateInProgress, 409,
			fmt.Sprintf("update job %s is still running", active))
	}
	s.mu.Unlock()

	if backupPath == "" {
		var err error
		if backupPath, err = s.latestBackup(); err != nil {
			return "", err
		}
	} else if !fileutil.IsDirExist(backupPath) {
		return "", commonerrors.New(commonerrors.NoBackupAvailable, 404,
			fmt.Sprintf("backup %s does not exist", backupPath))
	}
	if err := s.restoreBackup(backupPath); err != nil {
		return "", commonerrors.NewInternalError(fmt.Sprintf("restore failed: %v", err))
	}
	klog.Infof("restored backup %s", backupPath)
	return backupPath, nil
}

// Rollback restores the most recent backup as a new job in rolled_back state.
func (s *Service) Rollback(ctx context.Context, confirmation string) (*client.UpdateJob, error) {
	if confirmation != ConfirmRollback {
		return nil, commonerrors.New(commonerrors.ConfirmationNeeded, 400,
			fmt.Sprintf("confirmation must be exactly %q", ConfirmRollback))
	}
	s.mu.Lock()
	if s.activeJobId != "" {
		active := s.activeJobId
		s.mu.Unlock()
		return nil, commonerrors.New(commonerrors.UpdateInProgress, 409,
			fmt.Sprintf("update job %s is still running", active))
	}
	jobId := uuid.NewString()
	s.activeJobId = jobId
	s.mu.Unlock()
	defer s.clearActive(jobId)

	backupPath, err := s.latestBackup()
	if err != nil {
		return nil, err
	}
	fromVersion := s.CurrentVersion()
	if err = s.restoreBackup(backupPath); err != nil {
		return nil, commonerrors.NewInternalError(fmt.Sprintf("rollback failed: %v", err))
	}

	now := timeutil.Now()
	job := &client.UpdateJob{
		Id:            jobId,
		Status:        client.UpdateStatusRolledBack,
		BundleVersion: s.CurrentVersion(),
		FromVersion:   fromVersion,
		BackupPath:    dbutils.NullString(backupPath),
		Steps:         "[]",
		Log:           jsonutils.MarshalString([]string{"restored backup " + backupPath}),
		ProgressPct:   100,
		CreatedAt:     pq.NullTime{Time: now, Valid: true},
		StartedAt:     pq.NullTime{Time: now, Valid: true},
		CompletedAt:   pq.NullTime{Time: now, Valid: true},
	}
	if err = s.store.UpsertUpdateJob(ctx, job); err != nil {
		return nil, err
	}
	klog.Infof("rolled back to backup %s", backupPath)
	return job, nil
}

func (s *Service) latestBackup() (string, error) {
	entries, err := os.ReadDir(s.backupsDir())
	if err != nil || len(entries) == 0 {
		return "", commonerrors.New(commonerrors.NoBackupAvailable, 404, "no backup is available")
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", commonerrors.New(commonerrors.NoBackupAvailable, 404, "no backup is available")
	}
	sort.Strings(names)
	return filepath.Join(s.backupsDir(), names[len(names)-1]), nil
}

// Progress is the live view of one update job.
type Progress struct {
	Status      string   `json:"status"`
	ProgressPct float64  `json:"progress_pct"`
	CurrentStep string   `json:"current_step,omitempty"`
	Steps       []Step   `json:"steps"`
	LogEntries  []string `json:"log_entries"`
	Error       string   `json:"error,omitempty"`
}

func (s *Service) Progress(ctx context.Context, jobId string) (*Progress, error) {
	job, err := s.store.GetUpdateJob(ctx, jobId)
	if err != nil {
		return nil, err
	}
	var steps []Step
	_ = json.Unmarshal([]byte(job.Steps), &steps)
	var logEntries []string
	_ = json.Unmarshal([]byte(job.Log), &logEntries)
	return &Progress{
		Status:      job.Status,
		ProgressPct: job.ProgressPct,
		CurrentStep: job.CurrentStep.String,
		Steps:       steps,
		LogEntries:  logEntries,
		Error:       job.Error.String,
	}, nil
}

// History lists past update jobs, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]*client.UpdateJob, error) {
	return s.store.SelectUpdateJobs(ctx, nil, []string{"created_at " + client.DESC}, limit, 0)
}

// Active reports the running job id, empty when idle.
func (s *Service) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeJobId
}

func (s *Service) clearActive(jobId string) {
	s.mu.Lock()
	if s.activeJobId == jobId {
		s.activeJobId = ""
	}
	s.mu.Unlock()
}
