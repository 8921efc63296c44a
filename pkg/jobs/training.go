/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package jobs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqrl "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"k8s.io/klog/v2"

	"github.com/vault-appliance/vault/pkg/config"
	"github.com/vault-appliance/vault/pkg/database/client"
	dbutils "github.com/vault-appliance/vault/pkg/database/utils"
	commonerrors "github.com/vault-appliance/vault/pkg/errors"
	"github.com/vault-appliance/vault/pkg/progress"
	"github.com/vault-appliance/vault/pkg/runner"
	"github.com/vault-appliance/vault/pkg/scheduler"
	"github.com/vault-appliance/vault/pkg/utils/fileutil"
	jsonutils "github.com/vault-appliance/vault/pkg/utils/json"
	"github.com/vault-appliance/vault/pkg/utils/timeutil"
)

// TrainingStore is the slice of the database client the service needs.
type TrainingStore interface {
	UpsertTrainingJob(ctx context.Context, job *client.TrainingJob) error
	GetTrainingJob(ctx context.Context, id string) (*client.TrainingJob, error)
	SelectTrainingJobs(ctx context.Context, query sqrl.Sqlizer, orderBy []string, limit, offset int) ([]*client.TrainingJob, error)
	CountTrainingJobs(ctx context.Context, query sqrl.Sqlizer) (int, error)
	DeleteTrainingJob(ctx context.Context, id string) error
}

// AdapterRegistry receives the adapter a completed training run produced.
type AdapterRegistry interface {
	RegisterFromTraining(ctx context.Context, adapter *client.Adapter) error
}

// workerRunner is the supervisor surface the service drives; *runner.Runner
// in production.
type workerRunner interface {
	StartJob(ctx context.Context, cfg runner.RunConfig) error
	CancelJob(jobId string) error
	PauseJob(jobId string) error
	ActiveJobId() string
	StatusDir(jobId string) string
}

type admission interface {
	CanStart(ctx context.Context) (bool, string)
}

// TrainingService owns training job rows end to end: creation, the worker
// lifecycle through the runner, and the projection of worker status back
// into rows. It is the runner's StatusSink, and the sole writer of training
// job rows.
type TrainingService struct {
	store    TrainingStore
	runner   workerRunner
	sched    admission
	registry AdapterRegistry

	modelDir   string
	datasetDir string
	outputDir  string
	now        func() time.Time
}

func NewTrainingService(store TrainingStore, sched *scheduler.Scheduler, registry AdapterRegistry) *TrainingService {
	s := &TrainingService{
		store:      store,
		sched:      sched,
		registry:   registry,
		modelDir:   config.GetModelDir(),
		datasetDir: config.GetDatasetDir(),
		outputDir:  config.GetAdapterOutputDir(),
		now:        timeutil.Now,
	}
	s.runner = runner.NewRunner(runner.KindTraining, sched, s,
		filepath.Join(config.GetStatusDir(), "training"), config.GetTerminateGrace())
	return s
}

// CreateTrainingRequest is the POST body for a new fine-tuning job.
type CreateTrainingRequest struct {
	Name          string                 `json:"name"`
	Model         string                 `json:"model"`
	Dataset       string                 `json:"dataset"`
	AdapterType   string                 `json:"adapter_type"`
	AdapterConfig map[string]interface{} `json:"adapter_config"`
	Config        map[string]interface{} `json:"config"`
}

// ValidationResult is the dry-run answer: what would block the job, and what
// might degrade it.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Validate performs every pre-flight check of Create without side effects.
func (s *TrainingService) Validate(ctx context.Context, req *CreateTrainingRequest) *ValidationResult {
	res := &ValidationResult{Errors: []string{}, Warnings: []string{}}
	if strings.TrimSpace(req.Name) == "" {
		res.Errors = append(res.Errors, "name is required")
	}
	if req.Model == "" {
		res.Errors = append(res.Errors, "model is required")
	} else if !fileutil.IsDirExist(filepath.Join(s.modelDir, req.Model)) {
		res.Errors = append(res.Errors, fmt.Sprintf("model %s is not installed", req.Model))
	}
	if req.Dataset == "" {
		res.Errors = append(res.Errors, "dataset is required")
	} else if !fileutil.IsFileExist(filepath.Join(s.datasetDir, req.Dataset)) {
		res.Errors = append(res.Errors, fmt.Sprintf("dataset %s is not registered", req.Dataset))
	}
	switch req.AdapterType {
	case "", client.AdapterTypeFull, client.AdapterTypeLora, client.AdapterTypeQlora:
	default:
		res.Errors = append(res.Errors, fmt.Sprintf("unknown adapter type %q", req.AdapterType))
	}
	if ok, reason := s.sched.CanStart(ctx); !ok {
		res.Warnings = append(res.Warnings, reason)
	}
	res.Valid = len(res.Errors) == 0
	return res
}

// Create validates, persists and launches a training job. Admission failures
// surface before any row is written.
func (s *TrainingService) Create(ctx context.Context, req *CreateTrainingRequest) (*client.TrainingJob, error) {
	if res := s.Validate(ctx, req); !res.Valid {
		return nil, commonerrors.NewBadRequest(strings.Join(res.Errors, "; "))
	}
	if ok, reason := s.sched.CanStart(ctx); !ok {
		return nil, commonerrors.NewConflictWithCode(commonerrors.GpuUnavailable, reason)
	}
	adapterType := req.AdapterType
	if adapterType == "" {
		adapterType = client.AdapterTypeLora
	}

	job := &client.TrainingJob{
		Id:          uuid.NewString(),
		Name:        req.Name,
		Status:      client.JobStatusQueued,
		Model:       req.Model,
		Dataset:     req.Dataset,
		Config:      jsonutils.MarshalString(req.Config),
		Metrics:     "{}",
		Resource:    "{}",
		AdapterType: adapterType,
		CreatedAt:   pq.NullTime{Time: s.now(), Valid: true},
	}
	if len(req.AdapterConfig) > 0 {
		job.AdapterConfig = dbutils.NullString(jsonutils.MarshalString(req.AdapterConfig))
	}
	if err := s.store.UpsertTrainingJob(ctx, job); err != nil {
		return nil, err
	}

	if err := s.start(ctx, job, false); err != nil {
		// Leave an explanation on the row instead of a stuck queued job.
		if err2 := s.MarkFailed(ctx, job.Id, err.Error()); err2 != nil {
			klog.ErrorS(err2, "failed to record launch failure", "job", job.Id)
		}
		return nil, err
	}
	return s.store.GetTrainingJob(ctx, job.Id)
}

func (s *TrainingService) start(ctx context.Context, job *client.TrainingJob, resume bool) error {
	workerCfg := map[string]interface{}{}
	if job.Config != "" {
		var saved map[string]interface{}
		if err := jsonutils.UnmarshalWithCheck([]byte(job.Config), &saved); err == nil {
			workerCfg = saved
		}
	}
	workerCfg["job_id"] = job.Id
	workerCfg["model_path"] = filepath.Join(s.modelDir, job.Model)
	workerCfg["dataset_path"] = filepath.Join(s.datasetDir, job.Dataset)
	workerCfg["adapter_type"] = job.AdapterType
	workerCfg["output_dir"] = filepath.Join(s.outputDir, job.Id)
	workerCfg["resume"] = resume
	if job.AdapterConfig.Valid {
		var adapterCfg map[string]interface{}
		if err := jsonutils.UnmarshalWithCheck([]byte(job.AdapterConfig.String), &adapterCfg); err == nil {
			workerCfg["adapter_config"] = adapterCfg
		}
	}
	return s.runner.StartJob(ctx, runner.RunConfig{
		JobId:  job.Id,
		Python: config.GetTrainingPython(),
		Script: config.GetTrainingScript(),
		Config: workerCfg,
	})
}

func (s *TrainingService) List(ctx context.Context, status string, limit, offset int) ([]*client.TrainingJob, error) {
	var query sqrl.Sqlizer
	if status != "" {
		query = sqrl.Eq{"status": status}
	}
	if limit <= 0 {
		limit = 100
	}
	return s.store.SelectTrainingJobs(ctx, query, []string{"created_at " + client.DESC}, limit, offset)
}

func (s *TrainingService) Get(ctx context.Context, id string) (*client.TrainingJob, error) {
	return s.store.GetTrainingJob(ctx, id)
}

// Delete removes a job row and its status directory. Jobs with a live worker
// must be cancelled first.
func (s *TrainingService) Delete(ctx context.Context, id string) error {
	job, err := s.store.GetTrainingJob(ctx, id)
	if err != nil {
		return err
	}
	if s.runner.ActiveJobId() == id {
		return commonerrors.NewConflictWithCode(commonerrors.JobConflict,
			fmt.Sprintf("training job %s is still running, cancel it first", id))
	}
	if err = s.store.DeleteTrainingJob(ctx, job.Id); err != nil {
		return err
	}
	if err = os.RemoveAll(s.runner.StatusDir(id)); err != nil {
		klog.ErrorS(err, "failed to remove status directory", "job", id)
	}
	return nil
}

// Pause asks the running worker to checkpoint and exit. Only a running job
// can be paused.
func (s *TrainingService) Pause(ctx context.Context, id string) error {
	job, err := s.store.GetTrainingJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Status != client.JobStatusRunning {
		return commonerrors.NewConflictWithCode(commonerrors.JobConflict,
			fmt.Sprintf("training job %s is %s, not running", id, job.Status))
	}
	return s.runner.PauseJob(id)
}

// Resume relaunches a paused job against its checkpoint.
func (s *TrainingService) Resume(ctx context.Context, id string) (*client.TrainingJob, error) {
	job, err := s.store.GetTrainingJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != client.JobStatusPaused {
		return nil, commonerrors.NewConflictWithCode(commonerrors.JobConflict,
			fmt.Sprintf("training job %s is %s, not paused", id, job.Status))
	}
	if err = s.start(ctx, job, true); err != nil {
		return nil, err
	}
	return s.store.GetTrainingJob(ctx, id)
}

// Cancel terminates a job. Running jobs are signalled through the runner and
// reach the cancelled state via the supervisor; queued and paused jobs are
// cancelled directly. Terminal jobs yield a conflict.
func (s *TrainingService) Cancel(ctx context.Context, id string) error {
	job, err := s.store.GetTrainingJob(ctx, id)
	if err != nil {
		return err
	}
	if job.IsTerminal() {
		return commonerrors.NewConflictWithCode(commonerrors.JobConflict,
			fmt.Sprintf("training job %s is already %s", id, job.Status))
	}
	if s.runner.ActiveJobId() == id {
		return s.runner.CancelJob(id)
	}
	return s.MarkCancelled(ctx, id)
}

// ActiveJobId exposes the runner's current job for the allocation view.
func (s *TrainingService) ActiveJobId() string {
	return s.runner.ActiveJobId()
}

// --- runner.StatusSink ---

func (s *TrainingService) MarkRunning(ctx context.Context, jobId string, gpuIndex int) error {
	job, err := s.store.GetTrainingJob(ctx, jobId)
	if err != nil {
		return err
	}
	job.Status = client.JobStatusRunning
	job.Resource = jsonutils.MarshalString(map[string]interface{}{"gpu_index": gpuIndex})
	job.Error = dbutils.NullString("")
	if !job.StartedAt.Valid {
		job.StartedAt = pq.NullTime{Time: s.now(), Valid: true}
	}
	return s.store.UpsertTrainingJob(ctx, job)
}

func (s *TrainingService) RecordProgress(ctx context.Context, jobId string, status *progress.Status) error {
	job, err := s.store.GetTrainingJob(ctx, jobId)
	if err != nil {
		return err
	}
	job.Progress = status.Progress()
	job.Metrics = jsonutils.MarshalString(trainingMetrics(status))
	return s.store.UpsertTrainingJob(ctx, job)
}

func (s *TrainingService) MarkCompleted(ctx context.Context, jobId string, final *progress.Status) error {
	job, err := s.store.GetTrainingJob(ctx, jobId)
	if err != nil {
		return err
	}
	job.Status = client.JobStatusCompleted
	job.Progress = 100
	job.CompletedAt = pq.NullTime{Time: s.now(), Valid: true}
	if final != nil {
		job.Metrics = jsonutils.MarshalString(trainingMetrics(final))
		if final.AdapterId != "" {
			job.AdapterId = dbutils.NullString(final.AdapterId)
			if err = s.registerAdapter(ctx, job, final); err != nil {
				klog.ErrorS(err, "failed to register adapter", "job", jobId, "adapter", final.AdapterId)
			}
		}
	}
	return s.store.UpsertTrainingJob(ctx, job)
}

func (s *TrainingService) registerAdapter(ctx context.Context, job *client.TrainingJob, final *progress.Status) error {
	path := filepath.Join(s.outputDir, job.Id)
	size, err := fileutil.DirSize(path)
	if err != nil {
		size = 0
	}
	adapterCfg := "{}"
	if job.AdapterConfig.Valid && job.AdapterConfig.String != "" {
		adapterCfg = job.AdapterConfig.String
	}
	return s.registry.RegisterFromTraining(ctx, &client.Adapter{
		Id:            final.AdapterId,
		Name:          job.Name,
		BaseModel:     job.Model,
		AdapterType:   job.AdapterType,
		Status:        client.AdapterStatusReady,
		Path:          path,
		TrainingJobId: dbutils.NullString(job.Id),
		Config:        adapterCfg,
		Metrics:       jsonutils.MarshalString(final.Results),
		SizeBytes:     size,
		Version:       1,
	})
}

func (s *TrainingService) MarkPaused(ctx context.Context, jobId string) error {
	return s.setStatus(ctx, jobId, client.JobStatusPaused, "", false)
}

func (s *TrainingService) MarkCancelled(ctx context.Context, jobId string) error {
	return s.setStatus(ctx, jobId, client.JobStatusCancelled, "", true)
}

func (s *TrainingService) MarkFailed(ctx context.Context, jobId, message string) error {
	return s.setStatus(ctx, jobId, client.JobStatusFailed, message, true)
}

func (s *TrainingService) setStatus(ctx context.Context, jobId, status, message string, terminal bool) error {
	job, err := s.store.GetTrainingJob(ctx, jobId)
	if err != nil {
		return err
	}
	job.Status = status
	if message != "" {
		job.Error = dbutils.NullString(message)
	}
	if terminal {
		job.CompletedAt = pq.NullTime{Time: s.now(), Valid: true}
	}
	return s.store.UpsertTrainingJob(ctx, job)
}

func trainingMetrics(status *progress.Status) map[string]interface{} {
	m := map[string]interface{}{
		"step":             status.Step,
		"total_steps":      status.TotalSteps,
		"tokens_processed": status.TokensProcessed,
	}
	if status.Epoch != nil {
		m["epoch"] = *status.Epoch
	}
	if status.TotalEpochs != nil {
		m["total_epochs"] = *status.TotalEpochs
	}
	if status.Loss != nil {
		m["loss"] = *status.Loss
	}
	if status.LearningRate != nil {
		m["lr"] = *status.LearningRate
	}
	if status.EtaSeconds != nil {
		m["eta_seconds"] = *status.EtaSeconds
	}
	if len(status.LossHistory) > 0 {
		m["loss_history"] = status.LossHistory
	}
	return m
}
