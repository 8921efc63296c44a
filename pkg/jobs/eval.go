/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package jobs

import (
	"context"
	"fmt"
	"net/http"
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
	"github.com/vault-appliance/vault/pkg/utils/httpclient"
	jsonutils "github.com/vault-appliance/vault/pkg/utils/json"
	"github.com/vault-appliance/vault/pkg/utils/timeutil"
)

const maxQuickPrompts = 8

// EvalStore is the slice of the database client the service needs.
type EvalStore interface {
	UpsertEvalJob(ctx context.Context, job *client.EvalJob) error
	GetEvalJob(ctx context.Context, id string) (*client.EvalJob, error)
	SelectEvalJobs(ctx context.Context, query sqrl.Sqlizer, orderBy []string, limit, offset int) ([]*client.EvalJob, error)
	DeleteEvalJob(ctx context.Context, id string) error
}

// EvalService owns evaluation job rows and their worker lifecycle, and runs
// the bounded synchronous quick-eval against the inference engine.
type EvalService struct {
	store  EvalStore
	runner workerRunner
	sched  admission
	engine httpclient.Interface

	engineBaseURL string
	builtinDir    string
	customDir     string
	now           func() time.Time
}

func NewEvalService(store EvalStore, sched *scheduler.Scheduler) *EvalService {
	s := &EvalService{
		store:         store,
		sched:         sched,
		engine:        httpclient.New(config.GetEngineConnectTimeout(), config.GetEngineReadTimeout()),
		engineBaseURL: config.GetEngineBaseURL(),
		builtinDir:    config.GetEvalDatasetDir(),
		customDir:     config.GetDatasetDir(),
		now:           timeutil.Now,
	}
	s.runner = runner.NewRunner(runner.KindEval, sched, s,
		filepath.Join(config.GetStatusDir(), "eval"), config.GetTerminateGrace())
	return s
}

// CreateEvalRequest is the POST body for a new evaluation job.
type CreateEvalRequest struct {
	Name        string                 `json:"name"`
	ModelId     string                 `json:"model_id"`
	AdapterId   string                 `json:"adapter_id"`
	DatasetId   string                 `json:"dataset_id"`
	DatasetType string                 `json:"dataset_type"`
	Config      map[string]interface{} `json:"config"`
}

// Dataset is one row of the dataset catalog.
type Dataset struct {
	Id        string `json:"id"`
	Type      string `json:"type"`
	SizeBytes int64  `json:"size_bytes"`
}

// Datasets lists the built-in benchmark sets alongside datasets that came
// through quarantine.
func (s *EvalService) Datasets() []Dataset {
	out := []Dataset{}
	out = append(out, listDatasets(s.builtinDir, client.DatasetTypeBuiltin)...)
	out = append(out, listDatasets(s.customDir, client.DatasetTypeCustom)...)
	return out
}

func listDatasets(dir, datasetType string) []Dataset {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []Dataset
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Dataset{Id: e.Name(), Type: datasetType, SizeBytes: info.Size()})
	}
	return out
}

func (s *EvalService) datasetPath(datasetType, id string) (string, error) {
	dir := s.builtinDir
	if datasetType == client.DatasetTypeCustom {
		dir = s.customDir
	}
	path := filepath.Join(dir, id)
	if !fileutil.IsFileExist(path) {
		return "", commonerrors.NewBadRequest(fmt.Sprintf("dataset %s is not available", id))
	}
	return path, nil
}

// Create validates, persists and launches an evaluation job.
func (s *EvalService) Create(ctx context.Context, req *CreateEvalRequest) (*client.EvalJob, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, commonerrors.NewBadRequest("name is required")
	}
	if req.ModelId == "" {
		return nil, commonerrors.NewBadRequest("model_id is required")
	}
	datasetType := req.DatasetType
	if datasetType == "" {
		datasetType = client.DatasetTypeBuiltin
	}
	if datasetType != client.DatasetTypeBuiltin && datasetType != client.DatasetTypeCustom {
		return nil, commonerrors.NewBadRequest(fmt.Sprintf("unknown dataset type %q", datasetType))
	}
	datasetPath, err := s.datasetPath(datasetType, req.DatasetId)
	if err != nil {
		return nil, err
	}
	if ok, reason := s.sched.CanStart(ctx); !ok {
		return nil, commonerrors.NewConflictWithCode(commonerrors.GpuUnavailable, reason)
	}

	job := &client.EvalJob{
		Id:          uuid.NewString(),
		Name:        req.Name,
		Status:      client.JobStatusQueued,
		ModelId:     req.ModelId,
		DatasetId:   req.DatasetId,
		DatasetType: datasetType,
		Config:      jsonutils.MarshalString(req.Config),
		CreatedAt:   pq.NullTime{Time: s.now(), Valid: true},
	}
	if req.AdapterId != "" {
		job.AdapterId = dbutils.NullString(req.AdapterId)
	}
	if err = s.store.UpsertEvalJob(ctx, job); err != nil {
		return nil, err
	}

	workerCfg := map[string]interface{}{}
	for k, v := range req.Config {
		workerCfg[k] = v
	}
	workerCfg["job_id"] = job.Id
	workerCfg["model_id"] = job.ModelId
	workerCfg["dataset_path"] = datasetPath
	if job.AdapterId.Valid {
		workerCfg["adapter_id"] = job.AdapterId.String
	}
	err = s.runner.StartJob(ctx, runner.RunConfig{
		JobId:  job.Id,
		Python: config.GetEvalPython(),
		Script: config.GetEvalScript(),
		Config: workerCfg,
	})
	if err != nil {
		if err2 := s.MarkFailed(ctx, job.Id, err.Error()); err2 != nil {
			klog.ErrorS(err2, "failed to record launch failure", "job", job.Id)
		}
		return nil, err
	}
	return s.store.GetEvalJob(ctx, job.Id)
}

func (s *EvalService) List(ctx context.Context, status string, limit, offset int) ([]*client.EvalJob, error) {
	var query sqrl.Sqlizer
	if status != "" {
		query = sqrl.Eq{"status": status}
	}
	if limit <= 0 {
		limit = 100
	}
	return s.store.SelectEvalJobs(ctx, query, []string{"created_at " + client.DESC}, limit, offset)
}

func (s *EvalService) Get(ctx context.Context, id string) (*client.EvalJob, error) {
	return s.store.GetEvalJob(ctx, id)
}

func (s *EvalService) Delete(ctx context.Context, id string) error {
	job, err := s.store.GetEvalJob(ctx, id)
	if err != nil {
		return err
	}
	if s.runner.ActiveJobId() == id {
		return commonerrors.NewConflictWithCode(commonerrors.JobConflict,
			fmt.Sprintf("eval job %s is still running, cancel it first", id))
	}
	if err = s.store.DeleteEvalJob(ctx, job.Id); err != nil {
		return err
	}
	if err = os.RemoveAll(s.runner.StatusDir(id)); err != nil {
		klog.ErrorS(err, "failed to remove status directory", "job", id)
	}
	return nil
}

// Cancel terminates a job; terminal jobs yield a conflict.
func (s *EvalService) Cancel(ctx context.Context, id string) error {
	job, err := s.store.GetEvalJob(ctx, id)
	if err != nil {
		return err
	}
	if job.IsTerminal() {
		return commonerrors.NewConflictWithCode(commonerrors.JobConflict,
			fmt.Sprintf("eval job %s is already %s", id, job.Status))
	}
	if s.runner.ActiveJobId() == id {
		return s.runner.CancelJob(id)
	}
	return s.MarkCancelled(ctx, id)
}

func (s *EvalService) ActiveJobId() string {
	return s.runner.ActiveJobId()
}

// CompareEntry is one completed job in the side-by-side view.
type CompareEntry struct {
	JobId     string                 `json:"job_id"`
	Name      string                 `json:"name"`
	ModelId   string                 `json:"model_id"`
	AdapterId string                 `json:"adapter_id,omitempty"`
	Results   map[string]interface{} `json:"results"`
}

// Compare loads completed eval jobs side by side. Non-terminal or failed
// jobs cannot be compared.
func (s *EvalService) Compare(ctx context.Context, jobIds []string) ([]CompareEntry, error) {
	if len(jobIds) < 2 {
		return nil, commonerrors.NewBadRequest("at least two job ids are required")
	}
	entries := make([]CompareEntry, 0, len(jobIds))
	for _, id := range jobIds {
		job, err := s.store.GetEvalJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Status != client.JobStatusCompleted {
			return nil, commonerrors.NewConflictWithCode(commonerrors.JobConflict,
				fmt.Sprintf("eval job %s is %s, not completed", id, job.Status))
		}
		entry := CompareEntry{JobId: job.Id, Name: job.Name, ModelId: job.ModelId, AdapterId: job.AdapterId.String}
		if job.Results.Valid && job.Results.String != "" {
			_ = jsonutils.UnmarshalWithCheck([]byte(job.Results.String), &entry.Results)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// QuickEvalRequest is a bounded synchronous probe through the inference
// engine, for spot-checking a model or adapter without a job.
type QuickEvalRequest struct {
	Model     string   `json:"model"`
	Prompts   []string `json:"prompts"`
	MaxTokens int      `json:"max_tokens"`
}

type QuickEvalAnswer struct {
	Prompt    string  `json:"prompt"`
	Output    string  `json:"output"`
	LatencyMs float64 `json:"latency_ms"`
}

func (s *EvalService) Quick(ctx context.Context, req *QuickEvalRequest) ([]QuickEvalAnswer, error) {
	if req.Model == "" {
		return nil, commonerrors.NewBadRequest("model is required")
	}
	if len(req.Prompts) == 0 {
		return nil, commonerrors.NewBadRequest("at least one prompt is required")
	}
	if len(req.Prompts) > maxQuickPrompts {
		return nil, commonerrors.NewBadRequest(fmt.Sprintf("at most %d prompts per quick eval", maxQuickPrompts))
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 256
	}

	answers := make([]QuickEvalAnswer, 0, len(req.Prompts))
	for _, prompt := range req.Prompts {
		start := time.Now()
		rsp, err := s.engine.Post(ctx, s.engineBaseURL+"/v1/chat/completions", map[string]interface{}{
			"model":      req.Model,
			"messages":   []map[string]string{{"role": "user", "content": prompt}},
			"max_tokens": maxTokens,
			"stream":     false,
		})
		if err != nil {
			return nil, commonerrors.NewUnavailable("inference engine is not reachable")
		}
		if rsp.StatusCode != http.StatusOK {
			return nil, commonerrors.NewUnavailable(
				fmt.Sprintf("inference engine answered %d", rsp.StatusCode))
		}
		answers = append(answers, QuickEvalAnswer{
			Prompt:    prompt,
			Output:    extractCompletion(rsp.Body),
			LatencyMs: float64(time.Since(start).Microseconds()) / 1000,
		})
	}
	return answers, nil
}

func extractCompletion(body []byte) string {
	var doc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			Text string `json:"text"`
		} `json:"choices"`
	}
	if err := jsonutils.UnmarshalWithCheck(body, &doc); err != nil || len(doc.Choices) == 0 {
		return ""
	}
	if doc.Choices[0].Message.Content != "" {
		return doc.Choices[0].Message.Content
	}
	return doc.Choices[0].Text
}

// --- runner.StatusSink ---

func (s *EvalService) MarkRunning(ctx context.Context, jobId string, gpuIndex int) error {
	job, err := s.store.GetEvalJob(ctx, jobId)
	if err != nil {
		return err
	}
	job.Status = client.JobStatusRunning
	if !job.StartedAt.Valid {
		job.StartedAt = pq.NullTime{Time: s.now(), Valid: true}
	}
	return s.store.UpsertEvalJob(ctx, job)
}

func (s *EvalService) RecordProgress(ctx context.Context, jobId string, status *progress.Status) error {
	job, err := s.store.GetEvalJob(ctx, jobId)
	if err != nil {
		return err
	}
	job.Progress = status.Progress()
	job.ExamplesCompleted = status.Step
	job.TotalExamples = status.TotalSteps
	return s.store.UpsertEvalJob(ctx, job)
}

func (s *EvalService) MarkCompleted(ctx context.Context, jobId string, final *progress.Status) error {
	job, err := s.store.GetEvalJob(ctx, jobId)
	if err != nil {
		return err
	}
	job.Status = client.JobStatusCompleted
	job.Progress = 100
	job.CompletedAt = pq.NullTime{Time: s.now(), Valid: true}
	if final != nil {
		job.ExamplesCompleted = final.Step
		job.TotalExamples = final.TotalSteps
		if len(final.Results) > 0 {
			job.Results = dbutils.NullString(jsonutils.MarshalString(final.Results))
		}
	}
	return s.store.UpsertEvalJob(ctx, job)
}

// MarkPaused is unreachable for evaluations; the runner refuses to pause
// them. Kept as a no-op to satisfy the sink contract.
func (s *EvalService) MarkPaused(_ context.Context, jobId string) error {
	klog.Infof("ignoring pause for eval job %s", jobId)
	return nil
}

func (s *EvalService) MarkCancelled(ctx context.Context, jobId string) error {
	return s.setStatus(ctx, jobId, client.JobStatusCancelled, "")
}

func (s *EvalService) MarkFailed(ctx context.Context, jobId, message string) error {
	return s.setStatus(ctx, jobId, client.JobStatusFailed, message)
}

func (s *EvalService) setStatus(ctx context.Context, jobId, status, message string) error {
	job, err := s.store.GetEvalJob(ctx, jobId)
	if err != nil {
		return err
	}
	job.Status = status
	if message != "" {
		job.Results = dbutils.NullString(jsonutils.MarshalString(map[string]interface{}{"error": message}))
	}
	job.CompletedAt = pq.NullTime{Time: s.now(), Valid: true}
	return s.store.UpsertEvalJob(ctx, job)
}
