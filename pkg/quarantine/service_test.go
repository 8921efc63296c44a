/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package quarantine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vault-appliance/vault/pkg/config"
	"github.com/vault-appliance/vault/pkg/database/client"
)

type memoryConfigStore struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemoryConfigStore() *memoryConfigStore {
	return &memoryConfigStore{values: map[string]string{}}
}

func (m *memoryConfigStore) GetConfigValue(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memoryConfigStore) SetConfigValue(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

type stubStage struct {
	name   string
	result StageResult
	err    error
	calls  atomic.Int32
}

func (s *stubStage) Name() string { return s.name }

func (s *stubStage) Scan(_ context.Context, _, _ string, _ Config) (StageResult, error) {
	s.calls.Add(1)
	return s.result, s.err
}

func newTestService(t *testing.T, stages []Stage, configure func(*config.System)) (*Service, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	sys := config.NewSystem(newMemoryConfigStore())
	if configure != nil {
		configure(sys)
	}
	return newServiceWithStages(store, sys, t.TempDir(), stages), store
}

func submitOne(t *testing.T, s *Service, name, content string) *client.QuarantineJob {
	t.Helper()
	job, err := s.Submit(context.Background(), Submission{
		SourceType:  client.SourceTypeUpload,
		SubmittedBy: "admin",
		Uploads:     []Upload{{Filename: name, Content: strings.NewReader(content)}},
	})
	require.NoError(t, err)
	return job
}

func waitForJob(t *testing.T, store *fakeStore, jobId string) *client.QuarantineJob {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.GetQuarantineJob(context.Background(), jobId)
		require.NoError(t, err)
		if job.Status == client.ScanStatusCompleted {
			return job
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("quarantine job never completed")
	return nil
}

func jobFile(t *testing.T, store *fakeStore, jobId string) *client.QuarantineFile {
	t.Helper()
	files, err := store.SelectQuarantineFiles(context.Background(), nil, nil, -1, 0)
	require.NoError(t, err)
	for _, f := range files {
		if f.JobId == jobId {
			return f
		}
	}
	t.Fatalf("no file for job %s", jobId)
	return nil
}

func passStage(name string) *stubStage {
	return &stubStage{name: name, result: StageResult{Passed: true}}
}

func TestSubmitRejectsEmptyBatch(t *testing.T) {
	s, _ := newTestService(t, nil, nil)
	_, err := s.Submit(context.Background(), Submission{SourceType: client.SourceTypeUpload})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no files")
}

func TestSubmitEnforcesBatchCap(t *testing.T) {
	s, _ := newTestService(t, nil, func(sys *config.System) {
		require.NoError(t, sys.Set(context.Background(), config.QuarantineMaxBatchFiles, "1"))
	})
	_, err := s.Submit(context.Background(), Submission{
		SourceType: client.SourceTypeUpload,
		Uploads: []Upload{
			{Filename: "a", Content: strings.NewReader("a")},
			{Filename: "b", Content: strings.NewReader("b")},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "limit is 1")
}

func TestPipelineHoldsOnFirstFailure(t *testing.T) {
	failing := &stubStage{name: StageAntivirus, result: StageResult{
		Passed: false,
		Findings: []Finding{{
			Stage: StageAntivirus, Severity: client.SeverityCritical,
			Code: "infected", Message: "antivirus detection: Eicar-Test",
		}},
	}}
	later := passStage(StageRules)
	s, store := newTestService(t, []Stage{passStage(StageIntake), failing, later}, nil)

	job := submitOne(t, s, "evil.bin", "payload")
	waitForJob(t, store, job.Id)

	file := jobFile(t, store, job.Id)
	assert.Equal(t, client.FileStatusHeld, file.Status)
	assert.Equal(t, client.SeverityCritical, file.RiskSeverity)
	assert.Contains(t, file.Findings, "infected")
	// Stages after the failure never run.
	assert.Equal(t, int32(0), later.calls.Load())

	done, err := store.GetQuarantineJob(context.Background(), job.Id)
	require.NoError(t, err)
	assert.Equal(t, 1, done.FilesFlagged)
	assert.Equal(t, 0, done.FilesClean)
}

func TestPipelineAutoApproveClean(t *testing.T) {
	s, store := newTestService(t, []Stage{passStage(StageIntake)}, func(sys *config.System) {
		require.NoError(t, sys.Set(context.Background(), config.QuarantineAutoApproveClean, "true"))
	})
	job := submitOne(t, s, "fine.txt", "hello")
	waitForJob(t, store, job.Id)
	assert.Equal(t, client.FileStatusClean, jobFile(t, store, job.Id).Status)
}

func TestPipelineManualReviewWhenAutoApproveOff(t *testing.T) {
	s, store := newTestService(t, []Stage{passStage(StageIntake)}, nil)
	job := submitOne(t, s, "fine.txt", "hello")
	waitForJob(t, store, job.Id)
	file := jobFile(t, store, job.Id)
	assert.Equal(t, client.FileStatusHeld, file.Status)
	assert.Equal(t, "manual-review-required", file.ReviewReason.String)
	assert.Equal(t, client.SeverityNone, file.RiskSeverity)
}

func TestPipelineStageErrorHoldsHigh(t *testing.T) {
	broken := &stubStage{name: StageRules, err: errors.New("scanner crashed")}
	s, store := newTestService(t, []Stage{broken}, nil)
	job := submitOne(t, s, "f.txt", "x")
	waitForJob(t, store, job.Id)
	file := jobFile(t, store, job.Id)
	assert.Equal(t, client.FileStatusHeld, file.Status)
	assert.Equal(t, client.SeverityHigh, file.RiskSeverity)
	assert.Contains(t, file.Findings, "stage-error")
}

func TestApproveRequiresReason(t *testing.T) {
	s, store := newTestService(t, []Stage{passStage(StageIntake)}, nil)
	job := submitOne(t, s, "doc.txt", "content")
	waitForJob(t, store, job.Id)
	file := jobFile(t, store, job.Id)

	_, err := s.Approve(context.Background(), file.Id, "  ", "admin")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reason")
}

func TestApproveCopiesAndSecondApproveConflicts(t *testing.T) {
	s, store := newTestService(t, []Stage{passStage(StageIntake)}, nil)
	job := submitOne(t, s, "doc.txt", "content")
	waitForJob(t, store, job.Id)
	file := jobFile(t, store, job.Id)
	require.Equal(t, client.FileStatusHeld, file.Status)

	dest := filepath.Join(t.TempDir(), "released")
	file.DestinationPath.String = dest
	file.DestinationPath.Valid = true
	require.NoError(t, store.UpsertQuarantineFile(context.Background(), file))

	approved, err := s.Approve(context.Background(), file.Id, "verified by hand", "admin")
	require.NoError(t, err)
	assert.Equal(t, client.FileStatusApproved, approved.Status)
	data, err := os.ReadFile(approved.DestinationPath.String)
	require.NoError(t, err)
	assert.Equal(t, "content", string(data))
	assert.Equal(t, 1, store.auditCount())

	info, err := os.Stat(approved.DestinationPath.String)
	require.NoError(t, err)
	firstWrite := info.ModTime()

	_, err = s.Approve(context.Background(), file.Id, "again", "admin")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only held files")
	info, err = os.Stat(approved.DestinationPath.String)
	require.NoError(t, err)
	assert.Equal(t, firstWrite, info.ModTime())
}

func TestRejectDeletesCopies(t *testing.T) {
	s, store := newTestService(t, []Stage{passStage(StageIntake)}, nil)
	job := submitOne(t, s, "doc.txt", "content")
	waitForJob(t, store, job.Id)
	file := jobFile(t, store, job.Id)
	heldPath := file.QuarantinePath.String
	require.True(t, len(heldPath) > 0)

	rejected, err := s.Reject(context.Background(), file.Id, "not wanted", "admin")
	require.NoError(t, err)
	assert.Equal(t, client.FileStatusRejected, rejected.Status)
	_, err = os.Stat(heldPath)
	assert.True(t, os.IsNotExist(err))

	// Rejecting again conflicts.
	_, err = s.Reject(context.Background(), file.Id, "again", "admin")
	require.Error(t, err)
}

func TestSubmitFromPath(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model.gguf"), []byte("weights"), 0o644))
	s, store := newTestService(t, []Stage{passStage(StageIntake)}, func(sys *config.System) {
		require.NoError(t, sys.Set(context.Background(), config.QuarantineAutoApproveClean, "true"))
	})
	job, err := s.Submit(context.Background(), Submission{
		SourceType: client.SourceTypeUsbPath,
		SourcePath: dir,
	})
	require.NoError(t, err)
	done := waitForJob(t, store, job.Id)
	assert.Equal(t, 1, done.TotalFiles)
	assert.Equal(t, 1, done.FilesClean)
}

func TestStats(t *testing.T) {
	s, store := newTestService(t, []Stage{passStage(StageIntake)}, nil)
	job := submitOne(t, s, "doc.txt", "content")
	waitForJob(t, store, job.Id)

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Held)

	held, err := s.HeldFiles(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Len(t, held, 1)
}
