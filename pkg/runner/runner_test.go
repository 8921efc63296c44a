/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package runner

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vault-appliance/vault/pkg/config"
	"github.com/vault-appliance/vault/pkg/gpu"
	"github.com/vault-appliance/vault/pkg/progress"
	"github.com/vault-appliance/vault/pkg/scheduler"
)

type recordingSink struct {
	mu        sync.Mutex
	running   []string
	progress  []int
	completed []string
	paused    []string
	cancelled []string
	failed    map[string]string
}

func newRecordingSink() *recordingSink {
	return &recordingSink{failed: map[string]string{}}
}

func (s *recordingSink) MarkRunning(_ context.Context, jobId string, _ int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = append(s.running, jobId)
	return nil
}

func (s *recordingSink) RecordProgress(_ context.Context, _ string, status *progress.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = append(s.progress, status.Step)
	return nil
}

func (s *recordingSink) MarkCompleted(_ context.Context, jobId string, _ *progress.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, jobId)
	return nil
}

func (s *recordingSink) MarkPaused(_ context.Context, jobId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = append(s.paused, jobId)
	return nil
}

func (s *recordingSink) MarkCancelled(_ context.Context, jobId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = append(s.cancelled, jobId)
	return nil
}

func (s *recordingSink) MarkFailed(_ context.Context, jobId, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[jobId] = message
	return nil
}

func (s *recordingSink) terminalCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.completed) + len(s.paused) + len(s.cancelled) + len(s.failed)
}

func newTestScheduler(t *testing.T) *scheduler.Scheduler {
	t.Helper()
	sys := config.NewSystem(newMemoryConfigStore())
	require.NoError(t, sys.Set(context.Background(), config.TrainingEnabled, "true"))
	prober := &gpu.StaticProber{Inventory: []gpu.Device{{Index: 0, Name: "test", MemoryTotalMB: 80000}}}
	return scheduler.NewScheduler(prober, sys)
}

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

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestStartJobConflictsWhileActive(t *testing.T) {
	sched := newTestScheduler(t)
	sink := newRecordingSink()
	r := NewRunner(KindTraining, sched, sink, t.TempDir(), time.Second)

	err := r.StartJob(context.Background(), RunConfig{
		JobId:  "job-a",
		Python: "/bin/sh",
		Script: "-c",
		Args:   []string{"sleep 30"},
	})
	require.NoError(t, err)
	defer r.CancelJob("job-a")

	err = r.StartJob(context.Background(), RunConfig{
		JobId:  "job-b",
		Python: "/bin/sh",
		Script: "-c",
		Args:   []string{"true"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job-a")
}

func TestSuperviseCompletion(t *testing.T) {
	sched := newTestScheduler(t)
	sink := newRecordingSink()
	root := t.TempDir()
	r := NewRunner(KindTraining, sched, sink, root, time.Second)

	err := r.StartJob(context.Background(), RunConfig{
		JobId:  "job-done",
		Python: "/bin/sh",
		Script: "-c",
		Args: []string{
			`printf '{"state":"completed","step":10,"total_steps":10,"tokens_processed":100}' > status.json; exit 0`,
		},
	})
	require.NoError(t, err)

	waitFor(t, 10*time.Second, func() bool { return sink.terminalCount() == 1 })
	assert.Equal(t, []string{"job-done"}, sink.completed)
	assert.Empty(t, r.ActiveJobId())
	// The GPU slot must be free once the supervisor finishes.
	assert.Empty(t, sched.ActiveJobId())
}

func TestSuperviseFailureUsesStderrTail(t *testing.T) {
	sched := newTestScheduler(t)
	sink := newRecordingSink()
	r := NewRunner(KindTraining, sched, sink, t.TempDir(), time.Second)

	err := r.StartJob(context.Background(), RunConfig{
		JobId:  "job-fail",
		Python: "/bin/sh",
		Script: "-c",
		Args:   []string{`echo "boom: CUDA out of memory" >&2; exit 1`},
	})
	require.NoError(t, err)

	waitFor(t, 10*time.Second, func() bool { return sink.terminalCount() == 1 })
	message := sink.failed["job-fail"]
	assert.Contains(t, message, "ran out of memory")
	assert.Contains(t, message, "boom")
	assert.Empty(t, sched.ActiveJobId())
}

func TestSupervisePauseExitCode(t *testing.T) {
	sched := newTestScheduler(t)
	sink := newRecordingSink()
	r := NewRunner(KindTraining, sched, sink, t.TempDir(), time.Second)

	err := r.StartJob(context.Background(), RunConfig{
		JobId:  "job-pause",
		Python: "/bin/sh",
		Script: "-c",
		Args:   []string{"exit 42"},
	})
	require.NoError(t, err)

	waitFor(t, 10*time.Second, func() bool { return sink.terminalCount() == 1 })
	assert.Equal(t, []string{"job-pause"}, sink.paused)
}

func TestCancelJobMarksCancelled(t *testing.T) {
	sched := newTestScheduler(t)
	sink := newRecordingSink()
	r := NewRunner(KindTraining, sched, sink, t.TempDir(), time.Second)

	err := r.StartJob(context.Background(), RunConfig{
		JobId:  "job-cancel",
		Python: "/bin/sh",
		Script: "-c",
		Args:   []string{"sleep 60"},
	})
	require.NoError(t, err)

	require.NoError(t, r.CancelJob("job-cancel"))
	waitFor(t, 10*time.Second, func() bool { return sink.terminalCount() == 1 })
	assert.Equal(t, []string{"job-cancel"}, sink.cancelled)
	assert.Empty(t, sched.ActiveJobId())

	// Cancelling again after exit is a no-op.
	assert.NoError(t, r.CancelJob("job-cancel"))
}

func TestPauseJobRejectsEvalRunner(t *testing.T) {
	sched := newTestScheduler(t)
	r := NewRunner(KindEval, sched, newRecordingSink(), t.TempDir(), time.Second)
	err := r.PauseJob("whatever")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "training")
}

func TestTailBufferKeepsOnlyTail(t *testing.T) {
	tail := newTailBuffer()
	chunk := strings.Repeat("x", 1024)
	for i := 0; i < 10; i++ {
		_, err := tail.Write([]byte(chunk))
		require.NoError(t, err)
	}
	_, err := tail.Write([]byte("THE-END"))
	require.NoError(t, err)
	got := tail.String()
	assert.LessOrEqual(t, len(got), stderrTailBytes)
	assert.True(t, strings.HasSuffix(got, "THE-END"))
}

func TestFormatWorkerErrorCapsLength(t *testing.T) {
	long := strings.Repeat("e", maxErrorChars*2)
	assert.Len(t, formatWorkerError(long), maxErrorChars)
	assert.NotEmpty(t, formatWorkerError("   "))
}
