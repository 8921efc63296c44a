/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"k8s.io/klog/v2"

	commonerrors "github.com/vault-appliance/vault/pkg/errors"
	"github.com/vault-appliance/vault/pkg/progress"
	"github.com/vault-appliance/vault/pkg/scheduler"
	"github.com/vault-appliance/vault/pkg/utils/fileutil"
)

type Kind string

const (
	KindTraining Kind = "training"
	KindEval     Kind = "eval"

	// Workers checkpoint and exit with this code when paused.
	pauseExitCode = 42

	statusPollInterval = 2 * time.Second
)

// RunConfig describes one worker launch.
type RunConfig struct {
	JobId  string
	Python string
	Script string
	Args   []string
	// Config is serialized to {status_dir}/config.json before launch.
	Config map[string]interface{}
}

// Runner supervises at most one worker child process. Two instances exist,
// one for training and one for evaluation, sharing the GPU scheduler so the
// exclusivity guarantee holds across both.
type Runner struct {
	kind       Kind
	sched      *scheduler.Scheduler
	sink       StatusSink
	statusRoot string
	grace      time.Duration

	mu          sync.Mutex
	activeJobId string
	cmd         *exec.Cmd
}

func NewRunner(kind Kind, sched *scheduler.Scheduler, sink StatusSink, statusRoot string, grace time.Duration) *Runner {
	return &Runner{
		kind:       kind,
		sched:      sched,
		sink:       sink,
		statusRoot: statusRoot,
		grace:      grace,
	}
}

// ActiveJobId returns the supervised job, empty when idle.
func (r *Runner) ActiveJobId() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeJobId
}

// StatusDir returns the status directory for a job.
func (r *Runner) StatusDir(jobId string) string {
	return filepath.Join(r.statusRoot, jobId)
}

// StartJob admits, launches and begins supervising a worker for the job.
func (r *Runner) StartJob(ctx context.Context, cfg RunConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.activeJobId != "" {
		return commonerrors.NewConflictWithCode(commonerrors.JobConflict,
			fmt.Sprintf("%s job %s is still active", r.kind, r.activeJobId))
	}

	gpuIndex, err := r.sched.Acquire(ctx, cfg.JobId)
	if err != nil {
		return err
	}
	// Every early return below must hand the GPU back.
	statusDir := r.StatusDir(cfg.JobId)
	if err = r.writeRunConfig(statusDir, cfg); err != nil {
		r.sched.Release(cfg.JobId)
		return commonerrors.NewInternalError(fmt.Sprintf("failed to write run config: %v", err))
	}
	if err = r.sink.MarkRunning(ctx, cfg.JobId, gpuIndex); err != nil {
		r.sched.Release(cfg.JobId)
		return err
	}

	tail := newTailBuffer()
	cmd := exec.Command(cfg.Python, append([]string{cfg.Script}, cfg.Args...)...)
	cmd.Dir = statusDir
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("CUDA_VISIBLE_DEVICES=%d", gpuIndex),
		fmt.Sprintf("VAULT_STATUS_DIR=%s", statusDir),
	)
	cmd.Stderr = tail
	if err = cmd.Start(); err != nil {
		r.sched.Release(cfg.JobId)
		message := formatWorkerError(fmt.Sprintf("failed to start worker: %v", err))
		if err2 := r.sink.MarkFailed(ctx, cfg.JobId, message); err2 != nil {
			klog.ErrorS(err2, "failed to record start failure", "job", cfg.JobId)
		}
		return commonerrors.NewInternalError(message)
	}

	r.activeJobId = cfg.JobId
	r.cmd = cmd
	klog.Infof("%s worker started, job %s, pid %d, gpu %d", r.kind, cfg.JobId, cmd.Process.Pid, gpuIndex)
	go r.supervise(cfg.JobId, statusDir, cmd, tail)
	return nil
}

// CancelJob signals the worker to terminate. Idempotent; cancelling a job
// that is not active is a no-op here (state-machine conflicts are enforced by
// the owning service against the job row).
func (r *Runner) CancelJob(jobId string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if jobId != r.activeJobId || r.cmd == nil || r.cmd.Process == nil {
		return nil
	}
	klog.Infof("cancelling %s job %s", r.kind, jobId)
	if err := r.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return err
	}
	// Escalate if the worker ignores the grace period.
	proc := r.cmd.Process
	grace := r.grace
	go func() {
		time.Sleep(grace)
		if err := proc.Signal(syscall.Signal(0)); err == nil {
			klog.Infof("worker for job %s did not exit within %v, killing", jobId, grace)
			if err = proc.Kill(); err != nil {
				klog.ErrorS(err, "failed to kill worker", "job", jobId)
			}
		}
	}()
	return nil
}

// PauseJob asks a training worker to checkpoint and exit with the pause code.
func (r *Runner) PauseJob(jobId string) error {
	if r.kind != KindTraining {
		return commonerrors.NewBadRequest("only training jobs can be paused")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if jobId != r.activeJobId || r.cmd == nil || r.cmd.Process == nil {
		return commonerrors.NewConflictWithCode(commonerrors.JobConflict,
			fmt.Sprintf("job %s is not the active job", jobId))
	}
	klog.Infof("pausing training job %s", jobId)
	return r.cmd.Process.Signal(syscall.SIGUSR1)
}

func (r *Runner) writeRunConfig(statusDir string, cfg RunConfig) error {
	data, err := json.MarshalIndent(cfg.Config, "", "  ")
	if err != nil {
		return err
	}
	return fileutil.WriteFileAtomic(filepath.Join(statusDir, "config.json"), data, 0o644)
}

// supervise polls the status file every tick and projects samples into the
// sink until the child exits, then persists the terminal state. The GPU is
// released and the active slot cleared in every terminal branch, even if the
// sink errors.
func (r *Runner) supervise(jobId, statusDir string, cmd *exec.Cmd, tail *tailBuffer) {
	defer func() {
		if rec := recover(); rec != nil {
			klog.Errorf("supervisor panic for job %s: %v", jobId, rec)
		}
		r.sched.Release(jobId)
		r.mu.Lock()
		if r.activeJobId == jobId {
			r.activeJobId = ""
			r.cmd = nil
		}
		r.mu.Unlock()
	}()

	statusPath := filepath.Join(statusDir, "status.json")
	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	ctx := context.Background()
	ticker := time.NewTicker(statusPollInterval)
	defer ticker.Stop()
	lastStep := -1

	for {
		select {
		case <-ticker.C:
			status, err := progress.Read(statusPath)
			if err != nil {
				// Partially written or not yet created; retry next tick.
				continue
			}
			// Never let a stale sample move a job backwards.
			if status.Step < lastStep {
				continue
			}
			lastStep = status.Step
			if err = r.sink.RecordProgress(ctx, jobId, status); err != nil {
				klog.ErrorS(err, "failed to record progress", "job", jobId)
			}
		case waitErr := <-done:
			r.finish(ctx, jobId, statusPath, cmd, tail, waitErr)
			return
		}
	}
}

func (r *Runner) finish(ctx context.Context, jobId, statusPath string, cmd *exec.Cmd, tail *tailBuffer, waitErr error) {
	exitCode, signaled := exitStatus(cmd, waitErr)
	klog.Infof("%s worker for job %s exited, code %d, signal %v", r.kind, jobId, exitCode, signaled)

	switch {
	case exitCode == 0:
		final, err := progress.Read(statusPath)
		if err != nil {
			klog.ErrorS(err, "worker exited clean but final status is unreadable", "job", jobId)
			final = &progress.Status{State: "completed"}
		}
		if err = r.sink.MarkCompleted(ctx, jobId, final); err != nil {
			klog.ErrorS(err, "failed to mark job completed", "job", jobId)
		}
	case exitCode == pauseExitCode:
		if err := r.sink.MarkPaused(ctx, jobId); err != nil {
			klog.ErrorS(err, "failed to mark job paused", "job", jobId)
		}
	case signaled == syscall.SIGTERM || signaled == syscall.SIGKILL || exitCode == 143:
		if err := r.sink.MarkCancelled(ctx, jobId); err != nil {
			klog.ErrorS(err, "failed to mark job cancelled", "job", jobId)
		}
	default:
		message := ""
		if final, err := progress.Read(statusPath); err == nil && final.Error != "" {
			message = final.Error
		} else {
			message = tail.String()
		}
		if err := r.sink.MarkFailed(ctx, jobId, formatWorkerError(message)); err != nil {
			klog.ErrorS(err, "failed to mark job failed", "job", jobId)
		}
	}
}

// exitStatus extracts the exit code and, when the child died on a signal,
// which one.
func exitStatus(cmd *exec.Cmd, waitErr error) (int, syscall.Signal) {
	if waitErr == nil {
		return 0, 0
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if ws.Signaled() {
				return 128 + int(ws.Signal()), ws.Signal()
			}
			return ws.ExitStatus(), 0
		}
		return exitErr.ExitCode(), 0
	}
	return -1, 0
}
