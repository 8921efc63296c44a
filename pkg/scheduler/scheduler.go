/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package scheduler

import (
	"context"
	"fmt"
	"sync"

	"k8s.io/klog/v2"

	"github.com/vault-appliance/vault/pkg/config"
	commonerrors "github.com/vault-appliance/vault/pkg/errors"
	"github.com/vault-appliance/vault/pkg/gpu"
)

const memorySampleWindow = 3

// Scheduler is the exclusive admission controller over the GPU inventory.
// At most one training or evaluation job holds a GPU at any time.
type Scheduler struct {
	mu             sync.Mutex
	activeJobId    string
	activeGpuIndex int
	prober         gpu.Prober
	sysCfg         *config.System
	// rolling memory samples per gpu index; admission uses the window mean
	// so utilization blips near the threshold do not flap decisions.
	memSamples map[int][]float64
}

// Allocation is one row of the allocation view.
type Allocation struct {
	GpuIndex      int     `json:"gpuIndex"`
	AssignedTo    string  `json:"assignedTo"`
	JobId         string  `json:"jobId,omitempty"`
	MemoryUsedPct float64 `json:"memoryUsedPct"`
}

func NewScheduler(prober gpu.Prober, sysCfg *config.System) *Scheduler {
	return &Scheduler{
		prober:     prober,
		sysCfg:     sysCfg,
		memSamples: make(map[int][]float64),
	}
}

// CanStart reports whether a new job may enter the running state and, when it
// may not, the reason.
func (s *Scheduler) CanStart(ctx context.Context) (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canStartLocked(ctx)
}

func (s *Scheduler) canStartLocked(ctx context.Context) (bool, string) {
	if !s.sysCfg.GetBool(ctx, config.TrainingEnabled) {
		return false, "training is disabled by configuration"
	}
	if s.activeJobId != "" {
		return false, fmt.Sprintf("job %s is already running", s.activeJobId)
	}
	devices, err := s.prober.Devices(ctx)
	if err != nil {
		klog.ErrorS(err, "failed to probe gpus")
		return false, "failed to probe gpus"
	}
	// No GPUs detected: developer machine, admission is permitted.
	if len(devices) == 0 {
		return true, ""
	}
	index := s.sysCfg.GetInt(ctx, config.TrainingGpuIndex)
	device, found := findDevice(devices, index)
	if !found {
		return false, fmt.Sprintf("configured gpu %d is not present", index)
	}
	maxPct := s.sysCfg.GetFloat(ctx, config.TrainingMaxMemoryPct)
	if mean := s.sampleMemoryLocked(index, device.MemoryUsedPct); mean > maxPct {
		return false, fmt.Sprintf("gpu %d memory utilization %.1f%% exceeds limit %.1f%%", index, mean, maxPct)
	}
	return true, ""
}

// Acquire re-checks admission under the lock and records the holder.
func (s *Scheduler) Acquire(ctx context.Context, jobId string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ok, reason := s.canStartLocked(ctx); !ok {
		return 0, commonerrors.NewConflictWithCode(commonerrors.GpuUnavailable, reason)
	}
	index := s.sysCfg.GetInt(ctx, config.TrainingGpuIndex)
	s.activeJobId = jobId
	s.activeGpuIndex = index
	klog.Infof("gpu %d acquired by job %s", index, jobId)
	return index, nil
}

// Release clears the holder. Release by a non-holder is a no-op.
func (s *Scheduler) Release(jobId string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if jobId != s.activeJobId {
		return
	}
	klog.Infof("gpu %d released by job %s", s.activeGpuIndex, jobId)
	s.activeJobId = ""
	s.activeGpuIndex = 0
}

// ActiveJobId returns the current holder, empty when idle.
func (s *Scheduler) ActiveJobId() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeJobId
}

// Allocations returns one row per detected GPU, with a single synthetic entry
// when none are present.
func (s *Scheduler) Allocations(ctx context.Context) []Allocation {
	s.mu.Lock()
	defer s.mu.Unlock()

	devices, err := s.prober.Devices(ctx)
	if err != nil {
		klog.ErrorS(err, "failed to probe gpus")
	}
	if len(devices) == 0 {
		alloc := Allocation{GpuIndex: 0, AssignedTo: "inference"}
		if s.activeJobId != "" {
			alloc.AssignedTo = "training"
			alloc.JobId = s.activeJobId
		}
		return []Allocation{alloc}
	}
	result := make([]Allocation, 0, len(devices))
	for _, d := range devices {
		alloc := Allocation{
			GpuIndex:      d.Index,
			AssignedTo:    "inference",
			MemoryUsedPct: d.MemoryUsedPct,
		}
		if s.activeJobId != "" && d.Index == s.activeGpuIndex {
			alloc.AssignedTo = "training"
			alloc.JobId = s.activeJobId
		}
		result = append(result, alloc)
	}
	return result
}

func (s *Scheduler) sampleMemoryLocked(index int, pct float64) float64 {
	samples := append(s.memSamples[index], pct)
	if len(samples) > memorySampleWindow {
		samples = samples[len(samples)-memorySampleWindow:]
	}
	s.memSamples[index] = samples
	var sum float64
	for _, v := range samples {
		sum += v
	}
	return sum / float64(len(samples))
}

func findDevice(devices []gpu.Device, index int) (gpu.Device, bool) {
	for _, d := range devices {
		if d.Index == index {
			return d, true
		}
	}
	return gpu.Device{}, false
}
