/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package gpu

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"k8s.io/klog/v2"
)

// Device is one detected GPU.
type Device struct {
	Index         int     `json:"index"`
	Name          string  `json:"name"`
	MemoryUsedMB  int64   `json:"memoryUsedMb"`
	MemoryTotalMB int64   `json:"memoryTotalMb"`
	MemoryUsedPct float64 `json:"memoryUsedPct"`
}

// Prober reports the GPU inventory of the host.
type Prober interface {
	Devices(ctx context.Context) ([]Device, error)
}

// CliProber shells out to the vendor SMI tool. The tool is probed once; a host
// with neither tool reports an empty inventory, which admission treats as a
// developer machine.
type CliProber struct {
	once sync.Once
	tool string
}

func NewCliProber() *CliProber {
	return &CliProber{}
}

func (p *CliProber) probeTool() {
	for _, candidate := range []string{"nvidia-smi", "amd-smi", "rocm-smi"} {
		if _, err := exec.LookPath(candidate); err == nil {
			p.tool = candidate
			klog.Infof("gpu probe using %s", candidate)
			return
		}
	}
	klog.Infof("no gpu management tool found, assuming no gpus")
}

func (p *CliProber) Devices(ctx context.Context) ([]Device, error) {
	p.once.Do(p.probeTool)
	if p.tool == "" {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	switch p.tool {
	case "nvidia-smi":
		return p.nvidiaDevices(ctx)
	default:
		return p.amdDevices(ctx)
	}
}

func (p *CliProber) nvidiaDevices(ctx context.Context) ([]Device, error) {
	out, err := exec.CommandContext(ctx, p.tool,
		"--query-gpu=index,name,memory.used,memory.total",
		"--format=csv,noheader,nounits").Output()
	if err != nil {
		klog.ErrorS(err, "failed to query gpus", "tool", p.tool)
		return nil, nil
	}
	return parseNvidiaCsv(string(out)), nil
}

func parseNvidiaCsv(out string) []Device {
	var devices []Device
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		fields := strings.Split(line, ",")
		if len(fields) != 4 {
			continue
		}
		index, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil {
			continue
		}
		used, _ := strconv.ParseInt(strings.TrimSpace(fields[2]), 10, 64)
		total, _ := strconv.ParseInt(strings.TrimSpace(fields[3]), 10, 64)
		devices = append(devices, newDevice(index, strings.TrimSpace(fields[1]), used, total))
	}
	return devices
}

// amd-smi and rocm-smi share a csv listing of vram use per device.
func (p *CliProber) amdDevices(ctx context.Context) ([]Device, error) {
	out, err := exec.CommandContext(ctx, p.tool, "--showmeminfo", "vram", "--csv").Output()
	if err != nil {
		klog.ErrorS(err, "failed to query gpus", "tool", p.tool)
		return nil, nil
	}
	return parseAmdCsv(string(out)), nil
}

func parseAmdCsv(out string) []Device {
	var devices []Device
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		fields := strings.Split(line, ",")
		if len(fields) < 3 || !strings.HasPrefix(fields[0], "card") {
			continue
		}
		index, err := strconv.Atoi(strings.TrimPrefix(fields[0], "card"))
		if err != nil {
			continue
		}
		total, _ := strconv.ParseInt(strings.TrimSpace(fields[1]), 10, 64)
		used, _ := strconv.ParseInt(strings.TrimSpace(fields[2]), 10, 64)
		// vram numbers are reported in bytes
		devices = append(devices, newDevice(index, fields[0], used/(1<<20), total/(1<<20)))
	}
	return devices
}

func newDevice(index int, name string, usedMB, totalMB int64) Device {
	d := Device{
		Index:         index,
		Name:          name,
		MemoryUsedMB:  usedMB,
		MemoryTotalMB: totalMB,
	}
	if totalMB > 0 {
		d.MemoryUsedPct = float64(usedMB) / float64(totalMB) * 100
	}
	return d
}

// StaticProber serves a fixed inventory; used by tests.
type StaticProber struct {
	Inventory []Device
}

func (p *StaticProber) Devices(_ context.Context) ([]Device, error) {
	return p.Inventory, nil
}
