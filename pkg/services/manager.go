/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package services

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"sort"
	"strings"
	"time"

	"k8s.io/klog/v2"

	commonerrors "github.com/vault-appliance/vault/pkg/errors"
	"github.com/vault-appliance/vault/pkg/utils/concurrent"
)

const (
	StateRunning     = "running"
	StateStopped     = "stopped"
	StateUnavailable = "unavailable"

	// selfName is the control-plane entry itself. Restarting it from inside
	// its own request handler would sever the connection mid-response.
	selfName = "control-plane"

	activeEnterLayout = "Mon 2006-01-02 15:04:05 MST"
)

// managedUnits is the fixed allowlist. Nothing outside this table can be
// inspected or restarted through the API.
var managedUnits = map[string]managedUnit{
	"inference": {unit: "vault-inference.service", description: "Inference engine"},
	"proxy":     {unit: "vault-proxy.service", description: "Reverse proxy"},
	"metrics":   {unit: "vault-metrics.service", description: "Metrics exporter"},
	"dashboard": {unit: "vault-dashboard.service", description: "Dashboard"},
	selfName:    {unit: "vault-control.service", description: "Control plane"},
}

type managedUnit struct {
	unit        string
	description string
}

type ServiceStatus struct {
	Name          string  `json:"name"`
	Unit          string  `json:"unit"`
	Description   string  `json:"description"`
	State         string  `json:"state"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

type RestartResult struct {
	Service string `json:"service"`
	Skipped bool   `json:"skipped"`
	Message string `json:"message,omitempty"`
}

// commandRunner abstracts systemctl/journalctl invocation so tests can feed
// canned output. Returns combined output; a non-zero exit still carries the
// output systemctl printed (is-active prints "inactive" and exits 3).
type commandRunner func(ctx context.Context, name string, args ...string) (string, error)

func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	return string(out), err
}

type Manager struct {
	runner commandRunner
	linux  bool
	now    func() time.Time
}

func NewManager() *Manager {
	return &Manager{
		runner: runCommand,
		linux:  runtime.GOOS == "linux",
		now:    time.Now,
	}
}

func Names() []string {
	names := make([]string, 0, len(managedUnits))
	for name := range managedUnits {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Known reports whether name is on the allowlist.
func Known(name string) bool {
	_, ok := managedUnits[name]
	return ok
}

func (m *Manager) Names() []string { return Names() }

func (m *Manager) Known(name string) bool { return Known(name) }

func (m *Manager) Status(ctx context.Context, name string) (*ServiceStatus, error) {
	entry, ok := managedUnits[name]
	if !ok {
		return nil, commonerrors.NewNotFoundWithCode(commonerrors.ServiceUnknown,
			fmt.Sprintf("unknown service %q", name))
	}
	status := &ServiceStatus{
		Name:        name,
		Unit:        entry.unit,
		Description: entry.description,
		State:       StateUnavailable,
	}
	if !m.linux {
		return status, nil
	}

	out, err := m.runner(ctx, "systemctl", "is-active", entry.unit)
	active := strings.TrimSpace(out)
	switch active {
	case "active":
		status.State = StateRunning
		status.UptimeSeconds = m.uptimeSeconds(ctx, entry.unit)
	case "inactive", "failed", "deactivating", "activating":
		status.State = StateStopped
	default:
		// systemctl itself failed or printed nothing recognizable.
		if err != nil {
			klog.ErrorS(err, "systemctl is-active failed", "unit", entry.unit, "output", active)
		}
	}
	return status, nil
}

func (m *Manager) uptimeSeconds(ctx context.Context, unit string) float64 {
	out, err := m.runner(ctx, "systemctl", "show", unit, "--property=ActiveEnterTimestamp")
	if err != nil {
		klog.ErrorS(err, "systemctl show failed", "unit", unit)
		return 0
	}
	value := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(out), "ActiveEnterTimestamp="))
	if value == "" {
		return 0
	}
	enter, err := time.Parse(activeEnterLayout, value)
	if err != nil {
		klog.Infof("unparseable ActiveEnterTimestamp %q for %s: %v", value, unit, err)
		return 0
	}
	uptime := m.now().Sub(enter).Seconds()
	if uptime < 0 {
		return 0
	}
	return uptime
}

// List fetches status for the entire allowlist in parallel. Per-service
// failures never fail the list; a service that cannot be probed reports
// unavailable.
func (m *Manager) List(ctx context.Context) []*ServiceStatus {
	names := Names()
	statuses := make([]*ServiceStatus, len(names))
	_, _ = concurrent.ExecIndexed(len(names), func(i int) error {
		status, err := m.Status(ctx, names[i])
		if err != nil {
			entry := managedUnits[names[i]]
			status = &ServiceStatus{
				Name:        names[i],
				Unit:        entry.unit,
				Description: entry.description,
				State:       StateUnavailable,
			}
		}
		statuses[i] = status
		return nil
	})
	return statuses
}

func (m *Manager) Restart(ctx context.Context, name string) (*RestartResult, error) {
	entry, ok := managedUnits[name]
	if !ok {
		return nil, commonerrors.NewNotFoundWithCode(commonerrors.ServiceUnknown,
			fmt.Sprintf("unknown service %q", name))
	}
	if name == selfName {
		return nil, commonerrors.New(commonerrors.SelfRestartRefused, 400,
			"the control plane cannot restart itself through the API")
	}
	if !m.linux {
		return &RestartResult{Service: name, Skipped: true, Message: "systemd is not available on this platform"}, nil
	}

	klog.Infof("restarting service %s (%s)", name, entry.unit)
	out, err := m.runner(ctx, "systemctl", "restart", entry.unit)
	if err != nil {
		klog.ErrorS(err, "systemctl restart failed", "unit", entry.unit, "output", out)
		return nil, commonerrors.NewUnavailable(
			fmt.Sprintf("restart of %s failed: %s", name, strings.TrimSpace(out)))
	}
	return &RestartResult{Service: name}, nil
}
