/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package services

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	commonerrors "github.com/vault-appliance/vault/pkg/errors"
)

type fakeRunner struct {
	calls   []string
	outputs map[string]string
	errs    map[string]error
}

func (f *fakeRunner) run(_ context.Context, name string, args ...string) (string, error) {
	key := name + " " + strings.Join(args, " ")
	f.calls = append(f.calls, key)
	return f.outputs[key], f.errs[key]
}

func newTestManager(fake *fakeRunner, at time.Time) *Manager {
	return &Manager{
		runner: fake.run,
		linux:  true,
		now:    func() time.Time { return at },
	}
}

func TestStatusRunningWithUptime(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	fake := &fakeRunner{outputs: map[string]string{
		"systemctl is-active vault-inference.service": "active\n",
		"systemctl show vault-inference.service --property=ActiveEnterTimestamp": "ActiveEnterTimestamp=Sun 2025-06-01 11:00:00 UTC\n",
	}}
	m := newTestManager(fake, now)

	status, err := m.Status(context.Background(), "inference")
	require.NoError(t, err)
	assert.Equal(t, StateRunning, status.State)
	assert.Equal(t, "vault-inference.service", status.Unit)
	assert.InDelta(t, 3600, status.UptimeSeconds, 0.1)
}

func TestStatusStopped(t *testing.T) {
	fake := &fakeRunner{
		outputs: map[string]string{"systemctl is-active vault-proxy.service": "inactive\n"},
		errs:    map[string]error{"systemctl is-active vault-proxy.service": fmt.Errorf("exit status 3")},
	}
	m := newTestManager(fake, time.Now())

	status, err := m.Status(context.Background(), "proxy")
	require.NoError(t, err)
	assert.Equal(t, StateStopped, status.State)
	assert.Zero(t, status.UptimeSeconds)
}

func TestStatusProbeFailureReportsUnavailable(t *testing.T) {
	fake := &fakeRunner{errs: map[string]error{
		"systemctl is-active vault-metrics.service": fmt.Errorf("exec: systemctl: not found"),
	}}
	m := newTestManager(fake, time.Now())

	status, err := m.Status(context.Background(), "metrics")
	require.NoError(t, err)
	assert.Equal(t, StateUnavailable, status.State)
}

func TestStatusUnknownService(t *testing.T) {
	m := newTestManager(&fakeRunner{}, time.Now())
	_, err := m.Status(context.Background(), "sshd")
	require.Error(t, err)
	assert.Equal(t, commonerrors.ServiceUnknown, commonerrors.AsError(err).Code)
}

func TestStatusNonLinux(t *testing.T) {
	m := &Manager{runner: (&fakeRunner{}).run, linux: false, now: time.Now}
	status, err := m.Status(context.Background(), "inference")
	require.NoError(t, err)
	assert.Equal(t, StateUnavailable, status.State)
}

func TestListCoversAllowlist(t *testing.T) {
	fake := &fakeRunner{outputs: map[string]string{
		"systemctl is-active vault-inference.service": "active",
		"systemctl is-active vault-proxy.service":     "inactive",
	}}
	m := newTestManager(fake, time.Now())

	statuses := m.List(context.Background())
	require.Len(t, statuses, len(managedUnits))

	byName := map[string]*ServiceStatus{}
	for _, status := range statuses {
		byName[status.Name] = status
	}
	assert.Equal(t, StateRunning, byName["inference"].State)
	assert.Equal(t, StateStopped, byName["proxy"].State)
	assert.Equal(t, StateUnavailable, byName["dashboard"].State)

	// Sorted by name.
	for i := 1; i < len(statuses); i++ {
		assert.Less(t, statuses[i-1].Name, statuses[i].Name)
	}
}

func TestRestart(t *testing.T) {
	fake := &fakeRunner{}
	m := newTestManager(fake, time.Now())

	result, err := m.Restart(context.Background(), "proxy")
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.Contains(t, fake.calls, "systemctl restart vault-proxy.service")
}

func TestRestartRefusesSelf(t *testing.T) {
	fake := &fakeRunner{}
	m := newTestManager(fake, time.Now())

	_, err := m.Restart(context.Background(), "control-plane")
	require.Error(t, err)
	assert.Equal(t, commonerrors.SelfRestartRefused, commonerrors.AsError(err).Code)
	assert.Empty(t, fake.calls)
}

func TestRestartUnknownService(t *testing.T) {
	m := newTestManager(&fakeRunner{}, time.Now())
	_, err := m.Restart(context.Background(), "nginx")
	require.Error(t, err)
	assert.Equal(t, commonerrors.ServiceUnknown, commonerrors.AsError(err).Code)
}

func TestRestartNonLinuxSkips(t *testing.T) {
	fake := &fakeRunner{}
	m := &Manager{runner: fake.run, linux: false, now: time.Now}

	result, err := m.Restart(context.Background(), "proxy")
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Empty(t, fake.calls)
}

func TestRestartFailureSurfacesOutput(t *testing.T) {
	fake := &fakeRunner{
		outputs: map[string]string{"systemctl restart vault-dashboard.service": "Job for vault-dashboard.service failed.\n"},
		errs:    map[string]error{"systemctl restart vault-dashboard.service": fmt.Errorf("exit status 1")},
	}
	m := newTestManager(fake, time.Now())

	_, err := m.Restart(context.Background(), "dashboard")
	require.Error(t, err)
	assert.True(t, commonerrors.IsUnavailable(err))
	assert.Contains(t, commonerrors.AsError(err).Message, "vault-dashboard.service failed")
}
