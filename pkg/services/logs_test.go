/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	commonerrors "github.com/vault-appliance/vault/pkg/errors"
)

func journalLine(micros int64, priority int, unit, message string) string {
	return fmt.Sprintf(`{"__REALTIME_TIMESTAMP":"%d","PRIORITY":"%d","_SYSTEMD_UNIT":"%s","MESSAGE":"%s"}`,
		micros, priority, unit, message)
}

func TestLogsParsesJournalOutput(t *testing.T) {
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	out := journalLine(base.UnixMicro(), 6, "vault-proxy.service", "request served") + "\n" +
		journalLine(base.Add(time.Minute).UnixMicro(), 3, "vault-proxy.service", "upstream timed out") + "\n"
	fake := &fakeRunner{outputs: map[string]string{
		"journalctl -o json --no-pager -n 100 -u vault-proxy.service": out,
	}}
	m := newTestManager(fake, time.Now())

	entries, err := m.Logs(context.Background(), LogFilter{Service: "proxy"})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Newest first; unit suffix stripped.
	assert.Equal(t, "upstream timed out", entries[0].Message)
	assert.Equal(t, SeverityError, entries[0].Severity)
	assert.Equal(t, "vault-proxy", entries[0].Service)
	assert.Equal(t, base.Add(time.Minute), entries[0].Timestamp)
	assert.Equal(t, SeverityInfo, entries[1].Severity)
}

func TestLogsSeverityAndPaging(t *testing.T) {
	var out string
	for i := 0; i < 5; i++ {
		out += journalLine(int64(1000000*(i+1)), 2, "vault-control.service", fmt.Sprintf("entry %d", i)) + "\n"
	}
	fake := &fakeRunner{outputs: map[string]string{
		"journalctl -o json --no-pager -n 4 -p 3": out,
	}}
	m := newTestManager(fake, time.Now())

	entries, err := m.Logs(context.Background(), LogFilter{Severity: SeverityError, Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "entry 2", entries[0].Message)
	assert.Equal(t, SeverityCritical, entries[0].Severity)
}

func TestLogsSinceFlag(t *testing.T) {
	since := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
	fake := &fakeRunner{outputs: map[string]string{}}
	m := newTestManager(fake, time.Now())

	_, err := m.Logs(context.Background(), LogFilter{Since: since})
	require.NoError(t, err)
	require.Len(t, fake.calls, 1)
	assert.Contains(t, fake.calls[0], "--since 2025-06-01 09:30:00")
}

func TestLogsSkipsMalformedLines(t *testing.T) {
	out := "not json\n" + journalLine(1000000, 7, "vault-metrics.service", "probe ok") + "\n"
	fake := &fakeRunner{outputs: map[string]string{
		"journalctl -o json --no-pager -n 100": out,
	}}
	m := newTestManager(fake, time.Now())

	entries, err := m.Logs(context.Background(), LogFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, SeverityDebug, entries[0].Severity)
}

func TestLogsByteArrayMessage(t *testing.T) {
	out := `{"__REALTIME_TIMESTAMP":"1000000","PRIORITY":"6","_SYSTEMD_UNIT":"vault-proxy.service","MESSAGE":[104,105]}` + "\n"
	fake := &fakeRunner{outputs: map[string]string{
		"journalctl -o json --no-pager -n 100": out,
	}}
	m := newTestManager(fake, time.Now())

	entries, err := m.Logs(context.Background(), LogFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "hi", entries[0].Message)
}

func TestLogsRejectsBadFilters(t *testing.T) {
	m := newTestManager(&fakeRunner{}, time.Now())

	_, err := m.Logs(context.Background(), LogFilter{Severity: "noise"})
	require.Error(t, err)
	assert.True(t, commonerrors.IsBadRequest(err))

	_, err = m.Logs(context.Background(), LogFilter{Service: "sshd"})
	require.Error(t, err)
	assert.Equal(t, commonerrors.ServiceUnknown, commonerrors.AsError(err).Code)
}

func TestLogsJournalFailure(t *testing.T) {
	fake := &fakeRunner{errs: map[string]error{
		"journalctl -o json --no-pager -n 100": fmt.Errorf("exit status 1"),
	}}
	m := newTestManager(fake, time.Now())

	_, err := m.Logs(context.Background(), LogFilter{})
	require.Error(t, err)
	assert.True(t, commonerrors.IsUnavailable(err))
}

func TestSyntheticLogsAreDeterministic(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := &Manager{runner: (&fakeRunner{}).run, linux: false, now: func() time.Time { return at }}

	first, err := m.Logs(context.Background(), LogFilter{Limit: 20})
	require.NoError(t, err)
	second, err := m.Logs(context.Background(), LogFilter{Limit: 20})
	require.NoError(t, err)
	require.Len(t, first, 20)
	assert.Equal(t, first, second)

	for _, entry := range first {
		assert.True(t, Known(entry.Service))
		assert.NotEmpty(t, entry.Message)
	}

	filtered, err := m.Logs(context.Background(), LogFilter{Limit: 20, Service: "proxy"})
	require.NoError(t, err)
	for _, entry := range filtered {
		assert.Equal(t, "proxy", entry.Service)
	}
}

func TestSeverityLadder(t *testing.T) {
	cases := map[int]string{
		0: SeverityCritical,
		2: SeverityCritical,
		3: SeverityError,
		4: SeverityWarning,
		5: SeverityInfo,
		6: SeverityInfo,
		7: SeverityDebug,
	}
	for priority, want := range cases {
		assert.Equal(t, want, severityFromPriority(priority), "priority %d", priority)
	}
}
