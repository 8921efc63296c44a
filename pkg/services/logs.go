/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package services

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"k8s.io/klog/v2"

	commonerrors "github.com/vault-appliance/vault/pkg/errors"
)

const (
	SeverityCritical = "critical"
	SeverityError    = "error"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
	SeverityDebug    = "debug"

	defaultLogLimit = 100
	maxLogLimit     = 1000
)

type LogFilter struct {
	Service  string
	Severity string
	Since    time.Time
	Limit    int
	Offset   int
}

type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
}

// journal priority → severity ladder. 0-2 are the emergency tiers, 5 and 6
// (notice, info) both fold into info.
func severityFromPriority(priority int) string {
	switch {
	case priority <= 2:
		return SeverityCritical
	case priority == 3:
		return SeverityError
	case priority == 4:
		return SeverityWarning
	case priority <= 6:
		return SeverityInfo
	default:
		return SeverityDebug
	}
}

// highestPriorityFor inverts the ladder for journalctl's -p flag, which
// selects everything at or above the given priority.
func highestPriorityFor(severity string) (int, bool) {
	switch severity {
	case SeverityCritical:
		return 2, true
	case SeverityError:
		return 3, true
	case SeverityWarning:
		return 4, true
	case SeverityInfo:
		return 6, true
	case SeverityDebug:
		return 7, true
	}
	return 0, false
}

// severityAtLeast mirrors journalctl -p: a filter of "error" also admits
// critical entries.
func severityAtLeast(severity, floor string) bool {
	sp, ok := highestPriorityFor(severity)
	if !ok {
		return false
	}
	fp, _ := highestPriorityFor(floor)
	return sp <= fp
}

func (f *LogFilter) normalize() error {
	if f.Limit <= 0 {
		f.Limit = defaultLogLimit
	}
	if f.Limit > maxLogLimit {
		f.Limit = maxLogLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.Severity != "" {
		if _, ok := highestPriorityFor(f.Severity); !ok {
			return commonerrors.NewBadRequest(fmt.Sprintf("unknown severity %q", f.Severity))
		}
	}
	if f.Service != "" && !Known(f.Service) {
		return commonerrors.NewNotFoundWithCode(commonerrors.ServiceUnknown,
			fmt.Sprintf("unknown service %q", f.Service))
	}
	return nil
}

// Logs returns structured journal records, newest first. On non-Linux
// platforms it synthesizes a deterministic pool so the UI stays exercisable.
func (m *Manager) Logs(ctx context.Context, filter LogFilter) ([]*LogEntry, error) {
	if err := filter.normalize(); err != nil {
		return nil, err
	}
	if !m.linux {
		return m.syntheticLogs(filter), nil
	}

	args := []string{"-o", "json", "--no-pager", "-n", strconv.Itoa(filter.Limit + filter.Offset)}
	if filter.Service != "" {
		args = append(args, "-u", managedUnits[filter.Service].unit)
	}
	if filter.Severity != "" {
		p, _ := highestPriorityFor(filter.Severity)
		args = append(args, "-p", strconv.Itoa(p))
	}
	if !filter.Since.IsZero() {
		args = append(args, "--since", filter.Since.Format("2006-01-02 15:04:05"))
	}
	out, err := m.runner(ctx, "journalctl", args...)
	if err != nil {
		klog.ErrorS(err, "journalctl failed", "args", args)
		return nil, commonerrors.NewUnavailable("journal is not readable")
	}

	entries := parseJournalLines(out)
	if filter.Offset >= len(entries) {
		return []*LogEntry{}, nil
	}
	entries = entries[filter.Offset:]
	if len(entries) > filter.Limit {
		entries = entries[:filter.Limit]
	}
	return entries, nil
}

// Follow streams journal entries onto out as they are written, until ctx is
// cancelled. The journalctl child dies with the context. On non-Linux hosts a
// synthetic entry is emitted every couple of seconds so the console stays
// exercisable.
func (m *Manager) Follow(ctx context.Context, filter LogFilter, out chan<- *LogEntry) error {
	if err := filter.normalize(); err != nil {
		return err
	}
	if !m.linux {
		m.followSynthetic(ctx, filter, out)
		return nil
	}

	args := []string{"-f", "-o", "json", "--no-pager", "-n", "0"}
	if filter.Service != "" {
		args = append(args, "-u", managedUnits[filter.Service].unit)
	}
	if filter.Severity != "" {
		p, _ := highestPriorityFor(filter.Severity)
		args = append(args, "-p", strconv.Itoa(p))
	}
	cmd := exec.CommandContext(ctx, "journalctl", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return commonerrors.NewInternalError(err.Error())
	}
	if err = cmd.Start(); err != nil {
		klog.ErrorS(err, "journalctl -f failed to start", "args", args)
		return commonerrors.NewUnavailable("journal is not readable")
	}
	defer func() { _ = cmd.Wait() }()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var record journalRecord
		if json.Unmarshal(scanner.Bytes(), &record) != nil {
			continue
		}
		select {
		case out <- record.toEntry():
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

func (m *Manager) followSynthetic(ctx context.Context, filter LogFilter, out chan<- *LogEntry) {
	rng := rand.New(rand.NewSource(m.now().UnixNano()))
	names := Names()
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			pick := syntheticMessages[rng.Intn(len(syntheticMessages))]
			entry := &LogEntry{
				Timestamp: now.UTC(),
				Service:   names[rng.Intn(len(names))],
				Severity:  pick.severity,
				Message:   pick.message,
			}
			if filter.Service != "" && entry.Service != filter.Service {
				continue
			}
			if filter.Severity != "" && !severityAtLeast(entry.Severity, filter.Severity) {
				continue
			}
			select {
			case out <- entry:
			case <-ctx.Done():
				return
			}
		}
	}
}

// journalRecord is the slice of journalctl -o json fields we read. MESSAGE is
// raw because journald emits non-UTF-8 payloads as byte arrays.
type journalRecord struct {
	RealtimeTimestamp string          `json:"__REALTIME_TIMESTAMP"`
	Priority          string          `json:"PRIORITY"`
	Message           json.RawMessage `json:"MESSAGE"`
	SystemdUnit       string          `json:"_SYSTEMD_UNIT"`
	SyslogIdentifier  string          `json:"SYSLOG_IDENTIFIER"`
}

func parseJournalLines(out string) []*LogEntry {
	var entries []*LogEntry
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var record journalRecord
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			continue
		}
		entries = append(entries, record.toEntry())
	}
	// journalctl prints oldest first.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries
}

func (r *journalRecord) toEntry() *LogEntry {
	entry := &LogEntry{Severity: SeverityInfo}
	if micros, err := strconv.ParseInt(r.RealtimeTimestamp, 10, 64); err == nil {
		entry.Timestamp = time.UnixMicro(micros).UTC()
	}
	if priority, err := strconv.Atoi(r.Priority); err == nil {
		entry.Severity = severityFromPriority(priority)
	}
	service := r.SystemdUnit
	if service == "" {
		service = r.SyslogIdentifier
	}
	entry.Service = strings.TrimSuffix(service, ".service")
	entry.Message = decodeJournalMessage(r.Message)
	return entry
}

func decodeJournalMessage(raw json.RawMessage) string {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	var bytes []byte
	if err := json.Unmarshal(raw, &bytes); err == nil {
		return string(bytes)
	}
	return ""
}

var syntheticMessages = []struct {
	severity string
	message  string
}{
	{SeverityInfo, "health check passed"},
	{SeverityInfo, "request served"},
	{SeverityInfo, "configuration reloaded"},
	{SeverityDebug, "cache refreshed"},
	{SeverityDebug, "heartbeat sent"},
	{SeverityWarning, "slow response from backend"},
	{SeverityWarning, "disk usage above threshold"},
	{SeverityError, "request failed with status 502"},
	{SeverityCritical, "unit restarted after crash"},
}

// syntheticLogs produces a stable pseudorandom stream for development hosts.
// The seed is fixed so repeated queries page consistently.
func (m *Manager) syntheticLogs(filter LogFilter) []*LogEntry {
	rng := rand.New(rand.NewSource(20250101))
	names := Names()
	now := m.now().UTC().Truncate(time.Second)

	var entries []*LogEntry
	for i := 0; len(entries) < filter.Offset+filter.Limit && i < 10*(filter.Offset+filter.Limit); i++ {
		pick := syntheticMessages[rng.Intn(len(syntheticMessages))]
		entry := &LogEntry{
			Timestamp: now.Add(-time.Duration(i*30) * time.Second),
			Service:   names[rng.Intn(len(names))],
			Severity:  pick.severity,
			Message:   pick.message,
		}
		if filter.Service != "" && entry.Service != filter.Service {
			continue
		}
		if filter.Severity != "" && !severityAtLeast(entry.Severity, filter.Severity) {
			continue
		}
		if !filter.Since.IsZero() && entry.Timestamp.Before(filter.Since) {
			continue
		}
		entries = append(entries, entry)
	}
	if filter.Offset >= len(entries) {
		return []*LogEntry{}
	}
	entries = entries[filter.Offset:]
	if len(entries) > filter.Limit {
		entries = entries[:filter.Limit]
	}
	return entries
}
