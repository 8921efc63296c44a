/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package quarantine walks untrusted files through an ordered inspection
// pipeline before they are admitted anywhere near the models or datasets.
package quarantine

import (
	"context"

	"github.com/vault-appliance/vault/pkg/database/client"
)

// Stage names in canonical pipeline order.
const (
	StageIntake    = "intake"
	StageAntivirus = "antivirus"
	StageRules     = "rules"
	StageContent   = "content"
	StageSanitize  = "sanitize"
	StageBlacklist = "blacklist"
)

// Finding codes shared across stages.
const (
	CodeUnavailable = "unavailable"
	CodeClean       = "clean"
)

// Finding is one structured observation emitted by a stage.
type Finding struct {
	Stage    string `json:"stage"`
	Severity string `json:"severity"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Details  string `json:"details,omitempty"`
}

// StageResult is the outcome of one stage against one file. When Passed is
// false the file is held and later stages do not run. SanitizedPath is set
// only by stages that rewrite the file.
type StageResult struct {
	Passed        bool
	Findings      []Finding
	SanitizedPath string
}

// Config is the runtime pipeline configuration, re-read on every submission.
type Config struct {
	AutoApproveClean bool
	MaxFileSizeMB    int
	MaxBatchFiles    int
	// StrictnessLevel is standard or strict; strict holds files when the
	// antivirus backend is unreachable instead of recording a soft finding.
	StrictnessLevel string
	ContentGate     bool
}

const (
	StrictnessStandard = "standard"
	StrictnessStrict   = "strict"
)

// Stage is one unit of inspection. Implementations may report themselves
// inapplicable (pass with an informational finding) when their backend is
// missing.
type Stage interface {
	Name() string
	Scan(ctx context.Context, path, originalName string, cfg Config) (StageResult, error)
}

func maxSeverity(a, b string) string {
	if client.SeverityRank(b) > client.SeverityRank(a) {
		return b
	}
	return a
}

func findingsMax(findings []Finding) string {
	severity := client.SeverityNone
	for _, f := range findings {
		severity = maxSeverity(severity, f.Severity)
	}
	return severity
}
