/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package rules wraps a YARA-family scanner binary. The next-generation
// engine ships as `yr`, the legacy one as `yara`; the capability probe picks
// whichever is installed so the appliance works with either toolchain.
package rules

import (
	"context"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"k8s.io/klog/v2"
)

const scanTimeout = 60 * time.Second

// Match is one rule hit against a file.
type Match struct {
	RuleName string   `json:"rule_name"`
	Tags     []string `json:"tags,omitempty"`
	Meta     string   `json:"meta,omitempty"`
}

// Engine shells out to a YARA binary with rules loaded from a directory.
type Engine struct {
	rulesDir string

	probeOnce sync.Once
	binary    string
	nextGen   bool
}

func NewEngine(rulesDir string) *Engine {
	return &Engine{rulesDir: rulesDir}
}

func (e *Engine) probe() {
	e.probeOnce.Do(func() {
		if path, err := exec.LookPath("yr"); err == nil {
			e.binary = path
			e.nextGen = true
			return
		}
		if path, err := exec.LookPath("yara"); err == nil {
			e.binary = path
			return
		}
		klog.V(2).Info("no YARA binary found, rule scanning disabled")
	})
}

// Available reports whether a scanner binary is installed.
func (e *Engine) Available() bool {
	e.probe()
	return e.binary != ""
}

// RuleFiles lists the loadable rule sources under the rules directory.
func (e *Engine) RuleFiles() []string {
	var files []string
	for _, pattern := range []string{"*.yar", "*.yara"} {
		matched, err := filepath.Glob(filepath.Join(e.rulesDir, pattern))
		if err != nil {
			continue
		}
		files = append(files, matched...)
	}
	sort.Strings(files)
	return files
}

// Scan runs every rule file against the target and returns the union of
// matches. A missing binary or empty rules directory yields (nil, false, nil)
// so the caller can mark the stage inapplicable.
func (e *Engine) Scan(ctx context.Context, target string) ([]Match, bool, error) {
	e.probe()
	ruleFiles := e.RuleFiles()
	if e.binary == "" || len(ruleFiles) == 0 {
		return nil, false, nil
	}

	ctx, cancel := context.WithTimeout(ctx, scanTimeout)
	defer cancel()

	var matches []Match
	for _, ruleFile := range ruleFiles {
		out, err := e.run(ctx, ruleFile, target)
		if err != nil {
			// Exit status 1 from either binary means a rule compile or scan
			// error for this file; skip it rather than failing the stage.
			klog.V(2).Infof("rule file %s failed: %v", ruleFile, err)
			continue
		}
		matches = append(matches, parseOutput(out, e.nextGen)...)
	}
	return matches, true, nil
}

func (e *Engine) run(ctx context.Context, ruleFile, target string) (string, error) {
	var cmd *exec.Cmd
	if e.nextGen {
		cmd = exec.CommandContext(ctx, e.binary, "scan", ruleFile, target)
	} else {
		cmd = exec.CommandContext(ctx, e.binary, "-g", ruleFile, target)
	}
	out, err := cmd.Output()
	return string(out), err
}

// parseOutput reads one match per line. Legacy output with -g looks like
// "rule_name [tag1,tag2] /path"; yara-x scan output is "rule_name /path".
func parseOutput(out string, nextGen bool) []Match {
	var matches []Match
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		m := Match{RuleName: fields[0]}
		if !nextGen && len(fields) >= 3 && strings.HasPrefix(fields[1], "[") {
			tags := strings.Trim(fields[1], "[]")
			if tags != "" {
				m.Tags = strings.Split(tags, ",")
			}
		}
		matches = append(matches, m)
	}
	return matches
}
