/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package quarantine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"k8s.io/klog/v2"

	commonerrors "github.com/vault-appliance/vault/pkg/errors"
	"github.com/vault-appliance/vault/pkg/utils/fileutil"
	"github.com/vault-appliance/vault/pkg/utils/timeutil"
)

const (
	FreshnessFresh    = "fresh"
	FreshnessStale    = "stale"
	FreshnessOutdated = "outdated"
	FreshnessMissing  = "missing"

	freshWindow = 24 * time.Hour
	staleWindow = 168 * time.Hour
)

// SourceFreshness describes one signature source for the status endpoint.
type SourceFreshness struct {
	Source    string  `json:"source"`
	Freshness string  `json:"freshness"`
	UpdatedAt string  `json:"updated_at,omitempty"`
	AgeHours  float64 `json:"age_hours,omitempty"`
	Artifacts int     `json:"artifacts"`
}

// SignatureStore owns the on-disk signature layout:
// {root}/signatures/{av,rules}/… plus {root}/signatures/blacklist.json.
type SignatureStore struct {
	root string
}

func NewSignatureStore(quarantineRoot string) *SignatureStore {
	return &SignatureStore{root: filepath.Join(quarantineRoot, "signatures")}
}

func (s *SignatureStore) AvDir() string         { return filepath.Join(s.root, "av") }
func (s *SignatureStore) RulesDir() string      { return filepath.Join(s.root, "rules") }
func (s *SignatureStore) BlacklistPath() string { return filepath.Join(s.root, "blacklist.json") }

// Freshness classifies each source by the age of its newest artifact.
func (s *SignatureStore) Freshness(now time.Time) []SourceFreshness {
	return []SourceFreshness{
		s.classify("antivirus", newestIn(s.AvDir(), nil), countIn(s.AvDir(), nil), now),
		s.classify("rules", newestIn(s.RulesDir(), ruleExtensions), countIn(s.RulesDir(), ruleExtensions), now),
		s.classifyFile("blacklist", s.BlacklistPath(), now),
	}
}

var ruleExtensions = map[string]bool{".yar": true, ".yara": true}

func (s *SignatureStore) classify(source string, newest time.Time, artifacts int, now time.Time) SourceFreshness {
	if newest.IsZero() {
		return SourceFreshness{Source: source, Freshness: FreshnessMissing}
	}
	age := now.Sub(newest)
	return SourceFreshness{
		Source:    source,
		Freshness: classifyAge(age),
		UpdatedAt: newest.UTC().Format(timeutil.TimeRFC3339Short),
		AgeHours:  age.Hours(),
		Artifacts: artifacts,
	}
}

func (s *SignatureStore) classifyFile(source, path string, now time.Time) SourceFreshness {
	info, err := os.Stat(path)
	if err != nil {
		return SourceFreshness{Source: source, Freshness: FreshnessMissing}
	}
	res := s.classify(source, info.ModTime(), 1, now)
	return res
}

func classifyAge(age time.Duration) string {
	switch {
	case age < freshWindow:
		return FreshnessFresh
	case age < staleWindow:
		return FreshnessStale
	default:
		return FreshnessOutdated
	}
}

func newestIn(dir string, extensions map[string]bool) time.Time {
	var newest time.Time
	entries, err := os.ReadDir(dir)
	if err != nil {
		return newest
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if extensions != nil && !extensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
	}
	return newest
}

func countIn(dir string, extensions map[string]bool) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	count := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if extensions != nil && !extensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		count++
	}
	return count
}

// InstallResult summarizes one signature bundle install.
type InstallResult struct {
	AvFiles          int      `json:"av_files"`
	RuleFiles        int      `json:"rule_files"`
	BlacklistEntries int      `json:"blacklist_entries"`
	Skipped          []string `json:"skipped,omitempty"`
}

// InstallFromDir copies recognized signature artifacts from a removable-media
// directory into the store. Unrecognized files are skipped, never an error; a
// blacklist file that does not parse is skipped with a log line.
func (s *SignatureStore) InstallFromDir(sourceDir string) (*InstallResult, error) {
	entries, err := os.ReadDir(sourceDir)
	if err != nil {
		return nil, commonerrors.NewBadRequest(fmt.Sprintf("cannot read signature directory: %v", err))
	}
	res := &InstallResult{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		src := filepath.Join(sourceDir, e.Name())
		ext := strings.ToLower(filepath.Ext(e.Name()))
		switch {
		case ext == ".cvd" || ext == ".cld":
			if err = fileutil.CopyFile(src, filepath.Join(s.AvDir(), e.Name())); err != nil {
				return nil, err
			}
			res.AvFiles++
		case ruleExtensions[ext]:
			if err = fileutil.CopyFile(src, filepath.Join(s.RulesDir(), e.Name())); err != nil {
				return nil, err
			}
			res.RuleFiles++
		case strings.EqualFold(e.Name(), "blacklist.json"):
			if err = ValidateBlacklistFile(src); err != nil {
				klog.ErrorS(err, "rejecting malformed blacklist file", "path", src)
				res.Skipped = append(res.Skipped, e.Name())
				continue
			}
			if err = fileutil.CopyFile(src, s.BlacklistPath()); err != nil {
				return nil, err
			}
			bl, err := LoadBlacklist(s.BlacklistPath())
			if err == nil {
				res.BlacklistEntries = bl.Len()
			}
		default:
			res.Skipped = append(res.Skipped, e.Name())
		}
	}
	return res, nil
}
