/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package config

import (
	"context"
	"strconv"

	"k8s.io/klog/v2"
)

// Runtime-mutable keys stored in the system_config table. Admin endpoints
// write them; components re-read them at their named reload points.
const (
	TrainingEnabled      = "training.enabled"
	TrainingGpuIndex     = "training.gpu_index"
	TrainingMaxMemoryPct = "training.max_memory_pct"

	QuarantineAutoApproveClean = "quarantine.auto_approve_clean"
	QuarantineMaxFileSizeMB    = "quarantine.max_file_size_mb"
	QuarantineMaxBatchFiles    = "quarantine.max_batch_files"
	QuarantineStrictnessLevel  = "quarantine.strictness_level"
	QuarantineContentGate      = "quarantine.enable_content_gate"

	LdapEnabled      = "ldap.enabled"
	LdapURL          = "ldap.url"
	LdapBaseDN       = "ldap.base_dn"
	LdapBindDN       = "ldap.bind_dn"
	LdapUserFilter   = "ldap.user_filter"
	LdapStartTLS     = "ldap.start_tls"
	LdapDefaultRole  = "ldap.default_role"
	NetworkHTTPProxy = "network.http_proxy"
	NetworkNTPServer = "network.ntp_server"
)

var systemDefaults = map[string]string{
	TrainingEnabled:      "true",
	TrainingGpuIndex:     "0",
	TrainingMaxMemoryPct: "90",

	QuarantineAutoApproveClean: "false",
	QuarantineMaxFileSizeMB:    "10240",
	QuarantineMaxBatchFiles:    "256",
	QuarantineStrictnessLevel:  "standard",
	QuarantineContentGate:      "true",

	LdapEnabled:     "false",
	LdapURL:         "",
	LdapBaseDN:      "",
	LdapBindDN:      "",
	LdapUserFilter:  "(uid=%s)",
	LdapStartTLS:    "true",
	LdapDefaultRole: "user",

	NetworkHTTPProxy: "",
	NetworkNTPServer: "",
}

// Store is the narrow capability the system-config overlay needs from the
// relational store.
type Store interface {
	GetConfigValue(ctx context.Context, key string) (string, bool, error)
	SetConfigValue(ctx context.Context, key, value string) error
}

// System resolves runtime configuration keys against the store, materializing
// the default on first read so admins always see the effective value.
type System struct {
	store Store
}

func NewSystem(store Store) *System {
	return &System{store: store}
}

func (s *System) Get(ctx context.Context, key string) string {
	def := systemDefaults[key]
	if s == nil || s.store == nil {
		return def
	}
	val, ok, err := s.store.GetConfigValue(ctx, key)
	if err != nil {
		klog.ErrorS(err, "failed to read system config", "key", key)
		return def
	}
	if ok {
		return val
	}
	if err = s.store.SetConfigValue(ctx, key, def); err != nil {
		klog.ErrorS(err, "failed to materialize config default", "key", key)
	}
	return def
}

func (s *System) GetBool(ctx context.Context, key string) bool {
	val, err := strconv.ParseBool(s.Get(ctx, key))
	if err != nil {
		return false
	}
	return val
}

func (s *System) GetInt(ctx context.Context, key string) int {
	val, err := strconv.Atoi(s.Get(ctx, key))
	if err != nil {
		return 0
	}
	return val
}

func (s *System) GetFloat(ctx context.Context, key string) float64 {
	val, err := strconv.ParseFloat(s.Get(ctx, key), 64)
	if err != nil {
		return 0
	}
	return val
}

func (s *System) Set(ctx context.Context, key, value string) error {
	return s.store.SetConfigValue(ctx, key, value)
}

// KnownKey reports whether key has a registered default.
func KnownKey(key string) bool {
	_, ok := systemDefaults[key]
	return ok
}

// DefaultsWithPrefix returns the default entries under the given namespace.
func DefaultsWithPrefix(prefix string) map[string]string {
	result := make(map[string]string)
	for k, v := range systemDefaults {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			result[k] = v
		}
	}
	return result
}
