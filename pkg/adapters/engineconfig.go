/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package adapters

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	commonerrors "github.com/vault-appliance/vault/pkg/errors"
	"github.com/vault-appliance/vault/pkg/utils/fileutil"
)

type EngineAdapter struct {
	Name      string `yaml:"name" json:"name"`
	Path      string `yaml:"path" json:"path"`
	BaseModel string `yaml:"base_model" json:"base_model"`
}

// EngineConfigFile edits the engine YAML in place. The file is decoded as a
// generic map so keys the manager does not own (placement policy, engine
// tuning) survive a rewrite.
type EngineConfigFile struct {
	path string
	mu   sync.Mutex
}

func NewEngineConfigFile(path string) *EngineConfigFile {
	return &EngineConfigFile{path: path}
}

func (f *EngineConfigFile) Lock()   { f.mu.Lock() }
func (f *EngineConfigFile) Unlock() { f.mu.Unlock() }

func (f *EngineConfigFile) read() (map[string]interface{}, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return map[string]interface{}{"placement": "balanced"}, nil
	}
	if err != nil {
		return nil, commonerrors.NewInternalError(fmt.Sprintf("failed to read engine config: %v", err))
	}
	cfg := map[string]interface{}{}
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, commonerrors.NewInternalError(fmt.Sprintf("engine config is not valid YAML: %v", err))
	}
	if cfg == nil {
		cfg = map[string]interface{}{}
	}
	return cfg, nil
}

func (f *EngineConfigFile) write(cfg map[string]interface{}) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return commonerrors.NewInternalError(fmt.Sprintf("failed to encode engine config: %v", err))
	}
	return fileutil.WriteFileAtomic(f.path, data, 0o644)
}

func adapterEntries(cfg map[string]interface{}) []interface{} {
	entries, _ := cfg["adapters"].([]interface{})
	return entries
}

func entryName(entry interface{}) string {
	if m, ok := entry.(map[string]interface{}); ok {
		if name, ok := m["name"].(string); ok {
			return name
		}
	}
	return ""
}

// AddAdapter appends the entry, replacing any existing entry with the same
// name. Callers hold the lock.
func (f *EngineConfigFile) AddAdapter(adapter EngineAdapter) error {
	cfg, err := f.read()
	if err != nil {
		return err
	}
	kept := make([]interface{}, 0)
	for _, entry := range adapterEntries(cfg) {
		if entryName(entry) != adapter.Name {
			kept = append(kept, entry)
		}
	}
	kept = append(kept, map[string]interface{}{
		"name":       adapter.Name,
		"path":       adapter.Path,
		"base_model": adapter.BaseModel,
	})
	cfg["adapters"] = kept
	return f.write(cfg)
}

// RemoveAdapter drops every entry with the given name. Callers hold the lock.
func (f *EngineConfigFile) RemoveAdapter(name string) error {
	cfg, err := f.read()
	if err != nil {
		return err
	}
	kept := make([]interface{}, 0)
	for _, entry := range adapterEntries(cfg) {
		if entryName(entry) != name {
			kept = append(kept, entry)
		}
	}
	cfg["adapters"] = kept
	return f.write(cfg)
}

// ActiveAdapters lists the entries currently in the file.
func (f *EngineConfigFile) ActiveAdapters() ([]EngineAdapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cfg, err := f.read()
	if err != nil {
		return nil, err
	}
	var adapters []EngineAdapter
	for _, entry := range adapterEntries(cfg) {
		m, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		adapter := EngineAdapter{Name: entryName(entry)}
		adapter.Path, _ = m["path"].(string)
		adapter.BaseModel, _ = m["base_model"].(string)
		adapters = append(adapters, adapter)
	}
	return adapters, nil
}
