/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package adapters

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"time"

	sqrl "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"k8s.io/klog/v2"

	"github.com/vault-appliance/vault/pkg/config"
	"github.com/vault-appliance/vault/pkg/database/client"
	commonerrors "github.com/vault-appliance/vault/pkg/errors"
)

type Store interface {
	GetAdapter(ctx context.Context, id string) (*client.Adapter, error)
	UpsertAdapter(ctx context.Context, adapter *client.Adapter) error
	SelectAdapters(ctx context.Context, query sqrl.Sqlizer, orderBy []string, limit, offset int) ([]*client.Adapter, error)
	DeleteAdapter(ctx context.Context, id string) error
}

// Manager owns the engine adapter YAML and the adapter registry rows. A
// single mutex serializes YAML edits and the engine restart they trigger.
type Manager struct {
	store Store
	cfg   *EngineConfigFile

	// restartEngine runs the configured restart command and blocks until the
	// engine answers its health probe. Replaced in tests.
	restartEngine func(ctx context.Context) error
}

func NewManager(store Store) *Manager {
	m := &Manager{
		store: store,
		cfg:   NewEngineConfigFile(config.GetEngineConfigPath()),
	}
	m.restartEngine = m.commandRestart
	return m
}

func (m *Manager) List(ctx context.Context) ([]*client.Adapter, error) {
	return m.store.SelectAdapters(ctx, nil, []string{"created_at DESC"}, -1, 0)
}

func (m *Manager) Get(ctx context.Context, id string) (*client.Adapter, error) {
	return m.store.GetAdapter(ctx, id)
}

// Activate adds the adapter to the engine YAML and restarts the engine. A
// second activation of an already-active adapter is a no-op.
func (m *Manager) Activate(ctx context.Context, id string) (*client.Adapter, error) {
	adapter, err := m.store.GetAdapter(ctx, id)
	if err != nil {
		return nil, err
	}
	if adapter.IsActive() {
		return adapter, nil
	}

	m.cfg.Lock()
	defer m.cfg.Unlock()

	if err = m.cfg.AddAdapter(EngineAdapter{
		Name:      adapter.Name,
		Path:      adapter.Path,
		BaseModel: adapter.BaseModel,
	}); err != nil {
		return nil, err
	}
	if err = m.restartEngine(ctx); err != nil {
		// Roll the YAML back so the file matches the engine that is running.
		if rerr := m.cfg.RemoveAdapter(adapter.Name); rerr != nil {
			klog.ErrorS(rerr, "failed to revert engine config", "adapter", adapter.Name)
		}
		return nil, err
	}

	// The engine serves one adapter per name, so a previously-active row with
	// this name has just been superseded; demote it before promoting the new one.
	stale, err := m.store.SelectAdapters(ctx,
		sqrl.Eq{"name": adapter.Name, "status": client.AdapterStatusActive}, nil, -1, 0)
	if err != nil {
		return nil, err
	}
	for _, prev := range stale {
		if prev.Id == adapter.Id {
			continue
		}
		prev.Status = client.AdapterStatusReady
		prev.ActivatedAt = pq.NullTime{}
		if err = m.store.UpsertAdapter(ctx, prev); err != nil {
			return nil, err
		}
		klog.Infof("demoted adapter %s (%s), superseded by %s", prev.Name, prev.Id, adapter.Id)
	}

	adapter.Status = client.AdapterStatusActive
	adapter.ActivatedAt = pq.NullTime{Time: time.Now().UTC(), Valid: true}
	if err = m.store.UpsertAdapter(ctx, adapter); err != nil {
		return nil, err
	}
	klog.Infof("activated adapter %s (%s)", adapter.Name, adapter.Id)
	return adapter, nil
}

// Deactivate removes the adapter from the engine YAML and restarts the
// engine. Deactivating a non-active adapter is a no-op.
func (m *Manager) Deactivate(ctx context.Context, id string) (*client.Adapter, error) {
	adapter, err := m.store.GetAdapter(ctx, id)
	if err != nil {
		return nil, err
	}
	if !adapter.IsActive() {
		return adapter, nil
	}

	m.cfg.Lock()
	defer m.cfg.Unlock()

	if err = m.cfg.RemoveAdapter(adapter.Name); err != nil {
		return nil, err
	}
	if err = m.restartEngine(ctx); err != nil {
		return nil, err
	}

	adapter.Status = client.AdapterStatusReady
	adapter.ActivatedAt = pq.NullTime{}
	if err = m.store.UpsertAdapter(ctx, adapter); err != nil {
		return nil, err
	}
	klog.Infof("deactivated adapter %s (%s)", adapter.Name, adapter.Id)
	return adapter, nil
}

// Delete removes the registry row and the on-disk artifact tree. Active
// adapters must be deactivated first.
func (m *Manager) Delete(ctx context.Context, id string) error {
	adapter, err := m.store.GetAdapter(ctx, id)
	if err != nil {
		return err
	}
	if adapter.IsActive() {
		return commonerrors.NewConflictWithCode(commonerrors.AdapterActive,
			fmt.Sprintf("adapter %s is active, deactivate it before deleting", adapter.Name))
	}
	if adapter.Path != "" {
		if err = os.RemoveAll(adapter.Path); err != nil {
			return commonerrors.NewInternalError(
				fmt.Sprintf("failed to remove adapter files: %v", err))
		}
	}
	return m.store.DeleteAdapter(ctx, id)
}

// RegisterFromTraining records the adapter a completed training job produced.
func (m *Manager) RegisterFromTraining(ctx context.Context, adapter *client.Adapter) error {
	if adapter.Status == "" {
		adapter.Status = client.AdapterStatusReady
	}
	if !adapter.CreatedAt.Valid {
		adapter.CreatedAt = pq.NullTime{Time: time.Now().UTC(), Valid: true}
	}
	klog.Infof("registering adapter %s from training job %s", adapter.Name, adapter.TrainingJobId.String)
	return m.store.UpsertAdapter(ctx, adapter)
}

// commandRestart shells out to the configured restart command and waits for
// the engine health endpoint to answer. Idempotent: restarting an
// already-restarting unit is handled by systemd itself.
func (m *Manager) commandRestart(ctx context.Context) error {
	command := config.GetEngineRestartCommand()
	klog.Infof("restarting inference engine: %s", command)
	out, err := exec.CommandContext(ctx, "/bin/sh", "-c", command).CombinedOutput()
	if err != nil {
		klog.ErrorS(err, "engine restart command failed", "output", string(out))
		return commonerrors.NewUnavailable("inference engine restart failed")
	}
	return waitForEngine(ctx, config.GetEngineBaseURL()+config.GetEngineHealthPath(), 2*time.Minute)
}

func waitForEngine(ctx context.Context, healthURL string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	httpClient := &http.Client{Timeout: 5 * time.Second}
	for time.Now().Before(deadline) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
		if err != nil {
			return err
		}
		resp, err := httpClient.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return commonerrors.NewUnavailable("inference engine did not become healthy after restart")
}
