/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	commonerrors "github.com/vault-appliance/vault/pkg/errors"
)

func TestUpdateStatusFreshInstall(t *testing.T) {
	fx := newFixture(t)
	w := fx.do(http.MethodGet, "/vault/updates/status", adminToken, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"current_version":"unknown"`)
}

func TestUpdateApplyNeedsExactConfirmation(t *testing.T) {
	fx := newFixture(t)
	for _, confirmation := range []string{"", "apply update", "yes", "APPLY-UPDATE"} {
		w := fx.do(http.MethodPost, "/vault/updates/apply", adminToken,
			`{"bundle_path":"/mnt/usb/bundle","confirmation":"`+confirmation+`"}`)
		require.Equal(t, http.StatusBadRequest, w.Code, confirmation)
		assert.Contains(t, w.Body.String(), commonerrors.ConfirmationNeeded)
	}
}

func TestUpdateRollbackNeedsExactConfirmation(t *testing.T) {
	fx := newFixture(t)
	w := fx.do(http.MethodPost, "/vault/updates/rollback", adminToken,
		`{"confirmation":"rollback update"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), commonerrors.ConfirmationNeeded)
}

func TestUpdateRollbackWithoutBackup(t *testing.T) {
	fx := newFixture(t)
	w := fx.do(http.MethodPost, "/vault/updates/rollback", adminToken,
		`{"confirmation":"ROLLBACK UPDATE"}`)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), commonerrors.NoBackupAvailable)
}

func TestUpdatePendingEmpty(t *testing.T) {
	fx := newFixture(t)
	w := fx.do(http.MethodGet, "/vault/updates/pending", adminToken, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"bundles"`)
}

func TestBackupAndRestoreRoundTrip(t *testing.T) {
	fx := newFixture(t)
	// give the engine something to snapshot
	installRoot := fx.installRoot
	require.NoError(t, os.MkdirAll(filepath.Join(installRoot, "inference"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(installRoot, "inference", "model.bin"), []byte("v1"), 0o644))

	w := fx.do(http.MethodPost, "/vault/admin/backup", adminToken, "")
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"backup_path"`)

	// mutate, then restore the snapshot over it
	require.NoError(t, os.WriteFile(filepath.Join(installRoot, "inference", "model.bin"), []byte("v2"), 0o644))

	rsp := fx.do(http.MethodPost, "/vault/admin/restore", adminToken,
		`{"confirmation":"RESTORE BACKUP"}`)
	require.Equal(t, http.StatusOK, rsp.Code, rsp.Body.String())

	data, err := os.ReadFile(filepath.Join(installRoot, "inference", "model.bin"))
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))
}

func TestRestoreNeedsExactConfirmation(t *testing.T) {
	fx := newFixture(t)
	w := fx.do(http.MethodPost, "/vault/admin/restore", adminToken,
		`{"confirmation":"restore backup"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), commonerrors.ConfirmationNeeded)
}

func TestRestoreWithoutBackup(t *testing.T) {
	fx := newFixture(t)
	w := fx.do(http.MethodPost, "/vault/admin/restore", adminToken,
		`{"confirmation":"RESTORE BACKUP"}`)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), commonerrors.NoBackupAvailable)
}
