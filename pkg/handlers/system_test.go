/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package handlers

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vault-appliance/vault/pkg/gpu"
)

func TestSystemGpuInventory(t *testing.T) {
	fx := newFixture(t)
	fx.handler.prober = &gpu.StaticProber{Inventory: []gpu.Device{
		{Index: 0, Name: "H100", MemoryUsedMB: 1024, MemoryTotalMB: 81920, MemoryUsedPct: 1.25},
	}}

	w := fx.do(http.MethodGet, "/vault/system/gpu", userToken, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"H100"`)
	assert.Contains(t, w.Body.String(), `"memoryTotalMb":81920`)
}

func TestListServices(t *testing.T) {
	fx := newFixture(t)
	w := fx.do(http.MethodGet, "/vault/system/services", userToken, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "vault-inference.service")
}

func TestRestartServiceAudited(t *testing.T) {
	fx := newFixture(t)
	w := fx.do(http.MethodPost, "/vault/system/services/inference/restart", adminToken, "")
	require.Equal(t, http.StatusOK, w.Code)

	var found bool
	for _, entry := range fx.db.audits {
		if entry.Action == "service.restart" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRestartServiceIsAdminOnly(t *testing.T) {
	fx := newFixture(t)
	w := fx.do(http.MethodPost, "/vault/system/services/inference/restart", userToken, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestUptimeSummary(t *testing.T) {
	fx := newFixture(t)
	w := fx.do(http.MethodGet, "/vault/system/uptime", userToken, "")
	require.Equal(t, http.StatusOK, w.Code)

	var rsp struct {
		Services []struct {
			Service         string  `json:"service"`
			AvailabilityPct float64 `json:"availability_pct_24h"`
		} `json:"services"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rsp))
	require.Len(t, rsp.Services, 1)
	assert.Equal(t, "inference", rsp.Services[0].Service)
	assert.Equal(t, float64(100), rsp.Services[0].AvailabilityPct)
}

func TestGpuAllocationWithoutGpus(t *testing.T) {
	fx := newFixture(t)
	w := fx.do(http.MethodGet, "/vault/training/gpu-allocation", userToken, "")
	require.Equal(t, http.StatusOK, w.Code)
	// a machine with no probed devices still reports the inference slot
	assert.Contains(t, w.Body.String(), `"inference"`)
}

func TestSystemResources(t *testing.T) {
	fx := newFixture(t)
	w := fx.do(http.MethodGet, "/vault/system/resources", userToken, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSystemHealth(t *testing.T) {
	fx := newFixture(t)
	w := fx.do(http.MethodGet, "/vault/system/health", userToken, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"components"`)
}
