/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package config

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	values map[string]string
	errs   bool
}

func (m *memStore) GetConfigValue(_ context.Context, key string) (string, bool, error) {
	if m.errs {
		return "", false, fmt.Errorf("connection refused")
	}
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memStore) SetConfigValue(_ context.Context, key, value string) error {
	if m.errs {
		return fmt.Errorf("connection refused")
	}
	m.values[key] = value
	return nil
}

func TestSystemReturnsDefaultAndMaterializes(t *testing.T) {
	store := &memStore{values: map[string]string{}}
	sys := NewSystem(store)
	ctx := context.Background()

	assert.Equal(t, "true", sys.Get(ctx, TrainingEnabled))
	// the default got written through so admins see the effective value
	assert.Equal(t, "true", store.values[TrainingEnabled])
}

func TestSystemStoredValueWins(t *testing.T) {
	store := &memStore{values: map[string]string{TrainingMaxMemoryPct: "75"}}
	sys := NewSystem(store)
	assert.Equal(t, 75.0, sys.GetFloat(context.Background(), TrainingMaxMemoryPct))
}

func TestSystemStoreErrorFallsBackToDefault(t *testing.T) {
	sys := NewSystem(&memStore{errs: true})
	assert.Equal(t, "90", sys.Get(context.Background(), TrainingMaxMemoryPct))
}

func TestSystemTypedGetters(t *testing.T) {
	store := &memStore{values: map[string]string{
		TrainingEnabled:           "not-a-bool",
		TrainingGpuIndex:          "2",
		QuarantineMaxBatchFiles:   "128",
		TrainingMaxMemoryPct:      "85.5",
		QuarantineStrictnessLevel: "strict",
	}}
	sys := NewSystem(store)
	ctx := context.Background()

	assert.False(t, sys.GetBool(ctx, TrainingEnabled), "unparsable bool reads false")
	assert.Equal(t, 2, sys.GetInt(ctx, TrainingGpuIndex))
	assert.Equal(t, 128, sys.GetInt(ctx, QuarantineMaxBatchFiles))
	assert.Equal(t, 85.5, sys.GetFloat(ctx, TrainingMaxMemoryPct))
	assert.Equal(t, "strict", sys.Get(ctx, QuarantineStrictnessLevel))
}

func TestSystemSetWritesThrough(t *testing.T) {
	store := &memStore{values: map[string]string{}}
	sys := NewSystem(store)
	require.NoError(t, sys.Set(context.Background(), LdapEnabled, "true"))
	assert.Equal(t, "true", store.values[LdapEnabled])
}

func TestKnownKey(t *testing.T) {
	assert.True(t, KnownKey(TrainingEnabled))
	assert.True(t, KnownKey(QuarantineContentGate))
	assert.False(t, KnownKey("training.bogus"))
	assert.False(t, KnownKey(""))
}

func TestDefaultsWithPrefix(t *testing.T) {
	training := DefaultsWithPrefix("training.")
	require.NotEmpty(t, training)
	for k := range training {
		assert.Contains(t, k, "training.")
	}
	assert.Equal(t, "true", training[TrainingEnabled])

	all := DefaultsWithPrefix("")
	assert.Greater(t, len(all), len(training))

	assert.Empty(t, DefaultsWithPrefix("bogus."))
}
