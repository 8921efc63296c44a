/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package rules

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleFilesFindsBothExtensions(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.yar", "b.yara", "ignored.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("rule x {condition: true}"), 0o644))
	}
	e := NewEngine(dir)
	files := e.RuleFiles()
	require.Len(t, files, 2)
	assert.Equal(t, "a.yar", filepath.Base(files[0]))
	assert.Equal(t, "b.yara", filepath.Base(files[1]))
}

func TestParseOutputLegacy(t *testing.T) {
	out := "suspicious_strings [malware,test] /tmp/f\nplain_rule /tmp/f\n\n"
	matches := parseOutput(out, false)
	require.Len(t, matches, 2)
	assert.Equal(t, "suspicious_strings", matches[0].RuleName)
	assert.Equal(t, []string{"malware", "test"}, matches[0].Tags)
	assert.Equal(t, "plain_rule", matches[1].RuleName)
	assert.Empty(t, matches[1].Tags)
}

func TestParseOutputNextGen(t *testing.T) {
	matches := parseOutput("eicar_test /tmp/f\n", true)
	require.Len(t, matches, 1)
	assert.Equal(t, "eicar_test", matches[0].RuleName)
}

func TestScanWithoutRulesIsInapplicable(t *testing.T) {
	e := NewEngine(t.TempDir())
	matches, applicable, err := e.Scan(context.Background(), "/tmp/whatever")
	require.NoError(t, err)
	assert.False(t, applicable)
	assert.Empty(t, matches)
}
