/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package clamav

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClamd answers one connection with the supplied verdict after draining
// the INSTREAM frames.
func fakeClamd(t *testing.T, verdict string) string {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), "clamd.sock")
	ln, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				br := bufio.NewReader(c)
				cmd, err := br.ReadBytes(0)
				if err != nil {
					return
				}
				if string(cmd) == "zPING\x00" {
					c.Write([]byte("PONG\x00"))
					return
				}
				var size [4]byte
				for {
					if _, err := io.ReadFull(br, size[:]); err != nil {
						return
					}
					n := binary.BigEndian.Uint32(size[:])
					if n == 0 {
						break
					}
					if _, err := io.CopyN(io.Discard, br, int64(n)); err != nil {
						return
					}
				}
				c.Write([]byte(verdict + "\x00"))
			}(conn)
		}
	}()
	return socketPath
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.bin")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestScanFileClean(t *testing.T) {
	s := NewScanner(fakeClamd(t, "stream: OK"))
	res := s.ScanFile(context.Background(), writeTemp(t, "hello"))
	assert.Equal(t, StatusClean, res.Status)
}

func TestScanFileInfected(t *testing.T) {
	s := NewScanner(fakeClamd(t, "stream: Eicar-Signature FOUND"))
	res := s.ScanFile(context.Background(), writeTemp(t, "bad"))
	assert.Equal(t, StatusInfected, res.Status)
	assert.Equal(t, "Eicar-Signature", res.Threat)
}

func TestScanFileDaemonError(t *testing.T) {
	s := NewScanner(fakeClamd(t, "INSTREAM size limit exceeded. ERROR"))
	res := s.ScanFile(context.Background(), writeTemp(t, "big"))
	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Detail, "size limit")
}

func TestScanFileUnavailable(t *testing.T) {
	s := NewScanner(filepath.Join(t.TempDir(), "missing.sock"))
	res := s.ScanFile(context.Background(), writeTemp(t, "x"))
	assert.Equal(t, StatusUnavailable, res.Status)
}

func TestPing(t *testing.T) {
	s := NewScanner(fakeClamd(t, "stream: OK"))
	assert.True(t, s.Ping(context.Background()))

	down := NewScanner(filepath.Join(t.TempDir(), "missing.sock"))
	assert.False(t, down.Ping(context.Background()))
}

func TestParseReply(t *testing.T) {
	cases := []struct {
		reply  string
		status string
		threat string
	}{
		{"stream: OK", StatusClean, ""},
		{"stream: Win.Test.EICAR_HDB-1 FOUND", StatusInfected, "Win.Test.EICAR_HDB-1"},
		{"stream: garbage ERROR", StatusError, ""},
		{"", StatusError, ""},
	}
	for _, tc := range cases {
		res := parseReply(tc.reply)
		assert.Equal(t, tc.status, res.Status, tc.reply)
		assert.Equal(t, tc.threat, res.Threat, tc.reply)
	}
}
