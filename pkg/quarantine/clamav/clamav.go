/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package clamav speaks the clamd INSTREAM protocol over a local stream
// socket. The daemon itself is an external service; any transport failure is
// reported as StatusUnavailable rather than an error so callers can treat a
// missing daemon as a soft condition.
package clamav

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"k8s.io/klog/v2"
)

const (
	StatusClean       = "clean"
	StatusInfected    = "infected"
	StatusError       = "error"
	StatusUnavailable = "unavailable"

	streamChunkSize = 32 * 1024
	dialTimeout     = 3 * time.Second
	scanTimeout     = 120 * time.Second
)

// Result is the outcome of one scan.
type Result struct {
	Status string
	// Threat is the signature name when Status is infected.
	Threat string
	// Detail carries the raw daemon response on error.
	Detail string
}

// Scanner scans files through a clamd unix socket.
type Scanner struct {
	socketPath string
}

func NewScanner(socketPath string) *Scanner {
	return &Scanner{socketPath: socketPath}
}

// Ping reports whether the daemon answers on the socket.
func (s *Scanner) Ping(ctx context.Context) bool {
	conn, err := s.dial(ctx)
	if err != nil {
		return false
	}
	defer conn.Close()
	if _, err = conn.Write([]byte("zPING\x00")); err != nil {
		return false
	}
	reply, err := readUntilNull(conn)
	return err == nil && strings.Contains(reply, "PONG")
}

// ScanFile streams the file to the daemon and parses its verdict.
func (s *Scanner) ScanFile(ctx context.Context, path string) Result {
	f, err := os.Open(path)
	if err != nil {
		return Result{Status: StatusError, Detail: err.Error()}
	}
	defer f.Close()
	return s.scanStream(ctx, f)
}

func (s *Scanner) scanStream(ctx context.Context, r io.Reader) Result {
	conn, err := s.dial(ctx)
	if err != nil {
		klog.V(2).Infof("clamd unavailable at %s: %v", s.socketPath, err)
		return Result{Status: StatusUnavailable, Detail: err.Error()}
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(scanTimeout))
	}

	// Command header, then (u32-BE length, chunk) frames, then a zero frame.
	if _, err = conn.Write([]byte("zINSTREAM\x00")); err != nil {
		return Result{Status: StatusUnavailable, Detail: err.Error()}
	}
	buf := make([]byte, streamChunkSize)
	var size [4]byte
	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			binary.BigEndian.PutUint32(size[:], uint32(n))
			if _, err = conn.Write(size[:]); err != nil {
				return Result{Status: StatusUnavailable, Detail: err.Error()}
			}
			if _, err = conn.Write(buf[:n]); err != nil {
				return Result{Status: StatusUnavailable, Detail: err.Error()}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return Result{Status: StatusError, Detail: readErr.Error()}
		}
	}
	binary.BigEndian.PutUint32(size[:], 0)
	if _, err = conn.Write(size[:]); err != nil {
		return Result{Status: StatusUnavailable, Detail: err.Error()}
	}

	reply, err := readUntilNull(conn)
	if err != nil {
		return Result{Status: StatusUnavailable, Detail: err.Error()}
	}
	return parseReply(reply)
}

func (s *Scanner) dial(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{Timeout: dialTimeout}
	return d.DialContext(ctx, "unix", s.socketPath)
}

func readUntilNull(r io.Reader) (string, error) {
	br := bufio.NewReader(r)
	data, err := br.ReadBytes(0)
	if err != nil && len(data) == 0 {
		return "", err
	}
	return strings.TrimRight(string(data), "\x00"), nil
}

// parseReply interprets a clamd verdict line, e.g.
// "stream: OK" or "stream: Eicar-Signature FOUND".
func parseReply(reply string) Result {
	reply = strings.TrimSpace(reply)
	fields := strings.Fields(reply)
	if len(fields) == 0 {
		return Result{Status: StatusError, Detail: "empty response"}
	}
	switch fields[len(fields)-1] {
	case "OK":
		return Result{Status: StatusClean}
	case "FOUND":
		threat := ""
		if len(fields) >= 2 {
			threat = fields[len(fields)-2]
		}
		return Result{Status: StatusInfected, Threat: threat, Detail: reply}
	default:
		return Result{Status: StatusError, Detail: reply}
	}
}
