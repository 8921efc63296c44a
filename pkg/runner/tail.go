/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package runner

import (
	"strings"
	"sync"
)

const (
	stderrTailBytes = 4 * 1024
	maxErrorChars   = 2000
)

// tailBuffer is an io.Writer retaining only the last stderrTailBytes written.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func newTailBuffer() *tailBuffer {
	return &tailBuffer{}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > stderrTailBytes {
		t.buf = t.buf[len(t.buf)-stderrTailBytes:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

// formatWorkerError turns a raw worker failure into the message stored on the
// job row: known failure patterns are rewritten into actionable guidance and
// the result is capped at maxErrorChars.
func formatWorkerError(raw string) string {
	message := strings.TrimSpace(raw)
	if message == "" {
		message = "worker exited with a non-zero status and no error output"
	}
	if strings.Contains(message, "CUDA out of memory") ||
		strings.Contains(message, "HIP out of memory") {
		message = "The GPU ran out of memory during training. " +
			"Reduce the batch size, enable gradient checkpointing, or lower the LoRA rank, then resubmit the job.\n\n" +
			"Worker output:\n" + message
	}
	if len(message) > maxErrorChars {
		message = message[:maxErrorChars]
	}
	return message
}
