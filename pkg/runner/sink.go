/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package runner

import (
	"context"

	"github.com/vault-appliance/vault/pkg/progress"
)

// StatusSink is the narrow capability the runner needs to project worker
// state into persistent job rows. The owning service implements it; the
// runner never touches the store directly.
type StatusSink interface {
	// MarkRunning records the transition to running and the start time.
	MarkRunning(ctx context.Context, jobId string, gpuIndex int) error
	// RecordProgress projects a supervisor sample into the job row.
	// Samples arrive monotonically in (step, progress) within a run.
	RecordProgress(ctx context.Context, jobId string, status *progress.Status) error
	// MarkCompleted persists the terminal success state with the final
	// status document, including any reported adapter id or results.
	MarkCompleted(ctx context.Context, jobId string, final *progress.Status) error
	// MarkPaused records a checkpointed pause; the row stays resumable.
	MarkPaused(ctx context.Context, jobId string) error
	MarkCancelled(ctx context.Context, jobId string) error
	MarkFailed(ctx context.Context, jobId, message string) error
}
