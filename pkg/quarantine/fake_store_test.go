/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package quarantine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	sqrl "github.com/Masterminds/squirrel"

	"github.com/vault-appliance/vault/pkg/database/client"
	commonerrors "github.com/vault-appliance/vault/pkg/errors"
)

// fakeStore keeps rows in memory with just enough query support for the
// pipeline's access patterns.
type fakeStore struct {
	mu    sync.Mutex
	jobs  map[string]client.QuarantineJob
	files map[string]client.QuarantineFile
	audit []client.AuditEntry
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:  map[string]client.QuarantineJob{},
		files: map[string]client.QuarantineFile{},
	}
}

func (f *fakeStore) UpsertQuarantineJob(_ context.Context, job *client.QuarantineJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[job.Id] = *job
	return nil
}

func (f *fakeStore) GetQuarantineJob(_ context.Context, id string) (*client.QuarantineJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, commonerrors.NewNotFound(fmt.Sprintf("quarantine job %s not found", id))
	}
	return &job, nil
}

func (f *fakeStore) SelectQuarantineJobs(_ context.Context, _ sqrl.Sqlizer, _ []string, _, _ int) ([]*client.QuarantineJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var jobs []*client.QuarantineJob
	for id := range f.jobs {
		job := f.jobs[id]
		jobs = append(jobs, &job)
	}
	return jobs, nil
}

func (f *fakeStore) UpsertQuarantineFile(_ context.Context, file *client.QuarantineFile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[file.Id] = *file
	return nil
}

func (f *fakeStore) GetQuarantineFile(_ context.Context, id string) (*client.QuarantineFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.files[id]
	if !ok {
		return nil, commonerrors.NewNotFound(fmt.Sprintf("quarantine file %s not found", id))
	}
	return &file, nil
}

// SelectQuarantineFiles understands the two filters the service uses:
// job_id equality and status equality.
func (f *fakeStore) SelectQuarantineFiles(_ context.Context, query sqrl.Sqlizer, _ []string, _, _ int) ([]*client.QuarantineFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	eq, _ := query.(sqrl.Eq)
	var files []*client.QuarantineFile
	for id := range f.files {
		file := f.files[id]
		if jobId, ok := eq["job_id"]; ok && file.JobId != jobId {
			continue
		}
		if status, ok := eq["status"]; ok && file.Status != status {
			continue
		}
		files = append(files, &file)
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].CreatedAt.Time.Before(files[j].CreatedAt.Time)
	})
	return files, nil
}

func (f *fakeStore) CountQuarantineFiles(ctx context.Context, query sqrl.Sqlizer) (int, error) {
	files, err := f.SelectQuarantineFiles(ctx, query, nil, -1, 0)
	return len(files), err
}

func (f *fakeStore) InsertAuditEntry(_ context.Context, entry *client.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audit = append(f.audit, *entry)
	return nil
}

func (f *fakeStore) auditCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.audit)
}
