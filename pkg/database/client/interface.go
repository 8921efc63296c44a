/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package client

import (
	"context"
	"time"

	sqrl "github.com/Masterminds/squirrel"
)

type Interface interface {
	UserInterface
	ApiKeyInterface
	TrainingJobInterface
	EvalJobInterface
	AdapterInterface
	QuarantineInterface
	UpdateJobInterface
	UptimeInterface
	AuditInterface
	SystemConfigInterface
	LdapMappingInterface
}

type UserInterface interface {
	InsertUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	SelectUsers(ctx context.Context, query sqrl.Sqlizer, orderBy []string, limit, offset int) ([]*User, error)
	CountUsers(ctx context.Context, query sqrl.Sqlizer) (int, error)
	UpdateUser(ctx context.Context, user *User) error
	SetUserLastActive(ctx context.Context, id string, at time.Time) error
	DeleteUser(ctx context.Context, id string) error
}

type ApiKeyInterface interface {
	InsertApiKey(ctx context.Context, key *ApiKey) (int64, error)
	GetApiKeyByHash(ctx context.Context, keyHash string) (*ApiKey, error)
	SelectApiKeys(ctx context.Context, query sqrl.Sqlizer, orderBy []string, limit, offset int) ([]*ApiKey, error)
	SetApiKeyActive(ctx context.Context, id int64, active bool) error
	SetApiKeyLastUsed(ctx context.Context, id int64, at time.Time) error
	DeleteApiKey(ctx context.Context, id int64) error
}

type TrainingJobInterface interface {
	UpsertTrainingJob(ctx context.Context, job *TrainingJob) error
	GetTrainingJob(ctx context.Context, id string) (*TrainingJob, error)
	SelectTrainingJobs(ctx context.Context, query sqrl.Sqlizer, orderBy []string, limit, offset int) ([]*TrainingJob, error)
	CountTrainingJobs(ctx context.Context, query sqrl.Sqlizer) (int, error)
	DeleteTrainingJob(ctx context.Context, id string) error
}

type EvalJobInterface interface {
	UpsertEvalJob(ctx context.Context, job *EvalJob) error
	GetEvalJob(ctx context.Context, id string) (*EvalJob, error)
	SelectEvalJobs(ctx context.Context, query sqrl.Sqlizer, orderBy []string, limit, offset int) ([]*EvalJob, error)
	DeleteEvalJob(ctx context.Context, id string) error
}

type AdapterInterface interface {
	UpsertAdapter(ctx context.Context, adapter *Adapter) error
	GetAdapter(ctx context.Context, id string) (*Adapter, error)
	SelectAdapters(ctx context.Context, query sqrl.Sqlizer, orderBy []string, limit, offset int) ([]*Adapter, error)
	DeleteAdapter(ctx context.Context, id string) error
}

type QuarantineInterface interface {
	UpsertQuarantineJob(ctx context.Context, job *QuarantineJob) error
	GetQuarantineJob(ctx context.Context, id string) (*QuarantineJob, error)
	SelectQuarantineJobs(ctx context.Context, query sqrl.Sqlizer, orderBy []string, limit, offset int) ([]*QuarantineJob, error)
	UpsertQuarantineFile(ctx context.Context, file *QuarantineFile) error
	GetQuarantineFile(ctx context.Context, id string) (*QuarantineFile, error)
	SelectQuarantineFiles(ctx context.Context, query sqrl.Sqlizer, orderBy []string, limit, offset int) ([]*QuarantineFile, error)
	CountQuarantineFiles(ctx context.Context, query sqrl.Sqlizer) (int, error)
}

type UpdateJobInterface interface {
	UpsertUpdateJob(ctx context.Context, job *UpdateJob) error
	GetUpdateJob(ctx context.Context, id string) (*UpdateJob, error)
	SelectUpdateJobs(ctx context.Context, query sqrl.Sqlizer, orderBy []string, limit, offset int) ([]*UpdateJob, error)
}

type UptimeInterface interface {
	InsertUptimeEvent(ctx context.Context, event *UptimeEvent) (int64, error)
	SelectUptimeEvents(ctx context.Context, query sqrl.Sqlizer, orderBy []string, limit, offset int) ([]*UptimeEvent, error)
	GetOpenDownEvent(ctx context.Context, serviceName string) (*UptimeEvent, error)
	SetUptimeEventDuration(ctx context.Context, id int64, durationSeconds float64) error
}

type AuditInterface interface {
	InsertAuditEntry(ctx context.Context, entry *AuditEntry) error
	SelectAuditEntries(ctx context.Context, query sqrl.Sqlizer, orderBy []string, limit, offset int) ([]*AuditEntry, error)
}

type SystemConfigInterface interface {
	GetConfigValue(ctx context.Context, key string) (string, bool, error)
	SetConfigValue(ctx context.Context, key, value string) error
	SelectConfigWithPrefix(ctx context.Context, prefix string) (map[string]string, error)
}

type LdapMappingInterface interface {
	InsertLdapMapping(ctx context.Context, mapping *LdapGroupMapping) (int64, error)
	SelectLdapMappings(ctx context.Context) ([]*LdapGroupMapping, error)
	DeleteLdapMapping(ctx context.Context, id int64) error
}

const (
	ASC  = "ASC"
	DESC = "DESC"
)
