/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package utils

import (
	"github.com/jmoiron/sqlx"
	"k8s.io/klog/v2"
)

// migrations is the ordered schema history. Entries are append-only; a fresh
// database replays all of them, an existing one replays the tail past its
// recorded version.
var migrations = []string{
	// 1: identity
	`CREATE TABLE IF NOT EXISTS users (
		id              TEXT PRIMARY KEY,
		name            TEXT NOT NULL,
		email           TEXT NOT NULL UNIQUE,
		role            TEXT NOT NULL DEFAULT 'user',
		status          TEXT NOT NULL DEFAULT 'active',
		auth_source     TEXT NOT NULL DEFAULT 'local',
		credential_hash TEXT,
		directory_dn    TEXT,
		created_at      TIMESTAMPTZ NOT NULL,
		last_active     TIMESTAMPTZ
	);
	CREATE TABLE IF NOT EXISTS api_keys (
		id           BIGSERIAL PRIMARY KEY,
		key_hash     TEXT NOT NULL UNIQUE,
		key_prefix   TEXT NOT NULL,
		label        TEXT NOT NULL,
		scope        TEXT NOT NULL DEFAULT 'user',
		is_active    BOOLEAN NOT NULL DEFAULT TRUE,
		user_id      TEXT,
		created_at   TIMESTAMPTZ NOT NULL,
		last_used_at TIMESTAMPTZ,
		notes        TEXT
	);
	CREATE TABLE IF NOT EXISTS ldap_group_mappings (
		id       BIGSERIAL PRIMARY KEY,
		group_dn TEXT NOT NULL UNIQUE,
		role     TEXT NOT NULL DEFAULT 'user',
		priority INTEGER NOT NULL DEFAULT 0
	);`,

	// 2: jobs
	`CREATE TABLE IF NOT EXISTS training_jobs (
		id             TEXT PRIMARY KEY,
		name           TEXT NOT NULL,
		status         TEXT NOT NULL DEFAULT 'queued',
		progress       DOUBLE PRECISION NOT NULL DEFAULT 0,
		model          TEXT NOT NULL,
		dataset        TEXT NOT NULL,
		config         TEXT NOT NULL DEFAULT '{}',
		metrics        TEXT NOT NULL DEFAULT '{}',
		resource       TEXT NOT NULL DEFAULT '{}',
		error          TEXT,
		adapter_type   TEXT NOT NULL DEFAULT 'lora',
		adapter_config TEXT,
		adapter_id     TEXT,
		created_at     TIMESTAMPTZ NOT NULL,
		started_at     TIMESTAMPTZ,
		completed_at   TIMESTAMPTZ
	);
	CREATE TABLE IF NOT EXISTS eval_jobs (
		id                 TEXT PRIMARY KEY,
		name               TEXT NOT NULL,
		status             TEXT NOT NULL DEFAULT 'queued',
		progress           DOUBLE PRECISION NOT NULL DEFAULT 0,
		model_id           TEXT NOT NULL,
		adapter_id         TEXT,
		dataset_id         TEXT NOT NULL,
		dataset_type       TEXT NOT NULL DEFAULT 'builtin',
		config             TEXT NOT NULL DEFAULT '{}',
		results            TEXT,
		total_examples     INTEGER NOT NULL DEFAULT 0,
		examples_completed INTEGER NOT NULL DEFAULT 0,
		created_at         TIMESTAMPTZ NOT NULL,
		started_at         TIMESTAMPTZ,
		completed_at       TIMESTAMPTZ
	);
	CREATE TABLE IF NOT EXISTS adapters (
		id              TEXT PRIMARY KEY,
		name            TEXT NOT NULL,
		base_model      TEXT NOT NULL,
		adapter_type    TEXT NOT NULL DEFAULT 'lora',
		status          TEXT NOT NULL DEFAULT 'ready',
		path            TEXT NOT NULL,
		training_job_id TEXT,
		config          TEXT NOT NULL DEFAULT '{}',
		metrics         TEXT NOT NULL DEFAULT '{}',
		size_bytes      BIGINT NOT NULL DEFAULT 0,
		version         INTEGER NOT NULL DEFAULT 1,
		created_at      TIMESTAMPTZ NOT NULL,
		activated_at    TIMESTAMPTZ
	);`,

	// 3: quarantine
	`CREATE TABLE IF NOT EXISTS quarantine_jobs (
		id              TEXT PRIMARY KEY,
		status          TEXT NOT NULL DEFAULT 'pending',
		total_files     INTEGER NOT NULL DEFAULT 0,
		files_completed INTEGER NOT NULL DEFAULT 0,
		files_flagged   INTEGER NOT NULL DEFAULT 0,
		files_clean     INTEGER NOT NULL DEFAULT 0,
		source_type     TEXT NOT NULL DEFAULT 'upload',
		submitted_by    TEXT,
		created_at      TIMESTAMPTZ NOT NULL,
		started_at      TIMESTAMPTZ,
		completed_at    TIMESTAMPTZ
	);
	CREATE TABLE IF NOT EXISTS quarantine_files (
		id                TEXT PRIMARY KEY,
		job_id            TEXT NOT NULL REFERENCES quarantine_jobs(id),
		original_filename TEXT NOT NULL,
		file_size         BIGINT NOT NULL DEFAULT 0,
		mime_type         TEXT,
		sha256_hash       TEXT,
		status            TEXT NOT NULL DEFAULT 'pending',
		current_stage     TEXT,
		risk_severity     TEXT NOT NULL DEFAULT 'none',
		findings          TEXT NOT NULL DEFAULT '[]',
		quarantine_path   TEXT,
		sanitized_path    TEXT,
		destination_path  TEXT,
		review_reason     TEXT,
		reviewed_by       TEXT,
		reviewed_at       TIMESTAMPTZ,
		created_at        TIMESTAMPTZ NOT NULL,
		updated_at        TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_quarantine_files_job ON quarantine_files(job_id);
	CREATE INDEX IF NOT EXISTS idx_quarantine_files_status ON quarantine_files(status);`,

	// 4: updates, uptime, audit, config
	`CREATE TABLE IF NOT EXISTS update_jobs (
		id             TEXT PRIMARY KEY,
		status         TEXT NOT NULL DEFAULT 'pending',
		bundle_version TEXT NOT NULL,
		from_version   TEXT NOT NULL,
		bundle_path    TEXT,
		progress_pct   DOUBLE PRECISION NOT NULL DEFAULT 0,
		current_step   TEXT,
		steps          TEXT NOT NULL DEFAULT '[]',
		log            TEXT NOT NULL DEFAULT '[]',
		changelog      TEXT NOT NULL DEFAULT '',
		components     TEXT NOT NULL DEFAULT '{}',
		backup_path    TEXT,
		error          TEXT,
		created_at     TIMESTAMPTZ NOT NULL,
		started_at     TIMESTAMPTZ,
		completed_at   TIMESTAMPTZ
	);
	CREATE TABLE IF NOT EXISTS uptime_events (
		id               BIGSERIAL PRIMARY KEY,
		service_name     TEXT NOT NULL,
		event_type       TEXT NOT NULL,
		timestamp        TIMESTAMPTZ NOT NULL,
		duration_seconds DOUBLE PRECISION,
		details          TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_uptime_events_service ON uptime_events(service_name, timestamp);
	CREATE TABLE IF NOT EXISTS audit_log (
		id              BIGSERIAL PRIMARY KEY,
		timestamp       TIMESTAMPTZ NOT NULL,
		action          TEXT NOT NULL,
		method          TEXT,
		path            TEXT,
		user_key_prefix TEXT,
		model           TEXT,
		status_code     INTEGER,
		latency_ms      DOUBLE PRECISION,
		tokens_input    BIGINT,
		tokens_output   BIGINT,
		details         TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_audit_log_time ON audit_log(timestamp);
	CREATE TABLE IF NOT EXISTS system_config (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);`,
}

// Migrate applies all schema statements past the recorded version inside a
// single transaction.
func Migrate(db *sqlx.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return err
	}
	var current int
	row := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&current); err != nil {
		return err
	}
	if current >= len(migrations) {
		return nil
	}

	tx, err := db.Beginx()
	if err != nil {
		return err
	}
	for i := current; i < len(migrations); i++ {
		if _, err = tx.Exec(migrations[i]); err != nil {
			if err2 := tx.Rollback(); err2 != nil {
				klog.ErrorS(err2, "failed to rollback migration")
			}
			return err
		}
		if _, err = tx.Exec(`INSERT INTO schema_version (version) VALUES ($1)`, i+1); err != nil {
			if err2 := tx.Rollback(); err2 != nil {
				klog.ErrorS(err2, "failed to rollback migration")
			}
			return err
		}
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	klog.Infof("migrated schema from version %d to %d", current, len(migrations))
	return nil
}
