/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package handlers

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/vault-appliance/vault/pkg/audit"
	"github.com/vault-appliance/vault/pkg/authority"
	"github.com/vault-appliance/vault/pkg/config"
	"github.com/vault-appliance/vault/pkg/database/client"
	commonerrors "github.com/vault-appliance/vault/pkg/errors"
	"github.com/vault-appliance/vault/pkg/utils/fileutil"
	jsonutils "github.com/vault-appliance/vault/pkg/utils/json"
	"github.com/vault-appliance/vault/pkg/utils/timeutil"
)

// Literal confirmation strings for the destructive admin operations.
const (
	confirmPurge   = "PURGE DATA"
	confirmArchive = "ARCHIVE CONVERSATIONS"
	confirmReset   = "FACTORY RESET"
)

// exportSelectLimit bounds every table snapshot in the export.
const exportSelectLimit = 10000

func (h *Handler) DataExport(c *gin.Context)           { handle(c, h.dataExport) }
func (h *Handler) DataPurge(c *gin.Context)            { handle(c, h.dataPurge) }
func (h *Handler) ArchiveConversations(c *gin.Context) { handle(c, h.archiveConversations) }
func (h *Handler) FactoryReset(c *gin.Context)         { handle(c, h.factoryReset) }
func (h *Handler) DiagnosticsBundle(c *gin.Context)    { handle(c, h.diagnosticsBundle) }
func (h *Handler) CreateBackup(c *gin.Context)         { handle(c, h.createBackup) }
func (h *Handler) RestoreBackup(c *gin.Context)        { handle(c, h.restoreBackup) }

// dataExport streams a JSON snapshot of the control-plane tables. Credential
// hashes never leave the appliance.
func (h *Handler) dataExport(c *gin.Context) (interface{}, error) {
	ctx := c.Request.Context()
	users, err := h.dbClient.SelectUsers(ctx, nil, []string{"created_at " + client.ASC}, exportSelectLimit, 0)
	if err != nil {
		return nil, err
	}
	sanitized := make([]*userResponse, 0, len(users))
	for _, u := range users {
		sanitized = append(sanitized, cvtUserResponse(u))
	}
	trainingJobs, err := h.dbClient.SelectTrainingJobs(ctx, nil, []string{"created_at " + client.ASC}, exportSelectLimit, 0)
	if err != nil {
		return nil, err
	}
	evalJobs, err := h.dbClient.SelectEvalJobs(ctx, nil, []string{"created_at " + client.ASC}, exportSelectLimit, 0)
	if err != nil {
		return nil, err
	}
	adapterRows, err := h.dbClient.SelectAdapters(ctx, nil, []string{"created_at " + client.ASC}, exportSelectLimit, 0)
	if err != nil {
		return nil, err
	}
	updateJobs, err := h.dbClient.SelectUpdateJobs(ctx, nil, []string{"created_at " + client.ASC}, exportSelectLimit, 0)
	if err != nil {
		return nil, err
	}
	quarantineJobs, err := h.dbClient.SelectQuarantineJobs(ctx, nil, []string{"created_at " + client.ASC}, exportSelectLimit, 0)
	if err != nil {
		return nil, err
	}

	now := timeutil.Now()
	export := gin.H{
		"exported_at":     timeutil.FormatRFC3339(&now),
		"version":         h.updates.CurrentVersion(),
		"users":           sanitized,
		"training_jobs":   trainingJobs,
		"eval_jobs":       evalJobs,
		"adapters":        adapterRows,
		"update_jobs":     updateJobs,
		"quarantine_jobs": quarantineJobs,
	}
	h.audit.Record(ctx, "data.export", audit.WithCaller(authority.UserId(c)))
	c.Header("Content-Disposition", `attachment; filename="vault-export.json"`)
	return jsonutils.MarshalSilently(export), nil
}

type confirmationRequest struct {
	Confirmation string `json:"confirmation"`
}

func requireConfirmation(c *gin.Context, want string) error {
	req := &confirmationRequest{}
	if _, err := getBodyFromRequest(c.Request, req); err != nil {
		return err
	}
	if req.Confirmation != want {
		return commonerrors.New(commonerrors.ConfirmationNeeded, 400,
			fmt.Sprintf("confirmation must be exactly %q", want))
	}
	return nil
}

// dataPurge deletes every terminal training and eval job plus inactive
// adapters. Running jobs block the purge, users and audit history survive it.
func (h *Handler) dataPurge(c *gin.Context) (interface{}, error) {
	ctx := c.Request.Context()
	if err := requireConfirmation(c, confirmPurge); err != nil {
		return nil, err
	}
	if id := h.training.ActiveJobId(); id != "" {
		return nil, commonerrors.NewConflict(fmt.Sprintf("training job %s is still running", id))
	}
	if id := h.eval.ActiveJobId(); id != "" {
		return nil, commonerrors.NewConflict(fmt.Sprintf("eval job %s is still running", id))
	}

	purged := gin.H{}
	trainingJobs, err := h.dbClient.SelectTrainingJobs(ctx, nil, nil, exportSelectLimit, 0)
	if err != nil {
		return nil, err
	}
	for _, job := range trainingJobs {
		if err = h.training.Delete(ctx, job.Id); err != nil {
			return nil, err
		}
	}
	purged["training_jobs"] = len(trainingJobs)

	evalJobs, err := h.dbClient.SelectEvalJobs(ctx, nil, nil, exportSelectLimit, 0)
	if err != nil {
		return nil, err
	}
	for _, job := range evalJobs {
		if err = h.eval.Delete(ctx, job.Id); err != nil {
			return nil, err
		}
	}
	purged["eval_jobs"] = len(evalJobs)

	adapterRows, err := h.dbClient.SelectAdapters(ctx, nil, nil, exportSelectLimit, 0)
	if err != nil {
		return nil, err
	}
	deleted := 0
	for _, a := range adapterRows {
		if a.IsActive() {
			continue
		}
		if err = h.adapters.Delete(ctx, a.Id); err != nil {
			return nil, err
		}
		deleted++
	}
	purged["adapters"] = deleted

	h.audit.Record(ctx, "data.purge",
		audit.WithCaller(authority.UserId(c)), audit.WithDetails(jsonutils.MarshalString(purged)))
	return purged, nil
}

// archiveConversations moves the inference engine's conversation exports out
// of the live tree into a timestamped archive directory.
func (h *Handler) archiveConversations(c *gin.Context) (interface{}, error) {
	if err := requireConfirmation(c, confirmArchive); err != nil {
		return nil, err
	}
	source := filepath.Join(config.GetDataRoot(), "conversations")
	if !fileutil.IsDirExist(source) {
		return nil, commonerrors.NewNotFound("no conversations directory to archive")
	}
	target := filepath.Join(config.GetDataRoot(), "archives",
		"conversations-"+timeutil.Now().Format("20060102-150405"))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, commonerrors.NewInternalError(err.Error())
	}
	if err := os.Rename(source, target); err != nil {
		return nil, commonerrors.NewInternalError(fmt.Sprintf("archive failed: %v", err))
	}
	h.audit.Record(c.Request.Context(), "conversations.archive",
		audit.WithCaller(authority.UserId(c)), audit.WithDetails(target))
	return gin.H{"archived_to": target}, nil
}

// factoryReset wipes job, adapter and quarantine state and puts every system
// config key back on its default. Users, keys and the audit trail survive so
// the operator can still get in and see what happened.
func (h *Handler) factoryReset(c *gin.Context) (interface{}, error) {
	ctx := c.Request.Context()
	if err := requireConfirmation(c, confirmReset); err != nil {
		return nil, err
	}
	if id := h.training.ActiveJobId(); id != "" {
		return nil, commonerrors.NewConflict(fmt.Sprintf("training job %s is still running", id))
	}
	if id := h.eval.ActiveJobId(); id != "" {
		return nil, commonerrors.NewConflict(fmt.Sprintf("eval job %s is still running", id))
	}

	trainingJobs, err := h.dbClient.SelectTrainingJobs(ctx, nil, nil, exportSelectLimit, 0)
	if err != nil {
		return nil, err
	}
	for _, job := range trainingJobs {
		if err = h.training.Delete(ctx, job.Id); err != nil {
			return nil, err
		}
	}
	evalJobs, err := h.dbClient.SelectEvalJobs(ctx, nil, nil, exportSelectLimit, 0)
	if err != nil {
		return nil, err
	}
	for _, job := range evalJobs {
		if err = h.eval.Delete(ctx, job.Id); err != nil {
			return nil, err
		}
	}
	adapterRows, err := h.dbClient.SelectAdapters(ctx, nil, nil, exportSelectLimit, 0)
	if err != nil {
		return nil, err
	}
	for _, a := range adapterRows {
		if a.IsActive() {
			if _, err = h.adapters.Deactivate(ctx, a.Id); err != nil {
				return nil, err
			}
		}
		if err = h.adapters.Delete(ctx, a.Id); err != nil {
			return nil, err
		}
	}
	for key, def := range config.DefaultsWithPrefix("") {
		if err = h.sysCfg.Set(ctx, key, def); err != nil {
			return nil, err
		}
	}
	for _, dir := range []string{
		filepath.Join(config.GetQuarantineRoot(), "staging"),
		filepath.Join(config.GetQuarantineRoot(), "held"),
	} {
		if err = os.RemoveAll(dir); err != nil {
			return nil, commonerrors.NewInternalError(err.Error())
		}
	}

	h.audit.Record(ctx, "factory.reset", audit.WithCaller(authority.UserId(c)))
	return gin.H{"status": "reset"}, nil
}

// diagnosticsBundle writes a support snapshot under the data root and returns
// where it landed.
func (h *Handler) diagnosticsBundle(c *gin.Context) (interface{}, error) {
	ctx := c.Request.Context()
	now := timeutil.Now()
	audits, err := h.audit.Search(ctx, audit.Query{Limit: 500})
	if err != nil {
		return nil, err
	}
	devices, devErr := h.prober.Devices(ctx)
	bundle := gin.H{
		"generated_at": timeutil.FormatRFC3339(&now),
		"version":      h.updates.CurrentVersion(),
		"services":     h.services.List(ctx),
		"gpu_devices":  devices,
		"recent_audit": audits,
	}
	if devErr != nil {
		bundle["gpu_error"] = devErr.Error()
	}

	path := filepath.Join(config.GetDataRoot(), "diagnostics",
		"diag-"+now.Format("20060102-150405")+".json")
	if err = os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, commonerrors.NewInternalError(err.Error())
	}
	if err = fileutil.WriteFileAtomic(path, jsonutils.MarshalSilently(bundle), 0o600); err != nil {
		return nil, commonerrors.NewInternalError(err.Error())
	}
	h.audit.Record(ctx, "diagnostics.bundle",
		audit.WithCaller(authority.UserId(c)), audit.WithDetails(path))
	c.Status(http.StatusCreated)
	return gin.H{"path": path}, nil
}

func (h *Handler) createBackup(c *gin.Context) (interface{}, error) {
	path, err := h.updates.Backup()
	if err != nil {
		return nil, err
	}
	h.audit.Record(c.Request.Context(), "backup.create",
		audit.WithCaller(authority.UserId(c)), audit.WithDetails(path))
	c.Status(http.StatusCreated)
	return gin.H{"backup_path": path}, nil
}

type restoreRequest struct {
	BackupPath   string `json:"backup_path"`
	Confirmation string `json:"confirmation"`
}

func (h *Handler) restoreBackup(c *gin.Context) (interface{}, error) {
	req := &restoreRequest{}
	if _, err := getBodyFromRequest(c.Request, req); err != nil {
		return nil, err
	}
	path, err := h.updates.Restore(req.BackupPath, req.Confirmation)
	if err != nil {
		return nil, err
	}
	h.audit.Record(c.Request.Context(), "backup.restore",
		audit.WithCaller(authority.UserId(c)), audit.WithDetails(path))
	return gin.H{"restored_from": path}, nil
}
