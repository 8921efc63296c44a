/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vault-appliance/vault/pkg/audit"
	"github.com/vault-appliance/vault/pkg/authority"
)

func (h *Handler) UpdateStatus(c *gin.Context)   { handle(c, h.updateStatus) }
func (h *Handler) UpdatePending(c *gin.Context)  { handle(c, h.updatePending) }
func (h *Handler) UpdateHistory(c *gin.Context)  { handle(c, h.updateHistory) }
func (h *Handler) UpdateScan(c *gin.Context)     { handle(c, h.updateScan) }
func (h *Handler) UpdateApply(c *gin.Context)    { handle(c, h.updateApply) }
func (h *Handler) UpdateRollback(c *gin.Context) { handle(c, h.updateRollback) }
func (h *Handler) UpdateProgress(c *gin.Context) { handle(c, h.updateProgress) }

func (h *Handler) updateStatus(c *gin.Context) (interface{}, error) {
	return gin.H{
		"current_version": h.updates.CurrentVersion(),
		"active_job_id":   h.updates.Active(),
	}, nil
}

func (h *Handler) updatePending(c *gin.Context) (interface{}, error) {
	bundles, err := h.updates.Scan(h.updates.BundlesDir())
	if err != nil {
		return nil, err
	}
	return gin.H{"bundles": bundles}, nil
}

func (h *Handler) updateHistory(c *gin.Context) (interface{}, error) {
	limit, _ := parsePaging(c)
	jobs, err := h.updates.History(c.Request.Context(), limit)
	if err != nil {
		return nil, err
	}
	return gin.H{"jobs": jobs}, nil
}

type updateScanRequest struct {
	Path string `json:"path"`
}

// updateScan searches an operator-supplied directory, typically mounted
// removable media, for update bundles.
func (h *Handler) updateScan(c *gin.Context) (interface{}, error) {
	req := &updateScanRequest{}
	if _, err := getBodyFromRequest(c.Request, req); err != nil {
		return nil, err
	}
	bundles, err := h.updates.Scan(req.Path)
	if err != nil {
		return nil, err
	}
	return gin.H{"bundles": bundles}, nil
}

type updateApplyRequest struct {
	BundlePath   string `json:"bundle_path"`
	Confirmation string `json:"confirmation"`
	CreateBackup *bool  `json:"create_backup"`
}

func (h *Handler) updateApply(c *gin.Context) (interface{}, error) {
	req := &updateApplyRequest{}
	if _, err := getBodyFromRequest(c.Request, req); err != nil {
		return nil, err
	}
	createBackup := true
	if req.CreateBackup != nil {
		createBackup = *req.CreateBackup
	}
	job, err := h.updates.Apply(c.Request.Context(), req.BundlePath, req.Confirmation, createBackup)
	if err != nil {
		return nil, err
	}
	h.audit.Record(c.Request.Context(), "update.apply",
		audit.WithCaller(authority.UserId(c)), audit.WithDetails(job.BundleVersion))
	c.Status(http.StatusAccepted)
	return job, nil
}

type updateRollbackRequest struct {
	Confirmation string `json:"confirmation"`
}

func (h *Handler) updateRollback(c *gin.Context) (interface{}, error) {
	req := &updateRollbackRequest{}
	if _, err := getBodyFromRequest(c.Request, req); err != nil {
		return nil, err
	}
	job, err := h.updates.Rollback(c.Request.Context(), req.Confirmation)
	if err != nil {
		return nil, err
	}
	h.audit.Record(c.Request.Context(), "update.rollback",
		audit.WithCaller(authority.UserId(c)), audit.WithDetails(job.Id))
	c.Status(http.StatusAccepted)
	return job, nil
}

func (h *Handler) updateProgress(c *gin.Context) (interface{}, error) {
	return h.updates.Progress(c.Request.Context(), c.Param("id"))
}
