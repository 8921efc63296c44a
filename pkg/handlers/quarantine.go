/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vault-appliance/vault/pkg/audit"
	"github.com/vault-appliance/vault/pkg/authority"
	commonerrors "github.com/vault-appliance/vault/pkg/errors"
	"github.com/vault-appliance/vault/pkg/quarantine"
)

func (h *Handler) QuarantineScan(c *gin.Context)              { handle(c, h.quarantineScan) }
func (h *Handler) QuarantineScanStatus(c *gin.Context)        { handle(c, h.quarantineScanStatus) }
func (h *Handler) QuarantineHeld(c *gin.Context)              { handle(c, h.quarantineHeld) }
func (h *Handler) QuarantineHeldFile(c *gin.Context)          { handle(c, h.quarantineHeldFile) }
func (h *Handler) QuarantineApprove(c *gin.Context)           { handle(c, h.quarantineApprove) }
func (h *Handler) QuarantineReject(c *gin.Context)            { handle(c, h.quarantineReject) }
func (h *Handler) QuarantineSignatures(c *gin.Context)        { handle(c, h.quarantineSignatures) }
func (h *Handler) QuarantineInstallSignatures(c *gin.Context) { handle(c, h.quarantineInstallSignatures) }
func (h *Handler) QuarantineStats(c *gin.Context)             { handle(c, h.quarantineStats) }

type quarantineScanRequest struct {
	SourceType  string `json:"source_type"`
	SourcePath  string `json:"source_path"`
	Destination string `json:"destination"`
}

// quarantineScan accepts either a multipart upload (one or more "files"
// parts) or a JSON body naming a path already on the appliance.
func (h *Handler) quarantineScan(c *gin.Context) (interface{}, error) {
	sub := quarantine.Submission{SubmittedBy: authority.UserId(c)}

	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		form, err := c.MultipartForm()
		if err != nil {
			return nil, commonerrors.NewBadRequest(err.Error())
		}
		sub.SourceType = c.PostForm("source_type")
		if sub.SourceType == "" {
			sub.SourceType = "upload"
		}
		sub.Destination = c.PostForm("destination")
		for _, fh := range form.File["files"] {
			f, err := fh.Open()
			if err != nil {
				return nil, commonerrors.NewBadRequest(err.Error())
			}
			defer f.Close()
			sub.Uploads = append(sub.Uploads, quarantine.Upload{Filename: fh.Filename, Content: f})
		}
	} else {
		req := &quarantineScanRequest{}
		if _, err := getBodyFromRequest(c.Request, req); err != nil {
			return nil, err
		}
		sub.SourceType = req.SourceType
		sub.SourcePath = req.SourcePath
		sub.Destination = req.Destination
	}

	job, err := h.quarantine.Submit(c.Request.Context(), sub)
	if err != nil {
		return nil, err
	}
	h.audit.Record(c.Request.Context(), "quarantine.submit",
		audit.WithCaller(authority.UserId(c)), audit.WithDetails(job.Id))
	c.Status(http.StatusCreated)
	return job, nil
}

func (h *Handler) quarantineScanStatus(c *gin.Context) (interface{}, error) {
	job, files, err := h.quarantine.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		return nil, err
	}
	return gin.H{"job": job, "files": files}, nil
}

func (h *Handler) quarantineHeld(c *gin.Context) (interface{}, error) {
	limit, offset := parsePaging(c)
	files, err := h.quarantine.HeldFiles(c.Request.Context(), limit, offset)
	if err != nil {
		return nil, err
	}
	return gin.H{"files": files}, nil
}

func (h *Handler) quarantineHeldFile(c *gin.Context) (interface{}, error) {
	return h.dbClient.GetQuarantineFile(c.Request.Context(), c.Param("id"))
}

type quarantineReviewRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) quarantineApprove(c *gin.Context) (interface{}, error) {
	req := &quarantineReviewRequest{}
	// Body parsing is lenient here; the service rejects an empty reason.
	if raw, err := getBodyFromRequest(c.Request, req); err != nil && len(raw) > 0 {
		return nil, err
	}
	return h.quarantine.Approve(c.Request.Context(), c.Param("id"), req.Reason, authority.UserId(c))
}

func (h *Handler) quarantineReject(c *gin.Context) (interface{}, error) {
	req := &quarantineReviewRequest{}
	if _, err := getBodyFromRequest(c.Request, req); err != nil {
		return nil, err
	}
	if req.Reason == "" {
		return nil, commonerrors.NewBadRequest("reason is required to reject a file")
	}
	return h.quarantine.Reject(c.Request.Context(), c.Param("id"), req.Reason, authority.UserId(c))
}

func (h *Handler) quarantineSignatures(c *gin.Context) (interface{}, error) {
	return gin.H{"sources": h.quarantine.Signatures().Freshness(time.Now())}, nil
}

type installSignaturesRequest struct {
	SourceDir string `json:"source_dir"`
}

func (h *Handler) quarantineInstallSignatures(c *gin.Context) (interface{}, error) {
	req := &installSignaturesRequest{}
	if _, err := getBodyFromRequest(c.Request, req); err != nil {
		return nil, err
	}
	if req.SourceDir == "" {
		return nil, commonerrors.NewBadRequest("source_dir is required")
	}
	result, err := h.quarantine.Signatures().InstallFromDir(req.SourceDir)
	if err != nil {
		return nil, err
	}
	h.audit.Record(c.Request.Context(), "quarantine.signatures_install",
		audit.WithCaller(authority.UserId(c)), audit.WithDetails(req.SourceDir))
	return result, nil
}

func (h *Handler) quarantineStats(c *gin.Context) (interface{}, error) {
	return h.quarantine.Stats(c.Request.Context())
}
