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
	commonerrors "github.com/vault-appliance/vault/pkg/errors"
	"github.com/vault-appliance/vault/pkg/jobs"
	"github.com/vault-appliance/vault/pkg/utils/stringutil"
)

func (h *Handler) ListEvalJobs(c *gin.Context)     { handle(c, h.listEvalJobs) }
func (h *Handler) CreateEvalJob(c *gin.Context)    { handle(c, h.createEvalJob) }
func (h *Handler) GetEvalJob(c *gin.Context)       { handle(c, h.getEvalJob) }
func (h *Handler) DeleteEvalJob(c *gin.Context)    { handle(c, h.deleteEvalJob) }
func (h *Handler) CancelEvalJob(c *gin.Context)    { handle(c, h.cancelEvalJob) }
func (h *Handler) CompareEvalJobs(c *gin.Context)  { handle(c, h.compareEvalJobs) }
func (h *Handler) QuickEval(c *gin.Context)        { handle(c, h.quickEval) }
func (h *Handler) ListEvalDatasets(c *gin.Context) { handle(c, h.listEvalDatasets) }

func (h *Handler) listEvalJobs(c *gin.Context) (interface{}, error) {
	limit, offset := parsePaging(c)
	list, err := h.eval.List(c.Request.Context(), c.Query("status"), limit, offset)
	if err != nil {
		return nil, err
	}
	return gin.H{"jobs": list}, nil
}

func (h *Handler) createEvalJob(c *gin.Context) (interface{}, error) {
	req := &jobs.CreateEvalRequest{}
	if _, err := getBodyFromRequest(c.Request, req); err != nil {
		return nil, err
	}
	job, err := h.eval.Create(c.Request.Context(), req)
	if err != nil {
		return nil, err
	}
	h.audit.Record(c.Request.Context(), "eval.create",
		audit.WithCaller(authority.UserId(c)), audit.WithDetails(job.Id))
	c.Status(http.StatusCreated)
	return job, nil
}

func (h *Handler) getEvalJob(c *gin.Context) (interface{}, error) {
	return h.eval.Get(c.Request.Context(), c.Param("id"))
}

func (h *Handler) deleteEvalJob(c *gin.Context) (interface{}, error) {
	id := c.Param("id")
	if err := h.eval.Delete(c.Request.Context(), id); err != nil {
		return nil, err
	}
	return gin.H{"deleted": id}, nil
}

func (h *Handler) cancelEvalJob(c *gin.Context) (interface{}, error) {
	id := c.Param("id")
	if err := h.eval.Cancel(c.Request.Context(), id); err != nil {
		return nil, err
	}
	h.audit.Record(c.Request.Context(), "eval.cancel",
		audit.WithCaller(authority.UserId(c)), audit.WithDetails(id))
	return gin.H{"cancelled": id}, nil
}

func (h *Handler) compareEvalJobs(c *gin.Context) (interface{}, error) {
	jobIds := stringutil.Split(c.Query("job_ids"), ",")
	if len(jobIds) < 2 {
		return nil, commonerrors.NewBadRequest("job_ids must name at least two jobs")
	}
	entries, err := h.eval.Compare(c.Request.Context(), jobIds)
	if err != nil {
		return nil, err
	}
	return gin.H{"jobs": entries}, nil
}

func (h *Handler) quickEval(c *gin.Context) (interface{}, error) {
	req := &jobs.QuickEvalRequest{}
	if _, err := getBodyFromRequest(c.Request, req); err != nil {
		return nil, err
	}
	answers, err := h.eval.Quick(c.Request.Context(), req)
	if err != nil {
		return nil, err
	}
	return gin.H{"answers": answers}, nil
}

func (h *Handler) listEvalDatasets(c *gin.Context) (interface{}, error) {
	return gin.H{"datasets": h.eval.Datasets()}, nil
}
