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
	"github.com/vault-appliance/vault/pkg/jobs"
)

func (h *Handler) ListTrainingJobs(c *gin.Context)    { handle(c, h.listTrainingJobs) }
func (h *Handler) CreateTrainingJob(c *gin.Context)   { handle(c, h.createTrainingJob) }
func (h *Handler) GetTrainingJob(c *gin.Context)      { handle(c, h.getTrainingJob) }
func (h *Handler) DeleteTrainingJob(c *gin.Context)   { handle(c, h.deleteTrainingJob) }
func (h *Handler) PauseTrainingJob(c *gin.Context)    { handle(c, h.pauseTrainingJob) }
func (h *Handler) ResumeTrainingJob(c *gin.Context)   { handle(c, h.resumeTrainingJob) }
func (h *Handler) CancelTrainingJob(c *gin.Context)   { handle(c, h.cancelTrainingJob) }
func (h *Handler) ValidateTrainingJob(c *gin.Context) { handle(c, h.validateTrainingJob) }
func (h *Handler) GpuAllocation(c *gin.Context)       { handle(c, h.gpuAllocation) }
func (h *Handler) ListAdapters(c *gin.Context)        { handle(c, h.listAdapters) }
func (h *Handler) GetAdapter(c *gin.Context)          { handle(c, h.getAdapter) }
func (h *Handler) DeleteAdapter(c *gin.Context)       { handle(c, h.deleteAdapter) }
func (h *Handler) ActivateAdapter(c *gin.Context)     { handle(c, h.activateAdapter) }
func (h *Handler) DeactivateAdapter(c *gin.Context)   { handle(c, h.deactivateAdapter) }

func (h *Handler) listTrainingJobs(c *gin.Context) (interface{}, error) {
	limit, offset := parsePaging(c)
	list, err := h.training.List(c.Request.Context(), c.Query("status"), limit, offset)
	if err != nil {
		return nil, err
	}
	return gin.H{"jobs": list}, nil
}

func (h *Handler) createTrainingJob(c *gin.Context) (interface{}, error) {
	req := &jobs.CreateTrainingRequest{}
	if _, err := getBodyFromRequest(c.Request, req); err != nil {
		return nil, err
	}
	job, err := h.training.Create(c.Request.Context(), req)
	if err != nil {
		return nil, err
	}
	h.audit.Record(c.Request.Context(), "training.create",
		audit.WithCaller(authority.UserId(c)), audit.WithDetails(job.Id))
	c.Status(http.StatusCreated)
	return job, nil
}

func (h *Handler) getTrainingJob(c *gin.Context) (interface{}, error) {
	return h.training.Get(c.Request.Context(), c.Param("id"))
}

func (h *Handler) deleteTrainingJob(c *gin.Context) (interface{}, error) {
	id := c.Param("id")
	if err := h.training.Delete(c.Request.Context(), id); err != nil {
		return nil, err
	}
	return gin.H{"deleted": id}, nil
}

func (h *Handler) pauseTrainingJob(c *gin.Context) (interface{}, error) {
	id := c.Param("id")
	if err := h.training.Pause(c.Request.Context(), id); err != nil {
		return nil, err
	}
	return gin.H{"paused": id}, nil
}

func (h *Handler) resumeTrainingJob(c *gin.Context) (interface{}, error) {
	return h.training.Resume(c.Request.Context(), c.Param("id"))
}

func (h *Handler) cancelTrainingJob(c *gin.Context) (interface{}, error) {
	id := c.Param("id")
	if err := h.training.Cancel(c.Request.Context(), id); err != nil {
		return nil, err
	}
	h.audit.Record(c.Request.Context(), "training.cancel",
		audit.WithCaller(authority.UserId(c)), audit.WithDetails(id))
	return gin.H{"cancelled": id}, nil
}

func (h *Handler) validateTrainingJob(c *gin.Context) (interface{}, error) {
	req := &jobs.CreateTrainingRequest{}
	if _, err := getBodyFromRequest(c.Request, req); err != nil {
		return nil, err
	}
	return h.training.Validate(c.Request.Context(), req), nil
}

func (h *Handler) gpuAllocation(c *gin.Context) (interface{}, error) {
	return gin.H{
		"allocations":   h.sched.Allocations(c.Request.Context()),
		"active_job_id": h.sched.ActiveJobId(),
	}, nil
}

func (h *Handler) listAdapters(c *gin.Context) (interface{}, error) {
	list, err := h.adapters.List(c.Request.Context())
	if err != nil {
		return nil, err
	}
	return gin.H{"adapters": list}, nil
}

func (h *Handler) getAdapter(c *gin.Context) (interface{}, error) {
	return h.adapters.Get(c.Request.Context(), c.Param("id"))
}

func (h *Handler) deleteAdapter(c *gin.Context) (interface{}, error) {
	id := c.Param("id")
	if err := h.adapters.Delete(c.Request.Context(), id); err != nil {
		return nil, err
	}
	h.audit.Record(c.Request.Context(), "adapter.delete",
		audit.WithCaller(authority.UserId(c)), audit.WithDetails(id))
	return gin.H{"deleted": id}, nil
}

func (h *Handler) activateAdapter(c *gin.Context) (interface{}, error) {
	adapter, err := h.adapters.Activate(c.Request.Context(), c.Param("id"))
	if err != nil {
		return nil, err
	}
	h.audit.Record(c.Request.Context(), "adapter.activate",
		audit.WithCaller(authority.UserId(c)), audit.WithDetails(adapter.Id))
	return adapter, nil
}

func (h *Handler) deactivateAdapter(c *gin.Context) (interface{}, error) {
	adapter, err := h.adapters.Deactivate(c.Request.Context(), c.Param("id"))
	if err != nil {
		return nil, err
	}
	h.audit.Record(c.Request.Context(), "adapter.deactivate",
		audit.WithCaller(authority.UserId(c)), audit.WithDetails(adapter.Id))
	return adapter, nil
}
