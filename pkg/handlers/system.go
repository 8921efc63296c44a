/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package handlers

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"k8s.io/klog/v2"

	"github.com/vault-appliance/vault/pkg/audit"
	"github.com/vault-appliance/vault/pkg/authority"
	"github.com/vault-appliance/vault/pkg/config"
	commonerrors "github.com/vault-appliance/vault/pkg/errors"
	"github.com/vault-appliance/vault/pkg/services"
)

func (h *Handler) Health(c *gin.Context)             { handle(c, h.health) }
func (h *Handler) SystemResources(c *gin.Context)    { handle(c, h.systemResources) }
func (h *Handler) SystemGpu(c *gin.Context)          { handle(c, h.systemGpu) }
func (h *Handler) ListServices(c *gin.Context)       { handle(c, h.listServices) }
func (h *Handler) RestartService(c *gin.Context)     { handle(c, h.restartService) }
func (h *Handler) SystemLogs(c *gin.Context)         { handle(c, h.systemLogs) }
func (h *Handler) UptimeSummary(c *gin.Context)      { handle(c, h.uptimeSummary) }
func (h *Handler) UptimeEvents(c *gin.Context)       { handle(c, h.uptimeEvents) }
func (h *Handler) UptimeAvailability(c *gin.Context) { handle(c, h.uptimeAvailability) }
func (h *Handler) InferenceStatus(c *gin.Context)    { handle(c, h.inferenceStatus) }
func (h *Handler) SystemHealth(c *gin.Context)       { handle(c, h.systemHealth) }

// health is the unauthenticated liveness probe.
func (h *Handler) health(_ *gin.Context) (interface{}, error) {
	return gin.H{"status": "ok", "version": h.updates.CurrentVersion()}, nil
}

func (h *Handler) systemResources(c *gin.Context) (interface{}, error) {
	return resourceSnapshot(c.Request.Context()), nil
}

// resourceSnapshot is shared between the REST endpoint and the /ws/system
// push loop. Every probe is best effort.
func resourceSnapshot(ctx context.Context) gin.H {
	out := gin.H{}

	if pcts, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pcts) > 0 {
		out["cpu_pct"] = pcts[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		out["memory"] = gin.H{
			"total_bytes": vm.Total,
			"used_bytes":  vm.Used,
			"used_pct":    vm.UsedPercent,
		}
	}
	if usage, err := disk.UsageWithContext(ctx, config.GetDataRoot()); err == nil {
		out["disk"] = gin.H{
			"path":        usage.Path,
			"total_bytes": usage.Total,
			"used_bytes":  usage.Used,
			"used_pct":    usage.UsedPercent,
		}
	}
	if uptime, err := host.UptimeWithContext(ctx); err == nil {
		out["host_uptime_seconds"] = uptime
	}
	return out
}

func (h *Handler) systemGpu(c *gin.Context) (interface{}, error) {
	devices, err := h.prober.Devices(c.Request.Context())
	if err != nil {
		return nil, commonerrors.NewUnavailable("gpu inventory is not readable")
	}
	return gin.H{"devices": devices}, nil
}

func (h *Handler) listServices(c *gin.Context) (interface{}, error) {
	return gin.H{"services": h.services.List(c.Request.Context())}, nil
}

func (h *Handler) restartService(c *gin.Context) (interface{}, error) {
	name := c.Param("name")
	result, err := h.services.Restart(c.Request.Context(), name)
	if err != nil {
		return nil, err
	}
	h.audit.Record(c.Request.Context(), "service.restart",
		audit.WithCaller(authority.UserId(c)), audit.WithDetails(name))
	return result, nil
}

func (h *Handler) systemLogs(c *gin.Context) (interface{}, error) {
	filter, err := logFilterFromQuery(c)
	if err != nil {
		return nil, err
	}
	entries, err := h.services.Logs(c.Request.Context(), filter)
	if err != nil {
		return nil, err
	}
	return gin.H{"entries": entries}, nil
}

func logFilterFromQuery(c *gin.Context) (services.LogFilter, error) {
	filter := services.LogFilter{
		Service:  c.Query("service"),
		Severity: c.Query("severity"),
	}
	filter.Limit, filter.Offset = parsePaging(c)
	if since := c.Query("since"); since != "" {
		ts, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return filter, commonerrors.NewBadRequest("since must be RFC 3339")
		}
		filter.Since = ts
	}
	return filter, nil
}

type uptimeSummaryItem struct {
	Service         string  `json:"service"`
	State           string  `json:"state"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
	AvailabilityPct float64 `json:"availability_pct_24h"`
}

func (h *Handler) uptimeSummary(c *gin.Context) (interface{}, error) {
	ctx := c.Request.Context()
	statuses := h.services.List(ctx)
	items := make([]uptimeSummaryItem, 0, len(statuses))
	for _, status := range statuses {
		pct, err := h.uptime.Availability(ctx, status.Name, 24)
		if err != nil {
			klog.ErrorS(err, "failed to compute availability", "service", status.Name)
			pct = 100
		}
		items = append(items, uptimeSummaryItem{
			Service:         status.Name,
			State:           status.State,
			UptimeSeconds:   status.UptimeSeconds,
			AvailabilityPct: pct,
		})
	}
	return gin.H{"services": items}, nil
}

func (h *Handler) uptimeEvents(c *gin.Context) (interface{}, error) {
	limit, offset := parsePaging(c)
	events, err := h.uptime.Events(c.Request.Context(), c.Query("service"), limit, offset)
	if err != nil {
		return nil, err
	}
	return gin.H{"events": events}, nil
}

func (h *Handler) uptimeAvailability(c *gin.Context) (interface{}, error) {
	service := c.Query("service")
	if service == "" {
		return nil, commonerrors.NewBadRequest("service is required")
	}
	windowHours, _ := strconv.Atoi(c.Query("window_hours"))
	pct, err := h.uptime.Availability(c.Request.Context(), service, windowHours)
	if err != nil {
		return nil, err
	}
	if windowHours <= 0 {
		windowHours = 24
	}
	return gin.H{"service": service, "window_hours": windowHours, "availability_pct": pct}, nil
}

func (h *Handler) inferenceStatus(c *gin.Context) (interface{}, error) {
	healthy, latency := h.proxy.Health(c.Request.Context())
	return gin.H{
		"reachable":  healthy,
		"latency_ms": latency,
		"base_url":   h.proxy.BaseURL(),
	}, nil
}

// systemHealth aggregates the component checks into one traffic light.
func (h *Handler) systemHealth(c *gin.Context) (interface{}, error) {
	ctx := c.Request.Context()
	status := "ok"

	components := gin.H{}
	for _, svc := range h.services.List(ctx) {
		components[svc.Name] = svc.State
		if svc.State != services.StateRunning && svc.Name != selfServiceName {
			status = "degraded"
		}
	}
	engineUp, _ := h.proxy.Health(ctx)
	components["inference_engine"] = engineUp
	if !engineUp {
		status = "degraded"
	}
	if devices, err := h.prober.Devices(ctx); err == nil {
		components["gpus"] = len(devices)
	}
	return gin.H{"status": status, "components": components, "version": h.updates.CurrentVersion()}, nil
}

// The control plane reports on itself through List; its own unit never
// degrades the aggregate from inside.
const selfServiceName = "control-plane"
