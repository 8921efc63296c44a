/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package handlers

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vault-appliance/vault/pkg/adapters"
	"github.com/vault-appliance/vault/pkg/apiutils"
	"github.com/vault-appliance/vault/pkg/audit"
	"github.com/vault-appliance/vault/pkg/config"
	"github.com/vault-appliance/vault/pkg/database/client"
	commonerrors "github.com/vault-appliance/vault/pkg/errors"
	"github.com/vault-appliance/vault/pkg/gpu"
	"github.com/vault-appliance/vault/pkg/jobs"
	"github.com/vault-appliance/vault/pkg/quarantine"
	"github.com/vault-appliance/vault/pkg/scheduler"
	"github.com/vault-appliance/vault/pkg/services"
	"github.com/vault-appliance/vault/pkg/update"
	"github.com/vault-appliance/vault/pkg/uptime"
	jsonutils "github.com/vault-appliance/vault/pkg/utils/json"
)

var jsonContentType = "application/json; charset=utf-8"

// Narrow views over the service layer; tests substitute fakes.

type trainingAPI interface {
	Create(ctx context.Context, req *jobs.CreateTrainingRequest) (*client.TrainingJob, error)
	Validate(ctx context.Context, req *jobs.CreateTrainingRequest) *jobs.ValidationResult
	List(ctx context.Context, status string, limit, offset int) ([]*client.TrainingJob, error)
	Get(ctx context.Context, id string) (*client.TrainingJob, error)
	Delete(ctx context.Context, id string) error
	Pause(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) (*client.TrainingJob, error)
	Cancel(ctx context.Context, id string) error
	ActiveJobId() string
}

type evalAPI interface {
	Create(ctx context.Context, req *jobs.CreateEvalRequest) (*client.EvalJob, error)
	List(ctx context.Context, status string, limit, offset int) ([]*client.EvalJob, error)
	Get(ctx context.Context, id string) (*client.EvalJob, error)
	Delete(ctx context.Context, id string) error
	Cancel(ctx context.Context, id string) error
	Compare(ctx context.Context, jobIds []string) ([]jobs.CompareEntry, error)
	Quick(ctx context.Context, req *jobs.QuickEvalRequest) ([]jobs.QuickEvalAnswer, error)
	Datasets() []jobs.Dataset
	ActiveJobId() string
}

type adapterAPI interface {
	List(ctx context.Context) ([]*client.Adapter, error)
	Get(ctx context.Context, id string) (*client.Adapter, error)
	Activate(ctx context.Context, id string) (*client.Adapter, error)
	Deactivate(ctx context.Context, id string) (*client.Adapter, error)
	Delete(ctx context.Context, id string) error
}

type servicesAPI interface {
	Names() []string
	Known(name string) bool
	Status(ctx context.Context, name string) (*services.ServiceStatus, error)
	List(ctx context.Context) []*services.ServiceStatus
	Restart(ctx context.Context, name string) (*services.RestartResult, error)
	Logs(ctx context.Context, filter services.LogFilter) ([]*services.LogEntry, error)
	Follow(ctx context.Context, filter services.LogFilter, out chan<- *services.LogEntry) error
}

type uptimeAPI interface {
	Events(ctx context.Context, service string, limit, offset int) ([]*client.UptimeEvent, error)
	Availability(ctx context.Context, service string, windowHours int) (float64, error)
}

type ldapAPI interface {
	Enabled(ctx context.Context) bool
	Login(ctx context.Context, username, password string) (*client.User, error)
	TestConnection(ctx context.Context) error
}

// Handler carries every dependency of the HTTP surface.
type Handler struct {
	dbClient   client.Interface
	training   trainingAPI
	eval       evalAPI
	adapters   adapterAPI
	quarantine *quarantine.Service
	updates    *update.Service
	services   servicesAPI
	uptime     uptimeAPI
	sched      *scheduler.Scheduler
	prober     gpu.Prober
	ldap       ldapAPI
	audit      *audit.Writer
	sysCfg     *config.System
	proxy      *Proxy
}

// Deps is the wiring bundle the server hands to NewHandler.
type Deps struct {
	DBClient   client.Interface
	Training   *jobs.TrainingService
	Eval       *jobs.EvalService
	Adapters   *adapters.Manager
	Quarantine *quarantine.Service
	Updates    *update.Service
	Services   *services.Manager
	Uptime     *uptime.Monitor
	Scheduler  *scheduler.Scheduler
	Prober     gpu.Prober
	Ldap       ldapAPI
	Audit      *audit.Writer
	SysCfg     *config.System
	Proxy      *Proxy
}

func NewHandler(deps Deps) *Handler {
	return &Handler{
		dbClient:   deps.DBClient,
		training:   deps.Training,
		eval:       deps.Eval,
		adapters:   deps.Adapters,
		quarantine: deps.Quarantine,
		updates:    deps.Updates,
		services:   deps.Services,
		uptime:     deps.Uptime,
		sched:      deps.Scheduler,
		prober:     deps.Prober,
		ldap:       deps.Ldap,
		audit:      deps.Audit,
		sysCfg:     deps.SysCfg,
		proxy:      deps.Proxy,
	}
}

type handleFunc func(*gin.Context) (interface{}, error)

func handle(c *gin.Context, fn handleFunc) {
	rsp, err := fn(c)
	if err != nil {
		apiutils.AbortWithApiError(c, err)
		return
	}
	code := http.StatusOK
	// If a status was previously set, use that status in the response.
	if c.Writer.Status() > 0 {
		code = c.Writer.Status()
	}
	switch rspType := rsp.(type) {
	case []byte:
		c.Data(code, jsonContentType, rspType)
	case string:
		c.Data(code, jsonContentType, []byte(rspType))
	default:
		c.JSON(code, rspType)
	}
}

func getBodyFromRequest(req *http.Request, bodyStruct interface{}) ([]byte, error) {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, commonerrors.NewBadRequest(err.Error())
	}
	if len(body) == 0 {
		return nil, commonerrors.NewBadRequest("request body is required")
	}
	if err = jsonutils.UnmarshalWithCheck(body, bodyStruct); err != nil {
		return body, commonerrors.NewBadRequest(err.Error())
	}
	return body, nil
}

func parsePaging(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.Query("limit"))
	offset, _ = strconv.Atoi(c.Query("offset"))
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
