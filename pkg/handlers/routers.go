/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vault-appliance/vault/pkg/apiutils"
	"github.com/vault-appliance/vault/pkg/authority"
	"github.com/vault-appliance/vault/pkg/config"
	commonerrors "github.com/vault-appliance/vault/pkg/errors"
)

// InitHttpHandlers builds the gin engine and registers every route of the
// control plane and the inference-compatibility surface.
func InitHttpHandlers(h *Handler, authStore authority.Store) *gin.Engine {
	if !config.IsGinDebugMode() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(apiutils.Logger(), gin.Recovery())
	engine.NoRoute(func(c *gin.Context) {
		apiutils.AbortWithApiError(c, commonerrors.NewNotFound(c.Request.RequestURI+" not found"))
	})

	// Unauthenticated surface: liveness, metrics exposition, login and the
	// directory-auth probe the login page needs before any credential exists.
	engine.GET("/vault/health", h.Health)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.POST("/vault/auth/login", h.Login)
	engine.GET("/vault/auth/ldap-enabled", h.LdapEnabled)

	authed := engine.Group("/vault", authority.Authorize(authStore))
	{
		authed.GET("auth/me", h.Me)

		system := authed.Group("system")
		{
			system.GET("resources", h.SystemResources)
			system.GET("gpu", h.SystemGpu)
			system.GET("services", h.ListServices)
			system.GET("logs", h.SystemLogs)
			system.GET("uptime", h.UptimeSummary)
			system.GET("uptime/events", h.UptimeEvents)
			system.GET("uptime/availability", h.UptimeAvailability)
			system.GET("inference", h.InferenceStatus)
			system.GET("health", h.SystemHealth)
			system.POST("services/:name/restart", authority.AdminOnly(), h.RestartService)
		}

		training := authed.Group("training")
		{
			training.GET("jobs", h.ListTrainingJobs)
			training.POST("jobs", h.CreateTrainingJob)
			training.GET("jobs/:id", h.GetTrainingJob)
			training.DELETE("jobs/:id", h.DeleteTrainingJob)
			training.POST("jobs/:id/pause", h.PauseTrainingJob)
			training.POST("jobs/:id/resume", h.ResumeTrainingJob)
			training.POST("jobs/:id/cancel", h.CancelTrainingJob)
			training.POST("validate", h.ValidateTrainingJob)
			training.GET("gpu-allocation", h.GpuAllocation)

			training.GET("adapters", h.ListAdapters)
			training.GET("adapters/:id", h.GetAdapter)
			training.DELETE("adapters/:id", h.DeleteAdapter)
			training.POST("adapters/:id/activate", h.ActivateAdapter)
			training.POST("adapters/:id/deactivate", h.DeactivateAdapter)
		}

		eval := authed.Group("eval")
		{
			eval.GET("jobs", h.ListEvalJobs)
			eval.POST("jobs", h.CreateEvalJob)
			eval.GET("jobs/:id", h.GetEvalJob)
			eval.DELETE("jobs/:id", h.DeleteEvalJob)
			eval.POST("jobs/:id/cancel", h.CancelEvalJob)
			eval.GET("compare", h.CompareEvalJobs)
			eval.POST("quick", h.QuickEval)
			eval.GET("datasets", h.ListEvalDatasets)
		}

		qt := authed.Group("quarantine")
		{
			qt.POST("scan", h.QuarantineScan)
			qt.GET("scan/:id", h.QuarantineScanStatus)
			qt.GET("held", h.QuarantineHeld)
			qt.GET("held/:id", h.QuarantineHeldFile)
			qt.POST("held/:id/approve", authority.AdminOnly(), h.QuarantineApprove)
			qt.POST("held/:id/reject", authority.AdminOnly(), h.QuarantineReject)
			qt.GET("signatures", h.QuarantineSignatures)
			qt.POST("signatures/install", authority.AdminOnly(), h.QuarantineInstallSignatures)
			qt.GET("stats", h.QuarantineStats)
		}

		updates := authed.Group("updates", authority.AdminOnly())
		{
			updates.GET("status", h.UpdateStatus)
			updates.GET("pending", h.UpdatePending)
			updates.GET("history", h.UpdateHistory)
			updates.POST("scan", h.UpdateScan)
			updates.POST("apply", h.UpdateApply)
			updates.POST("rollback", h.UpdateRollback)
			updates.GET("progress/:id", h.UpdateProgress)
		}

		admin := authed.Group("admin", authority.AdminOnly())
		{
			admin.GET("users", h.ListUsers)
			admin.POST("users", h.CreateUser)
			admin.GET("users/:id", h.GetUser)
			admin.PUT("users/:id", h.UpdateUser)
			admin.DELETE("users/:id", h.DeleteUser)

			admin.GET("keys", h.ListApiKeys)
			admin.POST("keys", h.CreateApiKey)
			admin.DELETE("keys/:id", h.RevokeApiKey)

			admin.GET("config/:group", h.GetConfigGroup)
			admin.PUT("config/:group", h.PutConfigGroup)

			admin.GET("ldap/mappings", h.ListLdapMappings)
			admin.POST("ldap/mappings", h.CreateLdapMapping)
			admin.DELETE("ldap/mappings/:id", h.DeleteLdapMapping)
			admin.POST("ldap/test", h.TestLdapConnection)

			admin.GET("audit", h.SearchAudit)

			admin.GET("data/export", h.DataExport)
			admin.POST("data/purge", h.DataPurge)
			admin.POST("conversations/archive", h.ArchiveConversations)
			admin.POST("factory-reset", h.FactoryReset)
			admin.POST("diagnostics/bundle", h.DiagnosticsBundle)
			admin.POST("backup", h.CreateBackup)
			admin.POST("restore", h.RestoreBackup)
		}
	}

	v1 := engine.Group("/v1", authority.Authorize(authStore))
	{
		v1.POST("chat/completions", h.ProxyInference)
		v1.POST("completions", h.ProxyInference)
		v1.POST("embeddings", h.ProxyInference)
		v1.GET("models", h.ProxyInference)
		v1.GET("models/:id", h.ProxyInference)
	}

	ws := engine.Group("/ws", authority.Authorize(authStore))
	{
		ws.GET("system", h.WsSystem)
		ws.GET("logs", authority.AdminOnly(), h.WsLogs)
		ws.GET("terminal", authority.AdminOnly(), h.WsTerminal)
		ws.GET("python", authority.AdminOnly(), h.WsPython)
	}

	return engine
}
