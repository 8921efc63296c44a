/*
 * Copyright (c) 2025, Vault Systems, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/vault-appliance/vault/pkg/adapters"
	"github.com/vault-appliance/vault/pkg/audit"
	"github.com/vault-appliance/vault/pkg/authority"
	"github.com/vault-appliance/vault/pkg/config"
	"github.com/vault-appliance/vault/pkg/database/client"
	dbutils "github.com/vault-appliance/vault/pkg/database/utils"
	"github.com/vault-appliance/vault/pkg/gpu"
	"github.com/vault-appliance/vault/pkg/handlers"
	"github.com/vault-appliance/vault/pkg/jobs"
	"github.com/vault-appliance/vault/pkg/ldap"
	"github.com/vault-appliance/vault/pkg/quarantine"
	"github.com/vault-appliance/vault/pkg/scheduler"
	"github.com/vault-appliance/vault/pkg/services"
	"github.com/vault-appliance/vault/pkg/update"
	"github.com/vault-appliance/vault/pkg/uptime"
	"github.com/vault-appliance/vault/pkg/utils/timeutil"
)

type Server struct {
	opts       *Options
	ctx        context.Context
	cancel     context.CancelFunc
	dbClient   *client.Client
	uptimeMon  *uptime.Monitor
	httpServer *http.Server
	isInited   bool
}

// NewServer creates and returns a new Server instance.
func NewServer() (*Server, error) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	s := &Server{
		opts:   &Options{},
		ctx:    ctx,
		cancel: cancel,
	}
	if err := s.init(); err != nil {
		cancel()
		return nil, err
	}
	return s, nil
}

// init performs flag parsing, configuration loading, database setup and
// component wiring, then builds the HTTP surface.
func (s *Server) init() error {
	gin.SetMode(gin.ReleaseMode)
	var err error
	if err = s.opts.InitFlags(); err != nil {
		klog.ErrorS(err, "failed to parse flags")
		return err
	}
	if err = s.initConfig(); err != nil {
		klog.ErrorS(err, "failed to init config")
		return err
	}
	if s.dbClient, err = client.NewClient(); err != nil {
		klog.ErrorS(err, "failed to connect database")
		return err
	}
	if err = s.initComponents(); err != nil {
		klog.ErrorS(err, "failed to wire components")
		return err
	}
	s.isInited = true
	return nil
}

func (s *Server) initConfig() error {
	fullPath, err := filepath.Abs(s.opts.Config)
	if err != nil {
		return err
	}
	if err = config.LoadConfig(fullPath); err != nil {
		return fmt.Errorf("config path: %s, err: %v", fullPath, err)
	}
	return nil
}

// initComponents builds every service the handlers depend on and assembles
// the gin engine.
func (s *Server) initComponents() error {
	sysCfg := config.NewSystem(s.dbClient)
	auditWriter := audit.NewWriter(s.dbClient)
	prober := gpu.NewCliProber()
	sched := scheduler.NewScheduler(prober, sysCfg)

	svcManager := services.NewManager()
	s.uptimeMon = uptime.NewMonitor(s.dbClient, svcManager)

	adapterMgr := adapters.NewManager(s.dbClient)
	training := jobs.NewTrainingService(s.dbClient, sched, adapterMgr)
	eval := jobs.NewEvalService(s.dbClient, sched)

	quarantineSvc := quarantine.NewService(s.dbClient, sysCfg,
		config.GetQuarantineRoot(), config.GetClamSocket())

	updateSvc := update.NewService(s.dbClient,
		config.GetUpdateRoot(), config.GetUpdateInstallRoot(),
		config.GetUpdatePublicKeyPath(), config.GetVersionFile(),
		func() { restartManagedServices(svcManager) })

	proxy := handlers.NewProxy(config.GetEngineBaseURL(), config.GetEngineHealthPath(),
		config.GetEngineConnectTimeout(), config.GetEngineReadTimeout())

	if err := s.ensureBootstrapAdmin(); err != nil {
		return err
	}

	h := handlers.NewHandler(handlers.Deps{
		DBClient:   s.dbClient,
		Training:   training,
		Eval:       eval,
		Adapters:   adapterMgr,
		Quarantine: quarantineSvc,
		Updates:    updateSvc,
		Services:   svcManager,
		Uptime:     s.uptimeMon,
		Scheduler:  sched,
		Prober:     prober,
		Ldap:       ldap.NewAuthenticator(sysCfg, s.dbClient),
		Audit:      auditWriter,
		SysCfg:     sysCfg,
		Proxy:      proxy,
	})
	engine := handlers.InitHttpHandlers(h, s.dbClient)
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", config.GetServerPort()),
		Handler: engine,
	}
	return nil
}

// ensureBootstrapAdmin creates the initial admin account on a fresh database
// from the provisioning-time password file. Without it a new appliance has no
// way in.
func (s *Server) ensureBootstrapAdmin() error {
	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()
	count, err := s.dbClient.CountUsers(ctx, nil)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	password := config.GetBootstrapAdminPassword()
	if password == "" {
		klog.Warning("no users and no bootstrap password file, skipping admin bootstrap")
		return nil
	}
	hash, err := authority.HashPassword(password)
	if err != nil {
		return err
	}
	user := &client.User{
		Id:             uuid.NewString(),
		Name:           "Administrator",
		Email:          config.GetBootstrapAdminEmail(),
		Role:           client.RoleAdmin,
		Status:         client.UserStatusActive,
		AuthSource:     client.AuthSourceLocal,
		CredentialHash: dbutils.NullString(hash),
		CreatedAt:      timeutil.Now(),
	}
	if err = s.dbClient.InsertUser(ctx, user); err != nil {
		return err
	}
	klog.Infof("bootstrapped admin account %s", user.Email)
	return nil
}

// restartManagedServices is the post-update hook: every managed unit except
// the control plane itself gets a restart.
func restartManagedServices(svcManager *services.Manager) {
	for _, name := range services.Names() {
		result, err := svcManager.Restart(context.Background(), name)
		if err != nil {
			// the manager refuses to restart the control plane itself
			klog.ErrorS(err, "post-update restart failed", "service", name)
			continue
		}
		if result.Skipped {
			klog.Infof("post-update restart of %s skipped: %s", name, result.Message)
		}
	}
}

// Start runs the uptime monitor and the HTTP server, then blocks until a
// shutdown signal arrives.
func (s *Server) Start() {
	if !s.isInited {
		klog.Errorf("please init server first")
		return
	}
	klog.Infof("starting control plane")
	s.uptimeMon.Start()

	go func() {
		klog.Infof("http server listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			klog.ErrorS(err, "failed to start http server")
			os.Exit(-1)
		}
	}()

	<-s.ctx.Done()
	s.Stop()
}

// Stop drains the HTTP server, halts the uptime monitor and closes the
// database connection.
func (s *Server) Stop() {
	klog.Info("shutting down http server...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		klog.ErrorS(err, "failed to shutdown http server")
	}
	s.uptimeMon.Stop()
	if err := s.dbClient.Close(); err != nil {
		klog.ErrorS(err, "failed to close database")
	}
	s.cancel()
	klog.Info("control plane is stopped")
	klog.Flush()
}
