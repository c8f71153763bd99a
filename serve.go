package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"crm-backend/internal/api"
	"crm-backend/internal/auth"
	"crm-backend/internal/automation"
	"crm-backend/internal/email"
	"crm-backend/internal/realtime"
	"crm-backend/internal/storage"
	"crm-backend/internal/tenantcfg"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and websocket hub",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	src, err := a.source()
	if err != nil {
		return err
	}
	sub := realtime.NewSubscriber(src, log)
	defer sub.Close()
	hub := realtime.NewHub(sub, a.svc.Watches, log)
	defer hub.Close()
	hub.Attach(a.qc)
	a.notifier.AddForwarder(hub)

	deps := api.Deps{
		Service:  a.svc,
		JWT:      auth.NewJWTManager(cfg),
		Notifier: a.notifier,
		Hub:      hub,
		Mailer:   email.NewEmailSender(cfg, log),
		Config:   cfg,
		Log:      log,
	}
	if cfg.Supabase.URL != "" {
		deps.Storage = storage.NewSupabaseStorage(cfg.Supabase.URL, cfg.Supabase.ServiceRoleKey, cfg.Supabase.Bucket)
	}
	if a.redis != nil && cfg.Tenant.SecretKey != "" {
		settings, err := tenantcfg.NewStore(tenantcfg.RedisKV(a.redis), cfg.Tenant.SecretKey)
		if err != nil {
			return err
		}
		deps.Settings = settings
	}
	if cfg.Redis.URL != "" {
		opt, err := automation.RedisOpt(cfg.Redis.URL)
		if err != nil {
			return err
		}
		enq := automation.NewEnqueuer(opt, cfg.Automation)
		defer enq.Close()
		deps.Automation = enq
	}

	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	api.SetupRoutes(router, deps)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("port", cfg.Port).Info("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return a.qc.Listen(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info("Shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
