package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"entityflow/internal/admin"
	"entityflow/internal/api"
	"entityflow/internal/audit"
	"entityflow/internal/auth"
	"entityflow/internal/engine"
	"entityflow/internal/instrument"
	"entityflow/internal/notify"
	"entityflow/internal/permission"
	"entityflow/internal/storage"
	"entityflow/internal/workflow"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := newRuntime(ctx, cmd)
		if err != nil {
			return err
		}
		defer rt.close()
		cfg := rt.cfg

		if err := rt.store.Bootstrap(ctx); err != nil {
			return fmt.Errorf("bootstrap system tables: %w", err)
		}

		var metrics *instrument.Metrics
		var wfOpts []workflow.Option
		if cfg.Metrics.Enabled {
			metrics = instrument.NewMetrics()
			wfOpts = append(wfOpts, workflow.WithObserver(metrics.ObserveTransition))
		}
		workflows, err := rt.workflows(wfOpts...)
		if err != nil {
			return err
		}

		auditLog := audit.NewSQLLogger(rt.store.Dialect)
		csrf := auth.NewCSRF(cfg.Auth.CSRFSecret)
		opts := []engine.Option{
			engine.WithLogger(rt.logger),
			engine.WithPermissions(permission.Policy{FailClosed: cfg.Engine.FailClosedPermissions}),
			engine.WithAudit(auditLog, cfg.Engine.AuditEnabled),
			engine.WithNotifier(notify.NewDispatcher(rt.logger, notify.WithMailer(notify.LogMailer{Logger: rt.logger}))),
			engine.WithUploads(storage.NewLocalUploader(cfg.Storage.LocalPath, cfg.Storage.MaxFileSize)),
			engine.WithWorkflows(workflows),
		}
		if cfg.Auth.CSRFEnabled {
			opts = append(opts, engine.WithCSRF(csrf))
		}
		if metrics != nil {
			opts = append(opts, engine.WithObserver(metrics))
		}
		orch := engine.New(rt.store, rt.tables, opts...)

		app := api.NewApp(api.Deps{
			Orchestrator: orch,
			Workflows:    workflows,
			Admin:        admin.NewHandler(rt.store, rt.tables, auditLog, workflows, rt.logger),
			Auth:         auth.NewHandler(csrf),
			Metrics:      metrics,
			JWTSecret:    cfg.Auth.JWTSecret,
			Logger:       rt.logger,
		})

		serverErrors := make(chan error, 1)
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		go func() {
			color.Green("entityflow listening on %s (%s)", addr, rt.store.Dialect.Name())
			serverErrors <- app.Listen(addr)
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-serverErrors:
			return fmt.Errorf("server: %w", err)
		case sig := <-shutdown:
			rt.logger.Info("shutting down", zap.String("signal", sig.String()))
			return app.Shutdown()
		}
	},
}

func init() {
	serveCmd.Flags().Int("port", 0, "Override server.port")
	serveCmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		if port, _ := cmd.Flags().GetInt("port"); port > 0 {
			return os.Setenv("ENTITYFLOW_SERVER_PORT", fmt.Sprint(port))
		}
		return nil
	}
}
