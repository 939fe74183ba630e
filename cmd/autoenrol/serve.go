package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/autoenrol/api/swagger"
	"github.com/noah-isme/autoenrol/internal/handler"
	"github.com/noah-isme/autoenrol/internal/middleware"
	"github.com/noah-isme/autoenrol/internal/service"
	"github.com/noah-isme/autoenrol/pkg/config"
	"github.com/noah-isme/autoenrol/pkg/logger"
	reqidmiddleware "github.com/noah-isme/autoenrol/pkg/middleware/requestid"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the host hook API and run the scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := opts.open(cmd, "api")
			if err != nil {
				return err
			}
			defer app.Close()
			return serve(cmd.Context(), app)
		},
	}
}

func serve(parent context.Context, app *application) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app.scheduler.Start(ctx)
	defer app.scheduler.Stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           newRouter(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		app.logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", app.cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	app.logger.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newRouter(app *application) *gin.Engine {
	if app.cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(app.logger))
	r.Use(middleware.Metrics(app.metrics))

	checks := map[string]handler.ReadinessCheck{}
	if app.db != nil {
		checks["database"] = app.db.PingContext
	}
	if app.redis != nil {
		checks["redis"] = func(ctx context.Context) error { return app.redis.Ping(ctx).Err() }
	}
	metricsHandler := handler.NewMetricsHandler(app.metrics, checks)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if app.cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	hooks := handler.NewHookHandler(app.sync, app.logger.Named("hooks"))
	instances := handler.NewInstanceHandler(app.sync, app.instances, app.logger.Named("instances"))
	batch := handler.NewBatchHandler(app.scheduler)

	api := r.Group(app.cfg.APIPrefix, middleware.JWT(app.tokens))

	hookRoutes := api.Group("", middleware.RequireScope(service.ScopeHooks, service.ScopeOperator))
	hookRoutes.POST("/hooks/login", hooks.Login)
	hookRoutes.POST("/instances/:id/access", instances.Access)
	hookRoutes.POST("/instances/:id/confirm", instances.Confirm)
	hookRoutes.POST("/instances/:id/unenrolself", instances.SelfUnenrol)

	operator := api.Group("", middleware.RequireScope(service.ScopeOperator))
	operator.POST("/courses/:courseId/instances", instances.AddDefault)
	operator.DELETE("/instances/:id", instances.Delete)
	operator.POST("/sync", batch.Sync)
	operator.POST("/sweep", batch.Sweep)

	return r
}
