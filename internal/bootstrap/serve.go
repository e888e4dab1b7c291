package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/moonerfun/flywheel/internal/api"
	"github.com/moonerfun/flywheel/internal/logger"
	"github.com/moonerfun/flywheel/internal/profiling"
	"github.com/moonerfun/flywheel/internal/resilience"
	"github.com/moonerfun/flywheel/internal/server"
)

// Serve runs the scheduler and the HTTP API until ctx is cancelled or a
// shutdown signal arrives.
func Serve(ctx context.Context, configPath string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}

	log, err := CreateLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting flywheel service",
		logger.String("version", cfg.Service.Version),
		logger.Int("port", cfg.Service.Port),
	)

	profiler, err := profiling.Start(cfg.Service.Name, profiling.SettingsFromEnv(os.Getenv), log)
	if err != nil {
		log.Warn("profiling disabled", logger.Error(err))
	}
	defer profiler.Stop()

	app, err := New(ctx, cfg, log, Options{})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := app.Close(); closeErr != nil {
			log.Error("failed to close connections", logger.Error(closeErr))
		}
	}()

	sched, err := app.NewScheduler(false)
	if err != nil {
		return err
	}
	if startErr := sched.Start(ctx); startErr != nil {
		return fmt.Errorf("start scheduler: %w", startErr)
	}
	defer sched.Stop()

	handler := api.NewHandler(sched, app.Engine, log)
	srv := server.New(server.Config{
		ServiceName:    cfg.Service.Name,
		ServiceVersion: cfg.Service.Version,
		Port:           cfg.Service.Port,
		Debug:          cfg.Service.Debug,
	}, log, app.healthChecks(), func(router *gin.Engine) {
		api.RegisterRoutes(router, handler, api.RouteOptions{
			JWTSecret: cfg.Auth.JWTSecret,
			Metrics:   app.Metrics.Handler(),
		})
	})

	if cfg.Auth.JWTSecret == "" {
		log.Warn("auth.jwt_secret not set, manual trigger endpoint is unauthenticated")
	}

	if runErr := srv.RunWithGracefulShutdown(ctx); runErr != nil {
		return fmt.Errorf("run server: %w", runErr)
	}

	log.Info("flywheel service stopped")
	return nil
}

func (a *App) healthChecks() map[string]server.HealthChecker {
	checks := map[string]server.HealthChecker{
		"database": func(ctx context.Context) error {
			return a.DB.PingContext(ctx)
		},
		"gateway": func(context.Context) error {
			if a.Gateway.BreakerState() == resilience.StateOpen {
				return errors.New("circuit breaker open")
			}
			return nil
		},
	}
	if a.Redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return a.Redis.Ping(ctx).Err()
		}
	}
	return checks
}
