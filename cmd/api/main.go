package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bryanwahyu/dance-analyzer/internal/application"
	"github.com/bryanwahyu/dance-analyzer/internal/application/relay"
	"github.com/bryanwahyu/dance-analyzer/internal/config"
	"github.com/bryanwahyu/dance-analyzer/internal/domain/results"
	"github.com/bryanwahyu/dance-analyzer/internal/infra/ai/gemini"
	mysqlp "github.com/bryanwahyu/dance-analyzer/internal/infra/db/mysql"
	pgp "github.com/bryanwahyu/dance-analyzer/internal/infra/db/postgres"
	"github.com/bryanwahyu/dance-analyzer/internal/infra/httpserver"
	minioStore "github.com/bryanwahyu/dance-analyzer/internal/infra/storage"
	"github.com/bryanwahyu/dance-analyzer/internal/logging"
	"github.com/bryanwahyu/dance-analyzer/internal/middleware"
)

const janitorInterval = time.Hour

// sqlStore is what the SQL result repositories share.
type sqlStore interface {
	results.Repository
	middleware.HealthChecker
	EnsureSchema(ctx context.Context) error
	DeleteExpired(ctx context.Context) (int64, error)
}

func main() {
	// path config.yaml
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("relay stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc := &relay.Service{
		Clock:  application.SystemClock{},
		TTL:    cfg.ResultTTL(),
		Logger: logger,
	}

	if cfg.Upstream.APIKey != "" {
		client, err := gemini.NewClient(ctx, gemini.Options{
			APIKey:        cfg.Upstream.APIKey,
			UploadBaseURL: cfg.Upstream.UploadBaseURL,
			APIBaseURL:    cfg.Upstream.APIBaseURL,
			Model:         cfg.Upstream.Model,
			Timeout:       cfg.UpstreamTimeout(),
			Logger:        logger,
		})
		if err != nil {
			return fmt.Errorf("gemini client: %w", err)
		}
		svc.Upstream, svc.Model = client, client
		logger.Info("upstream configured",
			"model", cfg.Upstream.Model,
			"api_key", logging.SanitizeToken(cfg.Upstream.APIKey),
		)
	} else {
		logger.Warn("GEMINI_API_KEY not set; upstream actions will fail")
	}

	checkers := map[string]middleware.HealthChecker{}
	switch cfg.Store.Driver {
	case config.StoreMinio:
		store, err := minioStore.New(ctx,
			cfg.Minio.Endpoint,
			cfg.Minio.Region,
			cfg.Minio.BucketName,
			cfg.Minio.AccessKey,
			cfg.Minio.SecretKey,
			cfg.Minio.UseSSL,
			cfg.ResultTTL(),
		)
		if err != nil {
			return fmt.Errorf("minio init: %w", err)
		}
		svc.Results = store
		checkers["store"] = store
	case config.StoreMySQL:
		db, err := mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer db.Close()
		if err := useSQLStore(ctx, svc, checkers, mysqlp.NewResultRepository(db), logger); err != nil {
			return err
		}
	case config.StorePostgres:
		db, err := pgp.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			return fmt.Errorf("postgres connect: %w", err)
		}
		defer db.Close()
		if err := useSQLStore(ctx, svc, checkers, pgp.NewResultRepository(db), logger); err != nil {
			return err
		}
	default:
		logger.Warn("no result store configured; save_result and get_result will fail")
	}
	if svc.Results != nil {
		logger.Info("result store ready", "driver", cfg.Store.Driver, "ttl", cfg.ResultTTL().String())
	}

	limiter := middleware.NewRateLimiter(cfg.Server.RateLimit.Capacity, cfg.Server.RateLimit.RefillPerSecond)
	defer limiter.Stop()

	handler, err := httpserver.NewRouter(httpserver.Options{
		Service:        svc,
		UploadBaseURL:  cfg.Upstream.UploadBaseURL,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Checkers:       checkers,
		RateLimiter:    limiter,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	// no write timeout: analyze can take minutes and upstream calls carry their own
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       cfg.ReadTimeout(),
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr, "origins", len(cfg.CORS.AllowedOrigins))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// useSQLStore prepares the schema and starts the expiry janitor.
func useSQLStore(ctx context.Context, svc *relay.Service, checkers map[string]middleware.HealthChecker, repo sqlStore, logger *slog.Logger) error {
	if err := repo.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	svc.Results = repo
	checkers["store"] = repo
	go janitor(ctx, repo, logging.WithComponent(logger, "janitor"))
	return nil
}

// janitor purges expired rows; reads already filter them.
func janitor(ctx context.Context, repo sqlStore, logger *slog.Logger) {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := repo.DeleteExpired(ctx)
			if err != nil && !errors.Is(err, sql.ErrConnDone) {
				logger.Warn("purge expired results failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("purged expired results", "count", n)
			}
		}
	}
}
