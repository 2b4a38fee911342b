package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"pantry/backend/internal/cache"
	"pantry/backend/internal/config"
	"pantry/backend/internal/httpapi"
	"pantry/backend/internal/logging"
	"pantry/backend/internal/report"
	"pantry/backend/internal/service"
	"pantry/backend/internal/snapshot"
	"pantry/backend/internal/store"
	"pantry/backend/internal/store/memory"
	pgstore "pantry/backend/internal/store/postgres"
	"pantry/backend/internal/store/sqlite"
	"pantry/backend/internal/store/sqlstore"
)

const sampleDays = 30

func main() {
	if err := config.LoadDotEnv(os.Getenv("ENV_FILE")); err != nil {
		logrus.Fatalf("load env file: %v", err)
	}
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	if err != nil {
		logrus.Fatalf("invalid logging configuration: %v", err)
	}
	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatalf("invalid security configuration: %v", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		logger.Fatalf("invalid TIME_ZONE %q: %v", cfg.TimeZone, err)
	}
	policy, err := report.ParsePolicy(cfg.PricingPolicy)
	if err != nil {
		logger.Fatalf("invalid PRICING_POLICY: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 4)

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := client.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Warn("redis unavailable, continuing without it")
			_ = client.Close()
		} else {
			rdb = client
			closers = append(closers, client.Close)
			logger.Info("redis: connected")
		}
	}

	repo, repoClosers, err := openRepository(ctx, cfg, loc, rdb, logger)
	if err != nil {
		logger.Fatalf("repository unavailable: %v", err)
	}
	closers = append(repoClosers, closers...)

	var reportCache cache.ReportCache
	if rdb != nil {
		reportCache = cache.NewRedisReportCache(rdb, "pantry:report:")
		logger.Info("report cache: redis")
	} else {
		reportCache = cache.NewLRUReportCache(cfg.ReportCacheSize, cfg.ReportCacheTTL())
		logger.Info("report cache: lru")
	}

	engine := report.NewEngine(reportCache, cfg.ReportCacheTTL(), policy, loc, logger)
	svc := service.New(repo, engine, logger)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, logger)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.WithFields(logrus.Fields{"addr": cfg.Address(), "policy": policy, "tz": loc.String()}).Info("pantry backend listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown error")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.WithError(err).Error("close error")
		}
	}

	logger.Info("server stopped")
}

// openRepository picks postgres, then sqlite, then the snapshot-backed memory
// store. A configured database that cannot be reached is fatal.
func openRepository(ctx context.Context, cfg config.Config, loc *time.Location, rdb *redis.Client, logger logrus.FieldLogger) (store.Repository, []func() error, error) {
	switch {
	case cfg.DatabaseURL != "":
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set: %w", err)
		}
		if err := seedSQL(ctx, pg, cfg, loc, logger); err != nil {
			_ = pg.Close()
			return nil, nil, err
		}
		logger.Info("repository: postgres")
		return pg, []func() error{pg.Close}, nil

	case cfg.SQLitePath != "":
		db, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite %s: %w", cfg.SQLitePath, err)
		}
		if err := seedSQL(ctx, db, cfg, loc, logger); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		logger.WithField("path", cfg.SQLitePath).Info("repository: sqlite")
		return db, []func() error{db.Close}, nil
	}

	blob, closers, err := openSnapshotBlob(ctx, cfg, rdb)
	if err != nil {
		return nil, nil, err
	}
	if blob == nil {
		logger.Info("repository: in-memory without snapshot")
		if cfg.SeedSampleData {
			return memory.NewSeeded(), nil, nil
		}
		return memory.NewEmpty(), nil, nil
	}

	var locker snapshot.Locker
	if rdb != nil {
		locker = snapshot.NewRedisLocker(rdb, 30*time.Second)
	}
	repo, err := memory.Open(ctx, snapshot.NewStore(blob, locker, logger), cfg.SeedSampleData)
	if err != nil {
		for _, closeFn := range closers {
			_ = closeFn()
		}
		return nil, nil, fmt.Errorf("open snapshot store: %w", err)
	}
	logger.WithField("backend", cfg.SnapshotBackend).Info("repository: in-memory with snapshot")
	return repo, closers, nil
}

func openSnapshotBlob(ctx context.Context, cfg config.Config, rdb *redis.Client) (snapshot.Blob, []func() error, error) {
	switch cfg.SnapshotBackend {
	case "", "file":
		blob, err := snapshot.NewFileBlob(cfg.SnapshotDir)
		if err != nil {
			return nil, nil, err
		}
		return blob, nil, nil
	case "redis":
		if rdb == nil {
			return nil, nil, fmt.Errorf("SNAPSHOT_BACKEND=redis requires a reachable REDIS_ADDR")
		}
		return snapshot.NewRedisBlob(rdb, "pantry:snapshot:"), nil, nil
	case "gcs":
		if cfg.SnapshotBucket == "" {
			return nil, nil, fmt.Errorf("SNAPSHOT_BACKEND=gcs requires SNAPSHOT_BUCKET")
		}
		blob, err := snapshot.NewGCSBlob(ctx, cfg.SnapshotBucket, cfg.SnapshotPrefix)
		if err != nil {
			return nil, nil, err
		}
		return blob, []func() error{blob.Close}, nil
	case "none":
		return nil, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown SNAPSHOT_BACKEND %q", cfg.SnapshotBackend)
	}
}

func seedSQL(ctx context.Context, db *sqlstore.Store, cfg config.Config, loc *time.Location, logger logrus.FieldLogger) error {
	now := time.Now().In(loc)
	if cfg.AdminPassword == "" || cfg.VendorPassword == "" {
		logger.Warn("using default dev credentials; set ADMIN_PASSWORD and VENDOR_PASSWORD to override")
	}
	users, err := store.DefaultUsers(cfg.AdminPassword, cfg.VendorPassword, now)
	if err != nil {
		return err
	}
	if err := db.SeedUsers(ctx, users); err != nil {
		return fmt.Errorf("seed users: %w", err)
	}
	if !cfg.SeedSampleData {
		return nil
	}
	seeded, err := db.SeedSampleLogs(ctx, store.SampleLogs(now, sampleDays))
	if err != nil {
		return fmt.Errorf("seed sample logs: %w", err)
	}
	if seeded {
		logger.WithField("days", sampleDays).Info("seeded sample consumption logs")
	}
	return nil
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}
