// Package bootstrap builds the runtime shared by the API server and notesctl
// from configuration.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"studynotes/api/internal/app"
	"studynotes/api/internal/config"
	"studynotes/api/internal/export"
	"studynotes/api/internal/history"
	"studynotes/api/internal/media"
	"studynotes/api/internal/search"
	"studynotes/api/internal/staging"
	"studynotes/api/internal/store"
)

type Options struct {
	// Migrate applies pending migrations after connecting to Postgres.
	Migrate bool
}

// Runtime holds every backing service the application needs.
type Runtime struct {
	Config  config.Config
	Logger  *zap.Logger
	DB      *sql.DB
	Media   media.Storage
	Staging staging.Registry
	Search  *search.Service
	History *history.Service

	deps    app.Deps
	closers []func()
}

// Open connects to every configured backend. On error anything already
// opened is closed again.
func Open(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (*Runtime, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	rt := &Runtime{Config: cfg, Logger: logger}
	if err := rt.open(ctx, opts); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (r *Runtime) open(ctx context.Context, opts Options) error {
	cfg, logger := r.Config, r.Logger

	var fallback search.Fallback
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		r.DB = db
		r.closers = append(r.closers, func() { _ = db.Close() })
		if opts.Migrate {
			applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
			if err != nil {
				return fmt.Errorf("apply migrations: %w", err)
			}
			if len(applied) > 0 {
				logger.Info("migrations applied", zap.Strings("versions", applied))
			}
		}
		r.deps.Store = store.NewPostgresStore(db)
		fallback = search.NewPgFTS(db)
	case config.StoreDriverMemory:
		memory := store.NewMemoryStore()
		if cfg.SeedDemo {
			memory.SeedDemo()
		}
		r.deps.Store = memory
		fallback = search.NewMemory(memory)
		logger.Warn("using in-memory store; data is lost on restart")
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	switch cfg.MediaDriver {
	case config.MediaDriverLocal:
		local, err := media.NewLocal(cfg.UploadsDir)
		if err != nil {
			return err
		}
		r.Media = local
	case config.MediaDriverMinIO:
		bucket, err := media.NewMinIO(ctx, media.MinIOConfig{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			UseSSL:    cfg.MinIOUseSSL,
		})
		if err != nil {
			return err
		}
		r.Media = bucket
	default:
		return fmt.Errorf("unknown MEDIA_DRIVER %q", cfg.MediaDriver)
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		registry, err := staging.NewRedisRegistry(cfg.RedisURL)
		if err != nil {
			return err
		}
		r.Staging = registry
		r.closers = append(r.closers, func() { _ = registry.Close() })
		logger.Info("using redis for upload staging")
	} else {
		r.Staging = staging.NewMemoryRegistry()
		logger.Info("using process memory for upload staging")
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		r.closers = append(r.closers, meiliClient.Close)
	}
	r.Search = search.NewService(meiliClient, fallback, logger)

	if err := os.MkdirAll(cfg.HistoryDir, 0o755); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}
	r.History = history.New(cfg.HistoryDir, cfg.HistoryAuthor)

	r.deps.Media = r.Media
	r.deps.Staging = r.Staging
	r.deps.Search = r.Search
	r.deps.History = r.History
	r.deps.Exporter = export.NewService(0)
	r.deps.Logger = logger
	return nil
}

// Service returns an application service over the runtime's backends.
func (r *Runtime) Service() *app.Service {
	return app.New(r.Config, r.deps)
}

// Sweeper returns a sweeper for abandoned uploads.
func (r *Runtime) Sweeper() *staging.Sweeper {
	return staging.NewSweeper(r.Staging, r.Media, r.deps.Store, r.Logger)
}

// Close releases connections in reverse order of opening.
func (r *Runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}
