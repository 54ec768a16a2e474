package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/MarkoPoloResearchLab/intake/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/intake/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/intake/internal/store/redisstore"
	"github.com/MarkoPoloResearchLab/intake/pkg/intake"
	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	driverPostgres    = "postgres"
	driverSQLite      = "sqlite"
	defaultSQLiteFile = "intake.db"
)

type storeBundle struct {
	sessions intake.SessionStore
	recorder intake.ApplicationRecorder
	closers  []func() error
}

func (bundle *storeBundle) close() {
	for index := len(bundle.closers) - 1; index >= 0; index-- {
		_ = bundle.closers[index]()
	}
}

func openStores(ctx context.Context, cfg *runtimeConfig, logger *zap.Logger) (*storeBundle, error) {
	bundle := &storeBundle{}
	switch cfg.StoreDriver {
	case storeDriverPgx:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("database open: %w", err)
		}
		bundle.closers = append(bundle.closers, func() error { pool.Close(); return nil })
		store := pgstore.New(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			bundle.close()
			return nil, err
		}
		bundle.sessions = store
		bundle.recorder = store
	default:
		gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("database open: %w", err)
		}
		bundle.closers = append(bundle.closers, cleanup)
		if err := gormstore.Migrate(gormDB); err != nil {
			bundle.close()
			return nil, err
		}
		logger.Info("database ready", zap.String("driver", driver))
		store := gormstore.New(gormDB)
		bundle.sessions = store
		bundle.recorder = store
	}

	if cfg.SessionBackend == sessionBackendRedis {
		client, err := redisstore.Dial(ctx, cfg.RedisURL)
		if err != nil {
			bundle.close()
			return nil, err
		}
		bundle.closers = append(bundle.closers, client.Close)
		bundle.sessions = redisstore.New(client, redisstore.WithTTL(cfg.SessionTTL))
		logger.Info("profile sessions stored in redis", zap.Duration("ttl", cfg.SessionTTL))
	}
	return bundle, nil
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	cfg := &gorm.Config{}
	switch driver {
	case driverPostgres:
		db, err = gorm.Open(postgres.Open(dsn), cfg)
	case driverSQLite:
		db, err = gorm.Open(sqlite.Open(sqlitePath), cfg)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return driverPostgres, "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		parsed, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := parsed.Path
		if path == "" {
			path = parsed.Host
		}
		if path == "" || path == "/" {
			path = defaultSQLiteFile
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return driverSQLite, sqlitePath, err
	}
	// Anything else is a plain sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return driverSQLite, sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}
