// Package provider 根据配置选择并初始化存储后端。
package provider

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"mailboxsaas/backend/internal/config"
	"mailboxsaas/backend/internal/storage"
	"mailboxsaas/backend/internal/storage/memory"
	"mailboxsaas/backend/internal/storage/mongo"
	sqlstore "mailboxsaas/backend/internal/storage/sql"
)

// Open 按 database.type 创建存储
func Open(ctx context.Context, cfg config.DatabaseConfig, log *zap.Logger) (storage.Store, error) {
	log.Info("initializing storage", zap.String("database_type", cfg.Type))

	switch cfg.Type {
	case "memory":
		log.Warn("using memory storage (development mode), data is lost on restart")
		return memory.NewStore(), nil

	case "mongodb", "mongo":
		store, err := mongo.NewStore(ctx, cfg.DSN, cfg.Name, uint64(max(cfg.MaxOpenConns, 0)))
		if err != nil {
			return nil, fmt.Errorf("failed to create mongodb store: %w", err)
		}
		return store, nil

	case sqlstore.DriverPostgres, sqlstore.DriverPgx, sqlstore.DriverMySQL, sqlstore.DriverSQLite:
		store, err := sqlstore.NewStore(cfg.Type, cfg.DSN, sqlstore.PoolConfig{
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create %s store: %w", cfg.Type, err)
		}
		return store, nil
	}

	return nil, fmt.Errorf("%w: %s", storage.ErrUnsupportedDriver, cfg.Type)
}

// Migrate 为支持的后端建表或建索引，其他后端直接返回
func Migrate(ctx context.Context, store storage.Store) error {
	switch s := store.(type) {
	case *mongo.Store:
		return s.EnsureIndexes(ctx)
	case *sqlstore.Store:
		return s.Migrate()
	}
	return nil
}
