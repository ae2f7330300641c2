package provider

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailboxsaas/backend/internal/config"
	"mailboxsaas/backend/internal/domain"
	"mailboxsaas/backend/internal/storage"
	"mailboxsaas/backend/internal/storage/memory"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()
	log := zap.NewNop()

	t.Run("内存存储", func(t *testing.T) {
		store, err := Open(ctx, config.DatabaseConfig{Type: "memory"}, log)
		require.NoError(t, err)
		assert.IsType(t, &memory.Store{}, store)
		assert.NoError(t, Migrate(ctx, store))
	})

	t.Run("SQLite 存储并迁移", func(t *testing.T) {
		dsn := filepath.Join(t.TempDir(), "mail.db")
		store, err := Open(ctx, config.DatabaseConfig{Type: "sqlite", DSN: dsn, MaxOpenConns: 1}, log)
		require.NoError(t, err)
		defer store.Close()

		require.NoError(t, Migrate(ctx, store))
		require.NoError(t, store.InsertMessage(ctx, &domain.Message{MailboxID: "mb"}))
		assert.NoError(t, store.Ping(ctx))
	})

	t.Run("未知类型", func(t *testing.T) {
		_, err := Open(ctx, config.DatabaseConfig{Type: "cassandra"}, log)
		assert.ErrorIs(t, err, storage.ErrUnsupportedDriver)
	})
}
