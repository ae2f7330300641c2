package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver (pgx)
	_ "github.com/lib/pq"              // PostgreSQL driver
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"mailboxsaas/backend/internal/domain"
	"mailboxsaas/backend/internal/storage"
)

// 支持的驱动名
const (
	DriverPostgres = "postgres"
	DriverPgx      = "pgx"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
)

// PoolConfig 连接池参数
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store SQL 数据库存储实现（PostgreSQL / MySQL / SQLite，基于 GORM）
type Store struct {
	db         *gorm.DB
	sqlDB      *sql.DB
	driverName string
}

var _ storage.Store = (*Store)(nil)

// NewStore 创建SQL数据库存储
func NewStore(driverName, dsn string, pool PoolConfig) (*Store, error) {
	dialector, err := openDialector(driverName, dsn)
	if err != nil {
		return nil, err
	}

	store, err := NewStoreWithDialector(dialector, pool)
	if err != nil {
		return nil, err
	}
	store.driverName = driverName
	return store, nil
}

// openDialector postgres/pgx/mysql 先用 database/sql 打开连接再交给 GORM，sqlite 由 GORM 直接打开。
func openDialector(driverName, dsn string) (gorm.Dialector, error) {
	switch driverName {
	case DriverSQLite:
		return sqlite.Open(dsn), nil
	case DriverPostgres, DriverPgx, DriverMySQL:
	default:
		return nil, fmt.Errorf("%w: %s (supported: postgres, pgx, mysql, sqlite)", storage.ErrUnsupportedDriver, driverName)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driverName == DriverMySQL {
		return mysql.New(mysql.Config{Conn: db}), nil
	}
	return postgres.New(postgres.Config{Conn: db}), nil
}

// NewStoreWithDialector 使用指定的GORM dialector创建存储实例
func NewStoreWithDialector(dialector gorm.Dialector, pool PoolConfig) (*Store, error) {
	config := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(dialector, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db, sqlDB: sqlDB, driverName: dialector.Name()}, nil
}

// Migrate 自动迁移表结构
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(
		&domain.Mailbox{},
		&domain.Message{},
		&domain.Attachment{},
	)
}

// SaveMailbox 插入或更新邮箱，供迁移工具和测试预置数据。
func (s *Store) SaveMailbox(ctx context.Context, mb *domain.Mailbox) error {
	if mb.ID == "" {
		mb.ID = uuid.NewString()
	}
	return s.db.WithContext(ctx).Save(mb).Error
}

// FindActiveMailbox 按地址查找启用中的邮箱。
func (s *Store) FindActiveMailbox(ctx context.Context, address string) (*domain.Mailbox, error) {
	var mb domain.Mailbox
	err := s.db.WithContext(ctx).
		Where("email_address = ? AND is_active = ?", address, true).
		First(&mb).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrMailboxNotFound
		}
		return nil, fmt.Errorf("find mailbox: %w", err)
	}
	return &mb, nil
}

// GetMailbox 按 ID 获取邮箱。
func (s *Store) GetMailbox(ctx context.Context, id string) (*domain.Mailbox, error) {
	var mb domain.Mailbox
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&mb).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrMailboxNotFound
		}
		return nil, fmt.Errorf("get mailbox: %w", err)
	}
	return &mb, nil
}

// ListExpiredMailboxes 查询 expires_at 非空且不晚于 now 的邮箱。
func (s *Store) ListExpiredMailboxes(ctx context.Context, now time.Time) ([]domain.Mailbox, error) {
	var mailboxes []domain.Mailbox
	err := s.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ?", now).
		Order("expires_at ASC").
		Find(&mailboxes).Error
	if err != nil {
		return nil, fmt.Errorf("list expired mailboxes: %w", err)
	}
	return mailboxes, nil
}

// DeleteMailbox 删除邮箱记录。
func (s *Store) DeleteMailbox(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Mailbox{})
	if result.Error != nil {
		return fmt.Errorf("delete mailbox: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrMailboxNotFound
	}
	return nil
}

// InsertMessage 在一个事务内写入邮件及其附件。
func (s *Store) InsertMessage(ctx context.Context, msg *domain.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	for i := range msg.Attachments {
		if msg.Attachments[i].ID == "" {
			msg.Attachments[i].ID = uuid.NewString()
		}
		msg.Attachments[i].MessageID = msg.ID
	}
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// DeleteMessage 删除单封邮件及其附件。
func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	var affected int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("message_id = ?", id).Delete(&domain.Attachment{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ?", id).Delete(&domain.Message{})
		affected = result.RowsAffected
		return result.Error
	})
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if affected == 0 {
		return storage.ErrMessageNotFound
	}
	return nil
}

// DeleteMessagesByMailbox 删除邮箱下的全部邮件与附件。
func (s *Store) DeleteMessagesByMailbox(ctx context.Context, mailboxID string) (int, error) {
	var affected int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ids := tx.Model(&domain.Message{}).Select("id").Where("mailbox_id = ?", mailboxID)
		if err := tx.Where("message_id IN (?)", ids).Delete(&domain.Attachment{}).Error; err != nil {
			return err
		}
		result := tx.Where("mailbox_id = ?", mailboxID).Delete(&domain.Message{})
		affected = result.RowsAffected
		return result.Error
	})
	if err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}
	return int(affected), nil
}

// ListMessages 按接收时间返回邮箱下的邮件（含附件）。
func (s *Store) ListMessages(ctx context.Context, mailboxID string) ([]domain.Message, error) {
	var messages []domain.Message
	err := s.db.WithContext(ctx).
		Preload("Attachments").
		Where("mailbox_id = ?", mailboxID).
		Order("received_at ASC").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

// DriverName 返回驱动名
func (s *Store) DriverName() string {
	return s.driverName
}

// Ping 检查数据库健康状态
func (s *Store) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	return s.sqlDB.Close()
}
