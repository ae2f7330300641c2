package storage

import (
	"context"
	"errors"
	"time"

	"mailboxsaas/backend/internal/domain"
)

var (
	// ErrMailboxNotFound 邮箱不存在或已停用
	ErrMailboxNotFound = errors.New("mailbox not found")
	// ErrMessageNotFound 邮件不存在
	ErrMessageNotFound = errors.New("message not found")
	// ErrUnsupportedDriver 不支持的数据库类型
	ErrUnsupportedDriver = errors.New("unsupported database driver")
)

// MailboxDirectory 邮箱目录，由 Web 应用维护，收信核心只读并在过期后删除。
type MailboxDirectory interface {
	// FindActiveMailbox 按规范化地址查找启用中的邮箱，找不到或已停用返回 ErrMailboxNotFound。
	FindActiveMailbox(ctx context.Context, address string) (*domain.Mailbox, error)
	GetMailbox(ctx context.Context, id string) (*domain.Mailbox, error)
	// ListExpiredMailboxes 返回 expiresAt 非空且不晚于 now 的邮箱。
	ListExpiredMailboxes(ctx context.Context, now time.Time) ([]domain.Mailbox, error)
	DeleteMailbox(ctx context.Context, id string) error
}

// MessageStore 邮件存储。
type MessageStore interface {
	// InsertMessage 写入一封邮件并回填 ID。
	InsertMessage(ctx context.Context, msg *domain.Message) error
	DeleteMessage(ctx context.Context, id string) error
	DeleteMessagesByMailbox(ctx context.Context, mailboxID string) (int, error)
}

// Store 组合目录与邮件存储，并提供健康检查与关闭。
type Store interface {
	MailboxDirectory
	MessageStore
	Ping(ctx context.Context) error
	Close() error
}
