package smtp

import (
	"context"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"mailboxsaas/backend/internal/domain"
	"mailboxsaas/backend/internal/fanout"
	"mailboxsaas/backend/internal/monitoring"
	"mailboxsaas/backend/internal/storage"
)

var (
	errNoRecipients = &gosmtp.SMTPError{
		Code:         554,
		EnhancedCode: gosmtp.EnhancedCode{5, 5, 1},
		Message:      "No valid recipients",
	}
	errStoreFailed = &gosmtp.SMTPError{
		Code:         451,
		EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
		Message:      "Temporary failure storing message, try again later",
	}
)

// Notifier 接收已落库邮件的通知
type Notifier interface {
	NewMail(ctx context.Context, mb domain.Mailbox, msg *domain.Message) int
}

var _ Notifier = (*fanout.Notifier)(nil)

// Ingester 为信封中的每个收件人生成一条独立的 Message 并落库，全部成功后再推送事件
type Ingester struct {
	store    storage.MessageStore
	notifier Notifier
	log      *zap.Logger
	metrics  *monitoring.Metrics
	now      func() time.Time
}

// NewIngester 创建 Ingester，notifier 为 nil 时不推送事件
func NewIngester(store storage.MessageStore, notifier Notifier, log *zap.Logger, metrics *monitoring.Metrics) *Ingester {
	return &Ingester{
		store:    store,
		notifier: notifier,
		log:      log,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Deliver 持久化并推送一次传输
//
// 任意一条写入失败时删除本次已写入的记录并返回 451，不发布任何事件。
// 返回的错误均为 *gosmtp.SMTPError。
func (in *Ingester) Deliver(ctx context.Context, env *domain.Envelope, parsed *ParsedEmail) ([]*domain.Message, error) {
	mailboxes := env.Mailboxes()
	if len(mailboxes) == 0 {
		return nil, errNoRecipients
	}

	receivedAt := in.now().UTC()
	from := parsed.From
	if from == "" {
		from = env.From
	}

	template := &domain.Message{
		From:        from,
		Subject:     parsed.Subject,
		HTML:        parsed.HTML,
		Text:        parsed.Text,
		Attachments: parsed.Attachments,
		ReceivedAt:  receivedAt,
		IsRead:      false,
	}

	stored := make([]*domain.Message, 0, len(mailboxes))
	for _, mb := range mailboxes {
		msg := template.Clone()
		msg.MailboxID = mb.ID
		msg.To = mb.Address

		if err := in.store.InsertMessage(ctx, msg); err != nil {
			in.log.Error("failed to store message",
				zap.String("mailbox_id", mb.ID),
				zap.String("recipient", mb.Address),
				zap.Int("already_stored", len(stored)),
				zap.Error(err),
			)
			in.rollback(ctx, stored)
			return nil, errStoreFailed
		}
		stored = append(stored, msg)
		in.metrics.RecordMessageStored(parsed.AttachmentSizes()...)
	}

	if in.notifier != nil {
		for i, msg := range stored {
			in.notifier.NewMail(ctx, mailboxes[i], msg)
		}
	}

	return stored, nil
}

// rollback 尽力删除本次传输已写入的记录，连接断开后也要执行完
func (in *Ingester) rollback(ctx context.Context, stored []*domain.Message) {
	ctx = context.WithoutCancel(ctx)
	for _, msg := range stored {
		if err := in.store.DeleteMessage(ctx, msg.ID); err != nil {
			in.log.Error("failed to roll back stored message",
				zap.String("message_id", msg.ID),
				zap.String("mailbox_id", msg.MailboxID),
				zap.Error(err),
			)
		}
	}
}
