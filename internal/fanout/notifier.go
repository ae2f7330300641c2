// Package fanout 把一封新邮件转换为房间事件：
// 邮箱房间一条 new-email，所有者与每个共享用户的仪表盘房间各一条 dashboard-new-email。
package fanout

import (
	"context"
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"mailboxsaas/backend/internal/domain"
	"mailboxsaas/backend/internal/monitoring"
)

// PreviewLength 仪表盘预览保留的字符数
const PreviewLength = 100

// Publisher 把事件投递到房间，投递是尽力而为的
type Publisher interface {
	Publish(ctx context.Context, ev domain.Event) error
}

// PublisherFunc 适配普通函数
type PublisherFunc func(ctx context.Context, ev domain.Event) error

// Publish 调用 f
func (f PublisherFunc) Publish(ctx context.Context, ev domain.Event) error {
	return f(ctx, ev)
}

// MailboxRoom 邮箱房间名
func MailboxRoom(mailboxID string) string {
	return "mailbox:" + mailboxID
}

// DashboardRoom 用户仪表盘房间名
func DashboardRoom(userID string) string {
	return "dashboard:" + userID
}

// Notifier 根据邮箱的所有者与共享列表生成事件
type Notifier struct {
	pub     Publisher
	log     *zap.Logger
	metrics *monitoring.Metrics
	now     func() time.Time
}

// NewNotifier 创建 Notifier，metrics 可以为 nil
func NewNotifier(pub Publisher, log *zap.Logger, metrics *monitoring.Metrics) *Notifier {
	return &Notifier{
		pub:     pub,
		log:     log,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// NewMail 为一封已落库的邮件发布事件，返回成功发布的事件数量
//
// 发布失败只记录日志，不影响其他房间，也不会回滚已保存的邮件。
func (n *Notifier) NewMail(ctx context.Context, mb domain.Mailbox, msg *domain.Message) int {
	events := n.Events(mb, msg)
	published := 0
	for _, ev := range events {
		if err := n.pub.Publish(ctx, ev); err != nil {
			n.log.Warn("failed to publish event",
				zap.String("type", string(ev.Type)),
				zap.String("room", ev.Room),
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
			continue
		}
		n.metrics.RecordEvent(string(ev.Type))
		published++
	}
	return published
}

// Events 构造事件列表：第一条发往邮箱房间，之后按所有者、共享用户顺序发往仪表盘房间
func (n *Notifier) Events(mb domain.Mailbox, msg *domain.Message) []domain.Event {
	now := n.now()
	viewers := mb.Viewers()
	events := make([]domain.Event, 0, len(viewers)+1)

	events = append(events, domain.Event{
		Type: domain.EventNewEmail,
		Room: MailboxRoom(mb.ID),
		Data: mustJSON(NewEmailPayload(msg)),
		Time: now,
	})

	dashboard := mustJSON(DashboardPayload(mb, msg))
	for _, uid := range viewers {
		events = append(events, domain.Event{
			Type: domain.EventDashboardNewEmail,
			Room: DashboardRoom(uid),
			Data: dashboard,
			Time: now,
		})
	}
	return events
}

// NewEmailPayload 邮箱房间事件的载荷
func NewEmailPayload(msg *domain.Message) domain.NewEmailPayload {
	attachments := make([]domain.AttachmentSummary, 0, len(msg.Attachments))
	for _, att := range msg.Attachments {
		attachments = append(attachments, domain.AttachmentSummary{
			Filename:    att.Filename,
			ContentType: att.ContentType,
			Size:        att.Size,
		})
	}
	return domain.NewEmailPayload{
		ID:          msg.ID,
		MailboxID:   msg.MailboxID,
		From:        msg.From,
		To:          msg.To,
		Subject:     msg.Subject,
		BodyText:    msg.Text,
		BodyHTML:    msg.HTML,
		IsRead:      msg.IsRead,
		ReceivedAt:  msg.ReceivedAt,
		Attachments: attachments,
	}
}

// DashboardPayload 仪表盘事件的载荷
func DashboardPayload(mb domain.Mailbox, msg *domain.Message) domain.DashboardPayload {
	return domain.DashboardPayload{
		MailboxID:    mb.ID,
		EmailAddress: mb.Address,
		LastEmail: domain.LastEmail{
			ID:         msg.ID,
			From:       msg.From,
			Subject:    msg.Subject,
			Preview:    Preview(msg.Text, PreviewLength),
			ReceivedAt: msg.ReceivedAt,
		},
	}
}

// Preview 折叠空白后截取前 limit 个字符
func Preview(text string, limit int) string {
	collapsed := strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(collapsed) <= limit {
		return collapsed
	}
	runes := []rune(collapsed)
	return string(runes[:limit])
}

// mustJSON 载荷只包含基本类型，序列化不会失败
func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
