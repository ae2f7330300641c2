package smtp

import (
	"context"
	"errors"

	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"mailboxsaas/backend/internal/domain"
	"mailboxsaas/backend/internal/monitoring"
	"mailboxsaas/backend/internal/storage"
)

// DefaultMaxRecipients 单次传输默认的收件人上限
const DefaultMaxRecipients = 50

// RCPT 结果，用于指标标签
const (
	rcptAccepted  = "accepted"
	rcptDuplicate = "duplicate"
	rcptUnknown   = "unknown"
	rcptTooMany   = "too_many"
	rcptInvalid   = "invalid"
	rcptError     = "error"
)

var (
	errInvalidRecipient = &gosmtp.SMTPError{
		Code:         501,
		EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
		Message:      "Invalid recipient address",
	}
	errTooManyRecipients = &gosmtp.SMTPError{
		Code:         452,
		EnhancedCode: gosmtp.EnhancedCode{4, 5, 3},
		Message:      "Too many recipients",
	}
	errUnknownRecipient = &gosmtp.SMTPError{
		Code:         550,
		EnhancedCode: gosmtp.EnhancedCode{5, 1, 1},
		Message:      "Recipient mailbox not found",
	}
	errLookupFailed = &gosmtp.SMTPError{
		Code:         451,
		EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
		Message:      "Temporary failure resolving recipient, try again later",
	}
)

// Resolver 校验 RCPT 地址并把命中的邮箱快照记入信封
//
// 只接受目录中存在且启用的邮箱，其他地址一律拒绝，服务器不做中继。
type Resolver struct {
	dir           storage.MailboxDirectory
	maxRecipients int
	log           *zap.Logger
	metrics       *monitoring.Metrics
}

// NewResolver 创建收件人解析器，maxRecipients <= 0 时使用默认值
func NewResolver(dir storage.MailboxDirectory, maxRecipients int, log *zap.Logger, metrics *monitoring.Metrics) *Resolver {
	if maxRecipients <= 0 {
		maxRecipients = DefaultMaxRecipients
	}
	return &Resolver{dir: dir, maxRecipients: maxRecipients, log: log, metrics: metrics}
}

// Resolve 处理一个 RCPT 地址
//
// 已接受过的地址再次出现时直接接受；信封已满时拒绝新地址，之前接受的收件人不受影响。
// 返回的错误均为 *gosmtp.SMTPError。
func (r *Resolver) Resolve(ctx context.Context, env *domain.Envelope, rawAddr string) error {
	addr, err := domain.NormalizeAddress(rawAddr)
	if err != nil {
		r.metrics.RecordRecipient(rcptInvalid)
		return errInvalidRecipient
	}

	if env.Has(addr) {
		r.metrics.RecordRecipient(rcptDuplicate)
		return nil
	}
	if env.Len() >= r.maxRecipients {
		r.metrics.RecordRecipient(rcptTooMany)
		return errTooManyRecipients
	}

	mb, err := r.dir.FindActiveMailbox(ctx, addr)
	if err != nil {
		if errors.Is(err, storage.ErrMailboxNotFound) {
			r.metrics.RecordRecipient(rcptUnknown)
			return errUnknownRecipient
		}
		r.metrics.RecordRecipient(rcptError)
		r.log.Error("mailbox lookup failed", zap.String("recipient", addr), zap.Error(err))
		return errLookupFailed
	}

	env.Add(addr, mb.Clone())
	r.metrics.RecordRecipient(rcptAccepted)
	return nil
}
