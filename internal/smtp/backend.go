package smtp

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"mailboxsaas/backend/internal/domain"
	"mailboxsaas/backend/internal/monitoring"
)

// 传输结果，用于指标标签
const (
	dataAccepted  = "accepted"
	dataMalformed = "malformed"
	dataTooLarge  = "too_large"
	dataRejected  = "rejected"
	dataAborted   = "aborted"
)

var errMalformed = &gosmtp.SMTPError{
	Code:         554,
	EnhancedCode: gosmtp.EnhancedCode{5, 6, 0},
	Message:      "Message could not be parsed",
}

// Backend 实现 go-smtp 的 Backend 接口。
//
// 只接收发往目录中启用邮箱的邮件，不提供 AUTH 与 STARTTLS，也不向外转发。
type Backend struct {
	ctx      context.Context
	resolver *Resolver
	ingester *Ingester
	log      *zap.Logger
	metrics  *monitoring.Metrics
}

// NewBackend 创建 SMTP Backend。ctx 取消时所有会话中的存储操作随之取消。
func NewBackend(ctx context.Context, resolver *Resolver, ingester *Ingester, log *zap.Logger, metrics *monitoring.Metrics) *Backend {
	return &Backend{
		ctx:      ctx,
		resolver: resolver,
		ingester: ingester,
		log:      log,
		metrics:  metrics,
	}
}

// NewSession 为每个连接创建独立的会话。
func (b *Backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	ctx, cancel := context.WithCancel(b.ctx)
	remote := ""
	if nc := c.Conn(); nc != nil {
		remote = nc.RemoteAddr().String()
	}
	return &session{
		backend: b,
		ctx:     ctx,
		cancel:  cancel,
		remote:  remote,
		env:     domain.NewEnvelope(),
	}, nil
}

// session 保存一个连接上的信封状态，RSET 或一次 DATA 结束后由 go-smtp 调用 Reset。
type session struct {
	backend *Backend
	ctx     context.Context
	cancel  context.CancelFunc
	remote  string
	env     *domain.Envelope
}

// Mail 处理 MAIL 命令。
func (s *session) Mail(from string, _ *gosmtp.MailOptions) error {
	s.env.Reset()
	s.env.From = strings.ToLower(strings.Trim(strings.TrimSpace(from), "<>"))
	return nil
}

// Rcpt 处理 RCPT 命令。
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	err := s.backend.resolver.Resolve(s.ctx, s.env, to)
	if err != nil {
		s.backend.log.Debug("recipient rejected",
			zap.String("remote", s.remote),
			zap.String("recipient", to),
			zap.Error(err),
		)
	}
	return err
}

// Data 读取完整邮件后解析、落库并推送。
func (s *session) Data(r io.Reader) error {
	start := time.Now()
	result, err := s.data(r)
	s.backend.metrics.RecordTransmission(result, time.Since(start))
	return err
}

func (s *session) data(r io.Reader) (string, error) {
	if s.env.Len() == 0 {
		return dataRejected, errNoRecipients
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		if errors.Is(err, gosmtp.ErrDataTooLarge) {
			s.backend.log.Info("message exceeds size limit", zap.String("remote", s.remote))
			return dataTooLarge, gosmtp.ErrDataTooLarge
		}
		return dataAborted, err
	}

	parsed, err := ParseEmail(bytes.NewReader(raw))
	if err != nil {
		s.backend.log.Info("rejecting malformed message",
			zap.String("remote", s.remote),
			zap.Int("size", len(raw)),
			zap.Error(err),
		)
		return dataMalformed, errMalformed
	}

	msgs, err := s.backend.ingester.Deliver(s.ctx, s.env, parsed)
	if err != nil {
		return dataRejected, err
	}

	s.backend.log.Info("message accepted",
		zap.String("remote", s.remote),
		zap.String("from", s.env.From),
		zap.Int("recipients", len(msgs)),
		zap.Int("size", len(raw)),
		zap.Int("attachments", len(parsed.Attachments)),
	)
	return dataAccepted, nil
}

// Reset 清空信封。
func (s *session) Reset() {
	s.env.Reset()
}

// Logout 会话结束，取消仍在进行的存储操作。
func (s *session) Logout() error {
	s.cancel()
	return nil
}
