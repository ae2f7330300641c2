package smtp

import (
	"context"
	"errors"
	"fmt"
	"net"

	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"mailboxsaas/backend/internal/config"
	"mailboxsaas/backend/internal/logger"
	"mailboxsaas/backend/internal/monitoring"
)

// Server 组合 go-smtp 服务器与连接准入控制
type Server struct {
	smtp    *gosmtp.Server
	limiter *ConnectionLimiter
	log     *zap.Logger
	metrics *monitoring.Metrics
}

// NewServer 按配置创建 SMTP 服务器
//
// TLSConfig 留空以关闭 STARTTLS；Backend 不实现 AuthSession，AUTH 返回 502。
// 收件人上限由 Resolver 执行，以便重复地址不占用名额。
func NewServer(cfg config.SMTPConfig, be *Backend, log *zap.Logger, metrics *monitoring.Metrics) *Server {
	s := gosmtp.NewServer(be)
	s.Addr = cfg.Addr()
	s.Domain = cfg.Greeting()
	s.MaxMessageBytes = cfg.MaxMessageBytes
	s.MaxRecipients = 0
	s.ReadTimeout = cfg.ReadTimeout
	s.WriteTimeout = cfg.WriteTimeout
	s.EnableSMTPUTF8 = true
	s.ErrorLog = logger.NewStdLog(log, "smtp")

	return &Server{
		smtp:    s,
		limiter: NewConnectionLimiter(cfg.MaxConnections, cfg.MaxConnectionRate, cfg.ConnectionBurst),
		log:     log,
		metrics: metrics,
	}
}

// Addr 返回配置的监听地址
func (s *Server) Addr() string {
	return s.smtp.Addr
}

// Limiter 返回连接限流器
func (s *Server) Limiter() *ConnectionLimiter {
	return s.limiter
}

// ListenAndServe 监听配置的地址并开始服务
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.smtp.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.smtp.Addr, err)
	}
	return s.Serve(ln)
}

// Serve 在 ln 上服务，正常关闭时返回 nil
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info("SMTP server listening",
		zap.String("addr", ln.Addr().String()),
		zap.String("greeting", s.smtp.Domain),
		zap.Int64("max_message_bytes", s.smtp.MaxMessageBytes),
	)
	err := s.smtp.Serve(s.limiter.Listener(ln, s.log, s.metrics))
	if errors.Is(err, gosmtp.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown 停止接受新连接并等待现有会话结束，ctx 到期后强制关闭
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.smtp.Shutdown(ctx)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return s.smtp.Close()
	}
	return err
}
