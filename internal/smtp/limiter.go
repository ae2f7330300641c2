package smtp

import (
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"mailboxsaas/backend/internal/monitoring"
)

// 拒绝原因
const (
	refusedCapacity = "capacity"
	refusedRate     = "rate"
)

// refuseReply 超出连接上限时在关闭前写给客户端的应答
const refuseReply = "421 4.3.2 Too many connections, try again later\r\n"

// ConnectionLimiter SMTP 连接准入控制
//
// 超出并发上限或新建速率的连接直接拒绝，不排队。
type ConnectionLimiter struct {
	maxConns int
	current  int
	mu       sync.Mutex
	rate     *rate.Limiter
}

// NewConnectionLimiter 创建连接限流器
//
// 参数:
//   - maxConns: 最大并发连接数
//   - perSecond: 每秒最大新建连接数，<= 0 表示不限制
//   - burst: 速率限制的突发容量
func NewConnectionLimiter(maxConns int, perSecond float64, burst int) *ConnectionLimiter {
	l := &ConnectionLimiter{maxConns: maxConns}
	if perSecond > 0 {
		if burst <= 0 {
			burst = 1
		}
		l.rate = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return l
}

// Acquire 获取连接许可，失败时返回拒绝原因
func (l *ConnectionLimiter) Acquire() (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current >= l.maxConns {
		return false, refusedCapacity
	}
	if l.rate != nil && !l.rate.Allow() {
		return false, refusedRate
	}

	l.current++
	return true, ""
}

// Release 释放连接
func (l *ConnectionLimiter) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current > 0 {
		l.current--
	}
}

// Current 当前连接数
func (l *ConnectionLimiter) Current() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Listener 包装 net.Listener，在 Accept 时执行准入控制
func (l *ConnectionLimiter) Listener(inner net.Listener, log *zap.Logger, metrics *monitoring.Metrics) net.Listener {
	return &limitedListener{Listener: inner, limiter: l, log: log, metrics: metrics}
}

type limitedListener struct {
	net.Listener
	limiter *ConnectionLimiter
	log     *zap.Logger
	metrics *monitoring.Metrics
}

func (ll *limitedListener) Accept() (net.Conn, error) {
	for {
		conn, err := ll.Listener.Accept()
		if err != nil {
			return nil, err
		}

		ok, reason := ll.limiter.Acquire()
		if !ok {
			ll.metrics.RecordConnectionRefused(reason)
			ll.log.Warn("refusing SMTP connection",
				zap.String("remote", conn.RemoteAddr().String()),
				zap.String("reason", reason),
				zap.Int("current", ll.limiter.Current()),
			)
			refuse(conn)
			continue
		}

		ll.metrics.ConnectionOpened()
		return &limitedConn{Conn: conn, release: func() {
			ll.limiter.Release()
			ll.metrics.ConnectionClosed()
		}}, nil
	}
}

func refuse(conn net.Conn) {
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, _ = io.WriteString(conn, refuseReply)
	_ = conn.Close()
}

// limitedConn 在第一次 Close 时归还许可
type limitedConn struct {
	net.Conn
	once    sync.Once
	release func()
}

func (c *limitedConn) Close() error {
	c.once.Do(c.release)
	return c.Conn.Close()
}
