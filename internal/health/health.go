package health

import (
	"context"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"
)

// Pinger 可以探测连通性的依赖，例如存储或 Redis
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc 适配普通函数
type PingerFunc func(ctx context.Context) error

// Ping 调用 f
func (f PingerFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

const (
	checkTimeout  = 5 * time.Second
	maxGoroutines = 10000
)

// HealthChecker 健康检查器
//
// 存活检查只看进程本身（协程数量），就绪检查探测各个依赖。
type HealthChecker struct {
	health healthcheck.Handler
	logger *zap.Logger
	deps   map[string]Pinger
}

// NewHealthChecker 创建健康检查器，deps 的 key 为检查名称
func NewHealthChecker(deps map[string]Pinger, logger *zap.Logger) *HealthChecker {
	hc := &HealthChecker{
		health: healthcheck.NewHandler(),
		logger: logger,
		deps:   deps,
	}

	hc.addChecks()

	return hc
}

func (hc *HealthChecker) addChecks() {
	hc.health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(maxGoroutines))

	for name, dep := range hc.deps {
		hc.health.AddReadinessCheck(name, healthcheck.Timeout(hc.pingCheck(name, dep), checkTimeout))
	}
}

func (hc *HealthChecker) pingCheck(name string, dep Pinger) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
		defer cancel()

		if err := dep.Ping(ctx); err != nil {
			hc.logger.Warn("readiness check failed", zap.String("check", name), zap.Error(err))
			return err
		}
		return nil
	}
}

// Handler 返回健康检查处理器，提供 /live 与 /ready
func (hc *HealthChecker) Handler() http.Handler {
	return hc.health
}

// LiveHandler 存活检查
func (hc *HealthChecker) LiveHandler(w http.ResponseWriter, r *http.Request) {
	hc.health.LiveEndpoint(w, r)
}

// ReadyHandler 就绪检查
func (hc *HealthChecker) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	hc.health.ReadyEndpoint(w, r)
}
