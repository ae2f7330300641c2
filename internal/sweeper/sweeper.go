// Package sweeper 定期删除已过期的邮箱及其邮件。
package sweeper

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailboxsaas/backend/internal/domain"
	"mailboxsaas/backend/internal/monitoring"
	"mailboxsaas/backend/internal/storage"
)

const (
	// DefaultInterval 默认扫描间隔
	DefaultInterval = 60 * time.Second
	// DefaultConcurrency 默认同时清理的邮箱数
	DefaultConcurrency = 4
)

// Result 一次清理的结果
type Result struct {
	Expired  int // 到期的邮箱数
	Deleted  int // 本次实际删除的邮箱数
	Messages int // 删除的邮件数
	Failed   int // 删除失败的邮箱数
	Duration time.Duration
}

// Sweeper 删除到期邮箱：先删邮件再删邮箱，单个邮箱失败不影响其余邮箱
type Sweeper struct {
	directory   storage.MailboxDirectory
	messages    storage.MessageStore
	interval    time.Duration
	concurrency int
	log         *zap.Logger
	metrics     *monitoring.Metrics
	now         func() time.Time
}

// New 创建 Sweeper，interval 或 concurrency 不大于 0 时使用默认值
func New(directory storage.MailboxDirectory, messages storage.MessageStore, interval time.Duration, concurrency int, log *zap.Logger, metrics *monitoring.Metrics) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Sweeper{
		directory:   directory,
		messages:    messages,
		interval:    interval,
		concurrency: concurrency,
		log:         log,
		metrics:     metrics,
		now:         time.Now,
	}
}

// Run 每隔 interval 执行一次清理，直到 ctx 取消
//
// 正在进行的清理使用与取消解耦的 context，收到退出信号后仍会完成当前批次。
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("starting expired mailbox sweeper", zap.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(context.WithoutCancel(ctx)); err != nil {
				s.log.Error("failed to sweep expired mailboxes", zap.Error(err))
			}
		}
	}
}

// Sweep 执行一次清理，只有列出到期邮箱失败时返回错误
func (s *Sweeper) Sweep(ctx context.Context) (*Result, error) {
	start := time.Now()
	now := s.now().UTC()

	expired, err := s.directory.ListExpiredMailboxes(ctx, now)
	if err != nil {
		return nil, err
	}

	result := &Result{Expired: len(expired)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, mb := range expired {
		g.Go(func() error {
			messages, deleted, err := s.remove(gctx, mb)

			mu.Lock()
			defer mu.Unlock()
			result.Messages += messages
			if err != nil {
				result.Failed++
				s.log.Error("failed to delete expired mailbox",
					zap.String("mailbox_id", mb.ID),
					zap.String("address", mb.Address),
					zap.Error(err),
				)
				return nil
			}
			if deleted {
				result.Deleted++
				s.log.Info("deleted expired mailbox",
					zap.String("mailbox_id", mb.ID),
					zap.String("address", mb.Address),
					zap.Int("messages", messages),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	result.Duration = time.Since(start)
	s.metrics.RecordSweep(result.Deleted, result.Messages, result.Failed, result.Duration)
	if result.Expired > 0 {
		s.log.Info("expired mailbox sweep finished",
			zap.Int("expired", result.Expired),
			zap.Int("deleted", result.Deleted),
			zap.Int("messages", result.Messages),
			zap.Int("failed", result.Failed),
			zap.Duration("duration", result.Duration),
		)
	}
	return result, nil
}

// remove 删除邮箱的全部邮件和邮箱本身，邮箱已被删除时视为成功但 deleted 为 false
func (s *Sweeper) remove(ctx context.Context, mb domain.Mailbox) (int, bool, error) {
	messages, err := s.messages.DeleteMessagesByMailbox(ctx, mb.ID)
	if err != nil {
		return 0, false, err
	}

	err = s.directory.DeleteMailbox(ctx, mb.ID)
	if errors.Is(err, storage.ErrMailboxNotFound) {
		return messages, false, nil
	}
	if err != nil {
		return messages, false, err
	}
	return messages, true, nil
}
