package redis

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"mailboxsaas/backend/internal/domain"
	"mailboxsaas/backend/internal/fanout"
)

// Broker 通过 Redis pub/sub 在多个实例之间转发实时事件
//
// 启用后 Notifier 只向 Broker 发布，每个实例的 Relay 再把事件投递到本地 Hub，
// 因此发布实例自身也经由 Redis 收到事件。
type Broker struct {
	client  *goredis.Client
	channel string
	log     *zap.Logger
}

var _ fanout.Publisher = (*Broker)(nil)

// NewBroker 创建事件总线
func NewBroker(client *goredis.Client, channel string, log *zap.Logger) *Broker {
	return &Broker{client: client, channel: channel, log: log}
}

// Publish 序列化事件并发布到频道
func (b *Broker) Publish(ctx context.Context, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Relay 订阅频道并把事件转交给 local，直到 ctx 结束
//
// ready 非空时在订阅确认后关闭，测试用它等待订阅生效。
func (b *Broker) Relay(ctx context.Context, local fanout.Publisher, ready chan<- struct{}) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	if ready != nil {
		close(ready)
	}
	b.log.Info("relaying realtime events from Redis", zap.String("channel", b.channel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev domain.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.log.Warn("dropping malformed event", zap.Error(err))
				continue
			}
			if err := local.Publish(ctx, ev); err != nil {
				b.log.Warn("failed to deliver relayed event",
					zap.String("room", ev.Room),
					zap.Error(err),
				)
			}
		}
	}
}

// Ping 检查 Redis 连接
func (b *Broker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}
