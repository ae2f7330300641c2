package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"mailboxsaas/backend/internal/domain"
	"mailboxsaas/backend/internal/fanout"
	"mailboxsaas/backend/internal/monitoring"
	"mailboxsaas/backend/internal/storage"
)

// ErrHubStopped Hub 已停止运行
var ErrHubStopped = errors.New("websocket hub stopped")

// Hub 管理所有 WebSocket 连接与房间成员关系
//
// 房间名由 fanout.MailboxRoom / fanout.DashboardRoom 生成。事件投递是尽力而为的：
// 发送队列已满的客户端会被跳过，不会阻塞发布方。
type Hub struct {
	clients    map[string]*Client            // clientID -> Client
	rooms      map[string]map[string]*Client // room -> clientID -> Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	log        *zap.Logger
	metrics    *monitoring.Metrics

	allowedOrigins []string
	jwtSecret      string
	directory      storage.MailboxDirectory
}

var _ fanout.Publisher = (*Hub)(nil)

// NewHub 创建 WebSocket Hub
//
// 参数:
//   - allowedOrigins: 允许的 Origin 列表，为空时允许所有来源
//   - jwtSecret: JWT 密钥，为空时不做身份校验
//   - directory: 邮箱目录，用于校验加入邮箱房间的权限
//   - log: 日志
//   - metrics: 指标，可以为 nil
func NewHub(allowedOrigins []string, jwtSecret string, directory storage.MailboxDirectory, log *zap.Logger, metrics *monitoring.Metrics) *Hub {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	return &Hub{
		clients:        make(map[string]*Client),
		rooms:          make(map[string]map[string]*Client),
		unregister:     make(chan *Client),
		done:           make(chan struct{}),
		log:            log,
		metrics:        metrics,
		allowedOrigins: allowedOrigins,
		jwtSecret:      jwtSecret,
		directory:      directory,
	}
}

// Run 处理客户端注销，ctx 取消时关闭所有连接
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			h.log.Info("websocket hub stopped")
			return

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				for room := range client.rooms {
					h.removeFromRoomLocked(room, client.ID)
				}
				delete(h.clients, client.ID)
				close(client.send)
				h.updateMetricsLocked()
			}
			h.mu.Unlock()
			h.log.Debug("client unregistered", zap.String("client_id", client.ID))
		}
	}
}

// add 注册客户端，Hub 已停止时返回 false
func (h *Hub) add(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	select {
	case <-h.done:
		return false
	default:
	}

	h.clients[client.ID] = client
	h.updateMetricsLocked()
	h.log.Debug("client registered",
		zap.String("client_id", client.ID),
		zap.String("user_id", client.UserID),
	)
	return true
}

// Publish 把事件投递给房间内的所有客户端
func (h *Hub) Publish(_ context.Context, ev domain.Event) error {
	select {
	case <-h.done:
		return ErrHubStopped
	default:
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.rooms[ev.Room] {
		select {
		case client.send <- data:
		default:
			h.log.Warn("client channel blocked, skipping",
				zap.String("client_id", client.ID),
				zap.String("room", ev.Room),
				zap.String("type", string(ev.Type)),
			)
		}
	}
	return nil
}

// RoomSize 返回房间内的客户端数量
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// ClientCount 返回当前连接数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// join 把客户端加入房间，客户端已注销时返回 false
func (h *Hub) join(c *Client, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[c.ID] != c {
		return false
	}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[string]*Client)
	}
	h.rooms[room][c.ID] = c
	c.rooms[room] = true
	h.updateMetricsLocked()
	return true
}

func (h *Hub) leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(c.rooms, room)
	h.removeFromRoomLocked(room, c.ID)
	h.updateMetricsLocked()
}

// deliver 向单个客户端发送数据，客户端已注销或队列已满时丢弃
func (h *Hub) deliver(c *Client, data []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.clients[c.ID] != c {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (h *Hub) removeFromRoomLocked(room, clientID string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, clientID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

func (h *Hub) updateMetricsLocked() {
	memberships := 0
	for _, members := range h.rooms {
		memberships += len(members)
	}
	h.metrics.UpdateRealtime(len(h.clients), memberships)
}

// closeAllClients 关闭所有客户端连接并标记 Hub 已停止
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	close(h.done)

	for _, client := range h.clients {
		close(client.send)
	}
	h.clients = make(map[string]*Client)
	h.rooms = make(map[string]map[string]*Client)
	h.updateMetricsLocked()
}

// stopped 在 Hub 停止后关闭
func (h *Hub) stopped() <-chan struct{} {
	return h.done
}

// 连接读写参数
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendQueueSize  = 256
	maxMessageSize = 4096
	lookupTimeout  = 5 * time.Second
)
