package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"mailboxsaas/backend/internal/fanout"
	"mailboxsaas/backend/internal/storage"
)

// MessageType 客户端与服务端之间的控制消息类型
type MessageType string

const (
	MessageTypeJoinMailbox    MessageType = "join-mailbox"
	MessageTypeLeaveMailbox   MessageType = "leave-mailbox"
	MessageTypeJoinDashboard  MessageType = "join-dashboard"
	MessageTypeLeaveDashboard MessageType = "leave-dashboard"
	MessageTypePing           MessageType = "ping"

	MessageTypeJoined MessageType = "joined"
	MessageTypeLeft   MessageType = "left"
	MessageTypePong   MessageType = "pong"
	MessageTypeError  MessageType = "error"
)

// Request 客户端发来的控制消息，ID 为邮箱 ID 或用户 ID
type Request struct {
	Type MessageType `json:"type"`
	ID   string      `json:"id,omitempty"`
}

// Reply 服务端对控制消息的应答
type Reply struct {
	Type      MessageType `json:"type"`
	Room      string      `json:"room,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Client 代表一个 WebSocket 客户端连接
type Client struct {
	ID     string
	UserID string // JWT 中的 sub，未启用认证时为空

	conn  *websocket.Conn
	send  chan []byte
	hub   *Hub
	rooms map[string]bool // 由 hub.mu 保护
	log   *zap.Logger
}

// readPump 读取客户端控制消息，连接断开后注销客户端
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stopped():
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket read error", zap.String("client_id", c.ID), zap.Error(err))
			}
			return
		}

		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			c.replyError("invalid message")
			continue
		}
		c.handleRequest(ctx, &req)
	}
}

// writePump 把发送队列写入连接，并定期发送 ping 帧
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleRequest 处理一条控制消息
func (c *Client) handleRequest(ctx context.Context, req *Request) {
	switch req.Type {
	case MessageTypeJoinMailbox:
		if req.ID == "" {
			c.replyError("mailbox id is required")
			return
		}
		if err := c.authorizeMailbox(ctx, req.ID); err != nil {
			c.log.Info("join denied",
				zap.String("client_id", c.ID),
				zap.String("user_id", c.UserID),
				zap.String("mailbox_id", req.ID),
				zap.Error(err),
			)
			c.replyError(err.Error())
			return
		}
		c.join(fanout.MailboxRoom(req.ID))

	case MessageTypeLeaveMailbox:
		if req.ID == "" {
			c.replyError("mailbox id is required")
			return
		}
		c.leave(fanout.MailboxRoom(req.ID))

	case MessageTypeJoinDashboard:
		userID, err := c.dashboardUser(req.ID)
		if err != nil {
			c.replyError(err.Error())
			return
		}
		c.join(fanout.DashboardRoom(userID))

	case MessageTypeLeaveDashboard:
		userID, err := c.dashboardUser(req.ID)
		if err != nil {
			c.replyError(err.Error())
			return
		}
		c.leave(fanout.DashboardRoom(userID))

	case MessageTypePing:
		c.reply(Reply{Type: MessageTypePong})

	default:
		c.log.Debug("unknown message type", zap.String("type", string(req.Type)))
		c.replyError("unknown message type")
	}
}

var (
	errForbidden       = errors.New("forbidden")
	errMailboxNotFound = errors.New("mailbox not found")
	errUserIDRequired  = errors.New("user id is required")
)

// authorizeMailbox 启用认证时，只有所有者与共享用户可以加入邮箱房间
func (c *Client) authorizeMailbox(ctx context.Context, mailboxID string) error {
	if !c.hub.authEnabled() {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	mb, err := c.hub.directory.GetMailbox(ctx, mailboxID)
	if errors.Is(err, storage.ErrMailboxNotFound) {
		return errMailboxNotFound
	}
	if err != nil {
		c.log.Error("failed to load mailbox", zap.String("mailbox_id", mailboxID), zap.Error(err))
		return errors.New("mailbox lookup failed")
	}
	if !mb.CanView(c.UserID) {
		return errForbidden
	}
	return nil
}

// dashboardUser 返回要加入的仪表盘用户，启用认证时只能是自己
func (c *Client) dashboardUser(id string) (string, error) {
	if !c.hub.authEnabled() {
		if id == "" {
			return "", errUserIDRequired
		}
		return id, nil
	}
	if id != "" && id != c.UserID {
		return "", errForbidden
	}
	return c.UserID, nil
}

func (c *Client) join(room string) {
	if !c.hub.join(c, room) {
		return
	}
	c.log.Debug("joined room", zap.String("client_id", c.ID), zap.String("room", room))
	c.reply(Reply{Type: MessageTypeJoined, Room: room})
}

func (c *Client) leave(room string) {
	c.hub.leave(c, room)
	c.log.Debug("left room", zap.String("client_id", c.ID), zap.String("room", room))
	c.reply(Reply{Type: MessageTypeLeft, Room: room})
}

func (c *Client) replyError(msg string) {
	c.reply(Reply{Type: MessageTypeError, Error: msg})
}

// reply 发送应答，队列已满时丢弃
func (c *Client) reply(r Reply) {
	r.Timestamp = time.Now().UTC()
	data, err := json.Marshal(r)
	if err != nil {
		c.log.Error("failed to marshal reply", zap.Error(err))
		return
	}
	if !c.hub.deliver(c, data) {
		c.log.Warn("client channel blocked", zap.String("client_id", c.ID))
	}
}
