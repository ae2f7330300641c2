package domain

import (
	"encoding/json"
	"time"
)

// EventType 实时推送事件名。
type EventType string

const (
	EventNewEmail          EventType = "new-email"
	EventDashboardNewEmail EventType = "dashboard-new-email"
)

// Event 是投递到房间里的一条推送。
type Event struct {
	Type EventType       `json:"type"`
	Room string          `json:"room"`
	Data json.RawMessage `json:"data,omitempty"`
	Time time.Time       `json:"timestamp"`
}

// AttachmentSummary 是推送里携带的附件元信息，不含内容。
type AttachmentSummary struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// NewEmailPayload 邮箱房间收到的完整邮件摘要。
type NewEmailPayload struct {
	ID          string              `json:"_id"`
	MailboxID   string              `json:"mailboxId"`
	From        string              `json:"from"`
	To          string              `json:"to"`
	Subject     string              `json:"subject"`
	BodyText    string              `json:"bodyText"`
	BodyHTML    string              `json:"bodyHtml"`
	IsRead      bool                `json:"isRead"`
	ReceivedAt  time.Time           `json:"receivedAt"`
	Attachments []AttachmentSummary `json:"attachments"`
}

// LastEmail 仪表盘列表里展示的最新邮件预览。
type LastEmail struct {
	ID         string    `json:"_id"`
	From       string    `json:"from"`
	Subject    string    `json:"subject"`
	Preview    string    `json:"preview"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// DashboardPayload 仪表盘房间收到的轻量通知。
type DashboardPayload struct {
	MailboxID    string    `json:"mailboxId"`
	EmailAddress string    `json:"emailAddress"`
	LastEmail    LastEmail `json:"lastEmail"`
}
