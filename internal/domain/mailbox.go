package domain

import (
	"time"
)

// Mailbox 表示一个可接收邮件的地址。
//
// 邮箱由外部 Web 应用创建与维护，收信核心只读取，
// 唯一的写操作是清理器在过期后删除。
type Mailbox struct {
	ID         string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Address    string     `json:"emailAddress" gorm:"column:email_address;type:varchar(255);uniqueIndex"`
	DomainID   string     `json:"domainId" gorm:"type:varchar(36);index"`
	OwnerID    string     `json:"ownerId" gorm:"type:varchar(36);index"`
	SharedWith []string   `json:"sharedWith" gorm:"serializer:json;type:text"`
	IsActive   bool       `json:"isActive" gorm:"index"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty" gorm:"index"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// Expired 判断邮箱在 now 时刻是否已经过期。
func (m *Mailbox) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && !m.ExpiresAt.After(now)
}

// Viewers 返回需要收到仪表盘通知的用户：所有者在前，随后是共享用户。
func (m *Mailbox) Viewers() []string {
	viewers := make([]string, 0, len(m.SharedWith)+1)
	if m.OwnerID != "" {
		viewers = append(viewers, m.OwnerID)
	}
	for _, uid := range m.SharedWith {
		if uid != "" {
			viewers = append(viewers, uid)
		}
	}
	return viewers
}

// CanView 判断用户是否为所有者或共享用户。
func (m *Mailbox) CanView(userID string) bool {
	if userID == "" {
		return false
	}
	for _, uid := range m.Viewers() {
		if uid == userID {
			return true
		}
	}
	return false
}

// Clone 返回深拷贝，避免会话中的快照被外部修改。
func (m *Mailbox) Clone() Mailbox {
	out := *m
	if m.SharedWith != nil {
		out.SharedWith = append([]string(nil), m.SharedWith...)
	}
	if m.ExpiresAt != nil {
		t := *m.ExpiresAt
		out.ExpiresAt = &t
	}
	return out
}
