package domain

import "time"

// 邮件字段的默认值，与 Web 应用写入的数据保持一致。
const (
	DefaultSubject            = "(No Subject)"
	DefaultAttachmentName     = "untitled"
	DefaultAttachmentMimeType = "application/octet-stream"
)

// Message 表示一次投递落到某个邮箱里的一封邮件。
//
// 同一次 SMTP 传输有 N 个有效收件人时会生成 N 条互相独立的 Message。
type Message struct {
	ID          string       `json:"id" gorm:"primaryKey;type:varchar(36)"`
	MailboxID   string       `json:"mailboxId" gorm:"type:varchar(36);index;not null"`
	From        string       `json:"from" gorm:"type:text"`
	To          string       `json:"to" gorm:"type:varchar(255)"`
	Subject     string       `json:"subject" gorm:"type:text"`
	HTML        string       `json:"bodyHtml" gorm:"column:body_html;type:text"`
	Text        string       `json:"bodyText" gorm:"column:body_text;type:text"`
	Attachments []Attachment `json:"attachments,omitempty" gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE"`
	ReceivedAt  time.Time    `json:"receivedAt" gorm:"index"`
	IsRead      bool         `json:"isRead" gorm:"default:false;index"`
}

// Attachment 表示邮件附件，Content 保存原始字节。
type Attachment struct {
	ID          string `json:"id,omitempty" gorm:"primaryKey;type:varchar(36)"`
	MessageID   string `json:"-" gorm:"type:varchar(36);index;not null"`
	Filename    string `json:"filename" gorm:"type:text"`
	ContentType string `json:"contentType" gorm:"type:varchar(255)"`
	Size        int64  `json:"size"`
	Content     []byte `json:"-"`
}

// Clone 深拷贝邮件，附件内容也会复制一份。
func (m *Message) Clone() *Message {
	out := *m
	if m.Attachments != nil {
		out.Attachments = make([]Attachment, len(m.Attachments))
		for i, att := range m.Attachments {
			out.Attachments[i] = att
			if att.Content != nil {
				out.Attachments[i].Content = append([]byte(nil), att.Content...)
			}
		}
	}
	return &out
}
