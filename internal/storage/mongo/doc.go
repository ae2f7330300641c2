package mongo

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"mailboxsaas/backend/internal/domain"
)

// mailboxDoc 对应 Web 应用 mailboxes 集合中的文档。
type mailboxDoc struct {
	ID           bson.ObjectID   `bson:"_id,omitempty"`
	EmailAddress string          `bson:"emailAddress"`
	DomainID     bson.ObjectID   `bson:"domainId,omitempty"`
	OwnerID      bson.ObjectID   `bson:"ownerId,omitempty"`
	SharedWith   []bson.ObjectID `bson:"sharedWith,omitempty"`
	IsActive     bool            `bson:"isActive"`
	ExpiresAt    *time.Time      `bson:"expiresAt,omitempty"`
	CreatedAt    time.Time       `bson:"createdAt,omitempty"`
}

// messageDoc 对应 incomingemails 集合中的文档。
type messageDoc struct {
	ID          bson.ObjectID   `bson:"_id,omitempty"`
	MailboxID   bson.ObjectID   `bson:"mailboxId"`
	From        string          `bson:"from"`
	To          string          `bson:"to"`
	Subject     string          `bson:"subject"`
	BodyHTML    string          `bson:"bodyHtml"`
	BodyText    string          `bson:"bodyText"`
	Attachments []attachmentDoc `bson:"attachments"`
	ReceivedAt  time.Time       `bson:"receivedAt"`
	IsRead      bool            `bson:"isRead"`
	CreatedAt   time.Time       `bson:"createdAt"`
	UpdatedAt   time.Time       `bson:"updatedAt"`
}

type attachmentDoc struct {
	Filename    string `bson:"filename"`
	ContentType string `bson:"contentType"`
	Size        int64  `bson:"size"`
	Content     []byte `bson:"content"`
}

func hexOrEmpty(id bson.ObjectID) string {
	if id.IsZero() {
		return ""
	}
	return id.Hex()
}

// objectIDOrZero 非法的十六进制串按空 ID 处理。
func objectIDOrZero(s string) bson.ObjectID {
	oid, err := bson.ObjectIDFromHex(s)
	if err != nil {
		return bson.NilObjectID
	}
	return oid
}

func docToMailbox(doc *mailboxDoc) *domain.Mailbox {
	mb := &domain.Mailbox{
		ID:        doc.ID.Hex(),
		Address:   doc.EmailAddress,
		DomainID:  hexOrEmpty(doc.DomainID),
		OwnerID:   hexOrEmpty(doc.OwnerID),
		IsActive:  doc.IsActive,
		CreatedAt: doc.CreatedAt,
	}
	if doc.ExpiresAt != nil {
		t := doc.ExpiresAt.UTC()
		mb.ExpiresAt = &t
	}
	if len(doc.SharedWith) > 0 {
		mb.SharedWith = make([]string, 0, len(doc.SharedWith))
		for _, uid := range doc.SharedWith {
			mb.SharedWith = append(mb.SharedWith, hexOrEmpty(uid))
		}
	}
	return mb
}

func mailboxToDoc(mb *domain.Mailbox) *mailboxDoc {
	doc := &mailboxDoc{
		ID:           objectIDOrZero(mb.ID),
		EmailAddress: mb.Address,
		DomainID:     objectIDOrZero(mb.DomainID),
		OwnerID:      objectIDOrZero(mb.OwnerID),
		IsActive:     mb.IsActive,
		ExpiresAt:    mb.ExpiresAt,
		CreatedAt:    mb.CreatedAt,
	}
	for _, uid := range mb.SharedWith {
		doc.SharedWith = append(doc.SharedWith, objectIDOrZero(uid))
	}
	return doc
}

func messageToDoc(msg *domain.Message, mailboxID bson.ObjectID, now time.Time) *messageDoc {
	doc := &messageDoc{
		MailboxID:   mailboxID,
		From:        msg.From,
		To:          msg.To,
		Subject:     msg.Subject,
		BodyHTML:    msg.HTML,
		BodyText:    msg.Text,
		Attachments: make([]attachmentDoc, 0, len(msg.Attachments)),
		ReceivedAt:  msg.ReceivedAt,
		IsRead:      msg.IsRead,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, att := range msg.Attachments {
		doc.Attachments = append(doc.Attachments, attachmentDoc{
			Filename:    att.Filename,
			ContentType: att.ContentType,
			Size:        att.Size,
			Content:     att.Content,
		})
	}
	return doc
}
