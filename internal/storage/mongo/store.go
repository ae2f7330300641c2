// Package mongo 基于 MongoDB 实现邮箱目录与邮件存储，
// 直接读写 Web 应用使用的 mailboxes 与 incomingemails 集合。
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/x/mongo/driver/connstring"

	"mailboxsaas/backend/internal/domain"
	"mailboxsaas/backend/internal/storage"
)

const (
	// DefaultDatabase 连接串未指定库名时使用
	DefaultDatabase = "mailbox-saas"

	mailboxCollection = "mailboxes"
	messageCollection = "incomingemails"

	defaultTimeout = 10 * time.Second
)

// Store 实现 storage.Store。
type Store struct {
	client    *mongo.Client
	mailboxes *mongo.Collection
	messages  *mongo.Collection
	timeout   time.Duration
}

var _ storage.Store = (*Store)(nil)

// NewStore 连接 MongoDB 并校验连通性。database 为空时取连接串中的库名。
func NewStore(ctx context.Context, uri, database string, maxPoolSize uint64) (*Store, error) {
	if database == "" {
		cs, err := connstring.Parse(uri)
		if err != nil {
			return nil, fmt.Errorf("parse mongodb uri: %w", err)
		}
		database = cs.Database
	}
	if database == "" {
		database = DefaultDatabase
	}

	opts := options.Client().ApplyURI(uri)
	if maxPoolSize > 0 {
		opts.SetMaxPoolSize(maxPoolSize)
	}
	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	db := client.Database(database)
	return &Store{
		client:    client,
		mailboxes: db.Collection(mailboxCollection),
		messages:  db.Collection(messageCollection),
		timeout:   defaultTimeout,
	}, nil
}

// EnsureIndexes 创建两个集合上的索引，可重复执行。
func (s *Store) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	mailboxIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "emailAddress", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "ownerId", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "sharedWith", Value: 1}}},
		{Keys: bson.D{{Key: "domainId", Value: 1}}},
		{
			Keys:    bson.D{{Key: "expiresAt", Value: 1}},
			Options: options.Index().SetSparse(true),
		},
	}
	if _, err := s.mailboxes.Indexes().CreateMany(ctx, mailboxIndexes); err != nil {
		return fmt.Errorf("create mailbox indexes: %w", err)
	}

	messageIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "mailboxId", Value: 1}, {Key: "receivedAt", Value: -1}}},
		{Keys: bson.D{{Key: "mailboxId", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "mailboxId", Value: 1}, {Key: "isRead", Value: 1}}},
	}
	if _, err := s.messages.Indexes().CreateMany(ctx, messageIndexes); err != nil {
		return fmt.Errorf("create message indexes: %w", err)
	}
	return nil
}

// SaveMailbox 插入或替换邮箱文档，供迁移工具和测试预置数据。
func (s *Store) SaveMailbox(ctx context.Context, mb *domain.Mailbox) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	doc := mailboxToDoc(mb)
	if doc.ID.IsZero() {
		doc.ID = bson.NewObjectID()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	_, err := s.mailboxes.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save mailbox: %w", err)
	}
	mb.ID = doc.ID.Hex()
	return nil
}

// FindActiveMailbox 按地址查找启用中的邮箱。
func (s *Store) FindActiveMailbox(ctx context.Context, address string) (*domain.Mailbox, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var doc mailboxDoc
	err := s.mailboxes.FindOne(ctx, bson.M{"emailAddress": address, "isActive": true}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, storage.ErrMailboxNotFound
		}
		return nil, fmt.Errorf("find mailbox: %w", err)
	}
	return docToMailbox(&doc), nil
}

// GetMailbox 按 ID 获取邮箱。
func (s *Store) GetMailbox(ctx context.Context, id string) (*domain.Mailbox, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, storage.ErrMailboxNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var doc mailboxDoc
	if err := s.mailboxes.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, storage.ErrMailboxNotFound
		}
		return nil, fmt.Errorf("get mailbox: %w", err)
	}
	return docToMailbox(&doc), nil
}

// ListExpiredMailboxes 查询 expiresAt 非空且不晚于 now 的邮箱。
func (s *Store) ListExpiredMailboxes(ctx context.Context, now time.Time) ([]domain.Mailbox, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	filter := bson.M{"expiresAt": bson.M{"$ne": nil, "$lte": now}}
	cursor, err := s.mailboxes.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "expiresAt", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find expired mailboxes: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []mailboxDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode expired mailboxes: %w", err)
	}

	result := make([]domain.Mailbox, 0, len(docs))
	for i := range docs {
		result = append(result, *docToMailbox(&docs[i]))
	}
	return result, nil
}

// DeleteMailbox 删除单个邮箱文档。
func (s *Store) DeleteMailbox(ctx context.Context, id string) error {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return storage.ErrMailboxNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.mailboxes.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return fmt.Errorf("delete mailbox: %w", err)
	}
	if res.DeletedCount == 0 {
		return storage.ErrMailboxNotFound
	}
	return nil
}

// InsertMessage 写入一封邮件并回填 ID。
func (s *Store) InsertMessage(ctx context.Context, msg *domain.Message) error {
	mailboxID, err := bson.ObjectIDFromHex(msg.MailboxID)
	if err != nil {
		return fmt.Errorf("insert message: invalid mailbox id %q: %w", msg.MailboxID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	doc := messageToDoc(msg, mailboxID, time.Now().UTC())
	doc.ID = bson.NewObjectID()
	if _, err := s.messages.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	msg.ID = doc.ID.Hex()
	return nil
}

// DeleteMessage 删除单封邮件。
func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return storage.ErrMessageNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.messages.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if res.DeletedCount == 0 {
		return storage.ErrMessageNotFound
	}
	return nil
}

// DeleteMessagesByMailbox 删除邮箱下的全部邮件。
func (s *Store) DeleteMessagesByMailbox(ctx context.Context, mailboxID string) (int, error) {
	oid, err := bson.ObjectIDFromHex(mailboxID)
	if err != nil {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.messages.DeleteMany(ctx, bson.M{"mailboxId": oid})
	if err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}
	return int(res.DeletedCount), nil
}

// CountMessages 统计邮箱下的邮件数量。
func (s *Store) CountMessages(ctx context.Context, mailboxID string) (int64, error) {
	oid, err := bson.ObjectIDFromHex(mailboxID)
	if err != nil {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	return s.messages.CountDocuments(ctx, bson.M{"mailboxId": oid})
}

// Ping 检查连接。
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.Ping(ctx, nil)
}

// Close 断开客户端连接。
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}
