package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"mailboxsaas/backend/internal/domain"
	"mailboxsaas/backend/internal/storage"
)

// Store 使用内存保存邮箱与邮件数据，主要用于开发验证和测试。
type Store struct {
	mu        sync.RWMutex
	mailboxes map[string]*domain.Mailbox
	byAddress map[string]string
	messages  map[string]map[string]*domain.Message // mailboxID -> messageID -> message
	owner     map[string]string                     // messageID -> mailboxID
}

var _ storage.Store = (*Store)(nil)

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		mailboxes: make(map[string]*domain.Mailbox),
		byAddress: make(map[string]string),
		messages:  make(map[string]map[string]*domain.Message),
		owner:     make(map[string]string),
	}
}

// SaveMailbox 写入或覆盖一个邮箱，目录由外部维护，这里用于开发和测试时预置数据。
func (s *Store) SaveMailbox(mailbox *domain.Mailbox) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mailbox.ID == "" {
		mailbox.ID = uuid.NewString()
	}
	if old, ok := s.mailboxes[mailbox.ID]; ok {
		delete(s.byAddress, addressKey(old.Address))
	}
	cp := mailbox.Clone()
	s.mailboxes[mailbox.ID] = &cp
	s.byAddress[addressKey(mailbox.Address)] = mailbox.ID
	return nil
}

// FindActiveMailbox 根据地址查找启用中的邮箱。
func (s *Store) FindActiveMailbox(_ context.Context, address string) (*domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byAddress[addressKey(address)]
	if !ok {
		return nil, storage.ErrMailboxNotFound
	}
	mb := s.mailboxes[id]
	if !mb.IsActive {
		return nil, storage.ErrMailboxNotFound
	}
	cp := mb.Clone()
	return &cp, nil
}

// addressKey 返回地址索引键，地址不区分大小写
func addressKey(address string) string {
	if key, err := domain.NormalizeAddress(address); err == nil {
		return key
	}
	return strings.ToLower(strings.TrimSpace(address))
}

// GetMailbox 根据 ID 获取邮箱。
func (s *Store) GetMailbox(_ context.Context, id string) (*domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mb, ok := s.mailboxes[id]
	if !ok {
		return nil, storage.ErrMailboxNotFound
	}
	cp := mb.Clone()
	return &cp, nil
}

// ListExpiredMailboxes 返回已到期的邮箱。
func (s *Store) ListExpiredMailboxes(_ context.Context, now time.Time) ([]domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Mailbox, 0)
	for _, mb := range s.mailboxes {
		if mb.Expired(now) {
			result = append(result, mb.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ExpiresAt.Before(*result[j].ExpiresAt)
	})
	return result, nil
}

// DeleteMailbox 删除邮箱记录，不级联删除邮件。
func (s *Store) DeleteMailbox(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mb, ok := s.mailboxes[id]
	if !ok {
		return storage.ErrMailboxNotFound
	}
	delete(s.byAddress, addressKey(mb.Address))
	delete(s.mailboxes, id)
	return nil
}

// InsertMessage 保存邮件，不校验邮箱是否仍然存在。
func (s *Store) InsertMessage(_ context.Context, message *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	if _, ok := s.messages[message.MailboxID]; !ok {
		s.messages[message.MailboxID] = make(map[string]*domain.Message)
	}
	s.messages[message.MailboxID][message.ID] = message.Clone()
	s.owner[message.ID] = message.MailboxID
	return nil
}

// DeleteMessage 删除单封邮件。
func (s *Store) DeleteMessage(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mailboxID, ok := s.owner[id]
	if !ok {
		return storage.ErrMessageNotFound
	}
	delete(s.messages[mailboxID], id)
	delete(s.owner, id)
	return nil
}

// DeleteMessagesByMailbox 删除邮箱下全部邮件，返回删除数量。
func (s *Store) DeleteMessagesByMailbox(_ context.Context, mailboxID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.messages[mailboxID]
	for id := range msgs {
		delete(s.owner, id)
	}
	delete(s.messages, mailboxID)
	return len(msgs), nil
}

// ListMessages 按接收时间返回某个邮箱下的全部邮件。
func (s *Store) ListMessages(mailboxID string) []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Message, 0, len(s.messages[mailboxID]))
	for _, msg := range s.messages[mailboxID] {
		result = append(result, *msg.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ReceivedAt.Before(result[j].ReceivedAt)
	})
	return result
}

// MessageCount 返回全部邮件数量。
func (s *Store) MessageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.owner)
}

// Ping 内存存储始终可用。
func (s *Store) Ping(context.Context) error {
	return nil
}

// Close 内存存储无需释放资源。
func (s *Store) Close() error {
	return nil
}
