package smtp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"mailboxsaas/backend/internal/domain"
	"mailboxsaas/backend/internal/storage/memory"
)

// MockDirectory 邮箱目录的 mock
type MockDirectory struct {
	mock.Mock
}

func (m *MockDirectory) FindActiveMailbox(ctx context.Context, address string) (*domain.Mailbox, error) {
	args := m.Called(ctx, address)
	if mb := args.Get(0); mb != nil {
		return mb.(*domain.Mailbox), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDirectory) GetMailbox(ctx context.Context, id string) (*domain.Mailbox, error) {
	args := m.Called(ctx, id)
	if mb := args.Get(0); mb != nil {
		return mb.(*domain.Mailbox), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDirectory) ListExpiredMailboxes(ctx context.Context, now time.Time) ([]domain.Mailbox, error) {
	args := m.Called(ctx, now)
	return args.Get(0).([]domain.Mailbox), args.Error(1)
}

func (m *MockDirectory) DeleteMailbox(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

// flakyStore 第 failAt 次写入失败，其余委托给内存存储
type flakyStore struct {
	*memory.Store
	mu      sync.Mutex
	inserts int
	failAt  int
}

func (f *flakyStore) InsertMessage(ctx context.Context, msg *domain.Message) error {
	f.mu.Lock()
	f.inserts++
	n := f.inserts
	f.mu.Unlock()
	if n == f.failAt {
		return errors.New("disk full")
	}
	return f.Store.InsertMessage(ctx, msg)
}

// eventRecorder 记录发布的事件
type eventRecorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *eventRecorder) Publish(_ context.Context, ev domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *eventRecorder) byType(t domain.EventType) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (r *eventRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func seedMailbox(t *testing.T, store *memory.Store, id, addr, owner string, shared ...string) domain.Mailbox {
	t.Helper()
	mb := domain.Mailbox{ID: id, Address: addr, OwnerID: owner, SharedWith: shared, IsActive: true}
	require.NoError(t, store.SaveMailbox(&mb))
	return mb
}

func smtpCode(t *testing.T, err error) int {
	t.Helper()
	var se *gosmtp.SMTPError
	require.True(t, errors.As(err, &se), "expected *smtp.SMTPError, got %v", err)
	return se.Code
}
