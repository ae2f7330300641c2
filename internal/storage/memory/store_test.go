package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailboxsaas/backend/internal/domain"
	"mailboxsaas/backend/internal/storage"
)

func TestMemoryStore_MailboxDirectory(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	mailbox := &domain.Mailbox{
		ID:         "mb-1",
		Address:    "box@example.com",
		OwnerID:    "user-1",
		SharedWith: []string{"user-2"},
		IsActive:   true,
		CreatedAt:  time.Now(),
	}
	require.NoError(t, store.SaveMailbox(mailbox))

	t.Run("按地址查找启用邮箱", func(t *testing.T) {
		got, err := store.FindActiveMailbox(ctx, "box@example.com")
		require.NoError(t, err)
		assert.Equal(t, "mb-1", got.ID)
		assert.Equal(t, []string{"user-2"}, got.SharedWith)
	})

	t.Run("返回的快照与存储隔离", func(t *testing.T) {
		got, err := store.FindActiveMailbox(ctx, "box@example.com")
		require.NoError(t, err)
		got.SharedWith[0] = "mutated"

		again, err := store.GetMailbox(ctx, "mb-1")
		require.NoError(t, err)
		assert.Equal(t, "user-2", again.SharedWith[0])
	})

	t.Run("停用邮箱视为不存在", func(t *testing.T) {
		inactive := &domain.Mailbox{ID: "mb-2", Address: "off@example.com", IsActive: false}
		require.NoError(t, store.SaveMailbox(inactive))

		_, err := store.FindActiveMailbox(ctx, "off@example.com")
		assert.ErrorIs(t, err, storage.ErrMailboxNotFound)
	})

	t.Run("地址不区分大小写", func(t *testing.T) {
		mixed := &domain.Mailbox{ID: "mb-3", Address: "Sales@Example.com", IsActive: true}
		require.NoError(t, store.SaveMailbox(mixed))

		for _, addr := range []string{"sales@example.com", "SALES@EXAMPLE.COM", "Sales@Example.com"} {
			got, err := store.FindActiveMailbox(ctx, addr)
			require.NoError(t, err, addr)
			assert.Equal(t, "mb-3", got.ID)
			assert.Equal(t, "Sales@Example.com", got.Address)
		}

		require.NoError(t, store.DeleteMailbox(ctx, "mb-3"))
		_, err := store.FindActiveMailbox(ctx, "sales@example.com")
		assert.ErrorIs(t, err, storage.ErrMailboxNotFound)
	})

	t.Run("未知地址", func(t *testing.T) {
		_, err := store.FindActiveMailbox(ctx, "nobody@example.com")
		assert.ErrorIs(t, err, storage.ErrMailboxNotFound)
	})

	t.Run("删除邮箱", func(t *testing.T) {
		require.NoError(t, store.DeleteMailbox(ctx, "mb-1"))
		_, err := store.GetMailbox(ctx, "mb-1")
		assert.ErrorIs(t, err, storage.ErrMailboxNotFound)
		assert.ErrorIs(t, store.DeleteMailbox(ctx, "mb-1"), storage.ErrMailboxNotFound)
	})
}

func TestMemoryStore_ListExpiredMailboxes(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	require.NoError(t, store.SaveMailbox(&domain.Mailbox{ID: "expired", Address: "a@example.com", IsActive: true, ExpiresAt: &past}))
	require.NoError(t, store.SaveMailbox(&domain.Mailbox{ID: "boundary", Address: "b@example.com", IsActive: true, ExpiresAt: &now}))
	require.NoError(t, store.SaveMailbox(&domain.Mailbox{ID: "future", Address: "c@example.com", IsActive: true, ExpiresAt: &future}))
	require.NoError(t, store.SaveMailbox(&domain.Mailbox{ID: "forever", Address: "d@example.com", IsActive: true}))

	expired, err := store.ListExpiredMailboxes(ctx, now)
	require.NoError(t, err)

	ids := make([]string, 0, len(expired))
	for _, mb := range expired {
		ids = append(ids, mb.ID)
	}
	assert.Equal(t, []string{"expired", "boundary"}, ids)
}

func TestMemoryStore_MessageOperations(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	msg := &domain.Message{
		MailboxID:  "mb-1",
		From:       "sender@example.org",
		To:         "box@example.com",
		Subject:    "hello",
		ReceivedAt: time.Now().UTC(),
		Attachments: []domain.Attachment{
			{Filename: "a.txt", ContentType: "text/plain", Size: 3, Content: []byte("abc")},
		},
	}
	require.NoError(t, store.InsertMessage(ctx, msg))
	assert.NotEmpty(t, msg.ID)

	other := &domain.Message{MailboxID: "mb-2", Subject: "other", ReceivedAt: time.Now().UTC()}
	require.NoError(t, store.InsertMessage(ctx, other))
	assert.Equal(t, 2, store.MessageCount())

	t.Run("写入后修改原对象不影响存储", func(t *testing.T) {
		msg.Attachments[0].Content[0] = 'z'
		stored := store.ListMessages("mb-1")
		require.Len(t, stored, 1)
		assert.Equal(t, []byte("abc"), stored[0].Attachments[0].Content)
	})

	t.Run("删除单封邮件", func(t *testing.T) {
		require.NoError(t, store.DeleteMessage(ctx, other.ID))
		assert.Empty(t, store.ListMessages("mb-2"))
		assert.ErrorIs(t, store.DeleteMessage(ctx, other.ID), storage.ErrMessageNotFound)
	})

	t.Run("按邮箱批量删除", func(t *testing.T) {
		n, err := store.DeleteMessagesByMailbox(ctx, "mb-1")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = store.DeleteMessagesByMailbox(ctx, "mb-1")
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Zero(t, store.MessageCount())
	})
}
