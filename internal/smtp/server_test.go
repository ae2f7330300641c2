package smtp

import (
	"context"
	"fmt"
	"net"
	"net/textproto"
	"strings"
	"testing"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailboxsaas/backend/internal/config"
	"mailboxsaas/backend/internal/domain"
	"mailboxsaas/backend/internal/fanout"
	"mailboxsaas/backend/internal/storage/memory"
	"mailboxsaas/backend/internal/sweeper"
)

type testServer struct {
	addr  string
	store *memory.Store
	rec   *eventRecorder
}

func startServer(t *testing.T, maxMessageBytes int64) *testServer {
	t.Helper()
	return startServerWith(t, &flakyStore{Store: memory.NewStore()}, maxMessageBytes)
}

// startServerWith 在 store 上启动服务器，failAt 为 0 时写入不会失败
func startServerWith(t *testing.T, store *flakyStore, maxMessageBytes int64) *testServer {
	t.Helper()

	rec := &eventRecorder{}
	log := zap.NewNop()

	cfg := config.SMTPConfig{
		Host:            "127.0.0.1",
		Domain:          "mx.test",
		Banner:          "MailboxSaaS",
		MaxConnections:  10,
		MaxMessageBytes: maxMessageBytes,
		MaxRecipients:   DefaultMaxRecipients,
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    5 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	resolver := NewResolver(store, cfg.MaxRecipients, log, nil)
	ingester := NewIngester(store, fanout.NewNotifier(rec, log, nil), log, nil)
	srv := NewServer(cfg, NewBackend(ctx, resolver, ingester, log, nil), log, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()

	t.Cleanup(func() {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 2*time.Second)
		defer stop()
		_ = srv.Shutdown(shutdownCtx)
		cancel()
		assert.NoError(t, <-done)
	})

	return &testServer{addr: ln.Addr().String(), store: store.Store, rec: rec}
}

func dial(t *testing.T, addr string) *gosmtp.Client {
	t.Helper()
	c, err := gosmtp.Dial(addr)
	require.NoError(t, err)
	require.NoError(t, c.Hello("client.test"))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func sendData(c *gosmtp.Client, body string) error {
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte(body)); err != nil {
		return err
	}
	return w.Close()
}

const plainMessage = "From: Alice <alice@example.org>\r\n" +
	"To: sales@example.com\r\n" +
	"Subject: Hello\r\n" +
	"\r\n" +
	"Hi there\r\n"

func TestServer_Delivery(t *testing.T) {
	ts := startServer(t, 64*1024)
	seedMailbox(t, ts.store, "mb-sales", "sales@example.com", "u1", "u2")

	c := dial(t, ts.addr)
	require.NoError(t, c.Mail("alice@example.org", nil))
	require.NoError(t, c.Rcpt("Sales@Example.com", nil))
	require.NoError(t, sendData(c, plainMessage))
	require.NoError(t, c.Quit())

	msgs := ts.store.ListMessages("mb-sales")
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hello", msgs[0].Subject)
	assert.Equal(t, "Alice <alice@example.org>", msgs[0].From)
	assert.Equal(t, "sales@example.com", msgs[0].To)
	assert.False(t, msgs[0].IsRead)

	newMail := ts.rec.byType(domain.EventNewEmail)
	require.Len(t, newMail, 1)
	assert.Equal(t, fanout.MailboxRoom("mb-sales"), newMail[0].Room)

	dash := ts.rec.byType(domain.EventDashboardNewEmail)
	require.Len(t, dash, 2)
	rooms := []string{dash[0].Room, dash[1].Room}
	assert.ElementsMatch(t, []string{fanout.DashboardRoom("u1"), fanout.DashboardRoom("u2")}, rooms)
}

func TestServer_SequentialTransmissions(t *testing.T) {
	t.Run("451 之后同一连接继续投递", func(t *testing.T) {
		ts := startServerWith(t, &flakyStore{Store: memory.NewStore(), failAt: 1}, 64*1024)
		seedMailbox(t, ts.store, "mb-sales", "sales@example.com", "u1")

		c := dial(t, ts.addr)
		require.NoError(t, c.Mail("alice@example.org", nil))
		require.NoError(t, c.Rcpt("sales@example.com", nil))
		assert.Equal(t, 451, smtpCode(t, sendData(c, plainMessage)))
		assert.Equal(t, 0, ts.store.MessageCount())
		assert.Equal(t, 0, ts.rec.count())

		for i := 0; i < 2; i++ {
			require.NoError(t, c.Mail("alice@example.org", nil))
			require.NoError(t, c.Rcpt("sales@example.com", nil))
			require.NoError(t, sendData(c, plainMessage))
		}
		require.NoError(t, c.Quit())

		assert.Len(t, ts.store.ListMessages("mb-sales"), 2)
		assert.Len(t, ts.rec.byType(domain.EventNewEmail), 2)
		assert.Len(t, ts.rec.byType(domain.EventDashboardNewEmail), 2)
	})

	t.Run("每次传输的收件人互不影响", func(t *testing.T) {
		ts := startServer(t, 64*1024)
		seedMailbox(t, ts.store, "mb-sales", "sales@example.com", "u1")
		seedMailbox(t, ts.store, "mb-support", "support@example.com", "u2")

		c := dial(t, ts.addr)
		require.NoError(t, c.Mail("alice@example.org", nil))
		require.NoError(t, c.Rcpt("sales@example.com", nil))
		require.NoError(t, sendData(c, plainMessage))

		require.NoError(t, c.Mail("bob@example.org", nil))
		require.NoError(t, c.Rcpt("support@example.com", nil))
		require.NoError(t, sendData(c, plainMessage))
		require.NoError(t, c.Quit())

		assert.Len(t, ts.store.ListMessages("mb-sales"), 1)
		assert.Len(t, ts.store.ListMessages("mb-support"), 1)
	})
}

func TestServer_SweptMailboxRejected(t *testing.T) {
	ts := startServer(t, 64*1024)
	seedMailbox(t, ts.store, "mb-sales", "sales@example.com", "u1")

	past := time.Now().Add(-time.Hour)
	old := domain.Mailbox{ID: "mb-old", Address: "old@example.com", OwnerID: "u1", IsActive: true, ExpiresAt: &past}
	require.NoError(t, ts.store.SaveMailbox(&old))

	res, err := sweeper.New(ts.store, ts.store, time.Minute, 1, zap.NewNop(), nil).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)

	c := dial(t, ts.addr)
	require.NoError(t, c.Mail("alice@example.org", nil))
	assert.Equal(t, 550, smtpCode(t, c.Rcpt("old@example.com", nil)))
	require.NoError(t, c.Rcpt("sales@example.com", nil))
	require.NoError(t, sendData(c, plainMessage))

	assert.Equal(t, 1, ts.store.MessageCount())
	assert.Len(t, ts.store.ListMessages("mb-sales"), 1)
}

func TestServer_Rejections(t *testing.T) {
	t.Run("未知收件人返回 550 且连接保持", func(t *testing.T) {
		ts := startServer(t, 64*1024)
		seedMailbox(t, ts.store, "mb-sales", "sales@example.com", "u1")

		c := dial(t, ts.addr)
		require.NoError(t, c.Mail("alice@example.org", nil))
		assert.Equal(t, 550, smtpCode(t, c.Rcpt("nobody@example.com", nil)))
		require.NoError(t, c.Rcpt("sales@example.com", nil))
		require.NoError(t, sendData(c, plainMessage))

		assert.Equal(t, 1, ts.store.MessageCount())
	})

	t.Run("第 51 个收件人返回 452", func(t *testing.T) {
		ts := startServer(t, 64*1024)
		for i := 0; i <= DefaultMaxRecipients; i++ {
			seedMailbox(t, ts.store, fmt.Sprintf("mb-%d", i), fmt.Sprintf("user%d@example.com", i), "u1")
		}

		c := dial(t, ts.addr)
		require.NoError(t, c.Mail("alice@example.org", nil))
		for i := 0; i < DefaultMaxRecipients; i++ {
			require.NoError(t, c.Rcpt(fmt.Sprintf("user%d@example.com", i), nil))
		}
		err := c.Rcpt(fmt.Sprintf("user%d@example.com", DefaultMaxRecipients), nil)
		assert.Equal(t, 452, smtpCode(t, err))

		require.NoError(t, sendData(c, plainMessage))
		assert.Equal(t, DefaultMaxRecipients, ts.store.MessageCount())
		assert.Len(t, ts.rec.byType(domain.EventNewEmail), DefaultMaxRecipients)
	})

	t.Run("超出大小上限返回 552 且不落库", func(t *testing.T) {
		ts := startServer(t, 1024)
		seedMailbox(t, ts.store, "mb-sales", "sales@example.com", "u1")

		c := dial(t, ts.addr)
		require.NoError(t, c.Mail("alice@example.org", nil))
		require.NoError(t, c.Rcpt("sales@example.com", nil))

		body := plainMessage + strings.Repeat("x", 4096) + "\r\n"
		assert.Equal(t, 552, smtpCode(t, sendData(c, body)))

		assert.Equal(t, 0, ts.store.MessageCount())
		assert.Equal(t, 0, ts.rec.count())
		require.NoError(t, c.Noop())
	})

	t.Run("损坏的邮件返回 554", func(t *testing.T) {
		ts := startServer(t, 64*1024)
		seedMailbox(t, ts.store, "mb-sales", "sales@example.com", "u1")

		c := dial(t, ts.addr)
		require.NoError(t, c.Mail("alice@example.org", nil))
		require.NoError(t, c.Rcpt("sales@example.com", nil))
		assert.Equal(t, 554, smtpCode(t, sendData(c, "not a header line\r\n\r\nbody\r\n")))
		assert.Equal(t, 0, ts.store.MessageCount())
	})
}

func TestServer_UnsupportedCommands(t *testing.T) {
	ts := startServer(t, 64*1024)

	conn, err := textproto.Dial("tcp", ts.addr)
	require.NoError(t, err)
	defer conn.Close()

	_, greeting, err := conn.ReadResponse(220)
	require.NoError(t, err)
	assert.Equal(t, "mx.test MailboxSaaS ESMTP Service Ready", greeting)

	cmd := func(line string) int {
		id, err := conn.Cmd("%s", line)
		require.NoError(t, err)
		conn.StartResponse(id)
		defer conn.EndResponse(id)
		code, _, _ := conn.ReadResponse(0)
		return code
	}

	assert.Equal(t, 250, cmd("EHLO client.test"))
	for _, line := range []string{"AUTH PLAIN", "STARTTLS"} {
		code := cmd(line)
		assert.GreaterOrEqual(t, code, 500, line)
		assert.Less(t, code, 600, line)
	}

	// 被拒绝后连接仍然可用
	assert.Equal(t, 250, cmd("NOOP"))
	assert.Equal(t, 221, cmd("QUIT"))
}
