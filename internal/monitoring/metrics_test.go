package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	t.Run("nil 指标不会 panic", func(t *testing.T) {
		var m *Metrics
		assert.NotPanics(t, func() {
			m.ConnectionOpened()
			m.RecordRecipient("accepted")
			m.RecordTransmission("accepted", time.Second)
			m.RecordEvent("new-email")
			m.RecordSweep(1, 2, 0, time.Second)
		})
	})

	t.Run("计数器累加", func(t *testing.T) {
		m := NewMetrics()
		m.ConnectionOpened()
		m.ConnectionOpened()
		m.ConnectionClosed()
		m.RecordConnectionRefused("capacity")
		m.RecordEvent("new-email")
		m.RecordEvent("dashboard-new-email")
		m.RecordEvent("dashboard-new-email")
		m.RecordSweep(2, 5, 1, time.Millisecond)

		assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectionsActive))
		assert.Equal(t, 2.0, testutil.ToFloat64(m.ConnectionsTotal))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectionsRefused.WithLabelValues("capacity")))
		assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsPublished.WithLabelValues("dashboard-new-email")))
		assert.Equal(t, 2.0, testutil.ToFloat64(m.MailboxesSwept))
		assert.Equal(t, 5.0, testutil.ToFloat64(m.MessagesSwept))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.SweepErrors))
	})

	t.Run("暴露 /metrics", func(t *testing.T) {
		m := NewMetrics()
		m.RecordMessageStored(10)

		rec := httptest.NewRecorder()
		m.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "mailbox_messages_stored_total 1")
	})
}
