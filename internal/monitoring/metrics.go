package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标，nil 接收者上的方法均为空操作，便于测试中省略
type Metrics struct {
	registry *prometheus.Registry

	// SMTP 连接指标
	ConnectionsActive  prometheus.Gauge
	ConnectionsTotal   prometheus.Counter
	ConnectionsRefused *prometheus.CounterVec

	// 收件与投递指标
	Recipients       *prometheus.CounterVec
	Transmissions    *prometheus.CounterVec
	MessagesStored   prometheus.Counter
	AttachmentSize   prometheus.Histogram
	IngestionLatency prometheus.Histogram

	// 实时推送指标
	EventsPublished *prometheus.CounterVec
	RoomMembers     prometheus.Gauge
	ClientsOnline   prometheus.Gauge

	// 清理指标
	MailboxesSwept prometheus.Counter
	MessagesSwept  prometheus.Counter
	SweepErrors    prometheus.Counter
	SweepDuration  prometheus.Histogram
}

// NewMetrics 在独立的 registry 上创建监控指标
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mailbox_smtp_connections_active",
			Help: "Number of SMTP connections currently open",
		}),
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailbox_smtp_connections_total",
			Help: "Total number of accepted SMTP connections",
		}),
		ConnectionsRefused: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mailbox_smtp_connections_refused_total",
			Help: "SMTP connections refused by admission control",
		}, []string{"reason"}),

		Recipients: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mailbox_smtp_recipients_total",
			Help: "RCPT TO commands by result",
		}, []string{"result"}),
		Transmissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mailbox_smtp_transmissions_total",
			Help: "DATA transmissions by result",
		}, []string{"result"}),
		MessagesStored: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailbox_messages_stored_total",
			Help: "Total number of message records persisted",
		}),
		AttachmentSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mailbox_attachment_size_bytes",
			Help:    "Decoded attachment sizes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		}),
		IngestionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mailbox_ingestion_duration_seconds",
			Help:    "Time from end of DATA to final reply",
			Buckets: prometheus.DefBuckets,
		}),

		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mailbox_events_published_total",
			Help: "Realtime events published by type",
		}, []string{"type"}),
		RoomMembers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mailbox_realtime_room_memberships",
			Help: "Current number of client room memberships",
		}),
		ClientsOnline: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mailbox_realtime_clients_online",
			Help: "Current number of connected websocket clients",
		}),

		MailboxesSwept: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailbox_sweeper_mailboxes_deleted_total",
			Help: "Expired mailboxes deleted by the sweeper",
		}),
		MessagesSwept: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailbox_sweeper_messages_deleted_total",
			Help: "Messages deleted together with expired mailboxes",
		}),
		SweepErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailbox_sweeper_errors_total",
			Help: "Per-mailbox sweep failures",
		}),
		SweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mailbox_sweeper_duration_seconds",
			Help:    "Duration of a sweep pass",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Registry 返回底层 registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ConnectionOpened 记录新连接
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ConnectionsTotal.Inc()
	m.ConnectionsActive.Inc()
}

// ConnectionClosed 记录连接关闭
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.ConnectionsActive.Dec()
}

// RecordConnectionRefused 记录被拒绝的连接，reason 取 "capacity" 或 "rate"
func (m *Metrics) RecordConnectionRefused(reason string) {
	if m == nil {
		return
	}
	m.ConnectionsRefused.WithLabelValues(reason).Inc()
}

// RecordRecipient 记录 RCPT 结果
func (m *Metrics) RecordRecipient(result string) {
	if m == nil {
		return
	}
	m.Recipients.WithLabelValues(result).Inc()
}

// RecordTransmission 记录一次 DATA 的结果与耗时
func (m *Metrics) RecordTransmission(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.Transmissions.WithLabelValues(result).Inc()
	m.IngestionLatency.Observe(duration.Seconds())
}

// RecordMessageStored 记录一条落库邮件
func (m *Metrics) RecordMessageStored(attachmentSizes ...int64) {
	if m == nil {
		return
	}
	m.MessagesStored.Inc()
	for _, size := range attachmentSizes {
		m.AttachmentSize.Observe(float64(size))
	}
}

// RecordEvent 记录一条发布的实时事件
func (m *Metrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(eventType).Inc()
}

// UpdateRealtime 更新在线客户端与房间成员数
func (m *Metrics) UpdateRealtime(clients, memberships int) {
	if m == nil {
		return
	}
	m.ClientsOnline.Set(float64(clients))
	m.RoomMembers.Set(float64(memberships))
}

// RecordSweep 记录一次清理的结果
func (m *Metrics) RecordSweep(mailboxes, messages, failures int, duration time.Duration) {
	if m == nil {
		return
	}
	m.MailboxesSwept.Add(float64(mailboxes))
	m.MessagesSwept.Add(float64(messages))
	m.SweepErrors.Add(float64(failures))
	m.SweepDuration.Observe(duration.Seconds())
}

// HTTPHandler 返回 /metrics 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
