package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Turn stages recorded in the latency window.
const (
	StageCompletion  = "completion"
	StageNormalize   = "normalize"
	StageMemoPersist = "memo_persist"
	StageTurnTotal   = "turn_total"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	Turns              *prometheus.CounterVec
	ReplyDecodes       *prometheus.CounterVec
	GatewayErrors      *prometheus.CounterVec
	CompletionLatency  prometheus.Histogram
	MemoMutations      *prometheus.CounterVec
	Memos              prometheus.Gauge
	RemindersFired     prometheus.Counter
	NotificationEvents *prometheus.CounterVec
	NotifyClients      prometheus.Gauge

	window *turnWindow
}

// NewMetrics registers the instruments on the default Prometheus registry.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, namespace)
}

// NewMetricsWith registers the instruments on reg.
func NewMetricsWith(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Turns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_turns_total",
			Help:      "Chat turns by outcome.",
		}, []string{"outcome"}),
		ReplyDecodes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reply_decodes_total",
			Help:      "Model replies by decode result (structured or fallback).",
		}, []string{"result"}),
		GatewayErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_errors_total",
			Help:      "Completion gateway errors by kind.",
		}, []string{"kind"}),
		CompletionLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_latency_ms",
			Help:      "Upstream completion round trip in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 4000, 8000, 16000, 32000},
		}),
		MemoMutations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memo_mutations_total",
			Help:      "Memo store mutations by operation.",
		}, []string{"op"}),
		Memos: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memos",
			Help:      "Number of memos currently held by the store.",
		}),
		RemindersFired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_fired_total",
			Help:      "Reminders that matched the current time and were notified.",
		}),
		NotificationEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_events_total",
			Help:      "Notification hub events by type and delivery result.",
		}, []string{"type", "result"}),
		NotifyClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "notify_clients",
			Help:      "Connected notification websocket clients.",
		}),
		window: newTurnWindow(256),
	}
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	ms := float64(d.Microseconds()) / 1000
	m.window.Observe(stage, ms)
	if stage == StageCompletion {
		m.CompletionLatency.Observe(ms)
	}
}

func (m *Metrics) CountIndicator(name string) {
	if m == nil {
		return
	}
	m.window.Count(name)
}

func (m *Metrics) SnapshotTurns() TurnSnapshot {
	if m == nil {
		return TurnSnapshot{GeneratedAt: time.Now().UTC(), Stages: []StageStats{}}
	}
	return m.window.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
