// monitor/monitor.go
package monitor

import (
	"expvar"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	OnlinePlayers        prometheus.Gauge
	ActiveRooms          prometheus.Gauge
	MessagesReceived     prometheus.Counter
	MessageLatency       prometheus.Histogram
	AnswersSubmitted     *prometheus.CounterVec
	UpdateConflicts      prometheus.Counter
	GamesFinished        prometheus.Counter
	QuestionFetchLatency prometheus.Histogram
}

func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OnlinePlayers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_players",
			Help:      "Number of connected players",
		}),
		ActiveRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_rooms",
			Help:      "Number of rooms that have not finished",
		}),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total number of messages received",
		}),
		MessageLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_latency_seconds",
			Help:      "Message processing latency",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10),
		}),
		AnswersSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answers_submitted_total",
			Help:      "Answers recorded, by result",
		}, []string{"result"}),
		UpdateConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "room_update_conflicts_total",
			Help:      "Room writes retried after a concurrent change",
		}),
		GamesFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "games_finished_total",
			Help:      "Multiplayer games that reached the finished state",
		}),
		QuestionFetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "question_fetch_seconds",
			Help:      "Latency of question provider calls",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 8),
		}),
	}

	reg.MustRegister(
		m.OnlinePlayers,
		m.ActiveRooms,
		m.MessagesReceived,
		m.MessageLatency,
		m.AnswersSubmitted,
		m.UpdateConflicts,
		m.GamesFinished,
		m.QuestionFetchLatency,
	)

	return m
}

type Monitor struct {
	metrics      *Metrics
	gatherer     prometheus.Gatherer
	startTime    time.Time
	requestCount int64
	mutex        sync.Mutex
}

// NewMonitor registers its metrics on reg. Pass prometheus.DefaultRegisterer
// and prometheus.DefaultGatherer in production and a fresh registry in tests.
func NewMonitor(namespace string, reg prometheus.Registerer, gatherer prometheus.Gatherer) *Monitor {
	m := &Monitor{
		metrics:   NewMetrics(namespace, reg),
		gatherer:  gatherer,
		startTime: time.Now(),
	}
	return m
}

// Handler serves the prometheus exposition format.
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// PublishExpvar exposes uptime and request count under /debug/vars. It may
// only be called once per process.
func (m *Monitor) PublishExpvar() {
	expvar.Publish("uptime", expvar.Func(func() interface{} {
		return time.Since(m.startTime).Seconds()
	}))

	expvar.Publish("requests", expvar.Func(func() interface{} {
		m.mutex.Lock()
		defer m.mutex.Unlock()
		return m.requestCount
	}))
}

func (m *Monitor) IncOnlinePlayers() {
	m.metrics.OnlinePlayers.Inc()
}

func (m *Monitor) DecOnlinePlayers() {
	m.metrics.OnlinePlayers.Dec()
}

func (m *Monitor) SetActiveRooms(count int) {
	m.metrics.ActiveRooms.Set(float64(count))
}

func (m *Monitor) IncMessagesReceived() {
	m.metrics.MessagesReceived.Inc()
	m.mutex.Lock()
	m.requestCount++
	m.mutex.Unlock()
}

func (m *Monitor) ObserveMessageLatency(duration time.Duration) {
	m.metrics.MessageLatency.Observe(duration.Seconds())
}

func (m *Monitor) AnswerSubmitted(correct bool) {
	result := "incorrect"
	if correct {
		result = "correct"
	}
	m.metrics.AnswersSubmitted.WithLabelValues(result).Inc()
}

func (m *Monitor) UpdateConflict() {
	m.metrics.UpdateConflicts.Inc()
}

func (m *Monitor) GameFinished() {
	m.metrics.GamesFinished.Inc()
}

func (m *Monitor) ObserveQuestionFetch(duration time.Duration) {
	m.metrics.QuestionFetchLatency.Observe(duration.Seconds())
}
