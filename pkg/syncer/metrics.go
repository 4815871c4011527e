package syncer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"

	"github.com/guido-cesarano/syncq/pkg/actions"
	"github.com/guido-cesarano/syncq/pkg/logger"
	"github.com/guido-cesarano/syncq/pkg/queue"
)

// Metrics holds the Prometheus collectors for sync processing.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// actionsProcessed counts dispatch outcomes.
	// Labels:
	//   - status: "synced", "retrying" or "failed"
	//   - type: action type (e.g. "meal/create")
	actionsProcessed *prometheus.CounterVec

	// dispatchDuration tracks handler latency in seconds.
	dispatchDuration *prometheus.HistogramVec

	// queueLatency tracks the time between enqueue and successful sync.
	queueLatency *prometheus.HistogramVec

	// queueDepth tracks the number of actions per state
	// ("pending", "retrying", "failed").
	queueDepth *prometheus.GaugeVec

	// runs counts ProcessQueue calls by result
	// ("completed", "aborted", "dropped").
	runs *prometheus.CounterVec
}

// NewMetrics registers the sync collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		actionsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "syncq_actions_processed_total",
			Help: "The total number of dispatched queued actions",
		}, []string{"status", "type"}),
		dispatchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "syncq_dispatch_duration_seconds",
			Help:    "Duration of handler calls",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
		queueLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "syncq_queue_latency_seconds",
			Help:    "Time spent in the queue before a successful sync",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600, 21600, 86400},
		}, []string{"type"}),
		queueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "syncq_queue_depth",
			Help: "Number of queued actions in each state",
		}, []string{"state"}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "syncq_runs_total",
			Help: "The total number of sync runs by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) processed(status OutcomeStatus, action actions.QueuedAction) {
	if m == nil {
		return
	}
	m.actionsProcessed.WithLabelValues(string(status), action.Type).Inc()
}

func (m *Metrics) observeDispatch(actionType string, d time.Duration) {
	if m == nil {
		return
	}
	m.dispatchDuration.WithLabelValues(actionType).Observe(d.Seconds())
}

func (m *Metrics) observeLatency(action actions.QueuedAction, now time.Time) {
	if m == nil || action.CreatedAt.IsZero() {
		return
	}
	m.queueLatency.WithLabelValues(action.Type).Observe(now.Sub(action.CreatedAt).Seconds())
}

func (m *Metrics) run(result string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(result).Inc()
}

// StatsSource reports queue depth.
type StatsSource interface {
	Stats() queue.Stats
}

// ObserveQueue sets the depth gauges from a stats snapshot.
func (m *Metrics) ObserveQueue(st queue.Stats) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues("pending").Set(float64(st.Pending))
	m.queueDepth.WithLabelValues("retrying").Set(float64(st.Retrying))
	m.queueDepth.WithLabelValues("failed").Set(float64(st.Failed))
}

// ScheduleDepth registers a cron job that refreshes the depth gauges.
// schedule is a cron expression or descriptor such as "@every 5s".
func (m *Metrics) ScheduleDepth(c *cron.Cron, schedule string, src StatsSource) (cron.EntryID, error) {
	return c.AddFunc(schedule, func() {
		st := src.Stats()
		m.ObserveQueue(st)
		logger.Log.Debug().
			Int("pending", st.Pending).
			Int("retrying", st.Retrying).
			Int("failed", st.Failed).
			Msg("Queue depth collected")
	})
}
