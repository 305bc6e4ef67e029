// Package metrics exposes Prometheus instrumentation for the sync queue,
// upload pipeline and realtime consumer.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder exposes Prometheus metrics for the scoring client.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry      *prometheus.Registry
	queueDepth    *prometheus.GaugeVec
	opsProcessed  *prometheus.CounterVec
	drainDuration prometheus.Histogram
	drainSkipped  prometheus.Counter
	online        prometheus.Gauge
	uploadPhase   *prometheus.CounterVec
	uploadBytes   prometheus.Counter
	realtimeMsgs  *prometheus.CounterVec
	realtimeUp    prometheus.Gauge
	scoringEvents *prometheus.CounterVec
}

// NewRecorder registers metrics with a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aether_sync_queue_depth",
			Help: "Pending operations grouped by status",
		}, []string{"status"}),
		opsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aether_sync_ops_total",
			Help: "Replayed operations grouped by kind and outcome",
		}, []string{"kind", "outcome"}),
		drainDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "aether_sync_drain_duration_seconds",
			Help:    "Latency of a full queue drain",
			Buckets: prometheus.DefBuckets,
		}),
		drainSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aether_sync_drain_skipped_total",
			Help: "Drains skipped because one was already running or the remote was unreachable",
		}),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "aether_remote_online",
			Help: "Remote reachability (1=online)",
		}),
		uploadPhase: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aether_video_upload_phase_total",
			Help: "Completed video upload phases",
		}, []string{"phase"}),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aether_video_upload_bytes_total",
			Help: "Video bytes transferred to remote storage",
		}),
		realtimeMsgs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aether_realtime_messages_total",
			Help: "Change notifications received grouped by type",
		}, []string{"type"}),
		realtimeUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "aether_realtime_connected",
			Help: "Realtime change channel state (1=connected)",
		}),
		scoringEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aether_scoring_events_total",
			Help: "Scoring events recorded grouped by action",
		}, []string{"action"}),
	}

	reg.MustRegister(
		r.queueDepth,
		r.opsProcessed,
		r.drainDuration,
		r.drainSkipped,
		r.online,
		r.uploadPhase,
		r.uploadBytes,
		r.realtimeMsgs,
		r.realtimeUp,
		r.scoringEvents,
	)
	return r
}

// Handler returns HTTP handler serving /metrics.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// SetQueueDepth records the number of operations per status.
func (r *Recorder) SetQueueDepth(counts map[string]int) {
	if r == nil {
		return
	}
	for status, n := range counts {
		r.queueDepth.WithLabelValues(status).Set(float64(n))
	}
}

// ObserveOp records one replayed operation.
func (r *Recorder) ObserveOp(kind, outcome string) {
	if r == nil {
		return
	}
	r.opsProcessed.WithLabelValues(kind, outcome).Inc()
}

// ObserveDrain records a completed drain.
func (r *Recorder) ObserveDrain(d time.Duration) {
	if r == nil {
		return
	}
	r.drainDuration.Observe(d.Seconds())
}

// ObserveDrainSkipped increments the skipped drain counter.
func (r *Recorder) ObserveDrainSkipped() {
	if r == nil {
		return
	}
	r.drainSkipped.Inc()
}

// SetOnline records remote reachability.
func (r *Recorder) SetOnline(online bool) {
	if r == nil {
		return
	}
	r.online.Set(boolGauge(online))
}

// ObserveUploadPhase records a completed upload phase.
func (r *Recorder) ObserveUploadPhase(phase string) {
	if r == nil {
		return
	}
	r.uploadPhase.WithLabelValues(phase).Inc()
}

// ObserveUploadBytes adds transferred bytes.
func (r *Recorder) ObserveUploadBytes(n int64) {
	if r == nil {
		return
	}
	r.uploadBytes.Add(float64(n))
}

// ObserveRealtimeMessage counts one change notification.
func (r *Recorder) ObserveRealtimeMessage(kind string) {
	if r == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	r.realtimeMsgs.WithLabelValues(kind).Inc()
}

// SetRealtimeConnected records the change channel state.
func (r *Recorder) SetRealtimeConnected(up bool) {
	if r == nil {
		return
	}
	r.realtimeUp.Set(boolGauge(up))
}

// ObserveScoringEvent counts a recorded scoring action.
func (r *Recorder) ObserveScoringEvent(action string) {
	if r == nil {
		return
	}
	r.scoringEvents.WithLabelValues(action).Inc()
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
