package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "idle"

// Recorder holds the economy collectors. A nil *Recorder records nothing.
type Recorder struct {
	registry *prometheus.Registry

	liveSessions   prometheus.Gauge
	ticks          prometheus.Counter
	completions    prometheus.Counter
	earned         *prometheus.CounterVec
	clicks         prometheus.Counter
	purchases      *prometheus.CounterVec
	saves          *prometheus.CounterVec
	saveDuration   prometheus.Histogram
	rankingPushes  *prometheus.CounterVec
	broadcasts     prometheus.Counter
	offlineElapsed prometheus.Histogram
}

func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		liveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_sessions",
			Help:      "Number of joined player sessions",
		}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Production ticks applied across all sessions",
		}),
		completions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycle_completions_total",
			Help:      "Unit cycle completions credited, live and offline",
		}),
		earned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "currency_earned_total",
			Help:      "Currency credited by source",
		}, []string{"source"}),
		clicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clicks_total",
			Help:      "Accepted clicks",
		}),
		purchases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purchases_total",
			Help:      "Purchase attempts by result",
		}, []string{"result"}),
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saves_total",
			Help:      "Snapshot saves by result",
		}, []string{"result"}),
		saveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "save_duration_seconds",
			Help:      "Snapshot save latency",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		rankingPushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ranking_pushes_total",
			Help:      "Ranking store writes by metric and result",
		}, []string{"metric", "result"}),
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "State notifications emitted after throttling",
		}),
		offlineElapsed: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "offline_elapsed_seconds",
			Help:      "Clamped offline time reconciled on join",
			Buckets:   []float64{1, 60, 600, 3600, 6 * 3600, 24 * 3600, 7 * 24 * 3600},
		}),
	}
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.liveSessions,
		r.ticks,
		r.completions,
		r.earned,
		r.clicks,
		r.purchases,
		r.saves,
		r.saveDuration,
		r.rankingPushes,
		r.broadcasts,
		r.offlineElapsed,
	)
	return r
}

func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) SessionJoined() {
	if r == nil {
		return
	}
	r.liveSessions.Inc()
}

func (r *Recorder) SessionLeft() {
	if r == nil {
		return
	}
	r.liveSessions.Dec()
}

func (r *Recorder) Tick(completions int64, earned float64) {
	if r == nil {
		return
	}
	r.ticks.Inc()
	if completions > 0 {
		r.completions.Add(float64(completions))
		r.earned.WithLabelValues("production").Add(earned)
	}
}

func (r *Recorder) Click(earned float64) {
	if r == nil {
		return
	}
	r.clicks.Inc()
	r.earned.WithLabelValues("click").Add(earned)
}

func (r *Recorder) Purchase(result string) {
	if r == nil {
		return
	}
	r.purchases.WithLabelValues(result).Inc()
}

func (r *Recorder) Offline(elapsedSeconds float64, completions int64, earned float64) {
	if r == nil {
		return
	}
	r.offlineElapsed.Observe(elapsedSeconds)
	r.completions.Add(float64(completions))
	r.earned.WithLabelValues("offline").Add(earned)
}

func (r *Recorder) Save(ok bool, seconds float64) {
	if r == nil {
		return
	}
	r.saves.WithLabelValues(result(ok)).Inc()
	r.saveDuration.Observe(seconds)
}

func (r *Recorder) RankingPush(metric string, ok bool) {
	if r == nil {
		return
	}
	r.rankingPushes.WithLabelValues(metric, result(ok)).Inc()
}

func (r *Recorder) Broadcast() {
	if r == nil {
		return
	}
	r.broadcasts.Inc()
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
