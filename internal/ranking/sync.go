package ranking

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	MetricLifetimeEarned = "lifetime_earned"
	MetricBalance        = "balance"
	MetricEarnRate       = "earn_rate"
	MetricLongestStreak  = "longest_streak"
	MetricTimeOnline     = "time_online"
)

// Metric is one tracked ranking value. Monotonic metrics only ever move up
// remotely; volatile ones are overwritten.
type Metric struct {
	Name      string
	Monotonic bool
}

var DefaultMetrics = []Metric{
	{Name: MetricLifetimeEarned, Monotonic: true},
	{Name: MetricLongestStreak, Monotonic: true},
	{Name: MetricTimeOnline, Monotonic: true},
	{Name: MetricBalance},
	{Name: MetricEarnRate},
}

var ErrUnknownMetric = errors.New("unknown ranking metric")

func LookupMetric(name string) (Metric, error) {
	for _, m := range DefaultMetrics {
		if m.Name == name {
			return m, nil
		}
	}
	return Metric{}, fmt.Errorf("%w: %s", ErrUnknownMetric, name)
}

// Values maps metric name to the current candidate value.
type Values map[string]float64

// Push records the outcome of one SetScore call.
type Push struct {
	Metric string
	Value  int32
	Err    error
}

// Clamp converts a candidate into ±(2^31-1).
func Clamp(v float64) int32 {
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt32:
		return math.MaxInt32
	case v <= -math.MaxInt32:
		return -math.MaxInt32
	}
	return int32(math.Trunc(v))
}

type pushed struct {
	value int32
	ok    bool
}

// Sync pushes one player's metrics to a Store, at most once per interval.
type Sync struct {
	store   Store
	player  string
	metrics []Metric
	limiter *rate.Limiter

	mu   sync.Mutex
	last map[string]pushed
}

func NewSync(store Store, playerKey string, interval time.Duration, metrics []Metric) *Sync {
	if metrics == nil {
		metrics = DefaultMetrics
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Sync{
		store:   store,
		player:  playerKey,
		metrics: metrics,
		limiter: rate.NewLimiter(limit, 1),
		last:    make(map[string]pushed, len(metrics)),
	}
}

// Evaluate pushes the metrics that changed since the last push, provided
// the interval gate allows it. Nothing changed means nothing is pushed and
// the gate is not consumed.
func (s *Sync) Evaluate(ctx context.Context, now time.Time, values Values) []Push {
	return s.run(ctx, now, values, false)
}

// ForceSync skips the interval gate. The push still counts against it, so
// the next Evaluate waits a full interval.
func (s *Sync) ForceSync(ctx context.Context, now time.Time, values Values) []Push {
	return s.run(ctx, now, values, true)
}

func (s *Sync) run(ctx context.Context, now time.Time, values Values, force bool) []Push {
	s.mu.Lock()
	defer s.mu.Unlock()

	type candidate struct {
		metric Metric
		value  int32
	}
	var due []candidate
	for _, m := range s.metrics {
		v, ok := values[m.Name]
		if !ok {
			continue
		}
		c := Clamp(v)
		prev := s.last[m.Name]
		if m.Monotonic {
			if prev.ok && c <= prev.value {
				continue
			}
		} else if prev.ok && c == prev.value {
			continue
		}
		due = append(due, candidate{metric: m, value: c})
	}
	if len(due) == 0 {
		return nil
	}
	if force {
		s.limiter.ReserveN(now, 1)
	} else if !s.limiter.AllowN(now, 1) {
		return nil
	}

	out := make([]Push, 0, len(due))
	for _, c := range due {
		err := s.store.SetScore(ctx, c.metric.Name, s.player, c.value, !c.metric.Monotonic)
		if err == nil {
			s.last[c.metric.Name] = pushed{value: c.value, ok: true}
		}
		out = append(out, Push{Metric: c.metric.Name, Value: c.value, Err: err})
	}
	return out
}

// LastPushed returns the value most recently accepted for metric.
func (s *Sync) LastPushed(metric string) (int32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.last[metric]
	return p.value, p.ok
}
