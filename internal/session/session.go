package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"idlecore/internal/broadcast"
	"idlecore/internal/clock"
	"idlecore/internal/game"
	"idlecore/internal/metrics"
	"idlecore/internal/persist"
	"idlecore/internal/ranking"
)

const ioTimeout = 10 * time.Second

// Config holds the per-session cadences.
type Config struct {
	TickEvery       time.Duration
	SaveEvery       time.Duration
	RankingEvery    time.Duration
	RankingInterval time.Duration
	BroadcastWindow time.Duration
	MaxOffline      time.Duration
	Streak          game.StreakConfig
}

func DefaultConfig() Config {
	return Config{
		TickEvery:       100 * time.Millisecond,
		SaveEvery:       30 * time.Second,
		RankingEvery:    time.Second,
		RankingInterval: 5 * time.Second,
		BroadcastWindow: 100 * time.Millisecond,
		MaxOffline:      game.DefaultMaxOffline,
		Streak:          game.DefaultStreakConfig(),
	}
}

// Sink receives outbound events addressed to a player.
type Sink interface {
	Send(playerKey string, ev Event)
}

type SinkFunc func(playerKey string, ev Event)

func (f SinkFunc) Send(playerKey string, ev Event) { f(playerKey, ev) }

type discardSink struct{}

func (discardSink) Send(string, Event) {}

// Session is the single owner of one player's Store while they are joined.
type Session struct {
	key      string
	store    *game.Store
	persist  *persist.Adapter
	ranking  *ranking.Sync
	throttle *broadcast.Throttler
	sink     Sink
	clk      clock.Clock
	cfg      Config
	log      *slog.Logger
	metrics  *metrics.Recorder

	// saveMu orders snapshot-then-write so a later save never lands first.
	saveMu sync.Mutex

	mu        sync.Mutex
	joinedAt  time.Time
	lastTick  time.Time
	tickTimer clock.Timer
	saveTimer clock.Timer
	rankTimer clock.Timer
	closed    bool
}

func (s *Session) Key() string {
	return s.key
}

func (s *Session) View() game.StateView {
	return s.store.View(s.clk.Now())
}

// Handle applies one inbound command and returns the reply addressed to the
// caller. Validation failures come back as errors with the game state
// unchanged.
func (s *Session) Handle(ctx context.Context, cmd Command) (Event, error) {
	now := s.clk.Now()
	switch c := cmd.(type) {
	case Click:
		earned, err := s.store.ApplyClick(now, c.MultiplierHint)
		if err != nil {
			s.log.Debug("click rejected", "player", s.key, "err", err)
			return nil, err
		}
		s.metrics.Click(earned)
		s.throttle.Notify()
		return stateChanged(s.store.View(now)), nil

	case Purchase:
		res, err := s.store.Purchase(c.UnitID)
		if err != nil {
			s.log.Debug("purchase rejected", "player", s.key, "unit", c.UnitID, "err", err)
			s.metrics.Purchase(ErrorCode(err))
			ev := PurchaseResult{UnitID: c.UnitID, Reason: ErrorCode(err)}
			s.sink.Send(s.key, ev)
			return ev, err
		}
		s.metrics.Purchase("ok")
		ev := PurchaseResult{
			Success:  true,
			UnitID:   res.UnitID,
			Owned:    res.Owned,
			Spent:    res.Spent,
			NextCost: res.NextCost,
		}
		s.sink.Send(s.key, ev)
		s.throttle.Notify()
		return ev, nil

	case RequestFullState:
		return FullState{StateView: s.store.View(now)}, nil

	case SyncCycleProgress:
		ids := make([]string, 0, len(c.ProgressByUnit))
		for id := range c.ProgressByUnit {
			ids = append(ids, id)
		}
		if len(ids) == 0 {
			ids = s.store.Catalog().IDs()
		}
		return CycleProgress{ProgressByUnit: s.store.ProgressFor(ids)}, nil

	case StreakEnded:
		d := c.DurationMs
		if online := now.Sub(s.joinedAt).Milliseconds(); d > online {
			d = online
		}
		s.store.RecordStreakEnded(d)
		return stateChanged(s.store.View(now)), nil

	case BeginStreak:
		s.store.BeginStreak(now)
		s.throttle.Notify()
		return stateChanged(s.store.View(now)), nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnknownCommand, cmd)
}

// Save writes the current snapshot. Failures are logged and leave the
// in-memory state untouched; the next save retries.
func (s *Session) Save(ctx context.Context) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	start := time.Now()
	at, err := s.persist.Save(ctx, s.key, s.store.Snapshot())
	s.metrics.Save(err == nil, time.Since(start).Seconds())
	if err != nil {
		s.log.Error("save failed", "player", s.key, "err", err)
		return err
	}
	s.store.MarkSaved(at)
	return nil
}

func (s *Session) rankingValues() ranking.Values {
	st := s.store.State()
	return ranking.Values{
		ranking.MetricLifetimeEarned: st.LifetimeEarned,
		ranking.MetricBalance:        st.Balance,
		ranking.MetricEarnRate:       game.TotalEarnRate(s.store.Catalog(), st.Owned),
		ranking.MetricLongestStreak:  float64(st.LongestStreakMs),
		ranking.MetricTimeOnline:     float64(st.TimeOnlineMs / 1000),
	}
}

func (s *Session) syncRanking(ctx context.Context, force bool) {
	now := s.clk.Now()
	var pushes []ranking.Push
	if force {
		pushes = s.ranking.ForceSync(ctx, now, s.rankingValues())
	} else {
		pushes = s.ranking.Evaluate(ctx, now, s.rankingValues())
	}
	for _, p := range pushes {
		s.metrics.RankingPush(p.Metric, p.Err == nil)
		if p.Err != nil {
			s.log.Error("ranking push failed", "player", s.key, "metric", p.Metric, "err", p.Err)
		}
	}
}

func (s *Session) emitState() {
	s.metrics.Broadcast()
	s.sink.Send(s.key, stateChanged(s.store.View(s.clk.Now())))
}

// advance credits production and online time up to now.
func (s *Session) advance(now time.Time) {
	s.mu.Lock()
	delta := now.Sub(s.lastTick)
	s.lastTick = now
	s.mu.Unlock()
	if delta <= 0 {
		return
	}

	res := s.store.Tick(float64(delta) / float64(time.Millisecond))
	s.store.AddOnlineTime(delta)
	_, lapsed := s.store.SweepStreak(now)
	s.metrics.Tick(res.Completions, res.Earned)
	if res.Completions > 0 || lapsed {
		s.throttle.Notify()
	}
}

func (s *Session) start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickTimer = s.clk.AfterFunc(s.cfg.TickEvery, s.onTick)
	if s.cfg.SaveEvery > 0 {
		s.saveTimer = s.clk.AfterFunc(s.cfg.SaveEvery, s.onSave)
	}
	if s.cfg.RankingEvery > 0 {
		s.rankTimer = s.clk.AfterFunc(s.cfg.RankingEvery, s.onRanking)
	}
}

func (s *Session) onTick() {
	if s.isClosed() {
		return
	}
	s.advance(s.clk.Now())
	s.reschedule(&s.tickTimer, s.cfg.TickEvery, s.onTick)
}

func (s *Session) onSave() {
	if s.isClosed() {
		return
	}
	// Credit production up to the save stamp so nothing falls between ticks.
	s.advance(s.clk.Now())
	ctx, cancel := context.WithTimeout(context.Background(), ioTimeout)
	_ = s.Save(ctx)
	cancel()
	s.reschedule(&s.saveTimer, s.cfg.SaveEvery, s.onSave)
}

func (s *Session) onRanking() {
	if s.isClosed() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), ioTimeout)
	s.syncRanking(ctx, false)
	cancel()
	s.reschedule(&s.rankTimer, s.cfg.RankingEvery, s.onRanking)
}

func (s *Session) reschedule(slot *clock.Timer, d time.Duration, f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	*slot = s.clk.AfterFunc(d, f)
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// close stops the loops, credits the time since the last tick and performs
// the final save and ranking evaluation.
func (s *Session) close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for _, t := range []clock.Timer{s.tickTimer, s.saveTimer, s.rankTimer} {
		if t != nil {
			t.Stop()
		}
	}
	s.mu.Unlock()
	s.throttle.Stop()

	s.advance(s.clk.Now())
	err := s.Save(ctx)
	s.syncRanking(ctx, false)
	return err
}
