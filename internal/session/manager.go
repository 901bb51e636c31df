package session

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"idlecore/internal/broadcast"
	"idlecore/internal/catalog"
	"idlecore/internal/clock"
	"idlecore/internal/game"
	"idlecore/internal/metrics"
	"idlecore/internal/persist"
	"idlecore/internal/ranking"
)

var ErrNoSession = errors.New("session not found")

type Deps struct {
	Catalog *catalog.Catalog
	Persist *persist.Adapter
	Ranking ranking.Store
	Clock   clock.Clock
	Sink    Sink
	Logger  *slog.Logger
	Metrics *metrics.Recorder
}

// Manager keeps one Session per joined player key.
type Manager struct {
	deps Deps
	cfg  Config
	log  *slog.Logger

	joins singleflight.Group

	mu       sync.RWMutex
	sessions map[string]*Session
	// leaving holds a channel per key whose final save is still in flight.
	leaving map[string]chan struct{}
}

func NewManager(deps Deps, cfg Config) *Manager {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}
	if deps.Sink == nil {
		deps.Sink = discardSink{}
	}
	return &Manager{
		deps:     deps,
		cfg:      cfg,
		log:      deps.Logger,
		sessions: make(map[string]*Session),
		leaving:  make(map[string]chan struct{}),
	}
}

type joinResult struct {
	sess    *Session
	welcome *WelcomeBack
}

// Join loads the player's snapshot, reconciles offline time and brings the
// session live. Joining an already live player returns the existing session
// and no WelcomeBack.
func (m *Manager) Join(ctx context.Context, playerKey string) (*Session, *WelcomeBack, error) {
	if s, ok := m.Get(playerKey); ok {
		return s, nil, nil
	}
	v, err, _ := m.joins.Do(playerKey, func() (any, error) {
		if s, ok := m.Get(playerKey); ok {
			return joinResult{sess: s}, nil
		}
		s, welcome, err := m.join(ctx, playerKey)
		if err != nil {
			return nil, err
		}
		return joinResult{sess: s, welcome: welcome}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	res := v.(joinResult)
	return res.sess, res.welcome, nil
}

func (m *Manager) join(ctx context.Context, playerKey string) (*Session, *WelcomeBack, error) {
	if err := m.waitLeave(ctx, playerKey); err != nil {
		return nil, nil, err
	}
	snap, info, err := m.deps.Persist.Load(ctx, playerKey)
	if err != nil {
		return nil, nil, err
	}

	now := m.deps.Clock.Now()
	elapsed := game.ClampElapsed(now.Sub(snap.LastSaveTime), m.cfg.MaxOffline)
	store := game.Restore(m.deps.Catalog, m.cfg.Streak, snap, now)
	offline := store.ApplyOffline(elapsed)
	store.MarkJoined(now)

	s := &Session{
		key:      playerKey,
		store:    store,
		persist:  m.deps.Persist,
		ranking:  ranking.NewSync(m.deps.Ranking, playerKey, m.cfg.RankingInterval, nil),
		sink:     m.deps.Sink,
		clk:      m.deps.Clock,
		cfg:      m.cfg,
		log:      m.log,
		metrics:  m.deps.Metrics,
		joinedAt: now,
		lastTick: now,
	}
	s.throttle = broadcast.New(m.deps.Clock, m.cfg.BroadcastWindow, s.emitState)

	// The reconciled state is saved before the session goes live.
	_ = s.Save(ctx)
	s.syncRanking(ctx, true)

	var welcome *WelcomeBack
	if !info.Fresh && (offline.Earnings > 0 || elapsed > 0) {
		welcome = &WelcomeBack{
			OfflineEarnings: offline.Earnings,
			ElapsedMs:       elapsed.Milliseconds(),
			Completions:     offline.Completions,
		}
		m.deps.Metrics.Offline(elapsed.Seconds(), offline.Completions, offline.Earnings)
	}

	m.mu.Lock()
	m.sessions[playerKey] = s
	m.mu.Unlock()
	m.deps.Metrics.SessionJoined()

	s.start()
	if welcome != nil {
		s.sink.Send(playerKey, *welcome)
	}
	s.sink.Send(playerKey, stateChanged(store.View(now)))
	m.log.Info("player joined",
		"player", playerKey,
		"fresh", info.Fresh,
		"defaulted", info.Defaulted,
		"offline_ms", elapsed.Milliseconds(),
		"offline_earnings", offline.Earnings,
	)
	return s, welcome, nil
}

func (m *Manager) Get(playerKey string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[playerKey]
	return s, ok
}

// Handle routes cmd to the player's live session.
func (m *Manager) Handle(ctx context.Context, playerKey string, cmd Command) (Event, error) {
	s, ok := m.Get(playerKey)
	if !ok {
		return nil, ErrNoSession
	}
	return s.Handle(ctx, cmd)
}

// waitLeave blocks until a pending Leave for playerKey has finished its
// final save, so a rejoin never loads a stale record.
func (m *Manager) waitLeave(ctx context.Context, playerKey string) error {
	m.mu.RLock()
	done, ok := m.leaving[playerKey]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Leave performs the final save and drops the session. A Join for the same
// key waits until the save has returned.
func (m *Manager) Leave(ctx context.Context, playerKey string) error {
	m.mu.Lock()
	s, ok := m.sessions[playerKey]
	if !ok {
		m.mu.Unlock()
		return ErrNoSession
	}
	done := make(chan struct{})
	delete(m.sessions, playerKey)
	m.leaving[playerKey] = done
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.leaving, playerKey)
		m.mu.Unlock()
		close(done)
	}()

	m.deps.Metrics.SessionLeft()
	err := s.close(ctx)
	m.log.Info("player left", "player", playerKey, "saved", err == nil)
	return err
}

// Keys lists live player keys in sorted order.
func (m *Manager) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.sessions))
	for k := range m.sessions {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Shutdown leaves every live session concurrently.
func (m *Manager) Shutdown(ctx context.Context) error {
	var g errgroup.Group
	g.SetLimit(8)
	for _, key := range m.Keys() {
		key := key
		g.Go(func() error {
			err := m.Leave(ctx, key)
			if errors.Is(err, ErrNoSession) {
				return nil
			}
			return err
		})
	}
	return g.Wait()
}
