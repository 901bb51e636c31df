package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"idlecore/internal/catalog"
	"idlecore/internal/config"
	"idlecore/internal/game"
	"idlecore/internal/hub"
	"idlecore/internal/metrics"
	"idlecore/internal/persist"
	"idlecore/internal/ranking"
	"idlecore/internal/session"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const PlayerKeyHeader = "X-Player-Key"

type Deps struct {
	Catalog  *catalog.Catalog
	Sessions *session.Manager
	Board    ranking.Board
	Hub      *hub.Hub
	Metrics  *metrics.Recorder
}

type Server struct {
	cfg      config.APIConfig
	log      *slog.Logger
	catalog  *catalog.Catalog
	sessions *session.Manager
	board    ranking.Board
	hub      *hub.Hub
	metrics  *metrics.Recorder
	mux      *chi.Mux
}

func New(cfg config.APIConfig, logger *slog.Logger, deps Deps) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		log:      logger,
		catalog:  deps.Catalog,
		sessions: deps.Sessions,
		board:    deps.Board,
		hub:      deps.Hub,
		metrics:  deps.Metrics,
		mux:      chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "sessions": s.sessions.Len()})
	})
	if reg := s.metrics.Registry(); reg != nil {
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/catalog", s.handleCatalog)
		r.Get("/leaderboard/{metric}", s.handleLeaderboard)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Post("/session/join", s.handleJoin)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.playerMiddleware)
			r.Get("/ws", s.handleWS)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(30 * time.Second))
				r.Post("/session/leave", s.handleLeave)
				r.Get("/state", s.handleState)
				r.Post("/click", s.handleClick)
				r.Post("/purchase", s.handlePurchase)
				r.Post("/streak/begin", s.handleBeginStreak)
				r.Post("/streak/ended", s.handleStreakEnded)
				r.Post("/progress/sync", s.handleProgressSync)
				r.Post("/sync/replay", s.handleSyncReplay)
			})
		})
	})
}

func (s *Server) playerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(PlayerKeyHeader))
		if key == "" {
			key = strings.TrimSpace(r.URL.Query().Get("player"))
		}
		if key == "" {
			writeError(w, http.StatusUnauthorized, "missing "+PlayerKeyHeader+" header")
			return
		}
		next.ServeHTTP(w, r.WithContext(withPlayer(r.Context(), key)))
	})
}

func (s *Server) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"units": s.catalog.Units()})
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		PlayerKey string `json:"player_key"`
	}
	if err := decodeOptionalJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	key := strings.TrimSpace(in.PlayerKey)
	if key == "" {
		key = strings.TrimSpace(r.Header.Get(PlayerKeyHeader))
	}
	if key == "" {
		key = "guest-" + uuid.NewString()
	}
	if len(key) > 128 {
		writeError(w, http.StatusBadRequest, "player key too long")
		return
	}

	sess, welcome, err := s.sessions.Join(r.Context(), key)
	if err != nil {
		s.log.Error("join failed", "player", key, "err", err)
		writeDomainError(w, err)
		return
	}
	out := map[string]any{
		"player_key": key,
		"state":      sess.View(),
	}
	if welcome != nil {
		out["welcome_back"] = welcome
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	key := playerFromContext(r.Context())
	if err := s.sessions.Leave(r.Context(), key); err != nil {
		if errors.Is(err, session.ErrNoSession) {
			writeDomainError(w, err)
			return
		}
		// Session is gone either way; the failed save is already logged.
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "saved": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "saved": true})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, session.RequestFullState{})
}

func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	var in session.Click
	if err := decodeOptionalJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.dispatch(w, r, in)
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	var in session.Purchase
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	in.UnitID = strings.TrimSpace(in.UnitID)
	if in.UnitID == "" {
		writeError(w, http.StatusBadRequest, "unit_id is required")
		return
	}
	s.dispatch(w, r, in)
}

func (s *Server) handleBeginStreak(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, session.BeginStreak{})
}

func (s *Server) handleStreakEnded(w http.ResponseWriter, r *http.Request) {
	var in session.StreakEnded
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if in.DurationMs < 0 {
		writeError(w, http.StatusBadRequest, "duration_ms must be >= 0")
		return
	}
	s.dispatch(w, r, in)
}

func (s *Server) handleProgressSync(w http.ResponseWriter, r *http.Request) {
	var in session.SyncCycleProgress
	if err := decodeOptionalJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.dispatch(w, r, in)
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, cmd session.Command) {
	ev, err := s.sessions.Handle(r.Context(), playerFromContext(r.Context()), cmd)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"type": ev.EventType(), "data": ev})
}

// ReplayCommand is one command queued by a client while it was offline.
type ReplayCommand struct {
	Type           string          `json:"type"`
	Data           json.RawMessage `json:"data,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
}

type ReplayResult struct {
	Type           string `json:"type"`
	IdempotencyKey string `json:"idempotency_key"`
	Status         string `json:"status"`
	Code           string `json:"code,omitempty"`
	Error          string `json:"error,omitempty"`
}

// handleSyncReplay applies queued commands in order. A rejected command does
// not stop the ones after it.
func (s *Server) handleSyncReplay(w http.ResponseWriter, r *http.Request) {
	key := playerFromContext(r.Context())
	var in struct {
		Commands []ReplayCommand `json:"commands"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, ok := s.sessions.Get(key); !ok {
		writeDomainError(w, session.ErrNoSession)
		return
	}
	results := make([]ReplayResult, 0, len(in.Commands))
	for _, c := range in.Commands {
		res := ReplayResult{Type: c.Type, IdempotencyKey: c.IdempotencyKey, Status: "applied"}
		cmd, err := session.DecodeCommand(c.Type, c.Data)
		if err == nil {
			_, err = s.sessions.Handle(r.Context(), key, cmd)
		}
		if err != nil {
			res.Status = "rejected"
			res.Code = session.ErrorCode(err)
			res.Error = err.Error()
		}
		results = append(results, res)
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	metric, err := ranking.LookupMetric(chi.URLParam(r, "metric"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	limit := s.cfg.LeaderboardSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.board.Top(r.Context(), metric.Name, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rows == nil {
		rows = []ranking.Row{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"metric": metric.Name, "rows": rows})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	key := playerFromContext(r.Context())
	if _, ok := s.sessions.Get(key); !ok {
		writeDomainError(w, session.ErrNoSession)
		return
	}
	s.hub.ServeWS(w, r, key)
}

func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, game.ErrInsufficientFunds), errors.Is(err, game.ErrInvalidMultiplier):
		status = http.StatusBadRequest
	case errors.Is(err, session.ErrUnknownCommand), errors.Is(err, session.ErrInvalidCommand):
		status = http.StatusBadRequest
	case errors.Is(err, game.ErrUnknownUnit), errors.Is(err, ranking.ErrUnknownMetric):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrNoSession):
		status = http.StatusNotFound
	case errors.Is(err, game.ErrCapReached):
		status = http.StatusConflict
	case errors.Is(err, persist.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(err.Error()), "code": session.ErrorCode(err)})
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(r *http.Request, out any) error {
	if err := decodeJSON(r, out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}
