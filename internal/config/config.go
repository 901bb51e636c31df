package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

type APIConfig struct {
	Addr            string        `validate:"required"`
	Store           string        `validate:"oneof=memory sqlite postgres"`
	DatabaseURL     string        `validate:"required_if=Store postgres"`
	SQLitePath      string        `validate:"required_if=Store sqlite"`
	CatalogPath     string
	TickEvery       time.Duration `validate:"min=10ms,max=1s"`
	SaveEvery       time.Duration `validate:"min=1s"`
	BroadcastWindow time.Duration `validate:"min=0"`
	RankingInterval time.Duration `validate:"min=0"`
	RankingEvery    time.Duration `validate:"min=100ms"`
	MaxOffline      time.Duration `validate:"min=0"`
	LeaderboardSize int           `validate:"min=1,max=500"`
	LogLevel        slog.Level
}

type CLIConfig struct {
	APIBaseURL string `validate:"required,url"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadDotEnv reads a .env file into the environment when one exists.
// Variables that are already set win.
func LoadDotEnv(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
		}
	}
}

func LoadAPIFromEnv() (APIConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("IDLE_API_ADDR", ":8080")
	}

	cfg := APIConfig{
		Addr:            addr,
		Store:           strings.ToLower(envDefault("IDLE_STORE", StoreMemory)),
		DatabaseURL:     strings.TrimSpace(os.Getenv("DATABASE_URL")),
		SQLitePath:      envDefault("IDLE_SQLITE_PATH", "idle.db"),
		CatalogPath:     strings.TrimSpace(os.Getenv("IDLE_CATALOG_PATH")),
		TickEvery:       envDurationDefault("IDLE_TICK_EVERY", 100*time.Millisecond),
		SaveEvery:       envDurationDefault("IDLE_SAVE_EVERY", 30*time.Second),
		BroadcastWindow: envDurationDefault("IDLE_BROADCAST_WINDOW", 100*time.Millisecond),
		RankingInterval: envDurationDefault("IDLE_RANKING_INTERVAL", 5*time.Second),
		RankingEvery:    envDurationDefault("IDLE_RANKING_EVERY", time.Second),
		MaxOffline:      envDurationDefault("IDLE_MAX_OFFLINE", 7*24*time.Hour),
		LeaderboardSize: envIntDefault("IDLE_LEADERBOARD_SIZE", 20),
		LogLevel:        envLevelDefault("IDLE_LOG_LEVEL", slog.LevelInfo),
	}
	if err := validate.Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func LoadCLIFromEnv() (CLIConfig, error) {
	cfg := CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("IDLE_API_BASE_URL", "http://localhost:8080"), "/"),
	}
	if err := validate.Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envLevelDefault(key string, fallback slog.Level) slog.Level {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(v)); err != nil {
		return fallback
	}
	return lvl
}
