// Package config reads the process's environment into a validated,
// typed Config. A .env file, if present, is preloaded via godotenv
// before the environment is read; real environment variables always
// take precedence over it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/rawblock/ledger-engine/internal/attribution"
	"github.com/rawblock/ledger-engine/internal/query"
	"github.com/rawblock/ledger-engine/pkg/money"
)

// Config is every environment-derived setting the binary needs.
type Config struct {
	Port        string
	DatabasePath string
	UpstreamAPIURL string
	TargetBuilder money.Address

	BuilderAttributionMode attribution.Mode
	PnlMode                query.PnlMode

	LookbackMs int64

	LeaderboardUsers []money.Address

	LogLevel string

	WarmerIntervalMs int64

	RateLimitPerMin int
	RateLimitBurst  int
}

// Load preloads .env (if one exists in the working directory — absence
// is not an error) and then reads and validates the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("config: loading .env: %w", err)
	}

	databasePath, err := requireEnv("DATABASE_PATH")
	if err != nil {
		return Config{}, err
	}
	upstreamURL, err := requireEnv("UPSTREAM_API_URL")
	if err != nil {
		return Config{}, err
	}
	targetBuilder, err := requireEnv("TARGET_BUILDER")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Port:           getEnvOrDefault("PORT", "8080"),
		DatabasePath:   databasePath,
		UpstreamAPIURL: upstreamURL,
		TargetBuilder:  money.Address(targetBuilder),
		LogLevel:       getEnvOrDefault("LOG_LEVEL", "info"),
	}

	mode := attribution.Mode(getEnvOrDefault("BUILDER_ATTRIBUTION_MODE", string(attribution.ModeAuto)))
	switch mode {
	case attribution.ModeHeuristic, attribution.ModeLogs, attribution.ModeAuto:
		cfg.BuilderAttributionMode = mode
	default:
		return Config{}, fmt.Errorf("config: invalid BUILDER_ATTRIBUTION_MODE %q", mode)
	}

	pnlMode := query.PnlMode(getEnvOrDefault("PNL_MODE", string(query.PnlGross)))
	switch pnlMode {
	case query.PnlGross, query.PnlNet:
		cfg.PnlMode = pnlMode
	default:
		return Config{}, fmt.Errorf("config: invalid PNL_MODE %q", pnlMode)
	}

	lookbackMs, err := getEnvInt64OrDefault("LOOKBACK_MS", 24*60*60*1000)
	if err != nil {
		return Config{}, err
	}
	cfg.LookbackMs = lookbackMs

	leaderboardUsers, err := parseAddressList(os.Getenv("LEADERBOARD_USERS"))
	if err != nil {
		return Config{}, err
	}
	cfg.LeaderboardUsers = leaderboardUsers

	warmerMs, err := getEnvInt64OrDefault("WARMER_INTERVAL_MS", 0)
	if err != nil {
		return Config{}, err
	}
	cfg.WarmerIntervalMs = warmerMs

	rateLimitPerMin, err := getEnvIntOrDefault("RATE_LIMIT_PER_MIN", 120)
	if err != nil {
		return Config{}, err
	}
	cfg.RateLimitPerMin = rateLimitPerMin

	rateLimitBurst, err := getEnvIntOrDefault("RATE_LIMIT_BURST", 20)
	if err != nil {
		return Config{}, err
	}
	cfg.RateLimitBurst = rateLimitBurst

	return cfg, nil
}

// WarmerInterval is a convenience Duration conversion used by
// cmd/ledger/main.go when wiring the background loops.
func (c Config) WarmerInterval() time.Duration {
	return time.Duration(c.WarmerIntervalMs) * time.Millisecond
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("config: required environment variable %s is not set", key)
	}
	return val, nil
}

func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvIntOrDefault(key string, fallback int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer, got %q", key, val)
	}
	return n, nil
}

func getEnvInt64OrDefault(key string, fallback int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer, got %q", key, val)
	}
	return n, nil
}

// parseAddressList reads LEADERBOARD_USERS either as a literal
// comma-separated list, or — when prefixed with "@" — as a path to a
// file holding one address per line.
func parseAddressList(val string) ([]money.Address, error) {
	if val == "" {
		return nil, nil
	}
	if strings.HasPrefix(val, "@") {
		path := strings.TrimPrefix(val, "@")
		contents, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading LEADERBOARD_USERS file %s: %w", path, err)
		}
		return splitAddresses(strings.ReplaceAll(string(contents), "\n", ",")), nil
	}
	return splitAddresses(val), nil
}

func splitAddresses(val string) []money.Address {
	parts := strings.Split(val, ",")
	out := make([]money.Address, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, money.Address(p))
	}
	return out
}
