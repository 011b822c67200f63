// Package config reads service settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	EnvListenAddr     = "LIAR_LISTEN_ADDR"
	EnvBackendURL     = "LIAR_BACKEND_URL"
	EnvAITurnDelayMs  = "LIAR_AI_TURN_DELAY_MS"
	EnvRequestTimeout = "LIAR_REQUEST_TIMEOUT_MS"
	EnvFixedKeyword   = "LIAR_FIXED_KEYWORD"
	EnvLogLevel       = "LIAR_LOG_LEVEL"
	EnvLogFormat      = "LIAR_LOG_FORMAT"
	EnvArchiveDSN     = "LIAR_ARCHIVE_DSN"
)

type Config struct {
	ListenAddr     string
	BackendURL     string
	AITurnDelay    time.Duration
	RequestTimeout time.Duration
	// FixedKeyword pins the keyword for every new game; empty lets the
	// backend pick one at random.
	FixedKeyword string
	LogLevel     string
	LogFormat    string
	// ArchiveDSN is a postgres DSN for finished-game records; empty disables it.
	ArchiveDSN string
}

func Default() Config {
	return Config{
		ListenAddr:     ":8080",
		BackendURL:     "http://localhost:8000",
		AITurnDelay:    2000 * time.Millisecond,
		RequestTimeout: 60 * time.Second,
		LogLevel:       "info",
		LogFormat:      "json",
	}
}

// Load reads the given .env files (missing files are skipped; the default is
// ".env") and then the process environment. Variables already set in the
// environment win over the files.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from lookup, falling back to Default for unset keys.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvListenAddr); ok {
		cfg.ListenAddr = v
	}
	if v, ok := get(EnvBackendURL); ok {
		cfg.BackendURL = v
	}
	if v, ok := get(EnvFixedKeyword); ok {
		cfg.FixedKeyword = v
	}
	if v, ok := get(EnvLogLevel); ok {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v, ok := get(EnvLogFormat); ok {
		cfg.LogFormat = strings.ToLower(v)
	}
	if v, ok := get(EnvArchiveDSN); ok {
		cfg.ArchiveDSN = v
	}

	var err error
	if cfg.AITurnDelay, err = millis(get, EnvAITurnDelayMs, cfg.AITurnDelay); err != nil {
		return Config{}, err
	}
	if cfg.RequestTimeout, err = millis(get, EnvRequestTimeout, cfg.RequestTimeout); err != nil {
		return Config{}, err
	}

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("listen address is empty")
	}
	if !strings.HasPrefix(c.BackendURL, "http://") && !strings.HasPrefix(c.BackendURL, "https://") {
		return fmt.Errorf("backend url %q must start with http:// or https://", c.BackendURL)
	}
	if c.AITurnDelay <= 0 {
		return fmt.Errorf("%s must be positive", EnvAITurnDelayMs)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%s must be positive", EnvRequestTimeout)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("log format %q: want json or console", c.LogFormat)
	}
	return nil
}

func millis(get func(string) (string, bool), key string, def time.Duration) (time.Duration, error) {
	v, ok := get(key)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return time.Duration(n) * time.Millisecond, nil
}
