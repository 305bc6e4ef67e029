// Package config loads process configuration from the environment (and an
// optional .env file) plus the scoring rules file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/thefortaiagency/aether-insight/internal/scoring"
)

// Config holds startup defaults. Command line flags override these and
// runtime settings (remote URL, token) may later be changed through the
// settings API.
type Config struct {
	Port    int
	DBPath  string
	DataDir string

	LogLevel  string
	LogFormat string
	LogFile   string

	// Remote store
	RemoteURL   string
	RemoteToken string
	RealtimeURL string

	// Sync
	SyncInterval  time.Duration
	SweepInterval time.Duration
	MaxAttempts   int
	Concurrency   int

	RulesPath string

	// S3-compatible storage for direct video uploads
	S3Endpoint        string
	S3Region          string
	S3AccessKeyID     string
	S3SecretAccessKey string
}

// Load reads .env (if present) and the environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:    envInt("AETHER_PORT", 8090),
		DBPath:  envStr("AETHER_DB", "aether.db"),
		DataDir: envStr("AETHER_DATA_DIR", "data"),

		LogLevel:  envStr("LOG_LEVEL", "info"),
		LogFormat: envStr("LOG_FORMAT", "text"),
		LogFile:   envStr("LOG_FILE", ""),

		RemoteURL:   envStr("AETHER_REMOTE_URL", ""),
		RemoteToken: envStr("AETHER_REMOTE_TOKEN", ""),
		RealtimeURL: envStr("AETHER_REALTIME_URL", ""),

		SyncInterval:  envDuration("SYNC_INTERVAL", 15*time.Second),
		SweepInterval: envDuration("UPLOAD_SWEEP_INTERVAL", 5*time.Minute),
		MaxAttempts:   envInt("SYNC_MAX_ATTEMPTS", 10),
		Concurrency:   envInt("SYNC_CONCURRENCY", 4),

		RulesPath: envStr("RULES_PATH", ""),

		S3Endpoint:        envStr("S3_ENDPOINT", ""),
		S3Region:          envStr("S3_REGION", "auto"),
		S3AccessKeyID:     envStr("S3_ACCESS_KEY_ID", ""),
		S3SecretAccessKey: envStr("S3_SECRET_ACCESS_KEY", ""),
	}
}

// VideoDir is where recordings are written
func (c *Config) VideoDir() string {
	return filepath.Join(c.DataDir, "videos")
}

// LoadRules reads scoring rules from a YAML file. Keys missing from the file
// keep their default values. An empty path returns the defaults.
func LoadRules(path string) (scoring.Rules, error) {
	rules := scoring.DefaultRules()
	if path == "" {
		return rules, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return scoring.Rules{}, fmt.Errorf("read rules: %w", err)
	}
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return scoring.Rules{}, fmt.Errorf("parse rules: %w", err)
	}
	if err := rules.Validate(); err != nil {
		return scoring.Rules{}, fmt.Errorf("invalid rules in %s: %w", path, err)
	}
	return rules, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// envDuration accepts Go durations ("30s") or plain seconds
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
