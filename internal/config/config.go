package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr  string
	WorkDir     string
	APIKeys     []string
	CORSOrigins []string

	WhisperdURL     string
	WhisperdTimeout time.Duration

	PollInterval       time.Duration
	ReadRetention      time.Duration
	AbandonedRetention time.Duration

	MaxUploadBytes int64
	RateLimitRPS   int
}

// Load reads configuration from the environment. A local .env file is
// applied first when present; real environment variables win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:  getEnv("ASRQ_LISTEN_ADDR", ":8080"),
		WorkDir:     getEnv("ASRQ_WORKDIR", "data"),
		WhisperdURL: getEnv("ASRQ_WHISPERD_URL", "http://localhost:9000"),
	}

	// API keys are optional; with none configured the API is open.
	cfg.APIKeys = splitList(getEnv("ASRQ_API_KEYS", ""))
	// CORS is off unless origins are configured; "*" allows all.
	cfg.CORSOrigins = splitList(getEnv("ASRQ_CORS_ORIGINS", ""))

	var err error
	if cfg.WhisperdTimeout, err = getEnvDuration("ASRQ_WHISPERD_TIMEOUT", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = getEnvDuration("ASRQ_POLL_INTERVAL", time.Second); err != nil {
		return nil, err
	}
	if cfg.ReadRetention, err = getEnvDuration("ASRQ_READ_RETENTION", time.Hour); err != nil {
		return nil, err
	}
	if cfg.AbandonedRetention, err = getEnvDuration("ASRQ_ABANDONED_RETENTION", 24*time.Hour); err != nil {
		return nil, err
	}

	maxUpload, err := getEnvInt("ASRQ_MAX_UPLOAD_MB", 512)
	if err != nil {
		return nil, err
	}
	cfg.MaxUploadBytes = int64(maxUpload) << 20

	if cfg.RateLimitRPS, err = getEnvInt("ASRQ_RATE_LIMIT_RPS", 0); err != nil {
		return nil, err
	}

	if cfg.PollInterval <= 0 {
		return nil, errors.New("ASRQ_POLL_INTERVAL must be positive")
	}
	if cfg.ReadRetention <= 0 || cfg.AbandonedRetention <= 0 {
		return nil, errors.New("retention windows must be positive")
	}
	if cfg.ReadRetention > cfg.AbandonedRetention {
		return nil, errors.New("ASRQ_READ_RETENTION must not exceed ASRQ_ABANDONED_RETENTION")
	}
	if cfg.MaxUploadBytes <= 0 {
		return nil, errors.New("ASRQ_MAX_UPLOAD_MB must be positive")
	}

	return cfg, nil
}

// DBPath is the job database location inside the working directory.
func (c *Config) DBPath() string {
	return filepath.Join(c.WorkDir, "data.db")
}

// splitList parses a comma-separated env value, dropping empty entries.
func splitList(raw string) []string {
	var out []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, v)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", key, v)
	}
	return d, nil
}
