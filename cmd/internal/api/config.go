package api

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultMaxBodyBytes = int64(64 << 10)
	defaultSessionTTL   = 12 * time.Hour
)

// Config carries HTTP adapter limits and session policy.
type Config struct {
	// MaxBodyBytes bounds request bodies for all JSON endpoints.
	MaxBodyBytes int64

	// SessionTTL is the lifetime of tokens minted by /auth/login.
	SessionTTL time.Duration
}

// LoadConfigFromEnv loads Config from environment variables with defaults.
func LoadConfigFromEnv() Config {
	return Config{
		MaxBodyBytes: envInt64("QRPASS_API_MAX_BODY_BYTES", defaultMaxBodyBytes),
		SessionTTL:   envDuration("QRPASS_SESSION_TTL", defaultSessionTTL),
	}
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
