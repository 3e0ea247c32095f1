package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds service configuration.
type Config struct {
	DatabaseURL       string
	ServerAddr        string
	MigrationsDir     string
	SignatureMode     string
	MaxParticipants   int
	MinDeadlineWindow time.Duration
	SupervisorEvery   time.Duration
	SupervisorBatch   int
	// APITokens maps token names to bcrypt hashes; empty disables auth.
	APITokens map[string]string
	// ArbitrationURL is the external arbitration endpoint for dispute
	// escalation; empty falls back to the logging escalator.
	ArbitrationURL     string
	ArbitrationTimeout time.Duration
}

// Load reads configuration from environment.
func Load() (*Config, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		user := getenv("POSTGRES_USER", "accord_hub")
		pass := getenv("POSTGRES_PASSWORD", "accord_hub_pass")
		db := getenv("POSTGRES_DB", "accord_hub")
		host := getenv("POSTGRES_HOST", "localhost")
		port := getenv("POSTGRES_PORT", "5432")
		sslmode := getenv("DATABASE_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, sslmode)
	}

	tokens, err := parseTokens(os.Getenv("API_TOKENS"))
	if err != nil {
		return nil, err
	}

	return &Config{
		DatabaseURL:        dsn,
		ServerAddr:         getenv("SERVER_ADDR", "0.0.0.0:8080"),
		MigrationsDir:      getenv("MIGRATIONS_DIR", "internal/migrations"),
		SignatureMode:      getenv("SIGNATURE_MODE", "off"),
		MaxParticipants:    parseInt(getenv("MAX_PARTICIPANTS", "32"), 32),
		MinDeadlineWindow:  parseDuration(getenv("MIN_DEADLINE_WINDOW", "1m"), time.Minute),
		SupervisorEvery:    parseDuration(getenv("SUPERVISOR_INTERVAL", "30s"), 30*time.Second),
		SupervisorBatch:    parseInt(getenv("SUPERVISOR_BATCH", "100"), 100),
		APITokens:          tokens,
		ArbitrationURL:     os.Getenv("ARBITRATION_URL"),
		ArbitrationTimeout: parseDuration(getenv("ARBITRATION_TIMEOUT", "10s"), 10*time.Second),
	}, nil
}

// parseTokens reads "name:bcryptHash,name2:bcryptHash2". Bcrypt hashes
// contain no commas or colons beyond the $-delimited prefix, so the simple
// split is safe.
func parseTokens(raw string) (map[string]string, error) {
	tokens := make(map[string]string)
	if raw == "" {
		return tokens, nil
	}
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		parts := strings.SplitN(p, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid API_TOKENS entry %q", p)
		}
		tokens[parts[0]] = parts[1]
	}
	return tokens, nil
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func parseDuration(val string, def time.Duration) time.Duration {
	if val == "" {
		return def
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return def
	}
	return d
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return n
}
