package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	ServerIdleTimeout  time.Duration
	RequestTimeout     time.Duration
	ShutdownTimeout    time.Duration

	DatabaseURL        string
	DBMaxConns         int
	DBMinConns         int
	DBStatementTimeout time.Duration

	JWTSecret    string
	CORSOrigins  []string
	RateLimitRPM int

	PermanentDeleteCode     string
	PermanentDeleteCodeHash string
	CaptchaVerifyURL        string
	CaptchaSecret           string
	CaptchaTimeout          time.Duration
	CaptchaThreshold        int
	GateRateLimitWindow     time.Duration
	GateRateLimitMax        int

	SweeperEnabled     bool
	SweeperInterval    time.Duration
	SweeperItemTimeout time.Duration
	SweeperConcurrency int

	PolicyFile     string
	LogLevel       string
	LogFormat      string
	MetricsEnabled bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort:         getEnv("SERVER_PORT", "8080"),
		ServerReadTimeout:  getDuration("SERVER_READ_TIMEOUT", 15*time.Second),
		ServerWriteTimeout: getDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
		ServerIdleTimeout:  getDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		RequestTimeout:     getDuration("REQUEST_TIMEOUT", 30*time.Second),
		ShutdownTimeout:    getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),

		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DBMaxConns:  getInt("DB_MAX_CONNS", 10),
		DBMinConns:  getInt("DB_MIN_CONNS", 2),

		DBStatementTimeout: getDuration("DB_STATEMENT_TIMEOUT", 15*time.Second),

		JWTSecret:    strings.TrimSpace(os.Getenv("JWT_SECRET")),
		CORSOrigins:  splitCSV(getEnv("CORS_ORIGINS", "*")),
		RateLimitRPM: getInt("RATE_LIMIT_RPM", 100),

		PermanentDeleteCode:     strings.TrimSpace(os.Getenv("PERMANENT_DELETE_CODE")),
		PermanentDeleteCodeHash: strings.TrimSpace(os.Getenv("PERMANENT_DELETE_CODE_HASH")),
		CaptchaVerifyURL:        strings.TrimSpace(os.Getenv("CAPTCHA_VERIFY_URL")),
		CaptchaSecret:           strings.TrimSpace(os.Getenv("CAPTCHA_SECRET")),
		CaptchaTimeout:          getDuration("CAPTCHA_TIMEOUT", 5*time.Second),
		CaptchaThreshold:        getInt("GATE_CAPTCHA_THRESHOLD", 2),
		GateRateLimitWindow:     getDuration("GATE_RATE_LIMIT_WINDOW", 10*time.Minute),
		GateRateLimitMax:        getInt("GATE_RATE_LIMIT_MAX", 5),

		SweeperEnabled:     getBool("SWEEPER_ENABLED", true),
		SweeperInterval:    getDuration("SWEEPER_INTERVAL", time.Hour),
		SweeperItemTimeout: getDuration("SWEEPER_ITEM_TIMEOUT", 30*time.Second),
		SweeperConcurrency: getInt("SWEEPER_CONCURRENCY", 4),

		PolicyFile:     strings.TrimSpace(os.Getenv("POLICY_FILE")),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "pretty"),
		MetricsEnabled: getBool("METRICS_ENABLED", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.ServerPort == "" {
		return fmt.Errorf("SERVER_PORT cannot be empty")
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}

	if c.PermanentDeleteCode == "" && c.PermanentDeleteCodeHash == "" {
		return fmt.Errorf("PERMANENT_DELETE_CODE or PERMANENT_DELETE_CODE_HASH is required")
	}

	if c.PermanentDeleteCode != "" && c.PermanentDeleteCodeHash != "" {
		return fmt.Errorf("set only one of PERMANENT_DELETE_CODE and PERMANENT_DELETE_CODE_HASH")
	}

	if c.CaptchaVerifyURL != "" && c.CaptchaSecret == "" {
		return fmt.Errorf("CAPTCHA_SECRET is required when CAPTCHA_VERIFY_URL is set")
	}

	if c.CaptchaTimeout <= 0 {
		return fmt.Errorf("CAPTCHA_TIMEOUT must be positive")
	}

	if c.CaptchaThreshold <= 0 {
		return fmt.Errorf("GATE_CAPTCHA_THRESHOLD must be positive")
	}

	if c.GateRateLimitWindow <= 0 || c.GateRateLimitMax <= 0 {
		return fmt.Errorf("GATE_RATE_LIMIT_WINDOW and GATE_RATE_LIMIT_MAX must be positive")
	}

	if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS must be between 0 and DB_MAX_CONNS")
	}

	if c.SweeperInterval <= 0 || c.SweeperItemTimeout <= 0 {
		return fmt.Errorf("SWEEPER_INTERVAL and SWEEPER_ITEM_TIMEOUT must be positive")
	}

	if c.SweeperConcurrency <= 0 {
		return fmt.Errorf("SWEEPER_CONCURRENCY must be positive")
	}

	switch strings.ToLower(c.LogFormat) {
	case "pretty", "json", "text":
	default:
		return fmt.Errorf("LOG_FORMAT must be one of: pretty|json|text")
	}

	return nil
}

// UsesDatabase reports whether the Postgres stores are configured.
func (c *Config) UsesDatabase() bool {
	return c.DatabaseURL != ""
}

func getEnv(key string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}

	return v
}

func getInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}

	return v
}

func getBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}

	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return v
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}

	return out
}
