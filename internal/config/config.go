package config

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port     string
	DBConn   string
	LogLevel string

	// RepoBackend selects the store: "pg" (default) or "mem".
	// The in-memory store is refused unless AllowMemBackend is set.
	RepoBackend     string
	AllowMemBackend bool
	Migrate         bool

	CORSOrigin   string
	CookieSecure bool
	JWTSecret    string

	// TrustedProxies are the peers whose X-Forwarded-For header is believed
	TrustedProxies []netip.Prefix

	SessionTTL         time.Duration
	LockoutMaxAttempts int
	LockoutWindow      time.Duration

	RedisAddr           string
	RedisPassword       string
	LoginThrottleMax    int
	LoginThrottleWindow time.Duration

	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SenderEmail  string

	SessionPurgeSchedule string
	SessionRetention     time.Duration
}

// NewConfig loads configuration from environment variables.
// A .env file in the working directory is applied first when present.
func NewConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		DBConn:               getEnv("DB_CONN", "host=localhost port=5436 user=test password=test dbname=atm sslmode=disable"),
		LogLevel:             getEnv("LOG_LEVEL", "INFO"),
		RepoBackend:          getEnv("REPO_BACKEND", "pg"),
		CORSOrigin:           getEnv("CORS_ORIGIN", "http://localhost:3000"),
		JWTSecret:            getEnv("JWT_SECRET", "secret"),
		RedisAddr:            getEnv("REDIS_ADDR", ""),
		RedisPassword:        getEnv("REDIS_PASSWORD", ""),
		SMTPHost:             getEnv("SMTP_HOST", ""),
		SMTPPort:             getEnv("SMTP_PORT", "587"),
		SMTPUsername:         getEnv("SMTP_USERNAME", ""),
		SMTPPassword:         getEnv("SMTP_PASSWORD", ""),
		SenderEmail:          getEnv("SENDER_EMAIL", "no-reply@atm.local"),
		SessionPurgeSchedule: getEnv("SESSION_PURGE_SCHEDULE", "@every 1h"),
	}

	var err error
	if cfg.AllowMemBackend, err = getBool("ALLOW_MEM_BACKEND", false); err != nil {
		return nil, err
	}
	if cfg.Migrate, err = getBool("MIGRATE", false); err != nil {
		return nil, err
	}
	if cfg.CookieSecure, err = getBool("COOKIE_SECURE", false); err != nil {
		return nil, err
	}

	if cfg.TrustedProxies, err = getPrefixes("TRUSTED_PROXIES"); err != nil {
		return nil, err
	}

	ttlMin, err := getInt("SESSION_TTL_MIN", 15)
	if err != nil {
		return nil, err
	}
	cfg.SessionTTL = time.Duration(ttlMin) * time.Minute

	if cfg.LockoutMaxAttempts, err = getInt("LOCKOUT_MAX_ATTEMPTS", 5); err != nil {
		return nil, err
	}
	windowSec, err := getInt("LOCKOUT_WINDOW_SEC", 900)
	if err != nil {
		return nil, err
	}
	cfg.LockoutWindow = time.Duration(windowSec) * time.Second

	if cfg.LoginThrottleMax, err = getInt("LOGIN_THROTTLE_MAX", 20); err != nil {
		return nil, err
	}
	throttleSec, err := getInt("LOGIN_THROTTLE_WINDOW_SEC", 60)
	if err != nil {
		return nil, err
	}
	cfg.LoginThrottleWindow = time.Duration(throttleSec) * time.Second

	retentionHours, err := getInt("SESSION_RETENTION_HOURS", 24)
	if err != nil {
		return nil, err
	}
	cfg.SessionRetention = time.Duration(retentionHours) * time.Hour

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that required values are present and sane.
func (c *Config) Validate() error {
	switch c.RepoBackend {
	case "pg":
		if c.DBConn == "" {
			return fmt.Errorf("DB_CONN is required")
		}
	case "mem":
		if !c.AllowMemBackend {
			return fmt.Errorf("mem backend is disabled; set ALLOW_MEM_BACKEND=true for local runs only")
		}
	default:
		return fmt.Errorf("unsupported REPO_BACKEND=%s", c.RepoBackend)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL_MIN must be positive")
	}
	if c.LockoutMaxAttempts <= 0 {
		return fmt.Errorf("LOCKOUT_MAX_ATTEMPTS must be positive")
	}
	if c.LockoutWindow <= 0 {
		return fmt.Errorf("LOCKOUT_WINDOW_SEC must be positive")
	}
	return nil
}

// SMTPEnabled reports whether outbound notifications are configured.
func (c *Config) SMTPEnabled() bool {
	return c.SMTPHost != ""
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getInt(key string, defaultVal int) (int, error) {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return defaultVal, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return v, nil
}

func getBool(key string, defaultVal bool) (bool, error) {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return defaultVal, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean: %w", key, err)
	}
	return v, nil
}

// getPrefixes parses a comma-separated list of IPs and CIDR ranges
func getPrefixes(key string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, item := range strings.Split(os.Getenv(key), ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if strings.Contains(item, "/") {
			p, err := netip.ParsePrefix(item)
			if err != nil {
				return nil, fmt.Errorf("%s: invalid CIDR %q: %w", key, item, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(item)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid IP %q: %w", key, item, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}
