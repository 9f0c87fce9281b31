package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // ACCESS_TIMEZONE must resolve on hosts without zoneinfo
)

// Config captures environment driven configuration values for the access control service.
type Config struct {
	HTTPPort             int
	Store                string
	SQLiteDSN            string
	SessionTTL           time.Duration
	SessionSweepInterval time.Duration
	AuthPolicy           string
	Location             *time.Location
	PayloadEncoding      string
	DispatchWorkers      int
	DispatchQueue        int
	GatewayTimeout       time.Duration
	GatewayMaxRetries    int
	TelegramDedupSize    int
	TelegramDedupTTL     time.Duration
	LogLevel             string
	LogFormat            string
	SeedFile             string
}

const DefaultSQLiteDSN = "file:access.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

// Default returns the configuration used when no variables are set.
func Default() Config {
	return Config{
		HTTPPort:             8080,
		Store:                "sqlite",
		SQLiteDSN:            DefaultSQLiteDSN,
		SessionTTL:           30 * time.Minute,
		SessionSweepInterval: time.Minute,
		AuthPolicy:           "argon2",
		Location:             time.UTC,
		PayloadEncoding:      "json",
		DispatchWorkers:      2,
		DispatchQueue:        256,
		GatewayTimeout:       30 * time.Second,
		GatewayMaxRetries:    3,
		TelegramDedupSize:    4096,
		TelegramDedupTTL:     10 * time.Minute,
		LogLevel:             "info",
		LogFormat:            "json",
	}
}

// Load parses configuration values from the current process environment.
func Load() (Config, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom parses configuration through getenv. Every invalid key is
// reported in a single error.
func LoadFrom(getenv func(string) string) (Config, error) {
	cfg := Default()
	p := parser{getenv: getenv}

	p.positiveInt("ACCESS_HTTP_PORT", &cfg.HTTPPort)
	p.oneOf("ACCESS_STORE", &cfg.Store, "sqlite", "memory")
	p.str("ACCESS_SQLITE_DSN", &cfg.SQLiteDSN)
	p.duration("ACCESS_SESSION_TTL", &cfg.SessionTTL)
	p.duration("ACCESS_SESSION_SWEEP_INTERVAL", &cfg.SessionSweepInterval)
	p.oneOf("ACCESS_AUTH_POLICY", &cfg.AuthPolicy, "argon2", "prototype")
	p.location("ACCESS_TIMEZONE", &cfg.Location)
	p.oneOf("ACCESS_PAYLOAD_ENCODING", &cfg.PayloadEncoding, "json", "cbor")
	p.positiveInt("ACCESS_DISPATCH_WORKERS", &cfg.DispatchWorkers)
	p.positiveInt("ACCESS_DISPATCH_QUEUE", &cfg.DispatchQueue)
	p.duration("ACCESS_GATEWAY_TIMEOUT", &cfg.GatewayTimeout)
	p.nonNegativeInt("ACCESS_GATEWAY_MAX_RETRIES", &cfg.GatewayMaxRetries)
	p.positiveInt("ACCESS_TELEGRAM_DEDUP_SIZE", &cfg.TelegramDedupSize)
	p.duration("ACCESS_TELEGRAM_DEDUP_TTL", &cfg.TelegramDedupTTL)
	p.oneOf("ACCESS_LOG_LEVEL", &cfg.LogLevel, "debug", "info", "warn", "error")
	p.oneOf("ACCESS_LOG_FORMAT", &cfg.LogFormat, "json", "text")
	p.str("ACCESS_SEED_FILE", &cfg.SeedFile)

	if len(p.invalid) > 0 {
		return Config{}, fmt.Errorf("invalid environment variables: %s", strings.Join(p.invalid, ", "))
	}
	return cfg, nil
}

type parser struct {
	getenv  func(string) string
	invalid []string
}

func (p *parser) value(key string) string {
	return strings.TrimSpace(p.getenv(key))
}

func (p *parser) str(key string, dst *string) {
	if v := p.value(key); v != "" {
		*dst = v
	}
}

func (p *parser) oneOf(key string, dst *string, allowed ...string) {
	v := strings.ToLower(p.value(key))
	if v == "" {
		return
	}
	for _, a := range allowed {
		if v == a {
			*dst = v
			return
		}
	}
	p.invalid = append(p.invalid, key)
}

func (p *parser) positiveInt(key string, dst *int) {
	p.integer(key, dst, 1)
}

func (p *parser) nonNegativeInt(key string, dst *int) {
	p.integer(key, dst, 0)
}

func (p *parser) integer(key string, dst *int, min int) {
	v := p.value(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < min {
		p.invalid = append(p.invalid, key)
		return
	}
	*dst = n
}

func (p *parser) duration(key string, dst *time.Duration) {
	v := p.value(key)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		p.invalid = append(p.invalid, key)
		return
	}
	*dst = d
}

func (p *parser) location(key string, dst **time.Location) {
	v := p.value(key)
	if v == "" {
		return
	}
	loc, err := time.LoadLocation(v)
	if err != nil {
		p.invalid = append(p.invalid, key)
		return
	}
	*dst = loc
}
