package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	httpadapter "github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/adapters/http"
	"gopkg.in/yaml.v3"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"

	AccountStatePostgres = "postgres"
	AccountStateRedis    = "redis"
)

// Config is the resolved runtime configuration for M08.
type Config struct {
	ServiceID string

	HTTPPort int
	GRPCPort int

	StorageDriver       string
	AccountStateBackend string

	DatabaseURL string
	RedisURL    string
	MaxDBConns  int32

	IdentityTable  string
	IdentityColumn string
	// StaticIdentities seeds the memory identity directory. An empty list accepts any identity.
	StaticIdentities []uuid.UUID

	KafkaBrokers []string
	KafkaTopic   string

	LockoutThreshold  int
	LockoutDuration   time.Duration
	FreezeWhileLocked bool
	IPWindow          time.Duration
	IPLimit           int
	ResetTokenTTL     time.Duration
	TokenHashKey      string
	OperationTimeout  time.Duration
	QueryDefaultSize  int
	QueryMaxSize      int

	ServiceToken     string
	TrustedProxies   []string
	APIRateLimit     float64
	APIRateBurst     int
	MetricsEnabled   bool
	OutboxPollPeriod time.Duration
	OutboxBatchSize  int
	OutboxClaimTTL   time.Duration
	OutboxMaxRetries int
}

// configFile mirrors configs/default.yaml.
type configFile struct {
	Service struct {
		ID       string `yaml:"id"`
		HTTPPort int    `yaml:"http_port"`
		GRPCPort int    `yaml:"grpc_port"`
	} `yaml:"service"`
	Storage struct {
		Driver       string `yaml:"driver"`
		AccountState string `yaml:"account_state"`
	} `yaml:"storage"`
	Dependencies struct {
		PostgresURL  string   `yaml:"postgres_url"`
		RedisURL     string   `yaml:"redis_url"`
		KafkaBrokers []string `yaml:"kafka_brokers"`
		KafkaTopic   string   `yaml:"kafka_topic"`
	} `yaml:"dependencies"`
	Identities struct {
		Table  string   `yaml:"table"`
		Column string   `yaml:"column"`
		Static []string `yaml:"static"`
	} `yaml:"identities"`
	Security struct {
		LockoutThreshold         int   `yaml:"lockout_threshold"`
		LockoutMinutes           int   `yaml:"lockout_minutes"`
		FreezeCounterWhileLocked *bool `yaml:"freeze_counter_while_locked"`
		IPWindowSeconds          int   `yaml:"ip_window_seconds"`
		IPLimit                  int   `yaml:"ip_limit"`
		ResetTokenTTLMinutes     int   `yaml:"reset_token_ttl_minutes"`
		OperationTimeoutMillis   int   `yaml:"operation_timeout_ms"`
	} `yaml:"security"`
	API struct {
		RateLimit      float64  `yaml:"rate_limit"`
		RateBurst      int      `yaml:"rate_burst"`
		Metrics        *bool    `yaml:"metrics"`
		TrustedProxies []string `yaml:"trusted_proxies"`
	} `yaml:"api"`
	Outbox struct {
		PollSeconds     int `yaml:"poll_seconds"`
		BatchSize       int `yaml:"batch_size"`
		ClaimTTLSeconds int `yaml:"claim_ttl_seconds"`
		MaxRetries      int `yaml:"max_retries"`
	} `yaml:"outbox"`
}

func defaultConfig() Config {
	return Config{
		ServiceID:           "M08-Auth-Security-Core",
		HTTPPort:            8080,
		GRPCPort:            9090,
		StorageDriver:       StorageMemory,
		AccountStateBackend: AccountStatePostgres,
		MaxDBConns:          20,
		IdentityTable:       "users",
		IdentityColumn:      "user_id",
		KafkaTopic:          "auth.security.events",
		LockoutThreshold:    5,
		LockoutDuration:     30 * time.Minute,
		FreezeWhileLocked:   true,
		IPWindow:            time.Minute,
		IPLimit:             10,
		ResetTokenTTL:       time.Hour,
		OperationTimeout:    3 * time.Second,
		QueryDefaultSize:    100,
		QueryMaxSize:        500,
		APIRateLimit:        50,
		APIRateBurst:        100,
		MetricsEnabled:      true,
		OutboxPollPeriod:    2 * time.Second,
		OutboxBatchSize:     100,
		OutboxClaimTTL:      30 * time.Second,
		OutboxMaxRetries:    5,
	}
}

// LoadConfig resolves configuration in priority order: defaults -> file -> .env -> env.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := applyFile(&cfg, raw); err != nil {
			return Config{}, err
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	// .env never overrides variables already set in the process environment.
	_ = godotenv.Load(envOrDefault("AUTH_SECURITY_ENV_FILE", ".env"))

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, raw []byte) error {
	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	if f.Service.ID != "" {
		cfg.ServiceID = f.Service.ID
	}
	if f.Service.HTTPPort > 0 {
		cfg.HTTPPort = f.Service.HTTPPort
	}
	if f.Service.GRPCPort > 0 {
		cfg.GRPCPort = f.Service.GRPCPort
	}
	if f.Storage.Driver != "" {
		cfg.StorageDriver = f.Storage.Driver
	}
	if f.Storage.AccountState != "" {
		cfg.AccountStateBackend = f.Storage.AccountState
	}
	if f.Dependencies.PostgresURL != "" {
		cfg.DatabaseURL = f.Dependencies.PostgresURL
	}
	if f.Dependencies.RedisURL != "" {
		cfg.RedisURL = f.Dependencies.RedisURL
	}
	if len(f.Dependencies.KafkaBrokers) > 0 {
		cfg.KafkaBrokers = f.Dependencies.KafkaBrokers
	}
	if f.Dependencies.KafkaTopic != "" {
		cfg.KafkaTopic = f.Dependencies.KafkaTopic
	}
	if f.Identities.Table != "" {
		cfg.IdentityTable = f.Identities.Table
	}
	if f.Identities.Column != "" {
		cfg.IdentityColumn = f.Identities.Column
	}
	if len(f.Identities.Static) > 0 {
		ids, err := parseIdentities(f.Identities.Static)
		if err != nil {
			return err
		}
		cfg.StaticIdentities = ids
	}
	if f.Security.LockoutThreshold > 0 {
		cfg.LockoutThreshold = f.Security.LockoutThreshold
	}
	if f.Security.LockoutMinutes > 0 {
		cfg.LockoutDuration = time.Duration(f.Security.LockoutMinutes) * time.Minute
	}
	if f.Security.FreezeCounterWhileLocked != nil {
		cfg.FreezeWhileLocked = *f.Security.FreezeCounterWhileLocked
	}
	if f.Security.IPWindowSeconds > 0 {
		cfg.IPWindow = time.Duration(f.Security.IPWindowSeconds) * time.Second
	}
	if f.Security.IPLimit > 0 {
		cfg.IPLimit = f.Security.IPLimit
	}
	if f.Security.ResetTokenTTLMinutes > 0 {
		cfg.ResetTokenTTL = time.Duration(f.Security.ResetTokenTTLMinutes) * time.Minute
	}
	if f.Security.OperationTimeoutMillis > 0 {
		cfg.OperationTimeout = time.Duration(f.Security.OperationTimeoutMillis) * time.Millisecond
	}
	if f.API.RateLimit > 0 {
		cfg.APIRateLimit = f.API.RateLimit
	}
	if f.API.RateBurst > 0 {
		cfg.APIRateBurst = f.API.RateBurst
	}
	if f.API.Metrics != nil {
		cfg.MetricsEnabled = *f.API.Metrics
	}
	if len(f.API.TrustedProxies) > 0 {
		cfg.TrustedProxies = f.API.TrustedProxies
	}
	if f.Outbox.PollSeconds > 0 {
		cfg.OutboxPollPeriod = time.Duration(f.Outbox.PollSeconds) * time.Second
	}
	if f.Outbox.BatchSize > 0 {
		cfg.OutboxBatchSize = f.Outbox.BatchSize
	}
	if f.Outbox.ClaimTTLSeconds > 0 {
		cfg.OutboxClaimTTL = time.Duration(f.Outbox.ClaimTTLSeconds) * time.Second
	}
	if f.Outbox.MaxRetries > 0 {
		cfg.OutboxMaxRetries = f.Outbox.MaxRetries
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.ServiceID = envOrDefault("SERVICE_ID", cfg.ServiceID)
	cfg.HTTPPort = envInt("HTTP_PORT", cfg.HTTPPort)
	cfg.GRPCPort = envInt("GRPC_PORT", cfg.GRPCPort)

	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(envOrDefault("STORAGE_DRIVER", cfg.StorageDriver)))
	cfg.AccountStateBackend = strings.ToLower(strings.TrimSpace(envOrDefault("ACCOUNT_STATE_BACKEND", cfg.AccountStateBackend)))
	cfg.DatabaseURL = envOrDefault("DB_URL", envOrDefault("POSTGRES_URL", cfg.DatabaseURL))
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.MaxDBConns = int32(envInt("DB_MAX_CONNS", int(cfg.MaxDBConns)))
	cfg.IdentityTable = envOrDefault("IDENTITY_TABLE", cfg.IdentityTable)
	cfg.IdentityColumn = envOrDefault("IDENTITY_COLUMN", cfg.IdentityColumn)
	if raw := envCSV("STATIC_IDENTITIES", nil); len(raw) > 0 {
		ids, err := parseIdentities(raw)
		if err != nil {
			return err
		}
		cfg.StaticIdentities = ids
	}

	cfg.KafkaBrokers = envCSV("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.KafkaTopic = envOrDefault("KAFKA_TOPIC", cfg.KafkaTopic)

	cfg.LockoutThreshold = envInt("FAILED_LOGIN_THRESHOLD", cfg.LockoutThreshold)
	cfg.LockoutDuration = time.Duration(envInt("ACCOUNT_LOCKOUT_MINUTES", int(cfg.LockoutDuration.Minutes()))) * time.Minute
	cfg.FreezeWhileLocked = envBool("FREEZE_COUNTER_WHILE_LOCKED", cfg.FreezeWhileLocked)
	cfg.IPWindow = time.Duration(envInt("IP_WINDOW_SECONDS", int(cfg.IPWindow.Seconds()))) * time.Second
	cfg.IPLimit = envInt("IP_ATTEMPT_LIMIT", cfg.IPLimit)
	cfg.ResetTokenTTL = time.Duration(envInt("RESET_TOKEN_TTL_MINUTES", int(cfg.ResetTokenTTL.Minutes()))) * time.Minute
	cfg.TokenHashKey = envOrDefault("RESET_TOKEN_HASH_KEY", cfg.TokenHashKey)
	cfg.OperationTimeout = time.Duration(envInt("OPERATION_TIMEOUT_MS", int(cfg.OperationTimeout.Milliseconds()))) * time.Millisecond

	cfg.ServiceToken = envOrDefault("SERVICE_TOKEN", cfg.ServiceToken)
	cfg.APIRateLimit = envFloat("API_RATE_LIMIT", cfg.APIRateLimit)
	cfg.APIRateBurst = envInt("API_RATE_BURST", cfg.APIRateBurst)
	cfg.TrustedProxies = envCSV("TRUSTED_PROXIES", cfg.TrustedProxies)
	cfg.MetricsEnabled = envBool("METRICS_ENABLED", cfg.MetricsEnabled)

	cfg.OutboxPollPeriod = time.Duration(envInt("OUTBOX_POLL_SECONDS", int(cfg.OutboxPollPeriod.Seconds()))) * time.Second
	cfg.OutboxBatchSize = envInt("OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize)
	cfg.OutboxClaimTTL = time.Duration(envInt("OUTBOX_CLAIM_TTL_SECONDS", int(cfg.OutboxClaimTTL.Seconds()))) * time.Second
	cfg.OutboxMaxRetries = envInt("OUTBOX_MAX_RETRIES", cfg.OutboxMaxRetries)
	return nil
}

func (c Config) validate() error {
	switch c.StorageDriver {
	case StorageMemory:
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("storage driver postgres requires DB_URL/POSTGRES_URL")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.StorageDriver)
	}
	switch c.AccountStateBackend {
	case AccountStatePostgres, AccountStateRedis:
	default:
		return fmt.Errorf("unknown account state backend %q", c.AccountStateBackend)
	}
	if c.AccountStateBackend == AccountStateRedis && c.RedisURL == "" {
		return fmt.Errorf("account state backend redis requires REDIS_URL")
	}
	if c.LockoutThreshold <= 0 || c.IPLimit <= 0 {
		return fmt.Errorf("lockout threshold and ip limit must be positive")
	}
	if c.LockoutDuration <= 0 || c.IPWindow <= 0 || c.ResetTokenTTL <= 0 {
		return fmt.Errorf("lockout duration, ip window and reset ttl must be positive")
	}
	if c.StorageDriver == StoragePostgres && c.TokenHashKey == "" {
		return fmt.Errorf("storage driver postgres requires RESET_TOKEN_HASH_KEY")
	}
	if c.TokenHashKey != "" && len(c.TokenHashKey) < 16 {
		return fmt.Errorf("RESET_TOKEN_HASH_KEY must be at least 16 bytes")
	}
	if _, err := httpadapter.ParseTrustedProxies(c.TrustedProxies); err != nil {
		return fmt.Errorf("TRUSTED_PROXIES: %w", err)
	}
	return nil
}

func parseIdentities(raw []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("parse static identity %q: %w", s, err)
		}
		out = append(out, id)
	}
	return out, nil
}

func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

// envInt parses integer env vars with fallback on empty/invalid values.
func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envFloat(name string, fallback float64) float64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return v
}

func envBool(name string, fallback bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return fallback
	}
}

// envCSV parses comma-separated env vars and removes empty segments.
func envCSV(name string, fallback []string) []string {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		parts = append(parts, trimmed)
	}
	if len(parts) == 0 {
		return fallback
	}
	return parts
}
