package config

import (
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Storage drivers supported by the API server.
const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

// Config represents the identity & ledger API server configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Storage       StorageConfig       `yaml:"storage"`
	Auth          AuthConfig          `yaml:"auth"`
	MagicLink     MagicLinkConfig     `yaml:"magic_link"`
	Ledger        LedgerConfig        `yaml:"ledger"`
	Founder       FounderConfig       `yaml:"founder"`
	KeyManagement KeyManagementConfig `yaml:"key_management"`
	Reconcile     ReconcileConfig     `yaml:"reconciliation"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host            string        `yaml:"host" default:"0.0.0.0"`
	Port            int           `yaml:"port" default:"8080" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"30s"`
	RequestTimeout  time.Duration `yaml:"request_timeout" default:"60s"`
	// CookieSecure marks the refresh cookie Secure. Disable only for local http.
	CookieSecure bool `yaml:"cookie_secure" default:"true"`
}

// DatabaseConfig contains database connection settings
type DatabaseConfig struct {
	Host     string `yaml:"host" default:"localhost"`
	Port     int    `yaml:"port" default:"5432"`
	User     string `yaml:"user" default:"mobius"`
	Password string `yaml:"password"`
	Database string `yaml:"database" default:"mobius"`
	SSLMode  string `yaml:"ssl_mode" default:"disable" validate:"oneof=disable require verify-full"`
	MaxConns int    `yaml:"max_conns" default:"10" validate:"gte=0"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver string `yaml:"driver" default:"postgres" validate:"oneof=postgres memory"`
}

// AuthConfig holds token signing and session settings.
// Secrets are never read from the file, only from the named environment variables.
type AuthConfig struct {
	JWTSecretEnv        string         `yaml:"jwt_secret_env" default:"MOBIUS_JWT_SECRET" validate:"required"`
	RefreshSecretEnv    string         `yaml:"refresh_secret_env" default:"MOBIUS_REFRESH_SECRET"`
	Issuer              string         `yaml:"issuer" default:"mobius-identity" validate:"required"`
	Audience            string         `yaml:"audience" default:"mobius-browser-shell" validate:"required"`
	AccessTokenTTL      time.Duration  `yaml:"access_token_ttl" default:"15m" validate:"gt=0"`
	RefreshTokenTTL     time.Duration  `yaml:"refresh_token_ttl" default:"168h" validate:"gtfield=AccessTokenTTL"`
	SessionCheckEnabled bool           `yaml:"session_check_enabled" default:"true"`
	Password            PasswordConfig `yaml:"password"`
}

// PasswordConfig holds the argon2id cost parameters for new password hashes.
// Existing hashes keep the parameters they were created with.
type PasswordConfig struct {
	MemoryKiB   uint32 `yaml:"memory_kib" default:"65536" validate:"gte=8192"`
	Iterations  uint32 `yaml:"iterations" default:"3" validate:"gte=1"`
	Parallelism uint8  `yaml:"parallelism" default:"2" validate:"gte=1"`
}

// MagicLinkConfig holds passwordless link settings
type MagicLinkConfig struct {
	TTL     time.Duration `yaml:"ttl" default:"15m" validate:"gt=0"`
	BaseURL string        `yaml:"base_url" default:"http://localhost:3000/auth/magic" validate:"required,url"`
}

// GIIThresholds are the Global Integrity Index bands that scale MIC minting.
type GIIThresholds struct {
	Healthy  float64 `yaml:"healthy" default:"0.90" validate:"gtfield=Warning,lte=1"`
	Warning  float64 `yaml:"warning" default:"0.75" validate:"gtfield=Critical"`
	Critical float64 `yaml:"critical" default:"0.60" validate:"gtfield=Halt"`
	Halt     float64 `yaml:"halt" default:"0.50" validate:"gte=0"`
}

// LedgerConfig contains MIC ledger and minting settings
type LedgerConfig struct {
	// GII is the current Global Integrity Index fed to the minting circuit breaker.
	GII           float64            `yaml:"gii" default:"0.95" validate:"gte=0,lte=1"`
	Thresholds    GIIThresholds      `yaml:"thresholds"`
	DefaultReward float64            `yaml:"default_reward" default:"5" validate:"gte=0"`
	SourceRewards map[string]float64 `yaml:"source_rewards"`
}

// FounderConfig contains genesis ceremony settings
type FounderConfig struct {
	InitialBalance string `yaml:"initial_balance" default:"1000000" validate:"required,numeric"`
}

// KeyManagementConfig names the environment variable holding the custodial master key
type KeyManagementConfig struct {
	MasterKeyEnv string `yaml:"master_key_env" default:"MOBIUS_MASTER_KEY" validate:"required"`
}

// ReconcileConfig schedules the cached-balance reconciliation. Zero disables a phase.
type ReconcileConfig struct {
	InitialTimeout time.Duration `yaml:"initial_timeout" default:"30s" validate:"gte=0"`
	Interval       time.Duration `yaml:"interval" default:"10m" validate:"gte=0"`
}

// MetricsConfig toggles the prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Path    string `yaml:"path" default:"/metrics"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format     string `yaml:"format" default:"json" validate:"oneof=json console"`
	OutputPath string `yaml:"output_path" default:"stdout"`
}

// GetConnectionString returns a postgres DSN for tooling that expects one
func (c *DatabaseConfig) GetConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// Load reads configuration from a YAML file, applies defaults and validates the result
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse applies defaults, overlays the YAML document and validates the result.
// An empty document yields the default configuration.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}
