package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"freelancedao/logging"
)

// EnvPrefix namespaces environment overrides, e.g. FREELANCEDAO_DATABASE_URL.
const EnvPrefix = "FREELANCEDAO"

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config represents the complete service configuration.
type Config struct {
	Store       string            `mapstructure:"store"`
	Database    DatabaseConfig    `mapstructure:"database"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Authorities AuthoritiesConfig `mapstructure:"authorities"`
	Governance  GovernanceConfig  `mapstructure:"governance"`
	Outbox      OutboxConfig      `mapstructure:"outbox"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type AuthConfig struct {
	// JWTSecret signs API bearer tokens.
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// AuthoritiesConfig holds the accounts allowed to drive privileged transitions.
// Each can be rotated at runtime only by the owner account.
type AuthoritiesConfig struct {
	Owner       string `mapstructure:"owner"`
	Coordinator string `mapstructure:"coordinator"`
	Governance  string `mapstructure:"governance"`
}

type GovernanceConfig struct {
	// QuorumPercent is the share of total voting supply that must participate.
	QuorumPercent int64         `mapstructure:"quorum_percent"`
	VotingPeriod  time.Duration `mapstructure:"voting_period"`
}

type OutboxConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		Store: StorePostgres,
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
		Authorities: AuthoritiesConfig{
			Owner:       "0x0000000000000000000000000000000000000001",
			Coordinator: "0x0000000000000000000000000000000000000002",
			Governance:  "0x0000000000000000000000000000000000000003",
		},
		Governance: GovernanceConfig{
			QuorumPercent: 50,
			VotingPeriod:  72 * time.Hour,
		},
		Outbox: OutboxConfig{
			PollInterval: time.Second,
			BatchSize:    50,
		},
		Logging: LoggingConfig{
			Level: logging.LevelInfo,
		},
	}
}

// SetDefaults registers every default on v so env overrides resolve even
// without a config file.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("store", d.Store)
	v.SetDefault("database.url", d.Database.URL)
	v.SetDefault("http.addr", d.HTTP.Addr)
	v.SetDefault("http.shutdown_timeout", d.HTTP.ShutdownTimeout)
	v.SetDefault("auth.jwt_secret", d.Auth.JWTSecret)
	v.SetDefault("auth.token_ttl", d.Auth.TokenTTL)
	v.SetDefault("authorities.owner", d.Authorities.Owner)
	v.SetDefault("authorities.coordinator", d.Authorities.Coordinator)
	v.SetDefault("authorities.governance", d.Authorities.Governance)
	v.SetDefault("governance.quorum_percent", d.Governance.QuorumPercent)
	v.SetDefault("governance.voting_period", d.Governance.VotingPeriod)
	v.SetDefault("outbox.poll_interval", d.Outbox.PollInterval)
	v.SetDefault("outbox.batch_size", d.Outbox.BatchSize)
	v.SetDefault("logging.level", d.Logging.Level)
}

// Load reads configuration from the optional file at path and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store {
	case StorePostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("config: database.url required for postgres store"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("config: unknown store %q", c.Store))
	}
	if c.Governance.QuorumPercent <= 0 || c.Governance.QuorumPercent > 100 {
		errs = append(errs, fmt.Errorf("config: governance.quorum_percent must be in 1..100, got %d", c.Governance.QuorumPercent))
	}
	if c.Governance.VotingPeriod <= 0 {
		errs = append(errs, errors.New("config: governance.voting_period must be positive"))
	}
	if c.Outbox.BatchSize <= 0 {
		errs = append(errs, errors.New("config: outbox.batch_size must be positive"))
	}
	if !logging.ValidLevel(c.Logging.Level) {
		errs = append(errs, fmt.Errorf("config: invalid logging.level %q", c.Logging.Level))
	}
	a := c.Authorities
	if a.Owner == "" || a.Coordinator == "" || a.Governance == "" {
		errs = append(errs, errors.New("config: authorities.owner, coordinator and governance are required"))
	}
	return errors.Join(errs...)
}
