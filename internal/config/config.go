package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	SequenceBackendDatabase = "database"
	SequenceBackendRedis    = "redis"

	FeatureAuto = "auto"
	FeatureOn   = "on"
	FeatureOff  = "off"
)

type Config struct {
	Port           string   `mapstructure:"PORT"`
	Env            string   `mapstructure:"ENV"`
	DatabaseURL    string   `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32    `mapstructure:"DB_MIN_CONNS"`
	DefaultTenant  string   `mapstructure:"DEFAULT_TENANT"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`
	AuthSigningKey string   `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer     string   `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string   `mapstructure:"AUTH_AUDIENCE"`
	RedisURL       string   `mapstructure:"REDIS_URL"`
	AMQPURL        string   `mapstructure:"AMQP_URL"`
	AMQPExchange   string   `mapstructure:"AMQP_EXCHANGE"`

	ScheduleCacheSize int `mapstructure:"SCHEDULE_CACHE_SIZE"`
	// IANA zone schedule clock times are read in. Empty means the host zone.
	HospitalTimezone string `mapstructure:"HOSPITAL_TIMEZONE"`

	// Token numbering at reception desks.
	TokenDailyReset      bool   `mapstructure:"TOKEN_DAILY_RESET"`
	TokenPrefixTemplate  string `mapstructure:"TOKEN_PREFIX_TEMPLATE"`
	TokenSequenceBackend string `mapstructure:"TOKEN_SEQUENCE_BACKEND"`

	FeatureEmergency string `mapstructure:"FEATURE_EMERGENCY"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DEFAULT_TENANT",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE",
	"REDIS_URL", "AMQP_URL", "AMQP_EXCHANGE", "SCHEDULE_CACHE_SIZE", "HOSPITAL_TIMEZONE",
	"TOKEN_DAILY_RESET", "TOKEN_PREFIX_TEMPLATE", "TOKEN_SEQUENCE_BACKEND",
	"FEATURE_EMERGENCY",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("AMQP_EXCHANGE", "hms.events")
	v.SetDefault("SCHEDULE_CACHE_SIZE", 256)
	v.SetDefault("TOKEN_DAILY_RESET", true)
	v.SetDefault("TOKEN_PREFIX_TEMPLATE", "F{floor}")
	v.SetDefault("TOKEN_SEQUENCE_BACKEND", SequenceBackendDatabase)
	v.SetDefault("FEATURE_EMERGENCY", FeatureAuto)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required when ENV=%q", c.Env)
	}

	switch c.TokenSequenceBackend {
	case SequenceBackendDatabase:
	case SequenceBackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when TOKEN_SEQUENCE_BACKEND is %q", SequenceBackendRedis)
		}
	default:
		return fmt.Errorf("TOKEN_SEQUENCE_BACKEND must be %q or %q, got %q",
			SequenceBackendDatabase, SequenceBackendRedis, c.TokenSequenceBackend)
	}

	if !strings.Contains(c.TokenPrefixTemplate, "{floor}") {
		return fmt.Errorf("TOKEN_PREFIX_TEMPLATE must contain {floor}, got %q", c.TokenPrefixTemplate)
	}

	switch c.FeatureEmergency {
	case FeatureAuto, FeatureOn, FeatureOff:
	default:
		return fmt.Errorf("FEATURE_EMERGENCY must be \"auto\", \"on\", or \"off\", got %q", c.FeatureEmergency)
	}

	if _, err := c.Location(); err != nil {
		return err
	}

	if c.ScheduleCacheSize < 0 {
		return fmt.Errorf("SCHEDULE_CACHE_SIZE must not be negative")
	}

	return nil
}

// Location resolves HospitalTimezone.
func (c *Config) Location() (*time.Location, error) {
	if c.HospitalTimezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.HospitalTimezone)
	if err != nil {
		return nil, fmt.Errorf("HOSPITAL_TIMEZONE: %w", err)
	}
	return loc, nil
}
