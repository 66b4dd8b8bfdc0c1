package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL    string   `mapstructure:"REDIS_URL"`
	JWTSecret   string   `mapstructure:"JWT_SECRET"`
	JWTIssuer   string   `mapstructure:"JWT_ISSUER"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	WSUnauthPolicy  string        `mapstructure:"WS_UNAUTH_POLICY"`
	WSAuthTimeout   time.Duration `mapstructure:"WS_AUTH_TIMEOUT"`
	WSReplacePolicy string        `mapstructure:"WS_REPLACE_POLICY"`

	GatewayBaseURL   string        `mapstructure:"GATEWAY_BASE_URL"`
	GatewaySnapURL   string        `mapstructure:"GATEWAY_SNAP_URL"`
	GatewayServerKey string        `mapstructure:"GATEWAY_SERVER_KEY"`
	GatewayTimeout   time.Duration `mapstructure:"GATEWAY_TIMEOUT"`

	ConsultationFeeDefault int64 `mapstructure:"CONSULTATION_FEE_DEFAULT"`

	KafkaBrokers     []string `mapstructure:"KAFKA_BROKERS"`
	KafkaNotifyTopic string   `mapstructure:"KAFKA_NOTIFY_TOPIC"`
	KafkaGroupID     string   `mapstructure:"KAFKA_GROUP_ID"`

	MetricsEnabled bool `mapstructure:"METRICS_ENABLED"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL",
	"JWT_SECRET", "JWT_ISSUER", "CORS_ORIGINS",
	"WS_UNAUTH_POLICY", "WS_AUTH_TIMEOUT", "WS_REPLACE_POLICY",
	"GATEWAY_BASE_URL", "GATEWAY_SNAP_URL", "GATEWAY_SERVER_KEY", "GATEWAY_TIMEOUT",
	"CONSULTATION_FEE_DEFAULT",
	"KAFKA_BROKERS", "KAFKA_NOTIFY_TOPIC", "KAFKA_GROUP_ID",
	"METRICS_ENABLED",
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
	v.SetDefault("JWT_ISSUER", "carehub")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("WS_UNAUTH_POLICY", "ignore")
	v.SetDefault("WS_AUTH_TIMEOUT", "10s")
	v.SetDefault("WS_REPLACE_POLICY", "close")
	v.SetDefault("GATEWAY_BASE_URL", "https://api.sandbox.midtrans.com/v2")
	v.SetDefault("GATEWAY_SNAP_URL", "https://app.sandbox.midtrans.com/snap/v1")
	v.SetDefault("GATEWAY_TIMEOUT", "15s")
	v.SetDefault("CONSULTATION_FEE_DEFAULT", 50000)
	v.SetDefault("KAFKA_NOTIFY_TOPIC", "hospital.notifications")
	v.SetDefault("KAFKA_GROUP_ID", "carehub-notifier")
	v.SetDefault("METRICS_ENABLED", true)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins, v.GetString("CORS_ORIGINS"))
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers, v.GetString("KAFKA_BROKERS"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

// splitList accepts both a decoded list and a comma-separated env string.
func splitList(decoded []string, raw string) []string {
	if len(decoded) == 1 && strings.Contains(decoded[0], ",") {
		raw = decoded[0]
		decoded = nil
	}
	if len(decoded) == 0 {
		if raw == "" {
			return nil
		}
		decoded = strings.Split(raw, ",")
	}
	out := make([]string, 0, len(decoded))
	for _, s := range decoded {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// CloseSuperseded reports whether a new authenticated connection closes the
// user's previous one.
func (c *Config) CloseSuperseded() bool {
	return c.WSReplacePolicy != "keep"
}

// KafkaEnabled reports whether the notification event consumer should run.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// Validate checks that the configuration is safe to run. Outside development
// a JWT secret and gateway server key are required.
func (c *Config) Validate() error {
	switch c.WSUnauthPolicy {
	case "ignore", "reject":
	default:
		return fmt.Errorf("WS_UNAUTH_POLICY must be \"ignore\" or \"reject\", got %q", c.WSUnauthPolicy)
	}
	switch c.WSReplacePolicy {
	case "close", "keep":
	default:
		return fmt.Errorf("WS_REPLACE_POLICY must be \"close\" or \"keep\", got %q", c.WSReplacePolicy)
	}
	if c.WSAuthTimeout < 0 {
		return fmt.Errorf("WS_AUTH_TIMEOUT must not be negative")
	}
	if c.GatewayTimeout <= 0 {
		return fmt.Errorf("GATEWAY_TIMEOUT must be positive")
	}
	if c.ConsultationFeeDefault < 0 {
		return fmt.Errorf("CONSULTATION_FEE_DEFAULT must not be negative")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}

	if c.IsDev() {
		return nil
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters outside development (current ENV=%q)", c.Env)
	}
	if c.GatewayServerKey == "" {
		return fmt.Errorf("GATEWAY_SERVER_KEY is required outside development")
	}
	return nil
}
