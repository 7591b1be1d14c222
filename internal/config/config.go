package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port          string   `mapstructure:"PORT"`
	Env           string   `mapstructure:"ENV"`
	DatabaseURL   string   `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32    `mapstructure:"DB_MIN_CONNS"`
	DefaultTenant string   `mapstructure:"DEFAULT_TENANT"`
	CORSOrigins   []string `mapstructure:"CORS_ORIGINS"`

	AuthIssuer    string `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL   string `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience  string `mapstructure:"AUTH_AUDIENCE"`
	JWTSigningKey string `mapstructure:"JWT_SIGNING_KEY"`

	AIProviderURL    string `mapstructure:"AI_PROVIDER_URL"`
	AIAPIKey         string `mapstructure:"AI_API_KEY"`
	AIModel          string `mapstructure:"AI_MODEL"`
	AITimeoutSeconds int    `mapstructure:"AI_TIMEOUT_SECONDS"`
	AIMaxRetries     int    `mapstructure:"AI_MAX_RETRIES"`
	AIBaseDelayMS    int    `mapstructure:"AI_BASE_DELAY_MS"`
	AIMaxDelayMS     int    `mapstructure:"AI_MAX_DELAY_MS"`

	ProcessingTimeoutSeconds int `mapstructure:"PROCESSING_TIMEOUT_SECONDS"`
	SafetyWorkers            int `mapstructure:"SAFETY_WORKERS"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`

	AlertEmailFrom      string `mapstructure:"ALERT_EMAIL_FROM"`
	AlertRecipient      string `mapstructure:"ALERT_RECIPIENT"`
	EscalationRecipient string `mapstructure:"ESCALATION_RECIPIENT"`
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
	v.SetDefault("AI_MODEL", "gpt-4o")
	v.SetDefault("AI_TIMEOUT_SECONDS", 60)
	v.SetDefault("AI_MAX_RETRIES", 3)
	v.SetDefault("AI_BASE_DELAY_MS", 1000)
	v.SetDefault("AI_MAX_DELAY_MS", 10000)
	v.SetDefault("PROCESSING_TIMEOUT_SECONDS", 120)
	v.SetDefault("SAFETY_WORKERS", 4)
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("ALERT_EMAIL_FROM", "alerts@rxsense.local")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"DEFAULT_TENANT", "CORS_ORIGINS",
		"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "JWT_SIGNING_KEY",
		"AI_PROVIDER_URL", "AI_API_KEY", "AI_MODEL", "AI_TIMEOUT_SECONDS",
		"AI_MAX_RETRIES", "AI_BASE_DELAY_MS", "AI_MAX_DELAY_MS",
		"PROCESSING_TIMEOUT_SECONDS", "SAFETY_WORKERS",
		"RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
		"ALERT_EMAIL_FROM", "ALERT_RECIPIENT", "ESCALATION_RECIPIENT",
	} {
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

func (c *Config) AITimeout() time.Duration {
	return time.Duration(c.AITimeoutSeconds) * time.Second
}

func (c *Config) AIBaseDelay() time.Duration {
	return time.Duration(c.AIBaseDelayMS) * time.Millisecond
}

func (c *Config) AIMaxDelay() time.Duration {
	return time.Duration(c.AIMaxDelayMS) * time.Millisecond
}

func (c *Config) ProcessingTimeout() time.Duration {
	return time.Duration(c.ProcessingTimeoutSeconds) * time.Second
}

// Validate checks that the configuration is safe to serve with. The AI
// provider settings are only required by the serve command; migrate and
// tenant commands run with a bare database configuration.
func (c *Config) Validate() error {
	if c.AIProviderURL == "" {
		return fmt.Errorf("AI_PROVIDER_URL is required")
	}
	if c.IsProduction() {
		if c.AIAPIKey == "" {
			return fmt.Errorf("AI_API_KEY is required in production")
		}
		if c.AuthIssuer == "" && c.JWTSigningKey == "" {
			return fmt.Errorf("AUTH_ISSUER or JWT_SIGNING_KEY must be set in production")
		}
	}
	if c.AIMaxRetries < 1 {
		return fmt.Errorf("AI_MAX_RETRIES must be at least 1")
	}
	if c.SafetyWorkers < 1 {
		return fmt.Errorf("SAFETY_WORKERS must be at least 1")
	}
	return nil
}
