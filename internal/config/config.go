package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                string   `mapstructure:"PORT"`
	Env                 string   `mapstructure:"ENV"`
	AuthMode            string   `mapstructure:"AUTH_MODE"`
	DatabaseURL         string   `mapstructure:"DATABASE_URL"`
	DBMaxConns          int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns          int32    `mapstructure:"DB_MIN_CONNS"`
	AuthIssuer          string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL         string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience        string   `mapstructure:"AUTH_AUDIENCE"`
	CORSOrigins         []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS        float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst      int      `mapstructure:"RATE_LIMIT_BURST"`
	MessagingGatewayURL string   `mapstructure:"MESSAGING_GATEWAY_URL"`
	MessagingToken      string   `mapstructure:"MESSAGING_TOKEN"`
	MessagingTimeoutMS  int      `mapstructure:"MESSAGING_TIMEOUT_MS"`
	SupervisorRecipient string   `mapstructure:"SUPERVISOR_RECIPIENT"`
	WebhookSecret       string   `mapstructure:"WEBHOOK_SECRET"`
	SchedulerTimezone   string   `mapstructure:"SCHEDULER_TIMEZONE"`
	AutomationCronSpec  string   `mapstructure:"AUTOMATION_CRON_SPEC"`
	ProtocolCronSpec    string   `mapstructure:"PROTOCOL_CRON_SPEC"`
	ReminderCronSpec    string   `mapstructure:"REMINDER_CRON_SPEC"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "") // auto-detect: "" -> inferred from ENV
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("MESSAGING_TIMEOUT_MS", 10000)
	v.SetDefault("SCHEDULER_TIMEZONE", "America/Mexico_City")
	v.SetDefault("AUTOMATION_CRON_SPEC", "@every 5m")
	v.SetDefault("PROTOCOL_CRON_SPEC", "0 9 * * *")
	v.SetDefault("REMINDER_CRON_SPEC", "0 10 * * *")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("AUTH_MODE")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("AUTH_JWKS_URL")
	v.BindEnv("AUTH_AUDIENCE")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")
	v.BindEnv("MESSAGING_GATEWAY_URL")
	v.BindEnv("MESSAGING_TOKEN")
	v.BindEnv("MESSAGING_TIMEOUT_MS")
	v.BindEnv("SUPERVISOR_RECIPIENT")
	v.BindEnv("WEBHOOK_SECRET")
	v.BindEnv("SCHEDULER_TIMEZONE")
	v.BindEnv("AUTOMATION_CRON_SPEC")
	v.BindEnv("PROTOCOL_CRON_SPEC")
	v.BindEnv("REMINDER_CRON_SPEC")

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

	if cfg.IsDev() {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active: all requests get admin access.")
		log.Println("WARNING: Do NOT use this configuration in production.")
		log.Println("WARNING: Set ENV=production and configure AUTH_ISSUER for production.")
		log.Println("WARNING: ============================================================")
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

// MessagingTimeout returns the outbound messaging timeout as a duration.
func (c *Config) MessagingTimeout() time.Duration {
	return time.Duration(c.MessagingTimeoutMS) * time.Millisecond
}

// ResolvedAuthMode returns the effective auth mode. If AUTH_MODE is explicitly
// set, it is returned. Otherwise, the mode is inferred:
//   - ENV=development → "development" (no auth, all requests get admin)
//   - Otherwise       → "external" (Keycloak, Auth0, etc.)
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	return "external"
}

// Validate checks that the configuration is safe to run. In non-development
// modes AUTH_ISSUER must be set so that real JWT authentication is enforced.
func (c *Config) Validate() error {
	mode := c.ResolvedAuthMode()
	if mode == "external" && c.AuthIssuer == "" {
		return fmt.Errorf(
			"AUTH_ISSUER must be set when AUTH_MODE is \"external\" (current ENV=%q). "+
				"Refusing to start without authentication configuration", c.Env)
	}
	if mode != "development" && mode != "external" {
		return fmt.Errorf("AUTH_MODE must be \"development\" or \"external\", got %q", mode)
	}

	if c.IsProduction() && c.MessagingGatewayURL == "" {
		return fmt.Errorf("MESSAGING_GATEWAY_URL is required in production")
	}
	if c.MessagingTimeoutMS <= 0 {
		return fmt.Errorf("MESSAGING_TIMEOUT_MS must be positive, got %d", c.MessagingTimeoutMS)
	}

	if _, err := time.LoadLocation(c.SchedulerTimezone); err != nil {
		return fmt.Errorf("SCHEDULER_TIMEZONE %q is not a valid IANA timezone: %w", c.SchedulerTimezone, err)
	}

	return nil
}
