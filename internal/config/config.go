// Package config loads service configuration from environment variables
// (optionally overlaid on a YAML file) with typed defaults.
package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the root service configuration.
type Config struct {
	Env     string        `yaml:"env" env:"NARCOMAP_ENV" env-default:"local"`
	HTTP    HTTPConfig    `yaml:"http"`
	DB      DBConfig      `yaml:"db"`
	Auth    AuthConfig    `yaml:"auth"`
	OTP     OTPConfig     `yaml:"otp"`
	Markers MarkersConfig `yaml:"markers"`
	Notify  NotifyConfig  `yaml:"notify"`
}

// HTTPConfig holds listener settings.
type HTTPConfig struct {
	Host string `yaml:"host" env:"NARCOMAP_HTTP_HOST" env-default:"0.0.0.0"`
	Port string `yaml:"port" env:"NARCOMAP_HTTP_PORT" env-default:"8080"`

	// Per-client-IP token bucket applied at the transport layer,
	// independent from the per-actor limits inside the engine.
	RateLimitPerSecond int `yaml:"rate_limit_per_second" env:"NARCOMAP_HTTP_RPS" env-default:"10"`
	RateLimitBurst     int `yaml:"rate_limit_burst" env:"NARCOMAP_HTTP_BURST" env-default:"20"`
}

// Addr returns the listen address in host:port form.
func (h HTTPConfig) Addr() string {
	return net.JoinHostPort(h.Host, h.Port)
}

// DBConfig holds database settings. An empty DSN selects the in-memory stores.
type DBConfig struct {
	DSN string `yaml:"dsn" env:"NARCOMAP_PG_DSN" env-default:""`
}

// AuthConfig holds token issuance parameters.
type AuthConfig struct {
	JWTSecret       string        `yaml:"jwt_secret" env:"NARCOMAP_JWT_SECRET" env-required:"true"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl" env:"NARCOMAP_ACCESS_TOKEN_TTL" env-default:"60m"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl" env:"NARCOMAP_REFRESH_TOKEN_TTL" env-default:"720h"`
	Issuer          string        `yaml:"issuer" env:"NARCOMAP_ISSUER" env-default:"narcomap"`
}

// OTPConfig holds one-time code parameters.
type OTPConfig struct {
	Length        int           `yaml:"length" env:"NARCOMAP_OTP_LENGTH" env-default:"6"`
	ExpireIn      time.Duration `yaml:"expire_in" env:"NARCOMAP_OTP_EXPIRE_IN" env-default:"5m"`
	RequestLimit  int           `yaml:"request_limit" env:"NARCOMAP_OTP_REQUEST_LIMIT" env-default:"5"`
	RequestWindow time.Duration `yaml:"request_window" env:"NARCOMAP_OTP_REQUEST_WINDOW" env-default:"15m"`

	// DevMode echoes the generated code back to the caller. Never enable in
	// production; this is an explicit flag, not derived from the storage engine.
	DevMode bool `yaml:"dev_mode" env:"NARCOMAP_DEV_MODE" env-default:"false"`
}

// MarkersConfig holds submission and moderation policy.
type MarkersConfig struct {
	MaxPerDay         int     `yaml:"max_per_day" env:"NARCOMAP_MAX_MARKERS_PER_DAY" env-default:"10"`
	MinDistanceMeters float64 `yaml:"min_distance_meters" env:"NARCOMAP_MIN_DISTANCE_METERS" env-default:"5"`

	// AutoApprove publishes submissions immediately instead of queueing them
	// for moderation. Default is moderate-first.
	AutoApprove bool `yaml:"auto_approve" env:"NARCOMAP_AUTO_APPROVE" env-default:"false"`
}

// NotifyConfig selects the code delivery channel.
type NotifyConfig struct {
	Provider string `yaml:"provider" env:"NARCOMAP_SMS_PROVIDER" env-default:"log"`
	APIURL   string `yaml:"api_url" env:"NARCOMAP_SMS_API_URL" env-default:""`
	APIKey   string `yaml:"api_key" env:"NARCOMAP_SMS_API_KEY" env-default:""`
}

// MustLoad wraps Load and panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from the given YAML file (when path is non-empty)
// and overlays environment variables on top; with an empty path it reads the
// environment only.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %q stat failed: %w", path, err)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.OTP.Length < 4 || c.OTP.Length > 10 {
		return fmt.Errorf("otp length must be between 4 and 10, got %d", c.OTP.Length)
	}
	if c.OTP.ExpireIn <= 0 {
		return fmt.Errorf("otp expiry must be positive")
	}
	if c.Markers.MaxPerDay <= 0 {
		return fmt.Errorf("marker daily limit must be positive")
	}
	if c.Markers.MinDistanceMeters < 0 {
		return fmt.Errorf("min marker distance must not be negative")
	}
	return nil
}
