package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	envPrefix                  = "BOTDESK"
	defaultHTTPAddress         = "0.0.0.0:8080"
	defaultDatabasePath        = "botdesk.db"
	defaultLogLevel            = "info"
	defaultTelegramAPIURL      = "https://api.telegram.org"
	defaultAuthIssuer          = "botdesk"
	defaultTokenTTLMinutes     = 720
	defaultBroadcastWorkers    = 1
	defaultBroadcastRate       = 25
	defaultSendTimeoutSeconds  = 10
	defaultStuckAfterMinutes   = 30
	defaultStuckCheckMinutes   = 5
	defaultLogMaxSizeMegabytes = 50
	defaultLogMaxBackups       = 5
	defaultLogMaxAgeDays       = 14
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress  string `validate:"required,hostname_port"`
	DatabasePath string `validate:"required"`
	LogLevel     string `validate:"omitempty,oneof=debug info warn warning error"`
	LogFile      LogFileConfig

	TelegramBotToken string
	TelegramAPIURL   string `validate:"required,url"`

	WebhookSecret string `validate:"required"`

	AuthSigningSecret string        `validate:"required,min=16"`
	AuthIssuer        string        `validate:"required"`
	AuthTokenTTL      time.Duration `validate:"gt=0"`

	BroadcastWorkers       int           `validate:"min=1,max=64"`
	BroadcastRatePerSecond int           `validate:"min=1"`
	BroadcastSendTimeout   time.Duration `validate:"gt=0"`
	StuckCampaignAfter     time.Duration `validate:"gt=0"`
	StuckCheckInterval     time.Duration `validate:"gt=0"`
}

// LogFileConfig enables rotating file output when Path is set.
type LogFileConfig struct {
	Path       string
	MaxSizeMB  int `validate:"min=0"`
	MaxBackups int `validate:"min=0"`
	MaxAgeDays int `validate:"min=0"`
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.file", "")
	configViper.SetDefault("log.max_size_mb", defaultLogMaxSizeMegabytes)
	configViper.SetDefault("log.max_backups", defaultLogMaxBackups)
	configViper.SetDefault("log.max_age_days", defaultLogMaxAgeDays)
	configViper.SetDefault("telegram.bot_token", "")
	configViper.SetDefault("telegram.api_url", defaultTelegramAPIURL)
	configViper.SetDefault("webhook.secret", "")
	configViper.SetDefault("auth.signing_secret", "")
	configViper.SetDefault("auth.issuer", defaultAuthIssuer)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("broadcast.workers", defaultBroadcastWorkers)
	configViper.SetDefault("broadcast.rate_per_second", defaultBroadcastRate)
	configViper.SetDefault("broadcast.send_timeout_seconds", defaultSendTimeoutSeconds)
	configViper.SetDefault("broadcast.stuck_after_minutes", defaultStuckAfterMinutes)
	configViper.SetDefault("broadcast.stuck_check_interval_minutes", defaultStuckCheckMinutes)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:  strings.TrimSpace(configViper.GetString("http.address")),
		DatabasePath: strings.TrimSpace(configViper.GetString("database.path")),
		LogLevel:     strings.ToLower(strings.TrimSpace(configViper.GetString("log.level"))),
		LogFile: LogFileConfig{
			Path:       strings.TrimSpace(configViper.GetString("log.file")),
			MaxSizeMB:  configViper.GetInt("log.max_size_mb"),
			MaxBackups: configViper.GetInt("log.max_backups"),
			MaxAgeDays: configViper.GetInt("log.max_age_days"),
		},
		TelegramBotToken:       strings.TrimSpace(configViper.GetString("telegram.bot_token")),
		TelegramAPIURL:         strings.TrimRight(strings.TrimSpace(configViper.GetString("telegram.api_url")), "/"),
		WebhookSecret:          configViper.GetString("webhook.secret"),
		AuthSigningSecret:      configViper.GetString("auth.signing_secret"),
		AuthIssuer:             strings.TrimSpace(configViper.GetString("auth.issuer")),
		AuthTokenTTL:           time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		BroadcastWorkers:       configViper.GetInt("broadcast.workers"),
		BroadcastRatePerSecond: configViper.GetInt("broadcast.rate_per_second"),
		BroadcastSendTimeout:   time.Duration(configViper.GetInt("broadcast.send_timeout_seconds")) * time.Second,
		StuckCampaignAfter:     time.Duration(configViper.GetInt("broadcast.stuck_after_minutes")) * time.Minute,
		StuckCheckInterval:     time.Duration(configViper.GetInt("broadcast.stuck_check_interval_minutes")) * time.Minute,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// AuthConfig is the subset of configuration needed to mint operator tokens.
type AuthConfig struct {
	SigningSecret string        `validate:"required,min=16"`
	Issuer        string        `validate:"required"`
	TokenTTL      time.Duration `validate:"gt=0"`
}

// LoadAuth parses only the operator token settings, for tooling that does not
// start the server.
func LoadAuth(configViper *viper.Viper) (AuthConfig, error) {
	cfg := AuthConfig{
		SigningSecret: configViper.GetString("auth.signing_secret"),
		Issuer:        strings.TrimSpace(configViper.GetString("auth.issuer")),
		TokenTTL:      time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
	}
	if strings.TrimSpace(cfg.SigningSecret) == "" {
		return AuthConfig{}, fmt.Errorf("auth.signing_secret is required")
	}
	if err := validator.New().Struct(cfg); err != nil {
		return AuthConfig{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Auth returns the operator token settings of a loaded configuration.
func (c AppConfig) Auth() AuthConfig {
	return AuthConfig{SigningSecret: c.AuthSigningSecret, Issuer: c.AuthIssuer, TokenTTL: c.AuthTokenTTL}
}

// BroadcastEnabled reports whether a Telegram credential is available.
func (c AppConfig) BroadcastEnabled() bool {
	return c.TelegramBotToken != ""
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.WebhookSecret) == "" {
		return fmt.Errorf("webhook.secret is required")
	}
	if strings.TrimSpace(c.AuthSigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
