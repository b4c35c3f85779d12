package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("webhook.secret", "hook")
	configViper.Set("auth.signing_secret", "0123456789abcdef")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.HTTPAddress != defaultHTTPAddress || cfg.DatabasePath != defaultDatabasePath {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.BroadcastWorkers != 1 || cfg.BroadcastSendTimeout != 10*time.Second {
		t.Fatalf("unexpected broadcast defaults: %+v", cfg)
	}
	if cfg.AuthTokenTTL != 12*time.Hour || cfg.StuckCampaignAfter != 30*time.Minute {
		t.Fatalf("unexpected durations: %+v", cfg)
	}
	if cfg.BroadcastEnabled() {
		t.Fatalf("broadcast must be disabled without a bot token")
	}
}

func TestLoadRequiresSecrets(t *testing.T) {
	configViper := NewViper()
	if _, err := Load(configViper); err == nil || !strings.Contains(err.Error(), "webhook.secret") {
		t.Fatalf("expected webhook secret error, got %v", err)
	}

	configViper.Set("webhook.secret", "hook")
	if _, err := Load(configViper); err == nil || !strings.Contains(err.Error(), "auth.signing_secret") {
		t.Fatalf("expected signing secret error, got %v", err)
	}

	configViper.Set("auth.signing_secret", "short")
	if _, err := Load(configViper); err == nil {
		t.Fatalf("expected short signing secret to be rejected")
	}
}

func TestLoadRejectsOutOfRangeBroadcastSettings(t *testing.T) {
	configViper := NewViper()
	configViper.Set("webhook.secret", "hook")
	configViper.Set("auth.signing_secret", "0123456789abcdef")
	configViper.Set("broadcast.workers", 0)
	if _, err := Load(configViper); err == nil {
		t.Fatalf("expected zero workers to be rejected")
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("BOTDESK_WEBHOOK_SECRET", "env-hook")
	t.Setenv("BOTDESK_AUTH_SIGNING_SECRET", "env-signing-secret-value")
	t.Setenv("BOTDESK_TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("BOTDESK_BROADCAST_WORKERS", "4")

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.WebhookSecret != "env-hook" || cfg.BroadcastWorkers != 4 {
		t.Fatalf("expected environment overrides, got %+v", cfg)
	}
	if !cfg.BroadcastEnabled() {
		t.Fatalf("expected broadcast to be enabled with a bot token")
	}
}

func TestLoadReadsConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "botdesk.yaml")
	contents := "webhook:\n  secret: file-hook\nauth:\n  signing_secret: file-signing-secret\nlog:\n  file: /tmp/botdesk.log\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	configViper := NewViper()
	configViper.SetConfigFile(path)
	if err := configViper.ReadInConfig(); err != nil {
		t.Fatalf("failed to read config: %v", err)
	}

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.WebhookSecret != "file-hook" || cfg.LogFile.Path != "/tmp/botdesk.log" {
		t.Fatalf("unexpected config from file: %+v", cfg)
	}
}

func TestLoadAuthIgnoresServerSettings(t *testing.T) {
	configViper := NewViper()
	if _, err := LoadAuth(configViper); err == nil {
		t.Fatalf("expected missing signing secret to be rejected")
	}
	configViper.Set("auth.signing_secret", "0123456789abcdef")
	cfg, err := LoadAuth(configViper)
	if err != nil {
		t.Fatalf("load auth failed: %v", err)
	}
	if cfg.Issuer != defaultAuthIssuer || cfg.TokenTTL != 12*time.Hour {
		t.Fatalf("unexpected auth config: %+v", cfg)
	}
}
