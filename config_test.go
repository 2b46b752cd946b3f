package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfigWritesDefaults(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")
	secretsPath := filepath.Join(dir, "secrets.toml")

	cfg := loadConfig(configPath, secretsPath)

	if _, err := os.Stat(configPath); err != nil {
		t.Fatalf("expected default config file to be written: %v", err)
	}
	want := defaultConfig()
	if cfg != want {
		t.Fatalf("first load = %+v want defaults %+v", cfg, want)
	}

	// A second load reads the file just written and must resolve to the
	// same configuration.
	again := loadConfig(configPath, secretsPath)
	if again != cfg {
		t.Fatalf("reload = %+v want %+v", again, cfg)
	}
}

func TestLoadConfigAppliesSecrets(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")
	secretsPath := filepath.Join(dir, "secrets.toml")

	secrets := `discord_token = "tok-123"
b2_account_id = "acct"
b2_application_key = "key"
`
	if err := os.WriteFile(secretsPath, []byte(secrets), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := loadConfig(configPath, secretsPath)
	if cfg.DiscordToken != "tok-123" {
		t.Fatalf("DiscordToken=%q want tok-123", cfg.DiscordToken)
	}
	if cfg.B2AccountID != "acct" || cfg.B2AppKey != "key" {
		t.Fatalf("B2 credentials not applied: %q %q", cfg.B2AccountID, cfg.B2AppKey)
	}
}

func TestApplyFileConfig_Overrides(t *testing.T) {
	cfg := defaultConfig()

	poll := 10
	limit := 3
	notify := false
	fc := fileConfig{
		LogDir:             "/srv/zomboid/Logs",
		LogGlob:            "*_DebugLog-server.txt",
		PollSeconds:        &poll,
		NotifyOnDisconnect: &notify,
		WatchlistLimit:     &limit,
	}
	applyFileConfig(&cfg, fc)

	if cfg.LogDir != "/srv/zomboid/Logs" {
		t.Fatalf("LogDir=%q", cfg.LogDir)
	}
	if cfg.LogGlob != "*_DebugLog-server.txt" {
		t.Fatalf("LogGlob=%q", cfg.LogGlob)
	}
	if cfg.PollInterval != 10*time.Second {
		t.Fatalf("PollInterval=%s want 10s", cfg.PollInterval)
	}
	if cfg.NotifyOnDisconnect {
		t.Fatalf("NotifyOnDisconnect should have been overridden to false")
	}
	if cfg.WatchlistLimit != 3 {
		t.Fatalf("WatchlistLimit=%d want 3", cfg.WatchlistLimit)
	}
	// Untouched fields keep their defaults.
	if cfg.StatusAddr != defaultStatusListen {
		t.Fatalf("StatusAddr=%q want %q", cfg.StatusAddr, defaultStatusListen)
	}
}

func TestApplyFileConfig_StatusListenDisable(t *testing.T) {
	cfg := defaultConfig()
	empty := ""
	applyFileConfig(&cfg, fileConfig{StatusListen: &empty})
	if cfg.StatusAddr != "" {
		t.Fatalf("StatusAddr=%q want empty (disabled)", cfg.StatusAddr)
	}
}

func TestApplyFileConfig_StatusListenPortOnly(t *testing.T) {
	cfg := defaultConfig()
	port := "9090"
	applyFileConfig(&cfg, fileConfig{StatusListen: &port})
	if cfg.StatusAddr != ":9090" {
		t.Fatalf("StatusAddr=%q want :9090", cfg.StatusAddr)
	}
}

func TestValidateConfig(t *testing.T) {
	valid := defaultConfig()
	valid.LogDir = "/srv/zomboid/Logs"

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing log dir", func(c *Config) { c.LogDir = " " }, "log_dir"},
		{"empty glob", func(c *Config) { c.LogGlob = "" }, "log_glob"},
		{"bad glob", func(c *Config) { c.LogGlob = "[" }, "log_glob"},
		{"poll too fast", func(c *Config) { c.PollInterval = 100 * time.Millisecond }, "poll_interval"},
		{"history workers zero", func(c *Config) { c.HistoryParallelism = 0 }, "history_parallelism"},
		{"history workers huge", func(c *Config) { c.HistoryParallelism = 100 }, "history_parallelism"},
		{"watchlist zero", func(c *Config) { c.WatchlistLimit = 0 }, "watchlist_limit"},
		{"watchlist huge", func(c *Config) { c.WatchlistLimit = 1000 }, "watchlist_limit"},
		{"negative history", func(c *Config) { c.EventHistoryLimit = -1 }, "event_history_limit"},
		{"token without channel", func(c *Config) { c.DiscordToken = "tok" }, "discord_channel_id"},
		{"channel without token", func(c *Config) { c.DiscordChannelID = "123" }, "discord_token"},
		{"bucket without creds", func(c *Config) { c.B2Bucket = "backups" }, "b2_"},
		{"rate limit zero with status on", func(c *Config) { c.StatusRateLimitPerMin = 0 }, "status_rate_limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := validateConfig(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error mentioning %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateConfig_RateLimitIgnoredWhenStatusOff(t *testing.T) {
	cfg := defaultConfig()
	cfg.LogDir = "/srv/zomboid/Logs"
	cfg.StatusAddr = ""
	cfg.StatusRateLimitPerMin = 0
	if err := validateConfig(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEffectiveRedactsSecrets(t *testing.T) {
	cfg := defaultConfig()
	cfg.LogDir = "/srv/zomboid/Logs"
	cfg.DiscordToken = "super-secret"
	cfg.DiscordChannelID = "123"
	cfg.B2AccountID = "acct"
	cfg.B2AppKey = "key"
	cfg.B2Bucket = "backups"

	eff := cfg.Effective()
	if !eff.DiscordTokenSet || !eff.DiscordEnabled {
		t.Fatalf("expected discord flags set: %+v", eff)
	}
	if !eff.B2CredentialsSet || !eff.BackupsEnabled {
		t.Fatalf("expected b2 flags set: %+v", eff)
	}

	data, err := fastJSONMarshal(eff)
	if err != nil {
		t.Fatal(err)
	}
	for _, secret := range []string{"super-secret", "acct", "key\""} {
		if strings.Contains(string(data), secret) {
			t.Fatalf("effective config leaked secret %q: %s", secret, data)
		}
	}
}

func TestRewriteConfigFileKeepsBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	first := defaultConfig()
	first.LogDir = "/first"
	if err := rewriteConfigFile(path, first); err != nil {
		t.Fatal(err)
	}

	second := defaultConfig()
	second.LogDir = "/second"
	if err := rewriteConfigFile(path, second); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(path + ".bak"); err != nil {
		t.Fatalf("expected backup of previous config: %v", err)
	}

	fc, ok, err := loadConfigFile(path)
	if err != nil || !ok {
		t.Fatalf("reload rewritten config: ok=%v err=%v", ok, err)
	}
	if fc.LogDir != "/second" {
		t.Fatalf("LogDir=%q want /second", fc.LogDir)
	}
}

func TestExampleFiles(t *testing.T) {
	dir := t.TempDir()
	ensureExampleFiles(dir)

	cfgExample, err := os.ReadFile(filepath.Join(dir, "config", "examples", "config.toml.example"))
	if err != nil {
		t.Fatalf("config example missing: %v", err)
	}
	for _, key := range []string{"log_dir", "poll_interval_seconds", "watchlist_limit"} {
		if !strings.Contains(string(cfgExample), key) {
			t.Fatalf("config example missing key %q", key)
		}
	}

	secretsExample, err := os.ReadFile(filepath.Join(dir, "config", "examples", "secrets.toml.example"))
	if err != nil {
		t.Fatalf("secrets example missing: %v", err)
	}
	if !strings.Contains(string(secretsExample), "discord_token") {
		t.Fatalf("secrets example missing discord_token")
	}
}
