package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml"
)

const (
	defaultDataDir            = "data"
	defaultPollSeconds        = 2
	defaultHistoryWorkers     = 4
	defaultStatusListen       = ":8080"
	defaultStatusRateLimit    = 120
	defaultWatchlistLimit     = 25
	defaultBackupIntervalMins = 360
)

// Config is the fully resolved runtime configuration: built-in defaults,
// then config.toml, then the secrets.toml overlay, then command line
// overrides.
type Config struct {
	// Log watching.
	LogDir             string // the Zomboid server's Logs directory
	LogGlob            string // e.g. "*_user.txt"
	PollInterval       time.Duration
	NotifyOnDisconnect bool
	NotifyOnConnect    bool
	HistoryParallelism int // workers parsing historical logs at startup

	// Where the watchlist database, our own logs and generated examples
	// live.
	DataDir string

	// Discord. The token comes from secrets.toml only; an empty token or
	// channel disables the bot entirely.
	DiscordToken     string
	DiscordChannelID string
	DiscordGuildID   string
	WatchlistLimit   int

	// Status HTTP API. An empty listen address disables the server.
	StatusAddr            string
	StatusRateLimitPerMin int
	AnonymizePlayers      bool

	EventHistoryLimit int
	UseSimdHash       bool

	// Backblaze B2 watchlist backups. Credentials come from secrets.toml;
	// an empty bucket disables backups.
	B2AccountID    string
	B2AppKey       string
	B2Bucket       string
	B2Prefix       string
	BackupInterval time.Duration

	DebugLogging bool
	LogToStdout  bool
}

// fileConfig mirrors config.toml. Pointer fields distinguish "absent" from
// an explicit zero so operators can switch features off without fighting
// the defaults.
type fileConfig struct {
	LogDir             string `toml:"log_dir"`
	LogGlob            string `toml:"log_glob"`
	PollSeconds        *int   `toml:"poll_interval_seconds"`
	NotifyOnDisconnect *bool  `toml:"notify_on_disconnect"`
	NotifyOnConnect    *bool  `toml:"notify_on_connect"`
	HistoryParallelism *int   `toml:"history_parallelism"`

	DataDir string `toml:"data_dir"`

	// The Discord token is loaded exclusively from secrets.toml and is
	// never read from or written to config.toml.
	DiscordChannelID string `toml:"discord_channel_id"`
	DiscordGuildID   string `toml:"discord_guild_id"`
	WatchlistLimit   *int   `toml:"watchlist_limit"`

	StatusListen          *string `toml:"status_listen"`
	StatusRateLimitPerMin *int    `toml:"status_rate_limit_per_minute"`
	AnonymizePlayers      *bool   `toml:"anonymize_players"`

	EventHistoryLimit *int  `toml:"event_history_limit"`
	UseSimdHash       *bool `toml:"use_simd_hash"`

	B2Bucket          string `toml:"b2_bucket"`
	B2Prefix          string `toml:"b2_prefix"`
	BackupIntervalMin *int   `toml:"backup_interval_minutes"`

	DebugLogging *bool `toml:"debug_logging"`
	LogToStdout  *bool `toml:"log_to_stdout"`
}

// secretsConfig holds sensitive values that operators may prefer to keep out
// of the main config.toml so it can be checked into version control or shared
// more freely.
//
// When present, these values override any corresponding fields from
// config.toml.
type secretsConfig struct {
	DiscordToken string `toml:"discord_token"`
	B2AccountID  string `toml:"b2_account_id"`
	B2AppKey     string `toml:"b2_application_key"`
}

func loadConfig(configPath, secretsPath string) Config {
	cfg := defaultConfig()

	if configPath == "" {
		configPath = defaultConfigPath()
	}

	if fc, ok, err := loadConfigFile(configPath); err != nil {
		fatal("config file", err, "path", configPath)
	} else if ok {
		applyFileConfig(&cfg, *fc)
	} else {
		// Config file doesn't exist, write out defaults
		if err := rewriteConfigFile(configPath, cfg); err != nil {
			fatal("write default config", err, "path", configPath)
		}
		logger.Info("created default config file", "path", configPath)
	}

	// Optional secrets overlay: if data_dir/secrets.toml exists, values
	// from that file override credentials like the Discord token.
	if secretsPath == "" {
		secretsPath = filepath.Join(cfg.DataDir, "secrets.toml")
	}
	if sc, ok, err := loadSecretsFile(secretsPath); err != nil {
		fatal("secrets file", err, "path", secretsPath)
	} else if ok {
		applySecretsConfig(&cfg, *sc)
	}

	return cfg
}

// defaultConfig returns a Config populated with built-in defaults that act
// as the base for both runtime config loading and example config generation.
func defaultConfig() Config {
	return Config{
		LogDir:                "",
		LogGlob:               defaultLogGlob,
		PollInterval:          defaultPollSeconds * time.Second,
		NotifyOnDisconnect:    true,
		NotifyOnConnect:       false,
		HistoryParallelism:    defaultHistoryWorkers,
		DataDir:               defaultDataDir,
		WatchlistLimit:        defaultWatchlistLimit,
		StatusAddr:            defaultStatusListen,
		StatusRateLimitPerMin: defaultStatusRateLimit,
		AnonymizePlayers:      false,
		EventHistoryLimit:     defaultEventHistoryLimit,
		UseSimdHash:           true,
		BackupInterval:        defaultBackupIntervalMins * time.Minute,
	}
}

func defaultConfigPath() string {
	return filepath.Join(defaultDataDir, "config.toml")
}

func loadConfigFile(path string) (*fileConfig, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read %s: %w", path, err)
	}

	var cfg fileConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, true, fmt.Errorf("parse %s: %w", path, err)
	}

	return &cfg, true, nil
}

func loadSecretsFile(path string) (*secretsConfig, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read %s: %w", path, err)
	}

	var cfg secretsConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, true, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, true, nil
}

func applyFileConfig(cfg *Config, fc fileConfig) {
	if fc.LogDir != "" {
		cfg.LogDir = fc.LogDir
	}
	if fc.LogGlob != "" {
		cfg.LogGlob = fc.LogGlob
	}
	if fc.PollSeconds != nil && *fc.PollSeconds > 0 {
		cfg.PollInterval = time.Duration(*fc.PollSeconds) * time.Second
	}
	if fc.NotifyOnDisconnect != nil {
		cfg.NotifyOnDisconnect = *fc.NotifyOnDisconnect
	}
	if fc.NotifyOnConnect != nil {
		cfg.NotifyOnConnect = *fc.NotifyOnConnect
	}
	if fc.HistoryParallelism != nil && *fc.HistoryParallelism > 0 {
		cfg.HistoryParallelism = *fc.HistoryParallelism
	}
	if fc.DataDir != "" {
		cfg.DataDir = fc.DataDir
	}
	if fc.DiscordChannelID != "" {
		cfg.DiscordChannelID = strings.TrimSpace(fc.DiscordChannelID)
	}
	if fc.DiscordGuildID != "" {
		cfg.DiscordGuildID = strings.TrimSpace(fc.DiscordGuildID)
	}
	if fc.WatchlistLimit != nil {
		cfg.WatchlistLimit = *fc.WatchlistLimit
	}
	if fc.StatusListen != nil {
		// An explicit empty string disables the status server; absent
		// keeps the default listen address.
		addr := strings.TrimSpace(*fc.StatusListen)
		// Be forgiving: if the operator specified only a port like "8080",
		// treat it as ":8080" so net.Listen accepts it.
		if addr != "" && !strings.Contains(addr, ":") {
			addr = ":" + addr
		}
		cfg.StatusAddr = addr
	}
	if fc.StatusRateLimitPerMin != nil {
		cfg.StatusRateLimitPerMin = *fc.StatusRateLimitPerMin
	}
	if fc.AnonymizePlayers != nil {
		cfg.AnonymizePlayers = *fc.AnonymizePlayers
	}
	if fc.EventHistoryLimit != nil {
		cfg.EventHistoryLimit = *fc.EventHistoryLimit
	}
	if fc.UseSimdHash != nil {
		cfg.UseSimdHash = *fc.UseSimdHash
	}
	if fc.B2Bucket != "" {
		cfg.B2Bucket = strings.TrimSpace(fc.B2Bucket)
	}
	if fc.B2Prefix != "" {
		cfg.B2Prefix = fc.B2Prefix
	}
	if fc.BackupIntervalMin != nil && *fc.BackupIntervalMin > 0 {
		cfg.BackupInterval = time.Duration(*fc.BackupIntervalMin) * time.Minute
	}
	if fc.DebugLogging != nil {
		cfg.DebugLogging = *fc.DebugLogging
	}
	if fc.LogToStdout != nil {
		cfg.LogToStdout = *fc.LogToStdout
	}
}

func applySecretsConfig(cfg *Config, sc secretsConfig) {
	if sc.DiscordToken != "" {
		cfg.DiscordToken = strings.TrimSpace(sc.DiscordToken)
	}
	if sc.B2AccountID != "" {
		cfg.B2AccountID = strings.TrimSpace(sc.B2AccountID)
	}
	if sc.B2AppKey != "" {
		cfg.B2AppKey = strings.TrimSpace(sc.B2AppKey)
	}
}

// DiscordEnabled reports whether enough Discord configuration is present to
// run the bot.
func (cfg Config) DiscordEnabled() bool {
	return cfg.DiscordToken != "" && cfg.DiscordChannelID != ""
}

// BackupsEnabled reports whether B2 watchlist backups are fully configured.
func (cfg Config) BackupsEnabled() bool {
	return cfg.B2Bucket != "" && cfg.B2AccountID != "" && cfg.B2AppKey != ""
}

// EffectiveConfig is the redacted view of the running configuration that is
// logged at startup and served by the admin endpoint. Secrets collapse into
// present/absent booleans.
type EffectiveConfig struct {
	LogDir             string `json:"log_dir"`
	LogGlob            string `json:"log_glob"`
	PollInterval       string `json:"poll_interval"`
	NotifyOnDisconnect bool   `json:"notify_on_disconnect"`
	NotifyOnConnect    bool   `json:"notify_on_connect,omitempty"`
	HistoryParallelism int    `json:"history_parallelism"`
	DataDir            string `json:"data_dir"`

	DiscordEnabled   bool   `json:"discord_enabled"`
	DiscordTokenSet  bool   `json:"discord_token_set"`
	DiscordChannelID string `json:"discord_channel_id,omitempty"`
	DiscordGuildID   string `json:"discord_guild_id,omitempty"`
	WatchlistLimit   int    `json:"watchlist_limit"`

	StatusListen          string `json:"status_listen,omitempty"`
	StatusRateLimitPerMin int    `json:"status_rate_limit_per_minute"`
	AnonymizePlayers      bool   `json:"anonymize_players,omitempty"`

	EventHistoryLimit int  `json:"event_history_limit"`
	UseSimdHash       bool `json:"use_simd_hash"`

	BackupsEnabled   bool   `json:"backups_enabled"`
	B2Bucket         string `json:"b2_bucket,omitempty"`
	B2Prefix         string `json:"b2_prefix,omitempty"`
	B2CredentialsSet bool   `json:"b2_credentials_set"`
	BackupInterval   string `json:"backup_interval,omitempty"`

	DebugLogging bool `json:"debug_logging,omitempty"`
	LogToStdout  bool `json:"log_to_stdout,omitempty"`
}

func (cfg Config) Effective() EffectiveConfig {
	return EffectiveConfig{
		LogDir:             cfg.LogDir,
		LogGlob:            cfg.LogGlob,
		PollInterval:       cfg.PollInterval.String(),
		NotifyOnDisconnect: cfg.NotifyOnDisconnect,
		NotifyOnConnect:    cfg.NotifyOnConnect,
		HistoryParallelism: cfg.HistoryParallelism,
		DataDir:            cfg.DataDir,

		DiscordEnabled:   cfg.DiscordEnabled(),
		DiscordTokenSet:  strings.TrimSpace(cfg.DiscordToken) != "",
		DiscordChannelID: cfg.DiscordChannelID,
		DiscordGuildID:   cfg.DiscordGuildID,
		WatchlistLimit:   cfg.WatchlistLimit,

		StatusListen:          cfg.StatusAddr,
		StatusRateLimitPerMin: cfg.StatusRateLimitPerMin,
		AnonymizePlayers:      cfg.AnonymizePlayers,

		EventHistoryLimit: cfg.EventHistoryLimit,
		UseSimdHash:       cfg.UseSimdHash,

		BackupsEnabled:   cfg.BackupsEnabled(),
		B2Bucket:         cfg.B2Bucket,
		B2Prefix:         cfg.B2Prefix,
		B2CredentialsSet: cfg.B2AccountID != "" && cfg.B2AppKey != "",
		BackupInterval:   cfg.BackupInterval.String(),

		DebugLogging: cfg.DebugLogging,
		LogToStdout:  cfg.LogToStdout,
	}
}

func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.LogDir) == "" {
		return fmt.Errorf("log_dir is required; point it at the Zomboid server's Logs directory")
	}
	if strings.TrimSpace(cfg.LogGlob) == "" {
		return fmt.Errorf("log_glob cannot be empty")
	}
	if _, err := filepath.Match(cfg.LogGlob, "probe"); err != nil {
		return fmt.Errorf("log_glob %q is not a valid pattern: %w", cfg.LogGlob, err)
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return fmt.Errorf("data_dir cannot be empty")
	}
	if cfg.PollInterval < 500*time.Millisecond {
		return fmt.Errorf("poll_interval_seconds must be at least 1, got %s", cfg.PollInterval)
	}
	if cfg.HistoryParallelism < 1 || cfg.HistoryParallelism > 64 {
		return fmt.Errorf("history_parallelism must be between 1 and 64, got %d", cfg.HistoryParallelism)
	}
	if cfg.WatchlistLimit <= 0 {
		return fmt.Errorf("watchlist_limit must be > 0, got %d", cfg.WatchlistLimit)
	}
	if cfg.WatchlistLimit > 500 {
		return fmt.Errorf("watchlist_limit cannot exceed 500, got %d", cfg.WatchlistLimit)
	}
	if cfg.EventHistoryLimit < 0 {
		return fmt.Errorf("event_history_limit cannot be negative")
	}
	if cfg.StatusAddr != "" && cfg.StatusRateLimitPerMin <= 0 {
		return fmt.Errorf("status_rate_limit_per_minute must be > 0, got %d", cfg.StatusRateLimitPerMin)
	}
	if cfg.DiscordToken != "" && cfg.DiscordChannelID == "" {
		return fmt.Errorf("discord_token is set but discord_channel_id is empty")
	}
	if cfg.DiscordChannelID != "" && cfg.DiscordToken == "" {
		return fmt.Errorf("discord_channel_id is set but secrets.toml has no discord_token")
	}
	if cfg.B2Bucket != "" {
		if cfg.B2AccountID == "" || cfg.B2AppKey == "" {
			return fmt.Errorf("b2_bucket is set but secrets.toml is missing b2_account_id or b2_application_key")
		}
		if cfg.BackupInterval < time.Minute {
			return fmt.Errorf("backup_interval_minutes must be at least 1, got %s", cfg.BackupInterval)
		}
	}
	return nil
}

// buildFileConfig converts a resolved Config back into its file form for
// writing config.toml. Every optional field is filled so the generated file
// doubles as documentation of the current values.
func buildFileConfig(cfg Config) fileConfig {
	intPtr := func(v int) *int { return &v }
	boolPtr := func(v bool) *bool { return &v }
	stringPtr := func(v string) *string { return &v }

	return fileConfig{
		LogDir:             cfg.LogDir,
		LogGlob:            cfg.LogGlob,
		PollSeconds:        intPtr(int(cfg.PollInterval / time.Second)),
		NotifyOnDisconnect: boolPtr(cfg.NotifyOnDisconnect),
		NotifyOnConnect:    boolPtr(cfg.NotifyOnConnect),
		HistoryParallelism: intPtr(cfg.HistoryParallelism),

		DataDir: cfg.DataDir,

		DiscordChannelID: cfg.DiscordChannelID,
		DiscordGuildID:   cfg.DiscordGuildID,
		WatchlistLimit:   intPtr(cfg.WatchlistLimit),

		StatusListen:          stringPtr(cfg.StatusAddr),
		StatusRateLimitPerMin: intPtr(cfg.StatusRateLimitPerMin),
		AnonymizePlayers:      boolPtr(cfg.AnonymizePlayers),

		EventHistoryLimit: intPtr(cfg.EventHistoryLimit),
		UseSimdHash:       boolPtr(cfg.UseSimdHash),

		B2Bucket:          cfg.B2Bucket,
		B2Prefix:          cfg.B2Prefix,
		BackupIntervalMin: intPtr(int(cfg.BackupInterval / time.Minute)),

		DebugLogging: boolPtr(cfg.DebugLogging),
		LogToStdout:  boolPtr(cfg.LogToStdout),
	}
}
