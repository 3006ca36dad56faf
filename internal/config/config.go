package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the job alert service.
type Config struct {
	DatabaseURL string
	Telegram    TelegramConfig
	Admin       AdminConfig
	Scheduler   SchedulerConfig
	Alerts      AlertsConfig
	Sources     SourcesConfig
	Cache       CacheConfig
	Ops         OpsConfig
}

// TelegramConfig holds the bot credentials. Without a token messages are
// written to the log instead of being sent.
type TelegramConfig struct {
	BotToken string
	Listen   bool // answer subscriber commands by long polling
}

// AdminConfig controls the operator HTTP surface.
type AdminConfig struct {
	Enabled bool
	Port    int
	Token   string
}

// SchedulerConfig controls the recurring tasks.
type SchedulerConfig struct {
	Enabled     bool
	Cron        string
	CleanupCron string
	Timezone    string
	RunTimeout  time.Duration
}

// AlertsConfig tunes the alert pipeline.
type AlertsConfig struct {
	SendDelay               time.Duration // gap between two messages to the same chat
	SubscriberDelay         time.Duration // pause between subscribers in a run
	RecordOnDispatchFailure bool          // record failed sends so they are not retried
	RetentionDays           int
}

// SourcesConfig lists the listing providers. A provider without credentials
// is not registered.
type SourcesConfig struct {
	Google         GoogleConfig
	Jobup          JobupConfig
	Adzuna         AdzunaConfig
	RSS            RSSConfig
	Retries        int
	RetryBaseDelay time.Duration
	MinDelay       time.Duration // minimum gap between two calls to the same provider
	Timeout        time.Duration // per-provider budget for one search
}

type GoogleConfig struct {
	APIKey   string `yaml:"api_key"`
	Country  string `yaml:"country"`
	Language string `yaml:"language"`
	Results  int    `yaml:"results"`
}

type JobupConfig struct {
	Token    string `yaml:"token"`
	MaxItems int    `yaml:"max_items"`
}

type AdzunaConfig struct {
	AppID   string `yaml:"app_id"`
	AppKey  string `yaml:"app_key"`
	Country string `yaml:"country"`
}

type RSSConfig struct {
	Feeds []string `yaml:"feeds"`
}

// CacheConfig controls the search result cache. An empty RedisURL keeps the
// cache in process memory; a zero TTL disables caching.
type CacheConfig struct {
	RedisURL string
	TTL      time.Duration
}

// OpsConfig routes failure alerts to operators.
type OpsConfig struct {
	SlackWebhookURL string `yaml:"slack_webhook_url"`
}

const (
	defaultDatabaseURL = "jobalert.db"
	defaultPort        = 3000
	defaultCron        = "0 */2 * * *"
	defaultCleanupCron = "0 2 * * *"
	defaultTimezone    = "Europe/Zurich"
	slackWebhookPrefix = "https://hooks.slack.com/"
)

// rawConfig is used for YAML unmarshaling (snake_case fields and durations as strings).
type rawConfig struct {
	DatabaseURL string             `yaml:"database_url"`
	Telegram    rawTelegramConfig  `yaml:"telegram"`
	Admin       rawAdminConfig     `yaml:"admin"`
	Scheduler   rawSchedulerConfig `yaml:"scheduler"`
	Alerts      rawAlertsConfig    `yaml:"alerts"`
	Sources     rawSourcesConfig   `yaml:"sources"`
	Cache       rawCacheConfig     `yaml:"cache"`
	Ops         OpsConfig          `yaml:"ops"`
}

type rawTelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	Listen   *bool  `yaml:"listen"`
}

type rawAdminConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Token   string `yaml:"token"`
}

type rawSchedulerConfig struct {
	Enabled     *bool  `yaml:"enabled"`
	Cron        string `yaml:"cron"`
	CleanupCron string `yaml:"cleanup_cron"`
	Timezone    string `yaml:"timezone"`
	RunTimeout  string `yaml:"run_timeout"`
}

type rawAlertsConfig struct {
	SendDelay               string `yaml:"send_delay"`
	SubscriberDelay         string `yaml:"subscriber_delay"`
	RecordOnDispatchFailure *bool  `yaml:"record_on_dispatch_failure"`
	RetentionDays           int    `yaml:"retention_days"`
}

type rawSourcesConfig struct {
	Google         GoogleConfig `yaml:"google"`
	Jobup          JobupConfig  `yaml:"jobup"`
	Adzuna         AdzunaConfig `yaml:"adzuna"`
	RSS            RSSConfig    `yaml:"rss"`
	Retries        *int         `yaml:"retries"`
	RetryBaseDelay string       `yaml:"retry_base_delay"`
	MinDelay       string       `yaml:"min_delay"`
	Timeout        string       `yaml:"timeout"`
}

type rawCacheConfig struct {
	RedisURL string `yaml:"redis_url"`
	TTL      string `yaml:"ttl"`
}

// Load reads the YAML config file at path, applies environment overrides,
// validates it, and returns Config. An empty path configures from the
// environment alone. A .env file in the working directory is loaded first
// and never overrides variables that are already set.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var raw rawConfig
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}

		// Expand environment variables
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := applyEnv(&raw); err != nil {
		return nil, err
	}

	cfg, err := build(raw)
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv lets well-known variables override the file.
func applyEnv(raw *rawConfig) error {
	setString := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := os.LookupEnv(k); ok && v != "" {
				*dst = v
				return
			}
		}
	}
	setString(&raw.DatabaseURL, "DATABASE_URL")
	setString(&raw.Telegram.BotToken, "TELEGRAM_BOT_TOKEN")
	setString(&raw.Admin.Token, "ADMIN_TOKEN")
	setString(&raw.Scheduler.Cron, "SCHEDULER_CRON")
	setString(&raw.Sources.Google.APIKey, "SERPAPI_API_KEY")
	setString(&raw.Sources.Jobup.Token, "APIFY_TOKEN", "APIFY_API_TOKEN")
	setString(&raw.Sources.Adzuna.AppID, "ADZUNA_APP_ID")
	setString(&raw.Sources.Adzuna.AppKey, "ADZUNA_APP_KEY")
	setString(&raw.Cache.RedisURL, "REDIS_URL")
	setString(&raw.Ops.SlackWebhookURL, "SLACK_WEBHOOK_URL")

	if v := os.Getenv("SCHEDULER_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse SCHEDULER_ENABLED %q: %w", v, err)
		}
		raw.Scheduler.Enabled = &b
	}
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse PORT %q: %w", v, err)
		}
		raw.Admin.Port = port
	}
	return nil
}

func build(raw rawConfig) (*Config, error) {
	var err error
	duration := func(field, value string, def time.Duration) time.Duration {
		if err != nil || value == "" {
			return def
		}
		d, perr := time.ParseDuration(value)
		if perr != nil {
			err = fmt.Errorf("parse %s %q: %w", field, value, perr)
			return def
		}
		return d
	}

	retries := 2
	if raw.Sources.Retries != nil {
		retries = *raw.Sources.Retries
	}

	cfg := &Config{
		DatabaseURL: orDefault(raw.DatabaseURL, defaultDatabaseURL),
		Telegram: TelegramConfig{
			BotToken: raw.Telegram.BotToken,
			Listen:   boolOr(raw.Telegram.Listen, true),
		},
		Admin: AdminConfig{
			Enabled: boolOr(raw.Admin.Enabled, true),
			Port:    raw.Admin.Port,
			Token:   raw.Admin.Token,
		},
		Scheduler: SchedulerConfig{
			Enabled:     boolOr(raw.Scheduler.Enabled, true),
			Cron:        orDefault(raw.Scheduler.Cron, defaultCron),
			CleanupCron: orDefault(raw.Scheduler.CleanupCron, defaultCleanupCron),
			Timezone:    orDefault(raw.Scheduler.Timezone, defaultTimezone),
			RunTimeout:  duration("scheduler.run_timeout", raw.Scheduler.RunTimeout, 30*time.Minute),
		},
		Alerts: AlertsConfig{
			SendDelay:               duration("alerts.send_delay", raw.Alerts.SendDelay, 500*time.Millisecond),
			SubscriberDelay:         duration("alerts.subscriber_delay", raw.Alerts.SubscriberDelay, time.Second),
			RecordOnDispatchFailure: boolOr(raw.Alerts.RecordOnDispatchFailure, true),
			RetentionDays:           raw.Alerts.RetentionDays,
		},
		Sources: SourcesConfig{
			Google:         raw.Sources.Google,
			Jobup:          raw.Sources.Jobup,
			Adzuna:         raw.Sources.Adzuna,
			RSS:            raw.Sources.RSS,
			Retries:        retries,
			RetryBaseDelay: duration("sources.retry_base_delay", raw.Sources.RetryBaseDelay, 2*time.Second),
			MinDelay:       duration("sources.min_delay", raw.Sources.MinDelay, time.Second),
			Timeout:        duration("sources.timeout", raw.Sources.Timeout, 2*time.Minute),
		},
		Cache: CacheConfig{
			RedisURL: raw.Cache.RedisURL,
			TTL:      duration("cache.ttl", raw.Cache.TTL, 10*time.Minute),
		},
		Ops: raw.Ops,
	}
	if err != nil {
		return nil, err
	}

	if cfg.Admin.Port == 0 {
		cfg.Admin.Port = defaultPort
	}
	if cfg.Alerts.RetentionDays == 0 {
		cfg.Alerts.RetentionDays = 90
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.Admin.Port < 1 || cfg.Admin.Port > 65535 {
		return fmt.Errorf("admin.port must be between 1 and 65535, got %d", cfg.Admin.Port)
	}
	if cfg.Admin.Enabled && cfg.Admin.Token == "" {
		return fmt.Errorf("admin.token (or ADMIN_TOKEN) is required when the admin server is enabled")
	}

	if _, err := cron.ParseStandard(cfg.Scheduler.Cron); err != nil {
		return fmt.Errorf("scheduler.cron %q: %w", cfg.Scheduler.Cron, err)
	}
	if _, err := cron.ParseStandard(cfg.Scheduler.CleanupCron); err != nil {
		return fmt.Errorf("scheduler.cleanup_cron %q: %w", cfg.Scheduler.CleanupCron, err)
	}
	if _, err := time.LoadLocation(cfg.Scheduler.Timezone); err != nil {
		return fmt.Errorf("scheduler.timezone %q: %w", cfg.Scheduler.Timezone, err)
	}
	if cfg.Scheduler.RunTimeout <= 0 {
		return fmt.Errorf("scheduler.run_timeout must be positive, got %v", cfg.Scheduler.RunTimeout)
	}

	if cfg.Alerts.SendDelay < 0 || cfg.Alerts.SubscriberDelay < 0 {
		return fmt.Errorf("alerts delays must not be negative")
	}
	if cfg.Alerts.RetentionDays < 1 {
		return fmt.Errorf("alerts.retention_days must be positive, got %d", cfg.Alerts.RetentionDays)
	}

	if cfg.Sources.Retries < 0 {
		return fmt.Errorf("sources.retries must not be negative, got %d", cfg.Sources.Retries)
	}
	if (cfg.Sources.Adzuna.AppID == "") != (cfg.Sources.Adzuna.AppKey == "") {
		return fmt.Errorf("sources.adzuna needs both app_id and app_key")
	}
	if !cfg.Sources.AnyEnabled() {
		return fmt.Errorf("at least one job source must be configured (google, jobup, adzuna or rss)")
	}

	if cfg.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl must not be negative, got %v", cfg.Cache.TTL)
	}

	if url := cfg.Ops.SlackWebhookURL; url != "" && !strings.HasPrefix(url, slackWebhookPrefix) {
		return fmt.Errorf("ops.slack_webhook_url must start with %s", slackWebhookPrefix)
	}
	return nil
}

// AnyEnabled reports whether at least one provider has credentials.
func (s SourcesConfig) AnyEnabled() bool {
	return s.Google.APIKey != "" || s.Jobup.Token != "" || s.Adzuna.AppID != "" || len(s.RSS.Feeds) > 0
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
