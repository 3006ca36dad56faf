package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/cobra"

	"github.com/amishk599/jobalert/internal/adapter"
	"github.com/amishk599/jobalert/internal/aggregator"
	"github.com/amishk599/jobalert/internal/alert"
	"github.com/amishk599/jobalert/internal/cache"
	"github.com/amishk599/jobalert/internal/config"
	"github.com/amishk599/jobalert/internal/model"
	"github.com/amishk599/jobalert/internal/notifier"
	"github.com/amishk599/jobalert/internal/ratelimit"
	"github.com/amishk599/jobalert/internal/retry"
)

var (
	cfgPath string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "jobalert",
	Short: "Job alerts over Telegram",
	Long:  "jobalert searches job boards for every subscriber's saved search and sends new listings to their Telegram chat.",
	// Default to `start` so that `jobalert` with no args runs the service.
	RunE: runStart,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file (default: JOBALERT_CONFIG env var or ./config.yaml when present)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

// loadConfig resolves the config path and parses it.
// Priority: explicit path arg > JOBALERT_CONFIG env var > "./config.yaml".
// Without any file the configuration comes from the environment alone.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		if env := os.Getenv("JOBALERT_CONFIG"); env != "" {
			path = env
		} else if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

func setupLogger(dbg bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if dbg {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
}

// mustLoadConfig loads the config or exits, the way every subcommand starts.
func mustLoadConfig(logger *slog.Logger) *config.Config {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	return cfg
}

// buildSources registers every provider that has credentials. Each one is
// retried on transient errors and spaced out by the shared limiter.
func buildSources(cfg *config.Config, httpClient *http.Client, logger *slog.Logger) []model.JobSource {
	src := cfg.Sources
	var sources []model.JobSource

	if src.Google.APIKey != "" {
		sources = append(sources, adapter.NewGoogleJobsAdapter(src.Google.APIKey, adapter.GoogleJobsOptions{
			Country:  src.Google.Country,
			Language: src.Google.Language,
			Results:  src.Google.Results,
		}, httpClient))
	}
	if src.Jobup.Token != "" {
		sources = append(sources, adapter.NewJobupAdapter(src.Jobup.Token, src.Jobup.MaxItems, httpClient))
	}
	if src.Adzuna.AppID != "" && src.Adzuna.AppKey != "" {
		sources = append(sources, adapter.NewAdzunaAdapter(src.Adzuna.AppID, src.Adzuna.AppKey, src.Adzuna.Country, httpClient))
	}
	if len(src.RSS.Feeds) > 0 {
		sources = append(sources, adapter.NewRSSAdapter(src.RSS.Feeds, httpClient))
	}

	limiter := ratelimit.NewKeyedLimiter(src.MinDelay)
	for i, s := range sources {
		s = retry.NewRetrySource(s, src.Retries, src.RetryBaseDelay, logger)
		sources[i] = ratelimit.NewRateLimitedSource(s, limiter)
		logger.Info("registered source", "source", s.Name())
	}
	return sources
}

// buildAggregator wires the sources behind the result cache. Redis is used
// when configured; otherwise results are cached in process. The returned
// func releases the cache connection.
func buildAggregator(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*aggregator.Aggregator, func(), error) {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	sources := buildSources(cfg, httpClient, logger)
	if len(sources) == 0 {
		return nil, nil, fmt.Errorf("no job sources configured")
	}

	opts := []aggregator.Option{aggregator.WithSourceTimeout(cfg.Sources.Timeout)}
	closeFn := func() {}

	if cfg.Cache.TTL > 0 {
		if cfg.Cache.RedisURL != "" {
			rc, err := cache.NewRedisCache(ctx, cfg.Cache.RedisURL)
			if err != nil {
				return nil, nil, fmt.Errorf("connecting to redis: %w", err)
			}
			closeFn = func() { rc.Close() }
			opts = append(opts, aggregator.WithCache(rc, cfg.Cache.TTL))
			logger.Info("using redis result cache", "ttl", cfg.Cache.TTL.String())
		} else {
			opts = append(opts, aggregator.WithCache(cache.NewMemoryCache(), cfg.Cache.TTL))
		}
	}

	return aggregator.New(sources, logger, opts...), closeFn, nil
}

// newBot authorizes the Telegram bot. It returns nil without a token.
func newBot(cfg *config.Config) (*tgbotapi.BotAPI, error) {
	if cfg.Telegram.BotToken == "" {
		return nil, nil
	}
	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		return nil, fmt.Errorf("authorizing telegram bot: %w", err)
	}
	return bot, nil
}

func setupSender(bot *tgbotapi.BotAPI, logger *slog.Logger) model.ChatSender {
	if bot == nil {
		logger.Warn("no telegram bot token, messages will only be logged")
		return notifier.NewLogSender(logger)
	}
	logger.Info("using telegram sender", "bot", bot.Self.UserName)
	return notifier.NewTelegramSender(bot, logger)
}

// setupAlerter returns the Slack alerter, or nil when no webhook is set.
func setupAlerter(cfg *config.Config, logger *slog.Logger) model.OpsAlerter {
	if cfg.Ops.SlackWebhookURL == "" {
		return nil
	}
	httpClient := &http.Client{Timeout: 30 * time.Second}
	return notifier.NewSlackAlerter(cfg.Ops.SlackWebhookURL, httpClient, logger)
}

func buildPipeline(cfg *config.Config, st model.AlertStore, fetcher alert.Fetcher, sender model.ChatSender, logger *slog.Logger) *alert.Pipeline {
	return alert.New(st, fetcher, sender, logger,
		alert.WithSendDelay(cfg.Alerts.SendDelay),
		alert.WithSubscriberDelay(cfg.Alerts.SubscriberDelay),
		alert.WithRecordOnDispatchFailure(cfg.Alerts.RecordOnDispatchFailure),
		alert.WithRunTimeout(cfg.Scheduler.RunTimeout),
	)
}
