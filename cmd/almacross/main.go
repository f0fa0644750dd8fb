package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rewired-gh/almacross/internal/config"
	"github.com/rewired-gh/almacross/internal/logger"
	"github.com/rewired-gh/almacross/internal/market"
	"github.com/rewired-gh/almacross/internal/metrics"
	"github.com/rewired-gh/almacross/internal/monitor"
	"github.com/rewired-gh/almacross/internal/scheduler"
	"github.com/rewired-gh/almacross/internal/storage"
	"github.com/rewired-gh/almacross/internal/telegram"
)

const (
	exitOK     = 0
	exitFailed = 1
	exitConfig = 2
)

var (
	configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")
	envFile    = flag.String("env-file", ".env", "Optional dotenv file with Telegram credentials")
	cronSpec   = flag.String("cron", "", "Run as a daemon on this cron schedule (overrides schedule.cron)")
)

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return exitConfig
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		return exitConfig
	}

	logger.Init(logger.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer logger.Sync()
	logger.Info("Configuration loaded from %s", *configPath)

	// Secrets are checked before any network call.
	creds, err := config.LoadCredentials(*envFile)
	if err != nil {
		logger.Error("Invalid credentials: %v", err)
		return exitConfig
	}

	store, err := storage.Open(storage.Config{
		Backend:       cfg.Storage.Backend,
		DBPath:        cfg.Storage.DBPath,
		RedisAddr:     cfg.Storage.RedisAddr,
		RedisPassword: cfg.Storage.RedisPassword,
		RedisDB:       cfg.Storage.RedisDB,
		RedisKey:      cfg.Storage.RedisKey,
	})
	if err != nil {
		logger.Error("Failed to initialize storage: %v", err)
		return exitFailed
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	met := metrics.New()

	var secondary market.Source
	if cfg.Market.SecondaryURL != "" {
		secondary = market.NewHTTPSource("secondary", cfg.Market.SecondaryURL, cfg.Market.Timeout)
	}
	fetcher := market.NewFetcher(
		market.NewHTTPSource("primary", cfg.Market.PrimaryURL, cfg.Market.Timeout),
		secondary,
		market.FetcherConfig{
			MaxRetries: cfg.Market.MaxRetries,
			RetryDelay: cfg.Market.RetryDelay,
		},
	)
	fetcher.OnFallback = func(error) { met.ObserveFallback() }

	telegramClient, err := telegram.NewClient(creds.BotToken, creds.ChatID, telegram.Options{
		MaxRetries: cfg.Telegram.MaxRetries,
		RetryDelay: cfg.Telegram.RetryDelay,
		ParseMode:  cfg.Telegram.ParseMode,
	})
	if err != nil {
		logger.Error("Failed to initialize Telegram client: %v", err)
		return exitConfig
	}

	mon := monitor.New(fetcher, telegramClient, store, monitor.Config{
		Symbol:                 cfg.Market.Symbol,
		Interval:               cfg.Market.Interval,
		Limit:                  cfg.Market.Limit,
		ShortWindow:            cfg.Indicator.ShortWindow,
		LongWindow:             cfg.Indicator.LongWindow,
		Offset:                 cfg.Indicator.Offset,
		Sigma:                  cfg.Indicator.Sigma,
		ClosedCandleLag:        cfg.Detector.ClosedCandleLag,
		PersistOnNotifyFailure: cfg.Alert.PersistOnFailure,
		LockTTL:                cfg.Storage.LockTTL,
	}, met)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pass := func() int {
		code := runPass(ctx, mon, telegramClient, cfg.Telegram.NotifyErrors)
		pushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := met.Push(pushCtx, cfg.Metrics.PushgatewayURL, cfg.Metrics.Job); err != nil {
			logger.Warn("Failed to push metrics: %v", err)
		}
		return code
	}

	spec := cfg.Schedule.Cron
	if *cronSpec != "" {
		spec = *cronSpec
	}
	if spec == "" {
		return pass()
	}

	sched, err := scheduler.New(spec, func() { pass() })
	if err != nil {
		logger.Error("Failed to create scheduler: %v", err)
		return exitConfig
	}
	telegramClient.ListenForCommands(ctx, func() string { return statusText(store, cfg) })

	logger.Info("Starting daemon (schedule: %s, symbol: %s, interval: %s, ALMA %d/%d, lag: %d)",
		spec, cfg.Market.Symbol, cfg.Market.Interval,
		cfg.Indicator.ShortWindow, cfg.Indicator.LongWindow, cfg.Detector.ClosedCandleLag)
	sched.Start()

	<-ctx.Done()
	logger.Info("Shutdown signal received, waiting for the running pass...")
	<-sched.Stop().Done()
	logger.Info("Service stopped")
	return exitOK
}

type passRunner interface {
	RunOnce(ctx context.Context) (monitor.Outcome, error)
}

type errorNotifier interface {
	SendError(err error) error
}

// runPass executes one pass and maps its result to an exit code. Only a
// failed pass is non-zero; an undelivered alert still completes the pass.
func runPass(ctx context.Context, runner passRunner, notifier errorNotifier, notifyErrors bool) int {
	out, err := runner.RunOnce(ctx)
	if err == nil {
		if out.NotifyErr != nil {
			logger.Warn("Pass completed without delivering the alert: %v", out.NotifyErr)
		}
		return exitOK
	}

	logger.Error("Alert pass failed: %v", err)
	if errors.Is(err, market.ErrDataUnavailable) && notifyErrors {
		if sendErr := notifier.SendError(err); sendErr != nil {
			logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
		}
	}
	return exitFailed
}

// statusText answers the /status command.
func statusText(store storage.Store, cfg *config.Config) string {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	head := fmt.Sprintf("%s %s, ALMA %d/%d", cfg.Market.Symbol, cfg.Market.Interval,
		cfg.Indicator.ShortWindow, cfg.Indicator.LongWindow)

	state := store.Load(ctx)
	if !state.HasAlerted {
		return head + "\nNo alert sent yet"
	}

	alerts, err := store.RecentAlerts(ctx, 1)
	if err != nil || len(alerts) == 0 {
		closedAt := time.UnixMilli(state.LastAlertedCandle).UTC().Format(time.RFC3339)
		return fmt.Sprintf("%s\nLast alerted candle: %s", head, closedAt)
	}
	a := alerts[0]
	return fmt.Sprintf("%s\nLast alert: %s cross at %s (close %s)", head, a.Event,
		a.CandleClosedAt().Format(time.RFC3339), telegram.FormatPrice(a.Close))
}
