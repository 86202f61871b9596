package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"transferwatch/internal/chain"
	"transferwatch/internal/config"
	"transferwatch/internal/dispatch"
	"transferwatch/internal/feed"
	"transferwatch/internal/filter"
	"transferwatch/internal/notify"
	"transferwatch/internal/pipeline"
	"transferwatch/internal/storage"
	"transferwatch/internal/storage/postgres"
	"transferwatch/internal/subscription"
	"transferwatch/internal/watch"
)

func main() {
	root := &cobra.Command{
		Use:          "watcher",
		Short:        "Wallet transfer watcher",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the watcher",
		RunE:  runWatcher,
	}

	runCmd.Flags().String("rpc", "", "chain RPC URL (websocket endpoint)")
	runCmd.Flags().String("watch-file", "./watch.yaml", "watch configuration file")
	runCmd.Flags().String("listen-addr", ":8080", "HTTP listen address for feed and status")
	runCmd.Flags().String("pg-dsn", "", "Postgres DSN (optional)")
	runCmd.Flags().String("out", "./data/transfers.jsonl", "durable JSONL output path (empty disables)")
	runCmd.Flags().Int("retention", 1000, "in-memory event retention count")
	runCmd.Flags().Int("workers", 4, "concurrent event processors")
	runCmd.Flags().Duration("reconnect-base-delay", time.Second, "reconnect backoff base delay")
	runCmd.Flags().Int("reconnect-max-attempts", 5, "consecutive failures before giving up")
	runCmd.Flags().Int("seen-capacity", 10000, "recently-seen transaction hash capacity")
	runCmd.Flags().Duration("flush-interval", 500*time.Millisecond, "persistence flush interval")
	runCmd.Flags().Int("notify-max-attempts", 3, "notification retry attempts")
	runCmd.Flags().String("telegram-token", "", "Telegram bot token (empty logs alerts instead)")
	runCmd.Flags().String("telegram-chat-id", "", "Telegram chat id")
	runCmd.Flags().Int("max-subscribers", 256, "live feed subscriber cap")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runWatcher(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}

	watchCfg, err := watch.LoadFile(cfg.WatchFile)
	if err != nil {
		return fmt.Errorf("load watch file: %w", err)
	}
	store, err := watch.NewStore(watchCfg, logger)
	if err != nil {
		return err
	}
	if err := store.WatchFile(cfg.WatchFile); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	signer := resolveSigner(ctx, cfg.RPCURL, logger)

	memory := storage.NewMemoryStore(cfg.Retention)
	var extras []storage.Appender
	if cfg.Out != "" {
		extras = append(extras, storage.NewJsonlStore(cfg.Out))
	}
	if cfg.PGDSN != "" {
		pgStore, err := postgres.NewStore(ctx, cfg.PGDSN, cfg.Retention)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pgStore.Close()
		extras = append(extras, pgStore)
	}
	eventStore := storage.NewFanout(memory, extras...)

	var notifier notify.Notifier
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		notifier = notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID)
	} else {
		logger.Info("no telegram credentials, alerts go to the log")
		notifier = notify.NewLogNotifier(logger)
	}

	hub := feed.NewHub(cfg.MaxSubscribers, logger)

	manager := subscription.NewManager(subscription.Config{
		BaseDelay:   cfg.ReconnectBaseDelay,
		MaxAttempts: cfg.ReconnectMaxAttempts,
	}, subscription.DialChain(cfg.RPCURL), store, logger)

	filters := filter.NewChain(logger, filter.WithSeenCapacity(cfg.SeenCapacity))

	dispatcher := dispatch.NewDispatcher(dispatch.Config{
		Retry: dispatch.RetryPolicy{
			MaxAttempts:    cfg.NotifyMaxAttempts,
			TransientDelay: 2 * time.Second,
			FailureDelay:   500 * time.Millisecond,
		},
		FlushInterval: cfg.FlushInterval,
	}, eventStore, notifier, hub, logger)

	normalizer := pipeline.NewNormalizer(store, manager.TokenMeta, signer, logger)
	runner := pipeline.NewRunner(manager.Candidates(), normalizer, filters, dispatcher, store, cfg.Workers, logger)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: newMux(hub, manager, filters, dispatcher, memory),
	}

	logger.Info("watcher start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("watch_file", cfg.WatchFile),
		zap.String("listen_addr", cfg.ListenAddr),
		zap.String("mode", string(watchCfg.TrackingMode)),
		zap.Int("watched_wallets", len(watchCfg.WatchedWallets)))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return manager.Run(ctx) })
	g.Go(func() error { return runner.Run(ctx) })
	g.Go(func() error { return dispatcher.Run(ctx) })
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		if errors.Is(err, subscription.ErrAttemptsExhausted) {
			logger.Error("ingestion halted, operator action required", zap.Error(err))
		}
		return err
	}
	return nil
}

// resolveSigner fetches the chain ID once to build the sender-recovery
// signer. A failure is tolerated; native transfers are dropped until
// restart in that case.
func resolveSigner(ctx context.Context, rpcURL string, logger *zap.Logger) types.Signer {
	client, err := chain.NewClient(ctx, rpcURL)
	if err != nil {
		logger.Warn("initial dial for chain id failed", zap.Error(err))
		return nil
	}
	defer client.Close()

	signer, err := client.NetworkSigner(ctx)
	if err != nil {
		logger.Warn("chain id fetch failed, native sender recovery disabled", zap.Error(err))
		return nil
	}
	return signer
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
