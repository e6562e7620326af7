package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"threadrelay/internal/channel"
	"threadrelay/internal/config"
	"threadrelay/internal/journal"
	"threadrelay/internal/mapping"
	"threadrelay/internal/metrics"
	"threadrelay/internal/relay"

	"github.com/spf13/cobra"
)

var (
	version    = "0.3.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
	debug      bool
)

func main() {
	logger = newLogger("info")

	root := &cobra.Command{
		Use:   "threadrelay",
		Short: "threadrelay: Discord thread-to-channel message relay",
		Long:  "threadrelay mirrors Discord thread messages into mapped channels, live and by history backfill.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: ~/.threadrelay/config.yaml)")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	root.AddCommand(runCmd())
	root.AddCommand(validateCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	if debug {
		l = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

func loadConfig() (*config.Config, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		if configPath != "" {
			return nil, fmt.Errorf("load config: %w", err)
		}
		logger.Warn("config not found, using defaults", "path", cfgPath, "err", err)
		cfg = config.Defaults()
	}
	// The token can live outside the config file entirely.
	if cfg.Discord.Token == "" {
		cfg.Discord.Token = os.Getenv("DISCORD_TOKEN")
	}
	return cfg, nil
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to Discord and relay mapped threads",
		Long:  "Loads mappings from the config file and THREAD_MAPPING_* environment entries, connects to the gateway, and relays until interrupted.",
		RunE:  runRelay,
	}
}

func runRelay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger = newLogger(cfg.General.LogLevel)

	if cfg.Discord.Token == "" {
		return fmt.Errorf("no Discord token: set discord.token in the config file or the DISCORD_TOKEN environment variable")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Environment entries load after the file, so they win on duplicate
	// thread ids.
	store := mapping.New(logger)
	entries := append([]string{}, cfg.Mappings...)
	entries = append(entries, config.EnvMappings(os.Environ())...)
	store.Load(entries)
	if store.Len() == 0 {
		logger.Warn("no thread mappings configured; only operator commands will do anything")
	}

	var jrnl relay.Journal
	if cfg.Journal.Enabled {
		js, err := journal.Open(cfg.Journal.DBPath, logger)
		if err != nil {
			return fmt.Errorf("delivery journal: %w", err)
		}
		defer js.Close()
		jrnl = js
		logger.Info("delivery journal enabled", "path", cfg.Journal.DBPath)
	}

	discord := channel.NewDiscord(channel.DiscordConfig{
		Token:  cfg.Discord.Token,
		Logger: logger,
	})
	if err := discord.Connect(); err != nil {
		return err
	}

	backfill := relay.NewBackfill(relay.BackfillConfig{
		Store:     store,
		Fetcher:   discord,
		Deliverer: discord,
		Journal:   jrnl,
		Logger:    logger,
		PageSize:  cfg.Backfill.PageSize,
		PostDelay: cfg.Backfill.PostDelay(),
	})

	dispatcher := relay.NewDispatcher(relay.DispatcherConfig{
		Store:     store,
		Deliverer: discord,
		Backfill:  backfill,
		Journal:   jrnl,
		Logger:    logger,
	})

	if cfg.General.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.General.MetricsAddr, logger); err != nil {
				logger.Error("metrics server error", "err", err)
			}
		}()
	}

	if cfg.Backfill.AutoStart {
		go runAutoBackfills(ctx, store, backfill)
	}

	logger.Info("relay starting", "mappings", store.Len(), "version", version)
	return discord.Start(ctx, dispatcher)
}

// runAutoBackfills kicks off a backfill for every rule flagged for one.
// Sequential on purpose: parallel history replays would compete for the same
// rate-limit budget.
func runAutoBackfills(ctx context.Context, store *mapping.Store, backfill *relay.Backfill) {
	for _, rule := range store.Rules() {
		if !rule.Backfill {
			continue
		}
		count, err := backfill.Run(ctx, rule.ThreadID)
		if err != nil {
			logger.Error("startup backfill failed", "thread_id", rule.ThreadID, "delivered", count, "err", err)
			continue
		}
		logger.Info("startup backfill finished", "thread_id", rule.ThreadID, "messages", count)
	}
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config file and mapping entries without connecting",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}

			store := mapping.New(logger)
			entries := append([]string{}, cfg.Mappings...)
			entries = append(entries, config.EnvMappings(os.Environ())...)
			errs := store.Load(entries)

			fmt.Printf("config:   %s ok\n", cfgPath)
			fmt.Printf("mappings: %d valid, %d rejected\n", store.Len(), len(errs))
			for _, e := range errs {
				fmt.Printf("  - %v\n", e)
			}
			if len(errs) > 0 {
				return fmt.Errorf("%d mapping entries rejected", len(errs))
			}
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configured mappings and recent journaled deliveries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			store := mapping.New(logger)
			entries := append([]string{}, cfg.Mappings...)
			entries = append(entries, config.EnvMappings(os.Environ())...)
			store.Load(entries)

			fmt.Printf("mappings: %d\n", store.Len())
			for _, rule := range store.Rules() {
				fmt.Printf("  %s -> %s (%s", rule.ThreadID, rule.ChannelID, rule.Mode())
				if rule.Backfill {
					fmt.Print(", backfill")
				}
				fmt.Println(")")
			}

			if !cfg.Journal.Enabled {
				fmt.Println("journal:  disabled")
				return nil
			}
			js, err := journal.Open(cfg.Journal.DBPath, logger)
			if err != nil {
				return fmt.Errorf("delivery journal: %w", err)
			}
			defer js.Close()

			ctx := context.Background()
			fmt.Printf("journal:  %s\n", cfg.Journal.DBPath)
			for _, rule := range store.Rules() {
				n, err := js.CountByThread(ctx, rule.ThreadID)
				if err != nil {
					return err
				}
				fmt.Printf("  thread %s: %d deliveries journaled\n", rule.ThreadID, n)
			}
			recent, err := js.Recent(ctx, 10)
			if err != nil {
				return err
			}
			for _, rec := range recent {
				fmt.Printf("  %s  %s -> %s  message %s (%s)\n",
					rec.DeliveredAt.Format("2006-01-02 15:04:05"), rec.ThreadID, rec.ChannelID, rec.MessageID, rec.Mode)
			}
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("threadrelay " + version)
		},
	}
}
