package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/scribe/internal/api"
	"github.com/MikeSquared-Agency/scribe/internal/backfill"
	"github.com/MikeSquared-Agency/scribe/internal/chat"
	"github.com/MikeSquared-Agency/scribe/internal/config"
	"github.com/MikeSquared-Agency/scribe/internal/hermes"
	"github.com/MikeSquared-Agency/scribe/internal/llm"
	"github.com/MikeSquared-Agency/scribe/internal/store"
	"github.com/MikeSquared-Agency/scribe/internal/transcript"
)

func main() {
	root := &cobra.Command{
		Use:          "scribe",
		Short:        "Streaming conversation transcript service",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd(), migrateCmd(), importCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			setupLogging(cfg.LogLevel)
			return serve(cmd.Context(), cfg)
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the store schema and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			setupLogging(cfg.LogLevel)

			db, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			slog.Info("schema migrated", "store", cfg.Store)
			return nil
		},
	}
}

func importCmd() *cobra.Command {
	var (
		cfg             backfill.Config
		since, until    string
		includeHeadless bool
		generateTitles  bool
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import JSONL session logs as conversations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appCfg, err := config.Load()
			if err != nil {
				return err
			}
			setupLogging(appCfg.LogLevel)

			if cfg.Since, err = parseDate(since); err != nil {
				return fmt.Errorf("--since: %w", err)
			}
			if cfg.Until, err = parseDate(until); err != nil {
				return fmt.Errorf("--until: %w", err)
			}
			if !cfg.Until.IsZero() {
				cfg.Until = cfg.Until.Add(24*time.Hour - time.Nanosecond)
			}
			cfg.SkipNoHuman = !includeHeadless

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			db, err := openStore(ctx, appCfg)
			if err != nil {
				return err
			}
			defer db.Close()
			svc := transcript.NewService(db, nil, slog.Default(), appCfg.MaxConflictRetries)

			var titler backfill.Titler
			if generateTitles {
				gen, err := llm.New(llmOptions(appCfg), slog.Default())
				if err != nil {
					return fmt.Errorf("--titles: %w", err)
				}
				titler = gen
			}

			sum, err := backfill.NewRunner(cfg, svc, titler, slog.Default()).Run(ctx)
			fmt.Printf("\n=== Import Summary ===\n")
			fmt.Printf("Files processed: %d\n", sum.Files)
			fmt.Printf("Conversations created: %d\n", sum.Created)
			fmt.Printf("Already present: %d\n", sum.Existing)
			fmt.Printf("Duplicates skipped: %d\n", sum.Duplicates)
			fmt.Printf("Entries imported: %d\n", sum.Entries)
			fmt.Printf("Errors: %d\n", sum.Errors)
			if cfg.DryRun {
				fmt.Printf("Mode: DRY RUN (no writes)\n")
			}
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.SessionDir, "sessions", "", "directory of parent-linked session logs")
	f.StringVar(&cfg.GatewayDir, "gateway", "", "directory of gateway event logs")
	f.StringVar(&cfg.SingleFile, "file", "", "import a single file")
	f.StringVar(&cfg.Author, "author", "", "author id that owns the imported conversations")
	f.StringVar(&since, "since", "", "only logs with messages on or after this date (YYYY-MM-DD)")
	f.StringVar(&until, "until", "", "only logs with messages on or before this date (YYYY-MM-DD)")
	f.IntVar(&cfg.MinMessages, "min-messages", 2, "skip logs with fewer messages")
	f.BoolVar(&includeHeadless, "include-automated", false, "keep logs with no human messages")
	f.BoolVar(&generateTitles, "titles", false, "name conversations with the configured generator")
	f.BoolVar(&cfg.DryRun, "dry-run", false, "parse and report without writing")
	f.StringVar(&cfg.StatePath, "state", backfill.DefaultStatePath, "progress file for resumable runs")
	f.StringVar(&cfg.KeyPrefix, "key-prefix", "import-", "prefix for conversation keys")
	_ = cmd.MarkFlagRequired("author")
	return cmd
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", s)
}

func serve(parent context.Context, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("scribe starting", "port", cfg.Port, "store", cfg.Store)

	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// NATS/Hermes (optional, carries the change feed and watch)
	var (
		notifier transcript.Notifier
		watcher  api.Watcher
		beat     hermes.Publisher
	)
	if cfg.NatsURL != "" {
		hermesClient, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
		if err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		defer hermesClient.Close()
		notifier = hermes.NewTranscriptNotifier(hermesClient, slog.Default())
		watcher = hermesClient
		beat = hermesClient
		slog.Info("NATS connected", "url", cfg.NatsURL)

		if err := hermesClient.Publish("swarm.agent.scribe.registered", map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"port":      cfg.Port,
		}); err != nil {
			slog.Warn("failed to publish registration", "error", err)
		}
	} else {
		slog.Warn("NATS not configured, running without change feed")
	}

	svc := transcript.NewService(db, notifier, slog.Default(), cfg.MaxConflictRetries)

	// Generation (optional, the runner routes need it)
	var runner api.Runner
	gen, err := llm.New(llmOptions(cfg), slog.Default())
	if err != nil {
		slog.Warn("generation disabled", "reason", err)
	} else {
		runner = chat.New(svc, gen, slog.Default())
		slog.Info("generator ready", "provider", cfg.LLMProvider, "model", cfg.Model)
	}

	srv := api.NewServer(cfg.Port, cfg.APIToken, api.Deps{
		Transcripts: svc,
		Runner:      runner,
		Watcher:     watcher,
		Logger:      slog.Default(),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	if beat != nil {
		g.Go(func() error {
			return hermes.Heartbeat(gctx, beat, cfg.HeartbeatInterval, cfg.Port, slog.Default())
		})
	}

	slog.Info("scribe ready", "port", cfg.Port)
	err = g.Wait()
	slog.Info("scribe stopped")
	return err
}

func openStore(ctx context.Context, cfg config.Config) (store.Backend, error) {
	db, err := store.Open(ctx, store.Options{
		Driver:      cfg.Store,
		DatabaseURL: cfg.DatabaseURL,
		SQLitePath:  cfg.SQLitePath,
	}, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return db, nil
}

func llmOptions(cfg config.Config) llm.Options {
	opts := llm.Options{
		Provider:   cfg.LLMProvider,
		Model:      cfg.Model,
		TitleModel: cfg.TitleModel,
		MaxTokens:  cfg.MaxTokens,
	}
	switch cfg.LLMProvider {
	case llm.ProviderOpenAI:
		opts.APIKey = cfg.OpenAIAPIKey
		opts.BaseURL = cfg.OpenAIBaseURL
	default:
		opts.APIKey = cfg.AnthropicAPIKey
	}
	return opts
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
