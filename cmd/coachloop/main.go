package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/coachloop/coachloop/internal/api"
	"github.com/coachloop/coachloop/internal/coach"
	"github.com/coachloop/coachloop/internal/config"
	"github.com/coachloop/coachloop/internal/pipeline"
	"github.com/coachloop/coachloop/internal/provider"
	"github.com/coachloop/coachloop/internal/storage"
	"github.com/coachloop/coachloop/internal/store"
	"github.com/coachloop/coachloop/internal/toolrun"
)

var version = "dev"

func main() {
	// Missing .env is fine; config interpolation falls back to the process env.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "start":
		if err := runStart(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	case "chat":
		if err := runChat(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	case "version":
		fmt.Printf("coachloop %s\n", version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: coachloop <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  start     Start the coachloop service")
	fmt.Fprintln(os.Stderr, "  chat      Open an interactive coaching session in a TUI")
	fmt.Fprintln(os.Stderr, "  version   Print version")
}

func runStart(args []string) error {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Setup logger
	logLevel := slog.LevelInfo
	switch cfg.Service.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	logger.Info("starting coachloop", "version", version, "config", *configPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Open SQLite
	db, err := storage.OpenSQLite(ctx, cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	// Create stores
	sessions := store.NewSessionStore(db)
	messages := store.NewMessageStore(db)
	runs := store.NewToolRunStore(db)
	records := store.NewRecordStore(db)

	// Create LLM provider
	chatModel, err := provider.NewChatModel(ctx, cfg.LLM)
	if err != nil {
		return fmt.Errorf("create llm provider: %w", err)
	}

	// Tool catalogue and execute service
	catalog := toolrun.DefaultCatalog()
	limiter := toolrun.NewRateLimiter(cfg.Tools.RatePerMinute)
	tools := toolrun.NewService(catalog, runs, sessions, limiter, logger)

	// Coaching pipeline
	coaches := coach.NewResolver(cfg.Coaches)
	p := pipeline.New(chatModel, sessions, messages, coaches, catalog, cfg.LLM.HistoryLimit, logger)

	// Create API server
	srv := api.New(api.Config{
		Listen:          cfg.API.Listen,
		JWTSecret:       cfg.API.JWTSecret,
		StreamKeepAlive: cfg.API.Stream.KeepAlive,
		StreamBudget:    cfg.API.Stream.Budget,
	}, sessions, records, tools, p, logger)

	// Signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
		<-errCh
		return nil
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			return err
		}
		return nil
	}
}
