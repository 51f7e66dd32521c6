package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Strob0t/SearchForge/internal/config"
	"github.com/Strob0t/SearchForge/internal/logger"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}
	if cmd == "help" || cmd == "--help" || cmd == "-h" {
		printHelp()
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "serve":
		return serve(ctx, cfg)
	case "migrate":
		return runMigrate(ctx, cfg, args)
	case "replay":
		return runReplay(ctx, cfg, args, os.Stdout)
	default:
		printHelp()
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func printHelp() {
	fmt.Fprintf(os.Stderr, `Usage: searchforge [command] [options]

Commands:
  serve              Run the HTTP API, MCP tool server and session sweeper (default)
  migrate            Apply database migrations (--down N rolls back, --status prints the version)
  replay <search_id> Print a search's durable event log (--summary aggregates it, --list prints recorded ids)
  help               Show this help message
`)
}
