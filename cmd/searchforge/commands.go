package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/Strob0t/SearchForge/internal/adapter/postgres"
	"github.com/Strob0t/SearchForge/internal/config"
	"github.com/Strob0t/SearchForge/internal/port/eventstore"
)

// runMigrate applies (or rolls back) the event store migrations.
func runMigrate(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	down := fs.Int("down", 0, "roll back the last N migrations")
	status := fs.Bool("status", false, "print the current migration version")
	if err := fs.Parse(args); err != nil {
		return err
	}

	dsn := cfg.Postgres.DSN
	switch {
	case *status:
		v, err := postgres.MigrationVersion(ctx, dsn)
		if err != nil {
			return err
		}
		fmt.Printf("migration version: %d\n", v)
		return nil
	case *down > 0:
		if err := postgres.RollbackMigrations(ctx, dsn, *down); err != nil {
			return err
		}
		fmt.Printf("rolled back %d migration(s)\n", *down)
		return nil
	default:
		if err := postgres.RunMigrations(ctx, dsn); err != nil {
			return err
		}
		fmt.Println("migrations applied")
		return nil
	}
}

// runReplay prints a search's durable event log to out.
func runReplay(ctx context.Context, cfg *config.Config, args []string, out *os.File) error {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	summary := fs.Bool("summary", false, "print the log summary instead of the events")
	list := fs.Bool("list", false, "print the ids of all recorded searches")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *list == (fs.NArg() == 1) || fs.NArg() > 1 {
		return errors.New("usage: searchforge replay [--summary] <search_id> | replay --list")
	}

	store, closeStore, err := openEventStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	if store == nil {
		return errors.New("event_log.backend is none; nothing to replay")
	}
	if *list {
		return writeSearchIDs(ctx, out, store)
	}

	searchID := fs.Arg(0)

	recs, err := store.Load(ctx, searchID)
	if err != nil {
		return fmt.Errorf("load %s: %w", searchID, err)
	}
	if len(recs) == 0 {
		return fmt.Errorf("no events recorded for search %s", searchID)
	}

	pretty := term.IsTerminal(int(out.Fd()))
	if *summary {
		return writeJSON(out, eventstore.Summarize(recs), pretty)
	}
	return writeRecords(out, recs, pretty)
}

// writeSearchIDs prints one recorded search id per line.
func writeSearchIDs(ctx context.Context, w io.Writer, store eventstore.Store) error {
	lister, ok := store.(eventstore.Lister)
	if !ok {
		return errors.New("event store cannot list searches")
	}
	ids, err := lister.List(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := fmt.Fprintln(w, id); err != nil {
			return fmt.Errorf("write: %w", err)
		}
	}
	return nil
}

// writeRecords writes one JSON record per line, or indented records when pretty is set.
func writeRecords(w io.Writer, recs []eventstore.Record, pretty bool) error {
	for _, r := range recs {
		if err := writeJSON(w, r, pretty); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(w io.Writer, v any, pretty bool) error {
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}
