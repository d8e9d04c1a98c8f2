package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"vanillaminimaps.ai/internal/persistence/indexdb"
	persistlog "vanillaminimaps.ai/internal/persistence/log"
	"vanillaminimaps.ai/internal/sim/hud"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	player := fs.String("player", "", "player uuid filter (player, events)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "players"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "minimaps.sqlite")
	}
	r, err := indexdb.OpenReader(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer r.Close()

	var playerID uuid.UUID
	if s := strings.TrimSpace(*player); s != "" {
		playerID, err = uuid.Parse(s)
		if err != nil {
			fmt.Fprintln(os.Stderr, "bad -player:", err)
			os.Exit(2)
		}
	}

	ctx := context.Background()
	switch q {
	case "players":
		states, err := r.Players(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		for _, st := range states {
			printJSON(st)
		}

	case "player":
		if playerID == uuid.Nil {
			fmt.Fprintln(os.Stderr, "missing -player")
			os.Exit(2)
		}
		st, ok, err := r.Player(ctx, playerID)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		if !ok {
			fmt.Fprintln(os.Stderr, "player not found")
			os.Exit(2)
		}
		printJSON(st)

	case "events":
		events, err := r.Events(ctx, playerID, *limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		for _, e := range events {
			printJSON(e)
		}

	case "snapshots":
		snaps, err := r.TileSnapshots(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		if *limit > 0 && len(snaps) > *limit {
			snaps = snaps[:*limit]
		}
		for _, s := range snaps {
			printJSON(s)
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown query %q (want players|player|events|snapshots)\n", q)
		os.Exit(2)
	}
}

// eventsCmd replays the hourly event journal, which keeps events the sqlite queue dropped.
func eventsCmd(args []string) {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	kind := fs.String("kind", "", "event kind filter (optional)")
	player := fs.String("player", "", "player uuid filter (optional)")
	_ = fs.Parse(args)

	files := fs.Args()
	if len(files) == 0 {
		all, err := filepath.Glob(filepath.Join(*dataDir, "events", "events-*.jsonl.zst"))
		if err != nil {
			fmt.Fprintln(os.Stderr, "glob:", err)
			os.Exit(1)
		}
		files = all
	}

	var playerID uuid.UUID
	if s := strings.TrimSpace(*player); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			fmt.Fprintln(os.Stderr, "bad -player:", err)
			os.Exit(2)
		}
		playerID = id
	}

	for _, path := range files {
		err := persistlog.ReadEvents(path, func(e hud.Event) error {
			if *kind != "" && e.Kind != *kind {
				return nil
			}
			if playerID != uuid.Nil && e.Player != playerID {
				return nil
			}
			printJSON(e)
			return nil
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", filepath.Base(path), err)
			os.Exit(1)
		}
	}
}
