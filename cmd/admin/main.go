package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"vanillaminimaps.ai/internal/persistence/snapshot"
	"vanillaminimaps.ai/internal/sim/minimap/tilecache"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "tiles":
			tilesCmd(os.Args[2:])
			return
		case "events":
			eventsCmd(os.Args[2:])
			return
		case "render":
			renderCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	paths, err := snapshot.List(filepath.Join(*dataDir, "tiles"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "list:", err)
		os.Exit(1)
	}
	for _, p := range paths {
		fmt.Println(filepath.Base(p))
	}
}

func tilesCmd(args []string) {
	fs := flag.NewFlagSet("tiles", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	path := fs.String("snapshot", "", "tile snapshot path (optional; defaults to latest)")
	keep := fs.Int("keep", 0, "prune all but the newest N snapshots (0 keeps everything)")
	headerOnly := fs.Bool("header", false, "print only the header")
	_ = fs.Parse(args)

	dir := filepath.Join(*dataDir, "tiles")
	if *keep > 0 {
		n, err := snapshot.Prune(dir, *keep)
		if err != nil {
			fmt.Fprintln(os.Stderr, "prune:", err)
			os.Exit(1)
		}
		fmt.Printf("pruned %d snapshot(s)\n", n)
		return
	}

	p := strings.TrimSpace(*path)
	if p == "" {
		latest, err := snapshot.Latest(dir)
		if err != nil {
			fmt.Fprintln(os.Stderr, "latest:", err)
			os.Exit(1)
		}
		p = latest
	}
	if p == "" {
		fmt.Fprintln(os.Stderr, "no tile snapshot found; provide -snapshot or run the server until it writes one")
		os.Exit(2)
	}

	if *headerOnly {
		h, err := snapshot.ReadHeader(p)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read header:", err)
			os.Exit(1)
		}
		printJSON(h)
		return
	}
	snap, err := snapshot.ReadTiles(p)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	printJSON(summarize(filepath.Base(p), snap))
}

type worldSummary struct {
	World string `json:"world"`
	Tiles int    `json:"tiles"`
	MinX  int    `json:"min_x"`
	MinZ  int    `json:"min_z"`
	MaxX  int    `json:"max_x"`
	MaxZ  int    `json:"max_z"`
}

type tilesSummary struct {
	File   string          `json:"file"`
	Header snapshot.Header `json:"header"`
	Worlds []worldSummary  `json:"worlds"`
}

func summarize(name string, snap snapshot.TilesV1) tilesSummary {
	byWorld := map[tilecache.WorldID]*worldSummary{}
	for _, r := range snap.Records {
		ws := byWorld[r.World]
		if ws == nil {
			ws = &worldSummary{World: string(r.World), MinX: r.X, MinZ: r.Z, MaxX: r.X, MaxZ: r.Z}
			byWorld[r.World] = ws
		}
		ws.Tiles++
		ws.MinX = min(ws.MinX, r.X)
		ws.MinZ = min(ws.MinZ, r.Z)
		ws.MaxX = max(ws.MaxX, r.X)
		ws.MaxZ = max(ws.MaxZ, r.Z)
	}
	out := tilesSummary{File: name, Header: snap.Header}
	for _, ws := range byWorld {
		out.Worlds = append(out.Worlds, *ws)
	}
	sort.Slice(out.Worlds, func(i, j int) bool { return out.Worlds[i].World < out.Worlds[j].World })
	return out
}

func printJSON(v any) {
	b, _ := json.Marshal(v)
	fmt.Println(string(b))
}
