package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"vanillaminimaps.ai/internal/sim/minimap/compositor"
	"vanillaminimaps.ai/internal/sim/minimap/tilecache"
	"vanillaminimaps.ai/internal/sim/terrain"
	"vanillaminimaps.ai/internal/sim/tuning"
)

// renderCmd composites one primary buffer offline and writes it as a binary PGM, undoing the
// mirrored storage so north is up.
func renderCmd(args []string) {
	fs := flag.NewFlagSet("render", flag.ExitOnError)
	tuningPath := fs.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
	worldID := fs.String("world", "", "world id (default: first configured world)")
	x := fs.Float64("x", 0, "player x")
	z := fs.Float64("z", 0, "player z")
	scale := fs.Int("scale", 0, "blocks per pixel (default: tuning scale)")
	outPath := fs.String("out", "minimap.pgm", "output path")
	_ = fs.Parse(args)

	t, err := tuning.Load(*tuningPath)
	if errors.Is(err, os.ErrNotExist) {
		t, err = tuning.Load("")
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "tuning:", err)
		os.Exit(1)
	}
	var worlds []terrain.World
	for _, w := range t.Worlds {
		worlds = append(worlds, terrain.World{ID: tilecache.WorldID(w.ID), Seed: w.Seed, SeaLevel: w.SeaLevel})
	}
	gen, err := terrain.New(worlds...)
	if err != nil {
		fmt.Fprintln(os.Stderr, "terrain:", err)
		os.Exit(1)
	}
	world := tilecache.WorldID(strings.TrimSpace(*worldID))
	if world == "" {
		world = worlds[0].ID
	}
	if *scale <= 0 {
		*scale = t.Minimap.Scale
	}

	cache, err := tilecache.New(gen, tilecache.Config{}, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "tile cache:", err)
		os.Exit(1)
	}
	defer cache.Close()
	frame, err := compositor.Composite(cache, world, *x, *z, *scale)
	if err != nil {
		fmt.Fprintln(os.Stderr, "composite:", err)
		os.Exit(1)
	}

	f, err := os.Create(*outPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "create:", err)
		os.Exit(1)
	}
	defer f.Close()
	if err := writePGM(f, frame.Pixels); err != nil {
		fmt.Fprintln(os.Stderr, "write:", err)
		os.Exit(1)
	}
	fmt.Printf("render ok: world=%s x=%.1f z=%.1f scale=%d tiles=%d out=%s\n",
		world, *x, *z, *scale, len(frame.Keys), *outPath)
}

func writePGM(w io.Writer, pixels []byte) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "P5\n%d %d\n255\n", compositor.Size, compositor.Size)
	row := make([]byte, compositor.Size)
	for dz := 0; dz < compositor.Size; dz++ {
		for dx := 0; dx < compositor.Size; dx++ {
			row[dx] = pixels[(compositor.Size-1-dz)*compositor.Size+(compositor.Size-1-dx)]
		}
		if _, err := bw.Write(row); err != nil {
			return err
		}
	}
	return bw.Flush()
}
