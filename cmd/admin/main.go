package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"citysim/internal/persistence/archive"
	"citysim/internal/persistence/snapshot"
	"citysim/internal/sim/actor"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "control":
			controlCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		case "archives":
			archivesCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

// listCmd prints recorded run directories and the snapshots written for them.
func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	entries, err := os.ReadDir(filepath.Join(*dataDir, "runs"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		snap := filepath.Join(*dataDir, "snapshots", e.Name()+".snap.zst")
		if _, err := os.Stat(snap); err == nil {
			fmt.Printf("%s\t%s\n", e.Name(), snap)
			continue
		}
		fmt.Printf("%s\t-\n", e.Name())
	}
}

func snapshotCmd(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	runID := fs.String("run", "", "run id (reads <data>/snapshots/<run>.snap.zst)")
	path := fs.String("path", "", "snapshot path (overrides -run)")
	full := fs.Bool("full", false, "decode the whole snapshot and validate it")
	_ = fs.Parse(args)

	p := strings.TrimSpace(*path)
	if p == "" {
		if strings.TrimSpace(*runID) == "" {
			fmt.Fprintln(os.Stderr, "missing -run or -path")
			os.Exit(2)
		}
		p = snapshot.NewWriter(filepath.Join(*dataDir, "snapshots")).PathFor(*runID)
	}

	if !*full {
		h, err := snapshot.ReadHeader(p)
		if err != nil {
			fail("read header", err)
		}
		printJSON(h)
		return
	}
	snap, err := snapshot.ReadSnapshot(p)
	if err != nil {
		fail("read snapshot", err)
	}
	valid := "ok"
	if err := snap.Validate(); err != nil {
		valid = err.Error()
	}
	ordered, delivered := 0, 0
	for _, a := range snap.Actors {
		for _, ev := range a.Log {
			switch ev.Kind {
			case string(actor.EventOrderedDelivery):
				ordered++
			case string(actor.EventDeliveryReceived):
				delivered++
			}
		}
	}
	printJSON(map[string]any{
		"header":      snap.Header,
		"city":        fmt.Sprintf("%dx%d", snap.Width, snap.Height),
		"named_cells": len(snap.Names),
		"actors":      len(snap.Actors),
		"couriers":    len(snap.Couriers),
		"ordered":     ordered,
		"delivered":   delivered,
		"last_digest": snap.LastDigest,
		"valid":       valid,
	})
}

func archivesCmd(args []string) {
	fs := flag.NewFlagSet("archives", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	base := filepath.Join(*dataDir, "archives")
	entries, err := os.ReadDir(base)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		meta, err := archive.ReadMeta(filepath.Join(base, name))
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
			continue
		}
		printJSON(meta)
	}
}
