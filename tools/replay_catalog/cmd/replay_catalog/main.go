package main

import (
	"flag"
	"fmt"
	"os"

	"sdfmover/engine/internal/replay"
	replaycatalog "sdfmover/engine/tools/replay_catalog"
)

func main() {
	root := flag.String("dir", ".", "directory containing replay bundles")
	jsonFlag := flag.Bool("json", false, "emit JSON instead of human-readable output")
	flag.Parse()

	entries, err := replaycatalog.List(*root)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *jsonFlag {
		payload, err := replaycatalog.MarshalEntries(entries)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(string(payload))
		return
	}

	for _, entry := range entries {
		fmt.Printf("%s (run %s, schema %d)\n", entry.BundlePath, entry.Header.RunID, entry.Header.SchemaVersion)
		printParameters("scene", entry.Header.Scene)
		printParameters("body", entry.Header.Body)
		fmt.Printf("  header: %s\n", entry.HeaderPath)
	}
}

func printParameters(label string, params replay.Parameters) {
	if len(params) == 0 {
		return
	}
	fmt.Printf("  %s:\n", label)
	for _, key := range replaycatalog.SortedKeys(params) {
		fmt.Printf("    %s: %.3f\n", key, params[key])
	}
}
