package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	replayplayer "sdfmover/engine/tools/replay_player"
)

func main() {
	path := flag.String("path", "", "Path to a replay directory or manifest.json")
	withFrames := flag.Bool("frames", false, "Include every decoded frame in the output")
	flag.Parse()

	if *path == "" {
		fmt.Fprintln(os.Stderr, "path flag is required")
		os.Exit(1)
	}

	summary, err := replayplayer.Summarize(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}

	output := struct {
		*replayplayer.Summary
		Frames []json.RawMessage `json:"frames,omitempty"`
	}{Summary: summary}
	if *withFrames {
		//1.- protojson renders non-finite trace lengths as null instead of failing.
		for _, frame := range summary.Frames {
			payload, err := frame.MarshalProtoJSON()
			if err != nil {
				fmt.Fprintln(os.Stderr, "encode frame:", err)
				os.Exit(3)
			}
			output.Frames = append(output.Frames, payload)
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(output); err != nil {
		fmt.Fprintln(os.Stderr, "encode error:", err)
		os.Exit(3)
	}
}
