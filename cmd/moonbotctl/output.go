package main

import (
	"encoding/json"
	"fmt"
	"os"
)

// printJSON writes v as indented JSON to stdout, used whenever --json is
// set or a command has no more legible human rendering of its own.
func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// printResult renders v as JSON when --json is set, otherwise falls back
// to fmt.Println(v) for simple human-readable values; commands with a
// richer human rendering call their own printer instead of this one.
func printResult(v any) {
	if jsonOutput {
		printJSON(v)
		return
	}
	fmt.Println(v)
}
