// Package main is the hiddenthread CLI entry point.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperjump/hiddenthread/internal/config"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/hiddenthread/config.yaml"
	defaultServerURL  = "http://localhost:3001"
)

// loadConfig loads config from path. When path is the default, config.yaml in the
// current directory wins if it exists, and a missing default file yields the built-in
// defaults. Returns the config and the path that was actually loaded ("" for defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return config.Default(), "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	args := os.Args[2:]
	switch command {
	case "server":
		runServer(args)
	case "ingest":
		runIngest(args)
	case "note":
		runNote(args)
	case "match":
		runMatch(args)
	case "suggest":
		runSuggest(args)
	case "query":
		runQuery(args)
	case "search":
		runSearch(args)
	case "status":
		runStatus(args)
	case "version", "--version", "-v":
		fmt.Printf("hiddenthread version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// joinArgs joins all positional args with spaces so multi-word text works the same
// with or without shell quoting.
func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// reorderArgs moves any flags (and their values) that appear after the positional
// arguments to the front so that flag.Parse() sees them. Go's flag package stops at
// the first non-flag argument.
func reorderArgs(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func printUsage() {
	fmt.Println(`hiddenthread - match what your notes need with what they offer

Usage:
  hiddenthread server [flags]                Start the HTTP server and inbox watcher
  hiddenthread ingest [flags] <path>         Chunk a document file or directory into the graph
  hiddenthread note [flags] <file | text>    Ingest a note (extract needs and availabilities)
  hiddenthread match [flags] <note-id>       List matches for a note
  hiddenthread suggest [flags] <note-id>     Draft suggestions for a note's matches
  hiddenthread query [flags] <question>      Answer a question from the similarity graph
  hiddenthread search [flags] <keywords>     Keyword lookup over fragments
  hiddenthread status [flags]                Show storage and graph status
  hiddenthread version                       Show version
  hiddenthread help                          Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/hiddenthread/config.yaml)
  --server string    Server URL for client commands (default: http://localhost:3001).
                     Use --server "" to open storage directly when no server is running.
  --output string    Output format: text or json (default: text)

Query Flags:
  --top-k int        Seed fragments (default from config)
  --max-depth int    Traversal rounds (default from config)

Note Flags:
  --id string        Note id (default: derived from the file, or random for text)

Examples:
  hiddenthread server
  hiddenthread note ~/notes/bike.md
  hiddenthread note "I need a quiet place to read and I have a spare bike"
  hiddenthread match 3f6c...
  hiddenthread query --top-k 3 where can I read quietly?
  hiddenthread search --fuzzy librray
  hiddenthread ingest ~/Documents/guides`)
}
