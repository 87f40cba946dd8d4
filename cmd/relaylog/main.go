// relaylog is a small CLI over the same circular log store the server
// writes to: tail the last N lines, or follow it live.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"chatrelay/internal/logstore"
)

func main() {
	var (
		n      int
		follow bool
		path   string
	)
	flag.IntVar(&n, "n", 20, "number of lines to show")
	flag.BoolVar(&follow, "f", false, "follow the log as it grows")
	flag.StringVar(&path, "log", "", "path to the circular log file")
	flag.Parse()

	if path == "" {
		fmt.Fprintln(os.Stderr, "relaylog: -log is required")
		os.Exit(2)
	}

	lines, err := logstore.Tail(path, n)
	if err != nil {
		fmt.Fprintln(os.Stderr, "relaylog:", err)
		os.Exit(1)
	}
	for _, l := range lines {
		fmt.Print(l)
	}

	if !follow {
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	fmt.Fprintf(os.Stderr, "relaylog: following %s (ctrl-c to stop)\n", path)
	if err := logstore.Follow(ctx, path, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "relaylog:", err)
		os.Exit(1)
	}
}
