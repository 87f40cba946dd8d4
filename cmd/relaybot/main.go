package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"chatrelay/internal/config"
	"chatrelay/internal/logging"
	"chatrelay/internal/relay"
)

func main() {
	var cfgPath string
	var logLevel string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config yaml")
	flag.StringVar(&logLevel, "log-level", "info", "ambient log level (trace/debug/info/warn/error)")
	flag.Parse()

	log := logging.New(logLevel, zerolog.InfoLevel)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Error().Err(err).Msg("fatal: config load")
		os.Exit(1)
	}

	app, err := relay.New(cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("fatal: relay construction")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
