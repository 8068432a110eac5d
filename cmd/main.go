// Package main is the entry point for the IPTV console client.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/savid/iptv-console/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var log = logrus.New()

func main() {
	rootCmd := &cobra.Command{
		Use:   "iptv-console",
		Short: "Client for the IPTV proxy web console",
		Long: `A client for the IPTV proxy web console. It keeps the program guide,
its sort, search and fold state, and negotiates playback of live channels
and recordings.

Settings come from flags, IPTV_CONSOLE_* environment variables, an optional
.env file and an optional config file.`,
		SilenceUsage: true,
	}

	config.RegisterFlags(rootCmd.PersistentFlags(), config.DefaultConfig())

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the session behind a local HTTP control API",
		RunE:  runServe,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "tui",
		Short: "Browse the guide and control playback in the terminal",
		RunE:  runTUI,
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads the configuration and configures the logger. Console output is
// skipped when quiet is set so that log lines do not tear the terminal UI.
func setup(cmd *cobra.Command, quiet bool) (*config.Config, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	log.SetLevel(level)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	var writers []io.Writer
	if !quiet {
		writers = append(writers, os.Stderr)
	}

	if cfg.LogFile != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
		})
	}

	switch len(writers) {
	case 0:
		log.SetOutput(io.Discard)
	case 1:
		log.SetOutput(writers[0])
	default:
		log.SetOutput(io.MultiWriter(writers...))
	}

	return cfg, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := setup(cmd, false)
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"console": cfg.ConsoleURL,
		"addr":    cfg.ListenAddr(),
	}).Info("Starting IPTV console")

	app, err := wire(cfg)
	if err != nil {
		return err
	}
	defer app.close()

	srv := app.server(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Received shutdown signal")

	return srv.Stop()
}

func runTUI(cmd *cobra.Command, _ []string) error {
	cfg, err := setup(cmd, true)
	if err != nil {
		return err
	}

	app, err := wire(cfg)
	if err != nil {
		return err
	}
	defer app.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	return app.runTUI(ctx, cfg)
}
