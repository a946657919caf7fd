package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"skymesh/internal/app"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configPath  string
		logLevel    string
		showVersion bool
	)

	rootCmd := &cobra.Command{
		Use:   "skymesh",
		Short: "ADS-B watchlist alerter with LoRa mesh delivery",
		Long: `skymesh ingests Mode S / ADS-B frames from network feeders (Beast, AVR,
dump1090 JSON) or recorded captures, tracks aircraft state, matches
aircraft against a watchlist, and delivers alert messages over a LoRa
mesh node attached by serial or reachable through an MQTT gateway.

Example usage:
  skymesh --config /etc/skymesh/config.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				fmt.Printf("skymesh %s (%s)\n", version, commit)
				return nil
			}

			cfg, err := app.Load(configPath)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}

			log := logrus.New()
			level, err := logrus.ParseLevel(cfg.LogLevel)
			if err != nil {
				return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
			}
			log.SetLevel(level)
			log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

			application, err := app.New(cfg, log)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return application.Run(ctx)
		},
	}

	rootCmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to YAML configuration")
	rootCmd.Flags().StringVarP(&logLevel, "log-level", "l", "", "Override configured log level (debug, info, warn, error)")
	rootCmd.Flags().BoolVar(&showVersion, "version", false, "Show version information")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
