package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/VerteraIO/edgefleet/internal/config"
)

var (
	version = "dev"
	commit  = ""
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edgefleet-controller",
		Short: "EdgeFleet control plane for edge nodes",
		Long:  "edgefleet-controller tracks edge nodes, places workloads on them and issues node credentials.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringP("config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().StringP("log", "l", "", "log level: trace, debug, info, warn, error (overrides config)")
	cmd.PersistentFlags().Bool("log-json", false, "emit JSON logs instead of console output")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the gRPC health service and the background loops",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if v, _ := cmd.Flags().GetString("listen"); v != "" {
				cfg.Listen = v
			}
			if v, _ := cmd.Flags().GetString("grpc-listen"); v != "" {
				cfg.GRPCListen = v
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log.Logger)
		},
	}
	cmd.Flags().String("listen", "", "HTTP listen address (overrides config)")
	cmd.Flags().String("grpc-listen", "", "gRPC listen address (overrides config)")
	return cmd
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Validate the configuration and print the effective settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			// secrets are not echoed
			cfg.Credentials.SigningSecret = redact(cfg.Credentials.SigningSecret)
			cfg.Auth.AdminToken = redact(cfg.Auth.AdminToken)
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer func() { _ = enc.Close() }()
			return enc.Encode(cfg)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "edgefleet-controller %s (%s)\n", version, commit)
		},
	}
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "<redacted>"
}

// loadConfig reads --config and applies the log flags on top of it.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if lvl, _ := cmd.Flags().GetString("log"); lvl != "" {
		cfg.Log.Level = lvl
	}
	if cmd.Flags().Changed("log-json") {
		cfg.Log.JSON, _ = cmd.Flags().GetBool("log-json")
	}
	return cfg, setupLogger(cfg.Log)
}

func setupLogger(c config.LogConfig) error {
	level, err := zerolog.ParseLevel(strings.ToLower(c.Level))
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if !c.JSON {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return nil
}

func main() {
	root := newRootCmd()
	root.SetContext(context.Background())
	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("edgefleet-controller failed")
		os.Exit(1)
	}
}
