package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/VerteraIO/edgefleet/internal/agent"
	"github.com/VerteraIO/edgefleet/internal/agent/collector"
)

var (
	version = "dev"
	commit  = ""
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "edgefleet-agent",
		Short:         "EdgeFleet node agent",
		Long:          "edgefleet-agent enrolls this host with an edgefleet controller and reports its health and resource usage.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	cmd.Flags().StringP("config", "c", "", "path to a YAML agent config file")
	cmd.Flags().String("controller", "", "controller base URL (overrides config)")
	cmd.Flags().String("name", "", "node name (overrides config)")
	cmd.Flags().String("address", "", "node address (overrides config)")
	cmd.Flags().StringToString("label", nil, "node label key=value, repeatable")
	cmd.Flags().StringP("log", "l", "info", "log level: trace, debug, info, warn, error")

	cmd.PersistentPreRunE = func(c *cobra.Command, args []string) error {
		lvl, _ := c.Flags().GetString("log")
		level, err := zerolog.ParseLevel(lvl)
		if err != nil {
			return err
		}
		zerolog.SetGlobalLevel(level)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
		return nil
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "edgefleet-agent %s (%s)\n", version, commit)
		},
	})
	return cmd
}

func run(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := agent.LoadConfig(path)
	if err != nil {
		return err
	}
	if v, _ := cmd.Flags().GetString("controller"); v != "" {
		cfg.ControllerURL = v
	}
	if v, _ := cmd.Flags().GetString("name"); v != "" {
		cfg.NodeName = v
	}
	if v, _ := cmd.Flags().GetString("address"); v != "" {
		cfg.NodeAddress = v
	}
	if labels, _ := cmd.Flags().GetStringToString("label"); len(labels) > 0 {
		if cfg.Labels == nil {
			cfg.Labels = map[string]string{}
		}
		for k, v := range labels {
			cfg.Labels[k] = v
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	host := collector.NewHost()
	host.Path = cfg.DiskPath
	a, err := agent.New(agent.Options{
		Client:            agent.NewClient(cfg.ControllerURL, &http.Client{Timeout: cfg.RequestTimeout.Std()}),
		Node:              cfg.RegisterRequest(),
		Collector:         host,
		HeartbeatInterval: cfg.HeartbeatInterval.Std(),
		ReportInterval:    cfg.ReportInterval.Std(),
		Logger:            log.Logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	log.Info().Str("controller", cfg.ControllerURL).Str("node", cfg.NodeName).Str("version", version).Msg("edgefleet-agent starting")
	return a.Run(ctx)
}

func main() {
	root := newRootCmd()
	root.SetContext(context.Background())
	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("edgefleet-agent failed")
		os.Exit(1)
	}
}
