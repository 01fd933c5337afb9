package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/VerteraIO/edgefleet/internal/config"
	"github.com/VerteraIO/edgefleet/internal/controlplane"
	"github.com/VerteraIO/edgefleet/internal/controlplane/nodes"
	httpserver "github.com/VerteraIO/edgefleet/internal/http"
	"github.com/VerteraIO/edgefleet/internal/security"
	"github.com/VerteraIO/edgefleet/internal/security/pki"
)

// serve runs until ctx is cancelled or one of its servers fails, then gives
// in-flight HTTP requests the configured grace period.
func serve(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	initial, err := nodes.ParseStatus(cfg.Nodes.InitialStatus)
	if err != nil {
		return err
	}
	orch := controlplane.New(controlplane.Options{
		StalenessThreshold: cfg.Nodes.StalenessThreshold.Std(),
		InitialStatus:      initial,
		SweepPeriod:        cfg.Nodes.SweepPeriod.Std(),
		TickPeriod:         cfg.Scheduler.TickPeriod.Std(),
		CollectPeriod:      cfg.Monitoring.CollectPeriod.Std(),
		Registry:           prometheus.DefaultRegisterer,
		Logger:             logger,
	})
	sec, err := security.NewManager(security.Options{
		SigningSecret:  []byte(cfg.Credentials.SigningSecret),
		TokenTTL:       cfg.Credentials.TokenTTL.Std(),
		CertificateTTL: cfg.Credentials.CertificateTTL.Std(),
		RSAKeyBits:     cfg.Credentials.RSAKeyBits,
		Organization:   cfg.Credentials.Organization,
		AdminID:        cfg.Auth.AdminID,
		AdminToken:     cfg.Auth.AdminToken,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("credential manager: %w", err)
	}
	if cfg.Auth.AdminToken == "" {
		logger.Warn().Msg("no admin token configured; only enrolled nodes can call authenticated endpoints")
	}

	var tlsCfg *tls.Config
	if cfg.TLS.CertFile != "" {
		if tlsCfg, err = pki.ServerTLSConfig(cfg.TLS.CertFile, cfg.TLS.KeyFile); err != nil {
			return fmt.Errorf("server TLS config: %w", err)
		}
	}

	srv := &http.Server{
		Addr: cfg.Listen,
		Handler: httpserver.NewServer(httpserver.Deps{
			Orchestrator:   orch,
			Security:       sec,
			Gatherer:       prometheus.DefaultGatherer,
			BootstrapQPS:   cfg.Auth.BootstrapQPS,
			BootstrapBurst: cfg.Auth.BootstrapBurst,
			Logger:         logger,
		}),
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return orch.Run(gctx) })
	g.Go(func() error { return startGRPC(gctx, cfg.GRPCListen, tlsCfg, logger) })
	g.Go(func() error {
		logger.Info().Str("addr", cfg.Listen).Bool("tls", tlsCfg != nil).Str("version", version).Msg("edgefleet-controller listening")
		var err error
		if tlsCfg != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Dur("grace", cfg.Shutdown.GracePeriod.Std()).Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Shutdown.GracePeriod.Std())
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
