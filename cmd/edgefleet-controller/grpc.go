package main

import (
	"context"
	"crypto/tls"

	"github.com/rs/zerolog"

	controllerserver "github.com/VerteraIO/edgefleet/internal/grpc/controller"
)

// startGRPC serves the health service on addr; an empty addr disables it.
func startGRPC(ctx context.Context, addr string, tlsCfg *tls.Config, logger zerolog.Logger) error {
	if addr == "" {
		logger.Info().Msg("gRPC listener disabled")
		return nil
	}
	return controllerserver.New(tlsCfg, logger).Run(ctx, addr)
}
