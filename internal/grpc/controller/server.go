// Package controller serves the controller's gRPC endpoint. It exposes the
// standard grpc.health.v1 service so load balancers and orchestrators can
// health-check the control plane.
package controller

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service entry for the control plane itself.
const ServiceName = "edgefleet.v1.ControlPlane"

type Server struct {
	grpc   *grpc.Server
	health *health.Server
	log    zerolog.Logger
}

// New builds the gRPC server. tlsCfg may be nil for plaintext.
func New(tlsCfg *tls.Config, log zerolog.Logger) *Server {
	var opts []grpc.ServerOption
	if tlsCfg != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsCfg)))
	}
	s := &Server{
		grpc:   grpc.NewServer(opts...),
		health: health.NewServer(),
		log:    log.With().Str("component", "grpc").Logger(),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return s
}

// Run listens on addr and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is cancelled, then reports NOT_SERVING and
// stops gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		s.health.Shutdown()
		s.grpc.GracefulStop()
	}()
	s.log.Info().Str("addr", lis.Addr().String()).Msg("gRPC health service listening")
	if err := s.grpc.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}
