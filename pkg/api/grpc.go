package api

import (
	"net"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/cuemby/digest/pkg/log"
)

// ServiceName is the service reported by the gRPC health service
const ServiceName = "digest"

// GRPCHealth serves grpc.health.v1 for the digest service. The status
// follows the latest health verdict passed to SetServing.
type GRPCHealth struct {
	server *grpc.Server
	health *health.Server
	logger zerolog.Logger
}

// NewGRPCHealth creates the gRPC health server. The service starts as
// NOT_SERVING until the first verdict.
func NewGRPCHealth() *GRPCHealth {
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	return &GRPCHealth{
		server: srv,
		health: hs,
		logger: log.WithComponent("grpc-health"),
	}
}

// SetServing records the latest health verdict
func (g *GRPCHealth) SetServing(healthy bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if healthy {
		status = healthpb.HealthCheckResponse_SERVING
	}
	g.health.SetServingStatus(ServiceName, status)
}

// Serve accepts connections on lis until Stop is called
func (g *GRPCHealth) Serve(lis net.Listener) error {
	g.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC health listening")
	if err := g.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return errors.Wrap(err, "gRPC health server failed")
	}
	return nil
}

// Start listens on addr and serves until Stop is called
func (g *GRPCHealth) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", addr)
	}
	return g.Serve(lis)
}

// Stop marks every service NOT_SERVING and stops the server gracefully
func (g *GRPCHealth) Stop() {
	g.health.Shutdown()
	g.server.GracefulStop()
}
