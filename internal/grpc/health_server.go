package grpc

import (
	"context"
	"net"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	ggrpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"chat-session/internal/observability"
)

const pingTimeout = 2 * time.Second

// Pinger reports whether the directory store is reachable. *sqlx.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthServer exposes grpc.health.v1 reflecting the store's reachability.
type HealthServer struct {
	server  *ggrpc.Server
	health  *health.Server
	pinger  Pinger
	service string
	log     zerolog.Logger
}

// NewHealthServer builds the server. A nil pinger is always healthy.
func NewHealthServer(service string, pinger Pinger, log zerolog.Logger) *HealthServer {
	srv := ggrpc.NewServer(
		ggrpc.StatsHandler(otelgrpc.NewServerHandler()),
		ggrpc.UnaryInterceptor(observability.GRPCServerMetricsUnaryInterceptor()),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	return &HealthServer{
		server:  srv,
		health:  hs,
		pinger:  pinger,
		service: service,
		log:     log.With().Str("component", "grpc-health").Logger(),
	}
}

// Check pings the store and publishes the result. It returns the ping error.
func (s *HealthServer) Check(ctx context.Context) error {
	var err error
	if s.pinger != nil {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		err = s.pinger.PingContext(pingCtx)
		cancel()
	}

	status := healthpb.HealthCheckResponse_SERVING
	if err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		s.log.Warn().Err(err).Msg("store unreachable")
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(s.service, status)
	return err
}

// Watch re-checks health every interval until ctx ends.
func (s *HealthServer) Watch(ctx context.Context, interval time.Duration) {
	_ = s.Check(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.Check(ctx)
		}
	}
}

// Serve blocks serving gRPC on lis.
func (s *HealthServer) Serve(lis net.Listener) error {
	s.log.Info().Str("addr", lis.Addr().String()).Msg("grpc health server listening")
	return s.server.Serve(lis)
}

// Stop marks the service as not serving and drains connections.
func (s *HealthServer) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}
