package server

import (
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/alfredjeanlab/tasknotify/internal/relay"
)

// RelayHealthService is the gRPC health service name that reports SERVING
// only while the relay is ready. The overall service "" is always SERVING.
const RelayHealthService = "tasknotify.relay"

// NewGRPCServer creates a gRPC server exposing grpc.health.v1.Health and
// reflection. The relay service status follows rl's state.
func NewGRPCServer(rl *relay.Relay, logger *slog.Logger) *grpc.Server {
	logger = logger.With("component", "grpc")
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor(logger),
			LoggingInterceptor(logger),
		),
		grpc.ChainStreamInterceptor(
			StreamRecoveryInterceptor(logger),
			StreamLoggingInterceptor(logger),
		),
	)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	setRelay := func(st relay.State) {
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if st == relay.StateReady {
			status = healthpb.HealthCheckResponse_SERVING
		}
		hs.SetServingStatus(RelayHealthService, status)
	}
	setRelay(rl.State())
	rl.OnStateChange(setRelay)

	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	return srv
}
