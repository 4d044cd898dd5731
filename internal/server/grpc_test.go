package server

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/alfredjeanlab/tasknotify/internal/relay"
)

func dialHealth(t *testing.T, rl *relay.Relay) healthpb.HealthClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewGRPCServer(rl, testLogger())
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return healthpb.NewHealthClient(conn)
}

func checkHealth(t *testing.T, c healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("Check(%q): %v", service, err)
	}
	return resp.GetStatus()
}

func TestGRPCHealth_TracksRelay(t *testing.T) {
	s := newTestStack(t, stackConfig{})
	c := dialHealth(t, s.relay)

	if got := checkHealth(t, c, ""); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("overall = %v, want SERVING", got)
	}
	if got := checkHealth(t, c, RelayHealthService); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("relay = %v, want SERVING", got)
	}

	_ = s.relay.Close()
	if got := checkHealth(t, c, RelayHealthService); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("relay after close = %v, want NOT_SERVING", got)
	}
	if got := checkHealth(t, c, ""); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("overall after close = %v, want SERVING", got)
	}
}
