package grpcapi

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"

	"stt-service/internal/observability/metrics"
)

func startServer(t *testing.T) (*Server, grpc_health_v1.HealthClient) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s := NewServer(metrics.NewMetrics(nil))
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.GracefulStop)

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return s, grpc_health_v1.NewHealthClient(conn)
}

func check(t *testing.T, c grpc_health_v1.HealthClient, service string) grpc_health_v1.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := c.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("Check(%q): %v", service, err)
	}
	return resp.GetStatus()
}

func TestHealth_TracksModelLoaded(t *testing.T) {
	s, client := startServer(t)

	for _, svc := range []string{"", ServiceName} {
		if got := check(t, client, svc); got != grpc_health_v1.HealthCheckResponse_NOT_SERVING {
			t.Errorf("before load %q: got %v, want NOT_SERVING", svc, got)
		}
	}

	s.SetModelLoaded(true)

	for _, svc := range []string{"", ServiceName} {
		if got := check(t, client, svc); got != grpc_health_v1.HealthCheckResponse_SERVING {
			t.Errorf("after load %q: got %v, want SERVING", svc, got)
		}
	}
}

func TestHealth_UnknownService(t *testing.T) {
	_, client := startServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: "nope"}); err == nil {
		t.Error("expected NotFound for unknown service")
	}
}
