package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the service name reported by the gRPC health server.
const HealthService = "gps-station"

// ServeHealth runs a gRPC health endpoint on ln until ctx is done. The station
// reports SERVING while it runs and NOT_SERVING once shutdown starts.
func ServeHealth(ctx context.Context, ln net.Listener, lg *slog.Logger) error {
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(HealthService, healthpb.HealthCheckResponse_SERVING)

	go func() {
		<-ctx.Done()
		hs.Shutdown()
		srv.GracefulStop()
	}()

	lg.Info("grpc health listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil {
		return fmt.Errorf("grpc health server: %w", err)
	}
	return nil
}
