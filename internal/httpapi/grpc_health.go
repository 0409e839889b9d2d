package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"consulta.cl/internal/obs"
)

// GRPCHealth publishes store readiness through grpc.health.v1.Health, both
// for the overall server ("") and for the named service.
type GRPCHealth struct {
	srv       *health.Server
	readiness ReadyProbe
}

// NewGRPCHealth creates the health service. It reports NOT_SERVING until the
// first probe succeeds.
func NewGRPCHealth(r ReadyProbe) *GRPCHealth {
	h := &GRPCHealth{srv: health.NewServer(), readiness: r}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Register attaches the health service to s.
func (h *GRPCHealth) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.srv)
}

// CheckNow runs one probe and updates the published status.
func (h *GRPCHealth) CheckNow(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	if err := h.readiness.Check(ctx); err != nil {
		obs.SetReady(false)
		h.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	obs.SetReady(true)
	h.set(healthpb.HealthCheckResponse_SERVING)
	return healthpb.HealthCheckResponse_SERVING
}

// Run probes every interval until ctx is done, then marks everything
// NOT_SERVING so clients drain before shutdown.
func (h *GRPCHealth) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	h.CheckNow(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.srv.Shutdown()
			return
		case <-ticker.C:
			h.CheckNow(ctx)
		}
	}
}

func (h *GRPCHealth) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.srv.SetServingStatus("", status)
	h.srv.SetServingStatus(serviceName, status)
}
