package grpc

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service key load balancers probe.
const ServiceName = "payments.v1.PaymentService"

// Check reports whether one dependency is usable.
type Check func(ctx context.Context) error

// Health serves grpc.health.v1 and derives the serving status from checks.
type Health struct {
	log    *slog.Logger
	srv    *health.Server
	checks map[string]Check
}

func NewHealth(log *slog.Logger, checks map[string]Check) *Health {
	h := &Health{log: log, srv: health.NewServer(), checks: checks}
	h.srv.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Probe runs every check once and publishes the result.
func (h *Health) Probe(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.log.Warn("health check failed", "dependency", name, "err", err)
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	h.srv.SetServingStatus(ServiceName, status)
	h.srv.SetServingStatus("", status)
	return status
}

// Watch probes every interval until ctx ends, then reports NOT_SERVING.
func (h *Health) Watch(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	h.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			h.srv.Shutdown()
			return
		case <-t.C:
			probeCtx, cancel := context.WithTimeout(ctx, interval)
			h.Probe(probeCtx)
			cancel()
		}
	}
}

func Run(addr string, h *Health) (*grpc.Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return Serve(lis, h), nil
}

func Serve(lis net.Listener, h *Health) *grpc.Server {
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, h.srv)
	go func() {
		if err := gs.Serve(lis); err != nil {
			h.log.Error("grpc server stopped", "err", err)
		}
	}()
	return gs
}
