// Package server exposes the sweeper's gRPC surface: the standard health service, traced with otelgrpc.
package server

import (
	"context"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported next to the overall ("") status.
const ServiceName = "orgaccess.TransferSweeper"

// checkTimeout bounds one readiness probe.
const checkTimeout = 2 * time.Second

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker is satisfied by the OPA risk scorer.
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the readiness dependencies. Nil fields are skipped.
type Deps struct {
	DB     Pinger
	Policy PolicyChecker
}

// NewGRPCServer returns a server instrumented with the global OTel providers.
func NewGRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.StatsHandler(otelgrpc.NewServerHandler())}, opts...)
	return grpc.NewServer(opts...)
}

// Health reports SERVING while every configured dependency answers.
type Health struct {
	srv  *health.Server
	deps Deps

	mu      sync.Mutex
	serving bool
	stopped bool
}

// RegisterServices registers the health service on s and returns it. The initial status is NOT_SERVING until
// the first Probe succeeds.
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) *Health {
	h := &Health{srv: health.NewServer(), deps: deps}
	h.set(false)
	healthpb.RegisterHealthServer(s, h.srv)
	return h
}

// Probe checks every dependency once, updates the served status and returns the first failure.
func (h *Health) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	err := h.check(ctx)
	h.set(err == nil)
	return err
}

func (h *Health) check(ctx context.Context) error {
	if h.deps.DB != nil {
		if err := h.deps.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	if h.deps.Policy != nil {
		if err := h.deps.Policy.HealthCheck(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Watch probes every interval until ctx is done.
func (h *Health) Watch(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if err := h.Probe(ctx); err != nil && ctx.Err() == nil {
			log.Printf("server: readiness probe failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// Serving reports the last probed status.
func (h *Health) Serving() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.serving && !h.stopped
}

// Shutdown marks every service NOT_SERVING permanently so load balancers drain before the server stops.
func (h *Health) Shutdown() {
	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()
	h.srv.Shutdown()
}

func (h *Health) set(ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.serving = ok
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	h.srv.SetServingStatus("", st)
	h.srv.SetServingStatus(ServiceName, st)
}
