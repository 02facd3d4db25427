package server

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// mockServiceRegistrar implements grpc.ServiceRegistrar for testing.
type mockServiceRegistrar struct {
	services []string
}

func (m *mockServiceRegistrar) RegisterService(desc *grpc.ServiceDesc, _ interface{}) {
	m.services = append(m.services, desc.ServiceName)
}

type fakePinger struct{ err error }

func (f fakePinger) PingContext(context.Context) error { return f.err }

type fakePolicy struct{ err error }

func (f fakePolicy) HealthCheck(context.Context) error { return f.err }

func status(t *testing.T, h *Health, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := h.srv.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("Check(%q): %v", service, err)
	}
	return resp.GetStatus()
}

func TestRegisterServices_RegistersHealth(t *testing.T) {
	reg := &mockServiceRegistrar{}
	h := RegisterServices(reg, Deps{})
	if len(reg.services) != 1 || reg.services[0] != healthpb.Health_ServiceDesc.ServiceName {
		t.Fatalf("services = %v, want [%s]", reg.services, healthpb.Health_ServiceDesc.ServiceName)
	}
	if got := status(t, h, ""); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("initial status = %v, want NOT_SERVING", got)
	}
}

func TestProbe(t *testing.T) {
	dbDown := errors.New("db down")
	policyDown := errors.New("policy not prepared")
	tests := []struct {
		name    string
		deps    Deps
		wantErr error
	}{
		{"no dependencies", Deps{}, nil},
		{"all healthy", Deps{DB: fakePinger{}, Policy: fakePolicy{}}, nil},
		{"db down", Deps{DB: fakePinger{err: dbDown}, Policy: fakePolicy{}}, dbDown},
		{"policy down", Deps{DB: fakePinger{}, Policy: fakePolicy{err: policyDown}}, policyDown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := RegisterServices(&mockServiceRegistrar{}, tt.deps)
			err := h.Probe(context.Background())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Probe err = %v, want %v", err, tt.wantErr)
			}
			want := healthpb.HealthCheckResponse_SERVING
			if tt.wantErr != nil {
				want = healthpb.HealthCheckResponse_NOT_SERVING
			}
			for _, svc := range []string{"", ServiceName} {
				if got := status(t, h, svc); got != want {
					t.Errorf("status(%q) = %v, want %v", svc, got, want)
				}
			}
			if h.Serving() != (tt.wantErr == nil) {
				t.Errorf("Serving() = %v", h.Serving())
			}
		})
	}
}

func TestShutdown_StaysNotServing(t *testing.T) {
	h := RegisterServices(&mockServiceRegistrar{}, Deps{})
	if err := h.Probe(context.Background()); err != nil {
		t.Fatalf("Probe: %v", err)
	}
	h.Shutdown()
	_ = h.Probe(context.Background())
	if h.Serving() {
		t.Error("Serving() after Shutdown = true")
	}
	if got := status(t, h, ""); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("status after Shutdown = %v, want NOT_SERVING", got)
	}
}

func TestNewGRPCServer_ServesHealth(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := NewGRPCServer()
	h := RegisterServices(s, Deps{DB: fakePinger{}})
	if err := h.Probe(context.Background()); err != nil {
		t.Fatalf("Probe: %v", err)
	}
	go func() { _ = s.Serve(lis) }()
	defer s.Stop()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status = %v, want SERVING", resp.GetStatus())
	}
}
