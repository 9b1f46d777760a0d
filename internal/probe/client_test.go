package probe

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

// #region mock
type mockHealthClient struct {
	healthpb.HealthClient

	resp *healthpb.HealthCheckResponse
	err  error
	req  *healthpb.HealthCheckRequest
}

func (m *mockHealthClient) Check(_ context.Context, in *healthpb.HealthCheckRequest, _ ...grpc.CallOption) (*healthpb.HealthCheckResponse, error) {
	m.req = in
	return m.resp, m.err
}

// #endregion mock

// #region bufconn
func startHealthServer(t *testing.T) (*health.Server, *HealthProbe) {
	t.Helper()
	lis := bufconn.Listen(1 << 16)
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	p, err := NewHealthProbe("passthrough:///bufnet", "target",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	if err != nil {
		t.Fatalf("new probe: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return hs, p
}

// #endregion bufconn

// #region check-tests
func TestCheck_Serving(t *testing.T) {
	hs, p := startHealthServer(t)
	hs.SetServingStatus("target", healthpb.HealthCheckResponse_SERVING)

	fbk, err := p.Check(context.Background())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	entries := fbk.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Status != StatusServing {
		t.Errorf("expected serving status, got %d", entries[0].Status)
	}
	if !fbk.Contains("SERVING") {
		t.Errorf("expected protojson content, got %q", entries[0].Content)
	}
	if !strings.HasSuffix(entries[0].Source, "/target") {
		t.Errorf("unexpected source %q", entries[0].Source)
	}
}

func TestCheck_NotServing(t *testing.T) {
	hs, p := startHealthServer(t)
	hs.SetServingStatus("target", healthpb.HealthCheckResponse_NOT_SERVING)

	fbk, err := p.Check(context.Background())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if got := fbk.WorstStatus(); got != StatusNotServing {
		t.Errorf("expected %d, got %d", StatusNotServing, got)
	}
	if !fbk.Contains("NOT_SERVING") {
		t.Errorf("expected NOT_SERVING in content")
	}
}

func TestCheck_UnknownServiceIsFeedback(t *testing.T) {
	_, p := startHealthServer(t)

	fbk, err := p.Check(context.Background())
	if err != nil {
		t.Fatalf("rpc failures must not be errors: %v", err)
	}
	if got := fbk.WorstStatus(); got != StatusProbeFailed {
		t.Errorf("expected %d, got %d", StatusProbeFailed, got)
	}
	if !fbk.Contains("NotFound") {
		t.Errorf("expected the status code in content")
	}
}

func TestCheck_WithClient(t *testing.T) {
	tests := []struct {
		name   string
		resp   *healthpb.HealthCheckResponse
		err    error
		status int
	}{
		{"serving", &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil, StatusServing},
		{"service unknown", &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVICE_UNKNOWN}, nil, StatusUnknownTarget},
		{"unknown", &healthpb.HealthCheckResponse{}, nil, StatusUnknown},
		{"unavailable", nil, status.Error(codes.Unavailable, "down"), StatusProbeFailed},
		{"plain error", nil, errors.New("boom"), StatusProbeFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &mockHealthClient{resp: tt.resp, err: tt.err}
			p := NewHealthProbeWithClient(m, "svc")
			fbk, err := p.Check(context.Background())
			if err != nil {
				t.Fatalf("check: %v", err)
			}
			if m.req.GetService() != "svc" {
				t.Errorf("expected service svc, got %q", m.req.GetService())
			}
			if got := fbk.Entries()[0].Status; got != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, got)
			}
			if err := p.Close(); err != nil {
				t.Errorf("close without conn: %v", err)
			}
		})
	}
}

// #endregion check-tests
