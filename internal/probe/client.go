// Package probe collects target feedback from a gRPC health endpoint.
package probe

import (
	"context"
	"fmt"
	"log"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/danielpatrickdp/fuzzctl/internal/data"
)

// #region types

// Monitor produces one feedback snapshot of the target.
type Monitor interface {
	Check(ctx context.Context) (*data.Feedback, error)
}

// Feedback statuses. Anything but StatusServing is a problem.
const (
	StatusServing       = 0
	StatusProbeFailed   = -1
	StatusNotServing    = -2
	StatusUnknownTarget = -3
	StatusUnknown       = -4
)

// #endregion types

// #region client-struct

// HealthProbe checks one service of a gRPC health endpoint.
type HealthProbe struct {
	conn    *grpc.ClientConn
	client  healthpb.HealthClient
	service string
	source  string
}

// #endregion client-struct

// #region constructor

// NewHealthProbe connects to the health endpoint at addr. An empty service checks the whole server.
func NewHealthProbe(addr, service string, opts ...grpc.DialOption) (*HealthProbe, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &HealthProbe{
		conn:    conn,
		client:  healthpb.NewHealthClient(conn),
		service: service,
		source:  sourceName(addr, service),
	}, nil
}

// NewHealthProbeWithClient creates a probe over an injected client.
// Used for testing without a real gRPC connection.
func NewHealthProbeWithClient(c healthpb.HealthClient, service string) *HealthProbe {
	return &HealthProbe{client: c, service: service, source: sourceName("", service)}
}

func sourceName(addr, service string) string {
	if service == "" {
		service = "*"
	}
	if addr == "" {
		return "grpc-health/" + service
	}
	return "grpc-health/" + addr + "/" + service
}

// #endregion constructor

// #region close

// Close shuts down the gRPC connection.
func (p *HealthProbe) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}

// #endregion close

// #region check

// Check runs one health check. RPC failures are reported as feedback with
// StatusProbeFailed rather than as errors: an unreachable target is a result.
// The error is reserved for a response that cannot be rendered.
func (p *HealthProbe) Check(ctx context.Context) (*data.Feedback, error) {
	fbk := data.NewFeedback()
	resp, err := p.client.Check(ctx, &healthpb.HealthCheckRequest{Service: p.service})
	if err != nil {
		st := status.Convert(err)
		log.Printf("[PROBE] %s: %s", p.source, st.Message())
		fbk.Add(p.source, StatusProbeFailed, []byte(st.Code().String()+": "+st.Message()))
		return fbk, nil
	}
	content, err := protojson.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("render health response: %w", err)
	}
	fbk.Add(p.source, statusOf(resp.GetStatus()), content)
	return fbk, nil
}

func statusOf(s healthpb.HealthCheckResponse_ServingStatus) int {
	switch s {
	case healthpb.HealthCheckResponse_SERVING:
		return StatusServing
	case healthpb.HealthCheckResponse_NOT_SERVING:
		return StatusNotServing
	case healthpb.HealthCheckResponse_SERVICE_UNKNOWN:
		return StatusUnknownTarget
	}
	return StatusUnknown
}

// #endregion check

var _ Monitor = (*HealthProbe)(nil)
