// Package healthsvc exposes a Client's reactor liveness over the standard
// gRPC health-checking protocol, so an operator's load balancer or
// orchestrator can probe this process the same way it probes any other gRPC
// service.
package healthsvc

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/fyerfyer/mysql-async-client/client"
)

// ServiceName is the health-check name this package reports status under,
// the empty string (the gRPC health protocol's "overall server health").
const ServiceName = ""

// Service watches a client.Client's Status and mirrors it onto a
// health.Server, the way pool's startCleaner watches pool.closed on a
// ticker rather than being pushed state changes.
type Service struct {
	srv    *health.Server
	c      *client.Client
	period time.Duration

	stopCh chan struct{}
}

// New builds a Service watching c. period controls how often Status is
// polled; callers that want tighter probe latency can pass a shorter one.
func New(c *client.Client, period time.Duration) *Service {
	if period <= 0 {
		period = time.Second
	}
	return &Service{
		srv:    health.NewServer(),
		c:      c,
		period: period,
		stopCh: make(chan struct{}),
	}
}

// Register wires this Service's health.Server into s, so grpc_health_v1's
// Check/Watch RPCs are served alongside whatever else s exposes.
func (svc *Service) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, svc.srv)
}

// Start begins polling the Client's Status on a ticker and reflects it onto
// the health server until Stop is called. It does not block.
func (svc *Service) Start() {
	svc.srv.SetServingStatus(ServiceName, statusFor(svc.c.Status()))
	go svc.watch()
}

func (svc *Service) watch() {
	ticker := time.NewTicker(svc.period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			svc.srv.SetServingStatus(ServiceName, statusFor(svc.c.Status()))
		case <-svc.stopCh:
			return
		}
	}
}

// Stop halts polling and marks the service NOT_SERVING, the shutdown
// sequence a health-checked process should go through so its load balancer
// stops routing new work before Client.Shutdown starts draining.
func (svc *Service) Stop() {
	select {
	case <-svc.stopCh:
	default:
		close(svc.stopCh)
	}
	svc.srv.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
}

func statusFor(s client.Status) healthpb.HealthCheckResponse_ServingStatus {
	if s == client.StatusRunning {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// Check implements a direct, synchronous health probe outside of the gRPC
// surface, for callers embedding this package without running a grpc.Server.
func (svc *Service) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	return statusFor(svc.c.Status())
}
