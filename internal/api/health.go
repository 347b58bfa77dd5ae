package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/harshv834/auv/internal/monitoring"
	"github.com/harshv834/auv/internal/task"
)

// HealthService is the gRPC health service name the daemon reports under.
const HealthService = "auv.LineFollow"

// Health tracks daemon health for the standard gRPC health service. The
// service is SERVING while the bridge link is up and no run has aborted since
// the last successful run.
type Health struct {
	task.NopObserver
	srv  *health.Server
	logf func(format string, v ...interface{})

	mu      sync.Mutex
	linkUp  bool
	aborted bool
}

func NewHealth() *Health {
	h := &Health{srv: health.NewServer(), logf: monitoring.Component("health")}
	h.update()
	return h
}

// SetLinkUp records whether the vehicle bridge link is connected.
func (h *Health) SetLinkUp(up bool) {
	h.mu.Lock()
	h.linkUp = up
	h.mu.Unlock()
	h.update()
}

// RunFinished marks the daemon NOT_SERVING after an abort. A later
// successful run restores it.
func (h *Health) RunFinished(runID string, out task.Outcome) {
	h.mu.Lock()
	switch out.Phase {
	case task.Aborted:
		h.aborted = true
	case task.Succeeded:
		h.aborted = false
	}
	h.mu.Unlock()
	h.update()
}

// Status returns the current serving status.
func (h *Health) Status() healthpb.HealthCheckResponse_ServingStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.statusLocked()
}

func (h *Health) statusLocked() healthpb.HealthCheckResponse_ServingStatus {
	if h.linkUp && !h.aborted {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

func (h *Health) update() {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := h.statusLocked()
	h.srv.SetServingStatus(HealthService, st)
	h.srv.SetServingStatus("", st)
}

// Register adds the health service to s.
func (h *Health) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.srv)
}

// ServeGRPC serves the health service on addr until ctx is done.
func (h *Health) ServeGRPC(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return h.serve(ctx, lis)
}

func (h *Health) serve(ctx context.Context, lis net.Listener) error {
	s := grpc.NewServer()
	h.Register(s)
	h.logf("gRPC health listening on %s", lis.Addr())

	errc := make(chan error, 1)
	go func() { errc <- s.Serve(lis) }()
	select {
	case <-ctx.Done():
		h.srv.Shutdown()
		s.GracefulStop()
		<-errc
		return nil
	case err := <-errc:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}
