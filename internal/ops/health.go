// Package ops exposes the collaboration server's operational gRPC endpoint:
// the standard health service, driven by periodic store probes, and server
// reflection for grpcurl-style tooling.
package ops

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health-checked service name.
const ServiceName = "artchain.collab.Broadcast"

const stopTimeout = 2 * time.Second

// Checker probes a dependency.
type Checker interface {
	Ping(ctx context.Context) error
}

// Server serves grpc.health.v1 and reflection on a TCP address.
type Server struct {
	addr     string
	interval time.Duration
	checker  Checker
	logger   *zap.Logger

	grpc   *grpc.Server
	health *health.Server

	mu       sync.Mutex
	listener net.Listener
	stop     chan struct{}
	stopOnce sync.Once
}

// NewServer creates an ops server that probes checker every interval.
//
// Precondition: interval must be > 0; checker and logger must be non-nil.
func NewServer(addr string, interval time.Duration, checker Checker, logger *zap.Logger) *Server {
	if interval <= 0 {
		panic("ops.NewServer: interval must be > 0")
	}
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	g := grpc.NewServer()
	healthpb.RegisterHealthServer(g, hs)
	reflection.Register(g)

	return &Server{
		addr:     addr,
		interval: interval,
		checker:  checker,
		logger:   logger,
		grpc:     g,
		health:   hs,
		stop:     make(chan struct{}),
	}
}

// Check probes the checker once and publishes the resulting status.
//
// Postcondition: Returns the status now reported for ServiceName.
func (s *Server) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := s.checker.Ping(ctx); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		s.logger.Warn("health probe failed", zap.Error(err))
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	return status
}

// Start listens on the configured address, then serves until Stop is called
// or ctx is cancelled. The checker is probed immediately and every interval.
//
// Postcondition: Returns nil on a requested stop, otherwise the listen/serve error.
func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.mu.Lock()
	s.listener = lis
	s.mu.Unlock()

	s.logger.Info("ops gRPC server listening", zap.String("addr", lis.Addr().String()))

	s.Check(ctx)
	probeDone := make(chan struct{})
	go func() {
		defer close(probeDone)
		s.probeLoop(ctx)
	}()
	defer func() { <-probeDone }()

	// Stop on cancellation as well as on an explicit Stop call.
	stopOnCancel := context.AfterFunc(ctx, s.Stop)
	defer stopOnCancel()

	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		s.Stop()
		return fmt.Errorf("serving grpc: %w", err)
	}
	return nil
}

func (s *Server) probeLoop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.Check(ctx)
		}
	}
}

// Stop marks every service NOT_SERVING and stops the gRPC server, forcing
// open Watch streams closed after stopTimeout. It is safe to call more than once.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.health.Shutdown()

		done := make(chan struct{})
		go func() {
			s.grpc.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(stopTimeout):
			s.grpc.Stop()
			<-done
		}
	})
}

// Addr returns the listening address, or empty string before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
