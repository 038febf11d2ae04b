package ops

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type switchableChecker struct {
	mu  sync.Mutex
	err error
}

func (c *switchableChecker) Ping(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *switchableChecker) set(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

func startOps(t *testing.T, checker Checker, interval time.Duration) (*Server, healthpb.HealthClient) {
	t.Helper()
	srv := NewServer("127.0.0.1:0", interval, checker, zaptest.NewLogger(t))

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(context.Background(), lis) }()
	t.Cleanup(func() {
		srv.Stop()
		assert.NoError(t, <-errCh)
	})

	conn, err := grpc.NewClient(lis.Addr().String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return srv, healthpb.NewHealthClient(conn)
}

func status(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Logf("health check %q: %v", service, err)
		return healthpb.HealthCheckResponse_UNKNOWN
	}
	return resp.GetStatus()
}

func TestHealthServingWhenStoreReachable(t *testing.T) {
	_, client := startOps(t, &switchableChecker{}, time.Hour)

	assert.Eventually(t, func() bool {
		return status(t, client, ServiceName) == healthpb.HealthCheckResponse_SERVING
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status(t, client, ""))
}

func TestHealthFollowsProbe(t *testing.T) {
	checker := &switchableChecker{err: errors.New("connection refused")}
	srv, client := startOps(t, checker, time.Hour)

	assert.Eventually(t, func() bool {
		return srv.Addr() != ""
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status(t, client, ServiceName))

	checker.set(nil)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, srv.Check(context.Background()))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status(t, client, ServiceName))

	checker.set(errors.New("timeout"))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, srv.Check(context.Background()))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status(t, client, ServiceName))
}

func TestHealthPeriodicProbe(t *testing.T) {
	checker := &switchableChecker{err: errors.New("down")}
	_, client := startOps(t, checker, 20*time.Millisecond)

	checker.set(nil)
	assert.Eventually(t, func() bool {
		return status(t, client, ServiceName) == healthpb.HealthCheckResponse_SERVING
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStartStopsOnCancel(t *testing.T) {
	srv := NewServer("127.0.0.1:0", time.Hour, &switchableChecker{}, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	require.Eventually(t, func() bool { return srv.Addr() != "" }, 2*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("ops server did not stop on cancel")
	}
}

func TestStartReportsListenError(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	srv := NewServer(busy.Addr().String(), time.Hour, &switchableChecker{}, zaptest.NewLogger(t))
	assert.Error(t, srv.Start(context.Background()))
}

func TestNewServerRejectsZeroInterval(t *testing.T) {
	assert.Panics(t, func() {
		NewServer("127.0.0.1:0", 0, &switchableChecker{}, zaptest.NewLogger(t))
	})
}
