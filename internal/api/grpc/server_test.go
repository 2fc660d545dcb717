package grpcapi

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"voiceguard-service/internal/observability/metrics"
)

func startServer(t *testing.T, ready func(context.Context) error, m *metrics.Metrics) (*Server, grpc_health_v1.HealthClient) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := NewServer(ready, m)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return s, grpc_health_v1.NewHealthClient(conn)
}

func check(t *testing.T, c grpc_health_v1.HealthClient, service string) grpc_health_v1.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := c.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestServer_HealthFollowsReadiness(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)
	ready := func(context.Context) error {
		if failing.Load() {
			return errors.New("no call records")
		}
		return nil
	}

	m := metrics.NewMetricsWith(prometheus.NewRegistry())
	s, client := startServer(t, ready, m)

	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, check(t, client, ServiceName))

	failing.Store(false)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, s.Refresh(context.Background()))
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, check(t, client, ServiceName))
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, check(t, client, ""))

	failing.Store(true)
	s.Refresh(context.Background())
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, check(t, client, ServiceName))

	assert.Equal(t, 4.0, testutil.ToFloat64(m.GRPCRequests.WithLabelValues("/grpc.health.v1.Health/Check", "OK")))
}

func TestServer_UnknownServiceIsRecorded(t *testing.T) {
	m := metrics.NewMetricsWith(prometheus.NewRegistry())
	_, client := startServer(t, nil, m)

	_, err := client.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: "nope"})
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GRPCRequests.WithLabelValues("/grpc.health.v1.Health/Check", "NotFound")))
}

func TestServer_WatchReadinessStopsWithContext(t *testing.T) {
	s := NewServer(nil, metrics.NewMetricsWith(prometheus.NewRegistry()))
	defer s.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.WatchReadiness(ctx)
		close(done)
	}()
	cancel()
	<-done
}
