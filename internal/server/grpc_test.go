package server

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/knoguchi/docsearch/internal/auth"
)

func startGRPC(t *testing.T, cfg GRPCServerConfig) (*GRPCServer, healthpb.HealthClient) {
	t.Helper()
	s, err := NewGRPCServer(cfg)
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	done := make(chan error, 1)
	go func() { done <- s.Serve(lis) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
		<-done
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return s, healthpb.NewHealthClient(conn)
}

func TestGRPCServer_Health(t *testing.T) {
	s, client := startGRPC(t, GRPCServerConfig{})
	ctx := context.Background()

	require.Eventually(t, func() bool {
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
		return err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
	}, 2*time.Second, 10*time.Millisecond)

	s.SetServing(false)
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())

	_, err = client.Check(ctx, &healthpb.HealthCheckRequest{Service: "unknown"})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestGRPCServer_HealthBypassesAuth(t *testing.T) {
	m := auth.NewJWTManager(auth.DefaultJWTConfig("secret"))
	_, client := startGRPC(t, GRPCServerConfig{Auth: m})

	require.Eventually(t, func() bool {
		resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{})
		return err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGRPCServer_ShutdownReportsNotServing(t *testing.T) {
	s, err := NewGRPCServer(GRPCServerConfig{})
	require.NoError(t, err)
	s.SetServing(true)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	// updates after shutdown are ignored
	s.SetServing(true)
	resp, err := s.health.Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())
}

func TestRPCLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, rpcLevel("/grpc.health.v1.Health/Check", codes.OK))
	assert.Equal(t, slog.LevelInfo, rpcLevel("/docsearch.v1.Search/Query", codes.OK))
	assert.Equal(t, slog.LevelWarn, rpcLevel("/grpc.health.v1.Health/Check", codes.Unauthenticated))
	assert.Equal(t, slog.LevelError, rpcLevel("/docsearch.v1.Search/Query", codes.Internal))
}

func TestRecoveryUnaryInterceptor(t *testing.T) {
	ic := recoveryUnaryInterceptor(slog.New(slog.NewTextHandler(io.Discard, nil)))
	info := &grpc.UnaryServerInfo{FullMethod: "/test/Panic"}

	_, err := ic(context.Background(), nil, info, func(context.Context, any) (any, error) {
		panic("boom")
	})
	assert.Equal(t, codes.Internal, status.Code(err))

	resp, err := ic(context.Background(), nil, info, func(context.Context, any) (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
}
