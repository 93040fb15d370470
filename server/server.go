// Package server implements the saiagent diagnostic gRPC server and
// the daemon entry point that wires the switch, its persisted state,
// the intended state file and the metrics endpoint together.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/frobware/go-saiagent/hwswitch"
)

// Server implements the diagnostic service over one switch.
type Server struct {
	sw         *hwswitch.Switch
	health     *health.Server
	logger     *slog.Logger
	rpcCounter atomic.Uint64
}

// New creates a diagnostic server for sw.
func New(sw *hwswitch.Switch, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		sw:     sw,
		health: health.NewServer(),
		logger: logger.With("component", "server"),
	}
}

// NewGRPCServer returns a gRPC server with the diagnostic and health
// services registered and the logging interceptor installed.
func (s *Server) NewGRPCServer() *grpc.Server {
	gs := grpc.NewServer(grpc.UnaryInterceptor(s.loggingInterceptor()))
	gs.RegisterService(&serviceDesc, s)
	healthpb.RegisterHealthServer(gs, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return gs
}

// listenUnix replaces any stale socket at path and listens on it with
// group-only permissions.
func listenUnix(path string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create socket directory: %w", err)
	}
	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o660); err != nil {
		l.Close()
		return nil, fmt.Errorf("chmod %s: %w", path, err)
	}
	return l, nil
}

// serve answers diagnostic RPCs on socketPath, and on tcpAddr when it
// is set, until ctx is done or a listener fails.
func (s *Server) serve(ctx context.Context, socketPath, tcpAddr string) error {
	listeners := make(map[string]net.Listener)
	unixListener, err := listenUnix(socketPath)
	if err != nil {
		return err
	}
	listeners["unix:"+socketPath] = unixListener
	if tcpAddr != "" {
		tcpListener, err := net.Listen("tcp", tcpAddr)
		if err != nil {
			unixListener.Close()
			return fmt.Errorf("listen on %s: %w", tcpAddr, err)
		}
		listeners["tcp:"+tcpAddr] = tcpListener
	}

	gs := s.NewGRPCServer()
	g, gctx := errgroup.WithContext(ctx)
	for addr, l := range listeners {
		g.Go(func() error {
			s.logger.InfoContext(ctx, "diagnostics listening", "address", addr)
			if err := gs.Serve(l); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("serve %s: %w", addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		s.logger.InfoContext(ctx, "stopping diagnostics")
		s.health.Shutdown()
		if ctx.Err() != nil {
			gs.GracefulStop()
		} else {
			gs.Stop()
		}
		return nil
	})
	return g.Wait()
}

// loggingInterceptor returns a gRPC unary interceptor that numbers
// each request and logs failures.
func (s *Server) loggingInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		rpcID := s.rpcCounter.Add(1)
		start := time.Now()
		resp, err := handler(ctx, req)
		if err != nil {
			s.logger.WarnContext(ctx, "grpc error", "rpc_id", rpcID, "method", info.FullMethod, "error", err)
			return resp, err
		}
		s.logger.DebugContext(ctx, "grpc call", "rpc_id", rpcID, "method", info.FullMethod, "duration", time.Since(start))
		return resp, nil
	}
}
