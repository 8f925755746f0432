// Package server builds the gRPC server the grade predictor is served on:
// listener, interceptor chain, health service and optional reflection.
package server

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	health "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// defaultMaxRecvMsgSize leaves room for batch tables sent inline.
const defaultMaxRecvMsgSize = 16 << 20

type Option func(*Options)

type Options struct {
	port           int
	listener       net.Listener
	logger         *zap.Logger
	reflection     bool
	logging        bool
	requestID      bool
	recorder       CallRecorder
	maxRecvMsgSize int
}

func WithPort(port int) Option {
	return func(o *Options) { o.port = port }
}

// WithListener serves on an existing listener instead of opening a port.
func WithListener(lis net.Listener) Option {
	return func(o *Options) { o.listener = lis }
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *Options) { o.logger = logger }
}

func WithReflection(enabled bool) Option {
	return func(o *Options) { o.reflection = enabled }
}

func WithLogging(enabled bool) Option {
	return func(o *Options) { o.logging = enabled }
}

// WithRequestID tags every call with a request id, taken from the incoming
// x-request-id header or generated.
func WithRequestID(enabled bool) Option {
	return func(o *Options) { o.requestID = enabled }
}

// WithMetrics records the method, status code and latency of every call.
func WithMetrics(rec CallRecorder) Option {
	return func(o *Options) { o.recorder = rec }
}

// WithMaxRecvMsgSize bounds request size in bytes.
func WithMaxRecvMsgSize(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.maxRecvMsgSize = n
		}
	}
}

// Server wraps a grpc.Server with its listener and health service.
type Server struct {
	grpcServer   *grpc.Server
	lis          net.Listener
	logger       *zap.Logger
	healthServer *health.Server
}

// New builds a server from the options. It listens immediately so the address
// is known before Start.
func New(opts ...Option) (*Server, error) {
	o := &Options{
		port:           50051,
		logger:         zap.NewNop(),
		maxRecvMsgSize: defaultMaxRecvMsgSize,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	lis, err := o.listen()
	if err != nil {
		return nil, err
	}

	serverOpts := []grpc.ServerOption{grpc.MaxRecvMsgSize(o.maxRecvMsgSize)}
	if chain := o.interceptors(); len(chain) > 0 {
		serverOpts = append(serverOpts, grpc.ChainUnaryInterceptor(chain...))
	}
	grpcServer := grpc.NewServer(serverOpts...)

	if o.reflection {
		reflection.Register(grpcServer)
	}

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	return &Server{
		grpcServer:   grpcServer,
		lis:          lis,
		logger:       o.logger.Named("grpc-server"),
		healthServer: healthServer,
	}, nil
}

func (o *Options) listen() (net.Listener, error) {
	if o.listener != nil {
		return o.listener, nil
	}
	if o.port < 1 || o.port > 65535 {
		return nil, fmt.Errorf("invalid port %d: must be between 1 and 65535", o.port)
	}
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", o.port))
	if err != nil {
		return nil, fmt.Errorf("failed to listen on port %d: %w", o.port, err)
	}
	return lis, nil
}

// interceptors orders the chain with the request id first so logging and
// metrics can see it.
func (o *Options) interceptors() []grpc.UnaryServerInterceptor {
	var chain []grpc.UnaryServerInterceptor
	if o.requestID {
		chain = append(chain, RequestIDInterceptor())
	}
	if o.logging {
		chain = append(chain, LoggingInterceptor(o.logger))
	}
	if o.recorder != nil {
		chain = append(chain, MetricsInterceptor(o.recorder))
	}
	return chain
}

// RegisterServiceWithHealth registers a service and reports it SERVING under
// serviceName.
func (s *Server) RegisterServiceWithHealth(serviceName string, registerFunc func(s *grpc.Server)) {
	registerFunc(s.grpcServer)
	if serviceName != "" {
		s.SetServiceHealth(serviceName, healthpb.HealthCheckResponse_SERVING)
	}
}

// SetServiceHealth updates the health status reported for serviceName.
func (s *Server) SetServiceHealth(serviceName string, status healthpb.HealthCheckResponse_ServingStatus) {
	s.healthServer.SetServingStatus(serviceName, status)
	s.logger.Info("service health updated",
		zap.String("service", serviceName),
		zap.String("status", status.String()))
}

// Start serves in a goroutine and returns immediately.
func (s *Server) Start() {
	s.logger.Info("gRPC server starting", zap.String("addr", s.lis.Addr().String()))
	go func() {
		if err := s.grpcServer.Serve(s.lis); err != nil {
			s.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()
}

// Shutdown reports NOT_SERVING, drains in-flight calls and forces a stop when
// ctx expires first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("gRPC server shutting down")
	s.healthServer.Shutdown()

	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("gRPC server stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("forced shutdown due to timeout")
		s.grpcServer.Stop()
		return ctx.Err()
	}
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr {
	return s.lis.Addr()
}
