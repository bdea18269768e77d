package grpcserver

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"marketplace-chat/internal/observability"
)

// ServiceName is the health service name reported for the chat service.
const ServiceName = "marketplace.chat"

// Server is the internal gRPC server together with its health service.
type Server struct {
	*grpc.Server
	Health *health.Server
}

// New builds the internal gRPC server. It only carries the health service,
// instrumented with request metrics and tracing.
func New(logger *zap.Logger) *Server {
	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(observability.GRPCServerMetricsUnaryInterceptor()),
	)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)
	reflection.Register(server)

	if logger != nil {
		logger.Debug("grpc server configured", zap.String("health_service", ServiceName))
	}
	return &Server{Server: server, Health: healthServer}
}

// Shutdown reports NOT_SERVING to health checkers and watchers, then waits for
// in-flight calls to finish.
func (s *Server) Shutdown() {
	s.Health.Shutdown()
	s.GracefulStop()
}
