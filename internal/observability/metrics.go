package observability

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

const namespace = "chat"

// HTTP and gRPC surface.
var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests served, by method, route template and status.",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route template.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})

	grpcServerHandledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grpc_server_handled_total",
		Help: "Unary gRPC calls completed, by service, method and status code.",
	}, []string{"grpc_service", "grpc_method", "grpc_code"})
)

// Live channel and event bus.
var (
	wsActiveConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ws_active_connections",
		Help:      "Open live channel connections on this instance.",
	}, []string{"kind"})

	wsEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ws_events_total",
		Help:      "Live channel lifecycle events (connect, disconnect, error).",
	}, []string{"kind", "event"})

	pushFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "push_failures_total",
		Help:      "Live pushes that reached no connection, by reason.",
	}, []string{"reason"})

	amqpPublishErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "amqp_publish_errors_total",
		Help:      "Events the AMQP publisher failed to hand to the broker.",
	})
)

// Delivery pipeline.
var (
	messagesSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_sent_total",
		Help:      "Messages stored in both participants' records.",
	})

	partialWritesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "partial_writes_total",
		Help:      "Messages stored for the sender but not for the receiver.",
	})

	repairsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "repairs_total",
		Help:      "Repair attempts of partially written messages, by result.",
	}, []string{"result"})
)

// HTTPMetricsMiddleware records request counts and latency per route template.
func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// GRPCServerMetricsUnaryInterceptor counts completed unary calls.
func GRPCServerMetricsUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		svc, method := splitFullMethod(info.FullMethod)
		grpcServerHandledTotal.WithLabelValues(svc, method, status.Code(err).String()).Inc()
		return resp, err
	}
}

// splitFullMethod turns "/pkg.Service/Method" into its service and method.
func splitFullMethod(fullMethod string) (string, string) {
	svc, method, ok := strings.Cut(strings.TrimPrefix(fullMethod, "/"), "/")
	if !ok || svc == "" || method == "" {
		return "unknown", "unknown"
	}
	return svc, method
}

func IncWSActive(kind string) { wsActiveConnections.WithLabelValues(kind).Inc() }
func DecWSActive(kind string) { wsActiveConnections.WithLabelValues(kind).Dec() }
func IncWSEvent(kind, event string) { wsEventsTotal.WithLabelValues(kind, event).Inc() }
func IncPushFailure(reason string) { pushFailuresTotal.WithLabelValues(reason).Inc() }
func IncAMQPPublishError() { amqpPublishErrorsTotal.Inc() }
func IncMessageSent() { messagesSentTotal.Inc() }
func IncPartialWrite() { partialWritesTotal.Inc() }
func IncRepair(result string) { repairsTotal.WithLabelValues(result).Inc() }
