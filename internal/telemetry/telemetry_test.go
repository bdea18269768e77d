package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

type publisherMock struct {
	mock.Mock
}

func (m *publisherMock) Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	args := m.Called(ctx, routingKey, event, headers)
	return args.Error(0)
}

func TestAuditEmitterPublishesEnvelope(t *testing.T) {
	publisher := new(publisherMock)
	user := "alice"
	publisher.On("Publish", mock.Anything, "audit.chat", mock.MatchedBy(func(event any) bool {
		envelope, ok := event.(AuditEnvelope)
		return ok &&
			envelope.EventType == "audit_log" &&
			envelope.Service == "chat-service" &&
			envelope.Environment == "test" &&
			envelope.RequestID == "req-1" &&
			envelope.UserName != nil && *envelope.UserName == "alice" &&
			envelope.Payload.Level == "INFO" &&
			envelope.Payload.Text == "message sent"
	}), map[string]string{"x-request-id": "req-1"}).Return(nil).Once()

	emitter := NewAuditEmitter(publisher, "audit.chat", "chat-service", "test", zap.NewNop())
	emitter.Emit(context.Background(), "INFO", "message sent", "req-1", &user)

	publisher.AssertExpectations(t)
}

func TestAuditEmitterNilSafe(t *testing.T) {
	var emitter *AuditEmitter
	assert.NotPanics(t, func() {
		emitter.Emit(context.Background(), "INFO", "noop", "req", nil)
	})
	assert.NotPanics(t, func() {
		NewAuditEmitter(nil, "audit.chat", "svc", "env", nil).Emit(context.Background(), "INFO", "noop", "req", nil)
	})
}

func TestInitTracerWithoutExporter(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), "chat-service", "test", "", zap.NewNop())
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "op")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	require.NoError(t, shutdown(context.Background()))
}
