package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"marketplace-chat/internal/models"
	"marketplace-chat/internal/observability"
	"marketplace-chat/internal/repositories"
)

// Pusher delivers events to a user's live connections.
type Pusher interface {
	Push(ctx context.Context, userName string, event models.ChatEvent) error
}

// RepairQueue schedules a failed message copy for a later write.
type RepairQueue interface {
	Enqueue(ctx context.Context, task models.RepairTask) error
}

// SendInput is one logical chat message. Content and File are optional but at
// least one must be set.
type SendInput struct {
	Sender   string
	Receiver string
	Content  *string
	File     *string
}

// ChatService stores chat messages in both participants' records and tracks
// their delivery state.
type ChatService struct {
	store   repositories.ChatStore
	pusher  Pusher
	repairs RepairQueue
	logger  *zap.Logger

	now   func() time.Time
	newID func() string
}

// NewChatService constructs a ChatService. repairs may be nil, in which case
// partial writes are only logged.
func NewChatService(store repositories.ChatStore, pusher Pusher, repairs RepairQueue, logger *zap.Logger) *ChatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{
		store:   store,
		pusher:  pusher,
		repairs: repairs,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
}

// Send writes the message to the sender's session with the receiver, then to
// the receiver's session with the sender, then pushes it to both users.
func (s *ChatService) Send(ctx context.Context, in SendInput) (models.Message, error) {
	if err := ValidateParticipants(in.Sender, in.Receiver); err != nil {
		return models.Message{}, err
	}
	sender := strings.TrimSpace(in.Sender)
	receiver := strings.TrimSpace(in.Receiver)
	content := normalize(in.Content)
	file := normalize(in.File)
	if content == nil && file == nil {
		return models.Message{}, validationError("content or file is required")
	}

	ctx, span := otel.Tracer("marketplace-chat/service").Start(ctx, "chat.send")
	defer span.End()

	msg := models.Message{
		ID:        s.newID(),
		Sender:    sender,
		Content:   content,
		File:      file,
		Timestamp: s.now(),
	}
	span.SetAttributes(attribute.String("chat.message_id", msg.ID))

	if err := s.store.AppendMessage(ctx, sender, receiver, msg); err != nil {
		span.SetStatus(codes.Error, "sender copy")
		return models.Message{}, fmt.Errorf("store sender copy: %w", err)
	}

	if err := s.store.AppendMessage(ctx, receiver, sender, msg); err != nil {
		span.SetStatus(codes.Error, "receiver copy")
		observability.IncPartialWrite()
		s.logger.Error("receiver copy not stored",
			zap.String("owner", receiver),
			zap.String("counterpart", sender),
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		s.scheduleRepair(ctx, models.RepairTask{Owner: receiver, Counterpart: sender, Message: msg})
		return models.Message{}, &PartialWriteError{Owner: receiver, Counterpart: sender, MessageID: msg.ID, Err: err}
	}
	observability.IncMessageSent()

	event := models.ChatEvent{Type: models.EventReceiveMessage, Message: &msg}
	s.push(ctx, sender, event)
	s.push(ctx, receiver, event)
	return msg, nil
}

// ValidateParticipants rejects a send with no receiver, no sender or the same
// user on both ends. Callers with side effects of their own (attachment
// uploads) run it before those.
func ValidateParticipants(sender, receiver string) error {
	sender = strings.TrimSpace(sender)
	receiver = strings.TrimSpace(receiver)
	if receiver == "" {
		return validationError("receiverUserName is required")
	}
	if sender == "" {
		return validationError("senderUserName is required")
	}
	if sender == receiver {
		return validationError("cannot send a message to yourself")
	}
	return nil
}

// MarkReceived flags one message of the owner's copy as received. Missing
// records, sessions or messages are ignored.
func (s *ChatService) MarkReceived(ctx context.Context, owner, counterpart, messageID string) error {
	err := s.store.MarkReceived(ctx, owner, counterpart, messageID)
	if repositories.IsNotFound(err) {
		s.logger.Debug("receipt for unknown message ignored",
			zap.String("owner", owner),
			zap.String("counterpart", counterpart),
			zap.String("message_id", messageID),
		)
		return nil
	}
	return err
}

// MarkSeen flags every message in the owner's session with counterpart as seen.
func (s *ChatService) MarkSeen(ctx context.Context, owner, counterpart string) (int, error) {
	return s.store.MarkSeen(ctx, owner, counterpart)
}

// GetMessages returns the owner's copy of the conversation in send order.
func (s *ChatService) GetMessages(ctx context.Context, owner, counterpart string) ([]models.Message, error) {
	session, err := s.store.GetSession(ctx, owner, counterpart)
	if err != nil {
		return nil, err
	}
	return session.Messages, nil
}

// ListSessions summarizes every session of the owner.
func (s *ChatService) ListSessions(ctx context.Context, owner string) ([]models.SessionSummary, error) {
	return s.store.ListSessions(ctx, owner)
}

// Repair writes a message copy that failed during Send. The append is
// idempotent, so repeated deliveries of the same task are harmless.
func (s *ChatService) Repair(ctx context.Context, task models.RepairTask) error {
	if task.Owner == "" || task.Counterpart == "" || task.Message.ID == "" {
		observability.IncRepair("invalid")
		return validationError("repair task is incomplete")
	}
	if err := s.store.AppendMessage(ctx, task.Owner, task.Counterpart, task.Message); err != nil {
		observability.IncRepair("failed")
		return fmt.Errorf("repair copy: %w", err)
	}
	observability.IncRepair("repaired")
	s.logger.Info("message copy repaired",
		zap.String("owner", task.Owner),
		zap.String("counterpart", task.Counterpart),
		zap.String("message_id", task.Message.ID),
		zap.Int("attempt", task.Attempt),
	)
	return nil
}

func (s *ChatService) scheduleRepair(ctx context.Context, task models.RepairTask) {
	if s.repairs == nil {
		return
	}
	// The request may already be cancelled; the repair must still be queued.
	if err := s.repairs.Enqueue(context.WithoutCancel(ctx), task); err != nil {
		s.logger.Error("repair not scheduled",
			zap.String("owner", task.Owner),
			zap.String("message_id", task.Message.ID),
			zap.Error(err),
		)
	}
}

func (s *ChatService) push(ctx context.Context, userName string, event models.ChatEvent) {
	if s.pusher == nil {
		return
	}
	if err := s.pusher.Push(ctx, userName, event); err != nil {
		s.logger.Debug("live push skipped", zap.String("user", userName), zap.Error(err))
	}
}

func normalize(v *string) *string {
	if v == nil {
		return nil
	}
	if strings.TrimSpace(*v) == "" {
		return nil
	}
	value := *v
	return &value
}

// IsNotFound reports whether err means the requested chat data does not exist.
func IsNotFound(err error) bool {
	return repositories.IsNotFound(err)
}

// IsValidation reports whether err was caused by invalid input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}
