package repositories

import (
	"context"
	"errors"

	"marketplace-chat/internal/models"
)

var (
	ErrUserChatsNotFound = errors.New("user chats not found")
	ErrSessionNotFound   = errors.New("chat session not found")
	ErrMessageNotFound   = errors.New("message not found")
)

// IsNotFound reports whether err marks a missing record, session or message.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUserChatsNotFound) || errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrMessageNotFound)
}

// ChatStore abstracts persistence of per-user chat records. Every method only
// touches the owner's record; keeping two participants' copies in sync is the
// caller's job.
type ChatStore interface {
	FindByUserName(ctx context.Context, userName string) (models.UserChats, error)
	GetSession(ctx context.Context, owner, counterpart string) (models.ChatSession, error)
	ListSessions(ctx context.Context, owner string) ([]models.SessionSummary, error)
	// AppendMessage creates the owner's record and session when missing and
	// appends msg. Appending an id that is already in the session is a no-op.
	AppendMessage(ctx context.Context, owner, counterpart string, msg models.Message) error
	FindMessage(ctx context.Context, owner, counterpart, messageID string) (models.Message, error)
	MarkReceived(ctx context.Context, owner, counterpart, messageID string) error
	// MarkSeen flags every message of the session as seen (and received) and
	// returns how many messages the session holds.
	MarkSeen(ctx context.Context, owner, counterpart string) (int, error)
}
