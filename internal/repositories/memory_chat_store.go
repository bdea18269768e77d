package repositories

import (
	"context"
	"sync"

	"marketplace-chat/internal/models"
)

// MemoryChatStore keeps chat records in process memory, indexed by owner and
// then by counterpart. Session insertion order is preserved for listings.
type MemoryChatStore struct {
	mu      sync.RWMutex
	records map[string]*memoryRecord
}

type memoryRecord struct {
	order    []string
	sessions map[string]*models.ChatSession
}

// NewMemoryChatStore constructs an empty MemoryChatStore.
func NewMemoryChatStore() *MemoryChatStore {
	return &MemoryChatStore{records: make(map[string]*memoryRecord)}
}

// FindByUserName returns a copy of the user's record.
func (s *MemoryChatStore) FindByUserName(ctx context.Context, userName string) (models.UserChats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[userName]
	if !ok {
		return models.UserChats{}, ErrUserChatsNotFound
	}
	out := models.UserChats{UserName: userName, Chats: make([]models.ChatSession, 0, len(rec.order))}
	for _, counterpart := range rec.order {
		out.Chats = append(out.Chats, copySession(rec.sessions[counterpart]))
	}
	return out, nil
}

// GetSession returns a copy of the owner's session with counterpart.
func (s *MemoryChatStore) GetSession(ctx context.Context, owner, counterpart string) (models.ChatSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, err := s.lookup(owner, counterpart)
	if err != nil {
		return models.ChatSession{}, err
	}
	return copySession(session), nil
}

// ListSessions summarizes the owner's sessions in insertion order.
func (s *MemoryChatStore) ListSessions(ctx context.Context, owner string) ([]models.SessionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[owner]
	if !ok {
		return []models.SessionSummary{}, nil
	}
	out := make([]models.SessionSummary, 0, len(rec.order))
	for _, counterpart := range rec.order {
		out = append(out, rec.sessions[counterpart].Summary())
	}
	return out, nil
}

// AppendMessage stores msg in the owner's session with counterpart.
func (s *MemoryChatStore) AppendMessage(ctx context.Context, owner, counterpart string, msg models.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[owner]
	if !ok {
		rec = &memoryRecord{sessions: make(map[string]*models.ChatSession)}
		s.records[owner] = rec
	}
	session, ok := rec.sessions[counterpart]
	if !ok {
		session = &models.ChatSession{CounterpartUserName: counterpart}
		rec.sessions[counterpart] = session
		rec.order = append(rec.order, counterpart)
	}
	if _, exists := session.Message(msg.ID); exists {
		return nil
	}
	session.Messages = append(session.Messages, msg)
	return nil
}

// FindMessage returns a single message of the owner's session.
func (s *MemoryChatStore) FindMessage(ctx context.Context, owner, counterpart, messageID string) (models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, err := s.lookup(owner, counterpart)
	if err != nil {
		return models.Message{}, err
	}
	msg, ok := session.Message(messageID)
	if !ok {
		return models.Message{}, ErrMessageNotFound
	}
	return *msg, nil
}

// MarkReceived flags one message of the owner's copy as received.
func (s *MemoryChatStore) MarkReceived(ctx context.Context, owner, counterpart, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, err := s.lookup(owner, counterpart)
	if err != nil {
		return err
	}
	msg, ok := session.Message(messageID)
	if !ok {
		return ErrMessageNotFound
	}
	msg.Received = true
	return nil
}

// MarkSeen flags every message of the owner's copy as seen.
func (s *MemoryChatStore) MarkSeen(ctx context.Context, owner, counterpart string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, err := s.lookup(owner, counterpart)
	if err != nil {
		return 0, err
	}
	for i := range session.Messages {
		session.Messages[i].Seen = true
		session.Messages[i].Received = true
	}
	return len(session.Messages), nil
}

// lookup must be called with s.mu held.
func (s *MemoryChatStore) lookup(owner, counterpart string) (*models.ChatSession, error) {
	rec, ok := s.records[owner]
	if !ok {
		return nil, ErrUserChatsNotFound
	}
	session, ok := rec.sessions[counterpart]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

func copySession(session *models.ChatSession) models.ChatSession {
	msgs := make([]models.Message, len(session.Messages))
	copy(msgs, session.Messages)
	return models.ChatSession{CounterpartUserName: session.CounterpartUserName, Messages: msgs}
}

var _ ChatStore = (*MemoryChatStore)(nil)
