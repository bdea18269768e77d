package models

import "time"

// UserChats holds every chat session of a single user. It exists once the user
// has sent or received at least one message.
type UserChats struct {
	UserName string        `db:"user_name" json:"userName" bson:"userName"`
	Chats    []ChatSession `json:"chats" bson:"chats"`
}

// ChatSession is the owner's copy of a conversation with one counterpart.
type ChatSession struct {
	CounterpartUserName string    `db:"counterpart" json:"counterpartUserName" bson:"counterpartUserName"`
	Messages            []Message `json:"messages" bson:"messages"`
}

// SessionSummary provides an API-friendly view of a session for its owner.
type SessionSummary struct {
	CounterpartUserName string     `db:"counterpart" json:"counterpartUserName"`
	MessageCount        int        `db:"message_count" json:"messageCount"`
	UnreadCount         int        `db:"unread_count" json:"unreadCount"`
	LastMessageAt       *time.Time `db:"last_message_at" json:"lastMessageAt,omitempty"`
}

// Session returns the owner's session with counterpart.
func (u *UserChats) Session(counterpart string) (*ChatSession, bool) {
	for i := range u.Chats {
		if u.Chats[i].CounterpartUserName == counterpart {
			return &u.Chats[i], true
		}
	}
	return nil, false
}

// Summaries lists the sessions in insertion order.
func (u *UserChats) Summaries() []SessionSummary {
	out := make([]SessionSummary, 0, len(u.Chats))
	for i := range u.Chats {
		out = append(out, u.Chats[i].Summary())
	}
	return out
}

// Message looks up a message of the session by id.
func (s *ChatSession) Message(id string) (*Message, bool) {
	for i := range s.Messages {
		if s.Messages[i].ID == id {
			return &s.Messages[i], true
		}
	}
	return nil, false
}

// UnreadCount counts messages from the counterpart the owner has not seen yet.
func (s *ChatSession) UnreadCount() int {
	n := 0
	for _, m := range s.Messages {
		if m.Sender == s.CounterpartUserName && !m.Seen {
			n++
		}
	}
	return n
}

// Summary builds the listing view of the session.
func (s *ChatSession) Summary() SessionSummary {
	summary := SessionSummary{
		CounterpartUserName: s.CounterpartUserName,
		MessageCount:        len(s.Messages),
		UnreadCount:         s.UnreadCount(),
	}
	if n := len(s.Messages); n > 0 {
		ts := s.Messages[n-1].Timestamp
		summary.LastMessageAt = &ts
	}
	return summary
}
