package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserChatsSessionLookup(t *testing.T) {
	record := UserChats{
		UserName: "alice",
		Chats: []ChatSession{
			{CounterpartUserName: "bob"},
			{CounterpartUserName: "carol"},
		},
	}

	session, ok := record.Session("carol")
	require.True(t, ok)
	assert.Equal(t, "carol", session.CounterpartUserName)

	session.Messages = append(session.Messages, Message{ID: "m1"})
	assert.Len(t, record.Chats[1].Messages, 1, "lookup must return a reference into the record")

	_, ok = record.Session("dave")
	assert.False(t, ok)
}

func TestChatSessionMessageLookup(t *testing.T) {
	session := ChatSession{
		CounterpartUserName: "bob",
		Messages:            []Message{{ID: "m1"}, {ID: "m2"}},
	}

	msg, ok := session.Message("m2")
	require.True(t, ok)
	msg.Received = true
	assert.True(t, session.Messages[1].Received)
	assert.False(t, session.Messages[0].Received)

	_, ok = session.Message("missing")
	assert.False(t, ok)
}

func TestChatSessionSummary(t *testing.T) {
	last := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	session := ChatSession{
		CounterpartUserName: "bob",
		Messages: []Message{
			{ID: "m1", Sender: "bob", Seen: true},
			{ID: "m2", Sender: "alice"},
			{ID: "m3", Sender: "bob", Timestamp: last},
		},
	}

	summary := session.Summary()
	assert.Equal(t, "bob", summary.CounterpartUserName)
	assert.Equal(t, 3, summary.MessageCount)
	assert.Equal(t, 1, summary.UnreadCount)
	require.NotNil(t, summary.LastMessageAt)
	assert.True(t, last.Equal(*summary.LastMessageAt))

	empty := ChatSession{CounterpartUserName: "carol"}
	assert.Nil(t, empty.Summary().LastMessageAt)
}
