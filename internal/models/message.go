package models

import "time"

// Message is one entry of a chat session. The same message id appears in both
// participants' copies of the conversation; the received and seen flags are
// tracked independently per copy.
type Message struct {
	ID        string    `db:"id" json:"id" bson:"_id"`
	Sender    string    `db:"sender" json:"senderUserName" bson:"senderUserName"`
	Content   *string   `db:"content" json:"content" bson:"content"`
	File      *string   `db:"file" json:"file" bson:"file"`
	Received  bool      `db:"received" json:"received" bson:"received"`
	Seen      bool      `db:"seen" json:"seen" bson:"seen"`
	Timestamp time.Time `db:"created_at" json:"timestamp" bson:"timestamp"`
}

// ChatEvent is pushed through the live channel.
type ChatEvent struct {
	Type    string   `json:"type"`
	Message *Message `json:"message,omitempty"`
}

// ClientEvent is read from the live channel.
type ClientEvent struct {
	Type                string `json:"type"`
	CounterpartUserName string `json:"counterpartUserName"`
	MessageID           string `json:"messageId"`
}

const (
	EventReceiveMessage  = "receiveMessage"
	EventMessageReceived = "messageReceived"
)
