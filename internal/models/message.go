package models

import (
	"time"
)

const (
	// MaxContentBytes caps the UTF-8 encoded size of a message body.
	MaxContentBytes = 1_048_576

	// BroadcastRecipient is the literal "to" value that fans a message out
	// to every online agent.
	BroadcastRecipient = "broadcast"

	// PersonSender is the reserved "from" value used for human senders.
	PersonSender = "user"
)

type MessageType string

const (
	MessageTypeNotification MessageType = "notification"
	MessageTypeQuery        MessageType = "query"
	MessageTypeResponse     MessageType = "response"
	MessageTypeBroadcast    MessageType = "broadcast"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeNotification, MessageTypeQuery, MessageTypeResponse, MessageTypeBroadcast:
		return true
	}
	return false
}

type SenderType string

const (
	SenderTypeAgent  SenderType = "agent"
	SenderTypePerson SenderType = "person"
)

func (t SenderType) Valid() bool {
	return t == SenderTypeAgent || t == SenderTypePerson
}

// Message is immutable once created except for the Read flag.
type Message struct {
	ID         string         `json:"id"`
	From       string         `json:"from"`
	To         string         `json:"to"`
	SenderType SenderType     `json:"senderType"`
	Content    string         `json:"content"`
	Type       MessageType    `json:"type"`
	ReplyTo    *string        `json:"replyTo,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Read       bool           `json:"read"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// Recipient is the tagged form of a message's "to" field.
type Recipient struct {
	AgentID   string
	Broadcast bool
}

// ParseRecipient maps the wire value of "to" onto a Recipient.
func ParseRecipient(to string) Recipient {
	if to == BroadcastRecipient {
		return Recipient{Broadcast: true}
	}
	return Recipient{AgentID: to}
}
