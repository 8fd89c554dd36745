package domain

import (
	"strings"
	"time"
)

// Message is an in-call chat line.
type Message struct {
	ID        MessageID
	RoomID    RoomID
	SenderID  UserID
	Content   string
	CreatedAt time.Time
}

func NewMessage(senderID UserID, roomID RoomID, content string) (*Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyMessage
	}
	if roomID == "" {
		return nil, ErrMissingRoom
	}
	return &Message{
		ID:        NewMessageID(),
		RoomID:    roomID,
		SenderID:  senderID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}, nil
}
