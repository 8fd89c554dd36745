package domain

import (
	"strings"

	"github.com/google/uuid"
)

// ExchangeID and UserID are issued by the LearnLoop REST API; the call
// layer treats them as opaque strings.
type ExchangeID string
type UserID string

type RoomID string

const roomPrefix = "call-"

// RoomIDFor derives the call room of an exchange.
func RoomIDFor(exchangeID ExchangeID) RoomID {
	return RoomID(roomPrefix + string(exchangeID))
}

// ExchangeID recovers the exchange a room was derived from.
func (id RoomID) ExchangeID() (ExchangeID, bool) {
	s := string(id)
	if !strings.HasPrefix(s, roomPrefix) || len(s) == len(roomPrefix) {
		return "", false
	}
	return ExchangeID(strings.TrimPrefix(s, roomPrefix)), true
}

func (id RoomID) String() string     { return string(id) }
func (id UserID) String() string     { return string(id) }
func (id ExchangeID) String() string { return string(id) }

// ClientID identifies one socket connection. A user may hold several.
type ClientID uuid.UUID

func NewClientID() ClientID {
	return ClientID(uuid.New())
}

func (id ClientID) String() string {
	return uuid.UUID(id).String()
}

type CallID uuid.UUID

func NewCallID() CallID {
	return CallID(uuid.New())
}

func ParseCallID(s string) (CallID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return CallID{}, err
	}
	return CallID(id), nil
}

func (id CallID) String() string {
	return uuid.UUID(id).String()
}

func (id CallID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

func (id *CallID) UnmarshalText(b []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(b)
}

type MessageID uuid.UUID

func NewMessageID() MessageID {
	return MessageID(uuid.New())
}

func (id MessageID) String() string {
	return uuid.UUID(id).String()
}
