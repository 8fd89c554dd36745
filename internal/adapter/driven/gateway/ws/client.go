package ws

import "github.com/Wyydra/learnloop/internal/core/domain"

// Client is one authenticated socket connection.
type Client interface {
	ID() domain.ClientID
	UserID() domain.UserID
	// Send queues an envelope without blocking on the network.
	Send(env domain.Envelope) error
	Close()
}
