package port

import (
	"context"

	"github.com/Wyydra/learnloop/internal/core/domain"
)

// RealTimeGateway delivers envelopes to connected sockets.
type RealTimeGateway interface {
	SendToClient(ctx context.Context, clientID domain.ClientID, env domain.Envelope) error
	// SendToUser fans out to every connection of the user. It returns the
	// number of connections reached.
	SendToUser(ctx context.Context, userID domain.UserID, env domain.Envelope) (int, error)
}
