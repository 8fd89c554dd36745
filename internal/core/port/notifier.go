package port

import (
	"context"

	"github.com/Wyydra/learnloop/internal/core/domain"
)

// CallNotifier pushes incoming-call notices outside the socket, for users
// who are not connected.
type CallNotifier interface {
	NotifyIncoming(ctx context.Context, calleeID domain.UserID, payload domain.IncomingPayload) error
}

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (domain.UserID, error)
}
