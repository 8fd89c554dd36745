package port

import (
	"context"

	"github.com/Wyydra/learnloop/internal/core/domain"
)

// SignalingChannel is the client end of the signaling socket.
type SignalingChannel interface {
	Emit(ctx context.Context, event string, payload any) error
	// Subscribe returns a stream of inbound envelopes and a func that
	// detaches it.
	Subscribe() (<-chan domain.Envelope, func())
}
