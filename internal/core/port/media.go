package port

import (
	"context"

	"github.com/Wyydra/learnloop/internal/core/domain"
)

type Track interface {
	ID() string
	Kind() domain.MediaKind
	Enabled() bool
	SetEnabled(enabled bool)
	Stop()
}

// MediaStream is a set of local tracks acquired together. Stop releases
// every device handle it holds.
type MediaStream interface {
	Tracks() []Track
	Stop()
}

type MediaDevices interface {
	Acquire(ctx context.Context, constraints domain.MediaConstraints) (MediaStream, error)
}

// PeerConnection is the media transport between two call participants.
// CreateOffer and CreateAnswer also apply the result as local description.
type PeerConnection interface {
	AddStream(stream MediaStream) error
	CreateOffer(ctx context.Context) (domain.SessionDescription, error)
	CreateAnswer(ctx context.Context) (domain.SessionDescription, error)
	SetRemoteDescription(ctx context.Context, desc domain.SessionDescription) error
	AddICECandidate(ctx context.Context, candidate domain.ICECandidate) error
	OnICECandidate(fn func(domain.ICECandidate))
	OnStateChange(fn func(domain.TransportState))
	Close() error
}

type PeerFactory interface {
	NewPeer() (PeerConnection, error)
}
