package domain

import (
	"fmt"
	"time"
)

type CallState string

const (
	StateIncoming   CallState = "incoming"
	StateOutgoing   CallState = "outgoing"
	StateConnecting CallState = "connecting"
	StateConnected  CallState = "connected"
	StateEnded      CallState = "ended"
)

var transitions = map[CallState][]CallState{
	StateOutgoing:   {StateConnecting, StateEnded},
	StateIncoming:   {StateConnecting, StateEnded},
	StateConnecting: {StateConnected, StateEnded},
	StateConnected:  {StateEnded},
}

// CanTransition reports whether a session may move from one state to another.
// Ended is terminal.
func (s CallState) CanTransition(to CallState) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates a move and returns the target state.
func (s CallState) Transition(to CallState) (CallState, error) {
	if !s.CanTransition(to) {
		return s, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, to)
	}
	return to, nil
}

func (s CallState) Terminal() bool {
	return s == StateEnded
}

type EndReason string

const (
	EndHangup            EndReason = "hangup"
	EndDeclined          EndReason = "declined"
	EndTimeout           EndReason = "timeout"
	EndBusy              EndReason = "busy"
	EndRemoteRejected    EndReason = "remote-rejected"
	EndRemoteEnded       EndReason = "remote-ended"
	EndTransportFailed   EndReason = "transport-failed"
	EndMediaFailed       EndReason = "media-failed"
	EndNegotiationFailed EndReason = "negotiation-failed"
)

type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

// CallSnapshot is a point-in-time copy of a client-local call session.
type CallSnapshot struct {
	ExchangeID  ExchangeID `json:"exchangeId"`
	RoomID      RoomID     `json:"roomId"`
	PeerID      UserID     `json:"peerId"`
	Direction   Direction  `json:"direction"`
	State       CallState  `json:"state"`
	IsMuted     bool       `json:"isMuted"`
	IsVideoOff  bool       `json:"isVideoOff"`
	AudioOnly   bool       `json:"audioOnly"`
	EndReason   EndReason  `json:"endReason,omitempty"`
	StartedAt   time.Time  `json:"startedAt"`
	ConnectedAt time.Time  `json:"connectedAt,omitzero"`
	EndedAt     time.Time  `json:"endedAt,omitzero"`
}

// TransportState mirrors the peer connection state reported by the media
// transport.
type TransportState string

const (
	TransportNew          TransportState = "new"
	TransportConnecting   TransportState = "connecting"
	TransportConnected    TransportState = "connected"
	TransportDisconnected TransportState = "disconnected"
	TransportFailed       TransportState = "failed"
	TransportClosed       TransportState = "closed"
)

type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

// MediaConstraints selects which local devices a call acquires.
type MediaConstraints struct {
	Audio bool
	Video bool
}
