package callflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Wyydra/learnloop/internal/core/domain"
	"github.com/Wyydra/learnloop/internal/core/port"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const emitTimeout = 5 * time.Second

// Session is one client-local call. All mutable fields are guarded by mu;
// peer and media side effects run outside it.
type Session struct {
	self       domain.UserID
	selfName   string
	exchangeID domain.ExchangeID
	roomID     domain.RoomID
	peerID     domain.UserID
	direction  domain.Direction
	audioOnly  bool

	sig      port.SignalingChannel
	devices  port.MediaDevices
	peers    port.PeerFactory
	onChange func(domain.CallSnapshot)
	log      zerolog.Logger

	mu          sync.Mutex
	state       domain.CallState
	muted       bool
	videoOff    bool
	endReason   domain.EndReason
	startedAt   time.Time
	connectedAt time.Time
	endedAt     time.Time
	stream      port.MediaStream
	peer        port.PeerConnection
	peerOpened  bool
	joined      bool
	ringTimer   *time.Timer
	responded   bool
	accepting   bool
	offerSent   bool
	remoteSet   bool
	pending     []domain.ICECandidate
}

type sessionDeps struct {
	self     domain.UserID
	selfName string
	sig      port.SignalingChannel
	devices  port.MediaDevices
	peers    port.PeerFactory
	onChange func(domain.CallSnapshot)
}

func newSession(deps sessionDeps, dir domain.Direction, exchangeID domain.ExchangeID, peerID domain.UserID, audioOnly bool) *Session {
	state := domain.StateOutgoing
	if dir == domain.DirectionIncoming {
		state = domain.StateIncoming
	}
	roomID := domain.RoomIDFor(exchangeID)
	return &Session{
		self:       deps.self,
		selfName:   deps.selfName,
		exchangeID: exchangeID,
		roomID:     roomID,
		peerID:     peerID,
		direction:  dir,
		audioOnly:  audioOnly,
		sig:        deps.sig,
		devices:    deps.devices,
		peers:      deps.peers,
		onChange:   deps.onChange,
		log:        log.With().Str("room_id", roomID.String()).Str("direction", string(dir)).Logger(),
		state:      state,
		startedAt:  time.Now(),
	}
}

func (s *Session) RoomID() domain.RoomID { return s.roomID }

func (s *Session) Snapshot() domain.CallSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() domain.CallSnapshot {
	return domain.CallSnapshot{
		ExchangeID:  s.exchangeID,
		RoomID:      s.roomID,
		PeerID:      s.peerID,
		Direction:   s.direction,
		State:       s.state,
		IsMuted:     s.muted,
		IsVideoOff:  s.videoOff,
		AudioOnly:   s.audioOnly,
		EndReason:   s.endReason,
		StartedAt:   s.startedAt,
		ConnectedAt: s.connectedAt,
		EndedAt:     s.endedAt,
	}
}

func (s *Session) live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.state.Terminal()
}

func (s *Session) notify(snap domain.CallSnapshot) {
	s.log.Info().Str("state", string(snap.State)).Str("reason", string(snap.EndReason)).Msg("Call state changed")
	if s.onChange != nil {
		s.onChange(snap)
	}
}

func (s *Session) transition(to domain.CallState) error {
	s.mu.Lock()
	next, err := s.state.Transition(to)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.state = next
	if next == domain.StateConnected {
		s.connectedAt = time.Now()
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
	return nil
}

// startOutgoing acquires media, opens the peer, joins the room and rings the
// callee.
func (s *Session) startOutgoing(ctx context.Context) error {
	if err := s.acquireMedia(ctx); err != nil {
		s.end(domain.EndMediaFailed)
		return err
	}
	if err := s.openPeer(); err != nil {
		s.end(domain.EndNegotiationFailed)
		return err
	}
	if err := s.joinRoom(ctx); err != nil {
		s.end(domain.EndTransportFailed)
		return err
	}
	if err := s.transition(domain.StateConnecting); err != nil {
		return err
	}
	presence := domain.PresencePayload{
		RoomID:     s.roomID,
		ExchangeID: s.exchangeID,
		CalleeID:   s.peerID,
		CallerName: s.selfName,
		AudioOnly:  s.audioOnly,
	}
	if err := s.emit(ctx, domain.EventCallPresence, presence); err != nil {
		s.end(domain.EndTransportFailed)
		return err
	}
	return nil
}

func (s *Session) joinRoom(ctx context.Context) error {
	if err := s.emit(ctx, domain.EventJoinCallRoom, domain.RoomRef{RoomID: s.roomID, ExchangeID: s.exchangeID}); err != nil {
		return err
	}
	s.mu.Lock()
	ended := s.state.Terminal()
	s.joined = !ended
	s.mu.Unlock()
	if ended {
		s.leaveRoom()
	}
	return nil
}

// leaveRoom tells the server this connection is done with the room, so the
// next call on the exchange rings again.
func (s *Session) leaveRoom() {
	ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
	defer cancel()
	if err := s.emit(ctx, domain.EventLeaveCallRoom, domain.RoomRef{RoomID: s.roomID, ExchangeID: s.exchangeID}); err != nil {
		s.log.Debug().Err(err).Msg("Failed to send leave-call-room")
	}
}

func (s *Session) startRinging(timeout time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ringTimer = time.AfterFunc(timeout, s.ringExpired)
}

func (s *Session) ringExpired() {
	if s.claimResponse(false) != nil {
		return
	}
	s.log.Info().Msg("Incoming call not answered, declining")
	ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
	defer cancel()
	s.reject(ctx, domain.EndTimeout)
}

func (s *Session) accept(ctx context.Context) error {
	if err := s.claimResponse(true); err != nil {
		return err
	}
	if err := s.acquireMedia(ctx); err != nil {
		s.end(domain.EndMediaFailed)
		return err
	}
	if err := s.openPeer(); err != nil {
		s.end(domain.EndNegotiationFailed)
		return err
	}
	if err := s.joinRoom(ctx); err != nil {
		s.end(domain.EndTransportFailed)
		return err
	}
	if err := s.transition(domain.StateConnecting); err != nil {
		return err
	}
	accept := domain.AnswerCallPayload{RoomID: s.roomID, ExchangeID: s.exchangeID, CallerID: s.peerID}
	if err := s.emit(ctx, domain.EventAcceptCall, accept); err != nil {
		s.end(domain.EndTransportFailed)
		return err
	}
	return nil
}

func (s *Session) decline(ctx context.Context) error {
	if err := s.claimResponse(false); err != nil {
		return err
	}
	s.reject(ctx, domain.EndDeclined)
	return nil
}

// claimResponse lets exactly one of accept, decline and the ring timer
// answer an incoming call.
func (s *Session) claimResponse(accepting bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.StateIncoming || s.responded {
		return fmt.Errorf("%w: incoming call already answered (state %s)", domain.ErrInvalidTransition, s.state)
	}
	s.responded = true
	s.accepting = accepting
	if s.ringTimer != nil {
		s.ringTimer.Stop()
	}
	return nil
}

func (s *Session) reject(ctx context.Context, reason domain.EndReason) {
	payload := domain.AnswerCallPayload{RoomID: s.roomID, ExchangeID: s.exchangeID, CallerID: s.peerID, Reason: reason}
	if err := s.emit(ctx, domain.EventRejectCall, payload); err != nil {
		s.log.Warn().Err(err).Msg("Failed to send reject-call")
	}
	s.end(reason)
}

func (s *Session) hangUp(ctx context.Context) error {
	s.mu.Lock()
	state, accepting := s.state, s.accepting
	s.mu.Unlock()

	switch {
	case state.Terminal():
		return domain.ErrNoActiveCall
	case state == domain.StateIncoming && !accepting:
		// The ring timer may already be declining; either way the call ends.
		_ = s.decline(ctx)
		return nil
	}
	if err := s.emit(ctx, domain.EventEndCall, domain.RoomRef{RoomID: s.roomID, ExchangeID: s.exchangeID}); err != nil {
		s.log.Warn().Err(err).Msg("Failed to send end-call")
	}
	s.end(domain.EndHangup)
	return nil
}

func (s *Session) toggleMute() bool {
	s.mu.Lock()
	s.muted = !s.muted
	muted := s.muted
	if s.stream != nil {
		setKindEnabled(s.stream, domain.KindAudio, !muted)
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
	return muted
}

func (s *Session) toggleVideo() bool {
	s.mu.Lock()
	s.videoOff = !s.videoOff
	off := s.videoOff
	if s.stream != nil {
		setKindEnabled(s.stream, domain.KindVideo, !off)
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
	return off
}

func setKindEnabled(stream port.MediaStream, kind domain.MediaKind, enabled bool) {
	for _, t := range stream.Tracks() {
		if t.Kind() == kind {
			t.SetEnabled(enabled)
		}
	}
}

func (s *Session) acquireMedia(ctx context.Context) error {
	stream, err := s.devices.Acquire(ctx, domain.MediaConstraints{Audio: true, Video: !s.audioOnly})
	if err != nil {
		return fmt.Errorf("acquire media: %w", err)
	}

	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		stream.Stop()
		return domain.ErrNoActiveCall
	}
	s.stream = stream
	// Apply flags toggled before acquisition.
	setKindEnabled(stream, domain.KindAudio, !s.muted)
	setKindEnabled(stream, domain.KindVideo, !s.videoOff)
	s.mu.Unlock()
	return nil
}

// openPeer creates the session's only peer connection.
func (s *Session) openPeer() error {
	s.mu.Lock()
	if s.peerOpened {
		s.mu.Unlock()
		return nil
	}
	s.peerOpened = true
	stream := s.stream
	s.mu.Unlock()

	peer, err := s.peers.NewPeer()
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}
	peer.OnICECandidate(s.onLocalCandidate)
	peer.OnStateChange(s.onTransportState)
	if stream != nil {
		if err := peer.AddStream(stream); err != nil {
			peer.Close()
			return fmt.Errorf("attach local media: %w", err)
		}
	}

	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		peer.Close()
		return domain.ErrNoActiveCall
	}
	s.peer = peer
	s.mu.Unlock()
	return nil
}

func (s *Session) currentPeer() port.PeerConnection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer
}

// end moves the session to ended and releases the peer and media. Only the
// first call has any effect.
func (s *Session) end(reason domain.EndReason) bool {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return false
	}
	s.state = domain.StateEnded
	s.endReason = reason
	s.endedAt = time.Now()
	if s.ringTimer != nil {
		s.ringTimer.Stop()
	}
	peer, stream, joined := s.peer, s.stream, s.joined
	s.peer, s.stream = nil, nil
	s.pending = nil
	s.joined = false
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if peer != nil {
		if err := peer.Close(); err != nil {
			s.log.Debug().Err(err).Msg("Peer close")
		}
	}
	if stream != nil {
		stream.Stop()
	}
	if joined {
		s.leaveRoom()
	}
	s.notify(snap)
	return true
}

func (s *Session) emit(ctx context.Context, event string, payload any) error {
	if err := s.sig.Emit(ctx, event, payload); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	return nil
}

func (s *Session) onLocalCandidate(c domain.ICECandidate) {
	if !s.live() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
	defer cancel()
	if err := s.emit(ctx, domain.EventICECandidate, domain.CandidatePayload{RoomID: s.roomID, Candidate: c}); err != nil {
		s.log.Warn().Err(err).Msg("Failed to send local candidate")
	}
}

func (s *Session) onTransportState(st domain.TransportState) {
	s.log.Debug().Str("transport", string(st)).Msg("Transport state")
	switch st {
	case domain.TransportConnected:
		s.markConnected()
	case domain.TransportFailed, domain.TransportClosed:
		if !s.live() {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		defer cancel()
		if err := s.emit(ctx, domain.EventEndCall, domain.RoomRef{RoomID: s.roomID, ExchangeID: s.exchangeID}); err != nil {
			s.log.Debug().Err(err).Msg("Failed to send end-call after transport failure")
		}
		s.end(domain.EndTransportFailed)
	}
}

func (s *Session) markConnected() {
	s.mu.Lock()
	connecting := s.state == domain.StateConnecting
	s.mu.Unlock()
	if !connecting {
		return
	}
	if err := s.transition(domain.StateConnected); err != nil && !errors.Is(err, domain.ErrInvalidTransition) {
		s.log.Error().Err(err).Msg("Transition to connected")
	}
}

// handle applies one inbound envelope addressed to this session's room.
func (s *Session) handle(ctx context.Context, env domain.Envelope) {
	switch env.Event {
	case domain.EventCallAccepted:
		s.sendOffer(ctx)
	case domain.EventUserJoined:
		var m domain.MemberPayload
		if err := env.Decode(&m); err != nil {
			s.log.Warn().Err(err).Msg("Invalid user-joined payload")
			return
		}
		if m.UserID != "" && m.UserID != s.peerID {
			return
		}
		s.sendOffer(ctx)
	case domain.EventOffer:
		var p domain.DescriptionPayload
		if err := env.Decode(&p); err != nil {
			s.log.Warn().Err(err).Msg("Invalid offer payload")
			return
		}
		s.answerOffer(ctx, p.Description)
	case domain.EventAnswer:
		var p domain.DescriptionPayload
		if err := env.Decode(&p); err != nil {
			s.log.Warn().Err(err).Msg("Invalid answer payload")
			return
		}
		if err := s.applyRemote(ctx, p.Description); err != nil {
			s.failNegotiation(ctx, err)
			return
		}
		s.markConnected()
	case domain.EventICECandidate:
		var p domain.CandidatePayload
		if err := env.Decode(&p); err != nil {
			s.log.Warn().Err(err).Msg("Invalid candidate payload")
			return
		}
		s.addRemoteCandidate(ctx, p.Candidate)
	case domain.EventCallRejected:
		s.end(domain.EndRemoteRejected)
	case domain.EventEndCall:
		s.end(domain.EndRemoteEnded)
	case domain.EventUserLeft, domain.EventCallPresence:
		s.log.Debug().Str("event", env.Event).Str("from", env.From.String()).Msg("Room event")
	}
}

// sendOffer is called by the caller once the callee is present. The offer is
// made at most once.
func (s *Session) sendOffer(ctx context.Context) {
	s.mu.Lock()
	if s.direction != domain.DirectionOutgoing || s.state != domain.StateConnecting || s.offerSent || s.peer == nil {
		s.mu.Unlock()
		return
	}
	s.offerSent = true
	peer := s.peer
	s.mu.Unlock()

	desc, err := peer.CreateOffer(ctx)
	if err != nil {
		s.failNegotiation(ctx, fmt.Errorf("create offer: %w", err))
		return
	}
	if err := s.emit(ctx, domain.EventOffer, domain.DescriptionPayload{RoomID: s.roomID, Description: desc}); err != nil {
		s.failNegotiation(ctx, err)
	}
}

func (s *Session) answerOffer(ctx context.Context, offer domain.SessionDescription) {
	peer := s.currentPeer()
	if peer == nil {
		s.log.Warn().Msg("Offer received before the call was accepted")
		return
	}
	if err := s.applyRemote(ctx, offer); err != nil {
		s.failNegotiation(ctx, err)
		return
	}
	answer, err := peer.CreateAnswer(ctx)
	if err != nil {
		s.failNegotiation(ctx, fmt.Errorf("create answer: %w", err))
		return
	}
	if err := s.emit(ctx, domain.EventAnswer, domain.DescriptionPayload{RoomID: s.roomID, Description: answer}); err != nil {
		s.failNegotiation(ctx, err)
		return
	}
	s.markConnected()
}

// applyRemote sets the remote description and flushes candidates that
// arrived before it.
func (s *Session) applyRemote(ctx context.Context, desc domain.SessionDescription) error {
	peer := s.currentPeer()
	if peer == nil {
		return domain.ErrNoActiveCall
	}
	if err := peer.SetRemoteDescription(ctx, desc); err != nil {
		return fmt.Errorf("set remote %s: %w", desc.Type, err)
	}

	s.mu.Lock()
	s.remoteSet = true
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, c := range pending {
		if err := peer.AddICECandidate(ctx, c); err != nil {
			s.log.Warn().Err(err).Msg("Failed to add queued candidate")
		}
	}
	return nil
}

func (s *Session) addRemoteCandidate(ctx context.Context, c domain.ICECandidate) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	if !s.remoteSet || s.peer == nil {
		s.pending = append(s.pending, c)
		s.mu.Unlock()
		return
	}
	peer := s.peer
	s.mu.Unlock()

	if err := peer.AddICECandidate(ctx, c); err != nil {
		s.log.Warn().Err(err).Msg("Failed to add remote candidate")
	}
}

func (s *Session) failNegotiation(ctx context.Context, err error) {
	if !s.live() {
		return
	}
	s.log.Error().Err(err).Msg("Negotiation failed")
	if emitErr := s.emit(ctx, domain.EventEndCall, domain.RoomRef{RoomID: s.roomID, ExchangeID: s.exchangeID}); emitErr != nil {
		s.log.Debug().Err(emitErr).Msg("Failed to send end-call after negotiation failure")
	}
	s.end(domain.EndNegotiationFailed)
}
