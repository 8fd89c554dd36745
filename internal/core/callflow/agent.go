// Package callflow drives a client's side of a LearnLoop call: it turns
// signaling events and user actions into call state transitions and owns the
// local media and peer connection of the one active call.
package callflow

import (
	"context"
	"sync"
	"time"

	"github.com/Wyydra/learnloop/internal/core/domain"
	"github.com/Wyydra/learnloop/internal/core/port"
	"github.com/rs/zerolog/log"
)

const DefaultRingTimeout = 30 * time.Second

type Config struct {
	Self        domain.UserID
	DisplayName string
	// RingTimeout is how long an incoming call rings before it is declined.
	RingTimeout time.Duration
}

// Agent holds at most one live session and routes signaling to it.
type Agent struct {
	cfg     Config
	sig     port.SignalingChannel
	devices port.MediaDevices
	peers   port.PeerFactory

	mu        sync.Mutex
	current   *Session
	observers []func(domain.CallSnapshot)

	closeOnce sync.Once
	done      chan struct{}
	loopDone  chan struct{}
}

// NewAgent subscribes to sig and starts dispatching immediately.
func NewAgent(cfg Config, sig port.SignalingChannel, devices port.MediaDevices, peers port.PeerFactory) *Agent {
	if cfg.RingTimeout <= 0 {
		cfg.RingTimeout = DefaultRingTimeout
	}
	a := &Agent{
		cfg:      cfg,
		sig:      sig,
		devices:  devices,
		peers:    peers,
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	ch, cancel := sig.Subscribe()
	go a.dispatchLoop(ch, cancel)
	return a
}

// OnStateChange registers an observer for every session snapshot change.
func (a *Agent) OnStateChange(fn func(domain.CallSnapshot)) {
	a.mu.Lock()
	a.observers = append(a.observers, fn)
	a.mu.Unlock()
}

func (a *Agent) publish(snap domain.CallSnapshot) {
	a.mu.Lock()
	observers := make([]func(domain.CallSnapshot), len(a.observers))
	copy(observers, a.observers)
	a.mu.Unlock()

	for _, fn := range observers {
		fn(snap)
	}
}

func (a *Agent) deps() sessionDeps {
	return sessionDeps{
		self:     a.cfg.Self,
		selfName: a.cfg.DisplayName,
		sig:      a.sig,
		devices:  a.devices,
		peers:    a.peers,
		onChange: a.publish,
	}
}

// claim installs s as the current session unless a live one exists.
func (a *Agent) claim(s *Session) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current != nil && a.current.live() {
		return false
	}
	a.current = s
	return true
}

func (a *Agent) active() (*Session, error) {
	a.mu.Lock()
	s := a.current
	a.mu.Unlock()
	if s == nil || !s.live() {
		return nil, domain.ErrNoActiveCall
	}
	return s, nil
}

// Dial starts an outgoing call to calleeID for an exchange.
func (a *Agent) Dial(ctx context.Context, exchangeID domain.ExchangeID, calleeID domain.UserID, audioOnly bool) (domain.CallSnapshot, error) {
	s := newSession(a.deps(), domain.DirectionOutgoing, exchangeID, calleeID, audioOnly)
	if !a.claim(s) {
		return domain.CallSnapshot{}, domain.ErrCallInProgress
	}
	a.publish(s.Snapshot())

	err := s.startOutgoing(ctx)
	return s.Snapshot(), err
}

func (a *Agent) Accept(ctx context.Context) error {
	s, err := a.active()
	if err != nil {
		return err
	}
	return s.accept(ctx)
}

func (a *Agent) Decline(ctx context.Context) error {
	s, err := a.active()
	if err != nil {
		return err
	}
	return s.decline(ctx)
}

func (a *Agent) HangUp(ctx context.Context) error {
	s, err := a.active()
	if err != nil {
		return err
	}
	return s.hangUp(ctx)
}

// ToggleMute flips the local audio and returns the new muted state.
func (a *Agent) ToggleMute() (bool, error) {
	s, err := a.active()
	if err != nil {
		return false, err
	}
	return s.toggleMute(), nil
}

// ToggleVideo flips the local video and returns true when video is off.
func (a *Agent) ToggleVideo() (bool, error) {
	s, err := a.active()
	if err != nil {
		return false, err
	}
	return s.toggleVideo(), nil
}

// Current returns the last session, live or ended.
func (a *Agent) Current() (domain.CallSnapshot, bool) {
	a.mu.Lock()
	s := a.current
	a.mu.Unlock()
	if s == nil {
		return domain.CallSnapshot{}, false
	}
	return s.Snapshot(), true
}

// Close hangs up a live call and stops dispatching.
func (a *Agent) Close() {
	a.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		defer cancel()
		if s, err := a.active(); err == nil {
			if err := s.hangUp(ctx); err != nil {
				log.Debug().Err(err).Msg("Hang up on close")
			}
		}
		close(a.done)
		<-a.loopDone
	})
}

func (a *Agent) dispatchLoop(ch <-chan domain.Envelope, cancel func()) {
	defer close(a.loopDone)
	defer cancel()

	for {
		select {
		case <-a.done:
			return
		case env, ok := <-ch:
			if !ok {
				a.signalingLost()
				return
			}
			a.dispatch(env)
		}
	}
}

// signalingLost ends the live call when the signaling socket goes away.
func (a *Agent) signalingLost() {
	if s, err := a.active(); err == nil {
		log.Warn().Str("room_id", s.RoomID().String()).Msg("Signaling channel closed, ending call")
		s.end(domain.EndTransportFailed)
	}
}

func (a *Agent) dispatch(env domain.Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
	defer cancel()

	switch env.Event {
	case domain.EventCallIncoming:
		a.incoming(ctx, env)
		return
	case domain.EventConnected, domain.EventCallChat:
		return
	case domain.EventError:
		var p domain.ErrorPayload
		_ = env.Decode(&p)
		log.Warn().Str("event", p.Event).Str("message", p.Message).Msg("Signaling server reported an error")
		return
	}

	var ref domain.RoomRef
	if err := env.Decode(&ref); err != nil {
		log.Warn().Err(err).Str("event", env.Event).Msg("Invalid signaling payload")
		return
	}

	a.mu.Lock()
	s := a.current
	a.mu.Unlock()
	if s == nil || s.RoomID() != ref.RoomID {
		log.Debug().Str("event", env.Event).Str("room_id", ref.RoomID.String()).Msg("Event for no active call")
		return
	}
	s.handle(ctx, env)
}

func (a *Agent) incoming(ctx context.Context, env domain.Envelope) {
	var p domain.IncomingPayload
	if err := env.Decode(&p); err != nil {
		log.Warn().Err(err).Msg("Invalid call-incoming payload")
		return
	}
	if p.ExchangeID == "" {
		if ex, ok := p.RoomID.ExchangeID(); ok {
			p.ExchangeID = ex
		}
	}
	if p.CallerID == "" {
		p.CallerID = env.From
	}

	s := newSession(a.deps(), domain.DirectionIncoming, p.ExchangeID, p.CallerID, p.AudioOnly)
	if cur, err := a.active(); err == nil && cur.RoomID() == s.RoomID() {
		log.Debug().Str("room_id", s.RoomID().String()).Msg("Repeated call-incoming for the active call")
		return
	}
	if !a.claim(s) {
		log.Info().Str("caller_id", p.CallerID.String()).Msg("Busy, rejecting incoming call")
		busy := domain.AnswerCallPayload{
			RoomID:     s.RoomID(),
			ExchangeID: p.ExchangeID,
			CallerID:   p.CallerID,
			Reason:     domain.EndBusy,
		}
		if err := a.sig.Emit(ctx, domain.EventRejectCall, busy); err != nil {
			log.Warn().Err(err).Msg("Failed to send busy rejection")
		}
		return
	}
	s.startRinging(a.cfg.RingTimeout)
	a.publish(s.Snapshot())
}
