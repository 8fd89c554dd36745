package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Wyydra/learnloop/internal/core/domain"
	"github.com/Wyydra/learnloop/internal/core/port"
	"github.com/rs/zerolog/log"
)

// CallService is the server end of call signaling. Negotiation payloads are
// passed through; ringing, acceptance and hang-up are recorded in the call
// history.
type CallService struct {
	rooms    *RoomService
	gateway  port.RealTimeGateway
	records  port.CallRecordRepository
	chat     *ChatService
	notifier port.CallNotifier
	now      func() time.Time
}

// NewCallService wires the signaling relay. notifier may be nil.
func NewCallService(rooms *RoomService, gateway port.RealTimeGateway, records port.CallRecordRepository, chat *ChatService, notifier port.CallNotifier) *CallService {
	return &CallService{
		rooms:    rooms,
		gateway:  gateway,
		records:  records,
		chat:     chat,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// HandleEvent applies one envelope received from sender's connection.
func (s *CallService) HandleEvent(ctx context.Context, sender Member, env domain.Envelope) error {
	env.From = sender.UserID

	switch env.Event {
	case domain.EventJoinCallRoom:
		return s.join(ctx, sender, env)
	case domain.EventLeaveCallRoom:
		return s.leave(ctx, sender, env)
	case domain.EventCallPresence:
		return s.presence(ctx, sender, env)
	case domain.EventOffer, domain.EventAnswer, domain.EventICECandidate:
		return s.relay(ctx, sender, env)
	case domain.EventAcceptCall:
		return s.accept(ctx, sender, env)
	case domain.EventRejectCall:
		return s.reject(ctx, sender, env)
	case domain.EventEndCall:
		return s.end(ctx, sender, env)
	case domain.EventCallChat:
		return s.sendChat(ctx, sender, env)
	default:
		return fmt.Errorf("%w: %q", domain.ErrUnknownEvent, env.Event)
	}
}

func roomOf(ref domain.RoomRef) (domain.RoomID, error) {
	if ref.RoomID != "" {
		return ref.RoomID, nil
	}
	if ref.ExchangeID != "" {
		return domain.RoomIDFor(ref.ExchangeID), nil
	}
	return "", domain.ErrMissingRoom
}

func decodeRoom(env domain.Envelope) (domain.RoomID, error) {
	var ref domain.RoomRef
	if err := env.Decode(&ref); err != nil {
		return "", fmt.Errorf("decode %s: %w", env.Event, err)
	}
	return roomOf(ref)
}

func (s *CallService) join(ctx context.Context, sender Member, env domain.Envelope) error {
	roomID, err := decodeRoom(env)
	if err != nil {
		return err
	}
	others := s.rooms.Join(roomID, sender)

	joined, err := domain.NewEnvelope(domain.EventUserJoined, sender.UserID, domain.MemberPayload{RoomID: roomID, UserID: sender.UserID})
	if err != nil {
		return err
	}
	for _, m := range others {
		s.sendToClient(ctx, m.ClientID, joined)
	}
	return nil
}

func (s *CallService) leave(ctx context.Context, sender Member, env domain.Envelope) error {
	roomID, err := decodeRoom(env)
	if err != nil {
		return err
	}
	if !s.rooms.Leave(roomID, sender.ClientID) {
		return nil
	}
	s.afterLeave(ctx, sender, roomID)
	return nil
}

// Disconnect removes a closed connection from every room.
func (s *CallService) Disconnect(ctx context.Context, sender Member) {
	for _, roomID := range s.rooms.LeaveAll(sender.ClientID) {
		s.afterLeave(ctx, sender, roomID)
	}
}

func (s *CallService) afterLeave(ctx context.Context, sender Member, roomID domain.RoomID) {
	remaining := s.rooms.Members(roomID)
	if len(remaining) == 0 {
		s.closeOpenRecord(ctx, roomID, domain.EndTransportFailed)
		return
	}
	left, err := domain.NewEnvelope(domain.EventUserLeft, sender.UserID, domain.MemberPayload{RoomID: roomID, UserID: sender.UserID})
	if err != nil {
		log.Error().Err(err).Msg("Failed to build user-left")
		return
	}
	for _, m := range remaining {
		s.sendToClient(ctx, m.ClientID, left)
	}
}

func (s *CallService) presence(ctx context.Context, sender Member, env domain.Envelope) error {
	var p domain.PresencePayload
	if err := env.Decode(&p); err != nil {
		return fmt.Errorf("decode %s: %w", env.Event, err)
	}
	roomID, err := roomOf(domain.RoomRef{RoomID: p.RoomID, ExchangeID: p.ExchangeID})
	if err != nil {
		return err
	}
	if !s.rooms.IsMember(roomID, sender.ClientID) {
		return domain.ErrNotInRoom
	}
	s.sendToRoom(ctx, roomID, sender.ClientID, env)

	if p.CalleeID == "" || p.CalleeID == sender.UserID {
		return nil
	}
	exchangeID := p.ExchangeID
	if exchangeID == "" {
		exchangeID, _ = roomID.ExchangeID()
	}

	rec, err := s.openRecord(ctx, roomID, exchangeID, sender.UserID, p.CalleeID, p.AudioOnly)
	if err != nil {
		return err
	}

	// The callee is rung even when one of its connections is still in the
	// room: only accept-call answers a record.
	incoming := domain.IncomingPayload{
		RoomID:     roomID,
		ExchangeID: exchangeID,
		CallerID:   sender.UserID,
		CallerName: p.CallerName,
		AudioOnly:  p.AudioOnly,
		CallID:     rec.ID.String(),
	}
	ring, err := domain.NewEnvelope(domain.EventCallIncoming, sender.UserID, incoming)
	if err != nil {
		return err
	}
	n, err := s.gateway.SendToUser(ctx, p.CalleeID, ring)
	if err != nil {
		log.Warn().Err(err).Str("callee_id", p.CalleeID.String()).Msg("Failed to ring callee")
	}
	log.Info().Str("room_id", roomID.String()).Str("callee_id", p.CalleeID.String()).Int("connections", n).Msg("Ringing")

	if n == 0 && s.notifier != nil {
		if err := s.notifier.NotifyIncoming(ctx, p.CalleeID, incoming); err != nil {
			log.Warn().Err(err).Str("callee_id", p.CalleeID.String()).Msg("Failed to push incoming call notification")
		}
	}
	return nil
}

// openRecord reuses the ringing record of a room when the caller announces
// itself again, and starts a new one otherwise.
func (s *CallService) openRecord(ctx context.Context, roomID domain.RoomID, exchangeID domain.ExchangeID, callerID, calleeID domain.UserID, audioOnly bool) (*domain.CallRecord, error) {
	existing, err := s.records.FindOpenByRoom(ctx, roomID)
	switch {
	case err == nil && existing.Status == domain.CallRinging && existing.CallerID == callerID:
		return &existing, nil
	case err == nil:
		existing.Finish(domain.EndHangup, s.now())
		if err := s.records.Update(ctx, existing); err != nil {
			return nil, fmt.Errorf("close stale call: %w", err)
		}
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("find open call: %w", err)
	}

	rec := domain.NewCallRecord(exchangeID, callerID, calleeID, audioOnly)
	rec.RoomID = roomID
	rec.StartedAt = s.now()
	if err := s.records.Create(ctx, *rec); err != nil {
		return nil, fmt.Errorf("create call record: %w", err)
	}
	return rec, nil
}

func (s *CallService) relay(ctx context.Context, sender Member, env domain.Envelope) error {
	roomID, err := decodeRoom(env)
	if err != nil {
		return err
	}
	if !s.rooms.IsMember(roomID, sender.ClientID) {
		return domain.ErrNotInRoom
	}
	s.sendToRoom(ctx, roomID, sender.ClientID, env)
	return nil
}

func (s *CallService) accept(ctx context.Context, sender Member, env domain.Envelope) error {
	var p domain.AnswerCallPayload
	if err := env.Decode(&p); err != nil {
		return fmt.Errorf("decode %s: %w", env.Event, err)
	}
	roomID, err := roomOf(domain.RoomRef{RoomID: p.RoomID, ExchangeID: p.ExchangeID})
	if err != nil {
		return err
	}
	if !s.rooms.IsMember(roomID, sender.ClientID) {
		return domain.ErrNotInRoom
	}

	callerID := p.CallerID
	if rec, err := s.records.FindOpenByRoom(ctx, roomID); err == nil {
		if rec.CalleeID == sender.UserID {
			rec.Answer(s.now())
			if err := s.records.Update(ctx, rec); err != nil {
				return fmt.Errorf("update call record: %w", err)
			}
		}
		if callerID == "" {
			callerID = rec.CallerID
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("find open call: %w", err)
	}

	p.RoomID = roomID
	p.CallerID = callerID
	accepted, err := domain.NewEnvelope(domain.EventCallAccepted, sender.UserID, p)
	if err != nil {
		return err
	}
	s.sendToRoom(ctx, roomID, sender.ClientID, accepted)
	if callerID != "" && !s.rooms.Contains(roomID, callerID) {
		s.sendToUser(ctx, callerID, accepted)
	}
	return nil
}

func (s *CallService) reject(ctx context.Context, sender Member, env domain.Envelope) error {
	var p domain.AnswerCallPayload
	if err := env.Decode(&p); err != nil {
		return fmt.Errorf("decode %s: %w", env.Event, err)
	}
	roomID, err := roomOf(domain.RoomRef{RoomID: p.RoomID, ExchangeID: p.ExchangeID})
	if err != nil {
		return err
	}
	if p.Reason == "" {
		p.Reason = domain.EndDeclined
	}

	// The callee may reject while it is still outside the room.
	member := s.rooms.IsMember(roomID, sender.ClientID)
	callerID := p.CallerID
	rec, err := s.records.FindOpenByRoom(ctx, roomID)
	switch {
	case err == nil && rec.CalleeID == sender.UserID:
		rec.Reject(p.Reason, s.now())
		if err := s.records.Update(ctx, rec); err != nil {
			return fmt.Errorf("update call record: %w", err)
		}
		if callerID == "" {
			callerID = rec.CallerID
		}
	case err == nil && member:
		if callerID == "" {
			callerID = rec.CallerID
		}
	case err == nil || errors.Is(err, domain.ErrNotFound):
		if !member {
			return domain.ErrNotInRoom
		}
	default:
		return fmt.Errorf("find open call: %w", err)
	}
	if callerID == "" {
		return nil
	}

	p.RoomID = roomID
	p.CallerID = callerID
	rejected, err := domain.NewEnvelope(domain.EventCallRejected, sender.UserID, p)
	if err != nil {
		return err
	}
	s.sendToUser(ctx, callerID, rejected)
	return nil
}

func (s *CallService) end(ctx context.Context, sender Member, env domain.Envelope) error {
	roomID, err := decodeRoom(env)
	if err != nil {
		return err
	}
	if !s.rooms.IsMember(roomID, sender.ClientID) {
		return domain.ErrNotInRoom
	}

	rec, err := s.records.FindOpenByRoom(ctx, roomID)
	switch {
	case err == nil:
		ringing := rec.Status == domain.CallRinging
		rec.Finish(domain.EndHangup, s.now())
		if err := s.records.Update(ctx, rec); err != nil {
			return fmt.Errorf("update call record: %w", err)
		}
		// A callee who is still ringing is not in the room yet.
		if ringing && !s.rooms.Contains(roomID, rec.CalleeID) {
			s.sendToUser(ctx, rec.CalleeID, env)
		}
	case !errors.Is(err, domain.ErrNotFound):
		return fmt.Errorf("find open call: %w", err)
	}

	s.sendToRoom(ctx, roomID, sender.ClientID, env)
	return nil
}

func (s *CallService) sendChat(ctx context.Context, sender Member, env domain.Envelope) error {
	var p domain.ChatPayload
	if err := env.Decode(&p); err != nil {
		return fmt.Errorf("decode %s: %w", env.Event, err)
	}
	if !s.rooms.IsMember(p.RoomID, sender.ClientID) {
		return domain.ErrNotInRoom
	}
	_, err := s.chat.SendMessage(ctx, sender.UserID, p.RoomID, p.Content)
	return err
}

func (s *CallService) closeOpenRecord(ctx context.Context, roomID domain.RoomID, reason domain.EndReason) {
	rec, err := s.records.FindOpenByRoom(ctx, roomID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			log.Error().Err(err).Str("room_id", roomID.String()).Msg("Failed to look up open call")
		}
		return
	}
	// A ringing call stays open: the caller left but the callee may not have
	// answered yet, and its own reject or the caller's end-call closes it.
	if rec.Status != domain.CallAnswered {
		return
	}
	rec.Finish(reason, s.now())
	if err := s.records.Update(ctx, rec); err != nil {
		log.Error().Err(err).Str("call_id", rec.ID.String()).Msg("Failed to close call record")
	}
}

func (s *CallService) sendToRoom(ctx context.Context, roomID domain.RoomID, except domain.ClientID, env domain.Envelope) {
	for _, m := range s.rooms.Members(roomID) {
		if m.ClientID == except {
			continue
		}
		s.sendToClient(ctx, m.ClientID, env)
	}
}

func (s *CallService) sendToClient(ctx context.Context, clientID domain.ClientID, env domain.Envelope) {
	if err := s.gateway.SendToClient(ctx, clientID, env); err != nil {
		log.Warn().Err(err).Str("client_id", clientID.String()).Str("event", env.Event).Msg("Failed to deliver signal")
	}
}

func (s *CallService) sendToUser(ctx context.Context, userID domain.UserID, env domain.Envelope) {
	if _, err := s.gateway.SendToUser(ctx, userID, env); err != nil {
		log.Warn().Err(err).Str("user_id", userID.String()).Str("event", env.Event).Msg("Failed to deliver signal")
	}
}

func (s *CallService) Rooms() []RoomInfo {
	return s.rooms.Rooms()
}

func (s *CallService) History(ctx context.Context, exchangeID domain.ExchangeID, limit int) ([]domain.CallRecord, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return s.records.ListByExchange(ctx, exchangeID, limit)
}

func (s *CallService) Record(ctx context.Context, id domain.CallID) (domain.CallRecord, error) {
	return s.records.Get(ctx, id)
}
