package service

import (
	"context"
	"fmt"

	"github.com/Wyydra/learnloop/internal/core/domain"
	"github.com/Wyydra/learnloop/internal/core/port"
	"github.com/rs/zerolog/log"
)

const defaultHistoryLimit = 50

type ChatService struct {
	repo    port.MessageRepository
	gateway port.RealTimeGateway
	rooms   *RoomService
}

func NewChatService(repo port.MessageRepository, gateway port.RealTimeGateway, rooms *RoomService) *ChatService {
	return &ChatService{
		repo:    repo,
		gateway: gateway,
		rooms:   rooms,
	}
}

// SendMessage stores an in-call chat line and delivers it to every member of
// the room, the sender included.
func (s *ChatService) SendMessage(ctx context.Context, senderID domain.UserID, roomID domain.RoomID, content string) (*domain.Message, error) {
	msg, err := domain.NewMessage(senderID, roomID, content)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Save(ctx, *msg); err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}

	env, err := domain.NewEnvelope(domain.EventCallChat, senderID, domain.NewChatMessagePayload(*msg))
	if err != nil {
		return nil, err
	}
	for _, m := range s.rooms.Members(roomID) {
		if err := s.gateway.SendToClient(ctx, m.ClientID, env); err != nil {
			log.Warn().Err(err).Str("client_id", m.ClientID.String()).Msg("Failed to deliver chat message")
		}
	}
	return msg, nil
}

func (s *ChatService) History(ctx context.Context, roomID domain.RoomID, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return s.repo.FindByRoom(ctx, roomID, limit)
}
