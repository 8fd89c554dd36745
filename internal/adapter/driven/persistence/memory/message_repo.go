package memory

import (
	"context"
	"sync"

	"github.com/Wyydra/learnloop/internal/core/domain"
)

type MessageRepository struct {
	mu       sync.Mutex
	messages map[domain.RoomID][]domain.Message
}

func NewMessageRepository() *MessageRepository {
	return &MessageRepository{
		messages: make(map[domain.RoomID][]domain.Message),
	}
}

func (r *MessageRepository) Save(ctx context.Context, msg domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages[msg.RoomID] = append(r.messages[msg.RoomID], msg)
	return nil
}

// FindByRoom returns the newest limit messages of a room, oldest first.
func (r *MessageRepository) FindByRoom(ctx context.Context, roomID domain.RoomID, limit int) ([]domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msgs := r.messages[roomID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]domain.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}
