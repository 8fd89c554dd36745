package port

import (
	"context"

	"github.com/Wyydra/learnloop/internal/core/domain"
)

type MessageRepository interface {
	Save(ctx context.Context, msg domain.Message) error
	FindByRoom(ctx context.Context, roomID domain.RoomID, limit int) ([]domain.Message, error)
}

type CallRecordRepository interface {
	Create(ctx context.Context, rec domain.CallRecord) error
	Update(ctx context.Context, rec domain.CallRecord) error
	Get(ctx context.Context, id domain.CallID) (domain.CallRecord, error)
	// FindOpenByRoom returns the most recent ringing or answered record of a
	// room, domain.ErrNotFound when there is none.
	FindOpenByRoom(ctx context.Context, roomID domain.RoomID) (domain.CallRecord, error)
	ListByExchange(ctx context.Context, exchangeID domain.ExchangeID, limit int) ([]domain.CallRecord, error)
}
