package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Wyydra/learnloop/internal/core/domain"
)

type CallRecordRepository struct {
	mu      sync.RWMutex
	records map[domain.CallID]domain.CallRecord
}

func NewCallRecordRepository() *CallRecordRepository {
	return &CallRecordRepository{
		records: make(map[domain.CallID]domain.CallRecord),
	}
}

func (r *CallRecordRepository) Create(ctx context.Context, rec domain.CallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[rec.ID]; ok {
		return fmt.Errorf("call %s already exists", rec.ID)
	}
	r.records[rec.ID] = rec
	return nil
}

func (r *CallRecordRepository) Update(ctx context.Context, rec domain.CallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[rec.ID]; !ok {
		return fmt.Errorf("call %s: %w", rec.ID, domain.ErrNotFound)
	}
	r.records[rec.ID] = rec
	return nil
}

func (r *CallRecordRepository) Get(ctx context.Context, id domain.CallID) (domain.CallRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return domain.CallRecord{}, fmt.Errorf("call %s: %w", id, domain.ErrNotFound)
	}
	return rec, nil
}

func (r *CallRecordRepository) FindOpenByRoom(ctx context.Context, roomID domain.RoomID) (domain.CallRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var found *domain.CallRecord
	for _, rec := range r.records {
		if rec.RoomID != roomID || !rec.Status.Open() {
			continue
		}
		if found == nil || rec.StartedAt.After(found.StartedAt) {
			found = &rec
		}
	}
	if found == nil {
		return domain.CallRecord{}, domain.ErrNotFound
	}
	return *found, nil
}

// ListByExchange returns the newest records first.
func (r *CallRecordRepository) ListByExchange(ctx context.Context, exchangeID domain.ExchangeID, limit int) ([]domain.CallRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.CallRecord
	for _, rec := range r.records {
		if rec.ExchangeID == exchangeID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
