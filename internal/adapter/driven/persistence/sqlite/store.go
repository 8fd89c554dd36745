// Package sqlite persists call history and in-call chat in a SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Wyydra/learnloop/internal/core/domain"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store implements port.CallRecordRepository and port.MessageRepository.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer; WAL lets readers proceed alongside it.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		`CREATE TABLE IF NOT EXISTS calls (
			id          TEXT PRIMARY KEY,
			exchange_id TEXT NOT NULL,
			room_id     TEXT NOT NULL,
			caller_id   TEXT NOT NULL,
			callee_id   TEXT NOT NULL,
			audio_only  INTEGER NOT NULL DEFAULT 0,
			status      TEXT NOT NULL,
			end_reason  TEXT NOT NULL DEFAULT '',
			started_at  INTEGER NOT NULL,
			answered_at INTEGER NOT NULL DEFAULT 0,
			ended_at    INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS calls_room ON calls (room_id, status)`,
		`CREATE INDEX IF NOT EXISTS calls_exchange ON calls (exchange_id, started_at)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id         TEXT PRIMARY KEY,
			room_id    TEXT NOT NULL,
			sender_id  TEXT NOT NULL,
			content    TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS messages_room ON messages (room_id, created_at)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init sqlite: %w", err)
		}
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

const callColumns = `id, exchange_id, room_id, caller_id, callee_id, audio_only, status, end_reason, started_at, answered_at, ended_at`

func (s *Store) Create(ctx context.Context, rec domain.CallRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO calls (`+callColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID.String(), string(rec.ExchangeID), string(rec.RoomID), string(rec.CallerID), string(rec.CalleeID),
		rec.AudioOnly, string(rec.Status), string(rec.EndReason),
		toMillis(rec.StartedAt), toMillis(rec.AnsweredAt), toMillis(rec.EndedAt))
	if err != nil {
		return fmt.Errorf("insert call: %w", err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, rec domain.CallRecord) error {
	res, err := s.db.ExecContext(ctx, `UPDATE calls SET status = ?, end_reason = ?, answered_at = ?, ended_at = ? WHERE id = ?`,
		string(rec.Status), string(rec.EndReason), toMillis(rec.AnsweredAt), toMillis(rec.EndedAt), rec.ID.String())
	if err != nil {
		return fmt.Errorf("update call: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("call %s: %w", rec.ID, domain.ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCall(row scanner) (domain.CallRecord, error) {
	var (
		rec                          domain.CallRecord
		id                           string
		exchangeID, roomID           string
		callerID, calleeID           string
		status, reason               string
		startedAt, answeredAt, ended int64
	)
	if err := row.Scan(&id, &exchangeID, &roomID, &callerID, &calleeID, &rec.AudioOnly, &status, &reason, &startedAt, &answeredAt, &ended); err != nil {
		return domain.CallRecord{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return domain.CallRecord{}, fmt.Errorf("call id %q: %w", id, err)
	}
	rec.ID = domain.CallID(parsed)
	rec.ExchangeID = domain.ExchangeID(exchangeID)
	rec.RoomID = domain.RoomID(roomID)
	rec.CallerID = domain.UserID(callerID)
	rec.CalleeID = domain.UserID(calleeID)
	rec.Status = domain.CallStatus(status)
	rec.EndReason = domain.EndReason(reason)
	rec.StartedAt = fromMillis(startedAt)
	rec.AnsweredAt = fromMillis(answeredAt)
	rec.EndedAt = fromMillis(ended)
	return rec, nil
}

func (s *Store) Get(ctx context.Context, id domain.CallID) (domain.CallRecord, error) {
	rec, err := scanCall(s.db.QueryRowContext(ctx, `SELECT `+callColumns+` FROM calls WHERE id = ?`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CallRecord{}, fmt.Errorf("call %s: %w", id, domain.ErrNotFound)
	}
	return rec, err
}

func (s *Store) FindOpenByRoom(ctx context.Context, roomID domain.RoomID) (domain.CallRecord, error) {
	rec, err := scanCall(s.db.QueryRowContext(ctx,
		`SELECT `+callColumns+` FROM calls WHERE room_id = ? AND status IN (?, ?) ORDER BY started_at DESC LIMIT 1`,
		string(roomID), string(domain.CallRinging), string(domain.CallAnswered)))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CallRecord{}, domain.ErrNotFound
	}
	return rec, err
}

func (s *Store) ListByExchange(ctx context.Context, exchangeID domain.ExchangeID, limit int) ([]domain.CallRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+callColumns+` FROM calls WHERE exchange_id = ? ORDER BY started_at DESC LIMIT ?`,
		string(exchangeID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.CallRecord
	for rows.Next() {
		rec, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Save stores a chat message.
func (s *Store) Save(ctx context.Context, msg domain.Message) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO messages (id, room_id, sender_id, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID.String(), string(msg.RoomID), string(msg.SenderID), msg.Content, toMillis(msg.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// FindByRoom returns the newest limit messages of a room, oldest first.
func (s *Store) FindByRoom(ctx context.Context, roomID domain.RoomID, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, room_id, sender_id, content, created_at FROM (
			SELECT id, room_id, sender_id, content, created_at, rowid AS seq FROM messages
			WHERE room_id = ? ORDER BY created_at DESC, seq DESC LIMIT ?
		) ORDER BY created_at ASC, seq ASC`,
		string(roomID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		var (
			msg              domain.Message
			id, room, sender string
			createdAt        int64
		)
		if err := rows.Scan(&id, &room, &sender, &msg.Content, &createdAt); err != nil {
			return nil, err
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("message id %q: %w", id, err)
		}
		msg.ID = domain.MessageID(parsed)
		msg.RoomID = domain.RoomID(room)
		msg.SenderID = domain.UserID(sender)
		msg.CreatedAt = fromMillis(createdAt)
		out = append(out, msg)
	}
	return out, rows.Err()
}
