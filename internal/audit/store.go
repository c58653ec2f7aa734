package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/local-auth/internal/database"
)

// PostgresStore は auth_events テーブルにイベントを保存します。
type PostgresStore struct {
	db database.DBTX
}

// NewPostgresStore は PostgresStore を作成します。
func NewPostgresStore(db database.DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

// Insert はイベントを保存します。
func (s *PostgresStore) Insert(ctx context.Context, event *Event) error {
	if event == nil {
		return fmt.Errorf("event is nil")
	}
	prepare(event)

	var userID any
	if event.UserID != "" {
		userID = event.UserID
	}

	query := `INSERT INTO auth_events (id, kind, username, user_id, client_ip, detail, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`

	if _, err := s.db.Exec(ctx, query,
		event.ID, string(event.Kind), event.Username, userID, event.ClientIP, event.Detail, event.CreatedAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Recent は新しい順にイベントを返します。
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Event, error) {
	query := `SELECT id, kind, username, user_id, client_ip, detail, created_at FROM auth_events
		 ORDER BY created_at DESC
		 LIMIT $1`

	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			event  Event
			kind   string
			userID *string
		)
		if err := rows.Scan(&event.ID, &kind, &event.Username, &userID, &event.ClientIP, &event.Detail, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		event.Kind = Kind(kind)
		if userID != nil {
			event.UserID = *userID
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return events, nil
}

// MemoryStore は直近 capacity 件だけを保持する Store 実装です。
type MemoryStore struct {
	mu       sync.Mutex
	events   []Event
	capacity int
}

// NewMemoryStore は MemoryStore を作成します。
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemoryStore{capacity: capacity}
}

// Insert はイベントを追加し、上限を超えた古いものから捨てます。
func (s *MemoryStore) Insert(ctx context.Context, event *Event) error {
	if event == nil {
		return fmt.Errorf("event is nil")
	}
	prepare(event)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *event)
	if over := len(s.events) - s.capacity; over > 0 {
		s.events = append([]Event(nil), s.events[over:]...)
	}
	return nil
}

// Recent は新しい順にイベントを返します。
func (s *MemoryStore) Recent(ctx context.Context, limit int) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > len(s.events) {
		limit = len(s.events)
	}
	out := make([]Event, 0, limit)
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.events[i])
	}
	return out, nil
}

// prepare は ID と作成時刻が未設定なら補完します。
func prepare(event *Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
}
