package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/yourusername/local-auth/internal/database"
)

const uniqueViolation = "23505"

// PostgresStore は users テーブルを使う Store 実装です。
type PostgresStore struct {
	db database.DBTX
}

// NewPostgresStore は渡された接続ハンドル（プールまたはトランザクション）で Store を作成します。
func NewPostgresStore(db database.DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) LookupByUsername(ctx context.Context, username string) (*User, error) {
	query := `SELECT id, username, hash, salt, admin, created_at FROM users
		 WHERE username = $1`

	return s.scanOne(s.db.QueryRow(ctx, query, username))
}

func (s *PostgresStore) LookupByID(ctx context.Context, id string) (*User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	query := `SELECT id, username, hash, salt, admin, created_at FROM users
		 WHERE id = $1`

	return s.scanOne(s.db.QueryRow(ctx, query, id))
}

func (s *PostgresStore) Insert(ctx context.Context, user *User) (*User, error) {
	if user == nil {
		return nil, errors.New("user is nil")
	}

	created := *user
	created.ID = uuid.NewString()

	query := `INSERT INTO users (id, username, hash, salt, admin)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`

	err := s.db.QueryRow(ctx, query,
		created.ID, created.Username, created.PasswordHash, created.Salt, created.IsAdmin).Scan(&created.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return &created, nil
}

func (s *PostgresStore) UpdateCredential(ctx context.Context, id, hash, salt string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}

	tag, err := s.db.Exec(ctx, `UPDATE users SET hash = $2, salt = $3 WHERE id = $1`, id, hash, salt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) scanOne(row pgx.Row) (*User, error) {
	user := &User{}
	err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Salt, &user.IsAdmin, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return user, nil
}
