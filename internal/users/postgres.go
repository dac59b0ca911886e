package users

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// pgxPool は PostgresStore が利用する pgxpool.Pool のサブセットです。
// pgxmock.PgxPoolIface もこれを満たします。
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresStore は PostgreSQL に保存する Store 実装です。
type PostgresStore struct {
	pool pgxPool
}

// NewPostgresStore は PostgresStore を作成します。
func NewPostgresStore(pool pgxPool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Insert はユーザーを1行追加します。
func (s *PostgresStore) Insert(ctx context.Context, user User) (string, error) {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, name, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, user.ID, user.Name, user.Email, user.PasswordHash, user.CreatedAt)
	if err != nil {
		return "", storeError("USER_INSERT_FAILED", err, "operation", "insert user")
	}
	return user.ID, nil
}

// FindByEmail はメールアドレスが一致するユーザーを検索します。
func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (Credential, bool, error) {
	// 重複の検出には2行あれば足りる
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, password_hash
		FROM users
		WHERE email = $1
		ORDER BY created_at
		LIMIT 2
	`, email)
	if err != nil {
		return Credential{}, false, storeError("USER_LOOKUP_FAILED", err, "operation", "find user by email")
	}
	defer rows.Close()

	var matches []Credential
	for rows.Next() {
		var c Credential
		if err := rows.Scan(&c.ID, &c.Name, &c.PasswordHash); err != nil {
			return Credential{}, false, storeError("USER_LOOKUP_FAILED", err, "operation", "scan user row")
		}
		matches = append(matches, c)
	}
	if err := rows.Err(); err != nil {
		return Credential{}, false, storeError("USER_LOOKUP_FAILED", err, "operation", "iterate user rows")
	}

	switch len(matches) {
	case 0:
		return Credential{}, false, nil
	case 1:
		return matches[0], true, nil
	default:
		return Credential{}, false, ErrAmbiguousEmail
	}
}
