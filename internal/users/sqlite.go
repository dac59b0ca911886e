package users

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	email TEXT NOT NULL,
	password_hash TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);
`

// SQLiteStore は SQLite ファイルに保存する Store 実装です（ローカル開発用）。
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite は SQLite データベースを開き、テーブルがなければ作成します。
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Insert はユーザーを1行追加します。
func (s *SQLiteStore) Insert(ctx context.Context, user User) (string, error) {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, email, password_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
		user.ID, user.Name, user.Email, user.PasswordHash, user.CreatedAt,
	)
	if err != nil {
		return "", storeError("USER_INSERT_FAILED", err, "operation", "insert user")
	}
	return user.ID, nil
}

// FindByEmail はメールアドレスが一致するユーザーを検索します。
func (s *SQLiteStore) FindByEmail(ctx context.Context, email string) (Credential, bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, password_hash FROM users WHERE email = ? ORDER BY created_at LIMIT 2`, email,
	)
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

// Close はデータベース接続を閉じます。
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
