// Package users はユーザー資格情報の永続化を提供します。
//
// ユーザーは作成後に変更・削除されません。メールアドレスの一意性は強制しません。
package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/oops"
)

var (
	// ErrStore はストアへの接続やタイムアウトなどの障害を表します。
	// 「見つからない」はエラーではなく found=false で表現します。
	ErrStore = errors.New("credential store failure")

	// ErrAmbiguousEmail は同じメールアドレスのユーザーが複数存在する場合に返されます。
	ErrAmbiguousEmail = errors.New("more than one user matches email")
)

// User は保存されるユーザーです。
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Credential はログイン照合に必要な射影です。
type Credential struct {
	ID           string
	Name         string
	PasswordHash string
}

// Store はユーザーの保存と検索を行います。
type Store interface {
	// Insert はユーザーを保存し、採番した ID を返します。
	Insert(ctx context.Context, user User) (string, error)

	// FindByEmail はメールアドレスでユーザーを検索します。
	// 該当なしは (Credential{}, false, nil)、障害は ErrStore を含むエラーです。
	FindByEmail(ctx context.Context, email string) (Credential, bool, error)
}

func storeError(code string, err error, kv ...any) error {
	return oops.Code(code).With(kv...).Wrap(fmt.Errorf("%w: %w", ErrStore, err))
}

type timeoutStore struct {
	next    Store
	timeout time.Duration
}

// WithTimeout は各操作に timeout を適用する Store を返します。timeout が 0 以下なら next をそのまま返します。
func WithTimeout(next Store, timeout time.Duration) Store {
	if timeout <= 0 {
		return next
	}
	return &timeoutStore{next: next, timeout: timeout}
}

func (s *timeoutStore) Insert(ctx context.Context, user User) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.next.Insert(ctx, user)
}

func (s *timeoutStore) FindByEmail(ctx context.Context, email string) (Credential, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.next.FindByEmail(ctx, email)
}
