// Package auth はサインアップとログインの手順をまとめます。
//
// 入力検証、パスワードのハッシュ化と照合、資格情報ストアへの読み書きを順に行い、
// 結果を Identity かエラーで返します。セッションの確立は呼び出し側の責務です。
package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/yourusername/members-portal/internal/metrics"
	"github.com/yourusername/members-portal/internal/password"
	"github.com/yourusername/members-portal/internal/users"
	"github.com/yourusername/members-portal/internal/validation"
)

// Identity は認証されたユーザーです。
type Identity struct {
	ID   string
	Name string
}

// Service はサインアップとログインを提供します。
type Service struct {
	validator *validation.Validator
	hasher    password.Hasher
	store     users.Store
	limiter   *limiter
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// Option は Service の設定を変更します。
type Option func(*Service)

// WithMetrics は結果の記録先を設定します。
func WithMetrics(mt *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = mt
	}
}

// WithLogger はロガーを設定します。
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithClock はログイン試行の制限に使う時刻の取得関数を差し替えます。
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService は Service を作成します。
func NewService(v *validation.Validator, hasher password.Hasher, store users.Store, opts ...Option) *Service {
	s := &Service{
		validator: v,
		hasher:    hasher,
		store:     store,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.limiter = newLimiter(s.now)
	return s
}

// Signup は入力を検証し、パスワードをハッシュ化してユーザーを保存します。
// メールアドレスの重複は確認しません。
func (s *Service) Signup(ctx context.Context, in validation.SignupInput) (Identity, error) {
	input, err := s.validator.ValidateSignup(in)
	if err != nil {
		s.metrics.Signup("invalid")
		return Identity{}, err
	}

	digest, err := s.hasher.Hash(ctx, input.Password)
	if err != nil {
		s.metrics.Signup("error")
		return Identity{}, err
	}

	id, err := s.store.Insert(ctx, users.User{
		Name:         input.Name,
		Email:        input.Email,
		PasswordHash: digest,
	})
	if err != nil {
		s.metrics.Signup("store_error")
		return Identity{}, storeUnavailable("insert", err)
	}

	s.metrics.Signup("ok")
	s.logger.InfoContext(ctx, "user signed up", "user_id", id)
	return Identity{ID: id, Name: input.Name}, nil
}

// Login はメールアドレスとパスワードを照合します。
// ip ごとに失敗回数を数え、上限を超えると ThrottledError を返します。
func (s *Service) Login(ctx context.Context, ip string, in validation.LoginInput) (Identity, error) {
	if retryAfter := s.limiter.checkLock(ip); retryAfter > 0 {
		s.metrics.Login("throttled")
		return Identity{}, &ThrottledError{RetryAfter: retryAfter}
	}

	input, err := s.validator.ValidateLogin(in)
	if err != nil {
		s.metrics.Login("invalid")
		return Identity{}, err
	}

	cred, found, err := s.store.FindByEmail(ctx, input.Email)
	switch {
	case errors.Is(err, users.ErrAmbiguousEmail):
		return Identity{}, s.fail(ctx, ip, "ambiguous email")
	case err != nil:
		s.metrics.Login("store_error")
		return Identity{}, storeUnavailable("find_by_email", err)
	case !found:
		return Identity{}, s.fail(ctx, ip, "unknown email")
	}

	ok, err := s.hasher.Verify(ctx, input.Password, cred.PasswordHash)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			s.metrics.Login("error")
			return Identity{}, ctxErr
		}
		s.logger.WarnContext(ctx, "stored password digest is unusable", "user_id", cred.ID, "error", err)
		return Identity{}, s.fail(ctx, ip, "invalid digest")
	}
	if !ok {
		return Identity{}, s.fail(ctx, ip, "wrong password")
	}

	s.limiter.resetAttempts(ip)
	s.metrics.Login("ok")
	s.logger.InfoContext(ctx, "user logged in", "user_id", cred.ID, "ip", ip)
	return Identity{ID: cred.ID, Name: cred.Name}, nil
}

func (s *Service) fail(ctx context.Context, ip, reason string) error {
	remaining := s.limiter.recordFailure(ip)
	s.metrics.Login("failed")
	s.logger.InfoContext(ctx, "login failed", "reason", reason, "ip", ip, "remaining_attempts", remaining)
	return ErrInvalidCredentials
}
