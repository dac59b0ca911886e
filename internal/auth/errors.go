package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/samber/oops"
)

var (
	// ErrInvalidCredentials はメールアドレスが見つからない場合とパスワード不一致の両方を表します。
	// 利用者にはどちらが原因かを区別せずに伝えます。
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrStoreUnavailable は資格情報ストアに到達できない場合に返されます。
	ErrStoreUnavailable = errors.New("credential store unavailable")

	// ErrThrottled はログイン試行がロックされている場合に返されます。
	ErrThrottled = errors.New("too many failed login attempts")
)

// ThrottledError は再試行までの待ち時間を保持します。
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("%s: retry after %s", ErrThrottled, e.RetryAfter.Round(time.Second))
}

func (e *ThrottledError) Unwrap() error {
	return ErrThrottled
}

func storeUnavailable(op string, err error) error {
	return oops.Code("STORE_UNAVAILABLE").
		With("op", op).
		Wrap(fmt.Errorf("%w: %w", ErrStoreUnavailable, err))
}
