// Package password はパスワードのハッシュ化と照合を提供します。
package password

import (
	"context"
	"errors"
	"time"

	"github.com/samber/oops"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// DefaultCost はハッシュ計算のワークファクターです。
const DefaultCost = 12

// ErrEmptyPassword は空のパスワードをハッシュ化しようとした場合に返されます。
var ErrEmptyPassword = errors.New("password cannot be empty")

// Hasher はパスワードのハッシュ化と照合を行います。
type Hasher interface {
	// Hash はソルト付きのダイジェストを生成します。呼び出すたびに異なる値になります。
	Hash(ctx context.Context, plaintext string) (string, error)

	// Verify はダイジェストに埋め込まれたソルトで再計算して照合します。
	// 一致すれば (true, nil)、不一致なら (false, nil)、ダイジェストが不正ならエラーを返します。
	Verify(ctx context.Context, plaintext, digest string) (bool, error)
}

// Observer は処理時間の通知先です。
type Observer func(op string, d time.Duration)

// Bcrypt は bcrypt による Hasher 実装です。
// 同時に計算できる数をセマフォで制限し、CPU を占有しないようにします。
type Bcrypt struct {
	cost    int
	sem     *semaphore.Weighted
	observe Observer
}

// Option は Bcrypt の設定を変更します。
type Option func(*Bcrypt)

// WithObserver は処理時間の通知先を設定します。
func WithObserver(o Observer) Option {
	return func(b *Bcrypt) {
		b.observe = o
	}
}

// NewBcrypt は Bcrypt を作成します。concurrency が 1 未満の場合は 1 になります。
func NewBcrypt(cost, concurrency int, opts ...Option) *Bcrypt {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultCost
	}
	if concurrency < 1 {
		concurrency = 1
	}
	b := &Bcrypt{
		cost: cost,
		sem:  semaphore.NewWeighted(int64(concurrency)),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Hash は bcrypt ダイジェストを生成します。
func (b *Bcrypt) Hash(ctx context.Context, plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrEmptyPassword
	}

	var (
		digest []byte
		err    error
	)
	if runErr := b.run(ctx, "hash", func() {
		digest, err = bcrypt.GenerateFromPassword([]byte(plaintext), b.cost)
	}); runErr != nil {
		return "", runErr
	}
	if err != nil {
		return "", oops.Code("PASSWORD_HASH_FAILED").Wrap(err)
	}
	return string(digest), nil
}

// Verify はパスワードとダイジェストを照合します。比較は bcrypt により定数時間で行われます。
func (b *Bcrypt) Verify(ctx context.Context, plaintext, digest string) (bool, error) {
	var err error
	if runErr := b.run(ctx, "verify", func() {
		err = bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext))
	}); runErr != nil {
		return false, runErr
	}
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, oops.Code("PASSWORD_INVALID_DIGEST").Wrap(err)
	}
}

// Cost はハッシュ計算のコストを返します。
func (b *Bcrypt) Cost() int {
	return b.cost
}

// run はセマフォを取得してから fn を別ゴルーチンで実行します。
// ctx がキャンセルされた場合は計算の完了を待たずに戻りますが、
// セマフォは計算が終わるまで解放されません。
func (b *Bcrypt) run(ctx context.Context, op string, fn func()) error {
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	done := make(chan struct{})
	start := time.Now()
	go func() {
		defer close(done)
		defer b.sem.Release(1)
		fn()
		if b.observe != nil {
			b.observe(op, time.Since(start))
		}
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
