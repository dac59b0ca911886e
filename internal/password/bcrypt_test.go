package password

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/crypto/bcrypt"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestHasher(opts ...Option) *Bcrypt {
	return NewBcrypt(bcrypt.MinCost, 2, opts...)
}

func TestHashProducesFreshSalt(t *testing.T) {
	h := newTestHasher()
	ctx := context.Background()

	first, err := h.Hash(ctx, "pw1")
	require.NoError(t, err)
	second, err := h.Hash(ctx, "pw1")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.NotContains(t, first, "pw1")
	assert.True(t, strings.HasPrefix(first, "$2a$"))
}

func TestVerify(t *testing.T) {
	h := newTestHasher()
	ctx := context.Background()

	digest, err := h.Hash(ctx, "correct horse")
	require.NoError(t, err)

	ok, err := h.Verify(ctx, "correct horse", digest)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify(ctx, "correct horsf", digest)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyMalformedDigest(t *testing.T) {
	h := newTestHasher()

	ok, err := h.Verify(context.Background(), "pw", "not-a-digest")
	require.Error(t, err)
	assert.False(t, ok)
}

func TestHashEmptyPassword(t *testing.T) {
	_, err := newTestHasher().Hash(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyPassword)
}

func TestNewBcryptClampsSettings(t *testing.T) {
	h := NewBcrypt(100, 0)
	assert.Equal(t, DefaultCost, h.Cost())
	assert.True(t, h.sem.TryAcquire(1))
	assert.False(t, h.sem.TryAcquire(1))
	h.sem.Release(1)
}

func TestHashCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestHasher().Hash(ctx, "pw")
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestHashWaitsForSlot(t *testing.T) {
	h := NewBcrypt(bcrypt.MinCost, 1)
	require.NoError(t, h.sem.Acquire(context.Background(), 1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := h.Hash(ctx, "pw")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	h.sem.Release(1)
	_, err = h.Hash(context.Background(), "pw")
	assert.NoError(t, err)
}

func TestObserverReceivesDurations(t *testing.T) {
	var (
		mu  sync.Mutex
		ops []string
	)
	h := newTestHasher(WithObserver(func(op string, d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		ops = append(ops, op)
	}))
	ctx := context.Background()

	digest, err := h.Hash(ctx, "pw")
	require.NoError(t, err)
	_, err = h.Verify(ctx, "pw", digest)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"hash", "verify"}, ops)
}

func TestConcurrentHashing(t *testing.T) {
	h := newTestHasher()
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			digest, err := h.Hash(ctx, "pw")
			if err != nil {
				errs <- err
				return
			}
			ok, err := h.Verify(ctx, "pw", digest)
			if err != nil {
				errs <- err
				return
			}
			if !ok {
				errs <- errors.New("verify failed")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
