package auth

import (
	"sync"
	"time"
)

const (
	loginWindow      = 15 * time.Minute
	lockDuration     = 10 * time.Minute
	maxLoginAttempts = 5
)

type attemptState struct {
	count        int
	firstAttempt time.Time
	lockedUntil  time.Time
}

// limiter はクライアントIPごとのログイン失敗回数を数え、上限に達したIPを一定時間ロックします。
type limiter struct {
	lock     sync.Mutex
	attempts map[string]*attemptState
	now      func() time.Time
}

func newLimiter(now func() time.Time) *limiter {
	return &limiter{
		attempts: make(map[string]*attemptState),
		now:      now,
	}
}

// checkLock はロック中であれば解除までの残り時間を返します。
func (l *limiter) checkLock(ip string) time.Duration {
	l.lock.Lock()
	defer l.lock.Unlock()

	state, ok := l.attempts[ip]
	if !ok {
		return 0
	}
	now := l.now()
	if !now.Before(state.lockedUntil) {
		if !state.lockedUntil.IsZero() || now.Sub(state.firstAttempt) > loginWindow {
			delete(l.attempts, ip)
		}
		return 0
	}
	return state.lockedUntil.Sub(now)
}

// recordFailure は失敗を記録し、ロックまでの残り回数を返します。
func (l *limiter) recordFailure(ip string) int {
	l.lock.Lock()
	defer l.lock.Unlock()

	now := l.now()
	state, ok := l.attempts[ip]
	expired := ok && !state.lockedUntil.IsZero() && !now.Before(state.lockedUntil)
	if !ok || expired || now.Sub(state.firstAttempt) > loginWindow {
		state = &attemptState{firstAttempt: now}
		l.attempts[ip] = state
	}

	state.count++
	if state.count >= maxLoginAttempts {
		state.lockedUntil = now.Add(lockDuration)
		state.count = maxLoginAttempts
	}

	remaining := maxLoginAttempts - state.count
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

func (l *limiter) resetAttempts(ip string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	delete(l.attempts, ip)
}
