package auth

import (
	"context"
	"sync"
	"time"
)

// Limiter はクライアントごとのログイン失敗回数を管理します。
type Limiter interface {
	// Check はロック中なら残り時間を返します。
	Check(ctx context.Context, key string) (time.Duration, error)
	// Fail は失敗を1回記録し、ロックまでの残り回数を返します。
	Fail(ctx context.Context, key string) (int, error)
	// Reset は記録を消します。
	Reset(ctx context.Context, key string) error
}

// LimiterPolicy は試行制限のパラメータです。
type LimiterPolicy struct {
	Window       time.Duration // 失敗回数を数える期間
	LockDuration time.Duration // 上限到達後のロック時間
	MaxAttempts  int
}

// DefaultLimiterPolicy は 15 分間に 5 回失敗すると 10 分ロックします。
var DefaultLimiterPolicy = LimiterPolicy{
	Window:       15 * time.Minute,
	LockDuration: 10 * time.Minute,
	MaxAttempts:  5,
}

type attemptState struct {
	count        int
	firstAttempt time.Time
	lockedUntil  time.Time
}

// MemoryLimiter はプロセス内で試行回数を数える Limiter です。
type MemoryLimiter struct {
	policy    LimiterPolicy
	now       func() time.Time
	lock      sync.Mutex
	attempts  map[string]*attemptState
	lastSweep time.Time
}

// NewMemoryLimiter は MemoryLimiter を作成します。
func NewMemoryLimiter(policy LimiterPolicy) *MemoryLimiter {
	return &MemoryLimiter{
		policy:   policy,
		now:      time.Now,
		attempts: make(map[string]*attemptState),
	}
}

func (l *MemoryLimiter) Check(ctx context.Context, key string) (time.Duration, error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	now := l.now()
	l.sweep(now)

	state, ok := l.attempts[key]
	if !ok {
		return 0, nil
	}
	if !now.Before(state.lockedUntil) {
		return 0, nil
	}
	return state.lockedUntil.Sub(now), nil
}

func (l *MemoryLimiter) Fail(ctx context.Context, key string) (int, error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	now := l.now()
	l.sweep(now)

	state, ok := l.attempts[key]
	expiredLock := ok && !state.lockedUntil.IsZero() && !now.Before(state.lockedUntil)
	if !ok || expiredLock || now.Sub(state.firstAttempt) > l.policy.Window {
		state = &attemptState{firstAttempt: now}
		l.attempts[key] = state
	}

	state.count++
	if state.count >= l.policy.MaxAttempts {
		state.lockedUntil = now.Add(l.policy.LockDuration)
		state.count = l.policy.MaxAttempts
	}

	remaining := l.policy.MaxAttempts - state.count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

func (l *MemoryLimiter) Reset(ctx context.Context, key string) error {
	l.lock.Lock()
	defer l.lock.Unlock()
	delete(l.attempts, key)
	return nil
}

// sweep は期間もロックも過ぎたエントリを削除します。走査は Window ごとに1回だけ行います。
// 呼び出し側でロックを取っていること。
func (l *MemoryLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.policy.Window {
		return
	}
	l.lastSweep = now
	for key, state := range l.attempts {
		if now.Before(state.lockedUntil) {
			continue
		}
		if now.Sub(state.firstAttempt) > l.policy.Window {
			delete(l.attempts, key)
		}
	}
}

// size は保持しているキーの数を返します。
func (l *MemoryLimiter) size() int {
	l.lock.Lock()
	defer l.lock.Unlock()
	return len(l.attempts)
}
