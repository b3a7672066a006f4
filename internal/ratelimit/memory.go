package ratelimit

import (
	"context"
	"sync"
	"time"
)

// sweepInterval ごとに期限切れのウィンドウをまとめて削除します。
const sweepInterval = time.Minute

type window struct {
	count int
	start time.Time
}

var _ Limiter = (*Memory)(nil)

// Memory はプロセス内で完結する固定ウィンドウ制限です。
// 再起動や複数インスタンス構成ではカウンタが共有されません。
type Memory struct {
	cfg       Config
	now       func() time.Time
	lock      sync.Mutex
	windows   map[string]*window
	lastSweep time.Time
}

// NewMemory は Memory を作成します。
func NewMemory(cfg Config) *Memory {
	return &Memory{
		cfg:     cfg,
		now:     time.Now,
		windows: make(map[string]*window),
	}
}

// WithClock は時刻取得関数を差し替えます（テスト用）。
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

// Allow は試行を1回記録して判定します。
func (m *Memory) Allow(ctx context.Context, key string) (Decision, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	now := m.now()
	m.sweep(now)

	state, ok := m.windows[key]
	if !ok || !now.Before(state.start.Add(m.cfg.Window)) {
		state = &window{start: now}
		m.windows[key] = state
	}
	state.count++

	return decide(state.count, m.cfg, state.start.Add(m.cfg.Window), now), nil
}

// Len は保持しているウィンドウ数を返します。
func (m *Memory) Len() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return len(m.windows)
}

func (m *Memory) sweep(now time.Time) {
	if now.Sub(m.lastSweep) < sweepInterval {
		return
	}
	m.lastSweep = now
	for key, state := range m.windows {
		if !now.Before(state.start.Add(m.cfg.Window)) {
			delete(m.windows, key)
		}
	}
}
