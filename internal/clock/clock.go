// Package clock 提供可注入的时钟，所有超时判断都基于单调时间差。
package clock

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Clock 时钟接口
type Clock interface {
	Now() time.Time
	// Sleep 阻塞d或直到ctx取消
	Sleep(ctx context.Context, d time.Duration) error
}

// Real 系统时钟
type Real struct{}

// Now 当前时间（带单调时钟读数）
func (Real) Now() time.Time { return time.Now() }

// Sleep 可取消的休眠
func (Real) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Fake 测试时钟：Sleep 立即推进时间，并按时间顺序触发预约的回调
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	pending []scheduled
	slept   time.Duration
}

type scheduled struct {
	at time.Time
	fn func()
}

// NewFake 创建测试时钟
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now 当前时间
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Elapsed 自创建以来通过Sleep推进的总时间
func (f *Fake) Elapsed() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.slept
}

// At 在时间 at 触发回调（在推进到该时刻的Sleep中执行）
func (f *Fake) At(at time.Time, fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, scheduled{at: at, fn: fn})
	sort.SliceStable(f.pending, func(i, j int) bool {
		return f.pending[i].at.Before(f.pending[j].at)
	})
}

// After 在当前时间之后d触发回调
func (f *Fake) After(d time.Duration, fn func()) {
	f.At(f.Now().Add(d), fn)
}

// Sleep 推进时间
func (f *Fake) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.Advance(d)
	return ctx.Err()
}

// Advance 推进时间并执行到期回调
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.slept += d
	for len(f.pending) > 0 && !f.pending[0].at.After(target) {
		next := f.pending[0]
		f.pending = f.pending[1:]
		if next.at.After(f.now) {
			f.now = next.at
		}
		// 回调里可能再次调用At/Now
		f.mu.Unlock()
		next.fn()
		f.mu.Lock()
	}
	f.now = target
	f.mu.Unlock()
}
