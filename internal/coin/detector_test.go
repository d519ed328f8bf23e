package coin

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/coin-atm/internal/clock"
	"github.com/wfunc/coin-atm/internal/hardware"
)

var epoch = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

// span 脉冲线保持低电平的区间 [from, to)
type span struct {
	from, to time.Duration
}

// trace 根据时钟返回脚本化的脉冲线电平
func trace(c *clock.Fake, lows ...span) func() hardware.Level {
	return func() hardware.Level {
		at := c.Now().Sub(epoch)
		for _, s := range lows {
			if at >= s.from && at < s.to {
				return hardware.Low
			}
		}
		return hardware.High
	}
}

// burst n个宽50ms、周期100ms的脉冲，从start开始
func burst(start time.Duration, n int) []span {
	out := make([]span, 0, n)
	for i := 0; i < n; i++ {
		from := start + time.Duration(i)*100*time.Millisecond
		out = append(out, span{from, from + 50*time.Millisecond})
	}
	return out
}

func newTestDetector(lows ...span) (*Detector, *hardware.MockBoard, *clock.Fake) {
	c := clock.NewFake(epoch)
	board := hardware.NewMockBoard()
	board.SetCoinLevelFunc(trace(c, lows...))
	return NewDetector(board, c, DefaultTiming()), board, c
}

func TestDetectCountsBurst(t *testing.T) {
	for n := 1; n <= 9; n++ {
		d, _, c := newTestDetector(burst(100*time.Millisecond, n)...)

		r, err := d.Detect(context.Background(), 0)
		require.NoError(t, err)
		assert.Equal(t, Settled, r.Outcome)
		assert.Equal(t, uint(n), r.Pulses)

		// 最后一个脉冲在下降沿后36ms计数，再过200ms判定结束
		lastCounted := 100*time.Millisecond + time.Duration(n-1)*100*time.Millisecond + 36*time.Millisecond
		assert.GreaterOrEqual(t, c.Elapsed(), lastCounted+200*time.Millisecond)
		assert.Less(t, c.Elapsed(), lastCounted+210*time.Millisecond)
	}
}

func TestDetectIgnoresGlitches(t *testing.T) {
	lows := []span{
		{20 * time.Millisecond, 30 * time.Millisecond}, // 10ms 干扰
		{60 * time.Millisecond, 94 * time.Millisecond}, // 短于去抖时间
	}
	lows = append(lows, burst(200*time.Millisecond, 3)...)
	d, _, _ := newTestDetector(lows...)

	r, err := d.Detect(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, Settled, r.Outcome)
	assert.Equal(t, uint(3), r.Pulses)
}

func TestDetectSplitsBurstsOnGap(t *testing.T) {
	// 两串之间间隔超过脉冲超时，只返回第一串
	lows := append(burst(100*time.Millisecond, 2), burst(time.Second, 5)...)
	d, _, _ := newTestDetector(lows...)

	r, err := d.Detect(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, uint(2), r.Pulses)
}

func TestDetectLongLowCountsOnce(t *testing.T) {
	d, _, _ := newTestDetector(span{100 * time.Millisecond, 900 * time.Millisecond})

	r, err := d.Detect(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, Settled, r.Outcome)
	assert.Equal(t, uint(1), r.Pulses)
}

func TestDetectButtonInterrupts(t *testing.T) {
	d, board, c := newTestDetector(burst(100*time.Millisecond, 5)...)
	c.At(epoch.Add(250*time.Millisecond), board.Button().Press)

	r, err := d.Detect(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, Reading{Outcome: Interrupted}, r)
	assert.Less(t, c.Elapsed(), 260*time.Millisecond)
	assert.False(t, board.Button().Pressed())
}

func TestDetectClearsStalePress(t *testing.T) {
	d, board, _ := newTestDetector(burst(100*time.Millisecond, 4)...)
	board.Button().Press()

	r, err := d.Detect(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, Settled, r.Outcome)
	assert.Equal(t, uint(4), r.Pulses)
}

func TestDetectIdleRefreshOncePerCrossing(t *testing.T) {
	c := clock.NewFake(epoch)
	board := hardware.NewMockBoard()
	timing := DefaultTiming()
	timing.IdleRefresh = 10 * time.Second
	d := NewDetector(board, c, timing)

	var refreshedAt []time.Duration
	d.OnIdleRefresh(func(ctx context.Context) {
		refreshedAt = append(refreshedAt, c.Now().Sub(epoch))
		// 刷新期间黑屏停留
		_ = c.Sleep(ctx, time.Second)
	})
	c.At(epoch.Add(25*time.Second), board.Button().Press)

	r, err := d.Detect(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, Interrupted, r.Outcome)

	require.Len(t, refreshedAt, 2)
	assert.InDelta(t, float64(10*time.Second), float64(refreshedAt[0]), float64(5*time.Millisecond))
	assert.InDelta(t, float64(21*time.Second), float64(refreshedAt[1]), float64(10*time.Millisecond))
}

func TestDetectAbandonsWithBalance(t *testing.T) {
	d, _, c := newTestDetector()
	refreshed := 0
	d.OnIdleRefresh(func(context.Context) { refreshed++ })

	r, err := d.Detect(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, Reading{Outcome: Abandoned}, r)
	assert.GreaterOrEqual(t, c.Elapsed(), 6*time.Minute)
	assert.Less(t, c.Elapsed(), 6*time.Minute+10*time.Millisecond)
	assert.Zero(t, refreshed)
}

func TestDetectNoAbandonWithoutBalance(t *testing.T) {
	d, board, c := newTestDetector()
	c.At(epoch.Add(7*time.Minute), board.Button().Press)

	r, err := d.Detect(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, Interrupted, r.Outcome)
}

func TestDetectCoinBeforeAbandon(t *testing.T) {
	d, _, _ := newTestDetector(burst(5*time.Minute, 6)...)

	r, err := d.Detect(context.Background(), 200)
	require.NoError(t, err)
	assert.Equal(t, Settled, r.Outcome)
	assert.Equal(t, uint(6), r.Pulses)
}

func TestDetectHonoursContext(t *testing.T) {
	d, _, c := newTestDetector()
	ctx, cancel := context.WithCancel(context.Background())
	c.At(epoch.Add(time.Second), cancel)

	_, err := d.Detect(ctx, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDetectBoardError(t *testing.T) {
	d, board, _ := newTestDetector()
	require.NoError(t, board.Close())

	_, err := d.Detect(context.Background(), 0)
	assert.ErrorIs(t, err, hardware.ErrBoardClosed)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "settled", Settled.String())
	assert.Equal(t, "interrupted", Interrupted.String())
	assert.Equal(t, "abandoned", Abandoned.String())
}
