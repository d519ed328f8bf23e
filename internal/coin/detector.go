package coin

import (
	"context"
	"time"

	"github.com/wfunc/coin-atm/internal/clock"
	"github.com/wfunc/coin-atm/internal/config"
	"github.com/wfunc/coin-atm/internal/hardware"
	"github.com/wfunc/coin-atm/internal/logger"
	"go.uber.org/zap"
)

// Outcome 一次监听的结束方式
type Outcome int

const (
	// Settled 脉冲串结束
	Settled Outcome = iota
	// Interrupted 用户按键
	Interrupted
	// Abandoned 有余额但长时间没有新投币，视为请求取款
	Abandoned
)

// String 结果名称
func (o Outcome) String() string {
	switch o {
	case Settled:
		return "settled"
	case Interrupted:
		return "interrupted"
	case Abandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// Reading 一次监听的结果
type Reading struct {
	Pulses  uint
	Outcome Outcome
}

// Timing 检测时序
type Timing struct {
	PollInterval   time.Duration
	Debounce       time.Duration // 下降沿需要保持的时间
	PulseTimeout   time.Duration // 脉冲间隔超过该值视为一枚硬币结束
	IdleRefresh    time.Duration // 无余额时的屏幕刷新周期
	AbandonTimeout time.Duration // 有余额时的放弃判定
}

// DefaultTiming 投币器默认时序
func DefaultTiming() Timing {
	return Timing{
		PollInterval:   2 * time.Millisecond,
		Debounce:       35 * time.Millisecond,
		PulseTimeout:   200 * time.Millisecond,
		IdleRefresh:    12 * time.Hour,
		AbandonTimeout: 6 * time.Minute,
	}
}

// TimingFromConfig 由终端配置读取时序
func TimingFromConfig(cfg *config.TerminalConfig) Timing {
	return Timing{
		PollInterval:   cfg.PollInterval,
		Debounce:       cfg.Debounce,
		PulseTimeout:   cfg.PulseTimeout,
		IdleRefresh:    cfg.IdleRefresh,
		AbandonTimeout: cfg.AbandonTimeout,
	}
}

// Input 检测器需要的输入
type Input interface {
	CoinLevel() (hardware.Level, error)
	Button() *hardware.Button
}

// RefreshFunc 空闲刷新回调，阻塞期间不计入空闲时间
type RefreshFunc func(ctx context.Context)

// Detector 投币脉冲检测器
type Detector struct {
	input     Input
	clock     clock.Clock
	timing    Timing
	onRefresh RefreshFunc
	logger    *zap.Logger
}

// NewDetector 创建检测器；clk为nil时使用系统时钟
func NewDetector(input Input, clk clock.Clock, timing Timing) *Detector {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Detector{
		input:  input,
		clock:  clk,
		timing: timing,
		logger: logger.WithModule("coin"),
	}
}

// OnIdleRefresh 设置空闲刷新回调
func (d *Detector) OnIdleRefresh(fn RefreshFunc) {
	d.onRefresh = fn
}

// edge 脉冲线去抖状态
type edge int

const (
	edgeIdle       edge = iota // 高电平，等待下降沿
	edgeDebouncing             // 低电平，等待去抖期满
	edgeHeld                   // 已计数，等待回到高电平
)

// Detect 监听一次投币。balance为当前余额，决定空闲刷新和放弃判定。
// 进入时清除按键标志，之后任意时刻按键都返回Interrupted且脉冲数为0
func (d *Detector) Detect(ctx context.Context, balance uint64) (Reading, error) {
	button := d.input.Button()
	button.Clear()

	var (
		state     = edgeIdle
		deadline  time.Time // edgeDebouncing 的去抖期满时刻
		pulses    uint
		lastPulse time.Time
		entered   = d.clock.Now()
	)

	for {
		if button.Take() {
			d.logger.Debug("监听被按键打断", zap.Uint("discarded_pulses", pulses))
			return Reading{Outcome: Interrupted}, nil
		}

		level, err := d.input.CoinLevel()
		if err != nil {
			return Reading{}, err
		}
		now := d.clock.Now()

		switch state {
		case edgeIdle:
			if level == hardware.Low {
				state = edgeDebouncing
				deadline = now.Add(d.timing.Debounce)
			}
		case edgeDebouncing:
			if level == hardware.High {
				// 去抖期内回弹，视为干扰
				state = edgeIdle
			}
		case edgeHeld:
			if level == hardware.High {
				state = edgeIdle
			}
		}

		if state == edgeDebouncing && !now.Before(deadline) {
			state = edgeHeld
			pulses++
			lastPulse = now
		}

		if pulses > 0 {
			if state != edgeDebouncing && now.Sub(lastPulse) >= d.timing.PulseTimeout {
				return Reading{Pulses: pulses, Outcome: Settled}, nil
			}
		} else if balance == 0 {
			if d.timing.IdleRefresh > 0 && now.Sub(entered) >= d.timing.IdleRefresh {
				d.logger.Info("空闲刷新屏幕")
				if d.onRefresh != nil {
					d.onRefresh(ctx)
				}
				entered = d.clock.Now()
			}
		} else if d.timing.AbandonTimeout > 0 && now.Sub(entered) >= d.timing.AbandonTimeout {
			d.logger.Info("余额长时间未取，自动进入取款", zap.Uint64("balance_cents", balance))
			return Reading{Outcome: Abandoned}, nil
		}

		if err := d.clock.Sleep(ctx, d.timing.PollInterval); err != nil {
			return Reading{}, err
		}
	}
}
