// Package terminal 终端会话控制：余额、闸门、屏幕和取款流程。
package terminal

import (
	"context"
	"time"

	"github.com/wfunc/coin-atm/internal/config"
	"github.com/wfunc/coin-atm/internal/models"
)

// State 会话状态
type State int

const (
	// StateIdle 余额为0，等待投币
	StateIdle State = iota
	// StateAccumulating 已有余额，继续接受投币
	StateAccumulating
	// StateAwaitingConfirmation 兑换码已显示，等待用户按键确认
	StateAwaitingConfirmation
	// StateCleaningPrompt 屏幕清洁（休眠）中
	StateCleaningPrompt
)

// String 状态名称
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAccumulating:
		return "accumulating"
	case StateAwaitingConfirmation:
		return "awaiting_confirmation"
	case StateCleaningPrompt:
		return "cleaning_prompt"
	default:
		return "unknown"
	}
}

// Timing 会话层时序，投币检测时序见 coin.Timing
type Timing struct {
	PollInterval   time.Duration
	RefreshDwell   time.Duration // 空闲刷新时空白页停留
	ConfirmGrace   time.Duration // 显示二维码后忽略按键的时间
	ConfirmTimeout time.Duration
	BlinkInterval  time.Duration
	CleanWindow    time.Duration // 两次按键的最大间隔
	CleanPresses   int           // 超过该次数进入清洁
	CleanLockout   time.Duration
	CleanDwell     time.Duration
}

// DefaultTiming 与固件一致的默认时序
func DefaultTiming() Timing {
	return Timing{
		PollInterval:   2 * time.Millisecond,
		RefreshDwell:   10 * time.Second,
		ConfirmGrace:   5 * time.Second,
		ConfirmTimeout: 10 * time.Minute,
		BlinkInterval:  500 * time.Millisecond,
		CleanWindow:    4 * time.Second,
		CleanPresses:   5,
		CleanLockout:   500 * time.Millisecond,
		CleanDwell:     30 * time.Second,
	}
}

// TimingFromConfig 由终端配置读取时序
func TimingFromConfig(cfg *config.TerminalConfig) Timing {
	return Timing{
		PollInterval:   cfg.PollInterval,
		RefreshDwell:   cfg.RefreshDwell,
		ConfirmGrace:   cfg.ConfirmGrace,
		ConfirmTimeout: cfg.ConfirmTimeout,
		BlinkInterval:  cfg.BlinkInterval,
		CleanWindow:    cfg.CleanWindow,
		CleanPresses:   cfg.CleanPresses,
		CleanLockout:   cfg.CleanLockout,
		CleanDwell:     cfg.CleanDwell,
	}
}

// VoucherMaker 兑换码生成
type VoucherMaker interface {
	MakeVoucher(amountCents uint64) (string, error)
}

// Journal 审计流水，写入失败只记录日志
type Journal interface {
	RecordCoin(ctx context.Context, event *models.CoinEvent) error
	RecordVoucher(ctx context.Context, event *models.VoucherEvent) error
	UpdateVoucherStatus(ctx context.Context, uuid string, status models.VoucherStatus, at time.Time) error
}
