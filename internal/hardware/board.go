// Package hardware 封装终端的物理接口：投币器脉冲输入、按键、投币闸门和指示灯。
package hardware

import (
	"sync/atomic"

	"github.com/wfunc/coin-atm/internal/config"
	"github.com/wfunc/coin-atm/internal/errors"
)

// Level 数字电平
type Level bool

const (
	Low  Level = false
	High Level = true
)

// String 电平文本
func (l Level) String() string {
	if l {
		return "high"
	}
	return "low"
}

// Board 终端IO板
type Board interface {
	// CoinLevel 读取投币器脉冲线电平，空闲为高
	CoinLevel() (Level, error)
	// SetGate 控制闸门，accept为true时放行硬币
	SetGate(accept bool) error
	// SetIndicator 控制指示灯
	SetIndicator(on bool) error
	// Button 按键标志，由中断或事件线程置位
	Button() *Button
	Close() error
}

// Button 按键标志：中断侧只写，轮询侧读取并清除
type Button struct {
	pressed atomic.Bool
	total   atomic.Uint64
}

// Press 置位（中断上下文调用）
func (b *Button) Press() {
	b.total.Add(1)
	b.pressed.Store(true)
}

// Pressed 查看标志但不清除
func (b *Button) Pressed() bool {
	return b.pressed.Load()
}

// Take 读取并清除标志，返回清除前是否置位
func (b *Button) Take() bool {
	return b.pressed.CompareAndSwap(true, false)
}

// Clear 清除标志
func (b *Button) Clear() {
	b.pressed.Store(false)
}

// Total 累计按键次数
func (b *Button) Total() uint64 {
	return b.total.Load()
}

// Open 根据配置创建IO板
func Open(cfg *config.HardwareConfig) (Board, error) {
	switch cfg.Backend {
	case "", "mock":
		return NewMockBoard(), nil
	case "gpio":
		b, err := OpenGPIOBoard(cfg.GPIO)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "serial":
		b, err := OpenSerialBoard(cfg.Serial)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, errors.Newf(errors.ErrInvalidParam, "unknown hardware backend %q", cfg.Backend)
	}
}
