// Package coin 把投币器的脉冲串转换为硬币面值。
package coin

import (
	"fmt"

	"github.com/wfunc/coin-atm/internal/config"
)

// DefaultValues 默认面值表，下标为脉冲数，值为分
var DefaultValues = []uint64{0, 0, 5, 10, 20, 50, 100, 200}

// 默认有效脉冲范围
const (
	DefaultMinPulses = 2
	DefaultMaxPulses = 7
)

// Table 脉冲数到面值的映射，创建后只读
type Table struct {
	values []uint64
	min    uint
	max    uint
}

// NewTable 创建面值表，[min,max]内的脉冲数必须都有非零面值
func NewTable(values []uint64, min, max int) (*Table, error) {
	if min < 0 || min > max {
		return nil, fmt.Errorf("invalid pulse range [%d,%d]", min, max)
	}
	if max >= len(values) {
		return nil, fmt.Errorf("coin table has %d entries, max pulses %d", len(values), max)
	}
	for p := min; p <= max; p++ {
		if values[p] == 0 {
			return nil, fmt.Errorf("no coin value for %d pulses", p)
		}
	}

	return &Table{
		values: append([]uint64(nil), values...),
		min:    uint(min),
		max:    uint(max),
	}, nil
}

// DefaultTable 默认面值表
func DefaultTable() *Table {
	t, _ := NewTable(DefaultValues, DefaultMinPulses, DefaultMaxPulses)
	return t
}

// TableFromConfig 由终端配置创建面值表
func TableFromConfig(cfg *config.TerminalConfig) (*Table, error) {
	return NewTable(cfg.CoinValues, cfg.MinPulses, cfg.MaxPulses)
}

// Value 返回脉冲数对应的面值；范围外的脉冲数视为噪声
func (t *Table) Value(pulses uint) (uint64, bool) {
	if pulses < t.min || pulses > t.max {
		return 0, false
	}
	return t.values[pulses], true
}

// Denominations 按脉冲数顺序列出可接受的面值
func (t *Table) Denominations() []uint64 {
	out := make([]uint64, 0, t.max-t.min+1)
	for p := t.min; p <= t.max; p++ {
		out = append(out, t.values[p])
	}
	return out
}
