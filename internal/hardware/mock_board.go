package hardware

import (
	"errors"
	"sync"

	"github.com/wfunc/coin-atm/internal/logger"
	"go.uber.org/zap"
)

// ErrBoardClosed IO板已关闭
var ErrBoardClosed = errors.New("hardware: board closed")

// MockBoard 内存IO板，用于开发和测试
type MockBoard struct {
	mu       sync.Mutex
	levelFn  func() Level
	gateOpen bool
	lightOn  bool
	gateLog  []bool
	lightLog []bool
	closed   bool
	gateErr  error
	button   Button
	logger   *zap.Logger
}

// NewMockBoard 创建模拟IO板，脉冲线默认保持高电平
func NewMockBoard() *MockBoard {
	return &MockBoard{
		levelFn: func() Level { return High },
		logger:  logger.WithModule("hardware"),
	}
}

// SetCoinLevelFunc 设置脉冲线电平脚本，每次读取时调用
func (m *MockBoard) SetCoinLevelFunc(fn func() Level) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.levelFn = fn
}

// SetCoinLevel 固定脉冲线电平
func (m *MockBoard) SetCoinLevel(l Level) {
	m.SetCoinLevelFunc(func() Level { return l })
}

// FailGate 使后续SetGate返回err，传nil恢复
func (m *MockBoard) FailGate(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gateErr = err
}

// CoinLevel 读取脚本电平
func (m *MockBoard) CoinLevel() (Level, error) {
	m.mu.Lock()
	fn, closed := m.levelFn, m.closed
	m.mu.Unlock()

	if closed {
		return High, ErrBoardClosed
	}
	return fn(), nil
}

// SetGate 记录闸门状态
func (m *MockBoard) SetGate(accept bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrBoardClosed
	}
	if m.gateErr != nil {
		return m.gateErr
	}
	m.gateOpen = accept
	m.gateLog = append(m.gateLog, accept)
	m.logger.Debug("闸门", zap.Bool("accept", accept))
	return nil
}

// SetIndicator 记录指示灯状态
func (m *MockBoard) SetIndicator(on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrBoardClosed
	}
	m.lightOn = on
	m.lightLog = append(m.lightLog, on)
	return nil
}

// Button 按键标志
func (m *MockBoard) Button() *Button {
	return &m.button
}

// Close 关闭
func (m *MockBoard) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// GateOpen 当前闸门是否放行
func (m *MockBoard) GateOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gateOpen
}

// IndicatorOn 当前指示灯状态
func (m *MockBoard) IndicatorOn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lightOn
}

// GateWrites 闸门写入历史
func (m *MockBoard) GateWrites() []bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]bool(nil), m.gateLog...)
}

// IndicatorWrites 指示灯写入历史
func (m *MockBoard) IndicatorWrites() []bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]bool(nil), m.lightLog...)
}
