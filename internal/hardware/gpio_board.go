package hardware

import (
	"sync"
	"time"

	"github.com/wfunc/coin-atm/internal/config"
	"github.com/wfunc/coin-atm/internal/errors"
	"github.com/wfunc/coin-atm/internal/logger"
	"go.uber.org/zap"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/host"
)

// 按键边沿等待超时，决定Close的最长等待时间
const edgePollTimeout = 100 * time.Millisecond

// GPIOBoard 直接驱动GPIO的IO板（树莓派等）
// 闸门输出低电平放行，指示灯高电平点亮
type GPIOBoard struct {
	coin      gpio.PinIO
	button    gpio.PinIO
	gate      gpio.PinIO
	indicator gpio.PinIO

	btn    Button
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
	logger *zap.Logger
}

// OpenGPIOBoard 初始化引脚并启动按键监听
func OpenGPIOBoard(cfg config.GPIOConfig) (*GPIOBoard, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, errors.ErrBoardOpen, "periph host init")
	}

	b := &GPIOBoard{
		stopCh: make(chan struct{}),
		logger: logger.WithModule("hardware"),
	}

	pins := []struct {
		name string
		dst  *gpio.PinIO
	}{
		{cfg.CoinPin, &b.coin},
		{cfg.ButtonPin, &b.button},
		{cfg.GatePin, &b.gate},
		{cfg.IndicatorPin, &b.indicator},
	}
	for _, p := range pins {
		pin := gpioreg.ByName(p.name)
		if pin == nil {
			return nil, errors.Newf(errors.ErrPinUnavailable, "pin %q", p.name)
		}
		*p.dst = pin
	}

	if err := b.coin.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return nil, errors.Wrapf(err, errors.ErrBoardOpen, "coin pin %s", cfg.CoinPin)
	}
	if err := b.button.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		return nil, errors.Wrapf(err, errors.ErrBoardOpen, "button pin %s", cfg.ButtonPin)
	}
	// 上电时闸门关闭、指示灯熄灭
	if err := b.gate.Out(gpio.High); err != nil {
		return nil, errors.Wrapf(err, errors.ErrBoardOpen, "gate pin %s", cfg.GatePin)
	}
	if err := b.indicator.Out(gpio.Low); err != nil {
		return nil, errors.Wrapf(err, errors.ErrBoardOpen, "indicator pin %s", cfg.IndicatorPin)
	}

	b.wg.Add(1)
	go b.watchButton()

	b.logger.Info("GPIO IO板已就绪",
		zap.String("coin", cfg.CoinPin),
		zap.String("button", cfg.ButtonPin),
		zap.String("gate", cfg.GatePin),
		zap.String("indicator", cfg.IndicatorPin))

	return b, nil
}

// watchButton 按键下降沿置位标志
func (b *GPIOBoard) watchButton() {
	defer b.wg.Done()
	for {
		select {
		case <-b.stopCh:
			return
		default:
		}

		if b.button.WaitForEdge(edgePollTimeout) {
			b.btn.Press()
			b.logger.Debug("按键按下")
		}
	}
}

// CoinLevel 读取脉冲线
func (b *GPIOBoard) CoinLevel() (Level, error) {
	return Level(b.coin.Read() == gpio.High), nil
}

// SetGate 闸门低电平放行
func (b *GPIOBoard) SetGate(accept bool) error {
	level := gpio.High
	if accept {
		level = gpio.Low
	}
	if err := b.gate.Out(level); err != nil {
		return errors.Wrap(err, errors.ErrBoardWrite, "gate")
	}
	return nil
}

// SetIndicator 指示灯
func (b *GPIOBoard) SetIndicator(on bool) error {
	if err := b.indicator.Out(gpio.Level(on)); err != nil {
		return errors.Wrap(err, errors.ErrBoardWrite, "indicator")
	}
	return nil
}

// Button 按键标志
func (b *GPIOBoard) Button() *Button {
	return &b.btn
}

// Close 停止监听，关闭闸门并释放引脚
func (b *GPIOBoard) Close() error {
	var err error
	b.once.Do(func() {
		close(b.stopCh)
		b.wg.Wait()

		_ = b.gate.Out(gpio.High)
		_ = b.indicator.Out(gpio.Low)
		for _, p := range []gpio.PinIO{b.coin, b.button, b.gate, b.indicator} {
			if herr := p.Halt(); herr != nil && err == nil {
				err = herr
			}
		}
		b.logger.Info("GPIO IO板已关闭")
	})
	return err
}
