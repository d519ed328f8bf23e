package display

import (
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"
	"github.com/wfunc/coin-atm/internal/errors"
	"github.com/wfunc/coin-atm/internal/logger"
	"go.uber.org/zap"
)

// QRModuleSize 二维码每个模块的像素边长
const QRModuleSize = 2

// Screens 按固定版式绘制各个页面
type Screens struct {
	surface  Surface
	currency string
	coins    []uint64

	mu      sync.Mutex
	current Screen
	logger  *zap.Logger
}

// NewScreens 创建页面排版器；coins为可接受的面值（分），用于首页提示
func NewScreens(surface Surface, currency string, coins []uint64) *Screens {
	return &Screens{
		surface:  surface,
		currency: currency,
		coins:    append([]uint64(nil), coins...),
		logger:   logger.WithModule("display"),
	}
}

// Current 最后一次绘制的页面
func (s *Screens) Current() Screen {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Home 首页，绘制后屏幕进入低功耗
func (s *Screens) Home() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.surface.BeginPage()
	s.surface.Text(0, 10, 3, fmt.Sprintf("Insert\n%s coins\non the\nright\nside to\nstart ->", s.currency))
	s.surface.Text(0, 160, 1, "Prepare your wallet\nbefore starting!\nSupported coins: "+s.coinList())
	if err := s.surface.EndPage(); err != nil {
		return errors.Wrap(err, errors.ErrDisplay, "home")
	}
	if err := s.surface.Hibernate(); err != nil {
		return errors.Wrap(err, errors.ErrDisplay, "hibernate")
	}

	s.current = ScreenHome
	s.logger.Debug("首页已显示")
	return nil
}

// Amount 当前余额
func (s *Screens) Amount(cents uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.surface.BeginPage()
	s.surface.Text(0, 4, 2, "Inserted amount:")
	s.surface.Text(10, 90, 3, FormatAmount(cents, s.currency))
	s.surface.Text(0, 160, 2, " Press button\n once finished.")
	if err := s.surface.EndPage(); err != nil {
		return errors.Wrap(err, errors.ErrDisplay, "amount")
	}

	s.current = ScreenAmount
	s.logger.Debug("余额已显示", zap.Uint64("cents", cents))
	return nil
}

// Voucher 兑换码二维码页，二维码居中
func (s *Screens) Voucher(url string) error {
	qr, err := qrcode.New(url, qrcode.Low)
	if err != nil {
		return errors.Wrap(err, errors.ErrDisplay, "qr encode")
	}
	qr.DisableBorder = true
	bitmap := qr.Bitmap()

	width, height := s.surface.Size()
	size := len(bitmap) * QRModuleSize
	if size > width || size > height {
		return errors.Newf(errors.ErrDisplay, "qr code %dpx exceeds %dx%d surface", size, width, height)
	}
	startX := (width - size) / 2
	startY := (height - size) / 2

	s.mu.Lock()
	defer s.mu.Unlock()

	s.surface.BeginPage()
	for y, row := range bitmap {
		for x, dark := range row {
			c := White
			if dark {
				c = Black
			}
			s.surface.FillRect(startX+x*QRModuleSize, startY+y*QRModuleSize, QRModuleSize, QRModuleSize, c)
		}
	}
	s.surface.Text(0, 4, 2, "Please scan this QR code:")
	s.surface.Text(0, 170, 2, "Then press the \nbutton to finish")
	if err := s.surface.EndPage(); err != nil {
		return errors.Wrap(err, errors.ErrDisplay, "voucher")
	}

	s.current = ScreenVoucher
	return nil
}

// Blank 空白页，用于防残影刷新
func (s *Screens) Blank() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.surface.BeginPage()
	if err := s.surface.EndPage(); err != nil {
		return errors.Wrap(err, errors.ErrDisplay, "blank")
	}
	s.current = ScreenBlank
	return nil
}

// Clean 清屏后进入低功耗，便于擦拭屏幕
func (s *Screens) Clean() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.surface.BeginPage()
	if err := s.surface.EndPage(); err != nil {
		return errors.Wrap(err, errors.ErrDisplay, "clean")
	}
	if err := s.surface.Hibernate(); err != nil {
		return errors.Wrap(err, errors.ErrDisplay, "hibernate")
	}
	s.current = ScreenClean
	s.logger.Info("清洁模式：屏幕已清空")
	return nil
}

func (s *Screens) coinList() string {
	labels := make([]string, 0, len(s.coins))
	for _, c := range s.coins {
		labels = append(labels, coinLabel(c, s.currency))
	}
	return strings.Join(labels, ", ")
}

// FormatAmount 分转换为 "E.CC 币种"
func FormatAmount(cents uint64, currency string) string {
	amount := decimal.NewFromBigInt(new(big.Int).SetUint64(cents), -2).StringFixed(2)
	if currency == "" {
		return amount
	}
	return amount + " " + currency
}

// coinLabel 面值的简短写法：不足一元写作分，整元只写整数
func coinLabel(cents uint64, currency string) string {
	switch {
	case cents < 100:
		return fmt.Sprintf("%dct", cents)
	case cents%100 == 0:
		return strings.TrimSpace(fmt.Sprintf("%d %s", cents/100, currency))
	default:
		return FormatAmount(cents, currency)
	}
}
