package display

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/skip2/go-qrcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperrors "github.com/wfunc/coin-atm/internal/errors"
)

type rect struct {
	x, y, w, h int
	c          Color
}

// recorder 记录绘制命令
type recorder struct {
	width, height int
	texts         []textItem
	rects         []rect
	pages         int
	hibernations  int
	failEnd       error
}

func newRecorder() *recorder { return &recorder{width: 200, height: 200} }

func (r *recorder) Size() (int, int) { return r.width, r.height }
func (r *recorder) BeginPage() { r.texts, r.rects = nil, nil }
func (r *recorder) Text(x, y, size int, text string) {
	r.texts = append(r.texts, textItem{x, y, size, text})
}
func (r *recorder) FillRect(x, y, w, h int, c Color) {
	r.rects = append(r.rects, rect{x, y, w, h, c})
}
func (r *recorder) EndPage() error {
	if r.failEnd != nil {
		return r.failEnd
	}
	r.pages++
	return nil
}
func (r *recorder) Hibernate() error { r.hibernations++; return nil }

func (r *recorder) allText() string {
	var parts []string
	for _, t := range r.texts {
		parts = append(parts, t.text)
	}
	return strings.Join(parts, "\n")
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		cents    uint64
		currency string
		want     string
	}{
		{0, "EUR", "0.00 EUR"},
		{5, "EUR", "0.05 EUR"},
		{150, "EUR", "1.50 EUR"},
		{1999, "CHF", "19.99 CHF"},
		{20000, "EUR", "200.00 EUR"},
		{150, "", "1.50"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatAmount(tt.cents, tt.currency))
	}
}

func TestHomeScreen(t *testing.T) {
	r := newRecorder()
	s := NewScreens(r, "EUR", []uint64{5, 10, 20, 50, 100, 200})

	require.NoError(t, s.Home())
	assert.Equal(t, ScreenHome, s.Current())
	assert.Equal(t, 1, r.pages)
	assert.Equal(t, 1, r.hibernations)
	assert.Contains(t, r.allText(), "EUR coins")
	assert.Contains(t, r.allText(), "Supported coins: 5ct, 10ct, 20ct, 50ct, 1 EUR, 2 EUR")
}

func TestAmountScreen(t *testing.T) {
	r := newRecorder()
	s := NewScreens(r, "EUR", nil)

	require.NoError(t, s.Amount(150))
	assert.Equal(t, ScreenAmount, s.Current())
	assert.Contains(t, r.allText(), "Inserted amount:")
	assert.Contains(t, r.allText(), "1.50 EUR")
	assert.Zero(t, r.hibernations)
}

func TestVoucherScreenCentresQR(t *testing.T) {
	const url = "https://atm.example/api/v1/lnurl/dev1?atm=1&p=ATM1QYYQQQGZQVZQ2PS8QKTQD3KYEW3A79GUJN3E70C7TSXHC"
	r := newRecorder()
	s := NewScreens(r, "EUR", nil)

	require.NoError(t, s.Voucher(url))
	assert.Equal(t, ScreenVoucher, s.Current())

	qr, err := qrcode.New(url, qrcode.Low)
	require.NoError(t, err)
	qr.DisableBorder = true
	bitmap := qr.Bitmap()
	modules := len(bitmap)

	require.Len(t, r.rects, modules*modules)
	black := 0
	for _, row := range bitmap {
		for _, dark := range row {
			if dark {
				black++
			}
		}
	}
	gotBlack := 0
	for _, rc := range r.rects {
		if rc.c == Black {
			gotBlack++
		}
		assert.Equal(t, QRModuleSize, rc.w)
	}
	assert.Equal(t, black, gotBlack)

	start := (200 - modules*QRModuleSize) / 2
	assert.Equal(t, start, r.rects[0].x)
	assert.Equal(t, start, r.rects[0].y)
	assert.Contains(t, r.allText(), "Please scan this QR code:")
}

func TestVoucherScreenTooSmall(t *testing.T) {
	r := newRecorder()
	r.width, r.height = 40, 40
	s := NewScreens(r, "EUR", nil)

	err := s.Voucher("https://atm.example/?atm=1&p=SOMETHINGLONGENOUGHTOOVERFLOW")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrDisplay))
	assert.Zero(t, r.pages)
	assert.Equal(t, ScreenNone, s.Current())
}

func TestBlankAndClean(t *testing.T) {
	r := newRecorder()
	s := NewScreens(r, "EUR", nil)

	require.NoError(t, s.Blank())
	assert.Equal(t, ScreenBlank, s.Current())
	assert.Zero(t, r.hibernations)

	require.NoError(t, s.Clean())
	assert.Equal(t, ScreenClean, s.Current())
	assert.Equal(t, 1, r.hibernations)
	assert.Empty(t, r.texts)
}

func TestSurfaceFailure(t *testing.T) {
	r := newRecorder()
	r.failEnd = errors.New("spi timeout")
	s := NewScreens(r, "EUR", nil)

	err := s.Amount(5)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrDisplay, apperrors.GetCode(err))
	assert.ErrorIs(t, err, r.failEnd)
}

func TestConsoleRendersPages(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf, 200, 200)
	s := NewScreens(c, "EUR", []uint64{5, 200})

	require.NoError(t, s.Amount(205))
	out := buf.String()
	assert.Contains(t, out, "page 1")
	assert.Contains(t, out, "2.05 EUR")
	assert.NotContains(t, out, "█")

	buf.Reset()
	require.NoError(t, s.Voucher("https://atm.example/?atm=1&p=ATM1QYYQQQGZQ"))
	out = buf.String()
	assert.Contains(t, out, "page 2")
	assert.Contains(t, out, "█")

	require.NoError(t, s.Home())
	assert.True(t, c.Hibernating())
	assert.Equal(t, 3, c.Pages())

	c.BeginPage()
	assert.False(t, c.Hibernating())
}

func TestConsoleClipsRects(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf, 10, 10)

	c.BeginPage()
	c.FillRect(-5, -5, 8, 8, Black)
	c.FillRect(8, 8, 10, 10, Black)
	require.NoError(t, c.EndPage())
	assert.Contains(t, buf.String(), "█")
}

func TestScreenString(t *testing.T) {
	assert.Equal(t, "voucher", ScreenVoucher.String())
	assert.Equal(t, "none", Screen(42).String())
}
