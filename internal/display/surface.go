// Package display 组织终端的屏幕内容。Surface 只接收绘制命令，
// Screens 负责把业务状态排版成页面。
package display

// Color 单色屏颜色
type Color bool

const (
	White Color = false
	Black Color = true
)

// Surface 绘制目标（电子墨水屏、控制台等）
type Surface interface {
	// Size 画布尺寸（像素）
	Size() (width, height int)
	// BeginPage 开始新的一页，画布清为白色
	BeginPage()
	// Text 在(x,y)处以字号size绘制文本，"\n" 换行
	Text(x, y, size int, text string)
	// FillRect 填充矩形
	FillRect(x, y, w, h int, c Color)
	// EndPage 提交本页，内容最终可见
	EndPage() error
	// Hibernate 进入低功耗，屏幕保持最后内容
	Hibernate() error
}

// Screen 屏幕内容类型
type Screen int

const (
	ScreenNone Screen = iota
	ScreenHome
	ScreenAmount
	ScreenVoucher
	ScreenBlank
	ScreenClean
)

// String 屏幕名称
func (s Screen) String() string {
	switch s {
	case ScreenHome:
		return "home"
	case ScreenAmount:
		return "amount"
	case ScreenVoucher:
		return "voucher"
	case ScreenBlank:
		return "blank"
	case ScreenClean:
		return "clean"
	default:
		return "none"
	}
}

// Display 终端使用的屏幕操作
type Display interface {
	Home() error
	Amount(cents uint64) error
	Voucher(url string) error
	Blank() error
	Clean() error
}
