package display

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/wfunc/coin-atm/internal/config"
	"github.com/wfunc/coin-atm/internal/errors"
)

type textItem struct {
	x, y, size int
	text       string
}

// Console 把页面渲染为文本的开发用屏幕
type Console struct {
	mu     sync.Mutex
	out    io.Writer
	closer io.Closer
	width  int
	height int

	texts  []textItem
	pixels []bool
	pages  int
	asleep bool
}

// NewConsole 创建控制台屏幕
func NewConsole(out io.Writer, width, height int) *Console {
	return &Console{
		out:    out,
		width:  width,
		height: height,
		pixels: make([]bool, width*height),
	}
}

// OpenConsole 根据配置打开输出，output为 stdout 或文件路径
func OpenConsole(cfg config.DisplayConfig) (*Console, error) {
	if cfg.Output == "" || cfg.Output == "stdout" {
		return NewConsole(os.Stdout, cfg.Width, cfg.Height), nil
	}

	f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrDisplay, "open %s", cfg.Output)
	}
	c := NewConsole(f, cfg.Width, cfg.Height)
	c.closer = f
	return c, nil
}

// Size 画布尺寸
func (c *Console) Size() (int, int) {
	return c.width, c.height
}

// BeginPage 清空画布
func (c *Console) BeginPage() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.texts = c.texts[:0]
	clear(c.pixels)
	c.asleep = false
}

// Text 记录文本
func (c *Console) Text(x, y, size int, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, textItem{x: x, y: y, size: size, text: text})
}

// FillRect 填充像素，超出画布的部分裁剪
func (c *Console) FillRect(x, y, w, h int, col Color) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for py := max(y, 0); py < min(y+h, c.height); py++ {
		for px := max(x, 0); px < min(x+w, c.width); px++ {
			c.pixels[py*c.width+px] = bool(col)
		}
	}
}

// EndPage 输出本页
func (c *Console) EndPage() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pages++
	w := bufio.NewWriter(c.out)
	fmt.Fprintf(w, "+---- page %d (%dx%d) ----\n", c.pages, c.width, c.height)

	texts := append([]textItem(nil), c.texts...)
	sort.SliceStable(texts, func(i, j int) bool { return texts[i].y < texts[j].y })
	for _, t := range texts {
		indent := strings.Repeat(" ", t.x/8)
		for _, line := range strings.Split(t.text, "\n") {
			fmt.Fprintf(w, "| %s%s\n", indent, line)
		}
	}

	c.renderPixels(w)
	fmt.Fprintln(w, "+----")
	return w.Flush()
}

// renderPixels 以半角块字符输出黑色像素的包围盒，横向2像素、纵向4像素为一个字符
func (c *Console) renderPixels(w io.Writer) {
	minX, minY, maxX, maxY := c.width, c.height, -1, -1
	for y := 0; y < c.height; y++ {
		for x := 0; x < c.width; x++ {
			if c.pixels[y*c.width+x] {
				minX, minY = min(minX, x), min(minY, y)
				maxX, maxY = max(maxX, x), max(maxY, y)
			}
		}
	}
	if maxX < 0 {
		return
	}

	at := func(x, y int) bool {
		return y <= maxY && c.pixels[y*c.width+x]
	}
	for y := minY; y <= maxY; y += 4 {
		var line strings.Builder
		line.WriteString("| ")
		for x := minX; x <= maxX; x += 2 {
			top, bottom := at(x, y), at(x, y+2)
			switch {
			case top && bottom:
				line.WriteString("█")
			case top:
				line.WriteString("▀")
			case bottom:
				line.WriteString("▄")
			default:
				line.WriteString(" ")
			}
		}
		fmt.Fprintln(w, line.String())
	}
}

// Hibernate 记录低功耗状态
func (c *Console) Hibernate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.asleep = true
	return nil
}

// Pages 已输出的页数
func (c *Console) Pages() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pages
}

// Hibernating 是否处于低功耗
func (c *Console) Hibernating() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.asleep
}

// Close 关闭输出文件
func (c *Console) Close() error {
	if c.closer != nil {
		return c.closer.Close()
	}
	return nil
}
