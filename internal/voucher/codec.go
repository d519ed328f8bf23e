// Package voucher 生成一次性兑换码：PIN和金额经HMAC掩码并附加截断标签，
// 再重组为5位符号交给bech32编码，最终嵌入兑换后台的URL。
package voucher

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
)

// 帧格式常量
const (
	SchemeXOR       byte = 0x01 // XOR掩码方案
	MaxFrameLen          = 51   // 下游文本编码容量决定的上限
	MaxTextLen           = 90   // bech32解码器接受的最大文本长度
	DefaultNonceLen      = 8
	DefaultHRP           = "atm"
	LNURLHRP             = "lnurl"

	// PIN 取值范围 [MinPIN, MaxPIN]，与兑换后台校验范围一致
	MinPIN = 1000
	MaxPIN = 9999

	// 兑换码所在的查询参数
	queryPrefix = "?atm=1&p="
	// 载荷中金额之后的币种/方案标记字节
	payloadMarker byte = 0x00
)

var (
	// ErrCapacity 帧长度超过上限
	ErrCapacity = errors.New("voucher: frame exceeds capacity")
	// ErrEmptySecret 未配置密钥，拒绝生成兑换码
	ErrEmptySecret = errors.New("voucher: empty secret")
	// ErrRandomness 随机源读取失败
	ErrRandomness = errors.New("voucher: randomness unavailable")
	// ErrEncoding bech32编码失败
	ErrEncoding = errors.New("voucher: text encoding failed")
)

// Mode 输出模式
type Mode string

const (
	// ModeFrame URL查询参数中携带bech32编码的帧
	ModeFrame Mode = "frame"
	// ModeLNURL 查询参数携带base64url帧，整个URL再做bech32（lnurl前缀）
	ModeLNURL Mode = "lnurl"
)

// FrameLen 预先计算帧长度，用于写入前的容量检查
func FrameLen(nonceLen int, pin, amountCents uint64) int {
	return 2 + nonceLen + 1 + payloadLen(pin, amountCents) + TagLen
}

func payloadLen(pin, amountCents uint64) int {
	return VarIntLen(pin) + VarIntLen(amountCents) + 1
}

// Seal 在dst中组装帧：
//
//	schemeTag | nonceLen | nonce | payloadLen | masked(varint(pin) varint(amount) marker) | tag
//
// 返回写入长度；容量不足时返回ErrCapacity且不返回部分结果
func Seal(dst []byte, secret, nonce []byte, pin, amountCents uint64) (int, error) {
	if len(secret) == 0 {
		return 0, ErrEmptySecret
	}
	if len(nonce) > 0xFF {
		return 0, fmt.Errorf("%w: nonce length %d", ErrCapacity, len(nonce))
	}

	total := FrameLen(len(nonce), pin, amountCents)
	if total > len(dst) {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", ErrCapacity, total, len(dst))
	}

	cur := 0
	dst[cur] = SchemeXOR
	cur++

	dst[cur] = byte(len(nonce))
	cur++
	cur += copy(dst[cur:], nonce)

	plen := payloadLen(pin, amountCents)
	dst[cur] = byte(plen)
	cur++

	payload := dst[cur : cur+plen]
	n := PutVarInt(payload, pin)
	n += PutVarInt(payload[n:], amountCents)
	payload[n] = payloadMarker
	cur += plen

	xorMask(payload, RoundKey(secret, nonce))

	tag := FrameTag(secret, dst[:cur])
	cur += copy(dst[cur:], tag[:])

	return cur, nil
}

// Option 编解码器选项
type Option func(*Codec)

// WithHRP 设置bech32前缀
func WithHRP(hrp string) Option {
	return func(c *Codec) { c.hrp = strings.ToLower(hrp) }
}

// WithMode 设置输出模式
func WithMode(mode Mode) Option {
	return func(c *Codec) { c.mode = mode }
}

// WithNonceLen 设置nonce长度
func WithNonceLen(n int) Option {
	return func(c *Codec) { c.nonceLen = n }
}

// WithRand 替换随机源（测试注入）
func WithRand(r io.Reader) Option {
	return func(c *Codec) { c.rand = r }
}

// Codec 兑换码生成器，配置在启动时确定，之后只读
type Codec struct {
	baseURL  string
	secret   []byte
	hrp      string
	mode     Mode
	nonceLen int
	rand     io.Reader
}

// NewCodec 创建生成器；密钥为空时拒绝创建
func NewCodec(baseURL string, secret []byte, opts ...Option) (*Codec, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}

	c := &Codec{
		baseURL:  baseURL,
		secret:   append([]byte(nil), secret...),
		hrp:      DefaultHRP,
		mode:     ModeFrame,
		nonceLen: DefaultNonceLen,
		rand:     rand.Reader,
	}
	for _, opt := range opts {
		opt(c)
	}

	switch c.mode {
	case ModeFrame, ModeLNURL:
	default:
		return nil, fmt.Errorf("voucher: unknown mode %q", c.mode)
	}
	if c.nonceLen <= 0 || c.nonceLen > 0xFF {
		return nil, fmt.Errorf("voucher: invalid nonce length %d", c.nonceLen)
	}
	return c, nil
}

// MakeVoucher 为金额生成兑换URL（ModeLNURL时为LNURL文本）
// 任何失败都不返回部分结果；PIN、nonce和帧在返回前清零
func (c *Codec) MakeVoucher(amountCents uint64) (string, error) {
	pin, err := c.drawPIN()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, c.nonceLen)
	defer clear(nonce)
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRandomness, err)
	}

	var frame [MaxFrameLen]byte
	defer clear(frame[:])

	n, err := Seal(frame[:], c.secret, nonce, pin, amountCents)
	pin = 0
	if err != nil {
		return "", err
	}

	if c.mode == ModeLNURL {
		return c.lnurl(frame[:n])
	}

	text, err := c.EncodeFrame(frame[:n])
	if err != nil {
		return "", err
	}
	return c.baseURL + queryPrefix + text, nil
}

// TextLen bech32文本长度：前缀 + 分隔符 + 5位分组 + 6位校验和
func TextLen(hrp string, frameLen int) int {
	return len(hrp) + 1 + (frameLen*8+4)/5 + 6
}

// EncodeFrame 8位分组重组为5位分组（高位在前、末组补零）后做bech32编码并转大写。
// 文本超过MaxTextLen时返回ErrCapacity，保证发出的兑换码都能被解码
func (c *Codec) EncodeFrame(frame []byte) (string, error) {
	if n := TextLen(c.hrp, len(frame)); n > MaxTextLen {
		return "", fmt.Errorf("%w: text length %d exceeds %d", ErrCapacity, n, MaxTextLen)
	}
	return encodeText(c.hrp, frame)
}

// lnurl 兼容固件的输出：base64url帧嵌入URL，整个URL做bech32
func (c *Codec) lnurl(frame []byte) (string, error) {
	url := c.baseURL + queryPrefix + base64.RawURLEncoding.EncodeToString(frame)
	return encodeText(LNURLHRP, []byte(url))
}

func encodeText(hrp string, data []byte) (string, error) {
	grouped, err := bech32.ConvertBits(data, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncoding, err)
	}

	text, err := bech32.Encode(hrp, grouped)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncoding, err)
	}

	// 屏幕字体只能可靠显示大写
	return strings.ToUpper(text), nil
}

// drawPIN 拒绝采样得到 [MinPIN, MaxPIN] 的均匀分布
func (c *Codec) drawPIN() (uint64, error) {
	const span = MaxPIN - MinPIN + 1
	const limit = (0x10000 / span) * span

	var buf [2]byte
	for {
		if _, err := io.ReadFull(c.rand, buf[:]); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRandomness, err)
		}
		v := binary.BigEndian.Uint16(buf[:])
		if int(v) < limit {
			return MinPIN + uint64(v)%span, nil
		}
	}
}
