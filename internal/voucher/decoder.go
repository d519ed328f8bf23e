package voucher

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
)

var (
	// ErrMalformed 帧结构或文本编码不合法
	ErrMalformed = errors.New("voucher: malformed frame")
	// ErrTagMismatch 认证标签校验失败
	ErrTagMismatch = errors.New("voucher: tag mismatch")
)

// Voucher 解码后的兑换码内容
type Voucher struct {
	PIN         uint64
	AmountCents uint64
	Nonce       []byte
}

// Decoder 兑换后台侧的参考实现，用于自检和运维核对
type Decoder struct {
	secret []byte
	hrp    string
}

// NewDecoder 创建解码器；hrp为空时使用DefaultHRP
func NewDecoder(secret []byte, hrp string) (*Decoder, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	if hrp == "" {
		hrp = DefaultHRP
	}
	return &Decoder{
		secret: append([]byte(nil), secret...),
		hrp:    strings.ToLower(hrp),
	}, nil
}

// Decode 接受完整URL、查询参数值或裸bech32文本。
// p参数既可以是bech32文本（frame模式），也可以是base64url（lnurl模式内层URL）
func (d *Decoder) Decode(s string) (*Voucher, error) {
	text := strings.TrimSpace(s)
	if i := strings.Index(text, "?"); i >= 0 {
		q, err := url.ParseQuery(text[i+1:])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		text = q.Get("p")
		if text == "" {
			return nil, fmt.Errorf("%w: missing p parameter", ErrMalformed)
		}
	}

	frame, err := d.frameBytes(text)
	if err != nil {
		return nil, err
	}
	return d.Open(frame)
}

func (d *Decoder) frameBytes(text string) ([]byte, error) {
	if strings.HasPrefix(strings.ToLower(text), d.hrp+"1") {
		hrp, data, err := bech32.Decode(text)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if hrp != d.hrp {
			return nil, fmt.Errorf("%w: unexpected prefix %q", ErrMalformed, hrp)
		}
		frame, err := bech32.ConvertBits(data, 5, 8, false)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return frame, nil
	}

	frame, err := base64.RawURLEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return frame, nil
}

// Open 校验帧结构与标签后还原PIN和金额
func (d *Decoder) Open(frame []byte) (*Voucher, error) {
	if len(frame) > MaxFrameLen || len(frame) < 3+TagLen {
		return nil, fmt.Errorf("%w: length %d", ErrMalformed, len(frame))
	}
	if frame[0] != SchemeXOR {
		return nil, fmt.Errorf("%w: scheme 0x%02x", ErrMalformed, frame[0])
	}

	nonceLen := int(frame[1])
	if 3+nonceLen+TagLen > len(frame) {
		return nil, fmt.Errorf("%w: nonce length %d", ErrMalformed, nonceLen)
	}
	nonce := frame[2 : 2+nonceLen]

	plen := int(frame[2+nonceLen])
	body := 3 + nonceLen + plen
	if plen > sha256.Size || body+TagLen != len(frame) {
		return nil, fmt.Errorf("%w: payload length %d", ErrMalformed, plen)
	}

	tag := FrameTag(d.secret, frame[:body])
	if !hmac.Equal(tag[:], frame[body:]) {
		return nil, ErrTagMismatch
	}

	payload := make([]byte, plen)
	defer clear(payload)
	copy(payload, frame[3+nonceLen:body])
	xorMask(payload, RoundKey(d.secret, nonce))

	pin, n := VarInt(payload)
	if n == 0 {
		return nil, fmt.Errorf("%w: pin", ErrMalformed)
	}
	amount, m := VarInt(payload[n:])
	if m == 0 {
		return nil, fmt.Errorf("%w: amount", ErrMalformed)
	}
	if n+m+1 != plen || payload[n+m] != payloadMarker {
		return nil, fmt.Errorf("%w: trailing payload", ErrMalformed)
	}

	return &Voucher{
		PIN:         pin,
		AmountCents: amount,
		Nonce:       append([]byte(nil), nonce...),
	}, nil
}
