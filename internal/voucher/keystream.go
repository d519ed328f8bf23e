package voucher

import (
	"crypto/hmac"
	"crypto/sha256"
)

// 域分离标签，兑换后台用相同标签重新推导
const (
	roundSecretLabel = "Round secret:"
	dataLabel        = "Data:"
)

// TagLen 认证标签截断长度
const TagLen = 8

// RoundKey 由长期密钥和nonce推导32字节掩码
func RoundKey(secret, nonce []byte) [sha256.Size]byte {
	return keyedHash(secret, []byte(roundSecretLabel), nonce)
}

// FrameTag 对已组装的整帧（含头部和已掩码的载荷）计算截断标签
func FrameTag(secret, frame []byte) [TagLen]byte {
	sum := keyedHash(secret, []byte(dataLabel), frame)

	var tag [TagLen]byte
	copy(tag[:], sum[:TagLen])
	return tag
}

// xorMask 对payload逐字节异或掩码；调用方保证len(payload) <= len(mask)
func xorMask(payload []byte, mask [sha256.Size]byte) {
	for i := range payload {
		payload[i] ^= mask[i]
	}
}

func keyedHash(secret []byte, label []byte, msg []byte) [sha256.Size]byte {
	h := hmac.New(sha256.New, secret)
	h.Write(label)
	h.Write(msg)

	var out [sha256.Size]byte
	h.Sum(out[:0])
	return out
}
