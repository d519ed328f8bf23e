package voucher

import "encoding/binary"

// compact-size 前缀
const (
	varIntPrefix16 = 0xFD
	varIntPrefix32 = 0xFE
	varIntPrefix64 = 0xFF
)

// VarIntLen 返回v编码后的字节数
func VarIntLen(v uint64) int {
	switch {
	case v < varIntPrefix16:
		return 1
	case v <= 0xFFFF:
		return 3
	case v <= 0xFFFFFFFF:
		return 5
	default:
		return 9
	}
}

// PutVarInt 把v写入buf，返回写入字节数；buf不够时不写入并返回0
func PutVarInt(buf []byte, v uint64) int {
	n := VarIntLen(v)
	if len(buf) < n {
		return 0
	}

	switch n {
	case 1:
		buf[0] = byte(v)
	case 3:
		buf[0] = varIntPrefix16
		binary.LittleEndian.PutUint16(buf[1:], uint16(v))
	case 5:
		buf[0] = varIntPrefix32
		binary.LittleEndian.PutUint32(buf[1:], uint32(v))
	default:
		buf[0] = varIntPrefix64
		binary.LittleEndian.PutUint64(buf[1:], v)
	}
	return n
}

// VarInt 从buf读取一个值，返回值和消耗的字节数；数据不完整或非最短编码时n为0
func VarInt(buf []byte) (uint64, int) {
	if len(buf) == 0 {
		return 0, 0
	}

	var (
		v uint64
		n int
	)
	switch buf[0] {
	case varIntPrefix16:
		if len(buf) < 3 {
			return 0, 0
		}
		v, n = uint64(binary.LittleEndian.Uint16(buf[1:])), 3
	case varIntPrefix32:
		if len(buf) < 5 {
			return 0, 0
		}
		v, n = uint64(binary.LittleEndian.Uint32(buf[1:])), 5
	case varIntPrefix64:
		if len(buf) < 9 {
			return 0, 0
		}
		v, n = binary.LittleEndian.Uint64(buf[1:]), 9
	default:
		return uint64(buf[0]), 1
	}

	if VarIntLen(v) != n {
		return 0, 0
	}
	return v, n
}
