package hardware

import (
	"encoding/binary"
	"fmt"
	"time"
)

// 帧定义
const (
	FrameHeader byte   = 0xAA
	FrameTail   byte   = 0x55
	MinFrameLen uint16 = 9 // 最小帧长度：帧头(1) + 长度(2) + 命令(1) + 序列号(2) + CRC(2) + 帧尾(1)
	MaxFrameLen uint16 = 256
)

// 命令码定义
const (
	// 控制指令（主机→IO板）
	CmdGateControl  byte = 0x04 // 投币闸门
	CmdLightControl byte = 0x05 // 指示灯

	// 事件上报（IO板→主机）
	EventCoinLevel     byte = 0x11 // 投币器脉冲线电平变化
	EventButtonPressed byte = 0x13 // 按键事件

	// 状态管理
	CmdStatusQuery    byte = 0x21 // 状态查询
	EventStatusReport byte = 0x22 // 状态上报

	// 系统指令
	CmdHeartbeat byte = 0x31 // 心跳包
	CmdACK       byte = 0x80 // ACK确认
	CmdNACK      byte = 0x81 // NACK拒绝
)

// 按键动作
const (
	KeyActionDown byte = 0x01 // 按下
	KeyActionUp   byte = 0x02 // 释放
)

// 开关量
const (
	SwitchOff byte = 0x00
	SwitchOn  byte = 0x01
)

// 状态码定义
const (
	StatusSuccess byte = 0x00 // 成功接收
)

// 错误码定义
const (
	ErrorUnsupported  byte = 0x01 // 命令不支持
	ErrorInvalidParam byte = 0x02 // 参数错误
	ErrorBusy         byte = 0x03 // 设备忙
	ErrorHardware     byte = 0x04 // 硬件故障
	ErrorChecksum     byte = 0x05 // 校验失败
)

// Frame 数据帧结构
type Frame struct {
	Header   byte   // 帧头
	Length   uint16 // 长度
	Command  byte   // 命令码
	Sequence uint16 // 序列号
	Data     []byte // 数据
	CRC16    uint16 // CRC校验
	Tail     byte   // 帧尾
}

// StatusReport IO板状态
type StatusReport struct {
	CoinLevel Level // 脉冲线当前电平
	GateOpen  bool  // 闸门是否放行
	LightOn   bool  // 指示灯
}

// NewFrame 创建新的数据帧
func NewFrame(cmd byte, seq uint16, data []byte) *Frame {
	f := &Frame{
		Header:   FrameHeader,
		Command:  cmd,
		Sequence: seq,
		Data:     data,
		Tail:     FrameTail,
	}

	// 长度为整个帧的长度
	f.Length = MinFrameLen + uint16(len(data))
	f.CRC16 = f.CalculateCRC()

	return f
}

// NewAckFrame 构造对seq/cmd的ACK
func NewAckFrame(seq uint16, origSeq uint16, origCmd byte) *Frame {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data, origSeq)
	data[2] = origCmd
	data[3] = StatusSuccess
	return NewFrame(CmdACK, seq, data)
}

// NewNackFrame 构造NACK
func NewNackFrame(seq uint16, origSeq uint16, origCmd byte, code byte) *Frame {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data, origSeq)
	data[2] = origCmd
	data[3] = code
	return NewFrame(CmdNACK, seq, data)
}

// ToBytes 将帧转换为字节数组
func (f *Frame) ToBytes() []byte {
	buf := make([]byte, f.Length)
	idx := 0

	buf[idx] = f.Header
	idx++

	// 长度（大端序）
	binary.BigEndian.PutUint16(buf[idx:], f.Length)
	idx += 2

	buf[idx] = f.Command
	idx++

	// 序列号（大端序）
	binary.BigEndian.PutUint16(buf[idx:], f.Sequence)
	idx += 2

	if len(f.Data) > 0 {
		copy(buf[idx:], f.Data)
		idx += len(f.Data)
	}

	// CRC16（大端序）
	binary.BigEndian.PutUint16(buf[idx:], f.CRC16)
	idx += 2

	buf[idx] = f.Tail

	return buf
}

// FromBytes 从字节数组解析帧
func (f *Frame) FromBytes(data []byte) error {
	if len(data) < int(MinFrameLen) {
		return fmt.Errorf("frame too short: %d < %d", len(data), MinFrameLen)
	}

	if data[0] != FrameHeader {
		return fmt.Errorf("invalid frame header: 0x%02X", data[0])
	}

	f.Header = data[0]
	f.Length = binary.BigEndian.Uint16(data[1:3])

	if f.Length < MinFrameLen || f.Length > MaxFrameLen {
		return fmt.Errorf("invalid frame length: %d", f.Length)
	}
	if len(data) < int(f.Length) {
		return fmt.Errorf("incomplete frame: %d < %d", len(data), f.Length)
	}

	if data[f.Length-1] != FrameTail {
		return fmt.Errorf("invalid frame tail: 0x%02X", data[f.Length-1])
	}

	f.Command = data[3]
	f.Sequence = binary.BigEndian.Uint16(data[4:6])

	f.Data = nil
	dataLen := f.Length - MinFrameLen
	if dataLen > 0 {
		f.Data = make([]byte, dataLen)
		copy(f.Data, data[6:6+dataLen])
	}

	crcIdx := f.Length - 3
	f.CRC16 = binary.BigEndian.Uint16(data[crcIdx : crcIdx+2])
	f.Tail = data[f.Length-1]

	calcCRC := f.CalculateCRC()
	if calcCRC != f.CRC16 {
		return fmt.Errorf("CRC mismatch: calc=0x%04X, recv=0x%04X", calcCRC, f.CRC16)
	}

	return nil
}

// CalculateCRC 计算从命令码到数据的CRC16
func (f *Frame) CalculateCRC() uint16 {
	data := make([]byte, 0, 3+len(f.Data))
	data = append(data, f.Command)
	data = append(data, byte(f.Sequence>>8), byte(f.Sequence&0xFF))
	data = append(data, f.Data...)
	return CRC16XMODEM(data)
}

// CRC16XMODEM CRC16-XMODEM算法
func CRC16XMODEM(data []byte) uint16 {
	crc := uint16(0x0000)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for j := 0; j < 8; j++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// ParseStatusReport 解析状态上报数据：电平 | 闸门 | 指示灯
func ParseStatusReport(data []byte) (*StatusReport, error) {
	if len(data) < 3 {
		return nil, fmt.Errorf("status report too short: %d", len(data))
	}
	return &StatusReport{
		CoinLevel: Level(data[0] != SwitchOff),
		GateOpen:  data[1] != SwitchOff,
		LightOn:   data[2] != SwitchOff,
	}, nil
}

// Bytes 编码状态上报数据
func (r *StatusReport) Bytes() []byte {
	return []byte{switchByte(bool(r.CoinLevel)), switchByte(r.GateOpen), switchByte(r.LightOn)}
}

// FormatTimestamp 格式化时间戳为4字节
func FormatTimestamp(t time.Time) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(t.Unix()))
	return buf
}

// FrameScanner 从字节流中切分帧，丢弃帧头之前的噪声和校验失败的帧
type FrameScanner struct {
	buf []byte
	// Dropped 因解析失败丢弃的帧数
	Dropped int
}

// Feed 追加数据并返回所有完整帧
func (s *FrameScanner) Feed(data []byte) []*Frame {
	s.buf = append(s.buf, data...)

	var frames []*Frame
	for len(s.buf) >= int(MinFrameLen) {
		// 查找帧头
		idx := -1
		for i, b := range s.buf {
			if b == FrameHeader {
				idx = i
				break
			}
		}
		if idx < 0 {
			s.buf = s.buf[:0]
			break
		}
		if idx > 0 {
			s.buf = s.buf[idx:]
		}
		if len(s.buf) < 3 {
			break
		}

		frameLen := binary.BigEndian.Uint16(s.buf[1:3])
		if frameLen < MinFrameLen || frameLen > MaxFrameLen {
			s.Dropped++
			s.buf = s.buf[1:]
			continue
		}
		if len(s.buf) < int(frameLen) {
			// 数据不完整，等待更多数据
			break
		}

		frame := &Frame{}
		if err := frame.FromBytes(s.buf[:frameLen]); err != nil {
			s.Dropped++
			s.buf = s.buf[1:]
			continue
		}

		frames = append(frames, frame)
		s.buf = s.buf[frameLen:]
	}
	return frames
}
