package hardware

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// TestFrame 测试帧格式
func TestFrame(t *testing.T) {
	tests := []struct {
		name    string
		cmd     byte
		seq     uint16
		data    []byte
		wantLen uint16
	}{
		{
			name:    "闸门放行",
			cmd:     CmdGateControl,
			seq:     0x0001,
			data:    []byte{SwitchOn},
			wantLen: 10,
		},
		{
			name:    "心跳包",
			cmd:     CmdHeartbeat,
			seq:     0x0003,
			data:    []byte{0x01, 0x02, 0x03, 0x04}, // 时间戳
			wantLen: 13,
		},
		{
			name:    "最小帧",
			cmd:     CmdStatusQuery,
			seq:     0x0005,
			data:    nil,
			wantLen: 9,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := NewFrame(tt.cmd, tt.seq, tt.data)

			if frame.Length != tt.wantLen {
				t.Errorf("Length = %d, want %d", frame.Length, tt.wantLen)
			}

			buf := frame.ToBytes()

			if buf[0] != FrameHeader {
				t.Errorf("Header = 0x%02X, want 0x%02X", buf[0], FrameHeader)
			}
			if buf[len(buf)-1] != FrameTail {
				t.Errorf("Tail = 0x%02X, want 0x%02X", buf[len(buf)-1], FrameTail)
			}

			// 长度字段（大端序）
			if got := binary.BigEndian.Uint16(buf[1:3]); got != tt.wantLen {
				t.Errorf("Length field = %d, want %d", got, tt.wantLen)
			}

			// 序列号（大端序）
			if got := binary.BigEndian.Uint16(buf[4:6]); got != tt.seq {
				t.Errorf("Sequence = 0x%04X, want 0x%04X", got, tt.seq)
			}

			// 往返解析
			parsed := &Frame{}
			if err := parsed.FromBytes(buf); err != nil {
				t.Fatalf("FromBytes() error = %v", err)
			}
			if parsed.Command != tt.cmd || !bytes.Equal(parsed.Data, tt.data) {
				t.Errorf("parsed = %+v", parsed)
			}
		})
	}
}

// TestCRC16XMODEM 标准校验值
func TestCRC16XMODEM(t *testing.T) {
	if got := CRC16XMODEM([]byte("123456789")); got != 0x31C3 {
		t.Errorf("CRC16XMODEM() = 0x%04X, want 0x31C3", got)
	}
	if got := CRC16XMODEM(nil); got != 0 {
		t.Errorf("CRC16XMODEM(nil) = 0x%04X, want 0", got)
	}
}

// TestFromBytesRejectsCorruption 测试损坏帧
func TestFromBytesRejectsCorruption(t *testing.T) {
	good := NewFrame(EventCoinLevel, 0x0002, []byte{SwitchOff}).ToBytes()

	cases := map[string]func([]byte){
		"帧头": func(b []byte) { b[0] = 0x00 },
		"帧尾": func(b []byte) { b[len(b)-1] = 0x00 },
		"数据": func(b []byte) { b[6] ^= 0x01 },
		"CRC":  func(b []byte) { b[7] ^= 0x80 },
	}

	for name, corrupt := range cases {
		t.Run(name, func(t *testing.T) {
			buf := append([]byte(nil), good...)
			corrupt(buf)
			if err := (&Frame{}).FromBytes(buf); err == nil {
				t.Error("FromBytes() accepted corrupted frame")
			}
		})
	}

	if err := (&Frame{}).FromBytes(good[:5]); err == nil {
		t.Error("FromBytes() accepted short frame")
	}
}

// TestFrameScanner 测试字节流切分
func TestFrameScanner(t *testing.T) {
	f1 := NewFrame(EventCoinLevel, 2, []byte{SwitchOff}).ToBytes()
	f2 := NewFrame(EventButtonPressed, 4, []byte{KeyActionDown}).ToBytes()
	bad := NewFrame(EventCoinLevel, 6, []byte{SwitchOn}).ToBytes()
	bad[6] ^= 0xFF

	var stream []byte
	stream = append(stream, 0x00, 0x13, 0x37) // 噪声
	stream = append(stream, f1...)
	stream = append(stream, bad...)
	stream = append(stream, f2...)

	var s FrameScanner
	var frames []*Frame
	// 逐字节喂入，模拟串口分片
	for _, b := range stream {
		frames = append(frames, s.Feed([]byte{b})...)
	}

	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[0].Command != EventCoinLevel || frames[0].Sequence != 2 {
		t.Errorf("frame 0 = %+v", frames[0])
	}
	if frames[1].Command != EventButtonPressed || frames[1].Data[0] != KeyActionDown {
		t.Errorf("frame 1 = %+v", frames[1])
	}
	if s.Dropped == 0 {
		t.Error("corrupted frame not counted")
	}
}

// TestAckFrame 测试ACK/NACK数据布局
func TestAckFrame(t *testing.T) {
	ack := NewAckFrame(7, 0x1234, CmdGateControl)
	if ack.Command != CmdACK {
		t.Errorf("Command = 0x%02X", ack.Command)
	}
	if !bytes.Equal(ack.Data, []byte{0x12, 0x34, CmdGateControl, StatusSuccess}) {
		t.Errorf("Data = % X", ack.Data)
	}

	nack := NewNackFrame(9, 0x0003, CmdLightControl, ErrorBusy)
	if !bytes.Equal(nack.Data, []byte{0x00, 0x03, CmdLightControl, ErrorBusy}) {
		t.Errorf("Data = % X", nack.Data)
	}
}

// TestParseStatusReport 测试状态上报解析
func TestParseStatusReport(t *testing.T) {
	r, err := ParseStatusReport([]byte{SwitchOn, SwitchOff, SwitchOn})
	if err != nil {
		t.Fatal(err)
	}
	if r.CoinLevel != High || r.GateOpen || !r.LightOn {
		t.Errorf("report = %+v", r)
	}

	if _, err := ParseStatusReport([]byte{0x01}); err == nil {
		t.Error("short report accepted")
	}
}

// TestStatusReportBytes 测试状态上报编码
func TestStatusReportBytes(t *testing.T) {
	r := &StatusReport{CoinLevel: Low, GateOpen: true, LightOn: false}
	if !bytes.Equal(r.Bytes(), []byte{SwitchOff, SwitchOn, SwitchOff}) {
		t.Errorf("Bytes = % X", r.Bytes())
	}

	back, err := ParseStatusReport(r.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if *back != *r {
		t.Errorf("parsed = %+v", back)
	}
}
