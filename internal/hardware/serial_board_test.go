package hardware

import (
	"encoding/binary"
	stderrors "errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/coin-atm/internal/config"
	"github.com/wfunc/coin-atm/internal/errors"
)

// fakeDevice 模拟串口协处理器
type fakeDevice struct {
	t    *testing.T
	conn net.Conn

	writeMu sync.Mutex
	seq     uint16

	mu       sync.Mutex
	received []*Frame
	nack     map[byte]byte // 对指定命令回复NACK
	silent   map[byte]bool // 对指定命令不回复
	status   []byte

	frames chan *Frame
}

func newFakeDevice(t *testing.T, conn net.Conn) *fakeDevice {
	d := &fakeDevice{
		t:      t,
		conn:   conn,
		nack:   make(map[byte]byte),
		silent: make(map[byte]bool),
		status: []byte{SwitchOn, SwitchOff, SwitchOff},
		frames: make(chan *Frame, 64),
	}
	go d.readLoop()
	return d
}

func (d *fakeDevice) readLoop() {
	buf := make([]byte, 256)
	var s FrameScanner
	for {
		n, err := d.conn.Read(buf)
		if err != nil {
			close(d.frames)
			return
		}
		for _, f := range s.Feed(buf[:n]) {
			d.mu.Lock()
			d.received = append(d.received, f)
			code, nack := d.nack[f.Command]
			silent := d.silent[f.Command]
			status := append([]byte(nil), d.status...)
			d.mu.Unlock()

			d.frames <- f

			if f.Command == CmdACK || silent {
				continue
			}
			// 异步回复，避免与主机的ACK写入互相阻塞
			switch {
			case nack:
				go d.send(NewNackFrame(d.nextSeq(), f.Sequence, f.Command, code))
			case f.Command == CmdStatusQuery:
				seq := f.Sequence
				go func() {
					d.send(NewAckFrame(d.nextSeq(), seq, CmdStatusQuery))
					d.send(NewFrame(EventStatusReport, d.nextSeq(), status))
				}()
			default:
				go d.send(NewAckFrame(d.nextSeq(), f.Sequence, f.Command))
			}
		}
	}
}

func (d *fakeDevice) nextSeq() uint16 {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	d.seq += 2
	return d.seq
}

func (d *fakeDevice) send(f *Frame) {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	_, _ = d.conn.Write(f.ToBytes())
}

// waitFor 等待收到指定命令的帧
func (d *fakeDevice) waitFor(cmd byte) *Frame {
	d.t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case f, ok := <-d.frames:
			if !ok {
				d.t.Fatalf("device closed while waiting for 0x%02X", cmd)
			}
			if f.Command == cmd {
				return f
			}
		case <-timeout:
			d.t.Fatalf("timeout waiting for 0x%02X", cmd)
			return nil
		}
	}
}

func newTestSerialBoard(t *testing.T) (*SerialBoard, *fakeDevice) {
	host, dev := net.Pipe()
	device := newFakeDevice(t, dev)
	board := NewSerialBoard(host, config.SerialConfig{
		Port:       "pipe",
		AckTimeout: 300 * time.Millisecond,
	})
	t.Cleanup(func() {
		_ = board.Close()
		_ = dev.Close()
	})
	return board, device
}

func TestSerialBoardGateAndIndicator(t *testing.T) {
	board, device := newTestSerialBoard(t)

	require.NoError(t, board.SetGate(true))
	f := device.waitFor(CmdGateControl)
	assert.Equal(t, []byte{SwitchOn}, f.Data)
	assert.Equal(t, uint16(1), f.Sequence%2, "host sequence numbers are odd")

	require.NoError(t, board.SetIndicator(false))
	f = device.waitFor(CmdLightControl)
	assert.Equal(t, []byte{SwitchOff}, f.Data)
	assert.True(t, board.Online())
}

func TestSerialBoardNackAndTimeout(t *testing.T) {
	board, device := newTestSerialBoard(t)

	device.mu.Lock()
	device.nack[CmdGateControl] = ErrorHardware
	device.silent[CmdLightControl] = true
	device.mu.Unlock()

	err := board.SetGate(false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidResponse))

	err = board.SetIndicator(true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrBoardTimeout))
}

func TestSerialBoardEvents(t *testing.T) {
	board, device := newTestSerialBoard(t)

	level, err := board.CoinLevel()
	require.NoError(t, err)
	assert.Equal(t, High, level)

	device.send(NewFrame(EventCoinLevel, 2, []byte{SwitchOff}))
	ack := device.waitFor(CmdACK)
	assert.Equal(t, uint16(2), binary.BigEndian.Uint16(ack.Data[0:2]))
	assert.Equal(t, EventCoinLevel, ack.Data[2])

	level, err = board.CoinLevel()
	require.NoError(t, err)
	assert.Equal(t, Low, level)

	device.send(NewFrame(EventButtonPressed, 4, []byte{KeyActionUp}))
	device.waitFor(CmdACK)
	assert.False(t, board.Button().Pressed())

	device.send(NewFrame(EventButtonPressed, 6, []byte{KeyActionDown}))
	device.waitFor(CmdACK)
	assert.True(t, board.Button().Take())
}

func TestSerialBoardQueryStatus(t *testing.T) {
	board, device := newTestSerialBoard(t)

	device.mu.Lock()
	device.status = []byte{SwitchOff, SwitchOn, SwitchOn}
	device.mu.Unlock()

	report, err := board.QueryStatus()
	require.NoError(t, err)
	assert.Equal(t, Low, report.CoinLevel)
	assert.True(t, report.GateOpen)
	assert.True(t, report.LightOn)

	level, _ := board.CoinLevel()
	assert.Equal(t, Low, level)
}

func TestSerialBoardClose(t *testing.T) {
	board, _ := newTestSerialBoard(t)

	require.NoError(t, board.Close())
	_, err := board.CoinLevel()
	assert.ErrorIs(t, err, ErrBoardClosed)
	assert.ErrorIs(t, board.SetGate(true), ErrBoardClosed)
	// 重复关闭
	assert.NoError(t, board.Close())
}

// brokenPort 每次读取都返回硬件错误，模拟拔出的USB串口
type brokenPort struct {
	closed chan struct{}
	once   sync.Once
}

func (p *brokenPort) Read([]byte) (int, error) {
	select {
	case <-p.closed:
		return 0, io.ErrClosedPipe
	default:
		return 0, stderrors.New("read /dev/ttyUSB0: input/output error")
	}
}

func (p *brokenPort) Write(b []byte) (int, error) { return len(b), nil }

func (p *brokenPort) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func TestSerialBoardReportsDeadLink(t *testing.T) {
	board := NewSerialBoard(&brokenPort{closed: make(chan struct{})}, config.SerialConfig{Port: "usb"})
	t.Cleanup(func() { _ = board.Close() })

	require.Eventually(t, func() bool {
		_, err := board.CoinLevel()
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)

	_, err := board.CoinLevel()
	assert.True(t, errors.Is(err, errors.ErrBoardRead))
	assert.Equal(t, board.LinkError(), err)
	assert.False(t, board.Online())
}

func TestSerialBoardMissedHeartbeats(t *testing.T) {
	host, dev := net.Pipe()
	device := newFakeDevice(t, dev)
	device.mu.Lock()
	device.silent[CmdHeartbeat] = true
	device.mu.Unlock()

	board := NewSerialBoard(host, config.SerialConfig{
		Port:              "pipe",
		AckTimeout:        30 * time.Millisecond,
		HeartbeatInterval: 20 * time.Millisecond,
	})
	t.Cleanup(func() {
		_ = board.Close()
		_ = dev.Close()
	})

	level, err := board.CoinLevel()
	require.NoError(t, err)
	assert.Equal(t, High, level)

	require.Eventually(t, func() bool {
		return board.LinkError() != nil
	}, 2*time.Second, 10*time.Millisecond)

	_, err = board.CoinLevel()
	assert.True(t, errors.Is(err, errors.ErrBoardTimeout))
}

// timeoutPort 前几次读取返回EOF，与串口读超时一致
type timeoutPort struct {
	net.Conn
	eofs atomic.Int32
}

func (p *timeoutPort) Read(b []byte) (int, error) {
	if p.eofs.Add(-1) >= 0 {
		return 0, io.EOF
	}
	return p.Conn.Read(b)
}

func TestSerialBoardIgnoresReadTimeout(t *testing.T) {
	host, dev := net.Pipe()
	device := newFakeDevice(t, dev)
	port := &timeoutPort{Conn: host}
	port.eofs.Store(5)

	board := NewSerialBoard(port, config.SerialConfig{Port: "pipe", AckTimeout: 300 * time.Millisecond})
	t.Cleanup(func() {
		_ = board.Close()
		_ = dev.Close()
	})

	device.send(NewFrame(EventCoinLevel, 2, []byte{SwitchOff}))
	device.waitFor(CmdACK)

	level, err := board.CoinLevel()
	require.NoError(t, err)
	assert.Equal(t, Low, level)
	assert.NoError(t, board.LinkError())
}
