package hardware

import (
	"encoding/binary"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tarm/serial"
	"github.com/wfunc/coin-atm/internal/config"
	"github.com/wfunc/coin-atm/internal/errors"
	"github.com/wfunc/coin-atm/internal/logger"
	"go.uber.org/zap"
)

// 链路失效判定
const (
	maxReadErrors       = 10 // 连续读错误次数
	maxMissedHeartbeats = 3  // 连续心跳失败次数
)

// SerialPort 串口接口（用于测试）
type SerialPort interface {
	io.ReadWriteCloser
}

// SerialBoard 通过串口协处理器控制的IO板。
// 协处理器上报脉冲线电平和按键事件，主机下发闸门和指示灯命令并等待ACK
type SerialBoard struct {
	cfg      config.SerialConfig
	port     SerialPort
	sequence uint32 // 序列号（原子操作）
	writeMu  sync.Mutex

	pendingCmds   map[uint16]chan error
	statusWaiters []chan *StatusReport
	cmdMu         sync.Mutex

	level   atomic.Bool // true为高电平
	online  atomic.Bool
	linkErr atomic.Pointer[error] // 链路失效后的错误，之后CoinLevel一直返回它
	btn    Button

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
	logger *zap.Logger
}

// OpenSerialBoard 打开串口并连接协处理器
func OpenSerialBoard(cfg config.SerialConfig) (*SerialBoard, error) {
	parity := serial.ParityNone
	switch cfg.Parity {
	case "O", "odd":
		parity = serial.ParityOdd
	case "E", "even":
		parity = serial.ParityEven
	}

	stopBits := serial.Stop1
	if cfg.StopBits == 2 {
		stopBits = serial.Stop2
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Port,
		Baud:        cfg.BaudRate,
		Size:        byte(cfg.DataBits),
		Parity:      parity,
		StopBits:    stopBits,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrBoardOpen, "open serial port %s", cfg.Port)
	}

	b := NewSerialBoard(port, cfg)
	if _, err := b.QueryStatus(); err != nil {
		b.logger.Warn("初始状态查询失败", zap.Error(err))
	}
	return b, nil
}

// NewSerialBoard 在已打开的端口上启动读循环和心跳
func NewSerialBoard(port SerialPort, cfg config.SerialConfig) *SerialBoard {
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = 500 * time.Millisecond
	}

	b := &SerialBoard{
		cfg:         cfg,
		port:        port,
		pendingCmds: make(map[uint16]chan error),
		stopCh:      make(chan struct{}),
		logger:      logger.WithModule("hardware"),
	}
	// 空闲时脉冲线为高
	b.level.Store(true)

	b.wg.Add(1)
	go b.readLoop()

	if cfg.HeartbeatInterval > 0 {
		b.wg.Add(1)
		go b.heartbeatLoop()
	}

	b.logger.Info("串口IO板已连接",
		zap.String("port", cfg.Port),
		zap.Int("baud_rate", cfg.BaudRate))
	return b
}

// getNextSeq 获取下一个序列号（主机侧使用奇数）
func (b *SerialBoard) getNextSeq() uint16 {
	seq := atomic.AddUint32(&b.sequence, 2)
	if seq%2 == 0 {
		seq++
	}
	return uint16(seq)
}

// CoinLevel 最近一次上报的脉冲线电平
func (b *SerialBoard) CoinLevel() (Level, error) {
	if b.closed() {
		return High, ErrBoardClosed
	}
	if err := b.LinkError(); err != nil {
		return High, err
	}
	return Level(b.level.Load()), nil
}

// SetGate 闸门控制
func (b *SerialBoard) SetGate(accept bool) error {
	err := b.sendCommand(CmdGateControl, []byte{switchByte(accept)})
	logger.LogBoardCommand("gate", fmt.Sprintf("accept=%v", accept), err == nil)
	return err
}

// SetIndicator 指示灯控制
func (b *SerialBoard) SetIndicator(on bool) error {
	return b.sendCommand(CmdLightControl, []byte{switchByte(on)})
}

// Button 按键标志
func (b *SerialBoard) Button() *Button {
	return &b.btn
}

// Online 最近是否收到过协处理器的帧
func (b *SerialBoard) Online() bool {
	return b.online.Load()
}

// QueryStatus 查询协处理器状态，返回后CoinLevel已同步
func (b *SerialBoard) QueryStatus() (*StatusReport, error) {
	ch := make(chan *StatusReport, 1)
	b.cmdMu.Lock()
	b.statusWaiters = append(b.statusWaiters, ch)
	b.cmdMu.Unlock()

	if err := b.sendCommand(CmdStatusQuery, nil); err != nil {
		return nil, err
	}

	select {
	case report := <-ch:
		return report, nil
	case <-time.After(b.cfg.AckTimeout):
		return nil, errors.New(errors.ErrBoardTimeout, "status report")
	case <-b.stopCh:
		return nil, ErrBoardClosed
	}
}

// Close 停止后台任务并关闭端口
func (b *SerialBoard) Close() error {
	var err error
	b.once.Do(func() {
		close(b.stopCh)
		err = b.port.Close()
		b.wg.Wait()
		b.logger.Info("串口IO板已断开")
	})
	return err
}

// LinkError 链路失效原因，链路正常时为nil
func (b *SerialBoard) LinkError() error {
	if p := b.linkErr.Load(); p != nil {
		return *p
	}
	return nil
}

// fail 记录链路失效，只保留第一次的原因
func (b *SerialBoard) fail(cause error) {
	err := error(errors.Wrap(cause, errors.ErrBoardRead, "serial link lost"))
	if b.linkErr.CompareAndSwap(nil, &err) {
		b.online.Store(false)
		b.logger.Error("串口链路失效", zap.Error(cause))
	}
}

func (b *SerialBoard) closed() bool {
	select {
	case <-b.stopCh:
		return true
	default:
		return false
	}
}

// sendCommand 发送命令并等待ACK
func (b *SerialBoard) sendCommand(cmd byte, data []byte) error {
	if b.closed() {
		return ErrBoardClosed
	}

	seq := b.getNextSeq()
	respCh := make(chan error, 1)

	b.cmdMu.Lock()
	b.pendingCmds[seq] = respCh
	b.cmdMu.Unlock()

	defer func() {
		b.cmdMu.Lock()
		delete(b.pendingCmds, seq)
		b.cmdMu.Unlock()
	}()

	if err := b.writeFrame(NewFrame(cmd, seq, data)); err != nil {
		return errors.Wrapf(err, errors.ErrBoardWrite, "cmd 0x%02X", cmd)
	}

	select {
	case err := <-respCh:
		return err
	case <-time.After(b.cfg.AckTimeout):
		return errors.Newf(errors.ErrBoardTimeout, "wait ACK for cmd 0x%02X seq %d", cmd, seq)
	case <-b.stopCh:
		return ErrBoardClosed
	}
}

// writeFrame 写入数据帧
func (b *SerialBoard) writeFrame(frame *Frame) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	data := frame.ToBytes()
	n, err := b.port.Write(data)
	if err != nil {
		return err
	}
	if n != len(data) {
		return fmt.Errorf("incomplete write: %d/%d", n, len(data))
	}

	b.logger.Debug("Frame sent",
		zap.Uint8("cmd", frame.Command),
		zap.Uint16("seq", frame.Sequence),
		zap.Int("len", len(data)))
	return nil
}

// readLoop 读取循环
func (b *SerialBoard) readLoop() {
	defer b.wg.Done()

	buf := make([]byte, 512)
	var scanner FrameScanner
	readErrors := 0

	for {
		n, err := b.port.Read(buf)
		if b.closed() {
			return
		}
		if err != nil {
			// 串口读超时返回EOF
			if err == io.EOF {
				time.Sleep(time.Millisecond)
				continue
			}
			if stderrors.Is(err, io.ErrClosedPipe) || stderrors.Is(err, os.ErrClosed) {
				b.fail(err)
				return
			}
			readErrors++
			b.logger.Error("Read error", zap.Error(err), zap.Int("consecutive", readErrors))
			if readErrors >= maxReadErrors {
				b.fail(err)
				return
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}
		readErrors = 0
		if n == 0 {
			continue
		}

		for _, frame := range scanner.Feed(buf[:n]) {
			b.handleFrame(frame)
		}
	}
}

// handleFrame 处理接收到的帧
func (b *SerialBoard) handleFrame(frame *Frame) {
	b.online.Store(true)

	switch frame.Command {
	case CmdACK:
		b.resolve(frame, nil)
	case CmdNACK:
		code := byte(0)
		if len(frame.Data) >= 4 {
			code = frame.Data[3]
		}
		b.resolve(frame, errors.Newf(errors.ErrInvalidResponse, "NACK error=0x%02X", code))
	case EventCoinLevel:
		if len(frame.Data) < 1 {
			b.logger.Error("Invalid coin level data length")
			return
		}
		b.level.Store(frame.Data[0] != SwitchOff)
		b.ack(frame)
	case EventButtonPressed:
		if len(frame.Data) >= 1 && frame.Data[0] == KeyActionDown {
			b.btn.Press()
		}
		b.ack(frame)
	case EventStatusReport:
		report, err := ParseStatusReport(frame.Data)
		if err != nil {
			b.logger.Error("Invalid status report", zap.Error(err))
			return
		}
		b.level.Store(bool(report.CoinLevel))
		b.cmdMu.Lock()
		waiters := b.statusWaiters
		b.statusWaiters = nil
		b.cmdMu.Unlock()
		for _, ch := range waiters {
			ch <- report
		}
	case CmdHeartbeat:
		b.ack(frame)
	default:
		b.logger.Warn("Unknown command", zap.Uint8("cmd", frame.Command))
	}
}

// resolve 唤醒等待ACK的命令
func (b *SerialBoard) resolve(frame *Frame, result error) {
	if len(frame.Data) < 2 {
		b.logger.Error("Invalid ACK data length")
		return
	}
	origSeq := binary.BigEndian.Uint16(frame.Data[0:2])

	b.cmdMu.Lock()
	ch, ok := b.pendingCmds[origSeq]
	b.cmdMu.Unlock()

	if ok {
		select {
		case ch <- result:
		default:
		}
	}
}

// ack 确认协处理器上报的事件
func (b *SerialBoard) ack(frame *Frame) {
	if err := b.writeFrame(NewAckFrame(b.getNextSeq(), frame.Sequence, frame.Command)); err != nil {
		b.logger.Warn("ACK发送失败", zap.Error(err))
	}
}

// heartbeatLoop 心跳循环
func (b *SerialBoard) heartbeatLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.HeartbeatInterval)
	defer ticker.Stop()

	missed := 0
	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			err := b.sendCommand(CmdHeartbeat, FormatTimestamp(time.Now()))
			if err == nil {
				missed = 0
				continue
			}
			if b.closed() {
				return
			}
			missed++
			b.online.Store(false)
			b.logger.Error("Heartbeat failed", zap.Error(err), zap.Int("missed", missed))
			if missed >= maxMissedHeartbeats {
				b.fail(err)
				return
			}
		}
	}
}

func switchByte(on bool) byte {
	if on {
		return SwitchOn
	}
	return SwitchOff
}
