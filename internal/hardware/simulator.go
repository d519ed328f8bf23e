package hardware

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wfunc/coin-atm/internal/clock"
	"github.com/wfunc/coin-atm/internal/logger"
	"go.uber.org/zap"
)

// SimPulseWidth 模拟投币器的脉冲宽度，低电平和高电平各保持该时长
const SimPulseWidth = 50 * time.Millisecond

// Simulator 串口协处理器模拟器。
// 应答主机的闸门、指示灯、心跳和状态查询命令，并按需上报脉冲线电平和按键事件
type Simulator struct {
	port io.ReadWriter
	out  chan *Frame
	seq  uint32 // 协处理器侧使用偶数

	mu       sync.Mutex
	level    Level
	gateOpen bool
	lightOn  bool
	received map[byte]int

	logger *zap.Logger
}

// NewSimulator 在端口上创建模拟器，调用Serve后开始应答
func NewSimulator(port io.ReadWriter) *Simulator {
	return &Simulator{
		port:     port,
		out:      make(chan *Frame, 64),
		level:    High,
		received: make(map[byte]int),
		logger:   logger.WithModule("simulator"),
	}
}

// Serve 处理主机命令直到ctx取消或端口出错；关闭端口可打断阻塞中的读取
func (s *Simulator) Serve(ctx context.Context) error {
	writeErr := make(chan error, 1)
	go s.writeLoop(ctx, writeErr)

	buf := make([]byte, 256)
	var scanner FrameScanner

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-writeErr:
			return err
		default:
		}

		n, err := s.port.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if err == io.EOF {
				// 串口读超时
				time.Sleep(10 * time.Millisecond)
				continue
			}
			return err
		}

		for _, frame := range scanner.Feed(buf[:n]) {
			s.handle(frame)
		}
	}
}

// writeLoop 独立的写协程，读循环不会因主机未读取而阻塞
func (s *Simulator) writeLoop(ctx context.Context, errCh chan<- error) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-s.out:
			if _, err := s.port.Write(frame.ToBytes()); err != nil {
				errCh <- err
				return
			}
		}
	}
}

func (s *Simulator) handle(frame *Frame) {
	s.mu.Lock()
	s.received[frame.Command]++
	s.mu.Unlock()

	switch frame.Command {
	case CmdGateControl, CmdLightControl:
		if len(frame.Data) < 1 {
			s.emit(NewNackFrame(s.nextSeq(), frame.Sequence, frame.Command, ErrorInvalidParam))
			return
		}
		on := frame.Data[0] != SwitchOff
		s.mu.Lock()
		if frame.Command == CmdGateControl {
			s.gateOpen = on
		} else {
			s.lightOn = on
		}
		s.mu.Unlock()
		s.logger.Debug("控制命令", zap.Uint8("cmd", frame.Command), zap.Bool("on", on))
		s.emit(NewAckFrame(s.nextSeq(), frame.Sequence, frame.Command))
	case CmdStatusQuery:
		s.emit(NewAckFrame(s.nextSeq(), frame.Sequence, frame.Command))
		s.emit(NewFrame(EventStatusReport, s.nextSeq(), s.Status().Bytes()))
	case CmdHeartbeat:
		s.emit(NewAckFrame(s.nextSeq(), frame.Sequence, frame.Command))
	case CmdACK, CmdNACK:
	default:
		s.logger.Warn("不支持的命令", zap.Uint8("cmd", frame.Command))
		s.emit(NewNackFrame(s.nextSeq(), frame.Sequence, frame.Command, ErrorUnsupported))
	}
}

func (s *Simulator) emit(frame *Frame) {
	s.out <- frame
}

func (s *Simulator) nextSeq() uint16 {
	return uint16(atomic.AddUint32(&s.seq, 2))
}

// SetLevel 改变脉冲线电平并上报
func (s *Simulator) SetLevel(l Level) {
	s.mu.Lock()
	s.level = l
	s.mu.Unlock()
	s.emit(NewFrame(EventCoinLevel, s.nextSeq(), []byte{switchByte(bool(l))}))
}

// InsertCoin 输出pulses个脉冲，每个脉冲低高电平各保持width
func (s *Simulator) InsertCoin(ctx context.Context, pulses int, width time.Duration) error {
	var clk clock.Real
	for i := 0; i < pulses; i++ {
		s.SetLevel(Low)
		if err := clk.Sleep(ctx, width); err != nil {
			s.SetLevel(High)
			return err
		}
		s.SetLevel(High)
		if err := clk.Sleep(ctx, width); err != nil {
			return err
		}
	}
	s.logger.Info("模拟投币", zap.Int("pulses", pulses))
	return nil
}

// Press 上报一次按键按下和释放
func (s *Simulator) Press() {
	s.emit(NewFrame(EventButtonPressed, s.nextSeq(), []byte{KeyActionDown}))
	s.emit(NewFrame(EventButtonPressed, s.nextSeq(), []byte{KeyActionUp}))
}

// Status 当前模拟状态
func (s *Simulator) Status() *StatusReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &StatusReport{CoinLevel: s.level, GateOpen: s.gateOpen, LightOn: s.lightOn}
}

// Received 收到指定命令的次数
func (s *Simulator) Received(cmd byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received[cmd]
}
