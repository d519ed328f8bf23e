package terminal

import (
	"context"
	stderrors "errors"
	"sync"

	"github.com/google/uuid"
	"github.com/wfunc/coin-atm/internal/clock"
	"github.com/wfunc/coin-atm/internal/coin"
	"github.com/wfunc/coin-atm/internal/display"
	"github.com/wfunc/coin-atm/internal/errors"
	"github.com/wfunc/coin-atm/internal/hardware"
	"github.com/wfunc/coin-atm/internal/logger"
	"github.com/wfunc/coin-atm/internal/metrics"
	"github.com/wfunc/coin-atm/internal/models"
	"github.com/wfunc/coin-atm/internal/voucher"
	"go.uber.org/zap"
)

// Deps 控制器依赖。Journal和Metrics可为空
type Deps struct {
	Board    hardware.Board
	Detector *coin.Detector
	Table    *coin.Table
	Display  display.Display
	Vouchers VoucherMaker
	Clock    clock.Clock
	Journal  Journal
	Metrics  *metrics.Metrics
	// DebugVouchers 在debug级别记录完整兑换URL
	DebugVouchers bool
}

// Controller 终端状态机。余额和闸门只在mu下一起修改
type Controller struct {
	board    hardware.Board
	detector *coin.Detector
	table    *coin.Table
	display  display.Display
	vouchers VoucherMaker
	clock    clock.Clock
	journal  Journal
	metrics  *metrics.Metrics
	timing   Timing
	debug    bool

	mu        sync.Mutex
	balance   uint64
	state     State
	sessionID string

	logger *zap.Logger
}

// NewController 创建控制器并接管检测器的空闲刷新
func NewController(deps Deps, timing Timing) (*Controller, error) {
	switch {
	case deps.Board == nil:
		return nil, errors.New(errors.ErrInvalidParam, "board is required")
	case deps.Detector == nil:
		return nil, errors.New(errors.ErrInvalidParam, "detector is required")
	case deps.Table == nil:
		return nil, errors.New(errors.ErrInvalidParam, "coin table is required")
	case deps.Display == nil:
		return nil, errors.New(errors.ErrInvalidParam, "display is required")
	case deps.Vouchers == nil:
		return nil, errors.New(errors.ErrMissingSecret, "voucher codec is required")
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}

	c := &Controller{
		board:    deps.Board,
		detector: deps.Detector,
		table:    deps.Table,
		display:  deps.Display,
		vouchers: deps.Vouchers,
		clock:    deps.Clock,
		journal:  deps.Journal,
		metrics:  deps.Metrics,
		timing:   timing,
		debug:    deps.DebugVouchers,
		logger:   logger.WithModule("terminal"),
	}
	c.detector.OnIdleRefresh(c.idleRefresh)
	return c, nil
}

// Balance 当前余额（分）
func (c *Controller) Balance() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balance
}

// State 当前状态
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Run 显示主页后循环执行Step，直到ctx取消或IO板故障
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info("终端启动")
	c.showHome()

	defer func() {
		c.setGate(false)
		c.setIndicator(false)
		c.logger.Info("终端停止", zap.Uint64("balance_cents", c.Balance()))
	}()

	for {
		if err := c.Step(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// Step 执行一次投币监听并处理结果
func (c *Controller) Step(ctx context.Context) error {
	// 监听期间放行闸门并点亮按键灯
	c.setGate(true)
	c.setIndicator(true)

	reading, err := c.detector.Detect(ctx, c.Balance())
	if err != nil {
		if ctx.Err() == nil {
			c.metrics.BoardError()
		}
		return err
	}

	switch reading.Outcome {
	case coin.Settled:
		c.credit(ctx, reading.Pulses)
		return nil
	case coin.Interrupted, coin.Abandoned:
		if c.Balance() > 0 {
			return c.withdraw(ctx, reading.Outcome)
		}
		if reading.Outcome == coin.Interrupted {
			return c.cleaningPrompt(ctx)
		}
	}
	return nil
}

// credit 脉冲数入账；范围外的脉冲数视为噪声
func (c *Controller) credit(ctx context.Context, pulses uint) {
	value, ok := c.table.Value(pulses)
	if !ok {
		balance := c.Balance()
		logger.LogCoinEvent(pulses, 0, balance, false)
		c.metrics.PulsesIgnored()
		c.record(ctx, &models.CoinEvent{
			SessionID:    c.session(),
			Pulses:       pulses,
			BalanceCents: balance,
		})
		return
	}

	c.mu.Lock()
	c.balance += value
	balance := c.balance
	c.state = StateAccumulating
	if c.sessionID == "" {
		c.sessionID = uuid.NewString()
	}
	sessionID := c.sessionID
	gateErr := c.board.SetGate(false)
	c.mu.Unlock()

	if gateErr != nil {
		c.boardError("gate", gateErr)
	}
	c.setIndicator(false)
	if err := c.display.Amount(balance); err != nil {
		c.logger.Warn("金额显示失败", zap.Error(err))
	}

	logger.LogCoinEvent(pulses, value, balance, true)
	c.metrics.CoinAccepted(value, balance)
	c.record(ctx, &models.CoinEvent{
		SessionID:    sessionID,
		Pulses:       pulses,
		ValueCents:   value,
		BalanceCents: balance,
		Accepted:     true,
	})
}

// withdraw 关闭闸门，生成并显示兑换码，等待确认后清零余额
func (c *Controller) withdraw(ctx context.Context, reason coin.Outcome) error {
	c.mu.Lock()
	amount := c.balance
	sessionID := c.sessionID
	gateErr := c.board.SetGate(false)
	c.mu.Unlock()
	if gateErr != nil {
		c.boardError("gate", gateErr)
	}

	c.logger.Info("开始取款",
		zap.String("reason", reason.String()),
		zap.String("session_id", sessionID),
		zap.Uint64("amount_cents", amount))

	event := &models.VoucherEvent{
		UUID:        uuid.NewString(),
		SessionID:   sessionID,
		AmountCents: amount,
		Status:      models.VoucherStatusIssued,
	}

	url, err := c.vouchers.MakeVoucher(amount)
	if err != nil {
		err = voucherError(err)
	} else {
		if c.debug {
			c.logger.Debug("兑换码", zap.String("url", url))
		}
		if derr := c.display.Voucher(url); derr != nil {
			err = errors.Wrap(derr, errors.ErrDisplay, "voucher screen")
		}
		url = ""
	}
	if err != nil {
		// 本次取款失败：回到主页，余额保留，下次按键或超时重试
		logger.LogVoucherEvent("failed", sessionID, amount, err)
		c.metrics.Voucher(metrics.ResultFailed)
		event.Status = models.VoucherStatusFailed
		event.ErrorMsg = err.Error()
		c.recordVoucher(ctx, event)
		c.showHome()
		return nil
	}

	c.setState(StateAwaitingConfirmation)
	logger.LogVoucherEvent("issued", sessionID, amount, nil)
	c.metrics.Voucher(metrics.ResultIssued)
	c.recordVoucher(ctx, event)

	confirmed, err := c.awaitConfirmation(ctx)
	if err != nil {
		return err
	}

	status, result := models.VoucherStatusTimeout, metrics.ResultTimeout
	if confirmed {
		status, result = models.VoucherStatusConfirmed, metrics.ResultConfirmed
	}
	logger.LogVoucherEvent(string(status), sessionID, amount, nil)
	c.metrics.Voucher(result)
	c.updateVoucher(ctx, event.UUID, status)

	c.mu.Lock()
	c.balance = 0
	c.sessionID = ""
	c.state = StateIdle
	c.mu.Unlock()
	c.metrics.SetBalance(0)

	c.setIndicator(true)
	c.showHome()
	c.setGate(true)
	return nil
}

// awaitConfirmation 宽限期后清除按键，闪烁指示灯直到按键或超时。
// 超时从显示兑换码开始计算，包含宽限期
func (c *Controller) awaitConfirmation(ctx context.Context) (bool, error) {
	start := c.clock.Now()
	c.setIndicator(true)
	if err := c.clock.Sleep(ctx, c.timing.ConfirmGrace); err != nil {
		return false, err
	}

	button := c.board.Button()
	button.Clear()

	light := true
	for {
		if button.Take() {
			return true, nil
		}
		if c.clock.Now().Sub(start) >= c.timing.ConfirmTimeout {
			return false, nil
		}
		light = !light
		c.setIndicator(light)
		if err := c.clock.Sleep(ctx, c.timing.BlinkInterval); err != nil {
			return false, err
		}
	}
}

// cleaningPrompt 余额为0时连续按键超过阈值则清屏休眠。
// 期间不监听脉冲线，闸门关闭
func (c *Controller) cleaningPrompt(ctx context.Context) error {
	c.setGate(false)
	defer c.setGate(true)

	button := c.board.Button()
	button.Clear()

	presses := 0
	last := c.clock.Now()
	for presses <= c.timing.CleanPresses && c.clock.Now().Sub(last) < c.timing.CleanWindow {
		if button.Take() {
			presses++
			last = c.clock.Now()
			if err := c.clock.Sleep(ctx, c.timing.CleanLockout); err != nil {
				return err
			}
			continue
		}
		if err := c.clock.Sleep(ctx, c.timing.PollInterval); err != nil {
			return err
		}
	}

	if presses <= c.timing.CleanPresses {
		c.logger.Debug("清洁按键不足", zap.Int("presses", presses))
		return nil
	}

	c.logger.Info("进入清洁模式", zap.Duration("dwell", c.timing.CleanDwell))
	c.setState(StateCleaningPrompt)
	c.metrics.CleaningPrompt()
	c.setIndicator(false)
	if err := c.display.Clean(); err != nil {
		c.logger.Warn("清屏失败", zap.Error(err))
	}

	err := c.clock.Sleep(ctx, c.timing.CleanDwell)
	c.setState(StateIdle)
	if err != nil {
		return err
	}
	c.showHome()
	return nil
}

// idleRefresh 长时间空闲时刷新墨水屏防止残影，停留期间关闭闸门
func (c *Controller) idleRefresh(ctx context.Context) {
	c.setGate(false)
	defer c.setGate(true)

	c.metrics.IdleRefresh()
	if err := c.display.Blank(); err != nil {
		c.logger.Warn("空白页显示失败", zap.Error(err))
	}
	if err := c.clock.Sleep(ctx, c.timing.RefreshDwell); err != nil {
		return
	}
	c.showHome()
}

func (c *Controller) showHome() {
	if err := c.display.Home(); err != nil {
		c.logger.Warn("主页显示失败", zap.Error(err))
	}
}

func (c *Controller) session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Controller) setGate(accept bool) {
	c.mu.Lock()
	err := c.board.SetGate(accept)
	c.mu.Unlock()
	if err != nil {
		c.boardError("gate", err)
	}
}

func (c *Controller) setIndicator(on bool) {
	if err := c.board.SetIndicator(on); err != nil {
		c.boardError("indicator", err)
	}
}

func (c *Controller) boardError(what string, err error) {
	c.metrics.BoardError()
	c.logger.Warn("IO板写入失败", zap.String("output", what), zap.Error(err))
}

func (c *Controller) record(ctx context.Context, event *models.CoinEvent) {
	if c.journal == nil {
		return
	}
	if err := c.journal.RecordCoin(ctx, event); err != nil {
		c.logger.Warn("投币流水写入失败", zap.Error(err))
	}
}

func (c *Controller) recordVoucher(ctx context.Context, event *models.VoucherEvent) {
	if c.journal == nil {
		return
	}
	if err := c.journal.RecordVoucher(ctx, event); err != nil {
		c.logger.Warn("兑换码流水写入失败", zap.Error(err))
	}
}

func (c *Controller) updateVoucher(ctx context.Context, id string, status models.VoucherStatus) {
	if c.journal == nil {
		return
	}
	if err := c.journal.UpdateVoucherStatus(ctx, id, status, c.clock.Now()); err != nil {
		c.logger.Warn("兑换码状态更新失败", zap.Error(err))
	}
}

// voucherError 把生成或显示失败归类为AppError
func voucherError(err error) error {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return err
	}
	switch {
	case stderrors.Is(err, voucher.ErrCapacity):
		return errors.Wrap(err, errors.ErrVoucherCapacity)
	case stderrors.Is(err, voucher.ErrRandomness):
		return errors.Wrap(err, errors.ErrRandomness)
	case stderrors.Is(err, voucher.ErrEmptySecret):
		return errors.Wrap(err, errors.ErrMissingSecret)
	default:
		return errors.Wrap(err, errors.ErrVoucherEncode)
	}
}
