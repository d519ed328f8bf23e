package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/wfunc/coin-atm/internal/clock"
	"github.com/wfunc/coin-atm/internal/coin"
	"github.com/wfunc/coin-atm/internal/config"
	"github.com/wfunc/coin-atm/internal/database"
	"github.com/wfunc/coin-atm/internal/display"
	"github.com/wfunc/coin-atm/internal/errors"
	"github.com/wfunc/coin-atm/internal/hardware"
	"github.com/wfunc/coin-atm/internal/logger"
	"github.com/wfunc/coin-atm/internal/metrics"
	"github.com/wfunc/coin-atm/internal/repository"
	"github.com/wfunc/coin-atm/internal/terminal"
	"github.com/wfunc/coin-atm/internal/voucher"
	"go.uber.org/zap"
)

// 版本信息
var (
	Version = "1.0.0"
	commit  = versioninfo.Short()
)

const shutdownTimeout = 10 * time.Second

// App 终端进程
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	board   hardware.Board
	console *display.Console
	journal repository.JournalRepository
	metrics *metrics.Metrics
	ctrl    *terminal.Controller

	errCh  chan error
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func main() {
	// 命令行参数
	var (
		configPath  = flag.String("config", "", "配置文件路径")
		showVersion = flag.Bool("version", false, "显示版本信息")
		showHelp    = flag.Bool("help", false, "显示帮助信息")
		verify      = flag.String("verify", "", "用当前密钥校验兑换码（URL或文本），输出PIN和金额")
	)

	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	if *showHelp {
		printHelp()
		os.Exit(0)
	}

	// 加载配置
	if err := config.Init(*configPath); err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}
	cfg := config.Get()

	if *verify != "" {
		os.Exit(runVerify(cfg, *verify))
	}

	// 初始化日志系统
	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Cleanup()

	// 密钥为空时拒绝运行
	if err := cfg.Validate(); err != nil {
		logger.Fatal("配置无效，设备停止运行", zap.Error(errors.Wrap(err, errors.ErrConfigValidate)))
	}

	setupSystem(&cfg.System)

	app := NewApp(cfg)
	if err := app.Start(); err != nil {
		app.Shutdown()
		logger.Fatal("终端启动失败", zap.Error(err))
	}

	app.Wait()

	if err := app.Shutdown(); err != nil {
		logger.Error("终端关闭失败", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("终端已安全关闭")
}

// NewApp 创建终端实例
func NewApp(cfg *config.Config) *App {
	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		cfg:    cfg,
		logger: logger.GetLogger(),
		errCh:  make(chan error, 1),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start 初始化组件并启动会话循环
func (a *App) Start() error {
	a.logger.Info("正在启动兑换终端...",
		zap.String("version", Version),
		zap.String("commit", commit),
		zap.String("config", config.ConfigFile()),
		zap.String("hardware", a.cfg.Hardware.Backend),
	)

	if a.cfg.Database.Enabled {
		if err := a.initJournal(); err != nil {
			if errors.IsCritical(err) {
				return err
			}
			// 流水只用于审计，不影响终端运行
			a.logger.Error("流水数据库不可用，继续运行", zap.Error(err))
		}
	}

	if a.cfg.Metrics.Enabled {
		a.metrics = metrics.New()
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.metrics.Run(a.ctx, a.cfg.Metrics.Textfile, a.cfg.Metrics.Interval)
		}()
	}

	ctrl, err := a.buildController()
	if err != nil {
		return err
	}
	a.ctrl = ctrl

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.ctrl.Run(a.ctx); err != nil {
			a.errCh <- err
		}
	}()

	a.logger.Info("终端启动成功")
	return nil
}

// buildController 装配IO板、屏幕、面值表、检测器和兑换码生成器
func (a *App) buildController() (*terminal.Controller, error) {
	params := a.cfg.TerminalParams()

	table, err := coin.TableFromConfig(&a.cfg.Terminal)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrConfigValidate, "coin table")
	}

	codec, err := voucher.NewCodec(params.BaseURL, []byte(params.Secret),
		voucher.WithHRP(a.cfg.Voucher.HRP),
		voucher.WithMode(voucher.Mode(a.cfg.Voucher.Mode)),
		voucher.WithNonceLen(a.cfg.Voucher.NonceLength),
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrMissingSecret, "voucher codec")
	}

	board, err := hardware.Open(&a.cfg.Hardware)
	if err != nil {
		return nil, err
	}
	a.board = board

	console, err := display.OpenConsole(a.cfg.Display)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDisplay, "open display")
	}
	a.console = console

	clk := clock.Real{}
	deps := terminal.Deps{
		Board:         board,
		Detector:      coin.NewDetector(board, clk, coin.TimingFromConfig(&a.cfg.Terminal)),
		Table:         table,
		Display:       display.NewScreens(console, params.Currency, table.Denominations()),
		Vouchers:      codec,
		Clock:         clk,
		Metrics:       a.metrics,
		DebugVouchers: a.cfg.Voucher.DebugLogging,
	}
	if a.journal != nil {
		deps.Journal = a.journal
	}

	return terminal.NewController(deps, terminal.TimingFromConfig(&a.cfg.Terminal))
}

// initJournal 连接数据库、迁移并清理过期流水
func (a *App) initJournal() error {
	a.logger.Info("初始化流水数据库...")

	if err := database.Init(&a.cfg.Database); err != nil {
		return errors.Wrap(err, errors.ErrDatabaseConnect, "初始化数据库连接失败")
	}

	if a.cfg.Database.AutoMigrate {
		if err := database.AutoMigrate(database.GetDB(), a.cfg.Database.DSN); err != nil {
			return errors.Wrap(err, errors.ErrDatabaseConnect, "数据库迁移失败")
		}
	}

	repo := repository.NewJournalRepository(database.GetDB())

	ctx, cancel := context.WithTimeout(a.ctx, 30*time.Second)
	defer cancel()

	if a.cfg.Database.Retention > 0 {
		deleted, err := repo.CleanupBefore(ctx, time.Now().Add(-a.cfg.Database.Retention))
		if err != nil {
			a.logger.Warn("清理过期流水失败", zap.Error(err))
		} else if deleted > 0 {
			a.logger.Info("已清理过期流水", zap.Int64("rows", deleted))
		}
	}

	if summary, err := repo.Summary(ctx, time.Now().Add(-24*time.Hour)); err == nil {
		a.logger.Info("最近24小时流水",
			zap.Int64("coins_accepted", summary.CoinsAccepted),
			zap.Uint64("deposited_cents", summary.DepositedCents),
			zap.Int64("vouchers_issued", summary.VouchersIssued),
			zap.Uint64("withdrawn_cents", summary.WithdrawnCents),
			zap.Int64("vouchers_failed", summary.VouchersFailed),
		)
	}

	a.journal = repo
	a.logger.Info("流水数据库初始化完成")
	return nil
}

// Wait 等待退出信号或会话循环异常退出
func (a *App) Wait() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh,
		syscall.SIGINT,  // Ctrl+C
		syscall.SIGTERM, // kill命令
		syscall.SIGQUIT, // Ctrl+\
	)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		a.logger.Info("收到退出信号", zap.String("signal", sig.String()))
	case err := <-a.errCh:
		a.logger.Error("会话循环异常退出", zap.Error(err))
	}
}

// Shutdown 停止会话循环并释放硬件
func (a *App) Shutdown() error {
	a.logger.Info("正在关闭终端...")
	a.cancel()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	var result error
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		a.logger.Warn("关闭超时，强制退出")
		result = errors.New(errors.ErrTimeout, "关闭超时")
	}

	if a.board != nil {
		if err := a.board.Close(); err != nil {
			a.logger.Error("关闭IO板失败", zap.Error(err))
		}
	}
	if a.console != nil {
		if err := a.console.Close(); err != nil {
			a.logger.Error("关闭屏幕失败", zap.Error(err))
		}
	}
	if err := database.Close(); err != nil {
		a.logger.Error("关闭数据库失败", zap.Error(err))
	}

	if err := logger.Sync(); err != nil {
		fmt.Printf("同步日志失败: %v\n", err)
	}
	return result
}

// runVerify 运维核对兑换码
func runVerify(cfg *config.Config, input string) int {
	params := cfg.TerminalParams()
	dec, err := voucher.NewDecoder([]byte(params.Secret), cfg.Voucher.HRP)
	if err != nil {
		fmt.Fprintf(os.Stderr, "无法校验: %v\n", verifyError(err))
		return 1
	}

	v, err := dec.Decode(input)
	if err != nil {
		err = verifyError(err)
		fmt.Fprintf(os.Stderr, "兑换码无效[%d]: %v\n", errors.GetCode(err), err)
		return 1
	}

	fmt.Printf("PIN:   %d\n", v.PIN)
	fmt.Printf("金额:  %s\n", display.FormatAmount(v.AmountCents, params.Currency))
	fmt.Printf("Nonce: %x\n", v.Nonce)
	return 0
}

// verifyError 解码失败转换为带错误码的AppError
func verifyError(err error) error {
	switch {
	case stderrors.Is(err, voucher.ErrTagMismatch):
		return errors.Wrap(err, errors.ErrTagMismatch)
	case stderrors.Is(err, voucher.ErrMalformed):
		return errors.Wrap(err, errors.ErrFrameFormat)
	case stderrors.Is(err, voucher.ErrEmptySecret):
		return errors.Wrap(err, errors.ErrMissingSecret)
	default:
		return errors.Wrap(err, errors.ErrFrameFormat)
	}
}

// setupSystem 设置系统参数
func setupSystem(cfg *config.SystemConfig) {
	if cfg.Timezone != "" {
		if loc, err := time.LoadLocation(cfg.Timezone); err == nil {
			time.Local = loc
		}
	}
}

// printVersion 打印版本信息
func printVersion() {
	fmt.Printf("硬币兑换终端\n")
	fmt.Printf("版本: %s\n", Version)
	fmt.Printf("Git提交: %s\n", commit)
	fmt.Printf("Go版本: %s\n", runtime.Version())
	fmt.Printf("操作系统: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

// printHelp 打印帮助信息
func printHelp() {
	fmt.Println("硬币兑换终端")
	fmt.Println()
	fmt.Println("用法:")
	fmt.Println("  atm [选项]")
	fmt.Println()
	fmt.Println("选项:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("环境变量:")
	fmt.Println("  COIN_ATM_DEVICE        设备串 baseURL,secret,currency")
	fmt.Println("  COIN_ATM_HARDWARE_BACKEND  IO板类型 (mock/gpio/serial)")
	fmt.Println()
	fmt.Println("示例:")
	fmt.Println("  atm -config config/config.yaml")
	fmt.Println("  atm -verify 'https://example.com/atm?atm=1&p=ATM1...'")
}
