// Package metrics 终端运行指标，定期写入node_exporter textfile目录。
package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/wfunc/coin-atm/internal/logger"
	"go.uber.org/zap"
)

const namespace = "atm"

// 兑换码结果标签
const (
	ResultIssued    = "issued"
	ResultConfirmed = "confirmed"
	ResultTimeout   = "timeout"
	ResultFailed    = "failed"
)

// Metrics 终端指标集合。nil值可安全调用，所有方法为空操作
type Metrics struct {
	registry *prometheus.Registry

	coinsAccepted   *prometheus.CounterVec
	pulsesIgnored   prometheus.Counter
	vouchers        *prometheus.CounterVec
	idleRefreshes   prometheus.Counter
	cleaningPrompts prometheus.Counter
	boardErrors     prometheus.Counter
	balance         prometheus.Gauge
}

// New 创建指标并注册到独立的registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		coinsAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coins_accepted_total",
			Help:      "Coins credited to the balance, by face value in cents.",
		}, []string{"cents"}),
		pulsesIgnored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pulses_ignored_total",
			Help:      "Pulse trains whose count mapped to no coin.",
		}),
		vouchers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vouchers_total",
			Help:      "Voucher lifecycle events by result.",
		}, []string{"result"}),
		idleRefreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idle_refresh_total",
			Help:      "Idle screen refreshes performed with a zero balance.",
		}),
		cleaningPrompts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleaning_prompts_total",
			Help:      "Times the cleaning screen was shown.",
		}),
		boardErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "board_errors_total",
			Help:      "IO board reads or writes that failed.",
		}),
		balance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "balance_cents",
			Help:      "Current unwithdrawn balance in cents.",
		}),
	}

	m.registry.MustRegister(
		m.coinsAccepted,
		m.pulsesIgnored,
		m.vouchers,
		m.idleRefreshes,
		m.cleaningPrompts,
		m.boardErrors,
		m.balance,
	)
	return m
}

// Registry 用于导出和测试
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// CoinAccepted 记录一枚有效硬币及入账后的余额
func (m *Metrics) CoinAccepted(cents, balance uint64) {
	if m == nil {
		return
	}
	m.coinsAccepted.WithLabelValues(strconv.FormatUint(cents, 10)).Inc()
	m.balance.Set(float64(balance))
}

// PulsesIgnored 记录一次无效脉冲串
func (m *Metrics) PulsesIgnored() {
	if m == nil {
		return
	}
	m.pulsesIgnored.Inc()
}

// Voucher 记录兑换码事件
func (m *Metrics) Voucher(result string) {
	if m == nil {
		return
	}
	m.vouchers.WithLabelValues(result).Inc()
}

// IdleRefresh 记录空闲刷新
func (m *Metrics) IdleRefresh() {
	if m == nil {
		return
	}
	m.idleRefreshes.Inc()
}

// CleaningPrompt 记录清洁提示
func (m *Metrics) CleaningPrompt() {
	if m == nil {
		return
	}
	m.cleaningPrompts.Inc()
}

// BoardError 记录IO板错误
func (m *Metrics) BoardError() {
	if m == nil {
		return
	}
	m.boardErrors.Inc()
}

// SetBalance 更新余额
func (m *Metrics) SetBalance(balance uint64) {
	if m == nil {
		return
	}
	m.balance.Set(float64(balance))
}

// WriteTextfile 把当前指标写入文件（原子替换）
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}

// Run 按间隔写入textfile直到ctx结束，退出前再写一次
func (m *Metrics) Run(ctx context.Context, path string, interval time.Duration) {
	if m == nil || path == "" || interval <= 0 {
		return
	}
	log := logger.WithModule("metrics")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := m.WriteTextfile(path); err != nil {
				log.Warn("写入指标文件失败", zap.String("path", path), zap.Error(err))
			}
			return
		case <-ticker.C:
			if err := m.WriteTextfile(path); err != nil {
				log.Warn("写入指标文件失败", zap.String("path", path), zap.Error(err))
			}
		}
	}
}
