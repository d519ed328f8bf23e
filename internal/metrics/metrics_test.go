package metrics

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()

	m.CoinAccepted(50, 50)
	m.CoinAccepted(50, 100)
	m.CoinAccepted(200, 300)
	m.PulsesIgnored()
	m.Voucher(ResultIssued)
	m.Voucher(ResultConfirmed)
	m.IdleRefresh()
	m.CleaningPrompt()
	m.BoardError()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.coinsAccepted.WithLabelValues("50")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.coinsAccepted.WithLabelValues("200")))
	assert.Equal(t, 300.0, testutil.ToFloat64(m.balance))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pulsesIgnored))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.vouchers.WithLabelValues(ResultConfirmed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.idleRefreshes))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cleaningPrompts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.boardErrors))

	m.SetBalance(0)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.balance))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.CoinAccepted(5, 5)
		m.PulsesIgnored()
		m.Voucher(ResultFailed)
		m.IdleRefresh()
		m.CleaningPrompt()
		m.BoardError()
		m.SetBalance(1)
		m.Run(context.Background(), "x", time.Second)
	})
	assert.NoError(t, m.WriteTextfile("unused"))
	assert.Nil(t, m.Registry())
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.CoinAccepted(100, 100)

	path := filepath.Join(t.TempDir(), "atm.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `atm_coins_accepted_total{cents="100"} 1`)
	assert.Contains(t, text, "atm_balance_cents 100")
}

func TestRunWritesOnShutdown(t *testing.T) {
	m := New()
	m.Voucher(ResultTimeout)
	path := filepath.Join(t.TempDir(), "atm.prom")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, path, time.Hour)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `atm_vouchers_total{result="timeout"} 1`))
}
