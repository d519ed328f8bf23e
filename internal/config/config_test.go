package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDevice(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want TerminalParams
	}{
		{
			name: "完整三元组",
			in:   "https://atm.example/api/v1/lnurl/dev1,topsecret,EUR",
			want: TerminalParams{"https://atm.example/api/v1/lnurl/dev1", "topsecret", "EUR"},
		},
		{
			name: "缺少币种",
			in:   "https://atm.example,topsecret",
			want: TerminalParams{"https://atm.example", "topsecret", ""},
		},
		{
			name: "只有URL",
			in:   "https://atm.example",
			want: TerminalParams{BaseURL: "https://atm.example"},
		},
		{
			name: "空密钥",
			in:   "https://atm.example,,EUR",
			want: TerminalParams{"https://atm.example", "", "EUR"},
		},
		{
			name: "空串",
			in:   "",
			want: TerminalParams{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseDevice(tt.in))
		})
	}
}

func newTestConfig(t *testing.T, device string) *Config {
	vp := viper.New()
	vp.Set("device", device)
	c, err := Load(vp)
	require.NoError(t, err)
	return c
}

func TestLoadDefaults(t *testing.T) {
	c := newTestConfig(t, "https://atm.example,topsecret,EUR")

	assert.Equal(t, 35*time.Millisecond, c.Terminal.Debounce)
	assert.Equal(t, 200*time.Millisecond, c.Terminal.PulseTimeout)
	assert.Equal(t, 12*time.Hour, c.Terminal.IdleRefresh)
	assert.Equal(t, 6*time.Minute, c.Terminal.AbandonTimeout)
	assert.Equal(t, 10*time.Minute, c.Terminal.ConfirmTimeout)
	assert.Equal(t, []uint64{0, 0, 5, 10, 20, 50, 100, 200}, c.Terminal.CoinValues)
	assert.Equal(t, 2, c.Terminal.MinPulses)
	assert.Equal(t, 7, c.Terminal.MaxPulses)
	assert.Equal(t, "atm", c.Voucher.HRP)
	assert.Equal(t, 8, c.Voucher.NonceLength)
	assert.Equal(t, "mock", c.Hardware.Backend)
	assert.NoError(t, c.Validate())
}

func TestValidate(t *testing.T) {
	t.Run("空密钥致命", func(t *testing.T) {
		c := newTestConfig(t, "https://atm.example,,EUR")
		assert.ErrorContains(t, c.Validate(), "secret")
	})

	t.Run("缺少URL", func(t *testing.T) {
		c := newTestConfig(t, ",topsecret,EUR")
		assert.ErrorContains(t, c.Validate(), "base url")
	})

	t.Run("币值表太短", func(t *testing.T) {
		c := newTestConfig(t, "https://atm.example,topsecret,EUR")
		c.Terminal.CoinValues = []uint64{0, 0, 5}
		assert.Error(t, c.Validate())
	})

	t.Run("未知模式", func(t *testing.T) {
		c := newTestConfig(t, "https://atm.example,topsecret,EUR")
		c.Voucher.Mode = "qr"
		assert.Error(t, c.Validate())
	})

	t.Run("未知硬件", func(t *testing.T) {
		c := newTestConfig(t, "https://atm.example,topsecret,EUR")
		c.Hardware.Backend = "i2c"
		assert.Error(t, c.Validate())
	})

	timing := []struct {
		name   string
		mutate func(*TerminalConfig)
		want   string
	}{
		{"放弃超时为0", func(tc *TerminalConfig) { tc.AbandonTimeout = 0 }, "abandon_timeout"},
		{"放弃超时为负", func(tc *TerminalConfig) { tc.AbandonTimeout = -time.Second }, "abandon_timeout"},
		{"确认超时为0", func(tc *TerminalConfig) { tc.ConfirmTimeout = 0 }, "confirm_timeout"},
		{"闪烁间隔为0", func(tc *TerminalConfig) { tc.BlinkInterval = 0 }, "blink_interval"},
		{"清洁窗口为0", func(tc *TerminalConfig) { tc.CleanWindow = 0 }, "clean_window"},
		{"清洁次数为负", func(tc *TerminalConfig) { tc.CleanPresses = -1 }, "clean_presses"},
	}
	for _, tt := range timing {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestConfig(t, "https://atm.example,topsecret,EUR")
			tt.mutate(&c.Terminal)
			assert.ErrorContains(t, c.Validate(), tt.want)
		})
	}

	t.Run("从配置源读取的零超时", func(t *testing.T) {
		vp := viper.New()
		vp.Set("device", "https://atm.example,topsecret,EUR")
		vp.Set("terminal.abandon_timeout", "0s")
		vp.Set("terminal.confirm_timeout", "0s")
		c, err := Load(vp)
		require.NoError(t, err)
		assert.Equal(t, time.Duration(0), c.Terminal.AbandonTimeout)
		assert.Error(t, c.Validate())
	})

	t.Run("清洁次数为0允许", func(t *testing.T) {
		c := newTestConfig(t, "https://atm.example,topsecret,EUR")
		c.Terminal.CleanPresses = 0
		assert.NoError(t, c.Validate())
	})
}
