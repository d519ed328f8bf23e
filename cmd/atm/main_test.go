package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/coin-atm/internal/config"
	"github.com/wfunc/coin-atm/internal/errors"
	"github.com/wfunc/coin-atm/internal/voucher"
)

const testDevice = "https://atm.example/api/v1/lnurl/dev1,topsecret,EUR"

func testConfig(t *testing.T) *config.Config {
	vp := viper.New()
	vp.Set("device", testDevice)
	cfg, err := config.Load(vp)
	require.NoError(t, err)
	cfg.Display.Output = filepath.Join(t.TempDir(), "screen.txt")
	return cfg
}

func TestVerifyErrorCodes(t *testing.T) {
	codec, err := voucher.NewCodec("https://atm.example/api/v1/lnurl/dev1", []byte("topsecret"),
		voucher.WithRand(bytes.NewReader([]byte{0x0C, 0xAA, 0, 1, 2, 3, 4, 5, 6, 7})))
	require.NoError(t, err)
	url, err := codec.MakeVoucher(150)
	require.NoError(t, err)

	other, err := voucher.NewDecoder([]byte("othersecret"), voucher.DefaultHRP)
	require.NoError(t, err)
	_, err = other.Decode(url)
	assert.Equal(t, errors.ErrTagMismatch, errors.GetCode(verifyError(err)))

	dec, err := voucher.NewDecoder([]byte("topsecret"), voucher.DefaultHRP)
	require.NoError(t, err)
	_, err = dec.Decode("https://atm.example?atm=1")
	assert.Equal(t, errors.ErrFrameFormat, errors.GetCode(verifyError(err)))

	_, err = voucher.NewDecoder(nil, "")
	assert.Equal(t, errors.ErrMissingSecret, errors.GetCode(verifyError(err)))
}

func TestRunVerify(t *testing.T) {
	cfg := testConfig(t)

	codec, err := voucher.NewCodec("https://atm.example/api/v1/lnurl/dev1", []byte("topsecret"))
	require.NoError(t, err)
	url, err := codec.MakeVoucher(250)
	require.NoError(t, err)

	assert.Equal(t, 0, runVerify(cfg, url))
	assert.Equal(t, 1, runVerify(cfg, strings.Replace(url, "ATM1", "ATM1Q", 1)))
}

func TestStartContinuesWithoutJournal(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Enabled = true
	cfg.Database.Driver = "oracle"

	app := NewApp(cfg)
	require.NoError(t, app.Start())
	assert.Nil(t, app.journal)
	assert.NotNil(t, app.ctrl)

	assert.NoError(t, app.Shutdown())
}
