package hardware

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/coin-atm/internal/config"
)

func TestButtonTakeClears(t *testing.T) {
	var b Button
	assert.False(t, b.Take())

	b.Press()
	assert.True(t, b.Pressed())
	assert.True(t, b.Take())
	assert.False(t, b.Take())
	assert.False(t, b.Pressed())

	b.Press()
	b.Clear()
	assert.False(t, b.Take())
	assert.Equal(t, uint64(2), b.Total())
}

func TestButtonConcurrentPress(t *testing.T) {
	var b Button
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Press()
		}()
	}
	wg.Wait()

	assert.True(t, b.Take())
	assert.False(t, b.Take())
	assert.Equal(t, uint64(50), b.Total())
}

func TestMockBoard(t *testing.T) {
	m := NewMockBoard()

	level, err := m.CoinLevel()
	require.NoError(t, err)
	assert.Equal(t, High, level)

	m.SetCoinLevel(Low)
	level, _ = m.CoinLevel()
	assert.Equal(t, Low, level)

	require.NoError(t, m.SetGate(true))
	require.NoError(t, m.SetGate(false))
	require.NoError(t, m.SetIndicator(true))
	assert.False(t, m.GateOpen())
	assert.True(t, m.IndicatorOn())
	assert.Equal(t, []bool{true, false}, m.GateWrites())
	assert.Equal(t, []bool{true}, m.IndicatorWrites())

	boom := errors.New("relay stuck")
	m.FailGate(boom)
	assert.ErrorIs(t, m.SetGate(true), boom)
	m.FailGate(nil)

	require.NoError(t, m.Close())
	_, err = m.CoinLevel()
	assert.ErrorIs(t, err, ErrBoardClosed)
	assert.ErrorIs(t, m.SetGate(true), ErrBoardClosed)
}

func TestOpenBackends(t *testing.T) {
	b, err := Open(&config.HardwareConfig{Backend: "mock"})
	require.NoError(t, err)
	assert.IsType(t, &MockBoard{}, b)

	b, err = Open(&config.HardwareConfig{Backend: "lpt"})
	assert.Error(t, err)
	assert.Nil(t, b)
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "high", High.String())
	assert.Equal(t, "low", Low.String())
}
