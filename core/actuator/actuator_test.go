package actuator

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebridge/dispenser/infra/logger"
)

type fakeDriver struct {
	ops     []string
	state   map[int]bool
	failSet map[int]bool
	closed  bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{state: map[int]bool{}, failSet: map[int]bool{}}
}

func (d *fakeDriver) Setup(pin int) error {
	d.ops = append(d.ops, fmt.Sprintf("setup %d", pin))
	return nil
}

func (d *fakeDriver) Set(pin int, high bool) error {
	if high && d.failSet[pin] {
		return fmt.Errorf("pin %d stuck", pin)
	}
	d.state[pin] = high
	d.ops = append(d.ops, fmt.Sprintf("set %d %v", pin, high))
	return nil
}

func (d *fakeDriver) Close() error {
	d.closed = true
	return nil
}

func newTestActuator(t *testing.T, driver PinDriver) (*SlotActuator, *[]time.Duration) {
	t.Helper()
	a, err := New(Config{Slots: map[int]SlotPins{1: {Forward: 17, Backward: 18}}}, driver, logger.NopLogger{})
	require.NoError(t, err)
	var sleeps []time.Duration
	a.sleep = func(d time.Duration) { sleeps = append(sleeps, d) }
	return a, &sleeps
}

func TestDispenseSingleUnitSequence(t *testing.T) {
	driver := newFakeDriver()
	a, sleeps := newTestActuator(t, driver)
	require.NoError(t, a.Init())
	driver.ops = nil

	require.NoError(t, a.Dispense(1, 1))
	assert.Equal(t, []string{
		"set 17 true", "set 17 false",
		"set 18 true", "set 18 false",
	}, driver.ops)
	assert.Equal(t, []time.Duration{
		800 * time.Millisecond,
		300 * time.Millisecond,
		800 * time.Millisecond,
	}, *sleeps)
}

func TestDispenseMultiDoseDelays(t *testing.T) {
	driver := newFakeDriver()
	a, sleeps := newTestActuator(t, driver)
	require.NoError(t, a.Init())

	require.NoError(t, a.Dispense(1, 3))
	var interDose int
	for _, d := range *sleeps {
		if d == 500*time.Millisecond {
			interDose++
		}
	}
	assert.Equal(t, 2, interDose, "no settle delay after the last unit")
}

func TestDispenseRejectsBadInput(t *testing.T) {
	driver := newFakeDriver()
	a, _ := newTestActuator(t, driver)

	assert.Error(t, a.Dispense(1, 1), "dispense before init must fail")

	require.NoError(t, a.Init())
	driver.ops = nil
	assert.Error(t, a.Dispense(1, 0))
	assert.Error(t, a.Dispense(1, -2))
	assert.Error(t, a.Dispense(9, 1))
	assert.Empty(t, driver.ops, "rejected calls must not touch hardware")
}

func TestDispensePinErrorForcesIdle(t *testing.T) {
	driver := newFakeDriver()
	a, _ := newTestActuator(t, driver)
	require.NoError(t, a.Init())
	driver.failSet[18] = true

	err := a.Dispense(1, 2)
	require.Error(t, err)
	assert.False(t, driver.state[17], "forward pin must be low after failure")
	assert.False(t, driver.state[18])
}

func TestInitDrivesAllPinsLow(t *testing.T) {
	driver := newFakeDriver()
	cfg := Config{}
	cfg.SetDefaults()
	a, err := New(cfg, driver, logger.NopLogger{})
	require.NoError(t, err)
	a.sleep = func(time.Duration) {}

	require.NoError(t, a.Init())
	for _, pin := range []int{17, 18, 22, 23, 24, 25} {
		assert.Contains(t, driver.ops, fmt.Sprintf("setup %d", pin))
		assert.False(t, driver.state[pin])
	}
}

func TestSelfTestAggregatesResults(t *testing.T) {
	driver := newFakeDriver()
	cfg := Config{}
	cfg.SetDefaults()
	a, err := New(cfg, driver, logger.NopLogger{})
	require.NoError(t, err)
	a.sleep = func(time.Duration) {}
	require.NoError(t, a.Init())
	driver.failSet[22] = true

	results := a.SelfTest()
	require.Len(t, results, 3)
	assert.Equal(t, 1, results[0].Slot)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, 2, results[1].Slot)
	assert.Error(t, results[1].Err, "slot with a stuck pin must fail")
	assert.NoError(t, results[2].Err)

	for pin, high := range driver.state {
		assert.False(t, high, "pin %d left high after self-test", pin)
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"no slots", Config{ForwardPulseMS: 1}},
		{"bad slot number", Config{Slots: map[int]SlotPins{0: {Forward: 1, Backward: 2}}}},
		{"shared pin", Config{Slots: map[int]SlotPins{1: {Forward: 4, Backward: 4}}}},
		{"missing pin", Config{Slots: map[int]SlotPins{1: {Forward: 4}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, tc.cfg.Validate())
		})
	}
}

func TestCloseReleasesDriver(t *testing.T) {
	driver := newFakeDriver()
	a, _ := newTestActuator(t, driver)
	require.NoError(t, a.Init())
	require.NoError(t, a.Close())
	assert.True(t, driver.closed)
	assert.Error(t, a.Dispense(1, 1), "closed actuator must reject dispensing")
}
