// Package actuator drives the slot motors through a pin driver. One unit of
// medication is one forward/backward pulse cycle on the slot's pin pair.
package actuator

import (
	"fmt"
	"sort"
	"time"

	"github.com/carebridge/dispenser/core/logger"
)

// PinDriver abstracts the GPIO backend. Implementations live in infra/gpio.
type PinDriver interface {
	Setup(pin int) error
	Set(pin int, high bool) error
	Close() error
}

// SlotPins is the forward/backward output pair wired to one slot's motor.
type SlotPins struct {
	Forward  int `json:"forward"`
	Backward int `json:"backward"`
}

// Config holds the slot wiring and pulse timings.
type Config struct {
	Slots           map[int]SlotPins `json:"slots"`
	ForwardPulseMS  int              `json:"forward_pulse_ms"`
	InterPulseMS    int              `json:"inter_pulse_ms"`
	BackwardPulseMS int              `json:"backward_pulse_ms"`
	InterDoseMS     int              `json:"inter_dose_ms"`
}

// SetDefaults applies the stock wiring and timings.
func (c *Config) SetDefaults() {
	if len(c.Slots) == 0 {
		c.Slots = map[int]SlotPins{
			1: {Forward: 17, Backward: 18},
			2: {Forward: 22, Backward: 23},
			3: {Forward: 24, Backward: 25},
		}
	}
	if c.ForwardPulseMS <= 0 {
		c.ForwardPulseMS = 800
	}
	if c.InterPulseMS <= 0 {
		c.InterPulseMS = 300
	}
	if c.BackwardPulseMS <= 0 {
		c.BackwardPulseMS = 800
	}
	if c.InterDoseMS <= 0 {
		c.InterDoseMS = 500
	}
}

// Validate rejects nonsensical wiring.
func (c Config) Validate() error {
	if len(c.Slots) == 0 {
		return fmt.Errorf("at least one slot must be configured")
	}
	for slot, pins := range c.Slots {
		if slot <= 0 {
			return fmt.Errorf("invalid slot number %d", slot)
		}
		if pins.Forward <= 0 || pins.Backward <= 0 {
			return fmt.Errorf("slot %d: invalid pin pair %d/%d", slot, pins.Forward, pins.Backward)
		}
		if pins.Forward == pins.Backward {
			return fmt.Errorf("slot %d: forward and backward share pin %d", slot, pins.Forward)
		}
	}
	return nil
}

// SlotActuator executes dispense cycles. Not safe for concurrent use; the
// control loop is the single caller.
type SlotActuator struct {
	cfg    Config
	driver PinDriver
	log    logger.Logger
	ready  bool

	sleep func(time.Duration)
}

// New creates a SlotActuator. Init must run before Dispense.
func New(cfg Config, driver PinDriver, log logger.Logger) (*SlotActuator, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &SlotActuator{
		cfg:    cfg,
		driver: driver,
		log:    log,
		sleep:  time.Sleep,
	}, nil
}

// Init configures every pin as an output and drives it low.
func (a *SlotActuator) Init() error {
	for slot, pins := range a.cfg.Slots {
		for _, pin := range []int{pins.Forward, pins.Backward} {
			if err := a.driver.Setup(pin); err != nil {
				return fmt.Errorf("setup pin %d (slot %d): %w", pin, slot, err)
			}
			if err := a.driver.Set(pin, false); err != nil {
				return fmt.Errorf("reset pin %d (slot %d): %w", pin, slot, err)
			}
		}
	}
	a.ready = true
	return nil
}

// Dispense runs dose pulse cycles on the slot. On any pin error both lines
// are forced low before the error is returned.
func (a *SlotActuator) Dispense(slot, dose int) error {
	if !a.ready {
		return fmt.Errorf("actuator not initialized")
	}
	if dose <= 0 {
		return fmt.Errorf("invalid dose %d", dose)
	}
	pins, ok := a.cfg.Slots[slot]
	if !ok {
		return fmt.Errorf("unknown slot %d", slot)
	}
	for i := 0; i < dose; i++ {
		if err := a.cycle(pins); err != nil {
			a.forceIdle(pins)
			return fmt.Errorf("slot %d unit %d/%d: %w", slot, i+1, dose, err)
		}
		if i < dose-1 {
			a.sleep(time.Duration(a.cfg.InterDoseMS) * time.Millisecond)
		}
	}
	return nil
}

// cycle pushes one unit out: forward pulse, settle, backward pulse.
func (a *SlotActuator) cycle(pins SlotPins) error {
	if err := a.pulse(pins.Forward, a.cfg.ForwardPulseMS); err != nil {
		return err
	}
	a.sleep(time.Duration(a.cfg.InterPulseMS) * time.Millisecond)
	return a.pulse(pins.Backward, a.cfg.BackwardPulseMS)
}

func (a *SlotActuator) pulse(pin, ms int) error {
	if err := a.driver.Set(pin, true); err != nil {
		return err
	}
	a.sleep(time.Duration(ms) * time.Millisecond)
	return a.driver.Set(pin, false)
}

func (a *SlotActuator) forceIdle(pins SlotPins) {
	for _, pin := range []int{pins.Forward, pins.Backward} {
		if err := a.driver.Set(pin, false); err != nil {
			a.log.Errorf("force pin %d low: %v", pin, err)
		}
	}
}

// SlotResult is one slot's self-test outcome.
type SlotResult struct {
	Slot int
	Err  error
}

// SelfTest runs a single unit cycle on every configured slot, in slot order,
// and reports per-slot results. Failures do not stop the remaining slots.
func (a *SlotActuator) SelfTest() []SlotResult {
	slots := make([]int, 0, len(a.cfg.Slots))
	for slot := range a.cfg.Slots {
		slots = append(slots, slot)
	}
	sort.Ints(slots)
	results := make([]SlotResult, 0, len(slots))
	for _, slot := range slots {
		err := a.Dispense(slot, 1)
		if err != nil {
			a.log.Errorf("self-test slot %d: %v", slot, err)
		} else {
			a.log.Infof("self-test slot %d: ok", slot)
		}
		results = append(results, SlotResult{Slot: slot, Err: err})
	}
	return results
}

// Slots lists the configured slot numbers in ascending order.
func (a *SlotActuator) Slots() []int {
	slots := make([]int, 0, len(a.cfg.Slots))
	for slot := range a.cfg.Slots {
		slots = append(slots, slot)
	}
	sort.Ints(slots)
	return slots
}

// Close drives every pin low and releases the driver.
func (a *SlotActuator) Close() error {
	if a.ready {
		for _, pins := range a.cfg.Slots {
			a.forceIdle(pins)
		}
	}
	a.ready = false
	return a.driver.Close()
}
