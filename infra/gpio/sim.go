package gpio

import (
	"fmt"
	"sync"

	"github.com/carebridge/dispenser/core/actuator"
	"github.com/carebridge/dispenser/core/logger"
)

// SimDriver is an in-memory pin driver for machines without GPIO hardware.
// Every transition is logged so a dispense cycle can be followed by eye.
type SimDriver struct {
	mu    sync.Mutex
	log   logger.Logger
	state map[int]bool
}

var _ actuator.PinDriver = (*SimDriver)(nil)

// NewSimDriver creates a simulated driver.
func NewSimDriver(log logger.Logger) *SimDriver {
	return &SimDriver{log: log, state: map[int]bool{}}
}

func (d *SimDriver) Setup(pin int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state[pin] = false
	d.log.Debugf("sim: pin %d configured as output", pin)
	return nil
}

func (d *SimDriver) Set(pin int, high bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.state[pin]; !ok {
		return fmt.Errorf("sim: pin %d not set up", pin)
	}
	d.state[pin] = high
	d.log.Debugf("sim: pin %d -> %v", pin, high)
	return nil
}

// State reports the current level of a pin.
func (d *SimDriver) State(pin int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state[pin]
}

func (d *SimDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = map[int]bool{}
	return nil
}
