// Package gpio provides pin driver backends: the Linux sysfs interface for
// real hardware and an in-memory simulator for development machines.
package gpio

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/carebridge/dispenser/core/actuator"
	"github.com/carebridge/dispenser/core/logger"
)

const sysfsRoot = "/sys/class/gpio"

// SysfsDriver drives pins through /sys/class/gpio. Pins are exported on
// Setup and unexported on Close.
type SysfsDriver struct {
	root     string
	log      logger.Logger
	exported []int
}

var _ actuator.PinDriver = (*SysfsDriver)(nil)

// NewSysfsDriver creates a driver rooted at /sys/class/gpio.
func NewSysfsDriver(log logger.Logger) *SysfsDriver {
	return &SysfsDriver{root: sysfsRoot, log: log}
}

// Setup exports the pin and configures it as an output. An already exported
// pin is reused.
func (d *SysfsDriver) Setup(pin int) error {
	dir := filepath.Join(d.root, fmt.Sprintf("gpio%d", pin))
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.WriteFile(filepath.Join(d.root, "export"), []byte(fmt.Sprintf("%d", pin)), 0o644); err != nil {
			return fmt.Errorf("export pin %d: %w", pin, err)
		}
		// The kernel needs a moment to create the pin directory and fix
		// its permissions.
		time.Sleep(100 * time.Millisecond)
	}
	if err := os.WriteFile(filepath.Join(dir, "direction"), []byte("out"), 0o644); err != nil {
		return fmt.Errorf("set direction pin %d: %w", pin, err)
	}
	d.exported = append(d.exported, pin)
	return nil
}

// Set drives the pin high or low.
func (d *SysfsDriver) Set(pin int, high bool) error {
	value := "0"
	if high {
		value = "1"
	}
	path := filepath.Join(d.root, fmt.Sprintf("gpio%d", pin), "value")
	if err := os.WriteFile(path, []byte(value), 0o644); err != nil {
		return fmt.Errorf("write pin %d: %w", pin, err)
	}
	return nil
}

// Close unexports every pin this driver set up.
func (d *SysfsDriver) Close() error {
	for _, pin := range d.exported {
		if err := os.WriteFile(filepath.Join(d.root, "unexport"), []byte(fmt.Sprintf("%d", pin)), 0o644); err != nil {
			d.log.Warnf("unexport pin %d: %v", pin, err)
		}
	}
	d.exported = nil
	return nil
}
