package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/carebridge/dispenser/config"
	"github.com/carebridge/dispenser/core/actuator"
	"github.com/carebridge/dispenser/infra/gpio"
	"github.com/carebridge/dispenser/infra/logger"
)

var selftestCmd = &cobra.Command{
	Use:   "selftest",
	Short: "Cycle every configured slot once and report per-slot results",
	RunE:  selftest,
}

func init() {
	rootCmd.AddCommand(selftestCmd)
}

func selftest(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New("selftest")
	var driver actuator.PinDriver
	if cfg.Hardware.Simulation {
		driver = gpio.NewSimDriver(log)
	} else {
		driver = gpio.NewSysfsDriver(log)
	}
	act, err := actuator.New(cfg.Hardware.Pins, driver, log)
	if err != nil {
		return fmt.Errorf("actuator: %w", err)
	}
	defer func() {
		if err := act.Close(); err != nil {
			log.Errorf("actuator close: %v", err)
		}
	}()
	if err := act.Init(); err != nil {
		return fmt.Errorf("actuator init: %w", err)
	}

	failed := 0
	for _, res := range act.SelfTest() {
		if res.Err != nil {
			failed++
			fmt.Printf("slot %d: FAIL (%v)\n", res.Slot, res.Err)
		} else {
			fmt.Printf("slot %d: ok\n", res.Slot)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d slot(s) failed", failed)
	}
	return nil
}
