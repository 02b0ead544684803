package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/carebridge/dispenser/app"
	"github.com/carebridge/dispenser/config"
	"github.com/carebridge/dispenser/core/actuator"
	"github.com/carebridge/dispenser/core/client"
	"github.com/carebridge/dispenser/core/client/queue"
	"github.com/carebridge/dispenser/core/guard"
	"github.com/carebridge/dispenser/core/orchestrator"
	"github.com/carebridge/dispenser/core/reader"
	"github.com/carebridge/dispenser/infra/gpio"
	"github.com/carebridge/dispenser/infra/logger"
	"github.com/carebridge/dispenser/internal/eventbus"
)

var scanCmd = &cobra.Command{
	Use:   "scan <identifier>",
	Short: "Inject one scan and run the orchestration once",
	Args:  cobra.ExactArgs(1),
	RunE:  scan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
}

func scan(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	id, ok := reader.Normalize(args[0])
	if !ok {
		return fmt.Errorf("identifier %q does not match any accepted shape", args[0])
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New("scan-command")
	store, err := queue.NewStore(cfg.Queue.Backend, cfg.Queue.Path)
	if err != nil {
		return fmt.Errorf("queue store: %w", err)
	}
	cl, err := client.New(cfg.Server, store, nil, logger.New("client"))
	if err != nil {
		return fmt.Errorf("client: %w", err)
	}
	defer func() {
		if err := cl.Close(); err != nil {
			log.Errorf("client close: %v", err)
		}
	}()

	var driver actuator.PinDriver
	if cfg.Hardware.Simulation {
		driver = gpio.NewSimDriver(logger.New("gpio"))
	} else {
		driver = gpio.NewSysfsDriver(logger.New("gpio"))
	}
	act, err := actuator.New(cfg.Hardware.Pins, driver, logger.New("actuator"))
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

	deviceID, err := app.LoadOrCreateDeviceID(cfg.Device.IdentityFile)
	if err != nil {
		return err
	}
	bus := eventbus.New()
	defer bus.Close()
	orch := orchestrator.New(orchestrator.Config{
		DeviceID:          deviceID,
		SlotMapTTLSeconds: cfg.Dispense.SlotMapTTLSeconds,
	}, cl, act, guard.New(), bus, nil, logger.New("orchestrator"))

	outcome := orch.Handle(ctx, id)
	fmt.Printf("%s: %s\n", id, outcome)
	if outcome == orchestrator.OutcomeFailed || outcome == orchestrator.OutcomeAuthFailed {
		return fmt.Errorf("handling %s ended in %s", id, outcome)
	}
	return nil
}
