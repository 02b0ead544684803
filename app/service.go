// Package app wires the configured transports, client, actuator and
// orchestrator into the running appliance service.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/carebridge/dispenser/config"
	"github.com/carebridge/dispenser/core/actuator"
	"github.com/carebridge/dispenser/core/client"
	"github.com/carebridge/dispenser/core/client/queue"
	"github.com/carebridge/dispenser/core/events"
	"github.com/carebridge/dispenser/core/guard"
	coremetrics "github.com/carebridge/dispenser/core/metrics"
	"github.com/carebridge/dispenser/core/orchestrator"
	"github.com/carebridge/dispenser/core/reader"
	"github.com/carebridge/dispenser/infra/gpio"
	"github.com/carebridge/dispenser/infra/logger"
	"github.com/carebridge/dispenser/infra/metrics"
	"github.com/carebridge/dispenser/infra/mqtt"
	infrareader "github.com/carebridge/dispenser/infra/reader"
	"github.com/carebridge/dispenser/internal/eventbus"
)

// Service owns every component of the appliance and runs the control loop.
type Service struct {
	cfg      *config.Config
	deviceID string
	reader   *reader.Reader
	client   *client.Client
	actuator *actuator.SlotActuator
	orch     *orchestrator.Orchestrator
	bus      *eventbus.Bus
	notifier *mqtt.Notifier
	sink     coremetrics.Sink
	log      logger.Logger
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	log := logger.New("service")

	deviceID, err := LoadOrCreateDeviceID(cfg.Device.IdentityFile)
	if err != nil {
		return nil, err
	}
	log.Infof("device identity: %s", deviceID)

	sink, err := buildSink(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	store, err := queue.NewStore(cfg.Queue.Backend, cfg.Queue.Path)
	if err != nil {
		return nil, fmt.Errorf("queue store: %w", err)
	}
	cl, err := client.New(cfg.Server, store, sink, logger.New("client"))
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}

	transport, err := buildTransport(cfg, deviceID)
	if err != nil {
		return nil, fmt.Errorf("scan transport: %w", err)
	}
	rd := reader.New(transport, time.Duration(cfg.Reader.DebounceMS)*time.Millisecond, sink, logger.New("reader"))

	var driver actuator.PinDriver
	if cfg.Hardware.Simulation {
		driver = gpio.NewSimDriver(logger.New("gpio"))
	} else {
		driver = gpio.NewSysfsDriver(logger.New("gpio"))
	}
	act, err := actuator.New(cfg.Hardware.Pins, driver, logger.New("actuator"))
	if err != nil {
		return nil, fmt.Errorf("actuator: %w", err)
	}

	bus := eventbus.New()
	orch := orchestrator.New(orchestrator.Config{
		DeviceID:          deviceID,
		SlotMapTTLSeconds: cfg.Dispense.SlotMapTTLSeconds,
	}, cl, act, guard.New(), bus, sink, logger.New("orchestrator"))

	svc := &Service{
		cfg:      cfg,
		deviceID: deviceID,
		reader:   rd,
		client:   cl,
		actuator: act,
		orch:     orch,
		bus:      bus,
		sink:     sink,
		log:      log,
	}
	if cfg.MQTT.Enabled {
		notifier, err := mqtt.NewNotifier(cfg.MQTT, deviceID, bus, logger.New("notifier"))
		if err != nil {
			return nil, fmt.Errorf("notifier: %w", err)
		}
		svc.notifier = notifier
	}
	return svc, nil
}

func buildSink(cfg coremetrics.Config) (coremetrics.Sink, error) {
	var sinks []coremetrics.Sink
	if cfg.PrometheusEnabled {
		sink, err := metrics.NewPromSink(prometheus.DefaultRegisterer)
		if err != nil {
			return nil, fmt.Errorf("prom sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	if cfg.InfluxEnabled {
		sinks = append(sinks, metrics.NewInfluxSinkWithFallback(cfg))
	}
	switch len(sinks) {
	case 0:
		return coremetrics.NopSink{}, nil
	case 1:
		return sinks[0], nil
	default:
		return metrics.NewMultiSink(sinks...), nil
	}
}

func buildTransport(cfg *config.Config, deviceID string) (reader.Transport, error) {
	switch cfg.Reader.Mode {
	case "stdin":
		return infrareader.NewStdinTransport(), nil
	case "mqtt":
		mcfg := cfg.MQTT
		if mcfg.ClientID == "" {
			mcfg.ClientID = deviceID + "-scan"
		}
		return infrareader.NewMQTTTransport(mcfg, logger.New("scan-transport"))
	default:
		return infrareader.NewSerialTransport(cfg.Reader.Device, logger.New("scan-transport")), nil
	}
}

// Run starts the service and blocks until the context is cancelled. A
// dispense in progress when the context ends still runs to completion.
func (s *Service) Run(ctx context.Context) error {
	if err := s.actuator.Init(); err != nil {
		return fmt.Errorf("actuator init: %w", err)
	}
	if s.cfg.Dispense.SelfTestOnStart {
		for _, res := range s.actuator.SelfTest() {
			if res.Err != nil {
				s.log.Errorf("slot %d failed self-test: %v", res.Slot, res.Err)
			}
		}
	}

	s.client.CheckHealth(ctx)
	if registered, err := s.client.IsDeviceRegistered(ctx, s.deviceID); err != nil {
		s.log.Warnf("device registration check: %v", err)
	} else if !registered {
		s.log.Warnf("device %s has no registered users yet", s.deviceID)
	}

	go s.client.Run(ctx)
	go s.watchHealth(ctx)
	if s.notifier != nil {
		go s.notifier.Run(ctx)
	}
	if s.cfg.Metrics.PrometheusEnabled {
		go func() {
			if err := metrics.StartPromServer(ctx, s.cfg.Metrics.PrometheusPort); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}

	s.log.Infof("ready, polling for tags")
	idle := time.Duration(s.cfg.Reader.PollIntervalMS) * time.Millisecond
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		id, ok := s.reader.Read()
		if !ok {
			time.Sleep(idle)
			continue
		}
		outcome := s.orch.Handle(ctx, id)
		s.log.Infof("handled %s: %s", id, outcome)
	}
}

// watchHealth republishes client health transitions as connection events for
// the dashboard and voice collaborators.
func (s *Service) watchHealth(ctx context.Context) {
	updates := s.client.HealthUpdates()
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-updates:
			if !ok {
				return
			}
			if !st.Online() {
				s.bus.Publish(events.ConnectionError{Message: "no medication server reachable"})
			} else {
				s.log.Infof("server connectivity restored, active=%s", st.Active)
			}
		}
	}
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	if s.notifier != nil {
		s.notifier.Close()
	}
	if err := s.reader.Close(); err != nil {
		s.log.Errorf("reader close: %v", err)
	}
	if err := s.client.Close(); err != nil {
		s.log.Errorf("client close: %v", err)
	}
	err := s.actuator.Close()
	if n := s.bus.Dropped(); n > 0 {
		s.log.Warnf("event bus dropped %d events on slow subscribers", n)
	}
	s.bus.Close()
	return err
}
