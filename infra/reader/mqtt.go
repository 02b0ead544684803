package reader

import (
	"fmt"
	"sync"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/carebridge/dispenser/core/logger"
	"github.com/carebridge/dispenser/core/reader"
	"github.com/carebridge/dispenser/infra/mqtt"
)

// MQTTTransport receives scans from a networked tag reader publishing raw
// identifiers on a broker topic.
type MQTTTransport struct {
	cli   paho.Client
	topic string
	log   logger.Logger

	mu     sync.Mutex
	lines  chan string
	closed bool
}

var _ reader.Transport = (*MQTTTransport)(nil)

// NewMQTTTransport connects to the broker and subscribes to the scan topic.
func NewMQTTTransport(cfg mqtt.Config, log logger.Logger) (*MQTTTransport, error) {
	if cfg.ScanTopic == "" {
		return nil, fmt.Errorf("scan_topic is required")
	}
	cli, err := mqtt.Connect(cfg, log)
	if err != nil {
		return nil, err
	}
	t := &MQTTTransport{
		cli:   cli,
		topic: cfg.ScanTopic,
		log:   log,
		lines: make(chan string, 8),
	}
	if token := cli.Subscribe(cfg.ScanTopic, cfg.QoS, t.onScan); token.Wait() && token.Error() != nil {
		cli.Disconnect(250)
		return nil, fmt.Errorf("subscribe %s: %w", cfg.ScanTopic, token.Error())
	}
	return t, nil
}

func (t *MQTTTransport) onScan(_ paho.Client, msg paho.Message) {
	select {
	case t.lines <- string(msg.Payload()):
	default:
		t.log.Warnf("scan buffer full, dropping message from %s", msg.Topic())
	}
}

// ReadLine returns a pending scan, or ErrNoData.
func (t *MQTTTransport) ReadLine() (string, error) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return "", fmt.Errorf("transport closed")
	}
	select {
	case line := <-t.lines:
		return line, nil
	default:
		return "", reader.ErrNoData
	}
}

// Close disconnects from the broker.
func (t *MQTTTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		t.cli.Disconnect(250)
	}
	return nil
}
