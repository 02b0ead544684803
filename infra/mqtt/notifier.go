package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/carebridge/dispenser/core/events"
	"github.com/carebridge/dispenser/core/logger"
	"github.com/carebridge/dispenser/internal/eventbus"
)

// publisher is the slice of the paho client the notifier uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

// Notifier republishes appliance events on the broker so the dashboard and
// voice collaborators can react without linking against the core. Topics are
// <root>/<device_id>/event/<type>.
type Notifier struct {
	cli      publisher
	root     string
	deviceID string
	qos      byte
	log      logger.Logger
	bus      *eventbus.Bus
}

// NewNotifier connects to the broker and returns a Notifier ready to Run.
func NewNotifier(cfg Config, deviceID string, bus *eventbus.Bus, log logger.Logger) (*Notifier, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cli, err := Connect(cfg, log)
	if err != nil {
		return nil, err
	}
	return &Notifier{
		cli:      cli,
		root:     cfg.TopicRoot,
		deviceID: deviceID,
		qos:      cfg.QoS,
		log:      log,
		bus:      bus,
	}, nil
}

// Run forwards bus events to the broker until the context is canceled.
func (n *Notifier) Run(ctx context.Context) {
	sub := n.bus.Subscribe()
	defer n.bus.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			n.publish(ev)
		}
	}
}

func (n *Notifier) publish(ev eventbus.Event) {
	kind, payload := describe(ev)
	if kind == "" {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		n.log.Errorf("encode %s event: %v", kind, err)
		return
	}
	topic := fmt.Sprintf("%s/%s/event/%s", n.root, n.deviceID, kind)
	token := n.cli.Publish(topic, n.qos, false, body)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		n.log.Errorf("publish %s: %v", topic, token.Error())
	}
}

// describe maps a bus event to its topic suffix and wire payload. Unknown
// event types are skipped.
func describe(ev eventbus.Event) (string, any) {
	switch e := ev.(type) {
	case events.CardDetected:
		return "card_detected", map[string]any{"identifier": string(e.Identifier), "at": e.At.Format(time.RFC3339)}
	case events.AuthResult:
		return "auth_result", map[string]any{"identifier": string(e.Identifier), "success": e.Success, "status": string(e.Status)}
	case events.DispenseStarted:
		return "dispense_started", map[string]any{"identifier": string(e.Identifier), "orders": e.Orders}
	case events.DispenseItemResult:
		out := map[string]any{"medicine_id": e.MedicineID, "slot": e.Slot, "dose": e.Dose, "success": e.Success}
		if e.Err != nil {
			out["error"] = e.Err.Error()
		}
		return "dispense_item_result", out
	case events.DispenseCompleted:
		return "dispense_completed", map[string]any{"identifier": string(e.Identifier), "count": e.Count, "duration_ms": e.Duration.Milliseconds()}
	case events.AlreadyTaken:
		return "already_taken", map[string]any{"identifier": string(e.Identifier), "user_name": e.UserName}
	case events.NoOrdersDue:
		return "no_orders_due", map[string]any{"identifier": string(e.Identifier)}
	case events.LowStock:
		return "low_stock", map[string]any{"medicines": e.Medicines}
	case events.ConnectionError:
		return "connection_error", map[string]any{"message": e.Message}
	default:
		return "", nil
	}
}

// Close disconnects from the broker.
func (n *Notifier) Close() {
	if n.cli != nil && n.cli.IsConnected() {
		n.cli.Disconnect(250)
	}
}
