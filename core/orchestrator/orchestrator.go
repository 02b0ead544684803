// Package orchestrator ties the reader, guard, client and actuator together:
// one accepted identifier becomes at most one authenticated dispense attempt,
// reported back to the medication service.
package orchestrator

import (
	"context"
	"time"

	"github.com/carebridge/dispenser/core/events"
	"github.com/carebridge/dispenser/core/guard"
	"github.com/carebridge/dispenser/core/logger"
	"github.com/carebridge/dispenser/core/metrics"
	"github.com/carebridge/dispenser/core/model"
	"github.com/carebridge/dispenser/internal/eventbus"
)

// Outcome classifies how the handling of one identifier ended.
type Outcome string

const (
	// OutcomeIgnored means the guard rejected the attempt: the card is
	// still in the field from a prior scan.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeDenied means the identifier is not registered.
	OutcomeDenied Outcome = "denied"
	// OutcomeAuthFailed means authentication did not complete.
	OutcomeAuthFailed Outcome = "auth_failed"
	// OutcomeAlreadyTaken means today's dose was already dispensed.
	OutcomeAlreadyTaken Outcome = "already_taken"
	// OutcomeNoOrders means nothing was due.
	OutcomeNoOrders Outcome = "no_orders"
	// OutcomeDispensed means every due order dispensed.
	OutcomeDispensed Outcome = "dispensed"
	// OutcomePartial means some orders dispensed, some failed.
	OutcomePartial Outcome = "partial"
	// OutcomeFailed means no order could be dispensed.
	OutcomeFailed Outcome = "failed"
)

// Backend is the slice of the resilient client the orchestrator consumes.
type Backend interface {
	Authenticate(ctx context.Context, id model.Identifier) (model.AuthResult, error)
	FetchDueOrders(ctx context.Context, id model.Identifier) ([]model.MedicineOrder, error)
	ReportResult(ctx context.Context, id model.Identifier, success []model.DispensedItem) (model.ReportResult, error)
	ConfirmIntake(ctx context.Context, id model.Identifier) (model.ConfirmResult, error)
	FetchSlotMapping(ctx context.Context, deviceID string) (model.SlotMapping, error)
}

// Actuator is the slice of the slot actuator the orchestrator consumes.
type Actuator interface {
	Dispense(slot, dose int) error
}

// Config parameterizes the orchestrator.
type Config struct {
	DeviceID          string
	SlotMapTTLSeconds int
}

// Orchestrator runs the dispense state machine. It is driven from the single
// control loop; Handle is not safe for concurrent use and does not need to
// be, the guard rejects overlap from any other entry point.
type Orchestrator struct {
	backend Backend
	act     Actuator
	guard   *guard.ProcessingGuard
	slots   *slotMap
	bus     *eventbus.Bus
	sink    metrics.Sink
	log     logger.Logger

	now func() time.Time
}

// New creates an Orchestrator. sink may be nil.
func New(cfg Config, backend Backend, act Actuator, g *guard.ProcessingGuard, bus *eventbus.Bus, sink metrics.Sink, log logger.Logger) *Orchestrator {
	if cfg.SlotMapTTLSeconds <= 0 {
		cfg.SlotMapTTLSeconds = 300
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Orchestrator{
		backend: backend,
		act:     act,
		guard:   g,
		slots:   newSlotMap(backend, cfg.DeviceID, time.Duration(cfg.SlotMapTTLSeconds)*time.Second),
		bus:     bus,
		sink:    sink,
		log:     log,
		now:     time.Now,
	}
}

// Handle runs one identifier through the full state machine. The guard is
// released exactly once on every path.
func (o *Orchestrator) Handle(ctx context.Context, id model.Identifier) Outcome {
	if !o.guard.TryAcquire(id) {
		return OutcomeIgnored
	}
	defer o.guard.Release()

	started := o.now()
	o.bus.Publish(events.CardDetected{Identifier: id, At: started})

	auth, err := o.backend.Authenticate(ctx, id)
	if err != nil {
		o.log.Errorf("authenticate %s: %v", id, err)
		o.bus.Publish(events.AuthResult{Identifier: id, Success: false, Status: auth.Status})
		o.bus.Publish(events.ConnectionError{Message: err.Error()})
		return OutcomeAuthFailed
	}
	switch auth.Status {
	case model.StatusOK:
	case model.StatusUnregistered:
		o.log.Warnf("identifier %s is not registered", id)
		o.bus.Publish(events.AuthResult{Identifier: id, Success: false, Status: auth.Status})
		return OutcomeDenied
	default:
		o.log.Errorf("authenticate %s: unexpected status %q", id, auth.Status)
		o.bus.Publish(events.AuthResult{Identifier: id, Success: false, Status: auth.Status})
		return OutcomeAuthFailed
	}
	o.bus.Publish(events.AuthResult{Identifier: id, Success: true, Status: auth.Status, UserName: auth.User.Name})

	if auth.User.AlreadyDispensedToday {
		o.log.Infof("user %s already received today's dose", auth.User.Name)
		o.bus.Publish(events.AlreadyTaken{Identifier: id, UserName: auth.User.Name})
		return OutcomeAlreadyTaken
	}
	if auth.User.ID == "" {
		// The service answered ok without a user record, so today's
		// eligibility is unknown. Dispensing continues; withholding a
		// due dose is the worse failure mode.
		o.log.Warnf("authenticate %s: no user record in response, eligibility unknown", id)
	}

	orders, err := o.backend.FetchDueOrders(ctx, id)
	if err != nil {
		o.log.Errorf("fetch due orders for %s: %v", id, err)
		o.bus.Publish(events.ConnectionError{Message: err.Error()})
		return OutcomeFailed
	}
	if len(orders) == 0 {
		o.log.Infof("no orders due for %s", id)
		o.bus.Publish(events.NoOrdersDue{Identifier: id})
		return OutcomeNoOrders
	}

	attempt := model.DispenseAttempt{
		Identifier: id,
		Orders:     orders,
		Period:     model.PeriodOf(started),
		StartedAt:  started,
	}
	o.bus.Publish(events.DispenseStarted{Identifier: id, Orders: len(orders)})
	o.log.Infof("dispense starting for %s: %d orders, period %s", id, len(orders), attempt.Period)

	recorded := make([]metrics.DispenseEvent, 0, len(orders))
	for _, order := range orders {
		ev := o.dispenseOrder(ctx, &attempt, order)
		recorded = append(recorded, ev)
	}
	if err := o.sink.RecordDispense(recorded); err != nil {
		o.log.Warnf("record dispense metrics: %v", err)
	}

	if len(attempt.Success) == 0 {
		o.log.Errorf("no order dispensed for %s", id)
		return OutcomeFailed
	}

	o.report(ctx, &attempt)
	o.bus.Publish(events.DispenseCompleted{
		Identifier: id,
		Count:      len(attempt.Success),
		Duration:   o.now().Sub(started),
	})
	if len(attempt.Failed) > 0 {
		return OutcomePartial
	}
	return OutcomeDispensed
}

// dispenseOrder actuates one order. Item failures are independent; the
// remaining orders still run.
func (o *Orchestrator) dispenseOrder(ctx context.Context, attempt *model.DispenseAttempt, order model.MedicineOrder) metrics.DispenseEvent {
	start := o.now()
	slot := order.Slot
	var err error
	if slot <= 0 {
		slot, err = o.slots.resolve(ctx, order.MedicineID)
	}
	if err == nil {
		if order.TimeOfDay != "" && order.TimeOfDay != attempt.Period {
			o.log.Warnf("order %s is scheduled for %s, current period is %s",
				order.MedicineID, order.TimeOfDay, attempt.Period)
		}
		err = o.act.Dispense(slot, order.Dose)
	}

	if err != nil {
		o.log.Errorf("dispense %s (slot %d, dose %d): %v", order.MedicineID, slot, order.Dose, err)
		attempt.Failed = append(attempt.Failed, order.MedicineID)
	} else {
		attempt.Success = append(attempt.Success, model.DispensedItem{
			MedicineID: order.MedicineID,
			Dose:       order.Dose,
		})
	}
	o.bus.Publish(events.DispenseItemResult{
		MedicineID:   order.MedicineID,
		MedicineName: order.MedicineName,
		Slot:         slot,
		Dose:         order.Dose,
		Success:      err == nil,
		Err:          err,
	})
	return metrics.DispenseEvent{
		Identifier: string(attempt.Identifier),
		MedicineID: order.MedicineID,
		Slot:       slot,
		Dose:       order.Dose,
		Success:    err == nil,
		Duration:   o.now().Sub(start),
		At:         start,
	}
}

// report delivers the success list and confirms the intake. Neither failure
// reverses the physical dispense; the system favors under-counting over
// re-dispensing.
func (o *Orchestrator) report(ctx context.Context, attempt *model.DispenseAttempt) {
	res, err := o.backend.ReportResult(ctx, attempt.Identifier, attempt.Success)
	if err != nil {
		o.log.Errorf("report result for %s: %v", attempt.Identifier, err)
		o.bus.Publish(events.ConnectionError{Message: err.Error()})
	} else {
		if res.Status == model.StatusQueued {
			o.log.Warnf("result for %s queued for later delivery", attempt.Identifier)
		}
		if len(res.Insufficient) > 0 {
			o.log.Warnf("low stock reported for: %v", res.Insufficient)
			o.bus.Publish(events.LowStock{Medicines: res.Insufficient})
		}
	}

	conf, err := o.backend.ConfirmIntake(ctx, attempt.Identifier)
	if err != nil {
		o.log.Errorf("confirm intake for %s: %v", attempt.Identifier, err)
		return
	}
	if conf.Status == model.StatusAlreadyConfirmed {
		o.log.Warnf("intake for %s was already confirmed", attempt.Identifier)
	}
}
