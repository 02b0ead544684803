package events

import (
	"time"

	"github.com/carebridge/dispenser/core/model"
)

// CardDetected is published when the reader accepts a valid identifier.
type CardDetected struct {
	Identifier model.Identifier
	At         time.Time
}

// AuthResult is published after the authenticate exchange.
type AuthResult struct {
	Identifier model.Identifier
	Success    bool
	Status     model.Status
	UserName   string
}

// DispenseStarted is published before the first slot actuation.
type DispenseStarted struct {
	Identifier model.Identifier
	Orders     int
}

// DispenseItemResult is published once per order after its actuation.
type DispenseItemResult struct {
	MedicineID   string
	MedicineName string
	Slot         int
	Dose         int
	Success      bool
	Err          error
}

// DispenseCompleted is published when handling finishes having dispensed at
// least one item. Count is the number of dispensed items.
type DispenseCompleted struct {
	Identifier model.Identifier
	Count      int
	Duration   time.Duration
}

// AlreadyTaken is published when the eligibility check skips actuation.
type AlreadyTaken struct {
	Identifier model.Identifier
	UserName   string
}

// NoOrdersDue is published when the due-medicine list is empty.
type NoOrdersDue struct {
	Identifier model.Identifier
}

// LowStock is published when the report response lists medicines with
// insufficient remaining stock.
type LowStock struct {
	Medicines []string
}

// ConnectionError is published when a server exchange fails permanently.
type ConnectionError struct {
	Message string
}
