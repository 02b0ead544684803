package model

import "time"

// Identifier is the normalized token extracted from a scanned RFID tag.
type Identifier string

// Status classifies a server response at the client boundary so callers
// never inspect raw maps.
type Status string

const (
	StatusOK               Status = "ok"
	StatusUnregistered     Status = "unregistered"
	StatusError            Status = "error"
	StatusQueued           Status = "queued"
	StatusConfirmed        Status = "confirmed"
	StatusAlreadyConfirmed Status = "already_confirmed"
)

// User describes the holder of an authenticated identifier. The remote
// service owns this record; it is never persisted on the appliance.
type User struct {
	ID                    string `json:"id"`
	Name                  string `json:"name"`
	Role                  string `json:"role"`
	AlreadyDispensedToday bool   `json:"already_dispensed_today"`
}

// AuthResult is the decoded response of the authenticate operation.
type AuthResult struct {
	Status Status `json:"status"`
	User   User   `json:"user"`
}

// MedicineOrder is one row of the due-medicine list. Slot may be zero when
// the server leaves the slot resolution to the device-wide mapping table.
type MedicineOrder struct {
	MedicineID   string `json:"medicine_id"`
	MedicineName string `json:"medicine_name"`
	Dose         int    `json:"dose"`
	Slot         int    `json:"slot,omitempty"`
	Remaining    int    `json:"remaining,omitempty"`
	TimeOfDay    Period `json:"time_of_day,omitempty"`
}

// DispensedItem records one successfully actuated order for result reporting.
type DispensedItem struct {
	MedicineID string `json:"medicine_id"`
	Dose       int    `json:"dose"`
}

// ReportResult is the decoded response of the report-result operation.
// Insufficient lists medicines running low on stock; collaborators consume
// it, the core only logs it.
type ReportResult struct {
	Status       Status   `json:"status,omitempty"`
	Processed    []string `json:"processed"`
	Insufficient []string `json:"insufficient"`
}

// ConfirmResult is the decoded response of the confirm-intake operation.
type ConfirmResult struct {
	Status  Status `json:"status"`
	Message string `json:"message"`
}

// SlotMapping maps medicine IDs to slot numbers for this device.
type SlotMapping map[string]int

// ServerRole names which of the two configured servers a call went to.
type ServerRole string

const (
	RolePrimary ServerRole = "primary"
	RoleBackup  ServerRole = "backup"
)

// HealthStatus is a snapshot of server reachability published on each
// health-check transition.
type HealthStatus struct {
	PrimaryOnline bool
	BackupOnline  bool
	Active        ServerRole
	ChangedAt     time.Time
}

// Online reports whether any server is reachable.
func (h HealthStatus) Online() bool { return h.PrimaryOnline || h.BackupOnline }

// DispenseAttempt tracks the in-flight handling of one identifier. Items
// transition independently; the attempt succeeds if at least one dispensed.
type DispenseAttempt struct {
	Identifier Identifier
	Orders     []MedicineOrder
	Success    []DispensedItem
	Failed     []string
	Period     Period
	StartedAt  time.Time
}
