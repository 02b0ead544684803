package client

import (
	"sync"
	"time"

	"github.com/carebridge/dispenser/core/model"
)

// healthState tracks server reachability and the active role. Both servers
// are assumed reachable until the first check completes so startup calls are
// not rejected.
type healthState struct {
	mu        sync.Mutex
	st        model.HealthStatus
	hasBackup bool
}

func newHealthState(hasBackup bool) *healthState {
	return &healthState{
		st: model.HealthStatus{
			PrimaryOnline: true,
			BackupOnline:  hasBackup,
			Active:        model.RolePrimary,
		},
		hasBackup: hasBackup,
	}
}

func (h *healthState) snapshot() model.HealthStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.st
}

// order returns the servers to try, active first.
func (h *healthState) order() []model.ServerRole {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.hasBackup {
		return []model.ServerRole{model.RolePrimary}
	}
	if h.st.Active == model.RoleBackup {
		return []model.ServerRole{model.RoleBackup, model.RolePrimary}
	}
	return []model.ServerRole{model.RolePrimary, model.RoleBackup}
}

// update applies a health-check result. The primary is preferred whenever it
// is online; failback is automatic. It reports whether anything changed.
func (h *healthState) update(primary, backup bool, at time.Time) (bool, model.HealthStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	next := h.st
	next.PrimaryOnline = primary
	next.BackupOnline = backup
	switch {
	case primary:
		next.Active = model.RolePrimary
	case backup:
		next.Active = model.RoleBackup
	}
	// Both offline: keep the previous active role for when connectivity
	// returns.
	if next == h.st {
		return false, h.st
	}
	next.ChangedAt = at
	h.st = next
	return true, next
}
