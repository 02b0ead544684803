// Package guard provides the mutual-exclusion primitive protecting the
// single mechanical dispenser from overlapping handlings. Exactly one
// identifier may be in flight system-wide; the orchestrator acquires before
// any server exchange and releases on every exit path.
package guard

import (
	"sync"

	"github.com/carebridge/dispenser/core/model"
)

// ProcessingGuard tracks the identifier currently being handled.
type ProcessingGuard struct {
	mu      sync.Mutex
	current model.Identifier
	busy    bool
}

// New creates an idle ProcessingGuard.
func New() *ProcessingGuard { return &ProcessingGuard{} }

// TryAcquire records id as the in-flight identifier. It returns false when
// any identifier is already being handled, regardless of which one.
func (g *ProcessingGuard) TryAcquire(id model.Identifier) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.busy {
		return false
	}
	g.busy = true
	g.current = id
	return true
}

// Release clears the in-flight identifier. It is unconditional and safe to
// call when nothing is held.
func (g *ProcessingGuard) Release() {
	g.mu.Lock()
	g.busy = false
	g.current = ""
	g.mu.Unlock()
}

// Current returns the identifier being handled, or "" when idle. Diagnostic
// only.
func (g *ProcessingGuard) Current() model.Identifier {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}
