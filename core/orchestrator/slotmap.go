package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/carebridge/dispenser/core/model"
)

// slotMapper fetches the device-wide medicine→slot table.
type slotMapper interface {
	FetchSlotMapping(ctx context.Context, deviceID string) (model.SlotMapping, error)
}

// slotMap caches the device-wide slot table with a bounded validity. A stale
// table is refetched, never served indefinitely.
type slotMap struct {
	mu        sync.Mutex
	fetcher   slotMapper
	deviceID  string
	ttl       time.Duration
	table     model.SlotMapping
	fetchedAt time.Time
	now       func() time.Time
}

func newSlotMap(fetcher slotMapper, deviceID string, ttl time.Duration) *slotMap {
	return &slotMap{
		fetcher:  fetcher,
		deviceID: deviceID,
		ttl:      ttl,
		now:      time.Now,
	}
}

// resolve returns the slot for a medicine, refreshing the table when absent
// or expired.
func (m *slotMap) resolve(ctx context.Context, medicineID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.table == nil || m.now().Sub(m.fetchedAt) > m.ttl {
		table, err := m.fetcher.FetchSlotMapping(ctx, m.deviceID)
		if err != nil {
			if m.table == nil {
				return 0, fmt.Errorf("fetch slot mapping: %w", err)
			}
			// Keep resolving from the expired table rather than fail
			// the item outright.
		} else {
			m.table = table
			m.fetchedAt = m.now()
		}
	}
	slot, ok := m.table[medicineID]
	if !ok {
		return 0, fmt.Errorf("no slot mapped for medicine %s", medicineID)
	}
	return slot, nil
}
