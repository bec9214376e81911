package service

import (
	"sync"
	"time"

	"github.com/AnTengye/contractsign/model"
)

// HandoffStore keeps the last geolocation snapshot per key so a follow-up
// page can reuse it after its own acknowledgment flow.
type HandoffStore struct {
	mu    sync.RWMutex
	snaps map[string]handoffEntry
	limit int
	seq   uint64
	now   func() time.Time
}

type handoffEntry struct {
	snap  model.GeoSnapshot
	order uint64
}

func NewHandoffStore(limit int) *HandoffStore {
	return &HandoffStore{
		snaps: make(map[string]handoffEntry),
		limit: limit,
		now:   time.Now,
	}
}

func (h *HandoffStore) Put(key string, snap model.GeoSnapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if snap.CapturedAt.IsZero() {
		snap.CapturedAt = h.now()
	}
	h.seq++
	h.snaps[key] = handoffEntry{snap: snap, order: h.seq}

	if h.limit > 0 && len(h.snaps) > h.limit {
		var oldestKey string
		var oldest uint64
		for k, e := range h.snaps {
			if oldestKey == "" || e.order < oldest {
				oldestKey, oldest = k, e.order
			}
		}
		delete(h.snaps, oldestKey)
	}
}

// Get returns the snapshot for key and its age
func (h *HandoffStore) Get(key string) (model.GeoSnapshot, time.Duration, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.snaps[key]
	if !ok {
		return model.GeoSnapshot{}, 0, false
	}
	return e.snap, e.snap.Age(h.now()), true
}
