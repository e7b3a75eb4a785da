package alert

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"classlens/pkg/types"
)

// Board holds transient low-engagement alerts per session
// ARCHITECTURAL DISCOVERY: Alerts are a reaction to the fan-out stream and
// are never persisted; a restart simply starts with an empty board
type Board struct {
	mu        sync.Mutex
	threshold int
	ttl       time.Duration
	capacity  int
	now       func() time.Time
	sessions  map[string][]types.Alert // sessionID -> alerts, oldest first
}

// NewBoard raises an alert for every score below threshold, keeping at most
// capacity alerts per session, each for ttl
func NewBoard(threshold int, ttl time.Duration, capacity int) *Board {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	if capacity <= 0 {
		capacity = 3
	}
	return &Board{
		threshold: threshold,
		ttl:       ttl,
		capacity:  capacity,
		now:       time.Now,
		sessions:  make(map[string][]types.Alert),
	}
}

// Observe implements engagement.Subscriber
func (b *Board) Observe(update types.EngagementUpdatePayload) {
	b.Raise(update)
}

// Raise records an alert when the update is below the threshold.
// The bool reports whether an alert was raised.
func (b *Board) Raise(update types.EngagementUpdatePayload) (types.Alert, bool) {
	if update.Score >= b.threshold {
		return types.Alert{}, false
	}

	now := b.now()
	alert := types.Alert{
		ID:               uuid.NewString(),
		SessionID:        update.SessionID,
		StudentAccountID: update.StudentAccountID,
		DisplayName:      update.DisplayName,
		Score:            update.Score,
		RaisedAt:         now,
		ExpiresAt:        now.Add(b.ttl),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	alerts := append(liveAlerts(b.sessions[update.SessionID], now), alert)
	if len(alerts) > b.capacity {
		alerts = alerts[len(alerts)-b.capacity:]
	}
	b.sessions[update.SessionID] = alerts

	return alert, true
}

// Active returns the session's unexpired alerts, oldest first
func (b *Board) Active(sessionID string) []types.Alert {
	b.mu.Lock()
	defer b.mu.Unlock()

	alerts := liveAlerts(b.sessions[sessionID], b.now())
	if len(alerts) == 0 {
		delete(b.sessions, sessionID)
		return []types.Alert{}
	}
	b.sessions[sessionID] = alerts
	return append([]types.Alert(nil), alerts...)
}

// Prune drops expired alerts everywhere and returns how many were removed
func (b *Board) Prune() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	removed := 0

	sessionIDs := make([]string, 0, len(b.sessions))
	for id := range b.sessions {
		sessionIDs = append(sessionIDs, id)
	}
	sort.Strings(sessionIDs)

	for _, id := range sessionIDs {
		before := len(b.sessions[id])
		alerts := liveAlerts(b.sessions[id], now)
		removed += before - len(alerts)
		if len(alerts) == 0 {
			delete(b.sessions, id)
			continue
		}
		b.sessions[id] = alerts
	}
	return removed
}

// Run prunes on every tick until ctx is done
func (b *Board) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.Prune()
		case <-ctx.Done():
			return
		}
	}
}

// liveAlerts filters into a fresh slice so callers never alias board storage
func liveAlerts(alerts []types.Alert, now time.Time) []types.Alert {
	live := make([]types.Alert, 0, len(alerts)+1)
	for _, a := range alerts {
		if now.Before(a.ExpiresAt) {
			live = append(live, a)
		}
	}
	return live
}
