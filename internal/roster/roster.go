package roster

import (
	"sort"
	"sync"

	"classlens/pkg/types"
)

// entry is one connection's participant plus its insertion order
type entry struct {
	participant types.Participant
	seq         uint64
}

// Departure describes a participant removed from a session by DropConnection.
type Departure struct {
	SessionID   string
	Participant types.Participant
}

// Roster maps presence channel connections to participants per session
// ARCHITECTURAL DISCOVERY: Exactly one goroutine (the hub loop) mutates the
// roster, the RWMutex exists so delivery and HTTP readers can take snapshots
// concurrently with that writer
type Roster struct {
	mu          sync.RWMutex
	sessions    map[string]map[string]*entry   // sessionID -> connectionID -> entry
	memberships map[string]map[string]struct{} // connectionID -> set of sessionIDs
	seq         uint64
}

// New creates an empty roster
// FUNCTIONAL DISCOVERY: Initialize all maps to prevent nil map writes
func New() *Roster {
	return &Roster{
		sessions:    make(map[string]map[string]*entry),
		memberships: make(map[string]map[string]struct{}),
	}
}

// Join registers the participant for connectionID in sessionID
// Re-joining replaces name, role and account but keeps a transport id that
// was announced earlier, whichever order the two events arrived in.
func (r *Roster) Join(sessionID, connectionID string, p types.Participant) types.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()

	bucket := r.bucketLocked(sessionID)
	if existing, ok := bucket[connectionID]; ok {
		p.TransportID = existing.participant.TransportID
		existing.participant = p
		return p
	}

	p.TransportID = ""
	r.insertLocked(bucket, sessionID, connectionID, p)
	return p
}

// Announce records the transport id for connectionID
// FUNCTIONAL DISCOVERY: An announce may arrive before join, in which case the
// entry is created from the announce itself and join later fills in identity.
// The first transport id wins for the lifetime of the connection; the returned
// bool is false when a different id was ignored.
func (r *Roster) Announce(sessionID, connectionID string, p types.Participant) (types.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bucket := r.bucketLocked(sessionID)
	existing, ok := bucket[connectionID]
	if !ok {
		r.insertLocked(bucket, sessionID, connectionID, p)
		return p, true
	}

	current := existing.participant
	if current.TransportID != "" && current.TransportID != p.TransportID {
		return current, false
	}

	current.TransportID = p.TransportID
	if current.DisplayName == "" {
		current.DisplayName = p.DisplayName
	}
	if current.Role == "" {
		current.Role = p.Role
	}
	if current.AccountID == "" {
		current.AccountID = p.AccountID
	}
	existing.participant = current
	return current, true
}

// Leave removes connectionID from sessionID. The bool is false when there
// was nothing to remove, which makes repeated leaves a no-op.
func (r *Roster) Leave(sessionID, connectionID string) (types.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.removeLocked(sessionID, connectionID)
}

// DropConnection removes connectionID from every session that references it
func (r *Roster) DropConnection(connectionID string) []Departure {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessionIDs := make([]string, 0, len(r.memberships[connectionID]))
	for sessionID := range r.memberships[connectionID] {
		sessionIDs = append(sessionIDs, sessionID)
	}
	sort.Strings(sessionIDs)

	departures := make([]Departure, 0, len(sessionIDs))
	for _, sessionID := range sessionIDs {
		if p, ok := r.removeLocked(sessionID, connectionID); ok {
			departures = append(departures, Departure{SessionID: sessionID, Participant: p})
		}
	}
	return departures
}

// Snapshot returns announced participants in join order
// ARCHITECTURAL DISCOVERY: Participants without a transport id cannot be
// matched to a video tile, so they stay invisible until they announce
func (r *Roster) Snapshot(sessionID string) []types.Participant {
	return r.SnapshotExcept(sessionID, "")
}

// SnapshotExcept is Snapshot without the entry owned by connectionID
func (r *Roster) SnapshotExcept(sessionID, connectionID string) []types.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bucket := r.sessions[sessionID]
	entries := make([]*entry, 0, len(bucket))
	for id, e := range bucket {
		if id != connectionID && e.participant.Announced() {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	participants := make([]types.Participant, 0, len(entries))
	for _, e := range entries {
		participants = append(participants, e.participant)
	}
	return participants
}

// Connections returns every connection joined to the session, announced or not
func (r *Roster) Connections(sessionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bucket := r.sessions[sessionID]
	ids := make([]string, 0, len(bucket))
	for connectionID := range bucket {
		ids = append(ids, connectionID)
	}
	sort.Strings(ids)
	return ids
}

// Participant returns the entry owned by connectionID in sessionID
func (r *Roster) Participant(sessionID, connectionID string) (types.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.sessions[sessionID][connectionID]
	if !ok {
		return types.Participant{}, false
	}
	return e.participant, true
}

// Sessions returns the ids of sessions with at least one connection
func (r *Roster) Sessions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GetStats returns roster statistics for the health endpoint
func (r *Roster) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	participants := 0
	for _, bucket := range r.sessions {
		participants += len(bucket)
	}
	return map[string]int{
		"active_sessions":     len(r.sessions),
		"joined_participants": participants,
	}
}

func (r *Roster) bucketLocked(sessionID string) map[string]*entry {
	bucket, ok := r.sessions[sessionID]
	if !ok {
		bucket = make(map[string]*entry)
		r.sessions[sessionID] = bucket
	}
	return bucket
}

func (r *Roster) insertLocked(bucket map[string]*entry, sessionID, connectionID string, p types.Participant) {
	r.seq++
	bucket[connectionID] = &entry{participant: p, seq: r.seq}

	sessions, ok := r.memberships[connectionID]
	if !ok {
		sessions = make(map[string]struct{})
		r.memberships[connectionID] = sessions
	}
	sessions[sessionID] = struct{}{}
}

// removeLocked deletes the entry and cleans up empty maps on both indexes
// TECHNICAL DISCOVERY: Clean up empty maps to prevent memory growth from churn
func (r *Roster) removeLocked(sessionID, connectionID string) (types.Participant, bool) {
	bucket, ok := r.sessions[sessionID]
	if !ok {
		return types.Participant{}, false
	}
	e, ok := bucket[connectionID]
	if !ok {
		return types.Participant{}, false
	}

	delete(bucket, connectionID)
	if len(bucket) == 0 {
		delete(r.sessions, sessionID)
	}

	if sessions, ok := r.memberships[connectionID]; ok {
		delete(sessions, sessionID)
		if len(sessions) == 0 {
			delete(r.memberships, connectionID)
		}
	}
	return e.participant, true
}
