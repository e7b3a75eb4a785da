package interfaces

import (
	"context"

	"classlens/pkg/types"
)

// DatabaseManager handles all persistence operations
// ARCHITECTURAL DISCOVERY: Single interface for observations and session
// metadata lets sqlite and postgres backends be swapped by configuration
type DatabaseManager interface {
	// AppendObservation stores an immutable observation and returns its id
	// FUNCTIONAL DISCOVERY: There is no update or delete path for observations,
	// the table is append-only
	AppendObservation(ctx context.Context, obs *types.Observation) (string, error)

	// QueryObservations returns observations matching the filter ordered by observedAt ascending
	QueryObservations(ctx context.Context, filter types.ObservationFilter) ([]*types.Observation, error)

	// Session metadata operations

	CreateSession(ctx context.Context, session *types.Session) error

	// GetSession returns ErrSessionNotFound when the id is unknown
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)

	// GetSessionByCode looks up a session by its upper-case join code
	GetSessionByCode(ctx context.Context, code string) (*types.Session, error)

	// UpdateSession persists status and end time changes
	UpdateSession(ctx context.Context, session *types.Session) error

	// ListSessionsByTeacher returns the teacher's sessions newest first
	ListSessionsByTeacher(ctx context.Context, teacherID string) ([]*types.Session, error)

	// ListActiveSessions returns every session that has not been ended
	// TECHNICAL DISCOVERY: Used once at startup to warm the session cache
	ListActiveSessions(ctx context.Context) ([]*types.Session, error)

	// HealthCheck verifies connectivity
	HealthCheck(ctx context.Context) error

	// Close waits for pending writes and releases the connection
	Close() error
}
