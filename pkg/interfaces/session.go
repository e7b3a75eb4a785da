package interfaces

import (
	"context"

	"classlens/pkg/types"
)

// SessionManager owns session metadata for the registry endpoints and the reporter
// ARCHITECTURAL DISCOVERY: Reads go through an in-memory cache so report fan-out
// does not hit storage once per session name lookup
type SessionManager interface {
	CreateSession(ctx context.Context, name, teacherID string) (*types.Session, error)
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)
	GetSessionByCode(ctx context.Context, code string) (*types.Session, error)
	ListTeacherSessions(ctx context.Context, teacherID string) ([]*types.Session, error)
	EndSession(ctx context.Context, sessionID, teacherID string) (*types.Session, error)
}
