package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"classlens/pkg/interfaces"
	"classlens/pkg/types"
)

// Manager implements the SessionManager interface
// ARCHITECTURAL DISCOVERY: Active sessions are cached in memory so report
// fan-out and join lookups avoid a storage round trip per session
type Manager struct {
	dbManager      interfaces.DatabaseManager
	activeSessions map[string]*types.Session // sessionID -> Session
	mu             sync.RWMutex
	now            func() time.Time
	newCode        func() (string, error)
	logger         *slog.Logger
}

var _ interfaces.SessionManager = (*Manager)(nil)

// NewManager creates a new session manager
func NewManager(dbManager interfaces.DatabaseManager, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		dbManager:      dbManager,
		activeSessions: make(map[string]*types.Session),
		now:            time.Now,
		newCode:        newJoinCode,
		logger:         logger,
	}
}

// LoadActiveSessions loads all sessions that have not ended into memory
func (m *Manager) LoadActiveSessions(ctx context.Context) error {
	sessions, err := m.dbManager.ListActiveSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load active sessions: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, session := range sessions {
		m.activeSessions[session.ID] = session
	}

	m.logger.Info("loaded active sessions", "count", len(sessions))
	return nil
}

// CreateSession creates a session owned by teacherID with a fresh join code
// FUNCTIONAL DISCOVERY: Codes are short enough to collide, so each candidate
// is checked against storage and a handful of retries is allowed
func (m *Manager) CreateSession(ctx context.Context, name, teacherID string) (*types.Session, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 200 {
		return nil, ErrInvalidSessionName
	}
	if !types.IsValidIdentifier(teacherID) {
		return nil, ErrInvalidTeacherID
	}

	code, err := m.allocateCode(ctx)
	if err != nil {
		return nil, err
	}

	session := &types.Session{
		ID:        uuid.NewString(),
		Name:      name,
		TeacherID: teacherID,
		JoinCode:  code,
		CreatedAt: m.now().UTC(),
		Status:    types.SessionStatusCreated,
	}

	if err := m.dbManager.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	m.mu.Lock()
	m.activeSessions[session.ID] = session
	m.mu.Unlock()

	m.logger.Info("created session",
		"session_id", session.ID,
		"account_id", teacherID,
		"join_code", session.JoinCode)
	return session, nil
}

func (m *Manager) allocateCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < 5; attempt++ {
		code, err := m.newCode()
		if err != nil {
			return "", fmt.Errorf("failed to generate join code: %w", err)
		}

		_, err = m.dbManager.GetSessionByCode(ctx, code)
		if errors.Is(err, interfaces.ErrSessionNotFound) {
			return code, nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to check join code: %w", err)
		}
	}
	return "", ErrCodeExhausted
}

// GetSession retrieves a session by ID, cache first
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	m.mu.RLock()
	if session, exists := m.activeSessions[sessionID]; exists {
		m.mu.RUnlock()
		return session, nil
	}
	m.mu.RUnlock()

	// Ended sessions and cache misses come from storage
	return m.dbManager.GetSession(ctx, sessionID)
}

// GetSessionByCode looks a session up by join code, case-insensitively
func (m *Manager) GetSessionByCode(ctx context.Context, code string) (*types.Session, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, ErrInvalidJoinCode
	}
	return m.dbManager.GetSessionByCode(ctx, code)
}

// ListTeacherSessions returns the teacher's sessions newest first
func (m *Manager) ListTeacherSessions(ctx context.Context, teacherID string) ([]*types.Session, error) {
	if !types.IsValidIdentifier(teacherID) {
		return nil, ErrInvalidTeacherID
	}
	return m.dbManager.ListSessionsByTeacher(ctx, teacherID)
}

// EndSession closes a session; only the owning teacher may end it
func (m *Manager) EndSession(ctx context.Context, sessionID, teacherID string) (*types.Session, error) {
	current, err := m.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if current.TeacherID != teacherID {
		return nil, interfaces.ErrForbidden
	}
	if current.IsEnded() {
		return nil, ErrSessionAlreadyEnded
	}

	// Readers may hold the cached pointer, so mutate a copy
	ended := *current
	now := m.now().UTC()
	ended.EndedAt = &now
	ended.Status = types.SessionStatusEnded

	if err := m.dbManager.UpdateSession(ctx, &ended); err != nil {
		return nil, fmt.Errorf("failed to end session: %w", err)
	}

	m.mu.Lock()
	delete(m.activeSessions, sessionID)
	m.mu.Unlock()

	m.logger.Info("ended session", "session_id", sessionID, "account_id", teacherID)
	return &ended, nil
}

// GetStats returns session manager statistics
func (m *Manager) GetStats() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]int{
		"cached_sessions": len(m.activeSessions),
	}
}
