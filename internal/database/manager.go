package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	dbconfig "classlens/pkg/database"
	"classlens/pkg/interfaces"
	"classlens/pkg/types"
)

// Manager implements the DatabaseManager interface on sqlite
type Manager struct {
	db           *sqlx.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
	retryDelay   time.Duration
	logger       *slog.Logger
}

var _ interfaces.DatabaseManager = (*Manager)(nil)

// writeOperation represents a database write operation
type writeOperation struct {
	operation func(*sqlx.DB) error
	result    chan error
}

// sessionRow and observationRow mirror the table layout for sqlx scanning
type sessionRow struct {
	ID        string        `db:"id"`
	Name      string        `db:"name"`
	TeacherID string        `db:"teacher_id"`
	JoinCode  string        `db:"join_code"`
	CreatedAt int64         `db:"created_at"`
	EndedAt   sql.NullInt64 `db:"ended_at"`
	Status    string        `db:"status"`
}

type observationRow struct {
	ID               string `db:"id"`
	SessionID        string `db:"session_id"`
	StudentAccountID string `db:"student_account_id"`
	StudentName      string `db:"student_name"`
	Score            int    `db:"score"`
	TransportID      string `db:"transport_id"`
	Detail           string `db:"detail"`
	ObservedAt       int64  `db:"observed_at"`
}

const sessionColumns = `id, name, teacher_id, join_code, created_at, ended_at, status`

const observationColumns = `id, session_id, student_account_id, student_name, score, transport_id, detail, observed_at`

// NewManager opens the sqlite database, applies migrations and starts the writer
func NewManager(config *dbconfig.Config, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	if dir := filepath.Dir(config.DatabasePath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// ARCHITECTURAL DISCOVERY: DSN parameters apply busy timeout, WAL and foreign
	// keys to every pooled connection, the pragmas below cover the rest
	db, err := sqlx.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplySQLiteOptimizations(db.DB); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	migrations := dbconfig.NewMigrationManager(db.DB)
	if err := migrations.ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	if err := migrations.ValidateSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		retryDelay:   5 * time.Second,
		logger:       logger,
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			// FUNCTIONAL DISCOVERY: A failed write is retried exactly once; a second
			// failure is returned to the caller as a failed request
			err := op.operation(m.db)
			if err != nil && !isPermanent(err) {
				m.logger.Warn("database write failed, retrying", "error", err, "delay", m.retryDelay)
				select {
				case <-time.After(m.retryDelay):
					err = op.operation(m.db)
				case <-m.shutdown:
				}
				if err != nil {
					m.logger.Error("database write failed after retry", "error", err)
				}
			}
			op.result <- err

		case <-m.shutdown:
			m.logger.Info("database write loop shutting down")
			return
		}
	}
}

// isPermanent reports errors that a retry cannot fix
func isPermanent(err error) bool {
	if errors.Is(err, interfaces.ErrSessionNotFound) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return strings.Contains(err.Error(), "constraint failed")
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, operation func(*sqlx.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-time.After(30 * time.Second):
		return ErrWriteTimeout
	case <-m.shutdown:
		return ErrManagerClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-m.shutdown:
		return ErrManagerClosed
	}
}

// AppendObservation stores an observation, assigning an id when missing
func (m *Manager) AppendObservation(ctx context.Context, obs *types.Observation) (string, error) {
	if obs.ID == "" {
		obs.ID = uuid.NewString()
	}
	detail := string(obs.Detail)
	if detail == "" {
		detail = "{}"
	}

	err := m.executeWrite(ctx, func(db *sqlx.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO observations (`+observationColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			obs.ID,
			obs.SessionID,
			obs.StudentAccountID,
			obs.StudentName,
			obs.Score,
			obs.TransportID,
			detail,
			obs.ObservedAt.UTC().UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert observation: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return obs.ID, nil
}

// QueryObservations returns matching observations ordered by observedAt ascending
// TECHNICAL DISCOVERY: rowid breaks ties between equal timestamps so replay
// order matches insertion order
func (m *Manager) QueryObservations(ctx context.Context, filter types.ObservationFilter) ([]*types.Observation, error) {
	var (
		clauses []string
		args    []interface{}
	)
	if filter.SessionID != "" {
		clauses = append(clauses, "session_id = ?")
		args = append(args, filter.SessionID)
	}
	if filter.StudentAccountID != "" {
		clauses = append(clauses, "student_account_id = ?")
		args = append(args, filter.StudentAccountID)
	}

	query := `SELECT ` + observationColumns + ` FROM observations`
	if len(filter.SessionIDs) > 0 {
		in, inArgs, err := sqlx.In("session_id IN (?)", filter.SessionIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to build session filter: %w", err)
		}
		clauses = append(clauses, in)
		args = append(args, inArgs...)
	} else if filter.SessionIDs != nil {
		// An explicit empty set matches nothing
		return []*types.Observation{}, nil
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY observed_at ASC, rowid ASC"

	var rows []observationRow
	if err := m.db.SelectContext(ctx, &rows, m.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query observations: %w", err)
	}

	observations := make([]*types.Observation, 0, len(rows))
	for _, row := range rows {
		observations = append(observations, row.toObservation())
	}
	return observations, nil
}

func (r observationRow) toObservation() *types.Observation {
	return &types.Observation{
		ID:               r.ID,
		SessionID:        r.SessionID,
		StudentAccountID: r.StudentAccountID,
		StudentName:      r.StudentName,
		Score:            r.Score,
		TransportID:      r.TransportID,
		Detail:           json.RawMessage(r.Detail),
		ObservedAt:       time.UnixMilli(r.ObservedAt).UTC(),
	}
}

// CreateSession creates a new session in the database
func (m *Manager) CreateSession(ctx context.Context, session *types.Session) error {
	return m.executeWrite(ctx, func(db *sqlx.DB) error {
		_, err := db.NamedExecContext(ctx, `
			INSERT INTO sessions (`+sessionColumns+`)
			VALUES (:id, :name, :teacher_id, :join_code, :created_at, :ended_at, :status)`,
			toSessionRow(session),
		)
		if err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}
		return nil
	})
}

// GetSession retrieves a session by ID
// ARCHITECTURAL DISCOVERY: Read operations can be concurrent - no need for writeChannel
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	return m.getSessionWhere(ctx, "id = ?", sessionID)
}

// GetSessionByCode retrieves a session by its join code
func (m *Manager) GetSessionByCode(ctx context.Context, code string) (*types.Session, error) {
	return m.getSessionWhere(ctx, "join_code = ?", code)
}

func (m *Manager) getSessionWhere(ctx context.Context, where string, arg interface{}) (*types.Session, error) {
	var row sessionRow
	err := m.db.GetContext(ctx, &row, `SELECT `+sessionColumns+` FROM sessions WHERE `+where, arg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	return row.toSession(), nil
}

// UpdateSession persists status and end time changes
func (m *Manager) UpdateSession(ctx context.Context, session *types.Session) error {
	return m.executeWrite(ctx, func(db *sqlx.DB) error {
		res, err := db.NamedExecContext(ctx, `
			UPDATE sessions SET ended_at = :ended_at, status = :status WHERE id = :id`,
			toSessionRow(session),
		)
		if err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return interfaces.ErrSessionNotFound
		}
		return nil
	})
}

// ListSessionsByTeacher returns the teacher's sessions newest first
func (m *Manager) ListSessionsByTeacher(ctx context.Context, teacherID string) ([]*types.Session, error) {
	return m.listSessions(ctx, `WHERE teacher_id = ? ORDER BY created_at DESC, rowid DESC`, teacherID)
}

// ListActiveSessions returns every session that has not been ended
func (m *Manager) ListActiveSessions(ctx context.Context) ([]*types.Session, error) {
	return m.listSessions(ctx, `WHERE status != ? ORDER BY created_at DESC`, types.SessionStatusEnded)
}

func (m *Manager) listSessions(ctx context.Context, tail string, args ...interface{}) ([]*types.Session, error) {
	var rows []sessionRow
	if err := m.db.SelectContext(ctx, &rows, `SELECT `+sessionColumns+` FROM sessions `+tail, args...); err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}

	sessions := make([]*types.Session, 0, len(rows))
	for _, row := range rows {
		sessions = append(sessions, row.toSession())
	}
	return sessions, nil
}

func toSessionRow(s *types.Session) sessionRow {
	row := sessionRow{
		ID:        s.ID,
		Name:      s.Name,
		TeacherID: s.TeacherID,
		JoinCode:  s.JoinCode,
		CreatedAt: s.CreatedAt.UTC().UnixMilli(),
		Status:    s.Status,
	}
	if s.EndedAt != nil {
		row.EndedAt = sql.NullInt64{Int64: s.EndedAt.UTC().UnixMilli(), Valid: true}
	}
	return row
}

func (r sessionRow) toSession() *types.Session {
	s := &types.Session{
		ID:        r.ID,
		Name:      r.Name,
		TeacherID: r.TeacherID,
		JoinCode:  r.JoinCode,
		CreatedAt: time.UnixMilli(r.CreatedAt).UTC(),
		Status:    r.Status,
	}
	if r.EndedAt.Valid {
		ended := time.UnixMilli(r.EndedAt.Int64).UTC()
		s.EndedAt = &ended
	}
	return s
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var n int
	if err := m.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM sessions LIMIT 1"); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// Close shuts down the database manager
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
