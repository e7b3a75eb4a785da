package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"classlens/pkg/interfaces"
	"classlens/pkg/types"
)

// Store implements the DatabaseManager interface on Postgres
// ARCHITECTURAL DISCOVERY: pgxpool serialises nothing, Postgres handles
// concurrent writers itself so there is no single-writer loop here
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ interfaces.DatabaseManager = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	teacher_id TEXT NOT NULL,
	join_code TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL,
	ended_at TIMESTAMPTZ,
	status TEXT NOT NULL DEFAULT 'created' CHECK (status IN ('created', 'ended'))
);
CREATE INDEX IF NOT EXISTS idx_sessions_teacher_created ON sessions (teacher_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions (status);

CREATE TABLE IF NOT EXISTS observations (
	seq BIGSERIAL UNIQUE,
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	student_account_id TEXT NOT NULL,
	student_name TEXT NOT NULL DEFAULT '',
	score INTEGER NOT NULL CHECK (score BETWEEN 0 AND 100),
	transport_id TEXT NOT NULL DEFAULT '',
	detail JSONB NOT NULL DEFAULT '{}'::jsonb,
	observed_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_observations_session_time ON observations (session_id, observed_at);
CREATE INDEX IF NOT EXISTS idx_observations_student_time ON observations (student_account_id, observed_at);
`

type sessionRow struct {
	ID        string     `db:"id"`
	Name      string     `db:"name"`
	TeacherID string     `db:"teacher_id"`
	JoinCode  string     `db:"join_code"`
	CreatedAt time.Time  `db:"created_at"`
	EndedAt   *time.Time `db:"ended_at"`
	Status    string     `db:"status"`
}

type observationRow struct {
	ID               string    `db:"id"`
	SessionID        string    `db:"session_id"`
	StudentAccountID string    `db:"student_account_id"`
	StudentName      string    `db:"student_name"`
	Score            int       `db:"score"`
	TransportID      string    `db:"transport_id"`
	Detail           []byte    `db:"detail"`
	ObservedAt       time.Time `db:"observed_at"`
}

const sessionColumns = `id, name, teacher_id, join_code, created_at, ended_at, status`

const observationColumns = `id, session_id, student_account_id, student_name, score, transport_id, detail, observed_at`

// New connects to databaseURL and ensures the schema exists
func New(ctx context.Context, databaseURL string, maxConns int32, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	logger.Info("connected to postgres", "max_conns", cfg.MaxConns)
	return &Store{pool: pool, logger: logger}, nil
}

// AppendObservation inserts one observation and returns its id
func (s *Store) AppendObservation(ctx context.Context, obs *types.Observation) (string, error) {
	if obs.ID == "" {
		obs.ID = uuid.NewString()
	}
	detail := []byte(obs.Detail)
	if len(detail) == 0 {
		detail = []byte("{}")
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO observations (`+observationColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		obs.ID, obs.SessionID, obs.StudentAccountID, obs.StudentName,
		obs.Score, obs.TransportID, detail, obs.ObservedAt.UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("insert observation: %w", err)
	}
	return obs.ID, nil
}

// QueryObservations returns matching observations ordered by observedAt, then insertion order
func (s *Store) QueryObservations(ctx context.Context, filter types.ObservationFilter) ([]*types.Observation, error) {
	if filter.SessionIDs != nil && len(filter.SessionIDs) == 0 {
		return []*types.Observation{}, nil
	}

	var (
		clauses []string
		args    []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filter.SessionID != "" {
		add("session_id = $%d", filter.SessionID)
	}
	if filter.StudentAccountID != "" {
		add("student_account_id = $%d", filter.StudentAccountID)
	}
	if len(filter.SessionIDs) > 0 {
		add("session_id = ANY($%d)", filter.SessionIDs)
	}

	query := `SELECT ` + observationColumns + ` FROM observations`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY observed_at ASC, seq ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	collected, err := pgx.CollectRows(rows, pgx.RowToStructByName[observationRow])
	if err != nil {
		return nil, fmt.Errorf("scan observations: %w", err)
	}

	out := make([]*types.Observation, 0, len(collected))
	for _, r := range collected {
		out = append(out, &types.Observation{
			ID:               r.ID,
			SessionID:        r.SessionID,
			StudentAccountID: r.StudentAccountID,
			StudentName:      r.StudentName,
			Score:            r.Score,
			TransportID:      r.TransportID,
			Detail:           json.RawMessage(r.Detail),
			ObservedAt:       r.ObservedAt.UTC(),
		})
	}
	return out, nil
}

// CreateSession inserts session metadata
func (s *Store) CreateSession(ctx context.Context, session *types.Session) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (`+sessionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		session.ID, session.Name, session.TeacherID, session.JoinCode,
		session.CreatedAt.UTC(), session.EndedAt, session.Status,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession returns ErrSessionNotFound when the id is unknown
func (s *Store) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	return s.getSessionWhere(ctx, "id = $1", sessionID)
}

// GetSessionByCode looks a session up by join code
func (s *Store) GetSessionByCode(ctx context.Context, code string) (*types.Session, error) {
	return s.getSessionWhere(ctx, "join_code = $1", code)
}

func (s *Store) getSessionWhere(ctx context.Context, where string, arg any) (*types.Session, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE `+where, arg)
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	row, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[sessionRow])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, interfaces.ErrSessionNotFound
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return row.toSession(), nil
}

// UpdateSession persists status and end time changes
func (s *Store) UpdateSession(ctx context.Context, session *types.Session) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET ended_at = $2, status = $3 WHERE id = $1`,
		session.ID, session.EndedAt, session.Status,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return interfaces.ErrSessionNotFound
	}
	return nil
}

// ListSessionsByTeacher returns the teacher's sessions newest first
func (s *Store) ListSessionsByTeacher(ctx context.Context, teacherID string) ([]*types.Session, error) {
	return s.listSessions(ctx, `WHERE teacher_id = $1 ORDER BY created_at DESC`, teacherID)
}

// ListActiveSessions returns every session that has not been ended
func (s *Store) ListActiveSessions(ctx context.Context) ([]*types.Session, error) {
	return s.listSessions(ctx, `WHERE status <> $1 ORDER BY created_at DESC`, types.SessionStatusEnded)
}

func (s *Store) listSessions(ctx context.Context, tail string, args ...any) ([]*types.Session, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+sessionColumns+` FROM sessions `+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	collected, err := pgx.CollectRows(rows, pgx.RowToStructByName[sessionRow])
	if err != nil {
		return nil, fmt.Errorf("scan sessions: %w", err)
	}

	out := make([]*types.Session, 0, len(collected))
	for _, r := range collected {
		out = append(out, r.toSession())
	}
	return out, nil
}

func (r sessionRow) toSession() *types.Session {
	s := &types.Session{
		ID:        r.ID,
		Name:      r.Name,
		TeacherID: r.TeacherID,
		JoinCode:  r.JoinCode,
		CreatedAt: r.CreatedAt.UTC(),
		Status:    r.Status,
	}
	if r.EndedAt != nil {
		ended := r.EndedAt.UTC()
		s.EndedAt = &ended
	}
	return s
}

// HealthCheck pings the pool
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Close releases every pooled connection
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
