package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator checks a live sqlite database against the expected schema
// ARCHITECTURAL DISCOVERY: Separate validation component enables deployment
// verification without coupling to the migration system
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// Tables and indexes the sqlite manager depends on
var (
	requiredTables = []string{"sessions", "observations", "schema_migrations"}

	requiredIndexes = []string{
		"idx_sessions_teacher_created",
		"idx_sessions_status",
		"idx_observations_session_time",
		"idx_observations_student_time",
	}

	expectedColumns = map[string]map[string]string{
		"sessions": {
			"id":         "TEXT",
			"name":       "TEXT",
			"teacher_id": "TEXT",
			"join_code":  "TEXT",
			"created_at": "INTEGER",
			"ended_at":   "INTEGER",
			"status":     "TEXT",
		},
		"observations": {
			"id":                 "TEXT",
			"session_id":         "TEXT",
			"student_account_id": "TEXT",
			"student_name":       "TEXT",
			"score":              "INTEGER",
			"transport_id":       "TEXT",
			"detail":             "TEXT",
			"observed_at":        "INTEGER",
		},
	}
)

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	for _, table := range requiredTables {
		exists, err := v.objectExists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("required table %s does not exist", table)
		}
	}
	return nil
}

// ValidateTableStructure verifies column names and declared types
// TECHNICAL DISCOVERY: Timestamps are INTEGER unix milliseconds so ordering
// and week bucketing never depend on the driver's time parsing
func (v *SchemaValidator) ValidateTableStructure() error {
	for table, columns := range expectedColumns {
		if err := v.validateColumns(table, columns); err != nil {
			return fmt.Errorf("%s table structure invalid: %w", table, err)
		}
	}
	return nil
}

// ValidateIndexes verifies that all performance indexes exist
func (v *SchemaValidator) ValidateIndexes() error {
	for _, index := range requiredIndexes {
		exists, err := v.objectExists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s: %w", index, err)
		}
		if !exists {
			return fmt.Errorf("required index %s does not exist", index)
		}
	}
	return nil
}

// ValidateConstraints verifies that the score range and status checks are enforced
func (v *SchemaValidator) ValidateConstraints() error {
	_, err := v.db.Exec(`
		INSERT INTO observations (id, session_id, student_account_id, score, observed_at)
		VALUES ('constraint-probe', 'probe', 'probe', 101, 0)
	`)
	if err == nil {
		_, _ = v.db.Exec("DELETE FROM observations WHERE id = 'constraint-probe'")
		return fmt.Errorf("check constraint not enforced: observations.score range")
	}

	_, err = v.db.Exec(`
		INSERT INTO sessions (id, name, teacher_id, join_code, created_at, status)
		VALUES ('constraint-probe', 'probe', 'probe', 'PROBE0', 0, 'paused')
	`)
	if err == nil {
		_, _ = v.db.Exec("DELETE FROM sessions WHERE id = 'constraint-probe'")
		return fmt.Errorf("check constraint not enforced: sessions.status")
	}
	return nil
}

func (v *SchemaValidator) objectExists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (v *SchemaValidator) validateColumns(tableName string, expected map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	found := make(map[string]string)
	for rows.Next() {
		var (
			cid          int
			name, dtype  string
			notNull, pk  int
			defaultValue interface{}
		)
		if err := rows.Scan(&cid, &name, &dtype, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		found[name] = dtype
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for col, want := range expected {
		got, ok := found[col]
		if !ok {
			return fmt.Errorf("column %s not found", col)
		}
		if got != want {
			return fmt.Errorf("column %s has type %s, expected %s", col, got, want)
		}
	}
	return nil
}
