package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaValidator_EmptyDatabase(t *testing.T) {
	v := NewSchemaValidator(openTestDB(t))

	assert.Error(t, v.ValidateTablesExist())
	assert.Error(t, v.ValidateIndexes())
}

func TestSchemaValidator_MigratedDatabase(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, NewMigrationManager(db).ApplyMigrations())

	v := NewSchemaValidator(db)
	assert.NoError(t, v.ValidateTablesExist())
	assert.NoError(t, v.ValidateTableStructure())
	assert.NoError(t, v.ValidateIndexes())
	assert.NoError(t, v.ValidateConstraints())

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM observations").Scan(&count))
	assert.Zero(t, count, "constraint probes must not leave rows behind")
}

func TestSchemaValidator_DetectsWrongColumnType(t *testing.T) {
	db := openTestDB(t)
	_, err := db.Exec(`
		CREATE TABLE sessions (id TEXT, name TEXT, teacher_id TEXT, join_code TEXT,
			created_at DATETIME, ended_at DATETIME, status TEXT);
		CREATE TABLE observations (id TEXT, session_id TEXT, student_account_id TEXT,
			student_name TEXT, score INTEGER, transport_id TEXT, detail TEXT, observed_at INTEGER);
	`)
	require.NoError(t, err)

	err = NewSchemaValidator(db).ValidateTableStructure()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "created_at")
}
