package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB opens a private in-memory database with the schema applied
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigration_NewDatabase(t *testing.T) {
	db := setupTestDB(t)

	version, err := NewMigrator(db).Version()
	require.NoError(t, err)
	assert.Equal(t, schemaVersion, version)

	for _, table := range []string{"playbook_templates", "playbook_steps", "scenarios", "scenario_runs", "run_steps"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		assert.NoError(t, err, "table %s should exist", table)
	}
}

func TestMigration_Idempotent(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, NewMigrator(db).Migrate())
	require.NoError(t, NewMigrator(db).Migrate())

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestSplitSQLStatements(t *testing.T) {
	stmts := splitSQLStatements("-- comment\nCREATE TABLE a (x INT);\n\nCREATE TABLE b (y INT);\n")
	assert.Equal(t, []string{"CREATE TABLE a (x INT)", "CREATE TABLE b (y INT)"}, stmts)
}

func TestTimeLayout_SortsLexically(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	a := formatTime(base)
	b := formatTime(base.Add(time.Millisecond))
	c := formatTime(base.Add(time.Second))
	assert.Less(t, a, b)
	assert.Less(t, b, c)

	parsed, err := parseTime(b)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(base.Add(time.Millisecond)))

	jst := time.FixedZone("JST", 9*60*60)
	assert.Equal(t, formatTime(base), formatTime(base.In(jst)))
}

func TestOpen_ForeignKeys(t *testing.T) {
	db := setupTestDB(t)
	_, err := db.ExecContext(context.Background(),
		`INSERT INTO run_steps (id, run_id, step_index, name, action_type, status) VALUES ('s', 'missing', 0, 'n', 'wait', 'pending')`)
	assert.Error(t, err)
}
