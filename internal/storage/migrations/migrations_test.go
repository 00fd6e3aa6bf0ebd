package migrations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitStatements(t *testing.T) {
	stmts, err := splitStatements(`
-- header comment
CREATE TABLE a (x String);

CREATE TABLE b (y String DEFAULT 'it''s');
`)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"CREATE TABLE a (x String)",
		"CREATE TABLE b (y String DEFAULT 'it''s')",
	}, stmts)

	_, err = splitStatements("SELECT 'a;b';")
	assert.ErrorIs(t, err, errSemicolonInLiteral)
}

func TestDatabaseFromDSN(t *testing.T) {
	db, err := databaseFromDSN("clickhouse://default:@localhost:9000/personas")
	require.NoError(t, err)
	assert.Equal(t, "personas", db)

	_, err = databaseFromDSN("clickhouse://localhost:9000")
	assert.Error(t, err)
}

func TestEmbeddedFilesLoad(t *testing.T) {
	pg, err := loadFiles(PostgresFS, "postgres")
	require.NoError(t, err)
	require.Len(t, pg, 3)
	assert.Equal(t, "001_jobs.sql", pg[0].name)
	assert.Contains(t, pg[1].sql, "activity_cache")
	assert.Equal(t, "003_job_owner.sql", pg[2].name)

	ch, err := loadFiles(ClickhouseFS, "clickhouse")
	require.NoError(t, err)
	require.Len(t, ch, 1)
	stmts, err := splitStatements(ch[0].sql)
	require.NoError(t, err)
	assert.NotEmpty(t, stmts)
}
