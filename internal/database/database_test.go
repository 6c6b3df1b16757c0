package database

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	cfg, err := mysql.ParseDSN(DSN("app", "p@ss:word", "db.local", "3307", "airport"))
	require.NoError(t, err)

	assert.Equal(t, "app", cfg.User)
	assert.Equal(t, "p@ss:word", cfg.Passwd)
	assert.Equal(t, "db.local:3307", cfg.Addr)
	assert.Equal(t, "airport", cfg.DBName)
	assert.True(t, cfg.ParseTime)
	assert.Equal(t, "utf8mb4", cfg.Params["charset"])
}

func TestSplitStatements(t *testing.T) {
	body := `
-- first
CREATE TABLE a (id INT);

CREATE TABLE b (
	id INT
);
`
	stmts := splitStatements(body)

	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE a (id INT)", stmts[0])
	assert.Contains(t, stmts[1], "CREATE TABLE b")
}

func TestMigrationFilesAreEmbedded(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_users.sql", "0002_flights.sql", "0003_orders.sql"}, names)

	body, err := migrationFiles.ReadFile("migrations/0003_orders.sql")
	require.NoError(t, err)
	assert.Contains(t, string(body), "UNIQUE KEY uq_tickets_seat (flight_id, seat_row, seat_number)")
}

func TestMigrateSkipsAppliedFiles(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	logger, hook := logtest.NewNullLogger()

	countQ := regexp.QuoteMeta(`SELECT COUNT(*) FROM schema_migrations WHERE name = ?`)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT GET_LOCK(?, 30)`)).
		WithArgs(migrationLock).
		WillReturnRows(sqlmock.NewRows([]string{"l"}).AddRow(1))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(countQ).WithArgs("0001_users.sql").WillReturnRows(sqlmock.NewRows([]string{"c"}).AddRow(1))
	mock.ExpectQuery(countQ).WithArgs("0002_flights.sql").WillReturnRows(sqlmock.NewRows([]string{"c"}).AddRow(1))
	mock.ExpectQuery(countQ).WithArgs("0003_orders.sql").WillReturnRows(sqlmock.NewRows([]string{"c"}).AddRow(0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS orders`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS tickets`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO schema_migrations (name) VALUES (?)`)).
		WithArgs("0003_orders.sql").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(`SELECT RELEASE_LOCK(?)`)).WithArgs(migrationLock).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, Migrate(context.Background(), db, logger))
	assert.NoError(t, mock.ExpectationsWereMet())
	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, "0003_orders.sql", hook.LastEntry().Data["migration"])
}

func TestMigrateFailsWhenLockNotGranted(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	logger, _ := logtest.NewNullLogger()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT GET_LOCK(?, 30)`)).
		WillReturnRows(sqlmock.NewRows([]string{"l"}).AddRow(0))

	err = Migrate(context.Background(), db, logger)
	assert.ErrorContains(t, err, "migration lock")
}
