package basic

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	core "tablecore/data/db"
	"tablecore/data/db/dialect"
)

func newMemoryDB(t *testing.T) core.IDatabase {
	t.Helper()
	database, err := New(core.DBConfig{Driver: "sqlite", Database: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func TestNew_SQLiteQueryAndScan(t *testing.T) {
	ctx := context.Background()
	database := newMemoryDB(t)

	_, err := database.Exec(ctx, `CREATE TABLE items (id INTEGER PRIMARY KEY, title TEXT, payload BLOB)`)
	require.NoError(t, err)
	_, err = database.Exec(ctx, `INSERT INTO items (id, title, payload) VALUES (?, ?, ?)`, 1, "first", []byte{0x01, 0x02})
	require.NoError(t, err)

	row, err := core.QueryFirst(ctx, database, `SELECT id, title, payload FROM items WHERE id = ?`, 1)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.EqualValues(t, 1, row["id"])
	assert.Equal(t, "first", row["title"])
	assert.Equal(t, []byte{0x01, 0x02}, row["payload"])

	missing, err := core.QueryFirst(ctx, database, `SELECT id FROM items WHERE id = ?`, 2)
	require.NoError(t, err)
	assert.Nil(t, missing)

	assert.Equal(t, dialect.SQLite, dialect.FromDatabase(database).Kind())
}

func TestTx_RollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	database := newMemoryDB(t)
	_, err := database.Exec(ctx, `CREATE TABLE items (id INTEGER PRIMARY KEY, title TEXT)`)
	require.NoError(t, err)

	tx, err := database.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Exec(ctx, `INSERT INTO items (id, title) VALUES (?, ?)`, 1, "a")
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	rows, err := core.QueryMaps(ctx, database, `SELECT * FROM items`)
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, err = tx.Begin(ctx)
	assert.Error(t, err)
	assert.Equal(t, dialect.SQLite, dialect.FromDatabase(tx).Kind())
}

func TestWrap_PostgresRebind(t *testing.T) {
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer sqlDB.Close()

	mock.ExpectQuery(`SELECT * FROM "t" WHERE "id" = $1 AND "name" = $2`).
		WithArgs(7, "x").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(7, []byte("x")))

	database := Wrap(sqlDB, "postgres")
	rows, err := core.QueryMaps(context.Background(), database, `SELECT * FROM "t" WHERE "id" = ? AND "name" = ?`, 7, "x")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "x", rows[0]["name"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildDSN(t *testing.T) {
	dsn, err := buildDSN("mysql", core.DBConfig{
		Host: "db", Username: "root", Password: "secret", Database: "app", ParseTime: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "root:secret@tcp(db:3306)/app?parseTime=true", dsn)

	dsn, err = buildDSN("postgres", core.DBConfig{
		Host: "pg", Port: 5433, Username: "u", Password: "p", Database: "app", SSLMode: "disable",
	})
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@pg:5433/app?sslmode=disable", dsn)

	dsn, err = buildDSN("sqlite", core.DBConfig{})
	require.NoError(t, err)
	assert.Equal(t, ":memory:", dsn)

	dsn, err = buildDSN("postgres", core.DBConfig{DSN: "postgres://explicit"})
	require.NoError(t, err)
	assert.Equal(t, "postgres://explicit", dsn)
}
