package database

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DSN = filepath.Join(t.TempDir(), "test.db")
	db, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestConfig_DefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, DriverSQLite, cfg.Driver)
	assert.Equal(t, "./data/cardtable.db", cfg.DSN)
	assert.Equal(t, 10, cfg.MaxConnections)
	assert.Equal(t, time.Hour, cfg.ConnMaxLifetime)
	assert.Equal(t, 10*time.Minute, cfg.ConnMaxIdleTime)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Driver = "mysql" }},
		{"empty dsn", func(c *Config) { c.DSN = "" }},
		{"zero connections", func(c *Config) { c.MaxConnections = 0 }},
		{"zero lifetime", func(c *Config) { c.ConnMaxLifetime = 0 }},
		{"zero idle time", func(c *Config) { c.ConnMaxIdleTime = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	pg := DefaultConfig()
	pg.Driver = DriverPostgres
	pg.DSN = "postgres://cardtable@localhost/cardtable?sslmode=disable"
	assert.NoError(t, pg.Validate())
}

func TestRebind(t *testing.T) {
	query := "UPDATE users SET score = score + ? WHERE id = ?"
	assert.Equal(t, query, Rebind(DriverSQLite, query))
	assert.Equal(t, "UPDATE users SET score = score + $1 WHERE id = $2", Rebind(DriverPostgres, query))
}

func TestMigrationManager_ApplyMigrations(t *testing.T) {
	db := openTestDB(t)
	mm := NewMigrationManager(db, DriverSQLite)

	require.NoError(t, mm.ApplyMigrations())

	var versions int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&versions))
	assert.Equal(t, 2, versions)

	// Second run is a no-op.
	require.NoError(t, mm.ApplyMigrations())
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&versions))
	assert.Equal(t, 2, versions)
}

func TestMigrationManager_LoadOrder(t *testing.T) {
	for _, driver := range []string{DriverSQLite, DriverPostgres} {
		mm := NewMigrationManager(nil, driver)
		migrations, err := mm.loadMigrations()
		require.NoError(t, err, driver)
		require.Len(t, migrations, 2, driver)
		assert.Equal(t, "001", migrations[0].Version)
		assert.Equal(t, "users", migrations[0].Description)
		assert.Equal(t, "002", migrations[1].Version)
	}
}

func TestSchemaValidator(t *testing.T) {
	db := openTestDB(t)
	v := NewSchemaValidator(db, DriverSQLite)

	assert.Error(t, v.Validate(), "empty database must fail validation")

	require.NoError(t, NewMigrationManager(db, DriverSQLite).ApplyMigrations())
	assert.NoError(t, v.Validate())
}

func TestUniqueConstraints(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, NewMigrationManager(db, DriverSQLite).ApplyMigrations())

	insert := "INSERT INTO users (username, email, password_hash) VALUES (?, ?, ?)"
	_, err := db.Exec(insert, "ada", "ada@example.com", "x")
	require.NoError(t, err)

	_, err = db.Exec(insert, "ada", "other@example.com", "x")
	assert.Error(t, err, "duplicate username must be rejected")
	_, err = db.Exec(insert, "grace", "ada@example.com", "x")
	assert.Error(t, err, "duplicate email must be rejected")
}
