package database

import (
	"database/sql"
	"fmt"
	"strings"
)

// SchemaValidator checks that a migrated database has the tables and columns
// the user store reads and writes.
type SchemaValidator struct {
	db     *sql.DB
	driver string
}

func NewSchemaValidator(db *sql.DB, driver string) *SchemaValidator {
	return &SchemaValidator{db: db, driver: driver}
}

var requiredUserColumns = []string{
	"id", "username", "email", "password_hash", "score", "games_played", "games_won", "created_at",
}

// Validate runs every check and returns the first failure.
func (v *SchemaValidator) Validate() error {
	for _, table := range []string{"users", "schema_migrations"} {
		exists, err := v.tableExists(table)
		if err != nil {
			return fmt.Errorf("error checking table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("required table %s does not exist", table)
		}
	}

	columns, err := v.columns("users")
	if err != nil {
		return fmt.Errorf("failed to read users columns: %w", err)
	}
	for _, col := range requiredUserColumns {
		if _, ok := columns[col]; !ok {
			return fmt.Errorf("users table missing column %s", col)
		}
	}
	return nil
}

func (v *SchemaValidator) tableExists(table string) (bool, error) {
	query := "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?"
	if v.driver == DriverPostgres {
		query = "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = ?"
	}

	var count int
	if err := v.db.QueryRow(Rebind(v.driver, query), table).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (v *SchemaValidator) columns(table string) (map[string]struct{}, error) {
	query := "SELECT name FROM pragma_table_info(?)"
	if v.driver == DriverPostgres {
		query = "SELECT column_name FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = ?"
	}

	rows, err := v.db.Query(Rebind(v.driver, query), table)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	found := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		found[strings.ToLower(name)] = struct{}{}
	}
	return found, rows.Err()
}
