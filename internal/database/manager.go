package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"cardtable/internal/apperror"
	dbconfig "cardtable/pkg/database"
	"cardtable/pkg/interfaces"
	"cardtable/pkg/types"
)

const (
	writeQueueSize = 100
	enqueueTimeout = 30 * time.Second
)

// Manager is the SQL-backed user store. Reads go straight to the pool; every
// write is funneled through a single goroutine so SQLite never sees two
// concurrent writers.
type Manager struct {
	db     *sql.DB
	driver string
	log    *logrus.Entry

	writeChannel chan writeOperation
	shutdown     chan struct{}
	stopped      chan struct{}
	wg           sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database described by cfg and starts the writer.
// Call Migrate before serving traffic.
func NewManager(cfg *dbconfig.Config, log *logrus.Entry) (*Manager, error) {
	db, err := dbconfig.Open(cfg)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		db:           db,
		driver:       cfg.Driver,
		log:          log,
		writeChannel: make(chan writeOperation, writeQueueSize),
		shutdown:     make(chan struct{}),
		stopped:      make(chan struct{}),
	}
	m.wg.Add(1)
	go m.writeLoop()
	return m, nil
}

// Migrate applies pending migrations and validates the resulting schema.
func (m *Manager) Migrate() error {
	if err := dbconfig.NewMigrationManager(m.db, m.driver).ApplyMigrations(); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	if err := dbconfig.NewSchemaValidator(m.db, m.driver).Validate(); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()
	defer close(m.stopped)

	for {
		select {
		case op := <-m.writeChannel:
			op.result <- op.operation(m.db)
		case <-m.shutdown:
			m.log.Debug("database write loop shutting down")
			return
		}
	}
}

var errManagerClosed = errors.New("database manager is closed")

// executeWrite queues operation on the writer and waits for its result.
// Once queued, the outcome of operation is always the one reported: ctx only
// bounds the wait for a queue slot, and operation itself must honor ctx.
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return errManagerClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	result := make(chan error, 1)
	timer := time.NewTimer(enqueueTimeout)
	defer timer.Stop()

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errors.New("write operation timeout")
	case <-m.shutdown:
		return errors.New("database manager is shutting down")
	}

	select {
	case err := <-result:
		return err
	case <-m.stopped:
		// The writer answers every operation it takes before exiting; no
		// result means the operation never ran.
		select {
		case err := <-result:
			return err
		default:
			return errManagerClosed
		}
	}
}

// inTx runs fn in a transaction on db. The commit is the single point where
// the change becomes durable, so a nil return means committed and any error
// means rolled back.
func (m *Manager) inTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return m.classify(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return m.classify(err, "failed to commit transaction")
	}
	return nil
}

func (m *Manager) q(query string) string {
	return dbconfig.Rebind(m.driver, query)
}

// CreateUser inserts user and returns the new id. Duplicate usernames and
// emails map to interfaces.ErrDuplicateUsername / ErrDuplicateEmail.
func (m *Manager) CreateUser(ctx context.Context, user *types.User) (int64, error) {
	var id int64
	err := m.executeWrite(ctx, func(db *sql.DB) error {
		return m.inTx(ctx, db, func(tx *sql.Tx) error {
			query := m.q(`
				INSERT INTO users (username, email, password_hash)
				VALUES (?, ?, ?)
				RETURNING id
			`)
			if err := tx.QueryRowContext(ctx, query, user.Username, user.Email, user.PasswordHash).Scan(&id); err != nil {
				return m.classify(err, "failed to insert user")
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	user.ID = id
	return id, nil
}

const userColumns = "id, username, email, password_hash, score, games_played, games_won, created_at"

func (m *Manager) GetUserByID(ctx context.Context, id int64) (*types.User, error) {
	return m.getUser(ctx, "id = ?", id)
}

func (m *Manager) GetUserByEmail(ctx context.Context, email string) (*types.User, error) {
	return m.getUser(ctx, "email = ?", email)
}

func (m *Manager) GetUserByUsername(ctx context.Context, username string) (*types.User, error) {
	return m.getUser(ctx, "username = ?", username)
}

func (m *Manager) getUser(ctx context.Context, where string, arg interface{}) (*types.User, error) {
	query := m.q("SELECT " + userColumns + " FROM users WHERE " + where)

	user, err := scanUser(m.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrUserNotFound
		}
		return nil, m.classify(err, "failed to query user")
	}
	return user, nil
}

func scanUser(row *sql.Row) (*types.User, error) {
	var user types.User
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.Score,
		&user.GamesPlayed,
		&user.GamesWon,
		&user.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// ApplyScore adds the score change and bumps the game counters, then reads
// the updated row back inside the same transaction. An error means nothing
// was applied.
func (m *Manager) ApplyScore(ctx context.Context, update types.ScoreUpdate) (*types.User, error) {
	won := 0
	if update.GameWon {
		won = 1
	}

	var updated *types.User
	err := m.executeWrite(ctx, func(db *sql.DB) error {
		return m.inTx(ctx, db, func(tx *sql.Tx) error {
			query := m.q(`
				UPDATE users
				SET score = score + ?, games_played = games_played + 1, games_won = games_won + ?
				WHERE id = ?
			`)
			res, err := tx.ExecContext(ctx, query, update.ScoreChange, won, update.UserID)
			if err != nil {
				return m.classify(err, "failed to update score")
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to read affected rows: %w", err)
			}
			if n == 0 {
				return interfaces.ErrUserNotFound
			}

			user, err := scanUser(tx.QueryRowContext(ctx, m.q("SELECT "+userColumns+" FROM users WHERE id = ?"), update.UserID))
			if err != nil {
				return m.classify(err, "failed to read updated score")
			}
			updated = user
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var n int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// Stats exposes pool statistics for health reporting.
func (m *Manager) Stats() sql.DBStats {
	return m.db.Stats()
}

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

// classify maps driver errors onto store sentinels. Lock contention is
// marked transient so the invoker may retry it.
func (m *Manager) classify(err error, msg string) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch {
		case sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique:
			return uniqueViolation(sqliteErr.Error(), err)
		case sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked:
			return apperror.Transient(fmt.Errorf("%s: %w", msg, err))
		}
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return uniqueViolation(pqErr.Constraint, err)
		case "40001", "40P01":
			return apperror.Transient(fmt.Errorf("%s: %w", msg, err))
		}
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// uniqueViolation picks the sentinel from the violated column or constraint
// name ("UNIQUE constraint failed: users.email", "users_email_key").
func uniqueViolation(detail string, err error) error {
	switch {
	case strings.Contains(detail, "email"):
		return interfaces.ErrDuplicateEmail
	case strings.Contains(detail, "username"):
		return interfaces.ErrDuplicateUsername
	default:
		return fmt.Errorf("unique constraint violated: %w", err)
	}
}

var _ interfaces.UserStore = (*Manager)(nil)
