// Package sqlite keeps the agent's durable state in a SQLite file:
// the warm boot document of each switch and the history of boots.
//
// Every method runs one prepared statement against s.conn, which is
// the *sql.DB outside a transaction and a *sql.Tx inside
// RunInTransaction, so each call is atomic on its own. The agent
// writes from one goroutine. The file is opened in WAL mode so
// `saiagent warmboot dump` can read it while the agent runs.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/frobware/go-saiagent/interpreter"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is stored in PRAGMA user_version. Opening a database
// written by a newer agent fails rather than guessing at its layout.
const schemaVersion = 1

// dbConn is the part of *sql.DB and *sql.Tx the store uses.
type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqliteStore struct {
	db     *sql.DB
	conn   dbConn
	stmts  *statements
	logger *slog.Logger
}

// New opens, creating if needed, the store at dbPath.
func New(ctx context.Context, dbPath string, logger *slog.Logger) (interpreter.StateStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := sql.Open(driverName, dsn(dbPath, [][2]string{{"journal_mode", "WAL"}, {"busy_timeout", "5000"}}))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dbPath, err)
	}
	return open(ctx, db, dbPath, logger)
}

// NewInMemory opens a private in-memory store, for tests.
func NewInMemory(ctx context.Context, logger *slog.Logger) (interpreter.StateStore, error) {
	db, err := sql.Open(driverName, dsn(":memory:", nil))
	if err != nil {
		return nil, fmt.Errorf("open in-memory database: %w", err)
	}
	// Each connection to :memory: would see its own empty database.
	db.SetMaxOpenConns(1)
	return open(ctx, db, ":memory:", logger)
}

func open(ctx context.Context, db *sql.DB, name string, logger *slog.Logger) (*sqliteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "statestore", "db", name)

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	stmts, err := prepare(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("opened state database", "schema_version", schemaVersion)
	return &sqliteStore{db: db, conn: db, stmts: stmts, logger: logger}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version > schemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, schemaVersion)
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("write schema version: %w", err)
	}
	return nil
}

// Close releases the prepared statements and the database.
func (s *sqliteStore) Close() error {
	s.stmts.close()
	return s.db.Close()
}

// RunInTransaction runs fn against a store bound to one transaction,
// committing when fn returns nil and rolling back otherwise. The
// store's prepared statements are rebound to the transaction, not
// reparsed.
func (s *sqliteStore) RunInTransaction(ctx context.Context, fn func(interpreter.StateStore) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqliteStore{db: s.db, conn: tx, stmts: s.stmts.bind(ctx, tx), logger: s.logger}); err != nil {
		return err
	}
	return tx.Commit()
}

// logSQL records one statement execution at debug level.
func (s *sqliteStore) logSQL(stmt string, start time.Time, err error, attrs ...any) {
	attrs = append([]any{"stmt", stmt, "duration_ms", fmt.Sprintf("%.3f", float64(time.Since(start).Microseconds())/1000)}, attrs...)
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	s.logger.Debug("sql", attrs...)
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
