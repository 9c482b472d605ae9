package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/breez/quiz-sync/store"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const selectColumns = "SELECT id, file_name, timestamp, difficulty, questions, created_at, updated_at FROM quiz_banks"

// Connections in the read pool of a file database.
const readPoolSize = 4

type SQLiteSyncStorage struct {
	db             *sql.DB
	readDB         *sql.DB
	acquireTimeout time.Duration
}

// NewSQLiteSyncStorage opens file and brings its schema up to date. SQLite
// has a single writer, so the write pool holds one connection and replace
// transactions queue behind each other. File databases run in WAL mode with
// a separate read pool, so reads see the last commit while a replace is in
// flight. In-memory databases share the single connection for reads, which
// also keeps them alive for the lifetime of the storage.
func NewSQLiteSyncStorage(file string, acquireTimeout time.Duration) (*SQLiteSyncStorage, error) {
	memory := isMemory(file)
	dsn := file
	if !memory {
		dsn = withParams(file, fmt.Sprintf("_journal_mode=WAL&_busy_timeout=%d", acquireTimeout.Milliseconds()))
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite3 database %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create migration driver %w", err)
	}

	migrationDriver, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create migration source %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", migrationDriver, "sqlite3", driver)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to instantiate migrations %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations %w", err)
	}

	readDB := db
	if !memory {
		readDB, err = sql.Open("sqlite3", dsn)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to open sqlite3 read pool %w", err)
		}
		readDB.SetMaxOpenConns(readPoolSize)
		readDB.SetMaxIdleConns(readPoolSize)
	}
	return &SQLiteSyncStorage{db: db, readDB: readDB, acquireTimeout: acquireTimeout}, nil
}

func isMemory(file string) bool {
	return strings.Contains(file, ":memory:") || strings.Contains(file, "mode=memory")
}

func withParams(file, params string) string {
	if strings.Contains(file, "?") {
		return file + "&" + params
	}
	return file + "?" + params
}

// acquire waits at most acquireTimeout for a connection from pool. The
// caller must Close the returned connection.
func (s *SQLiteSyncStorage) acquire(ctx context.Context, pool *sql.DB) (*sql.Conn, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, s.acquireTimeout)
	defer cancel()
	conn, err := pool.Conn(acquireCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	return conn, nil
}

func (s *SQLiteSyncStorage) ReplaceAll(ctx context.Context, records []store.QuizBankRecord) (int, error) {
	conn, err := s.acquire(ctx, s.db)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	// Once started the transaction runs to commit or rollback.
	txCtx := context.WithoutCancel(ctx)
	tx, err := conn.BeginTx(txCtx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(txCtx, "DELETE FROM quiz_banks"); err != nil {
		return 0, fmt.Errorf("failed to clear records: %w", err)
	}

	stmt, err := tx.PrepareContext(txCtx, `INSERT INTO quiz_banks
		(id, file_name, timestamp, difficulty, questions, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, r := range records {
		_, err := stmt.ExecContext(txCtx, r.Id, r.FileName, r.Timestamp, r.Difficulty, string(r.Questions), now, now)
		if err != nil {
			return 0, fmt.Errorf("failed to insert record %q: %w", r.Id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return len(records), nil
}

func (s *SQLiteSyncStorage) DeleteOne(ctx context.Context, id string) (bool, error) {
	conn, err := s.acquire(ctx, s.db)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	res, err := conn.ExecContext(context.WithoutCancel(ctx), "DELETE FROM quiz_banks WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("failed to delete record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected > 0, nil
}

func (s *SQLiteSyncStorage) FetchAll(ctx context.Context) ([]store.QuizBankRecord, error) {
	return s.query(ctx, selectColumns+" ORDER BY timestamp DESC, id ASC")
}

func (s *SQLiteSyncStorage) FetchByDifficulty(ctx context.Context, difficulty string) ([]store.QuizBankRecord, error) {
	return s.query(ctx, selectColumns+" WHERE difficulty = ? ORDER BY timestamp DESC, id ASC", difficulty)
}

func (s *SQLiteSyncStorage) query(ctx context.Context, query string, args ...any) ([]store.QuizBankRecord, error) {
	conn, err := s.acquire(ctx, s.readDB)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	records := make([]store.QuizBankRecord, 0)
	for rows.Next() {
		var record store.QuizBankRecord
		var questions string
		err = rows.Scan(&record.Id, &record.FileName, &record.Timestamp, &record.Difficulty, &questions, &record.CreatedAt, &record.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		record.Questions = json.RawMessage(questions)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return records, nil
}

func (s *SQLiteSyncStorage) Ping(ctx context.Context) error {
	conn, err := s.acquire(ctx, s.readDB)
	if err != nil {
		return err
	}
	defer conn.Close()
	return conn.PingContext(ctx)
}

func (s *SQLiteSyncStorage) Close() error {
	if s.readDB != s.db {
		if err := s.readDB.Close(); err != nil {
			s.db.Close()
			return err
		}
	}
	return s.db.Close()
}
