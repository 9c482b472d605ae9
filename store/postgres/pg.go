package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/breez/quiz-sync/store"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Datasets at least this large are written with COPY instead of a batch of
// INSERT statements.
const copyThreshold = 100

const uniqueViolation = "23505"

const selectColumns = "SELECT id, file_name, timestamp, difficulty, questions, created_at, updated_at FROM quiz_banks"

var insertColumns = []string{"id", "file_name", "timestamp", "difficulty", "questions", "created_at", "updated_at"}

type PgSyncStorage struct {
	db             *pgxpool.Pool
	acquireTimeout time.Duration
}

func NewPGSyncStorage(databaseURL string, maxConns int32, acquireTimeout time.Duration) (*PgSyncStorage, error) {
	if err := runMigrations(databaseURL); err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}
	poolCfg.ConnConfig.ConnectTimeout = acquireTimeout

	ctx, cancel := context.WithTimeout(context.Background(), acquireTimeout)
	defer cancel()
	pgxPool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.NewWithConfig(%v): %w", databaseURL, err)
	}
	if err := pgxPool.Ping(ctx); err != nil {
		pgxPool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PgSyncStorage{db: pgxPool, acquireTimeout: acquireTimeout}, nil
}

func runMigrations(databaseURL string) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open postgres database %w", err)
	}
	defer db.Close()

	driver, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver %w", err)
	}

	migrationDriver, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source %w", err)
	}

	m, err := migrate.NewWithInstance(
		"iofs", migrationDriver,
		"quiz-sync", driver)
	if err != nil {
		return fmt.Errorf("failed to instantiate migrations %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations %w", err)
	}
	return nil
}

// acquire waits at most acquireTimeout for a pooled connection. The caller
// must Release it.
func (s *PgSyncStorage) acquire(ctx context.Context) (*pgxpool.Conn, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, s.acquireTimeout)
	defer cancel()
	conn, err := s.db.Acquire(acquireCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	return conn, nil
}

func (s *PgSyncStorage) ReplaceAll(ctx context.Context, records []store.QuizBankRecord) (int, error) {
	conn, err := s.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Release()

	// Once started the transaction runs to commit or rollback.
	txCtx := context.WithoutCancel(ctx)
	tx, err := conn.BeginTx(txCtx, pgx.TxOptions{
		IsoLevel: pgx.Serializable,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(context.Background())

	// EXCLUSIVE queues concurrent writers behind this transaction while plain
	// SELECTs keep reading the last committed snapshot.
	if _, err := tx.Exec(txCtx, "LOCK TABLE quiz_banks IN EXCLUSIVE MODE"); err != nil {
		return 0, fmt.Errorf("failed to lock records table: %w", err)
	}
	if _, err := tx.Exec(txCtx, "DELETE FROM quiz_banks"); err != nil {
		return 0, fmt.Errorf("failed to clear records: %w", err)
	}

	now := time.Now().UTC()
	if len(records) >= copyThreshold {
		err = insertCopy(txCtx, tx, records, now)
	} else {
		err = insertBatch(txCtx, tx, records, now)
	}
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(txCtx); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return len(records), nil
}

func insertBatch(ctx context.Context, tx pgx.Tx, records []store.QuizBankRecord, now time.Time) error {
	if len(records) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(`INSERT INTO quiz_banks
			(id, file_name, timestamp, difficulty, questions, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			r.Id, r.FileName, r.Timestamp, r.Difficulty, string(r.Questions), now, now)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return insertError(err)
	}
	return nil
}

func insertCopy(ctx context.Context, tx pgx.Tx, records []store.QuizBankRecord, now time.Time) error {
	rows := make([][]any, len(records))
	for i, r := range records {
		rows[i] = []any{r.Id, r.FileName, r.Timestamp, r.Difficulty, string(r.Questions), now, now}
	}
	_, err := tx.CopyFrom(ctx, pgx.Identifier{"quiz_banks"}, insertColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return insertError(err)
	}
	return nil
}

func insertError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("failed to insert records, duplicate id (%v): %w", pgErr.Detail, err)
	}
	return fmt.Errorf("failed to insert records: %w", err)
}

func (s *PgSyncStorage) DeleteOne(ctx context.Context, id string) (bool, error) {
	conn, err := s.acquire(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Release()

	tag, err := conn.Exec(context.WithoutCancel(ctx), "DELETE FROM quiz_banks WHERE id = $1", id)
	if err != nil {
		return false, fmt.Errorf("failed to delete record: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PgSyncStorage) FetchAll(ctx context.Context) ([]store.QuizBankRecord, error) {
	return s.query(ctx, selectColumns+" ORDER BY timestamp DESC, id ASC")
}

func (s *PgSyncStorage) FetchByDifficulty(ctx context.Context, difficulty string) ([]store.QuizBankRecord, error) {
	return s.query(ctx, selectColumns+" WHERE difficulty = $1 ORDER BY timestamp DESC, id ASC", difficulty)
}

func (s *PgSyncStorage) query(ctx context.Context, query string, args ...any) ([]store.QuizBankRecord, error) {
	conn, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	records := make([]store.QuizBankRecord, 0)
	for rows.Next() {
		var record store.QuizBankRecord
		var questions []byte
		err = rows.Scan(&record.Id, &record.FileName, &record.Timestamp, &record.Difficulty, &questions, &record.CreatedAt, &record.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		record.Questions = questions
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return records, nil
}

func (s *PgSyncStorage) Ping(ctx context.Context) error {
	conn, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()
	return conn.Ping(ctx)
}

func (s *PgSyncStorage) Close() error {
	s.db.Close()
	return nil
}
