package offline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStorage persists the queue on the device
type SQLiteStorage struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path and runs migrations.
func OpenSQLite(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer keeps replay order and avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	s := &SQLiteStorage{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return s, nil
}

func (s *SQLiteStorage) Close() error { return s.db.Close() }

func (s *SQLiteStorage) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS outbox (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  id TEXT NOT NULL UNIQUE,
  tbl TEXT NOT NULL,
  remote_id TEXT NOT NULL DEFAULT '',
  entity_id INTEGER NOT NULL,
  payload BLOB NOT NULL,
  enqueued_at INTEGER NOT NULL,
  attempts INTEGER NOT NULL DEFAULT 0,
  last_error TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS dead_letter (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  id TEXT NOT NULL,
  tbl TEXT NOT NULL,
  remote_id TEXT NOT NULL DEFAULT '',
  entity_id INTEGER NOT NULL,
  payload BLOB NOT NULL,
  enqueued_at INTEGER NOT NULL,
  attempts INTEGER NOT NULL,
  reason TEXT NOT NULL,
  failed_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_state (
  k TEXT PRIMARY KEY,
  v TEXT NOT NULL
);
`)
	return err
}

func (s *SQLiteStorage) Append(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO outbox(id, tbl, remote_id, entity_id, payload, enqueued_at, attempts, last_error)
VALUES(?,?,?,?,?,?,?,?)`,
		rec.ID.String(), rec.Table, rec.RemoteID, rec.EntityID, []byte(rec.Payload),
		rec.EnqueuedAt.UnixMilli(), rec.Attempts, rec.LastError,
	)
	if err != nil {
		return fmt.Errorf("append outbox record: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, tbl, remote_id, entity_id, payload, enqueued_at, attempts, last_error
FROM outbox ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("list outbox: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []Record
	for rows.Next() {
		var (
			rec        Record
			id         string
			payload    []byte
			enqueuedAt int64
		)
		if err := rows.Scan(&id, &rec.Table, &rec.RemoteID, &rec.EntityID, &payload, &enqueuedAt, &rec.Attempts, &rec.LastError); err != nil {
			return nil, err
		}
		if rec.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse outbox id %q: %w", id, err)
		}
		rec.Payload = payload
		rec.EnqueuedAt = time.UnixMilli(enqueuedAt).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM outbox WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete outbox record: %w", err)
	}
	return requireRow(res)
}

func (s *SQLiteStorage) MarkAttempt(ctx context.Context, id uuid.UUID, attempts int, lastErr string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE outbox SET attempts = ?, last_error = ? WHERE id = ?`,
		attempts, lastErr, id.String())
	if err != nil {
		return fmt.Errorf("mark outbox attempt: %w", err)
	}
	return requireRow(res)
}

func (s *SQLiteStorage) MoveToDeadLetter(ctx context.Context, dl DeadLetter) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM outbox WHERE id = ?`, dl.ID.String()); err != nil {
		return fmt.Errorf("remove dead record: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO dead_letter(id, tbl, remote_id, entity_id, payload, enqueued_at, attempts, reason, failed_at)
VALUES(?,?,?,?,?,?,?,?,?)`,
		dl.ID.String(), dl.Table, dl.RemoteID, dl.EntityID, []byte(dl.Payload),
		dl.EnqueuedAt.UnixMilli(), dl.Attempts, dl.Reason, dl.FailedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStorage) DeadLetters(ctx context.Context) ([]DeadLetter, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, tbl, remote_id, entity_id, payload, enqueued_at, attempts, reason, failed_at
FROM dead_letter ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []DeadLetter
	for rows.Next() {
		var (
			dl                   DeadLetter
			id                   string
			payload              []byte
			enqueuedAt, failedAt int64
		)
		if err := rows.Scan(&id, &dl.Table, &dl.RemoteID, &dl.EntityID, &payload, &enqueuedAt, &dl.Attempts, &dl.Reason, &failedAt); err != nil {
			return nil, err
		}
		if dl.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse dead letter id %q: %w", id, err)
		}
		dl.Payload = payload
		dl.EnqueuedAt = time.UnixMilli(enqueuedAt).UTC()
		dl.FailedAt = time.UnixMilli(failedAt).UTC()
		out = append(out, dl)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) GetState(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT v FROM sync_state WHERE k = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *SQLiteStorage) SetState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sync_state(k,v) VALUES(?,?)
ON CONFLICT(k) DO UPDATE SET v=excluded.v`, key, value)
	return err
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}
