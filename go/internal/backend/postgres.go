package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcdev12/relay/go/internal/remote"
	"github.com/mcdev12/relay/go/internal/sqlutil"
)

const schema = `
CREATE TABLE IF NOT EXISTS runners (
  id TEXT PRIMARY KEY,
  team_id TEXT NOT NULL,
  number INTEGER NOT NULL,
  name TEXT NOT NULL,
  pace_seconds DOUBLE PRECISION NOT NULL,
  van SMALLINT NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  UNIQUE (team_id, number)
);

CREATE TABLE IF NOT EXISTS legs (
  id TEXT PRIMARY KEY,
  team_id TEXT NOT NULL,
  number INTEGER NOT NULL,
  runner_id TEXT REFERENCES runners(id) ON DELETE SET NULL,
  distance DOUBLE PRECISION NOT NULL,
  actual_start TIMESTAMPTZ,
  actual_finish TIMESTAMPTZ,
  pace_override_seconds DOUBLE PRECISION,
  updated_at TIMESTAMPTZ NOT NULL,
  UNIQUE (team_id, number)
);
`

// PostgresRepository stores team records in Postgres
type PostgresRepository struct {
	pool *pgxpool.Pool
}

var _ Repository = (*PostgresRepository)(nil)

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Migrate creates the tables if they do not exist
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	return sqlutil.Run(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, schema); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
		return nil
	})
}

const runnerColumns = `id, number, name, pace_seconds, van, updated_at`

func scanRunner(row pgx.Row) (remote.RunnerRecord, error) {
	var (
		rec       remote.RunnerRecord
		updatedAt pgtype.Timestamptz
	)
	if err := row.Scan(&rec.ID, &rec.Number, &rec.Name, &rec.PaceSeconds, &rec.Van, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return remote.RunnerRecord{}, ErrNotFound
		}
		return remote.RunnerRecord{}, err
	}
	rec.UpdatedAt = formatOptional(sqlutil.FromTimestamptz(updatedAt))
	return rec, nil
}

func (r *PostgresRepository) GetRunner(ctx context.Context, teamID, id string) (remote.RunnerRecord, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+runnerColumns+` FROM runners WHERE team_id = $1 AND id = $2`, teamID, id)
	return scanRunner(row)
}

func (r *PostgresRepository) FindRunnerByNumber(ctx context.Context, teamID string, number int) (remote.RunnerRecord, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+runnerColumns+` FROM runners WHERE team_id = $1 AND number = $2`, teamID, number)
	return scanRunner(row)
}

func (r *PostgresRepository) SaveRunner(ctx context.Context, teamID string, rec remote.RunnerRecord) error {
	updatedAt, err := parseOptional(rec.UpdatedAt)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
INSERT INTO runners (id, team_id, number, name, pace_seconds, van, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
  number = EXCLUDED.number,
  name = EXCLUDED.name,
  pace_seconds = EXCLUDED.pace_seconds,
  van = EXCLUDED.van,
  updated_at = EXCLUDED.updated_at`,
		rec.ID, teamID, rec.Number, rec.Name, rec.PaceSeconds, rec.Van, sqlutil.ToTimestamptz(updatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save runner: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListRunners(ctx context.Context, teamID string) ([]remote.RunnerRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+runnerColumns+` FROM runners WHERE team_id = $1 ORDER BY number`, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to list runners: %w", err)
	}
	defer rows.Close()

	var out []remote.RunnerRecord
	for rows.Next() {
		rec, err := scanRunner(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

const legColumns = `id, number, runner_id, distance, actual_start, actual_finish, pace_override_seconds, updated_at`

func scanLeg(row pgx.Row) (remote.LegRecord, error) {
	var (
		rec                      remote.LegRecord
		runnerID                 pgtype.Text
		start, finish, updatedAt pgtype.Timestamptz
		paceOverride             pgtype.Float8
	)
	if err := row.Scan(&rec.ID, &rec.Number, &runnerID, &rec.Distance, &start, &finish, &paceOverride, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return remote.LegRecord{}, ErrNotFound
		}
		return remote.LegRecord{}, err
	}
	rec.RunnerID = sqlutil.FromText(runnerID)
	rec.ActualStart = formatPtr(sqlutil.FromTimestamptz(start))
	rec.ActualFinish = formatPtr(sqlutil.FromTimestamptz(finish))
	rec.PaceOverrideSeconds = sqlutil.FromFloat8(paceOverride)
	rec.UpdatedAt = formatOptional(sqlutil.FromTimestamptz(updatedAt))
	return rec, nil
}

func (r *PostgresRepository) GetLeg(ctx context.Context, teamID, id string) (remote.LegRecord, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+legColumns+` FROM legs WHERE team_id = $1 AND id = $2`, teamID, id)
	return scanLeg(row)
}

func (r *PostgresRepository) FindLegByNumber(ctx context.Context, teamID string, number int) (remote.LegRecord, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+legColumns+` FROM legs WHERE team_id = $1 AND number = $2`, teamID, number)
	return scanLeg(row)
}

func (r *PostgresRepository) SaveLeg(ctx context.Context, teamID string, rec remote.LegRecord) error {
	start, err := parseOptionalPtr(rec.ActualStart)
	if err != nil {
		return err
	}
	finish, err := parseOptionalPtr(rec.ActualFinish)
	if err != nil {
		return err
	}
	updatedAt, err := parseOptional(rec.UpdatedAt)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
INSERT INTO legs (id, team_id, number, runner_id, distance, actual_start, actual_finish, pace_override_seconds, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE SET
  number = EXCLUDED.number,
  runner_id = EXCLUDED.runner_id,
  distance = EXCLUDED.distance,
  actual_start = EXCLUDED.actual_start,
  actual_finish = EXCLUDED.actual_finish,
  pace_override_seconds = EXCLUDED.pace_override_seconds,
  updated_at = EXCLUDED.updated_at`,
		rec.ID, teamID, rec.Number, sqlutil.ToText(rec.RunnerID), rec.Distance,
		sqlutil.ToTimestamptz(start), sqlutil.ToTimestamptz(finish),
		sqlutil.ToFloat8(rec.PaceOverrideSeconds), sqlutil.ToTimestamptz(updatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save leg: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListLegs(ctx context.Context, teamID string) ([]remote.LegRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+legColumns+` FROM legs WHERE team_id = $1 ORDER BY number`, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to list legs: %w", err)
	}
	defer rows.Close()

	var out []remote.LegRecord
	for rows.Next() {
		rec, err := scanLeg(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func formatPtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := remote.FormatTime(*t)
	return &s
}

func formatOptional(t *time.Time) string {
	if t == nil {
		return ""
	}
	return remote.FormatTime(*t)
}

func parseOptional(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := remote.ParseTime(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseOptionalPtr(s *string) (*time.Time, error) {
	if s == nil {
		return nil, nil
	}
	return parseOptional(*s)
}
