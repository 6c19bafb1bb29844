// Package telemetry persists and publishes what the drive loop did each tick:
// a SQLite store of runs and ticks, an asynchronous recorder feeding it, and a
// UDP CSV publisher for live dashboards.
package telemetry

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Sample is one tick as recorded.
type Sample struct {
	Tick          uint64
	At            time.Time
	Mode          string
	Steering      float64
	Throttle      float64
	UserSteering  float64
	UserThrottle  float64
	AISteering    float64
	ExitSum       float64
	BrightnessSum float64
	Actions       string
}

// Run summarises one drive or replay session.
type Run struct {
	ID        string
	Source    string
	Label     string
	StartedAt time.Time
	EndedAt   *time.Time
	Ticks     int64
	FinalMode string
}

var ErrUnknownRun = errors.New("telemetry: unknown run")

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and migrates it to the
// latest schema. ":memory:" is accepted for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open telemetry db: %w", err)
	}
	// One writer; also keeps ":memory:" to a single shared database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA foreign_keys = ON; PRAGMA busy_timeout = 5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("telemetry pragmas: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	// m is not closed: that would close s.db.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("telemetry migration up failed: %w", err)
	}
	return nil
}

// SchemaVersion reports the applied migration version.
func (s *Store) SchemaVersion() (uint, error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, err
	}
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if dirty {
		return v, fmt.Errorf("telemetry schema version %d is dirty", v)
	}
	return v, nil
}

func (s *Store) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("load telemetry migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("create sqlite migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}
	return m, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// StartRun inserts a new run and returns its ID.
func (s *Store) StartRun(ctx context.Context, source, label string, at time.Time) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, source, label, started_ms) VALUES (?, ?, ?, ?)`,
		id, source, label, at.UnixMilli(),
	)
	if err != nil {
		return "", fmt.Errorf("start run: %w", err)
	}
	return id, nil
}

// FinishRun stamps the end time, tick count and last mode of a run.
func (s *Store) FinishRun(ctx context.Context, runID string, at time.Time, finalMode string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs
		    SET ended_ms = ?,
		        final_mode = ?,
		        ticks = (SELECT COUNT(*) FROM ticks WHERE ticks.run_id = runs.run_id)
		  WHERE run_id = ?`,
		at.UnixMilli(), finalMode, runID,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: %w", runID, ErrUnknownRun)
	}
	return nil
}

// InsertTicks writes samples in one transaction.
func (s *Store) InsertTicks(ctx context.Context, runID string, samples []Sample) error {
	if len(samples) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tick batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO ticks (
			run_id, tick, at_ms, mode, steering, throttle,
			user_steering, user_throttle, ai_steering, exit_sum, brightness_sum, actions
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare tick insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range samples {
		_, err := stmt.ExecContext(ctx,
			runID, int64(t.Tick), t.At.UnixMilli(), t.Mode,
			finite(t.Steering), finite(t.Throttle),
			finite(t.UserSteering), finite(t.UserThrottle), finite(t.AISteering),
			finite(t.ExitSum), finite(t.BrightnessSum), t.Actions,
		)
		if err != nil {
			return fmt.Errorf("insert tick %d: %w", t.Tick, err)
		}
	}
	return tx.Commit()
}

// ListRuns returns the most recent runs first. limit <= 0 means all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	q := `SELECT run_id, source, label, started_ms, ended_ms, ticks, final_mode
	        FROM runs ORDER BY started_ms DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r       Run
			started int64
			ended   sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.Source, &r.Label, &started, &ended, &r.Ticks, &r.FinalMode); err != nil {
			return nil, err
		}
		r.StartedAt = time.UnixMilli(started)
		if ended.Valid {
			t := time.UnixMilli(ended.Int64)
			r.EndedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RunTicks returns the recorded ticks of a run in tick order.
func (s *Store) RunTicks(ctx context.Context, runID string) ([]Sample, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tick, at_ms, mode, steering, throttle, user_steering, user_throttle,
		        ai_steering, exit_sum, brightness_sum, actions
		   FROM ticks WHERE run_id = ? ORDER BY tick`, runID)
	if err != nil {
		return nil, fmt.Errorf("run ticks: %w", err)
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		var (
			t    Sample
			tick int64
			at   int64
		)
		if err := rows.Scan(&tick, &at, &t.Mode, &t.Steering, &t.Throttle, &t.UserSteering,
			&t.UserThrottle, &t.AISteering, &t.ExitSum, &t.BrightnessSum, &t.Actions); err != nil {
			return nil, err
		}
		t.Tick = uint64(tick)
		t.At = time.UnixMilli(at)
		out = append(out, t)
	}
	return out, rows.Err()
}

// ModeCounts returns how many ticks of a run were spent in each mode.
func (s *Store) ModeCounts(ctx context.Context, runID string) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT mode, COUNT(*) FROM ticks WHERE run_id = ? GROUP BY mode`, runID)
	if err != nil {
		return nil, fmt.Errorf("mode counts: %w", err)
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var (
			mode string
			n    int64
		)
		if err := rows.Scan(&mode, &n); err != nil {
			return nil, err
		}
		out[mode] = n
	}
	return out, rows.Err()
}

// finite maps NaN to 0 and infinities to the largest float so every column
// stays a plain REAL.
func finite(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case math.IsInf(v, 1):
		return math.MaxFloat64
	case math.IsInf(v, -1):
		return -math.MaxFloat64
	}
	return v
}
