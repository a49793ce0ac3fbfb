// Package runstore records processing runs in a SQLite ledger: one row
// per CLI-invoked calibration, sequence or tracking run, plus per-frame
// statistics. The ledger answers "what ran, over which frames, and did it
// finish" without re-reading the per-frame artifacts.
package runstore

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Run statuses.
const (
	StatusRunning  = "running"
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

// Run is one ledger entry.
type Run struct {
	ID         string
	Kind       string // "calibrate", "sequence", "tracking", ...
	ParamsPath string
	FrameFirst int
	FrameLast  int
	Status     string
	Error      string
	StartedNs  int64
	FinishedNs *int64
}

// FrameStat is one frame's statistics within a run.
type FrameStat struct {
	Frame   int
	Targets []int // detected targets per camera
	Classes []int // correspondences per multiplicity class, pairs first
	Links   int   // forward links out of the frame
}

// Store wraps the ledger database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the ledger at path and applies any pending
// schema migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open run ledger: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// migrateUp applies the embedded migrations.
func (s *Store) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// migrateLogger implements migrate.Logger.
type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool { return false }

// BeginRun inserts a new running ledger entry and returns it.
func (s *Store) BeginRun(kind, paramsPath string, first, last int) (*Run, error) {
	r := &Run{
		ID:         uuid.New().String(),
		Kind:       kind,
		ParamsPath: paramsPath,
		FrameFirst: first,
		FrameLast:  last,
		Status:     StatusRunning,
		StartedNs:  time.Now().UnixNano(),
	}
	_, err := s.db.Exec(`
		INSERT INTO runs (run_id, kind, params_path, frame_first, frame_last, status, started_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Kind, r.ParamsPath, r.FrameFirst, r.FrameLast, r.Status, r.StartedNs)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return r, nil
}

// FinishRun marks a run finished or failed depending on runErr.
func (s *Store) FinishRun(runID string, runErr error) error {
	status := StatusFinished
	msg := ""
	if runErr != nil {
		status = StatusFailed
		msg = runErr.Error()
	}
	_, err := s.db.Exec(`
		UPDATE runs SET status = ?, error = ?, finished_at_ns = ? WHERE run_id = ?`,
		status, msg, time.Now().UnixNano(), runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// RecordFrame upserts one frame's statistics for a run.
func (s *Store) RecordFrame(runID string, st FrameStat) error {
	targets, err := json.Marshal(st.Targets)
	if err != nil {
		return fmt.Errorf("encode frame stats: %w", err)
	}
	classes, err := json.Marshal(st.Classes)
	if err != nil {
		return fmt.Errorf("encode frame stats: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO frame_stats (run_id, frame, targets_json, classes_json, links)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id, frame) DO UPDATE SET
			targets_json = excluded.targets_json,
			classes_json = excluded.classes_json,
			links        = frame_stats.links + excluded.links`,
		runID, st.Frame, string(targets), string(classes), st.Links)
	if err != nil {
		return fmt.Errorf("record frame %d: %w", st.Frame, err)
	}
	return nil
}

// GetRun retrieves one run by id.
func (s *Store) GetRun(runID string) (*Run, error) {
	row := s.db.QueryRow(`
		SELECT run_id, kind, params_path, frame_first, frame_last, status,
		       COALESCE(error, ''), started_at_ns, finished_at_ns
		FROM runs WHERE run_id = ?`, runID)
	return scanRun(row)
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT run_id, kind, params_path, frame_first, frame_last, status,
		       COALESCE(error, ''), started_at_ns, finished_at_ns
		FROM runs ORDER BY started_at_ns DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RunFrames returns a run's per-frame statistics in frame order.
func (s *Store) RunFrames(runID string) ([]FrameStat, error) {
	rows, err := s.db.Query(`
		SELECT frame, COALESCE(targets_json, 'null'), COALESCE(classes_json, 'null'), links
		FROM frame_stats WHERE run_id = ? ORDER BY frame`, runID)
	if err != nil {
		return nil, fmt.Errorf("run frames: %w", err)
	}
	defer rows.Close()

	var stats []FrameStat
	for rows.Next() {
		var st FrameStat
		var targets, classes string
		if err := rows.Scan(&st.Frame, &targets, &classes, &st.Links); err != nil {
			return nil, fmt.Errorf("scan frame stats: %w", err)
		}
		if err := json.Unmarshal([]byte(targets), &st.Targets); err != nil {
			return nil, fmt.Errorf("decode frame stats: %w", err)
		}
		if err := json.Unmarshal([]byte(classes), &st.Classes); err != nil {
			return nil, fmt.Errorf("decode frame stats: %w", err)
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	r := &Run{}
	var finished sql.NullInt64
	err := row.Scan(&r.ID, &r.Kind, &r.ParamsPath, &r.FrameFirst, &r.FrameLast,
		&r.Status, &r.Error, &r.StartedNs, &finished)
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	if finished.Valid {
		r.FinishedNs = &finished.Int64
	}
	return r, nil
}
