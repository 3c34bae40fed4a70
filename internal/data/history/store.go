package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"racewatch/internal/engine/race"
)

const (
	driverName  = "sqlite"
	maxAttempts = 5

	// Fixed width so ts_utc sorts lexically.
	tsLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// Store persists detection runs in sqlite.
type Store struct {
	path string
	db   *sql.DB
	mu   sync.Mutex
	now  func() time.Time
}

// Open creates or upgrades the database at path. busyTimeout <= 0 uses 2s.
func Open(ctx context.Context, path string, busyTimeout time.Duration) (*Store, error) {
	cleanPath := strings.TrimSpace(path)
	if cleanPath == "" {
		return nil, fmt.Errorf("history path must not be empty")
	}
	if info, err := os.Stat(cleanPath); err == nil && info.IsDir() {
		return nil, fmt.Errorf("history path %q is a directory, expected file", cleanPath)
	}
	dir := filepath.Dir(cleanPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history directory %q: %w", dir, err)
		}
	}
	if busyTimeout <= 0 {
		busyTimeout = 2 * time.Second
	}

	// busy_timeout + WAL keep watch-mode writers from tripping over readers.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)",
		cleanPath, busyTimeout.Milliseconds())
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite history %q: %w", cleanPath, err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite history %q: %w", cleanPath, err)
	}
	if err := EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize sqlite schema %q: %w", cleanPath, err)
	}
	return &Store{path: cleanPath, db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// SaveRun stores run and its races in one transaction and returns the run
// with ID and Timestamp filled in.
func (s *Store) SaveRun(ctx context.Context, run Run, races []RaceRecord) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run.ProjectKey = normalizeProjectKey(run.ProjectKey)
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Timestamp.IsZero() {
		run.Timestamp = s.now()
	}
	run.Timestamp = run.Timestamp.UTC()

	err := s.withRetry("save run", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `
INSERT INTO runs (
  id, project_key, snapshot_digest, ts_utc, total_races, unmitigated,
  critical, high, medium, low, warnings, shared_state_items
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, run.ProjectKey, run.SnapshotDigest, run.Timestamp.Format(tsLayout),
			run.TotalRaces, run.Unmitigated, run.Critical, run.High, run.Medium, run.Low,
			run.Warnings, run.SharedStateItems,
		); err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, `
INSERT OR IGNORE INTO races (
  run_id, fingerprint, race_type, state_key, severity, raw_score, mitigated, mitigation_type,
  atom_a, file_a, line_a, atom_b, file_b, line_b, description
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range races {
			if _, err := stmt.ExecContext(ctx,
				run.ID, r.Fingerprint, string(r.Type), r.StateKey, string(r.Severity), r.RawScore,
				r.Mitigated, r.MitigationType, r.AtomA, r.FileA, r.LineA, r.AtomB, r.FileB, r.LineB,
				r.Description,
			); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return Run{}, err
	}
	return run, nil
}

// Runs returns up to limit runs for projectKey, newest first. limit <= 0
// returns every run.
func (s *Store) Runs(ctx context.Context, projectKey string, limit int) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
SELECT id, project_key, snapshot_digest, ts_utc, total_races, unmitigated,
  critical, high, medium, low, warnings, shared_state_items
FROM runs
WHERE project_key = ?
ORDER BY ts_utc DESC, created_at_utc DESC`
	args := []any{normalizeProjectKey(projectKey)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var runs []Run
	err := s.withRetry("load runs", func() error {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		runs = runs[:0]
		for rows.Next() {
			var (
				run   Run
				tsRaw string
			)
			if err := rows.Scan(
				&run.ID, &run.ProjectKey, &run.SnapshotDigest, &tsRaw, &run.TotalRaces, &run.Unmitigated,
				&run.Critical, &run.High, &run.Medium, &run.Low, &run.Warnings, &run.SharedStateItems,
			); err != nil {
				return fmt.Errorf("scan run row: %w", err)
			}
			ts, err := time.Parse(tsLayout, tsRaw)
			if err != nil {
				return fmt.Errorf("parse run timestamp %q: %w", tsRaw, err)
			}
			run.Timestamp = ts.UTC()
			runs = append(runs, run)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return runs, nil
}

// Races returns the race rows of one run ordered by fingerprint.
func (s *Store) Races(ctx context.Context, runID string) ([]RaceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.racesLocked(ctx, runID)
}

func (s *Store) racesLocked(ctx context.Context, runID string) ([]RaceRecord, error) {
	var out []RaceRecord
	err := s.withRetry("load races", func() error {
		rows, err := s.db.QueryContext(ctx, `
SELECT fingerprint, race_type, state_key, severity, raw_score, mitigated, mitigation_type,
  atom_a, file_a, line_a, atom_b, file_b, line_b, description
FROM races WHERE run_id = ? ORDER BY fingerprint`, runID)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			var (
				r     RaceRecord
				rtype string
				sev   string
			)
			if err := rows.Scan(
				&r.Fingerprint, &rtype, &r.StateKey, &sev, &r.RawScore, &r.Mitigated, &r.MitigationType,
				&r.AtomA, &r.FileA, &r.LineA, &r.AtomB, &r.FileB, &r.LineB, &r.Description,
			); err != nil {
				return fmt.Errorf("scan race row: %w", err)
			}
			r.Type = race.RaceType(rtype)
			r.Severity = race.Severity(sev)
			out = append(out, r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeltaSince compares run with the newest earlier run of the same project.
// With no earlier run every race counts as new.
func (s *Store) DeltaSince(ctx context.Context, run Run) (Delta, error) {
	runs, err := s.Runs(ctx, run.ProjectKey, 0)
	if err != nil {
		return Delta{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.racesLocked(ctx, run.ID)
	if err != nil {
		return Delta{}, err
	}
	var previous *Run
	for i := range runs {
		if runs[i].ID != run.ID && !runs[i].Timestamp.After(run.Timestamp) {
			previous = &runs[i]
			break
		}
	}
	if previous == nil {
		return Delta{New: current}, nil
	}
	before, err := s.racesLocked(ctx, previous.ID)
	if err != nil {
		return Delta{}, err
	}
	return diff(previous, before, current), nil
}

func diff(previous *Run, before, current []RaceRecord) Delta {
	seen := make(map[string]bool, len(before))
	for _, r := range before {
		seen[r.Fingerprint] = true
	}
	d := Delta{Previous: previous}
	still := make(map[string]bool, len(current))
	for _, r := range current {
		still[r.Fingerprint] = true
		if seen[r.Fingerprint] {
			d.Persisting++
		} else {
			d.New = append(d.New, r)
		}
	}
	for _, r := range before {
		if !still[r.Fingerprint] {
			d.Resolved = append(d.Resolved, r)
		}
	}
	return d
}

// Prune keeps the newest keep runs of projectKey and deletes the rest along
// with their races. keep <= 0 is a no-op.
func (s *Store) Prune(ctx context.Context, projectKey string, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := normalizeProjectKey(projectKey)
	var removed int64
	err := s.withRetry("prune runs", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		const stale = `SELECT id FROM runs WHERE project_key = ? AND id NOT IN (
  SELECT id FROM runs WHERE project_key = ? ORDER BY ts_utc DESC, created_at_utc DESC LIMIT ?
)`
		if _, err := tx.ExecContext(ctx, `DELETE FROM races WHERE run_id IN (`+stale+`)`, key, key, keep); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id IN (`+stale+`)`, key, key, keep)
		if err != nil {
			return err
		}
		if removed, err = res.RowsAffected(); err != nil {
			return err
		}
		return tx.Commit()
	})
	return removed, err
}

func (s *Store) withRetry(op string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isLockError(err) || attempt == maxAttempts {
			break
		}
		time.Sleep(time.Duration(attempt*25) * time.Millisecond)
	}
	return fmt.Errorf("%s: %w", op, lastErr)
}

func isLockError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}

func normalizeProjectKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "default"
	}
	return key
}
