package provenance

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists declarations in a SQLite database. Every opened store
// is one run, identified by a fresh UUID.
type SQLiteStore struct {
	DB    *sql.DB
	RunID string

	// Now is overridable in tests.
	Now func() time.Time
}

// OpenDB opens the database at path with the schema applied, without
// starting a run. Used for reading back earlier runs.
func OpenDB(ctx context.Context, path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating provenance directory: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening provenance db: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating provenance db: %w", err)
	}
	return db, nil
}

// OpenSQLite opens (creating if needed) the database at path and starts a run.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := OpenDB(ctx, path)
	if err != nil {
		return nil, err
	}

	s := &SQLiteStore{DB: db, RunID: uuid.NewString(), Now: time.Now}
	if _, err := db.ExecContext(ctx, `INSERT INTO runs(id, started_at) VALUES (?, ?)`, s.RunID, s.Now().UTC()); err != nil {
		db.Close()
		return nil, fmt.Errorf("registering run: %w", err)
	}
	return s, nil
}

// Close releases the database.
func (s *SQLiteStore) Close() error {
	return s.DB.Close()
}

func (s *SQLiteStore) add(ctx context.Context, r Record) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO stage_files(run_id, stage, direction, directory, filename, name, declared_at) VALUES (?,?,?,?,?,?,?)`,
		s.RunID, r.Stage, string(r.Direction), r.Directory, r.Filename, r.Name, s.Now().UTC())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: stage %s %s %q", ErrDuplicateName, r.Stage, r.Direction, r.Name)
		}
		return fmt.Errorf("declaring %s %s: %w", r.Direction, r.Name, err)
	}
	return nil
}

// AddStageInput declares an input file of stage.
func (s *SQLiteStore) AddStageInput(ctx context.Context, stage, directory, filename, name string) error {
	return s.add(ctx, Record{Stage: stage, Direction: Input, Directory: directory, Filename: filename, Name: name})
}

// AddStageOutput declares an output file of stage.
func (s *SQLiteStore) AddStageOutput(ctx context.Context, stage, directory, filename, name string) error {
	return s.add(ctx, Record{Stage: stage, Direction: Output, Directory: directory, Filename: filename, Name: name})
}

// Records lists the declarations of this run for stage (all stages when empty).
func (s *SQLiteStore) Records(ctx context.Context, stage string) ([]Record, error) {
	return queryRecords(ctx, s.DB, s.RunID, stage)
}

// LatestRun returns the id of the most recently started run in db.
func LatestRun(ctx context.Context, db *sql.DB) (string, error) {
	var id string
	err := db.QueryRowContext(ctx, `SELECT id FROM runs ORDER BY rowid DESC LIMIT 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("no runs recorded")
	}
	return id, err
}

// RecordsForRun lists the declarations of an arbitrary run.
func RecordsForRun(ctx context.Context, db *sql.DB, runID, stage string) ([]Record, error) {
	return queryRecords(ctx, db, runID, stage)
}

func queryRecords(ctx context.Context, db *sql.DB, runID, stage string) ([]Record, error) {
	q := `SELECT stage, direction, directory, filename, name FROM stage_files WHERE run_id=?`
	args := []any{runID}
	if stage != "" {
		q += ` AND stage=?`
		args = append(args, stage)
	}
	q += ` ORDER BY id`

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var dir string
		if err := rows.Scan(&r.Stage, &dir, &r.Directory, &r.Filename, &r.Name); err != nil {
			return nil, err
		}
		r.Direction = Direction(dir)
		out = append(out, r)
	}
	return out, rows.Err()
}
