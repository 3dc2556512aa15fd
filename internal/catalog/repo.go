package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Run is one encode run. Parts is populated by GetRun and LatestRun only.
type Run struct {
	ID         string
	Source     string
	OutDir     string
	Title      string
	Generated  time.Time
	MaxChars   int
	PartCount  int
	TotalChars int
	Parts      []RunPart
}

// RunPart is the catalog copy of one manifest entry.
type RunPart struct {
	Index  int
	File   string
	Chars  int
	SHA256 string
}

// Verification is one verify outcome. RunID is empty when the directory had
// no recorded run.
type Verification struct {
	ID        int64
	RunID     string
	OutDir    string
	CheckedAt time.Time
	OK        bool
	Failures  int
	CompareOK *bool
}

// RunFilter narrows ListRuns. Zero values mean no filtering; Limit defaults to 20.
type RunFilter struct {
	Source string
	Limit  int
}

// RecordRun inserts a run and its parts in one transaction. An empty ID is
// replaced with a new UUID.
func (db *DB) RecordRun(run *Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("catalog: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	_, err = tx.Exec(`
		INSERT INTO runs (id, source, out_dir, title, generated, max_chars, part_count, total_chars)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Source, run.OutDir, run.Title, run.Generated.UTC(), run.MaxChars, run.PartCount, run.TotalChars)
	if err != nil {
		return fmt.Errorf("catalog: insert run: %w", err)
	}

	if len(run.Parts) > 0 {
		stmt, err := tx.Prepare(`INSERT INTO run_parts (run_id, idx, file, chars, sha256) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("catalog: prepare part insert: %w", err)
		}
		defer stmt.Close()
		for _, p := range run.Parts {
			if _, err := stmt.Exec(run.ID, p.Index, p.File, p.Chars, p.SHA256); err != nil {
				return fmt.Errorf("catalog: insert part: %w", err)
			}
		}
	}
	return tx.Commit()
}

// RecordVerification stores a verify outcome and sets v.ID.
func (db *DB) RecordVerification(v *Verification) error {
	var runID any
	if v.RunID != "" {
		runID = v.RunID
	}
	var compare sql.NullBool
	if v.CompareOK != nil {
		compare = sql.NullBool{Bool: *v.CompareOK, Valid: true}
	}
	res, err := db.conn.Exec(`
		INSERT INTO verifications (run_id, out_dir, checked_at, ok, failures, compare_ok)
		VALUES (?, ?, ?, ?, ?, ?)
	`, runID, v.OutDir, v.CheckedAt.UTC(), v.OK, v.Failures, compare)
	if err != nil {
		return fmt.Errorf("catalog: insert verification: %w", err)
	}
	v.ID, _ = res.LastInsertId()
	return nil
}

const runColumns = `id, source, out_dir, title, generated, max_chars, part_count, total_chars`

func scanRun(row interface{ Scan(...any) error }) (*Run, error) {
	var r Run
	if err := row.Scan(&r.ID, &r.Source, &r.OutDir, &r.Title, &r.Generated, &r.MaxChars, &r.PartCount, &r.TotalChars); err != nil {
		return nil, err
	}
	return &r, nil
}

// GetRun returns a run with its parts.
func (db *DB) GetRun(id string) (*Run, error) {
	r, err := scanRun(db.conn.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("catalog: get run: %w", err)
	}
	if err := db.loadParts(r); err != nil {
		return nil, err
	}
	return r, nil
}

// LatestRun returns the most recent run written to outDir.
func (db *DB) LatestRun(outDir string) (*Run, error) {
	r, err := scanRun(db.conn.QueryRow(`
		SELECT `+runColumns+` FROM runs
		WHERE out_dir = ?
		ORDER BY generated DESC, rowid DESC
		LIMIT 1
	`, outDir))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("catalog: latest run: %w", err)
	}
	if err := db.loadParts(r); err != nil {
		return nil, err
	}
	return r, nil
}

// ListRuns returns runs newest first, without parts.
func (db *DB) ListRuns(f RunFilter) ([]Run, error) {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	query := `SELECT ` + runColumns + ` FROM runs`
	var args []any
	if f.Source != "" {
		query += ` WHERE source = ?`
		args = append(args, f.Source)
	}
	query += ` ORDER BY generated DESC, rowid DESC LIMIT ?`
	args = append(args, f.Limit)

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// Verifications returns the verify outcomes recorded against a run, oldest first.
func (db *DB) Verifications(runID string) ([]Verification, error) {
	rows, err := db.conn.Query(`
		SELECT id, COALESCE(run_id, ''), out_dir, checked_at, ok, failures, compare_ok
		FROM verifications
		WHERE run_id = ?
		ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("catalog: verifications: %w", err)
	}
	defer rows.Close()

	var out []Verification
	for rows.Next() {
		var (
			v       Verification
			compare sql.NullBool
		)
		if err := rows.Scan(&v.ID, &v.RunID, &v.OutDir, &v.CheckedAt, &v.OK, &v.Failures, &compare); err != nil {
			return nil, err
		}
		if compare.Valid {
			ok := compare.Bool
			v.CompareOK = &ok
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (db *DB) loadParts(r *Run) error {
	rows, err := db.conn.Query(`SELECT idx, file, chars, sha256 FROM run_parts WHERE run_id = ? ORDER BY idx`, r.ID)
	if err != nil {
		return fmt.Errorf("catalog: load parts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p RunPart
		if err := rows.Scan(&p.Index, &p.File, &p.Chars, &p.SHA256); err != nil {
			return err
		}
		r.Parts = append(r.Parts, p)
	}
	return rows.Err()
}
