package ensemble

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const storeSchema = `
CREATE TABLE IF NOT EXISTS ensemble_runs (
	run_id TEXT PRIMARY KEY,
	created_at TEXT NOT NULL,
	config TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS ensemble_results (
	run_id TEXT NOT NULL,
	task TEXT NOT NULL,
	position INTEGER NOT NULL,
	sample_id TEXT NOT NULL,
	label TEXT NOT NULL,
	truth TEXT NOT NULL DEFAULT '',
	scores TEXT NOT NULL,
	PRIMARY KEY (run_id, task, sample_id),
	FOREIGN KEY (run_id) REFERENCES ensemble_runs(run_id) ON DELETE CASCADE
);
`

// fixed width so created_at sorts as text
const storeTimeLayout = "2006-01-02T15:04:05.000000000Z"

// ResultStore archives pipeline runs in a SQLite database.
type ResultStore struct {
	db *sql.DB
}

// RunInfo describes an archived run.
type RunInfo struct {
	RunID     string
	CreatedAt time.Time
	Results   int
}

// StoredResult is one archived result row.
type StoredResult struct {
	SampleID string
	Label    string
	Truth    string
	Scores   []float64
}

// OpenResultStore opens (creating if needed) the database at path.
func OpenResultStore(path string) (*ResultStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(storeSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create store schema: %w", err)
	}
	return &ResultStore{db: db}, nil
}

// Close releases the database handle.
func (s *ResultStore) Close() error {
	return s.db.Close()
}

// SaveRun writes a run and all of its results in one transaction.
func (s *ResultStore) SaveRun(ctx context.Context, out *Output, cfg FileConfig) error {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ensemble_runs (run_id, created_at, config) VALUES (?, ?, ?)`,
		out.RunID, out.CreatedAt.UTC().Format(storeTimeLayout), string(cfgJSON)); err != nil {
		return fmt.Errorf("insert run %s: %w", out.RunID, err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO ensemble_results (run_id, task, position, sample_id, label, truth, scores)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()
	for _, t := range out.Tasks {
		for i, r := range t.Results {
			scores, err := json.Marshal(r.Scores)
			if err != nil {
				return fmt.Errorf("encode scores: %w", err)
			}
			if _, err := stmt.ExecContext(ctx, out.RunID, t.Task, i, r.SampleID, r.Label, r.Truth, string(scores)); err != nil {
				return fmt.Errorf("insert %s/%s: %w", t.Task, r.SampleID, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run %s: %w", out.RunID, err)
	}
	return nil
}

// ListRuns returns archived runs, newest first.
func (s *ResultStore) ListRuns(ctx context.Context) ([]RunInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.run_id, r.created_at, COUNT(res.sample_id)
		FROM ensemble_runs r
		LEFT JOIN ensemble_results res ON res.run_id = r.run_id
		GROUP BY r.run_id, r.created_at
		ORDER BY r.created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunInfo
	for rows.Next() {
		var info RunInfo
		var created string
		if err := rows.Scan(&info.RunID, &created, &info.Results); err != nil {
			return nil, err
		}
		if info.CreatedAt, err = time.Parse(storeTimeLayout, created); err != nil {
			return nil, fmt.Errorf("run %s: parse created_at: %w", info.RunID, err)
		}
		runs = append(runs, info)
	}
	return runs, rows.Err()
}

// LoadResults returns the archived results of one task of a run, in table order.
func (s *ResultStore) LoadResults(ctx context.Context, runID, task string) ([]StoredResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sample_id, label, truth, scores
		FROM ensemble_results
		WHERE run_id = ? AND task = ?
		ORDER BY position
	`, runID, NormalizeKey(task))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StoredResult
	for rows.Next() {
		var r StoredResult
		var scores string
		if err := rows.Scan(&r.SampleID, &r.Label, &r.Truth, &scores); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(scores), &r.Scores); err != nil {
			return nil, fmt.Errorf("decode scores for %s: %w", r.SampleID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
