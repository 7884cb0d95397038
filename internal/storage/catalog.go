package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const CatalogFile = "catalog.db"

const catalogSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY,
	instrument      TEXT NOT NULL,
	design          TEXT NOT NULL,
	mirror_kind     TEXT NOT NULL,
	status          TEXT NOT NULL,
	started_at      INTEGER NOT NULL,
	wfe_aber        REAL NOT NULL,
	num_modes       INTEGER NOT NULL DEFAULT 0,
	contrast_floor  REAL NOT NULL DEFAULT 0,
	runtime_seconds REAL NOT NULL DEFAULT 0,
	failed_stage    TEXT NOT NULL DEFAULT '',
	failed_mode     INTEGER,
	error           TEXT NOT NULL DEFAULT '',
	stage_seconds   TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS runs_started_at ON runs(started_at);
`

// Catalog indexes every run, including failed ones, in a SQLite database.
type Catalog struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// OpenCatalog opens or creates the catalog database at path.
func OpenCatalog(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("catalog path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(catalogSchema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Catalog{sqlDB: sqlDB}, nil
}

// OpenCatalog opens the catalog in the store's base directory.
func (s *Store) OpenCatalog() (*Catalog, error) {
	if err := s.Init(); err != nil {
		return nil, err
	}
	return OpenCatalog(filepath.Join(s.baseDir, CatalogFile))
}

func (c *Catalog) Close() error {
	if c == nil || c.sqlDB == nil {
		return nil
	}
	return c.sqlDB.Close()
}

// Record inserts or replaces the row of meta.ID.
func (c *Catalog) Record(ctx context.Context, meta RunMetadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c == nil || c.sqlDB == nil {
		return fmt.Errorf("catalog is not open")
	}
	if strings.TrimSpace(meta.ID) == "" {
		return fmt.Errorf("run id is required")
	}
	stages, err := json.Marshal(meta.StageSeconds)
	if err != nil {
		return fmt.Errorf("encode stage timings: %w", err)
	}
	var failedMode sql.NullInt64
	if meta.FailedMode != nil {
		failedMode = sql.NullInt64{Int64: int64(*meta.FailedMode), Valid: true}
	}

	_, err = c.sqlDB.ExecContext(
		ctx,
		`INSERT INTO runs (
		   id, instrument, design, mirror_kind, status, started_at, wfe_aber,
		   num_modes, contrast_floor, runtime_seconds,
		   failed_stage, failed_mode, error, stage_seconds
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   status = excluded.status,
		   num_modes = excluded.num_modes,
		   contrast_floor = excluded.contrast_floor,
		   runtime_seconds = excluded.runtime_seconds,
		   failed_stage = excluded.failed_stage,
		   failed_mode = excluded.failed_mode,
		   error = excluded.error,
		   stage_seconds = excluded.stage_seconds`,
		meta.ID,
		meta.Instrument,
		meta.Design,
		meta.MirrorKind,
		meta.Status,
		toMillis(meta.Timestamp),
		meta.WFEAber,
		meta.NumModes,
		meta.ContrastFloor,
		meta.RuntimeSeconds,
		meta.FailedStage,
		failedMode,
		meta.Error,
		string(stages),
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", meta.ID, err)
	}
	return nil
}

const selectRuns = `SELECT id, instrument, design, mirror_kind, status, started_at, wfe_aber,
        num_modes, contrast_floor, runtime_seconds,
        failed_stage, failed_mode, error, stage_seconds
   FROM runs`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (RunMetadata, error) {
	var (
		meta       RunMetadata
		startedAt  int64
		failedMode sql.NullInt64
		stages     string
	)
	if err := sc.Scan(
		&meta.ID, &meta.Instrument, &meta.Design, &meta.MirrorKind, &meta.Status, &startedAt, &meta.WFEAber,
		&meta.NumModes, &meta.ContrastFloor, &meta.RuntimeSeconds,
		&meta.FailedStage, &failedMode, &meta.Error, &stages,
	); err != nil {
		return RunMetadata{}, err
	}
	meta.Timestamp = fromMillis(startedAt)
	if failedMode.Valid {
		mode := int(failedMode.Int64)
		meta.FailedMode = &mode
	}
	if err := json.Unmarshal([]byte(stages), &meta.StageSeconds); err != nil {
		return RunMetadata{}, fmt.Errorf("decode stage timings of %s: %w", meta.ID, err)
	}
	return meta, nil
}

// History returns the most recent runs first. limit <= 0 returns all.
func (c *Catalog) History(ctx context.Context, limit int) ([]RunMetadata, error) {
	if c == nil || c.sqlDB == nil {
		return nil, fmt.Errorf("catalog is not open")
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := c.sqlDB.QueryContext(ctx, selectRuns+" ORDER BY started_at DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunMetadata
	for rows.Next() {
		meta, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Catalog) Get(ctx context.Context, id string) (*RunMetadata, error) {
	if c == nil || c.sqlDB == nil {
		return nil, fmt.Errorf("catalog is not open")
	}
	meta, err := scanRun(c.sqlDB.QueryRowContext(ctx, selectRuns+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return &meta, nil
}
