// Package catalog persists partition metadata in a SQLite database:
// boundary list versions, partition placements, checkpoint object
// paths, and daily aggregate entries. The in-memory store remains the
// authority for row data; the catalog makes routing metadata and
// derived aggregates durable.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	terrors "github.com/arkilian/tessera/internal/errors"
	"github.com/arkilian/tessera/internal/partition"
)

// VersionRecord is one published boundary list version.
type VersionRecord struct {
	Version    uint64
	Policy     string
	CatchAll   bool
	Boundaries []int64
	CreatedAt  time.Time
}

// PlacementRecord is one partition's resolved placement at a version.
type PlacementRecord struct {
	Version  uint64
	Index    int
	MinKey   int64
	MaxKey   int64
	Location string
	RowCount int64
}

// CheckpointRecord points at a durable per-partition row snapshot in
// object storage.
type CheckpointRecord struct {
	Version    uint64
	Index      int
	ObjectPath string
	RowCount   int64
	SizeBytes  int64
	CreatedAt  time.Time
}

// AggregateRecord is one persisted daily aggregate entry.
type AggregateRecord struct {
	GroupID  string
	Day      int64
	Sum      float64
	RowCount int64
}

// Catalog is a SQLite-backed metadata store. Writes go through a single
// connection (SQLite single-writer); reads use a small read-only pool.
type Catalog struct {
	db     *sql.DB // write connection (single writer)
	readDB *sql.DB // read connection pool
	dbPath string
	mu     sync.Mutex // write-only lock
}

// Open creates or opens a catalog database at dbPath.
func Open(dbPath string) (*Catalog, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, terrors.NewCatalogError(terrors.CodeCatalogIO, "failed to open catalog database", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	readDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&mode=ro")
	if err != nil {
		db.Close()
		return nil, terrors.NewCatalogError(terrors.CodeCatalogIO, "failed to open catalog read pool", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)

	c := &Catalog{db: db, readDB: readDB, dbPath: dbPath}
	if err := c.initSchema(); err != nil {
		readDB.Close()
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Catalog) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS boundary_versions (
			version     INTEGER PRIMARY KEY,
			policy      TEXT NOT NULL,
			catch_all   INTEGER NOT NULL,
			boundaries  TEXT NOT NULL,
			created_at  INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS placements (
			version   INTEGER NOT NULL,
			part_idx  INTEGER NOT NULL,
			min_key   INTEGER NOT NULL,
			max_key   INTEGER NOT NULL,
			location  TEXT NOT NULL,
			row_count INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (version, part_idx)
		);

		CREATE TABLE IF NOT EXISTS checkpoints (
			version     INTEGER NOT NULL,
			part_idx    INTEGER NOT NULL,
			object_path TEXT NOT NULL,
			row_count   INTEGER NOT NULL,
			size_bytes  INTEGER NOT NULL,
			created_at  INTEGER NOT NULL,
			PRIMARY KEY (version, part_idx)
		);

		CREATE TABLE IF NOT EXISTS daily_aggregates (
			group_id   TEXT NOT NULL,
			day        INTEGER NOT NULL,
			total      REAL NOT NULL,
			row_count  INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (group_id, day)
		);

		CREATE INDEX IF NOT EXISTS idx_aggregates_day ON daily_aggregates(day);
	`
	if _, err := c.db.Exec(schema); err != nil {
		return terrors.NewCatalogError(terrors.CodeCatalogIO, "failed to initialize catalog schema", err)
	}
	return nil
}

// RecordVersion persists a boundary list version. Re-recording the same
// version is a no-op (idempotent against maintenance retries).
func (c *Catalog) RecordVersion(ctx context.Context, rec VersionRecord) error {
	boundaries, err := json.Marshal(rec.Boundaries)
	if err != nil {
		return terrors.NewCatalogError(terrors.CodeCatalogIO, "failed to encode boundaries", err)
	}

	catchAll := 0
	if rec.CatchAll {
		catchAll = 1
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err = c.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO boundary_versions (version, policy, catch_all, boundaries, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		rec.Version, rec.Policy, catchAll, string(boundaries), createdAt.Unix())
	if err != nil {
		return terrors.NewCatalogError(terrors.CodeCatalogIO,
			fmt.Sprintf("failed to record boundary version %d", rec.Version), err)
	}
	return nil
}

// LatestVersion returns the highest recorded boundary version.
func (c *Catalog) LatestVersion(ctx context.Context) (*VersionRecord, error) {
	row := c.readDB.QueryRowContext(ctx, `
		SELECT version, policy, catch_all, boundaries, created_at
		FROM boundary_versions
		ORDER BY version DESC LIMIT 1`)

	var rec VersionRecord
	var catchAll int
	var boundaries string
	var createdAt int64
	if err := row.Scan(&rec.Version, &rec.Policy, &catchAll, &boundaries, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, terrors.NewCatalogError(terrors.CodeVersionMissing, "no boundary versions recorded", nil)
		}
		return nil, terrors.NewCatalogError(terrors.CodeCatalogIO, "failed to read latest version", err)
	}

	rec.CatchAll = catchAll != 0
	rec.CreatedAt = time.Unix(createdAt, 0)
	if err := json.Unmarshal([]byte(boundaries), &rec.Boundaries); err != nil {
		return nil, terrors.NewCatalogError(terrors.CodeCatalogIO, "failed to decode boundaries", err)
	}
	return &rec, nil
}

// RecordPlacements replaces the placement rows for a version.
func (c *Catalog) RecordPlacements(ctx context.Context, version uint64, placements []partition.Placement) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return terrors.NewCatalogError(terrors.CodeCatalogIO, "failed to begin placements tx", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM placements WHERE version = ?`, version); err != nil {
		return terrors.NewCatalogError(terrors.CodeCatalogIO, "failed to clear placements", err)
	}
	for _, p := range placements {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO placements (version, part_idx, min_key, max_key, location)
			VALUES (?, ?, ?, ?, ?)`,
			version, p.Index, p.Range.Min, p.Range.Max, p.Location); err != nil {
			return terrors.NewCatalogError(terrors.CodeCatalogIO,
				fmt.Sprintf("failed to record placement for partition %d", p.Index), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return terrors.NewCatalogError(terrors.CodeCatalogIO, "failed to commit placements", err)
	}
	return nil
}

// RecordCheckpoint persists one partition checkpoint pointer,
// replacing any previous checkpoint for the same (version, partition).
func (c *Catalog) RecordCheckpoint(ctx context.Context, rec CheckpointRecord) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO checkpoints (version, part_idx, object_path, row_count, size_bytes, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.Version, rec.Index, rec.ObjectPath, rec.RowCount, rec.SizeBytes, createdAt.Unix())
	if err != nil {
		return terrors.NewCatalogError(terrors.CodeCatalogIO,
			fmt.Sprintf("failed to record checkpoint for partition %d", rec.Index), err)
	}
	return nil
}

// Checkpoints returns all checkpoint pointers for a version, ordered by
// partition index.
func (c *Catalog) Checkpoints(ctx context.Context, version uint64) ([]CheckpointRecord, error) {
	rows, err := c.readDB.QueryContext(ctx, `
		SELECT version, part_idx, object_path, row_count, size_bytes, created_at
		FROM checkpoints WHERE version = ? ORDER BY part_idx`, version)
	if err != nil {
		return nil, terrors.NewCatalogError(terrors.CodeCatalogIO, "failed to query checkpoints", err)
	}
	defer rows.Close()

	var out []CheckpointRecord
	for rows.Next() {
		var rec CheckpointRecord
		var createdAt int64
		if err := rows.Scan(&rec.Version, &rec.Index, &rec.ObjectPath, &rec.RowCount, &rec.SizeBytes, &createdAt); err != nil {
			return nil, terrors.NewCatalogError(terrors.CodeCatalogIO, "failed to scan checkpoint row", err)
		}
		rec.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, terrors.NewCatalogError(terrors.CodeCatalogIO, "error iterating checkpoints", err)
	}
	return out, nil
}

// UpsertAggregates writes daily aggregate entries in one transaction.
// Each entry is replaced whole, so readers never observe a half-updated
// (group, day) pair.
func (c *Catalog) UpsertAggregates(ctx context.Context, entries []AggregateRecord) error {
	if len(entries) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return terrors.NewCatalogError(terrors.CodeCatalogIO, "failed to begin aggregates tx", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO daily_aggregates (group_id, day, total, row_count, updated_at)
			VALUES (?, ?, ?, ?, ?)`,
			e.GroupID, e.Day, e.Sum, e.RowCount, now); err != nil {
			return terrors.NewCatalogError(terrors.CodeCatalogIO,
				fmt.Sprintf("failed to upsert aggregate (%s, %d)", e.GroupID, e.Day), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return terrors.NewCatalogError(terrors.CodeCatalogIO, "failed to commit aggregates", err)
	}
	return nil
}

// LoadAggregates returns all persisted daily aggregate entries.
func (c *Catalog) LoadAggregates(ctx context.Context) ([]AggregateRecord, error) {
	rows, err := c.readDB.QueryContext(ctx, `
		SELECT group_id, day, total, row_count FROM daily_aggregates ORDER BY group_id, day`)
	if err != nil {
		return nil, terrors.NewCatalogError(terrors.CodeCatalogIO, "failed to query aggregates", err)
	}
	defer rows.Close()

	var out []AggregateRecord
	for rows.Next() {
		var rec AggregateRecord
		if err := rows.Scan(&rec.GroupID, &rec.Day, &rec.Sum, &rec.RowCount); err != nil {
			return nil, terrors.NewCatalogError(terrors.CodeCatalogIO, "failed to scan aggregate row", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, terrors.NewCatalogError(terrors.CodeCatalogIO, "error iterating aggregates", err)
	}
	return out, nil
}

// Close closes both database connections.
func (c *Catalog) Close() error {
	var firstErr error
	if err := c.readDB.Close(); err != nil {
		firstErr = err
	}
	if err := c.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
