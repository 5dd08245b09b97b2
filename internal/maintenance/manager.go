// Package maintenance applies boundary list changes (splits and
// merges) to a partitioned table store as typed, validated commands.
// Commands carry an expected-version token; the store publishes each
// change atomically, so readers see the pre- or post-maintenance
// boundary set, never a partial one.
package maintenance

import (
	"context"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/arkilian/tessera/internal/catalog"
	terrors "github.com/arkilian/tessera/internal/errors"
	"github.com/arkilian/tessera/internal/table"
)

// SplitCommand adds a boundary, dividing one partition in two.
type SplitCommand struct {
	// CommandID identifies the command in logs and catalog records.
	CommandID uuid.UUID `json:"command_id"`

	// ExpectedVersion is the boundary list version this command was
	// prepared against. A mismatch fails with STALE_VERSION.
	ExpectedVersion uint64 `json:"expected_version"`

	// Boundary is the new boundary key.
	Boundary int64 `json:"boundary"`

	// Location optionally names the storage location for the new
	// partition (per-partition placement only).
	Location string `json:"location,omitempty"`
}

// MergeCommand removes a boundary, combining two adjacent partitions.
type MergeCommand struct {
	CommandID       uuid.UUID `json:"command_id"`
	ExpectedVersion uint64    `json:"expected_version"`
	Boundary        int64     `json:"boundary"`
}

// Result reports the outcome of a maintenance operation.
type Result struct {
	CommandID  uuid.UUID `json:"command_id"`
	Op         string    `json:"op"`
	Boundary   int64     `json:"boundary"`
	NewVersion uint64    `json:"new_version"`
	Boundaries []int64   `json:"boundaries"`
}

// Manager validates and executes maintenance commands against a store,
// recording each published boundary version in the catalog.
type Manager struct {
	store    *table.Store
	catalog  *catalog.Catalog
	notifier *Notifier
	log      *slog.Logger
}

// New creates a maintenance manager. The catalog may be nil, in which
// case versions are not persisted.
func New(store *table.Store, cat *catalog.Catalog, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Manager{store: store, catalog: cat, log: log.With("component", "maintenance")}
}

// WithNotifier attaches a notifier; each applied command is published
// on it after the new view is visible.
func (m *Manager) WithNotifier(n *Notifier) *Manager {
	m.notifier = n
	return m
}

// Version returns the store's current boundary list version, for
// preparing command tokens.
func (m *Manager) Version() uint64 {
	return m.store.Version()
}

// Split executes a split command.
func (m *Manager) Split(ctx context.Context, cmd SplitCommand) (*Result, error) {
	if err := validate(cmd.CommandID, cmd.ExpectedVersion); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fn, err := m.store.SplitAt(cmd.ExpectedVersion, cmd.Boundary, cmd.Location)
	if err != nil {
		m.log.Warn("split rejected", "command_id", cmd.CommandID, "boundary", cmd.Boundary, "error", err)
		return nil, err
	}

	res := &Result{
		CommandID:  cmd.CommandID,
		Op:         "split",
		Boundary:   cmd.Boundary,
		NewVersion: fn.Version(),
		Boundaries: fn.Boundaries(),
	}
	m.record(ctx, res)
	m.publish(SplitApplied, res)
	return res, nil
}

// Merge executes a merge command.
func (m *Manager) Merge(ctx context.Context, cmd MergeCommand) (*Result, error) {
	if err := validate(cmd.CommandID, cmd.ExpectedVersion); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fn, err := m.store.MergeAt(cmd.ExpectedVersion, cmd.Boundary)
	if err != nil {
		m.log.Warn("merge rejected", "command_id", cmd.CommandID, "boundary", cmd.Boundary, "error", err)
		return nil, err
	}

	res := &Result{
		CommandID:  cmd.CommandID,
		Op:         "merge",
		Boundary:   cmd.Boundary,
		NewVersion: fn.Version(),
		Boundaries: fn.Boundaries(),
	}
	m.record(ctx, res)
	m.publish(MergeApplied, res)
	return res, nil
}

// publish announces an applied command on the notifier, if attached.
func (m *Manager) publish(t NotificationType, res *Result) {
	if m.notifier == nil {
		return
	}
	m.notifier.Publish(Notification{
		Type:       t,
		Boundary:   res.Boundary,
		NewVersion: res.NewVersion,
		Timestamp:  now(),
	})
}

// record persists the new boundary version and placements. Catalog
// failures do not undo a published view; they are surfaced in logs and
// repaired by the next checkpoint.
func (m *Manager) record(ctx context.Context, res *Result) {
	m.log.Info("maintenance applied",
		"command_id", res.CommandID, "op", res.Op,
		"boundary", res.Boundary, "version", res.NewVersion)

	if m.catalog == nil {
		return
	}

	fn := m.store.Function()
	if err := m.catalog.RecordVersion(ctx, catalog.VersionRecord{
		Version:    fn.Version(),
		Policy:     string(fn.Policy()),
		CatchAll:   fn.HasCatchAll(),
		Boundaries: fn.Boundaries(),
	}); err != nil {
		m.log.Error("failed to record boundary version", "version", res.NewVersion, "error", err)
		return
	}

	placements, err := m.store.Placements()
	if err == nil {
		if err := m.catalog.RecordPlacements(ctx, fn.Version(), placements); err != nil {
			m.log.Error("failed to record placements", "version", res.NewVersion, "error", err)
		}
	}
}

// validate enforces command well-formedness before touching the store.
func validate(id uuid.UUID, expectedVersion uint64) error {
	if id == uuid.Nil {
		return terrors.NewMaintenanceError(terrors.CodeInvalidCommand, "command requires a command_id")
	}
	if expectedVersion == 0 {
		return terrors.NewMaintenanceError(terrors.CodeInvalidCommand, "command requires an expected_version token")
	}
	return nil
}
