// Package archive keeps a bounded per-document history of content snapshots
// and optionally mirrors each snapshot to object storage.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"siteeditor/api/internal/store"
)

const (
	SourceSeed      = "seed"
	SourceEdit      = "edit"
	SourceUndo      = "undo"
	SourceApproval  = "operator_approval"
	SourceRejection = "operator_rejection"
)

// DefaultMaxSnapshots is used when no cap is configured.
const DefaultMaxSnapshots = 20

type snapshotStore interface {
	InsertSnapshot(context.Context, store.VersionSnapshot, int) (store.VersionSnapshot, error)
	ListSnapshots(context.Context, string, int) ([]store.VersionSnapshot, error)
	GetSnapshot(context.Context, string, int64) (store.VersionSnapshot, error)
}

// Mirror receives a copy of every archived snapshot. Mirror errors are logged
// and never fail the archive write.
type Mirror interface {
	Put(ctx context.Context, snap store.VersionSnapshot) error
}

// Mirrors fans each snapshot out to every mirror in order. All mirrors are
// tried even when one fails.
type Mirrors []Mirror

func (ms Mirrors) Put(ctx context.Context, snap store.VersionSnapshot) error {
	var errs []error
	for _, m := range ms {
		if err := m.Put(ctx, snap); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type Archive struct {
	store  snapshotStore
	keep   int
	mirror Mirror
	logger *slog.Logger
}

func New(s snapshotStore, keep int, mirror Mirror, logger *slog.Logger) *Archive {
	if keep <= 0 {
		keep = DefaultMaxSnapshots
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Archive{store: s, keep: keep, mirror: mirror, logger: logger}
}

func (a *Archive) Keep() int {
	return a.keep
}

// Record stores the content of a document at version. Older snapshots beyond
// the cap are removed in the same transaction.
func (a *Archive) Record(ctx context.Context, doc store.Document, content, source string, version int64) (store.VersionSnapshot, error) {
	snap, err := a.store.InsertSnapshot(ctx, store.VersionSnapshot{
		DocumentID: doc.ID,
		SubjectID:  doc.SubjectID,
		Content:    content,
		Source:     source,
		Version:    version,
	}, a.keep)
	if err != nil {
		return store.VersionSnapshot{}, fmt.Errorf("archive snapshot: %w", err)
	}

	if a.mirror != nil {
		if err := a.mirror.Put(ctx, snap); err != nil {
			a.logger.Warn("snapshot mirror failed",
				"subject_id", snap.SubjectID,
				"version", snap.Version,
				"error", err,
			)
		}
	}
	return snap, nil
}

func (a *Archive) List(ctx context.Context, subjectID string, limit int) ([]store.VersionSnapshot, error) {
	if limit <= 0 || limit > a.keep {
		limit = a.keep
	}
	return a.store.ListSnapshots(ctx, subjectID, limit)
}

func (a *Archive) Get(ctx context.Context, subjectID string, version int64) (store.VersionSnapshot, error) {
	return a.store.GetSnapshot(ctx, subjectID, version)
}
