package database

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrShareNotFound = errors.New("share not found in ledger")
)

// ReasonRestart closes ledger rows left open by a previous process.
const ReasonRestart = "restart"

// Repository records the share lifecycle in the ledger.
type Repository struct {
	db *DB
}

// NewRepository creates a new Repository.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// RecordCreated inserts a ledger row for a newly committed share.
func (r *Repository) RecordCreated(ctx context.Context, share *Share) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO shares (
			id, file_count, total_size, one_time_download,
			created_at, expires_at, download_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		share.ID,
		share.FileCount,
		share.TotalSize,
		share.OneTimeDownload,
		share.CreatedAt,
		share.ExpiresAt,
		share.DownloadCount,
	)
	if err != nil {
		return fmt.Errorf("failed to record share: %w", err)
	}
	return nil
}

// RecordDestroyed closes a share's ledger row with its final download count.
func (r *Repository) RecordDestroyed(ctx context.Context, id string, downloads int, reason string, at time.Time) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE shares
		SET destroyed_at = $2, destroy_reason = $3, download_count = $4
		WHERE id = $1 AND destroyed_at IS NULL
	`, id, at, reason, downloads)
	if err != nil {
		return fmt.Errorf("failed to record share destruction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrShareNotFound
	}
	return nil
}

// CloseOrphaned marks every still-open row as destroyed. The registry does
// not survive a restart, so rows left open belong to shares that are gone.
func (r *Repository) CloseOrphaned(ctx context.Context) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE shares
		SET destroyed_at = NOW(), destroy_reason = $1
		WHERE destroyed_at IS NULL
	`, ReasonRestart)
	if err != nil {
		return 0, fmt.Errorf("failed to close orphaned shares: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetStats returns aggregate ledger statistics.
func (r *Repository) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	err := r.db.Pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE destroyed_at IS NULL AND expires_at > NOW()),
			COALESCE(SUM(download_count), 0),
			COALESCE(SUM(total_size), 0)
		FROM shares
	`).Scan(
		&stats.TotalShares,
		&stats.ActiveShares,
		&stats.TotalDownloads,
		&stats.BytesShared,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return stats, nil
}
