package database

import "time"

// Share is the ledger row kept for one committed share group. It carries no
// file paths; the in-memory registry stays the only source of truth for
// serving files.
type Share struct {
	ID              string
	FileCount       int
	TotalSize       int64
	OneTimeDownload bool
	CreatedAt       time.Time
	ExpiresAt       time.Time
	DownloadCount   int
	DestroyedAt     *time.Time // nil while the share is live
	DestroyReason   *string
}

// Stats holds aggregate ledger statistics.
type Stats struct {
	TotalShares    int64 `json:"total_shares"`
	ActiveShares   int64 `json:"active_shares"`
	TotalDownloads int64 `json:"total_downloads"`
	BytesShared    int64 `json:"bytes_shared"`
}
