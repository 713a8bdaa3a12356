package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"fileshare/internal/server/database"
	"fileshare/internal/server/metrics"
	"fileshare/internal/server/registry"
	"fileshare/internal/server/storage"
)

// MetricsHook keeps the share gauges in step with destroyed groups.
func MetricsHook(m *metrics.Metrics) storage.DestroyHook {
	return func(_ context.Context, snap registry.Snapshot, reason storage.Reason) {
		m.SharesDestroyed.WithLabelValues(string(reason)).Inc()
		m.ActiveShares.Dec()
		m.StoredBytes.Sub(float64(snap.TotalSize))
	}
}

// LedgerHook closes the ledger row of a destroyed group.
func LedgerHook(l Ledger) storage.DestroyHook {
	return func(ctx context.Context, snap registry.Snapshot, reason storage.Reason) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerTimeout)
		defer cancel()

		err := l.RecordDestroyed(ctx, snap.ID, snap.DownloadCount, string(reason), time.Now().UTC())
		if err != nil && !errors.Is(err, database.ErrShareNotFound) {
			slog.Error("failed to record share destruction in ledger",
				"group_id", snap.ID,
				"reason", reason,
				"error", err,
			)
		}
	}
}
