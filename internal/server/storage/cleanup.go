package storage

import (
	"context"
	"log/slog"

	"fileshare/internal/server/registry"
)

// Reason records why a share group was destroyed.
type Reason string

const (
	ReasonExpired  Reason = "expired"
	ReasonSwept    Reason = "sweep"
	ReasonConsumed Reason = "one_time_download"
)

const defaultQueueSize = 256

// DestroyHook is notified after a share group has been destroyed.
type DestroyHook func(ctx context.Context, snap registry.Snapshot, reason Reason)

type cleanupJob struct {
	groupID string
	reason  Reason
}

// Cleaner is the single path by which a share group and its files are
// destroyed. Cleanup runs inline; Enqueue hands the work to a background
// worker so callers never block on disk I/O.
type Cleaner struct {
	registry *registry.Registry
	store    Store
	hooks    []DestroyHook
	queue    chan cleanupJob
	done     chan struct{}
}

// NewCleaner creates a cleaner with a bounded work queue.
func NewCleaner(reg *registry.Registry, store Store, queueSize int, hooks ...DestroyHook) *Cleaner {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Cleaner{
		registry: reg,
		store:    store,
		hooks:    hooks,
		queue:    make(chan cleanupJob, queueSize),
		done:     make(chan struct{}),
	}
}

// Start runs the queue worker until ctx is cancelled. Jobs still queued at
// that point are drained before Wait returns.
func (c *Cleaner) Start(ctx context.Context) {
	slog.Info("cleanup worker started", "queue_size", cap(c.queue))

	go func() {
		for {
			select {
			case job := <-c.queue:
				c.Cleanup(ctx, job.groupID, job.reason)
			case <-ctx.Done():
				c.drain(context.WithoutCancel(ctx))
				slog.Info("cleanup worker stopping")
				close(c.done)
				return
			}
		}
	}()
}

func (c *Cleaner) drain(ctx context.Context) {
	for {
		select {
		case job := <-c.queue:
			c.Cleanup(ctx, job.groupID, job.reason)
		default:
			return
		}
	}
}

// Wait blocks until the worker has fully stopped.
func (c *Cleaner) Wait() {
	<-c.done
}

// Enqueue schedules cleanup of a group without waiting for it. When the
// queue is full the cleanup runs on its own goroutine instead.
func (c *Cleaner) Enqueue(groupID string, reason Reason) {
	job := cleanupJob{groupID: groupID, reason: reason}
	select {
	case c.queue <- job:
	default:
		slog.Warn("cleanup queue full, running cleanup directly", "group_id", groupID)
		go c.Cleanup(context.Background(), groupID, reason)
	}
}

// Cleanup destroys a share group: its files, any directories they leave
// empty, and finally its registry entry. It is idempotent and safe to call
// concurrently; only the first caller for a given group does any work.
// Individual failures are logged and never stop the cleanup.
func (c *Cleaner) Cleanup(ctx context.Context, groupID string, reason Reason) {
	group, ok := c.registry.Lookup(groupID)
	if !ok {
		slog.Debug("share group not found during cleanup", "group_id", groupID)
		return
	}
	if !group.BeginDestroy() {
		slog.Debug("cleanup already in progress", "group_id", groupID)
		return
	}

	snap := group.Snapshot()
	slog.Info("cleaning up share group",
		"group_id", groupID,
		"reason", reason,
		"files", len(snap.Files),
	)

	var (
		dirs   []string
		failed int
	)
	for _, f := range snap.Files {
		dir, err := c.store.Remove(f.StoredName)
		if err != nil {
			slog.Error("failed to delete file",
				"group_id", groupID,
				"stored_name", f.StoredName,
				"error", err,
			)
			failed++
			continue
		}
		dirs = append(dirs, dir)
	}
	c.store.RemoveEmptyDirs(dirs)

	c.registry.Remove(groupID)

	for _, hook := range c.hooks {
		hook(ctx, snap, reason)
	}

	slog.Info("share group removed",
		"group_id", groupID,
		"reason", reason,
		"deleted", len(snap.Files)-failed,
		"failed", failed,
		"remaining_groups", c.registry.Len(),
	)
}
