// Package registry holds the in-memory table of active share groups.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	ErrNotFound              = errors.New("share not found")
	ErrFileNotFound          = errors.New("file not found")
	ErrEmptyGroup            = errors.New("share group has no files")
	ErrDuplicateID           = errors.New("share id already in use")
	ErrDuplicateFile         = errors.New("stored filename already in group")
	ErrAggregateSizeExceeded = errors.New("total size exceeds limit")
)

// groupTokenLength matches the length of an 8-byte URL-safe base64 token.
const groupTokenLength = 11

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source used for creation and expiry.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// Registry maps share IDs to share groups. IDs handed out by Create are
// reserved until the group is committed or discarded, so no two groups,
// pending or live, ever share an ID.
type Registry struct {
	mu       sync.RWMutex
	groups   map[string]*ShareGroup
	reserved map[string]struct{}

	now      func() time.Time
	newToken func() (string, error)
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		groups:   make(map[string]*ShareGroup),
		reserved: make(map[string]struct{}),
		now:      time.Now,
		newToken: func() (string, error) { return GenerateSecureToken(groupTokenLength) },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Now returns the registry's current time.
func (r *Registry) Now() time.Time {
	return r.now()
}

// Create returns a pending share group with a fresh ID of the form
// <epoch-seconds>_<token>. The group is not visible until Commit.
func (r *Registry) Create(expiry time.Duration, oneTime bool) (*ShareGroup, error) {
	now := r.now()
	timestamp := now.Unix()

	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		token, err := r.newToken()
		if err != nil {
			return nil, fmt.Errorf("failed to generate share id: %w", err)
		}
		id := fmt.Sprintf("%d_%s", timestamp, token)

		if r.inUseLocked(id) {
			slog.Warn("share id collision, regenerating", "group_id", id)
			continue
		}

		r.reserved[id] = struct{}{}
		group := newShareGroup(id, time.Unix(timestamp, 0), expiry, oneTime)

		slog.Info("share group created",
			"group_id", id,
			"expires_at", group.ExpiresAt,
			"one_time_download", oneTime,
		)
		return group, nil
	}
}

func (r *Registry) inUseLocked(id string) bool {
	if _, ok := r.groups[id]; ok {
		return true
	}
	_, ok := r.reserved[id]
	return ok
}

// Commit makes a pending group visible. Groups without files are rejected.
func (r *Registry) Commit(g *ShareGroup) error {
	if g.FileCount() == 0 {
		return ErrEmptyGroup
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.groups[g.ID]; exists {
		return ErrDuplicateID
	}
	delete(r.reserved, g.ID)
	r.groups[g.ID] = g
	return nil
}

// Discard releases the ID of a pending group that will never be committed.
func (r *Registry) Discard(g *ShareGroup) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.reserved, g.ID)
}

// Get returns a live group. Groups that are being destroyed and one-time
// groups that have already served their download are reported absent.
func (r *Registry) Get(id string) (*ShareGroup, bool) {
	r.mu.RLock()
	g, ok := r.groups[id]
	r.mu.RUnlock()

	if !ok || g.Destroying() || g.Consumed() {
		return nil, false
	}
	return g, true
}

// Lookup returns a group regardless of its destruction or consumption
// state. Only the cleanup path should need this.
func (r *Registry) Lookup(id string) (*ShareGroup, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[id]
	return g, ok
}

// RecordDownload bumps the file's and the group's download counters.
// For a one-time group the first call consumes it; later calls get ErrNotFound.
func (r *Registry) RecordDownload(id, storedName string) (FileRecord, error) {
	r.mu.RLock()
	g, ok := r.groups[id]
	r.mu.RUnlock()
	if !ok {
		return FileRecord{}, ErrNotFound
	}
	return g.recordDownload(storedName)
}

// RecordBundle counts a whole-group archive download as one download of
// every file, consuming a one-time group.
func (r *Registry) RecordBundle(id string) error {
	r.mu.RLock()
	g, ok := r.groups[id]
	r.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	return g.recordBundle()
}

// Remove deletes a group from the registry. It reports whether the group
// was present.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.groups[id]; !ok {
		return false
	}
	delete(r.groups, id)
	return true
}

// ExpiredIDs snapshots the IDs of every group whose expiry has passed.
func (r *Registry) ExpiredIDs(now time.Time) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for id, g := range r.groups {
		if g.Expired(now) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Len returns the number of committed groups.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups)
}

// Stats aggregates file counts, bytes and downloads over committed groups.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	groups := make([]*ShareGroup, 0, len(r.groups))
	for _, g := range r.groups {
		groups = append(groups, g)
	}
	r.mu.RUnlock()

	stats := Stats{ActiveGroups: len(groups)}
	for _, g := range groups {
		g.mu.Lock()
		stats.Files += len(g.files)
		stats.StoredBytes += g.totalSize
		stats.TotalDownloads += g.downloadCount
		g.mu.Unlock()
	}
	return stats
}
