package registry

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// FileRecord is the metadata of one stored file.
type FileRecord struct {
	OriginalName string    `json:"original_name"`
	StoredName   string    `json:"stored_name"`
	MimeType     string    `json:"mime_type"`
	Size         int64     `json:"size"`
	Downloads    int       `json:"downloads"`
	CreatedAt    time.Time `json:"created_at"`
}

// ShareGroup is one upload session and the files shared under its ID.
// ID, CreatedAt, ExpiresAt and OneTimeDownload never change after creation;
// everything else is guarded by the group's own lock.
type ShareGroup struct {
	ID              string
	CreatedAt       time.Time
	ExpiresAt       time.Time
	OneTimeDownload bool

	mu            sync.Mutex
	files         map[string]*FileRecord
	totalSize     int64
	downloadCount int
	consumed      bool

	destroying atomic.Bool
}

// Snapshot is a point-in-time copy of a share group.
type Snapshot struct {
	ID              string
	CreatedAt       time.Time
	ExpiresAt       time.Time
	OneTimeDownload bool
	TotalSize       int64
	DownloadCount   int
	Files           []FileRecord
}

func newShareGroup(id string, createdAt time.Time, expiry time.Duration, oneTime bool) *ShareGroup {
	return &ShareGroup{
		ID:              id,
		CreatedAt:       createdAt,
		ExpiresAt:       createdAt.Add(expiry),
		OneTimeDownload: oneTime,
		files:           make(map[string]*FileRecord),
	}
}

// AddFile records a stored file, provided the group's aggregate size stays
// within maxTotal. On ErrAggregateSizeExceeded the group is left unchanged.
func (g *ShareGroup) AddFile(rec FileRecord, maxTotal int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.files[rec.StoredName]; exists {
		return ErrDuplicateFile
	}
	if maxTotal > 0 && g.totalSize+rec.Size > maxTotal {
		return ErrAggregateSizeExceeded
	}

	r := rec
	g.files[rec.StoredName] = &r
	g.totalSize += rec.Size
	return nil
}

// File returns a copy of the record stored under storedName.
func (g *ShareGroup) File(storedName string) (FileRecord, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, ok := g.files[storedName]
	if !ok {
		return FileRecord{}, false
	}
	return *rec, true
}

// Files returns copies of all file records ordered by creation time, then name.
func (g *ShareGroup) Files() []FileRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.filesLocked()
}

func (g *ShareGroup) filesLocked() []FileRecord {
	out := make([]FileRecord, 0, len(g.files))
	for _, rec := range g.files {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].StoredName < out[j].StoredName
	})
	return out
}

func (g *ShareGroup) FileCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.files)
}

func (g *ShareGroup) TotalSize() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.totalSize
}

func (g *ShareGroup) DownloadCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.downloadCount
}

// Expired reports whether the group's expiry has been reached at now.
func (g *ShareGroup) Expired(now time.Time) bool {
	return !now.Before(g.ExpiresAt)
}

// Snapshot copies the group's current state.
func (g *ShareGroup) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	return Snapshot{
		ID:              g.ID,
		CreatedAt:       g.CreatedAt,
		ExpiresAt:       g.ExpiresAt,
		OneTimeDownload: g.OneTimeDownload,
		TotalSize:       g.totalSize,
		DownloadCount:   g.downloadCount,
		Files:           g.filesLocked(),
	}
}

// BeginDestroy latches the group for destruction. Only the first caller
// gets true; from then on the group is invisible to lookups.
func (g *ShareGroup) BeginDestroy() bool {
	return g.destroying.CompareAndSwap(false, true)
}

// Destroying reports whether destruction has started.
func (g *ShareGroup) Destroying() bool {
	return g.destroying.Load()
}

// Consumed reports whether a one-time group has already served its download.
func (g *ShareGroup) Consumed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.consumed
}

func (g *ShareGroup) recordDownload(storedName string) (FileRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.consumed || g.destroying.Load() {
		return FileRecord{}, ErrNotFound
	}

	rec, ok := g.files[storedName]
	if !ok {
		return FileRecord{}, ErrFileNotFound
	}

	rec.Downloads++
	g.downloadCount++
	if g.OneTimeDownload {
		g.consumed = true
	}
	return *rec, nil
}

func (g *ShareGroup) recordBundle() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.consumed || g.destroying.Load() {
		return ErrNotFound
	}

	for _, rec := range g.files {
		rec.Downloads++
		g.downloadCount++
	}
	if g.OneTimeDownload {
		g.consumed = true
	}
	return nil
}

// Stats is an aggregate view over the registry.
type Stats struct {
	ActiveGroups   int
	Files          int
	StoredBytes    int64
	TotalDownloads int
}
