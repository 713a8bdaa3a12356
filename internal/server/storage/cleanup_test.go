package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fileshare/internal/server/registry"
)

// seedGroup commits a group holding the given relative paths.
func seedGroup(t *testing.T, reg *registry.Registry, store *FileSystemStore, expiry time.Duration, paths ...string) *registry.ShareGroup {
	t.Helper()
	g, err := reg.Create(expiry, false)
	require.NoError(t, err)
	for _, p := range paths {
		_, err := store.Save(context.Background(), strings.NewReader("content of "+p), p, g)
		require.NoError(t, err)
	}
	require.NoError(t, reg.Commit(g))
	return g
}

type hookRecorder struct {
	mu      sync.Mutex
	reasons map[string]Reason
}

func (h *hookRecorder) hook(_ context.Context, snap registry.Snapshot, reason Reason) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.reasons == nil {
		h.reasons = make(map[string]Reason)
	}
	h.reasons[snap.ID] = reason
}

func (h *hookRecorder) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.reasons)
}

func TestCleaner_Cleanup(t *testing.T) {
	t.Run("removes files, empty dirs and record", func(t *testing.T) {
		store, dir := newTestStore(t)
		reg := registry.New()
		rec := &hookRecorder{}
		cleaner := NewCleaner(reg, store, 0, rec.hook)

		g := seedGroup(t, reg, store, time.Hour, "top.txt", "docs/a.txt", "docs/deep/b.txt")
		other := seedGroup(t, reg, store, time.Hour, "docs/keep.txt")

		cleaner.Cleanup(context.Background(), g.ID, ReasonExpired)

		_, ok := reg.Lookup(g.ID)
		assert.False(t, ok)
		assert.Equal(t, 1, countFiles(t, dir))

		_, err := os.Stat(filepath.Join(dir, "docs", "deep"))
		assert.True(t, os.IsNotExist(err), "empty docs/deep should be removed")
		_, err = os.Stat(filepath.Join(dir, "docs"))
		assert.NoError(t, err, "docs still holds another group's file")

		_, ok = reg.Get(other.ID)
		assert.True(t, ok)
		assert.Equal(t, ReasonExpired, rec.reasons[g.ID])
	})

	t.Run("is idempotent", func(t *testing.T) {
		store, _ := newTestStore(t)
		reg := registry.New()
		rec := &hookRecorder{}
		cleaner := NewCleaner(reg, store, 0, rec.hook)

		g := seedGroup(t, reg, store, time.Hour, "a.txt")

		cleaner.Cleanup(context.Background(), g.ID, ReasonExpired)
		cleaner.Cleanup(context.Background(), g.ID, ReasonExpired)
		cleaner.Cleanup(context.Background(), "never-existed", ReasonExpired)

		assert.Equal(t, 1, rec.count())
	})

	t.Run("concurrent calls destroy once", func(t *testing.T) {
		store, dir := newTestStore(t)
		reg := registry.New()
		rec := &hookRecorder{}
		cleaner := NewCleaner(reg, store, 0, rec.hook)

		g := seedGroup(t, reg, store, time.Hour, "a.txt", "b/c.txt")

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				cleaner.Cleanup(context.Background(), g.ID, ReasonSwept)
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, rec.count())
		assert.Equal(t, 0, countFiles(t, dir))
		assert.Equal(t, 0, reg.Len())
	})

	t.Run("missing file does not stop cleanup", func(t *testing.T) {
		store, dir := newTestStore(t)
		reg := registry.New()
		cleaner := NewCleaner(reg, store, 0)

		g := seedGroup(t, reg, store, time.Hour, "a.txt", "b.txt")
		first := g.Files()[0]
		require.NoError(t, os.Remove(filepath.Join(dir, first.StoredName)))

		cleaner.Cleanup(context.Background(), g.ID, ReasonExpired)

		assert.Equal(t, 0, countFiles(t, dir))
		assert.Equal(t, 0, reg.Len())
	})
}

func TestCleaner_Queue(t *testing.T) {
	store, dir := newTestStore(t)
	reg := registry.New()
	rec := &hookRecorder{}
	cleaner := NewCleaner(reg, store, 4, rec.hook)

	a := seedGroup(t, reg, store, time.Hour, "a.txt")
	b := seedGroup(t, reg, store, time.Hour, "b.txt")

	cleaner.Enqueue(a.ID, ReasonConsumed)
	cleaner.Enqueue(b.ID, ReasonConsumed)

	ctx, cancel := context.WithCancel(context.Background())
	cleaner.Start(ctx)
	cancel()
	cleaner.Wait()

	assert.Equal(t, 2, rec.count())
	assert.Equal(t, 0, countFiles(t, dir))
	assert.Equal(t, 0, reg.Len())
}

func TestSweeper_Sweep(t *testing.T) {
	store, dir := newTestStore(t)

	now := time.Unix(1700000000, 0)
	var mu sync.Mutex
	clock := now
	reg := registry.New(registry.WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}))

	cleaner := NewCleaner(reg, store, 16)
	sweeper := NewSweeper(reg, cleaner, time.Hour)

	expiring := seedGroup(t, reg, store, 10*time.Second, "old.txt")
	lasting := seedGroup(t, reg, store, time.Hour, "new.txt")

	assert.Equal(t, 0, sweeper.Sweep())

	mu.Lock()
	clock = now.Add(10 * time.Second)
	mu.Unlock()

	assert.Equal(t, 1, sweeper.Sweep())

	ctx, cancel := context.WithCancel(context.Background())
	cleaner.Start(ctx)
	cancel()
	cleaner.Wait()

	_, ok := reg.Lookup(expiring.ID)
	assert.False(t, ok)
	_, ok = reg.Get(lasting.ID)
	assert.True(t, ok)
	assert.Equal(t, 1, countFiles(t, dir))
}

func TestSweeper_StartStop(t *testing.T) {
	store, _ := newTestStore(t)
	reg := registry.New()
	cleaner := NewCleaner(reg, store, 0)
	sweeper := NewSweeper(reg, cleaner, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, sweeper.Start(ctx))
	cancel()

	done := make(chan struct{})
	go func() {
		sweeper.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
