package device

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// defaultLoadTimeout bounds a single directory query.
const defaultLoadTimeout = 10 * time.Second

// initialLoadKey is the single-flight key shared by all callers of Get
// that find no snapshot.
const initialLoadKey = "initial-load"

// Logger defines the logging interface used by the cache.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// RefreshStats describes the result of Cache.Refresh.
type RefreshStats struct {
	Before int // devices in the snapshot replaced (or kept)
	After  int // devices in the snapshot now served

	// Stale is true when the directory could not be read and the previous
	// snapshot was kept. Warning holds the DirectoryUnavailable failure.
	Stale   bool
	Warning error
}

// Cache is a lazily loaded, refreshable in-memory index over a Directory.
//
// Reads are lock-free: the current snapshot sits behind an atomic pointer
// and is replaced wholesale. Loads and refreshes are serialised by loadMu,
// and concurrent first reads share one directory query.
//
// All public methods are thread-safe.
type Cache struct {
	dir     Directory
	current atomic.Pointer[Snapshot]
	stale   atomic.Bool

	loadMu sync.Mutex // serialises directory reads and swaps
	flight singleflight.Group

	loadTimeout time.Duration
	logger      Logger
	now         func() time.Time
}

// NewCache creates a cache over dir. Nothing is loaded until the first Get.
func NewCache(dir Directory) *Cache {
	return &Cache{
		dir:         dir,
		loadTimeout: defaultLoadTimeout,
		logger:      noopLogger{},
		now:         time.Now,
	}
}

// SetLogger sets the logger for the cache.
func (c *Cache) SetLogger(logger Logger) {
	c.logger = logger
}

// SetLoadTimeout sets the bound on each directory query. Non-positive values are ignored.
func (c *Cache) SetLoadTimeout(d time.Duration) {
	if d > 0 {
		c.loadTimeout = d
	}
}

// Get returns the current snapshot, loading it from the directory if none
// exists yet.
//
// Callers racing the initial load wait on the same query and receive its
// result. The query is detached from any one caller's cancellation so an
// impatient caller cannot fail the load for the others; each caller still
// stops waiting when its own ctx ends.
//
// Returns a DirectoryUnavailable failure only when no snapshot has ever loaded.
func (c *Cache) Get(ctx context.Context) (*Snapshot, error) {
	if snap := c.current.Load(); snap != nil {
		return snap, nil
	}

	ch := c.flight.DoChan(initialLoadKey, func() (any, error) {
		return c.loadInitial(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Snapshot), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for device directory: %w", ctx.Err())
	}
}

// loadInitial performs the first load unless a refresh got there first.
func (c *Cache) loadInitial(ctx context.Context) (*Snapshot, error) {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()

	if snap := c.current.Load(); snap != nil {
		return snap, nil
	}

	snap, err := c.fetch(ctx)
	if err != nil {
		c.logger.Error("device directory unavailable, no snapshot loaded", "error", err)
		return nil, DirectoryUnavailable(err)
	}

	c.current.Store(snap)
	c.logger.Info("device snapshot loaded", "count", snap.Len(), "rooms", len(snap.rooms))
	return snap, nil
}

// Refresh unconditionally reloads from the directory and swaps the snapshot.
//
// Readers holding the previous snapshot keep using it. If the directory is
// unreachable and a snapshot exists, that snapshot is kept and the stats
// report Stale with a warning; the error is nil. With no snapshot at all,
// a DirectoryUnavailable failure is returned.
func (c *Cache) Refresh(ctx context.Context) (RefreshStats, error) {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()

	prev := c.current.Load()
	stats := RefreshStats{Before: prev.Len()}

	snap, err := c.fetch(ctx)
	if err != nil {
		failure := DirectoryUnavailable(err)
		if prev == nil {
			c.logger.Error("device refresh failed, no snapshot loaded", "error", err)
			return stats, failure
		}
		c.stale.Store(true)
		c.logger.Warn("device refresh failed, serving stale snapshot",
			"error", err,
			"count", prev.Len(),
			"loaded_at", prev.LoadedAt(),
		)
		stats.After = prev.Len()
		stats.Stale = true
		stats.Warning = failure
		return stats, nil
	}

	c.current.Store(snap)
	c.stale.Store(false)
	stats.After = snap.Len()
	c.logger.Info("device snapshot refreshed", "before", stats.Before, "after", stats.After)
	return stats, nil
}

// Stale reports whether the last refresh failed and an older snapshot is being served.
func (c *Cache) Stale() bool {
	return c.stale.Load()
}

// Count returns the number of devices in the current snapshot without loading.
func (c *Cache) Count() int {
	return c.current.Load().Len()
}

// fetch reads the directory under the load timeout and builds a snapshot.
func (c *Cache) fetch(ctx context.Context) (*Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, c.loadTimeout)
	defer cancel()

	records, err := c.dir.FetchAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching devices: %w", err)
	}

	return newSnapshot(records, c.now(), func(d Device, err error) {
		c.logger.Warn("skipping invalid device record", "id", d.ID, "alias", d.Alias, "error", err)
	}), nil
}
