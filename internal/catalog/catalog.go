// Package catalog maintains the per-target in-memory mirror of the backup
// objects held in durable storage. The object name is the sole on-storage
// encoding of catalog state; the catalog is rebuildable purely by listing and
// re-parsing names.
package catalog

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pgward/internal/event"
	"pgward/internal/storage"
)

// TimeLayout is the fixed-width timestamp format embedded in object names.
// Timestamps are always rendered in UTC.
const TimeLayout = "20060102T150405Z"

// nameSuffix is the object name suffix for every cataloged backup.
const nameSuffix = ".sql.gz"

// Record describes one immutable backup. Timestamp is the source system's own
// clock at the time of the dump, never the orchestrator host clock. Records
// are equal iff their StorageKey is equal.
type Record struct {
	// StorageKey is the object name, unique within the target's catalog.
	StorageKey string
	// Timestamp is the source-clock instant the backup was taken.
	Timestamp time.Time
	// SizeBytes is the stored object size.
	SizeBytes int64
}

// ObjectName derives the canonical object name for a backup of targetKey
// taken at the given source-clock instant: {targetKey}-{timestamp}.sql.gz.
func ObjectName(targetKey string, ts time.Time) string {
	return targetKey + "-" + ts.UTC().Format(TimeLayout) + nameSuffix
}

// parseObjectName extracts the timestamp from an object name produced by
// ObjectName. It reports false for names that do not carry the target prefix
// or whose remainder up to the first dot is not a valid timestamp.
func parseObjectName(targetKey, name string) (time.Time, bool) {
	rest, ok := strings.CutPrefix(name, targetKey+"-")
	if !ok {
		return time.Time{}, false
	}
	stamp, _, _ := strings.Cut(rest, ".")
	ts, err := time.Parse(TimeLayout, stamp)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// Catalog mirrors one target's slice of the storage namespace as a set of
// immutable records. All mutation is serialized through the catalog's own
// lock; readers receive independent copies.
type Catalog struct {
	targetKey string
	backend   storage.Backend
	logger    zerolog.Logger

	mu      sync.RWMutex
	records map[string]Record

	adds *event.Feed[Record]
}

// New creates an empty catalog for targetKey backed by the given store.
// Call Refresh to populate it from a full listing.
func New(targetKey string, backend storage.Backend, logger zerolog.Logger) *Catalog {
	return &Catalog{
		targetKey: targetKey,
		backend:   backend,
		logger:    logger.With().Str("target", targetKey).Logger(),
		records:   make(map[string]Record),
		adds:      event.NewFeed[Record](),
	}
}

// Refresh lists the storage namespace and merges every recognizable backup
// object into the record set. Objects that do not carry the target prefix or
// whose name does not parse are foreign and skipped; the namespace may be
// shared with other writers.
func (c *Catalog) Refresh(ctx context.Context) error {
	objects, err := c.backend.List(ctx, c.targetKey+"-")
	if err != nil {
		return fmt.Errorf("catalog: list failed for target %s: %w", c.targetKey, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, obj := range objects {
		ts, ok := parseObjectName(c.targetKey, obj.Name)
		if !ok {
			c.logger.Debug().Str("object", obj.Name).Msg("ignoring unrecognized object during refresh")
			continue
		}
		c.records[obj.Name] = Record{
			StorageKey: obj.Name,
			Timestamp:  ts,
			SizeBytes:  obj.Size,
		}
	}
	c.logger.Debug().Int("records", len(c.records)).Msg("catalog refreshed")
	return nil
}

// Add uploads the file at localPath under the canonical name for the given
// source timestamp, then registers exactly one new record and emits an add
// event. A failed upload registers nothing.
func (c *Catalog) Add(ctx context.Context, localPath string, sourceTimestamp time.Time) (Record, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return Record{}, fmt.Errorf("catalog: failed to stat %s: %w", localPath, err)
	}

	name := ObjectName(c.targetKey, sourceTimestamp)
	if err := c.backend.Put(ctx, name, localPath); err != nil {
		return Record{}, fmt.Errorf("catalog: upload failed for %s: %w", name, err)
	}

	rec := Record{
		StorageKey: name,
		Timestamp:  sourceTimestamp.UTC(),
		SizeBytes:  info.Size(),
	}

	c.mu.Lock()
	c.records[name] = rec
	c.mu.Unlock()

	c.adds.Publish(rec)
	return rec, nil
}

// Retrieve downloads the record's object into destPath.
func (c *Catalog) Retrieve(ctx context.Context, rec Record, destPath string) error {
	if err := c.backend.Get(ctx, rec.StorageKey, destPath); err != nil {
		return fmt.Errorf("catalog: download failed for %s: %w", rec.StorageKey, err)
	}
	return nil
}

// Get returns the record with the given storage key.
func (c *Catalog) Get(storageKey string) (Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[storageKey]
	return rec, ok
}

// HasMoreRecentThan reports whether some cataloged record's timestamp is
// strictly after t. An empty catalog has nothing more recent.
func (c *Catalog) HasMoreRecentThan(t time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, rec := range c.records {
		if rec.Timestamp.After(t) {
			return true
		}
	}
	return false
}

// Len returns the number of cataloged records.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// Snapshot returns an independent copy of all current records, sorted
// newest-first, decoupled from the live set.
func (c *Catalog) Snapshot() []Record {
	c.mu.RLock()
	records := make([]Record, 0, len(c.records))
	for _, rec := range c.records {
		records = append(records, rec)
	}
	c.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})
	return records
}

// SubscribeAdds registers a subscriber for future add events.
func (c *Catalog) SubscribeAdds() (<-chan Record, func()) {
	return c.adds.Subscribe()
}
