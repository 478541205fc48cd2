// Package source defines the data-source capability consumed by the backup
// and restore pipelines.
package source

import (
	"context"
	"time"
)

// Source is one backed-up data system. Implementations perform blocking I/O;
// callers run them off any interactive goroutine.
type Source interface {
	// Name returns the source's display name.
	Name() string

	// ServerTime returns the source system's current clock value. Catalog
	// timestamps always come from this clock, never from the caller's host
	// clock, so staleness comparisons stay within one clock domain.
	ServerTime(ctx context.Context) (time.Time, error)

	// LastModified returns the source's own last-modification instant.
	LastModified(ctx context.Context) (time.Time, error)

	// Dump writes a full dump of the source to destPath. onProgress, when
	// non-nil, receives (current, total) in the dump's native units.
	Dump(ctx context.Context, destPath string, onProgress func(current, total int64)) error

	// Restore loads the dump at srcPath back into the source. onProgress,
	// when non-nil, receives a percent-complete value in [0,100].
	Restore(ctx context.Context, srcPath string, onProgress func(percent float64)) error

	// Close releases any resources held by the source handle.
	Close() error
}
