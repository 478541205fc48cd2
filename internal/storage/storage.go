// Package storage defines the durable object-store interface the backup
// catalog is mirrored from.
package storage

import "context"

// Object describes one stored object as reported by a listing.
type Object struct {
	// Name is the object name within the backend's namespace.
	Name string
	// Size is the object size in bytes.
	Size int64
}

// Backend is the interface every storage provider implements. Object names
// are flat within the backend's namespace; the catalog derives all of its
// state purely from names and sizes returned by List.
type Backend interface {
	// Type returns the backend type identifier (e.g. "s3", "local").
	Type() string
	// EnsureBucket creates the backing container if it does not exist yet.
	EnsureBucket(ctx context.Context) error
	// List returns every object whose name starts with prefix.
	List(ctx context.Context, prefix string) ([]Object, error)
	// Put uploads the file at localPath under the given object name.
	Put(ctx context.Context, name, localPath string) error
	// Get downloads the named object into localPath.
	Get(ctx context.Context, name, localPath string) error
}
