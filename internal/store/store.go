// Package store persists projects and their exported records.
//
// MemStore keeps everything in memory; SQLStore writes to a SQLite file.
// Both satisfy psd2img.Catalog and are safe for concurrent use.
package store

import (
	"context"
	"errors"

	"github.com/alnah/go-psd2img"
)

// ErrNotFound is returned when a project does not exist.
var ErrNotFound = errors.New("not found")

// Store is a catalog that can also be queried.
type Store interface {
	psd2img.Catalog
	Project(ctx context.Context, id string) (*psd2img.Project, error)
	Records(ctx context.Context, projectID string) ([]*psd2img.Record, error)
	// DeleteProject removes the project and its records.
	DeleteProject(ctx context.Context, id string) error
	Close() error
}

// Open returns a SQLStore at path, or a MemStore when path is empty.
func Open(path string) (Store, error) {
	if path == "" {
		return NewMemStore(), nil
	}
	return OpenSQL(path)
}
