// Public domain.

// Package blobstore gives read access to candidate image files wherever
// they are archived: the local file system or an object store.
package blobstore

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/time/rate"
)

// ErrNotFound is returned when an image does not exist.
//
// Implementations return an error satisfying errors.Is(err, ErrNotFound).
var ErrNotFound = os.ErrNotExist

// Store is a read-only view of image files.
type Store interface {
	// Stat returns the size of the named image.
	Stat(ctx context.Context, name string) (int64, error)
	// Open opens the named image for reading.
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// Exists reports whether name exists in s.  Errors other than not found
// are returned.
func Exists(ctx context.Context, s Store, name string) (bool, error) {
	_, err := s.Stat(ctx, name)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	}
	return false, err
}

// LocalStore reads images from the local file system.  Names are file
// paths, resolved against root when they are relative.
type LocalStore struct {
	root string
}

// NewLocalStore creates a LocalStore.  An empty root leaves names as given.
func NewLocalStore(root string) *LocalStore {
	return &LocalStore{root: root}
}

func (s *LocalStore) path(name string) string {
	if s.root == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(s.root, name)
}

// Stat returns the size of the named file.
func (s *LocalStore) Stat(_ context.Context, name string) (int64, error) {
	fi, err := os.Stat(s.path(name))
	if err != nil {
		return 0, err
	}
	if fi.IsDir() {
		return 0, &os.PathError{Op: "stat", Path: name, Err: ErrNotFound}
	}
	return fi.Size(), nil
}

// Open opens the named file.
func (s *LocalStore) Open(_ context.Context, name string) (io.ReadCloser, error) {
	return os.Open(s.path(name))
}

// Limited paces requests to an underlying store.
type Limited struct {
	inner   Store
	limiter *rate.Limiter
}

// NewLimited wraps s so that at most perSec requests per second reach it.
// A non-positive perSec returns s unchanged.
func NewLimited(s Store, perSec float64) Store {
	if perSec <= 0 {
		return s
	}
	burst := int(perSec)
	if burst < 1 {
		burst = 1
	}
	return &Limited{inner: s, limiter: rate.NewLimiter(rate.Limit(perSec), burst)}
}

// Stat waits for a request slot, then stats name.
func (l *Limited) Stat(ctx context.Context, name string) (int64, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	return l.inner.Stat(ctx, name)
}

// Open waits for a request slot, then opens name.
func (l *Limited) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return l.inner.Open(ctx, name)
}
