// Package storage abstracts the project file area behind a backend
// interface with a local filesystem and an object store
// implementation. Paths are always relative to the backend root; the
// workflow code composes area prefixes (active-projects, archived,
// published) and never depends on the concrete backend.
package storage

import (
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/mit-lcp/physionet-server/pkg/config"
)

// ErrNotFound is returned when a path does not exist in the backend.
var ErrNotFound = errors.New("storage: path not found")

// FileInfo describes one directory entry.
type FileInfo struct {
	Name         string
	Size         int64
	IsDir        bool
	LastModified time.Time
}

// Backend is the file-operations surface the workflow consumes.
type Backend interface {
	MkDir(path string) error
	Rm(path string) error
	FWrite(path string, content []byte) error
	FPut(path string, r io.Reader, size int64) error
	Rename(src, dst string) error
	// Mv transfers ownership of a whole tree. It must be atomic on the
	// local filesystem (rename) and as close as the store allows
	// remotely.
	Mv(src, dst string) error
	Open(path string) (io.ReadCloser, error)
	// CpDir copies a tree, hard-linking unchanged files where the
	// backend supports it. Entries named in ignore are skipped at any
	// depth.
	CpDir(src, dst string, ignore []string) error
	RmDir(path string) error
	ListDir(path string) ([]FileInfo, error)
	// Walk visits every regular file under path, passing the relative
	// path from the walk root.
	Walk(path string, fn func(rel string, info FileInfo) error) error
	// TreeSize returns total bytes and entry count under path.
	TreeSize(path string) (bytes, inodes int64, err error)
	// MakeReadOnly locks a published tree. Files with a shebang line
	// keep the executable bit. A no-op on stores without permissions.
	MakeReadOnly(path string) error
}

// New selects the backend the configuration names.
func New(cfg *config.Config) (Backend, error) {
	switch cfg.Storage.Type {
	case config.StorageTypeObject:
		return NewObjectBackend(cfg)
	case config.StorageTypeLocal, "":
		return NewLocalBackend(cfg.Storage.MediaRoot), nil
	default:
		return nil, errors.Errorf("storage: unknown backend type %q", cfg.Storage.Type)
	}
}
