// Package quota tracks bytes and inodes used against per-project
// limits. The accounting is optimistic: checks update local counters
// immediately and a refresh re-scans the backing store. Concurrent
// writers across requests can transiently overshoot; this is a known
// limitation of the model, not a bug to be fixed here.
package quota

import "fmt"

// Error signals that an operation would cross a hard limit. No counter
// or file change is applied when it is returned.
type Error struct {
	Resource  string // "bytes" or "inodes"
	Used      int64
	Requested int64
	Hard      int64
}

func (e *Error) Error() string {
	return fmt.Sprintf("quota exceeded: %s used %d + requested %d > hard limit %d",
		e.Resource, e.Used, e.Requested, e.Hard)
}

// Manager is the enforcement surface consulted before every
// file-mutating operation.
type Manager interface {
	BytesUsed() int64
	BytesHard() int64
	InodesUsed() int64
	InodesHard() int64
	// Refresh re-derives usage from the backing store.
	Refresh() error
	// SetLimits updates the hard limits. Zero means unlimited.
	SetLimits(bytesHard, inodesHard int64)
	// CheckCreateFile verifies and records a pending file creation.
	// It returns a quota Error, with no counter change, when a hard
	// limit would be crossed.
	CheckCreateFile(path string, size int64) error
	CheckDeleteFile(path string, size int64) error
	CheckCreateDirectory(path string) error
	CheckDeleteDirectory(path string) error
}
