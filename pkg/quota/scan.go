package quota

import (
	"sync"

	"github.com/mit-lcp/physionet-server/pkg/storage"
)

// ScanManager derives usage by scanning the project tree through the
// storage backend, local or object store alike. BaseBytes carries the
// bytes already published in prior versions of the same core project,
// so they count toward the allowance without being double-counted on
// disk.
type ScanManager struct {
	mu sync.Mutex

	backend storage.Backend
	root    string

	baseBytes int64

	bytesUsed  int64
	bytesHard  int64
	inodesUsed int64
	inodesHard int64
}

// NewScanManager builds a manager rooted at the project directory.
// Call Refresh before relying on the counters.
func NewScanManager(backend storage.Backend, root string, baseBytes int64) *ScanManager {
	return &ScanManager{backend: backend, root: root, baseBytes: baseBytes}
}

func (m *ScanManager) BytesUsed() int64 { m.mu.Lock(); defer m.mu.Unlock(); return m.bytesUsed }
func (m *ScanManager) BytesHard() int64 { m.mu.Lock(); defer m.mu.Unlock(); return m.bytesHard }
func (m *ScanManager) InodesUsed() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inodesUsed
}
func (m *ScanManager) InodesHard() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inodesHard
}

func (m *ScanManager) Refresh() error {
	bytes, inodes, err := m.backend.TreeSize(m.root)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bytesUsed = bytes + m.baseBytes
	m.inodesUsed = inodes
	return nil
}

func (m *ScanManager) SetLimits(bytesHard, inodesHard int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bytesHard = bytesHard
	m.inodesHard = inodesHard
}

// check applies a prospective delta, failing without any counter
// change when a hard limit would be crossed.
func (m *ScanManager) check(deltaBytes, deltaInodes int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bytesHard > 0 && deltaBytes > 0 && m.bytesUsed+deltaBytes > m.bytesHard {
		return &Error{Resource: "bytes", Used: m.bytesUsed, Requested: deltaBytes, Hard: m.bytesHard}
	}
	if m.inodesHard > 0 && deltaInodes > 0 && m.inodesUsed+deltaInodes > m.inodesHard {
		return &Error{Resource: "inodes", Used: m.inodesUsed, Requested: deltaInodes, Hard: m.inodesHard}
	}
	m.bytesUsed += deltaBytes
	m.inodesUsed += deltaInodes
	if m.bytesUsed < 0 {
		m.bytesUsed = 0
	}
	if m.inodesUsed < 0 {
		m.inodesUsed = 0
	}
	return nil
}

func (m *ScanManager) CheckCreateFile(_ string, size int64) error {
	return m.check(size, 1)
}

func (m *ScanManager) CheckDeleteFile(_ string, size int64) error {
	return m.check(-size, -1)
}

func (m *ScanManager) CheckCreateDirectory(_ string) error {
	return m.check(0, 1)
}

func (m *ScanManager) CheckDeleteDirectory(_ string) error {
	return m.check(0, -1)
}
