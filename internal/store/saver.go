// Package store persists frames to local disk under policy-keyed
// directories. Detect mode keys by the matched label, proximity mode by
// the literal "proximity" directory.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/songseungho-v/ai-clothes-sorter/internal/types"
)

// timestampLayout yields yyyyMMdd_HHmmss, the filename convention the
// capture fleet's tooling expects.
const timestampLayout = "20060102_150405"

// DiskStore writes frames as .jpg files under root/{key}/.
//
// Filenames: {device_id}_{yyyyMMdd_HHmmss}.jpg, with _{score*100 as
// integer} appended for scored saves. Frames arrive JPEG-encoded, so a
// save is a plain byte write, no re-encode.
//
// Thread-safe: workers for different devices save concurrently.
type DiskStore struct {
	root string
	now  func() time.Time

	mu     sync.Mutex
	saved  uint64
	failed uint64
}

// NewDiskStore creates a store rooted at root, creating the directory
// if needed. now is the clock source; nil means time.Now.
func NewDiskStore(root string, now func() time.Time) (*DiskStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	if now == nil {
		now = time.Now
	}
	return &DiskStore{root: root, now: now}, nil
}

// Save persists the frame under key and returns the filename.
func (s *DiskStore) Save(deviceID, key string, frame *types.Frame) (string, error) {
	name := fmt.Sprintf("%s_%s.jpg", deviceID, s.now().Format(timestampLayout))
	return name, s.write(key, name, frame)
}

// SaveScored persists the frame under key with the detection score
// embedded in the filename and returns the filename.
func (s *DiskStore) SaveScored(deviceID, key string, frame *types.Frame, score float64) (string, error) {
	name := fmt.Sprintf("%s_%s_%d.jpg", deviceID, s.now().Format(timestampLayout), int(score*100))
	return name, s.write(key, name, frame)
}

func (s *DiskStore) write(key, name string, frame *types.Frame) error {
	dir := filepath.Join(s.root, key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.count(false)
		return fmt.Errorf("failed to create save directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), frame.Data, 0o644); err != nil {
		s.count(false)
		return fmt.Errorf("failed to write frame: %w", err)
	}
	s.count(true)
	return nil
}

func (s *DiskStore) count(ok bool) {
	s.mu.Lock()
	if ok {
		s.saved++
	} else {
		s.failed++
	}
	s.mu.Unlock()
}

// Stats returns lifetime save counters.
func (s *DiskStore) Stats() (saved, failed uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved, s.failed
}
