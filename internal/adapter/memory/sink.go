package memory

import (
	"fmt"
	"io"
	"sync"

	"github.com/vertextoedge/rangefetch/internal/domain"
	"github.com/vertextoedge/rangefetch/internal/port"
)

// Sink assembles artifacts in memory. Finalized artifacts stay readable
// through Artifact until discarded.
type Sink struct {
	mu        sync.Mutex
	buffers   map[string]*buffer
	artifacts map[string][]byte
}

type buffer struct {
	mu     sync.Mutex
	target string
	data   []byte
}

var (
	_ port.Sink       = (*Sink)(nil)
	_ port.SinkReader = (*Sink)(nil)
)

// NewSink creates an empty in-memory sink
func NewSink() *Sink {
	return &Sink{
		buffers:   make(map[string]*buffer),
		artifacts: make(map[string][]byte),
	}
}

func (s *Sink) Prepare(jobID, targetPath string, size int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.buffers[jobID]; ok {
		return nil
	}
	b := &buffer{target: targetPath}
	if size > 0 {
		// capacity only; len tracks the written extent
		b.data = make([]byte, 0, size)
	}
	s.buffers[jobID] = b
	return nil
}

func (s *Sink) get(jobID string) (*buffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buffers[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s has no open buffer: %w", jobID, domain.ErrNotFound)
	}
	return b, nil
}

func (s *Sink) WriteAt(jobID string, p []byte, off int64) (int, error) {
	b, err := s.get(jobID)
	if err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if end := off + int64(len(p)); end > int64(len(b.data)) {
		if end <= int64(cap(b.data)) {
			b.data = b.data[:end]
		} else {
			grown := make([]byte, end)
			copy(grown, b.data)
			b.data = grown
		}
	}
	return copy(b.data[off:], p), nil
}

func (s *Sink) ReadAt(jobID string, p []byte, off int64) (int, error) {
	b, err := s.get(jobID)
	if err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if off >= int64(len(b.data)) {
		return 0, io.EOF
	}
	n := copy(p, b.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (s *Sink) Finalize(jobID string) (string, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buffers[jobID]
	if !ok {
		return "", 0, fmt.Errorf("job %s has no open buffer: %w", jobID, domain.ErrNotFound)
	}
	delete(s.buffers, jobID)
	s.artifacts[b.target] = b.data
	return b.target, int64(len(b.data)), nil
}

// Release is a no-op; buffers live until Finalize or Discard
func (s *Sink) Release(jobID string) error {
	return nil
}

// Discard drops the job's buffer and any artifact published at targetPath
func (s *Sink) Discard(jobID, targetPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buffers, jobID)
	delete(s.artifacts, targetPath)
	return nil
}

// Artifact returns the finalized bytes published at path
func (s *Sink) Artifact(path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.artifacts[path]
	return data, ok
}
