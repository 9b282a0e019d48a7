package filesystem

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/vertextoedge/rangefetch/internal/domain"
	"github.com/vertextoedge/rangefetch/internal/port"
)

const (
	partPrefix = ".rangefetch-"
	partSuffix = ".part"
)

// FileSink writes segments straight into a part file next to the target
// and renames it into place when the job completes.
type FileSink struct {
	rootDir string

	mu    sync.Mutex
	files map[string]*partFile
}

type partFile struct {
	f          *os.File
	partPath   string
	targetPath string
}

// Ensure FileSink implements the sink ports
var (
	_ port.Sink          = (*FileSink)(nil)
	_ port.SinkReader    = (*FileSink)(nil)
	_ port.DiskInspector = (*FileSink)(nil)
	_ port.StaleCleaner  = (*FileSink)(nil)
)

// NewFileSink creates a sink rooted at the download directory
func NewFileSink(rootDir string) (*FileSink, error) {
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create download dir: %w", err)
	}
	return &FileSink{
		rootDir: rootDir,
		files:   make(map[string]*partFile),
	}, nil
}

// RootDir returns the download directory
func (s *FileSink) RootDir() string {
	return s.rootDir
}

// PartPath returns the partial file used for a job's target
func PartPath(targetPath, jobID string) string {
	return filepath.Join(filepath.Dir(targetPath), partPrefix+jobID+partSuffix)
}

// Prepare opens (or reopens) the job's part file without discarding
// content already written. The file is never grown here, so its length
// is always the extent actually written; a known size only trims stray
// bytes past the end.
func (s *FileSink) Prepare(jobID, targetPath string, size int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.files[jobID]; ok {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return fmt.Errorf("failed to create parent dir: %w", err)
	}

	partPath := PartPath(targetPath, jobID)
	f, err := os.OpenFile(partPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open part file: %w", err)
	}

	if size >= 0 {
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return fmt.Errorf("failed to stat part file: %w", err)
		}
		if info.Size() > size {
			if err := f.Truncate(size); err != nil {
				f.Close()
				return fmt.Errorf("failed to trim part file: %w", err)
			}
		}
	}

	s.files[jobID] = &partFile{f: f, partPath: partPath, targetPath: targetPath}
	return nil
}

func (s *FileSink) get(jobID string) (*partFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pf, ok := s.files[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s has no open part file: %w", jobID, domain.ErrNotFound)
	}
	return pf, nil
}

// WriteAt writes p at offset off. Concurrent writers must use disjoint ranges.
func (s *FileSink) WriteAt(jobID string, p []byte, off int64) (int, error) {
	pf, err := s.get(jobID)
	if err != nil {
		return 0, err
	}
	return pf.f.WriteAt(p, off)
}

// ReadAt reads back written bytes for verification
func (s *FileSink) ReadAt(jobID string, p []byte, off int64) (int, error) {
	pf, err := s.get(jobID)
	if err != nil {
		return 0, err
	}
	return pf.f.ReadAt(p, off)
}

// Finalize flushes the part file and renames it to the target path.
// An existing file at the target is never overwritten; a numbered name is used instead.
func (s *FileSink) Finalize(jobID string) (string, int64, error) {
	s.mu.Lock()
	pf, ok := s.files[jobID]
	if ok {
		delete(s.files, jobID)
	}
	s.mu.Unlock()
	if !ok {
		return "", 0, fmt.Errorf("job %s has no open part file: %w", jobID, domain.ErrNotFound)
	}

	if err := pf.f.Sync(); err != nil {
		pf.f.Close()
		return "", 0, fmt.Errorf("failed to sync part file: %w", err)
	}
	info, err := pf.f.Stat()
	if err != nil {
		pf.f.Close()
		return "", 0, fmt.Errorf("failed to stat part file: %w", err)
	}
	if err := pf.f.Close(); err != nil {
		return "", 0, fmt.Errorf("failed to close part file: %w", err)
	}

	finalPath := pf.targetPath
	if _, err := os.Stat(finalPath); err == nil {
		finalPath = RenewOutputPath(finalPath)
	}

	if err := os.Rename(pf.partPath, finalPath); err != nil {
		return "", 0, fmt.Errorf("failed to rename part file: %w", err)
	}

	return finalPath, info.Size(), nil
}

// Release closes the job's part file, keeping its content
func (s *FileSink) Release(jobID string) error {
	s.mu.Lock()
	pf, ok := s.files[jobID]
	if ok {
		delete(s.files, jobID)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return pf.f.Close()
}

// Discard closes and removes the job's part file
func (s *FileSink) Discard(jobID, targetPath string) error {
	partPath := PartPath(targetPath, jobID)

	s.mu.Lock()
	if pf, ok := s.files[jobID]; ok {
		pf.f.Close()
		partPath = pf.partPath
		delete(s.files, jobID)
	}
	s.mu.Unlock()

	if err := os.Remove(partPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete part file: %w", err)
	}
	return nil
}

// CleanStale removes part files under the root that are older than the
// specified duration and not held by a running job
func (s *FileSink) CleanStale(olderThan time.Duration) (int, error) {
	count := 0
	threshold := time.Now().Add(-olderThan)

	s.mu.Lock()
	inUse := make(map[string]bool, len(s.files))
	for _, pf := range s.files {
		inUse[pf.partPath] = true
	}
	s.mu.Unlock()

	err := filepath.WalkDir(s.rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if !strings.HasPrefix(name, partPrefix) || !strings.HasSuffix(name, partSuffix) || inUse[path] {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(threshold) {
			if removeErr := os.Remove(path); removeErr == nil {
				count++
			}
		}
		return nil
	})
	return count, err
}

// RenewOutputPath returns the first "name-(n).ext" sibling that does not exist
func RenewOutputPath(outputPath string) string {
	dir := filepath.Dir(outputPath)
	base := filepath.Base(outputPath)
	ext := filepath.Ext(base)
	name := base[:len(base)-len(ext)]
	index := 1
	for {
		outputPath = filepath.Join(dir, fmt.Sprintf("%s-(%d)%s", name, index, ext))
		if _, err := os.Stat(outputPath); os.IsNotExist(err) {
			return outputPath
		}
		index++
	}
}
