package port

import "time"

// DiskUsage represents disk usage statistics
type DiskUsage struct {
	Total   uint64  // Total disk space in bytes
	Used    uint64  // Used disk space in bytes
	Free    uint64  // Free disk space in bytes
	UsedPct float64 // Used percentage (0-100)
}

// Sink receives segment bytes and produces the final artifact.
// WriteAt is safe for concurrent use on disjoint ranges of the same job.
type Sink interface {
	// Prepare opens the artifact for a job. Existing partial content is kept
	// so completed segments survive a pause or restart. size is -1 when unknown.
	Prepare(jobID, targetPath string, size int64) error

	// WriteAt writes p at offset off of the job's artifact
	WriteAt(jobID string, p []byte, off int64) (int, error)

	// Finalize flushes and publishes the artifact
	// Returns: final path, extent written (highest written offset + 1), error
	Finalize(jobID string) (string, int64, error)

	// Release closes the job's artifact but keeps partial content for a later Prepare
	Release(jobID string) error

	// Discard drops the job's partial artifact
	Discard(jobID, targetPath string) error
}

// SinkReader is implemented by sinks that can read written bytes back,
// used to verify segment checksums after writing.
type SinkReader interface {
	ReadAt(jobID string, p []byte, off int64) (int, error)
}

// DiskInspector reports usage of the volume holding downloads
type DiskInspector interface {
	GetDiskUsage() (*DiskUsage, error)
}

// StaleCleaner removes abandoned partial artifacts
type StaleCleaner interface {
	// CleanStale removes partial artifacts older than the specified duration
	// Returns the number of files deleted
	CleanStale(olderThan time.Duration) (int, error)
}
