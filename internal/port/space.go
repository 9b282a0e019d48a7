package port

// SpaceCheckResult contains detailed space availability information
type SpaceCheckResult struct {
	HasSpace       bool
	RequiredBytes  int64
	AvailableBytes int64
	// ReservedBytes is what unfinished downloads still have to write
	ReservedBytes   int64
	DiskUsedPct     float64
	MaxDiskUsagePct float64
}

// SpaceChecker decides whether a download of a given size fits on disk
type SpaceChecker interface {
	// CheckSpace checks if there's enough space for a file of the given size
	// and returns detailed information about space availability
	CheckSpace(size int64) (*SpaceCheckResult, error)
}
