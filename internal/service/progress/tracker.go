// Package progress aggregates per-segment byte counts into job progress,
// windowed speed and ETA.
package progress

import (
	"sync"
	"time"
)

// DefaultWindow is the speed averaging window.
const DefaultWindow = 5 * time.Second

// coalesce merges speed samples closer together than this.
const coalesce = 100 * time.Millisecond

// Snapshot is a consistent view of a job's progress.
type Snapshot struct {
	Downloaded int64
	Total      int64
	Percent    float64
	Speed      float64 // bytes per second
	ETA        float64 // seconds, -1 when undefined
}

type sample struct {
	at    time.Time
	bytes int64
}

// Tracker aggregates progress for one job. It is safe for concurrent use
// by the job's workers.
//
// Downloaded bytes are the sum of completed segment sizes plus the
// high-water mark of each in-flight segment. A retry restarts the attempt
// counter but keeps the high-water mark, so the figure never decreases
// while the job runs. Dropping in-flight segments (pause) is the only way
// it goes down.
type Tracker struct {
	mu sync.Mutex

	total     int64
	completed int64
	highWater map[int]int64
	attempt   map[int]int64

	transferred int64
	samples     []sample
	window      time.Duration

	now func() time.Time
}

// NewTracker creates a tracker for a job of total bytes (-1 when unknown).
func NewTracker(total int64, window time.Duration) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	t := &Tracker{
		total:     total,
		highWater: make(map[int]int64),
		attempt:   make(map[int]int64),
		window:    window,
		now:       time.Now,
	}
	t.samples = []sample{{at: t.now()}}
	return t
}

// SetTotal updates the total size once it becomes known.
func (t *Tracker) SetTotal(total int64) {
	t.mu.Lock()
	t.total = total
	t.mu.Unlock()
}

// Seed accounts for segments completed by an earlier run.
func (t *Tracker) Seed(completedBytes int64) {
	t.mu.Lock()
	t.completed += completedBytes
	t.mu.Unlock()
}

// SegmentStarted begins a new attempt for a segment.
func (t *Tracker) SegmentStarted(id int) {
	t.mu.Lock()
	t.attempt[id] = 0
	t.mu.Unlock()
}

// Add records n bytes received for a segment's current attempt.
func (t *Tracker) Add(id int, n int64) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.attempt[id] + n
	t.attempt[id] = cur
	if cur > t.highWater[id] {
		t.highWater[id] = cur
	}
	t.transferred += n
	t.record()
}

// SegmentRetrying ends the current attempt; the high-water mark stays.
func (t *Tracker) SegmentRetrying(id int) {
	t.mu.Lock()
	t.attempt[id] = 0
	t.mu.Unlock()
}

// SegmentCompleted moves a segment into the completed total. size < 0
// means the segment was open-ended and its received bytes are its size.
func (t *Tracker) SegmentCompleted(id int, size int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if size < 0 {
		size = t.highWater[id]
		if a := t.attempt[id]; a > size {
			size = a
		}
	}
	t.completed += size
	delete(t.highWater, id)
	delete(t.attempt, id)
}

// SegmentDropped discards a segment's partial bytes (pause, exhausted retries).
func (t *Tracker) SegmentDropped(id int) {
	t.mu.Lock()
	delete(t.highWater, id)
	delete(t.attempt, id)
	t.mu.Unlock()
}

// DropInFlight discards every partial segment and restarts speed sampling.
func (t *Tracker) DropInFlight() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.highWater = make(map[int]int64)
	t.attempt = make(map[int]int64)
	t.samples = []sample{{at: t.now(), bytes: t.transferred}}
}

// Reset forgets all progress, used when a job is replanned from scratch.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.completed = 0
	t.highWater = make(map[int]int64)
	t.attempt = make(map[int]int64)
	t.samples = []sample{{at: t.now(), bytes: t.transferred}}
}

// Snapshot returns the current aggregate figures.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	downloaded := t.completed
	for _, hw := range t.highWater {
		downloaded += hw
	}

	s := Snapshot{
		Downloaded: downloaded,
		Total:      t.total,
		Speed:      t.speed(),
		ETA:        -1,
	}
	if t.total > 0 {
		s.Percent = clamp(float64(downloaded) / float64(t.total) * 100)
		if s.Speed > 0 {
			remaining := t.total - downloaded
			if remaining < 0 {
				remaining = 0
			}
			s.ETA = float64(remaining) / s.Speed
		}
	}
	return s
}

// record appends a speed sample. Caller holds mu.
func (t *Tracker) record() {
	now := t.now()
	if n := len(t.samples); n > 1 && now.Sub(t.samples[n-1].at) < coalesce {
		t.samples[n-1].bytes = t.transferred
	} else {
		t.samples = append(t.samples, sample{at: now, bytes: t.transferred})
	}
	t.prune(now)
}

// prune drops samples older than the window, keeping one as the baseline.
// Caller holds mu.
func (t *Tracker) prune(now time.Time) {
	cutoff := now.Add(-t.window)
	i := 0
	for i+1 < len(t.samples) && !t.samples[i+1].at.After(cutoff) {
		i++
	}
	if i > 0 {
		t.samples = append(t.samples[:0], t.samples[i:]...)
	}
}

// speed averages throughput over the window. Caller holds mu.
func (t *Tracker) speed() float64 {
	now := t.now()
	t.prune(now)
	base := t.samples[0]

	elapsed := now.Sub(base.at).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(t.transferred-base.bytes) / elapsed
}

func clamp(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
