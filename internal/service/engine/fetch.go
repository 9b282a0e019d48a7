package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/rangefetch/internal/domain"
	"github.com/vertextoedge/rangefetch/internal/domain/event"
	"github.com/vertextoedge/rangefetch/internal/port"
)

const readBufferSize = 32 * 1024

// runSegment fetches one segment until it completes, exhausts its retries
// or the run stops. A nil return with the segment still pending means the
// run was stopped.
func (m *Manager) runSegment(ctx context.Context, r *jobRun, id int) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := m.slots.Acquire(ctx, 1); err != nil {
			return nil
		}

		seg := r.updateSegment(id, (*domain.Segment).Claim)
		if seg == nil {
			m.slots.Release(1)
			return nil
		}
		m.persistSegment(seg)

		m.activeWorkers.Add(1)
		r.active.Add(1)
		r.tracker.SegmentStarted(id)
		n, sum, err := m.fetchSegment(ctx, r, seg)
		r.active.Add(-1)
		m.activeWorkers.Add(-1)
		m.slots.Release(1)

		if err == nil {
			adopted := false
			done := r.updateSegment(id, func(s *domain.Segment) {
				if s.EndByte < 0 && n > 0 {
					s.EndByte = s.StartByte + n - 1
					adopted = true
				}
				s.Complete(sum)
			})
			if adopted {
				// an open-ended segment always spans the whole resource
				r.tracker.SetTotal(done.EndByte + 1)
			}
			r.tracker.SegmentCompleted(id, done.Size())
			m.persistSegment(done)
			m.events.Dispatch(event.NewSegmentCompleted(r.id, id, n))
			return nil
		}

		if ctx.Err() != nil {
			m.persistSegment(r.updateSegment(id, (*domain.Segment).Revert))
			r.tracker.SegmentDropped(id)
			return nil
		}

		var rme *domain.RangeMismatchError
		if errors.As(err, &rme) && seg.Ranged {
			count := int(r.mismatches.Add(1))
			m.persistSegment(r.updateSegment(id, (*domain.Segment).Revert))
			if count > m.cfg.RangeMismatchLimit {
				r.tracker.SegmentDropped(id)
				return errRangeFallback
			}
			m.logger.Warn("range mismatch",
				zap.String("job_id", r.id),
				zap.Int("segment_id", id),
				zap.Error(err))
			r.tracker.SegmentRetrying(id)
			if !sleepCtx(ctx, m.cfg.RetryBaseDelay) {
				return nil
			}
			continue
		}

		if !domain.IsRetryable(err) {
			m.persistSegment(r.updateSegment(id, func(s *domain.Segment) { s.Fail(err) }))
			r.tracker.SegmentDropped(id)
			return fmt.Errorf("segment %d: %w", id, err)
		}

		var canRetry bool
		failed := r.updateSegment(id, func(s *domain.Segment) {
			canRetry = s.MarkFailed(err, r.maxRetries)
		})
		m.persistSegment(failed)

		if !canRetry {
			r.tracker.SegmentDropped(id)
			return &domain.ResourceExhaustedError{SegmentID: id, Attempts: failed.RetryCount, Err: err}
		}

		retryAfter, _ := domain.GetRetryAfter(err)
		delay := backoffDelay(failed.RetryCount, m.cfg.RetryBaseDelay, m.cfg.RetryMaxDelay, retryAfter)

		m.events.Dispatch(event.NewSegmentRetried(r.id, id, failed.RetryCount, delay, err.Error()))
		r.tracker.SegmentRetrying(id)

		if !sleepCtx(ctx, delay) {
			return nil
		}
	}
}

// fetchSegment performs one attempt. It returns the bytes written and their
// sha256. The attempt is abandoned when no data arrives within the job's
// connection timeout.
func (m *Manager) fetchSegment(ctx context.Context, r *jobRun, seg *domain.Segment) (int64, string, error) {
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var idle atomic.Bool
	watchdog := time.AfterFunc(r.timeout, func() {
		idle.Store(true)
		cancel()
	})
	defer watchdog.Stop()

	rangeHeader := ""
	if seg.Ranged {
		rangeHeader = seg.RangeHeader()
	}

	resp, err := m.send(attemptCtx, http.MethodGet, r.downloadURL, r.headers, rangeHeader)
	if err != nil {
		return 0, "", attemptError(ctx, &idle, r.timeout, err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp, seg, r.downloadURL); err != nil {
		return 0, "", err
	}

	expected := seg.Size()
	hasher := sha256.New()
	buf := make([]byte, readBufferSize)

	var written int64
	for {
		if err := attemptCtx.Err(); err != nil {
			return written, "", attemptError(ctx, &idle, r.timeout, err)
		}

		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			// waiting for bandwidth is not a stalled connection
			if !m.bandwidth.Unlimited() {
				watchdog.Stop()
				if werr := m.bandwidth.WaitN(attemptCtx, n); werr != nil {
					return written, "", attemptError(ctx, &idle, r.timeout, werr)
				}
			}
			watchdog.Reset(r.timeout)

			if expected >= 0 && written+int64(n) > expected {
				return written, "", &domain.RangeMismatchError{
					Requested: seg.RangeHeader(),
					Got:       fmt.Sprintf("more than %d bytes", expected),
				}
			}
			if _, werr := m.sink.WriteAt(r.id, buf[:n], seg.StartByte+written); werr != nil {
				return written, "", fmt.Errorf("failed to write segment data: %w", werr)
			}
			hasher.Write(buf[:n])
			written += int64(n)

			r.tracker.Add(seg.ID, int64(n))
			m.reportProgress(r)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return written, "", attemptError(ctx, &idle, r.timeout, rerr)
		}
	}

	if expected >= 0 && written < expected {
		return written, "", &domain.NetworkError{Op: "read body", Err: io.ErrUnexpectedEOF}
	}

	sum := hex.EncodeToString(hasher.Sum(nil))
	if m.cfg.VerifyWrites {
		if err := m.verify(r.id, seg, written, sum); err != nil {
			return written, "", err
		}
	}
	return written, sum, nil
}

// checkResponse validates the status and Content-Range of a segment response
func checkResponse(resp *http.Response, seg *domain.Segment, rawURL string) error {
	switch resp.StatusCode {
	case http.StatusPartialContent:
		got := resp.Header.Get("Content-Range")
		cr, err := parseContentRange(got)
		if err != nil || cr.start != seg.StartByte || (seg.EndByte >= 0 && cr.end != seg.EndByte) {
			return &domain.RangeMismatchError{Requested: seg.RangeHeader(), Got: got}
		}
		return nil
	case http.StatusOK:
		if !seg.Ranged {
			return nil
		}
		// A full response is acceptable when the segment is the whole file
		if seg.StartByte == 0 && resp.ContentLength >= 0 && resp.ContentLength == seg.Size() {
			return nil
		}
		return &domain.RangeMismatchError{Requested: seg.RangeHeader(), Got: resp.Status}
	default:
		return statusError(resp, rawURL)
	}
}

// verify reads a written segment back from the sink and compares checksums
func (m *Manager) verify(jobID string, seg *domain.Segment, n int64, expected string) error {
	reader, ok := m.sink.(port.SinkReader)
	if !ok || n == 0 {
		return nil
	}

	h := sha256.New()
	section := io.NewSectionReader(sinkReaderAt{reader: reader, jobID: jobID}, seg.StartByte, n)
	if _, err := io.Copy(h, section); err != nil {
		return fmt.Errorf("failed to read back segment %d: %w", seg.ID, err)
	}

	actual := hex.EncodeToString(h.Sum(nil))
	if actual != expected {
		return &domain.ChecksumMismatchError{SegmentID: seg.ID, Expected: expected, Actual: actual}
	}
	return nil
}

type sinkReaderAt struct {
	reader port.SinkReader
	jobID  string
}

func (s sinkReaderAt) ReadAt(p []byte, off int64) (int, error) {
	return s.reader.ReadAt(s.jobID, p, off)
}

// attemptError classifies an error ending an attempt
func attemptError(ctx context.Context, idle *atomic.Bool, timeout time.Duration, err error) error {
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case idle.Load():
		return &domain.NetworkError{Op: "idle timeout", Err: fmt.Errorf("no data for %s", timeout)}
	}
	var ne *domain.NetworkError
	if errors.As(err, &ne) {
		return err
	}
	return &domain.NetworkError{Op: "read body", Err: err}
}

// reportProgress publishes throttled progress for a job
func (m *Manager) reportProgress(r *jobRun) {
	if ok, _ := m.throttle.Allow(r.id); !ok {
		return
	}
	snap := r.tracker.Snapshot()
	m.events.Dispatch(event.NewJobProgressed(r.id, snap.Downloaded, snap.Total, snap.Percent, snap.Speed, snap.ETA))
	if err := m.store.UpdateProgress(r.id, snap.Downloaded, snap.Percent, snap.Speed, snap.ETA); err != nil {
		m.logger.Debug("failed to persist progress", zap.String("job_id", r.id), zap.Error(err))
	}
}

// sleepCtx waits for d. Returns false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
