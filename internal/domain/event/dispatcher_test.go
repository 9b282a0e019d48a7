package event

import (
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/vertextoedge/rangefetch/internal/domain"
)

type recordingHandler struct {
	mu     sync.Mutex
	names  []string
	events []string
}

func (h *recordingHandler) Handle(e DomainEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, e.EventName())
	return nil
}

func (h *recordingHandler) HandledEvents() []string { return h.names }

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

func TestInMemoryDispatcher_Routing(t *testing.T) {
	d := NewInMemoryDispatcher(false)
	failed := &recordingHandler{names: []string{NameJobFailed}}
	all := &recordingHandler{names: []string{Wildcard}}
	unsubscribe := d.Subscribe(failed)
	d.Subscribe(all)

	d.Dispatch(NewJobFailed("j1", "boom"))
	d.Dispatch(NewSegmentRetried("j1", 0, 1, 0, "reset"))

	if failed.count() != 1 {
		t.Errorf("named handler got %d events, want 1", failed.count())
	}
	if all.count() != 2 {
		t.Errorf("wildcard handler got %d events, want 2", all.count())
	}

	unsubscribe()
	unsubscribe()
	d.Dispatch(NewJobFailed("j2", "boom"))
	if failed.count() != 1 {
		t.Errorf("unsubscribed handler still received events")
	}
	if all.count() != 3 {
		t.Errorf("wildcard handler got %d events, want 3", all.count())
	}
}

func TestInMemoryDispatcher_UnsubscribeFunc(t *testing.T) {
	d := NewInMemoryDispatcher(false)
	var first, second int
	stopFirst := d.Subscribe(HandlerFunc(func(DomainEvent) error {
		first++
		return nil
	}))
	d.Subscribe(HandlerFunc(func(DomainEvent) error {
		second++
		return nil
	}))

	d.Dispatch(NewSegmentCompleted("j", 0, 10))
	stopFirst()
	d.Dispatch(NewSegmentCompleted("j", 1, 10))

	if first != 1 || second != 2 {
		t.Errorf("deliveries = %d/%d, want 1/2", first, second)
	}
}

func TestInMemoryDispatcher_Async(t *testing.T) {
	d := NewInMemoryDispatcher(true)
	h := &recordingHandler{names: []string{Wildcard}}
	d.Subscribe(h)

	var fn int
	var mu sync.Mutex
	d.Subscribe(HandlerFunc(func(DomainEvent) error {
		mu.Lock()
		fn++
		mu.Unlock()
		return nil
	}))

	for i := 0; i < 10; i++ {
		d.Dispatch(NewJobStatusChanged("j", domain.JobStatusPending, domain.JobStatusDownloading))
	}
	d.Wait()

	if h.count() != 10 {
		t.Errorf("handler got %d events, want 10", h.count())
	}
	mu.Lock()
	defer mu.Unlock()
	if fn != 10 {
		t.Errorf("func handler got %d events, want 10", fn)
	}
}

func TestMetricsHandler(t *testing.T) {
	d := NewInMemoryDispatcher(false)
	m := NewMetricsHandler()
	d.Subscribe(m)
	d.Subscribe(NewLoggingHandler(zap.NewNop()))

	job := &domain.Job{ID: "j1", URL: "http://h/f", TotalSize: 100}
	d.Dispatch(NewJobCreated(job, 4))
	d.Dispatch(NewSegmentCompleted("j1", 0, 25))
	d.Dispatch(NewSegmentRetried("j1", 1, 1, 0, "reset"))
	d.Dispatch(NewJobCompleted("j1", "/tmp/f", 100, 0))
	d.Dispatch(NewJobFailed("j2", "boom"))

	got := m.GetMetrics()
	want := map[string]int64{
		"jobs_created":       1,
		"jobs_completed":     1,
		"jobs_failed":        1,
		"segments_completed": 1,
		"segment_retries":    1,
		"bytes_completed":    100,
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("metric %s = %d, want %d", k, got[k], v)
		}
	}
}
