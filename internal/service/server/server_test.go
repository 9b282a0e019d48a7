package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vertextoedge/rangefetch/internal/domain"
	"github.com/vertextoedge/rangefetch/internal/service/engine"
)

type mockDownloads struct {
	startURL  string
	startOpts engine.Options
	startErr  error
	filter    domain.JobFilter
	controlFn func(op, id string) (*domain.Job, error)
	jobs      map[string]*domain.Job
	stats     *engine.Stats
}

func newMockDownloads() *mockDownloads {
	return &mockDownloads{jobs: make(map[string]*domain.Job)}
}

func (m *mockDownloads) StartDownload(ctx context.Context, rawURL string, opts engine.Options) (*domain.Job, error) {
	m.startURL = rawURL
	m.startOpts = opts
	if m.startErr != nil {
		return nil, m.startErr
	}
	return &domain.Job{ID: "job-1", URL: rawURL, Status: domain.JobStatusPending, TotalSize: 100}, nil
}

func (m *mockDownloads) control(op, id string) (*domain.Job, error) {
	if m.controlFn != nil {
		return m.controlFn(op, id)
	}
	j, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return j, nil
}

func (m *mockDownloads) PauseDownload(ctx context.Context, id string) (*domain.Job, error) {
	return m.control("pause", id)
}

func (m *mockDownloads) ResumeDownload(ctx context.Context, id string) (*domain.Job, error) {
	return m.control("resume", id)
}

func (m *mockDownloads) CancelDownload(ctx context.Context, id string) (*domain.Job, error) {
	return m.control("cancel", id)
}

func (m *mockDownloads) GetDownload(ctx context.Context, id string) (*domain.Job, []*domain.Segment, error) {
	j, ok := m.jobs[id]
	if !ok {
		return nil, nil, domain.ErrJobNotFound
	}
	return j, []*domain.Segment{
		{ID: 0, JobID: id, StartByte: 0, EndByte: 49, Status: domain.SegmentStatusCompleted, Checksum: "aa"},
		{ID: 1, JobID: id, StartByte: 50, EndByte: 99, Status: domain.SegmentStatusPending},
	}, nil
}

func (m *mockDownloads) QueryDownloads(ctx context.Context, filter domain.JobFilter) ([]*domain.Job, int, error) {
	m.filter = filter
	var out []*domain.Job
	for _, j := range m.jobs {
		out = append(out, j)
	}
	return out, len(out), nil
}

func (m *mockDownloads) GetStats(ctx context.Context) (*engine.Stats, error) {
	if m.stats == nil {
		return nil, errors.New("stats unavailable")
	}
	return m.stats, nil
}

type mockPinger struct{ err error }

func (p *mockPinger) Ping() error { return p.err }

type mockActivity struct{ calls int }

func (a *mockActivity) RecordActivity(ctx context.Context) { a.calls++ }

func newTestServer(cfg *Config, d *mockDownloads, activity ActivityRecorder) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return New(cfg, d, &mockPinger{}, activity, zap.NewNop())
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	s := New(DefaultConfig(), newMockDownloads(), &mockPinger{}, nil, zap.NewNop())
	if rec := do(t, s.Handler(), http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("health status = %d", rec.Code)
	}

	down := New(DefaultConfig(), newMockDownloads(), &mockPinger{err: errors.New("db closed")}, nil, zap.NewNop())
	if rec := do(t, down.Handler(), http.MethodGet, "/health", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy status = %d", rec.Code)
	}
}

func TestServer_CreateDownload(t *testing.T) {
	d := newMockDownloads()
	s := newTestServer(nil, d, nil)

	body := `{"url":"https://example.com/a.iso","max_connections":4,"max_retries":0,` +
		`"connection_timeout":"15s","tags":["iso"],"variant":2}`
	rec := do(t, s.Handler(), http.MethodPost, "/api/downloads", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var got jobResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.ID != "job-1" || got.Status != "pending" {
		t.Errorf("response = %+v", got)
	}
	if d.startURL != "https://example.com/a.iso" {
		t.Errorf("url = %q", d.startURL)
	}
	opts := d.startOpts
	if opts.MaxConnections != 4 || opts.MaxRetries == nil || *opts.MaxRetries != 0 {
		t.Errorf("options = %+v", opts)
	}
	if opts.ConnectionTimeout != 15*time.Second || opts.Variant.Index != 2 {
		t.Errorf("timeout = %v variant = %+v", opts.ConnectionTimeout, opts.Variant)
	}
}

func TestServer_CreateDownloadErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		startErr   error
		wantStatus int
	}{
		{"malformed body", `{"url":`, nil, http.StatusBadRequest},
		{"unknown field", `{"url":"https://h/f","speed":1}`, nil, http.StatusBadRequest},
		{"bad timeout", `{"url":"https://h/f","connection_timeout":"soon"}`, nil, http.StatusBadRequest},
		{"invalid url", `{"url":"ftp://h/f"}`, domain.ErrInvalidInput, http.StatusBadRequest},
		{"no space", `{"url":"https://h/f"}`, domain.ErrInsufficientSpace, http.StatusInsufficientStorage},
		{"drm", `{"url":"https://h/x.m3u8"}`, &domain.DRMProtectedError{Scheme: "SAMPLE-AES"}, http.StatusUnprocessableEntity},
		{"origin 404", `{"url":"https://h/f"}`, &domain.HTTPStatusError{StatusCode: 404}, http.StatusBadGateway},
		{"shut down", `{"url":"https://h/f"}`, engine.ErrClosed, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newMockDownloads()
			d.startErr = tt.startErr
			s := newTestServer(nil, d, nil)
			rec := do(t, s.Handler(), http.MethodPost, "/api/downloads", tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestServer_ListDownloads(t *testing.T) {
	d := newMockDownloads()
	d.jobs["a"] = &domain.Job{ID: "a", Status: domain.JobStatusCompleted}
	s := newTestServer(nil, d, nil)

	rec := do(t, s.Handler(), http.MethodGet,
		"/api/downloads?status=completed,failed&category=video&tag=x&tag=y&q=report&limit=10&offset=5&from=2025-01-01T00:00:00Z", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var got listResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Total != 1 || len(got.Items) != 1 || got.Items[0].ID != "a" {
		t.Errorf("response = %+v", got)
	}

	f := d.filter
	if len(f.Statuses) != 2 || f.Statuses[1] != domain.JobStatusFailed {
		t.Errorf("statuses = %v", f.Statuses)
	}
	if f.Category != "video" || f.Text != "report" || len(f.Tags) != 2 {
		t.Errorf("filter = %+v", f)
	}
	if f.Limit != 10 || f.Offset != 5 || f.From == nil || f.To != nil {
		t.Errorf("paging/dates = %+v", f)
	}

	for _, bad := range []string{"?status=queued", "?limit=-1", "?from=yesterday", "?include_deleted=maybe"} {
		if rec := do(t, s.Handler(), http.MethodGet, "/api/downloads"+bad, ""); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", bad, rec.Code)
		}
	}
}

func TestServer_GetDownload(t *testing.T) {
	d := newMockDownloads()
	d.jobs["a"] = &domain.Job{ID: "a", Status: domain.JobStatusDownloading, TotalSize: 100}
	s := newTestServer(nil, d, nil)

	rec := do(t, s.Handler(), http.MethodGet, "/api/downloads/a", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got jobDetailResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.ID != "a" || len(got.Segments) != 2 || got.Segments[0].Checksum != "aa" {
		t.Errorf("response = %+v", got)
	}

	if rec := do(t, s.Handler(), http.MethodGet, "/api/downloads/missing", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing job status = %d", rec.Code)
	}
}

func TestServer_Control(t *testing.T) {
	var ops []string
	d := newMockDownloads()
	d.controlFn = func(op, id string) (*domain.Job, error) {
		ops = append(ops, op+":"+id)
		switch id {
		case "done":
			return nil, domain.ErrJobTerminal
		case "missing":
			return nil, domain.ErrJobNotFound
		}
		return &domain.Job{ID: id, Status: domain.JobStatusPaused}, nil
	}
	s := newTestServer(nil, d, nil)

	tests := []struct {
		method     string
		target     string
		wantStatus int
		wantOp     string
	}{
		{http.MethodPost, "/api/downloads/j1/pause", http.StatusOK, "pause:j1"},
		{http.MethodPost, "/api/downloads/j1/resume", http.StatusOK, "resume:j1"},
		{http.MethodDelete, "/api/downloads/j1", http.StatusOK, "cancel:j1"},
		{http.MethodDelete, "/api/downloads/done", http.StatusConflict, "cancel:done"},
		{http.MethodPost, "/api/downloads/missing/pause", http.StatusNotFound, "pause:missing"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			ops = nil
			rec := do(t, s.Handler(), tt.method, tt.target, "")
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if len(ops) != 1 || ops[0] != tt.wantOp {
				t.Errorf("ops = %v, want [%s]", ops, tt.wantOp)
			}
		})
	}

	if rec := do(t, s.Handler(), http.MethodGet, "/api/downloads/j1/pause", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET on pause = %d, want 405", rec.Code)
	}
}

func TestServer_Stats(t *testing.T) {
	d := newMockDownloads()
	d.stats = &engine.Stats{
		Jobs: &domain.JobStats{
			Total:    3,
			ByStatus: map[domain.JobStatus]int{domain.JobStatusCompleted: 2, domain.JobStatusFailed: 1},
		},
		ActiveJobs: 1,
		Speed:      2048,
	}
	s := newTestServer(nil, d, nil)

	rec := do(t, s.Handler(), http.MethodGet, "/api/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got statsResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Total != 3 || got.ByStatus["completed"] != 2 || got.ActiveJobs != 1 || got.Speed != 2048 {
		t.Errorf("stats = %+v", got)
	}

	d.stats = nil
	if rec := do(t, s.Handler(), http.MethodGet, "/api/stats", ""); rec.Code != http.StatusInternalServerError {
		t.Errorf("failing stats = %d", rec.Code)
	}
}

func TestServer_BasicAuthAndActivity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Username = "admin"
	cfg.Password = "secret"
	activity := &mockActivity{}
	d := newMockDownloads()
	d.stats = &engine.Stats{}
	s := newTestServer(cfg, d, activity)

	rec := do(t, s.Handler(), http.MethodGet, "/api/stats", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no credentials = %d, want 401", rec.Code)
	}
	if activity.calls != 0 {
		t.Errorf("unauthenticated request recorded activity")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.SetBasicAuth("admin", "wrong")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong password = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.SetBasicAuth("admin", "secret")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("valid credentials = %d", rec.Code)
	}
	if activity.calls != 1 {
		t.Errorf("activity calls = %d, want 1", activity.calls)
	}

	// health stays open
	if rec := do(t, s.Handler(), http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("health behind auth = %d", rec.Code)
	}
}

func TestLoggingMiddleware(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	h := LoggingMiddleware(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/fail" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Write([]byte("hello"))
	}))

	for _, path := range []string{"/ok", "/fail"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("got %d log entries, want 2", len(entries))
	}
	if entries[0].Level != zapcore.DebugLevel || entries[0].ContextMap()["bytes"] != int64(5) {
		t.Errorf("ok entry = %v %v", entries[0].Level, entries[0].ContextMap())
	}
	if entries[1].Level != zapcore.WarnLevel || entries[1].ContextMap()["status"] != int64(http.StatusInternalServerError) {
		t.Errorf("fail entry = %v %v", entries[1].Level, entries[1].ContextMap())
	}
}
