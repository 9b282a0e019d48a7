package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/rangefetch/internal/domain"
	"github.com/vertextoedge/rangefetch/internal/service/engine"
	"github.com/vertextoedge/rangefetch/internal/service/manifest"
)

const maxRequestBody = 1 << 20

// DownloadHandler handles the download job endpoints
type DownloadHandler struct {
	downloads Downloads
	logger    *zap.Logger
}

// NewDownloadHandler creates a new DownloadHandler
func NewDownloadHandler(downloads Downloads, logger *zap.Logger) *DownloadHandler {
	return &DownloadHandler{
		downloads: downloads,
		logger:    logger,
	}
}

// createRequest is the body of POST /api/downloads
type createRequest struct {
	URL               string            `json:"url"`
	Filename          string            `json:"filename,omitempty"`
	SaveDir           string            `json:"save_dir,omitempty"`
	MaxConnections    int               `json:"max_connections,omitempty"`
	MaxRetries        *int              `json:"max_retries,omitempty"`
	ConnectionTimeout string            `json:"connection_timeout,omitempty"`
	Headers           map[string]string `json:"headers,omitempty"`
	Tags              []string          `json:"tags,omitempty"`
	StartAt           *time.Time        `json:"start_at,omitempty"`
	Variant           int               `json:"variant,omitempty"`
	MaxBandwidth      int64             `json:"max_bandwidth,omitempty"`
}

func (c *createRequest) options() (engine.Options, error) {
	opts := engine.Options{
		Filename:       c.Filename,
		SaveDir:        c.SaveDir,
		MaxConnections: c.MaxConnections,
		MaxRetries:     c.MaxRetries,
		Headers:        c.Headers,
		Tags:           c.Tags,
		StartAt:        c.StartAt,
		Variant:        manifest.Selection{Index: c.Variant, MaxBandwidth: c.MaxBandwidth},
	}
	if c.ConnectionTimeout != "" {
		d, err := time.ParseDuration(c.ConnectionTimeout)
		if err != nil || d < 0 {
			return opts, domain.ErrInvalidInput
		}
		opts.ConnectionTimeout = d
	}
	return opts, nil
}

// jobResponse is the JSON view of a job
type jobResponse struct {
	ID               string     `json:"id"`
	URL              string     `json:"url"`
	DownloadURL      string     `json:"download_url,omitempty"`
	Filename         string     `json:"filename"`
	SavePath         string     `json:"save_path"`
	ContentType      string     `json:"content_type,omitempty"`
	TotalSize        int64      `json:"total_size"`
	DownloadedBytes  int64      `json:"downloaded_bytes"`
	Progress         float64    `json:"progress"`
	Speed            float64    `json:"speed"`
	ETA              float64    `json:"eta"`
	RangeSupported   bool       `json:"range_supported"`
	Status           string     `json:"status"`
	MaxConnections   int        `json:"max_connections"`
	MaxRetries       int        `json:"max_retries"`
	Category         string     `json:"category,omitempty"`
	ThreatLevel      string     `json:"threat_level,omitempty"`
	SuggestedActions []string   `json:"suggested_actions,omitempty"`
	Tags             []string   `json:"tags,omitempty"`
	Variant          string     `json:"variant,omitempty"`
	LastError        string     `json:"last_error,omitempty"`
	StartAt          *time.Time `json:"start_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

type segmentResponse struct {
	ID         int    `json:"id"`
	StartByte  int64  `json:"start_byte"`
	EndByte    int64  `json:"end_byte"`
	Status     string `json:"status"`
	RetryCount int    `json:"retry_count"`
	Checksum   string `json:"checksum,omitempty"`
	LastError  string `json:"last_error,omitempty"`
}

type jobDetailResponse struct {
	jobResponse
	Segments []segmentResponse `json:"segments"`
}

type listResponse struct {
	Items []jobResponse `json:"items"`
	Total int           `json:"total"`
}

func toJobResponse(j *domain.Job) jobResponse {
	return jobResponse{
		ID:               j.ID,
		URL:              j.URL,
		DownloadURL:      j.DownloadURL,
		Filename:         j.Filename,
		SavePath:         j.SavePath,
		ContentType:      j.ContentType,
		TotalSize:        j.TotalSize,
		DownloadedBytes:  j.DownloadedBytes,
		Progress:         j.Progress,
		Speed:            j.Speed,
		ETA:              j.ETA,
		RangeSupported:   j.RangeSupported,
		Status:           string(j.Status),
		MaxConnections:   j.Config.MaxConnections,
		MaxRetries:       j.Config.MaxRetries,
		Category:         j.Category,
		ThreatLevel:      j.ThreatLevel,
		SuggestedActions: j.SuggestedActions,
		Tags:             j.Tags,
		Variant:          j.Variant,
		LastError:        j.LastError,
		StartAt:          j.StartAt,
		CreatedAt:        j.CreatedAt,
		UpdatedAt:        j.UpdatedAt,
		CompletedAt:      j.CompletedAt,
	}
}

// HandleCreate starts a new download
func (h *DownloadHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	opts, err := req.options()
	if err != nil {
		http.Error(w, "Invalid connection_timeout", http.StatusBadRequest)
		return
	}

	job, err := h.downloads.StartDownload(r.Context(), req.URL, opts)
	if err != nil {
		h.writeError(w, "start download", err)
		return
	}

	writeJSON(w, http.StatusCreated, toJobResponse(job))
}

// HandleList lists jobs matching the query parameters
func (h *DownloadHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	jobs, total, err := h.downloads.QueryDownloads(r.Context(), filter)
	if err != nil {
		h.writeError(w, "query downloads", err)
		return
	}

	resp := listResponse{Items: make([]jobResponse, 0, len(jobs)), Total: total}
	for _, j := range jobs {
		resp.Items = append(resp.Items, toJobResponse(j))
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleGet returns one job with its segments
func (h *DownloadHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	job, segments, err := h.downloads.GetDownload(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, "get download", err)
		return
	}

	resp := jobDetailResponse{
		jobResponse: toJobResponse(job),
		Segments:    make([]segmentResponse, 0, len(segments)),
	}
	for _, s := range segments {
		resp.Segments = append(resp.Segments, segmentResponse{
			ID:         s.ID,
			StartByte:  s.StartByte,
			EndByte:    s.EndByte,
			Status:     string(s.Status),
			RetryCount: s.RetryCount,
			Checksum:   s.Checksum,
			LastError:  s.LastError,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandlePause pauses a running job
func (h *DownloadHandler) HandlePause(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, "pause download", h.downloads.PauseDownload)
}

// HandleResume resumes a paused or failed job
func (h *DownloadHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, "resume download", h.downloads.ResumeDownload)
}

// HandleCancel cancels a job and discards its partial data
func (h *DownloadHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, "cancel download", h.downloads.CancelDownload)
}

func (h *DownloadHandler) control(w http.ResponseWriter, r *http.Request, op string, fn func(ctx context.Context, id string) (*domain.Job, error)) {
	job, err := fn(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job))
}

// writeError maps engine errors onto HTTP status codes
func (h *DownloadHandler) writeError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("op", op), zap.Error(err))
	} else {
		h.logger.Debug("request rejected", zap.String("op", op), zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	var (
		drm      *domain.DRMProtectedError
		parse    *domain.ManifestParseError
		upstream *domain.HTTPStatusError
		network  *domain.NetworkError
	)
	switch {
	case errors.Is(err, domain.ErrJobNotFound), errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrJobTerminal), errors.Is(err, domain.ErrInvalidStateTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInsufficientSpace):
		return http.StatusInsufficientStorage
	case errors.As(err, &drm), errors.As(err, &parse), errors.Is(err, domain.ErrNoVariants):
		return http.StatusUnprocessableEntity
	case errors.As(err, &upstream), errors.As(err, &network):
		return http.StatusBadGateway
	case errors.Is(err, engine.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// parseFilter builds a JobFilter from query parameters
func parseFilter(r *http.Request) (domain.JobFilter, error) {
	q := r.URL.Query()
	filter := domain.JobFilter{
		Category:    q.Get("category"),
		ThreatLevel: q.Get("threat_level"),
		Text:        q.Get("q"),
		Tags:        q["tag"],
	}

	if v := q.Get("status"); v != "" {
		for _, part := range strings.Split(v, ",") {
			st, err := domain.ParseJobStatus(part)
			if err != nil {
				return filter, errors.New("invalid status: " + part)
			}
			filter.Statuses = append(filter.Statuses, st)
		}
	}

	for _, p := range []struct {
		key string
		dst **time.Time
	}{{"from", &filter.From}, {"to", &filter.To}} {
		if v := q.Get(p.key); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return filter, errors.New("invalid " + p.key + ": expected RFC3339")
			}
			*p.dst = &t
		}
	}

	for _, p := range []struct {
		key string
		dst *int
	}{{"limit", &filter.Limit}, {"offset", &filter.Offset}} {
		if v := q.Get(p.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return filter, errors.New("invalid " + p.key)
			}
			*p.dst = n
		}
	}

	if v := q.Get("include_deleted"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return filter, errors.New("invalid include_deleted")
		}
		filter.IncludeDeleted = b
	}

	return filter, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
