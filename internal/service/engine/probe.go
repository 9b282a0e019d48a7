package engine

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/vertextoedge/rangefetch/internal/domain"
)

var filenameRegex = regexp.MustCompile(`[^a-zA-Z0-9_\-\. ]+`)

// probeResult describes a resource as reported by the server
type probeResult struct {
	URL            string // after redirects
	Size           int64  // -1 when unknown
	RangeSupported bool
	ContentType    string
	Filename       string // from Content-Disposition
}

// probe asks the server for size, type and range support. HEAD is tried
// first; servers that reject it get a one-byte ranged GET instead.
func (m *Manager) probe(ctx context.Context, rawURL string, headers map[string]string, timeout time.Duration) (*probeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := m.send(ctx, http.MethodHead, rawURL, headers, "")
	if err != nil {
		return nil, err
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented:
		return m.probeWithRange(ctx, rawURL, headers)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, statusError(resp, rawURL)
	}

	res := &probeResult{
		URL:         resp.Request.URL.String(),
		Size:        resp.ContentLength,
		ContentType: resp.Header.Get("Content-Type"),
		Filename:    filenameFromDisposition(resp.Header.Get("Content-Disposition")),
	}
	res.RangeSupported = res.Size > 0 && strings.Contains(strings.ToLower(resp.Header.Get("Accept-Ranges")), "bytes")
	return res, nil
}

func (m *Manager) probeWithRange(ctx context.Context, rawURL string, headers map[string]string) (*probeResult, error) {
	resp, err := m.send(ctx, http.MethodGet, rawURL, headers, "bytes=0-0")
	if err != nil {
		return nil, err
	}
	// The body is never read; closing drops the connection for full responses
	defer resp.Body.Close()

	res := &probeResult{
		URL:         resp.Request.URL.String(),
		Size:        -1,
		ContentType: resp.Header.Get("Content-Type"),
		Filename:    filenameFromDisposition(resp.Header.Get("Content-Disposition")),
	}

	switch resp.StatusCode {
	case http.StatusPartialContent:
		cr, err := parseContentRange(resp.Header.Get("Content-Range"))
		if err == nil && cr.size >= 0 {
			res.Size = cr.size
			res.RangeSupported = cr.size > 0
		}
	case http.StatusOK:
		res.Size = resp.ContentLength
	default:
		return nil, statusError(resp, rawURL)
	}
	return res, nil
}

func (m *Manager) send(ctx context.Context, method, rawURL string, headers map[string]string, rangeHeader string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, &domain.NetworkError{Op: strings.ToLower(method), Err: err}
	}
	return resp, nil
}

func statusError(resp *http.Response, rawURL string) error {
	return &domain.HTTPStatusError{
		StatusCode: resp.StatusCode,
		URL:        rawURL,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
	}
}

// filenameFromDisposition extracts and sanitizes a Content-Disposition filename
func filenameFromDisposition(cd string) string {
	if cd == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(cd)
	if err != nil {
		return ""
	}
	// mime decodes RFC 5987 filename* into "filename"
	if fn, ok := params["filename"]; ok && fn != "" {
		return sanitizeFilename(fn)
	}
	return ""
}

func sanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	name = filenameRegex.ReplaceAllString(name, "_")
	name = strings.TrimLeft(strings.TrimSpace(name), ".")
	return name
}

// filenameFromURL returns the last path element of rawURL
func filenameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	base := path.Base(u.Path)
	if base == "/" || base == "." {
		return ""
	}
	if unescaped, err := url.PathUnescape(base); err == nil {
		base = unescaped
	}
	return sanitizeFilename(base)
}

type contentRange struct {
	start int64
	end   int64
	size  int64 // -1 for "*"
}

// parseContentRange parses "bytes start-end/size"
func parseContentRange(s string) (contentRange, error) {
	cr := contentRange{size: -1}
	rest, ok := strings.CutPrefix(strings.TrimSpace(s), "bytes ")
	if !ok {
		return cr, fmt.Errorf("invalid content-range %q", s)
	}
	span, size, ok := strings.Cut(rest, "/")
	if !ok {
		return cr, fmt.Errorf("invalid content-range %q", s)
	}
	first, last, ok := strings.Cut(span, "-")
	if !ok {
		return cr, fmt.Errorf("invalid content-range %q", s)
	}

	var err error
	if cr.start, err = strconv.ParseInt(first, 10, 64); err != nil {
		return cr, fmt.Errorf("invalid content-range start %q", s)
	}
	if cr.end, err = strconv.ParseInt(last, 10, 64); err != nil || cr.end < cr.start {
		return cr, fmt.Errorf("invalid content-range end %q", s)
	}
	if size != "*" {
		if cr.size, err = strconv.ParseInt(size, 10, 64); err != nil {
			return cr, fmt.Errorf("invalid content-range size %q", s)
		}
	}
	return cr, nil
}
