package engine

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// origin is a test file server with range support and fault injection
type origin struct {
	content []byte

	noHead       bool // HEAD answers 405
	noRanges     bool // no Accept-Ranges, Range headers ignored
	ignoreRanges bool // advertises ranges but always answers 200
	chunked      bool // no Content-Length
	chunkDelay   time.Duration

	// status, truncate and block are consulted per GET with the requested
	// range start and the 1-based attempt number for that start
	status   func(start int64, attempt int) int
	truncate func(start int64, attempt int) bool
	block    func(start int64, attempt int) bool
	gate     chan struct{}

	mu          sync.Mutex
	gets        map[int64]int
	getHeaders  []http.Header
	inflight    int
	maxInflight int
	blocked     int
}

func newOrigin(content []byte) *origin {
	return &origin{
		content: content,
		gets:    make(map[int64]int),
		gate:    make(chan struct{}),
	}
}

func (o *origin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	size := int64(len(o.content))

	if r.Method == http.MethodHead {
		if o.noHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !o.chunked {
			w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		}
		if !o.noRanges {
			w.Header().Set("Accept-Ranges", "bytes")
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		return
	}

	start, end, ranged := o.parseRange(r.Header.Get("Range"))
	attempt := o.begin(start, r.Header.Clone())
	// the request stops counting as in flight before its last bytes go
	// out, so a client reusing its slot never overlaps it
	var once sync.Once
	finish := func() { once.Do(o.end) }
	defer finish()

	if o.status != nil {
		if code := o.status(start, attempt); code != 0 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(code)
			return
		}
	}

	body := o.content
	if ranged {
		body = o.content[start : end+1]
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	}
	if !o.chunked {
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	}
	if ranged {
		w.WriteHeader(http.StatusPartialContent)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	if o.truncate != nil && o.truncate(start, attempt) {
		w.Write(body[:len(body)/2])
		w.(http.Flusher).Flush()
		panic(http.ErrAbortHandler)
	}

	blocking := o.block != nil && o.block(start, attempt)
	o.stream(w, r, body, blocking, finish)
}

func (o *origin) stream(w http.ResponseWriter, r *http.Request, body []byte, blocking bool, last func()) {
	const chunk = 32 * 1024
	for off := 0; off < len(body); off += chunk {
		n := min(chunk, len(body)-off)
		if off+n == len(body) {
			last()
		}
		if _, err := w.Write(body[off : off+n]); err != nil {
			return
		}
		w.(http.Flusher).Flush()

		if blocking {
			blocking = false
			o.mu.Lock()
			o.blocked++
			o.mu.Unlock()
			select {
			case <-o.gate:
			case <-r.Context().Done():
				return
			}
		}
		if o.chunkDelay > 0 && off+n < len(body) {
			time.Sleep(o.chunkDelay)
		}
		if r.Context().Err() != nil {
			return
		}
	}
}

func (o *origin) parseRange(h string) (start, end int64, ranged bool) {
	size := int64(len(o.content))
	if h == "" || o.noRanges || o.ignoreRanges {
		return 0, size - 1, false
	}
	rng, ok := strings.CutPrefix(h, "bytes=")
	if !ok {
		return 0, size - 1, false
	}
	first, last, _ := strings.Cut(rng, "-")
	start, _ = strconv.ParseInt(first, 10, 64)
	end = size - 1
	if last != "" {
		end, _ = strconv.ParseInt(last, 10, 64)
	}
	if end > size-1 {
		end = size - 1
	}
	return start, end, true
}

func (o *origin) begin(start int64, h http.Header) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.gets[start]++
	o.getHeaders = append(o.getHeaders, h)
	o.inflight++
	if o.inflight > o.maxInflight {
		o.maxInflight = o.inflight
	}
	return o.gets[start]
}

func (o *origin) end() {
	o.mu.Lock()
	o.inflight--
	o.mu.Unlock()
}

func (o *origin) getsFor(start int64) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.gets[start]
}

// headerValues returns the value of name on every GET received so far
func (o *origin) headerValues(name string) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.getHeaders))
	for _, h := range o.getHeaders {
		out = append(out, h.Get(name))
	}
	return out
}

func (o *origin) totalGets() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	total := 0
	for _, n := range o.gets {
		total += n
	}
	return total
}

func (o *origin) peakInflight() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.maxInflight
}

func (o *origin) blockedCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.blocked
}

// testContent returns n deterministic, non-repeating-looking bytes
func testContent(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte((i*7 + i/251) % 256)
	}
	return b
}
