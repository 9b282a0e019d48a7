package engine

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// backoffDelay returns min(base * 2^(retryCount-1), max). A server-provided
// retryAfter is honoured as the minimum delay.
func backoffDelay(retryCount int, base, max, retryAfter time.Duration) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	delay := base
	for i := 1; i < retryCount && delay < max; i++ {
		delay *= 2
	}
	if delay > max {
		delay = max
	}
	if retryAfter > delay {
		delay = retryAfter
	}
	return delay
}

// parseRetryAfter reads a Retry-After header in seconds or HTTP-date form
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
