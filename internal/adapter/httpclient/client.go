package httpclient

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/vertextoedge/rangefetch/internal/port"
)

// Config contains transport settings for download requests
type Config struct {
	// ResponseHeaderTimeout bounds the wait for response headers.
	// Body reads are bounded by the engine's idle watchdog instead.
	ResponseHeaderTimeout time.Duration
	KeepAliveTimeout      time.Duration
	ProxyURL              string
	ProxyUsername         string
	ProxyPassword         string
	UserAgent             string
	Headers               map[string]string
	SkipTLSVerify         bool
	BufferSizeKB          int
}

// Client applies default headers and a tuned transport to every request
type Client struct {
	client *http.Client
	config Config
}

var _ port.HTTPClient = (*Client)(nil)

// New creates a download client
func New(cfg Config) (*Client, error) {
	if cfg.ResponseHeaderTimeout <= 0 {
		cfg.ResponseHeaderTimeout = 30 * time.Second
	}
	if cfg.KeepAliveTimeout <= 0 {
		cfg.KeepAliveTimeout = 90 * time.Second
	}
	bufferSize := 256 * 1024
	if cfg.BufferSizeKB > 0 {
		bufferSize = cfg.BufferSizeKB * 1024
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.SkipTLSVerify,
		},
		// Connection pooling
		MaxIdleConns:        200,
		MaxIdleConnsPerHost: 50,
		IdleConnTimeout:     cfg.KeepAliveTimeout,

		WriteBufferSize: bufferSize,
		ReadBufferSize:  bufferSize,

		ForceAttemptHTTP2: true,

		// Byte offsets must refer to the identity encoding
		DisableCompression: true,

		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
	}

	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		if cfg.ProxyUsername != "" {
			if cfg.ProxyPassword != "" {
				proxyURL.User = url.UserPassword(cfg.ProxyUsername, cfg.ProxyPassword)
			} else {
				proxyURL.User = url.User(cfg.ProxyUsername)
			}
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	} else {
		transport.Proxy = http.ProxyFromEnvironment
	}

	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	cfg.Headers = headers

	return &Client{
		client: &http.Client{
			Transport: transport,
			Timeout:   0, // No timeout for downloads
		},
		config: cfg,
	}, nil
}

// Do sends req. Headers already on the request take precedence over defaults.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		if c.config.UserAgent != "" {
			req.Header.Set("User-Agent", c.config.UserAgent)
		} else {
			req.Header.Set("User-Agent", "rangefetch")
		}
	}
	for k, v := range c.config.Headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	return c.client.Do(req)
}

// CloseIdleConnections releases pooled connections
func (c *Client) CloseIdleConnections() {
	c.client.CloseIdleConnections()
}
