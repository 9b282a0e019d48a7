package manifest

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/vertextoedge/rangefetch/internal/domain"
	"github.com/vertextoedge/rangefetch/internal/port"
)

// DefaultMaxSize caps manifest bodies when no limit is configured.
const DefaultMaxSize = 8 << 20

// Resolver fetches and parses manifests.
type Resolver struct {
	client  port.HTTPClient
	maxSize int64
	logger  *zap.Logger
}

// NewResolver creates a Resolver. maxSize <= 0 uses DefaultMaxSize.
func NewResolver(client port.HTTPClient, maxSize int64, logger *zap.Logger) *Resolver {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{client: client, maxSize: maxSize, logger: logger}
}

// Resolve downloads the manifest at manifestURL and returns its variants,
// sorted by bitrate descending. kind may be KindNone to sniff the body.
func (r *Resolver) Resolve(ctx context.Context, manifestURL string, kind Kind, headers map[string]string) ([]domain.Variant, error) {
	body, err := r.fetch(ctx, manifestURL, headers)
	if err != nil {
		return nil, err
	}
	if kind == KindNone {
		kind = sniff(body)
	}

	var variants []domain.Variant
	switch kind {
	case KindHLS:
		variants, err = ParseHLS(string(body), manifestURL)
	case KindDASH:
		variants, err = ParseDASH(body, manifestURL)
	default:
		return nil, &domain.ManifestParseError{URL: manifestURL, Reason: "unrecognised manifest format"}
	}
	if err != nil {
		return nil, err
	}

	r.logger.Debug("resolved manifest",
		zap.String("url", manifestURL),
		zap.String("kind", kind.String()),
		zap.Int("variants", len(variants)),
	)
	return variants, nil
}

func (r *Resolver) fetch(ctx context.Context, manifestURL string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &domain.NetworkError{Op: "fetch manifest", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &domain.HTTPStatusError{StatusCode: resp.StatusCode, URL: manifestURL}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, r.maxSize+1))
	if err != nil {
		return nil, &domain.NetworkError{Op: "read manifest", Err: err}
	}
	if int64(len(body)) > r.maxSize {
		return nil, &domain.ManifestParseError{URL: manifestURL, Reason: fmt.Sprintf("manifest larger than %d bytes", r.maxSize)}
	}
	return body, nil
}
