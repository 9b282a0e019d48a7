package port

import (
	"context"

	"github.com/vertextoedge/rangefetch/internal/domain"
)

// Classifier assigns a category and threat level to a resource
type Classifier interface {
	Classify(ctx context.Context, rawURL, filename, contentType string) (domain.Classification, error)
}
