package manifest

import (
	"fmt"
	"sort"

	"github.com/vertextoedge/rangefetch/internal/domain"
)

// Selection picks a variant. Index is 1-based in bitrate-descending order
// and wins over MaxBandwidth; the zero value picks the highest bitrate.
type Selection struct {
	Index        int
	MaxBandwidth int64
}

func sortVariants(v []domain.Variant) {
	sort.SliceStable(v, func(i, j int) bool {
		return v[i].Bandwidth > v[j].Bandwidth
	})
}

// Select returns the chosen variant from a list sorted by bitrate descending.
func Select(variants []domain.Variant, sel Selection) (domain.Variant, error) {
	if len(variants) == 0 {
		return domain.Variant{}, domain.ErrNoVariants
	}
	if sel.Index < 0 || sel.Index > len(variants) {
		return domain.Variant{}, fmt.Errorf("%w: variant %d out of range (%d variants)", domain.ErrInvalidInput, sel.Index, len(variants))
	}
	if sel.Index > 0 {
		return variants[sel.Index-1], nil
	}
	if sel.MaxBandwidth > 0 {
		for _, v := range variants {
			if v.Bandwidth <= sel.MaxBandwidth {
				return v, nil
			}
		}
		// nothing fits, fall back to the lowest
		return variants[len(variants)-1], nil
	}
	return variants[0], nil
}
