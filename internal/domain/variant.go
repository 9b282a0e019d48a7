package domain

import "fmt"

// Variant is one rendition advertised by an adaptive streaming manifest.
type Variant struct {
	Bandwidth int64
	Width     int
	Height    int
	Codecs    string
	URL       string
}

// Resolution returns "WxH", or an empty string when unknown.
func (v Variant) Resolution() string {
	if v.Width == 0 || v.Height == 0 {
		return ""
	}
	return fmt.Sprintf("%dx%d", v.Width, v.Height)
}

// String describes the variant for logs and the job record.
func (v Variant) String() string {
	s := fmt.Sprintf("%d bps", v.Bandwidth)
	if r := v.Resolution(); r != "" {
		s += " " + r
	}
	if v.Codecs != "" {
		s += " (" + v.Codecs + ")"
	}
	return s
}

// Classification is the classifier's verdict on a resource.
type Classification struct {
	Category         string
	ThreatLevel      string
	SuggestedActions []string
}

// Default classification used when no classifier is available.
const (
	CategoryGeneral   = "general"
	ThreatLevelSafe   = "safe"
	ThreatLevelMedium = "medium"
	ThreatLevelHigh   = "high"
)

// DefaultClassification is the graceful-degradation verdict.
func DefaultClassification() Classification {
	return Classification{Category: CategoryGeneral, ThreatLevel: ThreatLevelSafe}
}
