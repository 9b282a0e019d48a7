package manifest

import (
	"bytes"
	"encoding/xml"
	"net/url"
	"strings"

	"github.com/vertextoedge/rangefetch/internal/domain"
)

type mpdDocument struct {
	XMLName  xml.Name    `xml:"MPD"`
	Type     string      `xml:"type,attr"`
	BaseURLs []string    `xml:"BaseURL"`
	Periods  []mpdPeriod `xml:"Period"`
}

type mpdPeriod struct {
	BaseURLs       []string           `xml:"BaseURL"`
	AdaptationSets []mpdAdaptationSet `xml:"AdaptationSet"`
}

type mpdAdaptationSet struct {
	MimeType          string              `xml:"mimeType,attr"`
	Codecs            string              `xml:"codecs,attr"`
	Width             int                 `xml:"width,attr"`
	Height            int                 `xml:"height,attr"`
	BaseURLs          []string            `xml:"BaseURL"`
	ContentProtection []mpdProtection     `xml:"ContentProtection"`
	Representations   []mpdRepresentation `xml:"Representation"`
}

type mpdRepresentation struct {
	ID                string          `xml:"id,attr"`
	Bandwidth         int64           `xml:"bandwidth,attr"`
	Width             int             `xml:"width,attr"`
	Height            int             `xml:"height,attr"`
	Codecs            string          `xml:"codecs,attr"`
	BaseURLs          []string        `xml:"BaseURL"`
	ContentProtection []mpdProtection `xml:"ContentProtection"`
}

type mpdProtection struct {
	SchemeIDURI string `xml:"schemeIdUri,attr"`
}

var dashSchemes = map[string]string{
	"urn:uuid:edef8ba9-79d6-4ace-a3c8-27dcd51d21ed": "widevine",
	"urn:uuid:9a04f079-9840-4286-ab92-e65be0885f95": "playready",
	"urn:uuid:94ce86fb-07ff-4f43-adb8-93d2fa968ca2": "fairplay",
	"urn:mpeg:dash:mp4protection:2011":              "cenc",
}

// ParseDASH extracts the directly addressable representations of a static
// MPEG-DASH manifest.
func ParseDASH(content []byte, manifestURL string) ([]domain.Variant, error) {
	base, err := url.Parse(manifestURL)
	if err != nil {
		return nil, &domain.ManifestParseError{URL: manifestURL, Reason: "invalid manifest URL", Err: err}
	}

	var doc mpdDocument
	dec := xml.NewDecoder(bytes.NewReader(content))
	if err := dec.Decode(&doc); err != nil {
		return nil, &domain.ManifestParseError{URL: manifestURL, Reason: "invalid MPD document", Err: err}
	}
	if strings.EqualFold(doc.Type, "dynamic") {
		return nil, &domain.ManifestParseError{URL: manifestURL, Reason: "live (dynamic) manifests are not supported"}
	}

	mpdBase, err := joinBase(base, doc.BaseURLs)
	if err != nil {
		return nil, &domain.ManifestParseError{URL: manifestURL, Reason: "bad MPD BaseURL", Err: err}
	}

	var variants []domain.Variant
	for _, period := range doc.Periods {
		periodBase, err := joinBase(mpdBase, period.BaseURLs)
		if err != nil {
			return nil, &domain.ManifestParseError{URL: manifestURL, Reason: "bad Period BaseURL", Err: err}
		}
		for _, set := range period.AdaptationSets {
			if scheme := protectionScheme(set.ContentProtection); scheme != "" {
				return nil, &domain.DRMProtectedError{Scheme: scheme}
			}
			setBase, err := joinBase(periodBase, set.BaseURLs)
			if err != nil {
				return nil, &domain.ManifestParseError{URL: manifestURL, Reason: "bad AdaptationSet BaseURL", Err: err}
			}
			for _, rep := range set.Representations {
				if scheme := protectionScheme(rep.ContentProtection); scheme != "" {
					return nil, &domain.DRMProtectedError{Scheme: scheme}
				}
				if len(rep.BaseURLs) == 0 {
					// segment-template addressing
					continue
				}
				repURL, err := joinBase(setBase, rep.BaseURLs)
				if err != nil {
					return nil, &domain.ManifestParseError{URL: manifestURL, Reason: "bad Representation BaseURL " + rep.ID, Err: err}
				}
				v := domain.Variant{
					Bandwidth: rep.Bandwidth,
					Width:     firstNonZero(rep.Width, set.Width),
					Height:    firstNonZero(rep.Height, set.Height),
					Codecs:    rep.Codecs,
					URL:       repURL.String(),
				}
				if v.Codecs == "" {
					v.Codecs = set.Codecs
				}
				variants = append(variants, v)
			}
		}
	}

	if len(variants) == 0 {
		return nil, &domain.ManifestParseError{URL: manifestURL, Reason: "no representations with a BaseURL", Err: domain.ErrNoVariants}
	}

	sortVariants(variants)
	return variants, nil
}

// joinBase resolves the first BaseURL of an element against its parent.
func joinBase(parent *url.URL, bases []string) (*url.URL, error) {
	for _, b := range bases {
		b = strings.TrimSpace(b)
		if b == "" {
			continue
		}
		ref, err := url.Parse(b)
		if err != nil {
			return nil, err
		}
		return parent.ResolveReference(ref), nil
	}
	return parent, nil
}

func protectionScheme(ps []mpdProtection) string {
	for _, p := range ps {
		uri := strings.ToLower(strings.TrimSpace(p.SchemeIDURI))
		if name, ok := dashSchemes[uri]; ok {
			return name
		}
		if uri != "" {
			return uri
		}
	}
	return ""
}

func firstNonZero(vals ...int) int {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}
	return 0
}
