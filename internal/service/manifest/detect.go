// Package manifest discovers the variants advertised by HLS and DASH
// manifests and picks the one to download.
package manifest

import (
	"mime"
	"net/url"
	"path"
	"strings"
)

// Kind identifies a manifest format.
type Kind int

// Manifest kinds
const (
	KindNone Kind = iota
	KindHLS
	KindDASH
)

func (k Kind) String() string {
	switch k {
	case KindHLS:
		return "hls"
	case KindDASH:
		return "dash"
	}
	return "none"
}

var contentTypes = map[string]Kind{
	"application/vnd.apple.mpegurl": KindHLS,
	"application/x-mpegurl":         KindHLS,
	"audio/mpegurl":                 KindHLS,
	"audio/x-mpegurl":               KindHLS,
	"application/dash+xml":          KindDASH,
}

// Detect classifies a resource by content type, falling back to the URL
// path extension.
func Detect(rawURL, contentType string) Kind {
	if contentType != "" {
		if mt, _, err := mime.ParseMediaType(contentType); err == nil {
			if k, ok := contentTypes[strings.ToLower(mt)]; ok {
				return k
			}
		}
	}

	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".m3u8", ".m3u":
		return KindHLS
	case ".mpd":
		return KindDASH
	}
	return KindNone
}

// sniff guesses the format from the first bytes of a body.
func sniff(body []byte) Kind {
	s := strings.TrimSpace(strings.TrimPrefix(string(body), "\ufeff"))
	switch {
	case strings.HasPrefix(s, "#EXTM3U"):
		return KindHLS
	case strings.HasPrefix(s, "<?xml"), strings.HasPrefix(s, "<MPD"):
		if strings.Contains(s, "<MPD") {
			return KindDASH
		}
	}
	return KindNone
}

func resolveURL(base *url.URL, ref string) (string, error) {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref, nil
	}
	rel, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(rel).String(), nil
}
