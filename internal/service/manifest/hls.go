package manifest

import (
	"bufio"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/vertextoedge/rangefetch/internal/domain"
)

const (
	tagHeader     = "#EXTM3U"
	tagStreamInf  = "#EXT-X-STREAM-INF:"
	tagKey        = "#EXT-X-KEY:"
	tagSessionKey = "#EXT-X-SESSION-KEY:"
	tagSegmentInf = "#EXTINF:"
)

// ParseHLS extracts the variants of an HLS master playlist.
func ParseHLS(content, manifestURL string) ([]domain.Variant, error) {
	base, err := url.Parse(manifestURL)
	if err != nil {
		return nil, &domain.ManifestParseError{URL: manifestURL, Reason: "invalid manifest URL", Err: err}
	}

	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		variants   []domain.Variant
		pending    *domain.Variant
		sawHeader  bool
		isMedia    bool
		lineNumber int
	)
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !sawHeader {
			if !strings.HasPrefix(strings.TrimPrefix(line, "\ufeff"), tagHeader) {
				return nil, &domain.ManifestParseError{URL: manifestURL, Reason: "missing #EXTM3U header"}
			}
			sawHeader = true
			continue
		}

		switch {
		case strings.HasPrefix(line, tagKey), strings.HasPrefix(line, tagSessionKey):
			if scheme := drmScheme(parseAttributes(line[strings.IndexByte(line, ':')+1:])); scheme != "" {
				return nil, &domain.DRMProtectedError{Scheme: scheme}
			}
		case strings.HasPrefix(line, tagStreamInf):
			if pending != nil {
				return nil, &domain.ManifestParseError{URL: manifestURL, Reason: fmt.Sprintf("stream without URI before line %d", lineNumber)}
			}
			v, err := parseStreamInf(line[len(tagStreamInf):])
			if err != nil {
				return nil, &domain.ManifestParseError{URL: manifestURL, Reason: fmt.Sprintf("line %d", lineNumber), Err: err}
			}
			pending = &v
		case strings.HasPrefix(line, tagSegmentInf):
			isMedia = true
		case strings.HasPrefix(line, "#"):
			// other tags and comments
		default:
			if pending == nil {
				continue
			}
			resolved, err := resolveURL(base, line)
			if err != nil {
				return nil, &domain.ManifestParseError{URL: manifestURL, Reason: fmt.Sprintf("line %d: bad variant URI", lineNumber), Err: err}
			}
			pending.URL = resolved
			variants = append(variants, *pending)
			pending = nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &domain.ManifestParseError{URL: manifestURL, Reason: "read failed", Err: err}
	}
	if !sawHeader {
		return nil, &domain.ManifestParseError{URL: manifestURL, Reason: "missing #EXTM3U header"}
	}
	if pending != nil {
		return nil, &domain.ManifestParseError{URL: manifestURL, Reason: "stream without URI at end of playlist"}
	}
	if len(variants) == 0 {
		reason := "no variant streams"
		if isMedia {
			reason = "media playlist has no variant streams"
		}
		return nil, &domain.ManifestParseError{URL: manifestURL, Reason: reason, Err: domain.ErrNoVariants}
	}

	sortVariants(variants)
	return variants, nil
}

func parseStreamInf(attrList string) (domain.Variant, error) {
	attrs := parseAttributes(attrList)
	var v domain.Variant

	bw, ok := attrs["BANDWIDTH"]
	if !ok {
		bw, ok = attrs["AVERAGE-BANDWIDTH"]
	}
	if !ok {
		return v, fmt.Errorf("missing BANDWIDTH")
	}
	n, err := strconv.ParseInt(bw, 10, 64)
	if err != nil || n < 0 {
		return v, fmt.Errorf("invalid BANDWIDTH %q", bw)
	}
	v.Bandwidth = n

	if res, ok := attrs["RESOLUTION"]; ok {
		w, h, found := strings.Cut(strings.ToLower(res), "x")
		if !found {
			return v, fmt.Errorf("invalid RESOLUTION %q", res)
		}
		if v.Width, err = strconv.Atoi(w); err != nil {
			return v, fmt.Errorf("invalid RESOLUTION %q", res)
		}
		if v.Height, err = strconv.Atoi(h); err != nil {
			return v, fmt.Errorf("invalid RESOLUTION %q", res)
		}
	}
	v.Codecs = attrs["CODECS"]
	return v, nil
}

// parseAttributes parses an HLS attribute list. Quoted values may contain
// commas; quotes are stripped.
func parseAttributes(s string) map[string]string {
	attrs := make(map[string]string)
	for len(s) > 0 {
		eq := strings.IndexByte(s, '=')
		if eq < 0 {
			break
		}
		key := strings.ToUpper(strings.TrimSpace(s[:eq]))
		s = s[eq+1:]

		var val string
		if strings.HasPrefix(s, `"`) {
			end := strings.IndexByte(s[1:], '"')
			if end < 0 {
				val, s = s[1:], ""
			} else {
				val, s = s[1:end+1], s[end+2:]
			}
			if i := strings.IndexByte(s, ','); i >= 0 {
				s = s[i+1:]
			} else {
				s = ""
			}
		} else if i := strings.IndexByte(s, ','); i >= 0 {
			val, s = s[:i], s[i+1:]
		} else {
			val, s = s, ""
		}
		attrs[key] = strings.TrimSpace(val)
	}
	return attrs
}

var hlsKeyFormats = map[string]string{
	"com.apple.streamingkeydelivery":                "fairplay",
	"urn:uuid:edef8ba9-79d6-4ace-a3c8-27dcd51d21ed": "widevine",
	"com.microsoft.playready":                       "playready",
	"urn:uuid:9a04f079-9840-4286-ab92-e65be0885f95": "playready",
}

// drmScheme returns the DRM scheme named by a key tag, or "" for clear
// content and plain AES-128 encryption.
func drmScheme(attrs map[string]string) string {
	method := strings.ToUpper(attrs["METHOD"])
	if method == "" || method == "NONE" {
		return ""
	}
	if scheme, ok := hlsKeyFormats[strings.ToLower(attrs["KEYFORMAT"])]; ok {
		return scheme
	}
	if strings.HasPrefix(method, "SAMPLE-AES") {
		return strings.ToLower(method)
	}
	return ""
}
