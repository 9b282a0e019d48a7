package manifest

import (
	"errors"
	"testing"

	"github.com/vertextoedge/rangefetch/internal/domain"
)

const masterPlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-STREAM-INF:BANDWIDTH=1280000,RESOLUTION=640x360,CODECS="avc1.4d401e,mp4a.40.2"
low.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=5000000,RESOLUTION=1920x1080,CODECS="avc1.640028,mp4a.40.2"
hi.m3u8
`

func TestParseHLS_ScenarioE(t *testing.T) {
	variants, err := ParseHLS(masterPlaylist, "https://cdn.example.com/vod/master.m3u8")
	if err != nil {
		t.Fatalf("ParseHLS() error = %v", err)
	}
	if len(variants) != 2 {
		t.Fatalf("got %d variants, want 2", len(variants))
	}

	top := variants[0]
	if top.Bandwidth != 5000000 || top.Resolution() != "1920x1080" || top.URL != "https://cdn.example.com/vod/hi.m3u8" {
		t.Errorf("variants[0] = %+v", top)
	}
	if top.Codecs != "avc1.640028,mp4a.40.2" {
		t.Errorf("Codecs = %q, quoted commas must be preserved", top.Codecs)
	}
	if variants[1].Bandwidth != 1280000 || variants[1].URL != "https://cdn.example.com/vod/low.m3u8" {
		t.Errorf("variants[1] = %+v", variants[1])
	}

	chosen, err := Select(variants, Selection{})
	if err != nil || chosen.URL != "https://cdn.example.com/vod/hi.m3u8" {
		t.Errorf("Select() = %+v, %v", chosen, err)
	}
}

func TestParseHLS_Variants(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantURLs []string
	}{
		{
			name: "absolute URIs and blank lines",
			content: "#EXTM3U\n\n#EXT-X-STREAM-INF:BANDWIDTH=100\nhttps://other.example.com/a.m3u8\n" +
				"#EXT-X-STREAM-INF:BANDWIDTH=300\n\n/root/b.m3u8\n",
			wantURLs: []string{"https://h.example.com/root/b.m3u8", "https://other.example.com/a.m3u8"},
		},
		{
			name:     "comment between tag and URI",
			content:  "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=100\n# note\nsub/a.m3u8\n",
			wantURLs: []string{"https://h.example.com/live/sub/a.m3u8"},
		},
		{
			name:     "average bandwidth only",
			content:  "#EXTM3U\n#EXT-X-STREAM-INF:AVERAGE-BANDWIDTH=900\na.m3u8\n",
			wantURLs: []string{"https://h.example.com/live/a.m3u8"},
		},
		{
			name: "equal bitrates keep document order",
			content: "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=100\nfirst.m3u8\n" +
				"#EXT-X-STREAM-INF:BANDWIDTH=100\nsecond.m3u8\n",
			wantURLs: []string{"https://h.example.com/live/first.m3u8", "https://h.example.com/live/second.m3u8"},
		},
		{
			name:     "aes-128 is not drm",
			content:  "#EXTM3U\n#EXT-X-KEY:METHOD=AES-128,URI=\"key.bin\"\n#EXT-X-STREAM-INF:BANDWIDTH=1\na.m3u8\n",
			wantURLs: []string{"https://h.example.com/live/a.m3u8"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			variants, err := ParseHLS(tt.content, "https://h.example.com/live/index.m3u8")
			if err != nil {
				t.Fatalf("ParseHLS() error = %v", err)
			}
			if len(variants) != len(tt.wantURLs) {
				t.Fatalf("got %d variants, want %d", len(variants), len(tt.wantURLs))
			}
			for i, v := range variants {
				if v.URL != tt.wantURLs[i] {
					t.Errorf("variants[%d].URL = %q, want %q", i, v.URL, tt.wantURLs[i])
				}
			}
		})
	}
}

func TestParseHLS_Errors(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		wantDRM   bool
		wantNoVar bool
	}{
		{name: "missing header", content: "#EXT-X-STREAM-INF:BANDWIDTH=1\na.m3u8\n"},
		{name: "empty", content: ""},
		{name: "stream without uri at end", content: "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1\n"},
		{name: "two tags in a row", content: "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1\n#EXT-X-STREAM-INF:BANDWIDTH=2\nb.m3u8\n"},
		{name: "missing bandwidth", content: "#EXTM3U\n#EXT-X-STREAM-INF:RESOLUTION=1x1\na.m3u8\n"},
		{name: "bad resolution", content: "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1,RESOLUTION=wide\na.m3u8\n"},
		{name: "media playlist", content: "#EXTM3U\n#EXT-X-TARGETDURATION:10\n#EXTINF:10,\nseg0.ts\n#EXT-X-ENDLIST\n", wantNoVar: true},
		{name: "sample-aes", content: "#EXTM3U\n#EXT-X-KEY:METHOD=SAMPLE-AES,URI=\"skd://x\"\n#EXT-X-STREAM-INF:BANDWIDTH=1\na.m3u8\n", wantDRM: true},
		{name: "widevine session key", content: "#EXTM3U\n#EXT-X-SESSION-KEY:METHOD=SAMPLE-AES-CTR,KEYFORMAT=\"urn:uuid:edef8ba9-79d6-4ace-a3c8-27dcd51d21ed\",URI=\"data:x\"\n#EXT-X-STREAM-INF:BANDWIDTH=1\na.m3u8\n", wantDRM: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseHLS(tt.content, "https://h.example.com/x.m3u8")
			if err == nil {
				t.Fatal("ParseHLS() should fail")
			}
			var drm *domain.DRMProtectedError
			if got := errors.As(err, &drm); got != tt.wantDRM {
				t.Fatalf("DRM error = %v, want %v (err %v)", got, tt.wantDRM, err)
			}
			if tt.wantDRM {
				return
			}
			var mpe *domain.ManifestParseError
			if !errors.As(err, &mpe) {
				t.Fatalf("error %v is not a ManifestParseError", err)
			}
			if tt.wantNoVar && !errors.Is(err, domain.ErrNoVariants) {
				t.Errorf("error %v should wrap ErrNoVariants", err)
			}
		})
	}
}

func TestParseAttributes(t *testing.T) {
	got := parseAttributes(`BANDWIDTH=800000,CODECS="avc1.4d401f,mp4a.40.2",RESOLUTION=1280x720,NAME="a=b"`)
	want := map[string]string{
		"BANDWIDTH":  "800000",
		"CODECS":     "avc1.4d401f,mp4a.40.2",
		"RESOLUTION": "1280x720",
		"NAME":       "a=b",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("attr %s = %q, want %q", k, got[k], v)
		}
	}
	if len(got) != len(want) {
		t.Errorf("parsed %d attributes, want %d: %v", len(got), len(want), got)
	}
}
