package manifest

import (
	"errors"
	"testing"

	"github.com/vertextoedge/rangefetch/internal/domain"
)

const staticMPD = `<?xml version="1.0" encoding="UTF-8"?>
<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" type="static" mediaPresentationDuration="PT60S">
  <BaseURL>https://media.example.com/title/</BaseURL>
  <Period>
    <AdaptationSet mimeType="video/mp4" codecs="avc1.640028">
      <BaseURL>video/</BaseURL>
      <Representation id="v1" bandwidth="800000" width="640" height="360">
        <BaseURL>360p.mp4</BaseURL>
      </Representation>
      <Representation id="v2" bandwidth="4000000" width="1920" height="1080" codecs="avc1.64002a">
        <BaseURL>1080p.mp4</BaseURL>
      </Representation>
      <Representation id="v3" bandwidth="9000000" width="3840" height="2160">
        <SegmentTemplate media="$Number$.m4s"/>
      </Representation>
    </AdaptationSet>
    <AdaptationSet mimeType="audio/mp4" codecs="mp4a.40.2">
      <Representation id="a1" bandwidth="128000">
        <BaseURL>https://audio.example.com/a.mp4</BaseURL>
      </Representation>
    </AdaptationSet>
  </Period>
</MPD>`

func TestParseDASH(t *testing.T) {
	variants, err := ParseDASH([]byte(staticMPD), "https://origin.example.com/manifests/title.mpd")
	if err != nil {
		t.Fatalf("ParseDASH() error = %v", err)
	}

	want := []domain.Variant{
		{Bandwidth: 4000000, Width: 1920, Height: 1080, Codecs: "avc1.64002a", URL: "https://media.example.com/title/video/1080p.mp4"},
		{Bandwidth: 800000, Width: 640, Height: 360, Codecs: "avc1.640028", URL: "https://media.example.com/title/video/360p.mp4"},
		{Bandwidth: 128000, Codecs: "mp4a.40.2", URL: "https://audio.example.com/a.mp4"},
	}
	if len(variants) != len(want) {
		t.Fatalf("got %d variants, want %d: %+v", len(variants), len(want), variants)
	}
	for i := range want {
		if variants[i] != want[i] {
			t.Errorf("variants[%d] = %+v, want %+v", i, variants[i], want[i])
		}
	}
}

func TestParseDASH_RelativeToManifest(t *testing.T) {
	doc := `<MPD type="static"><Period><AdaptationSet>
<Representation bandwidth="10"><BaseURL>files/a.mp4</BaseURL></Representation>
</AdaptationSet></Period></MPD>`
	variants, err := ParseDASH([]byte(doc), "https://h.example.com/m/x.mpd")
	if err != nil {
		t.Fatalf("ParseDASH() error = %v", err)
	}
	if variants[0].URL != "https://h.example.com/m/files/a.mp4" {
		t.Errorf("URL = %q", variants[0].URL)
	}
}

func TestParseDASH_Errors(t *testing.T) {
	tests := []struct {
		name       string
		doc        string
		wantScheme string
	}{
		{name: "not xml", doc: "#EXTM3U"},
		{name: "live", doc: `<MPD type="dynamic"><Period/></MPD>`},
		{name: "template only", doc: `<MPD><Period><AdaptationSet><Representation bandwidth="1"><SegmentTemplate/></Representation></AdaptationSet></Period></MPD>`},
		{
			name:       "widevine on adaptation set",
			doc:        `<MPD><Period><AdaptationSet><ContentProtection schemeIdUri="urn:uuid:EDEF8BA9-79D6-4ACE-A3C8-27DCD51D21ED"/><Representation bandwidth="1"><BaseURL>a.mp4</BaseURL></Representation></AdaptationSet></Period></MPD>`,
			wantScheme: "widevine",
		},
		{
			name:       "cenc on representation",
			doc:        `<MPD><Period><AdaptationSet><Representation bandwidth="1"><ContentProtection schemeIdUri="urn:mpeg:dash:mp4protection:2011"/><BaseURL>a.mp4</BaseURL></Representation></AdaptationSet></Period></MPD>`,
			wantScheme: "cenc",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDASH([]byte(tt.doc), "https://h.example.com/x.mpd")
			if err == nil {
				t.Fatal("ParseDASH() should fail")
			}
			var drm *domain.DRMProtectedError
			if tt.wantScheme != "" {
				if !errors.As(err, &drm) || drm.Scheme != tt.wantScheme {
					t.Fatalf("error = %v, want DRM scheme %s", err, tt.wantScheme)
				}
				return
			}
			var mpe *domain.ManifestParseError
			if !errors.As(err, &mpe) {
				t.Fatalf("error %v is not a ManifestParseError", err)
			}
		})
	}
}
