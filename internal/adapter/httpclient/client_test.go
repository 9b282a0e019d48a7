package httpclient

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClient_Do_AppliesDefaults(t *testing.T) {
	var gotUA, gotAuth, gotCustom, gotEncoding string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAuth = r.Header.Get("Authorization")
		gotCustom = r.Header.Get("X-Custom")
		gotEncoding = r.Header.Get("Accept-Encoding")
	}))
	defer srv.Close()

	c, err := New(Config{
		UserAgent: "rangefetch-test/1.0",
		Headers:   map[string]string{"Authorization": "Bearer default", "X-Custom": "yes"},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.CloseIdleConnections()

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("Authorization", "Bearer job")
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	resp.Body.Close()

	if gotUA != "rangefetch-test/1.0" {
		t.Errorf("User-Agent = %q", gotUA)
	}
	if gotAuth != "Bearer job" {
		t.Errorf("request header overridden by default: %q", gotAuth)
	}
	if gotCustom != "yes" {
		t.Errorf("default header missing: %q", gotCustom)
	}
	if gotEncoding != "" {
		t.Errorf("transport requested compression: %q", gotEncoding)
	}
}

func TestNew_InvalidProxy(t *testing.T) {
	if _, err := New(Config{ProxyURL: "://bad"}); err == nil {
		t.Error("New() with invalid proxy should fail")
	}
}
