package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"debug", zapcore.DebugLevel, false},
		{"INFO", zapcore.InfoLevel, false},
		{"", zapcore.InfoLevel, false},
		{"warning", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"verbose", zapcore.InfoLevel, true},
	}

	for _, tt := range tests {
		got, err := parseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestInit(t *testing.T) {
	if err := Init(Options{Level: "info", Format: "text"}); err != nil {
		t.Fatalf("Init(text) error = %v", err)
	}
	if err := Init(Options{Level: "info", Format: "xml"}); err == nil {
		t.Error("Init(xml) should fail")
	}
	if err := Init(Options{Level: "loud"}); err == nil {
		t.Error("Init with bad level should fail")
	}
}

func TestInit_FileOutputAndSetLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rangefetch.log")
	if err := Init(Options{Level: "info", Format: "json", Output: path}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	Named("engine").Debug("hidden")
	if err := SetLevel("debug"); err != nil {
		t.Fatalf("SetLevel() error = %v", err)
	}
	Named("engine").Debug("segment planned")
	_ = Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	if strings.Contains(out, "hidden") {
		t.Error("debug entry written before level change")
	}
	for _, want := range []string{`"msg":"segment planned"`, `"logger":"engine"`, `"app":"rangefetch"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s: %s", want, out)
		}
	}

	if err := SetLevel("chatty"); err == nil {
		t.Error("SetLevel(chatty) should fail")
	}
}
