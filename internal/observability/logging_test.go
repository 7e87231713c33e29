package observability

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"loud", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tc := range cases {
		if got := parseLevel(tc.in); got != tc.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestPrettyHandlerOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewPrettyHandler(&buf, nil))

	logger.Info("blob pushed", "id", "blob-1")

	line := buf.String()
	if !strings.Contains(line, "INF") {
		t.Errorf("missing level tag: %q", line)
	}
	if !strings.Contains(line, "blob pushed") {
		t.Errorf("missing message: %q", line)
	}
	if !strings.Contains(line, "id") || !strings.Contains(line, "blob-1") {
		t.Errorf("missing attr: %q", line)
	}
}

func TestPrettyHandlerGroups(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewPrettyHandler(&buf, nil)).
		With("app", "filetool").
		WithGroup("blob")

	logger.Warn("slow push", "id", "blob-1")

	line := buf.String()
	if !strings.Contains(line, "app") {
		t.Errorf("bound attr lost: %q", line)
	}
	if strings.Contains(line, "blob.app") {
		t.Errorf("pre-group attr picked up the group prefix: %q", line)
	}
	if !strings.Contains(line, "blob.id") {
		t.Errorf("group prefix missing from record attr: %q", line)
	}
}

func TestPrettyHandlerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	h := NewPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})
	logger := slog.New(h)

	logger.Info("quiet")
	if buf.Len() != 0 {
		t.Errorf("info line emitted below the warn threshold: %q", buf.String())
	}
	logger.Error("loud")
	if buf.Len() == 0 {
		t.Error("error line suppressed")
	}
}

func TestSetupLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupLogger("debug", "json", &buf)

	logger.Info("structured", "id", "blob-1")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if rec["msg"] != "structured" || rec["id"] != "blob-1" {
		t.Errorf("record = %v", rec)
	}
}
