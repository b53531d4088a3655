package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestSetLevel(t *testing.T) {
	Init("info", "text")

	var buf bytes.Buffer
	Log = slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: &level}))

	buf.Reset()
	Log.Debug("hidden")
	if buf.Len() > 0 {
		t.Error("debug message should not appear at info level")
	}

	SetLevel("debug")

	buf.Reset()
	Log.Debug("visible")
	if buf.Len() == 0 {
		t.Error("debug message should appear after SetLevel(debug)")
	}

	SetLevel("error")

	buf.Reset()
	Log.Info("hidden again")
	if buf.Len() > 0 {
		t.Error("info message should not appear at error level")
	}
}

func TestSetLevelInvalidFallsBackToInfo(t *testing.T) {
	Init("debug", "text")
	SetLevel("garbage")

	if Level() != slog.LevelInfo {
		t.Errorf("expected info level, got %v", Level())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestJSONFormat(t *testing.T) {
	SetLevel("info")

	var buf bytes.Buffer
	Log = slog.New(newHandler(&buf, "json"))

	Module("ffmpeg").Info("started", "job_id", "abc")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", buf.String(), err)
	}
	if rec["module"] != "ffmpeg" {
		t.Errorf("expected module=ffmpeg, got %v", rec["module"])
	}
	if rec["job_id"] != "abc" {
		t.Errorf("expected job_id=abc, got %v", rec["job_id"])
	}
}

func TestWithBeforeInit(t *testing.T) {
	Log = nil
	// Must not panic.
	With("k", "v").Info("discarded")
	Info("discarded")
}

func TestJournalFieldKeys(t *testing.T) {
	fields := map[string]string{}
	addJournalField(fields, slog.String("job_id", "x"), nil)
	addJournalField(fields, slog.Int("pid", 42), []string{"proc"})
	addJournalField(fields, slog.Group("enc", slog.String("name", "libx264")), nil)

	if fields["JOB_ID"] != "x" {
		t.Errorf("JOB_ID = %q", fields["JOB_ID"])
	}
	if fields["PROC_PID"] != "42" {
		t.Errorf("PROC_PID = %q", fields["PROC_PID"])
	}
	if !strings.EqualFold(fields["ENC_NAME"], "libx264") {
		t.Errorf("ENC_NAME = %q", fields["ENC_NAME"])
	}
}
