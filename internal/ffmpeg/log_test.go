package ffmpeg

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		line      string
		wantLevel string
		wantMsg   string
	}{
		{"[error] Connection refused", "error", "Connection refused"},
		{"[warning] Past duration too large", "warning", "Past duration too large"},
		{"[flv @ 0x55d1] [error] Failed to update header", "error", "[flv @ 0x55d1] Failed to update header"},
		{"plain output", "info", "plain output"},
		{"[flv @ 0x55d1] no level here", "info", "[flv @ 0x55d1] no level here"},
		{"frame=  10 fps=30", "debug", "frame=  10 fps=30"},
		{"[info] frame=  10 fps=30", "debug", "frame=  10 fps=30"},
		{"[info] Stream mapping:", "info", "Stream mapping:"},
		{"[x", "info", "[x"},
	}
	for _, tt := range tests {
		level, msg := ParseLogLevel(tt.line)
		if level != tt.wantLevel || msg != tt.wantMsg {
			t.Errorf("ParseLogLevel(%q) = (%q, %q), want (%q, %q)", tt.line, level, msg, tt.wantLevel, tt.wantMsg)
		}
	}
}

func TestLineLoggerSplitsOnCRAndLF(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	var got []Stats
	l := newLineLogger(log, func(s Stats) { got = append(got, s) })

	l.Write([]byte("[error] first"))
	if strings.Contains(buf.String(), "first") {
		t.Fatal("partial line should be buffered")
	}
	l.Write([]byte("\nframe=  30 fps= 30 speed=1.0x\rframe=  60 fps= 30 speed=1.0x\r"))
	l.Write([]byte("tail"))
	l.Flush()

	out := buf.String()
	if !strings.Contains(out, "level=ERROR msg=first") {
		t.Errorf("expected error record, got %q", out)
	}
	if !strings.Contains(out, "tail") {
		t.Errorf("Flush should emit trailing text, got %q", out)
	}
	if len(got) != 2 || got[1].Frame != 60 {
		t.Fatalf("expected two stats reports ending at frame 60, got %+v", got)
	}
	if time.Since(got[1].UpdatedAt) > time.Minute {
		t.Error("UpdatedAt not set")
	}
}

func TestLineLoggerLevelPrefixedOutput(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))

	var got []Stats
	l := newLineLogger(log, func(s Stats) { got = append(got, s) })

	// Output as produced under -loglevel level+warning.
	l.Write([]byte("[rtmp @ 0x5581] [error] Cannot open connection tcp://a.rtmp.youtube.com:1935\n"))
	l.Write([]byte("[warning] Past duration 0.99 too large\n"))
	l.Write([]byte("[info] frame=  90 fps= 30 time=00:00:03.00 speed=1.01x\r"))

	out := buf.String()
	if !strings.Contains(out, "level=ERROR") || !strings.Contains(out, "Cannot open connection") {
		t.Errorf("expected error record at warn threshold, got %q", out)
	}
	if !strings.Contains(out, "level=WARN") {
		t.Errorf("expected warning record, got %q", out)
	}
	if strings.Contains(out, "frame=") {
		t.Errorf("progress line should log at debug, got %q", out)
	}
	if len(got) != 1 || got[0].Frame != 90 || got[0].Time != 3*time.Second {
		t.Fatalf("expected one stats report at frame 90, got %+v", got)
	}
}
