package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/gwlsn/restreamer/internal/jobs"
)

func TestScheduleFromFlags(t *testing.T) {
	sched, err := scheduleFromFlags(0, "", "UTC")
	if err != nil || sched.Type != jobs.ScheduleManual {
		t.Errorf("expected manual, got %+v (%v)", sched, err)
	}

	sched, err = scheduleFromFlags(90*time.Minute+5*time.Second, "", "UTC")
	if err != nil {
		t.Fatalf("duration: %v", err)
	}
	if sched.Type != jobs.ScheduleDuration || *sched.Duration != (jobs.Duration{Hours: 1, Minutes: 30, Seconds: 5}) {
		t.Errorf("unexpected duration schedule: %+v", sched.Duration)
	}

	sched, err = scheduleFromFlags(0, "2030-01-02T03:04", "Europe/Berlin")
	if err != nil {
		t.Fatalf("until: %v", err)
	}
	if sched.Type != jobs.ScheduleAbsolute || sched.Absolute.Timezone != "Europe/Berlin" {
		t.Errorf("unexpected absolute schedule: %+v", sched.Absolute)
	}

	if _, err := scheduleFromFlags(500*time.Millisecond, "", "UTC"); err == nil {
		t.Error("expected error for sub-second duration")
	}
	if _, err := scheduleFromFlags(-time.Second, "", "UTC"); err == nil {
		t.Error("expected error for negative duration")
	}
}

func TestPrintJobTable(t *testing.T) {
	elapsed := uint64(65)
	var buf bytes.Buffer
	printJobTable(&buf, []*jobs.Job{{
		ID:             "abc",
		Name:           "Lofi",
		Status:         jobs.StatusLive,
		Schedule:       jobs.ManualSchedule(),
		ElapsedSeconds: &elapsed,
		Encoder:        "libx264",
	}})

	out := buf.String()
	for _, want := range []string{"ID", "abc", "Lofi", "live", "manual", "1m5s", "libx264"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetArgs([]string{"version"})

	if err := root.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(buf.String(), "restreamer dev") {
		t.Errorf("unexpected version output %q", buf.String())
	}
}
