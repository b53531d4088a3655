package jobs

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/gwlsn/restreamer/internal/ffmpeg"
	"github.com/gwlsn/restreamer/internal/scheduler"
)

// Status represents the current state of a job
type Status string

const (
	StatusIdle      Status = "idle"
	StatusLive      Status = "live"
	StatusScheduled Status = "scheduled" // reserved; nothing sets it yet
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusStopping  Status = "stopping"
)

// ParseStatus maps a stored status string to a Status. Unknown values are idle.
func ParseStatus(s string) Status {
	switch st := Status(strings.ToLower(s)); st {
	case StatusIdle, StatusLive, StatusScheduled, StatusCompleted, StatusError, StatusStopping:
		return st
	}
	return StatusIdle
}

// ScheduleType selects how a live job ends
type ScheduleType string

const (
	ScheduleManual   ScheduleType = "manual"
	ScheduleDuration ScheduleType = "duration"
	ScheduleAbsolute ScheduleType = "absolute"
)

// Duration is a relative run length
type Duration struct {
	Hours   uint64 `json:"hours"`
	Minutes uint64 `json:"minutes"`
	Seconds uint64 `json:"seconds"`
}

// MaxDurationSeconds is the longest run length a time.Duration can hold.
const MaxDurationSeconds = uint64(math.MaxInt64 / int64(time.Second))

// TotalSeconds is hours*3600 + minutes*60 + seconds, saturating at
// MaxDurationSeconds.
func (d Duration) TotalSeconds() uint64 {
	if !d.inRange() {
		return MaxDurationSeconds
	}
	return d.Hours*3600 + d.Minutes*60 + d.Seconds
}

func (d Duration) inRange() bool {
	if d.Hours > MaxDurationSeconds/3600 || d.Minutes > MaxDurationSeconds/60 || d.Seconds > MaxDurationSeconds {
		return false
	}
	return d.Hours*3600+d.Minutes*60+d.Seconds <= MaxDurationSeconds
}

// Absolute is a wall-clock end time in a named zone
type Absolute struct {
	Datetime string `json:"datetime"` // YYYY-MM-DDTHH:MM
	Timezone string `json:"timezone"` // IANA name, e.g. Europe/Berlin
}

// Schedule describes when a live job should be stopped automatically
type Schedule struct {
	Type     ScheduleType `json:"type"`
	Duration *Duration    `json:"duration,omitempty"`
	Absolute *Absolute    `json:"absolute,omitempty"`
}

// ManualSchedule never stops on its own.
func ManualSchedule() Schedule {
	return Schedule{Type: ScheduleManual}
}

// Validate checks that the variant carries the data it needs.
func (s Schedule) Validate() error {
	switch s.Type {
	case ScheduleManual, "":
		return nil
	case ScheduleDuration:
		if s.Duration == nil || s.Duration.TotalSeconds() == 0 {
			return fmt.Errorf("duration schedule needs a positive length")
		}
		if !s.Duration.inRange() {
			return fmt.Errorf("duration schedule longer than %d seconds", MaxDurationSeconds)
		}
		return nil
	case ScheduleAbsolute:
		if s.Absolute == nil {
			return fmt.Errorf("absolute schedule needs datetime and timezone")
		}
		loc, err := time.LoadLocation(s.Absolute.Timezone)
		if err != nil {
			return fmt.Errorf("unknown timezone %q", s.Absolute.Timezone)
		}
		if _, err := scheduler.ParseDatetime(s.Absolute.Datetime, loc); err != nil {
			return err
		}
		return nil
	default:
		return fmt.Errorf("unknown schedule type %q", s.Type)
	}
}

// StopDelay is how long after going live the job should be stopped.
// ok is false when nothing should be armed.
func (s Schedule) StopDelay() (delay time.Duration, ok bool, err error) {
	switch s.Type {
	case ScheduleDuration:
		if s.Duration == nil || s.Duration.TotalSeconds() == 0 {
			return 0, false, nil
		}
		return time.Duration(s.Duration.TotalSeconds()) * time.Second, true, nil
	case ScheduleAbsolute:
		if s.Absolute == nil {
			return 0, false, nil
		}
		secs, err := scheduler.SecondsUntil(s.Absolute.Datetime, s.Absolute.Timezone)
		if err != nil {
			return 0, false, err
		}
		return time.Duration(secs) * time.Second, true, nil
	default:
		return 0, false, nil
	}
}

// Job is one restream: a source file pushed to a destination key
type Job struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	SourcePath         string     `json:"source_path"`
	DestinationKey     string     `json:"destination_key"`
	Status             Status     `json:"status"`
	Schedule           Schedule   `json:"schedule"`
	CreatedAt          time.Time  `json:"created_at"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	StoppedAt          *time.Time `json:"stopped_at,omitempty"`
	LastElapsedSeconds *uint64    `json:"last_elapsed_seconds,omitempty"`

	// Derived at read time, never persisted
	ElapsedSeconds *uint64       `json:"elapsed_seconds,omitempty"`
	Encoder        string        `json:"encoder,omitempty"`
	Stats          *ffmpeg.Stats `json:"stats,omitempty"`
}

// Input is what a caller supplies to create a job
type Input struct {
	Name             string     `json:"name"`
	DestinationKey   string     `json:"destination_key"`
	SourcePath       string     `json:"source_path"`
	Schedule         Schedule   `json:"schedule"`
	CreatedAt        *time.Time `json:"created_at,omitempty"`
	StartImmediately bool       `json:"start_immediately"`
}

// Validate rejects input missing required fields.
func (in Input) Validate() error {
	switch {
	case strings.TrimSpace(in.Name) == "":
		return fmt.Errorf("name is required")
	case strings.TrimSpace(in.DestinationKey) == "":
		return fmt.Errorf("destination_key is required")
	case strings.TrimSpace(in.SourcePath) == "":
		return fmt.Errorf("source_path is required")
	}
	return in.Schedule.Validate()
}

func seconds(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	return uint64(d / time.Second)
}

func ptr[T any](v T) *T {
	return &v
}
