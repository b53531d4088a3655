package ffmpeg

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

// Stats is the most recent -stats progress report from a running encoder
type Stats struct {
	Frame     int64         `json:"frame"`
	FPS       float64       `json:"fps"`
	Bitrate   float64       `json:"bitrate"` // kbits/s
	Speed     float64       `json:"speed"`   // 1.0 = realtime
	Time      time.Duration `json:"time"`    // output position
	UpdatedAt time.Time     `json:"updated_at"`
}

// ParseStatsLine parses a progress line such as
// "frame=  120 fps= 30 q=23.0 size=  512kB time=00:00:04.00 bitrate=1048.6kbits/s speed=1.00x".
// ok is false for lines that are not progress reports.
func ParseStatsLine(line string) (s Stats, ok bool) {
	if !strings.HasPrefix(line, "frame=") && !strings.HasPrefix(line, "size=") {
		return s, false
	}

	// Normalise "key=  value" to "key=value" so Fields splits cleanly.
	for strings.Contains(line, "= ") {
		line = strings.ReplaceAll(line, "= ", "=")
	}

	for _, field := range strings.Fields(line) {
		key, value, found := strings.Cut(field, "=")
		if !found || value == "N/A" {
			continue
		}
		switch key {
		case "frame":
			s.Frame, _ = strconv.ParseInt(value, 10, 64)
		case "fps":
			s.FPS, _ = strconv.ParseFloat(value, 64)
		case "bitrate":
			s.Bitrate, _ = strconv.ParseFloat(strings.TrimSuffix(value, "kbits/s"), 64)
		case "speed":
			s.Speed, _ = strconv.ParseFloat(strings.TrimSuffix(value, "x"), 64)
		case "time":
			s.Time = parseClock(value)
		}
	}
	return s, true
}

// parseClock parses HH:MM:SS.ss
func parseClock(v string) time.Duration {
	parts := strings.Split(v, ":")
	if len(parts) != 3 {
		return 0
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	sec, err3 := strconv.ParseFloat(parts[2], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec*float64(time.Second))
}

// statsBox holds the latest Stats for a process.
type statsBox struct {
	mu sync.RWMutex
	s  Stats
}

func (b *statsBox) set(s Stats) {
	b.mu.Lock()
	b.s = s
	b.mu.Unlock()
}

func (b *statsBox) get() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.s
}
