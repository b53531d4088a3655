package ffmpeg

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// ParseLogLevel extracts the log level from ffmpeg output.
// With -loglevel level+... ffmpeg prefixes lines with "[info] message" or
// "[component @ 0x...] [level] message". Lines without a level are info,
// except -stats progress lines which are debug.
func ParseLogLevel(line string) (level, msg string) {
	level, msg = parseLevelPrefix(line)
	if level == "info" && isProgress(msg) {
		level = "debug"
	}
	return level, msg
}

func isProgress(line string) bool {
	return strings.HasPrefix(line, "frame=") || strings.HasPrefix(line, "size=")
}

func parseLevelPrefix(line string) (level, msg string) {
	if len(line) < 3 || line[0] != '[' {
		return "info", line
	}

	end := strings.Index(line, "] ")
	if end == -1 {
		return "info", line
	}

	bracket := line[1:end]
	if isLogLevel(bracket) {
		return bracket, line[end+2:]
	}

	// [component @ 0x...] [level] message: keep the component, strip the level
	component := line[:end+2]
	rest := line[end+2:]
	if len(rest) > 2 && rest[0] == '[' {
		if nextEnd := strings.Index(rest, "] "); nextEnd != -1 {
			if next := rest[1:nextEnd]; isLogLevel(next) {
				return next, component + rest[nextEnd+2:]
			}
		}
	}

	return "info", line
}

func isLogLevel(s string) bool {
	switch s {
	case "quiet", "panic", "fatal", "error", "warning", "info", "verbose", "debug", "trace":
		return true
	}
	return false
}

// lineLogger is an io.Writer that splits process output into lines
// (on \n or the \r ffmpeg uses for progress) and logs each one.
type lineLogger struct {
	logger  *slog.Logger
	onStats func(Stats)
	mu      sync.Mutex
	buf     []byte
}

func newLineLogger(logger *slog.Logger, onStats func(Stats)) *lineLogger {
	return &lineLogger{logger: logger, onStats: onStats}
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf = append(l.buf, p...)
	for {
		i := bytes.IndexAny(l.buf, "\r\n")
		if i < 0 {
			break
		}
		l.emit(string(l.buf[:i]))
		l.buf = l.buf[i+1:]
	}
	// Bound a pathological line with no terminator.
	if len(l.buf) > 64*1024 {
		l.emit(string(l.buf))
		l.buf = l.buf[:0]
	}
	return len(p), nil
}

// Flush logs any trailing partial line.
func (l *lineLogger) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.buf) > 0 {
		l.emit(string(l.buf))
		l.buf = l.buf[:0]
	}
}

func (l *lineLogger) emit(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	level, msg := ParseLogLevel(line)
	if l.onStats != nil {
		if s, ok := ParseStatsLine(msg); ok {
			s.UpdatedAt = time.Now()
			l.onStats(s)
		}
	}
	switch level {
	case "panic", "fatal", "error":
		l.logger.Error(msg)
	case "warning":
		l.logger.Warn(msg)
	case "debug", "trace", "verbose":
		l.logger.Debug(msg)
	default:
		l.logger.Info(msg)
	}
}
