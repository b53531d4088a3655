package jobs

import (
	"time"

	"github.com/gwlsn/restreamer/internal/ffmpeg"
)

// Process is a running encoder as the manager sees it.
type Process interface {
	// Running never blocks.
	Running() bool
	Elapsed() time.Duration
	// Stop returns once the process has exited or been given up on.
	Stop() error
	Encoder() string
	Stats() ffmpeg.Stats
}

// Launcher starts encoder processes.
type Launcher interface {
	Launch(jobID, sourcePath, destinationKey string) (Process, error)
}

// NewFFmpegLauncher adapts an ffmpeg.Launcher to the Launcher interface.
func NewFFmpegLauncher(l *ffmpeg.Launcher) Launcher {
	return ffmpegLauncher{l: l}
}

type ffmpegLauncher struct {
	l *ffmpeg.Launcher
}

func (f ffmpegLauncher) Launch(jobID, sourcePath, destinationKey string) (Process, error) {
	p, err := f.l.Launch(jobID, sourcePath, destinationKey)
	if err != nil {
		return nil, err
	}
	return ffmpegProcess{p}, nil
}

type ffmpegProcess struct {
	*ffmpeg.Process
}

func (p ffmpegProcess) Encoder() string {
	return p.Process.Encoder().Encoder
}
