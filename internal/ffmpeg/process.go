package ffmpeg

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/gwlsn/restreamer/internal/logger"
)

var (
	// ErrVideoNotFound means the source file does not exist. No process is spawned.
	ErrVideoNotFound = errors.New("video file not found")
	// ErrSpawn means every encoder variant failed to start.
	ErrSpawn = errors.New("failed to spawn ffmpeg")
)

const (
	// DefaultGracefulTimeout is how long Stop waits after the termination request.
	DefaultGracefulTimeout = 3 * time.Second
	// DefaultKillTimeout is how long Stop waits after the forced kill.
	DefaultKillTimeout = 3 * time.Second
)

// Launcher spawns restream encoder processes.
type Launcher struct {
	FFmpegPath  string
	IngestURL   string
	VAAPIDevice string

	// Variants is the try-order. Empty means HostCandidates(nil).
	Variants []Variant

	GracefulTimeout time.Duration
	KillTimeout     time.Duration
}

// Launch starts an encoder looping sourcePath to IngestURL+destinationKey.
// Variants are tried in order; a variant that fails to spawn falls through
// to the next one.
func (l *Launcher) Launch(jobID, sourcePath, destinationKey string) (*Process, error) {
	if _, err := os.Stat(sourcePath); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrVideoNotFound, sourcePath)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrVideoNotFound, sourcePath, err)
	}

	variants := l.Variants
	if len(variants) == 0 {
		variants = HostCandidates(nil)
	}

	log := logger.With("job_id", jobID)
	var lastErr error
	for _, v := range variants {
		p, err := l.spawn(jobID, v, sourcePath, destinationKey)
		if err == nil {
			log.Info("Encoder started", "encoder", v.Encoder, "pid", p.PID())
			return p, nil
		}
		log.Warn("Encoder failed to spawn, trying next", "encoder", v.Encoder, "error", err)
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("no encoder variants configured")
	}
	return nil, fmt.Errorf("%w: %v", ErrSpawn, lastErr)
}

func (l *Launcher) spawn(jobID string, v Variant, sourcePath, destinationKey string) (*Process, error) {
	ffmpegPath := l.FFmpegPath
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	graceful := l.GracefulTimeout
	if graceful <= 0 {
		graceful = DefaultGracefulTimeout
	}
	kill := l.KillTimeout
	if kill <= 0 {
		kill = DefaultKillTimeout
	}

	args := BuildArgs(v, sourcePath, l.IngestURL+destinationKey, l.VAAPIDevice)
	procLog := logger.Module("ffmpeg").With("job_id", jobID, "encoder", v.Encoder)
	stats := &statsBox{}
	stderr := newLineLogger(procLog, stats.set)

	cmd := exec.Command(ffmpegPath, args...)
	setProcAttr(cmd)
	cmd.Stderr = stderr
	// Bounds how long Wait blocks on the stderr copy after exit.
	cmd.WaitDelay = kill

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	return newProcess(cmd, v, stderr, stats, procLog, graceful, kill), nil
}

// Process is a handle to one running encoder.
// A handle that becomes unreachable while the encoder is alive kills it.
type Process struct {
	cmd       *exec.Cmd
	variant   Variant
	startedAt time.Time
	done      chan struct{}
	exit      *exitState
	stats     *statsBox
	logger    *slog.Logger

	gracefulTimeout time.Duration
	killTimeout     time.Duration

	stopOnce sync.Once
	stopErr  error
	cleanup  runtime.Cleanup
}

type exitState struct {
	err error // written once before done is closed
}

func newProcess(cmd *exec.Cmd, v Variant, stderr *lineLogger, stats *statsBox, log *slog.Logger, graceful, kill time.Duration) *Process {
	done := make(chan struct{})
	exit := &exitState{}

	// The wait goroutine must not capture the Process, or the cleanup
	// below could never run.
	go func() {
		exit.err = cmd.Wait()
		stderr.Flush()
		close(done)
	}()

	p := &Process{
		cmd:             cmd,
		variant:         v,
		startedAt:       time.Now(),
		done:            done,
		exit:            exit,
		stats:           stats,
		logger:          log,
		gracefulTimeout: graceful,
		killTimeout:     kill,
	}
	p.cleanup = runtime.AddCleanup(p, func(o orphan) { o.kill() }, orphan{proc: cmd.Process, done: done})
	return p
}

// orphan is what the cleanup needs to kill the encoder after its handle is gone.
type orphan struct {
	proc *os.Process
	done <-chan struct{}
}

func (o orphan) kill() {
	select {
	case <-o.done:
		return
	default:
	}
	_ = killTree(o.proc)
}

// Running reports whether the process has not exited yet. Never blocks.
func (p *Process) Running() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Elapsed is wall time since spawn.
func (p *Process) Elapsed() time.Duration {
	return time.Since(p.startedAt)
}

// Encoder is the variant the process runs with.
func (p *Process) Encoder() Variant {
	return p.variant
}

// Stats is the latest progress report; zero until ffmpeg prints one.
func (p *Process) Stats() Stats {
	return p.stats.get()
}

// PID returns the OS process id.
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// Done is closed once the process has exited and been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// ExitErr is the error returned by Wait. Only meaningful after Done.
func (p *Process) ExitErr() error {
	select {
	case <-p.done:
		return p.exit.err
	default:
		return nil
	}
}

// Stop terminates the process: a termination request, up to
// gracefulTimeout for it to exit, then a forced kill of the process group
// and up to killTimeout more. Safe to call repeatedly and concurrently;
// later callers wait for the first to finish.
func (p *Process) Stop() error {
	p.stopOnce.Do(func() {
		p.stopErr = p.stop()
		p.cleanup.Stop()
	})
	return p.stopErr
}

func (p *Process) stop() error {
	if !p.Running() {
		return nil
	}

	p.logger.Debug("Sending termination request", "pid", p.PID())
	if err := terminate(p.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.logger.Warn("Failed to send termination request", "pid", p.PID(), "error", err)
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(p.gracefulTimeout):
	}

	p.logger.Warn("Graceful shutdown timeout, forcing kill", "pid", p.PID(), "timeout", p.gracefulTimeout)
	if err := killTree(p.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.logger.Error("Failed to kill process", "pid", p.PID(), "error", err)
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(p.killTimeout):
		return fmt.Errorf("process %d did not exit after kill", p.PID())
	}
}
