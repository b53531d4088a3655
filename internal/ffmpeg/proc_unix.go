//go:build !windows

package ffmpeg

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// setProcAttr puts the encoder in its own process group so a forced kill
// also reaches anything it spawned.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminate asks ffmpeg to finish; SIGINT makes it flush and close the output.
func terminate(p *os.Process) error {
	return p.Signal(syscall.SIGINT)
}

func killTree(p *os.Process) error {
	err := syscall.Kill(-p.Pid, syscall.SIGKILL)
	if errors.Is(err, syscall.ESRCH) {
		// Group already gone; make sure the leader is too.
		if kerr := p.Kill(); kerr != nil && !errors.Is(kerr, os.ErrProcessDone) {
			return kerr
		}
		return nil
	}
	return err
}
