//go:build windows

package ffmpeg

import (
	"os"
	"os/exec"
	"syscall"
)

func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

// Windows has no deliverable SIGINT for a detached child, so the
// termination request is already a kill.
func terminate(p *os.Process) error {
	return p.Kill()
}

func killTree(p *os.Process) error {
	return p.Kill()
}
