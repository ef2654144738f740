//go:build windows

package bgshell

import (
	"errors"
	"os"
	"os/exec"
)

func startPTY(cmd *exec.Cmd, cols, rows int) (*os.File, error) {
	return nil, errors.New("pty transport is not available on windows; use full_terminal=false")
}

func resizePTY(ptmx *os.File, cols, rows int) error {
	return errors.New("pty resize is not available on windows")
}

func signalTermProcess(p *os.Process) {
	_ = p.Kill()
}

func exitSignalName(ps *os.ProcessState) string { return "" }
