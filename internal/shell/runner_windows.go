//go:build windows

package shell

import "os"

func signalTerm(p *os.Process) {
	// Windows has no SIGTERM; Kill is the only portable termination.
	_ = p.Kill()
}

func exitSignal(ps *os.ProcessState) string { return "" }
