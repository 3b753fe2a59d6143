//go:build windows

package supervisor

import (
	"os"
	"os/exec"
)

func prepareCommand(cmd *exec.Cmd) {}

// Windows has no SIGTERM; both paths are a hard kill
func signalTerminate(pid int) error {
	return signalKill(pid)
}

func signalKill(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}

// Windows exits carry no signal number
func exitSignal(*os.ProcessState) (int, bool) {
	return 0, false
}
