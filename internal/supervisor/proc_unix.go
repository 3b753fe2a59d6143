//go:build unix

package supervisor

import (
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// prepareCommand puts the child in its own process group so signals reach
// the whole tree, not just the immediate child
func prepareCommand(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalTerminate asks the child's process group to exit
func signalTerminate(pid int) error {
	if err := unix.Kill(-pid, unix.SIGTERM); err != nil {
		return unix.Kill(pid, unix.SIGTERM)
	}
	return nil
}

// signalKill force-kills the child's process group
func signalKill(pid int) error {
	if err := unix.Kill(-pid, unix.SIGKILL); err != nil {
		return unix.Kill(pid, unix.SIGKILL)
	}
	return nil
}

// exitSignal reports the signal number for a child that died by signal
func exitSignal(state *os.ProcessState) (int, bool) {
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return 0, false
	}
	return int(ws.Signal()), true
}
