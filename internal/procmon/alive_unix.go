//go:build unix

package procmon

import (
	"golang.org/x/sys/unix"
)

// Alive reports whether a process with this pid exists. Signal 0 performs
// the existence check without delivering anything; EPERM still means alive.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	return err == unix.EPERM
}
