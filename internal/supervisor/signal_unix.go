//go:build !windows

package supervisor

import (
	"os/exec"
	"syscall"
)

// setProcessGroup makes the child a process group leader so the whole tree
// (npm, the node it forks, any watchers) can be signaled at once.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminateGroup signals the child's whole process group, falling back to the
// single pid when the group signal fails (for example an adopted pid that is
// not a group leader).
func terminateGroup(pid int, sig syscall.Signal) {
	if err := syscall.Kill(-pid, sig); err != nil {
		_ = syscall.Kill(pid, sig)
	}
}
