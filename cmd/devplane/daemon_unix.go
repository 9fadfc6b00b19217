//go:build !windows

package main

import (
	"os/exec"
	"syscall"
)

// configureDaemonAttrs places the daemon child in its own session so it
// survives the terminal and does not receive its signals.
func configureDaemonAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}
}
