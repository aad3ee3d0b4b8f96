//go:build linux

// Package pdeathsig asks the kernel to signal the process when its parent
// exits. Browsers do not always reap their native messaging hosts.
package pdeathsig

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

// Set arranges for sig to be delivered when the parent process dies.
func Set(sig syscall.Signal) error {
	if err := unix.Prctl(unix.PR_SET_PDEATHSIG, uintptr(sig), 0, 0, 0); err != nil {
		return fmt.Errorf("prctl(PR_SET_PDEATHSIG): %w", err)
	}
	return nil
}
