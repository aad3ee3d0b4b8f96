//go:build !linux

package pdeathsig

import "syscall"

// Set is a no-op where the kernel offers no parent-death signal.
func Set(syscall.Signal) error { return nil }
