//go:build !linux

package keyexec

// lockMemory is a no-op outside Linux.
func lockMemory(b []byte) {}

func unlockMemory(b []byte) {}
