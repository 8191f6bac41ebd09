//go:build linux

package keyexec

import "golang.org/x/sys/unix"

// lockMemory pins b so it is not swapped to disk. Best effort: RLIMIT_MEMLOCK
// may be too low in containers.
func lockMemory(b []byte) {
	if len(b) == 0 {
		return
	}
	_ = unix.Mlock(b)
}

func unlockMemory(b []byte) {
	if len(b) == 0 {
		return
	}
	_ = unix.Munlock(b)
}
