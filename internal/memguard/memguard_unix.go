//go:build unix

package memguard

import "golang.org/x/sys/unix"

// lockMemory pins b against swapping. Failure is tolerated: mlock limits
// are commonly tight and the buffer is still zeroized on release.
func lockMemory(b []byte) error {
	return unix.Mlock(b)
}

func unlockMemory(b []byte) error {
	return unix.Munlock(b)
}
