//go:build !unix

package memguard

import "errors"

var errNotSupported = errors.New("memory locking not supported")

func lockMemory(b []byte) error {
	return errNotSupported
}

func unlockMemory(b []byte) error {
	return nil
}
