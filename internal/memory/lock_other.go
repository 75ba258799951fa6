//go:build !unix

package memory

import "errors"

var errNoLock = errors.New("memory locking not supported on this platform")

func lock([]byte) error   { return errNoLock }
func unlock([]byte) error { return nil }
