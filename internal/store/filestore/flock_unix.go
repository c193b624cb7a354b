//go:build unix

package filestore

import (
	"os"

	"golang.org/x/sys/unix"
)

func lockFD(f *os.File, exclusive bool) error {
	how := unix.LOCK_SH
	if exclusive {
		how = unix.LOCK_EX
	}
	for {
		err := unix.Flock(int(f.Fd()), how)
		if err != unix.EINTR {
			return err
		}
	}
}

func unlockFD(f *os.File) {
	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
