//go:build !unix

package filestore

import "os"

// Without flock only the in-process lock applies; one server per data dir.
func lockFD(*os.File, bool) error { return nil }

func unlockFD(*os.File) {}
