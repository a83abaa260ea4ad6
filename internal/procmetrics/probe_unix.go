//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package procmetrics

import "golang.org/x/sys/unix"

func access(path string, mode AccessMode) error {
	return unix.Access(path, uint32(mode))
}
