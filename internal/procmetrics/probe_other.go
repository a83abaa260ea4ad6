//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package procmetrics

import "errors"

var errAccessUnsupported = errors.New("access checks are not supported on this platform")

func access(string, AccessMode) error {
	return errAccessUnsupported
}
