//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package procmetrics

import "golang.org/x/sys/unix"

func readUsage() (ResourceSnapshot, error) {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return ResourceSnapshot{}, err
	}
	return ResourceSnapshot{
		UserTime:               timevalSeconds(ru.Utime),
		SystemTime:             timevalSeconds(ru.Stime),
		VoluntaryCtxSwitches:   float64(ru.Nvcsw),
		InvoluntaryCtxSwitches: float64(ru.Nivcsw),
		MinorFaults:            float64(ru.Minflt),
		MajorFaults:            float64(ru.Majflt),
		BlocksRead:             float64(ru.Inblock),
		BlocksWritten:          float64(ru.Oublock),
	}, nil
}

func timevalSeconds(tv unix.Timeval) float64 {
	return float64(tv.Sec) + float64(tv.Usec)/1e6
}
