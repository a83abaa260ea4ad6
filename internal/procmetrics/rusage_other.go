//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package procmetrics

import (
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// readUsage falls back to gopsutil where getrusage is missing. Each figure is
// read separately, so one failing call only blanks its own fields. Block
// counts have no equivalent and stay NaN.
func readUsage() (ResourceSnapshot, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return ResourceSnapshot{}, err
	}

	snap := nanSnapshot(time.Time{})
	if t, err := p.Times(); err == nil {
		snap.UserTime = t.User
		snap.SystemTime = t.System
	}
	if cs, err := p.NumCtxSwitches(); err == nil {
		snap.VoluntaryCtxSwitches = float64(cs.Voluntary)
		snap.InvoluntaryCtxSwitches = float64(cs.Involuntary)
	}
	if pf, err := p.PageFaults(); err == nil {
		snap.MinorFaults = float64(pf.MinorFaults)
		snap.MajorFaults = float64(pf.MajorFaults)
	}
	return snap, nil
}
